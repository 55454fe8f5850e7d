package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/gdoper/internal/telemetry"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
	Follow bool     // keep listening after the run finishes
}

// Watch connects to the run's WebSocket endpoint and streams events to w
// until the run finishes, the server goes away or ctx is cancelled.
func Watch(ctx context.Context, w io.Writer, baseURL string, opts WatchOptions) error {
	u, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s %s\n", colorize(green, "connected"), colorize(dim, u))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(w, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Fprintln(w, colorize(dim, "  "+strings.Repeat("─", 50)))
		fmt.Fprintln(w)
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var env telemetry.Event
			_ = json.Unmarshal(msg, &env)
			if len(filterSet) == 0 || filterSet[string(env.Type)] {
				if opts.JSON {
					fmt.Fprintln(w, string(msg))
				} else {
					renderEvent(w, env.Type, msg)
				}
			}

			if !opts.Follow && finished(env.Type, msg) {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			fmt.Fprintln(w)
			fmt.Fprintln(w, colorize(dim, "  disconnecting..."))
		}
	case <-done:
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	return nil
}

// wsURL turns an http(s) base URL into the /ws endpoint.
func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// finished reports whether the event closes the run.
func finished(t telemetry.EventType, raw []byte) bool {
	switch t {
	case telemetry.EventSummary:
		return true
	case telemetry.EventState:
		var ev telemetry.StateTransition
		return json.Unmarshal(raw, &ev) == nil && ev.To == "ABORTED"
	}
	return false
}

// renderEvent prints an event in a human-friendly format. Unknown event
// types are dumped as indented JSON so nothing is lost.
func renderEvent(w io.Writer, t telemetry.EventType, raw []byte) {
	switch t {
	case telemetry.EventHeartbeat:
		var ev telemetry.Heartbeat
		if json.Unmarshal(raw, &ev) != nil {
			break
		}
		fmt.Fprintf(w, "  %s %s  %s  up %s\n",
			colorize(dim, eventTime(ev.TS)),
			colorize(dim, "heartbeat"),
			colorize(stateColor(ev.State), ev.State),
			colorize(dim, formatDuration(time.Duration(ev.UptimeSeconds)*time.Second)),
		)
		return

	case telemetry.EventState:
		var ev telemetry.StateTransition
		if json.Unmarshal(raw, &ev) != nil {
			break
		}
		fmt.Fprintf(w, "  %s %s  %s %s %s\n",
			colorize(dim, eventTime(ev.TS)),
			colorize(bold, "STATE"),
			colorize(stateColor(ev.From), ev.From),
			colorize(dim, "->"),
			colorize(stateColor(ev.To), ev.To),
		)
		if ev.Error != "" {
			fmt.Fprintf(w, "  %s %s  %s\n", colorize(dim, eventTime(ev.TS)), formatLogLevel("error"), ev.Error)
		}
		return

	case telemetry.EventLog:
		var ev telemetry.LogLine
		if json.Unmarshal(raw, &ev) != nil {
			break
		}
		src := ""
		if ev.Component != "" {
			src = colorize(dim, "["+ev.Component+"] ")
		}
		fmt.Fprintf(w, "  %s %s  %s%s\n", colorize(dim, eventTime(ev.TS)), formatLogLevel(ev.Level), src, ev.Message)
		return

	case telemetry.EventProgress:
		var ev telemetry.Progress
		if json.Unmarshal(raw, &ev) != nil {
			break
		}
		fmt.Fprintf(w, "  %s %s  [%s] %3.0f%%  %s\n",
			colorize(dim, eventTime(ev.TS)),
			colorize(cyan, padRight(ev.Stage, 10)),
			progressBar(int(ev.Percent), 20),
			ev.Percent,
			colorize(dim, fmt.Sprintf("%d/%d rows", ev.Row, ev.Rows)),
		)
		return

	case telemetry.EventSummary:
		var ev telemetry.Summary
		if json.Unmarshal(raw, &ev) != nil {
			break
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s %s\n", colorize(dim, eventTime(ev.TS)), header("RUN COMPLETE"))
		renderSummary(w, ev)
		fmt.Fprintln(w)
		return
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		fmt.Fprintf(w, "  %s\n", string(raw))
		return
	}
	pretty, _ := json.MarshalIndent(generic, "  ", "  ")
	fmt.Fprintf(w, "  %s\n", string(pretty))
}

// eventTime shortens an event timestamp to local wall-clock time.
func eventTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		if len(ts) > 10 {
			return ts[:10]
		}
		return padRight(ts, 8)
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
