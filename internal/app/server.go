package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/large-farva/gdoper/internal/telemetry"
)

const heartbeatInterval = 10 * time.Second

// Handler routes the status API and the WebSocket event stream.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.Handle("/ws", a.hub.Handler())
	return mux
}

// serve starts the HTTP server, hub and heartbeat. The returned stop func
// lingers so watchers can read the final events, then shuts everything down.
func (a *App) serve(ctx context.Context, bind string) (func(), error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	go a.hub.Run(hubCtx)
	go a.heartbeatLoop(hubCtx)
	a.serving.Store(true)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Printf("server: %v", err)
		}
	}()
	a.log.Printf("listening on http://%s", ln.Addr())

	stop := func() {
		if linger := time.Duration(a.cfg.Server.LingerSeconds) * time.Second; linger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(linger):
			}
		}
		a.serving.Store(false)
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	return stop, nil
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.hub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat, component, a.runID.Load().(string)),
				State:         a.State(),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":             component,
		"state":            a.State(),
		"run_id":           a.runID.Load().(string),
		"uptime_seconds":   int64(time.Since(a.startedAt).Seconds()),
		"input":            a.cfg.Data.Input,
		"output":           a.outputPath(),
		"cache_root":       a.cfg.Data.CacheRoot,
		"fov":              a.cfg.FOV.Strategy,
		"calculations":     a.cfg.Calculations.List,
		"progress_percent": a.progress.Load().(float64),
	}

	if du := diskUsage(a.cfg.Data.CacheRoot); du != nil {
		resp["disk"] = du
	}

	a.mu.Lock()
	if a.summary != nil {
		resp["summary"] = a.summary
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
