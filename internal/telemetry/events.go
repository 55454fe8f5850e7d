// Package telemetry defines the JSON events a gdoper run publishes over its
// WebSocket stream and that gdopctl decodes.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventSummary   EventType = "summary"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(t EventType, component, runID string) Event {
	return Event{Type: t, TS: NowTS(), Component: component, RunID: runID}
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever a run moves between states
// (e.g. SAMPLING -> COMPUTING). Error is set on the move to ABORTED.
type StateTransition struct {
	Event
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

// Progress reports how far the per-row computation has got.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Row     int     `json:"row"`
	Rows    int     `json:"rows"`
	Detail  string  `json:"detail,omitempty"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Summary closes a successful run.
type Summary struct {
	Event
	InputRows    int            `json:"input_rows"`
	SampledRows  int            `json:"sampled_rows"`
	DegradedRows int            `json:"degraded_rows"`
	Degraded     map[string]int `json:"degraded,omitempty"`
	Dates        []string       `json:"dates,omitempty"`
	Columns      []string       `json:"columns"`
	DurationMS   int64          `json:"duration_ms"`
}
