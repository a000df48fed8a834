// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between agentrond and its clients. Every event
// embeds Event so clients can switch on "type" before decoding the rest.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventView      EventType = "view"
	EventToast     EventType = "toast"
	EventLog       EventType = "log"
)

// Types lists every event type, in the order clients usually filter on.
func Types() []EventType {
	return []EventType{EventView, EventState, EventToast, EventLog, EventHeartbeat}
}

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func stamp(t EventType) Event {
	return Event{Type: t, TS: NowTS()}
}

// Publisher fans events out to connected clients. ws.Hub implements it.
type Publisher interface {
	BroadcastJSON(v any)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func NewHeartbeat(status string, uptime time.Duration) Heartbeat {
	return Heartbeat{Event: stamp(EventHeartbeat), Status: status, UptimeSeconds: int64(uptime.Seconds())}
}

// StateTransition is emitted whenever the connection status moves
// (e.g. Connecting -> Connected).
type StateTransition struct {
	Event
	From   string `json:"from"`
	To     string `json:"to"`
	Detail string `json:"detail,omitempty"`
}

func NewStateTransition(from, to, detail string) StateTransition {
	return StateTransition{Event: stamp(EventState), From: from, To: to, Detail: detail}
}

// ViewChanged carries a full coordinator snapshot after any observable
// change.
type ViewChanged struct {
	Event
	Snapshot any `json:"snapshot"`
}

func NewViewChanged(snapshot any) ViewChanged {
	return ViewChanged{Event: stamp(EventView), Snapshot: snapshot}
}

// Toast is a transient notification raised by a child screen.
type Toast struct {
	Event
	Child   string `json:"child,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Variant string `json:"variant"`
}

func NewToast(child, title, message, variant string) Toast {
	return Toast{Event: stamp(EventToast), Child: child, Title: title, Message: message, Variant: variant}
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func NewLogLine(level, logger, message string, fields map[string]any) LogLine {
	return LogLine{Event: stamp(EventLog), Level: level, Logger: logger, Message: message, Fields: fields}
}
