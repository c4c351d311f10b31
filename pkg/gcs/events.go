package gcs

import (
	"encoding/json"
	"time"

	"github.com/dronefleet/gcslink/pkg/events"
	"github.com/dronefleet/gcslink/pkg/protocol"
)

// EventKind identifies the events a Link publishes.
type EventKind string

const (
	EventTelemetry    EventKind = "telemetry"
	EventStatus       EventKind = "status"
	EventHeartbeat    EventKind = "heartbeat"
	EventError        EventKind = "error"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// EventKinds lists every kind in a stable order.
var EventKinds = []EventKind{
	EventTelemetry,
	EventStatus,
	EventHeartbeat,
	EventError,
	EventConnected,
	EventDisconnected,
}

// ParseEventKind returns the kind named s.
func ParseEventKind(s string) (EventKind, bool) {
	for _, k := range EventKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Event is implemented by every event a Link publishes.
type Event interface {
	Kind() EventKind
}

// Handler receives link events.
type Handler = events.Handler[Event]

// Subscription is returned by On and accepted by Off.
type Subscription = events.Subscription[EventKind]

// TelemetryEvent carries a decoded telemetry frame. Payload is the frame's
// payload exactly as received.
type TelemetryEvent struct {
	Telemetry  protocol.Telemetry `json:"telemetry"`
	Payload    json.RawMessage    `json:"payload"`
	ReceivedAt time.Time          `json:"received_at"`
}

func (TelemetryEvent) Kind() EventKind { return EventTelemetry }

// StatusEvent carries a decoded status frame.
type StatusEvent struct {
	Status     protocol.Status `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (StatusEvent) Kind() EventKind { return EventStatus }

// HeartbeatEvent forwards a heartbeat payload verbatim.
type HeartbeatEvent struct {
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (HeartbeatEvent) Kind() EventKind { return EventHeartbeat }

// ErrorEvent is published for error frames sent by the endpoint (Payload set)
// and for failures of the link itself (Err set).
type ErrorEvent struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     error           `json:"-"`
	At      time.Time       `json:"at"`
}

func (ErrorEvent) Kind() EventKind { return EventError }

// Message returns a human readable description of the error.
func (e ErrorEvent) Message() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Payload)
}

// MarshalJSON includes Message so link failures survive serialization.
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type plain ErrorEvent
	return json.Marshal(struct {
		plain
		Message string `json:"message"`
	}{plain: plain(e), Message: e.Message()})
}

// ConnectedEvent is published once a connection opens.
type ConnectedEvent struct {
	Connection ConnectionState `json:"connection"`
}

func (ConnectedEvent) Kind() EventKind { return EventConnected }

// DisconnectedEvent is published when the connection closes, locally or
// remotely.
type DisconnectedEvent struct {
	At time.Time `json:"at"`
}

func (DisconnectedEvent) Kind() EventKind { return EventDisconnected }
