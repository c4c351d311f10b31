// Package protocol defines the JSON envelopes exchanged with a ground-control
// endpoint: inbound telemetry/status/heartbeat/error frames and outbound
// command frames carrying MAVLink-style addressing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType is the discriminant of an inbound frame.
type MessageType string

const (
	// MessageTypeTelemetry carries periodic vehicle state
	MessageTypeTelemetry MessageType = "telemetry"
	// MessageTypeStatus carries flight mode and status text
	MessageTypeStatus MessageType = "status"
	// MessageTypeHeartbeat carries an opaque heartbeat payload
	MessageTypeHeartbeat MessageType = "heartbeat"
	// MessageTypeError carries an opaque error report
	MessageTypeError MessageType = "error"
	// MessageTypeCommand is the type of every outbound frame
	MessageTypeCommand MessageType = "command"
)

// Known reports whether t is one of the inbound types a link dispatches.
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeTelemetry, MessageTypeStatus, MessageTypeHeartbeat, MessageTypeError:
		return true
	}
	return false
}

// ErrMalformedFrame is returned when an inbound frame is not a valid envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// UnknownMode is reported when telemetry or status frames omit the flight mode.
const UnknownMode = "Unknown"

// Envelope is the inbound frame structure.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses one inbound text frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return &env, nil
}

// Telemetry is the decoded telemetry payload.
type Telemetry struct {
	Altitude         float64 `json:"altitude"`
	Groundspeed      float64 `json:"groundspeed"`
	BatteryRemaining float64 `json:"battery_remaining"`
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lon"`
	Mode             string  `json:"mode"`
}

// DecodeTelemetry decodes a telemetry payload field by field. Absent numeric
// fields are 0 and an absent mode is UnknownMode. A field whose value has the
// wrong type is skipped and reported in the returned ErrMalformedFrame error;
// the other fields are still decoded, so the result is usable either way.
func DecodeTelemetry(payload json.RawMessage) (Telemetry, error) {
	var t Telemetry
	err := decodeFields(payload, []field{
		{"altitude", &t.Altitude},
		{"groundspeed", &t.Groundspeed},
		{"battery_remaining", &t.BatteryRemaining},
		{"lat", &t.Latitude},
		{"lon", &t.Longitude},
		{"mode", &t.Mode},
	})
	if t.Mode == "" {
		t.Mode = UnknownMode
	}
	return t, err
}

// Status is the decoded status payload.
type Status struct {
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// DecodeStatus decodes a status payload with the same rules as
// DecodeTelemetry.
func DecodeStatus(payload json.RawMessage) (Status, error) {
	var s Status
	err := decodeFields(payload, []field{
		{"mode", &s.Mode},
		{"status", &s.Status},
	})
	if s.Mode == "" {
		s.Mode = UnknownMode
	}
	return s, err
}

type field struct {
	name string
	dst  interface{}
}

func decodeFields(payload json.RawMessage, fields []field) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedFrame, err)
	}

	var errs []error
	for _, f := range fields {
		value, ok := raw[f.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, f.dst); err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", f.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, errors.Join(errs...))
	}
	return nil
}

// CommandFrame is the outbound SimpleCommand envelope.
type CommandFrame struct {
	Type      MessageType `json:"type"`
	Command   string      `json:"command"`
	Params    interface{} `json:"params,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewCommandFrame builds a command frame stamped with sentAt in epoch
// milliseconds (UTC).
func NewCommandFrame(command string, params interface{}, sentAt time.Time) *CommandFrame {
	return &CommandFrame{
		Type:      MessageTypeCommand,
		Command:   command,
		Params:    params,
		Timestamp: sentAt.UTC().UnixMilli(),
	}
}

// Encode serializes the frame to a text frame.
func (f *CommandFrame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s command: %w", f.Command, err)
	}
	return data, nil
}

// MAVLinkCommand is the name SimpleCommands use to carry a ProtocolCommand.
const MAVLinkCommand = "mavlink"

// ProtocolParams are the params of a ProtocolCommand.
type ProtocolParams struct {
	MsgID           uint32      `json:"msgid"`
	TargetSystem    int         `json:"target_system"`
	TargetComponent int         `json:"target_component"`
	Payload         interface{} `json:"payload"`
}

// VelocityParams is the params object of a "move" command.
type VelocityParams struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

// ArmPayload is the payload of an ARM_DISARM command.
type ArmPayload struct {
	Arm bool `json:"arm"`
}

// TakeoffPayload is the payload of a TAKEOFF command. Altitude is in meters
// relative to home.
type TakeoffPayload struct {
	Altitude float64 `json:"altitude"`
}

// ModePayload is the payload of a SET_MODE command.
type ModePayload struct {
	Mode string `json:"mode"`
}

// EmptyPayload marshals to {} for commands without arguments.
type EmptyPayload struct{}
