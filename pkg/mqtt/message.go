package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a relayed message.
type MessageType string

const (
	// MessageTypeCommand is a command for a vehicle
	MessageTypeCommand MessageType = "command"
	// MessageTypeEvent is a link event
	MessageTypeEvent MessageType = "event"
	// MessageTypeStatus is a state or health update
	MessageTypeStatus MessageType = "status"
	// MessageTypeResponse answers a command
	MessageTypeResponse MessageType = "response"
)

// Message is the envelope of every payload published by gcslink.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`

	// CorrelationID links a response to its command.
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewMessage wraps payload in an envelope with a fresh id.
func NewMessage(msgType MessageType, source string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

// ParseMessage decodes an envelope received from the broker.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message envelope: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("invalid message envelope: missing type")
	}
	return &msg, nil
}

// UnmarshalPayload deserializes the payload into v.
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// CommandMessage asks the link to send a command. Kind selects a protocol
// message when Command is "mavlink".
type CommandMessage struct {
	Command         string          `json:"command"`
	Kind            string          `json:"kind,omitempty"`
	TargetSystem    int             `json:"target_system,omitempty"`
	TargetComponent int             `json:"target_component,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// ResponseMessage reports the outcome of a CommandMessage.
type ResponseMessage struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
