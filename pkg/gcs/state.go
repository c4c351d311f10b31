package gcs

import (
	"fmt"
	"time"

	"github.com/dronefleet/gcslink/pkg/transport"
)

// LinkState is the lifecycle state of a Link.
type LinkState int

const (
	// StateDisconnected means no connection is open or being opened
	StateDisconnected LinkState = iota
	// StateConnecting means a Connect call is in flight
	StateConnecting
	// StateConnected means a connection is open
	StateConnected
)

func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the names produced by String.
func (s *LinkState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown link state %q", text)
	}
	return nil
}

// ConnectionState describes the open connection.
type ConnectionState struct {
	Connected bool `json:"connected"`
	// Kind is also rendered by name as KindName for JSON consumers.
	Kind     transport.Kind `json:"-"`
	KindName string         `json:"kind"`

	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`

	Endpoint    string    `json:"endpoint"`
	ConnectedAt time.Time `json:"connected_at"`
}

func newConnectionState(cfg transport.ConnectionConfig, at time.Time) ConnectionState {
	state := ConnectionState{
		Connected:   true,
		Kind:        cfg.Kind,
		KindName:    cfg.Kind.String(),
		Endpoint:    cfg.Endpoint(),
		ConnectedAt: at,
	}
	if cfg.Kind == transport.SerialLink {
		state.SerialPort = cfg.SerialPort
		state.BaudRate = cfg.BaudRateOrDefault()
	} else {
		state.Host = cfg.HostOrDefault()
		state.Port = cfg.PortOrDefault()
	}
	return state
}
