package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind selects the connection medium.
type Kind int

const (
	// StreamTCP is a stream-oriented link, reached over WebSocket
	StreamTCP Kind = iota
	// DatagramUDP is a datagram-oriented link, reached over WebSocket
	DatagramUDP
	// SerialLink is a direct serial connection (radio modem, USB telemetry)
	SerialLink
)

func (k Kind) String() string {
	switch k {
	case StreamTCP:
		return "tcp"
	case DatagramUDP:
		return "udp"
	case SerialLink:
		return "serial"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return StreamTCP, nil
	case "udp":
		return DatagramUDP, nil
	case "serial":
		return SerialLink, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q (must be 'tcp', 'udp', or 'serial')", s)
	}
}

// Defaults used when a ConnectionConfig leaves a field empty.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 8080
	DefaultBaudRate = 57600
)

// ConnectionConfig describes how to reach a ground-control endpoint.
// Host, Port and Path are used by StreamTCP and DatagramUDP; SerialPort and
// BaudRate by SerialLink. Fields not relevant to Kind are ignored.
type ConnectionConfig struct {
	Kind Kind `json:"kind"`

	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// Path is appended to the WebSocket URL (e.g. "/mavlink").
	Path string `json:"path,omitempty"`

	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
}

// Validate checks presence and range of the fields relevant to Kind.
func (c ConnectionConfig) Validate() error {
	switch c.Kind {
	case StreamTCP, DatagramUDP:
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("port %d out of range", c.Port)
		}
		if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
			return fmt.Errorf("path %q must start with '/'", c.Path)
		}
	case SerialLink:
		if c.SerialPort == "" {
			return fmt.Errorf("serial port is required for serial transport")
		}
		if c.BaudRate < 0 {
			return fmt.Errorf("baud rate must be non-negative")
		}
	default:
		return fmt.Errorf("unsupported transport kind %s", c.Kind)
	}
	return nil
}

// HostOrDefault returns Host or DefaultHost.
func (c ConnectionConfig) HostOrDefault() string {
	if c.Host == "" {
		return DefaultHost
	}
	return c.Host
}

// PortOrDefault returns Port or DefaultPort.
func (c ConnectionConfig) PortOrDefault() int {
	if c.Port == 0 {
		return DefaultPort
	}
	return c.Port
}

// BaudRateOrDefault returns BaudRate or DefaultBaudRate.
func (c ConnectionConfig) BaudRateOrDefault() int {
	if c.BaudRate == 0 {
		return DefaultBaudRate
	}
	return c.BaudRate
}

// Endpoint returns the dial target: a ws:// URL for network kinds or the
// device path for SerialLink.
func (c ConnectionConfig) Endpoint() string {
	if c.Kind == SerialLink {
		return c.SerialPort
	}
	hostPort := net.JoinHostPort(c.HostOrDefault(), strconv.Itoa(c.PortOrDefault()))
	return "ws://" + hostPort + c.Path
}
