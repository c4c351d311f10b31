// Package transport provides the connections a ground-control link runs over:
// WebSocket for network endpoints and newline-framed serial links.
package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport closed")

// Conn is one open, bidirectional text-frame connection.
// ReadFrame must only be called from a single goroutine; WriteFrame and
// Close are safe for concurrent use.
type Conn interface {
	// ReadFrame blocks until the next complete frame arrives.
	ReadFrame() ([]byte, error)
	// WriteFrame writes one frame. The context deadline bounds the write.
	WriteFrame(ctx context.Context, data []byte) error
	// Close tears down the connection and unblocks ReadFrame.
	Close() error
}

// Dialer opens connections described by a ConnectionConfig.
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error)
}

// KindDialer routes a ConnectionConfig to the dialer for its Kind.
type KindDialer struct {
	// Network serves StreamTCP and DatagramUDP
	Network Dialer
	// Serial serves SerialLink
	Serial Dialer
}

// NewDialer returns a KindDialer using the WebSocket and serial dialers.
func NewDialer(logger *zap.Logger) *KindDialer {
	return &KindDialer{
		Network: NewWebSocketDialer(nil, logger),
		Serial:  NewSerialDialer(nil, logger),
	}
}

// Dial validates cfg and opens the connection with the matching dialer.
func (d *KindDialer) Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	var dialer Dialer
	switch cfg.Kind {
	case StreamTCP, DatagramUDP:
		dialer = d.Network
	case SerialLink:
		dialer = d.Serial
	}
	if dialer == nil {
		return nil, fmt.Errorf("no dialer configured for %s transport", cfg.Kind)
	}
	return dialer.Dial(ctx, cfg)
}
