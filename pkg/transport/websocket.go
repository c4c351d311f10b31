package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketConfig configures the WebSocket dialer.
type WebSocketConfig struct {
	// HandshakeTimeout bounds the opening handshake (default 10s)
	HandshakeTimeout time.Duration
	// WriteTimeout bounds writes whose context carries no deadline (default 5s)
	WriteTimeout time.Duration
	// Header is sent with the handshake request (optional)
	Header http.Header
}

// WebSocketDialer dials ws:// ground-control endpoints.
type WebSocketDialer struct {
	config *WebSocketConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketDialer creates a dialer; a nil config uses defaults.
func NewWebSocketDialer(config *WebSocketConfig, logger *zap.Logger) *WebSocketDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := WebSocketConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &WebSocketDialer{
		config: &cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With(zap.String("component", "websocket_transport")),
	}
}

// Dial opens a WebSocket connection to cfg.Endpoint().
func (d *WebSocketDialer) Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	endpoint := cfg.Endpoint()
	d.logger.Debug("Dialing ground-control endpoint", zap.String("url", endpoint))

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}

	d.logger.Info("WebSocket connected", zap.String("url", endpoint))
	return &wsConn{conn: conn, writeTimeout: d.config.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort close handshake; the peer may already be gone.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
