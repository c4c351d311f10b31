// Package gcs implements the ground-control link: one transport connection to
// a MAVLink-speaking flight planner, inbound frame dispatch as typed events,
// and outbound command encoding.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/events"
	"github.com/dronefleet/gcslink/pkg/protocol"
	"github.com/dronefleet/gcslink/pkg/transport"
)

// Link owns at most one connection to a ground-control endpoint.
// All methods are safe for concurrent use. Event handlers run on the
// goroutine that triggered the event and must not block for long.
type Link struct {
	opts   Options
	dialer transport.Dialer
	bus    *events.Bus[EventKind, Event]
	logger *zap.Logger

	mu         sync.Mutex
	state      LinkState
	conn       transport.Conn
	connection *ConnectionState
	attempt    uint64
	abort      context.CancelFunc
}

// NewLink creates a disconnected link.
func NewLink(opts *Options, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "gcs_link"))

	o := opts.withDefaults()
	dialer := o.Dialer
	if dialer == nil {
		dialer = transport.NewDialer(logger)
	}

	return &Link{
		opts:   o,
		dialer: dialer,
		bus:    events.NewBus[EventKind, Event](logger),
		logger: logger,
	}
}

type dialResult struct {
	conn transport.Conn
	err  error
}

// Connect opens a connection described by cfg and blocks until it opens,
// fails, times out or ctx is done. It returns true only when the link is
// connected. Connect fails with ErrAlreadyConnected while another connection
// is open or being opened.
func (l *Link) Connect(ctx context.Context, cfg transport.ConnectionConfig) (bool, error) {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return false, ErrAlreadyConnected
	}
	l.state = StateConnecting
	l.attempt++
	attempt := l.attempt
	dialCtx, cancel := context.WithCancel(ctx)
	l.abort = cancel
	l.mu.Unlock()
	defer cancel()

	endpoint := cfg.Endpoint()
	logger := l.logger.With(
		zap.String("endpoint", endpoint),
		zap.Stringer("kind", cfg.Kind))
	logger.Info("Connecting to ground control", zap.Duration("timeout", l.opts.ConnectTimeout))

	done := make(chan dialResult, 1)
	go func() {
		conn, err := l.dialer.Dial(dialCtx, cfg)
		done <- dialResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(l.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if !l.endAttempt(attempt) {
				return false, ErrConnectAborted
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			err := &TransportError{Op: "connect", Endpoint: endpoint, Err: r.err}
			logger.Warn("Connection failed", zap.Error(r.err))
			l.emit(ErrorEvent{Err: err, At: l.opts.Now()})
			return false, err
		}
		return l.established(attempt, cfg, r.conn, logger)

	case <-timer.C:
		cancel()
		go l.discardLate(done, logger)
		if !l.endAttempt(attempt) {
			return false, ErrConnectAborted
		}
		err := fmt.Errorf("%w: %s did not open within %s", ErrConnectionTimeout, endpoint, l.opts.ConnectTimeout)
		logger.Warn("Connection timed out")
		l.emit(ErrorEvent{Err: err, At: l.opts.Now()})
		return false, err

	case <-dialCtx.Done():
		go l.discardLate(done, logger)
		if !l.endAttempt(attempt) {
			return false, ErrConnectAborted
		}
		// Only the caller's context remains as a cause.
		logger.Info("Connect cancelled", zap.Error(ctx.Err()))
		return false, ctx.Err()
	}
}

// endAttempt moves a still-current attempt back to Disconnected. It reports
// false when Disconnect already ended the attempt.
func (l *Link) endAttempt(attempt uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attempt != attempt || l.state != StateConnecting {
		return false
	}
	l.state = StateDisconnected
	l.abort = nil
	return true
}

// discardLate closes a connection that opens after Connect gave up on it.
func (l *Link) discardLate(done <-chan dialResult, logger *zap.Logger) {
	r := <-done
	if r.conn == nil {
		return
	}
	logger.Warn("Closing connection that opened after connect was abandoned")
	if err := r.conn.Close(); err != nil {
		logger.Debug("Close of late connection failed", zap.Error(err))
	}
}

func (l *Link) established(attempt uint64, cfg transport.ConnectionConfig, conn transport.Conn, logger *zap.Logger) (bool, error) {
	state := newConnectionState(cfg, l.opts.Now())

	l.mu.Lock()
	if l.attempt != attempt || l.state != StateConnecting {
		l.mu.Unlock()
		_ = conn.Close()
		return false, ErrConnectAborted
	}
	l.state = StateConnected
	l.conn = conn
	l.connection = &state
	l.abort = nil
	l.mu.Unlock()

	logger.Info("Connected to ground control")
	l.emit(ConnectedEvent{Connection: state})

	go l.readLoop(conn, state.Endpoint)
	return true, nil
}

// readLoop dispatches frames from conn until it fails.
func (l *Link) readLoop(conn transport.Conn, endpoint string) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			l.connectionLost(conn, endpoint, err)
			return
		}
		if !l.current(conn) {
			return
		}
		l.dispatch(frame)
	}
}

// current reports whether conn is still the open connection.
func (l *Link) current(conn transport.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn == conn
}

func (l *Link) connectionLost(conn transport.Conn, endpoint string, cause error) {
	l.mu.Lock()
	if l.conn != conn {
		// Disconnect already closed this connection and published the event.
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.connection = nil
	l.state = StateDisconnected
	l.mu.Unlock()

	_ = conn.Close()

	l.logger.Warn("Ground control connection closed",
		zap.String("endpoint", endpoint),
		zap.Error(cause))

	now := l.opts.Now()
	l.emit(ErrorEvent{Err: &TransportError{Op: "read", Endpoint: endpoint, Err: cause}, At: now})
	l.emit(DisconnectedEvent{At: now})
}

func (l *Link) dispatch(frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		l.logger.Warn("Dropping malformed frame", zap.Error(err), zap.Int("size", len(frame)))
		return
	}

	now := l.opts.Now()
	switch env.Type {
	case protocol.MessageTypeTelemetry:
		t, err := protocol.DecodeTelemetry(env.Payload)
		if err != nil {
			l.logger.Warn("Telemetry payload partially decoded", zap.Error(err))
		}
		l.emit(TelemetryEvent{Telemetry: t, Payload: env.Payload, ReceivedAt: now})
	case protocol.MessageTypeStatus:
		s, err := protocol.DecodeStatus(env.Payload)
		if err != nil {
			l.logger.Warn("Status payload partially decoded", zap.Error(err))
		}
		l.emit(StatusEvent{Status: s, Payload: env.Payload, ReceivedAt: now})
	case protocol.MessageTypeHeartbeat:
		l.emit(HeartbeatEvent{Payload: env.Payload, ReceivedAt: now})
	case protocol.MessageTypeError:
		l.emit(ErrorEvent{Payload: env.Payload, At: now})
	default:
		l.logger.Debug("Ignoring unrecognized message", zap.String("type", string(env.Type)))
	}
}

// Disconnect closes the connection if one is open, aborts a Connect in
// flight, and always publishes a disconnected event.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	endpoint := ""
	if l.connection != nil {
		endpoint = l.connection.Endpoint
	}
	if l.abort != nil {
		l.abort()
		l.abort = nil
	}
	l.conn = nil
	l.connection = nil
	l.state = StateDisconnected
	l.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			l.logger.Debug("Error closing connection", zap.Error(err))
		}
		l.logger.Info("Disconnected from ground control", zap.String("endpoint", endpoint))
	}

	l.emit(DisconnectedEvent{At: l.opts.Now()})
}

// IsConnected reports whether a connection is open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateConnected
}

// State returns the lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connection returns the open connection's state.
func (l *Link) Connection() (ConnectionState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connection == nil {
		return ConnectionState{}, false
	}
	return *l.connection, true
}

// MessageTable returns the table used to resolve protocol message kinds.
func (l *Link) MessageTable() protocol.MessageTable {
	return l.opts.MessageTable
}

// SendCommand writes one command frame. No acknowledgement is awaited.
func (l *Link) SendCommand(ctx context.Context, command string, params interface{}) error {
	l.mu.Lock()
	conn := l.conn
	endpoint := ""
	if l.connection != nil {
		endpoint = l.connection.Endpoint
	}
	l.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.NewCommandFrame(command, params, l.opts.Now()).Encode()
	if err != nil {
		return err
	}

	if err := conn.WriteFrame(ctx, data); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &TransportError{Op: "send", Endpoint: endpoint, Err: err}
	}

	l.logger.Debug("Command sent", zap.String("command", command))
	return nil
}

// SendProtocolCommand sends a MAVLink-style command addressed to a target
// system and component. kind is resolved through the message table.
func (l *Link) SendProtocolCommand(ctx context.Context, kind string, targetSystem, targetComponent int, payload interface{}) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}

	msgID, ok := l.opts.MessageTable.Lookup(kind)
	if !ok {
		if !l.opts.AllowUnknownMessages {
			return fmt.Errorf("%w: %s", ErrUnknownProtocolMessage, kind)
		}
		l.logger.Warn("Unknown protocol message sent as msgid 0", zap.String("kind", kind))
	}

	return l.SendCommand(ctx, protocol.MAVLinkCommand, protocol.ProtocolParams{
		MsgID:           msgID,
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
		Payload:         payload,
	})
}

// On registers handler for kind.
func (l *Link) On(kind EventKind, handler Handler) Subscription {
	return l.bus.On(kind, handler)
}

// Off removes a subscription. Unknown subscriptions are ignored.
func (l *Link) Off(sub Subscription) bool {
	return l.bus.Off(sub)
}

// OnTelemetry registers a handler receiving decoded telemetry.
func (l *Link) OnTelemetry(handler func(TelemetryEvent)) Subscription {
	return l.On(EventTelemetry, func(e Event) {
		if t, ok := e.(TelemetryEvent); ok {
			handler(t)
		}
	})
}

// OnStatus registers a handler receiving decoded status frames.
func (l *Link) OnStatus(handler func(StatusEvent)) Subscription {
	return l.On(EventStatus, func(e Event) {
		if s, ok := e.(StatusEvent); ok {
			handler(s)
		}
	})
}

// OnError registers a handler receiving endpoint and link errors.
func (l *Link) OnError(handler func(ErrorEvent)) Subscription {
	return l.On(EventError, func(e Event) {
		if ev, ok := e.(ErrorEvent); ok {
			handler(ev)
		}
	})
}

func (l *Link) emit(e Event) {
	l.bus.Emit(e.Kind(), e)
}
