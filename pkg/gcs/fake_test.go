package gcs

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dronefleet/gcslink/pkg/transport"
)

// fakeConn is an in-memory transport.Conn.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	readErr  error
	closeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return c.closeErr
}

// push delivers an inbound frame.
func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

// remoteClose simulates the endpoint dropping the connection.
func (c *fakeConn) remoteClose(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// fakeDialer hands out conn, or fails with err. When release is non-nil the
// dial blocks until it is closed, ignoring the context.
type fakeDialer struct {
	conn    *fakeConn
	err     error
	release chan struct{}
	honour  bool

	mu    sync.Mutex
	dials []transport.ConnectionConfig
}

func (d *fakeDialer) Dial(ctx context.Context, cfg transport.ConnectionConfig) (transport.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, cfg)
	d.mu.Unlock()

	if d.release != nil {
		if d.honour {
			select {
			case <-d.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-d.release
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// recorder collects every event a link publishes.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(l *Link) *recorder {
	r := &recorder{}
	for _, k := range EventKinds {
		l.On(k, func(e Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind()
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind EventKind) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind() == kind {
			return r.events[i]
		}
	}
	return nil
}

var errRemote = errors.New("connection reset by peer")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
