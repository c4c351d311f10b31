package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/gcs"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local dashboards are served from other origins.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// EventFrame is one message on the event stream.
type EventFrame struct {
	Kind  gcs.EventKind `json:"kind"`
	Event gcs.Event     `json:"event"`
}

// parseKinds parses a comma separated kinds filter. Empty selects all kinds.
func parseKinds(raw string) ([]gcs.EventKind, error) {
	if strings.TrimSpace(raw) == "" {
		return gcs.EventKinds, nil
	}
	var kinds []gcs.EventKind
	seen := make(map[gcs.EventKind]bool)
	for _, part := range strings.Split(raw, ",") {
		kind, ok := gcs.ParseEventKind(strings.TrimSpace(part))
		if !ok {
			return nil, fmt.Errorf("%w: unknown event kind %q", errBadRequest, part)
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// handleEvents handles GET /api/v1/events, upgrading to a WebSocket that
// receives an EventFrame for every link event of the requested kinds
// (?kinds=telemetry,status). A client that cannot keep up loses events
// instead of stalling the link.
func (s *Server) handleEvents(c *gin.Context) {
	kinds, err := parseKinds(c.Query("kinds"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("Event stream upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	logger := s.logger.With(zap.String("client", c.ClientIP()))
	logger.Debug("Event stream opened", zap.Int("kinds", len(kinds)))

	queue := make(chan EventFrame, s.config.EventBuffer)
	var dropped atomic.Int64
	subs := make([]gcs.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		kind := kind
		subs = append(subs, s.link.On(kind, func(e gcs.Event) {
			select {
			case queue <- EventFrame{Kind: kind, Event: e}:
			default:
				dropped.Add(1)
			}
		}))
	}
	defer func() {
		for _, sub := range subs {
			s.link.Off(sub)
		}
		logger.Debug("Event stream closed", zap.Int64("dropped", dropped.Load()))
	}()

	// Reading is required to process control frames and notice the peer
	// going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case frame := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
