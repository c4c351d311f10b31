// Package api exposes the ground-control link over a local HTTP control API.
//
// The API lets operators and other local tools inspect and drive the link
// without embedding the gcs package:
//
//	GET  /api/v1/link              current link state
//	POST /api/v1/link/connect      open the link (optional JSON target)
//	POST /api/v1/link/disconnect   close the link
//	POST /api/v1/link/commands     send a generic command
//	POST /api/v1/link/mavlink      send a named protocol command
//	GET  /api/v1/link/messages     known protocol message kinds
//	GET  /api/v1/bridge/status     helper / mission planner status
//	POST /api/v1/bridge/launch     ask the helper to launch the mission planner
//	GET  /api/v1/health            aggregated health
//	GET  /api/v1/events            WebSocket stream of link events
//
// Failed requests return an ErrorResponse. Link and bridge errors are mapped
// to HTTP status codes by their sentinel (see classify).
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/bridge"
	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/healthcheck"
	"github.com/dronefleet/gcslink/pkg/protocol"
	"github.com/dronefleet/gcslink/pkg/transport"
)

// Link is the part of *gcs.Link the API drives.
type Link interface {
	Connect(ctx context.Context, cfg transport.ConnectionConfig) (bool, error)
	Disconnect()
	State() gcs.LinkState
	Connection() (gcs.ConnectionState, bool)
	MessageTable() protocol.MessageTable
	SendCommand(ctx context.Context, command string, params interface{}) error
	SendProtocolCommand(ctx context.Context, kind string, targetSystem, targetComponent int, payload interface{}) error
	On(kind gcs.EventKind, handler gcs.Handler) gcs.Subscription
	Off(sub gcs.Subscription) bool
}

// Bridge is the part of *bridge.Client the API drives.
type Bridge interface {
	LaunchMissionPlanner(ctx context.Context, path string) (*bridge.LaunchResult, error)
	MissionPlannerStatus(ctx context.Context) (*bridge.PlannerStatus, error)
}

// HealthChecker runs all registered health checks.
type HealthChecker interface {
	CheckAll(ctx context.Context) *healthcheck.AggregatedResult
}

// Config configures the API server.
type Config struct {
	// Listen is the TCP address to bind (e.g. "127.0.0.1:8090")
	Listen string
	// Mode is the gin mode: release, debug or test
	Mode string

	// DefaultConnection is used by connect requests without a body.
	DefaultConnection transport.ConnectionConfig
	// MissionPlannerPath is used by launch requests without a path.
	MissionPlannerPath string
	// TargetSystem and TargetComponent default protocol command targets.
	TargetSystem    int
	TargetComponent int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// EventBuffer is the per-client event queue; events beyond it are dropped.
	EventBuffer int
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Mode {
	case "":
		c.Mode = gin.ReleaseMode
	case gin.ReleaseMode, gin.DebugMode, gin.TestMode:
	default:
		return fmt.Errorf("unknown gin mode %q", c.Mode)
	}
	if c.TargetSystem == 0 {
		c.TargetSystem = 1
	}
	if c.TargetComponent == 0 {
		c.TargetComponent = 1
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout stays zero by default: the event stream is long lived.
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return nil
}

// Server is the control API HTTP server.
type Server struct {
	config *Config
	link   Link
	bridge Bridge
	health HealthChecker
	logger *zap.Logger

	router *gin.Engine
	// done is closed by Shutdown to end open event streams, which
	// http.Server.Shutdown does not track once hijacked.
	done     chan struct{}
	doneOnce sync.Once

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the API server and its router. bridge and health may be
// nil, in which case their routes answer 503.
//
// Parameters:
//   - config: Server configuration (will be validated)
//   - link: The ground-control link to expose
//   - br: Helper client, optional
//   - health: Health engine, optional
//   - logger: Structured logger (if nil, a no-op logger is used)
func NewServer(config *Config, link Link, br Bridge, health HealthChecker, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		config: config,
		link:   link,
		bridge: br,
		health: health,
		logger: logger.With(zap.String("component", "control_api")),
		done:   make(chan struct{}),
	}
	s.router = s.setupRouter()
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter builds the gin engine with middleware and routes.
func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(s.config.Mode)

	router := gin.New()
	// Recovery first so panics in later middleware are caught.
	router.Use(RecoveryMiddleware(s.logger))
	router.Use(LoggingMiddleware(s.logger))

	v1 := router.Group("/api/v1")

	link := v1.Group("/link")
	link.GET("", s.handleLinkState)
	link.POST("/connect", s.handleConnect)
	link.POST("/disconnect", s.handleDisconnect)
	link.POST("/commands", s.handleCommand)
	link.POST("/mavlink", s.handleProtocolCommand)
	link.GET("/messages", s.handleMessages)

	br := v1.Group("/bridge")
	br.GET("/status", s.handleBridgeStatus)
	br.POST("/launch", s.handleLaunch)

	v1.GET("/health", s.handleHealth)
	v1.GET("/events", s.handleEvents)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})
	return router
}

// Start binds the listen address and serves in the background. It returns
// once the listener is open, so Addr is valid afterwards.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("Control API listening", zap.String("address", ln.Addr().String()))

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server and closes open event streams. A
// server that has been shut down cannot be restarted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("Shutting down control API")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	return nil
}
