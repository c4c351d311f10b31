package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/bridge"
	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/healthcheck"
	"github.com/dronefleet/gcslink/pkg/protocol"
	"github.com/dronefleet/gcslink/pkg/transport"
)

var (
	errBridgeUnavailable = errors.New("bridge unavailable")
	errHealthDisabled    = errors.New("health checks are not configured")
)

// LinkStateResponse describes the link.
type LinkStateResponse struct {
	State      gcs.LinkState        `json:"state"`
	Connected  bool                 `json:"connected"`
	Connection *gcs.ConnectionState `json:"connection,omitempty"`
}

// ConnectRequest selects a connection target. Empty fields take transport
// defaults.
type ConnectRequest struct {
	Transport  string `json:"transport"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Path       string `json:"path"`
	SerialPort string `json:"serial_port"`
	BaudRate   int    `json:"baud_rate"`
}

// ConnectionConfig converts the request to a validated transport target.
func (r ConnectRequest) ConnectionConfig() (transport.ConnectionConfig, error) {
	kind, err := transport.ParseKind(r.Transport)
	if err != nil {
		return transport.ConnectionConfig{}, err
	}
	cfg := transport.ConnectionConfig{
		Kind:       kind,
		Host:       r.Host,
		Port:       r.Port,
		Path:       r.Path,
		SerialPort: r.SerialPort,
		BaudRate:   r.BaudRate,
	}
	return cfg, cfg.Validate()
}

// CommandRequest is a generic command.
type CommandRequest struct {
	Command string          `json:"command" binding:"required"`
	Params  json.RawMessage `json:"params"`
}

// ProtocolCommandRequest is a named protocol command. Targets default to the
// configured system and component.
type ProtocolCommandRequest struct {
	Kind            string          `json:"kind" binding:"required"`
	TargetSystem    *int            `json:"target_system"`
	TargetComponent *int            `json:"target_component"`
	Payload         json.RawMessage `json:"payload"`
}

// CommandResponse acknowledges a command written to the link.
type CommandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

// LaunchRequest overrides the configured mission planner path.
type LaunchRequest struct {
	Path string `json:"path"`
}

// bindOptionalJSON decodes the body into v. An empty body is not an error
// and reports false.
func bindOptionalJSON(c *gin.Context, v interface{}) (bool, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return false, nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return true, nil
}

func (s *Server) linkState() LinkStateResponse {
	resp := LinkStateResponse{State: s.link.State()}
	if conn, ok := s.link.Connection(); ok {
		resp.Connected = true
		resp.Connection = &conn
	}
	return resp
}

// handleLinkState handles GET /api/v1/link.
func (s *Server) handleLinkState(c *gin.Context) {
	c.JSON(http.StatusOK, s.linkState())
}

// handleConnect handles POST /api/v1/link/connect. Without a body the
// configured default target is used. The request blocks until the link is
// open or the attempt fails.
func (s *Server) handleConnect(c *gin.Context) {
	target := s.config.DefaultConnection

	var req ConnectRequest
	ok, err := bindOptionalJSON(c, &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if ok {
		target, err = req.ConnectionConfig()
		if err != nil {
			abortWithError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}

	if _, err := s.link.Connect(c.Request.Context(), target); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.linkState())
}

// handleDisconnect handles POST /api/v1/link/disconnect. It always succeeds.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.link.Disconnect()
	c.JSON(http.StatusOK, s.linkState())
}

// handleCommand handles POST /api/v1/link/commands.
func (s *Server) handleCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var params interface{}
	if len(req.Params) > 0 {
		params = req.Params
	}
	if err := s.link.SendCommand(c.Request.Context(), req.Command, params); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CommandResponse{Status: "sent", Command: req.Command})
}

// handleProtocolCommand handles POST /api/v1/link/mavlink.
func (s *Server) handleProtocolCommand(c *gin.Context) {
	var req ProtocolCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	system, component := s.config.TargetSystem, s.config.TargetComponent
	if req.TargetSystem != nil {
		system = *req.TargetSystem
	}
	if req.TargetComponent != nil {
		component = *req.TargetComponent
	}
	var payload interface{} = protocol.EmptyPayload{}
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	if err := s.link.SendProtocolCommand(c.Request.Context(), req.Kind, system, component, payload); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CommandResponse{Status: "sent", Command: req.Kind})
}

// handleMessages handles GET /api/v1/link/messages.
func (s *Server) handleMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": s.link.MessageTable()})
}

// handleBridgeStatus handles GET /api/v1/bridge/status.
func (s *Server) handleBridgeStatus(c *gin.Context) {
	if s.bridge == nil {
		abortWithError(c, fmt.Errorf("%w: not configured", errBridgeUnavailable))
		return
	}
	status, err := s.bridge.MissionPlannerStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBridgeUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleLaunch handles POST /api/v1/bridge/launch.
func (s *Server) handleLaunch(c *gin.Context) {
	if s.bridge == nil {
		abortWithError(c, fmt.Errorf("%w: not configured", errBridgeUnavailable))
		return
	}

	var req LaunchRequest
	if _, err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}
	path := req.Path
	if path == "" {
		path = s.config.MissionPlannerPath
	}

	result, err := s.bridge.LaunchMissionPlanner(c.Request.Context(), path)
	if err != nil {
		var launchErr *bridge.LaunchError
		if errors.As(err, &launchErr) {
			s.logger.Warn("Mission planner launch failed",
				zap.Int("status_code", launchErr.StatusCode),
				zap.String("message", launchErr.Message))
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleHealth handles GET /api/v1/health. Unhealthy answers 503.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		abortWithError(c, errHealthDisabled)
		return
	}
	result := s.health.CheckAll(c.Request.Context())
	status := http.StatusOK
	if result.OverallStatus == healthcheck.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}
