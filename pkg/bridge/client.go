// Package bridge is a client for the local helper process that launches the
// ground-control application on the operator's machine.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultBaseURL = "http://localhost:3001"
	DefaultTimeout = 10 * time.Second
	DefaultSource  = "gcslink"
)

// ErrLaunchFailed matches every *LaunchError.
var ErrLaunchFailed = errors.New("mission planner launch failed")

// LaunchError carries the helper's explanation of a failed launch.
type LaunchError struct {
	// StatusCode is the HTTP status of the launch response
	StatusCode int
	// Message is the helper's message, or the response body
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("%s (HTTP %d): %s", ErrLaunchFailed, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", ErrLaunchFailed, msg)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrLaunchFailed) true for any *LaunchError.
func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunchFailed
}

// Config configures the bridge client.
type Config struct {
	// BaseURL of the helper process (default http://localhost:3001)
	BaseURL string
	// Timeout bounds each request (default 10s)
	Timeout time.Duration
	// Source identifies this client in launch requests (default "gcslink")
	Source string
}

// LaunchRequest is the body of a launch request.
type LaunchRequest struct {
	Timestamp          time.Time `json:"timestamp"`
	Source             string    `json:"source"`
	MissionPlannerPath string    `json:"missionPlannerPath"`
}

// LaunchResult is the helper's reply to a launch request.
type LaunchResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProcessID *int   `json:"processId,omitempty"`
}

// PlannerStatus reports whether the ground-control application is running.
type PlannerStatus struct {
	IsRunning bool `json:"isRunning"`
	ProcessID *int `json:"processId,omitempty"`
}

// Client talks to the helper process over HTTP.
type Client struct {
	config     *Config
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// NewClient creates a client; a nil config uses defaults.
func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}

	return &Client{
		config:     &cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		logger:     logger.With(zap.String("component", "bridge_client")),
	}
}

// BaseURL returns the helper's base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Health returns nil when GET /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// IsRunning reports whether the helper process is reachable and healthy.
func (c *Client) IsRunning(ctx context.Context) bool {
	if err := c.Health(ctx); err != nil {
		c.logger.Debug("Bridge not running", zap.Error(err))
		return false
	}
	return true
}

// LaunchMissionPlanner asks the helper to start the application at path.
// A non-200 reply or success:false is returned as a *LaunchError.
func (c *Client) LaunchMissionPlanner(ctx context.Context, path string) (*LaunchResult, error) {
	body, err := json.Marshal(LaunchRequest{
		Timestamp:          c.now().UTC(),
		Source:             c.config.Source,
		MissionPlannerPath: path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch request: %w", err)
	}

	c.logger.Info("Requesting mission planner launch", zap.String("path", path))

	resp, err := c.do(ctx, http.MethodPost, "/launch/mission-planner", body)
	if err != nil {
		return nil, &LaunchError{Message: "bridge unreachable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LaunchError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	var result LaunchResult
	decodeErr := json.Unmarshal(data, &result)

	if resp.StatusCode != http.StatusOK {
		msg := result.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, &LaunchError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &LaunchError{StatusCode: resp.StatusCode, Message: "invalid launch response", Err: decodeErr}
	}
	if !result.Success {
		return &result, &LaunchError{StatusCode: resp.StatusCode, Message: result.Message}
	}

	fields := []zap.Field{zap.String("message", result.Message)}
	if result.ProcessID != nil {
		fields = append(fields, zap.Int("pid", *result.ProcessID))
	}
	c.logger.Info("Mission planner launched", fields...)
	return &result, nil
}

// MissionPlannerStatus queries whether the application is running.
func (c *Client) MissionPlannerStatus(ctx context.Context) (*PlannerStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status/mission-planner", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mission planner status returned HTTP %d", resp.StatusCode)
	}

	var status PlannerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode mission planner status: %w", err)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
