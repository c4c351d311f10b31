package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&Config{BaseURL: server.URL + "/", Timeout: time.Second}, zaptest.NewLogger(t))
	client.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return client, server
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil, nil)
	assert.Equal(t, "http://localhost:3001", client.BaseURL())
	assert.Equal(t, 10*time.Second, client.httpClient.Timeout)
	assert.Equal(t, DefaultSource, client.config.Source)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		running bool
	}{
		{name: "healthy", status: http.StatusOK, running: true},
		{name: "server error", status: http.StatusInternalServerError, running: false},
		{name: "not found", status: http.StatusNotFound, running: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.status)
			})

			assert.Equal(t, tt.running, client.IsRunning(context.Background()))
			if tt.running {
				assert.NoError(t, client.Health(context.Background()))
			} else {
				assert.Error(t, client.Health(context.Background()))
			}
		})
	}
}

func TestHealthUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(&Config{BaseURL: url, Timeout: time.Second}, nil)
	assert.False(t, client.IsRunning(context.Background()))
}

func TestLaunchMissionPlanner(t *testing.T) {
	var got map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/launch/mission-planner", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Mission Planner launched","processId":4242}`))
	})

	result, err := client.LaunchMissionPlanner(context.Background(), `C:\Program Files (x86)\Mission Planner\MissionPlanner.exe`)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.ProcessID)
	assert.Equal(t, 4242, *result.ProcessID)

	assert.Equal(t, "2026-03-01T12:00:00Z", got["timestamp"])
	assert.Equal(t, "gcslink", got["source"])
	assert.Equal(t, `C:\Program Files (x86)\Mission Planner\MissionPlanner.exe`, got["missionPlannerPath"])
}

func TestLaunchMissionPlannerFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantResult bool
	}{
		{
			name:       "success false",
			status:     http.StatusOK,
			body:       `{"success":false,"message":"executable not found"}`,
			wantMsg:    "executable not found",
			wantResult: true,
		},
		{
			name:    "non-200 with message",
			status:  http.StatusInternalServerError,
			body:    `{"success":false,"message":"spawn EACCES"}`,
			wantMsg: "spawn EACCES",
		},
		{
			name:    "non-200 plain text",
			status:  http.StatusBadGateway,
			body:    "upstream unavailable",
			wantMsg: "upstream unavailable",
		},
		{
			name:    "invalid json",
			status:  http.StatusOK,
			body:    "<html>",
			wantMsg: "invalid launch response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.LaunchMissionPlanner(context.Background(), "/opt/mp")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLaunchFailed))

			var launchErr *LaunchError
			require.True(t, errors.As(err, &launchErr))
			assert.Equal(t, tt.status, launchErr.StatusCode)
			assert.Equal(t, tt.wantMsg, launchErr.Message)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, tt.wantResult, result != nil)
		})
	}
}

func TestLaunchMissionPlannerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(&Config{BaseURL: url}, nil)
	_, err := client.LaunchMissionPlanner(context.Background(), "/opt/mp")
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestMissionPlannerStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/mission-planner", r.URL.Path)
		_, _ = w.Write([]byte(`{"isRunning":true,"processId":77}`))
	})

	status, err := client.MissionPlannerStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.ProcessID)
	assert.Equal(t, 77, *status.ProcessID)
}

func TestMissionPlannerStatusNotRunning(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isRunning":false}`))
	})

	status, err := client.MissionPlannerStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.ProcessID)
}

func TestMissionPlannerStatusHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.MissionPlannerStatus(context.Background())
	assert.ErrorContains(t, err, "HTTP 503")
}
