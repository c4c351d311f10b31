package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dronefleet/gcslink/pkg/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gcslink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "tcp", cfg.Link.Transport)
	assert.Equal(t, "localhost", cfg.Link.Host)
	assert.Equal(t, 8080, cfg.Link.Port)
	assert.Equal(t, 10*time.Second, cfg.Link.ConnectTimeout)
	assert.Equal(t, "http://localhost:3001", cfg.Bridge.URL)
	assert.Equal(t, 10*time.Second, cfg.Bridge.Timeout)
	assert.False(t, cfg.MQTT.Enabled)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8090", cfg.API.Listen)

	conn, err := cfg.ConnectionConfig()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080", conn.Endpoint())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
link:
  transport: serial
  serial_port: /dev/ttyUSB0
  baud_rate: 115200
  connect_timeout: 3s
  auto_connect: true
  messages:
    SET_POSITION_TARGET_LOCAL_NED: 84
mqtt:
  enabled: true
  broker_url: tcp://broker:1883
  vehicle_id: uav-3
  qos: 1
health:
  interval: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 3*time.Second, cfg.Link.ConnectTimeout)
	assert.True(t, cfg.Link.AutoConnect)
	assert.Equal(t, time.Minute, cfg.Health.Interval)
	assert.Equal(t, "uav-3", cfg.MQTT.VehicleID)

	conn, err := cfg.ConnectionConfig()
	require.NoError(t, err)
	assert.Equal(t, transport.SerialLink, conn.Kind)
	assert.Equal(t, "/dev/ttyUSB0", conn.SerialPort)
	assert.Equal(t, 115200, conn.BaudRate)

	opts := cfg.LinkOptions()
	id, ok := opts.MessageTable.Lookup("SET_POSITION_TARGET_LOCAL_NED")
	require.True(t, ok, "extra message names are upper-cased")
	assert.Equal(t, uint32(84), id)
	id, ok = opts.MessageTable.Lookup("TAKEOFF")
	require.True(t, ok)
	assert.Equal(t, uint32(22), id)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "link:\n  port: 9000\n")
	t.Setenv("GCSLINK_LINK_PORT", "5760")
	t.Setenv("GCSLINK_LINK_HOST", "10.0.0.2")
	t.Setenv("GCSLINK_BRIDGE_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5760, cfg.Link.Port)
	assert.Equal(t, "10.0.0.2", cfg.Link.Host)
	assert.Equal(t, 2*time.Second, cfg.Bridge.Timeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown transport", content: "link:\n  transport: can\n", wantErr: "unknown transport kind"},
		{name: "serial without port", content: "link:\n  transport: serial\n", wantErr: "serial port is required"},
		{name: "port out of range", content: "link:\n  port: 99999\n", wantErr: "out of range"},
		{name: "bad log level", content: "log:\n  level: loud\n", wantErr: "log.level"},
		{name: "bad qos", content: "mqtt:\n  qos: 3\n", wantErr: "mqtt.qos"},
		{name: "wildcard vehicle", content: "mqtt:\n  vehicle_id: uav/+\n", wantErr: "mqtt.vehicle_id"},
		{name: "bad api mode", content: "api:\n  mode: turbo\n", wantErr: "api.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	d := DefaultConfig()
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.Link.ConnectTimeout, cfg.Link.ConnectTimeout)
	assert.Equal(t, d.Bridge.URL, cfg.Bridge.URL)
	assert.Equal(t, d.API.Listen, cfg.API.Listen)
	assert.Equal(t, d.Health, cfg.Health)
}

func TestWriteOmitsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MQTT.Username = "ops"
	cfg.MQTT.Password = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	assert.NotContains(t, buf.String(), "hunter2")

	var decoded map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ops", decoded["mqtt"]["username"])
	assert.Equal(t, "10s", decoded["link"]["connect_timeout"])
}
