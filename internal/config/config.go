// Package config loads gcslink configuration from a YAML file and GCSLINK_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/protocol"
	"github.com/dronefleet/gcslink/pkg/transport"
)

// EnvPrefix prefixes every environment override, e.g. GCSLINK_LINK_PORT.
const EnvPrefix = "GCSLINK"

// Config is the complete gcslink configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Link   LinkConfig   `mapstructure:"link" yaml:"link"`
	Bridge BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
	MQTT   MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt"`
	API    APIConfig    `mapstructure:"api" yaml:"api"`
	Health HealthConfig `mapstructure:"health" yaml:"health"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json or console
	Format string `mapstructure:"format" yaml:"format"`
	// OutputPaths are zap sinks (default stderr)
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths"`
}

// LinkConfig configures the ground-control link.
type LinkConfig struct {
	// Transport is tcp, udp or serial
	Transport  string `mapstructure:"transport" yaml:"transport"`
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Path       string `mapstructure:"path" yaml:"path"`
	SerialPort string `mapstructure:"serial_port" yaml:"serial_port"`
	BaudRate   int    `mapstructure:"baud_rate" yaml:"baud_rate"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// AutoConnect makes the daemon connect on startup
	AutoConnect bool `mapstructure:"auto_connect" yaml:"auto_connect"`
	// AllowUnknownMessages sends unknown protocol kinds as msgid 0
	AllowUnknownMessages bool `mapstructure:"allow_unknown_messages" yaml:"allow_unknown_messages"`
	TargetSystem         int  `mapstructure:"target_system" yaml:"target_system"`
	TargetComponent      int  `mapstructure:"target_component" yaml:"target_component"`
	// Messages extends the protocol message table. Names are case-insensitive.
	Messages map[string]uint32 `mapstructure:"messages" yaml:"messages,omitempty"`
}

// BridgeConfig configures the local helper client.
type BridgeConfig struct {
	URL                string        `mapstructure:"url" yaml:"url"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MissionPlannerPath string        `mapstructure:"mission_planner_path" yaml:"mission_planner_path"`
}

// MQTTConfig configures the MQTT relay.
type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	BrokerURL string `mapstructure:"broker_url" yaml:"broker_url"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"-"`
	VehicleID string `mapstructure:"vehicle_id" yaml:"vehicle_id"`
	QoS       int    `mapstructure:"qos" yaml:"qos"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	// Mode is the gin mode: release, debug or test
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// HealthConfig configures periodic health checks.
type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Link: LinkConfig{
			Transport:       "tcp",
			Host:            transport.DefaultHost,
			Port:            transport.DefaultPort,
			BaudRate:        transport.DefaultBaudRate,
			ConnectTimeout:  gcs.DefaultConnectTimeout,
			TargetSystem:    1,
			TargetComponent: 1,
		},
		Bridge: BridgeConfig{
			URL:     "http://localhost:3001",
			Timeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			BrokerURL: "tcp://localhost:1883",
			VehicleID: "default",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8090",
			Mode:    "release",
		},
		Health: HealthConfig{
			Interval:     15 * time.Second,
			CheckTimeout: 5 * time.Second,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", d.Log.OutputPaths)

	v.SetDefault("link.transport", d.Link.Transport)
	v.SetDefault("link.host", d.Link.Host)
	v.SetDefault("link.port", d.Link.Port)
	v.SetDefault("link.path", d.Link.Path)
	v.SetDefault("link.serial_port", d.Link.SerialPort)
	v.SetDefault("link.baud_rate", d.Link.BaudRate)
	v.SetDefault("link.connect_timeout", d.Link.ConnectTimeout)
	v.SetDefault("link.auto_connect", d.Link.AutoConnect)
	v.SetDefault("link.allow_unknown_messages", d.Link.AllowUnknownMessages)
	v.SetDefault("link.target_system", d.Link.TargetSystem)
	v.SetDefault("link.target_component", d.Link.TargetComponent)

	v.SetDefault("bridge.url", d.Bridge.URL)
	v.SetDefault("bridge.timeout", d.Bridge.Timeout)
	v.SetDefault("bridge.mission_planner_path", d.Bridge.MissionPlannerPath)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker_url", d.MQTT.BrokerURL)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.vehicle_id", d.MQTT.VehicleID)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.mode", d.API.Mode)

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.check_timeout", d.Health.CheckTimeout)
}

// Load reads path (optional) and environment overrides, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	d := DefaultConfig()

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "":
		c.Log.Level = d.Log.Level
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = d.Log.Format
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	if len(c.Log.OutputPaths) == 0 {
		c.Log.OutputPaths = d.Log.OutputPaths
	}

	if c.Link.ConnectTimeout <= 0 {
		c.Link.ConnectTimeout = d.Link.ConnectTimeout
	}
	if c.Link.TargetSystem == 0 {
		c.Link.TargetSystem = d.Link.TargetSystem
	}
	if c.Link.TargetComponent == 0 {
		c.Link.TargetComponent = d.Link.TargetComponent
	}
	if _, err := c.ConnectionConfig(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if len(c.Link.Messages) > 0 {
		// Viper lower-cases map keys; protocol kinds are upper case.
		normalized := make(map[string]uint32, len(c.Link.Messages))
		for name, id := range c.Link.Messages {
			normalized[strings.ToUpper(name)] = id
		}
		c.Link.Messages = normalized
	}

	if c.Bridge.URL == "" {
		c.Bridge.URL = d.Bridge.URL
	}
	if c.Bridge.Timeout <= 0 {
		c.Bridge.Timeout = d.Bridge.Timeout
	}

	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.MQTT.VehicleID == "" {
		c.MQTT.VehicleID = d.MQTT.VehicleID
	}
	if strings.ContainsAny(c.MQTT.VehicleID, "/+#") {
		return fmt.Errorf("mqtt.vehicle_id %q must not contain '/', '+' or '#'", c.MQTT.VehicleID)
	}

	if c.API.Listen == "" {
		c.API.Listen = d.API.Listen
	}
	switch c.API.Mode {
	case "":
		c.API.Mode = d.API.Mode
	case "release", "debug", "test":
	default:
		return fmt.Errorf("api.mode %q must be release, debug or test", c.API.Mode)
	}

	if c.Health.Interval <= 0 {
		c.Health.Interval = d.Health.Interval
	}
	if c.Health.CheckTimeout <= 0 {
		c.Health.CheckTimeout = d.Health.CheckTimeout
	}
	return nil
}

// ConnectionConfig builds the transport target described by the link section.
func (c *Config) ConnectionConfig() (transport.ConnectionConfig, error) {
	kind, err := transport.ParseKind(c.Link.Transport)
	if err != nil {
		return transport.ConnectionConfig{}, err
	}
	cfg := transport.ConnectionConfig{
		Kind:       kind,
		Host:       c.Link.Host,
		Port:       c.Link.Port,
		Path:       c.Link.Path,
		SerialPort: c.Link.SerialPort,
		BaudRate:   c.Link.BaudRate,
	}
	if err := cfg.Validate(); err != nil {
		return transport.ConnectionConfig{}, err
	}
	return cfg, nil
}

// LinkOptions builds gcs.Options for the link section.
func (c *Config) LinkOptions() *gcs.Options {
	table := protocol.DefaultMessageTable()
	if len(c.Link.Messages) > 0 {
		table = table.With(c.Link.Messages)
	}
	return &gcs.Options{
		ConnectTimeout:       c.Link.ConnectTimeout,
		MessageTable:         table,
		AllowUnknownMessages: c.Link.AllowUnknownMessages,
		TargetSystem:         c.Link.TargetSystem,
		TargetComponent:      c.Link.TargetComponent,
	}
}

// Write renders the configuration as YAML. Secrets are omitted.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
