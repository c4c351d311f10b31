// Package relay bridges a ground-control link and an MQTT broker: link events
// are published on vehicle topics and command envelopes received on the
// vehicle command topic are forwarded to the link.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/healthcheck"
	"github.com/dronefleet/gcslink/pkg/mqtt"
	"github.com/dronefleet/gcslink/pkg/protocol"
)

// Broker is the subset of the MQTT client the relay uses.
type Broker interface {
	PublishJSON(topic string, qos byte, retained bool, payload interface{}) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Link is the subset of the ground-control link the relay uses.
type Link interface {
	On(kind gcs.EventKind, handler gcs.Handler) gcs.Subscription
	Off(sub gcs.Subscription) bool
	SendCommand(ctx context.Context, command string, params interface{}) error
	SendProtocolCommand(ctx context.Context, kind string, targetSystem, targetComponent int, payload interface{}) error
}

// Config configures a Relay.
type Config struct {
	// VehicleID names the vehicle in topics (default "default")
	VehicleID string
	// QoS for published events (default 0)
	QoS byte
	// CommandQoS for the command subscription (default 1)
	CommandQoS byte
	// Source identifies the relay in envelopes (default "gcslink:relay")
	Source string
	// CommandTimeout bounds forwarding one command to the link (default 5s)
	CommandTimeout time.Duration
	// TargetSystem used when a protocol command omits it (default 1)
	TargetSystem int
	// TargetComponent used when a protocol command omits it (default 1)
	TargetComponent int
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.VehicleID == "" {
		out.VehicleID = "default"
	}
	if out.CommandQoS == 0 {
		out.CommandQoS = 1
	}
	if out.Source == "" {
		out.Source = "gcslink:relay"
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = 5 * time.Second
	}
	if out.TargetSystem == 0 {
		out.TargetSystem = 1
	}
	if out.TargetComponent == 0 {
		out.TargetComponent = 1
	}
	return out
}

// Relay republishes link traffic on MQTT.
type Relay struct {
	config Config
	link   Link
	broker Broker
	logger *zap.Logger

	mu      sync.Mutex
	subs    []gcs.Subscription
	running bool
}

// New creates a relay between link and broker.
func New(config *Config, link Link, broker Broker, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.withDefaults()
	return &Relay{
		config: cfg,
		link:   link,
		broker: broker,
		logger: logger.With(zap.String("component", "mqtt_relay"), zap.String("vehicle", cfg.VehicleID)),
	}
}

// CommandTopic is the topic commands are accepted on.
func (r *Relay) CommandTopic() string {
	return mqtt.VehicleTopic(r.config.VehicleID, mqtt.ActionCommand)
}

// Start subscribes to link events and the command topic.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("relay already started")
	}

	if err := r.broker.Subscribe(r.CommandTopic(), r.config.CommandQoS, r.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.CommandTopic(), err)
	}

	for _, kind := range gcs.EventKinds {
		topic := r.topicFor(kind)
		r.subs = append(r.subs, r.link.On(kind, func(e gcs.Event) {
			r.publishEvent(topic, e)
		}))
	}

	r.running = true
	r.logger.Info("Relay started", zap.String("command_topic", r.CommandTopic()))
	return nil
}

// Stop removes every subscription. Stopping a stopped relay is a no-op.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	for _, sub := range r.subs {
		r.link.Off(sub)
	}
	r.subs = nil
	r.running = false

	if err := r.broker.Unsubscribe(r.CommandTopic()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("failed to unsubscribe from %s: %w", r.CommandTopic(), err)
	}
	r.logger.Info("Relay stopped")
	return nil
}

func (r *Relay) topicFor(kind gcs.EventKind) string {
	vehicle := r.config.VehicleID
	switch kind {
	case gcs.EventTelemetry:
		return mqtt.VehicleTopic(vehicle, mqtt.ActionTelemetry)
	case gcs.EventStatus:
		return mqtt.VehicleTopic(vehicle, mqtt.ActionStatus)
	case gcs.EventHeartbeat:
		return mqtt.VehicleTopic(vehicle, mqtt.ActionHeartbeat)
	default:
		return mqtt.VehicleEventTopic(vehicle, string(kind))
	}
}

func (r *Relay) publishEvent(topic string, e gcs.Event) {
	msg, err := mqtt.NewMessage(mqtt.MessageTypeEvent, r.config.Source, e)
	if err != nil {
		r.logger.Error("Failed to encode event", zap.String("event", string(e.Kind())), zap.Error(err))
		return
	}
	if err := r.broker.PublishJSON(topic, r.config.QoS, false, msg); err != nil {
		r.logger.Warn("Failed to relay event", zap.String("topic", topic), zap.Error(err))
	}
}

// handleCommand forwards a command envelope to the link and publishes the
// outcome on the response topic.
func (r *Relay) handleCommand(topic string, payload []byte) error {
	msg, err := mqtt.ParseMessage(payload)
	if err != nil {
		return err
	}
	if msg.Type != mqtt.MessageTypeCommand {
		r.logger.Debug("Ignoring non-command message", zap.String("type", string(msg.Type)))
		return nil
	}

	var cmd mqtt.CommandMessage
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		return r.respond(msg, fmt.Errorf("invalid command payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.CommandTimeout)
	defer cancel()

	return r.respond(msg, r.forward(ctx, cmd))
}

func (r *Relay) forward(ctx context.Context, cmd mqtt.CommandMessage) error {
	var params interface{}
	if len(cmd.Params) > 0 {
		params = cmd.Params
	}

	if cmd.Command == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Command != protocol.MAVLinkCommand {
		return r.link.SendCommand(ctx, cmd.Command, params)
	}

	if cmd.Kind == "" {
		return fmt.Errorf("mavlink command requires a kind")
	}
	system, component := cmd.TargetSystem, cmd.TargetComponent
	if system == 0 {
		system = r.config.TargetSystem
	}
	if component == 0 {
		component = r.config.TargetComponent
	}
	return r.link.SendProtocolCommand(ctx, cmd.Kind, system, component, params)
}

func (r *Relay) respond(request *mqtt.Message, cmdErr error) error {
	resp := mqtt.ResponseMessage{Success: cmdErr == nil}
	if cmdErr != nil {
		resp.Error = cmdErr.Error()
		r.logger.Warn("Command failed", zap.String("request_id", request.ID), zap.Error(cmdErr))
	}

	msg, err := mqtt.NewMessage(mqtt.MessageTypeResponse, r.config.Source, resp)
	if err != nil {
		return err
	}
	msg.CorrelationID = request.ID

	topic := mqtt.VehicleTopic(r.config.VehicleID, mqtt.ActionResponse)
	if err := r.broker.PublishJSON(topic, r.config.CommandQoS, false, msg); err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}
	return nil
}

// PublishHealth publishes an aggregated health result. It satisfies
// healthcheck.PublishFunc.
func (r *Relay) PublishHealth(ctx context.Context, result *healthcheck.AggregatedResult) error {
	msg, err := mqtt.NewMessage(mqtt.MessageTypeStatus, r.config.Source, result)
	if err != nil {
		return err
	}
	return r.broker.PublishJSON(mqtt.VehicleHealthTopic(r.config.VehicleID), r.config.QoS, true, msg)
}
