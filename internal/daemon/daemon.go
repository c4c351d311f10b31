// Package daemon wires the ground-control link, helper client, MQTT relay,
// control API and health checks into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/internal/api"
	"github.com/dronefleet/gcslink/internal/config"
	"github.com/dronefleet/gcslink/internal/relay"
	"github.com/dronefleet/gcslink/pkg/bridge"
	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/healthcheck"
	"github.com/dronefleet/gcslink/pkg/mqtt"
	"github.com/dronefleet/gcslink/pkg/transport"
)

// Broker is the MQTT connection the relay publishes through.
type Broker interface {
	relay.Broker
	Connect() error
	Disconnect()
	IsConnected() bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithDialer replaces the link's transport dialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(d *Daemon) { d.dialer = dialer }
}

// WithBroker replaces the MQTT client built from configuration. It only
// takes effect when MQTT is enabled.
func WithBroker(broker Broker) Option {
	return func(d *Daemon) { d.broker = broker }
}

// Daemon owns every long-lived component.
type Daemon struct {
	config *config.Config
	logger *zap.Logger

	link   *gcs.Link
	bridge *bridge.Client
	health *healthcheck.Engine
	broker Broker
	relay  *relay.Relay
	api    *api.Server
	dialer transport.Dialer
	target transport.ConnectionConfig

	mu            sync.RWMutex
	running       bool
	started       bool
	startTime     time.Time
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	shutdownFuncs []func(context.Context) error
	linkSubs      []gcs.Subscription
}

// New builds the daemon from cfg. Nothing is started or connected.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	target, err := cfg.ConnectionConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid link target: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: logger.With(zap.String("component", "daemon")),
		target: target,
	}
	for _, opt := range opts {
		opt(d)
	}

	linkOpts := cfg.LinkOptions()
	linkOpts.Dialer = d.dialer
	d.link = gcs.NewLink(linkOpts, logger)

	d.bridge = bridge.NewClient(&bridge.Config{
		BaseURL: cfg.Bridge.URL,
		Timeout: cfg.Bridge.Timeout,
	}, logger)

	d.health = healthcheck.NewEngine(&healthcheck.EngineConfig{
		Interval:     cfg.Health.Interval,
		CheckTimeout: cfg.Health.CheckTimeout,
	}, logger)
	d.health.Register(healthcheck.Named("link", d.checkLink))
	d.health.Register(healthcheck.Named("bridge", d.checkBridge))

	if cfg.MQTT.Enabled {
		if d.broker == nil {
			client, err := mqtt.NewClient(&mqtt.Config{
				BrokerURL:     cfg.MQTT.BrokerURL,
				ClientID:      cfg.MQTT.ClientID,
				Username:      cfg.MQTT.Username,
				Password:      cfg.MQTT.Password,
				AutoReconnect: true,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create MQTT client: %w", err)
			}
			d.broker = client
		}
		d.relay = relay.New(&relay.Config{
			VehicleID:       cfg.MQTT.VehicleID,
			QoS:             byte(cfg.MQTT.QoS),
			TargetSystem:    cfg.Link.TargetSystem,
			TargetComponent: cfg.Link.TargetComponent,
		}, d.link, d.broker, logger)
		d.health.Register(healthcheck.Named("mqtt", d.checkBroker))
	}

	if cfg.API.Enabled {
		d.api, err = api.NewServer(&api.Config{
			Listen:             cfg.API.Listen,
			Mode:               cfg.API.Mode,
			DefaultConnection:  target,
			MissionPlannerPath: cfg.Bridge.MissionPlannerPath,
			TargetSystem:       cfg.Link.TargetSystem,
			TargetComponent:    cfg.Link.TargetComponent,
		}, d.link, d.bridge, d.health, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create control API: %w", err)
		}
	}

	return d, nil
}

// Link returns the ground-control link.
func (d *Daemon) Link() *gcs.Link {
	return d.link
}

// Health returns the health engine.
func (d *Daemon) Health() *healthcheck.Engine {
	return d.health
}

// APIAddr returns the control API's bound address, or "" when disabled or
// not started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.Addr()
}

// IsRunning reports whether Start has completed and Stop has not.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// RegisterShutdownFunc adds fn to run during Stop. Functions run in reverse
// registration order.
func (d *Daemon) RegisterShutdownFunc(fn func(context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdownFuncs = append(d.shutdownFuncs, fn)
}

// Start brings up every enabled component. If link.auto_connect is set the
// link is opened in the background; a failed attempt is logged, not fatal.
// A daemon can be started once.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon has already been started")
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("Starting gcslink daemon",
		zap.String("endpoint", d.target.Endpoint()),
		zap.Bool("mqtt", d.relay != nil),
		zap.Bool("api", d.api != nil))

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.watchLink()
	d.RegisterShutdownFunc(func(context.Context) error {
		d.link.Disconnect()
		return nil
	})

	if d.relay != nil {
		if !d.broker.IsConnected() {
			if err := d.broker.Connect(); err != nil {
				d.abortStart(ctx)
				return fmt.Errorf("failed to connect MQTT: %w", err)
			}
		}
		d.RegisterShutdownFunc(func(context.Context) error {
			d.broker.Disconnect()
			return nil
		})

		if err := d.relay.Start(); err != nil {
			d.abortStart(ctx)
			return fmt.Errorf("failed to start relay: %w", err)
		}
		d.RegisterShutdownFunc(func(context.Context) error {
			return d.relay.Stop()
		})
		d.health.OnResult(d.relay.PublishHealth)
	}

	if d.api != nil {
		if err := d.api.Start(); err != nil {
			d.abortStart(ctx)
			return fmt.Errorf("failed to start control API: %w", err)
		}
		d.RegisterShutdownFunc(d.api.Shutdown)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.health.Run(runCtx)
	}()

	if d.config.Link.AutoConnect {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.autoConnect(runCtx)
		}()
	}

	d.mu.Lock()
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info("gcslink daemon started")
	return nil
}

// abortStart unwinds a partially completed Start.
func (d *Daemon) abortStart(ctx context.Context) {
	if err := d.shutdown(ctx); err != nil {
		d.logger.Warn("Cleanup after failed start reported errors", zap.Error(err))
	}
}

func (d *Daemon) autoConnect(ctx context.Context) {
	if _, err := d.link.Connect(ctx, d.target); err != nil {
		if ctx.Err() != nil || errors.Is(err, gcs.ErrConnectAborted) {
			return
		}
		d.logger.Warn("Auto-connect failed",
			zap.String("endpoint", d.target.Endpoint()),
			zap.Error(err))
	}
}

// Stop shuts every component down in reverse start order. It is safe to call
// on a daemon that is not running.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.IsRunning() {
		return nil
	}

	d.logger.Info("Stopping gcslink daemon")
	err := d.shutdown(ctx)

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.logger.Info("gcslink daemon stopped", zap.Duration("uptime", d.uptime()))
	return err
}

func (d *Daemon) shutdown(ctx context.Context) error {
	d.mu.Lock()
	funcs := d.shutdownFuncs
	d.shutdownFuncs = nil
	cancel := d.cancel
	d.cancel = nil
	subs := d.linkSubs
	d.linkSubs = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			d.logger.Error("Shutdown function failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	d.wg.Wait()

	for _, sub := range subs {
		d.link.Off(sub)
	}
	return errors.Join(errs...)
}

func (d *Daemon) uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// watchLink logs link lifecycle events.
func (d *Daemon) watchLink() {
	subs := []gcs.Subscription{
		d.link.On(gcs.EventConnected, func(e gcs.Event) {
			if ev, ok := e.(gcs.ConnectedEvent); ok {
				d.logger.Info("Ground control link up",
					zap.String("endpoint", ev.Connection.Endpoint),
					zap.String("kind", ev.Connection.KindName))
			}
		}),
		d.link.On(gcs.EventDisconnected, func(gcs.Event) {
			d.logger.Info("Ground control link down")
		}),
		d.link.OnError(func(ev gcs.ErrorEvent) {
			d.logger.Warn("Ground control link error", zap.String("error", ev.Message()))
		}),
	}

	d.mu.Lock()
	d.linkSubs = append(d.linkSubs, subs...)
	d.mu.Unlock()
}

func (d *Daemon) checkLink(ctx context.Context) *healthcheck.Result {
	switch d.link.State() {
	case gcs.StateConnected:
		result := healthcheck.Healthy("connected")
		if conn, ok := d.link.Connection(); ok {
			result.WithDetail("endpoint", conn.Endpoint).
				WithDetail("connected_at", conn.ConnectedAt)
		}
		return result
	case gcs.StateConnecting:
		return healthcheck.Degraded("connecting").WithDetail("endpoint", d.target.Endpoint())
	default:
		return healthcheck.Degraded("not connected").WithDetail("endpoint", d.target.Endpoint())
	}
}

// checkBridge reports the helper as degraded rather than unhealthy: the link
// works without it.
func (d *Daemon) checkBridge(ctx context.Context) *healthcheck.Result {
	if err := d.bridge.Health(ctx); err != nil {
		return healthcheck.Degraded(err.Error()).WithDetail("url", d.bridge.BaseURL())
	}
	return healthcheck.Healthy("helper reachable").WithDetail("url", d.bridge.BaseURL())
}

func (d *Daemon) checkBroker(ctx context.Context) *healthcheck.Result {
	if !d.broker.IsConnected() {
		return healthcheck.Unhealthy(mqtt.ErrNotConnected)
	}
	return healthcheck.Healthy("connected")
}
