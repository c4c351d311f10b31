package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/internal/config"
	"github.com/dronefleet/gcslink/pkg/bridge"
	"github.com/dronefleet/gcslink/pkg/gcs"
)

// linkFlags overrides the link section of the configuration.
type linkFlags struct {
	transport string
	host      string
	port      int
	path      string
	serial    string
	baud      int
	timeout   time.Duration
}

func (f *linkFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.transport, "transport", "", "Transport: tcp, udp or serial")
	fs.StringVar(&f.host, "host", "", "Ground control host")
	fs.IntVar(&f.port, "port", 0, "Ground control port")
	fs.StringVar(&f.path, "path", "", "WebSocket path")
	fs.StringVar(&f.serial, "serial", "", "Serial device (e.g. /dev/ttyUSB0)")
	fs.IntVar(&f.baud, "baud", 0, "Serial baud rate")
	fs.DurationVar(&f.timeout, "timeout", 0, "Connect timeout")
}

func (f *linkFlags) apply(cfg *config.Config) {
	if f.transport != "" {
		cfg.Link.Transport = f.transport
	}
	if f.host != "" {
		cfg.Link.Host = f.host
	}
	if f.port != 0 {
		cfg.Link.Port = f.port
	}
	if f.path != "" {
		cfg.Link.Path = f.path
	}
	if f.serial != "" {
		cfg.Link.SerialPort = f.serial
	}
	if f.baud != 0 {
		cfg.Link.BaudRate = f.baud
	}
	if f.timeout > 0 {
		cfg.Link.ConnectTimeout = f.timeout
	}
}

// stdout receives command output.
var stdout io.Writer = os.Stdout

// openLink connects a new link described by cfg. Handlers registered by
// subscribe see every event from the connected event on.
func openLink(ctx context.Context, cfg *config.Config, logger *zap.Logger, subscribe func(*gcs.Link)) (*gcs.Link, error) {
	target, err := cfg.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	link := gcs.NewLink(cfg.LinkOptions(), logger)
	if subscribe != nil {
		subscribe(link)
	}
	if _, err := link.Connect(ctx, target); err != nil {
		return nil, err
	}
	return link, nil
}

// eventPrinter writes events as JSON lines.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *eventPrinter) print(e gcs.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(struct {
		Kind  gcs.EventKind `json:"kind"`
		Event gcs.Event     `json:"event"`
	}{Kind: e.Kind(), Event: e})
}

func runWatch(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	duration := fs.Duration("duration", 0, "Stop after this long (0 waits for Ctrl+C or link loss)")
	kinds := fs.String("kinds", "", "Comma separated event kinds (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lf.apply(cfg)

	selected := gcs.EventKinds
	if *kinds != "" {
		selected = nil
		for _, name := range strings.Split(*kinds, ",") {
			kind, ok := gcs.ParseEventKind(strings.TrimSpace(name))
			if !ok {
				return fmt.Errorf("unknown event kind %q", name)
			}
			selected = append(selected, kind)
		}
	}

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	printer := &eventPrinter{enc: json.NewEncoder(stdout)}
	lost := make(chan struct{})
	var once sync.Once

	link, err := openLink(ctx, cfg, logger, func(link *gcs.Link) {
		for _, kind := range selected {
			link.On(kind, printer.print)
		}
		link.On(gcs.EventDisconnected, func(gcs.Event) {
			once.Do(func() { close(lost) })
		})
	})
	if err != nil {
		return err
	}
	defer link.Disconnect()

	select {
	case <-ctx.Done():
		return nil
	case <-lost:
		return errors.New("link closed by ground control")
	}
}

func runSend(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	cmd := fs.String("command", "", "Generic command name (e.g. move)")
	params := fs.String("params", "", "Generic command params as JSON")
	kind := fs.String("mavlink", "", "Protocol message kind (e.g. TAKEOFF)")
	payload := fs.String("payload", "{}", "Protocol payload as JSON")
	system := fs.Int("target-system", 0, "Target system (default from config)")
	component := fs.Int("target-component", 0, "Target component (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*cmd == "") == (*kind == "") {
		return errors.New("exactly one of -command or -mavlink is required")
	}
	lf.apply(cfg)

	link, err := openLink(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer link.Disconnect()

	if *cmd != "" {
		var p interface{}
		if *params != "" {
			if !json.Valid([]byte(*params)) {
				return fmt.Errorf("-params is not valid JSON")
			}
			p = json.RawMessage(*params)
		}
		return link.SendCommand(ctx, *cmd, p)
	}

	if !json.Valid([]byte(*payload)) {
		return fmt.Errorf("-payload is not valid JSON")
	}
	ts, tc := cfg.Link.TargetSystem, cfg.Link.TargetComponent
	if *system != 0 {
		ts = *system
	}
	if *component != 0 {
		tc = *component
	}
	return link.SendProtocolCommand(ctx, strings.ToUpper(*kind), ts, tc, json.RawMessage(*payload))
}

func newBridge(cfg *config.Config, logger *zap.Logger) *bridge.Client {
	return bridge.NewClient(&bridge.Config{BaseURL: cfg.Bridge.URL, Timeout: cfg.Bridge.Timeout}, logger)
}

func runLaunch(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	path := fs.String("path", cfg.Bridge.MissionPlannerPath, "Mission planner executable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := newBridge(cfg, logger).LaunchMissionPlanner(ctx, *path)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	status, err := newBridge(cfg, logger).MissionPlannerStatus(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return cfg.Write(stdout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
