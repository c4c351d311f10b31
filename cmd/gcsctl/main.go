// Package main is gcsctl, a one-shot command line client for ground control.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/internal/config"
	"github.com/dronefleet/gcslink/internal/logging"
)

const usage = `Usage: gcsctl [-config file] [-log-level level] <command> [flags]

Commands:
  watch    connect and print link events as JSON lines
  send     connect, send one command and disconnect
  launch   ask the helper process to launch the mission planner
  status   show whether the mission planner is running
  config   print the effective configuration

Run 'gcsctl <command> -h' for command flags.
`

type command func(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error

var commands = map[string]command{
	"watch":  runWatch,
	"send":   runSend,
	"launch": runLaunch,
	"status": runStatus,
	"config": runConfig,
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	run, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "gcsctl: unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcsctl: %v\n", err)
		os.Exit(2)
	}
	cfg.Log.Level = *logLevel
	cfg.Log.Format = "console"

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcsctl: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gcsctl %s: %v\n", flag.Arg(0), err)
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}
