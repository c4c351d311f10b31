// Package main is the entry point for the gcslink daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/internal/config"
	"github.com/dronefleet/gcslink/internal/daemon"
	"github.com/dronefleet/gcslink/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	autoConnect := flag.Bool("connect", false, "Connect to ground control on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcslinkd: %v\n", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *autoConnect {
		cfg.Link.AutoConnect = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcslinkd: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create daemon", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		logger.Fatal("Failed to start daemon", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("gcslinkd running, press Ctrl+C to stop", zap.String("api", d.APIAddr()))

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := d.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
