// Command ingestor runs the pump.fun/pump.swap real-time ingestion
// pipeline: it subscribes to the bonding-curve and AMM programs over a
// pooled gRPC stream, parses trade and lifecycle events, prices them,
// reconciles graduation, and persists the result.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pumpfun-superbot/ingestor/internal/config"
)

// Exit codes per spec section 6.
const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitPoolCollapsed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (defaults layered under it, env overrides on top)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return exitConfigInvalid
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Error("failed to construct application", "error", err)
		return exitConfigInvalid
	}

	if err := a.restore(ctx); err != nil {
		log.Warn("checkpoint restore failed, starting cold", "error", err)
	}

	if err := a.start(ctx); err != nil {
		log.Error("failed to start application", "error", err)
		return exitConfigInvalid
	}

	log.Info("ingestor running", "endpoint", cfg.StreamEndpoint, "min_connections", cfg.Pool.MinConnections)

	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
	case collapse := <-a.stream.Collapsed():
		log.Error("stream pool collapsed, shutting down", "down_for", collapse.Down)
		code = exitPoolCollapsed
	}

	a.shutdown(stop)
	return code
}
