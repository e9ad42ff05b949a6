// Command clone is a minimal wiring example for the replication core:
// it loads a clone's YAML config, opens its pebble store, and runs a
// CloneEngine until interrupted. The public CLI/network surface is
// out of scope for this module, so the example joins an in-process
// transport.MemBroker rather than a real broker client — wire in a
// Transport backed by an actual pub/sub broker for a real deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clonegraph/suset/clone"
	"github.com/clonegraph/suset/internal/logging"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/remote"
	"github.com/clonegraph/suset/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "clone:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to clone YAML config")
	storageDir := flag.String("storage", "", "pebble storage directory")
	flag.Parse()

	if *configPath == "" || *storageDir == "" {
		return fmt.Errorf("usage: clone -config <file> -storage <dir>")
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := clone.LoadConfig(data)
	if err != nil {
		return err
	}

	log := logging.New(logLevel(cfg.LogLevel))

	store, err := kv.OpenPebble(*storageDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	broker := transport.NewMemBroker()
	will := remote.LastWill(cfg.Domain, cfg.ID)
	t := transport.NewMemTransport(broker, cfg.ID, &will)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := clone.Open(ctx, cfg, store, t, log)
	if err != nil {
		return fmt.Errorf("open clone: %w", err)
	}

	log.Info("clone running", "id", cfg.ID, "domain", cfg.Domain)
	<-ctx.Done()

	return engine.Close(context.Background())
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

