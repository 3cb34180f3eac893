// linkprobe connects to the trading terminal and reports link health.
// Usage: go run ./cmd/linkprobe --config configs/termlink.yaml
//
// Exits non-zero when the link probes unhealthy, so it can serve as a
// deploy-time smoke check.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradecore/termlink"
	"github.com/tradecore/termlink/internal/config"
	"github.com/tradecore/termlink/internal/health"
	"github.com/tradecore/termlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/termlink.yaml", "path to config file")
	watch := flag.Bool("watch", false, "keep probing until interrupted")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("linkprobe", version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	link, err := termlink.New(cfg, termlink.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to build link", "error", err)
		os.Exit(1)
	}
	defer link.Close()

	sess, err := link.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire session", "error", err)
		os.Exit(1)
	}
	logger.Info("session acquired", "session_id", sess.ID())
	link.Release(sess)

	status := link.Probe(ctx)
	report(logger, link, status)

	if !*watch {
		if status.Overall == health.StatusUnhealthy {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Health.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(logger, link, link.Probe(ctx))
		}
	}
}

func report(logger *slog.Logger, link *termlink.Link, status termlink.Status) {
	logger.Info("link status",
		"overall", string(status.Overall),
		"connected", status.Connected,
		"authenticated", status.Authenticated,
		"feed_fresh", status.DataFeedFresh,
		"latency", status.Latency,
		"cause", status.Cause,
		"circuit", link.CircuitState().String(),
		"session_state", link.SessionState().String(),
	)
}
