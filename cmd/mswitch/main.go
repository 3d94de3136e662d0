// Package main implements the mswitch daemon: it loads a switch engine
// configuration, wires the engine, and runs it until terminated.
//
// Usage:
//
//	mswitch [options]
//
// Options:
//
//	--config=PATH      Path to config file (default: /etc/mswitch/config.yaml)
//	--log-level=LEVEL   Log level: debug, info, warn, error (default: info)
//	--help              Show this help message
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/streamswitch/mswitch/internal/config"
	"github.com/streamswitch/mswitch/internal/engine"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.DefaultConfigFilePath, "Path to configuration file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	logger.Info("mswitch starting", "version", Version, "commit", Commit, "built", BuildTime)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "path", *configPath, "sources", len(cfg.Sources))

	eng, err := engine.New(cfg, nil, logger)
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go drainPulls(ctx, eng, logger)

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("engine exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("mswitch shutdown complete")
}

// drainPulls stands in for the embedding media pipeline's own downstream
// consumer, which would otherwise be the thing calling eng.Pull(). Running
// it here keeps the binary self-contained and runnable on its own.
func drainPulls(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := eng.Pull(); err != nil {
			logger.Debug("pull: nothing to emit yet", "error", err)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("mswitch - multi-source live video switch engine")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: mswitch [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
