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

	"github.com/dgofman/audiostreamer/internal/config"
	"github.com/dgofman/audiostreamer/internal/metrics"
	"github.com/dgofman/audiostreamer/internal/room"
	"github.com/dgofman/audiostreamer/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audiostreamer"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.Int("block_duration_ms", cfg.Audio.BlockDurationMs),
		slog.Int("block_size_bytes", cfg.Audio.BlockSizeBytes()),
		slog.Int("flush_interval_ms", cfg.Audio.FlushIntervalMs),
		slog.Bool("self_filter", cfg.Audio.SelfFilter),
		slog.Int("jitter_history_size", cfg.Jitter.HistorySize),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("prometheus metrics initialized")

	registry := room.NewRegistry(cfg, logger, appMetrics)

	relayServer := server.NewHTTPServer(cfg, logger, registry, appMetrics)
	if err := relayServer.Start(); err != nil {
		logger.Error("failed to start relay server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("service started successfully",
		slog.String("address", relayServer.Addr()),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("starting graceful shutdown...")

	// Stop accepting new connections first, then tear down the rooms.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := relayServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping relay server", slog.String("error", err.Error()))
	}

	activeRooms := registry.Count()
	registry.Close()

	logger.Info("service stopped", slog.Int("rooms_torn_down", activeRooms))
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
