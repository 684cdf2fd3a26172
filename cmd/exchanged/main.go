// exchanged is the storage and real-time synchronization core of a
// derivatives-trading exchange back end.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/walog        — write-ahead log: durable append-only record of every write (C1)
//	internal/memtable     — active/frozen in-memory generation pair (C2)
//	internal/sstable       — immutable on-disk sorted tables (C3)
//	internal/compaction   — leveled compactor merging SSTables (C4)
//	internal/checkpoint   — periodic account/order/position snapshots (C5)
//	internal/storage      — hybrid storage facade, recovery orchestrator, query engine (C6, C11, C12)
//	internal/subscriber   — decoupling boundary between the trading core and storage (C7)
//	internal/broker       — priority-queued notification routing (C8)
//	internal/gateway      — per-session subscription filtering and push (C9)
//	internal/diffsync     — differential-sync business snapshot per user (C10)
//	internal/api          — WebSocket/HTTP client protocol
//	internal/engine       — orchestrator wiring every component above
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"exchanged/internal/config"
	"exchanged/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EXCHANGED_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("exchanged started",
		"instruments", cfg.Instruments,
		"listen_addr", cfg.API.ListenAddr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
