package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nyxara/exchange-core/params"
	"github.com/nyxara/exchange-core/pkg/exchange"
	"github.com/nyxara/exchange-core/pkg/util"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("") // "" means load .env from the current directory

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/exchange.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	core, err := exchange.BuildCore(cfg, logger)
	if err != nil {
		sugar.Fatalw("build_core_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.Start(ctx)

	sugar.Infow("exchange_starting",
		"symbols", len(cfg.Symbols),
		"journal_path", cfg.Journal.DBPath,
		"command_queue_depth", cfg.CommandLoop.QueueDepth)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutdown_signal_received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := core.Shutdown(shutdownCtx); err != nil {
				sugar.Errorw("shutdown_failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			for _, sym := range cfg.Symbols {
				state := core.Breaker.State(sym.Name)
				sugar.Infow("breaker_state", "symbol", sym.Name, "state", state.String())
			}
		}
	}
}
