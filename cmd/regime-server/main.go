package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"regimetrader/internal/api"
	"regimetrader/internal/config"
	"regimetrader/internal/experiment"
	"regimetrader/internal/store"
	"regimetrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)

	base, err := experiment.RequestFromConfig(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating db directory: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()
	pq := store.NewParquetStore(cfg.Storage.DataDir)

	runner := &experiment.Runner{Bars: pq, Frames: pq, Runs: db, Logger: logger}
	srv := api.NewServer(cfg, api.NewService(runner, db, base, logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("regime-server starting", "addr", srv.Addr(), "symbol", base.Symbol)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
