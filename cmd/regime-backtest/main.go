// Runs one Monte Carlo experiment from config and prints its performance
// summary.
//
// Usage:
//
//	go run ./cmd/regime-backtest [-runs N] [-states N] [-short] [-trades]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"regimetrader/internal/config"
	"regimetrader/internal/experiment"
	"regimetrader/internal/report"
	"regimetrader/internal/store"
	"regimetrader/internal/util"
)

func main() {
	runs := flag.Int("runs", 0, "override monte_carlo.runs")
	states := flag.Int("states", 0, "override model.n_states")
	short := flag.Bool("short", false, "map negative-mean states to short instead of flat")
	trades := flag.Bool("trades", false, "print the trade log of the last run")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)

	req, err := experiment.RequestFromConfig(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if *runs > 0 {
		req.MonteCarlo.Runs = *runs
	}
	if *states > 0 {
		req.Model.NStates = *states
	}
	if *short {
		req.IncludeShorting = true
	}
	req.LogTrades = req.LogTrades || *trades

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating db directory: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()
	pq := store.NewParquetStore(cfg.Storage.DataDir)

	runner := &experiment.Runner{
		Bars:     pq,
		Frames:   pq,
		Runs:     db,
		Progress: os.Stderr,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := runner.Run(ctx, req)
	if err != nil {
		log.Fatalf("experiment failed: %v", err)
	}

	if *trades && out.Ledger != nil {
		if err := report.WriteTradeLog(os.Stdout, out.Ledger.Trades); err != nil {
			log.Fatalf("writing trade log: %v", err)
		}
	}
	if err := report.WritePerformanceSummary(os.Stdout, out.Experiment); err != nil {
		log.Fatalf("writing summary: %v", err)
	}
	logger.Info("experiment stored", "id", out.Experiment.ID, "db", cfg.Storage.SQLitePath)
}
