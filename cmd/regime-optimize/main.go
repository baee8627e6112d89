// Sweeps the regime model's state count on the training set and prints the
// score of each candidate. Lower scores are better.
//
// Usage:
//
//	go run ./cmd/regime-optimize [-min N] [-max N] [-seed N]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"regimetrader/internal/config"
	"regimetrader/internal/experiment"
	"regimetrader/internal/report"
	"regimetrader/internal/store"
	"regimetrader/internal/util"
)

func main() {
	minStates := flag.Int("min", 0, "override optimize.min_states")
	maxStates := flag.Int("max", 0, "override optimize.max_states")
	seed := flag.Int64("seed", -1, "override optimize.seed")
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
	if *minStates > 0 {
		req.MinStates = *minStates
	}
	if *maxStates > 0 {
		req.MaxStates = *maxStates
	}
	if *seed >= 0 {
		req.Seed = *seed
	}

	pq := store.NewParquetStore(cfg.Storage.DataDir)
	runner := &experiment.Runner{Bars: pq, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	best, scores, err := runner.Optimize(ctx, req)
	if err != nil {
		log.Fatalf("optimize failed: %v", err)
	}

	fmt.Printf("%-8s  %s\n", "States", "Score")
	for _, s := range scores {
		fmt.Printf("%-8d  %s\n", s.NStates, report.FormatFixed(s.Score, 4))
	}
	fmt.Printf("\nBest number of states: %d (score %s)\n", best.NStates, report.FormatFixed(best.Score, 4))
}
