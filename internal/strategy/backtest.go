package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"regimetrader/internal/domain"
)

// ErrInsufficientBars is returned when a backtest is asked to run over fewer
// than two bars. One bar is always dropped for the missing lag.
var ErrInsufficientBars = errors.New("strategy: at least two bars are required")

// Config holds the cost and sizing parameters of a backtest.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Commission     float64 `yaml:"commission"`
	Slippage       float64 `yaml:"slippage"`
	MinHoldDays    int     `yaml:"min_hold_days"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		Commission:     0.001,
		Slippage:       0.0005,
		MinHoldDays:    1,
	}
}

// UnitCost is the one-way cost of a size-1 trade.
func (c Config) UnitCost() float64 {
	return c.Commission + c.Slippage
}

// BacktestResult holds the augmented bars and summary metrics produced by a
// backtest run.
type BacktestResult struct {
	// Bars are the input bars with every derived column filled in. The first
	// input bar is not included.
	Bars      []domain.Bar
	Strategy  domain.Metrics
	Benchmark domain.Metrics

	// Ledger is only populated when trade logging was requested.
	Ledger *Ledger
}

// Backtester replays a signal series as a single-asset, single-position
// portfolio and computes performance metrics net of costs.
type Backtester struct {
	cfg    Config
	logger *slog.Logger
}

// NewBacktester creates a Backtester with the given configuration. A nil
// logger falls back to slog.Default().
func NewBacktester(cfg Config, logger *slog.Logger) *Backtester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtester{
		cfg:    cfg,
		logger: logger,
	}
}

// Config returns the backtester's configuration.
func (bt *Backtester) Config() Config {
	return bt.cfg
}

// Run executes a backtest over bars, which must carry Signal and LogRet. The
// input slice is not modified. When logTrades is true the round-trip trade
// ledger is reconstructed and attached to the result.
func (bt *Backtester) Run(bars []domain.Bar, logTrades bool) (*BacktestResult, error) {
	n := len(bars)
	if n < 2 {
		return nil, fmt.Errorf("backtest over %d bars: %w", n, ErrInsufficientBars)
	}
	out := domain.CloneBars(bars)

	positions := make([]int, n)
	for t := 1; t < n; t++ {
		positions[t] = int(out[t-1].Signal)
	}
	if bt.cfg.MinHoldDays > 1 {
		positions = SmoothPositions(positions, bt.cfg.MinHoldDays)
	}

	for t := range out {
		out[t].Position = positions[t]
		out[t].Return = math.Exp(out[t].LogRet) - 1

		flow := orderFlow(positions, out[n-1].Signal, t)
		out[t].Trade = absInt(flow)
		out[t].Direction = directionOf(flow)
	}

	cost := bt.cfg.UnitCost()
	for t := range out {
		r := float64(out[t].Position) * out[t].Return
		if t > 0 {
			// The order leaving bar t-1 is filled into bar t.
			r -= float64(out[t-1].Trade) * cost
		}
		if t == n-1 {
			// Forced liquidation at series end settles on the last bar.
			r -= float64(out[t].Trade) * cost
		}
		out[t].StrategyReturn = r
	}

	out = out[1:]

	strategyEquity := bt.cfg.InitialCapital
	benchmarkEquity := bt.cfg.InitialCapital
	for t := range out {
		if t == 0 {
			out[t].BenchmarkPosition = 0
			out[t].BenchmarkReturn = -cost
		} else {
			out[t].BenchmarkPosition = 1
			out[t].BenchmarkReturn = out[t].Return
		}
		strategyEquity *= 1 + out[t].StrategyReturn
		benchmarkEquity *= 1 + out[t].BenchmarkReturn
		out[t].StrategyEquity = strategyEquity
		out[t].BenchmarkEquity = benchmarkEquity
		out[t].Outperforming = strategyEquity >= benchmarkEquity
	}

	res := &BacktestResult{
		Bars:      out,
		Strategy:  ComputeMetrics(out, domain.CurveStrategy),
		Benchmark: ComputeMetrics(out, domain.CurveBenchmark),
	}
	if logTrades {
		res.Ledger = BuildLedger(out, cost, bt.logger)
	}
	return res, nil
}

// orderFlow returns the signed order flow leaving bar t. Trade size and
// direction are both derived from it. On the final bar the flow closes
// whatever the last signal would have opened.
func orderFlow(positions []int, lastSignal domain.Signal, t int) int {
	if t == len(positions)-1 {
		return -int(lastSignal)
	}
	return positions[t+1] - positions[t]
}

func directionOf(flow int) domain.Direction {
	switch {
	case flow > 0:
		return domain.DirectionBuy
	case flow < 0:
		return domain.DirectionSell
	default:
		return domain.DirectionNoAction
	}
}

// SmoothPositions enforces a minimum holding period. It scans positions once,
// carrying the last observed value and its run length; while the run is
// shorter than minHold the bar's position is forced to 0. Runs are measured
// on the unsmoothed values, so a series that changes every bar stays flat.
func SmoothPositions(positions []int, minHold int) []int {
	out := make([]int, len(positions))
	last, run := 0, 0
	for i, p := range positions {
		if p == last {
			run++
		} else {
			last = p
			run = 1
		}
		if run < minHold {
			out[i] = 0
		} else {
			out[i] = p
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
