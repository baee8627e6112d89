// Package domain defines the core value types shared across the backtesting
// engine, the regime model, storage, and the Monte Carlo layer.
package domain

import (
	"math"
	"time"
)

// Signal is the desired exposure decided at a bar and executed as the
// position of the following bar.
type Signal int

const (
	SignalShort Signal = -1
	SignalFlat  Signal = 0
	SignalLong  Signal = 1
)

// Direction labels the order flow leaving a bar.
type Direction string

const (
	DirectionBuy      Direction = "buy"
	DirectionSell     Direction = "sell"
	DirectionNoAction Direction = "no action"
)

// Side is the side of a round-trip trade, taken from its entry row.
type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// Curve selects which equity column metrics are computed over.
type Curve string

const (
	CurveStrategy  Curve = "strategy_equity"
	CurveBenchmark Curve = "hodl_equity"
)

// NoState marks a bar that carries no hidden-state label.
const NoState = -1

// Bar is one time-stamped market record plus every column derived from it
// by the feature engineer, the signal mapper, and the backtester.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	// LogRet is log(Close/prevClose). It is the "ret" feature as well as the
	// input to the backtester's simple return.
	LogRet   float64
	Features []float64
	State    int
	Signal   Signal

	Position       int
	Trade          int
	Direction      Direction
	Return         float64
	StrategyReturn float64
	StrategyEquity float64

	BenchmarkPosition int
	BenchmarkReturn   float64
	BenchmarkEquity   float64
	Outperforming     bool
}

// FeatureFrame is a time-ordered numeric table aligned 1:1 with a bar slice.
type FeatureFrame struct {
	Timestamps []time.Time
	Columns    []string
	Rows       [][]float64
}

// Len returns the number of rows.
func (f *FeatureFrame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Slice returns the rows in [i, j). Row slices are shared, not copied.
func (f *FeatureFrame) Slice(i, j int) *FeatureFrame {
	return &FeatureFrame{
		Timestamps: f.Timestamps[i:j],
		Columns:    f.Columns,
		Rows:       f.Rows[i:j],
	}
}

// TradeRecord is one closed round-trip trade.
type TradeRecord struct {
	EntryDate  time.Time
	ExitDate   time.Time
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Return     float64
	CumReturn  float64
}

// Metrics summarises one equity curve.
type Metrics struct {
	AnnualizedSharpe float64
	TotalReturn      float64
	MaxDrawdown      float64
	NumberOfTrades   int
}

// Map returns the metrics keyed the way reports and the API expose them.
func (m Metrics) Map() map[string]any {
	return map[string]any{
		"annualized_sharpe": m.AnnualizedSharpe,
		"total_return":      m.TotalReturn,
		"max_drawdown":      m.MaxDrawdown,
		"number_of_trades":  m.NumberOfTrades,
	}
}

// EquityPoint is one timestamped value of an equity path.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// RunResult is the outcome of one converged Monte Carlo attempt.
type RunResult struct {
	Seed    int64
	Metrics Metrics
	Equity  []EquityPoint
}

// Summary is the cross-run mean and sample standard deviation of the
// per-run metrics.
type Summary struct {
	AverageReturn      float64
	StdReturn          float64
	AverageSharpe      float64
	StdSharpe          float64
	AverageMaxDrawdown float64
	StdMaxDrawdown     float64
}

// Map returns the summary keyed the way reports and the API expose it.
func (s Summary) Map() map[string]float64 {
	return map[string]float64{
		"average_return":       s.AverageReturn,
		"std_return":           s.StdReturn,
		"average_sharpe":       s.AverageSharpe,
		"std_sharpe":           s.StdSharpe,
		"average_max_drawdown": s.AverageMaxDrawdown,
		"std_max_drawdown":     s.StdMaxDrawdown,
	}
}

// CloneBars returns a deep copy of bars, including feature slices.
func CloneBars(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	copy(out, bars)
	for i := range out {
		if bars[i].Features != nil {
			out[i].Features = append([]float64(nil), bars[i].Features...)
		}
	}
	return out
}

// IsMissing reports whether v is a missing value.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// AggregatePoint is one row of a Monte Carlo aggregate frame, aligned to the
// test period. Equity values are NaN where no run produced one.
type AggregatePoint struct {
	Timestamp       time.Time
	AverageEquity   float64
	BenchmarkEquity float64
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Outperforming   bool
}

// Experiment describes one persisted Monte Carlo experiment.
type Experiment struct {
	ID              string
	Symbol          string
	CreatedAt       time.Time
	NStates         int
	Runs            int
	Seeded          bool
	Attempts        int64
	Rejected        int64
	TestStart       time.Time
	TestEnd         time.Time
	Benchmark       Metrics
	Summary         Summary
	ProbOutperform1 float64
	ProbOutperform2 float64
	ProbOutperform3 float64
}
