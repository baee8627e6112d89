// Package features derives the regime model's input columns from raw bars
// and splits the result into training and test sets.
package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"regimetrader/internal/domain"
)

// Column names of the feature frame, in order.
const (
	ColReturn     = "ret"
	ColVolatility = "vol"
	ColRSI        = "rsi"
)

var (
	// ErrTooFewBars is returned when no row survives the indicator warm-up.
	ErrTooFewBars = errors.New("features: not enough bars to build features")

	// ErrEmptySplit is returned when a split leaves either side empty.
	ErrEmptySplit = errors.New("features: split produced an empty set")
)

// Config holds the indicator windows.
type Config struct {
	RollVol   int `yaml:"roll_vol"`
	RSIWindow int `yaml:"rsi_window"`
}

// DefaultConfig returns the default indicator windows.
func DefaultConfig() Config {
	return Config{RollVol: 21, RSIWindow: 14}
}

// Engineer builds feature frames from bars.
type Engineer struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngineer creates an Engineer. Zero windows fall back to DefaultConfig.
func NewEngineer(cfg Config, logger *slog.Logger) *Engineer {
	d := DefaultConfig()
	if cfg.RollVol <= 1 {
		cfg.RollVol = d.RollVol
	}
	if cfg.RSIWindow <= 1 {
		cfg.RSIWindow = d.RSIWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engineer{cfg: cfg, logger: logger}
}

// Build computes log return, annualised rolling volatility and RSI for every
// bar, drops rows where any of them is undefined, and returns the surviving
// bars (with LogRet and Features set) and the aligned feature frame.
func (e *Engineer) Build(bars []domain.Bar) ([]domain.Bar, *domain.FeatureFrame, error) {
	n := len(bars)
	// The first RSIWindow outputs of talib are warm-up values.
	first := max(e.cfg.RollVol, e.cfg.RSIWindow)
	if n <= first {
		return nil, nil, fmt.Errorf("%d bars with warm-up %d: %w", n, first, ErrTooFewBars)
	}

	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}

	rets := make([]float64, n)
	rets[0] = math.NaN()
	for i := 1; i < n; i++ {
		rets[i] = math.Log(closes[i] / closes[i-1])
	}

	vols := make([]float64, n)
	for i := range vols {
		if i < e.cfg.RollVol {
			vols[i] = math.NaN()
			continue
		}
		vols[i] = stat.StdDev(rets[i-e.cfg.RollVol+1:i+1], nil) * math.Sqrt(365)
	}

	rsi := talib.Rsi(closes, e.cfg.RSIWindow)

	out := make([]domain.Bar, 0, n-first)
	frame := &domain.FeatureFrame{Columns: []string{ColReturn, ColVolatility, ColRSI}}
	for i := first; i < n; i++ {
		row := []float64{rets[i], vols[i], rsi[i]}
		if hasNaN(row) {
			continue
		}
		b := bars[i]
		b.LogRet = rets[i]
		b.Features = row
		b.State = domain.NoState
		out = append(out, b)
		frame.Timestamps = append(frame.Timestamps, b.Timestamp)
		frame.Rows = append(frame.Rows, append([]float64(nil), row...))
	}
	if len(out) == 0 {
		return nil, nil, ErrTooFewBars
	}

	e.logger.Info("features ready",
		"rows", len(out),
		"dropped", n-len(out),
		"columns", frame.Columns,
	)
	return out, frame, nil
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// Train/test split
// ----------------------------------------------------------------------------

// Dataset pairs bars with their aligned feature frame.
type Dataset struct {
	Bars     []domain.Bar
	Features *domain.FeatureFrame
}

// Split divides bars and frame at splitDate. Both halves include bars dated
// on splitDate's calendar day. The last embargo rows of the training half
// are then removed so training never abuts the test period.
func Split(bars []domain.Bar, frame *domain.FeatureFrame, splitDate time.Time, embargo int, logger *slog.Logger) (train, test Dataset, err error) {
	if len(bars) != frame.Len() {
		return Dataset{}, Dataset{}, fmt.Errorf("features: %d bars but %d feature rows", len(bars), frame.Len())
	}
	if logger == nil {
		logger = slog.Default()
	}
	dayStart := time.Date(splitDate.Year(), splitDate.Month(), splitDate.Day(), 0, 0, 0, 0, splitDate.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	trainEnd := 0
	for trainEnd < len(bars) && bars[trainEnd].Timestamp.Before(dayEnd) {
		trainEnd++
	}
	testStart := 0
	for testStart < len(bars) && bars[testStart].Timestamp.Before(dayStart) {
		testStart++
	}

	if embargo > 0 {
		trainEnd = max(trainEnd-embargo, 0)
	}
	if trainEnd == 0 || testStart == len(bars) {
		return Dataset{}, Dataset{}, fmt.Errorf("split at %s with embargo %d: %w",
			dayStart.Format(time.DateOnly), embargo, ErrEmptySplit)
	}

	train = Dataset{Bars: bars[:trainEnd], Features: frame.Slice(0, trainEnd)}
	test = Dataset{Bars: bars[testStart:], Features: frame.Slice(testStart, len(bars))}

	logger.Info("train/test split",
		"train_start", train.Bars[0].Timestamp.Format(time.DateOnly),
		"train_end", train.Bars[len(train.Bars)-1].Timestamp.Format(time.DateOnly),
		"train_rows", len(train.Bars),
		"embargo", embargo,
		"test_start", test.Bars[0].Timestamp.Format(time.DateOnly),
		"test_end", test.Bars[len(test.Bars)-1].Timestamp.Format(time.DateOnly),
		"test_rows", len(test.Bars),
	)
	return train, test, nil
}
