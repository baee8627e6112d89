// Package optimize searches for the number of hidden states that best
// separates out- from under-performing days on the training set.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"regimetrader/internal/features"
	"regimetrader/internal/regime"
	"regimetrader/internal/strategy"
)

// ErrEmptyRange is returned when no state count is to be tried.
var ErrEmptyRange = errors.New("optimize: empty state range")

// Score is the objective value of one state count. Lower is better.
type Score struct {
	NStates int
	Score   float64
}

// StateOptimizer fits one model per candidate state count with a fixed seed
// and scores its in-sample backtest.
type StateOptimizer struct {
	minStates  int
	maxStates  int
	seed       int64
	hmm        regime.HMMConfig
	mapper     strategy.Strategy
	backtester *strategy.Backtester
	logger     *slog.Logger
}

// NewStateOptimizer creates an optimizer over the inclusive range
// [minStates, maxStates].
func NewStateOptimizer(
	minStates, maxStates int,
	seed int64,
	hmm regime.HMMConfig,
	mapper strategy.Strategy,
	backtester *strategy.Backtester,
	logger *slog.Logger,
) *StateOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateOptimizer{
		minStates:  minStates,
		maxStates:  maxStates,
		seed:       seed,
		hmm:        hmm,
		mapper:     mapper,
		backtester: backtester,
		logger:     logger,
	}
}

// Run scores every state count and returns the best one together with all
// scores in range order. Ties keep the smaller state count.
func (o *StateOptimizer) Run(ctx context.Context, data features.Dataset) (Score, []Score, error) {
	if o.maxStates < o.minStates || o.minStates < 1 {
		return Score{}, nil, fmt.Errorf("[%d, %d]: %w", o.minStates, o.maxStates, ErrEmptyRange)
	}
	o.logger.Info("optimizing number of states", "min", o.minStates, "max", o.maxStates)

	scores := make([]Score, 0, o.maxStates-o.minStates+1)
	for n := o.minStates; n <= o.maxStates; n++ {
		cfg := o.hmm
		cfg.NStates = n
		model := regime.NewGaussianHMM(cfg, o.seed)

		states, err := model.Fit(ctx, data.Features.Rows)
		if err != nil {
			return Score{}, nil, fmt.Errorf("fit %d states: %w", n, err)
		}
		bars, err := o.mapper.Signals(ctx, data.Bars, states)
		if err != nil {
			return Score{}, nil, fmt.Errorf("map %d states: %w", n, err)
		}
		res, err := o.backtester.Run(bars, false)
		if err != nil {
			return Score{}, nil, fmt.Errorf("backtest %d states: %w", n, err)
		}

		s := Score{NStates: n, Score: Objective(res)}
		scores = append(scores, s)
		o.logger.Debug("state count scored", "n_states", n, "score", s.Score)
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score < best.Score {
			best = s
		}
	}
	o.logger.Info("best number of states", "n_states", best.NStates, "score", best.Score)
	return best, scores, nil
}

// Objective rewards days where the strategy beat the asset's log return and
// penalises days where it lagged: -(sum(out)^2 - sum(under)^2).
func Objective(res *strategy.BacktestResult) float64 {
	var out, under float64
	for _, b := range res.Bars {
		diff := b.StrategyReturn - b.LogRet
		switch {
		case diff > 0:
			out += diff
		case diff < 0:
			under += diff
		}
	}
	return -(out*out - under*under)
}
