package optimize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"regimetrader/internal/domain"
	"regimetrader/internal/features"
	"regimetrader/internal/regime"
	"regimetrader/internal/strategy"
	"regimetrader/internal/strategy/builtins"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestObjective(t *testing.T) {
	res := &strategy.BacktestResult{Bars: []domain.Bar{
		{StrategyReturn: 0.03, LogRet: 0.01},  // +0.02
		{StrategyReturn: 0.00, LogRet: 0.01},  // -0.01
		{StrategyReturn: 0.02, LogRet: -0.01}, // +0.03
		{StrategyReturn: 0.01, LogRet: 0.01},  //  0
	}}
	want := -(0.05*0.05 - 0.01*0.01)
	if got := Objective(res); math.Abs(got-want) > 1e-12 {
		t.Errorf("Objective = %v, want %v", got, want)
	}
}

func regimeData(n int) features.Dataset {
	rng := rand.New(rand.NewPCG(3, 4))
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	frame := &domain.FeatureFrame{Columns: []string{"ret", "vol"}}
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		up := (i/20)%2 == 0
		lr := -0.01 + rng.NormFloat64()*0.002
		vol := 0.8
		if up {
			lr = 0.01 + rng.NormFloat64()*0.002
			vol = 0.2
		}
		price *= math.Exp(lr)
		ts := start.AddDate(0, 0, i)
		bars[i] = domain.Bar{Timestamp: ts, Close: price, LogRet: lr, State: domain.NoState}
		frame.Timestamps = append(frame.Timestamps, ts)
		frame.Rows = append(frame.Rows, []float64{lr, vol + rng.NormFloat64()*0.01})
	}
	return features.Dataset{Bars: bars, Features: frame}
}

func TestStateOptimizerRun(t *testing.T) {
	bt := strategy.NewBacktester(strategy.Config{InitialCapital: 1000}, quietLogger())
	o := NewStateOptimizer(2, 4, 1, regime.HMMConfig{MaxIter: 50}, builtins.NewRegimeSign(true), bt, quietLogger())

	best, scores, err := o.Run(context.Background(), regimeData(120))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("len(scores) = %d, want 3", len(scores))
	}
	for i, s := range scores {
		if s.NStates != 2+i {
			t.Errorf("scores[%d].NStates = %d, want %d", i, s.NStates, 2+i)
		}
		if s.Score < best.Score {
			t.Errorf("scores[%d] = %v beats best %v", i, s.Score, best.Score)
		}
	}
}

func TestStateOptimizerEmptyRange(t *testing.T) {
	o := NewStateOptimizer(5, 3, 0, regime.HMMConfig{}, builtins.NewRegimeSign(false),
		strategy.NewBacktester(strategy.DefaultConfig(), quietLogger()), quietLogger())
	if _, _, err := o.Run(context.Background(), regimeData(30)); !errors.Is(err, ErrEmptyRange) {
		t.Errorf("Run error = %v, want ErrEmptyRange", err)
	}
}
