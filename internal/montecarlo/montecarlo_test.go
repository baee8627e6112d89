package montecarlo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
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

// stubModel is a regime.Model whose behaviour is a pure function of its seed.
type stubModel struct {
	seed    int64
	k       int
	rejects func(seed int64) bool
	fails   func(seed int64) bool
	fatal   error
	fitted  bool
	monitor regime.Monitor
}

func (m *stubModel) Fit(_ context.Context, X [][]float64) ([]int, error) {
	if m.fatal != nil {
		return nil, m.fatal
	}
	if m.fails != nil && m.fails(m.seed) {
		return nil, regime.ErrFitFailed
	}
	m.monitor = regime.Monitor{Converged: true, Iter: 2, History: []float64{-10, -9.999}}
	if m.rejects != nil && m.rejects(m.seed) {
		m.monitor = regime.Monitor{Iter: 500, History: []float64{-10, -9.5}}
	}
	m.fitted = true
	return m.states(len(X)), nil
}

func (m *stubModel) Predict(X [][]float64) ([]int, error) {
	if !m.fitted {
		return nil, regime.ErrNotFitted
	}
	return m.states(len(X)), nil
}

func (m *stubModel) Monitor() regime.Monitor { return m.monitor }

func (m *stubModel) states(n int) []int {
	// Block length varies with the seed so different seeds partition the
	// bars differently.
	block := 1 + m.seed%4
	out := make([]int, n)
	for i := range out {
		out[i] = int((int64(i)/block + m.seed) % int64(m.k))
	}
	return out
}

type stubFactory struct {
	rejects func(seed int64) bool
	fails   func(seed int64) bool
	fatal   error
}

func (f stubFactory) factory() regime.Factory {
	return func(seed int64) regime.Model {
		return &stubModel{seed: seed, k: 3, rejects: f.rejects, fails: f.fails, fatal: f.fatal}
	}
}

func datasets(n int) (features.Dataset, features.Dataset) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	frame := &domain.FeatureFrame{Columns: []string{"ret"}}
	price := 100.0
	for i := range bars {
		lr := 0.01 + 0.02*math.Sin(float64(i)*1.3)
		price *= math.Exp(lr)
		ts := start.AddDate(0, 0, i)
		bars[i] = domain.Bar{Timestamp: ts, Open: price, High: price, Low: price, Close: price, LogRet: lr, State: domain.NoState}
		frame.Timestamps = append(frame.Timestamps, ts)
		frame.Rows = append(frame.Rows, []float64{lr})
	}
	ds := features.Dataset{Bars: bars, Features: frame}
	return ds, ds
}

func newOrchestrator(cfg Config, f stubFactory) *Orchestrator {
	train, test := datasets(40)
	bt := strategy.NewBacktester(strategy.Config{InitialCapital: 1000, Commission: 0.001, Slippage: 0.001}, quietLogger())
	return New(cfg, f.factory(), builtins.NewRegimeSign(true), bt, train, test, quietLogger())
}

func everyThird(seed int64) bool { return seed%3 == 1 }
func everyFifth(seed int64) bool { return seed%5 == 4 }

func TestRunCollectsExactlyNRuns(t *testing.T) {
	o := newOrchestrator(Config{Runs: 6, Seeded: true}, stubFactory{rejects: everyThird, fails: everyFifth})

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Returns) != 6 || len(res.Sharpes) != 6 || len(res.Drawdowns) != 6 || len(res.Trades) != 6 {
		t.Fatalf("collection sizes = (%d,%d,%d,%d), want 6 each",
			len(res.Returns), len(res.Sharpes), len(res.Drawdowns), len(res.Trades))
	}

	// Seeds 1, 4, 7 are not converged and seed 9 fails, so the kept seeds
	// are the first six others.
	wantSeeds := []int64{0, 2, 3, 5, 6, 8}
	for i, run := range res.Runs {
		if run.Seed != wantSeeds[i] {
			t.Errorf("Runs[%d].Seed = %d, want %d", i, run.Seed, wantSeeds[i])
		}
	}
	if res.Attempts != 9 {
		t.Errorf("Attempts = %d, want 9", res.Attempts)
	}
	if res.Rejected != 3 {
		t.Errorf("Rejected = %d, want 3", res.Rejected)
	}

	test := o.TestBars()
	if len(res.Aggregate) != len(test) {
		t.Fatalf("len(Aggregate) = %d, want %d", len(res.Aggregate), len(test))
	}
	for i, p := range res.Aggregate {
		if !p.Timestamp.Equal(test[i].Timestamp) {
			t.Errorf("Aggregate[%d].Timestamp = %v, want %v", i, p.Timestamp, test[i].Timestamp)
		}
	}
	if !math.IsNaN(res.Aggregate[0].AverageEquity) {
		t.Errorf("Aggregate[0].AverageEquity = %v, want NaN for the dropped lag row", res.Aggregate[0].AverageEquity)
	}
	for _, p := range res.Aggregate[1:] {
		if math.IsNaN(p.AverageEquity) || math.IsNaN(p.BenchmarkEquity) {
			t.Fatalf("Aggregate at %v has missing values", p.Timestamp)
		}
	}

	var mean float64
	for _, run := range res.Runs {
		mean += run.Equity[len(run.Equity)-1].Equity
	}
	mean /= float64(len(res.Runs))
	if got := res.Aggregate[len(res.Aggregate)-1].AverageEquity; math.Abs(got-mean) > 1e-9 {
		t.Errorf("final AverageEquity = %v, want %v", got, mean)
	}

	if last := o.LastBacktest(); last == nil || res.BenchmarkReturn != last.Benchmark.TotalReturn {
		t.Errorf("BenchmarkReturn = %v, want last run's benchmark total return", res.BenchmarkReturn)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	f := stubFactory{rejects: everyThird, fails: everyFifth}
	seq, err := newOrchestrator(Config{Runs: 10, Seeded: true}, f).Run(context.Background())
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}
	par, err := newOrchestrator(Config{Runs: 10, Seeded: true, Workers: 4}, f).Run(context.Background())
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}
	for i := range seq.Runs {
		if seq.Runs[i].Seed != par.Runs[i].Seed || seq.Returns[i] != par.Returns[i] {
			t.Errorf("run %d: sequential (seed %d, %v), parallel (seed %d, %v)",
				i, seq.Runs[i].Seed, seq.Returns[i], par.Runs[i].Seed, par.Returns[i])
		}
	}
}

func TestRunUnseeded(t *testing.T) {
	res, err := newOrchestrator(Config{Runs: 4}, stubFactory{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Runs) != 4 {
		t.Errorf("len(Runs) = %d, want 4", len(res.Runs))
	}
}

func TestRunAttemptBudget(t *testing.T) {
	always := func(int64) bool { return true }
	o := newOrchestrator(Config{Runs: 3, Seeded: true, MaxAttempts: 10, Workers: 2}, stubFactory{rejects: always})

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrAttemptBudgetExhausted) {
		t.Errorf("Run error = %v, want ErrAttemptBudgetExhausted", err)
	}
}

func TestRunFatalErrorPropagates(t *testing.T) {
	o := newOrchestrator(Config{Runs: 3, Seeded: true}, stubFactory{fatal: regime.ErrShape})
	_, err := o.Run(context.Background())
	if !errors.Is(err, regime.ErrShape) {
		t.Errorf("Run error = %v, want ErrShape", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newOrchestrator(Config{Runs: 3, Seeded: true}, stubFactory{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestZeroRuns(t *testing.T) {
	o := newOrchestrator(Config{Runs: 0, Seeded: true}, stubFactory{})
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, p := range res.Aggregate {
		if !math.IsNaN(p.AverageEquity) {
			t.Errorf("Aggregate[%d].AverageEquity = %v, want NaN", i, p.AverageEquity)
		}
	}
	if _, err := o.ProbabilityOutperformance(1); !errors.Is(err, ErrNoSuccessfulRuns) {
		t.Errorf("ProbabilityOutperformance error = %v, want ErrNoSuccessfulRuns", err)
	}
	if _, err := o.SummaryStatistics(); !errors.Is(err, ErrNoSuccessfulRuns) {
		t.Errorf("SummaryStatistics error = %v, want ErrNoSuccessfulRuns", err)
	}
}

func TestProbabilityOutperformance(t *testing.T) {
	o := newOrchestrator(Config{Runs: 12, Seeded: true}, stubFactory{rejects: everyFifth})
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BenchmarkReturn <= 0 {
		t.Fatalf("BenchmarkReturn = %v, fixture expects a positive benchmark", res.BenchmarkReturn)
	}

	prev := math.Inf(1)
	for _, mult := range []float64{0, 0.5, 1, 2, 3} {
		p, err := o.ProbabilityOutperformance(mult)
		if err != nil {
			t.Fatalf("ProbabilityOutperformance(%v): %v", mult, err)
		}
		if p < 0 || p > 1 {
			t.Errorf("ProbabilityOutperformance(%v) = %v, want in [0,1]", mult, p)
		}
		if p > prev {
			t.Errorf("ProbabilityOutperformance(%v) = %v, increased from %v", mult, p, prev)
		}
		prev = p
	}

	s, err := o.SummaryStatistics()
	if err != nil {
		t.Fatalf("SummaryStatistics: %v", err)
	}
	if len(s.Map()) != 6 {
		t.Errorf("summary has %d keys, want 6", len(s.Map()))
	}
}

func TestRunAccumulatesUntilReset(t *testing.T) {
	o := newOrchestrator(Config{Runs: 3, Seeded: true}, stubFactory{})
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(res.Runs) != 6 {
		t.Fatalf("len(Runs) = %d, want 6", len(res.Runs))
	}
	for i, run := range res.Runs {
		if run.Seed != int64(i) {
			t.Errorf("Runs[%d].Seed = %d, want %d", i, run.Seed, i)
		}
	}

	o.Reset()
	if got := o.Result(); len(got.Runs) != 0 {
		t.Errorf("after Reset len(Runs) = %d, want 0", len(got.Runs))
	}
}

// ----------------------------------------------------------------------------
// Distribution and summary
// ----------------------------------------------------------------------------

func TestKDE(t *testing.T) {
	samples := []float64{-0.2, 0.1, 0.15, 0.3, 0.5, 0.55}
	k, err := NewKDE(samples)
	if err != nil {
		t.Fatalf("NewKDE: %v", err)
	}
	if k.Bandwidth() <= 0 {
		t.Fatalf("Bandwidth = %v, want > 0", k.Bandwidth())
	}

	prev := -1.0
	for x := -1.0; x <= 1.5; x += 0.05 {
		c := k.CDF(x)
		if c < prev-1e-12 {
			t.Errorf("CDF(%v) = %v decreased from %v", x, c, prev)
		}
		if math.Abs(k.SF(x)-(1-c)) > 1e-12 {
			t.Errorf("SF(%v) = %v, want %v", x, k.SF(x), 1-c)
		}
		if k.PDF(x) < 0 {
			t.Errorf("PDF(%v) = %v, want >= 0", x, k.PDF(x))
		}
		prev = c
	}
	if c := k.CDF(-10); c > 1e-6 {
		t.Errorf("CDF(-10) = %v, want ~0", c)
	}
	if c := k.CDF(10); c < 1-1e-6 {
		t.Errorf("CDF(10) = %v, want ~1", c)
	}
}

func TestKDEDegenerate(t *testing.T) {
	k, err := NewKDE([]float64{0.2, 0.2})
	if err != nil {
		t.Fatalf("NewKDE: %v", err)
	}
	if k.Bandwidth() != 0 {
		t.Errorf("Bandwidth = %v, want 0", k.Bandwidth())
	}
	if got := k.SF(0.1); got != 1 {
		t.Errorf("SF(0.1) = %v, want 1", got)
	}
	if got := k.SF(0.2); got != 0 {
		t.Errorf("SF(0.2) = %v, want 0", got)
	}
	if _, err := NewKDE(nil); !errors.Is(err, ErrNoSuccessfulRuns) {
		t.Errorf("NewKDE(nil) error = %v, want ErrNoSuccessfulRuns", err)
	}
}

func TestSummarize(t *testing.T) {
	runs := []domain.RunResult{
		{Metrics: domain.Metrics{TotalReturn: 0.1, AnnualizedSharpe: 1, MaxDrawdown: -0.1}},
		{Metrics: domain.Metrics{TotalReturn: 0.3, AnnualizedSharpe: 2, MaxDrawdown: -0.2}},
		{Metrics: domain.Metrics{TotalReturn: 0.2, AnnualizedSharpe: 3, MaxDrawdown: -0.3}},
	}
	s, err := Summarize(runs)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"AverageReturn", s.AverageReturn, 0.2},
		{"StdReturn", s.StdReturn, 0.1},
		{"AverageSharpe", s.AverageSharpe, 2},
		{"StdSharpe", s.StdSharpe, 1},
		{"AverageMaxDrawdown", s.AverageMaxDrawdown, -0.2},
		{"StdMaxDrawdown", s.StdMaxDrawdown, 0.1},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}
