// Package montecarlo re-fits the regime model under many seeds, backtests
// each converged fit on the test period, and aggregates the outcomes into an
// average equity path and a distribution over total returns.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"regimetrader/internal/domain"
	"regimetrader/internal/features"
	"regimetrader/internal/regime"
	"regimetrader/internal/strategy"
)

var (
	// ErrNoSuccessfulRuns is returned by statistics that need at least one
	// converged run.
	ErrNoSuccessfulRuns = errors.New("montecarlo: no successful runs")

	// ErrAttemptBudgetExhausted is returned when MaxAttempts attempts were
	// made without collecting the requested number of runs.
	ErrAttemptBudgetExhausted = errors.New("montecarlo: attempt budget exhausted")
)

// Config controls one Monte Carlo batch.
type Config struct {
	Runs        int  `yaml:"runs"`
	Seeded      bool `yaml:"seeded"`
	Workers     int  `yaml:"workers"`
	MaxAttempts int  `yaml:"max_attempts"` // 0 means unbounded
}

// Result is the accumulated outcome of every Run on an Orchestrator.
type Result struct {
	Runs      []domain.RunResult
	Returns   []float64
	Sharpes   []float64
	Drawdowns []float64
	Trades    []int

	Aggregate       []domain.AggregatePoint
	Benchmark       domain.Metrics
	BenchmarkReturn float64

	Attempts int64
	Rejected int64
}

type trial struct {
	seed   int64
	run    domain.RunResult
	result *strategy.BacktestResult
}

// Orchestrator drives repeated fit, predict, map and backtest cycles. It
// keeps accumulating runs across calls to Run until Reset is called.
type Orchestrator struct {
	cfg        Config
	factory    regime.Factory
	mapper     strategy.Strategy
	backtester *strategy.Backtester
	train      features.Dataset
	test       features.Dataset
	logger     *slog.Logger
	progress   io.Writer

	mu       sync.Mutex
	nextSeed int64
	attempts int64
	rejected int64
	runs     []domain.RunResult
	last     *strategy.BacktestResult
	kde      *KDE
}

// New creates an Orchestrator. train supplies the fitting features; test
// supplies the bars and features every converged model is evaluated on.
func New(
	cfg Config,
	factory regime.Factory,
	mapper strategy.Strategy,
	backtester *strategy.Backtester,
	train, test features.Dataset,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		factory:    factory,
		mapper:     mapper,
		backtester: backtester,
		train:      train,
		test:       test,
		logger:     logger,
	}
}

// WithProgress renders a progress bar to w while Run collects runs.
func (o *Orchestrator) WithProgress(w io.Writer) *Orchestrator {
	o.progress = w
	return o
}

// Reset discards every accumulated run and restarts the seed counter.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSeed = 0
	o.attempts = 0
	o.rejected = 0
	o.runs = nil
	o.last = nil
	o.kde = nil
}

// Run collects cfg.Runs more converged runs. Non-converged or failed fits are
// rejected and the next seed is tried; any other error aborts the batch.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	need := int64(o.cfg.Runs)
	base := o.nextSeed

	var (
		seeds     atomic.Int64
		successes atomic.Int64
		rejected  atomic.Int64
	)
	seeds.Store(base)

	bar := o.newProgressBar(o.cfg.Runs)
	buffers := make([][]trial, o.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < o.cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			for successes.Load() < need {
				if err := gctx.Err(); err != nil {
					return err
				}
				seed := seeds.Add(1) - 1
				if o.cfg.MaxAttempts > 0 && seed-base >= int64(o.cfg.MaxAttempts) {
					return nil
				}

				a, outcome, err := o.attempt(gctx, seed)
				if err != nil {
					return fmt.Errorf("attempt seed %d: %w", seed, err)
				}
				if a == nil {
					rejected.Add(1)
					o.logger.Debug("rejected fit",
						"seed", seed,
						"status", outcome.Status.String(),
						"last_ll", outcome.LastLL,
						"delta", outcome.Delta,
						"error", outcome.Err,
					)
					continue
				}
				buffers[w] = append(buffers[w], *a)
				successes.Add(1)
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	claimed := seeds.Load() - base
	if o.cfg.MaxAttempts > 0 && claimed > int64(o.cfg.MaxAttempts) {
		claimed = int64(o.cfg.MaxAttempts)
	}
	if err != nil {
		return nil, err
	}

	var merged []trial
	for _, buf := range buffers {
		merged = append(merged, buf...)
	}
	if int64(len(merged)) < need {
		return nil, fmt.Errorf("%d of %d runs after %d attempts: %w",
			len(merged), need, claimed, ErrAttemptBudgetExhausted)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].seed < merged[j].seed })
	merged = merged[:need]

	o.nextSeed = base + claimed
	o.attempts += claimed
	o.rejected += rejected.Load()
	for _, a := range merged {
		o.runs = append(o.runs, a.run)
	}
	if len(merged) > 0 {
		o.last = merged[len(merged)-1].result
	}
	o.kde = nil

	o.logger.Info("monte carlo batch complete",
		"runs", len(merged),
		"attempts", claimed,
		"rejected", rejected.Load(),
		"total_runs", len(o.runs),
	)
	return o.result(), nil
}

// attempt runs one fit/predict/map/backtest cycle. It returns a nil trial
// when the fit was rejected.
func (o *Orchestrator) attempt(ctx context.Context, seed int64) (*trial, regime.FitOutcome, error) {
	modelSeed := seed
	if !o.cfg.Seeded {
		modelSeed = rand.Int64()
	}
	m := o.factory(modelSeed)

	outcome, err := regime.Fit(ctx, m, o.train.Features.Rows)
	if err != nil {
		return nil, outcome, err
	}
	if outcome.Retryable() {
		return nil, outcome, nil
	}

	states, err := m.Predict(o.test.Features.Rows)
	if err != nil {
		return nil, outcome, fmt.Errorf("predict: %w", err)
	}
	bars, err := o.mapper.Signals(ctx, o.test.Bars, states)
	if err != nil {
		return nil, outcome, fmt.Errorf("map signals: %w", err)
	}
	res, err := o.backtester.Run(bars, false)
	if err != nil {
		return nil, outcome, fmt.Errorf("backtest: %w", err)
	}

	equity := make([]domain.EquityPoint, len(res.Bars))
	for i, b := range res.Bars {
		equity[i] = domain.EquityPoint{Timestamp: b.Timestamp, Equity: b.StrategyEquity}
	}
	return &trial{
		seed:   seed,
		run:    domain.RunResult{Seed: modelSeed, Metrics: res.Strategy, Equity: equity},
		result: res,
	}, outcome, nil
}

func (o *Orchestrator) newProgressBar(total int) *progressbar.ProgressBar {
	if o.progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(o.progress),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Monte Carlo runs..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

// Result returns the accumulated result without running more attempts.
func (o *Orchestrator) Result() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result()
}

func (o *Orchestrator) result() *Result {
	r := &Result{
		Runs:      append([]domain.RunResult(nil), o.runs...),
		Returns:   make([]float64, len(o.runs)),
		Sharpes:   make([]float64, len(o.runs)),
		Drawdowns: make([]float64, len(o.runs)),
		Trades:    make([]int, len(o.runs)),
		Attempts:  o.attempts,
		Rejected:  o.rejected,
	}
	for i, run := range o.runs {
		r.Returns[i] = run.Metrics.TotalReturn
		r.Sharpes[i] = run.Metrics.AnnualizedSharpe
		r.Drawdowns[i] = run.Metrics.MaxDrawdown
		r.Trades[i] = run.Metrics.NumberOfTrades
	}
	r.Aggregate = o.aggregate()
	if o.last != nil {
		r.Benchmark = o.last.Benchmark
		r.BenchmarkReturn = o.last.Benchmark.TotalReturn
	} else {
		r.BenchmarkReturn = math.NaN()
	}
	return r
}

// aggregate averages every run's equity by timestamp over the full test
// index and attaches the last run's benchmark equity.
func (o *Orchestrator) aggregate() []domain.AggregatePoint {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, run := range o.runs {
		for _, p := range run.Equity {
			sums[p.Timestamp] += p.Equity
			counts[p.Timestamp]++
		}
	}
	benchmark := make(map[time.Time]float64)
	if o.last != nil {
		for _, b := range o.last.Bars {
			benchmark[b.Timestamp] = b.BenchmarkEquity
		}
	}

	out := make([]domain.AggregatePoint, len(o.test.Bars))
	for i, b := range o.test.Bars {
		p := domain.AggregatePoint{
			Timestamp:       b.Timestamp,
			AverageEquity:   math.NaN(),
			BenchmarkEquity: math.NaN(),
			Open:            b.Open,
			High:            b.High,
			Low:             b.Low,
			Close:           b.Close,
		}
		if n := counts[b.Timestamp]; n > 0 {
			p.AverageEquity = sums[b.Timestamp] / float64(n)
		}
		if v, ok := benchmark[b.Timestamp]; ok {
			p.BenchmarkEquity = v
		}
		p.Outperforming = p.AverageEquity > p.BenchmarkEquity
		out[i] = p
	}
	return out
}

// Distribution returns the KDE fitted over accumulated total returns.
func (o *Orchestrator) Distribution() (*KDE, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.distribution()
}

func (o *Orchestrator) distribution() (*KDE, error) {
	if o.kde != nil {
		return o.kde, nil
	}
	returns := make([]float64, len(o.runs))
	for i, run := range o.runs {
		returns[i] = run.Metrics.TotalReturn
	}
	kde, err := NewKDE(returns)
	if err != nil {
		return nil, err
	}
	o.kde = kde
	return kde, nil
}

// ProbabilityOutperformance returns the estimated probability that a fresh
// run's total return exceeds mult times the benchmark's.
func (o *Orchestrator) ProbabilityOutperformance(mult float64) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.runs) == 0 || o.last == nil {
		return 0, ErrNoSuccessfulRuns
	}
	kde, err := o.distribution()
	if err != nil {
		return 0, err
	}
	return kde.SF(mult * o.last.Benchmark.TotalReturn), nil
}

// SummaryStatistics returns the mean and sample deviation of the per-run
// return, Sharpe ratio and drawdown.
func (o *Orchestrator) SummaryStatistics() (domain.Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Summarize(o.runs)
}

// TestBars returns the test-period bars the orchestrator evaluates on.
func (o *Orchestrator) TestBars() []domain.Bar {
	return o.test.Bars
}

// LastBacktest returns the full backtest of the most recent kept run, or nil.
func (o *Orchestrator) LastBacktest() *strategy.BacktestResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
