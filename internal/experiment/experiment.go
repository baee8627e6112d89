// Package experiment wires data loading, feature engineering, the train/test
// split, the Monte Carlo orchestrator and persistence into one pipeline.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"regimetrader/internal/config"
	"regimetrader/internal/domain"
	"regimetrader/internal/features"
	"regimetrader/internal/montecarlo"
	"regimetrader/internal/optimize"
	"regimetrader/internal/regime"
	"regimetrader/internal/store"
	"regimetrader/internal/strategy"
	"regimetrader/internal/strategy/builtins"
)

var (
	// ErrNoData is returned when no bars are available for the request.
	ErrNoData = errors.New("experiment: no bars")

	// ErrUnknownStrategy is returned for an unregistered strategy name.
	ErrUnknownStrategy = errors.New("experiment: unknown strategy")
)

// Request describes one experiment.
type Request struct {
	Symbol  string
	CSVPath string // when set, bars are read from CSV and ingested
	Start   time.Time
	End     time.Time

	SplitDate time.Time
	Embargo   int

	Features        features.Config
	Model           regime.HMMConfig
	Strategy        string
	IncludeShorting bool
	Backtest        strategy.Config
	MonteCarlo      montecarlo.Config

	// Seed is used by LatestSignal and Optimize.
	Seed      int64
	MinStates int
	MaxStates int

	LogTrades bool
	TradesCSV string
}

// RequestFromConfig builds a Request from loaded configuration.
func RequestFromConfig(cfg *config.Config) (Request, error) {
	start, end, err := cfg.Data.Range()
	if err != nil {
		return Request{}, err
	}
	var split time.Time
	if cfg.Data.SplitDate != "" {
		if split, err = cfg.Data.Split(); err != nil {
			return Request{}, err
		}
	}
	return Request{
		Symbol:          cfg.Data.Symbol,
		CSVPath:         cfg.Data.CSVPath,
		Start:           start,
		End:             end,
		SplitDate:       split,
		Embargo:         cfg.Data.Embargo,
		Features:        cfg.Features,
		Model:           cfg.Model.HMMConfig,
		Strategy:        cfg.Model.Strategy,
		IncludeShorting: cfg.Model.IncludeShorting,
		Backtest:        cfg.Backtest,
		MonteCarlo:      cfg.MonteCarlo,
		Seed:            cfg.Optimize.Seed,
		MinStates:       cfg.Optimize.MinStates,
		MaxStates:       cfg.Optimize.MaxStates,
		TradesCSV:       cfg.Storage.TradesCSV,
		LogTrades:       cfg.Storage.TradesCSV != "",
	}, nil
}

// Outcome is everything one experiment produced.
type Outcome struct {
	Experiment *domain.Experiment
	Result     *montecarlo.Result
	// Last is the full backtest of the highest-seed kept run.
	Last   *strategy.BacktestResult
	Ledger *strategy.Ledger
}

// Runner executes experiments. Nil stores are skipped.
type Runner struct {
	Bars   store.BarStore
	Frames store.FrameStore
	Runs   store.RunStore

	// Factory overrides the Gaussian HMM built from Request.Model.
	Factory  regime.Factory
	Progress io.Writer
	Logger   *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Strategies returns the registry of regime-to-signal mappers.
func Strategies(includeShorting bool) *strategy.Registry {
	reg := strategy.NewRegistry()
	reg.Register(builtins.NewRegimeSign(includeShorting))
	return reg
}

func (r *Runner) mapper(req Request) (strategy.Strategy, error) {
	name := req.Strategy
	if name == "" {
		name = "regime-sign"
	}
	s, ok := Strategies(req.IncludeShorting).Get(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
	return s, nil
}

func (r *Runner) factory(req Request) regime.Factory {
	if r.Factory != nil {
		return r.Factory
	}
	return regime.NewHMMFactory(req.Model)
}

// LoadBars returns the bars of req, ingesting them from CSV first when
// CSVPath is set.
func (r *Runner) LoadBars(ctx context.Context, req Request) ([]domain.Bar, error) {
	var bars []domain.Bar
	if req.CSVPath != "" {
		loaded, err := store.LoadBarsCSV(req.CSVPath, req.Symbol)
		if err != nil {
			return nil, err
		}
		if r.Bars != nil {
			if err := r.Bars.WriteBars(ctx, loaded); err != nil {
				return nil, fmt.Errorf("ingesting %s: %w", req.CSVPath, err)
			}
		}
		for _, b := range loaded {
			if inRange(b.Timestamp, req.Start, req.End) {
				bars = append(bars, b)
			}
		}
	} else if r.Bars != nil {
		var err error
		if bars, err = r.Bars.ReadBars(ctx, req.Symbol, req.Start, req.End); err != nil {
			return nil, err
		}
	}
	if len(bars) == 0 {
		if r.Bars != nil {
			if symbols, err := r.Bars.ListSymbols(ctx); err == nil && len(symbols) > 0 {
				return nil, fmt.Errorf("%s (stored: %s): %w", req.Symbol, strings.Join(symbols, ", "), ErrNoData)
			}
		}
		return nil, fmt.Errorf("%s: %w", req.Symbol, ErrNoData)
	}
	r.logger().Info("bars loaded", "symbol", req.Symbol, "rows", len(bars),
		"first", bars[0].Timestamp.Format(time.DateOnly), "last", bars[len(bars)-1].Timestamp.Format(time.DateOnly))
	return bars, nil
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// prepare loads bars and builds the split datasets.
func (r *Runner) prepare(ctx context.Context, req Request) (train, test features.Dataset, err error) {
	bars, err := r.LoadBars(ctx, req)
	if err != nil {
		return train, test, err
	}
	featBars, frame, err := features.NewEngineer(req.Features, r.logger()).Build(bars)
	if err != nil {
		return train, test, err
	}
	return features.Split(featBars, frame, req.SplitDate, req.Embargo, r.logger())
}

// Run executes one Monte Carlo experiment and persists its results.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	log := r.logger()

	train, test, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	mapper, err := r.mapper(req)
	if err != nil {
		return nil, err
	}
	bt := strategy.NewBacktester(req.Backtest, log)

	orch := montecarlo.New(req.MonteCarlo, r.factory(req), mapper, bt, train, test, log).
		WithProgress(r.Progress)
	res, err := orch.Run(ctx)
	if err != nil {
		return nil, err
	}

	exp := &domain.Experiment{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		CreatedAt:       time.Now().UTC(),
		NStates:         req.Model.NStates,
		Runs:            len(res.Runs),
		Seeded:          req.MonteCarlo.Seeded,
		Attempts:        res.Attempts,
		Rejected:        res.Rejected,
		TestStart:       test.Bars[0].Timestamp,
		TestEnd:         test.Bars[len(test.Bars)-1].Timestamp,
		Benchmark:       res.Benchmark,
		ProbOutperform1: math.NaN(),
		ProbOutperform2: math.NaN(),
		ProbOutperform3: math.NaN(),
	}
	if exp.NStates == 0 {
		exp.NStates = regime.DefaultHMMConfig().NStates
	}

	summary, err := orch.SummaryStatistics()
	switch {
	case errors.Is(err, montecarlo.ErrNoSuccessfulRuns):
		summary = nanSummary()
	case err != nil:
		return nil, err
	}
	exp.Summary = summary

	for i, p := range []*float64{&exp.ProbOutperform1, &exp.ProbOutperform2, &exp.ProbOutperform3} {
		prob, err := orch.ProbabilityOutperformance(float64(i + 1))
		if errors.Is(err, montecarlo.ErrNoSuccessfulRuns) {
			break
		}
		if err != nil {
			return nil, err
		}
		*p = prob
	}

	out := &Outcome{Experiment: exp, Result: res, Last: orch.LastBacktest()}
	if req.LogTrades && out.Last != nil {
		out.Ledger = strategy.BuildLedger(out.Last.Bars, bt.Config().UnitCost(), log)
	}

	if err := r.persist(ctx, req, out); err != nil {
		return nil, err
	}
	log.Info("experiment finished", "id", exp.ID, "runs", exp.Runs,
		"attempts", exp.Attempts, "rejected", exp.Rejected, "prob_outperform", exp.ProbOutperform1)
	return out, nil
}

func (r *Runner) persist(ctx context.Context, req Request, out *Outcome) error {
	id := out.Experiment.ID
	if r.Runs != nil {
		if err := r.Runs.SaveExperiment(ctx, out.Experiment); err != nil {
			return err
		}
		if err := r.Runs.SaveRuns(ctx, id, out.Result.Runs); err != nil {
			return err
		}
	}
	if r.Frames != nil {
		if err := r.Frames.WriteAggregate(ctx, id, out.Result.Aggregate); err != nil {
			return err
		}
		if out.Last != nil {
			if err := r.Frames.WriteBacktest(ctx, id, out.Last.Bars); err != nil {
				return err
			}
		}
	}
	if req.TradesCSV != "" && out.Ledger != nil {
		if err := store.WriteTradesCSV(req.TradesCSV, out.Ledger.Trades); err != nil {
			return fmt.Errorf("writing trades: %w", err)
		}
	}
	return nil
}

func nanSummary() domain.Summary {
	nan := math.NaN()
	return domain.Summary{
		AverageReturn: nan, StdReturn: nan,
		AverageSharpe: nan, StdSharpe: nan,
		AverageMaxDrawdown: nan, StdMaxDrawdown: nan,
	}
}

// Optimize sweeps the state count over [MinStates, MaxStates] on the
// training set.
func (r *Runner) Optimize(ctx context.Context, req Request) (optimize.Score, []optimize.Score, error) {
	train, _, err := r.prepare(ctx, req)
	if err != nil {
		return optimize.Score{}, nil, err
	}
	mapper, err := r.mapper(req)
	if err != nil {
		return optimize.Score{}, nil, err
	}
	o := optimize.NewStateOptimizer(req.MinStates, req.MaxStates, req.Seed, req.Model,
		mapper, strategy.NewBacktester(req.Backtest, r.logger()), r.logger())
	return o.Run(ctx, train)
}
