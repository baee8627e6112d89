// Package store defines storage interfaces for persisting and retrieving
// domain objects such as bars, Monte Carlo runs, experiments, and aggregate
// equity frames.
package store

import (
	"context"
	"errors"
	"time"

	"regimetrader/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// FrameStore persists the per-experiment frames consumed by plotting tools.
type FrameStore interface {
	// WriteAggregate persists the Monte Carlo aggregate frame.
	WriteAggregate(ctx context.Context, experimentID string, points []domain.AggregatePoint) error

	// ReadAggregate returns the aggregate frame of an experiment.
	ReadAggregate(ctx context.Context, experimentID string) ([]domain.AggregatePoint, error)

	// WriteBacktest persists the augmented bars of one backtest.
	WriteBacktest(ctx context.Context, experimentID string, bars []domain.Bar) error

	// ReadBacktest returns the augmented bars of an experiment's backtest.
	ReadBacktest(ctx context.Context, experimentID string) ([]domain.Bar, error)
}

// RunStore persists and retrieves experiments and their Monte Carlo runs.
type RunStore interface {
	// SaveExperiment inserts or replaces an experiment.
	SaveExperiment(ctx context.Context, exp *domain.Experiment) error

	// GetExperiment retrieves an experiment by ID.
	GetExperiment(ctx context.Context, id string) (*domain.Experiment, error)

	// ListExperiments returns the most recent experiments, up to limit.
	ListExperiments(ctx context.Context, limit int) ([]domain.Experiment, error)

	// SaveRuns stores the run results of an experiment. Equity paths are not
	// stored.
	SaveRuns(ctx context.Context, experimentID string, runs []domain.RunResult) error

	// ListRuns returns the runs of an experiment ordered by seed.
	ListRuns(ctx context.Context, experimentID string) ([]domain.RunResult, error)
}
