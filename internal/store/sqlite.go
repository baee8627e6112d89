package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"regimetrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id                 TEXT PRIMARY KEY,
	symbol             TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	n_states           INTEGER NOT NULL,
	runs               INTEGER NOT NULL,
	seeded             INTEGER NOT NULL,
	attempts           INTEGER NOT NULL,
	rejected           INTEGER NOT NULL,
	test_start         INTEGER NOT NULL,
	test_end           INTEGER NOT NULL,
	bench_sharpe       REAL NOT NULL,
	bench_return       REAL NOT NULL,
	bench_max_drawdown REAL NOT NULL,
	average_return     REAL,
	std_return         REAL,
	average_sharpe     REAL,
	std_sharpe         REAL,
	average_max_dd     REAL,
	std_max_dd         REAL,
	prob_1x            REAL,
	prob_2x            REAL,
	prob_3x            REAL
);

CREATE TABLE IF NOT EXISTS runs (
	experiment_id    TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
	seed             INTEGER NOT NULL,
	total_return     REAL NOT NULL,
	annualized_sharpe REAL NOT NULL,
	max_drawdown     REAL NOT NULL,
	number_of_trades INTEGER NOT NULL,
	PRIMARY KEY (experiment_id, seed)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Experiments
// ---------------------------------------------------------------------------

// SaveExperiment inserts or replaces an experiment.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, e *domain.Experiment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO experiments (
			id, symbol, created_at, n_states, runs, seeded, attempts, rejected,
			test_start, test_end, bench_sharpe, bench_return, bench_max_drawdown,
			average_return, std_return, average_sharpe, std_sharpe,
			average_max_dd, std_max_dd, prob_1x, prob_2x, prob_3x
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Symbol, e.CreatedAt.UnixMilli(), e.NStates, e.Runs, e.Seeded, e.Attempts, e.Rejected,
		e.TestStart.UnixMilli(), e.TestEnd.UnixMilli(),
		e.Benchmark.AnnualizedSharpe, e.Benchmark.TotalReturn, e.Benchmark.MaxDrawdown,
		nullFloat(e.Summary.AverageReturn), nullFloat(e.Summary.StdReturn),
		nullFloat(e.Summary.AverageSharpe), nullFloat(e.Summary.StdSharpe),
		nullFloat(e.Summary.AverageMaxDrawdown), nullFloat(e.Summary.StdMaxDrawdown),
		nullFloat(e.ProbOutperform1), nullFloat(e.ProbOutperform2), nullFloat(e.ProbOutperform3),
	)
	if err != nil {
		return fmt.Errorf("saving experiment %s: %w", e.ID, err)
	}
	return nil
}

const experimentColumns = `
	id, symbol, created_at, n_states, runs, seeded, attempts, rejected,
	test_start, test_end, bench_sharpe, bench_return, bench_max_drawdown,
	average_return, std_return, average_sharpe, std_sharpe,
	average_max_dd, std_max_dd, prob_1x, prob_2x, prob_3x`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*domain.Experiment, error) {
	var (
		e                    domain.Experiment
		created, start, end  int64
		avgRet, stdRet       sql.NullFloat64
		avgSharpe, stdSharpe sql.NullFloat64
		avgDD, stdDD         sql.NullFloat64
		prob1, prob2, prob3  sql.NullFloat64
	)
	err := row.Scan(
		&e.ID, &e.Symbol, &created, &e.NStates, &e.Runs, &e.Seeded, &e.Attempts, &e.Rejected,
		&start, &end, &e.Benchmark.AnnualizedSharpe, &e.Benchmark.TotalReturn, &e.Benchmark.MaxDrawdown,
		&avgRet, &stdRet, &avgSharpe, &stdSharpe, &avgDD, &stdDD, &prob1, &prob2, &prob3,
	)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.TestStart = time.UnixMilli(start).UTC()
	e.TestEnd = time.UnixMilli(end).UTC()
	e.Benchmark.NumberOfTrades = 1
	e.Summary = domain.Summary{
		AverageReturn:      fromNull(avgRet),
		StdReturn:          fromNull(stdRet),
		AverageSharpe:      fromNull(avgSharpe),
		StdSharpe:          fromNull(stdSharpe),
		AverageMaxDrawdown: fromNull(avgDD),
		StdMaxDrawdown:     fromNull(stdDD),
	}
	e.ProbOutperform1 = fromNull(prob1)
	e.ProbOutperform2 = fromNull(prob2)
	e.ProbOutperform3 = fromNull(prob3)
	return &e, nil
}

// GetExperiment retrieves an experiment by ID.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	e, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading experiment %s: %w", id, err)
	}
	return e, nil
}

// ListExperiments returns the most recent experiments, up to limit.
func (s *SQLiteStore) ListExperiments(ctx context.Context, limit int) ([]domain.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	defer rows.Close()

	var out []domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning experiment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// SaveRuns stores the run results of an experiment in one transaction.
func (s *SQLiteStore) SaveRuns(ctx context.Context, experimentID string, runs []domain.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO runs (
			experiment_id, seed, total_return, annualized_sharpe, max_drawdown, number_of_trades
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range runs {
		if _, err := stmt.ExecContext(ctx, experimentID, r.Seed,
			r.Metrics.TotalReturn, r.Metrics.AnnualizedSharpe, r.Metrics.MaxDrawdown, r.Metrics.NumberOfTrades,
		); err != nil {
			return fmt.Errorf("saving run seed %d: %w", r.Seed, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the runs of an experiment ordered by seed.
func (s *SQLiteStore) ListRuns(ctx context.Context, experimentID string) ([]domain.RunResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seed, total_return, annualized_sharpe, max_drawdown, number_of_trades
		FROM runs WHERE experiment_id = ? ORDER BY seed`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("listing runs for %s: %w", experimentID, err)
	}
	defer rows.Close()

	var out []domain.RunResult
	for rows.Next() {
		var r domain.RunResult
		if err := rows.Scan(&r.Seed,
			&r.Metrics.TotalReturn, &r.Metrics.AnnualizedSharpe, &r.Metrics.MaxDrawdown, &r.Metrics.NumberOfTrades,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullFloat stores NaN as SQL NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
