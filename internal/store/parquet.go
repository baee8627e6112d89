package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"regimetrader/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ FrameStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and FrameStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// AggregateRecord is the Parquet schema for one Monte Carlo aggregate row.
type AggregateRecord struct {
	Timestamp       int64   `parquet:"timestamp,timestamp(millisecond)"`
	AverageEquity   float64 `parquet:"average_equity"`
	BenchmarkEquity float64 `parquet:"hodl_equity"`
	Open            float64 `parquet:"open"`
	High            float64 `parquet:"high"`
	Low             float64 `parquet:"low"`
	Close           float64 `parquet:"close"`
	Outperforming   bool    `parquet:"outperforming"`
}

// BacktestRecord is the Parquet schema for one augmented backtest bar.
type BacktestRecord struct {
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"`
	Close          float64 `parquet:"close"`
	LogRet         float64 `parquet:"logret"`
	State          int32   `parquet:"state"`
	Signal         int32   `parquet:"signal"`
	Position       int32   `parquet:"position"`
	Trade          int32   `parquet:"trade"`
	Direction      string  `parquet:"direction"`
	Return         float64 `parquet:"returns"`
	StrategyReturn float64 `parquet:"strategy_ret"`
	StrategyEquity float64 `parquet:"strategy_equity"`
	HodlPosition   int32   `parquet:"hodl_position"`
	HodlReturn     float64 `parquet:"hodl_ret"`
	HodlEquity     float64 `parquet:"hodl_equity"`
	Outperforming  bool    `parquet:"outperforming"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
				State:     domain.NoState,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// FrameStore implementation
// ---------------------------------------------------------------------------

// WriteAggregate writes the aggregate frame to
// <DataDir>/experiments/<ID>/aggregate.parquet, replacing any previous file.
func (s *ParquetStore) WriteAggregate(_ context.Context, experimentID string, points []domain.AggregatePoint) error {
	records := make([]AggregateRecord, len(points))
	for i, p := range points {
		records[i] = AggregateRecord{
			Timestamp:       p.Timestamp.UnixMilli(),
			AverageEquity:   p.AverageEquity,
			BenchmarkEquity: p.BenchmarkEquity,
			Open:            p.Open,
			High:            p.High,
			Low:             p.Low,
			Close:           p.Close,
			Outperforming:   p.Outperforming,
		}
	}
	if err := writeParquetFile(s.experimentPath(experimentID, "aggregate"), records); err != nil {
		return fmt.Errorf("writing aggregate for %s: %w", experimentID, err)
	}
	return nil
}

// ReadAggregate reads the aggregate frame of an experiment.
func (s *ParquetStore) ReadAggregate(_ context.Context, experimentID string) ([]domain.AggregatePoint, error) {
	records, err := readParquetFile[AggregateRecord](s.experimentPath(experimentID, "aggregate"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("aggregate %s: %w", experimentID, ErrNotFound)
		}
		return nil, err
	}
	points := make([]domain.AggregatePoint, len(records))
	for i, r := range records {
		points[i] = domain.AggregatePoint{
			Timestamp:       time.UnixMilli(r.Timestamp).UTC(),
			AverageEquity:   r.AverageEquity,
			BenchmarkEquity: r.BenchmarkEquity,
			Open:            r.Open,
			High:            r.High,
			Low:             r.Low,
			Close:           r.Close,
			Outperforming:   r.Outperforming,
		}
	}
	return points, nil
}

// WriteBacktest writes augmented bars to
// <DataDir>/experiments/<ID>/backtest.parquet.
func (s *ParquetStore) WriteBacktest(_ context.Context, experimentID string, bars []domain.Bar) error {
	records := make([]BacktestRecord, len(bars))
	for i, b := range bars {
		records[i] = BacktestRecord{
			Timestamp:      b.Timestamp.UnixMilli(),
			Close:          b.Close,
			LogRet:         b.LogRet,
			State:          int32(b.State),
			Signal:         int32(b.Signal),
			Position:       int32(b.Position),
			Trade:          int32(b.Trade),
			Direction:      string(b.Direction),
			Return:         b.Return,
			StrategyReturn: b.StrategyReturn,
			StrategyEquity: b.StrategyEquity,
			HodlPosition:   int32(b.BenchmarkPosition),
			HodlReturn:     b.BenchmarkReturn,
			HodlEquity:     b.BenchmarkEquity,
			Outperforming:  b.Outperforming,
		}
	}
	if err := writeParquetFile(s.experimentPath(experimentID, "backtest"), records); err != nil {
		return fmt.Errorf("writing backtest for %s: %w", experimentID, err)
	}
	return nil
}

// ReadBacktest reads the augmented bars of an experiment's backtest.
func (s *ParquetStore) ReadBacktest(_ context.Context, experimentID string) ([]domain.Bar, error) {
	records, err := readParquetFile[BacktestRecord](s.experimentPath(experimentID, "backtest"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backtest %s: %w", experimentID, ErrNotFound)
		}
		return nil, err
	}
	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = domain.Bar{
			Timestamp:         time.UnixMilli(r.Timestamp).UTC(),
			Close:             r.Close,
			LogRet:            r.LogRet,
			State:             int(r.State),
			Signal:            domain.Signal(r.Signal),
			Position:          int(r.Position),
			Trade:             int(r.Trade),
			Direction:         domain.Direction(r.Direction),
			Return:            r.Return,
			StrategyReturn:    r.StrategyReturn,
			StrategyEquity:    r.StrategyEquity,
			BenchmarkPosition: int(r.HodlPosition),
			BenchmarkReturn:   r.HodlReturn,
			BenchmarkEquity:   r.HodlEquity,
			Outperforming:     r.Outperforming,
		}
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// experimentPath returns the filesystem path of an experiment frame.
// Layout: <dataDir>/experiments/<ID>/<name>.parquet
func (s *ParquetStore) experimentPath(experimentID, name string) string {
	return filepath.Join(s.DataDir, "experiments", experimentID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
