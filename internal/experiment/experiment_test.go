package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"regimetrader/internal/config"
	"regimetrader/internal/domain"
	"regimetrader/internal/montecarlo"
	"regimetrader/internal/regime"
	"regimetrader/internal/store"
	"regimetrader/internal/strategy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signModel labels each row by the sign of its first feature (the log
// return) and always converges.
type signModel struct{ fitted bool }

func (m *signModel) Fit(_ context.Context, X [][]float64) ([]int, error) {
	m.fitted = true
	return m.Predict(X)
}

func (m *signModel) Predict(X [][]float64) ([]int, error) {
	out := make([]int, len(X))
	for i, row := range X {
		if row[0] < 0 {
			out[i] = 1
		}
	}
	return out, nil
}

func (m *signModel) Monitor() regime.Monitor {
	return regime.Monitor{Converged: m.fitted, Iter: 1}
}

func signFactory(int64) regime.Model { return &signModel{} }

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// writeCSV writes n daily bars alternating between 10-day rising and falling
// blocks.
func writeCSV(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	price := 100.0
	for i := 0; i < n; i++ {
		lr := -0.01
		if (i/10)%2 == 0 {
			lr = 0.012
		}
		lr += 0.003 * math.Sin(float64(i))
		open := price
		price *= math.Exp(lr)
		fmt.Fprintf(&b, "%s,%.6f,%.6f,%.6f,%.6f,%d\n",
			day0.AddDate(0, 0, i).Format("2006-01-02"), open, math.Max(open, price)*1.001, math.Min(open, price)*0.999, price, 1000+i)
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseRequest(csv string) Request {
	return Request{
		Symbol:          "BTC-USD",
		CSVPath:         csv,
		SplitDate:       day0.AddDate(0, 0, 140),
		Embargo:         2,
		IncludeShorting: true,
		Backtest:        strategy.DefaultConfig(),
		MonteCarlo:      montecarlo.Config{Runs: 3, Seeded: true, Workers: 1},
		Seed:            7,
	}
}

func TestRunPersistsExperiment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	db, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()

	req := baseRequest(writeCSV(t, 200))
	req.LogTrades = true
	req.TradesCSV = filepath.Join(dir, "trades.csv")

	r := &Runner{Bars: ps, Frames: ps, Runs: db, Factory: signFactory, Logger: quietLogger()}
	out, err := r.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	exp := out.Experiment
	if exp.ID == "" || exp.Runs != 3 || exp.Attempts != 3 || exp.Rejected != 0 {
		t.Errorf("experiment = %+v", exp)
	}
	if !exp.TestStart.Equal(req.SplitDate) {
		t.Errorf("TestStart = %v, want %v", exp.TestStart, req.SplitDate)
	}
	for i, p := range []float64{exp.ProbOutperform1, exp.ProbOutperform2, exp.ProbOutperform3} {
		if p < 0 || p > 1 {
			t.Errorf("probability %dx = %v, want within [0, 1]", i+1, p)
		}
	}
	if out.Ledger == nil {
		t.Fatal("Ledger = nil with LogTrades set")
	}

	saved, err := db.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if saved.Symbol != "BTC-USD" || saved.Runs != 3 {
		t.Errorf("saved experiment = %+v", saved)
	}
	runs, err := db.ListRuns(ctx, exp.ID)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("len(runs) = %d, want 3", len(runs))
	}

	agg, err := ps.ReadAggregate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("ReadAggregate: %v", err)
	}
	if len(agg) != len(out.Result.Aggregate) {
		t.Errorf("len(aggregate) = %d, want %d", len(agg), len(out.Result.Aggregate))
	}
	bt, err := ps.ReadBacktest(ctx, exp.ID)
	if err != nil {
		t.Fatalf("ReadBacktest: %v", err)
	}
	if len(bt) != len(out.Last.Bars) {
		t.Errorf("len(backtest) = %d, want %d", len(bt), len(out.Last.Bars))
	}

	ingested, err := ps.ReadBars(ctx, "BTC-USD", day0, day0.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(ingested) != 200 {
		t.Errorf("ingested bars = %d, want 200", len(ingested))
	}

	if _, err := os.Stat(req.TradesCSV); err != nil {
		t.Errorf("trades csv not written: %v", err)
	}
}

func TestRunReadsFromBarStore(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	bars, err := store.LoadBarsCSV(writeCSV(t, 200), "BTC-USD")
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatal(err)
	}

	req := baseRequest("")
	req.Start = day0
	req.End = day0.AddDate(0, 0, 199)
	r := &Runner{Bars: ps, Factory: signFactory, Logger: quietLogger()}
	out, err := r.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Experiment.Runs != 3 {
		t.Errorf("Runs = %d, want 3", out.Experiment.Runs)
	}

	req.Symbol = "ETH-USD"
	_, err = r.Run(ctx, req)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Run(ETH-USD) error = %v, want ErrNoData", err)
	}
	if !strings.Contains(err.Error(), "stored: BTC-USD") {
		t.Errorf("error %q does not list stored symbols", err)
	}
}

func TestRunZeroRuns(t *testing.T) {
	req := baseRequest(writeCSV(t, 200))
	req.MonteCarlo.Runs = 0
	r := &Runner{Factory: signFactory, Logger: quietLogger()}

	out, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	exp := out.Experiment
	if exp.Runs != 0 {
		t.Errorf("Runs = %d, want 0", exp.Runs)
	}
	if !math.IsNaN(exp.ProbOutperform1) || !math.IsNaN(exp.Summary.AverageReturn) {
		t.Errorf("prob = %v, avg return = %v, want NaN", exp.ProbOutperform1, exp.Summary.AverageReturn)
	}
	for _, p := range out.Result.Aggregate {
		if !math.IsNaN(p.AverageEquity) {
			t.Fatalf("aggregate equity = %v, want NaN", p.AverageEquity)
		}
	}
}

func TestRunErrors(t *testing.T) {
	r := &Runner{Factory: signFactory, Logger: quietLogger()}

	if _, err := r.Run(context.Background(), Request{Symbol: "NONE"}); !errors.Is(err, ErrNoData) {
		t.Errorf("Run without data error = %v, want ErrNoData", err)
	}

	req := baseRequest(writeCSV(t, 200))
	req.Strategy = "momentum"
	if _, err := r.Run(context.Background(), req); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Run with unknown strategy error = %v, want ErrUnknownStrategy", err)
	}
}

func TestLatestSignal(t *testing.T) {
	req := baseRequest(writeCSV(t, 200))
	r := &Runner{Factory: signFactory, Logger: quietLogger()}

	got, err := r.LatestSignal(context.Background(), req)
	if err != nil {
		t.Fatalf("LatestSignal: %v", err)
	}
	if want := day0.AddDate(0, 0, 199); !got.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
	}
	if !got.Converged {
		t.Error("Converged = false, want true")
	}
	var want domain.Signal
	switch {
	case got.MeanReturn > 0:
		want = domain.SignalLong
	case got.MeanReturn < 0:
		want = domain.SignalShort
	}
	if got.Signal != want {
		t.Errorf("Signal = %v for mean %v, want %v", got.Signal, got.MeanReturn, want)
	}
}

func TestLatestAction(t *testing.T) {
	tests := []struct {
		sig  domain.Signal
		want string
	}{
		{domain.SignalLong, "BUY/HOLD"},
		{domain.SignalFlat, "SELL/STAY NEUTRAL"},
		{domain.SignalShort, "SELL/SHORT"},
	}
	for _, tt := range tests {
		if got := (Latest{Signal: tt.sig}).Action(); got != tt.want {
			t.Errorf("Action(%v) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestRequestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Symbol = "ETH-USD"
	cfg.Data.SplitDate = "2024-01-01"
	cfg.Data.StartDate = "2020-01-01"
	cfg.Storage.TradesCSV = "out/trades.csv"

	req, err := RequestFromConfig(cfg)
	if err != nil {
		t.Fatalf("RequestFromConfig: %v", err)
	}
	if req.Symbol != "ETH-USD" || req.SplitDate.Year() != 2024 || req.Start.Year() != 2020 {
		t.Errorf("request = %+v", req)
	}
	if !req.LogTrades || req.Model.NStates != 14 || req.MonteCarlo.Runs != 100 {
		t.Errorf("LogTrades = %v, NStates = %d, Runs = %d", req.LogTrades, req.Model.NStates, req.MonteCarlo.Runs)
	}

	cfg.Data.SplitDate = "not a date"
	if _, err := RequestFromConfig(cfg); err == nil {
		t.Error("RequestFromConfig with bad split date returned nil error")
	}
}
