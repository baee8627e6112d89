package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}
	if bar.Signal != SignalFlat || bar.Position != 0 || bar.Trade != 0 {
		t.Error("expected flat Signal/Position/Trade for zero-value Bar")
	}

	if SignalLong != 1 || SignalShort != -1 {
		t.Errorf("Signal constants = (%d, %d), want (1, -1)", SignalLong, SignalShort)
	}
	if DirectionBuy != "buy" || DirectionSell != "sell" || DirectionNoAction != "no action" {
		t.Error("Direction constants have unexpected values")
	}
	if SideLong != "Long" || SideShort != "Short" {
		t.Error("Side constants have unexpected values")
	}
}

func TestMetricsMapKeys(t *testing.T) {
	m := Metrics{AnnualizedSharpe: 1.5, TotalReturn: 0.2, MaxDrawdown: -0.1, NumberOfTrades: 4}.Map()
	for _, key := range []string{"annualized_sharpe", "total_return", "max_drawdown", "number_of_trades"} {
		if _, ok := m[key]; !ok {
			t.Errorf("Metrics.Map() missing key %q", key)
		}
	}
	if n, ok := m["number_of_trades"].(int); !ok || n != 4 {
		t.Errorf("number_of_trades = %v, want int 4", m["number_of_trades"])
	}
}

func TestSummaryMapKeys(t *testing.T) {
	s := Summary{AverageReturn: 0.1}.Map()
	want := []string{
		"average_return", "std_return",
		"average_sharpe", "std_sharpe",
		"average_max_drawdown", "std_max_drawdown",
	}
	if len(s) != len(want) {
		t.Fatalf("Summary.Map() has %d keys, want %d", len(s), len(want))
	}
	for _, key := range want {
		if _, ok := s[key]; !ok {
			t.Errorf("Summary.Map() missing key %q", key)
		}
	}
}

func TestCloneBarsIsDeep(t *testing.T) {
	orig := []Bar{{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Close:     100,
		Features:  []float64{1, 2, 3},
	}}
	cp := CloneBars(orig)
	cp[0].Close = 200
	cp[0].Features[0] = 99

	if orig[0].Close != 100 {
		t.Errorf("orig Close = %v, want 100", orig[0].Close)
	}
	if orig[0].Features[0] != 1 {
		t.Errorf("orig Features[0] = %v, want 1", orig[0].Features[0])
	}
}

func TestFeatureFrameSlice(t *testing.T) {
	ts := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	f := &FeatureFrame{
		Timestamps: ts,
		Columns:    []string{"ret"},
		Rows:       [][]float64{{1}, {2}, {3}},
	}
	s := f.Slice(1, 3)
	if s.Len() != 2 {
		t.Fatalf("Slice(1,3).Len() = %d, want 2", s.Len())
	}
	if !s.Timestamps[0].Equal(ts[1]) {
		t.Errorf("Slice(1,3).Timestamps[0] = %v, want %v", s.Timestamps[0], ts[1])
	}
	var nilFrame *FeatureFrame
	if nilFrame.Len() != 0 {
		t.Error("nil FeatureFrame Len() should be 0")
	}
}
