package builtins

import (
	"context"
	"math"
	"testing"

	"regimetrader/internal/domain"
)

func barsWithLogRets(rets ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(rets))
	for i, r := range rets {
		bars[i] = domain.Bar{LogRet: r, State: domain.NoState}
	}
	return bars
}

func TestStateMeanReturns(t *testing.T) {
	bars := barsWithLogRets(0, 0.02, -0.01, 0.04, -0.03)
	states := []int{0, 1, 0, 1, 2}

	means := StateMeanReturns(bars, states)

	// state 0 sees next returns 0.02 and 0.04, state 1 sees -0.01 and -0.03.
	if math.Abs(means[0]-0.03) > 1e-12 {
		t.Errorf("means[0] = %v, want 0.03", means[0])
	}
	if math.Abs(means[1]+0.02) > 1e-12 {
		t.Errorf("means[1] = %v, want -0.02", means[1])
	}
	if !math.IsNaN(means[2]) {
		t.Errorf("means[2] = %v, want NaN for a state only seen on the last bar", means[2])
	}
}

func TestRegimeSignSignals(t *testing.T) {
	bars := barsWithLogRets(0, 0.02, -0.01, 0.04, -0.03)
	states := []int{0, 1, 0, 1, 2}

	tests := []struct {
		name     string
		shorting bool
		want     []domain.Signal
	}{
		{"long only", false, []domain.Signal{1, 0, 1, 0, 0}},
		{"with shorting", true, []domain.Signal{1, -1, 1, -1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewRegimeSign(tt.shorting).Signals(context.Background(), bars, states)
			if err != nil {
				t.Fatalf("Signals: %v", err)
			}
			for i, b := range out {
				if b.Signal != tt.want[i] {
					t.Errorf("Signal[%d] = %d, want %d", i, b.Signal, tt.want[i])
				}
				if b.State != states[i] {
					t.Errorf("State[%d] = %d, want %d", i, b.State, states[i])
				}
			}
			if bars[0].State != domain.NoState {
				t.Error("Signals mutated its input bars")
			}
		})
	}
}

func TestRegimeSignLengthMismatch(t *testing.T) {
	_, err := NewRegimeSign(true).Signals(context.Background(), barsWithLogRets(0, 0.1), []int{0})
	if err == nil {
		t.Error("Signals with mismatched lengths returned nil error")
	}
}

func TestRegimeSignName(t *testing.T) {
	if got := NewRegimeSign(false).Name(); got != "regime-sign" {
		t.Errorf("Name() = %q, want %q", got, "regime-sign")
	}
}
