// Package builtins provides built-in regime-to-signal mappers that ship with
// regimetrader.
package builtins

import (
	"context"
	"fmt"
	"math"

	"regimetrader/internal/domain"
	"regimetrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RegimeSign)(nil)

// RegimeSign labels every hidden state with the sign of the mean next-period
// log return observed while in that state. Positive states go long. Negative
// states go short when shorting is enabled and stay flat otherwise.
type RegimeSign struct {
	includeShorting bool
}

// NewRegimeSign creates a RegimeSign mapper.
func NewRegimeSign(includeShorting bool) *RegimeSign {
	return &RegimeSign{includeShorting: includeShorting}
}

// Name returns "regime-sign".
func (s *RegimeSign) Name() string {
	return "regime-sign"
}

// Signals returns a copy of bars with State and Signal populated.
func (s *RegimeSign) Signals(_ context.Context, bars []domain.Bar, states []int) ([]domain.Bar, error) {
	if len(bars) != len(states) {
		return nil, fmt.Errorf("regime-sign: %d bars but %d states", len(bars), len(states))
	}
	means := StateMeanReturns(bars, states)

	out := domain.CloneBars(bars)
	for i := range out {
		out[i].State = states[i]
		out[i].Signal = s.SignalFor(means[states[i]])
	}
	return out, nil
}

// SignalFor maps a state's mean next-period return onto a signal. A missing
// mean maps to flat.
func (s *RegimeSign) SignalFor(mean float64) domain.Signal {
	switch {
	case mean > 0:
		return domain.SignalLong
	case mean < 0 && s.includeShorting:
		return domain.SignalShort
	default:
		return domain.SignalFlat
	}
}

// StateMeanReturns returns, per state, the mean of the next bar's log return
// over every bar labelled with that state. The last bar has no next return;
// a state seen only there maps to NaN.
func StateMeanReturns(bars []domain.Bar, states []int) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, st := range states {
		if _, ok := sums[st]; !ok {
			sums[st] = 0
		}
		if i+1 >= len(bars) {
			continue
		}
		sums[st] += bars[i+1].LogRet
		counts[st]++
	}

	means := make(map[int]float64, len(sums))
	for st, sum := range sums {
		if counts[st] == 0 {
			means[st] = math.NaN()
			continue
		}
		means[st] = sum / float64(counts[st])
	}
	return means
}
