package experiment

import (
	"context"
	"fmt"
	"time"

	"regimetrader/internal/domain"
	"regimetrader/internal/features"
	"regimetrader/internal/regime"
	"regimetrader/internal/strategy/builtins"
)

// Latest is the next-period recommendation for the most recent bar.
type Latest struct {
	Timestamp time.Time
	State     int
	// MeanReturn is the state's mean next-period log return over history.
	MeanReturn float64
	Signal     domain.Signal
	Converged  bool
}

// Action renders the signal the way operators read it.
func (l Latest) Action() string {
	switch l.Signal {
	case domain.SignalLong:
		return "BUY/HOLD"
	case domain.SignalShort:
		return "SELL/SHORT"
	default:
		return "SELL/STAY NEUTRAL"
	}
}

// LatestSignal fits one model with req.Seed on every available feature row
// and reports the signal of the last bar. A fit that does not converge is
// still used; only a failed fit is an error.
func (r *Runner) LatestSignal(ctx context.Context, req Request) (*Latest, error) {
	bars, err := r.LoadBars(ctx, req)
	if err != nil {
		return nil, err
	}
	featBars, frame, err := features.NewEngineer(req.Features, r.logger()).Build(bars)
	if err != nil {
		return nil, err
	}

	m := r.factory(req)(req.Seed)
	outcome, err := regime.Fit(ctx, m, frame.Rows)
	if err != nil {
		return nil, err
	}
	if outcome.Status == regime.FitFailed {
		return nil, fmt.Errorf("fit: %w", outcome.Err)
	}
	if outcome.Status == regime.FitNotConverged {
		r.logger().Warn("model did not converge, using last estimate",
			"last_ll", outcome.LastLL, "delta", outcome.Delta)
	}

	states, err := m.Predict(frame.Rows)
	if err != nil {
		return nil, err
	}

	mapper := builtins.NewRegimeSign(req.IncludeShorting)
	means := builtins.StateMeanReturns(featBars, states)
	last := len(states) - 1
	mean := means[states[last]]

	return &Latest{
		Timestamp:  featBars[last].Timestamp,
		State:      states[last],
		MeanReturn: mean,
		Signal:     mapper.SignalFor(mean),
		Converged:  outcome.Status == regime.FitConverged,
	}, nil
}
