// Package regime defines the hidden-state model contract consumed by the
// Monte Carlo layer and ships a diagonal-covariance Gaussian HMM.
package regime

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrShape is returned for malformed feature input. It is never retried.
	ErrShape = errors.New("regime: malformed feature matrix")

	// ErrNotFitted is returned when Predict is called before a successful Fit.
	ErrNotFitted = errors.New("regime: model must be fitted before prediction")

	// ErrFitFailed marks a fit that produced no usable model, such as a
	// likelihood that became NaN. Callers may retry with another seed.
	ErrFitFailed = errors.New("regime: fit failed")
)

// Monitor reports the convergence state of the last fit.
type Monitor struct {
	Converged bool
	Iter      int
	History   []float64
}

// Model is a hidden-state model over rows of numeric features.
type Model interface {
	// Fit estimates the model on X and returns the decoded state of every row.
	Fit(ctx context.Context, X [][]float64) ([]int, error)

	// Predict decodes the state of every row of X.
	Predict(X [][]float64) ([]int, error)

	// Monitor returns the convergence monitor of the last fit.
	Monitor() Monitor
}

// Factory builds a fresh, unfitted model for one attempt.
type Factory func(seed int64) Model

// ----------------------------------------------------------------------------
// Fit outcome
// ----------------------------------------------------------------------------

// FitStatus classifies a fit attempt.
type FitStatus int

const (
	FitConverged FitStatus = iota
	FitNotConverged
	FitFailed
)

func (s FitStatus) String() string {
	switch s {
	case FitConverged:
		return "converged"
	case FitNotConverged:
		return "not_converged"
	case FitFailed:
		return "failed"
	default:
		return fmt.Sprintf("FitStatus(%d)", int(s))
	}
}

// FitOutcome is the tagged result of one fit attempt. LastLL and Delta are
// set for FitNotConverged; Err is set for FitFailed.
type FitOutcome struct {
	Status FitStatus
	LastLL float64
	Delta  float64
	Err    error
}

// Retryable reports whether another seed should be tried.
func (o FitOutcome) Retryable() bool {
	return o.Status != FitConverged
}

// Fit runs m.Fit on X and classifies the result. Only ErrFitFailed and a
// non-converged monitor are folded into the outcome; any other error is
// returned as fatal.
func Fit(ctx context.Context, m Model, X [][]float64) (FitOutcome, error) {
	if _, err := m.Fit(ctx, X); err != nil {
		if errors.Is(err, ErrFitFailed) {
			return FitOutcome{Status: FitFailed, Err: err}, nil
		}
		return FitOutcome{}, err
	}

	mon := m.Monitor()
	if mon.Converged {
		return FitOutcome{Status: FitConverged}, nil
	}
	out := FitOutcome{Status: FitNotConverged}
	if n := len(mon.History); n > 0 {
		out.LastLL = mon.History[n-1]
		if n > 1 {
			out.Delta = mon.History[n-1] - mon.History[n-2]
		}
	}
	return out, nil
}
