package montecarlo

import (
	"gonum.org/v1/gonum/stat"

	"regimetrader/internal/domain"
)

// Summarize returns the sample mean and standard deviation (N-1
// denominator) of each per-run metric. A single run yields NaN deviations.
func Summarize(runs []domain.RunResult) (domain.Summary, error) {
	if len(runs) == 0 {
		return domain.Summary{}, ErrNoSuccessfulRuns
	}
	returns := make([]float64, len(runs))
	sharpes := make([]float64, len(runs))
	drawdowns := make([]float64, len(runs))
	for i, r := range runs {
		returns[i] = r.Metrics.TotalReturn
		sharpes[i] = r.Metrics.AnnualizedSharpe
		drawdowns[i] = r.Metrics.MaxDrawdown
	}

	var s domain.Summary
	s.AverageReturn, s.StdReturn = stat.MeanStdDev(returns, nil)
	s.AverageSharpe, s.StdSharpe = stat.MeanStdDev(sharpes, nil)
	s.AverageMaxDrawdown, s.StdMaxDrawdown = stat.MeanStdDev(drawdowns, nil)
	return s, nil
}
