package strategy

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"regimetrader/internal/domain"
)

// AnnualizationDays is the number of bars per year. Bars are assumed to be
// daily with no trading-day gaps.
const AnnualizationDays = 365

// ComputeMetrics summarises one equity curve of augmented bars. The strategy
// curve uses strategy returns and the summed trade sizes; the benchmark curve
// uses raw returns and reports a single trade by convention.
func ComputeMetrics(bars []domain.Bar, curve domain.Curve) domain.Metrics {
	if len(bars) == 0 {
		return domain.Metrics{}
	}
	returns := make([]float64, len(bars))
	equity := make([]float64, len(bars))
	trades := 0
	for i, b := range bars {
		if curve == domain.CurveBenchmark {
			returns[i] = b.Return
			equity[i] = b.BenchmarkEquity
		} else {
			returns[i] = b.StrategyReturn
			equity[i] = b.StrategyEquity
			trades += b.Trade
		}
	}
	if curve == domain.CurveBenchmark {
		trades = 1
	}

	return domain.Metrics{
		AnnualizedSharpe: AnnualizedSharpe(returns),
		TotalReturn:      equity[len(equity)-1]/equity[0] - 1,
		MaxDrawdown:      MaxDrawdown(equity),
		NumberOfTrades:   trades,
	}
}

// AnnualizedSharpe returns mean/sample-stddev scaled by sqrt(365). It is 0
// when fewer than two returns are given or the returns have no dispersion.
func AnnualizedSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(AnnualizationDays)
}

// MaxDrawdown returns the deepest peak-to-trough decline of equity as a
// non-positive fraction.
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if dd := 1 - e/peak; dd > worst {
			worst = dd
		}
	}
	return -worst
}
