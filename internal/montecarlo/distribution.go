package montecarlo

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// KDE is a one-dimensional Gaussian kernel density estimate with Scott's
// rule bandwidth. With fewer than two distinct samples the bandwidth is 0 and
// the estimate degenerates to the empirical step distribution.
type KDE struct {
	samples   []float64
	bandwidth float64
}

// NewKDE fits a KDE over samples.
func NewKDE(samples []float64) (*KDE, error) {
	if len(samples) == 0 {
		return nil, ErrNoSuccessfulRuns
	}
	k := &KDE{samples: append([]float64(nil), samples...)}
	if len(samples) > 1 {
		std := stat.StdDev(samples, nil)
		if std > 0 && !math.IsNaN(std) {
			k.bandwidth = std * math.Pow(float64(len(samples)), -0.2)
		}
	}
	return k, nil
}

// Bandwidth returns the kernel standard deviation.
func (k *KDE) Bandwidth() float64 {
	return k.bandwidth
}

// PDF returns the density at x. A degenerate estimate has infinite density
// on its samples and zero elsewhere.
func (k *KDE) PDF(x float64) float64 {
	if k.bandwidth == 0 {
		for _, s := range k.samples {
			if s == x {
				return math.Inf(1)
			}
		}
		return 0
	}
	kernel := distuv.Normal{Mu: 0, Sigma: k.bandwidth}
	var sum float64
	for _, s := range k.samples {
		sum += kernel.Prob(x - s)
	}
	return sum / float64(len(k.samples))
}

// CDF returns the probability mass at or below x.
func (k *KDE) CDF(x float64) float64 {
	var sum float64
	if k.bandwidth == 0 {
		for _, s := range k.samples {
			if s <= x {
				sum++
			}
		}
		return sum / float64(len(k.samples))
	}
	kernel := distuv.Normal{Mu: 0, Sigma: k.bandwidth}
	for _, s := range k.samples {
		sum += kernel.CDF(x - s)
	}
	return sum / float64(len(k.samples))
}

// SF returns the survival function 1 - CDF(x), the probability of an
// outcome above x.
func (k *KDE) SF(x float64) float64 {
	return 1 - k.CDF(x)
}
