package regime

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Compile-time interface check.
var _ Model = (*GaussianHMM)(nil)

// HMMConfig configures a GaussianHMM.
type HMMConfig struct {
	NStates  int     `yaml:"n_states"`
	MaxIter  int     `yaml:"max_iter"`
	Tol      float64 `yaml:"tol"`
	MinCovar float64 `yaml:"min_covar"`
}

// DefaultHMMConfig returns the defaults used when fields are left zero.
func DefaultHMMConfig() HMMConfig {
	return HMMConfig{
		NStates:  14,
		MaxIter:  500,
		Tol:      1e-2,
		MinCovar: 1e-3,
	}
}

func (c HMMConfig) withDefaults() HMMConfig {
	d := DefaultHMMConfig()
	if c.NStates <= 0 {
		c.NStates = d.NStates
	}
	if c.MaxIter <= 0 {
		c.MaxIter = d.MaxIter
	}
	if c.Tol <= 0 {
		c.Tol = d.Tol
	}
	if c.MinCovar <= 0 {
		c.MinCovar = d.MinCovar
	}
	return c
}

// GaussianHMM is a hidden Markov model with diagonal-covariance Gaussian
// emissions, fitted by Baum-Welch on standardised features and decoded with
// Viterbi.
type GaussianHMM struct {
	cfg  HMMConfig
	seed int64

	scaler    *Scaler
	startProb []float64
	transMat  [][]float64
	means     [][]float64
	vars      [][]float64
	monitor   Monitor
}

// NewGaussianHMM creates an unfitted model seeded with seed.
func NewGaussianHMM(cfg HMMConfig, seed int64) *GaussianHMM {
	return &GaussianHMM{cfg: cfg.withDefaults(), seed: seed}
}

// NewHMMFactory returns a Factory producing GaussianHMMs with cfg.
func NewHMMFactory(cfg HMMConfig) Factory {
	return func(seed int64) Model {
		return NewGaussianHMM(cfg, seed)
	}
}

// NStates returns the number of hidden states.
func (h *GaussianHMM) NStates() int {
	return h.cfg.NStates
}

// Monitor returns the convergence monitor of the last fit.
func (h *GaussianHMM) Monitor() Monitor {
	m := h.monitor
	m.History = append([]float64(nil), h.monitor.History...)
	return m
}

// Fit estimates the model on X and returns the Viterbi path over X.
func (h *GaussianHMM) Fit(ctx context.Context, X [][]float64) ([]int, error) {
	if _, err := checkShape(X, 0); err != nil {
		return nil, err
	}
	k := h.cfg.NStates
	if len(X) < k {
		return nil, fmt.Errorf("%w: %d rows for %d states", ErrShape, len(X), k)
	}

	scaler, err := FitScaler(X)
	if err != nil {
		return nil, err
	}
	Z, err := scaler.Transform(X)
	if err != nil {
		return nil, err
	}

	h.scaler = nil
	h.monitor = Monitor{}
	h.init(Z)

	for iter := 0; iter < h.cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ll := h.emStep(Z)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return nil, fmt.Errorf("%w: log-likelihood %v at iteration %d", ErrFitFailed, ll, iter)
		}
		h.monitor.History = append(h.monitor.History, ll)
		h.monitor.Iter = iter + 1
		if n := len(h.monitor.History); n >= 2 && h.monitor.History[n-1]-h.monitor.History[n-2] < h.cfg.Tol {
			h.monitor.Converged = true
			break
		}
	}

	h.scaler = scaler
	return h.viterbi(Z), nil
}

// Predict decodes the most likely state sequence of X.
func (h *GaussianHMM) Predict(X [][]float64) ([]int, error) {
	if h.scaler == nil {
		return nil, ErrNotFitted
	}
	Z, err := h.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return h.viterbi(Z), nil
}

// init draws initial means from distinct rows of Z and starts every state
// with unit variance and uniform start and transition probabilities.
func (h *GaussianHMM) init(Z [][]float64) {
	k, d := h.cfg.NStates, len(Z[0])
	rng := rand.New(rand.NewPCG(uint64(h.seed), 0x9e3779b97f4a7c15))

	h.startProb = make([]float64, k)
	h.transMat = make([][]float64, k)
	h.means = make([][]float64, k)
	h.vars = make([][]float64, k)
	picks := rng.Perm(len(Z))[:k]
	for i := 0; i < k; i++ {
		h.startProb[i] = 1 / float64(k)
		h.transMat[i] = make([]float64, k)
		for j := range h.transMat[i] {
			h.transMat[i][j] = 1 / float64(k)
		}
		h.means[i] = append([]float64(nil), Z[picks[i]]...)
		h.vars[i] = make([]float64, d)
		for j := range h.vars[i] {
			h.vars[i][j] = 1 + h.cfg.MinCovar
		}
	}
}

// logEmissions returns log p(z_t | state) for every row and state.
func (h *GaussianHMM) logEmissions(Z [][]float64) [][]float64 {
	k := h.cfg.NStates
	out := make([][]float64, len(Z))
	for t, z := range Z {
		row := make([]float64, k)
		for s := 0; s < k; s++ {
			var lp float64
			for j, v := range z {
				lp += distuv.Normal{Mu: h.means[s][j], Sigma: math.Sqrt(h.vars[s][j])}.LogProb(v)
			}
			row[s] = lp
		}
		out[t] = row
	}
	return out
}

// emStep runs one scaled forward-backward pass, re-estimates every parameter
// and returns the log-likelihood under the parameters it started from.
func (h *GaussianHMM) emStep(Z [][]float64) float64 {
	k, n, d := h.cfg.NStates, len(Z), len(Z[0])
	logB := h.logEmissions(Z)

	// b holds emissions rescaled per row by their max to avoid underflow.
	b := make([][]float64, n)
	shift := make([]float64, n)
	for t := range logB {
		shift[t] = floats.Max(logB[t])
		b[t] = make([]float64, k)
		for s, lp := range logB[t] {
			b[t][s] = math.Exp(lp - shift[t])
		}
	}

	alpha := make([][]float64, n)
	c := make([]float64, n)
	var ll float64
	for t := 0; t < n; t++ {
		alpha[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			var p float64
			if t == 0 {
				p = h.startProb[j]
			} else {
				for i := 0; i < k; i++ {
					p += alpha[t-1][i] * h.transMat[i][j]
				}
			}
			alpha[t][j] = p * b[t][j]
		}
		c[t] = floats.Sum(alpha[t])
		if c[t] == 0 {
			return math.NaN()
		}
		floats.Scale(1/c[t], alpha[t])
		ll += math.Log(c[t]) + shift[t]
	}

	beta := make([][]float64, n)
	beta[n-1] = make([]float64, k)
	for i := range beta[n-1] {
		beta[n-1][i] = 1
	}
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			var s float64
			for j := 0; j < k; j++ {
				s += h.transMat[i][j] * b[t+1][j] * beta[t+1][j]
			}
			beta[t][i] = s / c[t+1]
		}
	}

	gamma := make([][]float64, n)
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		floats.MulTo(gamma[t], alpha[t], beta[t])
		if sum := floats.Sum(gamma[t]); sum > 0 {
			floats.Scale(1/sum, gamma[t])
		}
	}

	xiSum := make([][]float64, k)
	for i := range xiSum {
		xiSum[i] = make([]float64, k)
	}
	for t := 0; t < n-1; t++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xiSum[i][j] += alpha[t][i] * h.transMat[i][j] * b[t+1][j] * beta[t+1][j] / c[t+1]
			}
		}
	}

	copy(h.startProb, gamma[0])
	for i := 0; i < k; i++ {
		if rowSum := floats.Sum(xiSum[i]); rowSum > 0 {
			for j := 0; j < k; j++ {
				h.transMat[i][j] = xiSum[i][j] / rowSum
			}
		}
	}

	for s := 0; s < k; s++ {
		var weight float64
		mean := make([]float64, d)
		for t := 0; t < n; t++ {
			weight += gamma[t][s]
			floats.AddScaled(mean, gamma[t][s], Z[t])
		}
		// A state that owns no probability mass keeps its parameters.
		if weight < 1e-10 {
			continue
		}
		floats.Scale(1/weight, mean)
		variance := make([]float64, d)
		for t := 0; t < n; t++ {
			for j := 0; j < d; j++ {
				diff := Z[t][j] - mean[j]
				variance[j] += gamma[t][s] * diff * diff
			}
		}
		for j := range variance {
			variance[j] = variance[j]/weight + h.cfg.MinCovar
		}
		h.means[s] = mean
		h.vars[s] = variance
	}

	return ll
}

// viterbi returns the most likely state path of Z.
func (h *GaussianHMM) viterbi(Z [][]float64) []int {
	k, n := h.cfg.NStates, len(Z)
	logB := h.logEmissions(Z)

	logA := make([][]float64, k)
	for i := range logA {
		logA[i] = make([]float64, k)
		for j := range logA[i] {
			logA[i][j] = math.Log(h.transMat[i][j])
		}
	}

	delta := make([]float64, k)
	for s := 0; s < k; s++ {
		delta[s] = math.Log(h.startProb[s]) + logB[0][s]
	}
	back := make([][]int, n)
	next := make([]float64, k)
	for t := 1; t < n; t++ {
		back[t] = make([]int, k)
		for j := 0; j < k; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < k; i++ {
				if v := delta[i] + logA[i][j]; v > best {
					best, arg = v, i
				}
			}
			next[j] = best + logB[t][j]
			back[t][j] = arg
		}
		delta, next = next, delta
	}

	path := make([]int, n)
	path[n-1] = floats.MaxIdx(delta)
	for t := n - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path
}
