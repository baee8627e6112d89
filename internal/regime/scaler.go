package regime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardises each column to zero mean and unit population variance.
// Columns with no variance are centred but not scaled.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes column statistics over X.
func FitScaler(X [][]float64) (*Scaler, error) {
	d, err := checkShape(X, 0)
	if err != nil {
		return nil, err
	}
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform returns a standardised copy of X.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	if _, err := checkShape(X, len(s.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, len(row))
		for j, v := range row {
			z[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = z
	}
	return out, nil
}

// checkShape validates that X is a non-empty rectangular matrix of finite
// values. When dims is non-zero every row must have that many columns.
func checkShape(X [][]float64, dims int) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: no rows", ErrShape)
	}
	d := len(X[0])
	if d == 0 {
		return 0, fmt.Errorf("%w: no columns", ErrShape)
	}
	if dims != 0 && d != dims {
		return 0, fmt.Errorf("%w: got %d columns, want %d", ErrShape, d, dims)
	}
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), d)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: non-finite value at row %d column %d", ErrShape, i, j)
			}
		}
	}
	return d, nil
}
