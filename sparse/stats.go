package sparse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// ColumnSums returns the total weight assigned to each of k components.
func ColumnSums(rows []Row, k int) ([]float64, error) {
	out := make([]float64, k)
	for n, r := range rows {
		for i, idx := range r.Indices {
			if idx < 0 || idx >= k {
				return nil, fmt.Errorf("sparse: row %d index %d outside [0, %d): %w", n, idx, k, matrix.ErrDimensionMismatch)
			}
			out[idx] += r.Weights[i]
		}
	}
	return out, nil
}

// RLogR returns, for each column k, the sum over rows of r*log(r), taking
// 0*log(0) as 0.
func RLogR(resp *matrix.Matrix) []float64 {
	out := make([]float64, resp.Cols)
	for n := range resp.Rows {
		for k, r := range resp.Row(n) {
			if r > 0 {
				out[k] += r * math.Log(r)
			}
		}
	}
	return out
}

// RLogRSparse is RLogR over sparse rows of width k.
func RLogRSparse(rows []Row, k int) ([]float64, error) {
	out := make([]float64, k)
	for n, r := range rows {
		for i, idx := range r.Indices {
			if idx < 0 || idx >= k {
				return nil, fmt.Errorf("sparse: row %d index %d outside [0, %d): %w", n, idx, k, matrix.ErrDimensionMismatch)
			}
			if w := r.Weights[i]; w > 0 {
				out[idx] += w * math.Log(w)
			}
		}
	}
	return out, nil
}

// Entropy returns the total entropy -sum(r*log(r)) of a set of per-column
// RLogR values.
func Entropy(rlogr []float64) float64 {
	return -floats.Sum(rlogr)
}
