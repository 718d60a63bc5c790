// Package sparse truncates dense responsibility matrices to their dominant
// components and provides the statistics that downstream accumulation needs
// from the truncated rows.
package sparse

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// Row is a sparse probability vector over Dim components. Indices are
// ascending and unique; every weight is positive.
type Row struct {
	Indices []int     `json:"indices"`
	Weights []float64 `json:"weights"`
	Dim     int       `json:"dim"`
}

// Dot computes the dot product with a dense vector.
func (r Row) Dot(dense []float64) float64 {
	var sum float64
	for i, idx := range r.Indices {
		if idx < len(dense) {
			sum += r.Weights[i] * dense[idx]
		}
	}
	return sum
}

// ToDense converts to a dense float64 slice.
func (r Row) ToDense() []float64 {
	dense := make([]float64, r.Dim)
	for i, idx := range r.Indices {
		if idx < r.Dim {
			dense[idx] = r.Weights[i]
		}
	}
	return dense
}

// Nnz returns the number of stored entries.
func (r Row) Nnz() int {
	return len(r.Indices)
}

// Sum returns the total weight.
func (r Row) Sum() float64 {
	return lo.Sum(r.Weights)
}

// ToMatrix expands rows back into a dense N×k matrix.
func ToMatrix(rows []Row, k int) (*matrix.Matrix, error) {
	m := matrix.New(len(rows), k)
	for n, r := range rows {
		dst := m.Row(n)
		for i, idx := range r.Indices {
			if idx < 0 || idx >= k {
				return nil, fmt.Errorf("sparse: row %d index %d outside [0, %d): %w", n, idx, k, matrix.ErrDimensionMismatch)
			}
			dst[idx] = r.Weights[i]
		}
	}
	return m, nil
}
