// Package hmm implements scaled forward-backward inference and Viterbi
// decoding for a discrete-state Hidden Markov Model over precomputed emission
// log-likelihoods.
package hmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// stochasticTol is how far a probability vector may drift from summing to one.
const stochasticTol = 1e-6

// TransitionModel holds the initial-state distribution and the K×K transition
// matrix. It is immutable after construction and safe for concurrent reads.
type TransitionModel struct {
	k     int
	init  []float64
	trans []float64 // row-major K×K, trans[i*k+j] = P(z_{t+1}=j | z_t=i)
}

// NewTransitionModel validates and copies init (length K) and trans (K×K).
func NewTransitionModel(init []float64, trans *matrix.Matrix) (*TransitionModel, error) {
	k := len(init)
	if k < 1 {
		return nil, fmt.Errorf("hmm: transition model needs at least one state: %w", matrix.ErrInvalidArgument)
	}
	if err := trans.Validate(); err != nil {
		return nil, fmt.Errorf("hmm: transition matrix: %w", err)
	}
	if trans.Rows != k || trans.Cols != k {
		return nil, fmt.Errorf("hmm: transition matrix is %dx%d, want %dx%d: %w",
			trans.Rows, trans.Cols, k, k, matrix.ErrDimensionMismatch)
	}
	if err := checkDistribution(init); err != nil {
		return nil, fmt.Errorf("hmm: initial distribution: %w", err)
	}
	for i := range k {
		if err := checkDistribution(trans.Row(i)); err != nil {
			return nil, fmt.Errorf("hmm: transition row %d: %w", i, err)
		}
	}
	return &TransitionModel{
		k:     k,
		init:  append([]float64(nil), init...),
		trans: append([]float64(nil), trans.Data...),
	}, nil
}

// NewTransitionModelFromRows is a convenience wrapper over nested slices.
func NewTransitionModelFromRows(init []float64, trans [][]float64) (*TransitionModel, error) {
	m, err := matrix.FromRows(trans)
	if err != nil {
		return nil, fmt.Errorf("hmm: transition matrix: %w", err)
	}
	return NewTransitionModel(init, m)
}

func checkDistribution(p []float64) error {
	for i, v := range p {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("entry %d = %v: %w", i, v, matrix.ErrInvalidArgument)
		}
	}
	if s := floats.Sum(p); math.Abs(s-1) > stochasticTol {
		return fmt.Errorf("sums to %v: %w", s, matrix.ErrInvalidArgument)
	}
	return nil
}

// NumStates returns K.
func (m *TransitionModel) NumStates() int {
	return m.k
}

// Init returns a copy of the initial-state distribution.
func (m *TransitionModel) Init() []float64 {
	return append([]float64(nil), m.init...)
}

// Trans returns a copy of the transition matrix.
func (m *TransitionModel) Trans() *matrix.Matrix {
	out := matrix.New(m.k, m.k)
	copy(out.Data, m.trans)
	return out
}

// TransAt returns P(z_{t+1}=j | z_t=i).
func (m *TransitionModel) TransAt(i, j int) float64 {
	return m.trans[i*m.k+j]
}

func (m *TransitionModel) transRow(i int) []float64 {
	return m.trans[i*m.k : (i+1)*m.k]
}
