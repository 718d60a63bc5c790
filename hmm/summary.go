package hmm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// Summary accumulates expected sufficient statistics over many sequences.
type Summary struct {
	StartCount  []float64      `json:"start_count"` // [K] sum of P(z_0=k | x)
	StateCount  []float64      `json:"state_count"` // [K] expected visits
	TransCount  *matrix.Matrix `json:"trans_count"` // [K][K]
	LogMarginal float64        `json:"log_marginal"`
	Sequences   int            `json:"sequences"`
}

// NewSummary returns an empty summary for k states.
func NewSummary(k int) *Summary {
	return &Summary{
		StartCount: make([]float64, k),
		StateCount: make([]float64, k),
		TransCount: matrix.New(k, k),
	}
}

// NumStates returns K.
func (s *Summary) NumStates() int {
	return len(s.StartCount)
}

// Add folds one sequence's posterior into the summary.
func (s *Summary) Add(p *Posterior) error {
	k := s.NumStates()
	if p.Resp.Cols != k {
		return fmt.Errorf("hmm: posterior has %d states, summary has %d: %w", p.Resp.Cols, k, matrix.ErrDimensionMismatch)
	}
	floats.Add(s.StartCount, p.Resp.Row(0))
	floats.Add(s.StateCount, p.StateCount())
	if err := s.TransCount.Add(p.TransCount); err != nil {
		return fmt.Errorf("hmm: %w", err)
	}
	s.LogMarginal += p.LogMarginal
	s.Sequences++
	return nil
}

// Merge adds another summary into s.
func (s *Summary) Merge(o *Summary) error {
	if o.NumStates() != s.NumStates() {
		return fmt.Errorf("hmm: merge summary with %d states into %d: %w", o.NumStates(), s.NumStates(), matrix.ErrDimensionMismatch)
	}
	floats.Add(s.StartCount, o.StartCount)
	floats.Add(s.StateCount, o.StateCount)
	if err := s.TransCount.Add(o.TransCount); err != nil {
		return fmt.Errorf("hmm: %w", err)
	}
	s.LogMarginal += o.LogMarginal
	s.Sequences += o.Sequences
	return nil
}
