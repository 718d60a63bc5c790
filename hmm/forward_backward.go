package hmm

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// Config holds forward-backward options. Zero tolerances mean
// defaultTolerance, so a zero Config is usable.
type Config struct {
	// Tolerance bounds how far a message row handed to Combine may drift from
	// summing to one.
	Tolerance float64
	// CrossCheck compares the forward and backward log marginal likelihoods.
	CrossCheck bool
	// CrossCheckTolerance is relative to max(1, |log marginal|).
	CrossCheckTolerance float64
	// ParallelPasses runs the forward and backward passes concurrently.
	ParallelPasses bool
}

const defaultTolerance = 1e-6

// DefaultConfig returns the default forward-backward options.
func DefaultConfig() Config {
	return Config{
		Tolerance:           defaultTolerance,
		CrossCheck:          true,
		CrossCheckTolerance: defaultTolerance,
	}
}

func orDefault(tol float64) float64 {
	if tol > 0 {
		return tol
	}
	return defaultTolerance
}

// Messages holds scaled forward or backward messages.
type Messages struct {
	Probs    *matrix.Matrix // [T][K], each row sums to 1
	LogScale []float64      // [T] log of each row's normalizer, including the stabilizing shift
}

// Posterior is the result of forward-backward on one sequence.
type Posterior struct {
	Resp        *matrix.Matrix // [T][K] P(z_t=k | x)
	TransCount  *matrix.Matrix // [K][K] sum over t of P(z_t=i, z_{t+1}=j | x)
	LogMarginal float64        // log p(x)
	// Instability is non-nil when the forward/backward cross-check failed.
	// The rest of the posterior is still the best available estimate.
	Instability error
}

// StateCount returns the expected number of visits to each state.
func (p *Posterior) StateCount() []float64 {
	counts := make([]float64, p.Resp.Cols)
	for t := range p.Resp.Rows {
		floats.Add(counts, p.Resp.Row(t))
	}
	return counts
}

// emission is the likelihood buffer exponentiated once per row after
// subtracting the row maximum.
type emission struct {
	t, k  int
	lik   []float64 // [T][K] exp(ll - shift)
	shift []float64 // [T] row maxima of ll
}

func (e *emission) row(t int) []float64 {
	return e.lik[t*e.k : (t+1)*e.k]
}

func checkShape(ll *matrix.Matrix, m *TransitionModel) error {
	if m == nil {
		return fmt.Errorf("hmm: nil transition model: %w", matrix.ErrInvalidArgument)
	}
	if err := ll.Validate(); err != nil {
		return fmt.Errorf("hmm: log-likelihood: %w", err)
	}
	if ll.Rows == 0 {
		return fmt.Errorf("hmm: empty sequence: %w", matrix.ErrInvalidArgument)
	}
	if ll.Cols != m.k {
		return fmt.Errorf("hmm: log-likelihood has %d states, model has %d: %w",
			ll.Cols, m.k, matrix.ErrDimensionMismatch)
	}
	return nil
}

func checkLogLik(t, k int, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 1) {
		return fmt.Errorf("hmm: log-likelihood[%d][%d] = %v: %w", t, k, v, matrix.ErrInvalidArgument)
	}
	return nil
}

func newEmission(ll *matrix.Matrix, m *TransitionModel) (*emission, error) {
	if err := checkShape(ll, m); err != nil {
		return nil, err
	}
	e := &emission{
		t:     ll.Rows,
		k:     ll.Cols,
		lik:   make([]float64, len(ll.Data)),
		shift: make([]float64, ll.Rows),
	}
	for t := range e.t {
		src := ll.Row(t)
		for k, v := range src {
			if err := checkLogLik(t, k, v); err != nil {
				return nil, err
			}
		}
		mx := floats.Max(src)
		if math.IsInf(mx, -1) {
			return nil, fmt.Errorf("hmm: emission: %w", &matrix.DegenerateInputError{Row: t})
		}
		e.shift[t] = mx
		dst := e.row(t)
		for k, v := range src {
			dst[k] = math.Exp(v - mx)
		}
	}
	return e, nil
}

// normalize divides x by its sum and returns the sum. ok is false when the
// sum is zero or not finite, in which case x is left untouched.
func normalize(x []float64) (sum float64, ok bool) {
	sum = floats.Sum(x)
	if !(sum > 0) || math.IsInf(sum, 1) {
		return sum, false
	}
	for i := range x {
		x[i] /= sum
	}
	return sum, true
}

// Forward runs the scaled forward pass.
func Forward(ll *matrix.Matrix, m *TransitionModel) (*Messages, error) {
	e, err := newEmission(ll, m)
	if err != nil {
		return nil, err
	}
	return forward(e, m)
}

func forward(e *emission, m *TransitionModel) (*Messages, error) {
	T, K := e.t, e.k
	alpha := matrix.New(T, K)
	logScale := make([]float64, T)

	// t = 0
	floats.MulTo(alpha.Row(0), m.init, e.row(0))
	c, ok := normalize(alpha.Row(0))
	if !ok {
		return nil, fmt.Errorf("hmm: forward: %w", &matrix.DegenerateInputError{Row: 0})
	}
	logScale[0] = math.Log(c) + e.shift[0]

	// t = 1..T-1
	for t := 1; t < T; t++ {
		prev, cur := alpha.Row(t-1), alpha.Row(t)
		for i, p := range prev {
			if p != 0 {
				floats.AddScaled(cur, p, m.transRow(i))
			}
		}
		floats.Mul(cur, e.row(t))
		c, ok := normalize(cur)
		if !ok {
			return nil, fmt.Errorf("hmm: forward: %w", &matrix.DegenerateInputError{Row: t})
		}
		logScale[t] = math.Log(c) + e.shift[t]
	}

	return &Messages{Probs: alpha, LogScale: logScale}, nil
}

// Backward runs the scaled backward pass.
func Backward(ll *matrix.Matrix, m *TransitionModel) (*Messages, error) {
	e, err := newEmission(ll, m)
	if err != nil {
		return nil, err
	}
	return backward(e, m)
}

func backward(e *emission, m *TransitionModel) (*Messages, error) {
	T, K := e.t, e.k
	beta := matrix.New(T, K)
	logScale := make([]float64, T)

	// t = T-1: all ones, stored normalized
	last := beta.Row(T - 1)
	for i := range last {
		last[i] = 1 / float64(K)
	}
	logScale[T-1] = math.Log(float64(K))

	// t = T-2..0
	next := make([]float64, K)
	for t := T - 2; t >= 0; t-- {
		floats.MulTo(next, beta.Row(t+1), e.row(t+1))
		cur := beta.Row(t)
		for i := range K {
			cur[i] = floats.Dot(m.transRow(i), next)
		}
		d, ok := normalize(cur)
		if !ok {
			return nil, fmt.Errorf("hmm: backward: %w", &matrix.DegenerateInputError{Row: t})
		}
		logScale[t] = math.Log(d) + e.shift[t+1]
	}

	return &Messages{Probs: beta, LogScale: logScale}, nil
}

// Combine merges forward and backward messages into state responsibilities,
// expected transition counts and the log marginal likelihood.
func Combine(fwd, bwd *Messages, ll *matrix.Matrix, m *TransitionModel, cfg Config) (*Posterior, error) {
	e, err := newEmission(ll, m)
	if err != nil {
		return nil, err
	}
	if err := checkMessages(fwd, e.t, e.k, orDefault(cfg.Tolerance)); err != nil {
		return nil, fmt.Errorf("hmm: forward messages: %w", err)
	}
	if err := checkMessages(bwd, e.t, e.k, orDefault(cfg.Tolerance)); err != nil {
		return nil, fmt.Errorf("hmm: backward messages: %w", err)
	}
	return combine(fwd, bwd, e, m, cfg)
}

func checkMessages(msg *Messages, T, K int, tol float64) error {
	if msg == nil || msg.Probs == nil {
		return fmt.Errorf("missing: %w", matrix.ErrInvalidArgument)
	}
	if msg.Probs.Rows != T || msg.Probs.Cols != K || len(msg.LogScale) != T {
		return fmt.Errorf("shape %dx%d (%d scales), want %dx%d: %w",
			msg.Probs.Rows, msg.Probs.Cols, len(msg.LogScale), T, K, matrix.ErrDimensionMismatch)
	}
	return msg.Probs.CheckRowStochastic(tol)
}

func combine(fwd, bwd *Messages, e *emission, m *TransitionModel, cfg Config) (*Posterior, error) {
	T, K := e.t, e.k

	resp := matrix.New(T, K)
	for t := range T {
		row := resp.Row(t)
		floats.MulTo(row, fwd.Probs.Row(t), bwd.Probs.Row(t))
		if _, ok := normalize(row); !ok {
			return nil, fmt.Errorf("hmm: combine: %w", &matrix.DegenerateInputError{Row: t})
		}
	}

	// xi_t[i][j] ∝ alpha_t[i] * A[i][j] * lik_{t+1}[j] * beta_{t+1}[j],
	// normalized per step so each slice is a joint distribution.
	transCount := matrix.New(K, K)
	xi := make([]float64, K*K)
	w := make([]float64, K)
	for t := 0; t < T-1; t++ {
		floats.MulTo(w, e.row(t+1), bwd.Probs.Row(t+1))
		a := fwd.Probs.Row(t)
		for i := range K {
			row := xi[i*K : (i+1)*K]
			floats.MulTo(row, m.transRow(i), w)
			floats.Scale(a[i], row)
		}
		if _, ok := normalize(xi); !ok {
			return nil, fmt.Errorf("hmm: combine: %w", &matrix.DegenerateInputError{Row: t + 1})
		}
		floats.Add(transCount.Data, xi)
	}

	p := &Posterior{
		Resp:        resp,
		TransCount:  transCount,
		LogMarginal: floats.Sum(fwd.LogScale),
	}

	if cfg.CrossCheck {
		bwdLL := backwardLogMarginal(bwd, e, m)
		diff := math.Abs(p.LogMarginal - bwdLL)
		if !(diff <= orDefault(cfg.CrossCheckTolerance)*math.Max(1, math.Abs(p.LogMarginal))) {
			p.Instability = fmt.Errorf("hmm: forward log marginal %v, backward %v: %w",
				p.LogMarginal, bwdLL, matrix.ErrNumericalInstability)
			slog.Warn("Forward/backward log marginal mismatch",
				"forward", p.LogMarginal, "backward", bwdLL, "diff", diff)
		}
	}

	return p, nil
}

// backwardLogMarginal recovers log p(x) from the backward messages alone.
func backwardLogMarginal(bwd *Messages, e *emission, m *TransitionModel) float64 {
	var s float64
	b0, lik0 := bwd.Probs.Row(0), e.row(0)
	for k := range e.k {
		s += m.init[k] * lik0[k] * b0[k]
	}
	return floats.Sum(bwd.LogScale) + e.shift[0] + math.Log(s)
}

// ForwardBackward runs both passes and combines them. The likelihood buffer
// is exponentiated once and shared by the passes.
func ForwardBackward(ll *matrix.Matrix, m *TransitionModel, cfg Config) (*Posterior, error) {
	e, err := newEmission(ll, m)
	if err != nil {
		return nil, err
	}

	var fwd, bwd *Messages
	if cfg.ParallelPasses {
		var g errgroup.Group
		g.Go(func() (err error) {
			fwd, err = forward(e, m)
			return err
		})
		g.Go(func() (err error) {
			bwd, err = backward(e, m)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		if fwd, err = forward(e, m); err != nil {
			return nil, err
		}
		if bwd, err = backward(e, m); err != nil {
			return nil, err
		}
	}

	return combine(fwd, bwd, e, m, cfg)
}
