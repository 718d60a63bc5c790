package sparse

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// Options controls sparsification.
type Options struct {
	// MaxCardinality is the largest number of entries kept per row (L).
	MaxCardinality int
	// Threshold drops kept entries whose weight is below it. The largest
	// entry of a row is always kept. Zero disables the threshold.
	Threshold float64
	// Tolerance is how far an input row may drift from summing to one.
	// Zero or less means defaultTolerance.
	Tolerance float64
}

const defaultTolerance = 1e-6

func (o Options) tolerance() float64 {
	if o.Tolerance > 0 {
		return o.Tolerance
	}
	return defaultTolerance
}

// DefaultOptions returns options keeping at most maxCardinality entries.
func DefaultOptions(maxCardinality int) Options {
	return Options{
		MaxCardinality: maxCardinality,
		Tolerance:      defaultTolerance,
	}
}

// Validate checks the options against a row width k.
func (o Options) Validate(k int) error {
	if o.MaxCardinality < 1 || o.MaxCardinality > k {
		return fmt.Errorf("sparse: max cardinality %d outside [1, %d]: %w", o.MaxCardinality, k, matrix.ErrInvalidArgument)
	}
	if o.Threshold < 0 || math.IsNaN(o.Threshold) {
		return fmt.Errorf("sparse: threshold %v: %w", o.Threshold, matrix.ErrInvalidArgument)
	}
	return nil
}

// Sparsify keeps, for every row of a dense row-stochastic matrix, the
// MaxCardinality largest entries (ties go to the lower index) and
// renormalizes them to sum to one. It stops at the first failing row.
func Sparsify(resp *matrix.Matrix, opts Options) ([]Row, error) {
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("sparse: %w", err)
	}
	if err := opts.Validate(resp.Cols); err != nil {
		return nil, err
	}
	rows := make([]Row, resp.Rows)
	for n := range resp.Rows {
		r, err := SparsifyRow(n, resp.Row(n), opts)
		if err != nil {
			return nil, err
		}
		rows[n] = r
	}
	return rows, nil
}

// SparsifyRow sparsifies a single dense row. n is the row's position in its
// matrix and is only used in error reports.
func SparsifyRow(n int, row []float64, opts Options) (Row, error) {
	k := len(row)
	if err := opts.Validate(k); err != nil {
		return Row{}, err
	}
	for j, v := range row {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Row{}, fmt.Errorf("sparse: row %d col %d = %v: %w", n, j, v, matrix.ErrInvalidArgument)
		}
	}

	total := lo.Sum(row)
	if total == 0 {
		return Row{}, fmt.Errorf("sparse: %w", &matrix.DegenerateInputError{Row: n})
	}
	if math.Abs(total-1) > opts.tolerance() {
		return Row{}, fmt.Errorf("sparse: row %d sums to %v: %w", n, total, matrix.ErrInvalidArgument)
	}

	if opts.MaxCardinality >= k && opts.Threshold == 0 {
		return passThrough(row), nil
	}

	top := topIndices(row, opts.MaxCardinality)
	kept := filterKept(top, row, opts.Threshold)
	total = lo.SumBy(kept, func(j int) float64 { return row[j] })

	out := Row{
		Indices: kept,
		Weights: make([]float64, len(kept)),
		Dim:     k,
	}
	for i, j := range kept {
		out.Weights[i] = row[j] / total
	}
	return out, nil
}

// passThrough returns the positive entries of a row with their original
// weights.
func passThrough(row []float64) Row {
	out := Row{Dim: len(row)}
	for j, v := range row {
		if v > 0 {
			out.Indices = append(out.Indices, j)
			out.Weights = append(out.Weights, v)
		}
	}
	return out
}

// SparsifyLog is Sparsify for unnormalized log-responsibilities. The top
// entries are chosen by log weight and normalized with a max-shifted softmax
// over the kept set; the threshold applies to those normalized weights.
func SparsifyLog(logResp *matrix.Matrix, opts Options) ([]Row, error) {
	if err := logResp.Validate(); err != nil {
		return nil, fmt.Errorf("sparse: %w", err)
	}
	if err := opts.Validate(logResp.Cols); err != nil {
		return nil, err
	}
	rows := make([]Row, logResp.Rows)
	for n := range logResp.Rows {
		r, err := SparsifyLogRow(n, logResp.Row(n), opts)
		if err != nil {
			return nil, err
		}
		rows[n] = r
	}
	return rows, nil
}

// SparsifyLogRow sparsifies a single row of log weights.
func SparsifyLogRow(n int, logRow []float64, opts Options) (Row, error) {
	k := len(logRow)
	if err := opts.Validate(k); err != nil {
		return Row{}, err
	}
	for j, v := range logRow {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			return Row{}, fmt.Errorf("sparse: row %d col %d = %v: %w", n, j, v, matrix.ErrInvalidArgument)
		}
	}

	top := topIndices(logRow, opts.MaxCardinality)
	mx := logRow[top[0]]
	if math.IsInf(mx, -1) {
		return Row{}, fmt.Errorf("sparse: %w", &matrix.DegenerateInputError{Row: n})
	}

	// Weights of the top entries only; everything else is treated as zero.
	w := make([]float64, k)
	for _, j := range top {
		w[j] = math.Exp(logRow[j] - mx)
	}
	total := lo.SumBy(top, func(j int) float64 { return w[j] })
	for _, j := range top {
		w[j] /= total
	}

	kept := filterKept(top, w, opts.Threshold)
	total = lo.SumBy(kept, func(j int) float64 { return w[j] })
	out := Row{
		Indices: kept,
		Weights: make([]float64, len(kept)),
		Dim:     k,
	}
	for i, j := range kept {
		out.Weights[i] = w[j] / total
	}
	return out, nil
}

// topIndices returns the indices of the n largest values, largest first.
// Equal values keep their original order, so lower indices win ties.
func topIndices(row []float64, n int) []int {
	top := make([]int, 0, n)
	for j, v := range row {
		if len(top) == n && v <= row[top[n-1]] {
			continue
		}
		pos := len(top)
		for pos > 0 && row[top[pos-1]] < v {
			pos--
		}
		if len(top) < n {
			top = append(top, 0)
		}
		copy(top[pos+1:], top[pos:len(top)-1])
		top[pos] = j
	}
	return top
}

// filterKept applies the threshold and drops zero weights, always keeping
// top[0]. The result is sorted by index.
func filterKept(top []int, w []float64, threshold float64) []int {
	kept := []int{top[0]}
	for _, j := range top[1:] {
		if w[j] > 0 && w[j] >= threshold {
			kept = append(kept, j)
		}
	}
	slices.Sort(kept)
	return kept
}
