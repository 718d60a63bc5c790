package matrix

import (
	"errors"
	"fmt"
)

// Error kinds reported by the kernels. Match with errors.Is.
var (
	// ErrInvalidArgument covers malformed shapes, empty sequences and
	// out-of-range options.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch means two inputs disagree on a dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrDegenerateInput means a row had zero total mass before normalization.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrNumericalInstability is a warning: the forward and backward
	// log-likelihoods disagree beyond tolerance.
	ErrNumericalInstability = errors.New("numerical instability")
)

// DegenerateInputError identifies the row that had no mass.
type DegenerateInputError struct {
	Row int
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input: row %d has zero total mass", e.Row)
}

// Unwrap lets errors.Is match ErrDegenerateInput.
func (e *DegenerateInputError) Unwrap() error {
	return ErrDegenerateInput
}
