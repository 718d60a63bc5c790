// Package matrix provides the row-major dense buffer shared by the inference
// kernels, plus the error values they report.
//
// Each row of a Matrix is contiguous in Data, which is the same layout gonum's
// mat.Dense (and Eigen's RowMajor) uses, so buffers can be handed across
// without copying.
package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major float64 matrix.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// New allocates a zeroed rows×cols matrix.
func New(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromData wraps data as a rows×cols matrix without copying.
func FromData(rows, cols int, data []float64) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("matrix: negative shape %dx%d: %w", rows, cols, ErrInvalidArgument)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("matrix: %d values for %dx%d: %w", len(data), rows, cols, ErrDimensionMismatch)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// FromRows copies a slice of equal-length rows into a new matrix.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}
	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("matrix: row %d has %d values, want %d: %w", i, len(r), cols, ErrDimensionMismatch)
		}
		copy(m.Row(i), r)
	}
	return m, nil
}

// FromDense copies a gonum matrix into row-major storage.
func FromDense(d *mat.Dense) *Matrix {
	r, c := d.Dims()
	m := New(r, c)
	raw := d.RawMatrix()
	for i := range r {
		copy(m.Row(i), raw.Data[i*raw.Stride:i*raw.Stride+c])
	}
	return m
}

// Dense returns a gonum view sharing m's backing array.
// gonum refuses empty matrices, so m must have at least one row and column.
func (m *Matrix) Dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.Data)
}

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set sets element (i, j).
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := New(m.Rows, m.Cols)
	copy(c.Data, m.Data)
	return c
}

// ToRows copies the matrix out as a slice of rows.
func (m *Matrix) ToRows() [][]float64 {
	out := make([][]float64, m.Rows)
	for i := range m.Rows {
		out[i] = append([]float64(nil), m.Row(i)...)
	}
	return out
}

// Add adds o into m elementwise. Shapes must match.
func (m *Matrix) Add(o *Matrix) error {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return fmt.Errorf("matrix: add %dx%d to %dx%d: %w", o.Rows, o.Cols, m.Rows, m.Cols, ErrDimensionMismatch)
	}
	floats.Add(m.Data, o.Data)
	return nil
}

// Validate checks that the storage length matches the shape.
func (m *Matrix) Validate() error {
	if m == nil {
		return fmt.Errorf("matrix: nil matrix: %w", ErrInvalidArgument)
	}
	if m.Rows < 0 || m.Cols < 0 || len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("matrix: %d values for %dx%d: %w", len(m.Data), m.Rows, m.Cols, ErrDimensionMismatch)
	}
	return nil
}

// CheckRowStochastic reports the first row that has a negative or non-finite
// entry, or whose sum differs from one by more than tol.
func (m *Matrix) CheckRowStochastic(tol float64) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for i := range m.Rows {
		row := m.Row(i)
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("matrix: row %d col %d = %v: %w", i, j, v, ErrInvalidArgument)
			}
		}
		if s := floats.Sum(row); math.Abs(s-1) > tol {
			return fmt.Errorf("matrix: row %d sums to %v: %w", i, s, ErrInvalidArgument)
		}
	}
	return nil
}
