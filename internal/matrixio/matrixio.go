// Package matrixio reads and writes whitespace-delimited numeric matrices:
// one row per line, values separated by spaces or tabs. Blank lines and lines
// starting with '#' are ignored.
package matrixio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/happyhackingspace/hmmkit/matrix"
	"github.com/happyhackingspace/hmmkit/sparse"
)

// ParseError reports malformed input. Column is 1-based; 0 means the whole
// line.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Column == 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Read parses a matrix from r.
func Read(r io.Reader) (*matrix.Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var data []float64
	rows, cols := 0, -1
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if cols < 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("%d values, want %d", len(fields), cols)}
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &ParseError{Line: line, Column: i + 1, Msg: fmt.Sprintf("invalid number %q", f)}
			}
			data = append(data, v)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cols < 0 {
		cols = 0
	}
	return matrix.FromData(rows, cols, data)
}

// ReadFile parses a matrix from the file at path.
func ReadFile(path string) (m *matrix.Matrix, re error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			re = multierror.Append(re, err)
		}
	}()
	m, err = Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Write writes m one row per line.
func Write(w io.Writer, m *matrix.Matrix) error {
	bw := bufio.NewWriter(w)
	for i := range m.Rows {
		for j, v := range m.Row(i) {
			if j > 0 {
				_ = bw.WriteByte(' ')
			}
			_, _ = bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes m to path.
func WriteFile(path string, m *matrix.Matrix) (re error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			re = multierror.Append(re, err)
		}
	}()
	return Write(f, m)
}

// WriteSparse writes each row as space-separated index:weight pairs.
func WriteSparse(w io.Writer, rows []sparse.Row) error {
	bw := bufio.NewWriter(w)
	for _, r := range rows {
		for i, idx := range r.Indices {
			if i > 0 {
				_ = bw.WriteByte(' ')
			}
			_, _ = bw.WriteString(strconv.Itoa(idx))
			_ = bw.WriteByte(':')
			_, _ = bw.WriteString(strconv.FormatFloat(r.Weights[i], 'g', -1, 64))
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}
