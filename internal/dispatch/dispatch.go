// Package dispatch runs independent units of work (sequences or matrix rows)
// on a bounded set of goroutines.
//
// A failing unit never stops its siblings: failures are collected per index
// and returned together once every dispatched unit has finished.
//
//	pool := dispatch.New(0) // GOMAXPROCS workers
//	err := pool.Run(ctx, len(seqs), func(i int) error {
//	    return process(seqs[i])
//	})
package dispatch

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ChunkSize is the number of units folded into one partial result by Reduce.
// Chunk boundaries do not depend on the worker count, which keeps reductions
// bit-identical across pool sizes.
const ChunkSize = 16

// UnitError records the failure of one unit.
type UnitError struct {
	Index int
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Index, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Pool bounds how many units run at once.
type Pool struct {
	workers int
}

// New creates a pool with the given number of workers.
// If workers <= 0, uses GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.workers
}

// Run calls fn for every index in [0, n). Once ctx is done no further units
// are started; units already running finish normally. The returned error is
// nil or a *multierror.Error holding one *UnitError per failed unit in index
// order, followed by the context error if dispatch was cut short.
func (p *Pool) Run(ctx context.Context, n int, fn func(i int) error) error {
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(p.workers)

	var stopped error
	for i := range n {
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}
		g.Go(func() error {
			if err := fn(i); err != nil {
				errs[i] = &UnitError{Index: i, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if stopped != nil {
		result = multierror.Append(result, fmt.Errorf("dispatch stopped: %w", stopped))
	}
	return result.ErrorOrNil()
}

// Reduce folds units [0, n) into a single partial result. Each fixed-size
// chunk accumulates into its own partial from newPartial; the partials are
// then merged in chunk order on the calling goroutine. fn failures are
// reported as in Run and the failing unit contributes nothing beyond what fn
// already added.
func Reduce[P any](ctx context.Context, p *Pool, n int, newPartial func() P, fn func(i int, acc P) error, merge func(dst, src P) error) (P, error) {
	chunks := (n + ChunkSize - 1) / ChunkSize
	partials := make([]P, chunks)
	done := make([]bool, chunks)
	unitErrs := make([][]error, chunks)

	runErr := p.Run(ctx, chunks, func(c int) error {
		acc := newPartial()
		start := c * ChunkSize
		end := min(start+ChunkSize, n)
		for i := start; i < end; i++ {
			if err := fn(i, acc); err != nil {
				unitErrs[c] = append(unitErrs[c], &UnitError{Index: i, Err: err})
			}
		}
		partials[c] = acc
		done[c] = true
		return nil
	})

	total := newPartial()
	var result *multierror.Error
	for c := range chunks {
		result = multierror.Append(result, unitErrs[c]...)
		if !done[c] {
			continue
		}
		if err := merge(total, partials[c]); err != nil {
			result = multierror.Append(result, fmt.Errorf("merge chunk %d: %w", c, err))
		}
	}
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	return total, result.ErrorOrNil()
}
