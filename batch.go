package hmmkit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/happyhackingspace/hmmkit/hmm"
	"github.com/happyhackingspace/hmmkit/internal/dispatch"
	"github.com/happyhackingspace/hmmkit/matrix"
	"github.com/happyhackingspace/hmmkit/sparse"
)

// BatchConfig holds configuration for batch inference.
type BatchConfig struct {
	Workers int // <= 0 means GOMAXPROCS
	FwdBwd  hmm.Config
	// Reduce also sums sufficient statistics across sequences.
	Reduce bool
}

// DefaultBatchConfig returns the default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FwdBwd: hmm.DefaultConfig(),
		Reduce: true,
	}
}

// Sequence is one unit of batch work.
type Sequence struct {
	ID     string
	LogLik *matrix.Matrix
}

// SequenceResult holds the outcome for one sequence. Exactly one of
// Posterior and Err is set.
type SequenceResult struct {
	ID        string
	Posterior *hmm.Posterior
	Err       error
}

// BatchResult holds per-sequence outcomes and, when requested, the summed
// statistics of the sequences that succeeded.
type BatchResult struct {
	Results  []SequenceResult
	Summary  *hmm.Summary
	Failed   int
	Unstable int // sequences whose forward/backward cross-check failed
}

// RunBatch runs forward-backward on every sequence in parallel. Failed
// sequences are reported in their SequenceResult and in the returned error
// (a multierror of per-sequence failures); the BatchResult is returned
// whenever the inputs were usable.
func RunBatch(ctx context.Context, model *hmm.TransitionModel, seqs []Sequence, cfg BatchConfig) (*BatchResult, error) {
	if model == nil {
		return nil, fmt.Errorf("hmmkit: nil transition model: %w", ErrInvalidArgument)
	}

	pool := dispatch.New(cfg.Workers)
	result := &BatchResult{Results: make([]SequenceResult, len(seqs))}
	start := time.Now()

	unit := func(i int) (*hmm.Posterior, error) {
		result.Results[i].ID = seqs[i].ID
		p, err := hmm.ForwardBackward(seqs[i].LogLik, model, cfg.FwdBwd)
		if err != nil {
			err = fmt.Errorf("sequence %q: %w", seqs[i].ID, err)
			result.Results[i].Err = err
			return nil, err
		}
		result.Results[i].Posterior = p
		return p, nil
	}

	var err error
	if cfg.Reduce {
		result.Summary, err = dispatch.Reduce(ctx, pool, len(seqs),
			func() *hmm.Summary { return hmm.NewSummary(model.NumStates()) },
			func(i int, acc *hmm.Summary) error {
				p, err := unit(i)
				if err != nil {
					return err
				}
				return acc.Add(p)
			},
			func(dst, src *hmm.Summary) error { return dst.Merge(src) })
	} else {
		err = pool.Run(ctx, len(seqs), func(i int) error {
			_, err := unit(i)
			return err
		})
	}

	for _, r := range result.Results {
		if r.Err != nil {
			result.Failed++
		}
		if r.Posterior != nil && r.Posterior.Instability != nil {
			result.Unstable++
		}
	}
	slog.Debug("Batch completed", "sequences", len(seqs), "failed", result.Failed,
		"unstable", result.Unstable, "workers", pool.NumWorkers(), "duration", time.Since(start))

	if err != nil {
		return result, fmt.Errorf("hmmkit: %w", err)
	}
	return result, nil
}

// SparsifyBatch sparsifies the rows of resp in parallel. Rows that fail are
// left as zero-value Rows and reported in the returned error; option errors
// are reported before any row is processed.
func SparsifyBatch(ctx context.Context, resp *matrix.Matrix, opts sparse.Options, workers int) ([]sparse.Row, error) {
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("hmmkit: %w", err)
	}
	if err := opts.Validate(resp.Cols); err != nil {
		return nil, fmt.Errorf("hmmkit: %w", err)
	}

	rows := make([]sparse.Row, resp.Rows)
	err := dispatch.New(workers).Run(ctx, resp.Rows, func(n int) error {
		r, err := sparse.SparsifyRow(n, resp.Row(n), opts)
		if err != nil {
			return err
		}
		rows[n] = r
		return nil
	})
	if err != nil {
		return rows, fmt.Errorf("hmmkit: %w", err)
	}
	return rows, nil
}
