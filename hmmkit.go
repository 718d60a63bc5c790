// Package hmmkit provides the per-sequence inference primitives of a
// variational-Bayes Hidden Markov Model: scaled forward-backward over
// row-major emission log-likelihoods, and sparsification of the resulting
// responsibilities to a bounded number of components per row.
//
//	model, _ := hmmkit.LoadModel("model.json")
//	post, _ := hmmkit.ForwardBackward(ll, model, hmm.DefaultConfig())
//	fmt.Println(post.LogMarginal)
//	rows, _ := hmmkit.Sparsify(post.Resp, sparse.DefaultOptions(3))
//
// RunBatch and SparsifyBatch spread many sequences or rows over a worker
// pool; a failing sequence or row does not abort its siblings.
package hmmkit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/hmmkit/hmm"
	"github.com/happyhackingspace/hmmkit/matrix"
	"github.com/happyhackingspace/hmmkit/sparse"
)

// Error kinds, re-exported from package matrix for errors.Is.
var (
	ErrInvalidArgument      = matrix.ErrInvalidArgument
	ErrDimensionMismatch    = matrix.ErrDimensionMismatch
	ErrDegenerateInput      = matrix.ErrDegenerateInput
	ErrNumericalInstability = matrix.ErrNumericalInstability
)

// FindModel searches for "model.json" in the current directory and its
// parents, stopping at the module root (where go.mod lives).
func FindModel() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, "model.json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("model.json not found")
}

// LoadModel loads a transition model from a JSON file. An empty path means
// FindModel.
func LoadModel(path string) (*hmm.TransitionModel, error) {
	if path == "" {
		found, err := FindModel()
		if err != nil {
			return nil, fmt.Errorf("hmmkit: %w", err)
		}
		path = found
	}
	m, err := hmm.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("hmmkit: %w", err)
	}
	return m, nil
}

// ForwardBackward computes responsibilities, expected transition counts and
// the log marginal likelihood of one sequence.
func ForwardBackward(ll *matrix.Matrix, model *hmm.TransitionModel, cfg hmm.Config) (*hmm.Posterior, error) {
	p, err := hmm.ForwardBackward(ll, model, cfg)
	if err != nil {
		return nil, fmt.Errorf("hmmkit: %w", err)
	}
	return p, nil
}

// Viterbi returns the most likely state path of one sequence.
func Viterbi(ll *matrix.Matrix, model *hmm.TransitionModel) ([]int, float64, error) {
	path, score, err := hmm.Viterbi(ll, model)
	if err != nil {
		return nil, score, fmt.Errorf("hmmkit: %w", err)
	}
	return path, score, nil
}

// Sparsify truncates every row of resp to its opts.MaxCardinality largest
// entries.
func Sparsify(resp *matrix.Matrix, opts sparse.Options) ([]sparse.Row, error) {
	rows, err := sparse.Sparsify(resp, opts)
	if err != nil {
		return nil, fmt.Errorf("hmmkit: %w", err)
	}
	return rows, nil
}
