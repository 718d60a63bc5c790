// Package storage reads a sequence data folder: a transition model and a set
// of per-sequence log-likelihood matrices.
//
//	data/
//	  model.json   {"init": [...], "trans": [[...], ...]}
//	  index.json   {"<sequence id>": "<path relative to data/>", ...}
//	  seq/*.txt    whitespace-delimited T×K log-likelihoods
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"

	"github.com/happyhackingspace/hmmkit/hmm"
	"github.com/happyhackingspace/hmmkit/internal/matrixio"
	"github.com/happyhackingspace/hmmkit/matrix"
)

// Storage wraps the data folder.
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given data folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

// Sequence is one log-likelihood buffer read from the folder.
type Sequence struct {
	ID     string
	Path   string
	LogLik *matrix.Matrix
}

// IterOptions controls sequence iteration behavior.
type IterOptions struct {
	// SkipUnreadable logs and skips sequences that fail to load instead of
	// failing the whole iteration.
	SkipUnreadable bool
}

// DefaultIterOptions returns the default options for iterating sequences.
func DefaultIterOptions() IterOptions {
	return IterOptions{SkipUnreadable: true}
}

// GetModel reads model.json.
func (s *Storage) GetModel() (*hmm.TransitionModel, error) {
	return hmm.LoadModel(filepath.Join(s.Folder, "model.json"))
}

// GetIndex reads index.json.
func (s *Storage) GetIndex() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, "index.json"))
	if err != nil {
		return nil, err
	}
	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// IterSequences loads every indexed sequence, sorted by id.
func (s *Storage) IterSequences(opts IterOptions) ([]Sequence, error) {
	index, err := s.GetIndex()
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	ids := lo.Keys(index)
	sort.Strings(ids)

	sequences := make([]Sequence, 0, len(ids))
	for _, id := range ids {
		path := index[id]
		ll, err := matrixio.ReadFile(filepath.Join(s.Folder, path))
		if err != nil {
			if opts.SkipUnreadable {
				slog.Warn("Cannot read sequence file", "id", id, "path", path, "error", err)
				continue
			}
			return nil, fmt.Errorf("sequence %s: %w", id, err)
		}
		sequences = append(sequences, Sequence{ID: id, Path: path, LogLik: ll})
	}
	return sequences, nil
}
