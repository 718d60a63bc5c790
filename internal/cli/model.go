package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/happyhackingspace/hmmkit"
	"github.com/happyhackingspace/hmmkit/hmm"
	"github.com/happyhackingspace/hmmkit/internal/matrixio"
	"github.com/happyhackingspace/hmmkit/internal/storage"
	"github.com/happyhackingspace/hmmkit/matrix"
)

// loadModel prefers an explicit path, then the data folder's model.json,
// then a model.json found by walking up from the working directory.
func loadModel(store *storage.Storage, modelPath string) (*hmm.TransitionModel, error) {
	if modelPath != "" {
		slog.Debug("Loading custom model", "path", modelPath)
		return hmmkit.LoadModel(modelPath)
	}
	if store != nil {
		m, err := store.GetModel()
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		slog.Debug("No model in data folder", "folder", store.Folder)
	}
	return hmmkit.LoadModel("")
}

// readMatrix reads a matrix from path, or from stdin when path is empty.
func readMatrix(path string) (*matrix.Matrix, error) {
	if path == "" {
		return matrixio.Read(os.Stdin)
	}
	return matrixio.ReadFile(path)
}
