package hmm

import (
	"encoding/json"
	"fmt"
	"os"
)

// modelJSON is the on-disk form of a TransitionModel.
type modelJSON struct {
	Init  []float64   `json:"init"`
	Trans [][]float64 `json:"trans"`
}

// MarshalJSON encodes the model as {"init": [...], "trans": [[...], ...]}.
func (m *TransitionModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelJSON{Init: m.init, Trans: m.Trans().ToRows()})
}

// UnmarshalModel decodes and validates a model from JSON bytes.
func UnmarshalModel(data []byte) (*TransitionModel, error) {
	var raw modelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("hmm: decode model: %w", err)
	}
	return NewTransitionModelFromRows(raw.Init, raw.Trans)
}

// SaveModel writes the model to path as indented JSON.
func SaveModel(model *TransitionModel, path string) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel reads a model from a JSON file.
func LoadModel(path string) (*TransitionModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}
