// Package checkpoints persists and restores the trained state of an agent:
// a flat list of named parameter tensors plus the training protocol's scalar
// state. The core engine performs no I/O itself; this package owns the byte
// and file boundary.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

// Format selects the serialization format of a checkpoint.
type Format int

const (
	FormatJSON Format = iota
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// WeightTensor is one persistent parameter with its flat identifier
// "{prefix}.{layerName}.{paramName}" and row-major data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "w" or "b"
}

// TrainingState captures the training protocol's persistent scalars.
type TrainingState struct {
	AvgReward float64            `json:"avg_reward"`
	Alphas    map[string]float64 `json:"alphas,omitempty"`
	Steps     int64              `json:"steps"`
}

// Metadata describes a checkpoint.
type Metadata struct {
	ID          string    `json:"id"`
	Framework   string    `json:"framework"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete snapshot of an agent's trained state.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// FromParams builds a checkpoint from a flat parameter map, in deterministic
// name order, stamping fresh metadata.
func FromParams(params map[string]*mat.Dense, state TrainingState) *Checkpoint {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		value := params[name]
		layer, param := splitParamName(name)
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: tensor.Shape(value),
			Data:  tensor.Flatten(value),
			Layer: layer,
			Type:  param,
		})
	}
	return &Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Framework: "go-rover",
			Version:   "1.0.0",
			CreatedAt: time.Now().UTC(),
		},
	}
}

// splitParamName extracts the layer and parameter names from a flat
// "{prefix}.{layerName}.{paramName}" identifier.
func splitParamName(name string) (layer, param string) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// Params rebuilds the flat parameter map the engine restores from.
func (c *Checkpoint) Params() (map[string]*mat.Dense, error) {
	params := make(map[string]*mat.Dense, len(c.Weights))
	for _, w := range c.Weights {
		if _, ok := params[w.Name]; ok {
			return nil, fmt.Errorf("duplicate weight tensor %q", w.Name)
		}
		value, err := tensor.FromShape(w.Shape, w.Data)
		if err != nil {
			return nil, fmt.Errorf("weight tensor %q: %v", w.Name, err)
		}
		params[w.Name] = value
	}
	return params, nil
}

// Saver encodes and decodes checkpoints in a fixed format.
type Saver struct {
	format Format
}

// NewSaver creates a checkpoint saver for the given format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Marshal encodes the checkpoint.
func (s *Saver) Marshal(c *Checkpoint) ([]byte, error) {
	switch s.format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatProto:
		return marshalProto(c)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

// Unmarshal decodes a checkpoint.
func (s *Saver) Unmarshal(data []byte) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
		}
		return &c, nil
	case FormatProto:
		return unmarshalProto(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

// Save writes the checkpoint to path.
func (s *Saver) Save(c *Checkpoint, path string) error {
	data, err := s.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	return s.Unmarshal(data)
}
