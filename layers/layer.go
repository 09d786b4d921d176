// Package layers implements the closed set of differentiable layer kinds the
// network executor composes into a computation graph. Trainable layers embed
// the TD(λ) eligibility-trace update rule: Train decays a per-parameter trace
// by lambda, accumulates the current gradient contribution, and applies the
// decayed trace scaled by the caller-supplied delta (step size × TD error).
package layers

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LayerType identifies one of the fixed layer kinds.
type LayerType int

const (
	DenseType LayerType = iota
	LinearType
	ReLUType
	TanhType
	SoftmaxType
	ConcatType
	SumType
)

func (lt LayerType) String() string {
	switch lt {
	case DenseType:
		return "dense"
	case LinearType:
		return "linear"
	case ReLUType:
		return "relu"
	case TanhType:
		return "tanh"
	case SoftmaxType:
		return "softmax"
	case ConcatType:
		return "concat"
	case SumType:
		return "sum"
	default:
		return "unknown"
	}
}

// Layer is a node of the computation graph. Forward computes the layer output
// from its ordered inputs. Train consumes the output gradient and returns the
// gradient at each input; trainable layers update their parameters and traces
// as a side effect. Layers never mutate caller-owned tensors.
type Layer interface {
	Name() string
	Type() LayerType

	Forward(inputs []*mat.Dense) (*mat.Dense, error)

	// Train performs the backward pass for a single online sample. delta is
	// the scalar correction (step size × TD error) and lambda the trace
	// decay factor.
	Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error)

	// Spec returns the document node describing this layer.
	Spec() Spec

	// Params returns the persistent parameters of the layer keyed by
	// "{prefix}.{name}.{param}". Stateless layers return an empty map.
	Params(prefix string) map[string]*mat.Dense
}

// Spec is the document node for a single layer: the name, the type tag and
// the type-specific hyperparameters. The graph wiring lives in the network
// spec's separate inputs map.
type Spec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Dense
	InputSize    int     `json:"inputSize,omitempty"`
	OutputSize   int     `json:"outputSize,omitempty"`
	MaxAbsWeight float64 `json:"maxAbsWeight,omitempty"`

	// Linear
	B float64 `json:"b,omitempty"`
	W float64 `json:"w,omitempty"`

	// Softmax
	Temperature float64 `json:"temperature,omitempty"`
}

// FromSpec builds a layer from its document node. Trainable parameters are
// restored from the flat params map under "{prefix}.{name}.{param}"; missing
// entries fall back to randomized initialization using rng.
func FromSpec(spec Spec, prefix string, params map[string]*mat.Dense, rng *rand.Rand) (Layer, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("layer name must not be empty")
	}
	switch spec.Type {
	case "dense":
		return newDenseFromSpec(spec, prefix, params, rng)
	case "linear":
		return NewLinear(spec.Name, spec.B, spec.W), nil
	case "relu":
		return NewReLU(spec.Name), nil
	case "tanh":
		return NewTanh(spec.Name), nil
	case "softmax":
		return NewSoftmax(spec.Name, spec.Temperature)
	case "concat":
		return NewConcat(spec.Name), nil
	case "sum":
		return NewSum(spec.Name), nil
	default:
		return nil, fmt.Errorf("unrecognized layer type %q for layer %q", spec.Type, spec.Name)
	}
}

// paramKey builds the flat identifier of a persistent parameter.
func paramKey(prefix, name, param string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, name, param)
}
