package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Linear applies the fixed scalar affine transform y = x·w + b elementwise.
// Its constants are part of the graph specification and are not trained.
type Linear struct {
	name string
	b    float64
	w    float64
}

// NewLinear creates a linear layer with the given scalar bias and gain.
func NewLinear(name string, b, w float64) *Linear {
	return &Linear{name: name, b: b, w: w}
}

func (l *Linear) Name() string    { return l.name }
func (l *Linear) Type() LayerType { return LinearType }

func (l *Linear) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("linear layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return v*l.w + l.b
	}, inputs[0])
	return &y, nil
}

func (l *Linear) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("linear layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	var inGrad mat.Dense
	inGrad.Scale(l.w, grad)
	return []*mat.Dense{&inGrad}, nil
}

func (l *Linear) Spec() Spec {
	return Spec{Name: l.name, Type: "linear", B: l.b, W: l.w}
}

func (l *Linear) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}
