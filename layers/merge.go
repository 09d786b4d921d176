package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

// Concat concatenates its inputs along the feature axis in declared order.
type Concat struct {
	name string
}

// NewConcat creates a concatenation layer.
func NewConcat(name string) *Concat {
	return &Concat{name: name}
}

func (l *Concat) Name() string    { return l.name }
func (l *Concat) Type() LayerType { return ConcatType }

func (l *Concat) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concat layer %q requires at least 1 input", l.name)
	}
	out, err := tensor.Concat(inputs)
	if err != nil {
		return nil, fmt.Errorf("concat layer %q: %v", l.name, err)
	}
	return out, nil
}

// Train splits the output gradient back into the per-input column slices.
func (l *Concat) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concat layer %q requires at least 1 input", l.name)
	}
	widths := make([]int, len(inputs))
	for i, in := range inputs {
		_, widths[i] = in.Dims()
	}
	grads, err := tensor.SplitCols(grad, widths)
	if err != nil {
		return nil, fmt.Errorf("concat layer %q: %v", l.name, err)
	}
	return grads, nil
}

func (l *Concat) Spec() Spec {
	return Spec{Name: l.name, Type: "concat"}
}

func (l *Concat) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}

// Sum adds its equally shaped inputs elementwise.
type Sum struct {
	name string
}

// NewSum creates an elementwise sum layer.
func NewSum(name string) *Sum {
	return &Sum{name: name}
}

func (l *Sum) Name() string    { return l.name }
func (l *Sum) Type() LayerType { return SumType }

func (l *Sum) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sum layer %q requires at least 1 input", l.name)
	}
	out := tensor.Clone(inputs[0])
	for _, in := range inputs[1:] {
		if err := tensor.Accumulate(out, in); err != nil {
			return nil, fmt.Errorf("sum layer %q: %v", l.name, err)
		}
	}
	return out, nil
}

// Train forwards the unmodified output gradient to every input. Each input
// receives its own copy so downstream accumulation cannot alias.
func (l *Sum) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sum layer %q requires at least 1 input", l.name)
	}
	grads := make([]*mat.Dense, len(inputs))
	for i := range inputs {
		grads[i] = tensor.Clone(grad)
	}
	return grads, nil
}

func (l *Sum) Spec() Spec {
	return Spec{Name: l.name, Type: "sum"}
}

func (l *Sum) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}
