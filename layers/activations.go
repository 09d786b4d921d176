package layers

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

// ReLU is the rectified linear activation y = max(0, x).
type ReLU struct {
	name string
}

// NewReLU creates a ReLU activation layer.
func NewReLU(name string) *ReLU {
	return &ReLU{name: name}
}

func (l *ReLU) Name() string    { return l.name }
func (l *ReLU) Type() LayerType { return ReLUType }

func (l *ReLU) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("relu layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}, inputs[0])
	return &y, nil
}

// Train gates the output gradient on the pre-activation sign.
func (l *ReLU) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("relu layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	x := inputs[0]
	if !tensor.SameShape(x, grad) {
		return nil, fmt.Errorf("relu layer %q gradient shape %v does not match input %v",
			l.name, tensor.Shape(grad), tensor.Shape(x))
	}
	var inGrad mat.Dense
	inGrad.Apply(func(i, j int, v float64) float64 {
		if x.At(i, j) > 0 {
			return v
		}
		return 0
	}, grad)
	return []*mat.Dense{&inGrad}, nil
}

func (l *ReLU) Spec() Spec {
	return Spec{Name: l.name, Type: "relu"}
}

func (l *ReLU) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}

// Tanh is the hyperbolic tangent activation.
type Tanh struct {
	name string
}

// NewTanh creates a tanh activation layer.
func NewTanh(name string) *Tanh {
	return &Tanh{name: name}
}

func (l *Tanh) Name() string    { return l.name }
func (l *Tanh) Type() LayerType { return TanhType }

func (l *Tanh) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("tanh layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v)
	}, inputs[0])
	return &y, nil
}

// Train scales the output gradient by 1−y², using the forward output.
func (l *Tanh) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("tanh layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	if !tensor.SameShape(output, grad) {
		return nil, fmt.Errorf("tanh layer %q gradient shape %v does not match output %v",
			l.name, tensor.Shape(grad), tensor.Shape(output))
	}
	var inGrad mat.Dense
	inGrad.Apply(func(i, j int, v float64) float64 {
		y := output.At(i, j)
		return v * (1 - y*y)
	}, grad)
	return []*mat.Dense{&inGrad}, nil
}

func (l *Tanh) Spec() Spec {
	return Spec{Name: l.name, Type: "tanh"}
}

func (l *Tanh) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}

// Softmax converts its input to a probability distribution at the given
// temperature. Lower temperatures sharpen the distribution.
type Softmax struct {
	name        string
	temperature float64
}

// NewSoftmax creates a softmax layer. The temperature must be positive.
func NewSoftmax(name string, temperature float64) (*Softmax, error) {
	if temperature <= 0 {
		return nil, fmt.Errorf("softmax layer %q temperature must be positive, got %g", name, temperature)
	}
	return &Softmax{name: name, temperature: temperature}, nil
}

func (l *Softmax) Name() string    { return l.name }
func (l *Softmax) Type() LayerType { return SoftmaxType }

// Temperature returns the softmax temperature.
func (l *Softmax) Temperature() float64 { return l.temperature }

func (l *Softmax) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	return tensor.Softmax(inputs[0], l.temperature), nil
}

// Train applies the softmax Jacobian: inGrad_i = y_i·(grad_i − Σ_j grad_j·y_j)/τ.
func (l *Softmax) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax layer %q requires exactly 1 input, got %d", l.name, len(inputs))
	}
	if !tensor.SameShape(output, grad) {
		return nil, fmt.Errorf("softmax layer %q gradient shape %v does not match output %v",
			l.name, tensor.Shape(grad), tensor.Shape(output))
	}
	r, c := output.Dims()
	inGrad := tensor.Zeros(r, c)
	for i := 0; i < r; i++ {
		dot := 0.0
		for j := 0; j < c; j++ {
			dot += grad.At(i, j) * output.At(i, j)
		}
		for j := 0; j < c; j++ {
			y := output.At(i, j)
			inGrad.Set(i, j, y*(grad.At(i, j)-dot)/l.temperature)
		}
	}
	return []*mat.Dense{inGrad}, nil
}

func (l *Softmax) Spec() Spec {
	return Spec{Name: l.name, Type: "softmax", Temperature: l.temperature}
}

func (l *Softmax) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{}
}
