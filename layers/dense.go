package layers

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

// Dense is the fully connected layer y = x·w + b and the only trainable kind.
// It owns its bias, weight matrix and the matching eligibility traces for the
// whole online session; the traces are zeroed only at construction or load.
type Dense struct {
	name string

	b *mat.Dense // 1×n bias
	w *mat.Dense // m×n weights

	eb *mat.Dense // bias trace, shaped like b
	ew *mat.Dense // weight trace, shaped like w

	maxAbsWeight float64 // 0 disables clipping
}

// NewDense creates a dense layer with zero bias and traces and weights drawn
// uniformly from ±3/(fanIn+fanOut).
func NewDense(name string, inputSize, outputSize int, maxAbsWeight float64, rng *rand.Rand) (*Dense, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("dense layer %q sizes must be positive, got %d×%d", name, inputSize, outputSize)
	}
	limit := 3 / float64(inputSize+outputSize)
	return &Dense{
		name:         name,
		b:            tensor.Zeros(1, outputSize),
		w:            tensor.Uniform(inputSize, outputSize, limit, rng),
		eb:           tensor.Zeros(1, outputSize),
		ew:           tensor.Zeros(inputSize, outputSize),
		maxAbsWeight: maxAbsWeight,
	}, nil
}

func newDenseFromSpec(spec Spec, prefix string, params map[string]*mat.Dense, rng *rand.Rand) (*Dense, error) {
	d, err := NewDense(spec.Name, spec.InputSize, spec.OutputSize, spec.MaxAbsWeight, rng)
	if err != nil {
		return nil, err
	}
	if b, ok := params[paramKey(prefix, spec.Name, "b")]; ok {
		if !tensor.SameShape(b, d.b) {
			return nil, fmt.Errorf("bias of layer %q must have shape %v, got %v",
				spec.Name, tensor.Shape(d.b), tensor.Shape(b))
		}
		d.b = tensor.Clone(b)
	}
	if w, ok := params[paramKey(prefix, spec.Name, "w")]; ok {
		if !tensor.SameShape(w, d.w) {
			return nil, fmt.Errorf("weights of layer %q must have shape %v, got %v",
				spec.Name, tensor.Shape(d.w), tensor.Shape(w))
		}
		d.w = tensor.Clone(w)
	}
	return d, nil
}

func (d *Dense) Name() string    { return d.name }
func (d *Dense) Type() LayerType { return DenseType }

// InputSize returns the fan-in of the layer.
func (d *Dense) InputSize() int {
	r, _ := d.w.Dims()
	return r
}

// OutputSize returns the fan-out of the layer.
func (d *Dense) OutputSize() int {
	_, c := d.w.Dims()
	return c
}

// Bias returns a copy of the current bias.
func (d *Dense) Bias() *mat.Dense { return tensor.Clone(d.b) }

// Weights returns a copy of the current weight matrix.
func (d *Dense) Weights() *mat.Dense { return tensor.Clone(d.w) }

// BiasTrace returns a copy of the current bias eligibility trace.
func (d *Dense) BiasTrace() *mat.Dense { return tensor.Clone(d.eb) }

// WeightTrace returns a copy of the current weight eligibility trace.
func (d *Dense) WeightTrace() *mat.Dense { return tensor.Clone(d.ew) }

func (d *Dense) Forward(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("dense layer %q requires exactly 1 input, got %d", d.name, len(inputs))
	}
	x := inputs[0]
	if _, c := x.Dims(); c != d.InputSize() {
		return nil, fmt.Errorf("dense layer %q requires %d input features, got %d", d.name, d.InputSize(), c)
	}
	var y mat.Dense
	y.Mul(x, d.w)
	y.Add(&y, d.b)
	return &y, nil
}

// Train applies the eligibility-trace update:
//
//	eb ← eb·λ + grad
//	ew ← ew·λ + xᵀ·grad
//	b  ← b + eb·δ
//	w  ← w + ew·δ
//
// and returns the input gradient grad·wᵀ computed from the pre-update weights.
func (d *Dense) Train(inputs []*mat.Dense, output, grad *mat.Dense, delta, lambda float64) ([]*mat.Dense, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("dense layer %q requires exactly 1 input, got %d", d.name, len(inputs))
	}
	x := inputs[0]
	if !tensor.SameShape(grad, d.b) {
		return nil, fmt.Errorf("dense layer %q requires a 1×%d gradient, got %v",
			d.name, d.OutputSize(), tensor.Shape(grad))
	}

	var inGrad mat.Dense
	inGrad.Mul(grad, d.w.T())

	d.eb.Scale(lambda, d.eb)
	d.eb.Add(d.eb, grad)

	var outer mat.Dense
	outer.Mul(x.T(), grad)
	d.ew.Scale(lambda, d.ew)
	d.ew.Add(d.ew, &outer)

	var db, dw mat.Dense
	db.Scale(delta, d.eb)
	dw.Scale(delta, d.ew)
	d.b.Add(d.b, &db)
	d.w.Add(d.w, &dw)
	if d.maxAbsWeight > 0 {
		tensor.ClipInPlace(d.w, -d.maxAbsWeight, d.maxAbsWeight)
	}

	return []*mat.Dense{&inGrad}, nil
}

func (d *Dense) Spec() Spec {
	return Spec{
		Name:         d.name,
		Type:         "dense",
		InputSize:    d.InputSize(),
		OutputSize:   d.OutputSize(),
		MaxAbsWeight: d.maxAbsWeight,
	}
}

func (d *Dense) Params(prefix string) map[string]*mat.Dense {
	return map[string]*mat.Dense{
		paramKey(prefix, d.name, "b"): tensor.Clone(d.b),
		paramKey(prefix, d.name, "w"): tensor.Clone(d.w),
	}
}
