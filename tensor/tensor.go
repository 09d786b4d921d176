// Package tensor holds the value conventions and shape utilities shared by the
// layer and network packages. Values are gonum *mat.Dense matrices with the
// batch dimension first; the online engine always runs single-sample, so
// activations are 1×n row vectors and dense parameters are m×n matrices.
package tensor

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// RowVector creates a 1×n tensor from the given values.
func RowVector(vs ...float64) *mat.Dense {
	data := make([]float64, len(vs))
	copy(data, vs)
	return mat.NewDense(1, len(vs), data)
}

// Zeros creates an r×c tensor filled with zeros.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Clone returns a copy of t that shares no backing storage with it.
func Clone(t *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(t)
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

// Shape returns the dimensions of t as a slice, outermost first.
func Shape(t mat.Matrix) []int {
	r, c := t.Dims()
	return []int{r, c}
}

// Flatten returns a copy of the elements of t in row-major order.
func Flatten(t *mat.Dense) []float64 {
	r, c := t.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, t.RawRowView(i)...)
	}
	return data
}

// FromShape builds a tensor of the given shape from row-major data. Only
// two-dimensional shapes are valid in this engine.
func FromShape(shape []int, data []float64) (*mat.Dense, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("shape must have 2 dimensions, got %v", shape)
	}
	r, c := shape[0], shape[1]
	if r <= 0 || c <= 0 {
		return nil, fmt.Errorf("shape dimensions must be positive, got %v", shape)
	}
	if len(data) != r*c {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	vals := make([]float64, len(data))
	copy(vals, data)
	return mat.NewDense(r, c, vals), nil
}

// OneHot returns a 1×n row vector with a single 1 at index i.
func OneHot(n, i int) (*mat.Dense, error) {
	if i < 0 || i >= n {
		return nil, fmt.Errorf("one-hot index %d out of range [0,%d)", i, n)
	}
	t := mat.NewDense(1, n, nil)
	t.Set(0, i, 1)
	return t, nil
}

// Uniform creates an r×c tensor with elements drawn uniformly from
// (-limit, limit).
func Uniform(r, c int, limit float64, rng *rand.Rand) *mat.Dense {
	t := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Set(i, j, (2*rng.Float64()-1)*limit)
		}
	}
	return t
}
