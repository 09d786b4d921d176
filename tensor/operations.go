package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accumulate adds src into dst elementwise. Used to merge the gradients that
// fan-out nodes receive from multiple consumers.
func Accumulate(dst, src *mat.Dense) error {
	if !SameShape(dst, src) {
		return fmt.Errorf("cannot accumulate %v into %v", Shape(src), Shape(dst))
	}
	dst.Add(dst, src)
	return nil
}

// Concat concatenates row vectors along the feature axis in the given order.
func Concat(ts []*mat.Dense) (*mat.Dense, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("cannot concatenate zero tensors")
	}
	rows, _ := ts[0].Dims()
	cols := 0
	for _, t := range ts {
		r, c := t.Dims()
		if r != rows {
			return nil, fmt.Errorf("concat batch sizes must match: %d vs %d", rows, r)
		}
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	off := 0
	for _, t := range ts {
		_, c := t.Dims()
		out.Slice(0, rows, off, off+c).(*mat.Dense).Copy(t)
		off += c
	}
	return out, nil
}

// SplitCols slices t into consecutive column blocks of the given widths,
// the inverse of Concat. The returned tensors share no storage with t.
func SplitCols(t *mat.Dense, widths []int) ([]*mat.Dense, error) {
	rows, cols := t.Dims()
	total := 0
	for _, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("split widths must be positive, got %v", widths)
		}
		total += w
	}
	if total != cols {
		return nil, fmt.Errorf("split widths %v do not cover %d columns", widths, cols)
	}
	out := make([]*mat.Dense, len(widths))
	off := 0
	for i, w := range widths {
		out[i] = mat.DenseCopyOf(t.Slice(0, rows, off, off+w))
		off += w
	}
	return out, nil
}

// Softmax computes softmax(x/temperature) row by row. The scaled logits are
// shifted by their maximum before exponentiation so large preferences cannot
// overflow.
func Softmax(x *mat.Dense, temperature float64) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		scaled := make([]float64, c)
		for j, v := range row {
			scaled[j] = v / temperature
		}
		max := floats.Max(scaled)
		sum := 0.0
		dst := out.RawRowView(i)
		for j, v := range scaled {
			dst[j] = math.Exp(v - max)
			sum += dst[j]
		}
		floats.Scale(1/sum, dst)
	}
	return out
}

// ClipInPlace bounds every element of t to the interval [lo, hi].
func ClipInPlace(t *mat.Dense, lo, hi float64) {
	t.Apply(func(_, _ int, v float64) float64 {
		return math.Min(math.Max(v, lo), hi)
	}, t)
}

// Linmap maps t linearly from [fromLo, fromHi] onto [toLo, toHi] after
// clipping to the source interval.
func Linmap(t *mat.Dense, fromLo, fromHi, toLo, toHi float64) *mat.Dense {
	m := (toHi - toLo) / (fromHi - fromLo)
	out := Clone(t)
	out.Apply(func(_, _ int, v float64) float64 {
		v = math.Min(math.Max(v, fromLo), fromHi)
		return (v-fromLo)*m + toLo
	}, out)
	return out
}

// Mean returns the arithmetic mean of the elements of t.
func Mean(t *mat.Dense) float64 {
	r, c := t.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		sum += floats.Sum(t.RawRowView(i))
	}
	return sum / float64(r*c)
}
