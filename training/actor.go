package training

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

// rmsFloor is the lower bound on the root-mean-square preference update
// magnitude used when adapting the step size.
const rmsFloor = 1e-3

// DiscreteActor maps one bounded policy head onto a discrete action
// distribution and adapts its own preference step size so the average
// preference update magnitude tracks epsilon.
type DiscreteActor struct {
	name       string
	numValues  int
	epsilon    float64
	alphaDecay float64
	prefRange  Range

	alpha     float64
	meanSqErr float64
}

// NewDiscreteActor builds an action head from its spec.
func NewDiscreteActor(name string, spec ActorSpec) (*DiscreteActor, error) {
	if spec.NumValues < 2 {
		return nil, fmt.Errorf("actor %q must have at least 2 values, got %d", name, spec.NumValues)
	}
	if spec.AlphaDecay <= 0 || spec.AlphaDecay >= 1 {
		return nil, fmt.Errorf("actor %q alphaDecay must be in (0,1), got %g", name, spec.AlphaDecay)
	}
	if err := spec.PrefRange.validate(); err != nil {
		return nil, fmt.Errorf("actor %q prefRange: %v", name, err)
	}
	eps := spec.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	if eps < 0 {
		return nil, fmt.Errorf("actor %q epsilon must be positive, got %g", name, eps)
	}
	alpha := spec.Alpha
	if alpha == 0 {
		alpha = eps
	}
	if alpha < 0 {
		return nil, fmt.Errorf("actor %q alpha must be positive, got %g", name, alpha)
	}
	return &DiscreteActor{
		name:       name,
		numValues:  spec.NumValues,
		epsilon:    eps,
		alphaDecay: spec.AlphaDecay,
		prefRange:  spec.PrefRange,
		alpha:      alpha,
	}, nil
}

// Name returns the policy sink label this actor reads.
func (a *DiscreteActor) Name() string { return a.name }

// NumValues returns the number of discrete action values.
func (a *DiscreteActor) NumValues() int { return a.numValues }

// Alpha returns the current adaptive step size.
func (a *DiscreteActor) Alpha() float64 { return a.alpha }

// setAlpha restores the adaptive step size from a checkpoint.
func (a *DiscreteActor) setAlpha(alpha float64) { a.alpha = alpha }

// preferences scales the bounded head output onto the preference range and
// centers it so preferences are identifiable up to the softmax shift.
func (a *DiscreteActor) preferences(out *mat.Dense) *mat.Dense {
	h := tensor.Linmap(out, -1, 1, a.prefRange.Min, a.prefRange.Max)
	mean := tensor.Mean(h)
	var centered mat.Dense
	centered.Apply(func(_, _ int, v float64) float64 { return v - mean }, h)
	return &centered
}

// Pi returns the action distribution induced by the head output.
func (a *DiscreteActor) Pi(out *mat.Dense) *mat.Dense {
	return tensor.Softmax(a.preferences(out), 1)
}

// ChooseAction samples an action index from the head distribution.
func (a *DiscreteActor) ChooseAction(out *mat.Dense, rng *rand.Rand) int {
	pi := a.Pi(out)
	x := rng.Float64()
	cdf := 0.0
	for i := 0; i < a.numValues; i++ {
		cdf += pi.At(0, i)
		if x < cdf {
			return i
		}
	}
	return a.numValues - 1
}

// ActorResult captures the intermediate quantities of one preference update.
type ActorResult struct {
	// Preferences is the centered preference vector before the update.
	Preferences *mat.Dense
	// Pi is the action distribution before the update.
	Pi *mat.Dense
	// DeltaH is the preference change z·δ·α.
	DeltaH *mat.Dense
	// Updated is Preferences + DeltaH.
	Updated *mat.Dense
	// Label is Updated mapped back onto the bounded output scale.
	Label *mat.Dense
	// Alpha is the step size after adaptation.
	Alpha float64
}

// computeUpdate produces the network gradient for the chosen action and the
// associated diagnostics, and adapts the step size from the raw preference
// change magnitude.
func (a *DiscreteActor) computeUpdate(out *mat.Dense, action int, delta float64) (*mat.Dense, ActorResult, error) {
	_, cols := out.Dims()
	if cols != a.numValues {
		return nil, ActorResult{}, fmt.Errorf("actor %q expects %d values, head produced %d", a.name, a.numValues, cols)
	}
	if action < 0 || action >= a.numValues {
		return nil, ActorResult{}, fmt.Errorf("actor %q action %d out of range [0,%d)", a.name, action, a.numValues)
	}

	h := a.preferences(out)
	pi := tensor.Softmax(h, 1)

	onehot, err := tensor.OneHot(a.numValues, action)
	if err != nil {
		return nil, ActorResult{}, err
	}
	var z mat.Dense
	z.Sub(onehot, pi)

	// The network applies the scalar TD error itself, so the head gradient
	// carries only z scaled by the step size in force for this event.
	var grad mat.Dense
	grad.Scale(a.alpha, &z)

	var deltaH mat.Dense
	deltaH.Scale(delta, &grad)

	var updated mat.Dense
	updated.Add(h, &deltaH)

	// Re-center the updated preferences and map them back to the bounded
	// output scale for diagnostics.
	mean := tensor.Mean(&updated)
	var recentered mat.Dense
	recentered.Apply(func(_, _ int, v float64) float64 { return v - mean }, &updated)
	label := tensor.Linmap(&recentered, a.prefRange.Min, a.prefRange.Max, -1, 1)

	// Adapt the step size towards epsilon / RMS(ΔH).
	sq := 0.0
	for i := 0; i < a.numValues; i++ {
		d := deltaH.At(0, i)
		sq += d * d
	}
	sq /= float64(a.numValues)
	a.meanSqErr = a.meanSqErr*a.alphaDecay + sq*(1-a.alphaDecay)
	rms := math.Max(math.Sqrt(a.meanSqErr), rmsFloor)
	a.alpha = a.alpha*a.alphaDecay + a.epsilon/rms*(1-a.alphaDecay)

	return &grad, ActorResult{
		Preferences: h,
		Pi:          pi,
		DeltaH:      &deltaH,
		Updated:     &updated,
		Label:       label,
		Alpha:       a.alpha,
	}, nil
}
