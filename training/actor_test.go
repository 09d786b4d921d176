package training

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/tensor"
)

const tolerance = 1e-9

func testActor(t *testing.T, spec ActorSpec) *DiscreteActor {
	t.Helper()
	a, err := NewDiscreteActor("move", spec)
	if err != nil {
		t.Fatalf("NewDiscreteActor failed: %v", err)
	}
	return a
}

func TestNewDiscreteActor(t *testing.T) {
	valid := ActorSpec{NumValues: 3, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}}

	t.Run("Defaults", func(t *testing.T) {
		a := testActor(t, valid)
		if a.Alpha() != DefaultEpsilon {
			t.Errorf("Alpha = %v, expected the default epsilon %v", a.Alpha(), DefaultEpsilon)
		}
	})

	t.Run("Too few values", func(t *testing.T) {
		spec := valid
		spec.NumValues = 1
		if _, err := NewDiscreteActor("move", spec); err == nil {
			t.Error("Expected error for a single-valued head")
		}
	})

	t.Run("Bad alpha decay", func(t *testing.T) {
		spec := valid
		spec.AlphaDecay = 1.5
		if _, err := NewDiscreteActor("move", spec); err == nil {
			t.Error("Expected error for alphaDecay outside (0,1)")
		}
	})

	t.Run("Bad preference range", func(t *testing.T) {
		spec := valid
		spec.PrefRange = Range{Min: 2, Max: -2}
		if _, err := NewDiscreteActor("move", spec); err == nil {
			t.Error("Expected error for inverted preference range")
		}
	})
}

func TestPreferences(t *testing.T) {
	a := testActor(t, ActorSpec{NumValues: 3, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}})

	t.Run("Centered", func(t *testing.T) {
		h := a.preferences(tensor.RowVector(1, 0, -0.5))
		if m := tensor.Mean(h); math.Abs(m) > tolerance {
			t.Errorf("mean preference = %v, expected 0", m)
		}
	})

	t.Run("Scaled onto the range", func(t *testing.T) {
		// Endpoints of a symmetric output land on the range endpoints.
		h := a.preferences(tensor.RowVector(-1, 0, 1))
		expected := tensor.RowVector(-2, 0, 2)
		if !mat.EqualApprox(h, expected, tolerance) {
			t.Errorf("preferences = %v, expected %v", mat.Formatted(h), mat.Formatted(expected))
		}
	})
}

func TestPi(t *testing.T) {
	a := testActor(t, ActorSpec{NumValues: 3, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}})
	pi := a.Pi(tensor.RowVector(0.5, -0.5, 0))

	sum := 0.0
	for i := 0; i < 3; i++ {
		sum += pi.At(0, i)
	}
	if math.Abs(sum-1) > tolerance {
		t.Errorf("distribution sums to %v, expected 1", sum)
	}
	if !(pi.At(0, 0) > pi.At(0, 2) && pi.At(0, 2) > pi.At(0, 1)) {
		t.Errorf("distribution %v does not preserve the preference order", mat.Formatted(pi))
	}
}

func TestChooseAction(t *testing.T) {
	rng := rand.New(rand.NewSource(17))

	t.Run("Valid index", func(t *testing.T) {
		a := testActor(t, ActorSpec{NumValues: 4, AlphaDecay: 0.9, PrefRange: Range{Min: -1, Max: 1}})
		out := tensor.RowVector(0.1, -0.3, 0.7, 0)
		for i := 0; i < 100; i++ {
			action := a.ChooseAction(out, rng)
			if action < 0 || action >= 4 {
				t.Fatalf("action %d out of range", action)
			}
		}
	})

	t.Run("Dominant preference wins", func(t *testing.T) {
		// A wide preference range makes the softmax effectively greedy.
		a := testActor(t, ActorSpec{NumValues: 2, AlphaDecay: 0.9, PrefRange: Range{Min: -20, Max: 20}})
		out := tensor.RowVector(1, -1)
		for i := 0; i < 100; i++ {
			if action := a.ChooseAction(out, rng); action != 0 {
				t.Fatalf("action = %d, expected the dominant 0", action)
			}
		}
	})
}

func TestComputeUpdate(t *testing.T) {
	spec := ActorSpec{NumValues: 2, Epsilon: 0.1, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}}
	out := tensor.RowVector(0.5, -0.5)

	t.Run("Gradient matches the preference change", func(t *testing.T) {
		a := testActor(t, spec)
		alpha0 := a.Alpha()
		delta := 0.25
		grad, res, err := a.computeUpdate(out, 0, delta)
		if err != nil {
			t.Fatalf("computeUpdate failed: %v", err)
		}

		// ΔH = grad·δ, with grad = z·α using the step size before adaptation.
		var expected mat.Dense
		expected.Scale(delta, grad)
		if !mat.EqualApprox(res.DeltaH, &expected, tolerance) {
			t.Errorf("DeltaH = %v, expected grad·delta %v", mat.Formatted(res.DeltaH), mat.Formatted(&expected))
		}

		var z mat.Dense
		z.Sub(res.Updated, res.Preferences)
		var scaled mat.Dense
		scaled.Scale(1/(alpha0*delta), &z)
		// z pushes probability towards the chosen action.
		if scaled.At(0, 0) <= 0 || scaled.At(0, 1) >= 0 {
			t.Errorf("probability error %v does not favor the chosen action", mat.Formatted(&scaled))
		}
	})

	t.Run("Label stays in the bounded range", func(t *testing.T) {
		a := testActor(t, spec)
		_, res, err := a.computeUpdate(out, 1, 2)
		if err != nil {
			t.Fatalf("computeUpdate failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if v := res.Label.At(0, i); v < -1 || v > 1 {
				t.Errorf("label[%d] = %v outside [-1,1]", i, v)
			}
		}
	})

	t.Run("Action out of range", func(t *testing.T) {
		a := testActor(t, spec)
		if _, _, err := a.computeUpdate(out, 2, 0.1); err == nil {
			t.Error("Expected error for out-of-range action")
		}
	})

	t.Run("Head width mismatch", func(t *testing.T) {
		a := testActor(t, spec)
		if _, _, err := a.computeUpdate(tensor.RowVector(1, 2, 3), 0, 0.1); err == nil {
			t.Error("Expected error for head width mismatch")
		}
	})
}

// TestAlphaConvergence drives the head with a constant output and TD error, so
// the probability error z is constant, and checks that the adaptive step size
// settles on the fixed point of alpha = epsilon/RMS(z·delta·alpha).
func TestAlphaConvergence(t *testing.T) {
	a := testActor(t, ActorSpec{NumValues: 2, Epsilon: 0.1, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}})
	out := tensor.RowVector(0.5, -0.5)
	delta := 1.0

	for i := 0; i < 5000; i++ {
		if _, _, err := a.computeUpdate(out, 0, delta); err != nil {
			t.Fatalf("computeUpdate failed: %v", err)
		}
	}

	rms := math.Max(math.Sqrt(a.meanSqErr), rmsFloor)
	fixedPoint := a.epsilon / rms
	if math.Abs(a.Alpha()-fixedPoint)/fixedPoint > 1e-6 {
		t.Errorf("alpha = %v, expected the fixed point %v", a.Alpha(), fixedPoint)
	}

	// The fixed point itself: alpha² = epsilon/(delta·RMS(z)).
	pi := a.Pi(out)
	z0 := 1 - pi.At(0, 0)
	z1 := -pi.At(0, 1)
	rmsZ := math.Sqrt((z0*z0 + z1*z1) / 2)
	expected := math.Sqrt(a.epsilon / (delta * rmsZ))
	if math.Abs(a.Alpha()-expected)/expected > 1e-3 {
		t.Errorf("alpha = %v, expected about %v", a.Alpha(), expected)
	}
}
