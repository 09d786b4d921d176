package training

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/layers"
	"github.com/tsawler/go-rover/network"
	"github.com/tsawler/go-rover/tensor"
)

// testAgentSpec wires the smallest useful agent: a parameterless critic that
// reads the one-feature state straight through, and a trainable dense policy
// with a single two-valued head.
func testAgentSpec() AgentSpec {
	return AgentSpec{
		RewardDecay: 0.9,
		ValueDecay:  0.9,
		RewardRange: Range{Min: -1, Max: 1},
		CriticAlpha: 0.1,
		Lambda:      0.5,
		State:       map[string]int{"s": 1},
		Actors: map[string]ActorSpec{
			"move": {NumValues: 2, Epsilon: 0.1, AlphaDecay: 0.9, PrefRange: Range{Min: -2, Max: 2}},
		},
		Critic: network.Spec{
			Layers: []layers.Spec{{Name: "output", Type: "linear", B: 0, W: 1}},
			Inputs: map[string][]string{"output": {"s"}},
		},
		Policy: network.Spec{
			Layers: []layers.Spec{{Name: "move", Type: "dense", InputSize: 1, OutputSize: 2}},
			Inputs: map[string][]string{"move": {"s"}},
		},
	}
}

func testAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := New(testAgentSpec(), nil, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func state(v float64) map[string]*mat.Dense {
	return map[string]*mat.Dense{"s": tensor.RowVector(v)}
}

func TestNewAgentValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(0))

	t.Run("Bad reward decay", func(t *testing.T) {
		spec := testAgentSpec()
		spec.RewardDecay = 1
		if _, err := New(spec, nil, rng); err == nil {
			t.Error("Expected error for rewardDecay outside (0,1)")
		}
	})

	t.Run("Critic output too wide", func(t *testing.T) {
		spec := testAgentSpec()
		spec.Critic = network.Spec{
			Layers: []layers.Spec{{Name: "output", Type: "dense", InputSize: 1, OutputSize: 2}},
			Inputs: map[string][]string{"output": {"s"}},
		}
		if _, err := New(spec, nil, rng); err == nil {
			t.Error("Expected error for a critic without a 1-wide output")
		}
	})

	t.Run("Policy head width mismatch", func(t *testing.T) {
		spec := testAgentSpec()
		spec.Policy = network.Spec{
			Layers: []layers.Spec{{Name: "move", Type: "dense", InputSize: 1, OutputSize: 3}},
			Inputs: map[string][]string{"move": {"s"}},
		}
		if _, err := New(spec, nil, rng); err == nil {
			t.Error("Expected error for a head not matching its NumValues")
		}
	})
}

func TestAct(t *testing.T) {
	a := testAgent(t)
	res, err := a.Act(state(0.5))
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	action, ok := res.Actions["move"]
	if !ok {
		t.Fatal("Act returned no action for head move")
	}
	if action < 0 || action >= 2 {
		t.Errorf("action %d out of range", action)
	}
	pi := res.Pi["move"]
	if sum := pi.At(0, 0) + pi.At(0, 1); math.Abs(sum-1) > tolerance {
		t.Errorf("distribution sums to %v, expected 1", sum)
	}
}

// TestTrainResidualAdvantage checks the bootstrapped target and TD error
// against hand-computed values. The critic is an identity map over the state,
// so v0 = 0.5 and v1 = 0.25 on the [-1,1] reward scale.
func TestTrainResidualAdvantage(t *testing.T) {
	a := testAgent(t)
	fb := Feedback{
		State0:  state(0.5),
		State1:  state(0.25),
		Actions: map[string]int{"move": 0},
		Reward:  1,
	}
	res, err := a.Train(fb)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	t.Run("Values", func(t *testing.T) {
		if math.Abs(res.V0-0.5) > tolerance {
			t.Errorf("V0 = %v, expected 0.5", res.V0)
		}
		if math.Abs(res.V1-0.25) > tolerance {
			t.Errorf("V1 = %v, expected 0.25", res.V1)
		}
	})

	t.Run("Target and delta", func(t *testing.T) {
		// (v1 + r - avg)·0.9 + avg·0.1 with avg = 0.
		if math.Abs(res.Target-1.125) > tolerance {
			t.Errorf("Target = %v, expected 1.125", res.Target)
		}
		if math.Abs(res.Delta-0.625) > tolerance {
			t.Errorf("Delta = %v, expected 0.625", res.Delta)
		}
	})

	t.Run("Average reward", func(t *testing.T) {
		if math.Abs(res.AvgReward-0.1) > tolerance {
			t.Errorf("AvgReward = %v, expected 0.1", res.AvgReward)
		}
		if math.Abs(a.AvgReward()-0.1) > tolerance {
			t.Errorf("agent AvgReward = %v, expected 0.1", a.AvgReward())
		}
	})

	t.Run("Critic label clipped to the bounded range", func(t *testing.T) {
		if res.CriticLabel != 1 {
			t.Errorf("CriticLabel = %v, expected 1", res.CriticLabel)
		}
	})

	t.Run("Diagnostics", func(t *testing.T) {
		if _, ok := res.Critic["output"]; !ok {
			t.Error("missing critic activation map")
		}
		ar, ok := res.Actors["move"]
		if !ok {
			t.Fatal("missing actor result for head move")
		}
		var diff mat.Dense
		diff.Sub(ar.Updated, ar.Preferences)
		if !mat.EqualApprox(&diff, ar.DeltaH, tolerance) {
			t.Error("Updated preferences do not equal Preferences + DeltaH")
		}
	})

	t.Run("Step counter", func(t *testing.T) {
		if a.Steps() != 1 {
			t.Errorf("Steps = %d, expected 1", a.Steps())
		}
	})
}

func TestTrainTerminal(t *testing.T) {
	a := testAgent(t)
	fb := Feedback{
		State0:   state(0.5),
		Actions:  map[string]int{"move": 1},
		Reward:   -1,
		Terminal: true,
	}
	res, err := a.Train(fb)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if res.V1 != 0 {
		t.Errorf("V1 = %v, expected 0 on terminal feedback", res.V1)
	}
	// (0 - 1 - 0)·0.9 + 0·0.1 = -0.9.
	if math.Abs(res.Target+0.9) > tolerance {
		t.Errorf("Target = %v, expected -0.9", res.Target)
	}
}

func TestTrainMissingAction(t *testing.T) {
	a := testAgent(t)
	fb := Feedback{
		State0:  state(0.5),
		State1:  state(0.25),
		Actions: map[string]int{},
		Reward:  1,
	}
	if _, err := a.Train(fb); err == nil {
		t.Error("Expected error for feedback without the head's action")
	}
}

func TestTrainMovesPolicy(t *testing.T) {
	a := testAgent(t)
	before := a.Params()["policy.move.w"]
	fb := Feedback{
		State0:  state(0.5),
		State1:  state(0.25),
		Actions: map[string]int{"move": 0},
		Reward:  1,
	}
	if _, err := a.Train(fb); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	after := a.Params()["policy.move.w"]
	if mat.Equal(before, after) {
		t.Error("policy weights unchanged by a non-zero TD error")
	}
}

func TestParamsPrefixes(t *testing.T) {
	a := testAgent(t)
	params := a.Params()
	if len(params) == 0 {
		t.Fatal("Params returned no parameters")
	}
	for name := range params {
		if !strings.HasPrefix(name, "policy.") && !strings.HasPrefix(name, "critic.") {
			t.Errorf("parameter %q has no network prefix", name)
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	a := testAgent(t)
	fb := Feedback{
		State0:  state(0.5),
		State1:  state(0.25),
		Actions: map[string]int{"move": 0},
		Reward:  1,
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Train(fb); err != nil {
			t.Fatalf("Train failed: %v", err)
		}
	}

	cp := a.Checkpoint()
	restored, err := New(testAgentSpec(), cp, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("New from checkpoint failed: %v", err)
	}

	t.Run("Training state", func(t *testing.T) {
		if restored.Steps() != a.Steps() {
			t.Errorf("Steps = %d, expected %d", restored.Steps(), a.Steps())
		}
		if math.Abs(restored.AvgReward()-a.AvgReward()) > tolerance {
			t.Errorf("AvgReward = %v, expected %v", restored.AvgReward(), a.AvgReward())
		}
		if math.Abs(restored.Actor("move").Alpha()-a.Actor("move").Alpha()) > tolerance {
			t.Errorf("alpha = %v, expected %v", restored.Actor("move").Alpha(), a.Actor("move").Alpha())
		}
	})

	t.Run("Weights", func(t *testing.T) {
		want := a.Params()
		got := restored.Params()
		for name, w := range want {
			g, ok := got[name]
			if !ok {
				t.Fatalf("missing parameter %q after restore", name)
			}
			if !mat.EqualApprox(g, w, tolerance) {
				t.Errorf("parameter %q differs after restore", name)
			}
		}
	})

	t.Run("Same policy", func(t *testing.T) {
		p1, err := a.policy.Forward(state(0.3))
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		p2, err := restored.policy.Forward(state(0.3))
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if !mat.EqualApprox(p1["move"], p2["move"], tolerance) {
			t.Error("restored policy produces different outputs")
		}
	})
}
