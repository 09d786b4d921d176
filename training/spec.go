// Package training implements the online actor-critic TD(λ) protocol on top
// of the network executor. Each feedback event (state0, action, reward,
// state1) produces exactly one single-sample update: a bootstrapped
// residual-advantage target for the critic, a scalar TD error, and a
// probability-error-driven preference update with a self-normalizing step
// size for every discrete action head.
package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/network"
)

// criticOutput is the name of the critic network's value sink.
const criticOutput = "output"

// Range is a closed numeric interval used to map the networks' bounded
// outputs onto true value scales.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) validate() error {
	if !(r.Min < r.Max) {
		return fmt.Errorf("range lower bound %g must be below upper bound %g", r.Min, r.Max)
	}
	return nil
}

// denormalize maps a bounded network output in [-1, 1] onto the range.
func (r Range) denormalize(v float64) float64 {
	v = math.Min(math.Max(v, -1), 1)
	return (v+1)/2*(r.Max-r.Min) + r.Min
}

// normalize maps a value in the range back onto [-1, 1].
func (r Range) normalize(v float64) float64 {
	v = math.Min(math.Max(v, r.Min), r.Max)
	return (v-r.Min)/(r.Max-r.Min)*2 - 1
}

// ActorSpec configures one discrete action head.
type ActorSpec struct {
	// NumValues is the number of discrete action values.
	NumValues int `json:"numValues"`

	// Epsilon is the target magnitude of preference updates; the adaptive
	// step size converges towards Epsilon/RMS(ΔH).
	Epsilon float64 `json:"epsilon,omitempty"`

	// AlphaDecay is the geometric decay (close to 1) of the adaptive step
	// size and of its running mean-square denominator.
	AlphaDecay float64 `json:"alphaDecay"`

	// Alpha is the initial adaptive step size; defaults to Epsilon.
	Alpha float64 `json:"alpha,omitempty"`

	// PrefRange is the preference interval the bounded head output is
	// scaled onto before softmax.
	PrefRange Range `json:"prefRange"`
}

// DefaultEpsilon is the preference update target magnitude used when an
// actor spec leaves Epsilon unset.
const DefaultEpsilon = 0.1

// AgentSpec is the document tree configuring an actor-critic agent: the
// protocol hyperparameters, the external state layout, the discrete action
// heads and the two network graphs.
type AgentSpec struct {
	// RewardDecay is the running average reward decay, close to 1.
	RewardDecay float64 `json:"rewardDecay"`

	// ValueDecay blends the bootstrapped critic target with the average
	// reward baseline, close to 1.
	ValueDecay float64 `json:"valueDecay"`

	// RewardRange denormalizes the critic's bounded output to the true
	// reward scale.
	RewardRange Range `json:"rewardRange"`

	// CriticAlpha is the critic's fixed step size.
	CriticAlpha float64 `json:"criticAlpha"`

	// Lambda is the eligibility trace decay factor.
	Lambda float64 `json:"lambda"`

	// State maps each external source label to its feature width.
	State map[string]int `json:"state"`

	// Actors maps each policy sink to its action head configuration.
	Actors map[string]ActorSpec `json:"actors"`

	Critic network.Spec `json:"critic"`
	Policy network.Spec `json:"policy"`
}

func (s AgentSpec) validate() error {
	if s.RewardDecay <= 0 || s.RewardDecay >= 1 {
		return fmt.Errorf("rewardDecay must be in (0,1), got %g", s.RewardDecay)
	}
	if s.ValueDecay <= 0 || s.ValueDecay >= 1 {
		return fmt.Errorf("valueDecay must be in (0,1), got %g", s.ValueDecay)
	}
	if err := s.RewardRange.validate(); err != nil {
		return fmt.Errorf("rewardRange: %v", err)
	}
	if s.CriticAlpha <= 0 {
		return fmt.Errorf("criticAlpha must be positive, got %g", s.CriticAlpha)
	}
	if s.Lambda < 0 || s.Lambda > 1 {
		return fmt.Errorf("lambda must be in [0,1], got %g", s.Lambda)
	}
	if len(s.State) == 0 {
		return fmt.Errorf("state layout must not be empty")
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("at least one action head is required")
	}
	return nil
}

// Feedback is one transient experience record, consumed and discarded after
// producing a single update.
type Feedback struct {
	State0   map[string]*mat.Dense
	Actions  map[string]int
	Reward   float64
	State1   map[string]*mat.Dense
	Terminal bool
}
