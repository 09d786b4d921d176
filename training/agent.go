package training

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/checkpoints"
	"github.com/tsawler/go-rover/network"
	"github.com/tsawler/go-rover/tensor"
)

// Parameter prefixes separating the two network graphs in checkpoints.
const (
	criticPrefix = "critic"
	policyPrefix = "policy"
)

// Agent binds a critic network, a policy network and a set of discrete
// action heads into the online actor-critic TD(λ) protocol.
type Agent struct {
	spec   AgentSpec
	critic *network.Network
	policy *network.Network
	actors map[string]*DiscreteActor
	// actorNames is the deterministic head processing order.
	actorNames []string

	avgReward float64
	steps     int64
	rng       *rand.Rand
}

// New builds an agent from its spec, restoring weights and training state
// from the checkpoint when one is given, or initializing weights randomly.
func New(spec AgentSpec, cp *checkpoints.Checkpoint, rng *rand.Rand) (*Agent, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent spec: %v", err)
	}

	var params map[string]*mat.Dense
	if cp != nil {
		var err error
		params, err = cp.Params()
		if err != nil {
			return nil, fmt.Errorf("failed to restore checkpoint weights: %v", err)
		}
	}

	critic, err := network.New(spec.Critic, criticPrefix, params, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build critic network: %v", err)
	}
	policy, err := network.New(spec.Policy, policyPrefix, params, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy network: %v", err)
	}

	if err := critic.Validate(spec.State, map[string]int{criticOutput: 1}); err != nil {
		return nil, fmt.Errorf("critic network does not fit state layout: %v", err)
	}
	policyOutputs := make(map[string]int, len(spec.Actors))
	for name, as := range spec.Actors {
		policyOutputs[name] = as.NumValues
	}
	if err := policy.Validate(spec.State, policyOutputs); err != nil {
		return nil, fmt.Errorf("policy network does not fit state layout: %v", err)
	}

	actors := make(map[string]*DiscreteActor, len(spec.Actors))
	names := make([]string, 0, len(spec.Actors))
	for name, as := range spec.Actors {
		actor, err := NewDiscreteActor(name, as)
		if err != nil {
			return nil, err
		}
		actors[name] = actor
		names = append(names, name)
	}
	sort.Strings(names)

	a := &Agent{
		spec:       spec,
		critic:     critic,
		policy:     policy,
		actors:     actors,
		actorNames: names,
		rng:        rng,
	}
	if cp != nil {
		a.avgReward = cp.TrainingState.AvgReward
		a.steps = cp.TrainingState.Steps
		for name, alpha := range cp.TrainingState.Alphas {
			if actor, ok := actors[name]; ok && alpha > 0 {
				actor.setAlpha(alpha)
			}
		}
	}
	return a, nil
}

// Spec returns the agent configuration.
func (a *Agent) Spec() AgentSpec { return a.spec }

// AvgReward returns the running average reward baseline.
func (a *Agent) AvgReward() float64 { return a.avgReward }

// Steps returns the number of training events processed.
func (a *Agent) Steps() int64 { return a.steps }

// Actor returns the named action head, or nil.
func (a *Agent) Actor(name string) *DiscreteActor { return a.actors[name] }

// ActResult carries one policy decision together with the distributions it
// was sampled from.
type ActResult struct {
	// Actions maps each head to the sampled action index.
	Actions map[string]int
	// Pi maps each head to the distribution the action was drawn from.
	Pi map[string]*mat.Dense
}

// Act runs the policy on the given state and samples one action per head.
func (a *Agent) Act(state map[string]*mat.Dense) (ActResult, error) {
	results, err := a.policy.Forward(state)
	if err != nil {
		return ActResult{}, fmt.Errorf("failed to run policy: %v", err)
	}
	res := ActResult{
		Actions: make(map[string]int, len(a.actors)),
		Pi:      make(map[string]*mat.Dense, len(a.actors)),
	}
	for _, name := range a.actorNames {
		actor := a.actors[name]
		out, ok := results[name]
		if !ok {
			return ActResult{}, fmt.Errorf("policy produced no output for head %q", name)
		}
		res.Pi[name] = actor.Pi(out)
		res.Actions[name] = actor.ChooseAction(out, a.rng)
	}
	return res, nil
}

// Value runs the critic on the given state and returns the estimated value
// on the true reward scale.
func (a *Agent) Value(state map[string]*mat.Dense) (float64, error) {
	results, err := a.critic.Forward(state)
	if err != nil {
		return 0, fmt.Errorf("failed to run critic: %v", err)
	}
	out, ok := results[criticOutput]
	if !ok {
		return 0, fmt.Errorf("critic produced no %q output", criticOutput)
	}
	return a.spec.RewardRange.denormalize(out.At(0, 0)), nil
}

// TrainResult reports the quantities of one training event.
type TrainResult struct {
	// V0 and V1 are the critic estimates for the two states, on the true
	// reward scale. V1 is zero for terminal events.
	V0, V1 float64
	// Target is the bootstrapped residual-advantage target for V0.
	Target float64
	// Delta is the TD error Target - V0.
	Delta float64
	// AvgReward is the reward baseline after the update.
	AvgReward float64
	// CriticLabel is the target mapped back onto the critic output scale.
	CriticLabel float64
	// Actors reports the per-head preference updates.
	Actors map[string]ActorResult
	// Critic and Policy are the full activation maps for state0, before
	// the update.
	Critic map[string]*mat.Dense
	Policy map[string]*mat.Dense
}

// Train consumes one feedback event and applies a single TD(λ) update to
// both networks.
func (a *Agent) Train(fb Feedback) (TrainResult, error) {
	res0, err := a.critic.Forward(fb.State0)
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to run critic on state0: %v", err)
	}
	v0 := a.spec.RewardRange.denormalize(res0[criticOutput].At(0, 0))

	v1 := 0.0
	if !fb.Terminal {
		res1, err := a.critic.Forward(fb.State1)
		if err != nil {
			return TrainResult{}, fmt.Errorf("failed to run critic on state1: %v", err)
		}
		v1 = a.spec.RewardRange.denormalize(res1[criticOutput].At(0, 0))
	}

	target := (v1+fb.Reward-a.avgReward)*a.spec.ValueDecay + a.avgReward*(1-a.spec.ValueDecay)
	delta := target - v0
	a.avgReward = a.avgReward*a.spec.RewardDecay + fb.Reward*(1-a.spec.RewardDecay)

	criticGrad := tensor.Zeros(1, 1)
	criticGrad.Set(0, 0, a.spec.CriticAlpha)
	if _, err := a.critic.Train(res0, map[string]*mat.Dense{criticOutput: criticGrad}, delta, a.spec.Lambda); err != nil {
		return TrainResult{}, fmt.Errorf("failed to train critic: %v", err)
	}

	resP, err := a.policy.Forward(fb.State0)
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to run policy on state0: %v", err)
	}

	headGrads := make(map[string]*mat.Dense, len(a.actors))
	actorResults := make(map[string]ActorResult, len(a.actors))
	for _, name := range a.actorNames {
		actor := a.actors[name]
		action, ok := fb.Actions[name]
		if !ok {
			return TrainResult{}, fmt.Errorf("feedback is missing action for head %q", name)
		}
		grad, ar, err := actor.computeUpdate(resP[name], action, delta)
		if err != nil {
			return TrainResult{}, err
		}
		headGrads[name] = grad
		actorResults[name] = ar
	}
	if _, err := a.policy.Train(resP, headGrads, delta, a.spec.Lambda); err != nil {
		return TrainResult{}, fmt.Errorf("failed to train policy: %v", err)
	}

	a.steps++

	return TrainResult{
		V0:          v0,
		V1:          v1,
		Target:      target,
		Delta:       delta,
		AvgReward:   a.avgReward,
		CriticLabel: a.spec.RewardRange.normalize(target),
		Actors:      actorResults,
		Critic:      res0,
		Policy:      resP,
	}, nil
}

// Params returns all network parameters keyed by prefixed dotted names.
func (a *Agent) Params() map[string]*mat.Dense {
	params := a.critic.Parameters(criticPrefix)
	for k, v := range a.policy.Parameters(policyPrefix) {
		params[k] = v
	}
	return params
}

// TrainingState snapshots the protocol state alongside the weights.
func (a *Agent) TrainingState() checkpoints.TrainingState {
	alphas := make(map[string]float64, len(a.actors))
	for name, actor := range a.actors {
		alphas[name] = actor.Alpha()
	}
	return checkpoints.TrainingState{
		AvgReward: a.avgReward,
		Alphas:    alphas,
		Steps:     a.steps,
	}
}

// Checkpoint captures the full agent state for persistence.
func (a *Agent) Checkpoint() *checkpoints.Checkpoint {
	return checkpoints.FromParams(a.Params(), a.TrainingState())
}
