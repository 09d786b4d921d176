// Package network executes a directed acyclic graph of named layers. The
// graph topology is fixed at construction: the forward order is a
// deterministic topological sort and the backward order is its exact reverse.
// Parameters and eligibility traces inside the layers mutate in place across
// the whole online session; a Network exclusively owns its layers' buffers.
//
// The executor is single-threaded by design. Callers must serialize Forward
// and Train calls against a shared instance; distinct instances are
// independent.
package network

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-rover/layers"
	"github.com/tsawler/go-rover/tensor"
)

// Spec is the document tree describing a network: the layer nodes and a
// separate map from each layer name to its ordered input names. An input name
// may reference another layer or an external source label.
type Spec struct {
	Layers []layers.Spec       `json:"layers"`
	Inputs map[string][]string `json:"inputs"`
}

// Network owns a set of named layers and their wiring.
type Network struct {
	layers    map[string]layers.Layer
	inputs    map[string][]string
	consumers map[string][]string

	forward  []string
	backward []string

	sources []string
	sinks   []string
}

// New builds a network from its spec, restoring trainable parameters from the
// flat params map under "{prefix}.{layerName}.{paramName}". Missing parameter
// entries fall back to randomized initialization using rng.
func New(spec Spec, prefix string, params map[string]*mat.Dense, rng *rand.Rand) (*Network, error) {
	built := make([]layers.Layer, 0, len(spec.Layers))
	for _, ls := range spec.Layers {
		layer, err := layers.FromSpec(ls, prefix, params, rng)
		if err != nil {
			return nil, err
		}
		built = append(built, layer)
	}
	return FromLayers(built, spec.Inputs)
}

// FromLayers builds a network from already constructed layers and the inputs
// adjacency map. It validates the wiring: every layer must have an inputs
// entry, every inputs key must name a declared layer, names must be unique
// and the graph must be acyclic.
func FromLayers(built []layers.Layer, inputs map[string][]string) (*Network, error) {
	byName := make(map[string]layers.Layer, len(built))
	for _, layer := range built {
		name := layer.Name()
		if _, ok := byName[name]; ok {
			return nil, fmt.Errorf("duplicate layer name %q", name)
		}
		byName[name] = layer
	}
	for name := range inputs {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("inputs declared for undefined layer %q", name)
		}
	}
	wiring := make(map[string][]string, len(inputs))
	for name := range byName {
		in, ok := inputs[name]
		if !ok || len(in) == 0 {
			return nil, fmt.Errorf("layer %q has no declared inputs", name)
		}
		wiring[name] = append([]string(nil), in...)
	}

	consumers := make(map[string][]string)
	for name, in := range wiring {
		for _, label := range in {
			consumers[label] = append(consumers[label], name)
		}
	}
	for _, out := range consumers {
		sort.Strings(out)
	}

	forward, err := sortTopological(byName, wiring)
	if err != nil {
		return nil, err
	}
	backward := make([]string, len(forward))
	for i, name := range forward {
		backward[len(forward)-1-i] = name
	}

	var sources, sinks []string
	seen := map[string]bool{}
	for _, in := range wiring {
		for _, label := range in {
			if _, ok := byName[label]; !ok && !seen[label] {
				seen[label] = true
				sources = append(sources, label)
			}
		}
	}
	for name := range byName {
		if len(consumers[name]) == 0 {
			sinks = append(sinks, name)
		}
	}
	sort.Strings(sources)
	sort.Strings(sinks)

	return &Network{
		layers:    byName,
		inputs:    wiring,
		consumers: consumers,
		forward:   forward,
		backward:  backward,
		sources:   sources,
		sinks:     sinks,
	}, nil
}

// sortTopological returns a deterministic topological order of the layers,
// breaking ties lexicographically. External source labels have no ordering
// constraints. A cycle is a construction error.
func sortTopological(byName map[string]layers.Layer, wiring map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(byName))
	for name, in := range wiring {
		for _, label := range in {
			if _, ok := byName[label]; ok {
				indegree[name]++
			}
		}
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	deps := make(map[string][]string, len(byName))
	for name, in := range wiring {
		for _, label := range in {
			if _, ok := byName[label]; ok {
				deps[label] = append(deps[label], name)
			}
		}
	}

	order := make([]string, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, next := range deps[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	if len(order) != len(byName) {
		return nil, fmt.Errorf("layer graph contains a cycle")
	}
	return order, nil
}

// Forward runs the layers strictly in forward order and returns the full
// name→tensor map of every node's value, including the raw external inputs,
// so trainers can inspect activations without recomputation. Every source
// label must be present in external.
func (n *Network) Forward(external map[string]*mat.Dense) (map[string]*mat.Dense, error) {
	results := make(map[string]*mat.Dense, len(external)+len(n.forward))
	for label, value := range external {
		results[label] = value
	}
	for _, label := range n.sources {
		if _, ok := results[label]; !ok {
			return nil, fmt.Errorf("missing external input %q", label)
		}
	}
	for _, name := range n.forward {
		layer := n.layers[name]
		in, err := n.gather(results, name)
		if err != nil {
			return nil, err
		}
		out, err := layer.Forward(in)
		if err != nil {
			return nil, err
		}
		results[name] = out
	}
	return results, nil
}

// Train runs the layers strictly in backward order. sinkGrads supplies the
// externally provided gradient per layer name; a node's incoming gradient is
// the elementwise sum of the gradients returned by every consumer plus any
// supplied entry. Nodes that never receive a gradient are skipped. delta is
// the scalar correction (step size × TD error) and lambda the trace decay.
//
// The returned map holds the gradient that reached each external source
// label, enabling an upstream network to continue backpropagation. Neither
// sinkGrads nor its tensors are modified.
func (n *Network) Train(results, sinkGrads map[string]*mat.Dense, delta, lambda float64) (map[string]*mat.Dense, error) {
	grads := make(map[string]*mat.Dense, len(sinkGrads)+len(n.backward))
	for name, g := range sinkGrads {
		if _, ok := n.layers[name]; !ok {
			return nil, fmt.Errorf("gradient supplied for unknown layer %q", name)
		}
		grads[name] = tensor.Clone(g)
	}

	for _, name := range n.backward {
		grad, ok := grads[name]
		if !ok {
			continue
		}
		layer := n.layers[name]
		in, err := n.gather(results, name)
		if err != nil {
			return nil, err
		}
		out, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("missing forward result for layer %q", name)
		}
		inGrads, err := layer.Train(in, out, grad, delta, lambda)
		if err != nil {
			return nil, err
		}
		for i, label := range n.inputs[name] {
			if acc, ok := grads[label]; ok {
				if err := tensor.Accumulate(acc, inGrads[i]); err != nil {
					return nil, fmt.Errorf("accumulating gradient at %q: %v", label, err)
				}
			} else {
				grads[label] = inGrads[i]
			}
		}
	}

	sourceGrads := make(map[string]*mat.Dense, len(n.sources))
	for _, label := range n.sources {
		if g, ok := grads[label]; ok {
			sourceGrads[label] = g
		}
	}
	return sourceGrads, nil
}

// gather collects the input tensors of a layer from the results map.
func (n *Network) gather(results map[string]*mat.Dense, name string) ([]*mat.Dense, error) {
	labels := n.inputs[name]
	in := make([]*mat.Dense, len(labels))
	for i, label := range labels {
		value, ok := results[label]
		if !ok {
			return nil, fmt.Errorf("missing value for input %q of layer %q", label, name)
		}
		in[i] = value
	}
	return in, nil
}

// Validate propagates feature sizes along the forward order and checks the
// requested output sizes. inputSizes gives the width of each external source
// label; outputSizes the expected width per named layer.
func (n *Network) Validate(inputSizes, outputSizes map[string]int) error {
	sizes := make(map[string]int, len(inputSizes)+len(n.forward))
	for label, size := range inputSizes {
		sizes[label] = size
	}
	sizeOf := func(label string) (int, error) {
		if s, ok := sizes[label]; ok {
			return s, nil
		}
		return 0, fmt.Errorf("unknown size for input %q", label)
	}
	for _, name := range n.forward {
		in := n.inputs[name]
		var out int
		switch layer := n.layers[name].(type) {
		case *layers.Dense:
			s, err := sizeOf(in[0])
			if err != nil {
				return err
			}
			if s != layer.InputSize() {
				return fmt.Errorf("dense layer %q requires %d input features, %q provides %d",
					name, layer.InputSize(), in[0], s)
			}
			out = layer.OutputSize()
		case *layers.Concat:
			for _, label := range in {
				s, err := sizeOf(label)
				if err != nil {
					return err
				}
				out += s
			}
		case *layers.Sum:
			first, err := sizeOf(in[0])
			if err != nil {
				return err
			}
			for _, label := range in[1:] {
				s, err := sizeOf(label)
				if err != nil {
					return err
				}
				if s != first {
					return fmt.Errorf("sum layer %q inputs %q and %q differ in size: %d != %d",
						name, in[0], label, first, s)
				}
			}
			out = first
		default:
			s, err := sizeOf(in[0])
			if err != nil {
				return err
			}
			out = s
		}
		sizes[name] = out
	}
	for name, want := range outputSizes {
		got, ok := sizes[name]
		if !ok {
			return fmt.Errorf("output %q does not correspond to a network layer", name)
		}
		if got != want {
			return fmt.Errorf("layer %q size must be %d, got %d", name, want, got)
		}
	}
	return nil
}

// Parameters returns a flat snapshot of every layer's persistent parameters
// keyed by "{prefix}.{layerName}.{paramName}". The returned tensors share no
// storage with the network; together with New it forms the
// checkpoint/restore primitive.
func (n *Network) Parameters(prefix string) map[string]*mat.Dense {
	params := make(map[string]*mat.Dense)
	for _, layer := range n.layers {
		for key, value := range layer.Params(prefix) {
			params[key] = value
		}
	}
	return params
}

// Spec rebuilds the document tree describing this network.
func (n *Network) Spec() Spec {
	specs := make([]layers.Spec, 0, len(n.forward))
	for _, name := range n.forward {
		specs = append(specs, n.layers[name].Spec())
	}
	inputs := make(map[string][]string, len(n.inputs))
	for name, in := range n.inputs {
		inputs[name] = append([]string(nil), in...)
	}
	return Spec{Layers: specs, Inputs: inputs}
}

// Layer returns the named layer, or an error if it is not part of the graph.
func (n *Network) Layer(name string) (layers.Layer, error) {
	layer, ok := n.layers[name]
	if !ok {
		return nil, fmt.Errorf("unknown layer %q", name)
	}
	return layer, nil
}

// ForwardOrder returns the topological execution order.
func (n *Network) ForwardOrder() []string {
	return append([]string(nil), n.forward...)
}

// BackwardOrder returns the exact reverse of the forward order.
func (n *Network) BackwardOrder() []string {
	return append([]string(nil), n.backward...)
}

// SourceLabels returns the external input labels, sorted.
func (n *Network) SourceLabels() []string {
	return append([]string(nil), n.sources...)
}

// SinkLabels returns the names of layers no other layer consumes, sorted.
func (n *Network) SinkLabels() []string {
	return append([]string(nil), n.sinks...)
}
