package stream

import (
	"github.com/CJ-Wright/SHED/errors"
)

// Node is a vertex in a processing pipeline. Values flow from upstream
// nodes into Update; a node emits results to the nodes subscribed
// downstream of it.
//
// Node names are caller-chosen and must be unique within a pipeline: the
// name is the node's identity in extracted graphs and provenance records.
type Node interface {
	// Name returns the unique name of this node within its pipeline.
	Name() string

	// Upstreams returns the nodes this node receives values from.
	Upstreams() []Node

	// Update delivers a value from an upstream node. The who argument is
	// the upstream node the value arrived from, nil for direct emission.
	Update(v any, who Node) error
}

// Boundary marks nodes at which graph extraction stops ascending. The
// translation entry nodes implement it so that extracted graphs cover
// exactly the processing between translation in and translation out.
type Boundary interface {
	Node
	TranslationBoundary()
}

// BaseNode carries the common node state: identity, upstream links, and
// the downstream subscriber list. Custom node types embed it and call
// Link in their constructor to register with their upstreams.
type BaseNode struct {
	name        string
	upstreams   []Node
	downstreams []Node
}

// NewBaseNode creates the embedded state for a node.
func NewBaseNode(name string, upstreams ...Node) BaseNode {
	return BaseNode{name: name, upstreams: upstreams}
}

// Name returns the node's unique name.
func (b *BaseNode) Name() string { return b.name }

// Upstreams returns the node's upstream links.
func (b *BaseNode) Upstreams() []Node { return b.upstreams }

func (b *BaseNode) addDownstream(n Node) {
	b.downstreams = append(b.downstreams, n)
}

// Emit pushes a value to every downstream subscriber, attributing it to
// the emitting node. The first downstream error aborts the emission.
func (b *BaseNode) Emit(self Node, v any) error {
	for _, down := range b.downstreams {
		if err := down.Update(v, self); err != nil {
			return errors.Wrap(err, b.name, "Emit", "downstream update")
		}
	}
	return nil
}

// Link registers a node with each of its upstreams. Constructors call it
// once, after the node is fully initialized.
func Link(n Node) {
	for _, up := range n.Upstreams() {
		if s, ok := up.(interface{ addDownstream(Node) }); ok {
			s.addDownstream(n)
		}
	}
}

// Source is the entry node of a pipeline. Values are injected with Emit
// and flow synchronously through the downstream links.
type Source struct {
	BaseNode
}

// NewSource creates a named source node.
func NewSource(name string) *Source {
	return &Source{BaseNode: NewBaseNode(name)}
}

// Emit injects a value into the pipeline.
func (s *Source) Emit(v any) error {
	return s.BaseNode.Emit(s, v)
}

// Update implements Node. A source accepts direct injection only.
func (s *Source) Update(v any, _ Node) error {
	return s.Emit(v)
}
