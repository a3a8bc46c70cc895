package stream

import (
	"fmt"
	"sort"

	"github.com/CJ-Wright/SHED/errors"
)

// Edge is a directed link in an extracted processing graph, pointing from
// an upstream node to its downstream consumer.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the extracted shape of a pipeline: node names plus directed
// edges. Nodes and Edges are kept in deterministic sorted order so that
// two pipelines of the same shape produce identical graphs.
type Graph struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// EdgeList renders the graph as "from -> to" strings, the form embedded
// in run start documents.
func (g Graph) EdgeList() []string {
	list := make([]string, len(g.Edges))
	for i, e := range g.Edges {
		list[i] = fmt.Sprintf("%s -> %s", e.From, e.To)
	}
	return list
}

// Walk ascends the upstream links from a terminal node and extracts the
// processing graph above it. The walk stops at Boundary nodes, so the
// graph covers the processing between translation in and translation out.
// A cycle in the links is an error.
func Walk(node Node) (Graph, error) {
	nodes := make(map[string]bool)
	edges := make(map[Edge]bool)
	onPath := make(map[Node]bool)

	var visit func(n Node) error
	visit = func(n Node) error {
		if onPath[n] {
			return errors.WrapInvalid(errors.ErrCyclicGraph, "stream", "Walk",
				fmt.Sprintf("node %q revisited", n.Name()))
		}

		nodes[n.Name()] = true

		// Boundary nodes terminate the ascent: their own upstreams are
		// outside the extracted graph.
		if _, isBoundary := n.(Boundary); isBoundary {
			return nil
		}

		onPath[n] = true
		defer delete(onPath, n)

		for _, up := range n.Upstreams() {
			if up == nil {
				continue
			}
			edge := Edge{From: up.Name(), To: n.Name()}
			if edges[edge] {
				continue
			}
			edges[edge] = true
			if err := visit(up); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(node); err != nil {
		return Graph{}, err
	}

	g := Graph{
		Nodes: make([]string, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
	}
	for name := range nodes {
		g.Nodes = append(g.Nodes, name)
	}
	sort.Strings(g.Nodes)
	for e := range edges {
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})

	return g, nil
}

// BoundaryNodes returns the Boundary nodes reachable upstream of the
// given node, keyed by name. These are the translation entry points whose
// run lifecycle the downstream re-wrapping follows.
func BoundaryNodes(node Node) map[string]Boundary {
	found := make(map[string]Boundary)
	seen := make(map[Node]bool)

	var visit func(n Node)
	visit = func(n Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if b, ok := n.(Boundary); ok {
			found[n.Name()] = b
			return
		}
		for _, up := range n.Upstreams() {
			visit(up)
		}
	}

	for _, up := range node.Upstreams() {
		visit(up)
	}
	return found
}
