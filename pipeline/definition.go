package pipeline

import (
	"fmt"
	"time"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
)

// NodeKind identifies what a pipeline node does.
type NodeKind string

// Node kinds. FromEventStream and ToEventStream are the translation
// boundary; the kinds between them reference processing functions
// registered on the builder.
const (
	KindFromEventStream NodeKind = "from_event_stream"
	KindMap             NodeKind = "map"
	KindFilter          NodeKind = "filter"
	KindCombine         NodeKind = "combine"
	KindToEventStream   NodeKind = "to_event_stream"
)

func (k NodeKind) isValid() bool {
	switch k {
	case KindFromEventStream, KindMap, KindFilter, KindCombine, KindToEventStream:
		return true
	default:
		return false
	}
}

// NodeSpec declares one node of a pipeline. Config is interpreted per
// kind:
//
//   - from_event_stream: doc_type, data_address, stream_name, principle
//   - map, filter: function (a name registered on the builder)
//   - combine: align (optional registered align function)
//   - to_event_stream: data_keys, metadata
type NodeSpec struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// Connection links the output of one node to the input of another.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Definition is a declarative pipeline: the unit the store persists and
// the builder materializes. Version implements optimistic concurrency in
// the store.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Version int64 `json:"version"`

	Nodes       []NodeSpec   `json:"nodes"`
	Connections []Connection `json:"connections"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the definition describes a buildable pipeline:
// unique node IDs, known kinds, connections between declared nodes, the
// right number of inputs per kind, and no cycles.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("pipeline ID cannot be empty"),
			"pipeline", "Validate", "validation failed")
	}
	if d.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("pipeline name cannot be empty"),
			"pipeline", "Validate", "validation failed")
	}
	if len(d.Nodes) == 0 {
		return errors.WrapInvalid(fmt.Errorf("pipeline has no nodes"),
			"pipeline", "Validate", "validation failed")
	}

	nodes := make(map[string]NodeKind, len(d.Nodes))
	for i, node := range d.Nodes {
		if node.ID == "" {
			return errors.WrapInvalid(fmt.Errorf("node at index %d has empty ID", i),
				"pipeline", "Validate", "node ID validation failed")
		}
		if !node.Kind.isValid() {
			return errors.WrapInvalid(fmt.Errorf("node '%s' has unknown kind '%s'", node.ID, node.Kind),
				"pipeline", "Validate", "node kind validation failed")
		}
		if _, dup := nodes[node.ID]; dup {
			return errors.WrapInvalid(fmt.Errorf("duplicate node ID: %s", node.ID),
				"pipeline", "Validate", "duplicate node ID detected")
		}
		nodes[node.ID] = node.Kind
	}

	var entries, exits int
	for _, kind := range nodes {
		switch kind {
		case KindFromEventStream:
			entries++
		case KindToEventStream:
			exits++
		}
	}
	if entries == 0 {
		return errors.WrapInvalid(fmt.Errorf("pipeline has no from_event_stream entry node"),
			"pipeline", "Validate", "validation failed")
	}
	if exits == 0 {
		return errors.WrapInvalid(fmt.Errorf("pipeline has no to_event_stream exit node"),
			"pipeline", "Validate", "validation failed")
	}

	incoming := make(map[string]int, len(d.Nodes))
	for i, conn := range d.Connections {
		if _, ok := nodes[conn.From]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("connection at index %d references unknown node '%s'", i, conn.From),
				"pipeline", "Validate", "dangling connection")
		}
		if _, ok := nodes[conn.To]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("connection at index %d references unknown node '%s'", i, conn.To),
				"pipeline", "Validate", "dangling connection")
		}
		incoming[conn.To]++
	}

	for _, node := range d.Nodes {
		n := incoming[node.ID]
		switch node.Kind {
		case KindFromEventStream:
			if n != 0 {
				return errors.WrapInvalid(
					fmt.Errorf("entry node '%s' cannot have incoming connections", node.ID),
					"pipeline", "Validate", "node input validation failed")
			}
		case KindMap, KindFilter, KindToEventStream:
			if n != 1 {
				return errors.WrapInvalid(
					fmt.Errorf("node '%s' needs exactly one input, has %d", node.ID, n),
					"pipeline", "Validate", "node input validation failed")
			}
		case KindCombine:
			if n < 2 {
				return errors.WrapInvalid(
					fmt.Errorf("combine node '%s' needs at least two inputs, has %d", node.ID, n),
					"pipeline", "Validate", "node input validation failed")
			}
		}
	}

	if _, err := d.topoOrder(); err != nil {
		return err
	}
	return nil
}

// topoOrder returns the node IDs in build order: every node after all of
// its inputs. Declaration order breaks ties so the result is stable.
func (d *Definition) topoOrder() ([]string, error) {
	remaining := make(map[string]int, len(d.Nodes))
	for _, node := range d.Nodes {
		remaining[node.ID] = 0
	}
	outgoing := make(map[string][]string, len(d.Nodes))
	for _, conn := range d.Connections {
		remaining[conn.To]++
		outgoing[conn.From] = append(outgoing[conn.From], conn.To)
	}

	var order []string
	for len(order) < len(d.Nodes) {
		progressed := false
		for _, node := range d.Nodes {
			if n, pending := remaining[node.ID]; pending && n == 0 {
				order = append(order, node.ID)
				delete(remaining, node.ID)
				for _, next := range outgoing[node.ID] {
					if _, p := remaining[next]; p {
						remaining[next]--
					}
				}
				progressed = true
			}
		}
		if !progressed {
			return nil, errors.WrapInvalid(errors.ErrCyclicGraph, "pipeline", "topoOrder",
				fmt.Sprintf("%d nodes form a cycle", len(remaining)))
		}
	}
	return order, nil
}

// inputsOf returns the IDs of a node's inputs in declaration order of
// the connections.
func (d *Definition) inputsOf(id string) []string {
	var in []string
	for _, conn := range d.Connections {
		if conn.To == id {
			in = append(in, conn.From)
		}
	}
	return in
}

// configString reads an optional string from a node config.
func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// configBool reads an optional bool from a node config.
func configBool(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

// configStrings reads a string list from a node config, accepting both
// []string and the []any that JSON decoding produces.
func configStrings(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// configMap reads an optional map from a node config.
func configMap(cfg map[string]any, key string) map[string]any {
	v, _ := cfg[key].(map[string]any)
	return v
}

// configDocName reads a document name from a node config.
func configDocName(cfg map[string]any, key string) document.Name {
	return document.Name(configString(cfg, key))
}
