package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// boundarySource is a source that terminates graph walks, standing in for
// a translation entry node.
type boundarySource struct {
	Source
}

func newBoundarySource(name string) *boundarySource {
	return &boundarySource{Source: *NewSource(name)}
}

func (b *boundarySource) TranslationBoundary() {}

func TestWalk_LinearChain(t *testing.T) {
	src := newBoundarySource("from")
	m := NewMap("scale", src, func(v any) (any, error) { return v, nil })
	f := NewFilter("positive", m, func(any) (bool, error) { return true, nil })

	g, err := Walk(f)
	require.NoError(t, err)

	assert.Equal(t, []string{"from", "positive", "scale"}, g.Nodes)
	assert.Equal(t, []Edge{
		{From: "from", To: "scale"},
		{From: "scale", To: "positive"},
	}, g.Edges)
	assert.Equal(t, []string{"from -> scale", "scale -> positive"}, g.EdgeList())
}

func TestWalk_Deterministic(t *testing.T) {
	build := func() Node {
		src := newBoundarySource("from")
		m := NewMap("scale", src, func(v any) (any, error) { return v, nil })
		return NewFilter("positive", m, func(any) (bool, error) { return true, nil })
	}

	g1, err := Walk(build())
	require.NoError(t, err)
	g2, err := Walk(build())
	require.NoError(t, err)

	assert.Equal(t, g1, g2, "same pipeline shape must extract the same graph")
}

func TestWalk_Diamond(t *testing.T) {
	src := newBoundarySource("from")
	left := NewMap("left", src, func(v any) (any, error) { return v, nil })
	right := NewMap("right", src, func(v any) (any, error) { return v, nil })
	zip := NewCombine("zip", nil, left, right)

	g, err := Walk(zip)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"from", "left", "right", "zip"}, g.Nodes)
	assert.Contains(t, g.Edges, Edge{From: "from", To: "left"})
	assert.Contains(t, g.Edges, Edge{From: "from", To: "right"})
	assert.Contains(t, g.Edges, Edge{From: "left", To: "zip"})
	assert.Contains(t, g.Edges, Edge{From: "right", To: "zip"})
}

func TestWalk_StopsAtBoundary(t *testing.T) {
	outside := NewSource("bus")
	from := &boundaryMap{Map: *NewMap("from", outside, func(v any) (any, error) { return v, nil })}
	scale := NewMap("scale", from, func(v any) (any, error) { return v, nil })

	g, err := Walk(scale)
	require.NoError(t, err)

	assert.NotContains(t, g.Nodes, "bus", "walk must not ascend past a boundary node")
	assert.Equal(t, []Edge{{From: "from", To: "scale"}}, g.Edges)
}

type boundaryMap struct {
	Map
}

func (b *boundaryMap) TranslationBoundary() {}

func TestBoundaryNodes(t *testing.T) {
	src := newBoundarySource("from-a")
	other := newBoundarySource("from-b")
	zip := NewCombine("zip", nil, src, other)
	out := NewMap("scale", zip, func(v any) (any, error) { return v, nil })

	found := BoundaryNodes(out)

	require.Len(t, found, 2)
	assert.Contains(t, found, "from-a")
	assert.Contains(t, found, "from-b")
}
