package stream

import (
	"github.com/CJ-Wright/SHED/errors"
)

// MapFunc transforms one value into another.
type MapFunc func(v any) (any, error)

// Map applies a function to every value and emits the result.
type Map struct {
	BaseNode
	fn MapFunc
}

// NewMap creates a map node applying fn to values from upstream.
func NewMap(name string, upstream Node, fn MapFunc) *Map {
	m := &Map{BaseNode: NewBaseNode(name, upstream), fn: fn}
	Link(m)
	return m
}

// Update implements Node.
func (m *Map) Update(v any, _ Node) error {
	out, err := m.fn(v)
	if err != nil {
		return errors.Wrap(err, m.Name(), "Update", "apply function")
	}
	return m.Emit(m, out)
}

// FilterFunc reports whether a value passes the filter.
type FilterFunc func(v any) (bool, error)

// Filter drops values the predicate rejects.
type Filter struct {
	BaseNode
	fn FilterFunc
}

// NewFilter creates a filter node applying the predicate to values from
// upstream.
func NewFilter(name string, upstream Node, fn FilterFunc) *Filter {
	f := &Filter{BaseNode: NewBaseNode(name, upstream), fn: fn}
	Link(f)
	return f
}

// Update implements Node.
func (f *Filter) Update(v any, _ Node) error {
	keep, err := f.fn(v)
	if err != nil {
		return errors.Wrap(err, f.Name(), "Update", "apply predicate")
	}
	if !keep {
		return nil
	}
	return f.Emit(f, v)
}

// AlignFunc validates a zipped tuple before it is emitted. Translation
// combine nodes use it to reject tuples drawn from different runs.
type AlignFunc func(tuple []any) error

// Combine zips values from multiple upstreams: one value is buffered per
// upstream, and a tuple is emitted once every upstream has contributed.
type Combine struct {
	BaseNode
	pending [][]any // per-upstream FIFO of unconsumed values
	align   AlignFunc
}

// NewCombine creates a combine node zipping the given upstreams. The
// optional align function is applied to each tuple before emission.
func NewCombine(name string, align AlignFunc, upstreams ...Node) *Combine {
	c := &Combine{
		BaseNode: NewBaseNode(name, upstreams...),
		pending:  make([][]any, len(upstreams)),
		align:    align,
	}
	Link(c)
	return c
}

// Update implements Node. Values are buffered per upstream until a full
// tuple is available.
func (c *Combine) Update(v any, who Node) error {
	idx := -1
	for i, up := range c.Upstreams() {
		if up == who {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.WrapInvalid(errors.ErrMisalignedStreams, c.Name(), "Update",
			"value from a node that is not an upstream")
	}

	c.pending[idx] = append(c.pending[idx], v)

	for {
		tuple := make([]any, len(c.pending))
		for i, q := range c.pending {
			if len(q) == 0 {
				return nil
			}
			tuple[i] = q[0]
		}
		for i := range c.pending {
			c.pending[i] = c.pending[i][1:]
		}

		if c.align != nil {
			if err := c.align(tuple); err != nil {
				return errors.Wrap(err, c.Name(), "Update", "align tuple")
			}
		}
		if err := c.Emit(c, tuple); err != nil {
			return err
		}
	}
}

// SinkFunc consumes a value at the end of a pipeline.
type SinkFunc func(v any) error

// Sink consumes values without emitting further.
type Sink struct {
	BaseNode
	fn SinkFunc
}

// NewSink creates a sink node consuming values from upstream.
func NewSink(name string, upstream Node, fn SinkFunc) *Sink {
	s := &Sink{BaseNode: NewBaseNode(name, upstream), fn: fn}
	Link(s)
	return s
}

// Update implements Node.
func (s *Sink) Update(v any, _ Node) error {
	if err := s.fn(v); err != nil {
		return errors.Wrap(err, s.Name(), "Update", "consume value")
	}
	return nil
}
