package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/provenance"
)

func newTestBuilder(store provenance.Store) *Builder {
	b := NewBuilder(store)
	b.RegisterMap("double", func(v any) (any, error) {
		return v.(float64) * 2, nil
	})
	b.RegisterFilter("positive", func(v any) (bool, error) {
		return v.(float64) > 0, nil
	})
	return b
}

func feedRun(t *testing.T, p *Pipeline, values ...float64) *document.RunStart {
	t.Helper()

	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "detector", DType: "float64"}},
	}

	require.NoError(t, p.Feed(document.MustNew(document.NameStart, start)))
	require.NoError(t, p.Feed(document.MustNew(document.NameDescriptor, desc)))
	for i, v := range values {
		require.NoError(t, p.Feed(document.MustNew(document.NameEvent, &document.Event{
			UID:        document.NewUID(),
			Time:       start.Time,
			Descriptor: desc.UID,
			SeqNum:     i,
			Data:       map[string]any{"det": v},
		})))
	}
	require.NoError(t, p.Feed(document.MustNew(document.NameStop, document.NewRunStop(start.UID))))
	return start
}

func TestBuilder_BuildsLinearPipeline(t *testing.T) {
	store := provenance.NewMemoryStore()
	b := newTestBuilder(store)
	ctx := context.Background()

	p, err := b.Build(ctx, validDefinition())
	require.NoError(t, err)

	var events []*document.Event
	require.NoError(t, p.Subscribe("to", func(v any) error {
		doc := v.(document.Document)
		if doc.Name == document.NameEvent {
			ev, err := doc.AsEvent()
			require.NoError(t, err)
			events = append(events, ev)
		}
		return nil
	}))

	srcStart := feedRun(t, p, 1.5, 2.0)

	require.Len(t, events, 2)
	assert.Equal(t, 3.0, events[0].Data["scaled"])
	assert.Equal(t, 4.0, events[1].Data["scaled"])

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 5, "start, descriptor, two events, stop")
	assert.Equal(t, map[string]string{"from": srcStart.UID}, records[0].ParentUIDs)
	assert.Equal(t, []string{"from -> scale", "scale -> to"}, records[0].Graph)
	assert.Equal(t, "to", records[0].Node)
}

func TestBuilder_FilterNarrowsEvents(t *testing.T) {
	def := validDefinition()
	def.Nodes[1] = NodeSpec{ID: "scale", Kind: KindFilter, Config: map[string]any{
		"function": "positive",
	}}

	b := newTestBuilder(nil)
	p, err := b.Build(context.Background(), def)
	require.NoError(t, err)

	var count int
	require.NoError(t, p.Subscribe("to", func(v any) error {
		if v.(document.Document).Name == document.NameEvent {
			count++
		}
		return nil
	}))

	feedRun(t, p, -1.0, 2.0, -3.0, 4.0)
	assert.Equal(t, 2, count)
}

func TestBuilder_CombinePipeline(t *testing.T) {
	def := &Definition{
		ID:   "pair",
		Name: "Pair two addresses",
		Nodes: []NodeSpec{
			{ID: "from-a", Kind: KindFromEventStream, Config: map[string]any{
				"doc_type": "event", "data_address": "data.det", "principle": true,
			}},
			{ID: "from-b", Kind: KindFromEventStream, Config: map[string]any{
				"doc_type": "event", "data_address": "data.motor",
			}},
			{ID: "zip", Kind: KindCombine},
			{ID: "to", Kind: KindToEventStream, Config: map[string]any{
				"data_keys": []string{"det", "motor"},
			}},
		},
		Connections: []Connection{
			{From: "from-a", To: "zip"},
			{From: "from-b", To: "zip"},
			{From: "zip", To: "to"},
		},
	}

	b := newTestBuilder(nil)
	p, err := b.Build(context.Background(), def)
	require.NoError(t, err)

	var events []*document.Event
	require.NoError(t, p.Subscribe("to", func(v any) error {
		doc := v.(document.Document)
		if doc.Name == document.NameEvent {
			ev, err := doc.AsEvent()
			require.NoError(t, err)
			events = append(events, ev)
		}
		return nil
	}))

	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{
			"det":   {Source: "detector", DType: "float64"},
			"motor": {Source: "motor", DType: "float64"},
		},
	}
	require.NoError(t, p.Feed(document.MustNew(document.NameStart, start)))
	require.NoError(t, p.Feed(document.MustNew(document.NameDescriptor, desc)))
	require.NoError(t, p.Feed(document.MustNew(document.NameEvent, &document.Event{
		UID: document.NewUID(), Time: start.Time, Descriptor: desc.UID,
		Data: map[string]any{"det": 5.0, "motor": 0.1},
	})))
	require.NoError(t, p.Feed(document.MustNew(document.NameStop, document.NewRunStop(start.UID))))

	require.Len(t, events, 1)
	assert.Equal(t, 5.0, events[0].Data["det"])
	assert.Equal(t, 0.1, events[0].Data["motor"])
}

func TestBuilder_UnregisteredFunction(t *testing.T) {
	def := validDefinition()
	def.Nodes[1].Config["function"] = "nonexistent"

	b := newTestBuilder(nil)
	_, err := b.Build(context.Background(), def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered map function")
}

func TestBuilder_RejectsInvalidDefinition(t *testing.T) {
	def := validDefinition()
	def.Nodes = def.Nodes[:1]
	def.Connections = nil

	b := newTestBuilder(nil)
	_, err := b.Build(context.Background(), def)
	require.Error(t, err)
}

func TestPipeline_FailClosesOpenRun(t *testing.T) {
	b := newTestBuilder(nil)
	p, err := b.Build(context.Background(), validDefinition())
	require.NoError(t, err)

	var stops []*document.RunStop
	require.NoError(t, p.Subscribe("to", func(v any) error {
		doc := v.(document.Document)
		if doc.Name == document.NameStop {
			stop, err := doc.AsStop()
			require.NoError(t, err)
			stops = append(stops, stop)
		}
		return nil
	}))

	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "detector", DType: "float64"}},
	}
	require.NoError(t, p.Feed(document.MustNew(document.NameStart, start)))
	require.NoError(t, p.Feed(document.MustNew(document.NameDescriptor, desc)))
	require.NoError(t, p.Feed(document.MustNew(document.NameEvent, &document.Event{
		UID: document.NewUID(), Time: start.Time, Descriptor: desc.UID,
		Data: map[string]any{"det": 1.0},
	})))

	require.NoError(t, p.Fail(assert.AnError))

	require.Len(t, stops, 1)
	assert.Equal(t, document.ExitFailure, stops[0].ExitStatus)
	assert.Equal(t, assert.AnError.Error(), stops[0].Reason)
}
