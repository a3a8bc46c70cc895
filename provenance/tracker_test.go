package provenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/stream"
	"github.com/CJ-Wright/SHED/translate"
)

// analysisRun builds the document sequence a translation exit node emits
// for one run.
func analysisRun(t *testing.T, values ...float64) []document.Document {
	t.Helper()

	start := document.NewRunStart()
	start.ParentUIDs = map[string]string{"from": document.NewUID()}
	start.Graph = []string{"from -> to"}

	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "analysis", DType: "float64"}},
	}

	docs := []document.Document{
		document.MustNew(document.NameStart, start),
		document.MustNew(document.NameDescriptor, desc),
	}
	for i, v := range values {
		docs = append(docs, document.MustNew(document.NameEvent, &document.Event{
			UID:        document.NewUID(),
			Time:       start.Time,
			Descriptor: desc.UID,
			SeqNum:     i,
			Data:       map[string]any{"det": v},
		}))
	}
	docs = append(docs, document.MustNew(document.NameStop, document.NewRunStop(start.UID)))
	return docs
}

func TestTracker_RecordsRunContext(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, "to")
	ctx := context.Background()

	docs := analysisRun(t, 1.0, 2.0)
	for _, doc := range docs {
		require.NoError(t, tracker.Observe(ctx, doc))
	}

	start, err := docs[0].AsStart()
	require.NoError(t, err)

	records, err := store.ByRun(ctx, start.UID)
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, []document.Name{
		document.NameStart, document.NameDescriptor,
		document.NameEvent, document.NameEvent,
		document.NameStop,
	}, []document.Name{
		records[0].Name, records[1].Name, records[2].Name, records[3].Name, records[4].Name,
	})

	for _, r := range records {
		assert.Equal(t, "to", r.Node)
		assert.Equal(t, start.UID, r.RunStart)
		assert.Equal(t, start.ParentUIDs, r.ParentUIDs)
		assert.Equal(t, start.Graph, r.Graph)
	}

	assert.Equal(t, 0, records[2].SeqNum)
	assert.Equal(t, 1, records[3].SeqNum)
}

func TestTracker_ClearsRunOnStop(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, "to")
	ctx := context.Background()

	first := analysisRun(t, 1.0)
	second := analysisRun(t, 2.0)
	for _, doc := range append(first, second...) {
		require.NoError(t, tracker.Observe(ctx, doc))
	}

	firstStart, err := first[0].AsStart()
	require.NoError(t, err)
	secondStart, err := second[0].AsStart()
	require.NoError(t, err)

	got, err := store.ByRun(ctx, firstStart.UID)
	require.NoError(t, err)
	assert.Len(t, got, 4, "records of the second run must not leak into the first")

	got, err = store.ByRun(ctx, secondStart.UID)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestTracker_DuplicateDocument(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, "to")
	ctx := context.Background()

	docs := analysisRun(t, 1.0)
	require.NoError(t, tracker.Observe(ctx, docs[0]))

	err := tracker.Observe(ctx, docs[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateUID)
}

// End to end: documents flowing through a translation round trip land in
// the store with full provenance.
func TestTracker_AttachedToPipeline(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, "to")
	ctx := context.Background()

	from, err := translate.NewFromEventStream("from", nil, document.NameEvent,
		document.ParseDataAddress("data.det"), translate.WithPrinciple())
	require.NoError(t, err)
	to, err := translate.NewToEventStream("to", from, []string{"det"})
	require.NoError(t, err)
	stream.NewSink("provenance", to, tracker.SinkFunc(ctx))

	srcStart := document.NewRunStart()
	srcDesc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     srcStart.Time,
		RunStart: srcStart.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "detector", DType: "float64"}},
	}
	srcEvent := &document.Event{
		UID:        document.NewUID(),
		Time:       srcStart.Time,
		Descriptor: srcDesc.UID,
		SeqNum:     0,
		Data:       map[string]any{"det": 7.0},
	}
	for _, doc := range []document.Document{
		document.MustNew(document.NameStart, srcStart),
		document.MustNew(document.NameDescriptor, srcDesc),
		document.MustNew(document.NameEvent, srcEvent),
		document.MustNew(document.NameStop, document.NewRunStop(srcStart.UID)),
	} {
		require.NoError(t, from.Update(doc, nil))
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, map[string]string{"from": srcStart.UID}, records[0].ParentUIDs)
	assert.Equal(t, []string{"from -> to"}, records[0].Graph)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].Order, records[i-1].Order)
	}
}
