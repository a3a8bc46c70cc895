package translator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/CJ-Wright/SHED/pipeline"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishRun feeds one complete run through the input subject.
func publishRun(ctx context.Context, t *testing.T, client *natsclient.Client, subject string, values ...float64) *document.RunStart {
	t.Helper()

	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "detector", DType: "float64"}},
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

	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, client.Publish(ctx, subject, raw))
	}
	return start
}

// collectDocuments subscribes to subject and returns a channel of decoded
// documents.
func collectDocuments(ctx context.Context, t *testing.T, client *natsclient.Client, subject string) <-chan document.Document {
	t.Helper()

	out := make(chan document.Document, 32)
	require.NoError(t, client.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
		var doc document.Document
		if err := json.Unmarshal(data, &doc); err == nil {
			out <- doc
		}
	}))
	return out
}

func awaitDocuments(t *testing.T, ch <-chan document.Document, n int) []document.Document {
	t.Helper()

	var docs []document.Document
	deadline := time.After(10 * time.Second)
	for len(docs) < n {
		select {
		case doc := <-ch:
			docs = append(docs, doc)
		case <-deadline:
			t.Fatalf("Timeout waiting for documents: got %d, want %d", len(docs), n)
		}
	}
	return docs
}

// TestTranslator_ProcessesRunEndToEnd runs the full path: documents in on
// the input subject, pipeline applies negate, re-wrapped documents out on
// the output subject, provenance recorded per emitted document.
func TestTranslator_ProcessesRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testClient := natsclient.NewTestClient(t)
	defer testClient.Terminate()

	store := provenance.NewMemoryStore()
	deps := component.Dependencies{
		NATSClient:      testClient.Client,
		ProvenanceStore: store,
	}

	raw, err := json.Marshal(Config{Pipeline: testDefinition()})
	require.NoError(t, err)
	disc, err := NewProcessor(raw, deps)
	require.NoError(t, err)
	p := disc.(*Processor)
	require.NoError(t, p.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	emitted := collectDocuments(ctx, t, testClient.Client, "documents.processed")

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(5 * time.Second) }()

	srcStart := publishRun(ctx, t, testClient.Client, "documents.primary", 1.5, -2.0)

	// start, descriptor, two events, stop
	docs := awaitDocuments(t, emitted, 5)

	assert.Equal(t, document.NameStart, docs[0].Name)
	assert.Equal(t, document.NameDescriptor, docs[1].Name)
	assert.Equal(t, document.NameStop, docs[4].Name)

	outStart, err := docs[0].AsStart()
	require.NoError(t, err)
	assert.NotEqual(t, srcStart.UID, outStart.UID, "emitted run is re-wrapped under a new uid")

	ev1, err := docs[2].AsEvent()
	require.NoError(t, err)
	assert.Equal(t, -1.5, ev1.Data["det"])

	ev2, err := docs[3].AsEvent()
	require.NoError(t, err)
	assert.Equal(t, 2.0, ev2.Data["det"])

	stop, err := docs[4].AsStop()
	require.NoError(t, err)
	assert.Equal(t, outStart.UID, stop.RunStart)
	assert.Equal(t, document.ExitSuccess, stop.ExitStatus)

	records, err := store.ByRun(ctx, outStart.UID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, map[string]string{"from": srcStart.UID}, records[0].ParentUIDs)
	assert.Equal(t, []string{"from -> neg", "neg -> to"}, records[0].Graph)

	health := p.Health()
	assert.True(t, health.Healthy)
	assert.Greater(t, p.documentsIn.Load(), int64(0))
	assert.Equal(t, int64(5), p.documentsOut.Load())
}

// TestTranslator_LoadsDefinitionFromStore verifies pipeline_id resolution
// against the KV-backed definition store.
func TestTranslator_LoadsDefinitionFromStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testClient := natsclient.NewTestClient(t, natsclient.WithJetStream(), natsclient.WithKV())
	defer testClient.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	defStore, err := pipeline.NewStore(testClient.Client)
	require.NoError(t, err)
	require.NoError(t, defStore.Create(ctx, testDefinition()))

	deps := component.Dependencies{NATSClient: testClient.Client}
	raw := json.RawMessage(`{"pipeline_id": "negate-detector"}`)
	disc, err := NewProcessor(raw, deps)
	require.NoError(t, err)
	p := disc.(*Processor)
	require.NoError(t, p.Initialize())

	emitted := collectDocuments(ctx, t, testClient.Client, "documents.processed")

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(5 * time.Second) }()

	publishRun(ctx, t, testClient.Client, "documents.primary", 4.0)

	docs := awaitDocuments(t, emitted, 4)
	ev, err := docs[2].AsEvent()
	require.NoError(t, err)
	assert.Equal(t, -4.0, ev.Data["det"])
}

// TestTranslator_UnknownPipelineID verifies Start fails cleanly when the
// referenced definition does not exist.
func TestTranslator_UnknownPipelineID(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testClient := natsclient.NewTestClient(t, natsclient.WithJetStream(), natsclient.WithKV())
	defer testClient.Terminate()

	deps := component.Dependencies{NATSClient: testClient.Client}
	disc, err := NewProcessor(json.RawMessage(`{"pipeline_id": "missing"}`), deps)
	require.NoError(t, err)
	p := disc.(*Processor)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = p.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.False(t, p.Health().Healthy)
}

// TestTranslator_UndecodableInput verifies junk on the input subject is
// counted and dropped without touching the pipeline.
func TestTranslator_UndecodableInput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testClient := natsclient.NewTestClient(t)
	defer testClient.Terminate()

	deps := component.Dependencies{NATSClient: testClient.Client}
	raw, err := json.Marshal(Config{Pipeline: testDefinition()})
	require.NoError(t, err)
	disc, err := NewProcessor(raw, deps)
	require.NoError(t, err)
	p := disc.(*Processor)
	require.NoError(t, p.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(5 * time.Second) }()

	require.NoError(t, testClient.Client.Publish(ctx, "documents.primary", []byte("not json")))

	assert.Eventually(t, func() bool {
		return p.errorCount.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Zero(t, p.documentsIn.Load())
}
