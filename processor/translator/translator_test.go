package translator

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/CJ-Wright/SHED/pipeline"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *pipeline.Definition {
	return &pipeline.Definition{
		ID:   "negate-detector",
		Name: "Negate detector readings",
		Nodes: []pipeline.NodeSpec{
			{ID: "from", Kind: pipeline.KindFromEventStream, Config: map[string]any{
				"doc_type": "event", "data_address": "data.det", "principle": true,
			}},
			{ID: "neg", Kind: pipeline.KindMap, Config: map[string]any{"function": "negate"}},
			{ID: "to", Kind: pipeline.KindToEventStream, Config: map[string]any{
				"data_keys": []string{"det"},
			}},
		},
		Connections: []pipeline.Connection{
			{From: "from", To: "neg"},
			{From: "neg", To: "to"},
		},
	}
}

func testDeps() component.Dependencies {
	return component.Dependencies{
		NATSClient: &natsclient.Client{},
	}
}

func newTestProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	disc, err := NewProcessor(raw, testDeps())
	require.NoError(t, err)
	p, ok := disc.(*Processor)
	require.True(t, ok)
	return p
}

func TestTranslatorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "inline pipeline",
			config: Config{Pipeline: testDefinition()},
		},
		{
			name:   "pipeline ID only",
			config: Config{PipelineID: "negate-detector"},
		},
		{
			name:    "neither pipeline nor pipeline ID",
			config:  Config{},
			wantErr: "pipeline",
		},
		{
			name: "invalid inline pipeline",
			config: Config{Pipeline: &pipeline.Definition{
				ID:    "broken",
				Nodes: []pipeline.NodeSpec{{ID: "orphan", Kind: pipeline.KindMap}},
			}},
			wantErr: "inline pipeline validation",
		},
		{
			name:    "negative workers",
			config:  Config{PipelineID: "x", Workers: -1},
			wantErr: "pool sizing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTranslatorDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	inputs, output := cfg.getConfiguredSubjects()
	assert.Equal(t, []string{"documents.primary"}, inputs)
	assert.Equal(t, "documents.processed", output)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1024, cfg.QueueSize)
}

func TestNewProcessor(t *testing.T) {
	t.Run("inline pipeline config", func(t *testing.T) {
		p := newTestProcessor(t, Config{Pipeline: testDefinition()})

		assert.Equal(t, []string{"documents.primary"}, p.subjects)
		assert.Equal(t, "documents.processed", p.outputSubj)
		require.NotNil(t, p.config.Pipeline)
		assert.Equal(t, "negate-detector", p.config.Pipeline.ID)
	})

	t.Run("custom ports and sizing", func(t *testing.T) {
		raw := json.RawMessage(`{
			"pipeline_id": "from-kv",
			"workers": 4,
			"queue_size": 256,
			"ports": {
				"inputs": [
					{"name": "document_input", "type": "nats", "subject": "documents.xpd", "required": true}
				],
				"outputs": [
					{"name": "document_output", "type": "nats", "subject": "documents.xpd.processed", "required": true}
				]
			}
		}`)
		disc, err := NewProcessor(raw, testDeps())
		require.NoError(t, err)
		p := disc.(*Processor)

		assert.Equal(t, []string{"documents.xpd"}, p.subjects)
		assert.Equal(t, "documents.xpd.processed", p.outputSubj)
		assert.Equal(t, "from-kv", p.config.PipelineID)
		assert.Equal(t, 4, p.config.Workers)
		assert.Equal(t, 256, p.config.QueueSize)
	})

	t.Run("missing NATS client", func(t *testing.T) {
		_, err := NewProcessor(nil, component.Dependencies{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NATS client")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := NewProcessor(json.RawMessage(`{invalid`), testDeps())
		require.Error(t, err)
	})
}

func TestProcessor_Meta(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	meta := p.Meta()
	assert.Equal(t, "translator", meta.Name)
	assert.Equal(t, "processor", meta.Type)
	assert.Contains(t, meta.Description, "negate-detector")
}

func TestProcessor_Ports(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	inputs := p.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, component.DirectionInput, inputs[0].Direction)
	natsIn, ok := inputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "documents.primary", natsIn.Subject)

	outputs := p.OutputPorts()
	require.Len(t, outputs, 1)
	natsOut, ok := outputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "documents.processed", natsOut.Subject)
}

func TestProcessor_ConfigSchema(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	schema := p.ConfigSchema()
	require.Contains(t, schema.Properties, "ports")
	assert.Contains(t, schema.Properties, "pipeline_id")
}

func TestProcessor_Initialize(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := newTestProcessor(t, Config{Pipeline: testDefinition()})
		assert.NoError(t, p.Initialize())
	})

	t.Run("missing pipeline reference", func(t *testing.T) {
		p := newTestProcessor(t, Config{})
		// The factory keeps default ports but no pipeline was configured.
		err := p.Initialize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline")
	})
}

func TestProcessor_HealthBeforeStart(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	health := p.Health()
	assert.False(t, health.Healthy, "not healthy before Start")
	assert.Zero(t, health.ErrorCount)
}

func TestProcessor_DataFlowInitial(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	flow := p.DataFlow()
	assert.Zero(t, flow.ErrorRate)
	assert.True(t, flow.LastActivity.IsZero())
}

func TestProcessor_Interfaces(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	var _ component.Discoverable = p
	var _ component.LifecycleComponent = p
}

func TestAsFloat(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"float64", 2.5, 2.5, true},
		{"float32", float32(1.5), 1.5, true},
		{"int", 3, 3.0, true},
		{"int64", int64(-7), -7.0, true},
		{"json number", json.Number("4.25"), 4.25, true},
		{"bad json number", json.Number("nope"), 0, false},
		{"string", "2.5", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := asFloat(tt.value)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBuiltinMapFuncs(t *testing.T) {
	funcs.mu.RLock()
	negate, identity, absFn, logFn := funcs.maps["negate"], funcs.maps["identity"], funcs.maps["abs"], funcs.maps["log"]
	funcs.mu.RUnlock()
	require.NotNil(t, negate)
	require.NotNil(t, identity)
	require.NotNil(t, absFn)
	require.NotNil(t, logFn)

	v, err := identity("anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", v)

	v, err = negate(2.5)
	require.NoError(t, err)
	assert.Equal(t, -2.5, v)

	_, err = negate("not a number")
	assert.Error(t, err)

	v, err = absFn(-3.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = logFn(math.E)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.(float64), 1e-12)

	_, err = logFn(0.0)
	assert.Error(t, err)
}

func TestBuiltinFilterFuncs(t *testing.T) {
	funcs.mu.RLock()
	notNil, positive, finite := funcs.filters["not_nil"], funcs.filters["positive"], funcs.filters["finite"]
	funcs.mu.RUnlock()
	require.NotNil(t, notNil)
	require.NotNil(t, positive)
	require.NotNil(t, finite)

	keep, err := notNil(nil)
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = notNil(0.0)
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = positive(1.0)
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = positive(-1.0)
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = finite(math.NaN())
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = finite(math.Inf(1))
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = finite(1.0)
	require.NoError(t, err)
	assert.True(t, keep)
}

func TestRegisterCustomFunctions(t *testing.T) {
	RegisterMap("test_double", func(v any) (any, error) {
		f, _ := asFloat(v)
		return f * 2, nil
	})
	RegisterFilter("test_always", func(any) (bool, error) { return true, nil })
	RegisterAlign("test_align", func([]any) error { return nil })

	funcs.mu.RLock()
	defer funcs.mu.RUnlock()
	assert.Contains(t, funcs.maps, "test_double")
	assert.Contains(t, funcs.filters, "test_always")
	assert.Contains(t, funcs.aligns, "test_align")
}

func TestProcessor_FeedDropsInvalidDocuments(t *testing.T) {
	p := newTestProcessor(t, Config{Pipeline: testDefinition()})

	builder := pipeline.NewBuilder(provenance.NewMemoryStore())
	funcs.mu.RLock()
	builder.RegisterMap("negate", funcs.maps["negate"])
	funcs.mu.RUnlock()
	built, err := builder.Build(context.Background(), testDefinition())
	require.NoError(t, err)

	var stops []*document.RunStop
	var events []*document.Event
	require.NoError(t, built.Subscribe("to", func(v any) error {
		doc := v.(document.Document)
		switch doc.Name {
		case document.NameStop:
			stop, err := doc.AsStop()
			require.NoError(t, err)
			stops = append(stops, stop)
		case document.NameEvent:
			ev, err := doc.AsEvent()
			require.NoError(t, err)
			events = append(events, ev)
		}
		return nil
	}))
	p.pipeline = built

	ctx := context.Background()
	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID: document.NewUID(), Time: start.Time, RunStart: start.UID,
		StreamName: "primary",
		DataKeys: map[string]document.DataKey{
			"det": {Source: "detector", DType: "float64"},
		},
	}
	require.NoError(t, p.feed(ctx, document.MustNew(document.NameStart, start)))
	require.NoError(t, p.feed(ctx, document.MustNew(document.NameDescriptor, desc)))

	// An event referencing a descriptor nobody announced is dropped, the
	// run stays open.
	orphan := &document.Event{
		UID: document.NewUID(), Time: start.Time, Descriptor: document.NewUID(),
		Data: map[string]any{"det": 1.0},
	}
	err = p.feed(ctx, document.MustNew(document.NameEvent, orphan))
	require.Error(t, err)
	assert.Empty(t, stops)
	assert.Equal(t, int64(1), p.errorCount.Load())

	require.NoError(t, p.feed(ctx, document.MustNew(document.NameEvent, &document.Event{
		UID: document.NewUID(), Time: start.Time, Descriptor: desc.UID,
		Data: map[string]any{"det": 1.5},
	})))
	require.Len(t, events, 1)
	assert.Equal(t, -1.5, events[0].Data["det"])
	assert.Empty(t, stops)

	// A processing failure mid-run still closes the run with a failure
	// stop.
	err = p.feed(ctx, document.MustNew(document.NameEvent, &document.Event{
		UID: document.NewUID(), Time: start.Time, Descriptor: desc.UID,
		Data: map[string]any{"det": "not a number"},
	}))
	require.Error(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, document.ExitFailure, stops[0].ExitStatus)
}
