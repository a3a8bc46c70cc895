package file

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T, raw json.RawMessage) *Output {
	t.Helper()
	disc, err := NewOutput(raw, component.Dependencies{NATSClient: &natsclient.Client{}})
	require.NoError(t, err)
	out, ok := disc.(*Output)
	require.True(t, ok)
	return out
}

func archiveConfig(t *testing.T, dir string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{Name: "document_input", Type: "nats", Subject: "documents.processed", Required: true},
			},
		},
		Directory:  dir,
		FilePrefix: "run",
		BufferSize: 10,
	})
	require.NoError(t, err)
	return raw
}

func TestNewArchiveOutput(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		out := newTestArchive(t, nil)

		assert.Equal(t, []string{"documents.processed"}, out.subjects)
		assert.Equal(t, "/var/lib/shed/archive", out.directory)
		assert.Equal(t, "run", out.filePrefix)
		assert.Equal(t, 100, out.bufferSize)
	})

	t.Run("custom directory", func(t *testing.T) {
		out := newTestArchive(t, archiveConfig(t, t.TempDir()))
		assert.Equal(t, 10, out.bufferSize)
	})

	t.Run("no input subjects", func(t *testing.T) {
		raw, err := json.Marshal(Config{
			Ports:     &component.PortConfig{},
			Directory: t.TempDir(),
		})
		require.NoError(t, err)
		_, err = NewOutput(raw, component.Dependencies{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input subjects")
	})
}

func TestArchiveConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{Directory: "/tmp/archive"}).Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Directory: "/tmp/archive", BufferSize: -1}).Validate())
}

func TestArchive_Meta(t *testing.T) {
	out := newTestArchive(t, nil)

	meta := out.Meta()
	assert.Equal(t, "document-archive", meta.Name)
	assert.Equal(t, "output", meta.Type)
}

func TestArchive_Ports(t *testing.T) {
	out := newTestArchive(t, nil)

	inputs := out.InputPorts()
	require.Len(t, inputs, 1)
	natsIn, ok := inputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "documents.processed", natsIn.Subject)

	assert.Empty(t, out.OutputPorts(), "archive writes to disk, no NATS outputs")
}

func TestArchive_RouteDocument(t *testing.T) {
	out := newTestArchive(t, archiveConfig(t, t.TempDir()))

	start := document.NewRunStart()
	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     start.Time,
		RunStart: start.UID,
		DataKeys: map[string]document.DataKey{"det": {Source: "detector", DType: "float64"}},
	}
	ev := &document.Event{
		UID:        document.NewUID(),
		Time:       start.Time,
		Descriptor: desc.UID,
		Data:       map[string]any{"det": 1.0},
	}

	startDoc := document.MustNew(document.NameStart, start)
	run, err := out.routeDocument(&startDoc)
	require.NoError(t, err)
	assert.Equal(t, start.UID, run)

	descDoc := document.MustNew(document.NameDescriptor, desc)
	run, err = out.routeDocument(&descDoc)
	require.NoError(t, err)
	assert.Equal(t, start.UID, run)

	evDoc := document.MustNew(document.NameEvent, ev)
	run, err = out.routeDocument(&evDoc)
	require.NoError(t, err)
	assert.Equal(t, start.UID, run)

	stopDoc := document.MustNew(document.NameStop, document.NewRunStop(start.UID))
	run, err = out.routeDocument(&stopDoc)
	require.NoError(t, err)
	assert.Equal(t, start.UID, run)
	assert.True(t, out.closedAtStop[start.UID])
}

func TestArchive_RouteOrphanEvent(t *testing.T) {
	out := newTestArchive(t, archiveConfig(t, t.TempDir()))

	ev := &document.Event{
		UID:        document.NewUID(),
		Descriptor: "never-seen",
		Data:       map[string]any{"det": 1.0},
	}
	evDoc := document.MustNew(document.NameEvent, ev)
	run, err := out.routeDocument(&evDoc)
	require.NoError(t, err)
	assert.Empty(t, run, "unknown descriptor routes to the orphan file")
}

func TestArchive_RunFileNaming(t *testing.T) {
	dir := t.TempDir()
	out := newTestArchive(t, archiveConfig(t, dir))
	require.NoError(t, out.Initialize())

	out.fileMu.Lock()
	defer out.fileMu.Unlock()

	file, err := out.runFile("abc-123")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/run-abc-123.jsonl", dir), file.Name())

	orphan, err := out.runFile("")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/run-orphan.jsonl", dir), orphan.Name())

	// Second lookup reuses the handle
	again, err := out.runFile("abc-123")
	require.NoError(t, err)
	assert.Same(t, file, again)

	for _, f := range out.files {
		require.NoError(t, f.Close())
	}
}

func TestArchive_Interfaces(t *testing.T) {
	out := newTestArchive(t, nil)

	var _ component.Discoverable = out
	var _ component.LifecycleComponent = out
}
