package translate

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/pkg/timestamp"
	"github.com/CJ-Wright/SHED/stream"
)

// ToOption configures a ToEventStream node.
type ToOption func(*ToEventStream)

// WithMetadata merges extra metadata into every start document the node
// emits.
func WithMetadata(md map[string]any) ToOption {
	return func(t *ToEventStream) { t.metadata = md }
}

// ToEventStream wraps pipeline values back into event-model documents.
// Each run it emits carries the extracted processing graph and the
// run-start uids of its parents, so a consumer can reconstruct exactly
// which source runs and which processing produced the data.
//
// A new run opens at the first value and whenever the set of parent runs
// changes; a run closes when a principle entry node upstream sees a stop
// document, or on FailRun.
type ToEventStream struct {
	stream.BaseNode

	dataKeys []string
	metadata map[string]any
	graph    stream.Graph
	parents  map[string]*FromEventStream // translation-node name -> entry node

	runStartUID   string
	descriptorUID string
	parentUIDs    map[string]string
	seqNum        int
}

// NewToEventStream creates a translation exit node naming the values it
// receives with dataKeys. Tuples from combine nodes are zipped against
// the keys in order; a scalar value is paired with a single key. The
// constructor walks the upstream pipeline to extract its graph and find
// the translation entry nodes, so the pipeline above it must be fully
// built first.
func NewToEventStream(name string, upstream stream.Node, dataKeys []string,
	opts ...ToOption) (*ToEventStream, error) {

	if len(dataKeys) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidDocument, name, "NewToEventStream",
			"at least one data key required")
	}

	t := &ToEventStream{
		BaseNode: stream.NewBaseNode(name, upstream),
		dataKeys: dataKeys,
		parents:  make(map[string]*FromEventStream),
	}
	for _, opt := range opts {
		opt(t)
	}
	stream.Link(t)

	graph, err := stream.Walk(t)
	if err != nil {
		return nil, errors.Wrap(err, name, "NewToEventStream", "extract graph")
	}
	t.graph = graph

	for nodeName, b := range stream.BoundaryNodes(t) {
		from, ok := b.(*FromEventStream)
		if !ok {
			continue
		}
		t.parents[nodeName] = from
		if from.Principle() {
			from.subscribeStop(t)
		}
	}
	return t, nil
}

// Graph returns the extracted processing graph between the translation
// entry nodes and this node.
func (t *ToEventStream) Graph() stream.Graph { return t.graph }

// RunStartUID returns the uid of the run currently open on this node,
// empty between runs.
func (t *ToEventStream) RunStartUID() string { return t.runStartUID }

// Update implements stream.Node. Each value becomes one event; start and
// descriptor documents are emitted lazily when a run opens, and a parent
// uid change closes the open run before the next one opens.
func (t *ToEventStream) Update(v any, _ stream.Node) error {
	current := t.currentParentUIDs()

	switch {
	case t.parentUIDs == nil:
		if err := t.openRun(v, current); err != nil {
			return err
		}
	case !maps.Equal(t.parentUIDs, current):
		if err := t.emitStop(document.ExitSuccess, ""); err != nil {
			return err
		}
		if err := t.openRun(v, current); err != nil {
			return err
		}
	}

	return t.emitEvent(v)
}

// FailRun closes the open run with a failure stop carrying the reason.
// It is a no-op when no run is open.
func (t *ToEventStream) FailRun(reason error) error {
	if t.runStartUID == "" {
		return nil
	}
	return t.emitStop(document.ExitFailure, reason.Error())
}

// closeRun is invoked by principle entry nodes when the source run stops.
func (t *ToEventStream) closeRun() error {
	if t.runStartUID == "" {
		return nil
	}
	return t.emitStop(document.ExitSuccess, "")
}

func (t *ToEventStream) currentParentUIDs() map[string]string {
	uids := make(map[string]string, len(t.parents))
	for name, from := range t.parents {
		uids[name] = from.StartUID()
	}
	return uids
}

func (t *ToEventStream) openRun(v any, parentUIDs map[string]string) error {
	start := document.NewRunStart()
	start.ParentUIDs = parentUIDs
	start.Graph = t.graph.EdgeList()
	start.Metadata = t.metadata

	if err := t.Emit(t, document.MustNew(document.NameStart, start)); err != nil {
		return errors.Wrap(err, t.Name(), "openRun", "emit start")
	}
	t.runStartUID = start.UID
	t.parentUIDs = parentUIDs

	desc := &document.EventDescriptor{
		UID:      document.NewUID(),
		Time:     timestamp.Now(),
		RunStart: start.UID,
		DataKeys: t.describe(v),
	}
	if err := t.Emit(t, document.MustNew(document.NameDescriptor, desc)); err != nil {
		return errors.Wrap(err, t.Name(), "openRun", "emit descriptor")
	}
	t.descriptorUID = desc.UID
	t.seqNum = 0
	return nil
}

func (t *ToEventStream) emitEvent(v any) error {
	tuple, err := t.asTuple(v)
	if err != nil {
		return err
	}

	now := timestamp.Now()
	ev := &document.Event{
		UID:        document.NewUID(),
		Time:       now,
		Descriptor: t.descriptorUID,
		SeqNum:     t.seqNum,
		Data:       make(map[string]any, len(t.dataKeys)),
		Timestamps: make(map[string]int64, len(t.dataKeys)),
		Filled:     make(map[string]bool, len(t.dataKeys)),
	}
	for i, key := range t.dataKeys {
		ev.Data[key] = tuple[i]
		ev.Timestamps[key] = now
		ev.Filled[key] = true
	}

	if err := t.Emit(t, document.MustNew(document.NameEvent, ev)); err != nil {
		return errors.Wrap(err, t.Name(), "emitEvent", "emit event")
	}
	t.seqNum++
	return nil
}

func (t *ToEventStream) emitStop(status document.ExitStatus, reason string) error {
	stop := document.NewRunStop(t.runStartUID)
	stop.ExitStatus = status
	stop.Reason = reason

	if err := t.Emit(t, document.MustNew(document.NameStop, stop)); err != nil {
		return errors.Wrap(err, t.Name(), "emitStop", "emit stop")
	}
	t.runStartUID = ""
	t.descriptorUID = ""
	t.parentUIDs = nil
	return nil
}

// describe infers the descriptor data keys from the first value of a
// run. All re-wrapped values originate from processing in this program,
// hence the "analysis" source.
func (t *ToEventStream) describe(v any) map[string]document.DataKey {
	tuple, err := t.asTuple(v)
	if err != nil {
		// The event emission that follows reports the mismatch.
		return map[string]document.DataKey{}
	}

	keys := make(map[string]document.DataKey, len(t.dataKeys))
	for i, key := range t.dataKeys {
		dk := document.DataKey{
			Source: "analysis",
			DType:  fmt.Sprintf("%T", tuple[i]),
		}
		rv := reflect.ValueOf(tuple[i])
		if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
			dk.Shape = []int{rv.Len()}
		}
		keys[key] = dk
	}
	return keys
}

// asTuple aligns a value against the configured data keys: combine-node
// tuples position-wise, anything else as a single value.
func (t *ToEventStream) asTuple(v any) ([]any, error) {
	tuple, ok := v.([]any)
	if !ok {
		tuple = []any{v}
	}
	if len(tuple) != len(t.dataKeys) {
		return nil, errors.WrapInvalid(errors.ErrMisalignedStreams, t.Name(), "asTuple",
			fmt.Sprintf("%d values for %d data keys", len(tuple), len(t.dataKeys)))
	}
	return tuple, nil
}
