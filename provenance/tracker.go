package provenance

import (
	"context"
	"fmt"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/stream"
)

// Tracker observes the document output of one translation exit node and
// records a provenance entry per document. It follows the run lifecycle
// so every descriptor, event, and stop record carries the uid of its
// run, the run's parent uids, and the processing graph.
type Tracker struct {
	store Store
	node  string

	runStart   string
	parentUIDs map[string]string
	graph      []string
}

// NewTracker creates a tracker recording documents emitted by the named
// node into the store.
func NewTracker(store Store, node string) *Tracker {
	return &Tracker{store: store, node: node}
}

// Observe records one emitted document. Documents are expected in
// emission order: a start opens the run context the following records
// inherit, and a stop closes it.
func (t *Tracker) Observe(ctx context.Context, doc document.Document) error {
	uid, err := doc.UID()
	if err != nil {
		return errors.Wrap(err, t.node, "Observe", "read document uid")
	}

	record := &Record{
		DocumentUID: uid,
		Name:        doc.Name,
		Node:        t.node,
		RunStart:    t.runStart,
		ParentUIDs:  t.parentUIDs,
		Graph:       t.graph,
	}

	switch doc.Name {
	case document.NameStart:
		start, err := doc.AsStart()
		if err != nil {
			return errors.Wrap(err, t.node, "Observe", "decode start")
		}
		t.runStart = start.UID
		t.parentUIDs = start.ParentUIDs
		t.graph = start.Graph
		record.RunStart = start.UID
		record.ParentUIDs = start.ParentUIDs
		record.Graph = start.Graph
		record.Time = start.Time

	case document.NameDescriptor:
		desc, err := doc.AsDescriptor()
		if err != nil {
			return errors.Wrap(err, t.node, "Observe", "decode descriptor")
		}
		record.Time = desc.Time

	case document.NameEvent:
		ev, err := doc.AsEvent()
		if err != nil {
			return errors.Wrap(err, t.node, "Observe", "decode event")
		}
		record.SeqNum = ev.SeqNum
		record.Time = ev.Time

	case document.NameStop:
		stop, err := doc.AsStop()
		if err != nil {
			return errors.Wrap(err, t.node, "Observe", "decode stop")
		}
		record.Time = stop.Time
		t.runStart = ""
		t.parentUIDs = nil
		t.graph = nil

	default:
		return errors.WrapInvalid(errors.ErrUnknownDocumentName, t.node, "Observe",
			fmt.Sprintf("name %q", doc.Name))
	}

	if err := t.store.Put(ctx, record); err != nil {
		return errors.Wrap(err, t.node, "Observe", "store record")
	}
	return nil
}

// SinkFunc adapts the tracker to a pipeline sink, so it can be attached
// directly downstream of a translation exit node.
func (t *Tracker) SinkFunc(ctx context.Context) stream.SinkFunc {
	return func(v any) error {
		doc, ok := v.(document.Document)
		if !ok {
			return errors.WrapInvalid(errors.ErrInvalidDocument, t.node, "SinkFunc",
				fmt.Sprintf("expected a document, got %T", v))
		}
		return t.Observe(ctx, doc)
	}
}
