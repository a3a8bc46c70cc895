package translate

import (
	"fmt"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/stream"
)

// FromOption configures a FromEventStream node.
type FromOption func(*FromEventStream)

// WithStreamName restricts the node to descriptors (and their events)
// belonging to the named event stream. The default is "primary".
func WithStreamName(name string) FromOption {
	return func(f *FromEventStream) { f.streamName = name }
}

// WithPrinciple marks the node as a principle entry: stop documents seen
// by a principle node close the runs of every ToEventStream downstream
// of it.
func WithPrinciple() FromOption {
	return func(f *FromEventStream) { f.principle = true }
}

// FromEventStream extracts one value per matching document and emits it
// downstream. It is the entry point of a pipeline: graph extraction
// stops here, and its run-start uid becomes a parent uid of the runs a
// downstream ToEventStream produces.
type FromEventStream struct {
	stream.BaseNode

	docType    document.Name
	address    document.DataAddress
	streamName string
	principle  bool

	startUID    string
	descriptors map[string]string // descriptor uid -> stream name
	subs        []*ToEventStream
}

// NewFromEventStream creates a translation entry node extracting the
// value at address from every document of the given type, scoped to the
// "primary" event stream unless WithStreamName overrides it. An upstream
// of nil creates a detached node fed directly through Update.
func NewFromEventStream(name string, upstream stream.Node, docType document.Name,
	address document.DataAddress, opts ...FromOption) (*FromEventStream, error) {

	if !docType.IsValid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownDocumentName, name, "NewFromEventStream",
			fmt.Sprintf("document type %q", docType))
	}

	var upstreams []stream.Node
	if upstream != nil {
		upstreams = []stream.Node{upstream}
	}

	f := &FromEventStream{
		BaseNode:    stream.NewBaseNode(name, upstreams...),
		docType:     docType,
		address:     address,
		streamName:  document.DefaultStreamName,
		descriptors: make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	stream.Link(f)
	return f, nil
}

// TranslationBoundary marks the node as a graph-walk boundary.
func (f *FromEventStream) TranslationBoundary() {}

// Principle reports whether the node forwards stop documents downstream.
func (f *FromEventStream) Principle() bool { return f.principle }

// StartUID returns the uid of the run currently open on this node, empty
// between runs.
func (f *FromEventStream) StartUID() string { return f.startUID }

func (f *FromEventStream) subscribeStop(t *ToEventStream) {
	f.subs = append(f.subs, t)
}

// Update implements stream.Node. Every value must be a document.Document;
// documents of the configured type and stream are unpacked and emitted.
func (f *FromEventStream) Update(v any, _ stream.Node) error {
	doc, ok := v.(document.Document)
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidDocument, f.Name(), "Update",
			fmt.Sprintf("expected a document, got %T", v))
	}

	if err := f.track(doc); err != nil {
		return err
	}

	match, err := f.matches(doc)
	if err != nil {
		return err
	}
	if !match {
		return nil
	}

	out, err := f.address.ExtractFrom(doc)
	if err != nil {
		return errors.Wrap(err, f.Name(), "Update", "extract value")
	}
	return f.Emit(f, out)
}

// track follows the run lifecycle regardless of which document type the
// node extracts from.
func (f *FromEventStream) track(doc document.Document) error {
	switch doc.Name {
	case document.NameStart:
		start, err := doc.AsStart()
		if err != nil {
			return errors.Wrap(err, f.Name(), "track", "decode start")
		}
		f.startUID = start.UID
		f.descriptors = make(map[string]string)

	case document.NameDescriptor:
		desc, err := doc.AsDescriptor()
		if err != nil {
			return errors.Wrap(err, f.Name(), "track", "decode descriptor")
		}
		if f.startUID == "" {
			return errors.WrapInvalid(errors.ErrOrphanEvent, f.Name(), "track",
				fmt.Sprintf("descriptor %s arrived before any start", desc.UID))
		}
		f.descriptors[desc.UID] = desc.Stream()

	case document.NameEvent:
		ev, err := doc.AsEvent()
		if err != nil {
			return errors.Wrap(err, f.Name(), "track", "decode event")
		}
		if f.startUID == "" {
			return errors.WrapInvalid(errors.ErrOrphanEvent, f.Name(), "track",
				fmt.Sprintf("event %s arrived with no run open", ev.UID))
		}
		if _, seen := f.descriptors[ev.Descriptor]; !seen {
			return errors.WrapInvalid(errors.ErrOrphanEvent, f.Name(), "track",
				fmt.Sprintf("event %s references unknown descriptor %s", ev.UID, ev.Descriptor))
		}

	case document.NameStop:
		if f.startUID == "" {
			return errors.WrapInvalid(errors.ErrStopBeforeStart, f.Name(), "track",
				"stop arrived with no run open")
		}
		for _, sub := range f.subs {
			if err := sub.closeRun(); err != nil {
				return errors.Wrap(err, f.Name(), "track", "forward stop")
			}
		}
		f.startUID = ""
	}
	return nil
}

// matches reports whether the document is one this node extracts from.
// Events belonging to other streams' descriptors are dropped silently.
func (f *FromEventStream) matches(doc document.Document) (bool, error) {
	if doc.Name != f.docType {
		return false, nil
	}

	switch doc.Name {
	case document.NameDescriptor:
		desc, err := doc.AsDescriptor()
		if err != nil {
			return false, errors.Wrap(err, f.Name(), "matches", "decode descriptor")
		}
		return desc.Stream() == f.streamName, nil

	case document.NameEvent:
		ev, err := doc.AsEvent()
		if err != nil {
			return false, errors.Wrap(err, f.Name(), "matches", "decode event")
		}
		return f.descriptors[ev.Descriptor] == f.streamName, nil

	default:
		return true, nil
	}
}
