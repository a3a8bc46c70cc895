package pipeline

import (
	"context"
	"fmt"

	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/CJ-Wright/SHED/stream"
	"github.com/CJ-Wright/SHED/translate"
)

// Builder materializes definitions into running pipelines. Processing
// functions are referenced by name from node configs and must be
// registered before Build.
type Builder struct {
	maps    map[string]stream.MapFunc
	filters map[string]stream.FilterFunc
	aligns  map[string]stream.AlignFunc
	store   provenance.Store
}

// NewBuilder creates a builder. When store is non-nil, every translation
// exit node gets a provenance tracker recording into it.
func NewBuilder(store provenance.Store) *Builder {
	return &Builder{
		maps:    make(map[string]stream.MapFunc),
		filters: make(map[string]stream.FilterFunc),
		aligns:  make(map[string]stream.AlignFunc),
		store:   store,
	}
}

// RegisterMap makes a map function available to definitions under name.
func (b *Builder) RegisterMap(name string, fn stream.MapFunc) {
	b.maps[name] = fn
}

// RegisterFilter makes a filter function available to definitions under
// name.
func (b *Builder) RegisterFilter(name string, fn stream.FilterFunc) {
	b.filters[name] = fn
}

// RegisterAlign makes an align function available to definitions under
// name.
func (b *Builder) RegisterAlign(name string, fn stream.AlignFunc) {
	b.aligns[name] = fn
}

// Pipeline is a materialized definition: linked nodes ready to receive
// documents.
type Pipeline struct {
	Definition *Definition

	entries  map[string]*translate.FromEventStream
	exits    map[string]*translate.ToEventStream
	trackers map[string]*provenance.Tracker
}

// Feed delivers one document to every translation entry node, in the
// definition's declaration order.
func (p *Pipeline) Feed(doc document.Document) error {
	for _, spec := range p.Definition.Nodes {
		entry, ok := p.entries[spec.ID]
		if !ok {
			continue
		}
		if err := entry.Update(doc, nil); err != nil {
			return errors.Wrap(err, p.Definition.ID, "Feed", "deliver to "+spec.ID)
		}
	}
	return nil
}

// Fail closes every open run with a failure stop carrying the reason.
// Feed callers invoke it when processing a source document fails, so
// downstream consumers see the run end rather than dangle.
func (p *Pipeline) Fail(reason error) error {
	for id, exit := range p.exits {
		if err := exit.FailRun(reason); err != nil {
			return errors.Wrap(err, p.Definition.ID, "Fail", "close run on "+id)
		}
	}
	return nil
}

// Exit returns the translation exit node with the given ID.
func (p *Pipeline) Exit(id string) (*translate.ToEventStream, bool) {
	exit, ok := p.exits[id]
	return exit, ok
}

// Subscribe attaches fn downstream of the named translation exit,
// receiving every document the exit emits.
func (p *Pipeline) Subscribe(id string, fn stream.SinkFunc) error {
	exit, ok := p.exits[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrRecordNotFound, p.Definition.ID, "Subscribe",
			"no exit node "+id)
	}
	stream.NewSink(id+".subscriber", exit, fn)
	return nil
}

// Build validates the definition and instantiates its nodes in
// topological order. The returned pipeline is fully linked; documents
// fed to it flow synchronously to the exits and the provenance store.
func (b *Builder) Build(ctx context.Context, def *Definition) (*Pipeline, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Wrap(err, "Builder", "Build", "validate definition")
	}
	order, err := def.topoOrder()
	if err != nil {
		return nil, err
	}

	specs := make(map[string]NodeSpec, len(def.Nodes))
	for _, spec := range def.Nodes {
		specs[spec.ID] = spec
	}

	p := &Pipeline{
		Definition: def,
		entries:    make(map[string]*translate.FromEventStream),
		exits:      make(map[string]*translate.ToEventStream),
		trackers:   make(map[string]*provenance.Tracker),
	}

	built := make(map[string]stream.Node, len(def.Nodes))
	for _, id := range order {
		spec := specs[id]
		inputs := make([]stream.Node, 0, 1)
		for _, in := range def.inputsOf(id) {
			inputs = append(inputs, built[in])
		}

		node, err := b.buildNode(spec, inputs)
		if err != nil {
			return nil, err
		}
		built[id] = node

		switch n := node.(type) {
		case *translate.FromEventStream:
			p.entries[id] = n
		case *translate.ToEventStream:
			p.exits[id] = n
			if b.store != nil {
				tracker := provenance.NewTracker(b.store, id)
				p.trackers[id] = tracker
				stream.NewSink(id+".provenance", n, tracker.SinkFunc(ctx))
			}
		}
	}

	return p, nil
}

func (b *Builder) buildNode(spec NodeSpec, inputs []stream.Node) (stream.Node, error) {
	var first stream.Node
	if len(inputs) > 0 {
		first = inputs[0]
	}

	switch spec.Kind {
	case KindFromEventStream:
		docType := configDocName(spec.Config, "doc_type")
		address := document.ParseDataAddress(configString(spec.Config, "data_address"))
		var opts []translate.FromOption
		if name := configString(spec.Config, "stream_name"); name != "" {
			opts = append(opts, translate.WithStreamName(name))
		}
		if configBool(spec.Config, "principle") {
			opts = append(opts, translate.WithPrinciple())
		}
		return translate.NewFromEventStream(spec.ID, nil, docType, address, opts...)

	case KindMap:
		name := configString(spec.Config, "function")
		fn, ok := b.maps[name]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("node '%s' references unregistered map function '%s'", spec.ID, name),
				"Builder", "buildNode", "function lookup failed")
		}
		return stream.NewMap(spec.ID, first, fn), nil

	case KindFilter:
		name := configString(spec.Config, "function")
		fn, ok := b.filters[name]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("node '%s' references unregistered filter function '%s'", spec.ID, name),
				"Builder", "buildNode", "function lookup failed")
		}
		return stream.NewFilter(spec.ID, first, fn), nil

	case KindCombine:
		var align stream.AlignFunc
		if name := configString(spec.Config, "align"); name != "" {
			fn, ok := b.aligns[name]
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("node '%s' references unregistered align function '%s'", spec.ID, name),
					"Builder", "buildNode", "function lookup failed")
			}
			align = fn
		}
		return stream.NewCombine(spec.ID, align, inputs...), nil

	case KindToEventStream:
		var opts []translate.ToOption
		if md := configMap(spec.Config, "metadata"); md != nil {
			opts = append(opts, translate.WithMetadata(md))
		}
		return translate.NewToEventStream(spec.ID, first,
			configStrings(spec.Config, "data_keys"), opts...)

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("node '%s' has unknown kind '%s'", spec.ID, spec.Kind),
			"Builder", "buildNode", "kind dispatch failed")
	}
}
