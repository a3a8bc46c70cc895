// Package shed is a translation layer between event-model document
// streams and streaming dataflow graphs.
//
// # Overview
//
// Experiment control systems at large facilities emit runs of
// structured documents: a run start, one or more event descriptors,
// a sequence of events carrying measured values, and a run stop.
// Streaming analysis, on the other hand, wants bare literal values
// flowing through a graph of maps, filters, and combiners. SHED sits
// between the two:
//
//   - translate.FromEventStream unpacks documents into the single
//     values a dataflow graph operates on
//   - the stream package moves those values through map, filter,
//     combine, and align nodes
//   - translate.ToEventStream re-wraps node outputs into a fresh,
//     fully-formed run of documents
//   - the provenance package records, for every emitted document,
//     which source documents produced it, the shape of the graph it
//     passed through, and its insertion order
//
// # Layers
//
// The document layer defines the event model:
//
//   - document: document types (start, descriptor, event, stop),
//     validation, and uid generation
//   - translate: the document/value boundary in both directions
//   - stream: the dataflow graph the values move through
//   - pipeline: declarative pipeline definitions, the builder that
//     turns them into running graphs, and their KV-backed store
//   - provenance: provenance records and their memory and KV stores
//
// The platform layer runs pipelines as a service:
//
//   - component: discoverable component interfaces, registry, and
//     dependency injection
//   - input/eventbus, input/websocket: document ingest components
//   - processor/translator: hosts a translation pipeline between
//     NATS document subjects
//   - output/eventbus: durable JetStream egress for re-wrapped runs
//   - output/file: per-run JSONL archive on disk
//   - service, config, health, metric, natsclient: service lifecycle,
//     configuration, health aggregation, Prometheus metrics, and the
//     NATS client wrapper
//
// # Quick Start
//
// Build and run the SHED service:
//
//	go build -o bin/shed ./cmd/shed
//	./bin/shed --config configs/shed.json
//
// The binary wires the component registry, connects to NATS, opens the
// provenance bucket, and starts the configured components. Documents
// published to the ingest subjects flow through the configured
// pipelines and come out re-wrapped on the egress stream, with
// provenance queryable by run.
//
// # Embedding
//
// The document layer has no service dependencies and can be used
// directly:
//
//	builder := pipeline.NewBuilder(provenance.NewMemoryStore())
//	builder.RegisterMap("double", func(v any) (any, error) {
//	    return v.(float64) * 2, nil
//	})
//	p, err := builder.Build(ctx, def)
//	p.Subscribe("to", sink)
//	p.Feed(doc)
package shed
