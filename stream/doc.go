// Package stream provides the in-process dataflow primitives that
// translation pipelines are built from: nodes linked upstream to
// downstream, operator nodes (map, filter, combine, sink), and graph
// extraction.
//
// A value enters through a Source and is pushed synchronously through the
// downstream links; each node transforms or filters it and emits to its
// own subscribers. Nodes are not safe for concurrent use - a pipeline is
// driven by a single goroutine, with concurrency handled at the component
// boundary.
//
// Walk extracts the shape of a pipeline as a directed acyclic graph in
// deterministic edge-list form. The walk ascends upstream links from a
// terminal node and stops at boundary nodes (the translation entry
// points), so the resulting graph is exactly the processing applied
// between translation in and translation out. That edge list is what run
// start documents carry as provenance.
package stream
