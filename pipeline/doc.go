// Package pipeline declares processing pipelines as data and turns them
// into running node graphs. A Definition names the nodes and connections
// of a pipeline; the Store persists definitions with optimistic
// concurrency; the Builder materializes a validated definition into
// linked translation and processing nodes, wiring a provenance tracker
// onto every translation exit.
package pipeline
