// Package provenance records where re-wrapped documents came from: the
// run-start uids of the source runs, the shape of the processing graph
// that produced each document, and the order in which documents were
// emitted. Records are kept in a pluggable store; an in-memory store
// serves tests and single-process use, and a NATS KV store persists
// records across restarts.
package provenance
