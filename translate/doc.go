// Package translate bridges the event-model document stream and bare
// values. FromEventStream unpacks documents arriving from an experiment
// control system into the literal values a processing pipeline operates
// on; ToEventStream re-wraps pipeline results into a fresh run of start,
// descriptor, event, and stop documents carrying the provenance of the
// processing that produced them.
package translate
