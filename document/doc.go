// Package document defines the event-model document types produced by a
// streaming experiment-control system: run start, event descriptor, event,
// and run stop. A run is a sequence of documents sharing a run start uid:
//
//	start -> descriptor* -> event* -> stop
//
// Documents travel on the wire as a Document envelope (name plus raw JSON
// body). Every document carries a UUIDv4 uid; events additionally carry a
// sequence number giving their order within a descriptor's stream.
//
// The package also provides DataAddress, the path notation used by the
// translation layer to pull a literal value out of a document body
// (for example "data.det_image" walks doc["data"]["det_image"]).
package document
