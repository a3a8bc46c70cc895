// Package file provides the archive output component. It subscribes to
// the processed-document subject and writes each run's document stream
// to its own JSON Lines file on disk, giving every re-wrapped run a
// durable flat-file record alongside the JetStream egress.
//
// # Routing
//
// Documents are routed to runs by following the event-model reference
// chain: a start document opens the run's file, descriptors record
// which run their events belong to, and the stop document closes the
// file. Events whose descriptor has not been seen (for example after a
// restart mid-run) are written to an orphan file instead of being
// dropped.
//
// # Quick Start
//
//	config := file.Config{
//	    Ports: &component.PortConfig{
//	        Inputs: []component.PortDefinition{
//	            {Name: "document_input", Type: "nats", Subject: "documents.processed", Required: true},
//	        },
//	    },
//	    Directory:  "/var/lib/shed/archive",
//	    FilePrefix: "run",
//	}
//
//	rawConfig, _ := json.Marshal(config)
//	output, err := file.NewOutput(rawConfig, deps)
//
// Each archived run lands in Directory as <prefix>-<run uid>.jsonl, one
// document per line in arrival order. Writes are buffered and flushed
// either when BufferSize documents accumulate or once per second,
// whichever comes first.
package file
