// Package websocket provides WebSocket ingest of event-model documents.
//
// # Overview
//
// The WebSocket input component receives run start, event descriptor,
// event and run stop documents over WebSocket connections, typically
// from an experiment-control bridge or a remote SHED instance. Every
// data payload is validated as an event-model document before it is
// published to NATS; senders learn about rejects through nack messages.
//
// # Modes of Operation
//
// Server mode: the component listens for incoming WebSocket connections
// and accepts documents from multiple remote senders. This is the usual
// deployment at a beamline, with the control system's bridge dialing in.
//
// Client mode: the component dials a remote WebSocket server and pulls
// the document stream from it, reconnecting with exponential backoff
// when the link drops.
//
// # Message Protocol
//
// All WebSocket messages use a JSON envelope to distinguish between
// data and control messages:
//
//	type MessageEnvelope struct {
//	    Type      string          // "data", "request", "reply", "ack", "nack", "slow"
//	    ID        string          // Unique message ID
//	    Timestamp int64           // Unix milliseconds
//	    Payload   json.RawMessage // The document (for "data")
//	}
//
// A "data" payload must be a valid event-model document. Valid documents
// are acked and published to the document output subject; invalid ones
// are nacked with reason "invalid_document" and dropped. When the
// internal queue passes 80% utilization the component sends a "slow"
// signal so well-behaved senders can back off.
//
// # Configuration
//
//	{
//	  "mode": "server",
//	  "server": {
//	    "http_port": 8082,
//	    "path": "/documents",
//	    "max_connections": 100
//	  },
//	  "auth": {
//	    "type": "bearer",
//	    "bearer_token_env": "SHED_WS_TOKEN"
//	  },
//	  "backpressure": {
//	    "enabled": true,
//	    "queue_size": 1000,
//	    "on_full": "drop_oldest"
//	  },
//	  "ports": {
//	    "outputs": [
//	      {"name": "document_output", "type": "nats", "subject": "documents.primary"},
//	      {"name": "control_output", "type": "nats", "subject": "documents.control"}
//	    ]
//	  }
//	}
//
// TLS is configured through the platform security config and supports
// static certificates as well as ACME issuance.
package websocket
