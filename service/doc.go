// Package service provides lifecycle management for the long-running
// services of a SHED deployment.
//
// BaseService is the foundation for all services. It provides the
// Stopped/Starting/Running/Stopping state machine, periodic health
// checks, metrics integration, and context-driven shutdown. Concrete
// services embed BaseService and layer their own Start/Stop behavior
// on top of it.
//
// Manager owns the set of created services. Services are registered as
// constructors in a Registry, created from raw JSON config sections,
// started in creation order, and stopped in reverse order. The manager
// aggregates service health into a health.Monitor.
//
// Built-in services:
//
//   - metrics: Prometheus metrics endpoint backed by metric.Server
//   - health: HTTP liveness and aggregated health report
//   - component-manager: creates and supervises the components declared
//     in the platform configuration (document ingest, translation
//     pipelines, document publishing)
//
// All services follow the standard constructor signature:
//
//	func NewMyService(rawConfig json.RawMessage, deps *Dependencies) (Service, error)
//
// Dependencies carries the shared infrastructure (NATS client, metrics
// registry, logger, platform identity, config manager) so services
// never reach for globals.
package service
