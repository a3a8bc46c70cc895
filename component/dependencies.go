package component

import (
	"log/slog"

	"github.com/CJ-Wright/SHED/metric"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/CJ-Wright/SHED/pkg/security"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/CJ-Wright/SHED/types"
)

// PlatformMeta provides platform identity to components.
// Type alias to avoid import cycles while maintaining compatibility.
type PlatformMeta = types.PlatformMeta

// Dependencies provides all external dependencies needed by components.
// This structure follows the same pattern as Dependencies, enabling
// components to receive properly structured dependencies rather than individual fields.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for messaging
	ProvenanceStore provenance.Store        // Provenance record store (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Platform        PlatformMeta            // Platform identity (facility and beamline)
	Security        security.Config         // Platform-wide security configuration
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
