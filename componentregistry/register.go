// Package componentregistry registers the SHED platform components.
package componentregistry

import (
	"errors"

	"github.com/CJ-Wright/SHED/component"
	pkgerrors "github.com/CJ-Wright/SHED/errors"
	eventbusinput "github.com/CJ-Wright/SHED/input/eventbus"
	websocketinput "github.com/CJ-Wright/SHED/input/websocket"
	eventbusoutput "github.com/CJ-Wright/SHED/output/eventbus"
	filearchive "github.com/CJ-Wright/SHED/output/file"
	"github.com/CJ-Wright/SHED/processor/translator"
)

// Register registers all SHED components with the provided registry:
//
// Inputs:
//   - eventbus input (NATS document ingest)
//   - websocket input (WebSocket document ingest)
//
// Processors:
//   - translator (translation pipeline host)
//
// Outputs:
//   - eventbus-egress output (durable JetStream document egress)
//   - archive output (per-run JSONL files on disk)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := eventbusinput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
			"eventbus input component registration")
	}

	if err := websocketinput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
			"WebSocket input component registration")
	}

	if err := translator.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
			"translator processor component registration")
	}

	if err := eventbusoutput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
			"eventbus output component registration")
	}

	if err := filearchive.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
			"archive output component registration")
	}

	return nil
}
