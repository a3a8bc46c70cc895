// Package service provides service registration
package service

import "fmt"

// RegisterAll registers all built-in services with the registry
func RegisterAll(registry *Registry) error {
	services := map[string]Constructor{
		"metrics":           NewMetrics,
		"health":            NewHealthService,
		"component-manager": NewComponentManager,
	}

	for name, constructor := range services {
		if err := registry.Register(name, constructor); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}
