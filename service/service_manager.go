package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CJ-Wright/SHED/health"
)

// Manager manages service lifecycle using a provided registry.
// Services are explicitly registered and created from raw JSON configs.
type Manager struct {
	*BaseService // Embed BaseService to implement Service interface

	registry *Registry
	services map[string]Service
	order    []string // Track creation order for reverse shutdown
	monitor  *health.Monitor
	mu       sync.RWMutex
}

// NewServiceManager creates a new service manager
func NewServiceManager(registry *Registry) *Manager {
	m := &Manager{
		registry: registry,
		services: make(map[string]Service),
		monitor:  health.NewMonitor(),
	}
	m.BaseService = NewBaseServiceWithOptions("service-manager", nil)
	return m
}

// HasConstructor reports whether a constructor is registered for name
func (m *Manager) HasConstructor(name string) bool {
	_, exists := m.registry.Constructor(name)
	return exists
}

// ListConstructors returns the names of all registered constructors
func (m *Manager) ListConstructors() []string {
	return m.registry.Services()
}

// CreateService creates a service from its registered constructor and tracks it
func (m *Manager) CreateService(name string, rawConfig json.RawMessage, deps *Dependencies) (Service, error) {
	constructor, exists := m.registry.Constructor(name)
	if !exists {
		return nil, fmt.Errorf("no constructor registered for service %s", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[name]; exists {
		return nil, fmt.Errorf("service %s already created", name)
	}

	svc, err := constructor(rawConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("construct service %s: %w", name, err)
	}

	m.services[name] = svc
	m.order = append(m.order, name)
	return svc, nil
}

// GetService returns a created service by name
func (m *Manager) GetService(name string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	svc, exists := m.services[name]
	return svc, exists
}

// Services returns the names of all created services in creation order
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Monitor returns the health monitor aggregating all managed services
func (m *Manager) Monitor() *health.Monitor {
	return m.monitor
}

// StartAll starts all created services in creation order.
// If any service fails to start, already-started services are stopped
// in reverse order before the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	if err := m.BaseService.Start(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	started := make([]string, 0, len(order))
	for _, name := range order {
		svc, exists := m.GetService(name)
		if !exists {
			continue
		}

		slog.Info("Starting service", "name", name)
		if err := svc.Start(ctx); err != nil {
			m.monitor.UpdateUnhealthy(name, err.Error())
			m.stopServices(started, 5*time.Second)
			return fmt.Errorf("start service %s: %w", name, err)
		}

		m.monitor.Update(name, svc.Health())
		started = append(started, name)
	}

	return nil
}

// StopAll stops all services in reverse creation order
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		svc, exists := m.GetService(name)
		if !exists {
			continue
		}

		slog.Info("Stopping service", "name", name)
		if err := svc.Stop(timeout); err != nil {
			slog.Error("Error stopping service", "name", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop service %s: %w", name, err)
			}
		}
		m.monitor.Remove(name)
	}

	if err := m.BaseService.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Health aggregates the health of all managed services
func (m *Manager) Health() health.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]health.Status, 0, len(m.services))
	for _, svc := range m.services {
		statuses = append(statuses, svc.Health())
	}
	return health.Aggregate("service-manager", statuses)
}

// RefreshHealth polls each service and updates the monitor
func (m *Manager) RefreshHealth() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, svc := range m.services {
		m.monitor.Update(name, svc.Health())
	}
}

// stopServices stops the named services in reverse order
func (m *Manager) stopServices(names []string, timeout time.Duration) {
	for i := len(names) - 1; i >= 0; i-- {
		if svc, exists := m.GetService(names[i]); exists {
			_ = svc.Stop(timeout)
		}
	}
}
