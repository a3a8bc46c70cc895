package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/health"
	"github.com/CJ-Wright/SHED/types"
)

// ComponentManager instantiates and manages the lifecycle of components
// declared in the platform configuration. Components are created from
// registry factories, initialized, started in declaration order, and
// stopped in reverse order on shutdown.
type ComponentManager struct {
	*BaseService

	config   ComponentManagerConfig
	registry *component.Registry
	deps     *Dependencies

	managed map[string]*component.ManagedComponent
	order   []string
	mu      sync.RWMutex
}

// ComponentManagerConfig holds configuration for the component manager
type ComponentManagerConfig struct {
	StopTimeout time.Duration `json:"stop_timeout,omitempty"`
}

// NewComponentManager creates a component manager using the standard constructor pattern
func NewComponentManager(rawConfig json.RawMessage, deps *Dependencies) (Service, error) {
	var cfg ComponentManagerConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse component-manager config: %w", err)
		}
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	if deps.ComponentRegistry == nil {
		return nil, fmt.Errorf("component-manager requires a component registry")
	}

	base := NewBaseServiceWithOptions(
		"component-manager",
		nil,
		WithNATS(deps.NATSClient),
		WithLogger(deps.Logger),
		WithMetrics(deps.MetricsRegistry),
	)

	cm := &ComponentManager{
		BaseService: base,
		config:      cfg,
		registry:    deps.ComponentRegistry,
		deps:        deps,
		managed:     make(map[string]*component.ManagedComponent),
	}
	cm.SetHealthCheck(cm.healthCheck)

	return cm, nil
}

// Start creates, initializes, and starts all enabled components
func (cm *ComponentManager) Start(ctx context.Context) error {
	if err := cm.BaseService.Start(ctx); err != nil {
		return err
	}

	configs := cm.componentConfigs()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		compConfig := configs[name]
		if !compConfig.Enabled {
			cm.logger.Info("Component disabled in config", "instance", name)
			continue
		}

		if err := cm.startComponent(ctx, name, compConfig); err != nil {
			cm.logger.Error("Failed to start component", "instance", name, "error", err)
			cm.stopAll(cm.config.StopTimeout)
			return fmt.Errorf("start component %s: %w", name, err)
		}
	}

	cm.mu.RLock()
	count := len(cm.managed)
	cm.mu.RUnlock()
	cm.logger.Info("Component manager started", "components", count)

	return nil
}

// Stop stops all managed components in reverse start order
func (cm *ComponentManager) Stop(timeout time.Duration) error {
	cm.stopAll(timeout)
	return cm.BaseService.Stop(timeout)
}

// Health aggregates component health into the service health status
func (cm *ComponentManager) Health() health.Status {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.Status() != StatusRunning {
		return cm.BaseService.Health()
	}

	statuses := make([]health.Status, 0, len(cm.managed))
	for name, mc := range cm.managed {
		statuses = append(statuses, health.FromComponentHealth(name, mc.Component.Health()))
	}
	if len(statuses) == 0 {
		return health.NewHealthy("component-manager", "No components configured")
	}
	return health.Aggregate("component-manager", statuses)
}

// ManagedComponents returns the instance names of all running components
func (cm *ComponentManager) ManagedComponents() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	names := make([]string, len(cm.order))
	copy(names, cm.order)
	return names
}

// Component returns a managed component by instance name
func (cm *ComponentManager) Component(name string) (component.Discoverable, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	mc, exists := cm.managed[name]
	if !exists {
		return nil, false
	}
	return mc.Component, true
}

// componentConfigs snapshots the component section of the platform config
func (cm *ComponentManager) componentConfigs() map[string]types.ComponentConfig {
	if cm.deps.Manager == nil {
		return nil
	}
	safeCfg := cm.deps.Manager.GetConfig()
	if safeCfg == nil {
		return nil
	}
	cfg := safeCfg.Get()
	configs := make(map[string]types.ComponentConfig, len(cfg.Components))
	for name, c := range cfg.Components {
		configs[name] = c
	}
	return configs
}

// startComponent creates one component and walks it through its lifecycle
func (cm *ComponentManager) startComponent(ctx context.Context, name string, cfg types.ComponentConfig) error {
	compDeps := component.Dependencies{
		NATSClient:      cm.deps.NATSClient,
		ProvenanceStore: cm.deps.ProvenanceStore,
		MetricsRegistry: cm.deps.MetricsRegistry,
		Logger:          cm.deps.Logger,
		Platform:        cm.deps.Platform,
	}

	comp, err := cm.registry.CreateComponent(name, cfg, compDeps)
	if err != nil {
		return err
	}

	lc, ok := component.AsLifecycleComponent(comp)
	if !ok {
		cm.registry.UnregisterInstance(name)
		return fmt.Errorf("component %s does not support lifecycle management", name)
	}

	if err := lc.Initialize(); err != nil {
		cm.registry.UnregisterInstance(name)
		return fmt.Errorf("initialize: %w", err)
	}

	compCtx, cancel := context.WithCancel(ctx)
	if err := lc.Start(compCtx); err != nil {
		cancel()
		cm.registry.UnregisterInstance(name)
		return fmt.Errorf("start: %w", err)
	}

	cm.mu.Lock()
	cm.managed[name] = &component.ManagedComponent{
		Component:  comp,
		State:      component.StateStarted,
		Context:    compCtx,
		Cancel:     cancel,
		StartOrder: len(cm.order),
	}
	cm.order = append(cm.order, name)
	cm.mu.Unlock()

	cm.logger.Info("Component started", "instance", name, "factory", cfg.Name, "type", cfg.Type)
	return nil
}

// stopAll stops managed components in reverse start order
func (cm *ComponentManager) stopAll(timeout time.Duration) {
	cm.mu.Lock()
	order := make([]string, len(cm.order))
	copy(order, cm.order)
	cm.order = nil
	managed := cm.managed
	cm.managed = make(map[string]*component.ManagedComponent)
	cm.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		mc := managed[name]
		if mc == nil {
			continue
		}

		if lc, ok := component.AsLifecycleComponent(mc.Component); ok {
			if err := lc.Stop(timeout); err != nil {
				cm.logger.Error("Error stopping component", "instance", name, "error", err)
			}
		}
		if mc.Cancel != nil {
			mc.Cancel()
		}
		cm.registry.UnregisterInstance(name)
		cm.logger.Info("Component stopped", "instance", name)
	}
}

// healthCheck reports unhealthy if any managed component reports unhealthy
func (cm *ComponentManager) healthCheck() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for name, mc := range cm.managed {
		status := health.FromComponentHealth(name, mc.Component.Health())
		if status.IsUnhealthy() {
			return fmt.Errorf("component %s unhealthy: %s", name, status.Message)
		}
	}
	return nil
}
