package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CJ-Wright/SHED/health"
)

// HealthService exposes aggregated platform health over HTTP.
// It serves liveness at /livez and the full component breakdown at /health.
type HealthService struct {
	*BaseService

	config  HealthConfig
	server  *http.Server
	manager *Manager
}

// HealthConfig holds configuration for the health service
type HealthConfig struct {
	Port int `json:"port"`
}

// Validate checks if the configuration is valid
func (c HealthConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// NewHealthService creates a health service using the standard constructor pattern
func NewHealthService(rawConfig json.RawMessage, deps *Dependencies) (Service, error) {
	var cfg HealthConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse health config: %w", err)
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate health config: %w", err)
	}

	base := NewBaseServiceWithOptions(
		"health",
		nil,
		WithNATS(deps.NATSClient),
		WithLogger(deps.Logger),
		WithMetrics(deps.MetricsRegistry),
	)

	h := &HealthService{
		BaseService: base,
		config:      cfg,
		manager:     deps.ServiceManager,
	}

	return h, nil
}

// Start starts the health HTTP server
func (h *HealthService) Start(ctx context.Context) error {
	if err := h.BaseService.Start(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		return fmt.Errorf("health server already started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		h.logger.Info("Starting health server", "port", h.config.Port)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Health server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the health HTTP server
func (h *HealthService) Stop(timeout time.Duration) error {
	h.mu.Lock()
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Error("Error stopping health server", "error", err)
		}
		cancel()
		h.server = nil
	}
	h.mu.Unlock()

	return h.BaseService.Stop(timeout)
}

// handleHealth serves the aggregated health report
func (h *HealthService) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := struct {
		Status     health.Status            `json:"status"`
		Components map[string]health.Status `json:"components"`
	}{}

	if h.manager != nil {
		h.manager.RefreshHealth()
		report.Status = h.manager.Health()
		report.Components = h.manager.Monitor().GetAll()
	} else {
		report.Status = health.NewHealthy("health", "No service manager attached")
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
