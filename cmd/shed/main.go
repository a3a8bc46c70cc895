// Package main implements the entry point for the SHED daemon.
// SHED (Streaming Heterogeneous Event Data) translates between the
// event-model document stream of an experiment-control system and bare
// literal values for streaming dataflow pipelines, recording provenance
// for every re-wrapped document.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/componentregistry"
	"github.com/CJ-Wright/SHED/config"
	"github.com/CJ-Wright/SHED/metric"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/CJ-Wright/SHED/service"
	"github.com/CJ-Wright/SHED/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "shed"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	natsClient, metricsRegistry, platform, configManager, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)
	defer configManager.Stop(5 * time.Second)

	provStore, err := setupProvenanceStore(cfg, natsClient)
	if err != nil {
		return err
	}

	componentRegistry, manager, err := setupRegistriesAndManager()
	if err != nil {
		return err
	}

	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		ProvenanceStore:   provStore,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
		ServiceManager:    manager,
	}

	if err := createServices(cfg, manager, svcDeps); err != nil {
		return err
	}

	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting SHED (streaming heterogeneous event data)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupInfrastructure creates and connects core infrastructure
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, *config.Manager, error) {
	natsClient, metricsRegistry, platform, err := createCoreDependencies(cfg)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, fmt.Errorf("create dependencies: %w", err)
	}

	if err := connectToNATS(ctx, natsClient); err != nil {
		return nil, nil, types.PlatformMeta{}, nil, err
	}

	configManager, err := setupConfigManager(ctx, cfg, natsClient, logger)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, err
	}

	return natsClient, metricsRegistry, platform, configManager, nil
}

// connectToNATS establishes the NATS connection and waits for it to be
// ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// setupConfigManager creates and starts the config manager
func setupConfigManager(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (*config.Manager, error) {
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}

	if err := configManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start config manager: %w", err)
	}

	return configManager, nil
}

// setupProvenanceStore opens the KV-backed provenance record store
func setupProvenanceStore(cfg *config.Config, natsClient *natsclient.Client) (provenance.Store, error) {
	bucket := cfg.Provenance.Bucket

	store, err := provenance.NewKVStore(natsClient,
		provenance.WithBucketName(bucket.Name),
		provenance.WithBucketTTL(bucket.TTL),
		provenance.WithBucketHistory(bucket.History),
	)
	if err != nil {
		return nil, fmt.Errorf("open provenance store: %w", err)
	}

	slog.Info("Provenance store ready", "ttl", bucket.TTL)
	return store, nil
}

// setupRegistriesAndManager creates the component registry, the service
// registry and the service manager
func setupRegistriesAndManager() (*component.Registry, *service.Manager, error) {
	componentRegistry := component.NewRegistry()
	if err := componentregistry.Register(componentRegistry); err != nil {
		return nil, nil, fmt.Errorf("register components: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return nil, nil, fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	return componentRegistry, manager, nil
}

// createServices creates every enabled service from config
func createServices(cfg *config.Config, manager *service.Manager, svcDeps *service.Dependencies) error {
	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if !svcConfig.Enabled {
			slog.Info("Service disabled in config", "name", name)
			continue
		}

		if !manager.HasConstructor(name) {
			slog.Warn("Service configured but not registered",
				"key", name, "available_constructors", manager.ListConstructors())
			continue
		}

		if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
			return fmt.Errorf("create service %s: %w", name, err)
		}
		slog.Info("Created service", "name", name)
	}

	return nil
}

// runWithSignalHandling starts services and handles shutdown signals
func runWithSignalHandling(ctx context.Context, manager *service.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("SHED started successfully (document translation ready)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := shutdown(shutdownCtx, manager, shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("SHED shutdown complete")
	return nil
}

// createCoreDependencies creates the core dependencies needed by
// services
func createCoreDependencies(
	cfg *config.Config,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, error) {
	natsURL := "nats://localhost:4222"

	// Environment variable override takes precedence
	if envURL := os.Getenv("SHED_NATS_URLS"); envURL != "" {
		natsURL = envURL
	} else if len(cfg.NATS.URLs) > 0 {
		natsURL = cfg.NATS.URLs[0]
	}

	natsClient, err := natsclient.NewClient(natsURL)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, fmt.Errorf("create NATS client: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()

	platform := types.PlatformMeta{
		Facility: cfg.Platform.Facility,
		Beamline: cfg.Platform.Beamline,
	}

	slog.Info("Platform identity configured",
		"facility", platform.Facility,
		"beamline", platform.Beamline,
		"instance_id", cfg.Platform.InstanceID,
		"environment", cfg.Platform.Environment)

	return natsClient, metricsRegistry, platform, nil
}

// shutdown performs graceful shutdown of all services
func shutdown(ctx context.Context, manager *service.Manager, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining < timeout {
			timeout = remaining
		}
	}

	if err := manager.StopAll(timeout); err != nil {
		slog.Error("Error stopping services", "error", err)
		return err
	}

	return nil
}
