// Package eventbus provides the output component that publishes
// re-wrapped documents to a durable JetStream stream for downstream
// consumers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/metric"
	"github.com/CJ-Wright/SHED/natsclient"
	"github.com/CJ-Wright/SHED/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

// outputMetrics holds Prometheus metrics for the eventbus output
type outputMetrics struct {
	documentsPublished prometheus.Counter
	publishFailures    prometheus.Counter
	publishLatency     prometheus.Histogram
	runsCompleted      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *outputMetrics {
	if registry == nil {
		return nil
	}

	m := &outputMetrics{
		documentsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_output",
			Name:      "documents_published_total",
			Help:      "Documents published to the durable stream",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_output",
			Name:      "publish_failures_total",
			Help:      "Publishes that failed after retries",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shed",
			Subsystem: "eventbus_output",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish one document",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_output",
			Name:      "runs_completed_total",
			Help:      "Stop documents seen on the egress path",
		}),
	}

	serviceName := fmt.Sprintf("eventbus_output_%s", instance)
	registry.RegisterCounter(serviceName, "documents_published", m.documentsPublished)
	registry.RegisterCounter(serviceName, "publish_failures", m.publishFailures)
	registry.RegisterHistogram(serviceName, "publish_latency", m.publishLatency)
	registry.RegisterCounter(serviceName, "runs_completed", m.runsCompleted)
	return m
}

// outputSchema defines the configuration schema for the eventbus output
var outputSchema = component.GenerateConfigSchema(reflect.TypeOf(OutputConfig{}))

// OutputConfig holds configuration for the eventbus output component
type OutputConfig struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StreamName is the JetStream stream the egress subject belongs to.
	// The stream is created on Start when it does not exist.
	StreamName string `json:"stream_name,omitempty" schema:"type:string,description:JetStream stream for durable egress"`

	// RetentionDays bounds stream retention when the stream is created.
	RetentionDays int `json:"retention_days,omitempty" schema:"type:number,description:Stream retention in days"`

	// Durable falls back to plain NATS publishing when false.
	Durable *bool `json:"durable,omitempty" schema:"type:boolean,description:Publish through JetStream"`
}

// Validate implements component.Validatable
func (c *OutputConfig) Validate() error {
	if c.Ports != nil {
		for _, out := range c.Ports.Outputs {
			if out.Type == "nats" && out.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig,
					"OutputConfig", "Validate", "egress subject validation")
			}
		}
	}
	if c.RetentionDays < 0 {
		return errors.WrapInvalid(fmt.Errorf("retention_days must be non-negative"),
			"OutputConfig", "Validate", "retention validation")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the eventbus output
func DefaultConfig() OutputConfig {
	durable := true
	return OutputConfig{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "document_input",
					Type:        "nats",
					Subject:     "documents.processed",
					Required:    true,
					Description: "Re-wrapped documents from translation pipelines",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "document_egress",
					Type:        "nats",
					Subject:     "shed.documents.out",
					Required:    true,
					Description: "Durable egress subject for downstream consumers",
				},
			},
		},
		StreamName:    "SHED_DOCUMENTS",
		RetentionDays: 7,
		Durable:       &durable,
	}
}

func (c *OutputConfig) getConfiguredSubjects() (inputs []string, egress string) {
	if c.Ports != nil {
		for _, in := range c.Ports.Inputs {
			if in.Type == "nats" && in.Subject != "" {
				inputs = append(inputs, in.Subject)
			}
		}
		for _, out := range c.Ports.Outputs {
			if out.Type == "nats" {
				egress = out.Subject
				break
			}
		}
	}
	if len(inputs) == 0 {
		inputs = []string{"documents.processed"}
	}
	if egress == "" && c.Ports == nil {
		egress = "shed.documents.out"
	}
	return inputs, egress
}

// Output republishes processed documents onto a durable JetStream
// stream. It is the platform's egress boundary.
type Output struct {
	name       string
	config     OutputConfig
	subjects   []string
	egress     string
	durable    bool
	natsClient *natsclient.Client
	logger     *slog.Logger

	retryConfig retry.Config

	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	documentsPublished atomic.Int64
	bytesPublished     atomic.Int64
	errorCount         atomic.Int64
	lastActivity       atomic.Value // stores time.Time

	metrics *outputMetrics
}

var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates an eventbus output component from raw config
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig OutputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "eventbus-output-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.StreamName != "" {
			cfg.StreamName = userConfig.StreamName
		}
		if userConfig.RetentionDays > 0 {
			cfg.RetentionDays = userConfig.RetentionDays
		}
		if userConfig.Durable != nil {
			cfg.Durable = userConfig.Durable
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"eventbus-output-factory", "create", "NATS client validation")
	}

	inputs, egress := cfg.getConfiguredSubjects()

	out := &Output{
		name:        "eventbus-output",
		config:      cfg,
		subjects:    inputs,
		egress:      egress,
		durable:     cfg.Durable == nil || *cfg.Durable,
		natsClient:  deps.NATSClient,
		logger:      deps.GetLoggerWithComponent("eventbus-output"),
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, "eventbus-output"),
	}
	out.lastActivity.Store(time.Time{})
	return out, nil
}

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("Durable document egress from %v to %s", o.subjects, o.egress),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (o *Output) InputPorts() []component.Port {
	ports := make([]component.Port, 0, len(o.subjects))
	for i, subject := range o.subjects {
		ports = append(ports, component.Port{
			Name:        fmt.Sprintf("document_input_%d", i),
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Re-wrapped documents from translation pipelines",
			Config: component.NATSPort{
				Subject: subject,
			},
		})
	}
	return ports
}

// OutputPorts returns the output ports for this component
func (o *Output) OutputPorts() []component.Port {
	if o.durable {
		return []component.Port{
			{
				Name:        "document_egress",
				Direction:   component.DirectionOutput,
				Required:    true,
				Description: "Durable egress stream for downstream consumers",
				Config: component.JetStreamPort{
					StreamName:    o.config.StreamName,
					Subjects:      []string{o.egress},
					RetentionDays: o.config.RetentionDays,
				},
			},
		}
	}
	return []component.Port{
		{
			Name:        "document_egress",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Egress subject for downstream consumers",
			Config: component.NATSPort{
				Subject: o.egress,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (o *Output) ConfigSchema() component.ConfigSchema {
	return outputSchema
}

// Health returns the current health status of the component
func (o *Output) Health() component.HealthStatus {
	running := o.running.Load()
	connected := o.natsClient != nil && o.natsClient.IsHealthy()

	return component.HealthStatus{
		Healthy:    running && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	published := o.documentsPublished.Load()
	bytes := o.bytesPublished.Load()
	errCount := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(published) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if published > 0 {
		errorRate = float64(errCount) / float64(published)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration and dependencies before Start
func (o *Output) Initialize() error {
	if len(o.subjects) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no input subjects configured"),
			"eventbus-output", "Initialize", "subject validation")
	}
	if o.egress == "" {
		return errors.WrapInvalid(fmt.Errorf("empty egress subject"),
			"eventbus-output", "Initialize", "egress subject validation")
	}
	if o.durable && o.config.StreamName == "" {
		return errors.WrapInvalid(fmt.Errorf("empty stream name"),
			"eventbus-output", "Initialize", "stream name validation")
	}
	return nil
}

// Start ensures the egress stream exists and subscribes the input
// subjects
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return nil
	}

	if o.durable {
		if err := o.ensureStream(ctx); err != nil {
			return err
		}
	}

	for _, subject := range o.subjects {
		if err := o.natsClient.Subscribe(ctx, subject, o.handleMessage); err != nil {
			return errors.WrapTransient(err, "eventbus-output", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
		o.logger.Debug("Subscribed to processed subject", "subject", subject)
	}

	o.running.Store(true)
	o.startTime = time.Now()
	return nil
}

// ensureStream creates the egress stream when it does not exist
func (o *Output) ensureStream(ctx context.Context) error {
	retention := time.Duration(o.config.RetentionDays) * 24 * time.Hour

	_, err := o.natsClient.CreateStream(ctx, jetstream.StreamConfig{
		Name:     o.config.StreamName,
		Subjects: []string{o.egress},
		Storage:  jetstream.FileStorage,
		MaxAge:   retention,
	})
	if err != nil {
		return errors.WrapTransient(err, "eventbus-output", "ensureStream",
			fmt.Sprintf("create stream %s", o.config.StreamName))
	}
	return nil
}

// Stop stops republishing
func (o *Output) Stop(timeout time.Duration) error {
	if !o.running.Load() {
		return nil
	}
	o.running.Store(false)
	_ = timeout
	return nil
}

// handleMessage republishes one processed document to the egress stream
func (o *Output) handleMessage(ctx context.Context, data []byte) {
	if !o.running.Load() {
		return
	}

	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		o.errorCount.Add(1)
		o.logger.Warn("Discarding undecodable document", "error", err)
		return
	}

	var start time.Time
	if o.metrics != nil {
		start = time.Now()
	}

	publishOperation := func() error {
		if o.durable {
			return o.natsClient.PublishToStream(ctx, o.egress, data)
		}
		return o.natsClient.Publish(ctx, o.egress, data)
	}
	if err := retry.Do(ctx, o.retryConfig, publishOperation); err != nil {
		o.errorCount.Add(1)
		if o.metrics != nil {
			o.metrics.publishFailures.Inc()
		}
		o.logger.Error("Failed to publish document to egress",
			"name", doc.Name.String(), "error", err)
		return
	}

	o.documentsPublished.Add(1)
	o.bytesPublished.Add(int64(len(data)))
	o.lastActivity.Store(time.Now())
	if o.metrics != nil {
		o.metrics.documentsPublished.Inc()
		o.metrics.publishLatency.Observe(time.Since(start).Seconds())
		if doc.Name == document.NameStop {
			o.metrics.runsCompleted.Inc()
		}
	}
}

// Register registers the eventbus output component with the given
// registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "eventbus-egress",
		Factory:     NewOutput,
		Schema:      outputSchema,
		Type:        "output",
		Protocol:    "nats",
		Domain:      "documents",
		Description: "Durable JetStream egress for re-wrapped documents",
		Version:     "1.0.0",
	})
}
