// Package eventbus provides the NATS input component for ingesting
// event-model documents from an experiment-control system.
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
	"github.com/CJ-Wright/SHED/pkg/buffer"
	"github.com/CJ-Wright/SHED/pkg/retry"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the eventbus input component
type Metrics struct {
	documentsReceived prometheus.Counter
	documentsInvalid  prometheus.Counter
	documentsDropped  prometheus.Counter
	bytesReceived     prometheus.Counter
	batchSize         prometheus.Histogram
	publishLatency    prometheus.Histogram
	lastActivity      prometheus.Gauge
}

// newMetrics creates and registers eventbus input metrics
func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		documentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "documents_received_total",
			Help:      "Total event-model documents received",
		}),
		documentsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "documents_invalid_total",
			Help:      "Documents rejected by validation",
		}),
		documentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "documents_dropped_total",
			Help:      "Documents dropped due to buffer full",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "bytes_received_total",
			Help:      "Total document bytes received",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "batch_size",
			Help:      "Distribution of forwarding batch sizes",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "publish_duration_seconds",
			Help:      "Time to forward documents to the platform subject",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shed",
			Subsystem: "eventbus_input",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received document",
		}),
	}

	serviceName := fmt.Sprintf("eventbus_input_%s", instance)
	registry.RegisterCounter(serviceName, "documents_received", metrics.documentsReceived)
	registry.RegisterCounter(serviceName, "documents_invalid", metrics.documentsInvalid)
	registry.RegisterCounter(serviceName, "documents_dropped", metrics.documentsDropped)
	registry.RegisterCounter(serviceName, "bytes_received", metrics.bytesReceived)
	registry.RegisterHistogram(serviceName, "batch_size", metrics.batchSize)
	registry.RegisterHistogram(serviceName, "publish_latency", metrics.publishLatency)
	registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// inputSchema defines the configuration schema for the eventbus input
var inputSchema = component.GenerateConfigSchema(reflect.TypeOf(InputConfig{}))

// InputConfig holds configuration for the eventbus input component
type InputConfig struct {
	// Port configuration for inputs and outputs
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StrictValidation drops documents that fail reference validation
	// (orphan events, stop before start) instead of forwarding them.
	StrictValidation bool `json:"strict_validation" schema:"type:boolean,description:Drop documents failing reference validation"`
}

// Validate implements component.Validatable for secure config validation
func (c *InputConfig) Validate() error {
	if c.Ports != nil {
		for _, input := range c.Ports.Inputs {
			if input.Type == "nats" && input.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig,
					"InputConfig", "Validate", "NATS input subject validation")
			}
		}
		for _, output := range c.Ports.Outputs {
			if output.Type == "nats" && output.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig,
					"InputConfig", "Validate", "NATS output subject validation")
			}
		}
	}
	return nil
}

// DefaultConfig returns sensible defaults for the eventbus input
func DefaultConfig() InputConfig {
	return InputConfig{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "document_source",
					Type:        "nats",
					Subject:     "ingest.documents.>",
					Required:    true,
					Description: "NATS subjects carrying raw event-model documents",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "document_output",
					Type:        "nats",
					Subject:     "documents.primary",
					Required:    true,
					Description: "Platform subject for validated documents",
				},
			},
		},
	}
}

// getConfiguredSubjects extracts the ingest and output subjects from config
func (c *InputConfig) getConfiguredSubjects() (inputs []string, output string) {
	if c.Ports != nil {
		for _, in := range c.Ports.Inputs {
			if in.Type == "nats" && in.Subject != "" {
				inputs = append(inputs, in.Subject)
			}
		}
		for _, out := range c.Ports.Outputs {
			if out.Type == "nats" {
				output = out.Subject
				break
			}
		}
	}
	if len(inputs) == 0 {
		inputs = []string{"ingest.documents.>"}
	}
	if c.Ports == nil && output == "" {
		output = "documents.primary"
	}
	return inputs, output
}

// Input ingests event-model documents from external NATS subjects,
// validates them and forwards them onto the platform document subject.
// It is the boundary between the experiment-control system's wire
// format and the rest of the platform.
type Input struct {
	name       string
	subjects   []string
	subject    string
	strict     bool
	natsClient *natsclient.Client
	logger     *slog.Logger

	buffer      buffer.Buffer[document.Document]
	retryConfig retry.Config

	tracker *provenance.Tracker
	provMu  sync.Mutex

	shutdown  chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	documentsReceived atomic.Int64
	bytesReceived     atomic.Int64
	invalidDocuments  atomic.Int64
	errorCount        atomic.Int64
	lastActivity      atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// InputDeps holds runtime dependencies for the eventbus input component
type InputDeps struct {
	Name            string
	Config          InputConfig
	NATSClient      *natsclient.Client
	ProvenanceStore provenance.Store
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewInput creates a new eventbus input component
func NewInput(deps InputDeps) *Input {
	inputs, output := deps.Config.getConfiguredSubjects()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eventbus-input")
	}

	var bufferOpts []buffer.Option[document.Document]
	bufferOpts = append(bufferOpts, buffer.WithOverflowPolicy[document.Document](buffer.DropOldest))
	if deps.MetricsRegistry != nil {
		bufferOpts = append(bufferOpts,
			buffer.WithMetrics[document.Document](deps.MetricsRegistry, "eventbus_input"))
	}

	documentBuffer, err := buffer.NewCircularBuffer(5000, bufferOpts...)
	if err != nil {
		logger.Error("Failed to create document buffer", "error", err)
		return nil
	}

	var metrics *Metrics
	if deps.MetricsRegistry != nil {
		metrics = newMetrics(deps.MetricsRegistry, deps.Name)
	}

	var tracker *provenance.Tracker
	if deps.ProvenanceStore != nil {
		tracker = provenance.NewTracker(deps.ProvenanceStore, deps.Name)
	}

	in := &Input{
		name:        deps.Name,
		subjects:    inputs,
		subject:     output,
		strict:      deps.Config.StrictValidation,
		natsClient:  deps.NATSClient,
		logger:      logger,
		buffer:      documentBuffer,
		retryConfig: retry.DefaultConfig(),
		tracker:     tracker,
		startTime:   time.Now(),
		metrics:     metrics,
	}
	in.lastActivity.Store(time.Time{})
	return in
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	name := in.name
	if name == "" {
		name = "eventbus-input"
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("Event-model document ingest from %v publishing to %s", in.subjects, in.subject),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (in *Input) InputPorts() []component.Port {
	ports := make([]component.Port, 0, len(in.subjects))
	for i, subject := range in.subjects {
		ports = append(ports, component.Port{
			Name:        fmt.Sprintf("document_source_%d", i),
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "NATS subject carrying raw event-model documents",
			Config: component.NATSPort{
				Subject: subject,
			},
		})
	}
	return ports
}

// OutputPorts returns the output ports for this component
func (in *Input) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "document_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Platform subject for validated documents",
			Config: component.NATSPort{
				Subject: in.subject,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (in *Input) ConfigSchema() component.ConfigSchema {
	return inputSchema
}

// Health returns the current health status of the component
func (in *Input) Health() component.HealthStatus {
	running := in.running.Load()
	connected := in.natsClient != nil && in.natsClient.IsHealthy()

	return component.HealthStatus{
		Healthy:    running && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (in *Input) DataFlow() component.FlowMetrics {
	documents := in.documentsReceived.Load()
	bytes := in.bytesReceived.Load()
	errCount := in.errorCount.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(documents) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if documents > 0 {
		errorRate = float64(errCount) / float64(documents)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration and dependencies before Start
func (in *Input) Initialize() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.subjects) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no ingest subjects configured"),
			"eventbus-input", "Initialize", "subject validation")
	}
	if in.subject == "" {
		return errors.WrapInvalid(fmt.Errorf("empty output subject"),
			"eventbus-input", "Initialize", "output subject validation")
	}
	if in.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"eventbus-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start subscribes to the ingest subjects and begins forwarding documents
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}

	in.shutdown = make(chan struct{})

	for _, subject := range in.subjects {
		if err := in.natsClient.Subscribe(ctx, subject, in.handleMessage); err != nil {
			return errors.WrapTransient(err, "eventbus-input", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
		in.logger.Debug("Subscribed to ingest subject", "subject", subject)
	}

	in.running.Store(true)
	in.startTime = time.Now()
	return nil
}

// Stop stops forwarding and releases the buffer
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.shutdown != nil {
		select {
		case <-in.shutdown:
		default:
			close(in.shutdown)
		}
		in.shutdown = nil
	}
	if in.buffer != nil {
		_ = in.buffer.Close()
	}

	_ = timeout
	return nil
}

// handleMessage processes one raw document from an ingest subject
func (in *Input) handleMessage(ctx context.Context, data []byte) {
	if !in.running.Load() {
		return
	}

	in.documentsReceived.Add(1)
	in.bytesReceived.Add(int64(len(data)))
	now := time.Now()
	in.lastActivity.Store(now)

	if in.metrics != nil {
		in.metrics.documentsReceived.Inc()
		in.metrics.bytesReceived.Add(float64(len(data)))
		in.metrics.lastActivity.Set(float64(now.Unix()))
	}

	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		in.invalidDocuments.Add(1)
		in.errorCount.Add(1)
		if in.metrics != nil {
			in.metrics.documentsInvalid.Inc()
		}
		in.logger.Warn("Discarding undecodable document", "error", err)
		return
	}

	if err := doc.Validate(); err != nil {
		in.invalidDocuments.Add(1)
		in.errorCount.Add(1)
		if in.metrics != nil {
			in.metrics.documentsInvalid.Inc()
		}
		if in.strict || errors.IsInvalid(err) {
			in.logger.Warn("Discarding invalid document",
				"name", doc.Name.String(), "error", err)
			return
		}
	}

	if err := in.buffer.Write(doc); err != nil {
		if in.metrics != nil {
			in.metrics.documentsDropped.Inc()
		}
		return
	}

	in.forwardBuffered(ctx)
}

// forwardBuffered drains the buffer onto the platform document subject
func (in *Input) forwardBuffered(ctx context.Context) {
	const maxBatchSize = 100
	docs := in.buffer.ReadBatch(maxBatchSize)

	if in.metrics != nil && len(docs) > 0 {
		in.metrics.batchSize.Observe(float64(len(docs)))
	}

	for _, doc := range docs {
		if !in.running.Load() {
			break
		}

		publishOperation := func() error {
			return in.publishDocument(ctx, doc)
		}
		if err := retry.Do(ctx, in.retryConfig, publishOperation); err != nil {
			in.errorCount.Add(1)
			in.logger.Warn("Failed to forward document", "error", err)
			continue
		}

		in.recordProvenance(ctx, doc)
	}
}

// recordProvenance records one forwarded source document. Source records
// carry the component name as their node so they are distinguishable
// from translation output records.
func (in *Input) recordProvenance(ctx context.Context, doc document.Document) {
	if in.tracker == nil {
		return
	}
	in.provMu.Lock()
	defer in.provMu.Unlock()
	if err := in.tracker.Observe(ctx, doc); err != nil {
		in.errorCount.Add(1)
		in.logger.Warn("Failed to record document provenance",
			"name", doc.Name.String(), "error", err)
	}
}

// publishDocument publishes one validated document to the output subject
func (in *Input) publishDocument(ctx context.Context, doc document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "eventbus-input", "publishDocument", "document marshal")
	}

	var start time.Time
	if in.metrics != nil {
		start = time.Now()
	}

	if err := in.natsClient.Publish(ctx, in.subject, data); err != nil {
		return errors.WrapTransient(err, "eventbus-input", "publishDocument", "NATS publish")
	}

	if in.metrics != nil {
		in.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// CreateInput creates an eventbus input component from raw config
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig InputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "eventbus-input-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		cfg.StrictValidation = userConfig.StrictValidation
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"eventbus-input-factory", "create", "NATS client validation")
	}

	inputDeps := InputDeps{
		Name:            "eventbus-input",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		ProvenanceStore: deps.ProvenanceStore,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("eventbus-input"),
	}

	input := NewInput(inputDeps)
	if input == nil {
		return nil, errors.WrapFatal(fmt.Errorf("input construction failed"),
			"eventbus-input-factory", "create", "component construction")
	}
	return input, nil
}

// Register registers the eventbus input component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "eventbus",
		Factory:     CreateInput,
		Schema:      inputSchema,
		Type:        "input",
		Protocol:    "nats",
		Domain:      "documents",
		Description: "NATS ingest for event-model documents",
		Version:     "1.0.0",
	})
}
