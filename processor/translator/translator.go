// Package translator provides the processor component that hosts a
// translation pipeline: event-model documents in, processed documents
// out, with provenance recorded per emitted event.
package translator

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
	"github.com/CJ-Wright/SHED/pipeline"
	"github.com/CJ-Wright/SHED/pkg/retry"
	"github.com/CJ-Wright/SHED/pkg/worker"
	"github.com/CJ-Wright/SHED/provenance"
	"github.com/prometheus/client_golang/prometheus"
)

// translatorMetrics holds Prometheus metrics for the translator processor
type translatorMetrics struct {
	documentsIn        prometheus.Counter
	documentsOut       prometheus.Counter
	documentsFailed    prometheus.Counter
	runsFailed         prometheus.Counter
	processingDuration prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *translatorMetrics {
	if registry == nil {
		return nil
	}

	m := &translatorMetrics{
		documentsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "translator",
			Name:      "documents_in_total",
			Help:      "Documents fed into the hosted pipeline",
		}),
		documentsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "translator",
			Name:      "documents_out_total",
			Help:      "Documents emitted by the hosted pipeline",
		}),
		documentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "translator",
			Name:      "documents_failed_total",
			Help:      "Documents whose processing failed",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shed",
			Subsystem: "translator",
			Name:      "runs_failed_total",
			Help:      "Runs closed with a failure stop",
		}),
		processingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shed",
			Subsystem: "translator",
			Name:      "processing_duration_seconds",
			Help:      "Time to push one document through the pipeline",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}

	serviceName := fmt.Sprintf("translator_%s", instance)
	registry.RegisterCounter(serviceName, "documents_in", m.documentsIn)
	registry.RegisterCounter(serviceName, "documents_out", m.documentsOut)
	registry.RegisterCounter(serviceName, "documents_failed", m.documentsFailed)
	registry.RegisterCounter(serviceName, "runs_failed", m.runsFailed)
	registry.RegisterHistogram(serviceName, "processing_duration", m.processingDuration)
	return m
}

// translatorSchema defines the configuration schema for the translator
var translatorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the translator processor
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// Pipeline is an inline pipeline definition. When set it takes
	// precedence over PipelineID.
	Pipeline *pipeline.Definition `json:"pipeline,omitempty" schema:"type:object,description:Inline pipeline definition"`

	// PipelineID loads the definition from the pipeline KV store.
	PipelineID string `json:"pipeline_id,omitempty" schema:"type:string,description:Pipeline definition ID in the KV store"`

	// Workers sets the dispatch pool size. Pipeline feeding is
	// serialized regardless, so extra workers only absorb decode work.
	Workers int `json:"workers,omitempty" schema:"type:number,description:Dispatch worker count"`

	// QueueSize bounds the dispatch queue.
	QueueSize int `json:"queue_size,omitempty" schema:"type:number,description:Dispatch queue size"`
}

// Validate implements component.Validatable
func (c *Config) Validate() error {
	if c.Pipeline == nil && c.PipelineID == "" {
		return errors.WrapInvalid(fmt.Errorf("either pipeline or pipeline_id is required"),
			"TranslatorConfig", "Validate", "pipeline reference validation")
	}
	if c.Pipeline != nil {
		if err := c.Pipeline.Validate(); err != nil {
			return errors.Wrap(err, "TranslatorConfig", "Validate", "inline pipeline validation")
		}
	}
	if c.Workers < 0 || c.QueueSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("workers and queue_size must be non-negative"),
			"TranslatorConfig", "Validate", "pool sizing validation")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the translator processor
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "document_input",
					Type:        "nats",
					Subject:     "documents.primary",
					Required:    true,
					Description: "Validated event-model documents to process",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "document_output",
					Type:        "nats",
					Subject:     "documents.processed",
					Required:    true,
					Description: "Re-wrapped documents from the pipeline exits",
				},
			},
		},
		Workers:   1,
		QueueSize: 1024,
	}
}

func (c *Config) getConfiguredSubjects() (inputs []string, output string) {
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
		inputs = []string{"documents.primary"}
	}
	if output == "" && c.Ports == nil {
		output = "documents.processed"
	}
	return inputs, output
}

// Processor hosts a built translation pipeline. Incoming documents are
// decoded on the dispatch pool and fed to the pipeline one at a time;
// everything the pipeline's exit nodes emit is published to the output
// subject, and provenance records land in the configured store.
type Processor struct {
	name       string
	config     Config
	subjects   []string
	outputSubj string
	natsClient *natsclient.Client
	provStore  provenance.Store
	logger     *slog.Logger

	pipeline *pipeline.Pipeline
	pool     *worker.Pool[document.Document]
	registry *metric.MetricsRegistry

	// feedMu serializes pipeline feeding; node emission is synchronous
	// and not safe for concurrent callers.
	feedMu sync.Mutex

	retryConfig retry.Config

	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	documentsIn  atomic.Int64
	documentsOut atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *translatorMetrics
}

var _ component.Discoverable = (*Processor)(nil)
var _ component.LifecycleComponent = (*Processor)(nil)

// NewProcessor creates a translator processor from raw config
func NewProcessor(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig Config
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "translator-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		cfg.Pipeline = userConfig.Pipeline
		cfg.PipelineID = userConfig.PipelineID
		if userConfig.Workers > 0 {
			cfg.Workers = userConfig.Workers
		}
		if userConfig.QueueSize > 0 {
			cfg.QueueSize = userConfig.QueueSize
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"translator-factory", "create", "NATS client validation")
	}

	inputs, output := cfg.getConfiguredSubjects()

	p := &Processor{
		name:        "translator",
		config:      cfg,
		subjects:    inputs,
		outputSubj:  output,
		natsClient:  deps.NATSClient,
		provStore:   deps.ProvenanceStore,
		registry:    deps.MetricsRegistry,
		logger:      deps.GetLoggerWithComponent("translator"),
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, "translator"),
	}
	p.lastActivity.Store(time.Time{})
	return p, nil
}

// Meta returns the component metadata
func (p *Processor) Meta() component.Metadata {
	ref := p.config.PipelineID
	if p.config.Pipeline != nil {
		ref = p.config.Pipeline.ID
	}
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: fmt.Sprintf("Translation pipeline host for %q publishing to %s", ref, p.outputSubj),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (p *Processor) InputPorts() []component.Port {
	ports := make([]component.Port, 0, len(p.subjects))
	for i, subject := range p.subjects {
		ports = append(ports, component.Port{
			Name:        fmt.Sprintf("document_input_%d", i),
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Validated event-model documents to process",
			Config: component.NATSPort{
				Subject: subject,
			},
		})
	}
	return ports
}

// OutputPorts returns the output ports for this component
func (p *Processor) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "document_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Re-wrapped documents from the pipeline exits",
			Config: component.NATSPort{
				Subject: p.outputSubj,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (p *Processor) ConfigSchema() component.ConfigSchema {
	return translatorSchema
}

// Health returns the current health status of the component
func (p *Processor) Health() component.HealthStatus {
	running := p.running.Load()
	connected := p.natsClient != nil && p.natsClient.IsHealthy()

	p.mu.RLock()
	built := p.pipeline != nil
	p.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running && connected && built,
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (p *Processor) DataFlow() component.FlowMetrics {
	in := p.documentsIn.Load()
	errCount := p.errorCount.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var messagesPerSecond, errorRate float64
	if uptime := time.Since(p.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(in) / uptime
	}
	if in > 0 {
		errorRate = float64(errCount) / float64(in)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration before Start
func (p *Processor) Initialize() error {
	if err := p.config.Validate(); err != nil {
		return err
	}
	if len(p.subjects) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no input subjects configured"),
			"translator", "Initialize", "subject validation")
	}
	if p.outputSubj == "" {
		return errors.WrapInvalid(fmt.Errorf("empty output subject"),
			"translator", "Initialize", "output subject validation")
	}
	return nil
}

// Start resolves the pipeline definition, builds the pipeline, wires
// the exits to the output subject and subscribes the input subjects.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	def, err := p.resolveDefinition(ctx)
	if err != nil {
		return err
	}

	builder := pipeline.NewBuilder(p.provStore)
	funcs.mu.RLock()
	for name, fn := range funcs.maps {
		builder.RegisterMap(name, fn)
	}
	for name, fn := range funcs.filters {
		builder.RegisterFilter(name, fn)
	}
	for name, fn := range funcs.aligns {
		builder.RegisterAlign(name, fn)
	}
	funcs.mu.RUnlock()

	built, err := builder.Build(ctx, def)
	if err != nil {
		return errors.Wrap(err, "translator", "Start", "build pipeline")
	}

	for _, spec := range def.Nodes {
		if spec.Kind != pipeline.KindToEventStream {
			continue
		}
		if err := built.Subscribe(spec.ID, p.publishSink(ctx)); err != nil {
			return errors.Wrap(err, "translator", "Start", "wire exit "+spec.ID)
		}
	}

	p.pipeline = built

	p.pool = worker.NewPool(p.config.Workers, p.config.QueueSize, p.feed,
		worker.WithMetricsRegistry[document.Document](p.registry, "translator"))
	if err := p.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "translator", "Start", "start dispatch pool")
	}

	for _, subject := range p.subjects {
		if err := p.natsClient.Subscribe(ctx, subject, p.handleMessage); err != nil {
			return errors.WrapTransient(err, "translator", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
		p.logger.Debug("Subscribed to document subject", "subject", subject)
	}

	p.running.Store(true)
	p.startTime = time.Now()
	p.logger.Info("Translator started",
		"pipeline", def.ID,
		"nodes", len(def.Nodes),
		"output", p.outputSubj)
	return nil
}

// resolveDefinition returns the inline definition or loads it from the
// pipeline KV store.
func (p *Processor) resolveDefinition(ctx context.Context) (*pipeline.Definition, error) {
	if p.config.Pipeline != nil {
		return p.config.Pipeline, nil
	}

	store, err := pipeline.NewStore(p.natsClient)
	if err != nil {
		return nil, errors.Wrap(err, "translator", "resolveDefinition", "open pipeline store")
	}
	def, err := store.Get(ctx, p.config.PipelineID)
	if err != nil {
		return nil, errors.Wrap(err, "translator", "resolveDefinition",
			fmt.Sprintf("load pipeline %q", p.config.PipelineID))
	}
	return def, nil
}

// Stop drains the dispatch pool and stops processing
func (p *Processor) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	p.mu.Lock()
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()

	if pool != nil {
		if err := pool.Stop(timeout); err != nil {
			return errors.WrapTransient(err, "translator", "Stop", "drain dispatch pool")
		}
	}
	return nil
}

// handleMessage decodes one platform document and queues it for the
// pipeline. Runs on the NATS callback goroutine, so it only decodes and
// submits.
func (p *Processor) handleMessage(_ context.Context, data []byte) {
	if !p.running.Load() {
		return
	}

	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.documentsFailed.Inc()
		}
		p.logger.Warn("Discarding undecodable document", "error", err)
		return
	}

	p.mu.RLock()
	pool := p.pool
	p.mu.RUnlock()
	if pool == nil {
		return
	}

	if err := pool.Submit(doc); err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.documentsFailed.Inc()
		}
	}
}

// feed pushes one document through the pipeline. Invalid-classified
// errors (orphan events, unknown data addresses) drop the document and
// keep the stream running; any other feed error closes every open run
// with a failure stop so downstream consumers see the run end instead
// of dangling.
func (p *Processor) feed(_ context.Context, doc document.Document) error {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	p.mu.RLock()
	pipe := p.pipeline
	p.mu.RUnlock()
	if pipe == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "translator", "feed", "pipeline check")
	}

	p.documentsIn.Add(1)
	p.lastActivity.Store(time.Now())
	if p.metrics != nil {
		p.metrics.documentsIn.Inc()
	}

	start := time.Now()
	if err := pipe.Feed(doc); err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.documentsFailed.Inc()
		}
		if errors.IsInvalid(err) {
			p.logger.Warn("Dropped invalid document",
				"name", doc.Name.String(), "error", err)
			return err
		}
		if p.metrics != nil {
			p.metrics.runsFailed.Inc()
		}
		p.logger.Error("Pipeline feed failed, closing open runs",
			"name", doc.Name.String(), "error", err)
		if failErr := pipe.Fail(err); failErr != nil {
			p.logger.Error("Failed to close open runs", "error", failErr)
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.processingDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// publishSink returns the sink attached to every pipeline exit. Emitted
// documents are published to the output subject with retry.
func (p *Processor) publishSink(ctx context.Context) func(v any) error {
	return func(v any) error {
		doc, ok := v.(document.Document)
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("exit emitted %T, expected document", v),
				"translator", "publishSink", "type check")
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return errors.WrapInvalid(err, "translator", "publishSink", "document marshal")
		}

		publishOperation := func() error {
			return p.natsClient.Publish(ctx, p.outputSubj, data)
		}
		if err := retry.Do(ctx, p.retryConfig, publishOperation); err != nil {
			p.errorCount.Add(1)
			return errors.WrapTransient(err, "translator", "publishSink", "NATS publish")
		}

		p.documentsOut.Add(1)
		if p.metrics != nil {
			p.metrics.documentsOut.Inc()
		}
		return nil
	}
}

// Register registers the translator processor with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "translator",
		Factory:     NewProcessor,
		Schema:      translatorSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "documents",
		Description: "Hosts a translation pipeline between document streams",
		Version:     "1.0.0",
	})
}
