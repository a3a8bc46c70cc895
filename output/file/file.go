// Package file provides the archive output component that writes
// re-wrapped documents to per-run JSONL files on disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CJ-Wright/SHED/component"
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
	"github.com/CJ-Wright/SHED/natsclient"
)

// Config holds configuration for the archive output component
type Config struct {
	Ports      *component.PortConfig `json:"ports"       schema:"type:ports,description:Port configuration,category:basic"`
	Directory  string                `json:"directory"   schema:"type:string,description:Archive directory,category:basic"`
	FilePrefix string                `json:"file_prefix" schema:"type:string,description:Archive file prefix,category:basic"`
	BufferSize int                   `json:"buffer_size" schema:"type:int,description:Documents buffered before a flush,category:advanced"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the archive output
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "document_input",
			Type:        "nats",
			Subject:     "documents.processed",
			Required:    true,
			Description: "Re-wrapped documents to archive",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "archive_output",
			Type:        "file",
			Subject:     "/var/lib/shed/archive",
			Required:    false,
			Description: "Directory holding one JSONL file per run",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		Directory:  "/var/lib/shed/archive",
		FilePrefix: "run",
		BufferSize: 100,
	}
}

// archiveSchema defines the configuration schema for the archive output
var archiveSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// bufferedDoc is one document waiting to be flushed, already routed to
// its run.
type bufferedDoc struct {
	runUID string
	data   []byte
}

// Output archives each run's document stream to its own JSONL file.
// Start documents open a file, stop documents close it, and events are
// routed through their descriptor. Documents that cannot be routed land
// in an orphan file rather than being lost.
type Output struct {
	name       string
	subjects   []string
	directory  string
	filePrefix string
	bufferSize int
	natsClient *natsclient.Client
	logger     *slog.Logger

	// Per-run file handles and descriptor routing
	files        map[string]*os.File // run start uid -> open archive file
	descToRun    map[string]string   // descriptor uid -> run start uid
	closedAtStop map[string]bool     // runs whose stop has been buffered
	fileMu       sync.Mutex

	// Buffer for batching writes
	buffer   []bufferedDoc
	bufferMu sync.Mutex

	// Lifecycle management
	shutdown    chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	// Metrics
	documentsWritten int64
	bytesWritten     int64
	runsArchived     int64
	errors           int64
	lastActivity     time.Time
}

// NewOutput creates a new archive output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Output", "NewOutput", "config unmarshal")
	}

	if config.Ports == nil {
		defaults := DefaultConfig()
		config.Ports = defaults.Ports
		if config.Directory == "" {
			config.Directory = defaults.Directory
		}
		if config.FilePrefix == "" {
			config.FilePrefix = defaults.FilePrefix
		}
		if config.BufferSize == 0 {
			config.BufferSize = defaults.BufferSize
		}
	}

	var inputSubjects []string
	for _, input := range config.Ports.Inputs {
		if input.Type == "nats" {
			inputSubjects = append(inputSubjects, input.Subject)
		}
	}

	if len(inputSubjects) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput", "no input subjects configured")
	}
	if config.Directory == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "NewOutput", "directory is required")
	}
	if config.FilePrefix == "" {
		config.FilePrefix = "run"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}

	return &Output{
		name:         "document-archive",
		subjects:     inputSubjects,
		directory:    config.Directory,
		filePrefix:   config.FilePrefix,
		bufferSize:   config.BufferSize,
		natsClient:   deps.NATSClient,
		logger:       deps.GetLoggerWithComponent("document-archive"),
		files:        make(map[string]*os.File),
		descToRun:    make(map[string]string),
		closedAtStop: make(map[string]bool),
		buffer:       make([]bufferedDoc, 0, config.BufferSize),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		wg:           &sync.WaitGroup{},
	}, nil
}

// Initialize prepares the output (creates the archive directory)
func (f *Output) Initialize() error {
	if err := os.MkdirAll(f.directory, 0755); err != nil {
		return errors.WrapFatal(err, "Output", "Initialize", "create archive directory")
	}
	return nil
}

// Start begins archiving documents
func (f *Output) Start(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	if f.natsClient == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Output", "Start", "NATS client required")
	}

	for _, subject := range f.subjects {
		if err := f.natsClient.Subscribe(ctx, subject, f.handleMessage); err != nil {
			return errors.WrapTransient(err, "Output", "Start", fmt.Sprintf("subscribe to %s", subject))
		}
		f.logger.Debug("Subscribed to document subject",
			"component", f.name,
			"subject", subject)
	}

	f.wg.Add(1)
	go f.flushLoop()

	f.mu.Lock()
	f.running = true
	f.startTime = time.Now()
	f.mu.Unlock()

	f.logger.Info("Document archive started",
		"component", f.name,
		"input_subjects", f.subjects,
		"directory", f.directory,
		"buffer_size", f.bufferSize)

	return nil
}

// Stop gracefully stops the output
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running {
		return nil
	}

	close(f.shutdown)

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		// Clean shutdown
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	// Flush remaining buffer, then close everything still open
	f.flush()

	f.fileMu.Lock()
	for runUID, file := range f.files {
		if err := file.Close(); err != nil {
			f.logger.Warn("Failed to close archive file", "error", err, "run", runUID)
		}
	}
	f.files = make(map[string]*os.File)
	f.fileMu.Unlock()

	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.closeOnce.Do(func() {
		close(f.done)
	})

	return nil
}

// handleMessage routes one processed document to its run and buffers it
func (f *Output) handleMessage(ctx context.Context, msgData []byte) {
	var doc document.Document
	if err := json.Unmarshal(msgData, &doc); err != nil {
		atomic.AddInt64(&f.errors, 1)
		f.logger.Warn("Discarding undecodable document",
			"component", f.name,
			"error", err)
		return
	}

	runUID, err := f.routeDocument(&doc)
	if err != nil {
		atomic.AddInt64(&f.errors, 1)
		f.logger.Warn("Failed to route document",
			"component", f.name,
			"name", doc.Name.String(),
			"error", err)
		return
	}

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, bufferedDoc{runUID: runUID, data: msgData})
	shouldFlush := len(f.buffer) >= f.bufferSize
	f.bufferMu.Unlock()

	if shouldFlush {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f.flush()
	}

	f.mu.Lock()
	f.lastActivity = time.Now()
	f.mu.Unlock()
}

// routeDocument maps a document to the run it belongs to, updating the
// routing tables as start, descriptor, and stop documents pass through.
// An empty run uid means the document goes to the orphan file.
func (f *Output) routeDocument(doc *document.Document) (string, error) {
	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	switch doc.Name {
	case document.NameStart:
		start, err := doc.AsStart()
		if err != nil {
			return "", err
		}
		delete(f.closedAtStop, start.UID)
		return start.UID, nil

	case document.NameDescriptor:
		desc, err := doc.AsDescriptor()
		if err != nil {
			return "", err
		}
		f.descToRun[desc.UID] = desc.RunStart
		return desc.RunStart, nil

	case document.NameEvent:
		ev, err := doc.AsEvent()
		if err != nil {
			return "", err
		}
		return f.descToRun[ev.Descriptor], nil

	case document.NameStop:
		stop, err := doc.AsStop()
		if err != nil {
			return "", err
		}
		f.closedAtStop[stop.RunStart] = true
		return stop.RunStart, nil

	default:
		return "", fmt.Errorf("unknown document name %q", doc.Name)
	}
}

// flushLoop periodically flushes the buffer
func (f *Output) flushLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered documents to their run files
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	docs := f.buffer
	f.buffer = make([]bufferedDoc, 0, f.bufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	for _, buffered := range docs {
		file, err := f.runFile(buffered.runUID)
		if err != nil {
			atomic.AddInt64(&f.errors, 1)
			f.logger.Error("Failed to open archive file",
				"component", f.name,
				"run", buffered.runUID,
				"error", err)
			continue
		}

		n, err := file.Write(append(buffered.data, '\n'))
		if err != nil {
			atomic.AddInt64(&f.errors, 1)
			f.logger.Error("Failed to write document",
				"component", f.name,
				"run", buffered.runUID,
				"error", err)
			continue
		}
		atomic.AddInt64(&f.documentsWritten, 1)
		atomic.AddInt64(&f.bytesWritten, int64(n))
	}

	// Close files whose stop document has now been written
	for runUID := range f.closedAtStop {
		file, open := f.files[runUID]
		if !open {
			continue
		}
		if err := file.Close(); err != nil {
			f.logger.Warn("Failed to close archive file", "error", err, "run", runUID)
		}
		delete(f.files, runUID)
		delete(f.closedAtStop, runUID)
		atomic.AddInt64(&f.runsArchived, 1)
		f.logger.Info("Run archived",
			"component", f.name,
			"run", runUID)
	}
}

// runFile returns the open archive file for a run, opening it on first
// use. Callers hold fileMu.
func (f *Output) runFile(runUID string) (*os.File, error) {
	name := runUID
	if name == "" {
		name = "orphan"
	}

	if file, ok := f.files[name]; ok {
		return file, nil
	}

	path := filepath.Join(f.directory, fmt.Sprintf("%s-%s.jsonl", f.filePrefix, name))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	f.files[name] = file
	return file, nil
}

// Discoverable interface implementation

// Meta returns component metadata
func (f *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Type:        "output",
		Description: "Archives re-wrapped documents to per-run JSONL files",
		Version:     "1.0.0",
	}
}

// InputPorts returns configured input port definitions
func (f *Output) InputPorts() []component.Port {
	ports := make([]component.Port, len(f.subjects))
	for i, subj := range f.subjects {
		ports[i] = component.Port{
			Name:      fmt.Sprintf("document_input_%d", i),
			Direction: component.DirectionInput,
			Required:  true,
			Config:    component.NATSPort{Subject: subj},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions (none, the
// archive writes to disk)
func (f *Output) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema
func (f *Output) ConfigSchema() component.ConfigSchema {
	return archiveSchema
}

// Health returns the current health status
func (f *Output) Health() component.HealthStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    f.running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&f.errors)),
		Uptime:     time.Since(f.startTime),
	}
}

// DataFlow returns current data flow metrics
func (f *Output) DataFlow() component.FlowMetrics {
	f.mu.RLock()
	lastActivity := f.lastActivity
	startTime := f.startTime
	f.mu.RUnlock()

	written := atomic.LoadInt64(&f.documentsWritten)
	bytes := atomic.LoadInt64(&f.bytesWritten)
	errorCount := atomic.LoadInt64(&f.errors)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(written) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if written > 0 {
		errorRate = float64(errorCount) / float64(written)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Register registers the archive output component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "archive",
		Factory:     NewOutput,
		Schema:      archiveSchema,
		Type:        "output",
		Protocol:    "file",
		Domain:      "documents",
		Description: "Per-run JSONL archive of re-wrapped documents",
		Version:     "1.0.0",
	})
}
