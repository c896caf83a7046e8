package jsonl

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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
)

// Ensure Output implements all required interfaces
var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// jsonlSchema is generated from Config struct tags.
var jsonlSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the JSONL archive output.
type Config struct {
	Ports         *component.PortConfig `json:"ports"          schema:"type:ports,description:Port configuration,category:basic"`
	Directory     string                `json:"directory"      schema:"type:string,description:Archive directory,category:basic"`
	BufferSize    int                   `json:"buffer_size"    schema:"type:int,description:Lines buffered per stream before a forced flush,category:advanced"`
	FlushInterval time.Duration         `json:"flush_interval" schema:"type:string,description:Interval between periodic flushes,category:advanced"`
}

// Validate implements component.Validatable.
func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}
	if c.Ports != nil {
		for _, input := range c.Ports.Inputs {
			if input.Type == "nats" && input.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
					"NATS input requires a subject")
			}
		}
	}
	return nil
}

// DefaultConfig returns defaults for the JSONL archive.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "event_input",
					Type:        "nats",
					Subject:     message.EventMessage.Key(),
					Required:    true,
					Description: "Ranked coincident events to archive",
				},
				{
					Name:        "trigger_input",
					Type:        "nats",
					Subject:     message.TriggerMessage.Key() + ".*",
					Required:    false,
					Description: "Per-detector trigger batches to archive",
				},
			},
		},
		Directory:     "/var/lib/spiir/archive",
		BufferSize:    256,
		FlushInterval: time.Second,
	}
}

func (c *Config) inputSubjects() []string {
	var subjects []string
	if c.Ports != nil {
		for _, input := range c.Ports.Inputs {
			if input.Type == "nats" && input.Subject != "" {
				subjects = append(subjects, input.Subject)
			}
		}
	}
	return subjects
}

// Metrics holds Prometheus metrics for the archive.
type Metrics struct {
	linesWritten  *prometheus.CounterVec
	bytesWritten  *prometheus.CounterVec
	writeErrors   prometheus.Counter
	malformedMsgs prometheus.Counter
	flushes       prometheus.Counter
}

// newMetrics creates and registers archive metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		linesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "archive",
			Name:      "lines_written_total",
			Help:      "Lines appended to the archive by stream",
		}, []string{"stream"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "archive",
			Name:      "bytes_written_total",
			Help:      "Bytes appended to the archive by stream",
		}, []string{"stream"}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "archive",
			Name:      "write_errors_total",
			Help:      "Failed archive writes",
		}),
		malformedMsgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "archive",
			Name:      "malformed_messages_total",
			Help:      "Messages dropped because the envelope type could not be read",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "archive",
			Name:      "flushes_total",
			Help:      "Buffer flushes to disk",
		}),
	}

	registry.RegisterCounterVec("archive", "lines_written", m.linesWritten)
	registry.RegisterCounterVec("archive", "bytes_written", m.bytesWritten)
	registry.RegisterCounter("archive", "write_errors", m.writeErrors)
	registry.RegisterCounter("archive", "malformed_messages", m.malformedMsgs)
	registry.RegisterCounter("archive", "flushes", m.flushes)

	return m
}

// stream is one append-only archive file with its pending lines.
type stream struct {
	file    *os.File
	pending [][]byte
}

// OutputDeps holds runtime dependencies for the archive.
type OutputDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output appends search results to per-category JSONL files.
type Output struct {
	name       string
	cfg        Config
	subjects   []string
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	streamMu sync.Mutex
	streams  map[string]*stream // keyed by message category

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	linesWritten atomic.Int64
	bytesWritten atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

// NewOutput creates a JSONL archive output.
func NewOutput(deps OutputDeps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "jsonl-output")
	}
	o := &Output{
		name:       deps.Name,
		cfg:        deps.Config,
		subjects:   deps.Config.inputSubjects(),
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		streams:    make(map[string]*stream),
		startTime:  time.Now(),
	}
	o.lastActivity.Store(time.Time{})
	return o
}

// Meta returns the component metadata.
func (o *Output) Meta() component.Metadata {
	name := o.name
	if name == "" {
		name = "jsonl-output"
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("JSONL archive of events and triggers under %s", o.cfg.Directory),
		Version:     "1.0.0",
	}
}

// InputPorts returns the subscribed subjects.
func (o *Output) InputPorts() []component.Port {
	ports := make([]component.Port, len(o.subjects))
	for i, subject := range o.subjects {
		ports[i] = component.Port{
			Name:        fmt.Sprintf("input_%d", i),
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("Archived subject %s", subject),
			Config:      component.NATSPort{Subject: subject},
		}
	}
	return ports
}

// OutputPorts returns the archive file port.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "archive",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: fmt.Sprintf("JSONL stream files under %s", o.cfg.Directory),
			Config:      component.NetworkPort{Protocol: "file", Host: o.cfg.Directory},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return jsonlSchema
}

// Health reports healthy while the flush loop is running.
func (o *Output) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    o.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (o *Output) DataFlow() component.FlowMetrics {
	lines := o.linesWritten.Load()
	bytes := o.bytesWritten.Load()
	errs := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var linesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		linesPerSecond = float64(lines) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if lines > 0 {
		errorRate = float64(errs) / float64(lines)
	}

	return component.FlowMetrics{
		MessagesPerSecond: linesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize creates the archive directory and checks dependencies.
func (o *Output) Initialize() error {
	if len(o.subjects) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"jsonl-output", "Initialize", "no input subjects configured")
	}
	if o.cfg.Directory == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"jsonl-output", "Initialize", "archive directory validation")
	}
	if o.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"jsonl-output", "Initialize", "NATS client validation")
	}
	if err := os.MkdirAll(o.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "jsonl-output", "Initialize", "create archive directory")
	}
	return nil
}

// Start subscribes to the archived subjects and launches the flush loop.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return nil
	}

	o.shutdown = make(chan struct{})
	o.done = make(chan struct{})

	for _, subject := range o.subjects {
		if err := o.natsClient.Subscribe(ctx, subject, o.handleMessage); err != nil {
			return errors.WrapTransient(err, "jsonl-output", "Start",
				fmt.Sprintf("subscribe to %s", subject))
		}
	}

	o.running.Store(true)
	o.startTime = time.Now()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(o.done)
		o.flushLoop()
	}()

	o.logger.Info("archive started",
		"directory", o.cfg.Directory,
		"subjects", o.subjects,
		"flush_interval", o.cfg.FlushInterval)
	return nil
}

// Stop drains the buffers and closes the stream files.
func (o *Output) Stop(timeout time.Duration) error {
	if !o.running.Load() {
		return nil
	}
	o.running.Store(false)

	o.mu.Lock()
	if o.shutdown != nil {
		select {
		case <-o.shutdown:
		default:
			close(o.shutdown)
		}
	}
	o.mu.Unlock()

	select {
	case <-o.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"jsonl-output", "Stop", "graceful shutdown")
	}

	o.flush()
	o.closeStreams()
	return nil
}

// handleMessage routes an envelope to its category stream.
func (o *Output) handleMessage(_ context.Context, data []byte) {
	category, err := envelopeCategory(data)
	if err != nil {
		o.errorCount.Add(1)
		if o.metrics != nil {
			o.metrics.malformedMsgs.Inc()
		}
		o.logger.Warn("dropping malformed archive message", "error", err)
		return
	}

	o.streamMu.Lock()
	s, err := o.streamLocked(category)
	if err != nil {
		o.streamMu.Unlock()
		o.errorCount.Add(1)
		o.logger.Error("failed to open archive stream", "stream", category, "error", err)
		return
	}
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	s.pending = append(s.pending, line)
	full := o.cfg.BufferSize > 0 && len(s.pending) >= o.cfg.BufferSize
	o.streamMu.Unlock()

	o.lastActivity.Store(time.Now())
	if full {
		o.flush()
	}
}

// streamLocked returns the stream for a category, opening its file on
// first use. Caller holds streamMu.
func (o *Output) streamLocked(category string) (*stream, error) {
	if s, ok := o.streams[category]; ok {
		return s, nil
	}
	path := filepath.Join(o.cfg.Directory, category+"s.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s := &stream{file: f}
	o.streams[category] = s
	o.logger.Info("opened archive stream", "stream", category, "path", path)
	return s, nil
}

// flushLoop flushes pending lines on the configured interval.
func (o *Output) flushLoop() {
	interval := o.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.shutdown:
			return
		case <-ticker.C:
			o.flush()
		}
	}
}

// flush appends all pending lines to their stream files.
func (o *Output) flush() {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()

	flushed := false
	for category, s := range o.streams {
		if len(s.pending) == 0 {
			continue
		}
		flushed = true
		for _, line := range s.pending {
			n, err := s.file.Write(line)
			if err != nil {
				o.errorCount.Add(1)
				if o.metrics != nil {
					o.metrics.writeErrors.Inc()
				}
				o.logger.Error("archive write failed", "stream", category, "error", err)
				continue
			}
			o.linesWritten.Add(1)
			o.bytesWritten.Add(int64(n))
			if o.metrics != nil {
				o.metrics.linesWritten.WithLabelValues(category).Inc()
				o.metrics.bytesWritten.WithLabelValues(category).Add(float64(n))
			}
		}
		s.pending = s.pending[:0]
	}
	if flushed && o.metrics != nil {
		o.metrics.flushes.Inc()
	}
}

// closeStreams closes every open stream file.
func (o *Output) closeStreams() {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()

	for category, s := range o.streams {
		if err := s.file.Close(); err != nil {
			o.logger.Warn("failed to close archive stream", "stream", category, "error", err)
		}
	}
	o.streams = make(map[string]*stream)
}

// envelopeCategory reads just the type header of an envelope.
func envelopeCategory(data []byte) (string, error) {
	var header struct {
		Type message.Type `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", err
	}
	if !header.Type.IsValid() {
		return "", fmt.Errorf("envelope carries no message type")
	}
	return header.Type.Category, nil
}

// CreateOutput creates a JSONL archive following the factory pattern.
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig Config
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "jsonl-output-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.Directory != "" {
			cfg.Directory = userConfig.Directory
		}
		if userConfig.BufferSize > 0 {
			cfg.BufferSize = userConfig.BufferSize
		}
		if userConfig.FlushInterval > 0 {
			cfg.FlushInterval = userConfig.FlushInterval
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"jsonl-output-factory", "create", "NATS client validation")
	}

	return NewOutput(OutputDeps{
		Name:            "jsonl-output",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("jsonl-output"),
	}), nil
}

// Register registers the JSONL archive with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "jsonl",
		Factory:     CreateOutput,
		Schema:      jsonlSchema,
		Type:        "output",
		Protocol:    "file",
		Domain:      "storage",
		Description: "Append-only JSONL archive of events and triggers",
		Version:     "1.0.0",
	})
}
