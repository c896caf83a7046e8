package eventstore

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

// eventstoreSchema is generated from Config struct tags.
var eventstoreSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the event store writer.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
	Path  string                `json:"path"  schema:"type:string,description:SQLite database path,category:basic"`
}

// Validate implements component.Validatable.
func (c *Config) Validate() error {
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

// DefaultConfig returns defaults for the event store.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "event_input",
					Type:        "nats",
					Subject:     message.EventMessage.Key(),
					Required:    true,
					Description: "Ranked coincident events to persist",
				},
			},
		},
		Path: "/var/lib/spiir/events.db",
	}
}

func (c *Config) inputSubject() string {
	if c.Ports != nil {
		for _, input := range c.Ports.Inputs {
			if input.Type == "nats" && input.Subject != "" {
				return input.Subject
			}
		}
	}
	return message.EventMessage.Key()
}

// Metrics holds Prometheus metrics for the event store.
type Metrics struct {
	eventsStored    prometheus.Counter
	duplicateEvents prometheus.Counter
	storeFailures   prometheus.Counter
	storeLatency    prometheus.Histogram
}

// newMetrics creates and registers event store metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "eventstore",
			Name:      "events_stored_total",
			Help:      "Events persisted to the database",
		}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "eventstore",
			Name:      "duplicate_events_total",
			Help:      "Redelivered events ignored by primary key",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "eventstore",
			Name:      "store_failures_total",
			Help:      "Events that failed to persist",
		}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "eventstore",
			Name:      "store_duration_seconds",
			Help:      "Time to persist one event",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}

	registry.RegisterCounter("eventstore", "events_stored", m.eventsStored)
	registry.RegisterCounter("eventstore", "duplicate_events", m.duplicateEvents)
	registry.RegisterCounter("eventstore", "store_failures", m.storeFailures)
	registry.RegisterHistogram("eventstore", "store_latency", m.storeLatency)

	return m
}

// OutputDeps holds runtime dependencies for the event store.
type OutputDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output persists ranked events to SQLite.
type Output struct {
	name       string
	cfg        Config
	subject    string
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	store   *Store
	storeMu sync.Mutex

	running   atomic.Bool
	startTime time.Time

	eventsStored atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

// NewOutput creates an event store writer.
func NewOutput(deps OutputDeps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eventstore-output")
	}
	o := &Output{
		name:       deps.Name,
		cfg:        deps.Config,
		subject:    deps.Config.inputSubject(),
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		startTime:  time.Now(),
	}
	o.lastActivity.Store(time.Time{})
	return o
}

// Meta returns the component metadata.
func (o *Output) Meta() component.Metadata {
	name := o.name
	if name == "" {
		name = "eventstore-output"
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("SQLite event store at %s", o.cfg.Path),
		Version:     "1.0.0",
	}
}

// InputPorts returns the event subject port.
func (o *Output) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "event_input",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Ranked coincident events",
			Config:      component.NATSPort{Subject: o.subject},
		},
	}
}

// OutputPorts returns the database file port.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "database",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: fmt.Sprintf("SQLite database at %s", o.cfg.Path),
			Config:      component.NetworkPort{Protocol: "file", Host: o.cfg.Path},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return eventstoreSchema
}

// Health reports healthy while the store is open.
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
	stored := o.eventsStored.Load()
	errs := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		perSecond = float64(stored) / uptime
	}
	if total := stored + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize opens the database, creating its directory if needed.
func (o *Output) Initialize() error {
	if o.cfg.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"eventstore-output", "Initialize", "database path validation")
	}
	if o.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"eventstore-output", "Initialize", "NATS client validation")
	}

	if o.cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(o.cfg.Path), 0o755); err != nil {
			return errors.WrapFatal(err, "eventstore-output", "Initialize", "create database directory")
		}
	}

	store, err := Open(o.cfg.Path)
	if err != nil {
		return errors.WrapFatal(err, "eventstore-output", "Initialize", "open database")
	}

	o.storeMu.Lock()
	o.store = store
	o.storeMu.Unlock()
	return nil
}

// Start subscribes to the ranked event subject.
func (o *Output) Start(ctx context.Context) error {
	if o.running.Load() {
		return nil
	}

	o.storeMu.Lock()
	ready := o.store != nil
	o.storeMu.Unlock()
	if !ready {
		return errors.WrapFatal(fmt.Errorf("store not initialized"),
			"eventstore-output", "Start", "store readiness check")
	}

	if err := o.natsClient.Subscribe(ctx, o.subject, o.handleEvent); err != nil {
		return errors.WrapTransient(err, "eventstore-output", "Start",
			fmt.Sprintf("subscribe to %s", o.subject))
	}

	o.running.Store(true)
	o.startTime = time.Now()
	o.logger.Info("event store started", "path", o.cfg.Path)
	return nil
}

// Stop closes the database.
func (o *Output) Stop(time.Duration) error {
	if !o.running.Swap(false) {
		return nil
	}

	o.storeMu.Lock()
	defer o.storeMu.Unlock()
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			return errors.WrapTransient(err, "eventstore-output", "Stop", "close database")
		}
		o.store = nil
	}
	return nil
}

// handleEvent persists one ranked event envelope.
func (o *Output) handleEvent(_ context.Context, data []byte) {
	o.lastActivity.Store(time.Now())

	var msg message.BaseMessage
	if err := msg.UnmarshalJSON(data); err != nil {
		o.errorCount.Add(1)
		o.logger.Warn("dropping malformed event envelope", "error", err)
		return
	}
	payload, ok := msg.Payload().(*message.EventPayload)
	if !ok || payload.Event == nil {
		o.errorCount.Add(1)
		o.logger.Warn("dropping envelope without event payload", "type", msg.Type().Key())
		return
	}

	o.storeMu.Lock()
	store := o.store
	o.storeMu.Unlock()
	if store == nil {
		return
	}

	var start time.Time
	if o.metrics != nil {
		start = time.Now()
	}

	inserted, err := store.SaveEvent(payload.Event)
	if err != nil {
		o.errorCount.Add(1)
		if o.metrics != nil {
			o.metrics.storeFailures.Inc()
		}
		o.logger.Error("failed to persist event",
			"event_id", payload.Event.ID, "error", err)
		return
	}

	if o.metrics != nil {
		o.metrics.storeLatency.Observe(time.Since(start).Seconds())
	}
	if !inserted {
		if o.metrics != nil {
			o.metrics.duplicateEvents.Inc()
		}
		return
	}

	o.eventsStored.Add(1)
	if o.metrics != nil {
		o.metrics.eventsStored.Inc()
	}
	o.logger.Debug("event persisted",
		"event_id", payload.Event.ID,
		"ranking_stat", payload.Event.RankingStat)
}

// CreateOutput creates an event store following the factory pattern.
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig Config
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "eventstore-output-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.Path != "" {
			cfg.Path = userConfig.Path
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"eventstore-output-factory", "create", "NATS client validation")
	}

	return NewOutput(OutputDeps{
		Name:            "eventstore-output",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("eventstore-output"),
	}), nil
}

// Register registers the event store with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "eventstore",
		Factory:     CreateOutput,
		Schema:      eventstoreSchema,
		Type:        "output",
		Protocol:    "file",
		Domain:      "storage",
		Description: "SQLite persistence of ranked events for offline follow-up",
		Version:     "1.0.0",
	})
}
