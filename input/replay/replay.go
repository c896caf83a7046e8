package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
)

// Ensure Input implements all required interfaces
var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// replaySchema is generated from InputConfig struct tags.
var replaySchema = component.GenerateConfigSchema(reflect.TypeOf(InputConfig{}))

// Metrics holds Prometheus metrics for the replay input.
type Metrics struct {
	blocksPublished prometheus.Counter
	decodeFailures  prometheus.Counter
	publishFailures prometheus.Counter
	loops           prometheus.Counter
	position        prometheus.Gauge
}

// newMetrics creates and registers replay metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		blocksPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "replay",
			Name:      "blocks_published_total",
			Help:      "Strain blocks replayed onto the bus",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "replay",
			Name:      "decode_failures_total",
			Help:      "Recording lines skipped as undecodable or invalid blocks",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "replay",
			Name:      "publish_failures_total",
			Help:      "Replayed blocks that failed to publish",
		}),
		loops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "replay",
			Name:      "loops_total",
			Help:      "Times the recording restarted from the top",
		}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "replay",
			Name:      "position_seconds",
			Help:      "GPS time of the most recently replayed block",
		}),
	}

	registry.RegisterCounter("replay", "blocks_published", m.blocksPublished)
	registry.RegisterCounter("replay", "decode_failures", m.decodeFailures)
	registry.RegisterCounter("replay", "publish_failures", m.publishFailures)
	registry.RegisterCounter("replay", "loops", m.loops)
	registry.RegisterGauge("replay", "position", m.position)

	return m
}

// InputConfig holds configuration for the strain replay input.
type InputConfig struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
	Path  string                `json:"path"  schema:"type:string,description:JSONL recording to replay,category:basic"`
	// Speed is the playback multiplier relative to real time. 1 plays at
	// detector cadence; 0 disables pacing and replays as fast as the bus
	// accepts.
	Speed float64 `json:"speed" schema:"type:float,description:Playback speed multiplier (0 = unpaced),category:basic"`
	Loop  bool    `json:"loop"  schema:"type:bool,description:Restart from the top at end of file,category:advanced"`
}

// Validate implements component.Validatable.
func (c *InputConfig) Validate() error {
	if c.Speed < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("speed must be >= 0, got %g", c.Speed),
			"InputConfig", "Validate", "speed validation")
	}
	if c.Ports != nil {
		for _, output := range c.Ports.Outputs {
			if output.Type == "nats" && output.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig,
					"InputConfig", "Validate", "NATS output subject validation")
			}
		}
	}
	return nil
}

// DefaultConfig returns defaults for the replay input.
func DefaultConfig() InputConfig {
	return InputConfig{
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "strain_output",
					Type:        "nats",
					Subject:     message.StrainMessage.Key(),
					Required:    true,
					Description: "Subject base for per-detector strain blocks",
				},
			},
		},
		Speed: 1,
	}
}

func (c *InputConfig) subjectBase() string {
	if c.Ports != nil {
		for _, output := range c.Ports.Outputs {
			if output.Type == "nats" && output.Subject != "" {
				return output.Subject
			}
		}
	}
	return message.StrainMessage.Key()
}

// InputDeps holds runtime dependencies for the replay input.
type InputDeps struct {
	Name            string
	Config          InputConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input replays a JSONL strain recording onto the bus.
type Input struct {
	name        string
	cfg         InputConfig
	subjectBase string
	natsClient  *natsclient.Client
	logger      *slog.Logger
	metrics     *Metrics

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	blocksPublished atomic.Int64
	bytesPublished  atomic.Int64
	errorCount      atomic.Int64
	lastActivity    atomic.Value // time.Time
	finished        atomic.Bool  // end of recording reached (no loop)
}

// NewInput creates a strain replay input.
func NewInput(deps InputDeps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "replay-input")
	}
	in := &Input{
		name:        deps.Name,
		cfg:         deps.Config,
		subjectBase: deps.Config.subjectBase(),
		natsClient:  deps.NATSClient,
		logger:      logger,
		metrics:     newMetrics(deps.MetricsRegistry),
		startTime:   time.Now(),
	}
	in.lastActivity.Store(time.Time{})
	return in
}

// Meta returns the component metadata.
func (r *Input) Meta() component.Metadata {
	name := r.name
	if name == "" {
		name = "replay-input"
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("Strain replay from %s at %gx speed", r.cfg.Path, r.cfg.Speed),
		Version:     "1.0.0",
	}
}

// InputPorts returns the file source port.
func (r *Input) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "recording",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("JSONL strain recording at %s", r.cfg.Path),
			Config:      component.NetworkPort{Protocol: "file", Host: r.cfg.Path},
		},
	}
}

// OutputPorts returns the strain output port.
func (r *Input) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "strain_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Per-detector strain block subjects",
			Config:      component.NATSPort{Subject: r.subjectBase + ".*"},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (r *Input) ConfigSchema() component.ConfigSchema {
	return replaySchema
}

// Health reports healthy while running or after a clean end of file.
func (r *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    r.running.Load() || r.finished.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(r.errorCount.Load()),
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (r *Input) DataFlow() component.FlowMetrics {
	blocks := r.blocksPublished.Load()
	bytes := r.bytesPublished.Load()
	errs := r.errorCount.Load()
	lastActivity, _ := r.lastActivity.Load().(time.Time)

	var blocksPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(r.startTime).Seconds(); uptime > 0 {
		blocksPerSecond = float64(blocks) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if blocks > 0 {
		errorRate = float64(errs) / float64(blocks)
	}

	return component.FlowMetrics{
		MessagesPerSecond: blocksPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize checks the recording exists and dependencies are wired.
func (r *Input) Initialize() error {
	if r.cfg.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"replay-input", "Initialize", "recording path validation")
	}
	if _, err := os.Stat(r.cfg.Path); err != nil {
		return errors.WrapInvalid(err, "replay-input", "Initialize", "recording stat")
	}
	if r.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"replay-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start launches the replay loop.
func (r *Input) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return nil
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)
	r.startTime = time.Now()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.replayLoop(ctx)
	}()

	return nil
}

// Stop halts the replay.
func (r *Input) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	r.mu.Lock()
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"replay-input", "Stop", "graceful shutdown")
	}
}

// replayLoop plays the recording until end of file, shutdown, or
// cancellation, looping when configured.
func (r *Input) replayLoop(ctx context.Context) {
	for r.running.Load() {
		if err := r.playFile(ctx); err != nil {
			r.errorCount.Add(1)
			r.logger.Error("replay aborted", "path", r.cfg.Path, "error", err)
			return
		}
		if !r.cfg.Loop {
			r.finished.Store(true)
			r.running.Store(false)
			r.logger.Info("replay finished", "path", r.cfg.Path, "blocks", r.blocksPublished.Load())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		default:
		}
		if r.metrics != nil {
			r.metrics.loops.Inc()
		}
		r.logger.Info("looping recording", "path", r.cfg.Path)
	}
}

// maxLineBytes bounds one JSONL line; a one-second block at 16 kHz with
// full float precision is well under this.
const maxLineBytes = 8 * 1024 * 1024

// playFile streams the recording once.
func (r *Input) playFile(ctx context.Context) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	// The limiter meters strain seconds: one token is one second of
	// recorded data, refilled Speed times per real second.
	var limiter *rate.Limiter
	if r.cfg.Speed > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.Speed), 1)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		select {
		case <-ctx.Done():
			return nil
		case <-r.shutdown:
			return nil
		default:
		}

		payload, duration, err := r.decodeLine(scanner.Bytes())
		if err != nil {
			r.errorCount.Add(1)
			if r.metrics != nil {
				r.metrics.decodeFailures.Inc()
			}
			r.logger.Warn("skipping bad recording line", "line", line, "error", err)
			continue
		}

		if limiter != nil && duration > 0 {
			if err := waitDuration(ctx, limiter, duration); err != nil {
				return nil // canceled while pacing
			}
		}

		if err := r.publish(ctx, payload); err != nil {
			r.errorCount.Add(1)
			if r.metrics != nil {
				r.metrics.publishFailures.Inc()
			}
			r.logger.Warn("failed to publish replayed block",
				"line", line, "detector", payload.Detector, "error", err)
		}
	}
	return scanner.Err()
}

// decodeLine parses one JSONL record into a strain payload.
func (r *Input) decodeLine(data []byte) (*message.StrainPayload, float64, error) {
	var payload message.StrainPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, 0, err
	}
	block := payload.Block()
	if err := block.Validate(); err != nil {
		return nil, 0, err
	}
	return &payload, block.Duration(), nil
}

// waitDuration blocks until the limiter releases `seconds` worth of
// strain time. WaitN takes integer tokens, so fractional seconds are
// paced by waiting per whole token and sleeping the remainder.
func waitDuration(ctx context.Context, limiter *rate.Limiter, seconds float64) error {
	whole := int(seconds)
	if whole > 0 {
		if err := limiter.WaitN(ctx, whole); err != nil {
			return err
		}
	}
	frac := seconds - float64(whole)
	if frac > 0 {
		wait := time.Duration(frac / float64(limiter.Limit()) * float64(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// publish wraps and publishes one replayed block.
func (r *Input) publish(ctx context.Context, payload *message.StrainPayload) error {
	msg := message.NewBaseMessage(message.StrainMessage, payload, r.sourceName())
	data, err := msg.MarshalJSON()
	if err != nil {
		return errors.WrapInvalid(err, "replay-input", "publish", "envelope encoding")
	}

	subject := r.subjectBase + "." + payload.Detector
	if err := r.natsClient.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "replay-input", "publish", "NATS publish")
	}

	r.blocksPublished.Add(1)
	r.bytesPublished.Add(int64(len(data)))
	r.lastActivity.Store(time.Now())
	if r.metrics != nil {
		r.metrics.blocksPublished.Inc()
		block := payload.Block()
		r.metrics.position.Set(block.TimeAt(block.EndIndex()))
	}
	return nil
}

func (r *Input) sourceName() string {
	if r.name != "" {
		return r.name
	}
	return "replay-input"
}

// CreateInput creates a replay input following the factory pattern.
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig InputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "replay-input-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.Path != "" {
			cfg.Path = userConfig.Path
		}
		if userConfig.Speed > 0 {
			cfg.Speed = userConfig.Speed
		}
		cfg.Loop = userConfig.Loop
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"replay-input-factory", "create", "NATS client validation")
	}

	return NewInput(InputDeps{
		Name:            "replay-input",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("replay-input"),
	}), nil
}

// Register registers the replay input with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "replay",
		Factory:     CreateInput,
		Schema:      replaySchema,
		Type:        "input",
		Protocol:    "file",
		Domain:      "strain",
		Description: "JSONL strain recording replay with real-time pacing",
		Version:     "1.0.0",
	})
}
