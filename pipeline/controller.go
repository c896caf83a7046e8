package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tanghyd/spiir-search/classify"
	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/template"
	"github.com/tanghyd/spiir-search/trigger"
)

// Ensure Controller implements all required interfaces
var _ component.Discoverable = (*Controller)(nil)
var _ component.LifecycleComponent = (*Controller)(nil)

// controllerSchema is generated from ControllerConfig struct tags.
var controllerSchema = component.GenerateConfigSchema(reflect.TypeOf(ControllerConfig{}))

// ControllerConfig holds configuration for the stream controller component.
type ControllerConfig struct {
	Ports              *component.PortConfig `json:"ports"               schema:"type:ports,description:Port configuration,category:basic"`
	Detectors          []string              `json:"detectors"           schema:"type:array,description:Detector site ids to search over,category:basic"`
	Search             config.SearchConfig   `json:"search"              schema:"type:object,description:Detection parameters,category:basic"`
	Bank               config.BankConfig     `json:"bank"                schema:"type:object,description:Template bank location,category:basic"`
	Classify           config.ClassifyConfig `json:"classify"            schema:"type:object,description:Source classification,category:advanced"`
	CheckpointBucket   string                `json:"checkpoint_bucket"   schema:"type:string,description:KV bucket for stream checkpoints,category:advanced"`
	CheckpointInterval time.Duration         `json:"checkpoint_interval" schema:"type:string,description:Interval between checkpoints,category:advanced"`
}

// Validate implements component.Validatable. It checks only the fields
// the user set; partial configs merge over defaults, so required-field
// enforcement happens at Initialize against the merged result.
func (c *ControllerConfig) Validate() error {
	if c.Search != (config.SearchConfig{}) {
		if err := c.Search.Validate(); err != nil {
			return errors.Wrap(err, "ControllerConfig", "Validate", "search parameter validation")
		}
	}
	if c.Classify.Enabled && c.Classify.ModelPath == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ControllerConfig", "Validate", "classifier model path validation")
	}
	if c.CheckpointInterval < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("checkpoint interval must be >= 0, got %v", c.CheckpointInterval),
			"ControllerConfig", "Validate", "checkpoint interval validation")
	}
	if c.Ports != nil {
		for _, output := range c.Ports.Outputs {
			if output.Type == "nats" && output.Subject == "" {
				return errors.WrapInvalid(errors.ErrInvalidConfig,
					"ControllerConfig", "Validate", "NATS output subject validation")
			}
		}
	}
	return nil
}

// validateComplete enforces the fields a runnable controller requires,
// applied to the merged configuration.
func (c *ControllerConfig) validateComplete() error {
	if len(c.Detectors) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ControllerConfig", "validateComplete", "detector list validation")
	}
	if c.Bank.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ControllerConfig", "validateComplete", "bank path validation")
	}
	if err := c.Search.Validate(); err != nil {
		return errors.Wrap(err, "ControllerConfig", "validateComplete", "search parameter validation")
	}
	return c.Validate()
}

// DefaultConfig returns defaults matching a two-detector search.
func DefaultConfig() ControllerConfig {
	return ControllerConfig{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "strain_input",
					Type:        "nats",
					Subject:     message.StrainMessage.Key() + ".*",
					Required:    true,
					Description: "Per-detector strain block stream",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "trigger_output",
					Type:        "nats",
					Subject:     message.TriggerMessage.Key(),
					Required:    false,
					Description: "Per-detector trigger batches with watermarks",
				},
				{
					Name:        "event_output",
					Type:        "nats",
					Subject:     message.EventMessage.Key(),
					Required:    true,
					Description: "Ranked candidate events",
				},
			},
		},
		Detectors:          []string{"H1", "L1"},
		Search:             config.DefaultConfig().Search,
		Bank:               config.BankConfig{Path: "bank.json"},
		CheckpointBucket:   "spiir-checkpoints",
		CheckpointInterval: 30 * time.Second,
	}
}

// ControllerDeps holds runtime dependencies for the stream controller.
type ControllerDeps struct {
	Name            string
	Config          ControllerConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Controller is the stream controller component: it subscribes to
// per-detector strain subjects, runs one detector pipeline per site, and
// drives the shared coincidence stage off the merged trigger batches.
type Controller struct {
	name   string
	cfg    ControllerConfig
	nats   *natsclient.Client
	logger *slog.Logger

	bank      *template.Bank
	model     classify.Classifier
	coinc     *coincidence.Engine
	pipelines map[string]*detectorPipeline
	batchCh   chan batch
	kv        *natsclient.KVStore

	// cancel tears down the internal work context created in Start.
	cancel   context.CancelFunc
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	degraded atomic.Bool
	mu       sync.RWMutex
	wg       sync.WaitGroup

	startTime       time.Time
	blocksReceived  atomic.Int64
	bytesReceived   atomic.Int64
	eventsPublished atomic.Int64
	errorCount      atomic.Int64
	lastActivity    atomic.Value // time.Time

	metrics *Metrics
}

// NewController creates the stream controller.
func NewController(deps ControllerDeps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pipeline")
	}

	c := &Controller{
		name:      deps.Name,
		cfg:       deps.Config,
		nats:      deps.NATSClient,
		logger:    logger,
		metrics:   newMetrics(deps.MetricsRegistry),
		startTime: time.Now(),
	}
	c.lastActivity.Store(time.Time{})
	return c
}

// Meta returns the component metadata.
func (c *Controller) Meta() component.Metadata {
	name := c.name
	if name == "" {
		name = "pipeline"
	}
	return component.Metadata{
		Name:        name,
		Type:        "processor",
		Description: fmt.Sprintf("Matched-filter stream controller over %v", c.cfg.Detectors),
		Version:     "1.0.0",
	}
}

// InputPorts returns one strain input per configured detector.
func (c *Controller) InputPorts() []component.Port {
	ports := make([]component.Port, 0, len(c.cfg.Detectors))
	for _, det := range c.cfg.Detectors {
		ports = append(ports, component.Port{
			Name:        "strain_" + det,
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("Strain block stream for %s", det),
			Config:      component.NATSPort{Subject: strainSubject(det)},
		})
	}
	return ports
}

// OutputPorts returns the trigger and event outputs.
func (c *Controller) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "trigger_output",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: "Per-detector trigger batches with watermarks",
			Config:      component.NATSPort{Subject: message.TriggerMessage.Key() + ".*"},
		},
		{
			Name:        "event_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Ranked candidate events",
			Config:      component.NATSPort{Subject: message.EventMessage.Key()},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (c *Controller) ConfigSchema() component.ConfigSchema {
	return controllerSchema
}

// Health reports degraded (unhealthy) when ingest backpressure exceeded
// the configured bound or a detector pipeline failed.
func (c *Controller) Health() component.HealthStatus {
	healthy := c.running.Load() && !c.degraded.Load()
	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (c *Controller) DataFlow() component.FlowMetrics {
	blocks := c.blocksReceived.Load()
	bytes := c.bytesReceived.Load()
	errs := c.errorCount.Load()
	lastActivity, _ := c.lastActivity.Load().(time.Time)

	var blocksPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(c.startTime).Seconds(); uptime > 0 {
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

// Initialize loads the template bank and classifier model and builds the
// per-detector pipelines and the coincidence engine. No I/O with the bus
// happens here.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cfg.validateComplete(); err != nil {
		return err
	}
	if c.nats == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"pipeline", "Initialize", "NATS client validation")
	}

	bank, err := template.Load(c.cfg.Bank.Path, template.LoadOptions{
		Workers: c.cfg.Bank.ValidateWorkers,
	})
	if err != nil {
		return errors.Wrap(err, "pipeline", "Initialize", "template bank load")
	}
	c.bank = bank
	c.logger.Info("template bank loaded",
		"path", c.cfg.Bank.Path,
		"templates", bank.Len(),
		"rejected", len(bank.Rejected))

	if c.cfg.Classify.Enabled {
		model, err := classify.LoadModel(c.cfg.Classify.ModelPath)
		if err != nil {
			return errors.Wrap(err, "pipeline", "Initialize", "classifier model load")
		}
		c.model = model
	}

	coinc, err := coincidence.NewEngine(coincidence.Config{
		Detectors:           c.cfg.Detectors,
		TimingMargin:        c.cfg.Search.TimingMargin,
		Window:              c.cfg.Search.CoincidenceWindow,
		EmitSingles:         c.cfg.Search.EmitSingles,
		ChisqPenaltyEnabled: c.cfg.Search.ChisqEnabled,
	})
	if err != nil {
		return errors.Wrap(err, "pipeline", "Initialize", "coincidence engine creation")
	}
	c.coinc = coinc

	// The merge channel is sized to hold one in-flight batch per
	// detector without stalling a pipeline on the coincidence stage.
	c.batchCh = make(chan batch, 2*len(c.cfg.Detectors))
	c.pipelines = make(map[string]*detectorPipeline, len(c.cfg.Detectors))
	for _, det := range c.cfg.Detectors {
		p, err := newDetectorPipeline(det, bank, c.cfg.Search, c.batchCh, c.logger, c.metrics)
		if err != nil {
			return err
		}
		c.pipelines[det] = p
	}

	return nil
}

// Start subscribes to the strain subjects and launches the detector
// pipelines, the coincidence merge loop, and the checkpoint ticker.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}
	if c.pipelines == nil {
		return errors.Wrap(errors.ErrNotStarted, "pipeline", "Start", "Initialize not called")
	}

	workCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	c.openCheckpointStore(workCtx)

	for det, p := range c.pipelines {
		det, p := det, p
		// Ingestion blocks on the work context, never the per-message
		// handler context: the subscription caps handlers at 30 s, and a
		// queue held full longer than that must stall delivery, not time
		// out and lose the block.
		if err := c.nats.Subscribe(workCtx, strainSubject(det), func(_ context.Context, data []byte) {
			c.handleStrain(workCtx, p, data)
		}); err != nil {
			cancel()
			return errors.WrapTransient(err, "pipeline", "Start", "strain subscription")
		}
	}

	c.running.Store(true)
	c.startTime = time.Now()

	for _, p := range c.pipelines {
		p := p
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runPipeline(workCtx, p)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		c.runCoincidence(workCtx)
	}()

	if c.kv != nil && c.cfg.CheckpointInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runCheckpoints(workCtx)
		}()
	}

	return nil
}

// Stop cancels the work context, waits for the goroutines, finalizes
// in-flight trigger candidates, closes the remaining coincidence groups,
// and writes a final checkpoint.
func (c *Controller) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)

	c.mu.Lock()
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	for _, p := range c.pipelines {
		p.drain()
	}
	c.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"pipeline", "Stop", "graceful shutdown")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stream end finalizes in-flight candidates the same way a reset gap
	// does: each extractor's best-seen peak survives if it met minimum
	// support. The run goroutines have exited, so touching extractor
	// state here is safe.
	var survivors []*trigger.Trigger
	for _, p := range c.pipelines {
		survivors = append(survivors, p.interruptAll()...)
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Time < survivors[j].Time })
	for _, tr := range survivors {
		if err := c.coinc.Add(tr); err != nil {
			c.errorCount.Add(1)
			c.logger.Warn("interrupted trigger rejected by coincidence stage",
				"detector", tr.Detector, "template", tr.TemplateID, "error", err)
		}
	}

	// Any candidates still open at shutdown are published rather than
	// lost; a restart re-primes the streams from scratch.
	for _, ev := range c.coinc.Flush() {
		c.publishEvent(flushCtx, ev)
	}
	if err := c.saveCheckpoint(flushCtx); err != nil {
		c.logger.Warn("final checkpoint failed", "error", err)
	}
	return nil
}

// openCheckpointStore binds the KV bucket for stream checkpoints. Failure
// is non-fatal: the search runs without checkpoints and logs why.
func (c *Controller) openCheckpointStore(ctx context.Context) {
	if c.cfg.CheckpointBucket == "" {
		return
	}
	bucket, err := c.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      c.cfg.CheckpointBucket,
		Description: "Stream controller position checkpoints",
		History:     1,
	})
	if err != nil {
		c.logger.Warn("checkpoint bucket unavailable, running without checkpoints",
			"bucket", c.cfg.CheckpointBucket, "error", err)
		return
	}
	c.kv = c.nats.NewKVStore(bucket)

	if cp, err := c.restoreCheckpoint(ctx); err != nil {
		c.logger.Warn("checkpoint restore failed", "error", err)
	} else if cp != nil {
		for det, pos := range cp.Detectors {
			c.logger.Info("resuming after checkpoint",
				"detector", det,
				"next_index", pos.NextIndex,
				"watermark", pos.Watermark)
		}
	}
}

// handleStrain decodes one strain message and queues its block on the
// owning detector pipeline, blocking for backpressure when the queue is
// full.
func (c *Controller) handleStrain(ctx context.Context, p *detectorPipeline, data []byte) {
	var msg message.BaseMessage
	if err := msg.UnmarshalJSON(data); err != nil {
		c.errorCount.Add(1)
		c.logger.Warn("undecodable strain message", "detector", p.detector, "error", err)
		return
	}
	payload, ok := msg.Payload().(*message.StrainPayload)
	if !ok {
		c.errorCount.Add(1)
		c.logger.Warn("unexpected payload type on strain subject",
			"detector", p.detector, "type", msg.Type().Key())
		return
	}
	block := payload.Block()
	if block.Detector != p.detector {
		c.errorCount.Add(1)
		c.logger.Warn("strain block routed to wrong detector stream",
			"subject_detector", p.detector, "block_detector", block.Detector)
		return
	}

	blocked, err := p.enqueue(ctx, block)
	if err != nil {
		// The work context is the only thing that can unblock a full
		// queue, so this fires only during shutdown.
		c.errorCount.Add(1)
		c.logger.Warn("strain block abandoned by shutdown", "detector", p.detector, "error", err)
		return
	}

	c.blocksReceived.Add(1)
	c.bytesReceived.Add(int64(len(data)))
	c.lastActivity.Store(time.Now())
	if c.metrics != nil {
		c.metrics.blocksIngested.WithLabelValues(p.detector).Inc()
	}

	if blocked > 0 {
		if c.metrics != nil {
			c.metrics.blockedIngest.WithLabelValues(p.detector).Inc()
			c.metrics.ingestBlockedTime.WithLabelValues(p.detector).Add(blocked.Seconds())
		}
		if blocked > c.cfg.Search.BackpressureBound && !c.degraded.Load() {
			c.degraded.Store(true)
			c.logger.Warn("ingest backpressure beyond bound, marking degraded",
				"detector", p.detector, "blocked", blocked, "bound", c.cfg.Search.BackpressureBound)
		}
	}
}

// runPipeline drives one detector pipeline and reports its exit to the
// merge loop. A failed detector sends an infinite watermark so the
// surviving detectors' minimum no longer waits on it.
func (c *Controller) runPipeline(ctx context.Context, p *detectorPipeline) {
	err := p.run(ctx)
	if err != nil {
		c.errorCount.Add(1)
		c.degraded.Store(true)
	}
	if ctx.Err() == nil {
		select {
		case c.batchCh <- batch{detector: p.detector, watermark: math.Inf(1)}:
		case <-ctx.Done():
		}
	}
}

// runCoincidence is the merge loop: the single goroutine that feeds the
// coincidence engine. It tracks per-detector watermarks and advances the
// engine with the minimum over detectors still producing.
func (c *Controller) runCoincidence(ctx context.Context) {
	watermarks := make(map[string]float64, len(c.pipelines))
	for det := range c.pipelines {
		watermarks[det] = math.Inf(-1)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.batchCh:
			c.consumeBatch(ctx, b, watermarks)
		}
	}
}

// consumeBatch adds one detector batch to the coincidence engine and
// advances the global watermark.
func (c *Controller) consumeBatch(ctx context.Context, b batch, watermarks map[string]float64) {
	if math.IsInf(b.watermark, 1) {
		c.logger.Info("detector left the watermark quorum", "detector", b.detector)
	}
	watermarks[b.detector] = b.watermark

	if len(b.triggers) > 0 {
		sort.Slice(b.triggers, func(i, j int) bool {
			return b.triggers[i].Time < b.triggers[j].Time
		})
		for _, t := range b.triggers {
			if err := c.coinc.Add(t); err != nil {
				c.errorCount.Add(1)
				c.logger.Warn("trigger rejected by coincidence stage",
					"detector", t.Detector, "template", t.TemplateID, "error", err)
			}
		}
	}
	c.publishTriggers(ctx, b)

	// The global watermark is the slowest live detector: no trigger
	// earlier than it can still arrive.
	global := math.Inf(1)
	for _, wm := range watermarks {
		if wm < global {
			global = wm
		}
	}
	if math.IsInf(global, -1) || math.IsInf(global, 1) {
		return
	}

	for _, ev := range c.coinc.AdvanceWatermark(global) {
		c.publishEvent(ctx, ev)
	}
	if c.metrics != nil {
		c.metrics.openGroups.Set(float64(c.coinc.OpenGroups()))
	}
}

// publishTriggers emits one detector's batch, empty batches included:
// they carry the watermark heartbeat downstream consumers key on.
func (c *Controller) publishTriggers(ctx context.Context, b batch) {
	payload := &message.TriggerPayload{
		Detector:  b.detector,
		Watermark: b.watermark,
		Triggers:  b.triggers,
	}
	msg := message.NewBaseMessage(message.TriggerMessage, payload, c.sourceName())
	data, err := msg.MarshalJSON()
	if err != nil {
		c.errorCount.Add(1)
		c.logger.Warn("trigger batch encoding failed", "detector", b.detector, "error", err)
		return
	}
	subject := message.TriggerMessage.Key() + "." + b.detector
	if err := c.nats.Publish(ctx, subject, data); err != nil {
		c.errorCount.Add(1)
		c.logger.Warn("trigger batch publish failed", "subject", subject, "error", err)
	}
}

// publishEvent classifies and publishes one closed candidate event.
func (c *Controller) publishEvent(ctx context.Context, ev *coincidence.Event) {
	c.classifyEvent(ev)

	payload := &message.EventPayload{Event: ev}
	msg := message.NewBaseMessage(message.EventMessage, payload, c.sourceName())
	data, err := msg.MarshalJSON()
	if err != nil {
		c.errorCount.Add(1)
		c.logger.Warn("event encoding failed", "event", ev.ID, "error", err)
		return
	}
	if err := c.nats.Publish(ctx, message.EventMessage.Key(), data); err != nil {
		c.errorCount.Add(1)
		c.logger.Warn("event publish failed", "event", ev.ID, "error", err)
		return
	}

	c.eventsPublished.Add(1)
	if c.metrics != nil {
		c.metrics.eventsEmitted.Inc()
		if ev.Single {
			c.metrics.singlesEmitted.Inc()
		}
	}
	c.logger.Info("candidate event published",
		"event", ev.ID,
		"template", ev.TemplateID,
		"detectors", ev.Detectors(),
		"network_snr", ev.NetworkSNR,
		"ranking_stat", ev.RankingStat)
}

// classifyEvent attaches source probabilities when a model is loaded and
// the template carries an effective-distance scale. Classification
// failures degrade to an unclassified event, never a dropped one.
func (c *Controller) classifyEvent(ev *coincidence.Event) {
	if c.model == nil {
		return
	}
	tpl, err := c.bank.Get(ev.TemplateID)
	if err != nil || tpl.EffDistScale <= 0 || ev.NetworkSNR <= 0 {
		return
	}

	effDist := tpl.EffDistScale / ev.NetworkSNR
	probs, err := c.model.Classify(tpl.ChirpMass(), ev.NetworkSNR, effDist)
	if err != nil {
		c.logger.Warn("event classification failed", "event", ev.ID, "error", err)
		return
	}
	ev.SourceProbabilities = probs
}

// runCheckpoints periodically persists stream positions.
func (c *Controller) runCheckpoints(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.saveCheckpoint(ctx); err != nil {
				c.logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}
}

func (c *Controller) sourceName() string {
	if c.name != "" {
		return c.name
	}
	return "pipeline"
}

// strainSubject returns the NATS subject one detector's strain arrives on.
func strainSubject(detector string) string {
	return message.StrainMessage.Key() + "." + detector
}

// CreateController creates a stream controller following the component
// factory pattern.
func CreateController(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig ControllerConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "pipeline-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if len(userConfig.Detectors) > 0 {
			cfg.Detectors = userConfig.Detectors
		}
		if userConfig.Bank.Path != "" {
			cfg.Bank = userConfig.Bank
		}
		if userConfig.Search != (config.SearchConfig{}) {
			cfg.Search = userConfig.Search
		}
		if userConfig.Classify.Enabled {
			cfg.Classify = userConfig.Classify
		}
		if userConfig.CheckpointBucket != "" {
			cfg.CheckpointBucket = userConfig.CheckpointBucket
		}
		if userConfig.CheckpointInterval > 0 {
			cfg.CheckpointInterval = userConfig.CheckpointInterval
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"pipeline-factory", "create", "NATS client validation")
	}

	return NewController(ControllerDeps{
		Name:            "pipeline",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("pipeline"),
	}), nil
}

// Register registers the stream controller with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "pipeline",
		Factory:     CreateController,
		Schema:      controllerSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "search",
		Description: "Matched-filter stream controller: strain in, triggers and ranked events out",
		Version:     "1.0.0",
	})
}
