package gracedb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pkg/retry"
	"github.com/tanghyd/spiir-search/pkg/security"
	"github.com/tanghyd/spiir-search/pkg/timestamp"
	"github.com/tanghyd/spiir-search/pkg/tlsutil"
)

// Ensure Output implements all required interfaces
var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// gracedbSchema is generated from Config struct tags.
var gracedbSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the event database submitter.
type Config struct {
	Ports *component.PortConfig `json:"ports"  schema:"type:ports,description:Port configuration,category:basic"`
	URL   string                `json:"url"    schema:"type:string,description:Event database endpoint URL,category:basic"`
	// Group and Search identify the analysis in the database taxonomy.
	Group    string `json:"group"     schema:"type:string,description:Analysis group label,category:basic"`
	Search   string `json:"search"    schema:"type:string,description:Search label,category:basic"`
	Pipeline string `json:"pipeline"  schema:"type:string,description:Pipeline label attached to submissions,category:basic"`
	APIToken string `json:"api_token" schema:"type:string,description:Bearer token for authentication,category:advanced"`
	// MinRankingStat gates submission. Events ranked below it are
	// counted but never sent.
	MinRankingStat float64       `json:"min_ranking_stat" schema:"type:float,description:Minimum ranking statistic to submit,category:basic"`
	Timeout        time.Duration `json:"timeout"          schema:"type:string,description:Per-request timeout,category:advanced"`
	RetryAttempts  int           `json:"retry_attempts"   schema:"type:int,description:Submission retry attempts,category:advanced"`
}

// Validate implements component.Validatable.
func (c *Config) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "URL parse")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
		}
	}
	if c.MinRankingStat < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"min_ranking_stat cannot be negative")
	}
	if c.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout cannot be negative")
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_attempts must be between 0 and 10")
	}
	return nil
}

// DefaultConfig returns defaults for the submitter.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "event_input",
					Type:        "nats",
					Subject:     message.EventMessage.Key(),
					Required:    true,
					Description: "Ranked coincident events to submit",
				},
			},
		},
		URL:            "https://gracedb.ligo.org/api/events/",
		Group:          "CBC",
		Search:         "AllSky",
		Pipeline:       "spiir",
		MinRankingStat: 8,
		Timeout:        30 * time.Second,
		RetryAttempts:  3,
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

// Metrics holds Prometheus metrics for the submitter.
type Metrics struct {
	eventsSubmitted prometheus.Counter
	eventsBelowMin  prometheus.Counter
	eventsRejected  prometheus.Counter
	submitFailures  prometheus.Counter
	submitLatency   prometheus.Histogram
}

// newMetrics creates and registers submitter metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "gracedb",
			Name:      "events_submitted_total",
			Help:      "Events accepted by the event database",
		}),
		eventsBelowMin: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "gracedb",
			Name:      "events_below_threshold_total",
			Help:      "Events skipped for ranking below the submission threshold",
		}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "gracedb",
			Name:      "events_rejected_total",
			Help:      "Events the database rejected with a 4xx status",
		}),
		submitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "gracedb",
			Name:      "submit_failures_total",
			Help:      "Events that failed to submit after all retries",
		}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "gracedb",
			Name:      "submit_duration_seconds",
			Help:      "Time to submit one event including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	registry.RegisterCounter("gracedb", "events_submitted", m.eventsSubmitted)
	registry.RegisterCounter("gracedb", "events_below_threshold", m.eventsBelowMin)
	registry.RegisterCounter("gracedb", "events_rejected", m.eventsRejected)
	registry.RegisterCounter("gracedb", "submit_failures", m.submitFailures)
	registry.RegisterHistogram("gracedb", "submit_latency", m.submitLatency)

	return m
}

// submission is the wire record posted to the database.
type submission struct {
	Group    string             `json:"group"`
	Pipeline string             `json:"pipeline"`
	Search   string             `json:"search"`
	EventUTC string             `json:"event_utc,omitempty"`
	Event    *coincidence.Event `json:"event"`
}

// OutputDeps holds runtime dependencies for the submitter.
type OutputDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Security        security.Config
}

// Output submits ranked events to the event database.
type Output struct {
	name       string
	cfg        Config
	subject    string
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	httpClient  *http.Client
	retryConfig retry.Config
	tlsCleanup  func()
	securityCfg security.Config

	shutdown  chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	eventsSubmitted atomic.Int64
	errorCount      atomic.Int64
	lastActivity    atomic.Value // time.Time
}

// NewOutput creates an event database submitter.
func NewOutput(deps OutputDeps) (*Output, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gracedb-output")
	}

	timeout := deps.Config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	tlsConfig, tlsCleanup, err := clientTLS(deps.Security)
	if err != nil {
		return nil, errors.WrapFatal(err, "gracedb-output", "NewOutput", "client TLS setup")
	}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	o := &Output{
		name:       deps.Name,
		cfg:        deps.Config,
		subject:    deps.Config.inputSubject(),
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		httpClient: httpClient,
		retryConfig: retry.Config{
			MaxAttempts:  deps.Config.RetryAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		tlsCleanup:  tlsCleanup,
		securityCfg: deps.Security,
		startTime:   time.Now(),
	}
	o.lastActivity.Store(time.Time{})
	return o, nil
}

// clientTLS builds the client TLS configuration from the platform
// security settings. Returns nil when no client TLS is configured.
func clientTLS(sec security.Config) (*tls.Config, func(), error) {
	client := sec.TLS.Client
	switch {
	case client.Mode == "acme" && client.ACME.Enabled:
		return tlsutil.LoadClientTLSConfigWithACME(context.Background(), client)
	case len(client.CAFiles) > 0 || client.InsecureSkipVerify ||
		client.MinVersion != "" || client.MTLS.Enabled:
		cfg, err := tlsutil.LoadClientTLSConfigWithMTLS(client, client.MTLS)
		return cfg, nil, err
	default:
		return nil, nil, nil
	}
}

// Meta returns the component metadata.
func (o *Output) Meta() component.Metadata {
	name := o.name
	if name == "" {
		name = "gracedb-output"
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("Event database submitter for %s", o.cfg.URL),
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

// OutputPorts returns the database endpoint port.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "database",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: fmt.Sprintf("Event database at %s", o.cfg.URL),
			Config:      component.NetworkPort{Protocol: "tcp", Host: o.cfg.URL},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return gracedbSchema
}

// Health reports healthy while subscribed.
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
	submitted := o.eventsSubmitted.Load()
	errs := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		perSecond = float64(submitted) / uptime
	}
	if total := submitted + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize checks the endpoint and dependencies.
func (o *Output) Initialize() error {
	if o.cfg.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"gracedb-output", "Initialize", "endpoint URL validation")
	}
	if o.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"gracedb-output", "Initialize", "NATS client validation")
	}
	return nil
}

// Start subscribes to the ranked event subject.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return nil
	}

	o.shutdown = make(chan struct{})
	if err := o.natsClient.Subscribe(ctx, o.subject, o.handleEvent); err != nil {
		return errors.WrapTransient(err, "gracedb-output", "Start",
			fmt.Sprintf("subscribe to %s", o.subject))
	}

	o.running.Store(true)
	o.startTime = time.Now()
	o.logger.Info("event submitter started",
		"endpoint", o.cfg.URL,
		"min_ranking_stat", o.cfg.MinRankingStat)
	return nil
}

// Stop halts submission and stops any ACME renewal loop.
func (o *Output) Stop(time.Duration) error {
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

	if o.tlsCleanup != nil {
		o.tlsCleanup()
	}
	return nil
}

// handleEvent decodes one ranked event envelope and submits it.
func (o *Output) handleEvent(ctx context.Context, data []byte) {
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

	ev := payload.Event
	if ev.RankingStat < o.cfg.MinRankingStat {
		if o.metrics != nil {
			o.metrics.eventsBelowMin.Inc()
		}
		o.logger.Debug("event below submission threshold",
			"event_id", ev.ID, "ranking_stat", ev.RankingStat)
		return
	}

	if err := o.submit(ctx, ev); err != nil {
		o.errorCount.Add(1)
		if o.metrics != nil {
			if retry.IsNonRetryable(err) {
				o.metrics.eventsRejected.Inc()
			} else {
				o.metrics.submitFailures.Inc()
			}
		}
		o.logger.Error("event submission failed",
			"event_id", ev.ID, "ranking_stat", ev.RankingStat, "error", err)
		return
	}

	o.eventsSubmitted.Add(1)
	if o.metrics != nil {
		o.metrics.eventsSubmitted.Inc()
	}
	o.logger.Info("event submitted",
		"event_id", ev.ID,
		"detectors", ev.Detectors(),
		"utc", timestamp.FormatGPS(ev.TimeMin),
		"ranking_stat", ev.RankingStat)
}

// submit posts one event with retries. A 4xx response aborts the retry
// loop: resending the same record will not change the answer.
func (o *Output) submit(ctx context.Context, ev *coincidence.Event) error {
	body, err := json.Marshal(submission{
		Group:    o.cfg.Group,
		Pipeline: o.cfg.Pipeline,
		Search:   o.cfg.Search,
		EventUTC: timestamp.FormatGPS(ev.TimeMin),
		Event:    ev,
	})
	if err != nil {
		return retry.NonRetryable(err)
	}

	var start time.Time
	if o.metrics != nil {
		start = time.Now()
		defer func() { o.metrics.submitLatency.Observe(time.Since(start).Seconds()) }()
	}

	return retry.Do(ctx, o.retryConfig, func() error {
		return o.post(ctx, body)
	})
}

// post performs one POST attempt.
func (o *Output) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIToken)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(fmt.Errorf("database rejected event: %s", resp.Status))
	default:
		return fmt.Errorf("submission failed: %s", resp.Status)
	}
}

// CreateOutput creates a submitter following the factory pattern.
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig Config
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "gracedb-output-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.URL != "" {
			cfg.URL = userConfig.URL
		}
		if userConfig.Group != "" {
			cfg.Group = userConfig.Group
		}
		if userConfig.Search != "" {
			cfg.Search = userConfig.Search
		}
		if userConfig.Pipeline != "" {
			cfg.Pipeline = userConfig.Pipeline
		}
		if userConfig.APIToken != "" {
			cfg.APIToken = userConfig.APIToken
		}
		if userConfig.MinRankingStat > 0 {
			cfg.MinRankingStat = userConfig.MinRankingStat
		}
		if userConfig.Timeout > 0 {
			cfg.Timeout = userConfig.Timeout
		}
		if userConfig.RetryAttempts > 0 {
			cfg.RetryAttempts = userConfig.RetryAttempts
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"gracedb-output-factory", "create", "NATS client validation")
	}

	return NewOutput(OutputDeps{
		Name:            "gracedb-output",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("gracedb-output"),
		Security:        deps.Security,
	})
}

// Register registers the submitter with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "gracedb",
		Factory:     CreateOutput,
		Schema:      gracedbSchema,
		Type:        "output",
		Protocol:    "http",
		Domain:      "search",
		Description: "Ranked event submission to a GraceDB-style event database",
		Version:     "1.0.0",
	})
}
