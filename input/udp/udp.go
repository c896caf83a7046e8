package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pkg/buffer"
	"github.com/tanghyd/spiir-search/pkg/retry"
	"github.com/tanghyd/spiir-search/strain"
)

// Metrics holds Prometheus metrics for the UDP strain input.
type Metrics struct {
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	blocksPublished   prometheus.Counter
	decodeFailures    prometheus.Counter
	unknownDetector   prometheus.Counter
	datagramsDropped  prometheus.Counter
	publishLatency    prometheus.Histogram
	socketErrors      prometheus.Counter
	lastActivity      prometheus.Gauge
}

// newMetrics creates and registers UDP input metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "datagrams_received_total",
			Help:      "Total UDP datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received over UDP",
		}),
		blocksPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "blocks_published_total",
			Help:      "Strain blocks published to the bus",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "decode_failures_total",
			Help:      "Datagrams dropped as undecodable or invalid blocks",
		}),
		unknownDetector: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "unknown_detector_total",
			Help:      "Blocks dropped for detectors outside the allow list",
		}),
		datagramsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped due to a full ingest buffer",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish blocks to NATS",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "udp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last received datagram",
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	registry.RegisterCounter(serviceName, "datagrams_received", m.datagramsReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "blocks_published", m.blocksPublished)
	registry.RegisterCounter(serviceName, "decode_failures", m.decodeFailures)
	registry.RegisterCounter(serviceName, "unknown_detector", m.unknownDetector)
	registry.RegisterCounter(serviceName, "datagrams_dropped", m.datagramsDropped)
	registry.RegisterHistogram(serviceName, "publish_latency", m.publishLatency)
	registry.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	registry.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}

// Input listens for strain datagrams and publishes decoded blocks onto
// the per-detector strain subjects.
type Input struct {
	name        string
	port        int
	bind        string
	subjectBase string
	detectors   map[string]bool // empty means accept any known-shaped block
	natsClient  *natsclient.Client
	logger      *slog.Logger

	buffer      buffer.Buffer[*strain.SampleBlock]
	retryConfig retry.Config

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	blocksReceived atomic.Int64
	bytesReceived  atomic.Int64
	errors         atomic.Int64
	lastActivity   atomic.Value // time.Time

	metrics *Metrics
}

// Ensure Input implements all required interfaces
var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// udpSchema is generated from InputConfig struct tags.
var udpSchema = component.GenerateConfigSchema(reflect.TypeOf(InputConfig{}))

// InputConfig holds configuration for the UDP strain input.
type InputConfig struct {
	Ports     *component.PortConfig `json:"ports"     schema:"type:ports,description:Port configuration,category:basic"`
	Detectors []string              `json:"detectors" schema:"type:array,description:Detectors accepted from this socket,category:basic"`
}

// Validate implements component.Validatable.
func (c *InputConfig) Validate() error {
	if c.Ports == nil {
		return nil
	}
	for _, input := range c.Ports.Inputs {
		if input.Type != "network" || input.Subject == "" {
			continue
		}
		host, port, err := parseUDPAddress(input.Subject)
		if err != nil {
			return err
		}
		if err := component.ValidateNetworkConfig(port, host); err != nil {
			return errors.Wrap(err, "InputConfig", "Validate", "network port validation")
		}
	}
	for _, output := range c.Ports.Outputs {
		if output.Type == "nats" && output.Subject == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"InputConfig", "Validate", "NATS output subject validation")
		}
	}
	return nil
}

// parseUDPAddress splits a udp://host:port subject.
func parseUDPAddress(subject string) (host string, port int, err error) {
	if len(subject) <= 6 || subject[:6] != "udp://" {
		return "", 0, errors.WrapInvalid(
			fmt.Errorf("invalid UDP address format: %s", subject),
			"InputConfig", "parseUDPAddress", "address parsing")
	}
	host, portStr, splitErr := net.SplitHostPort(subject[6:])
	if splitErr != nil {
		return "", 0, errors.WrapInvalid(
			fmt.Errorf("invalid UDP address format: %s", subject),
			"InputConfig", "parseUDPAddress", "address parsing")
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		return "", 0, errors.WrapInvalid(
			fmt.Errorf("invalid port number: %s", portStr),
			"InputConfig", "parseUDPAddress", "port parsing")
	}
	return host, port, nil
}

// defaultPort is where detector frontends send strain by convention.
const defaultPort = 7101

// DefaultConfig returns defaults for the UDP strain input.
func DefaultConfig() InputConfig {
	return InputConfig{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "udp_socket",
					Type:        "network",
					Subject:     fmt.Sprintf("udp://0.0.0.0:%d", defaultPort),
					Required:    true,
					Description: "UDP socket receiving strain block datagrams",
				},
			},
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
	}
}

// configuredEndpoints extracts the socket address and output subject base.
func (c *InputConfig) configuredEndpoints() (port int, bind, subjectBase string) {
	port = defaultPort
	bind = "0.0.0.0"
	subjectBase = message.StrainMessage.Key()

	if c.Ports == nil {
		return port, bind, subjectBase
	}
	for _, input := range c.Ports.Inputs {
		if input.Type == "network" && input.Subject != "" {
			if host, p, err := parseUDPAddress(input.Subject); err == nil {
				port, bind = p, host
			}
			break
		}
	}
	for _, output := range c.Ports.Outputs {
		if output.Type == "nats" {
			subjectBase = output.Subject
			break
		}
	}
	return port, bind, subjectBase
}

// InputDeps holds runtime dependencies for the UDP strain input.
type InputDeps struct {
	Name            string
	Config          InputConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// ingestCapacity bounds the decoded-block buffer. Strain blocks are
// seconds of data each; hundreds of buffered blocks already mean the bus
// is badly behind, so older blocks yield to newer ones.
const ingestCapacity = 512

// NewInput creates a UDP strain input.
func NewInput(deps InputDeps) *Input {
	port, bind, subjectBase := deps.Config.configuredEndpoints()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "udp-input", "port", port)
	}

	var bufferOpts []buffer.Option[*strain.SampleBlock]
	bufferOpts = append(bufferOpts, buffer.WithOverflowPolicy[*strain.SampleBlock](buffer.DropOldest))
	if deps.MetricsRegistry != nil {
		bufferOpts = append(bufferOpts, buffer.WithMetrics[*strain.SampleBlock](deps.MetricsRegistry, "udp_input"))
	}
	blockBuffer, err := buffer.NewCircularBuffer(ingestCapacity, bufferOpts...)
	if err != nil {
		logger.Error("failed to create ingest buffer", "error", err)
		return nil
	}

	detectors := make(map[string]bool, len(deps.Config.Detectors))
	for _, det := range deps.Config.Detectors {
		detectors[det] = true
	}

	u := &Input{
		name:        deps.Name,
		port:        port,
		bind:        bind,
		subjectBase: subjectBase,
		detectors:   detectors,
		natsClient:  deps.NATSClient,
		logger:      logger,
		buffer:      blockBuffer,
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, port),
	}
	u.lastActivity.Store(time.Time{})
	return u
}

// Meta returns the component metadata.
func (u *Input) Meta() component.Metadata {
	name := u.name
	if name == "" {
		name = fmt.Sprintf("udp-input-%d", u.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("UDP strain ingest on %s:%d publishing to %s.<detector>", u.bind, u.port, u.subjectBase),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component.
func (u *Input) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "udp_socket",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("UDP socket listening on %s:%d", u.bind, u.port),
			Config: component.NetworkPort{
				Protocol: "udp",
				Host:     u.bind,
				Port:     u.port,
			},
		},
	}
}

// OutputPorts returns the output ports for this component.
func (u *Input) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "strain_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Per-detector strain block subjects",
			Config: component.NATSPort{
				Subject: u.subjectBase + ".*",
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (u *Input) ConfigSchema() component.ConfigSchema {
	return udpSchema
}

// Health returns the current health status of the component.
func (u *Input) Health() component.HealthStatus {
	u.mu.RLock()
	running := u.running.Load()
	connected := u.conn != nil
	u.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(u.errors.Load()),
		Uptime:     time.Since(u.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (u *Input) DataFlow() component.FlowMetrics {
	blocks := u.blocksReceived.Load()
	bytes := u.bytesReceived.Load()
	errorCount := u.errors.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var blocksPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(u.startTime).Seconds(); uptime > 0 {
		blocksPerSecond = float64(blocks) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if blocks > 0 {
		errorRate = float64(errorCount) / float64(blocks)
	}

	return component.FlowMetrics{
		MessagesPerSecond: blocksPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration but does not bind the socket.
func (u *Input) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.port < 0 || u.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", u.port),
			"udp-input", "Initialize", "port validation")
	}
	if u.subjectBase == "" {
		return errors.WrapInvalid(fmt.Errorf("empty subject base"),
			"udp-input", "Initialize", "subject validation")
	}
	if u.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"udp-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start binds the socket and begins the read loop.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil
	}

	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})

	if err := retry.Do(ctx, u.retryConfig, u.bindSocket); err != nil {
		u.cleanupUnlocked()
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.running.Store(true)
	u.startTime = time.Now()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.done != nil {
				select {
				case <-u.done:
				default:
					close(u.done)
				}
			}
		}()
		u.readLoop(ctx)
	}()

	return nil
}

// bindSocket creates and binds the UDP socket.
func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.bind, u.port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s:%d: %w", u.bind, u.port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", u.port, err)
	}

	// A large OS buffer rides out scheduling hiccups at high sample
	// rates; some systems cap the size, which is fine.
	const socketBufferSize = 2 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		u.logger.Warn("could not set UDP buffer size",
			"buffer_size", socketBufferSize, "port", u.port, "error", err)
	}

	u.conn = conn
	return nil
}

// Stop gracefully stops the UDP listener.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	u.mu.Lock()
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
	}
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.mu.Unlock()

	select {
	case <-u.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}

	u.cleanup()
	return nil
}

func (u *Input) cleanup() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cleanupUnlocked()
}

func (u *Input) cleanupUnlocked() {
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
		u.shutdown = nil
	}
	u.done = nil
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
	if u.buffer != nil {
		_ = u.buffer.Close()
	}
}

// readLoop receives datagrams, decodes them, and drains the buffer to
// NATS.
func (u *Input) readLoop(ctx context.Context) {
	datagram := make([]byte, 65536)

	for u.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-u.shutdown:
			return
		default:
		}

		u.mu.RLock()
		if !u.running.Load() || u.conn == nil {
			u.mu.RUnlock()
			return
		}
		conn := u.conn
		u.mu.RUnlock()

		// Short read deadline so shutdown is noticed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(datagram)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-u.shutdown:
				return
			default:
				u.errors.Add(1)
				if u.metrics != nil {
					u.metrics.socketErrors.Inc()
				}
				if !errors.IsTransient(err) {
					return
				}
				continue
			}
		}

		now := time.Now()
		u.bytesReceived.Add(int64(n))
		u.lastActivity.Store(now)
		if u.metrics != nil {
			u.metrics.datagramsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}

		block, ok := u.decodeDatagram(datagram[:n])
		if !ok {
			continue
		}
		u.blocksReceived.Add(1)

		if err := u.buffer.Write(block); err != nil {
			if u.metrics != nil {
				u.metrics.datagramsDropped.Inc()
			}
			continue
		}

		u.publishBuffered(ctx)
	}
}

// decodeDatagram parses one datagram into a validated sample block.
func (u *Input) decodeDatagram(data []byte) (*strain.SampleBlock, bool) {
	var block strain.SampleBlock
	if err := json.Unmarshal(data, &block); err != nil {
		u.errors.Add(1)
		if u.metrics != nil {
			u.metrics.decodeFailures.Inc()
		}
		return nil, false
	}
	if err := block.Validate(); err != nil {
		u.errors.Add(1)
		if u.metrics != nil {
			u.metrics.decodeFailures.Inc()
		}
		u.logger.Debug("dropped invalid strain block", "error", err)
		return nil, false
	}
	if len(u.detectors) > 0 && !u.detectors[block.Detector] {
		if u.metrics != nil {
			u.metrics.unknownDetector.Inc()
		}
		u.logger.Debug("dropped block for unconfigured detector", "detector", block.Detector)
		return nil, false
	}
	return &block, true
}

// publishBatchSize bounds how many blocks one drain pass publishes so the
// socket is serviced between batches.
const publishBatchSize = 64

// publishBuffered drains buffered blocks to NATS.
func (u *Input) publishBuffered(ctx context.Context) {
	blocks := u.buffer.ReadBatch(publishBatchSize)
	for _, block := range blocks {
		if !u.running.Load() {
			break
		}
		block := block
		publishOperation := func() error {
			return u.publishBlock(ctx, block)
		}
		if err := retry.Do(ctx, u.retryConfig, publishOperation); err != nil {
			u.errors.Add(1)
			u.logger.Warn("failed to publish strain block",
				"detector", block.Detector, "start_index", block.StartIndex, "error", err)
		}
	}
}

// publishBlock wraps one block in the platform envelope and publishes it
// on the detector's strain subject.
func (u *Input) publishBlock(ctx context.Context, block *strain.SampleBlock) error {
	if u.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("NATS client not available"),
			"udp-input", "publishBlock", "NATS client check")
	}

	msg := message.NewBaseMessage(message.StrainMessage, message.NewStrainPayload(block), u.sourceName())
	data, err := msg.MarshalJSON()
	if err != nil {
		return errors.WrapInvalid(err, "udp-input", "publishBlock", "envelope encoding")
	}

	var start time.Time
	if u.metrics != nil {
		start = time.Now()
	}

	subject := u.subjectBase + "." + block.Detector
	if err := u.natsClient.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "udp-input", "publishBlock", "NATS publish")
	}

	if u.metrics != nil {
		u.metrics.publishLatency.Observe(time.Since(start).Seconds())
		u.metrics.blocksPublished.Inc()
	}
	return nil
}

func (u *Input) sourceName() string {
	if u.name != "" {
		return u.name
	}
	return "udp-input"
}

// CreateInput creates a UDP strain input following the factory pattern.
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig InputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "udp-input-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if len(userConfig.Detectors) > 0 {
			cfg.Detectors = userConfig.Detectors
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"udp-input-factory", "create", "NATS client validation")
	}

	return NewInput(InputDeps{
		Name:            "udp-input",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("udp-input"),
	}), nil
}

// Register registers the UDP strain input with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "udp",
		Factory:     CreateInput,
		Schema:      udpSchema,
		Type:        "input",
		Protocol:    "udp",
		Domain:      "strain",
		Description: "UDP strain datagram ingest publishing per-detector blocks",
		Version:     "1.0.0",
	})
}
