package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pkg/security"
	"github.com/tanghyd/spiir-search/pkg/tlsutil"
)

// Ensure Output implements all required interfaces
var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// wsfeedSchema is generated from Config struct tags.
var wsfeedSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the live feed.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
	// ReplayCount is how many recent event frames a newly connected
	// client receives.
	ReplayCount     int           `json:"replay_count"     schema:"type:int,description:Recent events replayed to new clients,category:basic"`
	IncludeTriggers bool          `json:"include_triggers" schema:"type:bool,description:Also stream per-detector trigger batches,category:advanced"`
	PingInterval    time.Duration `json:"ping_interval"    schema:"type:string,description:Interval between client keepalive pings,category:advanced"`
}

// Validate implements component.Validatable.
func (c *Config) Validate() error {
	if c.ReplayCount < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"replay_count cannot be negative")
	}
	if c.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"ping_interval cannot be negative")
	}
	if c.Ports != nil {
		for _, output := range c.Ports.Outputs {
			if output.Type == "network" && output.Subject != "" {
				if _, _, err := parseEndpoint(output.Subject); err != nil {
					return errors.WrapInvalid(err, "Config", "Validate", "feed endpoint validation")
				}
			}
		}
	}
	return nil
}

const (
	defaultPort = 8082
	defaultPath = "/feed"
)

// DefaultConfig returns defaults for the live feed.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "event_input",
					Type:        "nats",
					Subject:     message.EventMessage.Key(),
					Required:    true,
					Description: "Ranked coincident events to stream",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "feed_endpoint",
					Type:        "network",
					Subject:     fmt.Sprintf("http://0.0.0.0:%d%s", defaultPort, defaultPath),
					Required:    false,
					Description: "WebSocket feed endpoint",
				},
			},
		},
		ReplayCount:  32,
		PingInterval: 30 * time.Second,
	}
}

// parseEndpoint extracts the listen port and path from an endpoint URL.
func parseEndpoint(endpoint string) (int, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, "", err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, "", fmt.Errorf("endpoint %q has no usable port", endpoint)
	}
	path := u.Path
	if path == "" {
		path = defaultPath
	}
	return port, path, nil
}

// configuredEndpoint returns the port and path for the feed server.
func (c *Config) configuredEndpoint() (int, string) {
	if c.Ports != nil {
		for _, output := range c.Ports.Outputs {
			if output.Type == "network" && output.Subject != "" {
				if port, path, err := parseEndpoint(output.Subject); err == nil {
					return port, path
				}
			}
		}
	}
	return defaultPort, defaultPath
}

// subscribedSubjects returns the NATS subjects the feed streams.
func (c *Config) subscribedSubjects() []string {
	var subjects []string
	if c.Ports != nil {
		for _, input := range c.Ports.Inputs {
			if input.Type == "nats" && input.Subject != "" {
				subjects = append(subjects, input.Subject)
			}
		}
	}
	if len(subjects) == 0 {
		subjects = []string{message.EventMessage.Key()}
	}
	if c.IncludeTriggers {
		subjects = append(subjects, message.TriggerMessage.Key()+".*")
	}
	return subjects
}

// Metrics holds Prometheus metrics for the feed.
type Metrics struct {
	framesSent       *prometheus.CounterVec
	bytesSent        prometheus.Counter
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	sendFailures     prometheus.Counter
	replayedFrames   prometheus.Counter
}

// newMetrics creates and registers feed metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "frames_sent_total",
			Help:      "Feed frames sent to clients by kind",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent to feed clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "clients_connected",
			Help:      "Currently connected feed clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "connections_total",
			Help:      "Total feed client connections",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "send_failures_total",
			Help:      "Frames dropped because a client write failed",
		}),
		replayedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "wsfeed",
			Name:      "replayed_frames_total",
			Help:      "Recent-event frames replayed to new clients",
		}),
	}

	serviceName := fmt.Sprintf("wsfeed_%d", port)
	registry.RegisterCounterVec(serviceName, "frames_sent", m.framesSent)
	registry.RegisterCounter(serviceName, "bytes_sent", m.bytesSent)
	registry.RegisterGauge(serviceName, "clients_connected", m.clientsConnected)
	registry.RegisterCounter(serviceName, "connections_total", m.connectionsTotal)
	registry.RegisterCounter(serviceName, "send_failures", m.sendFailures)
	registry.RegisterCounter(serviceName, "replayed_frames", m.replayedFrames)

	return m
}

// frame is one message on the feed wire.
type frame struct {
	Kind       string          `json:"kind"` // "event" or "trigger"
	Subject    string          `json:"subject"`
	ReceivedAt int64           `json:"received_at"` // Unix milliseconds
	Payload    json.RawMessage `json:"payload"`
}

// client is one connected dashboard.
type client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closed   atomic.Bool
	joinedAt time.Time
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// OutputDeps holds runtime dependencies for the feed.
type OutputDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Security        security.Config
}

// Output serves the live event feed.
type Output struct {
	name       string
	cfg        Config
	port       int
	path       string
	subjects   []string
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics
	security   security.Config

	server   *http.Server
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	// recent is a ring of the latest event frames, replayed on connect.
	recentMu sync.Mutex
	recent   [][]byte

	shutdown   chan struct{}
	running    atomic.Bool
	startTime  time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	tlsCleanup func()

	framesSent   atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

// NewOutput creates a live feed server.
func NewOutput(deps OutputDeps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "wsfeed-output")
	}
	port, path := deps.Config.configuredEndpoint()

	o := &Output{
		name:       deps.Name,
		cfg:        deps.Config,
		port:       port,
		path:       path,
		subjects:   deps.Config.subscribedSubjects(),
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, port),
		security:   deps.Security,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients:   make(map[*websocket.Conn]*client),
		startTime: time.Now(),
	}
	o.lastActivity.Store(time.Time{})
	return o
}

// Meta returns the component metadata.
func (o *Output) Meta() component.Metadata {
	name := o.name
	if name == "" {
		name = fmt.Sprintf("wsfeed-output-%d", o.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("Live event feed on :%d%s", o.port, o.path),
		Version:     "1.0.0",
	}
}

// InputPorts returns the streamed subjects.
func (o *Output) InputPorts() []component.Port {
	ports := make([]component.Port, len(o.subjects))
	for i, subject := range o.subjects {
		ports[i] = component.Port{
			Name:        fmt.Sprintf("input_%d", i),
			Direction:   component.DirectionInput,
			Required:    i == 0,
			Description: fmt.Sprintf("Streamed subject %s", subject),
			Config:      component.NATSPort{Subject: subject},
		}
	}
	return ports
}

// OutputPorts returns the feed endpoint.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "feed_endpoint",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: fmt.Sprintf("WebSocket feed at ws://localhost:%d%s", o.port, o.path),
			Config:      component.NetworkPort{Protocol: "websocket", Host: "0.0.0.0", Port: o.port},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return wsfeedSchema
}

// Health reports healthy while the server is listening.
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
	frames := o.framesSent.Load()
	bytes := o.bytesSent.Load()
	errs := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var framesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		framesPerSecond = float64(frames) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if frames > 0 {
		errorRate = float64(errs) / float64(frames)
	}

	return component.FlowMetrics{
		MessagesPerSecond: framesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the endpoint and dependencies.
func (o *Output) Initialize() error {
	if o.port < 1024 || o.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "wsfeed-output", "Initialize",
			fmt.Sprintf("port %d out of range 1024-65535", o.port))
	}
	if o.path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "wsfeed-output", "Initialize",
			"feed path cannot be empty")
	}
	if o.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"wsfeed-output", "Initialize", "NATS client validation")
	}
	return nil
}

// Start subscribes to the streamed subjects and starts the feed server.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return nil
	}

	o.shutdown = make(chan struct{})

	if err := o.setupServer(); err != nil {
		return err
	}

	for _, subject := range o.subjects {
		subject := subject
		err := o.natsClient.Subscribe(ctx, subject, func(msgCtx context.Context, data []byte) {
			o.handleMessage(msgCtx, subject, data)
		})
		if err != nil {
			return errors.WrapTransient(err, "wsfeed-output", "Start",
				fmt.Sprintf("subscribe to %s", subject))
		}
	}

	o.running.Store(true)
	o.startTime = time.Now()

	o.wg.Add(2)
	go o.runServer()
	go o.pingLoop(ctx)

	o.logger.Info("feed started",
		"port", o.port,
		"path", o.path,
		"subjects", o.subjects)
	return nil
}

// setupServer builds the HTTP server with platform TLS if enabled.
func (o *Output) setupServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(o.path, o.handleUpgrade)
	o.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", o.port),
		Handler: mux,
	}

	if !o.security.TLS.Server.Enabled {
		return nil
	}

	if o.security.TLS.Server.Mode == "acme" && o.security.TLS.Server.ACME.Enabled {
		tlsConfig, cleanup, err := tlsutil.LoadServerTLSConfigWithACME(
			context.Background(), o.security.TLS.Server)
		if err != nil {
			return errors.WrapFatal(err, "wsfeed-output", "setupServer", "ACME TLS setup")
		}
		o.server.TLSConfig = tlsConfig
		o.tlsCleanup = cleanup
		return nil
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfigWithMTLS(
		o.security.TLS.Server, o.security.TLS.Server.MTLS)
	if err != nil {
		return errors.WrapFatal(err, "wsfeed-output", "setupServer", "TLS setup")
	}
	o.server.TLSConfig = tlsConfig
	return nil
}

// runServer blocks in ListenAndServe until shutdown.
func (o *Output) runServer() {
	defer o.wg.Done()

	var err error
	if o.security.TLS.Server.Enabled {
		err = o.server.ListenAndServeTLS("", "")
	} else {
		err = o.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		o.errorCount.Add(1)
		o.logger.Error("feed server failed", "error", err)
	}
}

// Stop shuts the server down and disconnects every client.
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
	server := o.server
	o.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("feed server shutdown error", "error", err)
		}
	}

	waitCh := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"wsfeed-output", "Stop", "graceful shutdown")
	}

	if o.tlsCleanup != nil {
		o.tlsCleanup()
		o.tlsCleanup = nil
	}

	o.closeAllClients()
	return nil
}

// handleMessage wraps one envelope in a feed frame and broadcasts it.
func (o *Output) handleMessage(ctx context.Context, subject string, data []byte) {
	select {
	case <-ctx.Done():
		return
	case <-o.shutdown:
		return
	default:
	}
	if !o.running.Load() {
		return
	}

	kind, err := envelopeKind(data)
	if err != nil {
		o.errorCount.Add(1)
		o.logger.Warn("dropping malformed feed message", "subject", subject, "error", err)
		return
	}

	frameData, err := json.Marshal(frame{
		Kind:       kind,
		Subject:    subject,
		ReceivedAt: time.Now().UnixMilli(),
		Payload:    json.RawMessage(data),
	})
	if err != nil {
		o.errorCount.Add(1)
		return
	}

	o.lastActivity.Store(time.Now())
	if kind == "event" {
		o.remember(frameData)
	}
	o.broadcast(kind, frameData)
}

// envelopeKind reads the message category from an envelope.
func envelopeKind(data []byte) (string, error) {
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

// remember appends an event frame to the replay ring.
func (o *Output) remember(frameData []byte) {
	if o.cfg.ReplayCount <= 0 {
		return
	}
	o.recentMu.Lock()
	o.recent = append(o.recent, frameData)
	if len(o.recent) > o.cfg.ReplayCount {
		o.recent = o.recent[len(o.recent)-o.cfg.ReplayCount:]
	}
	o.recentMu.Unlock()
}

// replaySnapshot copies the replay ring.
func (o *Output) replaySnapshot() [][]byte {
	o.recentMu.Lock()
	defer o.recentMu.Unlock()
	out := make([][]byte, len(o.recent))
	copy(out, o.recent)
	return out
}

// broadcast sends one frame to every connected client. Writes happen
// concurrently; a failed client is dropped rather than retried.
func (o *Output) broadcast(kind string, frameData []byte) {
	o.clientsMu.RLock()
	targets := make([]*client, 0, len(o.clients))
	for _, c := range o.clients {
		if !c.closed.Load() {
			targets = append(targets, c)
		}
	}
	o.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.send(frameData); err != nil {
				o.dropClient(c)
				o.errorCount.Add(1)
				if o.metrics != nil {
					o.metrics.sendFailures.Inc()
				}
				return
			}
			o.framesSent.Add(1)
			o.bytesSent.Add(int64(len(frameData)))
			if o.metrics != nil {
				o.metrics.framesSent.WithLabelValues(kind).Inc()
				o.metrics.bytesSent.Add(float64(len(frameData)))
			}
		}(c)
	}
	wg.Wait()
}

// handleUpgrade promotes one HTTP request to a feed connection.
func (o *Output) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.errorCount.Add(1)
		return
	}

	c := &client{conn: conn, joinedAt: time.Now()}
	o.clientsMu.Lock()
	o.clients[conn] = c
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.connectionsTotal.Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Info("feed client connected", "remote", r.RemoteAddr, "clients", count)

	// Catch the new client up before it sees live frames.
	for _, frameData := range o.replaySnapshot() {
		if err := c.send(frameData); err != nil {
			o.dropClient(c)
			return
		}
		if o.metrics != nil {
			o.metrics.replayedFrames.Inc()
		}
	}

	o.wg.Add(1)
	go o.readLoop(c)
}

// readLoop discards client frames and notices disconnects.
func (o *Output) readLoop(c *client) {
	defer o.wg.Done()
	defer o.dropClient(c)

	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		select {
		case <-o.shutdown:
			return
		default:
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps client connections verified.
func (o *Output) pingLoop(ctx context.Context) {
	defer o.wg.Done()

	interval := o.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.shutdown:
			return
		case <-ticker.C:
			o.clientsMu.RLock()
			targets := make([]*client, 0, len(o.clients))
			for _, c := range o.clients {
				if !c.closed.Load() {
					targets = append(targets, c)
				}
			}
			o.clientsMu.RUnlock()

			for _, c := range targets {
				c.writeMu.Lock()
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					o.dropClient(c)
				}
			}
		}
	}
}

// dropClient removes and closes one client.
func (o *Output) dropClient(c *client) {
	if c.closed.Swap(true) {
		return
	}
	o.clientsMu.Lock()
	delete(o.clients, c.conn)
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.clientsConnected.Set(float64(count))
	}
	_ = c.conn.Close()
}

// closeAllClients disconnects every client.
func (o *Output) closeAllClients() {
	o.clientsMu.Lock()
	conns := make([]*client, 0, len(o.clients))
	for _, c := range o.clients {
		conns = append(conns, c)
	}
	o.clients = make(map[*websocket.Conn]*client)
	o.clientsMu.Unlock()

	for _, c := range conns {
		c.closed.Store(true)
		_ = c.conn.Close()
	}
}

// CreateOutput creates a live feed following the factory pattern.
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig Config
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "wsfeed-output-factory", "create", "secure config parsing")
		}
		if userConfig.Ports != nil {
			cfg.Ports = userConfig.Ports
		}
		if userConfig.ReplayCount > 0 {
			cfg.ReplayCount = userConfig.ReplayCount
		}
		cfg.IncludeTriggers = userConfig.IncludeTriggers
		if userConfig.PingInterval > 0 {
			cfg.PingInterval = userConfig.PingInterval
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required"),
			"wsfeed-output-factory", "create", "NATS client validation")
	}

	return NewOutput(OutputDeps{
		Name:            "wsfeed-output",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("wsfeed-output"),
		Security:        deps.Security,
	}), nil
}

// Register registers the live feed with the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "wsfeed",
		Factory:     CreateOutput,
		Schema:      wsfeedSchema,
		Type:        "output",
		Protocol:    "websocket",
		Domain:      "search",
		Description: "Live WebSocket feed of ranked events for monitoring dashboards",
		Version:     "1.0.0",
	})
}
