// Package metric provides Prometheus-based metrics collection and HTTP server
// for search platform monitoring and observability.
//
// The package offers a centralized metrics registry managing both core platform
// metrics (service status, message processing, search progress, NATS health)
// and custom component-specific metrics. It includes an HTTP server exposing
// metrics in Prometheus format for monitoring system integration.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with health checks (Server type)
//
// This architecture separates infrastructure concerns (core metrics) from
// application concerns (component-specific metrics) while providing a unified
// metrics endpoint for monitoring systems.
//
// # Basic Usage
//
// Setting up metrics collection and HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	securityCfg := security.Config{} // Platform security config
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//
//	go func() {
//	    if err := server.Start(); err != nil && err != http.ErrServerClosed {
//	        log.Printf("Metrics server error: %v", err)
//	    }
//	}()
//
//	// Record core platform metrics
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordServiceStatus("spiir-filter", 2)
//	coreMetrics.RecordSamplesProcessed("H1", 4096)
//	coreMetrics.RecordNATSStatus(true)
//
// The metrics server will expose Prometheus-formatted metrics at http://localhost:9090/metrics
// and a health check at http://localhost:9090/health.
//
// # Core Metrics
//
// The package automatically registers core platform metrics tracking:
//
//   - Service lifecycle: service_status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)
//   - Message flow: messages_received_total, messages_processed_total, messages_published_total
//   - Processing performance: processing_duration_seconds
//   - Search progress: samples_processed_total, triggers_extracted_total, events_emitted_total
//   - Pipeline condition: watermark_lag_seconds, blocked_ingest_seconds_total,
//     failures_total, gap_resets_total
//   - NATS connectivity: nats_connected, nats_rtt_milliseconds, nats_reconnects_total
//   - Error tracking: errors_total
//
// Access core metrics through the registry:
//
//	coreMetrics := registry.CoreMetrics()
//
//	// Service lifecycle tracking
//	coreMetrics.RecordServiceStatus("coincidence", 2) // 2 = running
//
//	// Message flow metrics
//	coreMetrics.RecordMessageReceived("coincidence", "trigger")
//	coreMetrics.RecordMessageProcessed("coincidence", "trigger", "success")
//	coreMetrics.RecordProcessingDuration("coincidence", "admit", 150*time.Microsecond)
//
//	// Search progress
//	coreMetrics.RecordSamplesProcessed("H1", 4096)
//	coreMetrics.RecordTriggersExtracted("H1", 3)
//	coreMetrics.RecordEventEmitted("coincident")
//
//	// Pipeline condition
//	coreMetrics.RecordWatermarkLag("L1", 2*time.Second)
//	coreMetrics.RecordBlockedIngest("L1", 40*time.Millisecond)
//	coreMetrics.RecordGapReset("L1")
//
//	// Error tracking
//	coreMetrics.RecordError("coincidence", "validation")
//
// # Component-Specific Metrics
//
// Components can register custom metrics through the registry:
//
//	// Register a counter
//	reloadCounter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "bank_reloads_total",
//	    Help: "Total number of template bank reloads",
//	})
//	err := registry.RegisterCounter("spiir-filter", "bank_reloads_total", reloadCounter)
//
//	// Register a gauge
//	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "active_connections",
//	    Help: "Number of active feed clients",
//	})
//	err = registry.RegisterGauge("wsfeed", "active_connections", activeConnections)
//
//	// Register a histogram
//	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
//	    Name:    "query_duration_seconds",
//	    Help:    "Time spent executing event store queries",
//	    Buckets: prometheus.DefBuckets,
//	})
//	err = registry.RegisterHistogram("eventstore", "query_duration_seconds", queryDuration)
//
// # Vector Metrics with Labels
//
// Register metrics with labels for multi-dimensional data:
//
//	// Counter with labels
//	datagramsVec := prometheus.NewCounterVec(
//	    prometheus.CounterOpts{
//	        Name: "datagrams_total",
//	        Help: "Total UDP datagrams by detector and outcome",
//	    },
//	    []string{"detector", "outcome"},
//	)
//	err := registry.RegisterCounterVec("udp-input", "datagrams_total", datagramsVec)
//
//	// Use the metric with specific label values
//	datagramsVec.WithLabelValues("H1", "ok").Inc()
//	datagramsVec.WithLabelValues("L1", "malformed").Inc()
//
//	// Histogram with labels
//	filterLatencyVec := prometheus.NewHistogramVec(
//	    prometheus.HistogramOpts{
//	        Name:    "filter_block_seconds",
//	        Help:    "Per-block filtering time by detector",
//	        Buckets: []float64{.0001, .001, .01, .1, 1},
//	    },
//	    []string{"detector"},
//	)
//	err = registry.RegisterHistogramVec("spiir-filter", "filter_block_seconds", filterLatencyVec)
//
// # HTTP Server
//
// The metrics server provides three endpoints:
//
//   - GET / - HTML page with links to metrics and health endpoints
//   - GET /metrics - Prometheus-formatted metrics (default path, configurable)
//   - GET /health - plain health check response
//
// Server configuration:
//
//	// Default configuration (port 9090, path /metrics)
//	securityCfg := security.Config{} // Platform security config
//	server := metric.NewServer(0, "", registry, securityCfg)
//
//	// Custom configuration
//	server := metric.NewServer(8080, "/prometheus", registry, securityCfg)
//
//	// Start server (blocking)
//	if err := server.Start(); err != nil {
//	    log.Fatalf("Failed to start metrics server: %v", err)
//	}
//
//	// Stop server (in another goroutine)
//	if err := server.Stop(); err != nil {
//	    log.Printf("Error stopping server: %v", err)
//	}
//
// When the platform security config enables server TLS the endpoint serves
// HTTPS using certificates resolved through pkg/tlsutil (static files or
// ACME).
//
// # Prometheus Integration
//
// The package uses the official Prometheus Go client library and exposes
// metrics in OpenMetrics format. Configure Prometheus to scrape the endpoint:
//
//	# prometheus.yml
//	scrape_configs:
//	  - job_name: 'spiir-search'
//	    static_configs:
//	      - targets: ['localhost:9090']
//	    metrics_path: '/metrics'
//	    scrape_interval: 15s
//
// All core metrics use the namespace "spiir" and appropriate subsystems:
//   - spiir_service_status{service="..."}
//   - spiir_search_samples_processed_total{detector="..."}
//   - spiir_pipeline_watermark_lag_seconds{detector="..."}
//   - spiir_nats_connected
//
// Component-specific metrics use the metric name as provided during
// registration.
//
// # MetricsRegistrar Interface
//
// Components accept the MetricsRegistrar interface for dependency injection:
//
//	type FilterBank struct {
//	    metrics metric.MetricsRegistrar
//	}
//
//	func NewFilterBank(metrics metric.MetricsRegistrar) *FilterBank {
//	    counter := prometheus.NewCounter(prometheus.CounterOpts{
//	        Name: "bank_reloads_total",
//	        Help: "Total template bank reloads",
//	    })
//	    metrics.RegisterCounter("spiir-filter", "bank_reloads_total", counter)
//
//	    return &FilterBank{metrics: metrics}
//	}
//
// This enables testing with mock registrars and provides loose coupling.
//
// # Thread Safety
//
// All registry operations are thread-safe:
//   - Registration methods use mutex protection
//   - Metric recording is lock-free (Prometheus guarantee)
//   - CoreMetrics() returns a thread-safe shared instance
//   - PrometheusRegistry() is safe for concurrent access
//
// Example concurrent usage:
//
//	registry := metric.NewMetricsRegistry()
//	coreMetrics := registry.CoreMetrics()
//
//	// Safe to call from multiple goroutines
//	go coreMetrics.RecordSamplesProcessed("H1", 4096)
//	go coreMetrics.RecordSamplesProcessed("L1", 4096)
//	go coreMetrics.RecordSamplesProcessed("V1", 4096)
//
// # Error Handling
//
// Registration methods return errors for:
//
//   - Duplicate registration: attempting to register same metric name twice
//   - Prometheus conflicts: internal Prometheus registration failures
//
// Example error handling:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test"})
//	err := registry.RegisterCounter("service", "test", counter)
//	if err != nil {
//	    // Check for duplicate registration
//	    if strings.Contains(err.Error(), "already registered") {
//	        log.Printf("Metric already registered, skipping")
//	    } else {
//	        log.Fatalf("Failed to register metric: %v", err)
//	    }
//	}
//
// The Server.Start() method returns errors for:
//
//   - Server already running
//   - Nil registry
//   - HTTP server failures (port in use, permission denied)
//
// # Architecture Integration
//
// The metric package integrates with the other platform packages:
//
//   - engine: records component lifecycle and supervision metrics
//   - component: components track message flow metrics
//   - natsclient: NATS client records connectivity metrics
//   - health: health status can be mirrored as metrics
//
// Data flow:
//
//	Component → Core Metrics → Prometheus Registry → HTTP Server → Prometheus
//
// # Design Decisions
//
// Centralized Registry: Chose centralized registry over distributed collectors
// to ensure consistent metric namespace, prevent duplication, and enable
// runtime metric discovery.
//
// Core vs Component Metrics: Separated platform-level metrics (core) from
// component-specific metrics to distinguish infrastructure health from
// application health. The search progress series live in core because every
// deployment needs them and dashboards should not depend on which components
// are enabled.
//
// Prometheus Direct Integration: Used official Prometheus client rather than
// abstraction to leverage native features, avoid wrapper overhead, and ensure
// compatibility with Prometheus ecosystem.
//
// No Context in Server.Start(): Current design uses blocking Start() without
// context. Future enhancement could add context-aware lifecycle management.
package metric
