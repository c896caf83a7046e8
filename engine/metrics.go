package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/metric"
)

// engineMetrics holds Prometheus metrics for engine lifecycle operations.
type engineMetrics struct {
	registry *metric.MetricsRegistry

	builds *prometheus.CounterVec // by status (success/failure)
	starts *prometheus.CounterVec
	stops  *prometheus.CounterVec

	buildDuration prometheus.Histogram
	startDuration prometheus.Histogram
	stopDuration  prometheus.Histogram

	wiringIssues *prometheus.CounterVec // by severity (error/warning)

	componentsRunning prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided
// registry. A nil registry disables metrics.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		registry: registry,

		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "builds_total",
			Help:      "Total number of engine build operations",
		}, []string{"status"}),

		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Total number of engine start operations",
		}, []string{"status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Total number of engine stop operations",
		}, []string{"status"}),

		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Engine build duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),

		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Engine start duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),

		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "stop_duration_seconds",
			Help:      "Engine stop duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0},
		}),

		wiringIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "wiring_issues_total",
			Help:      "Total number of wiring validation issues found",
		}, []string{"severity"}),

		componentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "engine",
			Name:      "components_running",
			Help:      "Current number of started components",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "builds", m.builds); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "build_duration", m.buildDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "start_duration", m.startDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "wiring_issues", m.wiringIssues); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "components_running", m.componentsRunning); err != nil {
		return nil, err
	}

	return m, nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *engineMetrics) recordBuild(success bool, duration float64) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(statusLabel(success)).Inc()
	m.buildDuration.Observe(duration)
}

func (m *engineMetrics) recordStart(success bool, duration float64) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(statusLabel(success)).Inc()
	m.startDuration.Observe(duration)
}

func (m *engineMetrics) recordStop(success bool, duration float64) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(statusLabel(success)).Inc()
	m.stopDuration.Observe(duration)
}

func (m *engineMetrics) recordWiringIssues(errors, warnings int) {
	if m == nil {
		return
	}
	m.wiringIssues.WithLabelValues("error").Add(float64(errors))
	m.wiringIssues.WithLabelValues("warning").Add(float64(warnings))
}

func (m *engineMetrics) setComponentsRunning(count float64) {
	if m != nil {
		m.componentsRunning.Set(count)
	}
}
