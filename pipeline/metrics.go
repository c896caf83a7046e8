package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanghyd/spiir-search/metric"
)

// Metrics holds Prometheus metrics for the stream controller.
type Metrics struct {
	blocksIngested    *prometheus.CounterVec
	samplesFiltered   *prometheus.CounterVec
	zeroFilledSamples *prometheus.CounterVec
	sequenceRejects   *prometheus.CounterVec
	gapResets         *prometheus.CounterVec
	triggersExtracted *prometheus.CounterVec
	blockedIngest     *prometheus.CounterVec
	ingestBlockedTime *prometheus.CounterVec
	detectorWatermark *prometheus.GaugeVec
	eventsEmitted     prometheus.Counter
	singlesEmitted    prometheus.Counter
	openGroups        prometheus.Gauge
	blockLatency      prometheus.Histogram
	checkpointsSaved  prometheus.Counter
}

// newMetrics creates and registers stream controller metrics. A nil
// registry disables metrics entirely.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		blocksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "blocks_ingested_total",
			Help:      "Strain blocks accepted into a detector queue",
		}, []string{"detector"}),
		samplesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "samples_filtered_total",
			Help:      "Strain samples fed through the filter engine",
		}, []string{"detector"}),
		zeroFilledSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "zero_filled_samples_total",
			Help:      "Synthetic zero samples inserted for tolerable gaps",
		}, []string{"detector"}),
		sequenceRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "sequence_rejects_total",
			Help:      "Blocks rejected as out of order or overlapping",
		}, []string{"detector"}),
		gapResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "gap_resets_total",
			Help:      "Filter state resets forced by gaps beyond tolerance",
		}, []string{"detector"}),
		triggersExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "triggers_extracted_total",
			Help:      "Triggers finalized by the extraction stage",
		}, []string{"detector"}),
		blockedIngest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "blocked_ingest_total",
			Help:      "Ingest writes that stalled on a full detector queue",
		}, []string{"detector"}),
		ingestBlockedTime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "ingest_blocked_seconds_total",
			Help:      "Cumulative time ingest writes spent blocked",
		}, []string{"detector"}),
		detectorWatermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "detector_watermark_gps",
			Help:      "Per-detector stream watermark in GPS seconds",
		}, []string{"detector"}),
		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "events_emitted_total",
			Help:      "Candidate events published by the coincidence stage",
		}),
		singlesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "singles_emitted_total",
			Help:      "Single-detector candidates published",
		}),
		openGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "open_coincidence_groups",
			Help:      "Coincidence groups currently awaiting the watermark",
		}),
		blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "block_process_duration_seconds",
			Help:      "Time to filter and extract one strain block",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		checkpointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spiir",
			Subsystem: "pipeline",
			Name:      "checkpoints_saved_total",
			Help:      "Stream position checkpoints written to the KV store",
		}),
	}

	const serviceName = "pipeline"
	registry.RegisterCounterVec(serviceName, "blocks_ingested", m.blocksIngested)
	registry.RegisterCounterVec(serviceName, "samples_filtered", m.samplesFiltered)
	registry.RegisterCounterVec(serviceName, "zero_filled_samples", m.zeroFilledSamples)
	registry.RegisterCounterVec(serviceName, "sequence_rejects", m.sequenceRejects)
	registry.RegisterCounterVec(serviceName, "gap_resets", m.gapResets)
	registry.RegisterCounterVec(serviceName, "triggers_extracted", m.triggersExtracted)
	registry.RegisterCounterVec(serviceName, "blocked_ingest", m.blockedIngest)
	registry.RegisterCounterVec(serviceName, "ingest_blocked_seconds", m.ingestBlockedTime)
	registry.RegisterGaugeVec(serviceName, "detector_watermark", m.detectorWatermark)
	registry.RegisterCounter(serviceName, "events_emitted", m.eventsEmitted)
	registry.RegisterCounter(serviceName, "singles_emitted", m.singlesEmitted)
	registry.RegisterGauge(serviceName, "open_groups", m.openGroups)
	registry.RegisterHistogram(serviceName, "block_latency", m.blockLatency)
	registry.RegisterCounter(serviceName, "checkpoints_saved", m.checkpointsSaved)

	return m
}
