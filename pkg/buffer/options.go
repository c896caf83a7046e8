package buffer

import (
	"github.com/tanghyd/spiir-search/metric"
)

// Option configures buffer behavior through functional options.
type Option[T any] func(*bufferOptions[T])

// bufferOptions is the resolved configuration of one buffer. Statistics
// are always collected; Prometheus export is the opt-in part.
type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// metricsReg, when set, mirrors buffer statistics into Prometheus
	// under metricsPrefix as the component label.
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithOverflowPolicy sets the full-buffer behavior. The default is
// DropOldest; strain ingest overrides this to Block.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics enables Prometheus export of buffer statistics. A nil
// registry or empty prefix leaves the option inert.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback registers a callback invoked with each dropped item,
// so a reader can account for the sample blocks it lost.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{
		overflowPolicy: DropOldest,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
