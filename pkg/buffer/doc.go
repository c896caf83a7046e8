// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// The buffer package implements circular buffers for managing data flow between
// producers and consumers in concurrent pipelines. Buffers are generic, thread-safe,
// and provide observability through always-on statistics and optional metrics.
//
// The search pipelines use two policies in practice. Strain ingestion uses Block:
// sample data must never be dropped, so a full buffer stalls the writer and the
// time spent stalled is surfaced as a degraded-latency signal. Non-critical fan-out
// (dashboard feeds, debug taps) uses DropOldest so a slow consumer cannot stall
// the hot path.
//
// # Quick Start
//
// Basic buffer creation:
//
//	buf, err := buffer.NewCircularBuffer[int](1000)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Write data
//	err = buf.Write(42)
//
//	// Read data
//	value, ok := buf.Read()
//
// With overflow policy and metrics:
//
//	buf, err := buffer.NewCircularBuffer[*strain.Block](64,
//		buffer.WithOverflowPolicy[*strain.Block](buffer.Block),
//		buffer.WithMetrics[*strain.Block](registry, "strain_ingest"),
//	)
//
// # Overflow Policies
//
// The buffer supports three overflow behaviors when capacity is reached:
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Reject new items when full
//   - Block: Write operations wait for available space
//
// Example with blocking policy and a bounded wait:
//
//	buf, _ := buffer.NewCircularBuffer[*strain.Block](64,
//		buffer.WithOverflowPolicy[*strain.Block](buffer.Block),
//	)
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	err := buf.WriteWithContext(ctx, block)
//
// # Observability
//
// Statistics are always collected using atomic counters and are available via
// buf.Stats() with no configuration. They include computed values (throughput,
// drop rate, utilization) plus blocked-write tracking: BlockedEvents counts
// writes that had to wait for space and BlockedTime accumulates how long they
// waited. Pipelines compare BlockedTime growth against their latency bound to
// decide when to report degraded latency.
//
// Prometheus metrics are optional, enabled via WithMetrics(), and export the
// same counters plus spiir_buffer_blocked_seconds_total for alerting.
//
// Statistics and metrics track independently so basic observability never
// depends on a metrics registry being wired.
//
// # Thread Safety
//
// All buffer operations are thread-safe for concurrent use:
//   - Multiple producers can write concurrently
//   - Multiple consumers can read concurrently
//   - Statistics use atomic operations (lock-free)
//   - Internal state protected by sync.RWMutex
//   - Block policy uses sync.Cond for waiting
//
// # Common Use Cases
//
// Strain ingestion (completeness over latency):
//
//	ingest := buffer.NewCircularBuffer[*strain.Block](64,
//		buffer.WithOverflowPolicy[*strain.Block](buffer.Block),
//		buffer.WithMetrics[*strain.Block](registry, "h1_ingest"),
//	)
//
// Trigger fan-out to a dashboard (latency over completeness):
//
//	feed := buffer.NewCircularBuffer[*trigger.Trigger](1000,
//		buffer.WithOverflowPolicy[*trigger.Trigger](buffer.DropOldest),
//		buffer.WithDropCallback[*trigger.Trigger](func(t *trigger.Trigger) {
//			log.Printf("dropped trigger for template %d", t.TemplateID)
//		}),
//	)
//
// # Testing
//
// The package includes tests with race detection:
//
//	go test -race ./pkg/buffer
//
// Benchmarks are available to validate performance:
//
//	go test -bench=. ./pkg/buffer
package buffer
