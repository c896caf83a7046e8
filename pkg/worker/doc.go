// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// The worker package implements a worker pool pattern with:
//   - Generic type support for type-safe work processing
//   - Bounded queues with backpressure (non-blocking submit)
//   - Context-aware cancellation and graceful shutdown
//   - Always-on statistics plus optional Prometheus metrics
//   - Configurable worker count and queue sizing
//
// The bank loader is the main consumer: validating tens of thousands of
// template coefficient sets at startup parallelizes cleanly, and a bounded
// pool keeps memory predictable while the filter arena is being built.
// Event persistence uses a small pool for the same reason, so a slow disk
// cannot stall trigger processing.
//
// # Core Concepts
//
// Worker Pool Pattern:
//
// The pool manages a fixed number of goroutines (workers) that process work
// items from a bounded channel (queue). This provides resource control, load
// distribution, and a clear overload signal when the queue fills.
//
// Generic Type Safety:
//
// Using Go generics, the pool can process any work type T without type assertions:
//
//	type validateJob struct {
//	    TemplateID int
//	    Coeffs     []template.Coefficient
//	}
//
//	pool := worker.NewPool[validateJob](
//	    8,     // workers
//	    4096,  // queue size
//	    func(ctx context.Context, job validateJob) error {
//	        return checkStability(job.Coeffs)
//	    },
//	)
//
// # Architecture Decisions
//
// Non-Blocking Submit with Backpressure:
//
// Submit() uses a non-blocking send (select with default case) rather than
// blocking on a full queue. ErrQueueFull tells the caller the pool is
// saturated; the caller decides whether to retry, spill, or fail the load.
//
// Context-Based Cancellation:
//
// Workers receive context from Start() and check it on each iteration. The
// processor signature func(context.Context, T) error lets work items respect
// cancellation themselves.
//
// Graceful Shutdown with Timeout:
//
// Stop(timeout) closes the work channel, drains remaining items, and waits
// for workers up to the timeout. ErrStopTimeout means workers were still
// busy; queued items past that point are abandoned.
//
// # Usage
//
// Typical lifecycle:
//
//	pool := worker.NewPool(8, 4096, process,
//	    worker.WithMetricsRegistry[validateJob](registry, "bank_validate"),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	for _, job := range jobs {
//	    if err := pool.Submit(job); err != nil {
//	        return err // queue full means the load is misconfigured
//	    }
//	}
//	if err := pool.Stop(30 * time.Second); err != nil {
//	    return err
//	}
//
// Stats() is safe to call at any time and reports submitted, processed,
// failed, and dropped counts alongside queue depth.
package worker
