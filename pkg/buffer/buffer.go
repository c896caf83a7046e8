// Package buffer provides generic, thread-safe buffer implementations with various overflow policies.
//
// Detector pipelines stage strain blocks and trigger batches through Block
// policy buffers: when a consumer falls behind, writers stall instead of
// dropping data, and the accumulated blocked time feeds the degraded-latency
// condition. Statistics therefore track how long writers spent blocked in
// addition to the usual counters. Diagnostic feeds run DropOldest, where
// losing a stale sample costs nothing.
package buffer

import (
	"context"
)

// Buffer is the interface all buffer implementations satisfy,
// parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item. What happens at capacity is the overflow
	// policy's call.
	Write(item T) error

	// Read removes and returns one item, or the zero value and false
	// when empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items; the slice may be
	// shorter than max.
	ReadBatch(max int) []T

	// Peek returns the next item without removing it, or the zero
	// value and false when empty.
	Peek() (T, bool)

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items.
	Capacity() int

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// IsEmpty reports whether the buffer holds nothing.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics; collection is always on.
	Stats() *Statistics

	// Close shuts the buffer down and wakes any blocked writers.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	// Strain ingestion uses this policy: completeness over latency.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback receives each item discarded by an overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer of the given capacity.
// Everything beyond capacity is a functional option; statistics are
// always collected and Prometheus metrics attach via WithMetrics.
// Returns an error only when requested metrics fail to register.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}

// BlockingWriter is implemented by buffers whose Write can stall under the
// Block policy and that support bounded waits.
type BlockingWriter[T any] interface {
	WriteWithContext(ctx context.Context, item T) error
}
