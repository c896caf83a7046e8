package message

import (
	"time"

	"github.com/tanghyd/spiir-search/pkg/timestamp"
)

// DefaultMeta is the standard Meta implementation. It separates when
// the data was produced from when this node received it, which is how
// end-to-end latency from detector frontend to event upload is
// measured.
type DefaultMeta struct {
	createdAt  int64 // Unix milliseconds
	receivedAt int64 // Unix milliseconds
	source     string
}

// NewDefaultMeta stamps the receive time as now. Source names the
// producing component, e.g. "udp-input" or "spiir-filter-h1".
func NewDefaultMeta(createdAt time.Time, source string) *DefaultMeta {
	return &DefaultMeta{
		createdAt:  timestamp.ToUnixMs(createdAt),
		receivedAt: timestamp.Now(),
		source:     source,
	}
}

// NewDefaultMetaWithReceivedAt sets both times explicitly, for replayed
// archival strain and for tests.
func NewDefaultMetaWithReceivedAt(createdAt, receivedAt time.Time, source string) *DefaultMeta {
	return &DefaultMeta{
		createdAt:  timestamp.ToUnixMs(createdAt),
		receivedAt: timestamp.ToUnixMs(receivedAt),
		source:     source,
	}
}

// CreatedAt returns when the original data was produced.
func (m *DefaultMeta) CreatedAt() time.Time {
	return timestamp.ToTime(m.createdAt)
}

// ReceivedAt returns when this node received the message.
func (m *DefaultMeta) ReceivedAt() time.Time {
	return timestamp.ToTime(m.receivedAt)
}

// Source returns the name of the producing component.
func (m *DefaultMeta) Source() string {
	return m.source
}
