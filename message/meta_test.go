package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMetaImplementsInterface(_ *testing.T) {
	var _ Meta = (*DefaultMeta)(nil)
}

func TestNewDefaultMeta(t *testing.T) {
	created := time.Now().Add(-30 * time.Minute)

	meta := NewDefaultMeta(created, "strain-reader-h1")

	assert.NotNil(t, meta)
	// Millisecond storage drops nanosecond precision.
	assert.WithinDuration(t, created, meta.CreatedAt(), time.Millisecond)
	assert.Equal(t, "strain-reader-h1", meta.Source())
	assert.WithinDuration(t, time.Now(), meta.ReceivedAt(), 100*time.Millisecond)
}

func TestNewDefaultMetaWithReceivedAt(t *testing.T) {
	created := time.Now().Add(-1 * time.Hour)
	received := time.Now().Add(-30 * time.Minute)

	meta := NewDefaultMetaWithReceivedAt(created, received, "replay-reader")

	assert.WithinDuration(t, created, meta.CreatedAt(), time.Millisecond)
	assert.WithinDuration(t, received, meta.ReceivedAt(), time.Millisecond)
	assert.Equal(t, "replay-reader", meta.Source())
}
