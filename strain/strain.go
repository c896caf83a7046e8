// Package strain defines the sample-block data model for detector strain
// streams and the per-detector sequencing rules the stream controller
// enforces.
package strain

import (
	"fmt"
	"math"

	"github.com/tanghyd/spiir-search/errors"
)

// SampleBlock is a contiguous run of fixed-rate strain samples from one
// detector. StartIndex counts samples since the stream epoch; blocks from a
// well-behaved source arrive with strictly increasing, contiguous indices.
// Gaps are explicit: a block whose StartIndex jumps past the previous end
// marks missing data, never silently skipped samples.
type SampleBlock struct {
	Detector   string    `json:"detector"`
	StartIndex uint64    `json:"start_index"`
	SampleRate float64   `json:"sample_rate"`
	Epoch      float64   `json:"epoch,omitempty"` // GPS seconds at sample index 0
	Samples    []float64 `json:"samples"`
}

// EndIndex returns the index one past the last sample in the block.
func (b *SampleBlock) EndIndex() uint64 {
	return b.StartIndex + uint64(len(b.Samples))
}

// Duration returns the time span covered by the block in seconds.
func (b *SampleBlock) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / b.SampleRate
}

// TimeAt converts a sample index to GPS seconds using the block's epoch
// and sample rate.
func (b *SampleBlock) TimeAt(index uint64) float64 {
	if b.SampleRate <= 0 {
		return b.Epoch
	}
	return b.Epoch + float64(index)/b.SampleRate
}

// Validate checks structural invariants: a known detector id, a positive
// sample rate, a non-empty finite payload.
func (b *SampleBlock) Validate() error {
	if b.Detector == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "SampleBlock", "Validate", "detector id validation")
	}
	if b.SampleRate <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sample rate must be > 0, got %g", b.SampleRate),
			"SampleBlock", "Validate", "sample rate validation")
	}
	if len(b.Samples) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "SampleBlock", "Validate", "empty payload validation")
	}
	for i, s := range b.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return errors.WrapInvalid(
				fmt.Errorf("non-finite sample at offset %d", i),
				"SampleBlock", "Validate", "sample finiteness validation")
		}
	}
	return nil
}
