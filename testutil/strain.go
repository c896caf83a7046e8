package testutil

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/strain"
)

const (
	// SampleRate is the rate used by strain fixtures, low enough that
	// recordings stay small while still exercising real timing math.
	SampleRate = 16.0

	// Epoch is the GPS time at sample index zero for strain fixtures.
	Epoch = 1000.0
)

// Block builds a sample block with the fixture rate and epoch. StartIndex
// is absolute, so contiguous blocks are built by passing the previous
// block's EndIndex.
func Block(detector string, startIndex uint64, samples ...float64) *strain.SampleBlock {
	return &strain.SampleBlock{
		Detector:   detector,
		StartIndex: startIndex,
		SampleRate: SampleRate,
		Epoch:      Epoch,
		Samples:    samples,
	}
}

// SineBlock builds a block of n sinusoid samples at the given frequency
// and amplitude. Phase is continuous across blocks because it is derived
// from the absolute sample index.
func SineBlock(detector string, startIndex uint64, n int, freq, amp float64) *strain.SampleBlock {
	samples := make([]float64, n)
	for i := range samples {
		t := float64(startIndex+uint64(i)) / SampleRate
		samples[i] = amp * math.Sin(2*math.Pi*freq*t)
	}
	return Block(detector, startIndex, samples...)
}

// RecordingLine marshals a block into one line of a strain recording, in
// the envelope format the replay input decodes.
func RecordingLine(tb testing.TB, block *strain.SampleBlock) []byte {
	tb.Helper()
	data, err := json.Marshal(message.NewStrainPayload(block))
	require.NoError(tb, err)
	return data
}

// StrainMessage marshals a block into the bus envelope the stream
// controller decodes from strain subjects.
func StrainMessage(tb testing.TB, block *strain.SampleBlock) []byte {
	tb.Helper()
	data, err := message.NewBaseMessage(message.StrainMessage, message.NewStrainPayload(block), "testutil").MarshalJSON()
	require.NoError(tb, err)
	return data
}

// WriteRecording writes blocks as a JSONL strain recording under the
// test's temp dir and returns the path.
func WriteRecording(tb testing.TB, blocks ...*strain.SampleBlock) string {
	tb.Helper()
	lines := make([][]byte, len(blocks))
	for i, b := range blocks {
		lines[i] = RecordingLine(tb, b)
	}
	path := filepath.Join(tb.TempDir(), "strain.jsonl")
	require.NoError(tb, os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o644))
	return path
}
