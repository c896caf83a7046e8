package strain

import (
	"fmt"

	"github.com/tanghyd/spiir-search/errors"
)

// Disposition describes what the pipeline should do with an accepted block.
type Disposition int

const (
	// Contiguous means the block follows the previous one exactly.
	Contiguous Disposition = iota
	// FillableGap means samples are missing but the gap fits inside the
	// configured tolerance; the pipeline zero-fills through the filters.
	FillableGap
	// ResetGap means the gap exceeds tolerance; filter state must be reset
	// and trigger extraction interrupted before the block is processed.
	ResetGap
)

// String returns a readable name for logs.
func (d Disposition) String() string {
	switch d {
	case Contiguous:
		return "contiguous"
	case FillableGap:
		return "fillable_gap"
	case ResetGap:
		return "reset_gap"
	default:
		return "unknown"
	}
}

// Sequencer tracks the last seen sample index for one detector stream and
// classifies each arriving block. It rejects out-of-order and overlapping
// blocks with ErrSequence; the caller decides whether to log or count them,
// but a rejected block never reaches the filters.
type Sequencer struct {
	detector     string
	gapTolerance uint64
	nextIndex    uint64
	sampleRate   float64
	primed       bool
}

// NewSequencer creates a sequencer for one detector. gapTolerance is the
// largest gap, in samples, that may be zero-filled instead of forcing a
// state reset.
func NewSequencer(detector string, gapTolerance int) *Sequencer {
	tol := uint64(0)
	if gapTolerance > 0 {
		tol = uint64(gapTolerance)
	}
	return &Sequencer{detector: detector, gapTolerance: tol}
}

// Check classifies a block against the stream position. On success it
// advances the expected index and returns the disposition plus the gap
// length in samples (zero when contiguous). The first block of a stream is
// always contiguous.
func (s *Sequencer) Check(block *SampleBlock) (Disposition, uint64, error) {
	if err := block.Validate(); err != nil {
		return Contiguous, 0, err
	}
	if block.Detector != s.detector {
		return Contiguous, 0, errors.WrapInvalid(
			fmt.Errorf("block for %q on %q stream", block.Detector, s.detector),
			"Sequencer", "Check", "detector routing validation")
	}

	if !s.primed {
		s.primed = true
		s.sampleRate = block.SampleRate
		s.nextIndex = block.EndIndex()
		return Contiguous, 0, nil
	}

	if block.SampleRate != s.sampleRate {
		return Contiguous, 0, errors.WrapInvalid(
			fmt.Errorf("sample rate changed from %g to %g", s.sampleRate, block.SampleRate),
			"Sequencer", "Check", "sample rate validation")
	}

	if block.StartIndex < s.nextIndex {
		return Contiguous, 0, errors.WrapTransient(
			fmt.Errorf("%w: block starts at %d, stream is at %d",
				errors.ErrSequence, block.StartIndex, s.nextIndex),
			"Sequencer", "Check", "monotonic index check")
	}

	gap := block.StartIndex - s.nextIndex
	s.nextIndex = block.EndIndex()

	switch {
	case gap == 0:
		return Contiguous, 0, nil
	case gap <= s.gapTolerance:
		return FillableGap, gap, nil
	default:
		return ResetGap, gap, nil
	}
}

// NextIndex returns the sample index the stream expects next.
func (s *Sequencer) NextIndex() uint64 {
	return s.nextIndex
}

// Reset forgets the stream position. The next block is accepted as the new
// stream start, used when a pipeline restarts after a fatal error.
func (s *Sequencer) Reset() {
	s.primed = false
	s.nextIndex = 0
}
