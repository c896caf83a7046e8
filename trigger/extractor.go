package trigger

import (
	"github.com/tanghyd/spiir-search/spiir"
)

// State is the extractor's position relative to the threshold.
type State int

const (
	// BelowThreshold: no candidate in progress.
	BelowThreshold State = iota
	// AboveThresholdRising: above threshold with magnitude still
	// increasing; tracking the running maximum.
	AboveThresholdRising
	// AboveThresholdFalling: past a local maximum but still above
	// threshold; the candidate at the tracked peak has been finalized.
	AboveThresholdFalling
)

// String returns the state name for logs and tests.
func (s State) String() string {
	switch s {
	case BelowThreshold:
		return "below_threshold"
	case AboveThresholdRising:
		return "above_threshold_rising"
	case AboveThresholdFalling:
		return "above_threshold_falling"
	default:
		return "unknown"
	}
}

// Result reports what one sample did to the extractor.
type Result struct {
	// Trigger is non-nil when a candidate peak was finalized on this
	// sample.
	Trigger *Trigger
	// NewPeak is true when the running maximum moved to this sample. The
	// pipeline uses it to snapshot filter state for the consistency
	// check before the state evolves past the peak.
	NewPeak bool
}

// Extractor scans one (template, detector) SNR magnitude stream for local
// maxima above threshold. Exactly one trigger is emitted per genuine local
// maximum: crossing the threshold arms the machine, the first magnitude
// decrease finalizes the tracked peak, and a re-increase while still above
// threshold arms a fresh candidate. Dropping below threshold disarms.
type Extractor struct {
	templateID int
	detector   string
	threshold  float64
	minSupport int

	state    State
	peakIdx  uint64
	peakTime float64
	peakSNR  complex128
	peakMag  float64
	prevMag  float64
	support  int // samples observed above threshold for this candidate
}

// Config holds the extractor's tunables. Threshold and the minimum support
// a candidate must span to survive an interruption are search
// configuration, not constants.
type Config struct {
	TemplateID int
	Detector   string
	Threshold  float64
	MinSupport int
}

// NewExtractor creates an extractor in BelowThreshold.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		templateID: cfg.TemplateID,
		detector:   cfg.Detector,
		threshold:  cfg.Threshold,
		minSupport: cfg.MinSupport,
	}
}

// State returns the current machine state.
func (e *Extractor) State() State {
	return e.state
}

// Process consumes one SNR sample. index is the absolute sample index and
// time its GPS seconds; snr is the complex SNR estimate at that sample.
func (e *Extractor) Process(index uint64, time float64, snr complex128) Result {
	mag := spiir.Magnitude(snr)
	defer func() { e.prevMag = mag }()

	switch e.state {
	case BelowThreshold:
		if mag > e.threshold {
			e.state = AboveThresholdRising
			e.beginCandidate(index, time, snr, mag)
			return Result{NewPeak: true}
		}
		return Result{}

	case AboveThresholdRising:
		if mag <= e.threshold {
			// Fell straight below threshold: the tracked peak is the
			// local maximum.
			trig := e.finalize()
			e.state = BelowThreshold
			return Result{Trigger: trig}
		}
		e.support++
		if mag >= e.prevMag {
			if mag > e.peakMag {
				e.setPeak(index, time, snr, mag)
				return Result{NewPeak: true}
			}
			return Result{}
		}
		// First decrease while above threshold: finalize at the peak.
		trig := e.finalize()
		e.state = AboveThresholdFalling
		return Result{Trigger: trig}

	case AboveThresholdFalling:
		if mag <= e.threshold {
			e.state = BelowThreshold
			e.clearCandidate()
			return Result{}
		}
		if mag > e.prevMag {
			// Re-increase above threshold: a new local maximum is
			// forming.
			e.state = AboveThresholdRising
			e.beginCandidate(index, time, snr, mag)
			return Result{NewPeak: true}
		}
		return Result{}
	}
	return Result{}
}

// Interrupt finalizes the best-seen candidate when the stream gaps or
// ends, rather than discarding a genuine peak. Candidates whose observed
// support is shorter than the configured minimum are dropped as
// unreliable. The machine resets to BelowThreshold either way.
func (e *Extractor) Interrupt() *Trigger {
	var trig *Trigger
	if e.state == AboveThresholdRising && e.support >= e.minSupport {
		trig = e.finalize()
	}
	e.state = BelowThreshold
	e.clearCandidate()
	e.prevMag = 0
	return trig
}

// peakTime is stored alongside the peak sample.
func (e *Extractor) beginCandidate(index uint64, time float64, snr complex128, mag float64) {
	e.support = 1
	e.setPeak(index, time, snr, mag)
}

func (e *Extractor) setPeak(index uint64, time float64, snr complex128, mag float64) {
	e.peakIdx = index
	e.peakTime = time
	e.peakSNR = snr
	e.peakMag = mag
}

func (e *Extractor) clearCandidate() {
	e.peakIdx = 0
	e.peakTime = 0
	e.peakSNR = 0
	e.peakMag = 0
	e.support = 0
}

func (e *Extractor) finalize() *Trigger {
	trig := &Trigger{
		TemplateID:  e.templateID,
		Detector:    e.detector,
		SampleIndex: e.peakIdx,
		Time:        e.peakTime,
		SNRReal:     real(e.peakSNR),
		SNRImag:     imag(e.peakSNR),
		Magnitude:   e.peakMag,
	}
	e.clearCandidate()
	return trig
}
