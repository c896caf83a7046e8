// Package trigger turns per-template SNR time series into discrete
// candidate triggers. The extractor is an explicit three-state machine per
// (template, detector) stream so the one-trigger-per-local-maximum rule is
// auditable in isolation rather than buried in flag logic.
package trigger

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tanghyd/spiir-search/errors"
)

// Trigger is one candidate: a local maximum of |SNR| above threshold for a
// single template on a single detector. Immutable once created.
type Trigger struct {
	TemplateID  int     `json:"template_id"`
	Detector    string  `json:"detector"`
	SampleIndex uint64  `json:"sample_index"`
	Time        float64 `json:"time"` // GPS seconds at the peak sample
	SNRReal     float64 `json:"snr_real"`
	SNRImag     float64 `json:"snr_imag"`
	Magnitude   float64 `json:"magnitude"`
	// ChiSq is the optional signal-consistency value; nil when the
	// consistency check is disabled.
	ChiSq *float64 `json:"chisq,omitempty"`
}

// SNR reconstructs the complex SNR at the peak.
func (t *Trigger) SNR() complex128 {
	return complex(t.SNRReal, t.SNRImag)
}

// Validate checks the trigger record for well-formed fields.
func (t *Trigger) Validate() error {
	if t.Detector == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Trigger", "Validate", "detector id validation")
	}
	if t.Magnitude <= 0 || math.IsNaN(t.Magnitude) || math.IsInf(t.Magnitude, 0) {
		return errors.WrapInvalid(
			fmt.Errorf("magnitude must be finite and > 0, got %g", t.Magnitude),
			"Trigger", "Validate", "magnitude validation")
	}
	if t.ChiSq != nil && (math.IsNaN(*t.ChiSq) || math.IsInf(*t.ChiSq, 0)) {
		return errors.WrapInvalid(
			fmt.Errorf("chisq must be finite, got %g", *t.ChiSq),
			"Trigger", "Validate", "consistency value validation")
	}
	return nil
}

// MarshalJSON keeps the wire encoding explicit: field names and the
// snr_real/snr_imag complex split are the stable serialization downstream
// consumers parse.
func (t *Trigger) MarshalJSON() ([]byte, error) {
	type alias Trigger
	return json.Marshal((*alias)(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	type alias Trigger
	return json.Unmarshal(data, (*alias)(t))
}
