// Package template models the offline-generated SPIIR template bank: the
// waveform parameter points and the per-template (pole, gain, weight)
// coefficient tuples the filter engine runs. Banks load once per run and
// are immutable afterwards; templates that fail coefficient validation are
// rejected individually so one bad entry costs coverage, not the search.
package template

import (
	"encoding/json"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/tanghyd/spiir-search/errors"
)

// Complex is a complex128 that serializes as a [re, im] JSON array, the
// wire form the bank generator emits.
type Complex complex128

// MarshalJSON implements json.Marshaler.
func (c Complex) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{real(complex128(c)), imag(complex128(c))})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Complex) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("complex values must be [re, im] arrays: %w", err)
	}
	*c = Complex(complex(pair[0], pair[1]))
	return nil
}

// Filter is one first-order IIR stage of a template's bank: the recursion
// state advances as state = Pole*state + Gain*sample, and Weight scales
// this stage's contribution to the summed SNR estimate.
type Filter struct {
	Pole   Complex `json:"pole"`
	Gain   Complex `json:"gain"`
	Weight Complex `json:"weight"`
}

// Template is one waveform point in parameter space together with its
// filter coefficients. Immutable once loaded.
type Template struct {
	ID      int     `json:"id"`
	Name    string  `json:"name,omitempty"`
	Mass1   float64 `json:"mass1"`
	Mass2   float64 `json:"mass2"`
	Spin1z  float64 `json:"spin1z,omitempty"`
	Spin2z  float64 `json:"spin2z,omitempty"`
	Support int     `json:"support"` // expected impulse-response length, samples
	// EffDistScale converts recovered SNR into an effective distance
	// estimate for source classification. Optional; zero disables.
	EffDistScale float64  `json:"eff_dist_scale,omitempty"`
	Filters      []Filter `json:"filters"`
}

// ChirpMass returns the detector-frame chirp mass implied by the component
// masses: (m1 m2)^(3/5) / (m1+m2)^(1/5).
func (t *Template) ChirpMass() float64 {
	m1, m2 := t.Mass1, t.Mass2
	if m1 <= 0 || m2 <= 0 {
		return 0
	}
	return math.Pow(m1*m2, 0.6) / math.Pow(m1+m2, 0.2)
}

// Validate checks the coefficient set for the load-time contract: finite
// values everywhere and every pole strictly inside the unit circle so the
// recursion decays. Violations return ErrMalformedCoefficients; the filter
// engine refuses to run a template that has not passed this check.
func (t *Template) Validate() error {
	if len(t.Filters) == 0 {
		return malformed(t.ID, "template has no filters")
	}
	if t.Support <= 0 {
		return malformed(t.ID, fmt.Sprintf("support must be > 0, got %d", t.Support))
	}
	if t.Mass1 <= 0 || t.Mass2 <= 0 {
		return malformed(t.ID, fmt.Sprintf("component masses must be > 0, got (%g, %g)", t.Mass1, t.Mass2))
	}
	if t.Mass1 < t.Mass2 {
		return malformed(t.ID, fmt.Sprintf("mass1 %g < mass2 %g, templates order m1 >= m2", t.Mass1, t.Mass2))
	}

	for k, f := range t.Filters {
		pole := complex128(f.Pole)
		if !finiteComplex(pole) || !finiteComplex(complex128(f.Gain)) || !finiteComplex(complex128(f.Weight)) {
			return malformed(t.ID, fmt.Sprintf("non-finite coefficient in filter %d", k))
		}
		if cmplx.Abs(pole) >= 1 {
			return malformed(t.ID, fmt.Sprintf("filter %d pole magnitude %.6g >= 1", k, cmplx.Abs(pole)))
		}
	}
	return nil
}

func malformed(id int, detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: template %d: %s", errors.ErrMalformedCoefficients, id, detail),
		"Template", "Validate", "coefficient validation")
}

func finiteComplex(c complex128) bool {
	return !math.IsNaN(real(c)) && !math.IsInf(real(c), 0) &&
		!math.IsNaN(imag(c)) && !math.IsInf(imag(c), 0)
}
