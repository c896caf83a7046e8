package spiir

import (
	"math"
	"math/cmplx"

	"github.com/tanghyd/spiir-search/template"
)

// ChiSquare computes a normalized signal-consistency residual from the
// per-filter state snapshot at a candidate peak. For a signal matching
// the template, each filter's output y_k should align with the weighted
// sum rho distributed over the bank in proportion to |w_k|^2; the
// statistic sums the per-filter mismatch scaled so a consistent signal
// scores near one and glitches concentrated in a few filters score high.
//
// The exact form is a calibration placeholder (see the project design
// notes); it is monotonic in mismatch, dimensionless, and cheap enough to
// run once per finalized trigger.
func ChiSquare(tpl *template.Template, snapshot []complex128, rho complex128) float64 {
	if len(snapshot) == 0 || len(snapshot) != len(tpl.Filters) {
		return 0
	}

	var wnorm float64
	for _, f := range tpl.Filters {
		wnorm += cmplx.Abs(complex128(f.Weight)) * cmplx.Abs(complex128(f.Weight))
	}
	if wnorm == 0 {
		return 0
	}

	var chi float64
	for k, y := range snapshot {
		w := complex128(tpl.Filters[k].Weight)
		wmag2 := cmplx.Abs(w) * cmplx.Abs(w)
		// Expected contribution of filter k to the summed SNR.
		expected := w * rho * complex(wmag2/wnorm, 0)
		d := complex128(tpl.Filters[k].Weight)*y - expected
		chi += cmplx.Abs(d) * cmplx.Abs(d)
	}

	rhoMag2 := cmplx.Abs(rho) * cmplx.Abs(rho)
	if rhoMag2 == 0 {
		return 0
	}

	// Scale to unit expectation for a matched signal spread across the
	// bank; guard against degenerate single-filter templates.
	dof := float64(len(snapshot) - 1)
	if dof < 1 {
		dof = 1
	}
	return chi / (rhoMag2 * dof / float64(len(snapshot)))
}

// Magnitude returns |snr| for a complex SNR sample.
func Magnitude(snr complex128) float64 {
	return math.Hypot(real(snr), imag(snr))
}
