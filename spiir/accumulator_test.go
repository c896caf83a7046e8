package spiir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tanghyd/spiir-search/template"
)

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func chiTemplate() *template.Template {
	return &template.Template{
		ID: 1, Mass1: 1.6, Mass2: 1.4, Support: 64,
		Filters: []template.Filter{
			{Pole: template.Complex(complex(0.9, 0)), Gain: template.Complex(complex(1e-2, 0)), Weight: template.Complex(complex(0.8, 0))},
			{Pole: template.Complex(complex(0.8, 0)), Gain: template.Complex(complex(1e-2, 0)), Weight: template.Complex(complex(0.6, 0))},
			{Pole: template.Complex(complex(0.7, 0)), Gain: template.Complex(complex(1e-2, 0)), Weight: template.Complex(complex(0.4, 0))},
		},
	}
}

func TestChiSquareConsistentSignalScoresLow(t *testing.T) {
	tpl := chiTemplate()

	// A perfectly template-shaped response: y_k = w_k * rho / sum|w|^2,
	// exactly matching the expected per-filter split.
	rho := complex(8.0, 2.0)
	var wnorm float64
	for _, f := range tpl.Filters {
		w := complex128(f.Weight)
		wnorm += real(w)*real(w) + imag(w)*imag(w)
	}
	snapshot := make([]complex128, len(tpl.Filters))
	for k, f := range tpl.Filters {
		snapshot[k] = complex128(f.Weight) * rho * complex(1/wnorm, 0)
	}

	chi := ChiSquare(tpl, snapshot, rho)
	assert.InDelta(t, 0.0, chi, 1e-9)
}

func TestChiSquareGlitchScoresHigh(t *testing.T) {
	tpl := chiTemplate()

	// All response concentrated in one filter: inconsistent with the
	// template's weight distribution.
	rho := complex(8.0, 0)
	snapshot := []complex128{complex(10, 0), 0, 0}

	chi := ChiSquare(tpl, snapshot, rho)
	assert.Greater(t, chi, 1.0)
}

func TestChiSquareDegenerateInputs(t *testing.T) {
	tpl := chiTemplate()

	assert.Zero(t, ChiSquare(tpl, nil, complex(1, 0)))
	assert.Zero(t, ChiSquare(tpl, make([]complex128, 2), complex(1, 0)))
	assert.Zero(t, ChiSquare(tpl, make([]complex128, 3), 0))
}

func TestMagnitude(t *testing.T) {
	assert.InDelta(t, 5.0, Magnitude(complex(3, 4)), 1e-12)
	assert.Zero(t, Magnitude(0))
}
