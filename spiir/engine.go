// Package spiir implements the numerical core of the search: banks of
// first-order complex IIR filters advanced per strain sample, and the
// weighted summation of their outputs into an approximate matched-filter
// SNR time series.
//
// All recursion state for one detector lives in a single arena owned by a
// single Engine, indexed by template ordinal. One Engine serves exactly
// one detector pipeline and is never shared across goroutines.
package spiir

import (
	"fmt"
	"math"

	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/template"
)

// denormalEpsilon is the magnitude below which a state component is
// flushed to exact zero at block boundaries. Flushing keeps the
// zero-input decay terminating and avoids denormal slowdowns in the
// recursion loop.
const denormalEpsilon = 1e-30

// Engine advances the filter banks of every template in a bank for one
// detector stream. The recursion per filter k is
//
//	state_k = pole_k*state_k + gain_k*sample
//
// with complex coefficients and real input. Poles are validated to lie
// strictly inside the unit circle at bank load, so state stays bounded for
// bounded input.
type Engine struct {
	bank *template.Bank

	// arena holds all filter state contiguously; offsets[ord] is the
	// start of template ord's slice, offsets[ord+1] its end.
	arena   []complex128
	offsets []int
}

// NewEngine allocates zeroed filter state for every template in the bank.
func NewEngine(bank *template.Bank) *Engine {
	offsets := make([]int, bank.Len()+1)
	total := 0
	for i, t := range bank.Templates {
		offsets[i] = total
		total += len(t.Filters)
	}
	offsets[bank.Len()] = total

	return &Engine{
		bank:    bank,
		arena:   make([]complex128, total),
		offsets: offsets,
	}
}

// Bank returns the template bank this engine runs.
func (e *Engine) Bank() *template.Bank {
	return e.bank
}

// state returns the mutable state slice for a template ordinal.
func (e *Engine) state(ord int) []complex128 {
	return e.arena[e.offsets[ord]:e.offsets[ord+1]]
}

// Advance feeds one sample through a template's filter bank and returns
// the updated state vector. The returned slice aliases engine-owned
// memory; callers must copy it if they retain it past the next Advance.
// Unknown template ids fail with ErrInvalidTemplate; a non-finite state
// after the update fails with ErrNumericalOverflow and is never clamped.
func (e *Engine) Advance(templateID int, sample float64) ([]complex128, error) {
	ord, ok := e.bank.Ordinal(templateID)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: id %d", errors.ErrInvalidTemplate, templateID),
			"Engine", "Advance", "template lookup")
	}

	tpl := e.bank.Templates[ord]
	state := e.state(ord)
	in := complex(sample, 0)
	for k := range state {
		state[k] = complex128(tpl.Filters[k].Pole)*state[k] + complex128(tpl.Filters[k].Gain)*in
	}

	if err := e.checkFinite(templateID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// AdvanceBlock feeds a whole sample block through one template's bank and
// writes the summed SNR series into dst, which must have len(samples)
// capacity. Finiteness is checked once per block and denormal state is
// flushed at the block boundary, amortizing per-sample overhead on the hot
// path.
func (e *Engine) AdvanceBlock(ord int, samples []float64, dst []complex128) error {
	tpl := e.bank.Templates[ord]
	state := e.state(ord)

	for i, s := range samples {
		in := complex(s, 0)
		var sum complex128
		for k := range state {
			state[k] = complex128(tpl.Filters[k].Pole)*state[k] + complex128(tpl.Filters[k].Gain)*in
			sum += complex128(tpl.Filters[k].Weight) * state[k]
		}
		dst[i] = sum
	}

	flushDenormals(state)

	if err := e.checkFinite(tpl.ID, state); err != nil {
		return err
	}
	return nil
}

// SNR returns the current summed SNR estimate for a template ordinal
// without advancing state.
func (e *Engine) SNR(ord int) complex128 {
	tpl := e.bank.Templates[ord]
	var sum complex128
	for k, s := range e.state(ord) {
		sum += complex128(tpl.Filters[k].Weight) * s
	}
	return sum
}

// Snapshot copies the current state vector for a template ordinal, for
// signal-consistency computation at a candidate peak.
func (e *Engine) Snapshot(ord int, dst []complex128) []complex128 {
	state := e.state(ord)
	if cap(dst) < len(state) {
		dst = make([]complex128, len(state))
	}
	dst = dst[:len(state)]
	copy(dst, state)
	return dst
}

// Reset zeroes all filter state for one template, used after a data gap
// exceeding tolerance. Pre-gap state is discarded outright, never blended
// into post-gap samples.
func (e *Engine) Reset(templateID int) error {
	ord, ok := e.bank.Ordinal(templateID)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: id %d", errors.ErrInvalidTemplate, templateID),
			"Engine", "Reset", "template lookup")
	}
	zero(e.state(ord))
	return nil
}

// ResetAll zeroes the whole arena.
func (e *Engine) ResetAll() {
	zero(e.arena)
}

// StateMagnitude returns the Euclidean norm of a template's state vector,
// used by stability tests and health checks.
func (e *Engine) StateMagnitude(ord int) float64 {
	var sum float64
	for _, s := range e.state(ord) {
		sum += real(s)*real(s) + imag(s)*imag(s)
	}
	return math.Sqrt(sum)
}

// checkFinite fails fatally on any non-finite state component. A NaN or
// Inf here means corrupt coefficients or invalid input and the recursion
// cannot recover, so the owning pipeline must stop.
func (e *Engine) checkFinite(templateID int, state []complex128) error {
	for k, s := range state {
		if isNonFinite(s) {
			return errors.WrapFatal(
				fmt.Errorf("%w: template %d filter %d", errors.ErrNumericalOverflow, templateID, k),
				"Engine", "checkFinite", "state finiteness check")
		}
	}
	return nil
}

func isNonFinite(c complex128) bool {
	return math.IsNaN(real(c)) || math.IsInf(real(c), 0) ||
		math.IsNaN(imag(c)) || math.IsInf(imag(c), 0)
}

// flushDenormals zeroes state components whose parts have decayed below
// the denormal threshold, so a quiet stream reaches exact zero.
func flushDenormals(state []complex128) {
	for k, s := range state {
		re, im := real(s), imag(s)
		if re > -denormalEpsilon && re < denormalEpsilon {
			re = 0
		}
		if im > -denormalEpsilon && im < denormalEpsilon {
			im = 0
		}
		state[k] = complex(re, im)
	}
}

func zero(s []complex128) {
	for i := range s {
		s[i] = 0
	}
}
