// Package errors provides standardized error handling for spiir-search
// components.
//
// # Overview
//
// The package implements a three-class error model for a streaming search
// pipeline: Transient (temporary, retry or recover), Invalid (bad input,
// reject at the boundary), and Fatal (unrecoverable, stop the owning
// pipeline). Classification decides whether a detector pipeline keeps
// running, performs a gap reset, or goes dark while the rest of the
// search continues with reduced coverage.
//
// # Error Classification
//
//   - Transient: sequence gaps, network timeouts, temporary unavailability.
//     A non-monotonic sample index (ErrSequence) is transient: the stream
//     controller answers it with a reset, never a shutdown.
//   - Invalid: malformed filter coefficients, unknown template ids, bad
//     configuration. Invalid templates are rejected at load and never
//     enter the bank.
//   - Fatal: non-finite filter state (ErrNumericalOverflow), data
//     corruption, resource exhaustion. Fatal errors terminate only the
//     owning detector pipeline; sibling detectors continue.
//
// The classification system supports errors.Is(), errors.As(), and error
// wrapping chains.
//
// # Error Wrapping Pattern
//
// All wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Pipeline", "ingest", "block sequencing")
//	errors.WrapInvalid(err, "Bank", "Load", "coefficient validation")
//	errors.WrapFatal(err, "Engine", "AdvanceBlock", "state update")
//
// The generic Wrap() preserves the original error's classification.
//
// # Retry Configuration
//
// RetryConfig supplies exponential backoff parameters and converts to the
// pkg/retry Config via ToRetryConfig() for use with retry.Do.
package errors
