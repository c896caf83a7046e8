package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(999).String())
}

func TestClassificationPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{name: "nil error"},
		{name: "sequence gap", err: ErrSequence, transient: true},
		{name: "connection timeout", err: ErrConnectionTimeout, transient: true},
		{name: "connection lost", err: ErrConnectionLost, transient: true},
		{name: "storage unavailable", err: ErrStorageUnavailable, transient: true},
		{name: "rate limited", err: ErrRateLimited, transient: true},
		{name: "circuit open", err: ErrCircuitOpen, transient: true},
		{name: "context deadline", err: context.DeadlineExceeded, transient: true},
		{name: "context canceled", err: context.Canceled, transient: true},
		{name: "malformed coefficients", err: ErrMalformedCoefficients, invalid: true},
		{name: "invalid template", err: ErrInvalidTemplate, invalid: true},
		{name: "invalid config", err: ErrInvalidConfig, invalid: true},
		{name: "missing config", err: ErrMissingConfig, invalid: true},
		{name: "invalid data", err: ErrInvalidData, invalid: true},
		{name: "parsing failed", err: ErrParsingFailed, invalid: true},
		{name: "numerical overflow", err: ErrNumericalOverflow, fatal: true},
		{name: "data corrupted", err: ErrDataCorrupted, fatal: true},
		{name: "resource exhausted", err: ErrResourceExhausted, fatal: true},
		// Unclassified errors fall back to message heuristics.
		{name: "timeout in message", err: fmt.Errorf("strain fetch timeout"), transient: true},
		{name: "network in message", err: fmt.Errorf("network connection to broker failed"), transient: true},
		{name: "fatal in message", err: fmt.Errorf("fatal filter state"), fatal: true},
		{name: "panic in message", err: fmt.Errorf("panic: bank reload"), fatal: true},
		{name: "non-finite in message", err: fmt.Errorf("SNR became non-finite at sample 4096"), fatal: true},
		{name: "wrapped transient", err: &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, transient: true},
		{name: "wrapped invalid", err: &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("x")}, invalid: true},
		{name: "wrapped fatal", err: &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, fatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.invalid, IsInvalid(tt.err), "IsInvalid")
			assert.Equal(t, tt.fatal, IsFatal(tt.err), "IsFatal")
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"sequence gap", ErrSequence, ErrorTransient},
		{"connection timeout", ErrConnectionTimeout, ErrorTransient},
		{"malformed coefficients", ErrMalformedCoefficients, ErrorInvalid},
		{"invalid config", ErrInvalidConfig, ErrorInvalid},
		{"numerical overflow", ErrNumericalOverflow, ErrorFatal},
		{"unknown defaults to transient", fmt.Errorf("bank checksum mismatch"), ErrorTransient},
		{"already classified", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedError(t *testing.T) {
	base := fmt.Errorf("KV bucket missing")
	ce := newClassified(ErrorTransient, base, "Coincidence", "LoadCheckpoint", "checkpoint restore failed")

	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Coincidence", ce.Component)
	assert.Equal(t, "LoadCheckpoint", ce.Operation)
	assert.Equal(t, "checkpoint restore failed", ce.Error())
	assert.ErrorIs(t, ce, base)
}

func TestClassifiedErrorFallsBackToCause(t *testing.T) {
	base := fmt.Errorf("KV bucket missing")
	ce := newClassified(ErrorTransient, base, "Coincidence", "LoadCheckpoint", "")

	assert.Equal(t, "KV bucket missing", ce.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "FilterEngine", "AdvanceBlock", "state update"))

	err := Wrap(fmt.Errorf("state became non-finite"), "FilterEngine", "AdvanceBlock", "state update")
	require.Error(t, err)
	assert.Equal(t, "FilterEngine.AdvanceBlock: state update failed: state became non-finite", err.Error())
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("broker unreachable")

	tests := []struct {
		name     string
		wrapFunc func(error, string, string, string) error
		class    ErrorClass
	}{
		{"WrapTransient", WrapTransient, ErrorTransient},
		{"WrapFatal", WrapFatal, ErrorFatal},
		{"WrapInvalid", WrapInvalid, ErrorInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrapFunc(base, "EventRanker", "Publish", "ranked event publish")

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "EventRanker", ce.Component)
			assert.Equal(t, "Publish", ce.Operation)
			assert.Contains(t, ce.Error(), "EventRanker.Publish: ranked event publish failed")
		})
	}
}

func TestRetryConfigShouldRetry(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 0, false},
		{"max retries exceeded", ErrConnectionTimeout, 3, false},
		{"transient within limit", ErrConnectionTimeout, 1, true},
		{"invalid never retried", ErrMalformedCoefficients, 1, false},
		{"fatal never retried", ErrNumericalOverflow, 1, false},
		{"heuristic transient", fmt.Errorf("connection timeout"), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestRetryConfigExplicitRetryableList(t *testing.T) {
	config := RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: []error{ErrConnectionTimeout},
	}

	assert.True(t, config.ShouldRetry(ErrConnectionTimeout, 1))
	// An explicit list narrows retries to exactly its members.
	assert.False(t, config.ShouldRetry(ErrConnectionLost, 1))
}

func TestRetryConfigBackoffDelay(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, config.BackoffDelay(tt.attempt))
		})
	}
}

func TestRetryConfigToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.5,
	}.ToRetryConfig()

	assert.Equal(t, 6, rc.MaxAttempts, "attempts include the initial try")
	assert.Equal(t, 200*time.Millisecond, rc.InitialDelay)
	assert.Equal(t, 10*time.Second, rc.MaxDelay)
	assert.Equal(t, 1.5, rc.Multiplier)
	assert.True(t, rc.AddJitter)
}

func TestStandardErrorsAreDefined(t *testing.T) {
	standardErrors := []error{
		ErrMalformedCoefficients,
		ErrInvalidTemplate,
		ErrNumericalOverflow,
		ErrSequence,
		ErrPipelineStopped,
		ErrAlreadyStarted,
		ErrNotStarted,
		ErrAlreadyStopped,
		ErrShuttingDown,
		ErrNoConnection,
		ErrConnectionLost,
		ErrConnectionTimeout,
		ErrSubscriptionFailed,
		ErrInvalidData,
		ErrDataCorrupted,
		ErrParsingFailed,
		ErrStorageUnavailable,
		ErrBucketNotFound,
		ErrKeyNotFound,
		ErrInvalidConfig,
		ErrMissingConfig,
		ErrConfigNotFound,
		ErrBufferFull,
		ErrResourceExhausted,
		ErrRateLimited,
		ErrCircuitOpen,
		ErrMaxRetriesExceeded,
		ErrRetryTimeout,
	}

	for i, err := range standardErrors {
		require.Error(t, err, "sentinel at index %d", i)
		assert.NotEmpty(t, err.Error(), "sentinel at index %d", i)
	}
}

func BenchmarkIsTransient(b *testing.B) {
	err := ErrConnectionTimeout
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IsTransient(err)
	}
}

func BenchmarkClassify(b *testing.B) {
	err := ErrSequence
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(err)
	}
}

func BenchmarkWrap(b *testing.B) {
	err := fmt.Errorf("state became non-finite")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Wrap(err, "FilterEngine", "AdvanceBlock", "state update")
	}
}
