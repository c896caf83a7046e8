package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PlatformIDValidation(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantError string
	}{
		{
			name: "valid id",
			id:   "spiir-lowlatency-1",
		},
		{
			name:      "missing id",
			id:        "",
			wantError: "platform.id is required",
		},
		{
			name:      "id with invalid characters",
			id:        "spiir@cluster",
			wantError: "is not valid for NATS subjects",
		},
		{
			name:      "id with spaces",
			id:        "spiir cluster",
			wantError: "is not valid for NATS subjects",
		},
		{
			name: "valid id with dots and dashes",
			id:   "spiir-o4.cit",
		},
		{
			name: "valid id with underscores",
			id:   "spiir_o4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(tt.id)
			err := cfg.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
			}
		})
	}
}

func TestSearchConfig_Validation(t *testing.T) {
	valid := newTestConfig("test").Search

	tests := []struct {
		name      string
		mutate    func(*SearchConfig)
		wantError string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*SearchConfig) {},
		},
		{
			name:      "zero snr threshold",
			mutate:    func(s *SearchConfig) { s.SNRThreshold = 0 },
			wantError: "snr_threshold must be > 0",
		},
		{
			name:      "negative min trigger support",
			mutate:    func(s *SearchConfig) { s.MinTriggerSupport = -1 },
			wantError: "min_trigger_support must be >= 0",
		},
		{
			name:      "negative timing margin",
			mutate:    func(s *SearchConfig) { s.TimingMargin = -1 },
			wantError: "timing_margin must be >= 0",
		},
		{
			name:      "zero coincidence window",
			mutate:    func(s *SearchConfig) { s.CoincidenceWindow = 0 },
			wantError: "coincidence_window must be > 0",
		},
		{
			name:      "zero backpressure bound",
			mutate:    func(s *SearchConfig) { s.BackpressureBound = 0 },
			wantError: "backpressure_bound must be > 0",
		},
		{
			name:      "zero block capacity",
			mutate:    func(s *SearchConfig) { s.BlockCapacity = 0 },
			wantError: "block_capacity must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
			}
		})
	}
}

func TestIsValidNATSSubjectPart(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"spiir", true},
		{"H1", true},
		{"spiir-o4", true},
		{"spiir_o4", true},
		{"spiir.o4", true},
		{"123run", true},
		{"", false},
		{"spiir@o4", false},
		{"spiir o4", false},
		{"spiir#o4", false},
		{"spiir!o4", false},
		{"spiir*", false},
		{"spiir>", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := isValidNATSSubjectPart(tt.input)
			assert.Equal(t, tt.valid, result, "isValidNATSSubjectPart(%q) = %v, want %v", tt.input, result, tt.valid)
		})
	}
}
