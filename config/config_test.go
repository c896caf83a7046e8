package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/types"
)

// Helper function to extract enabled flag from service config
func getServiceEnabled(serviceConfig types.ServiceConfig) bool {
	return serviceConfig.Enabled
}

// Test basic config structure
func TestConfig_Structure(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			ID:          "spiir-lowlatency",
			Environment: "test",
			Run:         "O4",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Detectors: []string{"H1", "L1"},
	}

	assert.Equal(t, "spiir-lowlatency", cfg.Platform.ID)
	assert.Equal(t, "O4", cfg.Platform.Run)
	assert.Contains(t, cfg.Detectors, "H1")
}

// Test loading config from JSON file
func TestLoader_LoadJSON(t *testing.T) {
	testConfig := `{
		"platform": {
			"id": "spiir-lowlatency-1",
			"environment": "prod",
			"run": "O4"
		},
		"nats": {
			"urls": ["nats://localhost:4222", "nats://localhost:4223"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		},
		"search": {
			"snr_threshold": 5.5,
			"min_trigger_support": 16,
			"timing_margin": "3ms",
			"coincidence_window": "500ms",
			"backpressure_bound": "10s"
		},
		"bank": {
			"path": "/data/banks/o4-bns.json"
		},
		"detectors": ["H1", "L1", "V1"],
		"services": {
			"metrics": {"enabled": true}
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "spiir-lowlatency-1", cfg.Platform.ID)
	assert.Equal(t, "prod", cfg.Platform.Environment)
	assert.Equal(t, "O4", cfg.Platform.Run)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)

	assert.Equal(t, 5.5, cfg.Search.SNRThreshold)
	assert.Equal(t, 16, cfg.Search.MinTriggerSupport)
	assert.Equal(t, 3*time.Millisecond, cfg.Search.TimingMargin)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.CoincidenceWindow)
	assert.Equal(t, 10*time.Second, cfg.Search.BackpressureBound)

	assert.Equal(t, "/data/banks/o4-bns.json", cfg.Bank.Path)
	assert.Equal(t, []string{"H1", "L1", "V1"}, cfg.Detectors)
	assert.True(t, getServiceEnabled(cfg.Services["metrics"]))
}

// Test loading config from YAML file
func TestLoader_LoadYAML(t *testing.T) {
	testConfig := `
platform:
  id: spiir-dev
  run: O4
nats:
  urls:
    - nats://localhost:4222
  reconnect_wait: 3s
search:
  snr_threshold: 4.5
  timing_margin: 2ms
  coincidence_window: 750ms
detectors:
  - H1
  - L1
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "spiir-dev", cfg.Platform.ID)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 4.5, cfg.Search.SNRThreshold)
	assert.Equal(t, 2*time.Millisecond, cfg.Search.TimingMargin)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.CoincidenceWindow)
	assert.Equal(t, []string{"H1", "L1"}, cfg.Detectors)

	// Values not present in the file keep their defaults
	assert.Equal(t, 8, cfg.Search.MinTriggerSupport)
	assert.Equal(t, 5*time.Second, cfg.Search.BackpressureBound)
}

// Test default values
func TestDefaultConfigMatchesLoaderDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// The exported defaults are the same struct the loader starts from.
	assert.NoError(t, cfg.Search.Validate())
	assert.Equal(t, 4.0, cfg.Search.SNRThreshold)
	assert.Equal(t, []string{"H1", "L1"}, cfg.Detectors)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)

	// Callers own their copy; mutating it must not leak into later loads.
	cfg.Search.SNRThreshold = 99
	assert.Equal(t, 4.0, DefaultConfig().Search.SNRThreshold)
}

func TestLoader_Defaults(t *testing.T) {
	// Minimal config with missing fields
	testConfig := `{
		"platform": {
			"id": "spiir-lowlatency"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	// Check defaults were applied
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.True(t, cfg.NATS.JetStream.Enabled)

	assert.Equal(t, 4.0, cfg.Search.SNRThreshold)
	assert.Equal(t, 8, cfg.Search.MinTriggerSupport)
	assert.Equal(t, 2*time.Millisecond, cfg.Search.TimingMargin)
	assert.Equal(t, time.Second, cfg.Search.CoincidenceWindow)
	assert.Equal(t, 32, cfg.Search.GapTolerance)
	assert.Equal(t, 5*time.Second, cfg.Search.BackpressureBound)
	assert.False(t, cfg.Search.EmitSingles)
	assert.True(t, cfg.Search.ChisqEnabled)
	assert.Equal(t, 16, cfg.Search.BlockCapacity)

	assert.Equal(t, []string{"H1", "L1"}, cfg.Detectors)
	assert.Equal(t, ":9090", cfg.Platform.MetricsAddr)
}

// Test environment variable overrides
func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("SPIIR_PLATFORM_ID", "env-platform")
	t.Setenv("SPIIR_NATS_USERNAME", "testuser")
	t.Setenv("SPIIR_NATS_PASSWORD", "testpass")
	t.Setenv("SPIIR_SEARCH_SNR_THRESHOLD", "6.25")
	t.Setenv("SPIIR_DETECTORS", "H1,L1,V1,K1")

	// Base config
	testConfig := `{
		"platform": {
			"id": "json-platform",
			"run": "O4"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	// Env vars should override JSON
	assert.Equal(t, "env-platform", cfg.Platform.ID)
	assert.Equal(t, "testuser", cfg.NATS.Username)
	assert.Equal(t, "testpass", cfg.NATS.Password)
	assert.Equal(t, 6.25, cfg.Search.SNRThreshold)
	assert.Equal(t, []string{"H1", "L1", "V1", "K1"}, cfg.Detectors)

	// JSON value should remain when no env override
	assert.Equal(t, "O4", cfg.Platform.Run)
}

// Test validation
func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name: "missing platform ID",
			config: `{
				"platform": {
					"environment": "test"
				}
			}`,
			wantError: "platform.id is required",
		},
		{
			name: "platform ID not subject safe",
			config: `{
				"platform": {
					"id": "bad id with spaces"
				}
			}`,
			wantError: "not valid for NATS subjects",
		},
		{
			name: "non-positive snr threshold",
			config: `{
				"platform": {"id": "test"},
				"search": {"snr_threshold": -1}
			}`,
			wantError: "snr_threshold must be > 0",
		},
		{
			name: "negative gap tolerance",
			config: `{
				"platform": {"id": "test"},
				"search": {"gap_tolerance": -4}
			}`,
			wantError: "gap_tolerance must be >= 0",
		},
		{
			name: "duplicate detector",
			config: `{
				"platform": {"id": "test"},
				"detectors": ["H1", "H1"]
			}`,
			wantError: "listed twice",
		},
		{
			name: "classify enabled without model",
			config: `{
				"platform": {"id": "test"},
				"classify": {"enabled": true}
			}`,
			wantError: "classify.model_path is required",
		},
		{
			name: "invalid component config - empty component name",
			config: `{
				"platform": {"id": "test"},
				"components": {
					"coincidence": {
						"type": "input",
						"name": "",
						"enabled": true
					}
				}
			}`,
			wantError: "component factory name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.json")
			err := os.WriteFile(configFile, []byte(tt.config), 0644)
			require.NoError(t, err)

			loader := NewLoader()
			loader.EnableValidation(true)

			_, err = loader.LoadFile(configFile)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

// Test merging configuration layers
func TestLoader_LayerMerge(t *testing.T) {
	base := `{
		"platform": {"id": "base", "log_level": "debug"},
		"search": {"snr_threshold": 4.0, "min_trigger_support": 8},
		"detectors": ["H1", "L1"]
	}`
	override := `{
		"platform": {"id": "prod"},
		"search": {"snr_threshold": 5.0},
		"detectors": ["H1", "L1", "V1"]
	}`

	tmpDir := t.TempDir()
	baseFile := filepath.Join(tmpDir, "base.json")
	overrideFile := filepath.Join(tmpDir, "prod.json")
	require.NoError(t, os.WriteFile(baseFile, []byte(base), 0644))
	require.NoError(t, os.WriteFile(overrideFile, []byte(override), 0644))

	loader := NewLoader()
	loader.AddLayer(baseFile)
	loader.AddLayer(overrideFile)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Platform.ID)         // from override
	assert.Equal(t, "debug", cfg.Platform.LogLevel)  // from base
	assert.Equal(t, 5.0, cfg.Search.SNRThreshold)    // from override
	assert.Equal(t, 8, cfg.Search.MinTriggerSupport) // from base
	assert.Equal(t, []string{"H1", "L1", "V1"}, cfg.Detectors)
}

// Test mixed JSON and YAML layers merge identically
func TestLoader_MixedLayerFormats(t *testing.T) {
	base := `{"platform": {"id": "base"}, "search": {"snr_threshold": 4.0}}`
	override := "search:\n  snr_threshold: 7.0\n"

	tmpDir := t.TempDir()
	baseFile := filepath.Join(tmpDir, "base.json")
	overrideFile := filepath.Join(tmpDir, "override.yaml")
	require.NoError(t, os.WriteFile(baseFile, []byte(base), 0644))
	require.NoError(t, os.WriteFile(overrideFile, []byte(override), 0644))

	loader := NewLoader()
	loader.AddLayer(baseFile)
	loader.AddLayer(overrideFile)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Platform.ID)
	assert.Equal(t, 7.0, cfg.Search.SNRThreshold)
}

// Test saving configuration back to file
func TestConfig_Save(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			ID:  "save-test",
			Run: "O4",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://server1:4222", "nats://server2:4222"},
			MaxReconnects: 10,
		},
		Search: SearchConfig{
			SNRThreshold:      4.0,
			TimingMargin:      2 * time.Millisecond,
			CoincidenceWindow: time.Second,
			BackpressureBound: 5 * time.Second,
			BlockCapacity:     16,
		},
		Detectors: []string{"H1", "L1"},
		Services: types.ServiceConfigs{
			"metrics": types.ServiceConfig{
				Name:    "metrics",
				Enabled: true,
				Config:  json.RawMessage(`{}`),
			},
		},
	}

	tmpDir := t.TempDir()
	saveFile := filepath.Join(tmpDir, "saved.json")

	err := cfg.SaveToFile(saveFile)
	require.NoError(t, err)

	// Load it back
	loader := NewLoader()
	loaded, err := loader.LoadFile(saveFile)
	require.NoError(t, err)

	assert.Equal(t, cfg.Platform.ID, loaded.Platform.ID)
	assert.Equal(t, cfg.Platform.Run, loaded.Platform.Run)
	assert.Equal(t, cfg.NATS.URLs, loaded.NATS.URLs)
	assert.Equal(t, cfg.NATS.MaxReconnects, loaded.NATS.MaxReconnects)
	assert.Equal(t, cfg.Search.SNRThreshold, loaded.Search.SNRThreshold)
	assert.Equal(t, cfg.Search.TimingMargin, loaded.Search.TimingMargin)
	assert.Equal(t, cfg.Detectors, loaded.Detectors)
	assert.True(t, getServiceEnabled(loaded.Services["metrics"]))
}

// Duration fields accept both strings and nanosecond numbers
func TestSearchConfig_DurationForms(t *testing.T) {
	var fromString SearchConfig
	err := json.Unmarshal([]byte(`{"timing_margin": "4ms", "coincidence_window": "2s"}`), &fromString)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Millisecond, fromString.TimingMargin)
	assert.Equal(t, 2*time.Second, fromString.CoincidenceWindow)

	var fromNumber SearchConfig
	err = json.Unmarshal([]byte(`{"timing_margin": 4000000, "backpressure_bound": 5000000000}`), &fromNumber)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Millisecond, fromNumber.TimingMargin)
	assert.Equal(t, 5*time.Second, fromNumber.BackpressureBound)

	var bad SearchConfig
	err = json.Unmarshal([]byte(`{"timing_margin": "not-a-duration"}`), &bad)
	assert.Error(t, err)

	// Partial updates leave absent fields untouched
	partial := SearchConfig{TimingMargin: time.Millisecond, CoincidenceWindow: time.Second}
	err = json.Unmarshal([]byte(`{"coincidence_window": "3s"}`), &partial)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, partial.TimingMargin)
	assert.Equal(t, 3*time.Second, partial.CoincidenceWindow)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2  string
		want    int
		wantErr bool
	}{
		{"1.0.0", "1.0.0", 0, false},
		{"1.2.3", "1.2.4", -1, false},
		{"2.0.0", "1.9.9", 1, false},
		{"v1.1.0", "1.0.9", 1, false},
		{"1.0", "1.0.0", 0, true},
		{"", "1.0.0", 0, true},
	}

	for _, tt := range tests {
		got, err := CompareVersions(tt.v1, tt.v2)
		if tt.wantErr {
			assert.Error(t, err, "%s vs %s", tt.v1, tt.v2)
			continue
		}
		require.NoError(t, err, "%s vs %s", tt.v1, tt.v2)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.v1, tt.v2)
	}
}
