package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tanghyd/spiir-search/pkg/security"
	"github.com/tanghyd/spiir-search/types"
)

// ComponentConfigs holds component instance configurations.
// The map key is the instance name (e.g., "udp-strain-h1").
// Components are only created if both:
// 1. Their factory has been registered via init()
// 2. They have an entry in this config map with enabled=true
type ComponentConfigs map[string]types.ComponentConfig

// Config represents the complete application configuration.
// Version gates KV sync; Platform is deployment identity; NATS is the message
// bus; Search carries the detection knobs; Bank, Detectors and Classify
// select what the search runs over; Services and Components are instance maps.
type Config struct {
	Version    string               `json:"version"` // Semantic version (e.g., "1.0.0") for KV sync control
	Platform   PlatformConfig       `json:"platform"`
	NATS       NATSConfig           `json:"nats"`
	Search     SearchConfig         `json:"search"`
	Bank       BankConfig           `json:"bank"`
	Detectors  []string             `json:"detectors"` // Enabled detector site ids (e.g., ["H1","L1"])
	Classify   ClassifyConfig       `json:"classify,omitempty"`
	Security   security.Config      `json:"security,omitempty"`
	Services   types.ServiceConfigs `json:"services"`   // Map of service configs
	Components ComponentConfigs     `json:"components"` // Map of component instance configs
}

// SafeConfig guards the live configuration. Watcher goroutines swap it
// while components read it, so all access goes through Get and Update.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps a configuration for concurrent access.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration. Callers may
// mutate the copy freely, typically before handing it back to Update.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates the new configuration and swaps it in atomically.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone deep-copies the configuration through a JSON round trip. The
// section types are all plain data, so the round trip is lossless; if
// marshaling somehow fails the caller gets a shallow copy rather than nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// PlatformConfig defines deployment identity
type PlatformConfig struct {
	ID          string `json:"id"`                     // Deployment identifier (e.g., "spiir-lowlatency-1")
	Environment string `json:"environment,omitempty"`  // "prod", "dev", "test"
	Run         string `json:"run,omitempty"`          // Observing run label (e.g., "O4")
	LogLevel    string `json:"log_level,omitempty"`    // debug, info, warn, error
	LogFormat   string `json:"log_format,omitempty"`   // text, json
	MetricsAddr string `json:"metrics_addr,omitempty"` // listen address for /metrics and /health
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// JetStreamConfig for JetStream settings
type JetStreamConfig struct {
	Enabled           bool   `json:"enabled"`
	Domain            string `json:"domain,omitempty"`
	MaxMemory         int64  `json:"max_memory,omitempty"`
	MaxFileStore      int64  `json:"max_file_store,omitempty"`
	RetentionPolicy   string `json:"retention_policy,omitempty"`
	ReplicationFactor int    `json:"replication_factor,omitempty"`
}

// SearchConfig carries the detection parameters shared by the filter,
// trigger, coincidence and pipeline stages.
type SearchConfig struct {
	SNRThreshold      float64       `json:"snr_threshold"`       // trigger magnitude threshold (> 0)
	MinTriggerSupport int           `json:"min_trigger_support"` // samples a candidate must span to survive Interrupt
	TimingMargin      time.Duration `json:"timing_margin"`       // added to light travel time in the pair window
	CoincidenceWindow time.Duration `json:"coincidence_window"`  // maximum open-group age before forced close
	GapTolerance      int           `json:"gap_tolerance"`       // samples a gap may span and still be zero-filled
	BackpressureBound time.Duration `json:"backpressure_bound"`  // blocked-ingest duration before degraded latency
	EmitSingles       bool          `json:"emit_singles"`        // emit single-detector candidates
	ChisqEnabled      bool          `json:"chisq_enabled"`       // compute signal-consistency values
	BlockCapacity     int           `json:"block_capacity"`      // per-detector ingest queue depth, in blocks
}

// BankConfig locates and bounds the template bank load
type BankConfig struct {
	Path            string `json:"path"`                       // coefficient bank JSON file
	ValidateWorkers int    `json:"validate_workers,omitempty"` // parallel validation workers (0 = NumCPU)
}

// ClassifyConfig configures optional source classification
type ClassifyConfig struct {
	Enabled   bool   `json:"enabled"`
	ModelPath string `json:"model_path,omitempty"` // chirp-mass-area coefficient JSON
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	// Platform id feeds NATS subjects, so it must be subject-safe
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return fmt.Errorf(
			"platform.id '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Platform.ID,
		)
	}

	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Detectors))
	for _, det := range c.Detectors {
		if det == "" {
			return errors.New("detectors entries cannot be empty")
		}
		if !isValidNATSSubjectPart(det) {
			return fmt.Errorf("detector id '%s' is not valid for NATS subjects", det)
		}
		if seen[det] {
			return fmt.Errorf("detector id '%s' listed twice", det)
		}
		seen[det] = true
	}

	if c.Classify.Enabled && c.Classify.ModelPath == "" {
		return errors.New("classify.model_path is required when classification is enabled")
	}

	// Validate Components
	for instanceName, config := range c.Components {
		if instanceName == "" {
			return errors.New("component instance name cannot be empty")
		}
		if err := config.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", instanceName, err)
		}
	}

	return nil
}

// Validate checks the search parameter ranges
func (s *SearchConfig) Validate() error {
	if s.SNRThreshold <= 0 {
		return fmt.Errorf("snr_threshold must be > 0, got %g", s.SNRThreshold)
	}
	if s.MinTriggerSupport < 0 {
		return fmt.Errorf("min_trigger_support must be >= 0, got %d", s.MinTriggerSupport)
	}
	if s.TimingMargin < 0 {
		return fmt.Errorf("timing_margin must be >= 0, got %v", s.TimingMargin)
	}
	if s.CoincidenceWindow <= 0 {
		return fmt.Errorf("coincidence_window must be > 0, got %v", s.CoincidenceWindow)
	}
	if s.GapTolerance < 0 {
		return fmt.Errorf("gap_tolerance must be >= 0, got %d", s.GapTolerance)
	}
	if s.BackpressureBound <= 0 {
		return fmt.Errorf("backpressure_bound must be > 0, got %v", s.BackpressureBound)
	}
	if s.BlockCapacity <= 0 {
		return fmt.Errorf("block_capacity must be > 0, got %d", s.BlockCapacity)
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Loader assembles the configuration from defaults, layered files and
// environment overrides, in that order of precedence.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with no layers and validation off.
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "SPIIR",
	}
}

// AddLayer appends a configuration file layer (JSON or YAML by extension).
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles validation of the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file, replacing any layers.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order and environment overrides
// into one configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawLayer(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (l *Loader) getDefaults() *Config {
	return DefaultConfig()
}

// DefaultConfig returns the built-in defaults every load starts from.
// Components that carry a SearchConfig of their own seed it from here so
// the defaults exist in exactly one place.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Environment: "dev",
			LogLevel:    "info",
			LogFormat:   "text",
			MetricsAddr: ":9090",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: JetStreamConfig{
				Enabled: true,
			},
		},
		Search: SearchConfig{
			SNRThreshold:      4.0,
			MinTriggerSupport: 8,
			TimingMargin:      2 * time.Millisecond,
			CoincidenceWindow: 1 * time.Second,
			GapTolerance:      32,
			BackpressureBound: 5 * time.Second,
			EmitSingles:       false,
			ChisqEnabled:      true,
			BlockCapacity:     16,
		},
		Detectors: []string{"H1", "L1"},
		Services:  types.ServiceConfigs{},
	}
}

// loadRawLayer loads a configuration layer as a map. JSON and YAML files are
// both accepted; YAML is converted to the same map shape so the merge and the
// json struct tags apply uniformly.
func (l *Loader) loadRawLayer(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	if isYAMLPath(path) {
		rawConfig, err = decodeYAMLLayer(data)
		if err != nil {
			return nil, err
		}
	} else {
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, err
		}
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap overlays a raw layer onto the base config. Merging
// happens in map space so only keys the layer actually carries override
// the base; a layer that never mentions snr_threshold leaves it alone.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps merges override into base recursively. Nested maps merge
// key by key; anything else from the override wins outright.
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations rewrites duration strings in a raw layer to nanosecond
// numbers so the json struct tags unmarshal them uniformly.
func (l *Loader) parseDurations(data map[string]any) {
	if nats, ok := data["nats"].(map[string]any); ok {
		parseDurationKey(nats, "reconnect_wait")
	}

	if search, ok := data["search"].(map[string]any); ok {
		parseDurationKey(search, "timing_margin")
		parseDurationKey(search, "coincidence_window")
		parseDurationKey(search, "backpressure_bound")
	}
}

// parseDurationKey rewrites a duration string under key to nanoseconds in place
func parseDurationKey(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies SPIIR_-prefixed environment overrides. Only
// the knobs operators actually retune from a shell are exposed here; the
// rest stay file- or KV-driven.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := l.envValue("_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := l.envValue("_PLATFORM_ENVIRONMENT"); val != "" {
		cfg.Platform.Environment = val
	}
	if val := l.envValue("_LOG_LEVEL"); val != "" {
		cfg.Platform.LogLevel = val
	}

	if val := l.envValue("_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := l.envValue("_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := l.envValue("_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := l.envValue("_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	if val := l.envValue("_SEARCH_SNR_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Search.SNRThreshold = f
		}
	}
	if val := l.envValue("_SEARCH_EMIT_SINGLES"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Search.EmitSingles = b
		}
	}

	if val := l.envValue("_BANK_PATH"); val != "" {
		cfg.Bank.Path = val
	}
	if val := l.envValue("_DETECTORS"); val != "" {
		cfg.Detectors = strings.Split(val, ",")
	}
}

// envValue reads a prefixed environment variable, dropping values that fail
// basic sanity checks.
func (l *Loader) envValue(suffix string) string {
	key := l.envPrefix + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return ""
	}
	return val
}

// SaveToFile writes the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return safeWriteFile(path, data)
}

// String returns the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// CompareVersions compares two semver strings, returning -1, 0 or 1 as
// v1 is older than, equal to or newer than v2. The manager uses this to
// decide whether a file config should overwrite KV on startup.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}

	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	for i := range a {
		if a[i] > b[i] {
			return 1, nil
		}
		if a[i] < b[i] {
			return -1, nil
		}
	}

	return 0, nil
}

// parseSemVer parses "major.minor.patch", with an optional leading v.
func parseSemVer(version string) ([3]int, error) {
	var nums [3]int

	if version == "" {
		return nums, errors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return nums, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nums, fmt.Errorf("invalid version component '%s': %w", part, err)
		}
		nums[i] = n
	}

	return nums, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for NATSConfig so
// reconnect_wait accepts both duration strings and nanosecond numbers.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait any `json:"reconnect_wait"`
		*Alias
	}{
		Alias: (*Alias)(n),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.ReconnectWait != nil {
		d, err := durationFromAny(aux.ReconnectWait)
		if err != nil {
			return fmt.Errorf("nats.reconnect_wait: %w", err)
		}
		n.ReconnectWait = d
	}

	return nil
}

// UnmarshalJSON implements custom JSON unmarshaling for SearchConfig so the
// window fields accept both duration strings and nanosecond numbers.
func (s *SearchConfig) UnmarshalJSON(data []byte) error {
	type Alias SearchConfig
	aux := &struct {
		TimingMargin      any `json:"timing_margin"`
		CoincidenceWindow any `json:"coincidence_window"`
		BackpressureBound any `json:"backpressure_bound"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimingMargin != nil {
		d, err := durationFromAny(aux.TimingMargin)
		if err != nil {
			return fmt.Errorf("search.timing_margin: %w", err)
		}
		s.TimingMargin = d
	}
	if aux.CoincidenceWindow != nil {
		d, err := durationFromAny(aux.CoincidenceWindow)
		if err != nil {
			return fmt.Errorf("search.coincidence_window: %w", err)
		}
		s.CoincidenceWindow = d
	}
	if aux.BackpressureBound != nil {
		d, err := durationFromAny(aux.BackpressureBound)
		if err != nil {
			return fmt.Errorf("search.backpressure_bound: %w", err)
		}
		s.BackpressureBound = d
	}

	return nil
}

// durationFromAny accepts a duration string ("250ms") or a numeric
// nanosecond count, matching how layers round-trip through JSON.
func durationFromAny(v any) (time.Duration, error) {
	switch val := v.(type) {
	case string:
		return time.ParseDuration(val)
	case float64:
		return time.Duration(val), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}
