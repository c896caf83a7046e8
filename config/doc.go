// Package config provides configuration management for the search pipeline.
//
// This package handles loading, validation, and dynamic updates of application
// configuration from JSON or YAML files, environment variables, and the NATS
// KV store.
//
// # Core Components
//
// Config: Main configuration structure containing platform identity, NATS
// connection details, the search parameter block, template bank and detector
// selection, and component definitions.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Manager: Manages the complete lifecycle of configuration including
// initialization, NATS KV watching, change notifications via channels, and
// graceful shutdown with timeout handling.
//
// Loader: Loads configuration with layer merging (base + overrides) and
// environment variable substitution for flexible deployment scenarios.
//
// # Basic Usage
//
// Loading configuration from files with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/o4-production.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Search Parameters
//
// The search block carries the knobs shared by the filter, trigger,
// coincidence and pipeline stages. Durations accept Go duration strings:
//
//	search:
//	  snr_threshold: 4.0
//	  min_trigger_support: 8
//	  timing_margin: 2ms
//	  coincidence_window: 1s
//	  gap_tolerance: 32
//	  backpressure_bound: 5s
//	  emit_singles: false
//	  chisq_enabled: true
//	  block_capacity: 16
//
// # Dynamic Configuration
//
// Using Manager for runtime updates via NATS KV:
//
//	cm, err := config.NewConfigManager(cfg, natsClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Start watching for config changes
//	if err := cm.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop(5 * time.Second)
//
//	// Subscribe to specific config changes
//	updates := cm.OnChange("search")
//	for update := range updates {
//		log.Printf("Search config changed: %s", update.Path)
//	}
//
// Changing the SNR threshold through KV takes effect on the next trigger
// scan without restarting the pipeline. Structural settings (bank path,
// detector set) are picked up by the manager too, but components read them
// once at Initialize, so those changes require a component restart.
//
// # Environment Variable Overrides
//
// Configuration values can be overridden using environment variables:
//
//	# Override platform ID
//	export SPIIR_PLATFORM_ID="spiir-lowlatency-1"
//
//	# Override NATS URLs (comma-separated)
//	export SPIIR_NATS_URLS="nats://server1:4222,nats://server2:4222"
//
//	# Select detectors without editing files
//	export SPIIR_DETECTORS="H1,L1,V1"
//
// # Layer Merging
//
// Configuration layers are merged with last-wins semantics:
//
//	base.json:
//	  {"platform": {"id": "dev", "log_level": "debug"}}
//
//	production.json:
//	  {"platform": {"id": "prod"}}
//
//	Result:
//	  {"platform": {"id": "prod", "log_level": "debug"}}
//
// YAML layers are decoded to the same map shape before merging, so JSON and
// YAML files can be mixed freely in one layer stack.
//
// # Security
//
// The package includes security validation:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - Path validation to prevent directory traversal
//   - Regular file checks (no symlinks or device files)
package config
