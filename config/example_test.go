package config_test

import (
	"fmt"
	"log"

	"github.com/tanghyd/spiir-search/config"
)

// ExampleLoader_Load demonstrates loading configuration from multiple layers
// with environment variable overrides and validation.
func ExampleLoader_Load() {
	loader := config.NewLoader()

	// Add base configuration layer
	loader.AddLayer("testdata/base.json")

	// Add environment-specific overrides
	loader.AddLayer("testdata/production.yaml")

	// Enable validation to catch errors early
	loader.EnableValidation(true)

	// Load merged configuration
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Platform.ID)
	fmt.Println(cfg.Search.SNRThreshold)
	// Output:
	// spiir-o4-prod
	// 5.5
}

// ExampleLoader_Load_environmentOverrides demonstrates using environment
// variables to override configuration values at runtime.
func ExampleLoader_Load_environmentOverrides() {
	// Set environment variables (in real usage, these would be set externally)
	// export SPIIR_PLATFORM_ID="spiir-o4-cit"
	// export SPIIR_NATS_URLS="nats://server1:4222,nats://server2:4222"
	// export SPIIR_DETECTORS="H1,L1,V1"

	loader := config.NewLoader()
	loader.AddLayer("testdata/base.json")

	cfg, err := loader.Load()
	if err != nil {
		log.Fatal(err)
	}

	// Platform ID, NATS URLs and the detector set can be overridden via
	// environment without touching the files
	fmt.Printf("Platform: %s\n", cfg.Platform.ID)
	fmt.Printf("Detectors: %v\n", cfg.Detectors)
	// Output:
	// Platform: spiir-dev
	// Detectors: [H1 L1]
}

// ExampleSafeConfig_Get demonstrates thread-safe configuration access.
// The Get method returns a deep copy, preventing accidental mutations.
func ExampleSafeConfig_Get() {
	safeConfig := config.NewSafeConfig(&config.Config{
		Platform: config.PlatformConfig{ID: "spiir-dev"},
	})

	// Get returns a deep copy - safe to use without locks
	cfg := safeConfig.Get()

	// The returned config is a copy, so modifications don't affect
	// the shared state
	cfg.Platform.ID = "modified"

	fmt.Println(safeConfig.Get().Platform.ID)
	// Output: spiir-dev
}

// ExampleManager demonstrates the complete lifecycle of dynamic
// configuration management with NATS KV watching.
func ExampleManager() {
	// This example shows the complete pattern, but cannot run without NATS
	// In real usage:

	// 1. Load initial configuration
	// loader := config.NewLoader()
	// loader.AddLayer("config/base.yaml")
	// cfg, err := loader.Load()

	// 2. Create Manager with NATS client
	// cm, err := config.NewConfigManager(cfg, natsClient, logger)
	// if err != nil {
	//     log.Fatal(err)
	// }

	// 3. Start watching for changes
	// ctx := context.Background()
	// if err := cm.Start(ctx); err != nil {
	//     log.Fatal(err)
	// }
	// defer cm.Stop(5 * time.Second)

	// 4. Subscribe to configuration changes
	// updates := cm.OnChange("search")
	// go func() {
	//     for update := range updates {
	//         cfg := update.Config.Get()
	//         log.Printf("SNR threshold now %g", cfg.Search.SNRThreshold)
	//     }
	// }()

	// 5. Push local changes to NATS KV
	// cm.PushToKV(ctx)

	fmt.Println("Dynamic configuration management")
	// Output: Dynamic configuration management
}

// ExampleManager_OnChange demonstrates subscribing to specific
// configuration change patterns.
func ExampleManager_OnChange() {
	// Assume we have a running Manager
	// cm := getConfigManager()

	// Subscribe to the search knobs (threshold, windows, gap tolerance)
	// searchUpdates := cm.OnChange("search")

	// Subscribe to specific component changes
	// componentUpdates := cm.OnChange("components.udp-strain-h1")

	// Subscribe to the detector selection
	// detectorUpdates := cm.OnChange("detectors")

	// Process updates
	// go func() {
	//     for update := range searchUpdates {
	//         applySearchKnobs(update.Config.Get().Search)
	//     }
	// }()

	fmt.Println("Subscribed to configuration changes")
	// Output: Subscribed to configuration changes
}
