// Package component provides the core component infrastructure for the
// search pipeline, enabling dynamic component discovery, registration,
// lifecycle management, and instance creation.
//
// # Overview
//
// The component package defines fundamental abstractions for all pipeline
// components, supporting four component types: inputs (strain sources),
// processors (filtering, trigger extraction, coincidence), outputs (event
// sinks), and storage (persistence). Components are self-describing units
// that can be discovered at runtime, configured through schemas, and managed
// through their lifecycle.
//
// The Registry serves as the central component management system, handling
// both factory registration and instance management with thread-safe
// operations and proper lifecycle control.
//
// # Component Registration Pattern
//
// Registration is EXPLICIT rather than init() self-registration. This provides:
//   - Testability: Can create isolated registries for testing
//   - Explicitness: Clear component dependency graph
//   - Control: Main application controls what gets registered
//   - No side effects: No global state modification during package initialization
//
// Registration Flow:
//
//  1. Each component package exports a Register(*Registry) error function
//  2. componentregistry.Register() orchestrates all registrations
//  3. main.go explicitly calls Register() with a created Registry
//  4. Components are now available for instantiation
//
// Example component registration:
//
//	// In input/udp/udp.go
//	func Register(registry *component.Registry) error {
//		return registry.RegisterWithConfig(component.RegistrationConfig{
//			Name:        "udp",
//			Factory:     CreateUDPInput,
//			Schema:      udpSchema,
//			Type:        "input",
//			Protocol:    "udp",
//			Domain:      "strain",
//			Description: "UDP input component for strain sample blocks",
//			Version:     "1.0.0",
//		})
//	}
//
// # Quick Start
//
// Creating and using a component:
//
//	// Create component registry and register all components
//	registry := component.NewRegistry()
//	if err := componentregistry.Register(registry); err != nil {
//		return err
//	}
//
//	// Create component configuration
//	config := types.ComponentConfig{
//		Type:    types.ComponentTypeInput,
//		Name:    "udp",
//		Enabled: true,
//		Config:  json.RawMessage(`{"port": 4001, "bind": "0.0.0.0", "detector": "H1"}`),
//	}
//
//	// Prepare component dependencies
//	deps := component.Dependencies{
//		NATSClient: natsClient,
//		Platform: component.PlatformMeta{
//			Platform: "spiir-lowlatency-1",
//			Run:      "O4",
//		},
//		Logger: slog.Default(),
//	}
//
//	// Create component instance
//	instance, err := registry.CreateComponent("strain-h1", config, deps)
//	if err != nil {
//		return err
//	}
//
//	// Component is now ready to use
//	meta := instance.Meta()
//	health := instance.Health()
//
// # Port Types
//
// Components declare their inputs and outputs using strongly-typed ports that
// implement the Portable interface:
//
//   - NATSPort: core pub/sub messaging on NATS subjects
//   - JetStreamPort: Durable streaming with JetStream for reliable delivery
//   - KVWatchPort: Watch KV bucket changes for real-time state observation
//   - KVWritePort: Declare writes to KV buckets for flow validation
//   - NATSRequestPort: Request/reply pattern with timeouts
//   - NetworkPort: TCP/UDP network bindings for external connectivity
//   - FilePort: File system access (bank files, archives)
//
// Example port configuration:
//
//	func (c *CoincidenceProcessor) OutputPorts() []component.Port {
//		return []component.Port{
//			{
//				Name:      "events",
//				Direction: component.DirectionOutput,
//				Required:  true,
//				Config:    component.NATSPort{Subject: "events.candidate"},
//			},
//			{
//				Name:      "checkpoints",
//				Direction: component.DirectionOutput,
//				Required:  false,
//				Config: component.KVWritePort{
//					Bucket: "spiir-checkpoints",
//					Interface: &component.InterfaceContract{
//						Type:    "pipeline.Checkpoint",
//						Version: "v1",
//					},
//				},
//			},
//		}
//	}
//
// # Configuration Schema
//
// Components define their configuration through ConfigSchema, which is
// generated from struct tags at init time (see GenerateConfigSchema) and
// validated before config persistence with ValidateConfig:
//
//	config := map[string]any{
//		"port": 99999,  // Exceeds maximum
//	}
//
//	errors := component.ValidateConfig(config, schema)
//	if len(errors) > 0 {
//		// Returns: [{Field: "port", Message: "port must be <= 65535", Code: "max"}]
//	}
//
// # Factory Pattern
//
// Component factories follow a consistent signature:
//
//	type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)
//
// Factories:
//   - Receive raw JSON configuration and parse it themselves (SafeUnmarshal)
//   - Validate configuration before creating instances
//   - Return initialized components ready for Initialize/Start
//   - Perform no I/O; connections are opened in Start(ctx)
//
// # Registry Thread Safety
//
// All Registry operations are thread-safe:
//   - Factory registration uses write locks
//   - Component creation uses read locks for factory lookup
//   - Instance tracking uses write locks
//   - Listing operations use read locks
//
// Exclusive resources (UDP ports) are tracked across instances so two
// components cannot bind the same address.
//
// # Testing
//
// The explicit registration pattern makes testing straightforward:
//
//	// Create isolated test registry
//	registry := component.NewRegistry()
//
//	// Register only components needed for test
//	if err := udp.Register(registry); err != nil {
//		t.Fatal(err)
//	}
//
//	// Create test dependencies backed by a containerized NATS server
//	tc, err := natsclient.NewTestClient()
//	require.NoError(t, err)
//	defer tc.Terminate()
//
//	deps := component.Dependencies{
//		NATSClient: tc.Client,
//		Platform: component.PlatformMeta{
//			Platform: "spiir-lowlatency",
//			Run:      "test",
//		},
//		Logger: slog.Default(),
//	}
//
//	// Test component creation
//	instance, err := registry.CreateComponent("strain-test", config, deps)
//	require.NoError(t, err)
package component
