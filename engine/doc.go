// Package engine builds and supervises the search components declared in
// configuration.
//
// # Overview
//
// The engine is the runtime core of spiird. It reads the component map from
// config (components.*), creates each enabled instance through the component
// registry, checks that the resulting NATS subject wiring is coherent, and
// then drives the shared lifecycle:
//
//	Build(ctx)    - create and Initialize all enabled components
//	Validate()    - subject wiring analysis over the built set
//	Start(ctx)    - start components concurrently, fail fast on error
//	Stop(timeout) - stop components in reverse start order
//
// The component topology is fixed at load time. There is no runtime
// deployment surface: changing the search layout means editing config and
// restarting the process.
//
// # Wiring validation
//
// Components declare their NATS ports through the Discoverable interface.
// Validate builds a flow graph from the live instances, auto-connects ports
// by subject pattern, and reports orphans:
//
//   - a required stream input with no publisher is an error (the component
//     would sit idle forever, e.g. a pipeline with no strain source)
//   - an output with no subscriber is a warning (data published to NATS
//     with nobody listening)
//
// Start refuses to run a wiring with errors, so a typo in a subject shows
// up at boot rather than as silence on the trigger stream.
//
// # Supervision
//
// Start launches every lifecycle component in an errgroup and waits for
// all Start calls to return; a failure rolls the already-started set back
// down. Components own their goroutines after a successful Start; the
// engine tracks their contexts and cancels them on Stop, then calls each
// Stop(timeout) in reverse start order.
//
// # Error handling
//
//   - WrapInvalid: unknown factory, wiring errors, lifecycle misuse
//   - WrapTransient: component start/stop failures
package engine
