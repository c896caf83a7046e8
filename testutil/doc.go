// Package testutil provides shared fixtures for search tests: synthetic
// strain blocks, JSONL strain recordings, and small template banks.
//
// Fixtures go through the same code paths production uses. Banks are built
// with template.Parse so ordinals, supports, and rejection behave exactly
// as a real load, and recordings are written in the envelope format the
// replay input decodes.
//
// Transport is never mocked here. Unit tests exercise component logic
// directly; tests that need a broker use natsclient.NewTestClient, which
// runs a real NATS server in a container.
package testutil
