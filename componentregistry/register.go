// Package componentregistry wires every search component into a single
// registration call. The engine builds its registry through Register so
// flow configurations can name components without importing them.
package componentregistry

import (
	"errors"

	"github.com/tanghyd/spiir-search/component"
	pkgerrors "github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/input/replay"
	"github.com/tanghyd/spiir-search/input/udp"
	"github.com/tanghyd/spiir-search/output/eventstore"
	"github.com/tanghyd/spiir-search/output/gracedb"
	"github.com/tanghyd/spiir-search/output/jsonl"
	"github.com/tanghyd/spiir-search/output/wsfeed"
	"github.com/tanghyd/spiir-search/pipeline"
)

// Register registers all search components with the provided registry:
//
// Inputs:
//   - UDP strain input (live detector datagrams)
//   - Replay input (recorded JSONL strain)
//
// Processors:
//   - Pipeline controller (filtering, triggers, coincidence, ranking)
//
// Outputs:
//   - JSONL archive (events and triggers on disk)
//   - Event store (SQLite persistence for follow-up)
//   - GraceDB submitter (candidate upload)
//   - WebSocket feed (live monitoring)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error, not invalid input.
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	// Inputs
	if err := udp.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "UDP input component registration")
	}

	if err := replay.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "replay input component registration")
	}

	// Processors
	if err := pipeline.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "pipeline component registration")
	}

	// Outputs
	if err := jsonl.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "JSONL archive component registration")
	}

	if err := eventstore.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "event store component registration")
	}

	if err := gracedb.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "GraceDB submitter component registration")
	}

	if err := wsfeed.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "WebSocket feed component registration")
	}

	return nil
}
