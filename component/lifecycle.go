package component

import (
	"context"
	"time"
)

// State is the lifecycle state of a component.
type State int

const (
	// StateCreated means the factory ran but Initialize has not.
	StateCreated State = iota
	// StateInitialized means resources exist but nothing is processing.
	StateInitialized
	// StateStarted means the component is running.
	StateStarted
	// StateStopped means the component shut down cleanly.
	StateStopped
	// StateFailed means a lifecycle operation returned an error.
	StateFailed
)

// String returns the lowercase name of the state.
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is a component under full lifecycle management.
// Initialize allocates without a context; Start receives the engine's
// child context; Stop bounds graceful shutdown with a timeout. Every
// pipeline stage, the coincidence engine included, implements this.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state.
// The engine keeps one of these per built component to coordinate
// startup order and shutdown.
type ManagedComponent struct {
	// Component is the actual component instance.
	Component Discoverable

	// State tracks the current lifecycle state.
	State State

	// Named child context for this specific component.
	//
	// The engine creates a child context per component and passes it to
	// lifecycle.Start(ctx). The component itself never stores the context;
	// it receives it as a parameter. Only the engine holds these handles,
	// so it can cancel one component without tearing down the rest.
	Context context.Context
	Cancel  context.CancelFunc

	// StartOrder records start position; shutdown runs in reverse so
	// downstream consumers outlive their producers.
	StartOrder int

	// LastError holds the most recent lifecycle failure.
	LastError error
}

// IsLifecycleComponent reports whether comp is under lifecycle management.
func IsLifecycleComponent(comp Discoverable) bool {
	_, ok := comp.(LifecycleComponent)
	return ok
}

// AsLifecycleComponent casts comp to LifecycleComponent.
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}
