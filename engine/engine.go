package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/health"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/pkg/security"
)

// Engine creates components from configuration and manages their lifecycle.
type Engine struct {
	registry   *component.Registry
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *engineMetrics

	platform component.PlatformMeta
	security security.Config

	mu         sync.RWMutex
	components map[string]*component.ManagedComponent
	startOrder []string

	built   atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup
}

// Options carries the shared facilities handed to every component.
type Options struct {
	Registry        *component.Registry
	NATSClient      *natsclient.Client
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Platform        component.PlatformMeta
	Security        security.Config
}

// New creates an engine. The registry must already have the component
// factories registered (see componentregistry.Register).
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "New", "registry validation")
	}
	if opts.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "New", "NATS client validation")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newEngineMetrics(opts.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil
	}

	return &Engine{
		registry:   opts.Registry,
		natsClient: opts.NATSClient,
		logger:     logger,
		metrics:    metrics,
		platform:   opts.Platform,
		security:   opts.Security,
		components: make(map[string]*component.ManagedComponent),
	}, nil
}

// Build creates and initializes every enabled component from the config
// map. Components are created in sorted instance-name order so boot logs
// and error attribution are deterministic. A single bad component fails
// the whole build: the search topology is not useful with a stage missing.
func (e *Engine) Build(ctx context.Context, configs config.ComponentConfigs) error {
	start := time.Now()
	success := false
	defer func() {
		e.metrics.recordBuild(success, time.Since(start).Seconds())
	}()

	if e.built.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("engine already built"), "Engine", "Build", "lifecycle check")
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := e.componentDependencies()

	for _, name := range names {
		cfg := configs[name]
		if !cfg.Enabled {
			e.logger.Debug("Skipping disabled component", "instance", name)
			continue
		}

		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Engine", "Build", "context check")
		default:
		}

		comp, err := e.registry.CreateComponent(name, cfg, deps)
		if err != nil {
			return errors.Wrap(err,
				"Engine", "Build", fmt.Sprintf("create component '%s'", name))
		}

		mc := &component.ManagedComponent{
			Component: comp,
			State:     component.StateCreated,
		}

		if lifecycle, ok := component.AsLifecycleComponent(comp); ok {
			if err := lifecycle.Initialize(); err != nil {
				e.registry.UnregisterInstance(name)
				return errors.Wrap(err,
					"Engine", "Build", fmt.Sprintf("initialize component '%s'", name))
			}
			mc.State = component.StateInitialized
		}

		e.mu.Lock()
		e.components[name] = mc
		e.mu.Unlock()

		e.logger.Info("Component built",
			"instance", name,
			"factory", cfg.Name,
			"type", cfg.Type)
	}

	e.built.Store(true)
	success = true
	return nil
}

// Start starts all built components concurrently and waits for every
// Start call to return. If any component fails, the ones that did start
// are stopped again and the first error is returned. Wiring errors found
// by Validate abort the start before any component runs.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()
	success := false
	defer func() {
		e.metrics.recordStart(success, time.Since(start).Seconds())
	}()

	if !e.built.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("engine not built"), "Engine", "Start", "lifecycle check")
	}
	if e.started.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("engine already started"), "Engine", "Start", "lifecycle check")
	}

	result := e.Validate()
	for _, issue := range result.Warnings {
		e.logger.Warn("Component wiring warning",
			"component", issue.ComponentName,
			"port", issue.PortName,
			"message", issue.Message)
	}
	if len(result.Errors) > 0 {
		for _, issue := range result.Errors {
			e.logger.Error("Component wiring error",
				"component", issue.ComponentName,
				"port", issue.PortName,
				"message", issue.Message)
		}
		return errors.WrapInvalid(
			fmt.Errorf("%d wiring errors", len(result.Errors)),
			"Engine", "Start", "wiring validation")
	}

	e.mu.Lock()
	names := make([]string, 0, len(e.components))
	for name := range e.components {
		names = append(names, name)
	}
	sort.Strings(names)

	type startable struct {
		name      string
		mc        *component.ManagedComponent
		lifecycle component.LifecycleComponent
	}
	toStart := make([]startable, 0, len(names))

	e.startOrder = make([]string, 0, len(names))
	for _, name := range names {
		mc := e.components[name]
		lifecycle, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			continue
		}
		childCtx, cancel := context.WithCancel(ctx)
		mc.Context = childCtx
		mc.Cancel = cancel
		mc.StartOrder = len(e.startOrder)
		e.startOrder = append(e.startOrder, name)
		toStart = append(toStart, startable{name, mc, lifecycle})
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, s := range toStart {
		s := s
		g.Go(func() error {
			e.logger.Info("Starting component",
				"instance", s.name, "type", s.mc.Component.Meta().Type)

			if err := s.lifecycle.Start(s.mc.Context); err != nil {
				e.updateState(s.name, component.StateFailed, err)
				return errors.WrapTransient(err,
					"Engine", "Start", fmt.Sprintf("start component '%s'", s.name))
			}

			e.updateState(s.name, component.StateStarted, nil)
			e.logger.Info("Component started", "instance", s.name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Roll back the components that did start.
		e.stopStarted(30 * time.Second)
		return err
	}

	e.started.Store(true)
	e.metrics.setComponentsRunning(float64(len(toStart)))
	success = true
	return nil
}

// Stop stops all started components in reverse start order.
func (e *Engine) Stop(timeout time.Duration) error {
	start := time.Now()
	success := false
	defer func() {
		e.metrics.recordStop(success, time.Since(start).Seconds())
	}()

	if !e.started.Load() {
		success = true
		return nil
	}

	errs := e.stopStarted(timeout)

	// Components spawn no engine goroutines today; the wait guards any
	// future supervision loops.
	waitCh := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("timeout waiting for engine goroutines"),
			"Engine", "Stop", "goroutine drain")
	}

	e.started.Store(false)
	e.metrics.setComponentsRunning(0)

	if len(errs) > 0 {
		return errors.WrapTransient(
			fmt.Errorf("failed to stop %d components: %v", len(errs), errs),
			"Engine", "Stop", "component shutdown")
	}

	success = true
	return nil
}

// stopStarted cancels component contexts and stops each component in
// reverse start order. Sequential on purpose: downstream stages (outputs)
// stop after upstream stages have flushed into them.
func (e *Engine) stopStarted(timeout time.Duration) []error {
	e.mu.Lock()
	order := make([]string, len(e.startOrder))
	copy(order, e.startOrder)
	e.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		e.mu.RLock()
		mc, exists := e.components[name]
		e.mu.RUnlock()
		if !exists {
			continue
		}

		if mc.Cancel != nil {
			mc.Cancel()
			mc.Cancel = nil
			mc.Context = nil
		}

		lifecycle, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			e.updateState(name, component.StateStopped, nil)
			continue
		}

		if err := lifecycle.Stop(timeout); err != nil {
			e.updateState(name, component.StateFailed, err)
			e.logger.Error("Component stop failed", "instance", name, "error", err)
			errs = append(errs, fmt.Errorf("component '%s': %w", name, err))
			continue
		}

		e.updateState(name, component.StateStopped, nil)
		e.logger.Info("Component stopped", "instance", name)
	}

	return errs
}

func (e *Engine) updateState(name string, state component.State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mc, exists := e.components[name]; exists {
		mc.State = state
		mc.LastError = err
	}
}

// componentDependencies builds the Dependencies struct passed to every
// component factory.
func (e *Engine) componentDependencies() component.Dependencies {
	return component.Dependencies{
		NATSClient:      e.natsClient,
		MetricsRegistry: e.metricsRegistry(),
		Logger:          e.logger,
		Platform:        e.platform,
		Security:        e.security,
	}
}

func (e *Engine) metricsRegistry() *metric.MetricsRegistry {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.registry
}

// Component returns a built component instance by name, or nil.
func (e *Engine) Component(name string) component.Discoverable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if mc, exists := e.components[name]; exists {
		return mc.Component
	}
	return nil
}

// ComponentStatus combines lifecycle state with health and flow metrics.
type ComponentStatus struct {
	Name      string                 `json:"name"`
	State     component.State        `json:"state"`
	Health    component.HealthStatus `json:"health"`
	DataFlow  component.FlowMetrics  `json:"data_flow"`
	LastError error                  `json:"last_error,omitempty"`
}

// Status reports state, health and flow counters for every component.
func (e *Engine) Status() map[string]ComponentStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make(map[string]ComponentStatus, len(e.components))
	for name, mc := range e.components {
		status := ComponentStatus{
			Name:      name,
			State:     mc.State,
			LastError: mc.LastError,
		}
		if mc.Component != nil {
			status.Health = mc.Component.Health()
			status.DataFlow = mc.Component.DataFlow()
		}
		result[name] = status
	}
	return result
}

// Healthy reports whether every component currently reports healthy.
// An engine with no components is healthy (nothing to search is a
// config problem caught earlier, not a runtime one).
func (e *Engine) Healthy() bool {
	for _, status := range e.Status() {
		if !status.Health.Healthy {
			return false
		}
	}
	return true
}

// HealthReport aggregates per-component health into one system status with
// a host resource snapshot attached, for the /health endpoint.
func (e *Engine) HealthReport() health.Status {
	monitor := health.NewMonitor()
	e.mu.RLock()
	for name, mc := range e.components {
		if mc.Component == nil {
			continue
		}
		monitor.Update(name, health.FromComponentHealth(name, mc.Component.Health()))
	}
	e.mu.RUnlock()
	return monitor.AggregateHealthWithResources("spiird")
}
