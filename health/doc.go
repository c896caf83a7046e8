// Package health tracks and aggregates component health for the search
// runtime.
//
// Three states are reported: healthy, degraded, unhealthy. Degraded covers
// a search that still produces events but with reduced confidence, for
// example a pipeline running behind its backpressure bound or a detector
// that left the watermark quorum. The distinction matters operationally: a
// degraded search keeps running while an unhealthy one pages someone.
//
// Monitor is the thread-safe collection point. Components report through
// component.HealthStatus and are converted with FromComponentHealth, which
// sanitizes error text (URLs, paths, addresses, credentials) before it can
// reach a dashboard. AggregateHealth folds the per-component statuses with
// worst-case rules: one unhealthy component marks the system unhealthy,
// one degraded component marks it degraded.
// AggregateHealthWithResources attaches a host resource snapshot so a
// starved host can be told apart from a broken pipeline.
//
// The flow into the /health endpoint:
//
//	component → component.HealthStatus → FromComponentHealth → Monitor → aggregate → HTTP /health
//
// Status is a value type; WithMetrics, WithResources and WithSubStatus
// return copies. The package returns no errors because health is the
// result of error handling, not a step in its propagation.
package health
