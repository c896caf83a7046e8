// Package pipeline is the stream controller: the component that turns
// per-detector strain blocks arriving over NATS into ranked candidate
// events.
//
// One Controller owns one detector pipeline per configured site. Each
// detector pipeline sequences its block stream, drives the IIR filter
// engine, extracts triggers, and reports a watermark: the GPS time up to
// which its stream is complete. The controller merges per-detector
// batches, advances the coincidence stage with the minimum watermark over
// live detectors, classifies closed events when a model is configured,
// and publishes triggers and events back onto the bus.
//
// Ingestion applies backpressure rather than dropping strain: each
// detector queue blocks the NATS handler when full, and sustained blocking
// past the configured bound marks the component degraded. A detector
// pipeline that fails is removed from the watermark quorum so the
// surviving detectors keep producing events.
package pipeline
