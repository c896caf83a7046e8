// Package spiirsearch is a streaming gravitational-wave search built on the
// SPIIR method: summed parallel infinite impulse response filters
// approximate the matched filter for compact-binary inspiral signals, so
// candidate events surface with near-zero latency instead of waiting for
// block transforms.
//
// # Architecture
//
// The search is a fixed topology of components wired over NATS subjects.
// Inputs publish detector strain, the stream controller turns strain into
// triggers and ranked candidate events, and outputs archive, submit, or
// serve those events:
//
//	UDP / replay input          search.strain.v1.<detector>
//	        │
//	        ▼
//	stream controller           per-detector SPIIR pipelines,
//	  (pipeline package)        coincidence, ranking, classification
//	        │
//	        ├─ search.trigger.v1.<detector>   trigger batches + watermarks
//	        └─ search.event.v1                ranked candidate events
//	                │
//	                ├─ jsonl archive
//	                ├─ sqlite event store
//	                ├─ GraceDB submitter
//	                └─ websocket feed
//
// # Package layout
//
// Domain packages hold the search mathematics and are independent of the
// bus: template (filter banks), spiir (the IIR recursion and SNR
// accumulation), strain (sample blocks and sequencing), trigger (peak
// extraction), coincidence (multi-detector grouping and ranking), classify
// (source classification), detector (site metadata and timing).
//
// Platform packages carry the runtime: component (discovery, lifecycle,
// registry), engine (build, validate, supervise the topology), natsclient,
// config, metric, health, message (typed envelopes), errors.
//
// cmd/spiird is the daemon entry point.
package spiirsearch
