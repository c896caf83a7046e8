// Package message provides the versioned message envelope carried over
// NATS between search components.
//
// # Architecture
//
// The package follows a clean, domain-agnostic design with three core concepts:
//
// 1. Messages - Containers that combine typed payloads with metadata
// 2. Payloads - Domain-specific data implementing the Payload interface
// 3. Metadata - Information about message lifecycle and origin
//
// # Message Structure
//
// Every message consists of:
//   - A unique ID for tracking and deduplication
//   - A structured Type (domain, category, version)
//   - A Payload containing the actual data
//   - Metadata about creation time, source, etc.
//   - A content-based hash for integrity
//
// # Wire Format
//
// Messages serialize to JSON for transmission. The wire format preserves
// the ID, the Type (which also derives the NATS subject via Type.Key()),
// the payload through Payload.MarshalJSON, and millisecond-precision
// metadata timestamps. Deserialization requires the payload type to be
// registered in the global PayloadRegistry; the well-known type
// "core.json.v1" (GenericJSONPayload) handles generic JSON.
//
// # Domain Payloads
//
// The search payloads live alongside the envelope: StrainPayload carries
// one detector sample block, TriggerPayload a batch of extracted triggers
// with its watermark heartbeat, and EventPayload one ranked candidate
// event. Each registers itself with the PayloadRegistry in init so
// BaseMessage.UnmarshalJSON can reconstruct it.
//
// # Usage Example
//
//	payload := &message.StrainPayload{
//	    Detector:   "H1",
//	    StartIndex: 4096,
//	    SampleRate: 2048,
//	    Samples:    samples,
//	}
//	msg := message.NewBaseMessage(payload.Schema(), payload, "udp-ingest")
//	data, err := json.Marshal(msg)
//
// Messages are immutable after creation. Validation happens at two
// levels: structural (type, payload and meta present) via
// BaseMessage.Validate, and domain-specific via Payload.Validate.
package message
