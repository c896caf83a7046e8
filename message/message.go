package message

// Message is the unit of data flow on the bus. Strain blocks, trigger
// sets, watermarks and ranked events all travel as messages: a typed
// payload plus lifecycle metadata, nothing about routing or storage.
//
// The content hash makes messages addressable, which is what event
// deduplication and the event store key on.
//
// Example:
//
//	msg := NewBaseMessage(
//	    Type{Domain: "search", Category: "strain", Version: "v1"},
//	    strainPayload,
//	    "udp-ingest"
//	)
type Message interface {
	// ID returns this instance's unique identifier, typically a UUID.
	// Immutable once assigned.
	ID() string

	// Type returns the domain, category and version used for routing.
	Type() Type

	// Payload returns the typed message payload.
	Payload() Payload

	// Meta returns lifecycle metadata: creation time, receipt time and
	// originating service.
	Meta() Meta

	// Hash returns a content hash over type and payload, independent
	// of ID and timestamps.
	Hash() string

	// Validate checks type validity, payload presence and the
	// payload's own validation.
	Validate() error
}
