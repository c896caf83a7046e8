package message

import "time"

// Meta describes a message's lifecycle and origin. The split between
// creation and receipt is what lets latency be measured end to end,
// from the detector frontend timestamping a strain block to the moment
// an event leaves for upload.
//
// It is an interface so pipelines can carry richer metadata (GPS
// epochs, frame provenance) without the envelope caring.
type Meta interface {
	// CreatedAt returns when the data was produced. For strain this
	// is the timestamp of the first sample in the block.
	CreatedAt() time.Time

	// ReceivedAt returns when this node took the message in. Equal to
	// CreatedAt only for data generated locally.
	ReceivedAt() time.Time

	// Source identifies the originator, e.g. "udp-input" or
	// "spiir-filter-h1".
	Source() string
}
