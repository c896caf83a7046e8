package component

import "fmt"

// KVWatchPort watches a NATS KV bucket for changes. Detector pipelines
// watch spiir-config this way to pick up threshold updates live.
type KVWatchPort struct {
	Bucket    string             `json:"bucket"`            // e.g. "spiir-config"
	Keys      []string           `json:"keys,omitempty"`    // keys to watch, empty = all
	History   bool               `json:"history,omitempty"` // include historical values
	Interface *InterfaceContract `json:"interface,omitempty"`
}

// ResourceID identifies the port by its bucket.
func (k KVWatchPort) ResourceID() string {
	return fmt.Sprintf("kvwatch:%s", k.Bucket)
}

// IsExclusive returns false; a bucket takes any number of watchers.
func (k KVWatchPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (k KVWatchPort) Type() string {
	return "kvwatch"
}

// KVWritePort writes to a NATS KV bucket. Checkpoint persistence into
// spiir-checkpoints is declared through one of these.
type KVWritePort struct {
	Bucket    string             `json:"bucket"`              // e.g. "spiir-checkpoints"
	Interface *InterfaceContract `json:"interface,omitempty"` // data type contract
}

// ResourceID identifies the port by its bucket.
func (k KVWritePort) ResourceID() string {
	return fmt.Sprintf("kvwrite:%s", k.Bucket)
}

// IsExclusive returns false; concurrent writers resolve through CAS revisions.
func (k KVWritePort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (k KVWritePort) Type() string {
	return "kvwrite"
}
