package component

import "fmt"

// JetStreamPort declares durable, at-least-once messaging. Ranked
// events ride JetStream so a submitter restart replays anything it
// missed instead of losing candidates.
type JetStreamPort struct {
	// Stream configuration, used when the port is an output.
	StreamName      string   `json:"stream_name"`              // e.g. "SEARCH_EVENTS"
	Subjects        []string `json:"subjects"`                 // e.g. ["events.candidate.>"]
	Storage         string   `json:"storage,omitempty"`        // "file" or "memory", default "file"
	RetentionPolicy string   `json:"retention,omitempty"`      // "limits", "interest", "work_queue", default "limits"
	RetentionDays   int      `json:"retention_days,omitempty"` // message retention in days, default 7
	MaxSizeGB       int      `json:"max_size_gb,omitempty"`    // max stream size in GB, default 10
	Replicas        int      `json:"replicas,omitempty"`       // number of replicas, default 1

	// Consumer configuration, used when the port is an input.
	ConsumerName  string `json:"consumer_name,omitempty"`  // durable consumer name
	DeliverPolicy string `json:"deliver_policy,omitempty"` // "all", "last", "new", default "new"
	AckPolicy     string `json:"ack_policy,omitempty"`     // "explicit", "none", "all", default "explicit"
	MaxDeliver    int    `json:"max_deliver,omitempty"`    // max redelivery attempts, default 3

	Interface *InterfaceContract `json:"interface,omitempty"`
}

// ResourceID identifies the port by stream name, falling back to the
// first subject for consumers that bind without naming a stream.
func (j JetStreamPort) ResourceID() string {
	if j.StreamName != "" {
		return fmt.Sprintf("jetstream:%s", j.StreamName)
	}
	if len(j.Subjects) > 0 {
		return fmt.Sprintf("jetstream:%s", j.Subjects[0])
	}
	return "jetstream:unknown"
}

// IsExclusive returns false; JetStream coordinates consumers itself.
func (j JetStreamPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (j JetStreamPort) Type() string {
	return "jetstream"
}
