package component

import "fmt"

// NATSPort carries core NATS pub/sub traffic. Strain blocks, trigger
// sets and ranked events all move over subjects declared this way.
type NATSPort struct {
	Subject   string             `json:"subject"`
	Queue     string             `json:"queue,omitempty"`
	Interface *InterfaceContract `json:"interface,omitempty"`
}

// ResourceID identifies the port by its subject.
func (n NATSPort) ResourceID() string {
	return fmt.Sprintf("nats:%s", n.Subject)
}

// IsExclusive returns false; any number of components may subscribe to
// the same subject.
func (n NATSPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (n NATSPort) Type() string {
	return "nats"
}

// NATSRequestPort declares a synchronous request/reply endpoint, used
// for control-plane calls such as on-demand status queries.
type NATSRequestPort struct {
	Subject   string             `json:"subject"`
	Timeout   string             `json:"timeout,omitempty"` // duration string, e.g. "1s", "500ms"
	Retries   int                `json:"retries,omitempty"`
	Interface *InterfaceContract `json:"interface,omitempty"`
}

// ResourceID identifies the port by its request subject.
func (n NATSRequestPort) ResourceID() string {
	return fmt.Sprintf("nats-request:%s", n.Subject)
}

// IsExclusive returns false; requests load-balance across handlers.
func (n NATSRequestPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (n NATSRequestPort) Type() string {
	return "nats-request"
}
