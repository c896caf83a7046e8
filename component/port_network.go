package component

import "fmt"

// NetworkPort declares a TCP or UDP binding. The strain ingest socket
// and the health endpoint are both claimed through one of these.
type NetworkPort struct {
	Protocol string `json:"protocol"` // "tcp", "udp"
	Host     string `json:"host"`     // "0.0.0.0", "localhost"
	Port     int    `json:"port"`     // 4001, 8080
}

// ResourceID identifies the binding as protocol:host:port.
func (n NetworkPort) ResourceID() string {
	return fmt.Sprintf("%s:%s:%d", n.Protocol, n.Host, n.Port)
}

// IsExclusive returns true; only one component can bind a given port.
func (n NetworkPort) IsExclusive() bool {
	return true
}

// Type returns the port type identifier.
func (n NetworkPort) Type() string {
	return "network"
}
