// Package component defines the Discoverable interface and related types
package component

import (
	"time"
)

// Discoverable is what the management layer sees of a component:
// identity, ports, schema, health and flow. Every stage of the search
// implements it, whether it takes strain in (UDP ingest, replay
// files), transforms it (filter banks, trigger extraction,
// coincidence), pushes results out (event submission, websocket feed)
// or persists them (event store, KV checkpoints).
type Discoverable interface {
	// Meta returns basic component information.
	Meta() Metadata

	// InputPorts returns the ports this component accepts data on.
	InputPorts() []Port

	// OutputPorts returns the ports this component produces data on.
	OutputPorts() []Port

	// ConfigSchema returns the configuration schema for this component.
	ConfigSchema() ConfigSchema

	// Health returns current health status.
	Health() HealthStatus

	// DataFlow returns current data flow metrics.
	DataFlow() FlowMetrics
}

// Metadata describes what a component is.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output", "storage"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ConfigSchema describes a component's configuration parameters.
type ConfigSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes a single configuration property.
type PropertySchema struct {
	Type        string                   `json:"type"` // "string", "int", "bool", "float", "enum", "array", "object", "ports"
	Description string                   `json:"description"`
	Default     any                      `json:"default,omitempty"`
	Enum        []string                 `json:"enum,omitempty"`       // valid string values
	Minimum     *int                     `json:"minimum,omitempty"`    // numeric types only
	Maximum     *int                     `json:"maximum,omitempty"`    // numeric types only
	Category    string                   `json:"category,omitempty"`   // "basic" or "advanced"
	PortFields  map[string]PortFieldInfo `json:"portFields,omitempty"` // metadata for port fields when type is "ports"
}

// HealthStatus is a component's self-reported health.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics is the data flow through a component. For a detector
// pipeline, MessagesPerSecond counts strain blocks consumed.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
