// Package types contains shared domain types used across the search pipeline
package types

import (
	"encoding/json"
	"fmt"

	"github.com/tanghyd/spiir-search/errors"
)

// ComponentType is the category of a pipeline component.
type ComponentType string

const (
	ComponentTypeInput     ComponentType = "input"
	ComponentTypeProcessor ComponentType = "processor"
	ComponentTypeOutput    ComponentType = "output"
	ComponentTypeStorage   ComponentType = "storage"
)

// ComponentConfig configures one component instance. The instance name
// is the map key in the components section; Name here picks the
// factory that builds it. Shared between the config and component
// packages so neither imports the other.
type ComponentConfig struct {
	Type    ComponentType   `json:"type"`    // input, processor, output or storage
	Name    string          `json:"name"`    // factory name, e.g. "udp", "pipeline", "wsfeed"
	Enabled bool            `json:"enabled"` // whether the component runs
	Config  json.RawMessage `json:"config"`  // component-specific configuration
}

// Validate checks that the type and factory name are present and the
// type is one of the four known categories.
func (c ComponentConfig) Validate() error {
	if c.Type == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"ComponentConfig",
			"Validate",
			"component type cannot be empty",
		)
	}
	if c.Name == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"ComponentConfig",
			"Validate",
			"component factory name cannot be empty",
		)
	}

	switch c.Type {
	case ComponentTypeInput, ComponentTypeProcessor, ComponentTypeOutput, ComponentTypeStorage:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ComponentConfig", "Validate",
			fmt.Sprintf("invalid component type: %s", c.Type))
	}
}

// String implements fmt.Stringer for ComponentType.
func (ct ComponentType) String() string {
	return string(ct)
}

// PlatformMeta carries deployment identity. Services tag their output
// with the deployment and observing run without importing the config
// package to get them.
type PlatformMeta struct {
	Platform string // deployment identifier, e.g. "spiir-lowlatency-1"
	Run      string // observing run label, e.g. "O4"
}
