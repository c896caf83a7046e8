// Package types contains shared domain types used across the search pipeline
package types

import (
	"encoding/json"

	"github.com/tanghyd/spiir-search/errors"
)

// ServiceConfig configures one service instance. It mirrors the shape
// of ComponentConfig: metadata up front, the service's own settings as
// raw JSON behind it.
type ServiceConfig struct {
	Name    string          `json:"name"`    // redundant with the map key, kept for validation
	Enabled bool            `json:"enabled"` // whether the service runs at startup
	Config  json.RawMessage `json:"config"`  // service-specific configuration
}

// Validate checks the configuration. An empty Config is fine, the
// service falls back to its defaults; Enabled false is fine too.
func (s ServiceConfig) Validate() error {
	if s.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ServiceConfig", "Validate", "service name cannot be empty")
	}
	return nil
}

// ServiceConfigs maps service name to its configuration, e.g.
// "metrics", "eventstore", "gracedb-submitter". A service runs only
// when it both registered a constructor via init() and appears here
// with enabled=true.
type ServiceConfigs map[string]ServiceConfig
