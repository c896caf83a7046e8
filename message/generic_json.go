package message

import (
	"encoding/json"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
)

// init registers the GenericJSON payload so BaseMessage.UnmarshalJSON
// can reconstruct core.json.v1 payloads.
func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "core",
		Category:    "json",
		Version:     "v1",
		Description: "Generic JSON payload for diagnostics and ad-hoc flows",
		Factory: func() any {
			return &GenericJSONPayload{}
		},
		Example: map[string]any{
			"data": map[string]any{
				"detector": "H1",
				"state":    "observing",
				"note":     "manual annotation",
			},
		},
	})
	if err != nil {
		panic("failed to register GenericJSON payload: " + err.Error())
	}
}

// GenericJSONPayload is the deliberately loose payload type
// (core.json.v1) for traffic that has no schema of its own: operator
// annotations, ad-hoc diagnostics on the bus, and integration tests.
// The typed search payloads (strain, triggers, events) never use it;
// components that accept it declare core.json.v1 explicitly.
type GenericJSONPayload struct {
	// Data holds the arbitrary JSON object.
	Data map[string]any `json:"data"`
}

// NewGenericJSON creates a GenericJSON payload with the given data.
func NewGenericJSON(data map[string]any) *GenericJSONPayload {
	return &GenericJSONPayload{
		Data: data,
	}
}

// Schema returns the core.json.v1 type identifier.
func (g *GenericJSONPayload) Schema() Type {
	return Type{
		Domain:   "core",
		Category: "json",
		Version:  "v1",
	}
}

// Validate requires a non-nil data map.
func (g *GenericJSONPayload) Validate() error {
	if g.Data == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "GenericJSONPayload", "Validate", "data cannot be nil")
	}
	return nil
}

// MarshalJSON serializes the payload under its "data" wrapper.
func (g *GenericJSONPayload) MarshalJSON() ([]byte, error) {
	type Alias GenericJSONPayload // breaks marshal recursion
	return json.Marshal((*Alias)(g))
}

// UnmarshalJSON deserializes into the payload.
func (g *GenericJSONPayload) UnmarshalJSON(data []byte) error {
	type Alias GenericJSONPayload
	return json.Unmarshal(data, (*Alias)(g))
}
