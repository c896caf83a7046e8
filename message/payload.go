package message

import "encoding/json"

// Payload represents the data carried by a message.
// All message payloads must implement this interface to provide
// schema information, validation, and serialization capabilities.
//
// Example implementation:
//
//	type StrainPayload struct {
//	    Detector   string    `json:"detector"`
//	    StartIndex uint64    `json:"start_index"`
//	    Samples    []float64 `json:"samples"`
//	}
//
//	func (p *StrainPayload) Schema() Type {
//	    return Type{Domain: "search", Category: "strain", Version: "v1"}
//	}
//
//	func (p *StrainPayload) Validate() error {
//	    if p.Detector == "" {
//	        return errors.New("detector is required")
//	    }
//	    if len(p.Samples) == 0 {
//	        return errors.New("samples are required")
//	    }
//	    return nil
//	}
//
//	func (p *StrainPayload) MarshalJSON() ([]byte, error) {
//	    // Use alias to avoid infinite recursion
//	    type Alias StrainPayload
//	    return json.Marshal((*Alias)(p))
//	}
//
//	func (p *StrainPayload) UnmarshalJSON(data []byte) error {
//	    // Use alias to avoid infinite recursion
//	    type Alias StrainPayload
//	    return json.Unmarshal(data, (*Alias)(p))
//	}
type Payload interface {
	// Schema returns the Type that defines this payload's structure.
	// This enables type-safe routing and processing throughout the system.
	Schema() Type

	// Validate checks the payload data for correctness.
	// Returns nil if valid, or an error describing the validation failure.
	// Should validate:
	//   - Required fields are present
	//   - Values are within acceptable ranges
	//   - Business rules are satisfied
	Validate() error

	// JSON serialization using standard Go interfaces.
	// Payloads must implement json.Marshaler and json.Unmarshaler
	// for deterministic serialization. The same payload must always
	// produce the same JSON output.
	json.Marshaler
	json.Unmarshaler
}
