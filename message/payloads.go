package message

import (
	"encoding/json"
	"fmt"

	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/strain"
	"github.com/tanghyd/spiir-search/trigger"
)

// Message types for the search domain. Subjects derive from these via
// Type.Key().
var (
	StrainMessage  = Type{Domain: "search", Category: "strain", Version: "v1"}
	TriggerMessage = Type{Domain: "search", Category: "trigger", Version: "v1"}
	EventMessage   = Type{Domain: "search", Category: "event", Version: "v1"}
)

func init() {
	registrations := []*component.PayloadRegistration{
		{
			Domain:      StrainMessage.Domain,
			Category:    StrainMessage.Category,
			Version:     StrainMessage.Version,
			Description: "One contiguous block of detector strain samples",
			Factory:     func() any { return &StrainPayload{} },
			Example: map[string]any{
				"detector":    "H1",
				"start_index": 4096,
				"sample_rate": 2048.0,
				"epoch":       1370000000.0,
				"samples":     []float64{0.0, 1.2e-22, -3.4e-22},
			},
		},
		{
			Domain:      TriggerMessage.Domain,
			Category:    TriggerMessage.Category,
			Version:     TriggerMessage.Version,
			Description: "A batch of extracted triggers for one detector, with the detector's watermark",
			Factory:     func() any { return &TriggerPayload{} },
			Example: map[string]any{
				"detector":  "H1",
				"watermark": 1370000002.5,
				"triggers":  []any{},
			},
		},
		{
			Domain:      EventMessage.Domain,
			Category:    EventMessage.Category,
			Version:     EventMessage.Version,
			Description: "One ranked candidate event from the coincidence stage",
			Factory:     func() any { return &EventPayload{} },
		},
	}
	for _, reg := range registrations {
		if err := component.RegisterPayload(reg); err != nil {
			panic(fmt.Sprintf("failed to register %s.%s.%s payload: %v",
				reg.Domain, reg.Category, reg.Version, err))
		}
	}
}

// StrainPayload carries one contiguous block of strain samples from a
// single detector. It mirrors strain.SampleBlock on the wire.
type StrainPayload struct {
	Detector   string    `json:"detector"`
	StartIndex uint64    `json:"start_index"`
	SampleRate float64   `json:"sample_rate"`
	Epoch      float64   `json:"epoch"`
	Samples    []float64 `json:"samples"`
}

// NewStrainPayload wraps a sample block for transmission.
func NewStrainPayload(b *strain.SampleBlock) *StrainPayload {
	return &StrainPayload{
		Detector:   b.Detector,
		StartIndex: b.StartIndex,
		SampleRate: b.SampleRate,
		Epoch:      b.Epoch,
		Samples:    b.Samples,
	}
}

// Block converts the payload back to the domain model.
func (p *StrainPayload) Block() *strain.SampleBlock {
	return &strain.SampleBlock{
		Detector:   p.Detector,
		StartIndex: p.StartIndex,
		SampleRate: p.SampleRate,
		Epoch:      p.Epoch,
		Samples:    p.Samples,
	}
}

// Schema returns the payload type identifier.
func (p *StrainPayload) Schema() Type { return StrainMessage }

// Validate delegates to the domain model's block validation.
func (p *StrainPayload) Validate() error {
	return p.Block().Validate()
}

// MarshalJSON serializes the payload.
func (p *StrainPayload) MarshalJSON() ([]byte, error) {
	type Alias StrainPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON deserializes the payload.
func (p *StrainPayload) UnmarshalJSON(data []byte) error {
	type Alias StrainPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TriggerPayload carries the triggers one detector extracted from a
// stretch of strain, together with that detector's watermark. An empty
// batch is a watermark heartbeat: it keeps the coincidence stage's clock
// advancing through quiet data.
type TriggerPayload struct {
	Detector  string             `json:"detector"`
	Watermark float64            `json:"watermark"`
	Triggers  []*trigger.Trigger `json:"triggers"`
}

// Schema returns the payload type identifier.
func (p *TriggerPayload) Schema() Type { return TriggerMessage }

// Validate checks the batch and each member trigger.
func (p *TriggerPayload) Validate() error {
	if p.Detector == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "TriggerPayload", "Validate", "detector is required")
	}
	for _, t := range p.Triggers {
		if t == nil {
			return errors.WrapInvalid(errors.ErrInvalidData, "TriggerPayload", "Validate", "nil trigger in batch")
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Detector != p.Detector {
			return errors.WrapInvalid(errors.ErrInvalidData, "TriggerPayload", "Validate",
				fmt.Sprintf("trigger detector %q does not match batch detector %q", t.Detector, p.Detector))
		}
	}
	return nil
}

// MarshalJSON serializes the payload.
func (p *TriggerPayload) MarshalJSON() ([]byte, error) {
	type Alias TriggerPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON deserializes the payload.
func (p *TriggerPayload) UnmarshalJSON(data []byte) error {
	type Alias TriggerPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// EventPayload carries one ranked candidate event.
type EventPayload struct {
	Event *coincidence.Event `json:"event"`
}

// Schema returns the payload type identifier.
func (p *EventPayload) Schema() Type { return EventMessage }

// Validate checks the embedded event.
func (p *EventPayload) Validate() error {
	if p.Event == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "EventPayload", "Validate", "event is required")
	}
	if len(p.Event.Triggers) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "EventPayload", "Validate", "event has no triggers")
	}
	return nil
}

// MarshalJSON serializes the payload.
func (p *EventPayload) MarshalJSON() ([]byte, error) {
	type Alias EventPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON deserializes the payload.
func (p *EventPayload) UnmarshalJSON(data []byte) error {
	type Alias EventPayload
	return json.Unmarshal(data, (*Alias)(p))
}
