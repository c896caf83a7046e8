package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/pkg/timestamp"
)

// BaseMessage is the envelope every payload travels in on the bus:
// strain blocks, trigger sets and ranked events alike. It is immutable
// after construction, so a message re-published downstream is exactly
// the message that was received.
//
// Construction uses functional options:
//
//	// current timestamp, the common case
//	msg := NewBaseMessage(msgType, payload, "spiir-filter-h1")
//
//	// explicit timestamp for replayed strain
//	msg := NewBaseMessage(msgType, payload, "replay", WithTime(gpsTime))
type BaseMessage struct {
	id      string
	msgType Type
	payload Payload
	meta    Meta
}

// Option configures BaseMessage construction.
type Option func(*BaseMessage)

// WithTime sets an explicit creation timestamp, for replayed archival
// data and tests.
func WithTime(createdAt time.Time) Option {
	return func(m *BaseMessage) {
		if defaultMeta, ok := m.meta.(*DefaultMeta); ok {
			m.meta = NewDefaultMeta(createdAt, defaultMeta.Source())
		}
	}
}

// WithMeta replaces the default metadata with a custom Meta.
func WithMeta(meta Meta) Option {
	return func(m *BaseMessage) {
		m.meta = meta
	}
}

// NewBaseMessage builds a message around a typed payload. Source names
// the producing component and rides the metadata to the consumer.
func NewBaseMessage(msgType Type, payload Payload, source string, opts ...Option) *BaseMessage {
	m := &BaseMessage{
		id:      uuid.New().String(),
		msgType: msgType,
		payload: payload,
		meta:    NewDefaultMeta(time.Now(), source),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ID returns the unique message identifier.
func (m *BaseMessage) ID() string {
	return m.id
}

// Type returns the structured message type.
func (m *BaseMessage) Type() Type {
	return m.msgType
}

// Payload returns the message payload.
func (m *BaseMessage) Payload() Payload {
	return m.payload
}

// Meta returns the message metadata.
func (m *BaseMessage) Meta() Meta {
	return m.meta
}

// Hash returns a SHA256 over the message type and payload. Two messages
// carrying the same trigger set hash identically regardless of their
// IDs and timestamps, which is what event deduplication keys on.
func (m *BaseMessage) Hash() string {
	h := sha256.New()

	// sha256's Write never fails; the checks satisfy the interface.
	if _, err := h.Write([]byte(m.msgType.String())); err != nil {
		return ""
	}

	if data, err := m.payload.MarshalJSON(); err == nil {
		if _, err := h.Write(data); err != nil {
			return ""
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the envelope and delegates to the payload's own
// Validate.
func (m *BaseMessage) Validate() error {
	if !m.msgType.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "BaseMessage", "Validate",
			fmt.Sprintf("invalid message type: %s", m.msgType.String()))
	}

	if m.payload == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "BaseMessage", "Validate", "payload cannot be nil")
	}

	if err := m.payload.Validate(); err != nil {
		return errors.WrapInvalid(err, "BaseMessage", "Validate", "invalid payload")
	}

	if m.meta == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "BaseMessage", "Validate", "meta cannot be nil")
	}

	return nil
}

// wireFormat is the JSON shape of a message on the bus.
type wireFormat struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Meta    map[string]any  `json:"meta"`
}

// MarshalJSON serializes to the wire format. Timestamps go out as Unix
// milliseconds.
func (m *BaseMessage) MarshalJSON() ([]byte, error) {
	payloadData, err := m.payload.MarshalJSON()
	if err != nil {
		return nil, errors.WrapInvalid(err, "BaseMessage", "MarshalJSON", "failed to marshal payload")
	}

	metaMap := map[string]interface{}{
		"created_at":  timestamp.ToUnixMs(m.meta.CreatedAt()),
		"received_at": timestamp.ToUnixMs(m.meta.ReceivedAt()),
		"source":      m.meta.Source(),
	}

	wire := wireFormat{
		ID:      m.id,
		Type:    m.msgType,
		Payload: json.RawMessage(payloadData),
		Meta:    metaMap,
	}

	return json.Marshal(wire)
}

// UnmarshalJSON reconstructs a message from the wire format. The
// payload type must be registered in the global payload registry;
// untyped traffic uses the well-known core.json.v1 type.
func (m *BaseMessage) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "BaseMessage", "UnmarshalJSON", "failed to unmarshal wire format")
	}

	m.id = wire.ID
	m.msgType = wire.Type

	// timestamp.Parse accepts both int64 milliseconds and string forms,
	// so messages from older producers still decode.
	var createdAt, receivedAt time.Time
	var source string

	createdAtMs := timestamp.Parse(wire.Meta["created_at"])
	if createdAtMs != 0 {
		createdAt = timestamp.ToTime(createdAtMs)
	}

	receivedAtMs := timestamp.Parse(wire.Meta["received_at"])
	if receivedAtMs != 0 {
		receivedAt = timestamp.ToTime(receivedAtMs)
	}

	if sourceStr, ok := wire.Meta["source"].(string); ok {
		source = sourceStr
	}

	m.meta = NewDefaultMetaWithReceivedAt(createdAt, receivedAt, source)

	payload := component.CreatePayload(m.msgType.Domain, m.msgType.Category, m.msgType.Version)
	if payload == nil {
		return errors.WrapInvalid(
			fmt.Errorf("unregistered payload type: %s", m.msgType.String()),
			"BaseMessage", "UnmarshalJSON", "payload type lookup")
	}

	if msgPayload, ok := payload.(Payload); ok {
		if err := json.Unmarshal(wire.Payload, msgPayload); err != nil {
			return errors.WrapInvalid(err, "BaseMessage", "UnmarshalJSON", "failed to unmarshal payload")
		}
		m.payload = msgPayload
	} else {
		return errors.WrapInvalid(errors.ErrInvalidData, "BaseMessage", "UnmarshalJSON", "payload does not implement message.Payload interface")
	}

	return nil
}
