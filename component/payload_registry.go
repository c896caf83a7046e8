package component

import (
	"fmt"
	"sync"

	"github.com/tanghyd/spiir-search/errors"
)

// PayloadFactory creates a payload instance for one message type. The
// return type is any to avoid an import cycle with the message package;
// the instance implements message.Payload.
type PayloadFactory func() any

// PayloadRegistration pairs a payload factory with the identity of its
// message type. Strain blocks, trigger sets and ranked events each
// register one of these at init.
type PayloadRegistration struct {
	Factory     PayloadFactory `json:"-"`
	Domain      string         `json:"domain"`   // e.g. "search", "control"
	Category    string         `json:"category"` // e.g. "strain", "trigger"
	Version     string         `json:"version"`  // e.g. "v1"
	Description string         `json:"description"`
	Example     map[string]any `json:"example"`
}

// MessageType formats the registration's identity as
// "domain.category.version", e.g. "search.strain.v1".
func (pr *PayloadRegistration) MessageType() string {
	return fmt.Sprintf("%s.%s.%s", pr.Domain, pr.Category, pr.Version)
}

// PayloadRegistry resolves message type strings to payload factories so
// BaseMessage.UnmarshalJSON can reconstruct typed payloads off the bus.
type PayloadRegistry struct {
	registrations map[string]*PayloadRegistration
	mu            sync.RWMutex
}

// NewPayloadRegistry creates an empty payload registry.
func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{
		registrations: make(map[string]*PayloadRegistration),
	}
}

// RegisterPayload validates and stores a registration. Every identity
// field is required and a message type registers exactly once.
func (pr *PayloadRegistry) RegisterPayload(registration *PayloadRegistration) error {
	if registration == nil {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig,
			"PayloadRegistry",
			"RegisterPayload",
			"registration validation",
		)
	}

	if registration.Factory == nil {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig,
			"PayloadRegistry",
			"RegisterPayload",
			"factory function validation",
		)
	}

	if registration.Domain == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "PayloadRegistry", "RegisterPayload", "domain validation")
	}

	if registration.Category == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "PayloadRegistry", "RegisterPayload", "category validation")
	}

	if registration.Version == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "PayloadRegistry", "RegisterPayload", "version validation")
	}

	msgType := registration.MessageType()

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if _, exists := pr.registrations[msgType]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("payload type '%s' is already registered", msgType),
			"PayloadRegistry",
			"RegisterPayload",
			"duplicate payload check",
		)
	}

	pr.registrations[msgType] = registration
	return nil
}

// CreatePayload instantiates the payload for a message type. An
// unregistered type returns nil, which lets the message decoder fall
// back to a generic payload instead of failing the message.
func (pr *PayloadRegistry) CreatePayload(domain, category, version string) any {
	typeStr := fmt.Sprintf("%s.%s.%s", domain, category, version)

	pr.mu.RLock()
	registration, exists := pr.registrations[typeStr]
	pr.mu.RUnlock()

	if !exists {
		return nil
	}

	return registration.Factory()
}

// GetRegistration returns the registration for a message type. The
// result is a copy without the factory, so callers cannot swap it.
func (pr *PayloadRegistry) GetRegistration(msgType string) (*PayloadRegistration, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	registration, exists := pr.registrations[msgType]
	if !exists {
		return nil, false
	}

	return registrationCopy(registration), true
}

// ListPayloads returns copies of all registrations keyed by message
// type.
func (pr *PayloadRegistry) ListPayloads() map[string]*PayloadRegistration {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	result := make(map[string]*PayloadRegistration, len(pr.registrations))
	for msgType, registration := range pr.registrations {
		result[msgType] = registrationCopy(registration)
	}

	return result
}

// ListByDomain returns the registrations of one domain, for discovering
// what message types the search or control planes carry.
func (pr *PayloadRegistry) ListByDomain(domain string) []*PayloadRegistration {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	var result []*PayloadRegistration
	for _, registration := range pr.registrations {
		if registration.Domain == domain {
			result = append(result, registrationCopy(registration))
		}
	}

	return result
}

// registrationCopy duplicates a registration minus its factory.
func registrationCopy(registration *PayloadRegistration) *PayloadRegistration {
	return &PayloadRegistration{
		Domain:      registration.Domain,
		Category:    registration.Category,
		Version:     registration.Version,
		Description: registration.Description,
		Example:     registration.Example,
	}
}
