package component

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"

	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/types"
)

// Info is the metadata the discovery surface reports per component type.
type Info struct {
	Type        string `json:"type"`     // "input", "processor", "output", "storage"
	Protocol    string `json:"protocol"` // udp, websocket, file, ...
	Domain      string `json:"domain"`   // strain, search, events, storage
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Factory creates a component instance from raw JSON configuration and
// dependencies. Factories parse their own config and must not do I/O;
// sockets and subscriptions open in the component's Start. The signature
// mirrors service constructors so both registries read the same way.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds the factory and metadata for one component type.
type Registration struct {
	Name         string       `json:"name"`     // factory name ("udp", "spiir")
	Type         string       `json:"type"`     // input, processor, output, storage
	Protocol     string       `json:"protocol"` // udp, websocket, file, ...
	Domain       string       `json:"domain"`   // strain, search, events, storage
	Description  string       `json:"description"`
	Version      string       `json:"version"`
	Schema       ConfigSchema `json:"schema"` // static metadata, no instantiation needed
	Factory      Factory      `json:"-"`
	Dependencies []string     `json:"dependencies"` // other required components, if any
}

// RegistrationConfig is the flat argument form for RegisterWithConfig.
// Fields map 1:1 onto Registration.
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Schema      ConfigSchema
	Type        string // "input", "processor", "output", "storage"
	Protocol    string
	Domain      string
	Description string
	Version     string
}

// Registry holds component factories and running instances. Factories
// say what can be created; instances are what the engine is currently
// running and what discovery reports. All access is thread safe.
type Registry struct {
	factories       map[string]*Registration
	instances       map[string]Discoverable
	payloadRegistry *PayloadRegistry
	resourceTracker map[string]string // resource ID -> instance name holding it
	mu              sync.RWMutex
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:       make(map[string]*Registration),
		instances:       make(map[string]Discoverable),
		payloadRegistry: NewPayloadRegistry(),
		resourceTracker: make(map[string]string),
	}
}

// RegisterFactory registers a component factory under the given name.
// Duplicate names are rejected.
func (r *Registry) RegisterFactory(name string, registration *Registration) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory name validation")
	}
	if registration == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}
	if registration.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory function validation")
	}
	if registration.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate factory check")
	}

	r.factories[name] = registration
	return nil
}

// CreateComponent creates and registers a new component instance.
// instanceName is the unique deployment identifier ("strain-h1"); the
// config names the factory and carries the component-specific payload.
// The raw config is validated before the factory ever sees it.
func (r *Registry) CreateComponent(
	instanceName string, config types.ComponentConfig, deps Dependencies,
) (Discoverable, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance name validation")
	}
	if config.Type == "" {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "Registry", "CreateComponent", "component type validation")
	}
	if err := ValidateComponentName(config.Name); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "factory name validation")
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "CreateComponent", "NATS client validation")
	}

	if err := ValidateFactoryConfig(config.Config); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "config security validation")
	}

	r.mu.RLock()
	registration, exists := r.factories[config.Name]
	r.mu.RUnlock()

	if !exists {
		msg := fmt.Errorf("unknown component factory '%s'", config.Name)
		return nil, errors.WrapInvalid(msg, "Registry", "CreateComponent", "factory lookup")
	}

	// A config asking for the spiir factory as an "output" is a wiring
	// mistake worth failing on, not coercing.
	if registration.Type != string(config.Type) {
		msg := fmt.Errorf("component '%s' is type '%s', not '%s'",
			config.Name, registration.Type, config.Type)
		return nil, errors.WrapInvalid(msg, "Registry", "CreateComponent", "type validation")
	}

	component, err := registration.Factory(config.Config, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "factory execution")
	}

	if err := r.RegisterInstance(instanceName, component); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance registration")
	}

	return component, nil
}

// RegisterInstance registers a running component instance under a unique
// name, claiming its exclusive resources in the process.
func (r *Registry) RegisterInstance(name string, component Discoverable) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "instance name validation")
	}
	if component == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "component validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		msg := fmt.Errorf("instance '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterInstance", "duplicate instance check")
	}

	// Resource conflicts are checked before the instance lands in the
	// map, so a rejected registration leaves no trace.
	if err := r.checkResourceConflicts(name, component); err != nil {
		return errors.Wrap(err, "Registry", "RegisterInstance", "resource conflict check")
	}

	r.instances[name] = component
	r.trackComponentResources(name, component)

	return nil
}

// UnregisterInstance removes a stopped component instance and releases
// its exclusive resources.
func (r *Registry) UnregisterInstance(name string) {
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if component, exists := r.instances[name]; exists {
		r.untrackComponentResources(name, component)
	}

	delete(r.instances, name)
}

// ListComponents returns a copy of the registered component instances.
func (r *Registry) ListComponents() map[string]Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Discoverable, len(r.instances))
	maps.Copy(result, r.instances)

	return result
}

// GetComponentSchema returns a component type's schema from its
// Registration metadata. No instance is created, so no dependencies are
// needed to inspect a schema.
func (r *Registry) GetComponentSchema(name string) (ConfigSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registration, exists := r.factories[name]
	if !exists {
		return ConfigSchema{}, errors.WrapInvalid(
			fmt.Errorf("component type %q not found", name),
			"Registry", "GetComponentSchema", "type lookup")
	}

	return registration.Schema, nil
}

// ListComponentTypes returns the registered factory names ("udp",
// "spiir"), not instance names.
func (r *Registry) ListComponentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	return names
}

// Component retrieves an instance by name, or nil if not registered.
func (r *Registry) Component(name string) Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.instances[name]
}

// ListFactories returns metadata for every registered factory. The
// Factory function itself is omitted from the copies; callers that need
// to create components go through CreateComponent or GetFactory.
func (r *Registry) ListFactories() map[string]*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Registration, len(r.factories))
	for name, registration := range r.factories {
		result[name] = &Registration{
			Type:         registration.Type,
			Protocol:     registration.Protocol,
			Domain:       registration.Domain,
			Description:  registration.Description,
			Version:      registration.Version,
			Dependencies: registration.Dependencies,
		}
	}

	return result
}

// GetFactory returns the actual factory function for a type name.
func (r *Registry) GetFactory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registration, exists := r.factories[name]
	if !exists {
		return nil, false
	}
	return registration.Factory, true
}

// RegisterWithConfig registers a component type from a flat config
// struct. This is the form component packages use in their init:
//
//	registry.RegisterWithConfig(component.RegistrationConfig{
//	    Name:        "udp",
//	    Factory:     CreateUDPInput,
//	    Schema:      udpSchema,
//	    Type:        "input",
//	    Protocol:    "udp",
//	    Domain:      "strain",
//	    Description: "UDP input component for receiving strain sample blocks",
//	    Version:     "1.0.0",
//	})
func (r *Registry) RegisterWithConfig(config RegistrationConfig) error {
	registration := &Registration{
		Name:        config.Name,
		Factory:     config.Factory,
		Schema:      config.Schema,
		Type:        config.Type,
		Protocol:    config.Protocol,
		Domain:      config.Domain,
		Description: config.Description,
		Version:     config.Version,
	}

	return r.RegisterFactory(config.Name, registration)
}

// ListAvailable returns Info metadata for every creatable component type.
func (r *Registry) ListAvailable() map[string]Info {
	factories := r.ListFactories()
	result := make(map[string]Info, len(factories))

	for name, registration := range factories {
		result[name] = Info{
			Type:        registration.Type,
			Protocol:    registration.Protocol,
			Domain:      registration.Domain,
			Description: registration.Description,
			Version:     registration.Version,
		}
	}

	return result
}

// RegisterPayload registers a payload factory with this registry so typed
// payloads can be recreated during message deserialization.
func (r *Registry) RegisterPayload(registration *PayloadRegistration) error {
	return r.payloadRegistry.RegisterPayload(registration)
}

// CreatePayload creates a payload instance via the registered factory,
// or nil when the message type is unknown.
func (r *Registry) CreatePayload(domain, category, version string) any {
	return r.payloadRegistry.CreatePayload(domain, category, version)
}

// ListPayloads returns all registered payload types.
func (r *Registry) ListPayloads() map[string]*PayloadRegistration {
	return r.payloadRegistry.ListPayloads()
}

// Limits applied to raw component configuration before a factory runs.
const (
	MaxStringLength = 1024
	MaxJSONSize     = 1024 * 1024
	MinPort         = 1
	MaxPort         = 65535
	MaxInt          = math.MaxInt32
	MinInt          = math.MinInt32
)

// ValidateConfigKey checks a configuration key against the limits.
func ValidateConfigKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateConfigKey", "empty key")
	}
	if len(key) > MaxStringLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateConfigKey", "key too long")
	}
	if strings.ContainsAny(key, "\x00\n\r\t") {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig,
			"ConfigValidator",
			"ValidateConfigKey",
			"invalid key characters",
		)
	}
	return nil
}

// ValidateJSONSize rejects raw config payloads over the size limit.
func ValidateJSONSize(data json.RawMessage) error {
	if len(data) > MaxJSONSize {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "ConfigValidator", "ValidateJSONSize", "JSON too large")
	}
	return nil
}

// ValidateComponentName restricts component and instance names to
// alphanumerics, dash, underscore and dot. Names feed NATS subjects and
// file paths, so anything else is rejected.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "empty name")
	}
	if len(name) > MaxStringLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "name too long")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return errors.WrapInvalid(
				errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName",
				"invalid name characters")
		}
	}
	return nil
}

// ValidatePortNumber checks a port is within the valid range.
func ValidatePortNumber(port int) error {
	if port < MinPort || port > MaxPort {
		msg := fmt.Errorf("port %d outside valid range %d-%d", port, MinPort, MaxPort)
		return errors.WrapInvalid(msg, "ConfigValidator", "ValidatePortNumber",
			"port range validation")
	}
	return nil
}

// checkResourceConflicts verifies none of the component's exclusive
// ports are held by an already-registered instance. Two strain readers
// claiming the same UDP port fail here rather than at bind time.
func (r *Registry) checkResourceConflicts(_ string, component Discoverable) error {
	allPorts := append(component.InputPorts(), component.OutputPorts()...)

	for _, port := range allPorts {
		if port.Config != nil && port.Config.IsExclusive() {
			resourceID := port.Config.ResourceID()

			if networkPort, ok := port.Config.(NetworkPort); ok {
				if err := ValidatePortNumber(networkPort.Port); err != nil {
					return errors.Wrap(err, "Registry", "checkResourceConflicts", "network port validation")
				}
			}

			if existingInstance, exists := r.resourceTracker[resourceID]; exists {
				msg := fmt.Errorf("resource conflict: %s already used by component '%s'",
					resourceID, existingInstance)
				return errors.WrapInvalid(msg, "Registry", "checkResourceConflicts",
					"exclusive resource check")
			}
		}
	}

	return nil
}

func (r *Registry) trackComponentResources(instanceName string, component Discoverable) {
	allPorts := append(component.InputPorts(), component.OutputPorts()...)

	for _, port := range allPorts {
		if port.Config != nil && port.Config.IsExclusive() {
			r.resourceTracker[port.Config.ResourceID()] = instanceName
		}
	}
}

func (r *Registry) untrackComponentResources(instanceName string, component Discoverable) {
	allPorts := append(component.InputPorts(), component.OutputPorts()...)

	for _, port := range allPorts {
		if port.Config != nil && port.Config.IsExclusive() {
			resourceID := port.Config.ResourceID()
			// Release only resources this instance actually holds.
			if trackedInstance, exists := r.resourceTracker[resourceID]; exists && trackedInstance == instanceName {
				delete(r.resourceTracker, resourceID)
			}
		}
	}
}

// Global payload registry for message deserialization. Payloads register
// from init() since they are data types, not lifecycle components.
var globalPayloadRegistry = NewPayloadRegistry()

// RegisterPayload registers a payload factory globally.
func RegisterPayload(registration *PayloadRegistration) error {
	return globalPayloadRegistry.RegisterPayload(registration)
}

// CreatePayload creates a payload via the global registry, or nil when
// no factory matches.
func CreatePayload(domain, category, version string) any {
	return globalPayloadRegistry.CreatePayload(domain, category, version)
}
