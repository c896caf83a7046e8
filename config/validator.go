package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/errors"
)

// ComponentRegistry is the slice of the component registry the manager
// needs for schema validation, narrow enough to fake in tests.
type ComponentRegistry interface {
	GetComponentSchema(componentType string) (component.ConfigSchema, error)
}

// ValidateWithSchema checks a component config against the schema its
// factory declares, before the config reaches KV. A missing registry or
// schema skips validation rather than failing: components without
// schemas predate the schema system and stay deployable.
func (cm *Manager) ValidateWithSchema(
	ctx context.Context,
	registry ComponentRegistry,
	componentType string,
	config map[string]any,
) []component.ValidationError {
	select {
	case <-ctx.Done():
		return []component.ValidationError{{Field: "context", Message: "validation cancelled"}}
	default:
	}

	if registry == nil {
		cm.logger.Warn("Registry is nil, skipping schema validation", "component_type", componentType)
		return nil
	}

	schema, err := registry.GetComponentSchema(componentType)
	if err != nil {
		cm.logger.Warn("Failed to get component schema for validation",
			"component_type", componentType,
			"error", err)
		return nil
	}

	if schema.Properties == nil || len(schema.Properties) == 0 {
		cm.logger.Debug("Component has no schema defined, skipping validation",
			"component_type", componentType)
		return nil
	}

	validationErrors := component.ValidateConfig(config, schema)

	if len(validationErrors) > 0 {
		cm.logger.Info("Configuration validation failed",
			"component_type", componentType,
			"error_count", len(validationErrors))
	}

	return validationErrors
}

// ValidateComponentConfig is the raw-JSON variant of ValidateWithSchema.
// Malformed JSON surfaces as a validation error instead of an error
// return so callers handle one result shape.
func (cm *Manager) ValidateComponentConfig(
	ctx context.Context,
	registry ComponentRegistry,
	componentType string,
	configJSON json.RawMessage,
) []component.ValidationError {
	var config map[string]any
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return []component.ValidationError{
			{
				Field:   "",
				Message: fmt.Sprintf("Invalid JSON configuration: %v", err),
				Code:    "type",
			},
		}
	}

	return cm.ValidateWithSchema(ctx, registry, componentType, config)
}

// ValidateAndPersistComponentConfig validates a component config and,
// when it passes, writes it under components.<name> in the config
// bucket. An invalid config never reaches KV.
func (cm *Manager) ValidateAndPersistComponentConfig(
	ctx context.Context,
	registry ComponentRegistry,
	componentName, componentType string,
	configJSON json.RawMessage,
) error {
	var config map[string]any
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("invalid JSON configuration: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "parse config JSON")
	}

	validationErrors := cm.ValidateWithSchema(ctx, registry, componentType, config)
	if len(validationErrors) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("configuration validation failed: %s", validationErrors[0].Message),
			"Manager", "ValidateAndPersistComponentConfig", "validate config")
	}

	key := fmt.Sprintf("components.%s", componentName)

	configData, err := json.Marshal(config)
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("failed to marshal config: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "marshal config")
	}

	_, err = cm.kvStore.Put(ctx, key, configData)
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("failed to persist config to KV: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "persist to KV")
	}

	cm.logger.Info("Component configuration validated and persisted",
		"component_name", componentName,
		"component_type", componentType)

	return nil
}
