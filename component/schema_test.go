package component

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coincidenceSchema() ConfigSchema {
	return ConfigSchema{
		Properties: map[string]PropertySchema{
			"port": {
				Type:        "int",
				Description: "Ingest port",
				Minimum:     intPtr(1),
				Maximum:     intPtr(65535),
			},
			"detector": {
				Type: "string",
				Enum: []string{"H1", "L1", "V1", "K1"},
			},
			"emit_singles": {
				Type: "bool",
			},
		},
		Required: []string{"port", "detector"},
	}
}

func TestValidateConfigRequiredFields(t *testing.T) {
	errs := ValidateConfig(map[string]any{"detector": "H1"}, coincidenceSchema())

	require.Len(t, errs, 1)
	assert.Equal(t, "port", errs[0].Field)
	assert.Equal(t, "required", errs[0].Code)
}

func TestValidateConfigConstraints(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		wantField string
		wantCode  string
	}{
		{
			name:   "valid config",
			config: map[string]any{"port": 4001, "detector": "H1", "emit_singles": false},
		},
		{
			name:      "port below minimum",
			config:    map[string]any{"port": 0, "detector": "H1"},
			wantField: "port",
			wantCode:  "min",
		},
		{
			name:      "port above maximum",
			config:    map[string]any{"port": 99999, "detector": "H1"},
			wantField: "port",
			wantCode:  "max",
		},
		{
			name:      "unknown detector",
			config:    map[string]any{"port": 4001, "detector": "G1"},
			wantField: "detector",
			wantCode:  "enum",
		},
		{
			name:      "string for int field",
			config:    map[string]any{"port": "not-a-number", "detector": "H1"},
			wantField: "port",
			wantCode:  "type",
		},
		{
			name:      "number for bool field",
			config:    map[string]any{"port": 4001, "detector": "H1", "emit_singles": 1},
			wantField: "emit_singles",
			wantCode:  "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateConfig(tt.config, coincidenceSchema())

			if tt.wantCode == "" {
				assert.Empty(t, errs)
				return
			}

			var found *ValidationError
			for i := range errs {
				if errs[i].Field == tt.wantField {
					found = &errs[i]
					break
				}
			}
			require.NotNil(t, found, "expected an error for field %q, got %+v", tt.wantField, errs)
			assert.Equal(t, tt.wantCode, found.Code)
			assert.NotEmpty(t, found.Message)
		})
	}
}

func TestValidationErrorJSON(t *testing.T) {
	data, err := json.Marshal(ValidationError{
		Field:   "port",
		Message: "Value must be between 1 and 65535",
		Code:    "max",
	})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"field":"port","message":"Value must be between 1 and 65535","code":"max"}`,
		string(data))
}

func TestValidateConfigEmptySchema(t *testing.T) {
	config := map[string]any{
		"arbitrary_field": "arbitrary_value",
		"port":            4001,
	}

	// A component without a schema accepts any config.
	assert.Empty(t, ValidateConfig(config, ConfigSchema{}))
	assert.Empty(t, ValidateConfig(config, ConfigSchema{
		Properties: map[string]PropertySchema{},
		Required:   []string{},
	}))
}
