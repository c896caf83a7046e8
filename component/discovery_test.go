package component

import (
	"encoding/json"
	"testing"
)

// TestPropertySchemaCategorySerialization verifies Category survives JSON
// round-trips and is omitted when empty, since persisted component schemas
// are read back by config tooling.
func TestPropertySchemaCategorySerialization(t *testing.T) {
	testCases := []struct {
		name     string
		schema   PropertySchema
		expected string
	}{
		{
			name: "Category basic",
			schema: PropertySchema{
				Type:        "float",
				Description: "SNR threshold",
				Category:    "basic",
			},
			expected: `{"type":"float","description":"SNR threshold","category":"basic"}`,
		},
		{
			name: "Category advanced",
			schema: PropertySchema{
				Type:        "int",
				Description: "Block capacity",
				Category:    "advanced",
			},
			expected: `{"type":"int","description":"Block capacity","category":"advanced"}`,
		},
		{
			name: "Category empty (omitempty)",
			schema: PropertySchema{
				Type:        "bool",
				Description: "No category",
				Category:    "",
			},
			// Should not include category field when empty
			expected: `{"type":"bool","description":"No category"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			jsonData, err := json.Marshal(tc.schema)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			if string(jsonData) != tc.expected {
				t.Errorf("Expected JSON:\n%s\nGot:\n%s", tc.expected, string(jsonData))
			}

			var unmarshaled PropertySchema
			if err := json.Unmarshal(jsonData, &unmarshaled); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}

			if unmarshaled.Category != tc.schema.Category {
				t.Errorf("Expected Category %q, got %q", tc.schema.Category, unmarshaled.Category)
			}
		})
	}
}

// TestPropertySchemaBackwardCompatibility ensures schemas persisted before the
// Category field existed still unmarshal cleanly.
func TestPropertySchemaBackwardCompatibility(t *testing.T) {
	oldJSON := `{"type":"string","description":"Legacy field","default":"value"}`

	var schema PropertySchema
	if err := json.Unmarshal([]byte(oldJSON), &schema); err != nil {
		t.Fatalf("Failed to unmarshal old format: %v", err)
	}

	if schema.Category != "" {
		t.Errorf("Expected empty Category for old format, got %q", schema.Category)
	}

	if schema.Type != "string" {
		t.Errorf("Expected Type string, got %q", schema.Type)
	}

	if schema.Description != "Legacy field" {
		t.Errorf("Expected Description 'Legacy field', got %q", schema.Description)
	}
}
