package message_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/message"
)

func TestGenericJSONSchema(t *testing.T) {
	payload := message.NewGenericJSON(map[string]any{"state": "observing"})

	assert.Equal(t, message.Type{
		Domain:   "core",
		Category: "json",
		Version:  "v1",
	}, payload.Schema())
}

func TestGenericJSONValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{
			name: "detector state blob",
			data: map[string]any{
				"detector": "H1",
				"state":    "observing",
				"horizon":  142.7,
			},
		},
		{
			name: "empty map is valid",
			data: map[string]any{},
		},
		{
			name:    "nil data rejected",
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&message.GenericJSONPayload{Data: tt.data}).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenericJSONRoundTrip(t *testing.T) {
	original := &message.GenericJSONPayload{
		Data: map[string]any{
			"detector":  "L1",
			"horizon":   135.2,
			"observing": true,
			"bank": map[string]any{
				"id": "bank-0042",
			},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	// The payload nests under a "data" field on the wire.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	dataField, ok := wire["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "L1", dataField["detector"])

	var decoded message.GenericJSONPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "L1", decoded.Data["detector"])
	assert.Equal(t, 135.2, decoded.Data["horizon"])
	assert.Equal(t, true, decoded.Data["observing"])
	bank, ok := decoded.Data["bank"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bank-0042", bank["id"])
}

func TestGenericJSONNestedStructures(t *testing.T) {
	payload := &message.GenericJSONPayload{
		Data: map[string]any{
			"detectors": []any{
				map[string]any{"name": "H1", "horizon": 142.7},
				map[string]any{"name": "L1", "horizon": 135.2},
			},
			"metadata": map[string]any{
				"run":       "O4",
				"timestamp": "2026-08-17T12:41:04Z",
			},
		},
	}

	require.NoError(t, payload.Validate())

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded message.GenericJSONPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	detectors, ok := decoded.Data["detectors"].([]any)
	require.True(t, ok)
	assert.Len(t, detectors, 2)

	metadata, ok := decoded.Data["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "O4", metadata["run"])
}
