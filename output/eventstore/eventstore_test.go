package eventstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
)

func eventEnvelope(t *testing.T, id string) []byte {
	t.Helper()
	msg := message.NewBaseMessage(message.EventMessage,
		&message.EventPayload{Event: storedEvent(id, 1000.5, 9.1)}, "eventstore-test")
	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	return data
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := Config{Ports: &component.PortConfig{
		Inputs: []component.PortDefinition{{Name: "event_input", Type: "nats"}},
	}}
	assert.Error(t, bad.Validate())
}

func TestDefaultConfigSubject(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "search.event.v1", cfg.inputSubject())
}

func TestHandleEventPersists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	o := NewOutput(OutputDeps{Name: "eventstore-test", Config: cfg})

	store, err := Open(cfg.Path)
	require.NoError(t, err)
	defer store.Close()
	o.store = store

	o.handleEvent(context.Background(), eventEnvelope(t, "evt-1"))
	assert.Equal(t, int64(1), o.eventsStored.Load())

	ev, err := store.GetEvent("evt-1")
	require.NoError(t, err)
	assert.Len(t, ev.Triggers, 2)

	// Redelivery does not double-store.
	o.handleEvent(context.Background(), eventEnvelope(t, "evt-1"))
	assert.Equal(t, int64(1), o.eventsStored.Load())

	n, err := store.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleEventDropsMalformed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	o := NewOutput(OutputDeps{Config: cfg})

	o.handleEvent(context.Background(), []byte("garbage"))
	assert.Equal(t, int64(1), o.errorCount.Load())
}

func TestInitializeValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ""
	o := NewOutput(OutputDeps{Config: cfg})
	assert.Error(t, o.Initialize())
}

func TestMetaAndPorts(t *testing.T) {
	o := NewOutput(OutputDeps{Name: "eventstore-test", Config: DefaultConfig()})
	meta := o.Meta()
	assert.Equal(t, "eventstore-test", meta.Name)
	assert.Equal(t, "output", meta.Type)

	inputs := o.InputPorts()
	require.Len(t, inputs, 1)
	nats, ok := inputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "search.event.v1", nats.Subject)
}

func TestNewMetricsNilRegistry(t *testing.T) {
	assert.Nil(t, newMetrics(nil))
}

func TestNewMetricsRegisters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newMetrics(registry)
	require.NotNil(t, m)
	assert.NotNil(t, m.eventsStored)
	assert.NotNil(t, m.storeLatency)
}

func TestCreateOutputRequiresNATS(t *testing.T) {
	_, err := CreateOutput(nil, component.Dependencies{})
	assert.Error(t, err)
}
