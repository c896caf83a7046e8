package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/strain"
)

func TestControllerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ControllerConfig)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*ControllerConfig) {},
		},
		{
			name:   "partial config tolerated pre-merge",
			mutate: func(c *ControllerConfig) { *c = ControllerConfig{Bank: config.BankConfig{Path: "b.json"}} },
		},
		{
			name:    "bad search parameters",
			mutate:  func(c *ControllerConfig) { c.Search.SNRThreshold = -1 },
			wantErr: true,
		},
		{
			name: "classifier enabled without model",
			mutate: func(c *ControllerConfig) {
				c.Classify.Enabled = true
				c.Classify.ModelPath = ""
			},
			wantErr: true,
		},
		{
			name:    "negative checkpoint interval",
			mutate:  func(c *ControllerConfig) { c.CheckpointInterval = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStrainSubjectPerDetector(t *testing.T) {
	assert.Equal(t, "search.strain.v1.H1", strainSubject("H1"))
	assert.Equal(t, "search.strain.v1.V1", strainSubject("V1"))
}

func TestControllerDiscovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detectors = []string{"H1", "L1", "V1"}
	c := NewController(ControllerDeps{Name: "pipeline-main", Config: cfg})

	meta := c.Meta()
	assert.Equal(t, "pipeline-main", meta.Name)
	assert.Equal(t, "processor", meta.Type)

	inputs := c.InputPorts()
	require.Len(t, inputs, 3)
	assert.Equal(t, component.DirectionInput, inputs[0].Direction)

	outputs := c.OutputPorts()
	require.Len(t, outputs, 2)
	assert.Equal(t, "event_output", outputs[1].Name)

	schema := c.ConfigSchema()
	assert.Contains(t, schema.Properties, "detectors")
	assert.Contains(t, schema.Properties, "bank")
}

func TestNewMetricsNilRegistry(t *testing.T) {
	assert.Nil(t, newMetrics(nil))
}

func TestNewMetricsRegisters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newMetrics(registry)
	require.NotNil(t, m)
	assert.NotNil(t, m.blocksIngested)
	assert.NotNil(t, m.eventsEmitted)
}

func TestCreateControllerRequiresNATS(t *testing.T) {
	_, err := CreateController(nil, component.Dependencies{})
	assert.Error(t, err)
}

func TestCreateControllerRejectsMalformedConfig(t *testing.T) {
	raw := json.RawMessage(`{"detectors": "not-an-array"`)
	_, err := CreateController(raw, component.Dependencies{})
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	cp := checkpoint{
		SavedAtMs: 1700000000000,
		Detectors: map[string]detectorPosition{
			"H1": {NextIndex: 4096, Watermark: 1370000002.5},
			"L1": {NextIndex: 2048, Watermark: 1370000001.0},
		},
	}

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var got checkpoint
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cp, got)
}

func TestValidateComplete(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.validateComplete())

	noDetectors := cfg
	noDetectors.Detectors = nil
	assert.Error(t, noDetectors.validateComplete())

	noBank := cfg
	noBank.Bank.Path = ""
	assert.Error(t, noBank.validateComplete())

	zeroSearch := cfg
	zeroSearch.Search = config.SearchConfig{}
	assert.Error(t, zeroSearch.validateComplete())
}

func TestInitializeRequiresValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detectors = nil
	c := NewController(ControllerDeps{Config: cfg})
	assert.Error(t, c.Initialize())
}

func strainData(t *testing.T, b *strain.SampleBlock) []byte {
	t.Helper()
	msg := message.NewBaseMessage(message.StrainMessage, message.NewStrainPayload(b), "test")
	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	return data
}

func TestStalledConsumerBlocksIngestWithoutDrops(t *testing.T) {
	search := testSearchConfig()
	search.BlockCapacity = 1
	search.BackpressureBound = 20 * time.Millisecond
	p, _ := newTestPipeline(t, search)

	c := &Controller{
		cfg:    ControllerConfig{Search: search},
		logger: slog.Default(),
	}
	c.lastActivity.Store(time.Time{})
	c.running.Store(true)

	// No run goroutine consumes the queue, standing in for a stalled
	// coincidence stage. The first block fills it.
	c.handleStrain(context.Background(), p, strainData(t, block(0, 0, 0, 0, 0)))
	require.Equal(t, int64(1), c.blocksReceived.Load())

	// The second delivery must block, outliving any per-message handler
	// deadline, until the consumer drains.
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		c.handleStrain(context.Background(), p, strainData(t, block(4, 0, 0, 0, 0)))
	}()

	select {
	case <-delivered:
		t.Fatal("ingest returned while the queue was full")
	case <-time.After(60 * time.Millisecond):
	}

	// Drain one block; the blocked delivery completes with nothing lost.
	first, ok := p.queue.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(0), first.StartIndex)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not resume after the consumer drained")
	}

	second, ok := p.queue.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(4), second.StartIndex)

	assert.Equal(t, int64(2), c.blocksReceived.Load())
	assert.Equal(t, int64(0), c.errorCount.Load())

	// The stall exceeded the bound, so the degraded-latency condition is
	// raised and surfaces through Health.
	assert.True(t, c.degraded.Load())
	assert.False(t, c.Health().Healthy)
}

func TestStopFinalizesRisingCandidates(t *testing.T) {
	search := testSearchConfig()
	p, _ := newTestPipeline(t, search)

	// Drive the passthrough template above threshold with a rising run
	// and stop mid-peak: the candidate is still in the RISING state.
	_, err := p.enqueue(context.Background(), block(0, 0, 6, 7, 8))
	require.NoError(t, err)
	blk, ok := p.queue.Read()
	require.True(t, ok)
	_, err = p.processBlock(blk)
	require.NoError(t, err)

	survivors := p.interruptAll()
	require.Len(t, survivors, 1)
	assert.Equal(t, uint64(3), survivors[0].SampleIndex)
	assert.InDelta(t, 8.0, survivors[0].Magnitude, 1e-12)

	// A second interrupt finds nothing in flight.
	assert.Empty(t, p.interruptAll())
}
