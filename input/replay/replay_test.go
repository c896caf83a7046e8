package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/strain"
)

func recordingLine(t *testing.T, detector string, startIndex uint64, samples ...float64) []byte {
	t.Helper()
	payload := message.NewStrainPayload(&strain.SampleBlock{
		Detector:   detector,
		StartIndex: startIndex,
		SampleRate: 16,
		Epoch:      1000,
		Samples:    samples,
	})
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func writeRecording(t *testing.T, lines ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strain.jsonl")
	require.NoError(t, os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1.0, cfg.Speed)
	assert.False(t, cfg.Loop)
	assert.Equal(t, "search.strain.v1", cfg.subjectBase())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     InputConfig
		wantErr bool
	}{
		{name: "empty config", cfg: InputConfig{}},
		{name: "defaults", cfg: DefaultConfig()},
		{name: "negative speed", cfg: InputConfig{Speed: -1}, wantErr: true},
		{
			name: "nats output without subject",
			cfg: InputConfig{Ports: &component.PortConfig{
				Outputs: []component.PortDefinition{{Name: "strain_output", Type: "nats"}},
			}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubjectBaseFromPorts(t *testing.T) {
	cfg := InputConfig{Ports: &component.PortConfig{
		Outputs: []component.PortDefinition{
			{Name: "strain_output", Type: "nats", Subject: "lab.strain"},
		},
	}}
	assert.Equal(t, "lab.strain", cfg.subjectBase())
}

func TestDecodeLine(t *testing.T) {
	in := NewInput(InputDeps{Config: DefaultConfig()})

	payload, duration, err := in.decodeLine(recordingLine(t, "H1", 0, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, "H1", payload.Detector)
	assert.InDelta(t, 0.25, duration, 1e-12)

	_, _, err = in.decodeLine([]byte("not json"))
	assert.Error(t, err)

	// Valid JSON that fails block validation.
	_, _, err = in.decodeLine([]byte(`{"detector":"H1","sample_rate":16,"epoch":1000,"samples":[]}`))
	assert.Error(t, err)
}

func TestPlayFileSkipsBadLines(t *testing.T) {
	path := writeRecording(t,
		recordingLine(t, "H1", 0, 1, 2, 3, 4),
		[]byte("garbage"),
		recordingLine(t, "H1", 4, 5, 6, 7, 8),
	)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	in := NewInput(InputDeps{Config: InputConfig{Path: path}})
	in.shutdown = make(chan struct{})

	var good, bad int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if _, _, err := in.decodeLine(scanner.Bytes()); err != nil {
			bad++
		} else {
			good++
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, good)
	assert.Equal(t, 1, bad)
}

func TestWaitDurationUnlimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	start := time.Now()
	require.NoError(t, waitDuration(context.Background(), limiter, 3))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitDurationCanceled(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	limiter.AllowN(time.Now(), 1) // drain the bucket
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, waitDuration(ctx, limiter, 1))
}

func TestMetaAndPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/data/run.jsonl"
	in := NewInput(InputDeps{Name: "replay-test", Config: cfg})

	meta := in.Meta()
	assert.Equal(t, "replay-test", meta.Name)
	assert.Equal(t, "input", meta.Type)

	inputs := in.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, "recording", inputs[0].Name)

	outputs := in.OutputPorts()
	require.Len(t, outputs, 1)
	assert.Equal(t, "strain_output", outputs[0].Name)
	nats, ok := outputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "search.strain.v1.*", nats.Subject)
}

func TestInitializeValidation(t *testing.T) {
	// Missing path.
	in := NewInput(InputDeps{Config: InputConfig{}})
	assert.Error(t, in.Initialize())

	// Path that does not exist.
	in = NewInput(InputDeps{Config: InputConfig{Path: filepath.Join(t.TempDir(), "missing.jsonl")}})
	assert.Error(t, in.Initialize())

	// File present but no NATS client.
	path := writeRecording(t, recordingLine(t, "H1", 0, 1, 2))
	in = NewInput(InputDeps{Config: InputConfig{Path: path}})
	assert.Error(t, in.Initialize())
}

func TestNewMetricsNilRegistry(t *testing.T) {
	assert.Nil(t, newMetrics(nil))
}

func TestNewMetricsRegisters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newMetrics(registry)
	require.NotNil(t, m)
	assert.NotNil(t, m.blocksPublished)
	assert.NotNil(t, m.position)
}

func TestCreateInputRequiresNATS(t *testing.T) {
	_, err := CreateInput(nil, component.Dependencies{})
	assert.Error(t, err)
}

func TestCreateInputMergesConfig(t *testing.T) {
	raw := json.RawMessage(`{"path":"/data/run.jsonl","speed":4,"loop":true}`)
	_, err := CreateInput(raw, component.Dependencies{})
	// NATS is still required, but the config itself must parse cleanly.
	assert.Error(t, err)

	var userConfig InputConfig
	require.NoError(t, component.SafeUnmarshal(raw, &userConfig))
	assert.Equal(t, "/data/run.jsonl", userConfig.Path)
	assert.Equal(t, 4.0, userConfig.Speed)
	assert.True(t, userConfig.Loop)
}
