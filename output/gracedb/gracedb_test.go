package gracedb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/coincidence"
	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/message"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/pkg/security"
	"github.com/tanghyd/spiir-search/trigger"
)

func testEvent(rankingStat float64) *coincidence.Event {
	return &coincidence.Event{
		ID:         "evt-1",
		TemplateID: 7,
		Triggers: []*trigger.Trigger{
			{TemplateID: 7, Detector: "H1", SampleIndex: 16400, Time: 1025.0,
				SNRReal: 6, SNRImag: 2, Magnitude: 6.32},
			{TemplateID: 7, Detector: "L1", SampleIndex: 16401, Time: 1025.002,
				SNRReal: 5, SNRImag: 3, Magnitude: 5.83},
		},
		NetworkSNR:  9.2,
		RankingStat: rankingStat,
		TimeMin:     1025.0,
		TimeMax:     1025.002,
	}
}

func eventEnvelope(t *testing.T, ev *coincidence.Event) []byte {
	t.Helper()
	msg := message.NewBaseMessage(message.EventMessage, &message.EventPayload{Event: ev}, "gracedb-test")
	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	return data
}

func testOutput(t *testing.T, url string) *Output {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.MinRankingStat = 8
	cfg.RetryAttempts = 1
	cfg.Timeout = 2 * time.Second
	o, err := NewOutput(OutputDeps{Name: "gracedb-test", Config: cfg})
	require.NoError(t, err)
	return o
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty config", cfg: Config{}},
		{name: "defaults", cfg: DefaultConfig()},
		{name: "bad scheme", cfg: Config{URL: "ftp://example.org/api"}, wantErr: true},
		{name: "negative threshold", cfg: Config{MinRankingStat: -1}, wantErr: true},
		{name: "excessive retries", cfg: Config{RetryAttempts: 99}, wantErr: true},
		{name: "negative timeout", cfg: Config{Timeout: -time.Second}, wantErr: true},
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

func TestHandleEventSubmits(t *testing.T) {
	var got submission
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	o := testOutput(t, srv.URL)
	o.cfg.APIToken = "tok-123"
	o.handleEvent(context.Background(), eventEnvelope(t, testEvent(9.5)))

	assert.Equal(t, int64(1), o.eventsSubmitted.Load())
	assert.Equal(t, "Bearer tok-123", authHeader)
	assert.Equal(t, "CBC", got.Group)
	assert.Equal(t, "spiir", got.Pipeline)
	require.NotNil(t, got.Event)
	assert.Equal(t, "evt-1", got.Event.ID)
	assert.Len(t, got.Event.Triggers, 2)
}

func TestHandleEventSkipsBelowThreshold(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	o := testOutput(t, srv.URL)
	o.handleEvent(context.Background(), eventEnvelope(t, testEvent(4.0)))

	assert.Zero(t, requests.Load())
	assert.Zero(t, o.eventsSubmitted.Load())
	assert.Zero(t, o.errorCount.Load())
}

func TestHandleEventDoesNotRetryRejection(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	o := testOutput(t, srv.URL)
	o.cfg.RetryAttempts = 3
	o.retryConfig.MaxAttempts = 3
	o.handleEvent(context.Background(), eventEnvelope(t, testEvent(9.5)))

	assert.Equal(t, int64(1), requests.Load())
	assert.Equal(t, int64(1), o.errorCount.Load())
}

func TestHandleEventRetriesServerError(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	o := testOutput(t, srv.URL)
	o.retryConfig.MaxAttempts = 3
	o.retryConfig.InitialDelay = time.Millisecond
	o.handleEvent(context.Background(), eventEnvelope(t, testEvent(9.5)))

	assert.Equal(t, int64(2), requests.Load())
	assert.Equal(t, int64(1), o.eventsSubmitted.Load())
}

func TestHandleEventDropsMalformed(t *testing.T) {
	o := testOutput(t, "http://localhost:1/api")
	o.handleEvent(context.Background(), []byte("garbage"))
	assert.Equal(t, int64(1), o.errorCount.Load())
	assert.Zero(t, o.eventsSubmitted.Load())
}

func TestClientTLSDisabledByDefault(t *testing.T) {
	cfg, cleanup, err := clientTLS(security.Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Nil(t, cleanup)
}

func TestMetaAndPorts(t *testing.T) {
	o := testOutput(t, "https://gracedb.example.org/api/events/")
	meta := o.Meta()
	assert.Equal(t, "gracedb-test", meta.Name)
	assert.Equal(t, "output", meta.Type)

	inputs := o.InputPorts()
	require.Len(t, inputs, 1)
	nats, ok := inputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "search.event.v1", nats.Subject)
}

func TestInitializeValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = ""
	o, err := NewOutput(OutputDeps{Config: cfg})
	require.NoError(t, err)
	assert.Error(t, o.Initialize())
}

func TestNewMetricsNilRegistry(t *testing.T) {
	assert.Nil(t, newMetrics(nil))
}

func TestNewMetricsRegisters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newMetrics(registry)
	require.NotNil(t, m)
	assert.NotNil(t, m.eventsSubmitted)
	assert.NotNil(t, m.submitLatency)
}

func TestCreateOutputRequiresNATS(t *testing.T) {
	_, err := CreateOutput(nil, component.Dependencies{})
	assert.Error(t, err)
}
