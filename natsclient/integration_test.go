package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tanghyd/spiir-search/metric"
)

// Reconnection against a restarted container is not tested here:
// testcontainers assigns a new port on restart, which breaks the client's
// reconnect URL. The backoff and circuit logic is covered by unit tests.

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	assert.True(t, client.IsHealthy())
	assert.Equal(t, StatusConnected, client.Status())

	rtt, err := client.RTT()
	assert.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_CircuitBreakerOnRealFailures(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient("nats://invalid-host:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		err = client.Connect(ctx)
		assert.Error(t, err)
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	}

	err = client.Connect(ctx)
	assert.Error(t, err)
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	// With the circuit open the next attempt fails fast.
	start := time.Now()
	err = client.Connect(ctx)
	elapsed := time.Since(start)

	assert.Equal(t, ErrCircuitOpen, err)
	assert.Less(t, elapsed, 10*time.Millisecond)
}

func TestIntegration_StrainPubSub(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	received := make(chan string, 1)
	err = client.Subscribe(ctx, "strain.H1", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)

	err = client.Publish(ctx, "strain.H1", []byte("h1-block-0"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "h1-block-0", msg)
	case <-time.After(time.Second):
		t.Fatal("strain block not received")
	}
}

func TestIntegration_TriggerStream(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainerWithJS(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	js, err := client.JetStream()
	require.NoError(t, err)
	require.NotNil(t, js)

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "TRIGGERS",
		Subjects: []string{"triggers.*"},
	})
	require.NoError(t, err)

	err = client.PublishToStream(ctx, "triggers.L1", []byte("l1-trigger"))
	require.NoError(t, err)

	received := make(chan string, 1)
	err = client.ConsumeStream(ctx, "TRIGGERS", "triggers.*", func(data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "l1-trigger", msg)
	case <-time.After(time.Second):
		t.Fatal("trigger not received from stream")
	}
}

func TestIntegration_HealthMonitoring(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	client.WithHealthCheck(100 * time.Millisecond)

	healthChanges := make(chan bool, 10)
	client.OnHealthChange(func(healthy bool) {
		healthChanges <- healthy
	})

	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	select {
	case healthy := <-healthChanges:
		assert.True(t, healthy)
	case <-time.After(200 * time.Millisecond):
		// Initial state might already be healthy
	}

	err = natsContainer.Stop(ctx, nil)
	require.NoError(t, err)

	select {
	case healthy := <-healthChanges:
		assert.False(t, healthy)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("health change not detected")
	}
}

func TestIntegration_JetStreamMetrics(t *testing.T) {
	ctx := context.Background()

	container, natsURL := startNATSContainerWithJS(ctx, t)
	defer container.Terminate(ctx)

	metricsRegistry := metric.NewMetricsRegistry()

	client, err := NewClient(natsURL,
		WithMetrics(metricsRegistry),
	)
	require.NoError(t, err)

	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	stream, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "EVENTS",
		Subjects: []string{"events.>"},
	})
	require.NoError(t, err)
	require.NotNil(t, stream)

	for i := 0; i < 5; i++ {
		err := client.PublishToStream(ctx, "events.ranked", []byte(fmt.Sprintf("event %d", i)))
		require.NoError(t, err)
	}

	received := make(chan bool, 5)
	err = client.ConsumeStream(ctx, "EVENTS", "events.>", func(data []byte) {
		select {
		case received <- true:
		default:
		}
	})
	require.NoError(t, err)

	// Wait for deliveries before sampling stream stats
	time.Sleep(500 * time.Millisecond)

	// Stats normally refresh every 30s; force one now
	if client.jsMetrics != nil {
		client.jsMetrics.updateStats(ctx)
	}

	metricFamilies, err := metricsRegistry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	metricsByName := make(map[string]*dto.MetricFamily)
	for _, mf := range metricFamilies {
		metricsByName[*mf.Name] = mf
	}

	streamMessages := metricsByName["spiir_jetstream_stream_messages"]
	require.NotNil(t, streamMessages, "stream messages metric should exist")
	assert.GreaterOrEqual(t, *streamMessages.Metric[0].Gauge.Value, float64(0))

	streamBytes := metricsByName["spiir_jetstream_stream_bytes"]
	require.NotNil(t, streamBytes, "stream bytes metric should exist")
	assert.Greater(t, *streamBytes.Metric[0].Gauge.Value, float64(0))

	streamState := metricsByName["spiir_jetstream_stream_state"]
	require.NotNil(t, streamState, "stream state metric should exist")
	assert.Equal(t, float64(1), *streamState.Metric[0].Gauge.Value, "stream should be active")

	consumerPending := metricsByName["spiir_jetstream_consumer_pending_messages"]
	require.NotNil(t, consumerPending, "consumer pending metric should exist")

	consumerDelivered := metricsByName["spiir_jetstream_consumer_delivered_total"]
	require.NotNil(t, consumerDelivered, "consumer delivered metric should exist")
	assert.GreaterOrEqual(t, *consumerDelivered.Metric[0].Counter.Value, float64(0))
}

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-m", "8222"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	// Give the server a beat to finish startup
	time.Sleep(100 * time.Millisecond)

	return natsContainer, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func startNATSContainerWithJS(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js", "-m", "8222"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	return natsContainer, fmt.Sprintf("nats://%s:%s", host, port.Port())
}
