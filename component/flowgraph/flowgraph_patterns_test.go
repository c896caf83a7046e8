package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanghyd/spiir-search/component"
)

// newPatternTestComponent builds a minimal Discoverable with fixed ports.
func newPatternTestComponent(name string, inputs, outputs []component.Port) component.Discoverable {
	return &mockFlowGraphComponent{
		metadata:    component.Metadata{Name: name},
		inputPorts:  inputs,
		outputPorts: outputs,
	}
}

func TestAddComponentNodeValidation(t *testing.T) {
	graph := NewFlowGraph()

	err := graph.AddComponentNode("coincidence", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component cannot be nil")

	comp := newPatternTestComponent("coincidence", nil, nil)
	err = graph.AddComponentNode("", comp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component name cannot be empty")
}

func TestRequestPatternConnectsBidirectionally(t *testing.T) {
	graph := NewFlowGraph()

	clientPorts := []component.Port{
		{
			Name:      "api_request",
			Direction: component.DirectionOutput,
			Config:    component.NATSRequestPort{Subject: "eventstore.api"},
		},
	}
	serverPorts := []component.Port{
		{
			Name:      "api_handler",
			Direction: component.DirectionInput,
			Config:    component.NATSRequestPort{Subject: "eventstore.api"},
		},
	}

	require.NoError(t, graph.AddComponentNode("wsfeed",
		newPatternTestComponent("wsfeed", nil, clientPorts)))
	require.NoError(t, graph.AddComponentNode("event-store",
		newPatternTestComponent("event-store", serverPorts, nil)))

	require.NoError(t, graph.ConnectComponentsByPatterns())

	edges := graph.GetEdges()
	require.Len(t, edges, 1, "one edge represents the request/reply pair")

	edge := edges[0]
	assert.Equal(t, PatternRequest, edge.Pattern)
	assert.Equal(t, "eventstore.api", edge.ConnectionID)
	assert.True(t,
		(edge.From.ComponentName == "wsfeed" && edge.To.ComponentName == "event-store") ||
			(edge.From.ComponentName == "event-store" && edge.To.ComponentName == "wsfeed"),
		"edge should connect client and server")
}

func TestWatchPatternWarnsOnMultipleWriters(t *testing.T) {
	graph := NewFlowGraph()

	// Two controllers writing the same checkpoint bucket is a deployment
	// mistake: checkpoints would interleave and restores become ambiguous.
	h1WriterPorts := []component.Port{
		{
			Name:      "checkpoint_writer",
			Direction: component.DirectionOutput,
			Config:    component.KVWatchPort{Bucket: "spiir-checkpoints"},
		},
	}
	l1WriterPorts := []component.Port{
		{
			Name:      "checkpoint_writer",
			Direction: component.DirectionOutput,
			Config:    component.KVWatchPort{Bucket: "spiir-checkpoints"},
		},
	}
	monitorPorts := []component.Port{
		{
			Name:      "checkpoint_watcher",
			Direction: component.DirectionInput,
			Config:    component.KVWatchPort{Bucket: "spiir-checkpoints"},
		},
	}

	require.NoError(t, graph.AddComponentNode("controller-h1",
		newPatternTestComponent("controller-h1", nil, h1WriterPorts)))
	require.NoError(t, graph.AddComponentNode("controller-l1",
		newPatternTestComponent("controller-l1", nil, l1WriterPorts)))
	require.NoError(t, graph.AddComponentNode("trigger-monitor",
		newPatternTestComponent("trigger-monitor", monitorPorts, nil)))

	err := graph.ConnectComponentsByPatterns()
	require.Error(t, err, "multiple writers to one bucket must be reported")
	assert.Contains(t, err.Error(), "Multiple writers to KV bucket")

	// The warning does not prevent wiring; both edges still exist.
	edges := graph.GetEdges()
	assert.Len(t, edges, 2)
	for _, edge := range edges {
		assert.Equal(t, PatternWatch, edge.Pattern)
		assert.Equal(t, "spiir-checkpoints", edge.ConnectionID)
	}
}

func TestNetworkPatternDetectsPortConflicts(t *testing.T) {
	graph := NewFlowGraph()

	h1Ports := []component.Port{
		{
			Name:      "strain_listener",
			Direction: component.DirectionInput,
			Config:    component.NetworkPort{Protocol: "udp", Host: "0.0.0.0", Port: 4001},
		},
	}
	l1Ports := []component.Port{
		{
			Name:      "strain_listener",
			Direction: component.DirectionInput,
			Config:    component.NetworkPort{Protocol: "udp", Host: "0.0.0.0", Port: 4001},
		},
	}

	require.NoError(t, graph.AddComponentNode("strain-reader-h1",
		newPatternTestComponent("strain-reader-h1", h1Ports, nil)))
	require.NoError(t, graph.AddComponentNode("strain-reader-l1",
		newPatternTestComponent("strain-reader-l1", l1Ports, nil)))

	// Two readers cannot bind the same UDP socket.
	err := graph.ConnectComponentsByPatterns()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Network port conflict")
	assert.Contains(t, err.Error(), "udp:0.0.0.0:4001")

	for _, edge := range graph.GetEdges() {
		assert.NotEqual(t, PatternNetwork, edge.Pattern, "network ports do not create edges")
	}
}

func TestStreamPatternConnectsPublisherToSubscriber(t *testing.T) {
	graph := NewFlowGraph()

	pubPorts := []component.Port{
		{
			Name:      "trigger_output",
			Direction: component.DirectionOutput,
			Config:    component.NATSPort{Subject: "triggers.h1"},
		},
	}
	subPorts := []component.Port{
		{
			Name:      "trigger_input",
			Direction: component.DirectionInput,
			Config:    component.NATSPort{Subject: "triggers.h1"},
		},
	}

	require.NoError(t, graph.AddComponentNode("spiir-filter-h1",
		newPatternTestComponent("spiir-filter-h1", nil, pubPorts)))
	require.NoError(t, graph.AddComponentNode("coincidence",
		newPatternTestComponent("coincidence", subPorts, nil)))

	require.NoError(t, graph.ConnectComponentsByPatterns())

	edges := graph.GetEdges()
	require.Len(t, edges, 1)

	edge := edges[0]
	assert.Equal(t, PatternStream, edge.Pattern)
	assert.Equal(t, "triggers.h1", edge.ConnectionID)
	assert.Equal(t, "spiir-filter-h1", edge.From.ComponentName)
	assert.Equal(t, "coincidence", edge.To.ComponentName)
}

func TestKVWriteToKVWatchConnection(t *testing.T) {
	graph := NewFlowGraph()

	// The controller persists checkpoints through a KVWritePort and the
	// monitor follows progress through a KVWatchPort on the same bucket.
	writerPorts := []component.Port{
		{
			Name:      "checkpoints",
			Direction: component.DirectionOutput,
			Config: component.KVWritePort{
				Bucket: "spiir-checkpoints",
				Interface: &component.InterfaceContract{
					Type:    "pipeline.Checkpoint",
					Version: "v1",
				},
			},
		},
	}
	watcherPorts := []component.Port{
		{
			Name:      "checkpoints",
			Direction: component.DirectionInput,
			Config: component.KVWatchPort{
				Bucket: "spiir-checkpoints",
				Keys:   []string{},
			},
		},
	}

	require.NoError(t, graph.AddComponentNode("pipeline-controller",
		newPatternTestComponent("pipeline-controller", nil, writerPorts)))
	require.NoError(t, graph.AddComponentNode("trigger-monitor",
		newPatternTestComponent("trigger-monitor", watcherPorts, nil)))

	require.NoError(t, graph.ConnectComponentsByPatterns(),
		"a single writer plus a watcher should connect cleanly")

	edges := graph.GetEdges()
	require.Len(t, edges, 1)

	edge := edges[0]
	assert.Equal(t, PatternWatch, edge.Pattern)
	assert.Equal(t, "spiir-checkpoints", edge.ConnectionID)
	assert.Equal(t, "pipeline-controller", edge.From.ComponentName)
	assert.Equal(t, "trigger-monitor", edge.To.ComponentName)
}

func TestExtractConnectionIDHandlesMissingData(t *testing.T) {
	graph := NewFlowGraph()

	assert.Equal(t, "nil_port_config", graph.extractConnectionID(nil))
	assert.Equal(t, "nats_missing_subject", graph.extractConnectionID(component.NATSPort{}))
	assert.Equal(t, "kv_missing_bucket", graph.extractConnectionID(component.KVWatchPort{}))
	assert.Equal(t, "kv_missing_bucket", graph.extractConnectionID(component.KVWritePort{}))
	assert.Contains(t, graph.extractConnectionID(component.NetworkPort{Protocol: "udp"}), "network_incomplete")
}

func TestNATSWildcardMatching(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		pattern string
		want    bool
	}{
		{"exact match", "triggers.h1", "triggers.h1", true},
		{"star matches middle token", "events.candidate.coincident", "events.*.coincident", true},
		{"star matches first token", "triggers.h1", "*.h1", true},
		{"star matches last token", "strain.l1", "strain.*", true},
		{"gt matches deep subjects", "events.candidate.coincident.bns", "events.>", true},
		{"gt matches the bare prefix", "events", "events.>", true},
		{"star rejects wrong token", "events.candidate.single", "events.*.coincident", false},
		{"star requires exact token count", "events.candidate.single", "events.*", false},
		{"longer pattern never matches", "strain", "strain.h1", false},
		// Matching is symmetric: a pattern in either position connects.
		{"pattern as subject", "events.*.coincident", "events.candidate.coincident", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchNATSPattern(tt.subject, tt.pattern))
		})
	}
}

func TestStreamPatternWildcardConnection(t *testing.T) {
	graph := NewFlowGraph()

	// The reader publishes a concrete per-detector subject; the filter
	// subscribes with a wildcard so one config covers any detector.
	pubPorts := []component.Port{
		{
			Name:      "strain_output",
			Direction: component.DirectionOutput,
			Config:    component.NATSPort{Subject: "strain.h1"},
		},
	}
	subPorts := []component.Port{
		{
			Name:      "strain_input",
			Direction: component.DirectionInput,
			Config:    component.NATSPort{Subject: "strain.*"},
		},
	}

	require.NoError(t, graph.AddComponentNode("strain-reader-h1",
		newPatternTestComponent("strain-reader-h1", nil, pubPorts)))
	require.NoError(t, graph.AddComponentNode("spiir-filter",
		newPatternTestComponent("spiir-filter", subPorts, nil)))

	require.NoError(t, graph.ConnectComponentsByPatterns())

	edges := graph.GetEdges()
	require.Len(t, edges, 1, "wildcard subscription should match the concrete subject")

	edge := edges[0]
	assert.Equal(t, PatternStream, edge.Pattern)
	assert.Equal(t, "strain.h1", edge.ConnectionID, "edge carries the concrete subject, not the pattern")
	assert.Equal(t, "strain-reader-h1", edge.From.ComponentName)
	assert.Equal(t, "spiir-filter", edge.To.ComponentName)
}
