// Package flowgraph provides flow graph analysis and validation for component
// connections. The engine uses it to verify that the configured pipeline is
// actually wired: every strain input feeds a filter stage, every trigger
// stream has a consumer, and no two components bind the same network port.
package flowgraph

import (
	"fmt"
	"strings"

	"github.com/tanghyd/spiir-search/component"
)

// FlowGraph is a directed graph of component connections. Nodes are the
// declared components; edges are inferred by matching port connection IDs.
type FlowGraph struct {
	nodes map[string]*ComponentNode
	edges []FlowEdge
}

// ComponentNode is a component together with the ports it declared.
type ComponentNode struct {
	ComponentName string
	Component     component.Discoverable
	InputPorts    []PortInfo
	OutputPorts   []PortInfo
}

// PortInfo is the per-port metadata the analysis works on.
type PortInfo struct {
	Name         string
	Direction    component.Direction
	ConnectionID string // subject, bucket or network address
	Pattern      InteractionPattern
	Interface    *component.InterfaceContract
	Required     bool
}

// FlowEdge is one inferred connection between two component ports.
type FlowEdge struct {
	From         ComponentPortRef   `json:"from"`
	To           ComponentPortRef   `json:"to"`
	Pattern      InteractionPattern `json:"pattern"`
	ConnectionID string             `json:"connection_id"`
	Metadata     EdgeMetadata       `json:"metadata"`
}

// ComponentPortRef names a specific port on a specific component.
type ComponentPortRef struct {
	ComponentName string `json:"component_name"`
	PortName      string `json:"port_name"`
}

// InteractionPattern classifies how two ports talk to each other.
type InteractionPattern string

const (
	// PatternStream covers NATSPort and JetStreamPort: the subjects strain
	// blocks and triggers flow over.
	PatternStream InteractionPattern = "stream"
	// PatternRequest covers NATSRequestPort, such as the event store's
	// query API.
	PatternRequest InteractionPattern = "request"
	// PatternWatch covers KVWatchPort and KVWritePort: checkpoint and
	// runtime-config buckets.
	PatternWatch InteractionPattern = "watch"
	// PatternNetwork covers NetworkPort: sockets facing the world outside
	// the graph, like the detector frame feed.
	PatternNetwork InteractionPattern = "network"
)

// EdgeMetadata carries pattern-specific validation data.
type EdgeMetadata struct {
	InterfaceContract *component.InterfaceContract `json:"interface_contract,omitempty"`
	Timeout           string                       `json:"timeout,omitempty"`
	Queue             string                       `json:"queue,omitempty"`
	Keys              []string                     `json:"keys,omitempty"`
}

// FlowAnalysisResult is what AnalyzeConnectivity reports.
type FlowAnalysisResult struct {
	ConnectedComponents [][]string         `json:"connected_components"`
	ConnectedEdges      []FlowEdge         `json:"connected_edges"`
	DisconnectedNodes   []DisconnectedNode `json:"disconnected_nodes"`
	OrphanedPorts       []OrphanedPort     `json:"orphaned_ports"`
	ValidationStatus    string             `json:"validation_status"`
}

// DisconnectedNode is a component that ended up with no edges at all.
type DisconnectedNode struct {
	ComponentName string   `json:"component_name"`
	Issue         string   `json:"issue"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// OrphanedPort is a declared port that no edge touches.
type OrphanedPort struct {
	ComponentName string              `json:"component_name"`
	PortName      string              `json:"port_name"`
	Direction     component.Direction `json:"direction"`
	ConnectionID  string              `json:"connection_id"`
	Pattern       InteractionPattern  `json:"pattern"`
	Issue         string              `json:"issue"`
	Required      bool                `json:"required"`
}

// NewFlowGraph creates an empty FlowGraph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		nodes: make(map[string]*ComponentNode),
		edges: make([]FlowEdge, 0),
	}
}

// GetNodes returns a copy of the component nodes. Callers get their own
// port slices; the Discoverable reference itself is shared.
func (g *FlowGraph) GetNodes() map[string]*ComponentNode {
	result := make(map[string]*ComponentNode, len(g.nodes))
	for k, v := range g.nodes {
		nodeCopy := &ComponentNode{
			ComponentName: v.ComponentName,
			Component:     v.Component,
			InputPorts:    make([]PortInfo, len(v.InputPorts)),
			OutputPorts:   make([]PortInfo, len(v.OutputPorts)),
		}
		copy(nodeCopy.InputPorts, v.InputPorts)
		copy(nodeCopy.OutputPorts, v.OutputPorts)
		result[k] = nodeCopy
	}
	return result
}

// GetEdges returns a copy of the edges in the graph.
func (g *FlowGraph) GetEdges() []FlowEdge {
	result := make([]FlowEdge, len(g.edges))
	copy(result, g.edges)
	return result
}

// AddComponentNode adds a component as a node in the graph.
func (g *FlowGraph) AddComponentNode(name string, comp component.Discoverable) error {
	if name == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if comp == nil {
		return fmt.Errorf("component cannot be nil")
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("component %s already exists in graph", name)
	}

	g.nodes[name] = &ComponentNode{
		ComponentName: name,
		Component:     comp,
		InputPorts:    g.extractPortInfo(comp.InputPorts()),
		OutputPorts:   g.extractPortInfo(comp.OutputPorts()),
	}
	return nil
}

func (g *FlowGraph) extractPortInfo(ports []component.Port) []PortInfo {
	result := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		result = append(result, PortInfo{
			Name:         port.Name,
			Direction:    port.Direction,
			Pattern:      g.classifyInteractionPattern(port.Config),
			Interface:    g.extractInterfaceContract(port.Config),
			Required:     port.Required,
			ConnectionID: g.extractConnectionID(port.Config),
		})
	}
	return result
}

func (g *FlowGraph) extractInterfaceContract(portConfig component.Portable) *component.InterfaceContract {
	switch config := portConfig.(type) {
	case component.NATSPort:
		return config.Interface
	case component.NATSRequestPort:
		return config.Interface
	case component.JetStreamPort:
		return config.Interface
	case component.KVWatchPort:
		return config.Interface
	case component.KVWritePort:
		return config.Interface
	default:
		// Network and file ports carry raw bytes, not contracted payloads.
		return nil
	}
}

func (g *FlowGraph) classifyInteractionPattern(portConfig component.Portable) InteractionPattern {
	switch portConfig.(type) {
	case component.NATSPort, component.JetStreamPort:
		return PatternStream
	case component.NATSRequestPort:
		return PatternRequest
	case component.KVWatchPort, component.KVWritePort:
		return PatternWatch
	case component.NetworkPort, component.FilePort:
		// File I/O crosses the graph boundary the same way a socket does.
		return PatternNetwork
	default:
		return PatternStream
	}
}

// extractConnectionID derives the identifier two ports must share to be
// considered connected. Misconfigured ports get sentinel IDs so they show
// up as orphans instead of silently matching each other.
func (g *FlowGraph) extractConnectionID(portConfig component.Portable) string {
	if portConfig == nil {
		return "nil_port_config"
	}

	switch config := portConfig.(type) {
	case component.NATSPort:
		if config.Subject == "" {
			return "nats_missing_subject"
		}
		return config.Subject
	case component.NATSRequestPort:
		if config.Subject == "" {
			return "nats_request_missing_subject"
		}
		return config.Subject
	case component.JetStreamPort:
		if config.StreamName != "" {
			return config.StreamName
		}
		if len(config.Subjects) > 0 {
			return config.Subjects[0]
		}
		return "jetstream_unknown"
	case component.KVWatchPort:
		if config.Bucket == "" {
			return "kv_missing_bucket"
		}
		return config.Bucket
	case component.KVWritePort:
		if config.Bucket == "" {
			return "kv_missing_bucket"
		}
		return config.Bucket
	case component.NetworkPort:
		if config.Host == "" || config.Port == 0 {
			return fmt.Sprintf("network_incomplete_%s_%d", config.Host, config.Port)
		}
		return fmt.Sprintf("%s:%s:%d", config.Protocol, config.Host, config.Port)
	case component.FilePort:
		if config.Path != "" {
			return config.Path
		}
		return "file_unknown"
	default:
		return fmt.Sprintf("unknown_type_%T", config)
	}
}

// ConnectComponentsByPatterns rebuilds the edge set by matching ports on
// their connection IDs, pattern by pattern. It returns an error when the
// wiring itself is suspect: two writers on one checkpoint bucket, or two
// components binding the same socket.
func (g *FlowGraph) ConnectComponentsByPatterns() error {
	g.edges = g.edges[:0]

	publishers := g.buildPublisherMap()
	subscribers := g.buildSubscriberMap()

	var warnings []string

	g.connectStreamPorts(publishers[PatternStream], subscribers[PatternStream])
	g.connectRequestPorts(publishers[PatternRequest], subscribers[PatternRequest])
	g.connectWatchPorts(publishers[PatternWatch], subscribers[PatternWatch], &warnings)

	conflicts := g.validateNetworkPorts(publishers[PatternNetwork], subscribers[PatternNetwork])
	warnings = append(warnings, conflicts...)

	if len(warnings) > 0 {
		return fmt.Errorf("flow graph validation warnings: %v", warnings)
	}
	return nil
}

func (g *FlowGraph) buildPublisherMap() map[InteractionPattern]map[string][]ComponentPortRef {
	publishers := make(map[InteractionPattern]map[string][]ComponentPortRef)
	for componentName, node := range g.nodes {
		for _, port := range node.OutputPorts {
			if publishers[port.Pattern] == nil {
				publishers[port.Pattern] = make(map[string][]ComponentPortRef)
			}
			publishers[port.Pattern][port.ConnectionID] = append(
				publishers[port.Pattern][port.ConnectionID],
				ComponentPortRef{ComponentName: componentName, PortName: port.Name},
			)
		}
	}
	return publishers
}

func (g *FlowGraph) buildSubscriberMap() map[InteractionPattern]map[string][]ComponentPortRef {
	subscribers := make(map[InteractionPattern]map[string][]ComponentPortRef)
	for componentName, node := range g.nodes {
		for _, port := range node.InputPorts {
			if subscribers[port.Pattern] == nil {
				subscribers[port.Pattern] = make(map[string][]ComponentPortRef)
			}
			subscribers[port.Pattern][port.ConnectionID] = append(
				subscribers[port.Pattern][port.ConnectionID],
				ComponentPortRef{ComponentName: componentName, PortName: port.Name},
			)
		}
	}
	return subscribers
}

// matchNATSPattern reports whether a subject matches a NATS pattern under
// standard subject semantics: * matches exactly one token, > matches the
// rest. Either argument may be the pattern; a filter declaring strain.*
// connects to a reader publishing strain.h1 regardless of which side the
// wildcard sits on.
func matchNATSPattern(subject, pattern string) bool {
	if subject == pattern {
		return true
	}

	subjectHasWildcards := strings.Contains(subject, "*") || strings.Contains(subject, ">")
	patternHasWildcards := strings.Contains(pattern, "*") || strings.Contains(pattern, ">")

	if !subjectHasWildcards && !patternHasWildcards {
		return false
	}

	subjectTokens := strings.Split(subject, ".")
	patternTokens := strings.Split(pattern, ".")

	if subjectHasWildcards && patternHasWildcards {
		return matchTokens(subjectTokens, patternTokens) || matchTokens(patternTokens, subjectTokens)
	}
	if patternHasWildcards {
		return matchTokens(subjectTokens, patternTokens)
	}
	return matchTokens(patternTokens, subjectTokens)
}

func matchTokens(subjectTokens, patternTokens []string) bool {
	i, j := 0, 0

	for i < len(patternTokens) {
		if patternTokens[i] == ">" {
			return true
		}
		if j >= len(subjectTokens) {
			return false
		}
		if patternTokens[i] == "*" || patternTokens[i] == subjectTokens[j] {
			i++
			j++
			continue
		}
		return false
	}

	// A match requires both sides fully consumed.
	return i == len(patternTokens) && j == len(subjectTokens)
}

// connectStreamPorts wires publishers to subscribers wherever subjects
// match, wildcards included.
func (g *FlowGraph) connectStreamPorts(publishers, subscribers map[string][]ComponentPortRef) {
	for pubConnID, pubs := range publishers {
		for subConnID, subs := range subscribers {
			if !matchNATSPattern(pubConnID, subConnID) && !matchNATSPattern(subConnID, pubConnID) {
				continue
			}
			for _, pub := range pubs {
				for _, sub := range subs {
					g.edges = append(g.edges, FlowEdge{
						From:    pub,
						To:      sub,
						Pattern: PatternStream,
						// The edge records the concrete subject, not the pattern.
						ConnectionID: pubConnID,
						Metadata:     EdgeMetadata{},
					})
				}
			}
		}
	}
}

// connectRequestPorts wires request-reply ports. Requests are
// bidirectional, so every pair of ports sharing a subject gets one edge
// regardless of which side declared it as input or output.
func (g *FlowGraph) connectRequestPorts(publishers, subscribers map[string][]ComponentPortRef) {
	allPorts := make(map[string][]ComponentPortRef)
	for connID, ports := range publishers {
		allPorts[connID] = append(allPorts[connID], ports...)
	}
	for connID, ports := range subscribers {
		allPorts[connID] = append(allPorts[connID], ports...)
	}

	for connectionID, ports := range allPorts {
		for i, port1 := range ports {
			for j, port2 := range ports {
				if i < j {
					g.edges = append(g.edges, FlowEdge{
						From:         port1,
						To:           port2,
						Pattern:      PatternRequest,
						ConnectionID: connectionID,
						Metadata:     EdgeMetadata{},
					})
				}
			}
		}
	}
}

// connectWatchPorts wires KV writers to watchers of the same bucket. A
// bucket with more than one writer is flagged: interleaved checkpoint
// writes make restores ambiguous.
func (g *FlowGraph) connectWatchPorts(publishers, subscribers map[string][]ComponentPortRef, warnings *[]string) {
	for connectionID, pubs := range publishers {
		if len(pubs) > 1 && warnings != nil {
			*warnings = append(*warnings,
				fmt.Sprintf("Multiple writers to KV bucket %s: %v", connectionID, pubs))
		}
		subs, exists := subscribers[connectionID]
		if !exists {
			continue
		}
		for _, pub := range pubs {
			for _, sub := range subs {
				g.edges = append(g.edges, FlowEdge{
					From:         pub,
					To:           sub,
					Pattern:      PatternWatch,
					ConnectionID: connectionID,
					Metadata:     EdgeMetadata{},
				})
			}
		}
	}
}

// validateNetworkPorts detects binding conflicts. Sockets need exclusive
// binding; no edges are created since the peer lives outside the graph.
func (g *FlowGraph) validateNetworkPorts(publishers, subscribers map[string][]ComponentPortRef) []string {
	conflicts := []string{}
	allPorts := make(map[string][]ComponentPortRef)

	for connID, ports := range publishers {
		if len(ports) > 1 {
			conflicts = append(conflicts,
				fmt.Sprintf("Network port conflict on %s: multiple components binding: %v", connID, ports))
		}
		allPorts[connID] = ports
	}

	for connID, ports := range subscribers {
		if existing, exists := allPorts[connID]; exists {
			conflicts = append(conflicts,
				fmt.Sprintf("Network port conflict on %s: %v and %v both trying to bind", connID, existing, ports))
		} else if len(ports) > 1 {
			conflicts = append(conflicts,
				fmt.Sprintf("Network port conflict on %s: multiple components binding: %v", connID, ports))
		}
	}

	return conflicts
}

// AnalyzeConnectivity reports connected clusters, isolated components and
// orphaned ports for the current edge set. ValidationStatus drops to
// "warnings" when a component is fully disconnected or a required stream
// port has no peer; a filter publishing triggers nobody consumes is a
// deployment bug, not a tuning choice.
func (g *FlowGraph) AnalyzeConnectivity() *FlowAnalysisResult {
	result := &FlowAnalysisResult{
		ConnectedEdges:      g.edges,
		ValidationStatus:    "healthy",
		DisconnectedNodes:   []DisconnectedNode{},
		ConnectedComponents: [][]string{},
		OrphanedPorts:       []OrphanedPort{},
	}

	if components := g.findConnectedComponents(); components != nil {
		result.ConnectedComponents = components
	}
	if orphans := g.findOrphanedPorts(); orphans != nil {
		result.OrphanedPorts = orphans
	}

	for name := range g.nodes {
		hasConnection := false
		for _, edge := range g.edges {
			if edge.From.ComponentName == name || edge.To.ComponentName == name {
				hasConnection = true
				break
			}
		}
		if !hasConnection {
			result.DisconnectedNodes = append(result.DisconnectedNodes, DisconnectedNode{
				ComponentName: name,
				Issue:         "Component has no connections",
				Suggestions:   []string{"Connect to other components", "Verify component configuration"},
			})
		}
	}

	hasCriticalIssues := false
	for _, port := range result.OrphanedPorts {
		if port.Issue != "no_publishers" && port.Issue != "no_subscribers" {
			continue
		}
		// Only a required stream port with no peer is critical; optional
		// ports may stay unconnected in a given deployment.
		if port.Pattern == PatternStream && port.Required {
			hasCriticalIssues = true
			break
		}
	}

	if len(result.DisconnectedNodes) > 0 || hasCriticalIssues {
		result.ValidationStatus = "warnings"
	}

	return result
}

// findConnectedComponents treats the edge set as undirected and clusters
// the nodes by reachability.
func (g *FlowGraph) findConnectedComponents() [][]string {
	visited := make(map[string]bool)
	var components [][]string

	adj := make(map[string][]string)
	for _, edge := range g.edges {
		from := edge.From.ComponentName
		to := edge.To.ComponentName
		adj[from] = append(adj[from], to)
		adj[to] = append(adj[to], from)
	}

	for componentName := range g.nodes {
		if !visited[componentName] {
			var cluster []string
			g.dfs(componentName, adj, visited, &cluster)
			components = append(components, cluster)
		}
	}

	return components
}

func (g *FlowGraph) dfs(node string, adj map[string][]string, visited map[string]bool, cluster *[]string) {
	visited[node] = true
	*cluster = append(*cluster, node)

	for _, neighbor := range adj[node] {
		if !visited[neighbor] {
			g.dfs(neighbor, adj, visited, cluster)
		}
	}
}

// findOrphanedPorts lists declared ports with no edges. Network boundary
// ports are skipped: the UDP socket a strain reader listens on is fed
// from outside the graph and is never an orphan. Request and watch ports
// get optional issue codes since an unused query API or an unwatched
// state bucket is legitimate.
func (g *FlowGraph) findOrphanedPorts() []OrphanedPort {
	var orphaned []OrphanedPort

	connectedPorts := make(map[string]map[string]bool)
	for _, edge := range g.edges {
		if connectedPorts[edge.From.ComponentName] == nil {
			connectedPorts[edge.From.ComponentName] = make(map[string]bool)
		}
		if connectedPorts[edge.To.ComponentName] == nil {
			connectedPorts[edge.To.ComponentName] = make(map[string]bool)
		}
		connectedPorts[edge.From.ComponentName][edge.From.PortName] = true
		connectedPorts[edge.To.ComponentName][edge.To.PortName] = true
	}

	for componentName, node := range g.nodes {
		for _, port := range node.InputPorts {
			if connectedPorts[componentName] != nil && connectedPorts[componentName][port.Name] {
				continue
			}
			if port.Pattern == PatternNetwork {
				continue
			}

			issue := "no_publishers"
			if port.Pattern == PatternRequest {
				issue = "optional_api_unused"
			} else if g.isInterfaceAlternativePort(port) {
				issue = "optional_interface_unused"
			}

			orphaned = append(orphaned, OrphanedPort{
				ComponentName: componentName,
				PortName:      port.Name,
				Direction:     port.Direction,
				ConnectionID:  port.ConnectionID,
				Pattern:       port.Pattern,
				Issue:         issue,
				Required:      port.Required,
			})
		}

		for _, port := range node.OutputPorts {
			if connectedPorts[componentName] != nil && connectedPorts[componentName][port.Name] {
				continue
			}
			if port.Pattern == PatternNetwork {
				continue
			}

			issue := "no_subscribers"
			if port.Pattern == PatternRequest {
				issue = "optional_api_unused"
			}
			if port.Pattern == PatternWatch {
				issue = "optional_state_unwatched"
			}

			orphaned = append(orphaned, OrphanedPort{
				ComponentName: componentName,
				PortName:      port.Name,
				Direction:     port.Direction,
				ConnectionID:  port.ConnectionID,
				Pattern:       port.Pattern,
				Issue:         issue,
				Required:      port.Required,
			})
		}
	}

	return orphaned
}

// isInterfaceAlternativePort detects optional specialized variants of a
// primary port. A contracted, non-required port named like
// "triggers-ranked" is an alternate delivery path for consumers that
// want the ranked form, and its disuse is not a wiring defect.
func (g *FlowGraph) isInterfaceAlternativePort(port PortInfo) bool {
	if port.Interface == nil || port.Required {
		return false
	}

	if strings.Contains(port.Name, "-") {
		baseName := strings.Split(port.Name, "-")[0]
		if baseName != "" && baseName != port.Name {
			return true
		}
	}

	// Subjects with a specialization suffix mark alternates too.
	if strings.Contains(port.ConnectionID, ".ranked") ||
		strings.Contains(port.ConnectionID, ".validated") {
		return true
	}

	return false
}
