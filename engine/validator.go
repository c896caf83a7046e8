package engine

import (
	"fmt"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/component/flowgraph"
)

// ValidationResult reports the subject wiring analysis over the built
// component set.
type ValidationResult struct {
	Status      string            `json:"validation_status"` // "valid", "warnings", "errors"
	Errors      []ValidationIssue `json:"errors"`
	Warnings    []ValidationIssue `json:"warnings"`
	Connections []Connection      `json:"connections"`
}

// ValidationIssue represents a single wiring problem.
type ValidationIssue struct {
	Type          string `json:"type"` // "orphaned_port", "disconnected_component"
	ComponentName string `json:"component_name"`
	PortName      string `json:"port_name,omitempty"`
	Message       string `json:"message"`
}

// Connection is a discovered publisher/subscriber pair.
type Connection struct {
	FromComponent string `json:"from_component"`
	FromPort      string `json:"from_port"`
	ToComponent   string `json:"to_component"`
	ToPort        string `json:"to_port"`
	Subject       string `json:"subject"`
}

// Validate builds a flow graph from the live component instances and
// checks that subjects line up: every required stream input has a
// publisher, and published streams have somebody listening. Components
// declare their ports through Discoverable, so the check runs against
// the actual merged configs, not the raw JSON.
func (e *Engine) Validate() *ValidationResult {
	result := &ValidationResult{
		Status:   "valid",
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	e.mu.RLock()
	components := make(map[string]component.Discoverable, len(e.components))
	for name, mc := range e.components {
		if mc.Component != nil {
			components[name] = mc.Component
		}
	}
	e.mu.RUnlock()

	graph := flowgraph.NewFlowGraph()
	for name, comp := range components {
		if err := graph.AddComponentNode(name, comp); err != nil {
			result.Errors = append(result.Errors, ValidationIssue{
				Type:          "graph_build_error",
				ComponentName: name,
				Message:       fmt.Sprintf("failed to add component to graph: %v", err),
			})
		}
	}

	if err := graph.ConnectComponentsByPatterns(); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{
			Type:    "connection_error",
			Message: fmt.Sprintf("pattern matching failed: %v", err),
		})
		result.Status = "errors"
		return result
	}

	for _, edge := range graph.GetEdges() {
		result.Connections = append(result.Connections, Connection{
			FromComponent: edge.From.ComponentName,
			FromPort:      edge.From.PortName,
			ToComponent:   edge.To.ComponentName,
			ToPort:        edge.To.PortName,
			Subject:       edge.ConnectionID,
		})
	}

	analysis := graph.AnalyzeConnectivity()
	e.convertAnalysis(analysis, result)

	if len(result.Errors) > 0 {
		result.Status = "errors"
	} else if len(result.Warnings) > 0 {
		result.Status = "warnings"
	}

	e.metrics.recordWiringIssues(len(result.Errors), len(result.Warnings))
	return result
}

// convertAnalysis classifies orphans. A required stream input with no
// publisher is fatal; everything else is a warning the operator can
// judge (an unconsumed trigger stream may be an intentional debug tap).
func (e *Engine) convertAnalysis(analysis *flowgraph.FlowAnalysisResult, result *ValidationResult) {
	for _, node := range analysis.DisconnectedNodes {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Type:          "disconnected_component",
			ComponentName: node.ComponentName,
			Message:       node.Issue,
		})
	}

	for _, port := range analysis.OrphanedPorts {
		issue := ValidationIssue{
			Type:          "orphaned_port",
			ComponentName: port.ComponentName,
			PortName:      port.PortName,
			Message: fmt.Sprintf("%s port '%s' on subject '%s': %s",
				port.Direction, port.PortName, port.ConnectionID, port.Issue),
		}

		fatal := port.Issue == "no_publishers" &&
			port.Required &&
			port.Pattern == flowgraph.PatternStream

		if fatal {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}
}
