package health

import (
	"fmt"
	"time"
)

// NewHealthy builds a healthy status stamped now.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status stamped now.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status stamped now.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegradedLatency creates the degraded status reported when pipeline
// latency exceeds its configured bound. The condition is non-fatal: data
// keeps flowing while the message reports how far behind the watermark runs.
func NewDegradedLatency(component string, lag, bound time.Duration) Status {
	return NewDegraded(component,
		fmt.Sprintf("watermark lag %s exceeds bound %s", lag, bound))
}

// Aggregate rolls sub-statuses into one. Any unhealthy sub-status
// makes the aggregate unhealthy; otherwise any degraded one makes it
// degraded; otherwise it is healthy. One lagging detector pipeline
// degrades the node without marking it down.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false

	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		} else if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	if hasUnhealthy {
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	} else if hasDegraded {
		status = NewDegraded(component, "One or more sub-components are degraded")
	} else {
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)

	return status
}
