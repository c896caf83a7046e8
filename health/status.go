// Package health provides health monitoring functionality for components and systems
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/tanghyd/spiir-search/component"
)

// Patterns scrubbed out of error text before it reaches the health
// endpoint. The endpoint may be scraped from outside the cluster, so
// broker URLs, hosts and credentials never appear verbatim.
var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health state of one component or of the whole node.
// A detector pipeline reports itself; the node status aggregates the
// pipelines, the coincidence engine and the services as sub-statuses.
type Status struct {
	Component   string            `json:"component"`
	Healthy     bool              `json:"healthy"` // true if status is "healthy"
	Status      string            `json:"status"`  // "healthy", "unhealthy", "degraded"
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	SubStatuses []Status          `json:"sub_statuses,omitempty"`
	Metrics     *Metrics          `json:"metrics,omitempty"`
	Resources   *ResourceSnapshot `json:"resources,omitempty"`
}

// Metrics carries the counters a status can attach.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is "healthy".
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is "degraded".
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is "unhealthy".
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithResources returns a copy of the status with a resource snapshot attached.
func (s Status) WithResources(resources *ResourceSnapshot) Status {
	s.Resources = resources
	return s
}

// WithSubStatus returns a copy with one more sub-status. The slice is
// reallocated so copies never share a backing array.
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// sanitizeErrorMessage scrubs sensitive material from error text.
// FromComponentHealth applies it to every LastError before the text
// becomes a status message.
//
// Replacements:
//   - URLs (http://, https://, nats://, ws://, wss://) become [URL]
//   - file paths, Unix and Windows, become [PATH]
//   - IP addresses become [IP]
//   - port suffixes like :8080 become [PORT]
//   - password=X, token=X, key=X, secret=X become [REDACTED]
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err

	// URLs go first; they contain path segments the path regexes
	// would otherwise mangle.
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")

	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")

	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	// Credential scrub runs only when a keyword is present at all;
	// matching is case-insensitive, replacement keeps original case.
	lowerSanitized := strings.ToLower(sanitized)
	if strings.Contains(lowerSanitized, "password") || strings.Contains(lowerSanitized, "token") ||
		strings.Contains(lowerSanitized, "key") || strings.Contains(lowerSanitized, "secret") ||
		strings.Contains(lowerSanitized, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

// FromComponentHealth converts a component.HealthStatus into a Status,
// sanitizing the component's last error on the way.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	status := "unhealthy"
	if ch.Healthy {
		status = "healthy"
	}

	message := "Component healthy"
	if ch.LastError != "" {
		message = sanitizeErrorMessage(ch.LastError)
	}

	metrics := &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics:   metrics,
	}
}
