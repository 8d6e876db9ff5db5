package health

import (
	"regexp"
	"strings"
	"time"
)

// State is a health level.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Pre-compiled regexes for error message sanitization
var (
	urlRegex         = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, optionally with the statuses it was built from.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// FromError creates a status of the given state whose message is err, sanitized.
func FromError(component string, state State, err error) Status {
	msg := string(state)
	if err != nil {
		msg = sanitizeErrorMessage(err.Error())
	}
	return newStatus(component, state, msg)
}

// sanitizeErrorMessage replaces URLs, file paths, IP addresses, ports and credentials
// with placeholders.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	// URLs first, they contain paths and ports
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
		}
	}
	return sanitized
}
