// Package health tracks the health of served interfaces and the
// infrastructure behind them, and aggregates it into a single report.
package health

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is a health level.
type State string

// Health levels, ordered from best to worst.
const (
	Healthy   State = "healthy"
	Degraded  State = "degraded"
	Unhealthy State = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one named part of the server.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == Healthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, Healthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, Degraded, message)
}

// NewUnhealthy creates an unhealthy status. The message of err is
// sanitized before it is stored.
func NewUnhealthy(component string, err error) Status {
	msg := "unhealthy"
	if err != nil {
		msg = Sanitize(err.Error())
	}
	return newStatus(component, Unhealthy, msg)
}

// Aggregate combines sub-statuses: any unhealthy part makes the whole
// unhealthy, otherwise any degraded part makes it degraded.
func Aggregate(component string, subs []Status) Status {
	state := Healthy
	for _, sub := range subs {
		switch sub.State {
		case Unhealthy:
			state = Unhealthy
		case Degraded:
			if state == Healthy {
				state = Degraded
			}
		}
	}

	var status Status
	switch state {
	case Unhealthy:
		status = newStatus(component, state, "one or more components are unhealthy")
	case Degraded:
		status = newStatus(component, state, "one or more components are degraded")
	default:
		status = newStatus(component, state, "all components are healthy")
	}

	status.SubStatuses = make([]Status, len(subs))
	copy(status.SubStatuses, subs)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Component < status.SubStatuses[j].Component
	})
	return status
}

// Sanitize strips URLs, paths, addresses and credentials from an error
// message before it is exposed on the health endpoint.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// Monitor tracks the health of named components.
type Monitor struct {
	name     string
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a monitor whose aggregate carries name.
func NewMonitor(name string) *Monitor {
	return &Monitor{name: name, statuses: make(map[string]Status)}
}

// Update records the status of component.
func (m *Monitor) Update(component string, status Status) {
	status.Component = component
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[component] = status
	m.mu.Unlock()
}

// Get returns the status of component.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[component]
	return s, ok
}

// Remove stops tracking component.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	delete(m.statuses, component)
	m.mu.Unlock()
}

// Aggregate returns the combined status of every tracked component.
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	return Aggregate(m.name, subs)
}

// Handler serves the aggregate as JSON. Unhealthy reports use 503 so load
// balancers drop the instance.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Aggregate()
		code := http.StatusOK
		if status.State == Unhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
