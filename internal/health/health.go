package health

import (
	"slices"
	"sync"
	"time"

	"github.com/breeze-rmm/appupdate/internal/appupdate"
	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("health")

// Status is the health of one update source.
type Status string

const (
	Healthy   Status = "healthy"
	Unknown   Status = "unknown"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Unknown, Degraded, Unhealthy:
		return true
	}
	return false
}

// Check is the latest outcome recorded for a source.
type Check struct {
	Source    string    `json:"source"`
	Status    Status    `json:"status"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor keeps the latest update outcome per source.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// StatusFor maps a finished run to a health status. A run that failed with
// an error is unhealthy whatever state it reached.
func StatusFor(state appupdate.State, err error) Status {
	if err != nil {
		return Unhealthy
	}
	switch state {
	case appupdate.StateDone, appupdate.StateNoNeed:
		return Healthy
	case appupdate.StateTimeout, appupdate.StateNotInstalledApp, appupdate.StateCantConnectServer:
		return Degraded
	case appupdate.StateInvalidUpdatePath:
		return Unhealthy
	default:
		return Unknown
	}
}

// Record stores the outcome of a run against source.
func (m *Monitor) Record(source string, state appupdate.State, err error) Check {
	c := Check{
		Source:    source,
		Status:    StatusFor(state, err),
		State:     state.String(),
		UpdatedAt: time.Now(),
	}
	if err != nil {
		c.Message = err.Error()
	}

	m.mu.Lock()
	m.checks[source] = c
	m.mu.Unlock()

	if c.Status != Healthy {
		log.Warn("update source not healthy",
			logging.KeySource, source,
			"status", string(c.Status),
			logging.KeyState, c.State,
			"message", c.Message,
		)
	}
	return c
}

// Get returns the check for a source.
func (m *Monitor) Get(source string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[source]
	return c, ok
}

// Overall returns the worst status across all sources, or Unknown when
// nothing was recorded yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if worse(c.Status, worst) {
			worst = c.Status
		}
	}
	return worst
}

// Snapshot returns all checks ordered by source.
func (m *Monitor) Snapshot() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b Check) int {
		switch {
		case a.Source < b.Source:
			return -1
		case a.Source > b.Source:
			return 1
		}
		return 0
	})
	return result
}

// Summary is the JSON form printed by the CLI.
type Summary struct {
	Status  Status  `json:"status"`
	Sources []Check `json:"sources"`
}

func (m *Monitor) Summary() Summary {
	return Summary{Status: m.Overall(), Sources: m.Snapshot()}
}

// worse returns true if a is worse than b.
func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Unknown:
		return 1
	case Degraded:
		return 2
	case Unhealthy:
		return 3
	default:
		return 1
	}
}
