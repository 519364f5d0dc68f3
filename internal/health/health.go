package health

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Well-known component names.
const (
	ComponentGateway = "gateway" // Discord gateway connection
	ComponentTarget  = "target"  // monitored game server
)

func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry tracks health checks for multiple components.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Update records the status for a named component. Invalid statuses are
// stored as Unhealthy. Only changes are logged.
func (r *Registry) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}

	r.mu.Lock()
	prev, existed := r.checks[name]
	r.checks[name] = Check{Name: name, Status: status, Message: message, UpdatedAt: time.Now()}
	r.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		log.Info("component healthy", "component", name)
	} else {
		log.Warn("component not healthy", "component", name, "status", string(status), "message", message)
	}
}

func (r *Registry) Get(name string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when
// nothing has reported yet.
func (r *Registry) Overall() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return overallLocked(r.checks)
}

// All returns a snapshot of all checks sorted by name.
func (r *Registry) All() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return allLocked(r.checks)
}

// Summary returns the overall status and per-component statuses from a
// single consistent snapshot.
func (r *Registry) Summary() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make(map[string]string, len(r.checks))
	for _, c := range r.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(overallLocked(r.checks)),
		"components": components,
	}
}

// Line renders the snapshot as "gateway=healthy target=unhealthy".
func (r *Registry) Line() string {
	checks := r.All()
	if len(checks) == 0 {
		return string(Unknown)
	}
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		parts = append(parts, c.Name+"="+string(c.Status))
	}
	return strings.Join(parts, " ")
}

func overallLocked(checks map[string]Check) Status {
	if len(checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

func allLocked(checks map[string]Check) []Check {
	result := make([]Check, 0, len(checks))
	for _, c := range checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Unknown ranks worst: a component that cannot report is treated as
// worse than one known to be down.
func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 2
	}
}
