// Package health tracks the health of streamfs components and serves it
// over HTTP.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates the component is probing for recovery
	StateDegraded

	// StateUnavailable indicates the component rejects work
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth is a snapshot of one component.
type ComponentHealth struct {
	Name            string      `json:"name"`
	State           HealthState `json:"state"`
	LastStateChange time.Time   `json:"last_state_change"`
	LastError       string      `json:"last_error,omitempty"`
}

// StateChangeCallback is called, without the tracker lock, when a
// component's state changes.
type StateChangeCallback func(component string, oldState, newState HealthState)

// Tracker holds the latest state of every registered component.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker() *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		now:        time.Now,
	}
}

// RegisterComponent adds a healthy component. Registering twice keeps the
// existing state.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: t.now(),
		}
	}
}

// SetState records a component's state, registering it if needed. err, when
// set, becomes the component's last error.
func (t *Tracker) SetState(name string, state HealthState, err error) {
	t.mu.Lock()
	c, exists := t.components[name]
	if !exists {
		c = &ComponentHealth{Name: name, State: StateHealthy, LastStateChange: t.now()}
		t.components[name] = c
	}
	if err != nil {
		c.LastError = err.Error()
	}
	old := c.State
	if old != state {
		c.State = state
		c.LastStateChange = t.now()
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if old != state {
		for _, cb := range callbacks {
			cb(name, old, state)
		}
	}
}

// GetState returns the state of a component; unknown components are
// unavailable.
func (t *Tracker) GetState(name string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, exists := t.components[name]; exists {
		return c.State
	}
	return StateUnavailable
}

// Components returns snapshots sorted by name.
func (t *Tracker) Components() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetOverallHealth is the worst component state, healthy when nothing is
// registered.
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

// AddStateChangeCallback registers a callback for every state change.
func (t *Tracker) AddStateChangeCallback(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Report is the JSON body served by Handler.
type Report struct {
	Status     HealthState       `json:"status"`
	Service    string            `json:"service"`
	Components []ComponentHealth `json:"components"`
}

// Handler serves the tracker as JSON. Unavailable overall health answers
// 503 so load balancers stop routing to the gateway.
func (t *Tracker) Handler(service string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := Report{
			Status:     t.GetOverallHealth(),
			Service:    service,
			Components: t.Components(),
		}
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
