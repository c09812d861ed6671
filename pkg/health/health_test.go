package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker()

	tracker.RegisterComponent("backend:alice")

	if state := tracker.GetState("backend:alice"); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if state := tracker.GetState("unknown"); state != StateUnavailable {
		t.Errorf("Expected unknown component to be StateUnavailable, got %s", state)
	}
}

func TestTracker_SetState(t *testing.T) {
	tracker := NewTracker()
	clock := time.Unix(1700000000, 0)
	tracker.now = func() time.Time { return clock }

	var changes []string
	tracker.AddStateChangeCallback(func(component string, oldState, newState HealthState) {
		changes = append(changes, fmt.Sprintf("%s %s->%s", component, oldState, newState))
	})

	tracker.RegisterComponent("backend:alice")
	clock = clock.Add(time.Minute)
	tracker.SetState("backend:alice", StateUnavailable, fmt.Errorf("connection refused"))
	tracker.SetState("backend:alice", StateUnavailable, nil)

	components := tracker.Components()
	if len(components) != 1 {
		t.Fatalf("Expected 1 component, got %d", len(components))
	}
	c := components[0]
	if c.State != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", c.State)
	}
	if c.LastError != "connection refused" {
		t.Errorf("Expected last error to survive a nil update, got %q", c.LastError)
	}
	if !c.LastStateChange.Equal(clock) {
		t.Errorf("Expected LastStateChange %v, got %v", clock, c.LastStateChange)
	}
	if len(changes) != 1 || changes[0] != "backend:alice healthy->unavailable" {
		t.Errorf("Expected one state change, got %v", changes)
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker := NewTracker()
	if tracker.GetOverallHealth() != StateHealthy {
		t.Error("Expected empty tracker to be healthy")
	}

	tracker.SetState("backend:alice", StateHealthy, nil)
	tracker.SetState("backend:bob", StateDegraded, nil)
	if got := tracker.GetOverallHealth(); got != StateDegraded {
		t.Errorf("Expected StateDegraded, got %s", got)
	}

	tracker.SetState("backend:carol", StateUnavailable, nil)
	if got := tracker.GetOverallHealth(); got != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", got)
	}

	names := []string{}
	for _, c := range tracker.Components() {
		names = append(names, c.Name)
	}
	if fmt.Sprint(names) != "[backend:alice backend:bob backend:carol]" {
		t.Errorf("Expected sorted components, got %v", names)
	}
}

func TestTracker_Handler(t *testing.T) {
	tracker := NewTracker()
	tracker.SetState("backend:alice", StateDegraded, nil)
	handler := tracker.Handler("streamfs")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 while degraded, got %d", rec.Code)
	}

	var report struct {
		Status     string `json:"status"`
		Service    string `json:"service"`
		Components []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Status != "degraded" || report.Service != "streamfs" {
		t.Errorf("Unexpected report %+v", report)
	}
	if len(report.Components) != 1 || report.Components[0].State != "degraded" {
		t.Errorf("Unexpected components %+v", report.Components)
	}

	tracker.SetState("backend:alice", StateUnavailable, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while unavailable, got %d", rec.Code)
	}
}
