package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if m.registry == nil {
		t.Error("registry should not be nil")
	}
	if m.Sessions == nil {
		t.Error("Sessions metrics should not be nil")
	}
	if m.Store == nil {
		t.Error("Store metrics should not be nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_") {
		t.Error("expected Go runtime metrics in response")
	}
}

func TestSessionMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.Sessions.RecordCreated("agent")
	m.Sessions.RecordFinalized("committed")
	m.Sessions.RecordFinalized("failed")
	m.Sessions.RecordExecution("completed", 3*time.Second)
	m.Sessions.SetActive(4)
	m.Sessions.AddOrphansRecovered(2)
	m.Sessions.AddInterrupts(3)
	m.Sessions.RecordDrain(true)
	m.Sessions.RecordDrain(false)
	m.Store.ObserveOperation("local", "write", nil, 5*time.Millisecond)
	m.Store.ObserveOperation("s3", "read", errors.New("boom"), time.Millisecond)
	m.Store.AddBytes("local", "write", 128)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	body := w.Body.String()

	expected := []string{
		"agentrt_sessions_created_total",
		"agentrt_sessions_finalized_total",
		"agentrt_sessions_active 4",
		"agentrt_sessions_execution_duration_seconds",
		"agentrt_sessions_orphans_recovered_total 2",
		"agentrt_sessions_interrupts_total 3",
		`agentrt_sessions_drains_total{result="timeout"} 1`,
		"agentrt_state_store_operation_duration_seconds",
		"agentrt_state_store_bytes_total",
	}
	for _, metric := range expected {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %s in response", metric)
		}
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var s *SessionMetrics
	var st *StoreMetrics

	s.RecordCreated("agent")
	s.RecordFinalized("failed")
	s.RecordExecution("failed", time.Second)
	s.SetActive(1)
	s.AddOrphansRecovered(1)
	s.AddInterrupts(1)
	s.RecordDrain(true)
	st.ObserveOperation("local", "read", nil, time.Second)
	st.AddBytes("local", "read", 1)
}
