package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTracker struct {
	active   int
	draining bool
}

func (m *mockTracker) Len() int             { return m.active }
func (m *mockTracker) IsShuttingDown() bool { return m.draining }

func ok(context.Context) error { return nil }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second,
		NewFuncCheck("database", ok),
		NewFuncCheck("state_store", ok),
		NewSessionsCheck(&mockTracker{active: 3}),
	)

	report := c.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "database", report.Checks[0].Name)
	assert.Equal(t, "3", report.Checks[2].Details["active"])
}

func TestChecker_Unhealthy(t *testing.T) {
	c := NewChecker(time.Second,
		NewFuncCheck("database", func(context.Context) error { return errors.New("connection refused") }),
		NewSessionsCheck(&mockTracker{draining: true}),
	)

	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Checks[0].Message)
	assert.Equal(t, StatusDegraded, report.Checks[1].Status)
}

func TestChecker_Degraded(t *testing.T) {
	c := NewChecker(time.Second, NewFuncCheck("database", ok), NewSessionsCheck(&mockTracker{draining: true}))
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status)
}

func TestChecker_Timeout(t *testing.T) {
	c := NewChecker(20*time.Millisecond, NewFuncCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestChecker_Handler(t *testing.T) {
	healthy := NewChecker(time.Second, NewFuncCheck("database", ok))
	rec := httptest.NewRecorder()
	healthy.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)

	unhealthy := NewChecker(time.Second, NewFuncCheck("database", func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	unhealthy.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
