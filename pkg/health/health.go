// Package health provides readiness checks for the components agentrt
// depends on.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Check represents a health check.
type Check interface {
	// Name returns the name of the health check.
	Name() string
	// Check performs the health check and returns an error if unhealthy.
	Check(ctx context.Context) error
}

// DetailedCheck is a Check that can report details and a degraded state.
type DetailedCheck interface {
	Check
	CheckDetailed(ctx context.Context) Result
}

// Status represents the status of a health check.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is working but degraded.
	StatusDegraded Status = "degraded"
)

// Result represents the result of a health check.
type Result struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Report is the aggregate of several checks.
type Report struct {
	Status Status   `json:"status"`
	Checks []Result `json:"checks"`
}

// PingFunc checks a dependency.
type PingFunc func(ctx context.Context) error

// FuncCheck is a Check backed by a PingFunc.
type FuncCheck struct {
	name string
	ping PingFunc
}

// NewFuncCheck creates a Check named name that calls ping.
func NewFuncCheck(name string, ping PingFunc) *FuncCheck {
	return &FuncCheck{name: name, ping: ping}
}

// Name returns the name of the health check.
func (c *FuncCheck) Name() string {
	return c.name
}

// Check calls the ping function.
func (c *FuncCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}

// Checker runs a set of checks concurrently with a per-run timeout.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout defaults to 5s.
func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{checks: checks, timeout: timeout}
}

// Run executes every check. The report is unhealthy if any check is,
// degraded if any check is degraded, healthy otherwise.
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]Result, len(c.checks))
	var wg sync.WaitGroup
	for i, check := range c.checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Checks: results}
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func run(ctx context.Context, check Check) Result {
	if d, ok := check.(DetailedCheck); ok {
		return d.CheckDetailed(ctx)
	}
	if err := check.Check(ctx); err != nil {
		return Result{Name: check.Name(), Status: StatusUnhealthy, Message: err.Error()}
	}
	return Result{Name: check.Name(), Status: StatusHealthy}
}

// Handler serves the report as JSON, with 503 when unhealthy.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}

// SessionTracker reports the state of the live session registry.
type SessionTracker interface {
	Len() int
	IsShuttingDown() bool
}

// SessionsCheck reports degraded once the process started draining, so load
// balancers stop routing new sessions to it.
type SessionsCheck struct {
	tracker SessionTracker
}

// NewSessionsCheck creates a SessionsCheck.
func NewSessionsCheck(tracker SessionTracker) *SessionsCheck {
	return &SessionsCheck{tracker: tracker}
}

// Name returns the name of the health check.
func (c *SessionsCheck) Name() string {
	return "sessions"
}

// Check never fails; draining is reported by CheckDetailed.
func (c *SessionsCheck) Check(ctx context.Context) error {
	return nil
}

// CheckDetailed reports the live session count and drain state.
func (c *SessionsCheck) CheckDetailed(ctx context.Context) Result {
	details := map[string]string{
		"active": fmt.Sprintf("%d", c.tracker.Len()),
	}
	if c.tracker.IsShuttingDown() {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: "draining",
			Details: details,
		}
	}
	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Details: details,
	}
}
