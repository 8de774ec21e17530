package app

import (
	"context"
	"time"

	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
)

// Drainer is the part of the session registry used at shutdown.
type Drainer interface {
	BeginShutdown()
	Len() int
	WaitUntilDrained(ctx context.Context, timeout time.Duration) bool
	InterruptAll() int
}

// DrainConfig bounds the two waits of a drain.
type DrainConfig struct {
	DrainTimeout       time.Duration
	ForceInterruptWait time.Duration
}

// DrainSessions stops new sessions, waits for running ones and interrupts
// whatever is left after the drain timeout. It reports whether the registry
// ended empty; callers proceed either way.
func DrainSessions(ctx context.Context, reg Drainer, cfg DrainConfig, m *metrics.SessionMetrics, logger log.Logger) bool {
	if logger == nil {
		logger = log.NewNop()
	}
	reg.BeginShutdown()

	running := reg.Len()
	if running > 0 {
		logger.Info().Int("running", running).Dur("timeout", cfg.DrainTimeout).Msg("waiting for running sessions")
	}

	drained := reg.WaitUntilDrained(ctx, cfg.DrainTimeout)
	if !drained {
		n := reg.InterruptAll()
		logger.Warn().Int("interrupted", n).Msg("drain timed out, interrupting remaining sessions")
		drained = reg.WaitUntilDrained(ctx, cfg.ForceInterruptWait)
	}

	m.RecordDrain(drained)
	if !drained {
		logger.Error().Int("remaining", reg.Len()).Msg("sessions still running at shutdown")
	}
	return drained
}

// Drain runs DrainSessions over the app's registry with the configured
// timeouts.
func (a *App) Drain(ctx context.Context) bool {
	return a.DrainWith(ctx, DrainConfig{
		DrainTimeout:       a.Config.Server.DrainTimeout,
		ForceInterruptWait: a.Config.Server.ForceInterruptWait,
	})
}

// DrainWith is Drain with explicit timeouts.
func (a *App) DrainWith(ctx context.Context, cfg DrainConfig) bool {
	var m *metrics.SessionMetrics
	if a.Metrics != nil {
		m = a.Metrics.Sessions
	}
	return DrainSessions(ctx, a.Registry, cfg, m, a.Logger)
}
