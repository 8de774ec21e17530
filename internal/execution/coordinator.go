package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/environment"
	"github.com/conductor/agentrt/internal/registry"
	"github.com/conductor/agentrt/internal/resolver"
	"github.com/conductor/agentrt/internal/session"
	"github.com/conductor/agentrt/internal/statestore"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
	"github.com/conductor/agentrt/pkg/tracing"
)

// SessionFinalizer moves a session to its terminal status.
// *session.Manager satisfies it.
type SessionFinalizer interface {
	CommitSession(ctx context.Context, sessionID string, p session.CommitParams) error
	FailSession(ctx context.Context, sessionID string, summary *database.RunSummary) error
}

// SessionRegistry is the part of the live registry the coordinator uses.
// *registry.Registry satisfies it.
type SessionRegistry interface {
	Register(s registry.RuntimeSession) error
	Attach(sessionID string, h registry.Interrupter) error
	Unregister(sessionID string) (*registry.RuntimeSession, bool)
}

// ContainerChecker verifies a docker-mode container before a run.
type ContainerChecker interface {
	Check(ctx context.Context, containerID string) error
}

// Config holds coordinator settings.
type Config struct {
	DataRoot        string
	ProjectPrefix   string
	DownloadTimeout time.Duration
}

// Coordinator runs sessions from setup to their terminal status.
type Coordinator struct {
	cfg        Config
	runtime    Runtime
	sessions   SessionFinalizer
	registry   SessionRegistry
	containers ContainerChecker
	httpClient *http.Client
	metrics    *metrics.SessionMetrics
	logger     log.Logger
	now        func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithContainerChecker enables docker shell mode.
func WithContainerChecker(c ContainerChecker) CoordinatorOption {
	return func(co *Coordinator) {
		co.containers = c
	}
}

// WithHTTPClient sets the client used to download url input.
func WithHTTPClient(client *http.Client) CoordinatorOption {
	return func(co *Coordinator) {
		co.httpClient = client
	}
}

// WithMetrics records execution outcomes.
func WithMetrics(m *metrics.SessionMetrics) CoordinatorOption {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	cfg Config,
	rt Runtime,
	sessions SessionFinalizer,
	reg SessionRegistry,
	logger log.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	c := &Coordinator{
		cfg:      cfg,
		runtime:  rt,
		sessions: sessions,
		registry: reg,
		logger:   logger.With("component", "coordinator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params describes one execution of an already created session.
type Params struct {
	Session *database.Session
	Config  *resolver.ResolvedConfig
	// ParentState is the committed state of the parent session, nil for a
	// root session.
	ParentState  *statestore.SessionState
	Interactions []UserInteraction
	ToolResults  []ToolResult
	// Sink receives the run's events. It may be nil.
	Sink EventSink
}

// Outcome is the terminal variant of an execution: one of *Completed,
// *AwaitingToolResults, *Interrupted or *Failed.
type Outcome interface {
	// Status is the session status the outcome left in the index.
	Status() database.SessionStatus
	outcome() string
}

// Completed is a run that finished with a final message.
type Completed struct {
	FinalMessage string
}

// AwaitingToolResults is a run that stopped on deferred tool calls.
type AwaitingToolResults struct {
	Requests *DeferredToolRequests
}

// Interrupted is a run stopped by an interrupt. Committed reports whether
// its partial state was saved.
type Interrupted struct {
	Committed    bool
	FinalStatus  database.SessionStatus
	FinalMessage *string
}

// Failed is a run that ended in an error. The session is failed.
type Failed struct {
	Err error
}

func (*Completed) Status() database.SessionStatus {
	return database.SessionStatusCommitted
}

func (*AwaitingToolResults) Status() database.SessionStatus {
	return database.SessionStatusAwaitingToolResults
}

func (o *Interrupted) Status() database.SessionStatus {
	return o.FinalStatus
}

func (*Failed) Status() database.SessionStatus {
	return database.SessionStatusFailed
}

func (*Completed) outcome() string           { return "completed" }
func (*AwaitingToolResults) outcome() string { return "awaiting_tool_results" }
func (*Interrupted) outcome() string         { return "interrupted" }
func (*Failed) outcome() string              { return "failed" }

// OutcomeName returns the metric and log label of o.
func OutcomeName(o Outcome) string {
	return o.outcome()
}

// Result is what Execute reports for a session that reached the runtime.
type Result struct {
	SessionID      string
	ConversationID string
	Outcome        Outcome
	Summary        database.RunSummary
}

// Execute runs a created session to a terminal status. Errors are returned
// only for failures before the runtime starts, and the session is failed
// in that case. Runtime failures are reported as a *Failed outcome.
func (c *Coordinator) Execute(ctx context.Context, p Params) (*Result, error) {
	if p.Session == nil || p.Config == nil {
		return nil, errors.New("execute requires a session and a resolved config")
	}
	s := p.Session
	start := c.now()

	ctx = log.ContextWithSession(ctx, s.ID, s.ConversationID)
	ctx, span := tracing.StartSpan(ctx, "execution.execute",
		tracing.AttrSessionID.String(s.ID),
		tracing.AttrConversationID.String(s.ConversationID),
		tracing.AttrPresetID.String(p.Config.PresetID),
	)
	defer span.End()
	logger := c.logger.WithContext(ctx)

	// Finalization must land even when the caller goes away.
	finalizeCtx := context.WithoutCancel(ctx)

	req, err := c.setup(ctx, p, logger)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.failSetup(finalizeCtx, s.ID, start, err, logger)
		return nil, err
	}

	if err := c.registry.Register(registry.RuntimeSession{
		SessionID:       s.ID,
		ConversationID:  s.ConversationID,
		ParentSessionID: s.ParentSessionID,
		PresetID:        database.NullString(p.Config.PresetID),
		ProjectIDs:      p.Config.ProjectIDs,
		SessionType:     s.SessionType,
		Transport:       s.Transport,
		SpawnedBy:       s.SpawnedBy,
		StartedAt:       start,
	}); err != nil {
		err = fmt.Errorf("failed to register session: %w", err)
		tracing.RecordError(ctx, err)
		c.failSetup(finalizeCtx, s.ID, start, err, logger)
		return nil, err
	}
	defer c.ensureUnregistered(s.ID, logger)

	result := c.run(ctx, finalizeCtx, p, req, start, logger)

	span.SetAttributes(
		tracing.AttrOutcome.String(result.Outcome.outcome()),
		tracing.AttrStatus.String(string(result.Outcome.Status())),
	)
	c.metrics.RecordExecution(result.Outcome.outcome(), time.Duration(result.Summary.DurationMS)*time.Millisecond)
	logger.Info().
		Str("outcome", result.Outcome.outcome()).
		Str("status", string(result.Outcome.Status())).
		Int64("duration_ms", result.Summary.DurationMS).
		Int64("total_tokens", result.Summary.Usage.TotalTokens).
		Msg("execution finished")
	return result, nil
}

func (c *Coordinator) setup(ctx context.Context, p Params, logger log.Logger) (*RunRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "execution.setup")
	defer span.End()

	cfg := p.Config
	paths := environment.NewProjectPaths(c.cfg.DataRoot, c.cfg.ProjectPrefix, cfg.ProjectIDs)
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare projects: %w", err)
	}

	if cfg.ShellMode == database.ShellModeDocker {
		if c.containers == nil {
			return nil, errors.New("docker shell mode is not available")
		}
		if cfg.ContainerID == nil || *cfg.ContainerID == "" {
			return nil, errors.New("docker shell mode requires a container id")
		}
		if err := c.containers.Check(ctx, *cfg.ContainerID); err != nil {
			return nil, err
		}
	}

	mapper := NewInputMapper(paths, c.httpClient, c.cfg.DownloadTimeout, logger)
	prompt, err := mapper.Map(ctx, p.Session.Input)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := RenderSystemPrompt(cfg, c.now())
	if err != nil {
		return nil, err
	}

	var deferred *DeferredToolResults
	if p.ParentState != nil {
		deferred = BuildDeferredResults(p.ParentState.Context.DeferredTools, p.Interactions, p.ToolResults)
		if deferred != nil {
			logger.Debug().Int("deferred_tools", len(deferred.Metadata)).Msg("answering deferred tools")
		}
	}

	return &RunRequest{
		SessionID:      p.Session.ID,
		ConversationID: p.Session.ConversationID,
		Config:         cfg,
		SystemPrompt:   systemPrompt,
		Prompt:         prompt,
		Paths:          paths,
		Parent:         p.ParentState,
		Deferred:       deferred,
	}, nil
}

// finished is what was extracted from a run after its events stopped.
type finished struct {
	output      *Output
	state       *statestore.SessionState
	summary     database.RunSummary
	interrupted bool
	err         error
}

func (c *Coordinator) run(
	ctx, finalizeCtx context.Context,
	p Params,
	req *RunRequest,
	start time.Time,
	logger log.Logger,
) *Result {
	result := &Result{SessionID: p.Session.ID, ConversationID: p.Session.ConversationID}

	run, err := c.runtime.Start(ctx, *req)
	if err != nil {
		result.Summary = database.RunSummary{DurationMS: c.since(start)}
		result.Outcome = c.fail(finalizeCtx, p.Session.ID, result.Summary, fmt.Errorf("%w: %w", ErrRuntimeFailure, err), logger)
		return result
	}
	if err := c.registry.Attach(p.Session.ID, run); err != nil {
		logger.Warn().Err(err).Msg("failed to attach interrupt handle")
	}

	var fwd *forwarder
	if p.Sink != nil {
		fwd = newForwarder(ctx, p.Sink, logger)
	}
	for ev := range run.Events() {
		if fwd != nil {
			fwd.Push(ev)
		}
	}
	if fwd != nil {
		fwd.Close()
	}

	f := c.collect(finalizeCtx, run, start, logger)
	result.Summary = f.summary

	switch {
	case f.interrupted:
		result.Outcome = c.finalizeInterrupted(finalizeCtx, p.Session.ID, f, logger)
	case f.err != nil:
		result.Outcome = c.fail(finalizeCtx, p.Session.ID, f.summary, fmt.Errorf("%w: %w", ErrRuntimeFailure, f.err), logger)
	default:
		result.Outcome = c.finalizeCompleted(finalizeCtx, p.Session.ID, f, logger)
	}
	return result
}

// collect reads output, usage and state while the run is still open, then
// closes it.
func (c *Coordinator) collect(ctx context.Context, run Run, start time.Time, logger log.Logger) finished {
	var f finished

	out, err := run.Result()
	switch {
	case errors.Is(err, ErrInterrupted):
		f.interrupted = true
	case err != nil:
		f.err = err
	}
	f.output = out

	usage, err := run.Usage()
	if err != nil {
		logger.Debug().Err(err).Msg("could not read usage")
		usage = database.Usage{}
	}

	if f.err == nil {
		state, err := run.ExportState(ctx)
		if err != nil {
			if !f.interrupted {
				f.err = fmt.Errorf("failed to export state: %w", err)
			}
			logger.Warn().Err(err).Msg("could not export session state")
		} else {
			f.state = state
		}
	}

	if err := run.Close(); err != nil {
		switch {
		case errors.Is(err, ErrInterrupted):
			f.interrupted = true
		case f.err == nil:
			f.err = err
		}
	}

	f.summary = database.RunSummary{DurationMS: c.since(start), Usage: usage}
	return f
}

func (c *Coordinator) finalizeCompleted(ctx context.Context, sessionID string, f finished, logger log.Logger) Outcome {
	ctx, span := tracing.StartSpan(ctx, "execution.finalize")
	defer span.End()

	status, message := classify(f.output, f.state)
	if err := c.sessions.CommitSession(ctx, sessionID, session.CommitParams{
		State:        f.state,
		Status:       status,
		Summary:      &f.summary,
		FinalMessage: message,
	}); err != nil {
		tracing.RecordError(ctx, err)
		return c.fail(ctx, sessionID, f.summary, fmt.Errorf("failed to commit session: %w", err), logger)
	}

	if status == database.SessionStatusAwaitingToolResults {
		return &AwaitingToolResults{Requests: f.output.Deferred}
	}
	return &Completed{FinalMessage: derefString(message)}
}

func (c *Coordinator) finalizeInterrupted(ctx context.Context, sessionID string, f finished, logger log.Logger) Outcome {
	ctx, span := tracing.StartSpan(ctx, "execution.finalize_interrupted")
	defer span.End()

	if f.state == nil {
		c.failSession(ctx, sessionID, f.summary, logger)
		return &Interrupted{FinalStatus: database.SessionStatusFailed}
	}

	status, message := classify(f.output, f.state)
	if err := c.sessions.CommitSession(ctx, sessionID, session.CommitParams{
		State:        f.state,
		Status:       status,
		Summary:      &f.summary,
		FinalMessage: message,
	}); err != nil {
		tracing.RecordError(ctx, err)
		logger.Error().Err(err).Msg("failed to commit interrupted session")
		c.failSession(ctx, sessionID, f.summary, logger)
		return &Interrupted{FinalStatus: database.SessionStatusFailed}
	}
	return &Interrupted{Committed: true, FinalStatus: status, FinalMessage: message}
}

func (c *Coordinator) fail(ctx context.Context, sessionID string, summary database.RunSummary, err error, logger log.Logger) Outcome {
	tracing.RecordError(ctx, err)
	logger.Error().Err(err).Msg("execution failed")
	c.failSession(ctx, sessionID, summary, logger)
	return &Failed{Err: err}
}

func (c *Coordinator) failSetup(ctx context.Context, sessionID string, start time.Time, cause error, logger log.Logger) {
	logger.Error().Err(cause).Msg("execution setup failed")
	c.failSession(ctx, sessionID, database.RunSummary{DurationMS: c.since(start)}, logger)
	c.metrics.RecordExecution("setup_failed", c.now().Sub(start))
}

func (c *Coordinator) failSession(ctx context.Context, sessionID string, summary database.RunSummary, logger log.Logger) {
	if err := c.sessions.FailSession(ctx, sessionID, &summary); err != nil {
		logger.Error().Err(err).Msg("failed to mark session failed")
	}
}

// ensureUnregistered drops a live entry that survived a failed finalize so
// shutdown never waits on it. The index row stays created and is picked up
// by orphan recovery.
func (c *Coordinator) ensureUnregistered(sessionID string, logger log.Logger) {
	if _, ok := c.registry.Unregister(sessionID); ok {
		logger.Warn().Msg("session was still registered after finalize")
	}
}

func (c *Coordinator) since(start time.Time) int64 {
	return c.now().Sub(start).Milliseconds()
}

// classify picks the commit status of a run. Deferred output wins over text.
// Deferred requests are recorded in the state so a continuation can answer
// them.
func classify(out *Output, state *statestore.SessionState) (database.SessionStatus, *string) {
	if out == nil {
		return database.SessionStatusCommitted, nil
	}
	if out.Deferred != nil {
		if state != nil {
			if state.Context.DeferredTools == nil {
				state.Context.DeferredTools = make(map[string]statestore.DeferredToolMeta)
			}
			for id, meta := range out.Deferred.Pending() {
				if _, ok := state.Context.DeferredTools[id]; !ok {
					state.Context.DeferredTools[id] = meta
				}
			}
		}
		return database.SessionStatusAwaitingToolResults, nil
	}
	text := out.Text
	return database.SessionStatusCommitted, &text
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
