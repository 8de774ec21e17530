package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/execution"
	"github.com/conductor/agentrt/internal/resolver"
	"github.com/conductor/agentrt/internal/session"
	"github.com/conductor/agentrt/internal/statestore"
)

// ErrConversationBusy is returned when a continuation targets a
// conversation that already has a running agent session.
var ErrConversationBusy = errors.New("conversation has a running session")

// RunRequest describes one turn: a new session plus its execution.
type RunRequest struct {
	// SessionID is generated when empty.
	SessionID       string
	ParentSessionID string
	// Fork starts a new conversation from the parent's state.
	Fork               bool
	ForkConversationID string

	// PresetID defaults to the parent's preset, then to the default preset.
	PresetID    string
	Override    *resolver.ConfigOverride
	WorkspaceID string
	ProjectIDs  []string

	Input        []database.InputPart
	Interactions []execution.UserInteraction
	ToolResults  []execution.ToolResult

	SessionType database.SessionType
	Transport   database.Transport
	SpawnedBy   *string

	Sink execution.EventSink
}

// Run creates a session for req and executes it to a terminal status.
func (a *App) Run(ctx context.Context, req RunRequest) (*execution.Result, error) {
	var (
		parent      *session.Detail
		parentState *statestore.SessionState
		parentIDs   []string
		parentID    *string
	)

	if req.ParentSessionID != "" {
		detail, err := a.Sessions.GetSession(ctx, req.ParentSessionID, true)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil, fmt.Errorf("%w: %s", session.ErrParentNotFound, req.ParentSessionID)
			}
			return nil, err
		}
		if !detail.Session.Status.HasState() {
			return nil, fmt.Errorf("%w: parent %s is %s", session.ErrInvalidStatus, detail.Session.ID, detail.Session.Status)
		}
		if detail.State == nil {
			return nil, fmt.Errorf("parent %s has no stored state", detail.Session.ID)
		}
		if !req.Fork {
			if active, ok := a.Registry.ActiveAgentSession(detail.Session.ConversationID); ok {
				return nil, fmt.Errorf("%w: %s", ErrConversationBusy, active.SessionID)
			}
		}
		parent = detail
		parentState = detail.State
		parentIDs = detail.Session.ProjectIDs
		if parentIDs == nil {
			parentIDs = []string{}
		}
		parentID = &detail.Session.ID
	}

	presetID := req.PresetID
	if presetID == "" && parent != nil && parent.Session.PresetID != nil {
		presetID = *parent.Session.PresetID
	}

	cfg, err := a.Resolver.Resolve(ctx, resolver.Request{
		PresetID:         presetID,
		Override:         req.Override,
		WorkspaceID:      req.WorkspaceID,
		ProjectIDs:       req.ProjectIDs,
		ParentProjectIDs: parentIDs,
	})
	if err != nil {
		return nil, err
	}

	transport := req.Transport
	if transport == "" {
		transport = database.Transport(a.Config.Execution.DefaultTransport)
	}

	s, err := a.Sessions.CreateSession(ctx, session.CreateParams{
		SessionID:          req.SessionID,
		ParentSessionID:    parentID,
		Fork:               req.Fork,
		ForkConversationID: req.ForkConversationID,
		ProjectIDs:         cfg.ProjectIDs,
		SessionType:        req.SessionType,
		Transport:          transport,
		SpawnedBy:          req.SpawnedBy,
		PresetID:           database.NullString(cfg.PresetID),
		Input:              req.Input,
	})
	if err != nil {
		return nil, err
	}

	return a.Coordinator.Execute(ctx, execution.Params{
		Session:      s,
		Config:       cfg,
		ParentState:  parentState,
		Interactions: req.Interactions,
		ToolResults:  req.ToolResults,
		Sink:         req.Sink,
	})
}
