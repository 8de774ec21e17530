package database

import (
	"fmt"
	"time"
)

// RowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows, so
// both backends share the column mapping below.
type RowScanner interface {
	Scan(dest ...any) error
}

// PresetArgs returns the insert arguments of p in presetColumns order.
func PresetArgs(p *Preset) ([]any, error) {
	model, err := EncodeJSON(p.Model)
	if err != nil {
		return nil, err
	}
	toolsets := p.Toolsets
	if toolsets == nil {
		toolsets = []ToolsetSpec{}
	}
	tools, err := EncodeJSON(toolsets)
	if err != nil {
		return nil, err
	}
	env, err := EncodeJSON(p.Environment)
	if err != nil {
		return nil, err
	}
	subagents, err := EncodeJSON(p.Subagents)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.Name, p.Description, model, p.SystemPrompt, tools,
		env, subagents, p.IsDefault, p.CreatedAt, p.UpdatedAt,
	}, nil
}

// ScanPreset reads one row selected with presetColumns.
func ScanPreset(row RowScanner) (*Preset, error) {
	p := &Preset{}
	var model, tools, env, subagents []byte
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &model, &p.SystemPrompt, &tools,
		&env, &subagents, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, WrapDBError(err)
	}
	if err := DecodeJSON(model, &p.Model); err != nil {
		return nil, err
	}
	if err := DecodeJSON(tools, &p.Toolsets); err != nil {
		return nil, err
	}
	if err := DecodeJSON(env, &p.Environment); err != nil {
		return nil, err
	}
	if err := DecodeJSON(subagents, &p.Subagents); err != nil {
		return nil, err
	}
	return p, nil
}

// WorkspaceArgs returns the insert arguments of w in workspaceColumns order.
func WorkspaceArgs(w *Workspace) ([]any, error) {
	projects, err := EncodeJSON(w.ProjectIDs)
	if err != nil {
		return nil, err
	}
	metadata, err := EncodeJSON(w.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{w.ID, w.Name, projects, metadata, w.CreatedAt, w.UpdatedAt}, nil
}

// ScanWorkspace reads one row selected with workspaceColumns.
func ScanWorkspace(row RowScanner) (*Workspace, error) {
	w := &Workspace{}
	var projects, metadata []byte
	if err := row.Scan(&w.ID, &w.Name, &projects, &metadata, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, WrapDBError(err)
	}
	w.ProjectIDs = []string{}
	if err := DecodeJSON(projects, &w.ProjectIDs); err != nil {
		return nil, err
	}
	if err := DecodeJSON(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	return w, nil
}

// ConversationArgs returns the insert arguments of c in conversationColumns
// order.
func ConversationArgs(c *Conversation) ([]any, error) {
	metadata, err := EncodeJSON(c.Metadata)
	if err != nil {
		return nil, err
	}
	status := c.Status
	if status == "" {
		status = ConversationStatusActive
	}
	return []any{c.ID, c.Title, c.DefaultPresetID, metadata, string(status), c.CreatedAt, c.UpdatedAt}, nil
}

// ScanConversation reads one row selected with conversationColumns.
func ScanConversation(row RowScanner) (*Conversation, error) {
	c := &Conversation{}
	var metadata []byte
	var status string
	if err := row.Scan(&c.ID, &c.Title, &c.DefaultPresetID, &metadata, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, WrapDBError(err)
	}
	c.Status = ConversationStatus(status)
	if err := DecodeJSON(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionArgs returns the insert arguments of s in sessionColumns order.
func SessionArgs(s *Session) ([]any, error) {
	projects, err := EncodeJSON(s.ProjectIDs)
	if err != nil {
		return nil, err
	}
	var input []byte
	if len(s.Input) > 0 {
		if input, err = EncodeJSON(s.Input); err != nil {
			return nil, err
		}
	}
	summary, err := EncodeJSON(s.RunSummary)
	if err != nil {
		return nil, err
	}
	return []any{
		s.ID, s.ConversationID, s.ParentSessionID, projects, string(s.Status),
		string(s.SessionType), string(s.Transport), s.SpawnedBy, s.PresetID,
		input, s.FinalMessage, summary, s.CreatedAt, s.UpdatedAt,
	}, nil
}

// ScanSession reads one row selected with sessionColumns.
func ScanSession(row RowScanner) (*Session, error) {
	s := &Session{}
	var projects, input, summary []byte
	var status, sessionType, transport string
	if err := row.Scan(
		&s.ID, &s.ConversationID, &s.ParentSessionID, &projects, &status,
		&sessionType, &transport, &s.SpawnedBy, &s.PresetID, &input,
		&s.FinalMessage, &summary, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, WrapDBError(err)
	}
	s.Status = SessionStatus(status)
	s.SessionType = SessionType(sessionType)
	s.Transport = Transport(transport)
	s.ProjectIDs = []string{}
	if err := DecodeJSON(projects, &s.ProjectIDs); err != nil {
		return nil, err
	}
	if err := DecodeJSON(input, &s.Input); err != nil {
		return nil, err
	}
	if len(summary) > 0 && string(summary) != "null" {
		s.RunSummary = &RunSummary{}
		if err := DecodeJSON(summary, s.RunSummary); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FinalizeArgs returns the arguments of a finalize update after the id.
func FinalizeArgs(u SessionFinalize, now time.Time) ([]any, error) {
	summary, err := EncodeJSON(u.RunSummary)
	if err != nil {
		return nil, err
	}
	return []any{string(u.Status), u.FinalMessage, summary, now}, nil
}

// Now returns the timestamp stored by repositories, truncated to
// microseconds so both backends round-trip it exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CollectRows drains a row cursor through scan.
func CollectRows[T any](next func() bool, scan func() (*T, error), errFn func() error) ([]T, error) {
	var out []T
	for next() {
		v, err := scan()
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := errFn(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
