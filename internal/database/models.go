package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle status of a session index row.
type SessionStatus string

const (
	SessionStatusCreated             SessionStatus = "created"
	SessionStatusCommitted           SessionStatus = "committed"
	SessionStatusAwaitingToolResults SessionStatus = "awaiting_tool_results"
	SessionStatusFailed              SessionStatus = "failed"
	// SessionStatusArchived is only assigned by tooling outside the session
	// lifecycle.
	SessionStatusArchived SessionStatus = "archived"
)

// HasState reports whether a session in this status owns a state blob.
func (s SessionStatus) HasState() bool {
	return s == SessionStatusCommitted || s == SessionStatusAwaitingToolResults
}

// SessionType classifies who started a session.
type SessionType string

const (
	SessionTypeAgent         SessionType = "agent"
	SessionTypeAsyncSubagent SessionType = "async_subagent"
)

// Transport is how a session's events are delivered to clients.
type Transport string

const (
	TransportSSE    Transport = "sse"
	TransportStream Transport = "stream"
)

// ConversationStatus is the status of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"
)

// ShellMode selects where an execution's shell runs.
type ShellMode string

const (
	ShellModeLocal  ShellMode = "local"
	ShellModeDocker ShellMode = "docker"
)

// Valid reports whether m is a known shell mode.
func (m ShellMode) Valid() bool {
	return m == ShellModeLocal || m == ShellModeDocker
}

// ModelSettings selects and tunes the model used by an execution.
type ModelSettings struct {
	Name          string   `json:"name" yaml:"name"`
	ContextWindow *int     `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ToolsetSpec enables a tool group, optionally excluding some of its tools.
type ToolsetSpec struct {
	Name         string   `json:"toolset_name" yaml:"toolset_name"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	ExcludeTools []string `json:"exclude_tools,omitempty" yaml:"exclude_tools,omitempty"`
}

// EnvironmentSpec is the default execution environment of a preset.
// A nil ProjectIDs means "not set"; an empty non-nil slice is an explicit
// empty list.
type EnvironmentSpec struct {
	ShellMode        ShellMode `json:"shell_mode" yaml:"shell_mode"`
	ContainerID      *string   `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	ContainerWorkdir *string   `json:"container_workdir,omitempty" yaml:"container_workdir,omitempty"`
	WorkspaceID      *string   `json:"workspace_id,omitempty" yaml:"workspace_id,omitempty"`
	ProjectIDs       []string  `json:"project_ids" yaml:"project_ids,omitempty"`
}

// SubagentRef points at a preset usable as a subagent.
type SubagentRef struct {
	PresetID    string `json:"preset_id" yaml:"preset_id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// SubagentSpec is the subagent policy of a preset.
type SubagentSpec struct {
	IncludeBuiltin bool          `json:"include_builtin" yaml:"include_builtin"`
	AsyncEnabled   bool          `json:"async_enabled" yaml:"async_enabled"`
	Refs           []SubagentRef `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Preset is a named configuration template for executions.
type Preset struct {
	ID           string          `json:"preset_id" yaml:"preset_id" db:"id"`
	Name         string          `json:"name" yaml:"name" db:"name"`
	Description  *string         `json:"description,omitempty" yaml:"description,omitempty" db:"description"`
	Model        ModelSettings   `json:"model" yaml:"model" db:"model"`
	SystemPrompt string          `json:"system_prompt" yaml:"system_prompt" db:"system_prompt"`
	Toolsets     []ToolsetSpec   `json:"toolsets" yaml:"toolsets" db:"toolsets"`
	Environment  EnvironmentSpec `json:"environment" yaml:"environment" db:"environment"`
	Subagents    SubagentSpec    `json:"subagents" yaml:"subagents" db:"subagents"`
	IsDefault    bool            `json:"is_default" yaml:"is_default" db:"is_default"`
	CreatedAt    time.Time       `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"-" db:"updated_at"`
}

// Workspace is a named, ordered list of project ids.
type Workspace struct {
	ID         string         `json:"workspace_id" yaml:"workspace_id" db:"id"`
	Name       *string        `json:"name,omitempty" yaml:"name,omitempty" db:"name"`
	ProjectIDs []string       `json:"projects" yaml:"projects" db:"project_ids"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"-" db:"updated_at"`
}

// Conversation is a thread of lineage-linked sessions.
type Conversation struct {
	ID              string             `json:"conversation_id" db:"id"`
	Title           *string            `json:"title,omitempty" db:"title"`
	DefaultPresetID *string            `json:"default_preset_id,omitempty" db:"default_preset_id"`
	Metadata        map[string]any     `json:"metadata,omitempty" db:"metadata"`
	Status          ConversationStatus `json:"status" db:"status"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// Usage is the token accounting of one execution.
type Usage struct {
	TotalTokens      int64 `json:"total_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	ModelRequests    int64 `json:"model_requests"`
}

// RunSummary records how long an execution ran and what it consumed.
type RunSummary struct {
	DurationMS int64 `json:"duration_ms"`
	Usage      Usage `json:"usage"`
}

// InputPartType is the kind of one input part.
type InputPartType string

const (
	InputPartText   InputPartType = "text"
	InputPartURL    InputPartType = "url"
	InputPartFile   InputPartType = "file"
	InputPartBinary InputPartType = "binary"
)

// ContentMode selects how non-text input reaches the model.
type ContentMode string

const (
	// ContentModeFile materializes content in the project and references it.
	ContentModeFile ContentMode = "file"
	// ContentModeInline passes content to the model directly.
	ContentModeInline ContentMode = "inline"
)

// InputPart is one element of a session's user input.
type InputPart struct {
	Type InputPartType `json:"type"`
	Text string        `json:"text,omitempty"`
	URL  string        `json:"url,omitempty"`
	Path string        `json:"path,omitempty"`
	// Data is base64-encoded content of a binary part.
	Data string      `json:"data,omitempty"`
	MIME string      `json:"mime,omitempty"`
	Mode ContentMode `json:"mode,omitempty"`
}

// Session is the durable index row of one execution attempt.
type Session struct {
	ID              string        `json:"session_id" db:"id"`
	ConversationID  string        `json:"conversation_id" db:"conversation_id"`
	ParentSessionID *string       `json:"parent_session_id,omitempty" db:"parent_session_id"`
	ProjectIDs      []string      `json:"project_ids" db:"project_ids"`
	Status          SessionStatus `json:"status" db:"status"`
	SessionType     SessionType   `json:"session_type" db:"session_type"`
	Transport       Transport     `json:"transport" db:"transport"`
	SpawnedBy       *string       `json:"spawned_by,omitempty" db:"spawned_by"`
	PresetID        *string       `json:"preset_id,omitempty" db:"preset_id"`
	Input           []InputPart   `json:"input,omitempty" db:"input"`
	FinalMessage    *string       `json:"final_message,omitempty" db:"final_message"`
	RunSummary      *RunSummary   `json:"run_summary,omitempty" db:"run_summary"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// SessionFinalize is the terminal update applied to a created session.
type SessionFinalize struct {
	Status       SessionStatus
	FinalMessage *string
	RunSummary   *RunSummary
}

// Pagination holds pagination parameters.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DefaultPagination returns default pagination settings.
func DefaultPagination() Pagination {
	return Pagination{Limit: 50}
}

// Normalize clamps the page to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// NullString creates a pointer to a string, returning nil for empty strings.
func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EncodeJSON marshals a JSON column value. Nil string slices and maps are
// stored as their empty JSON form; other nil values become SQL NULL.
func EncodeJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return []byte("[]"), nil
		}
	case map[string]any:
		if t == nil {
			return []byte("{}"), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// DecodeJSON unmarshals a JSON column value; empty and NULL columns leave v
// untouched.
func DecodeJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
