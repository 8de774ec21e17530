package resolver

import "github.com/conductor/agentrt/internal/database"

// ConfigOverride holds per-request overrides. Nil fields are unset and fall
// through to the preset.
type ConfigOverride struct {
	Model        *ModelOverride         `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt *string                `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Toolsets     []database.ToolsetSpec `json:"toolsets,omitempty" yaml:"toolsets,omitempty"`
	Environment  *EnvironmentOverride   `json:"environment,omitempty" yaml:"environment,omitempty"`
	Subagents    *SubagentOverride      `json:"subagents,omitempty" yaml:"subagents,omitempty"`
}

// ModelOverride overrides model settings field by field.
type ModelOverride struct {
	Name          *string  `json:"name,omitempty" yaml:"name,omitempty"`
	ContextWindow *int     `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// EnvironmentOverride overrides the preset environment field by field.
// WorkspaceID and ProjectIDs form the override level of the project chain.
type EnvironmentOverride struct {
	ShellMode        *database.ShellMode `json:"shell_mode,omitempty" yaml:"shell_mode,omitempty"`
	ContainerID      *string             `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	ContainerWorkdir *string             `json:"container_workdir,omitempty" yaml:"container_workdir,omitempty"`
	WorkspaceID      *string             `json:"workspace_id,omitempty" yaml:"workspace_id,omitempty"`
	ProjectIDs       []string            `json:"project_ids,omitempty" yaml:"project_ids,omitempty"`
}

// SubagentOverride overrides the subagent policy field by field.
type SubagentOverride struct {
	IncludeBuiltin *bool                  `json:"include_builtin,omitempty" yaml:"include_builtin,omitempty"`
	AsyncEnabled   *bool                  `json:"async_enabled,omitempty" yaml:"async_enabled,omitempty"`
	Refs           []database.SubagentRef `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// apply copies every set field of o onto cfg. Project sources are handled
// by the project chain, not here.
func (o *ConfigOverride) apply(cfg *ResolvedConfig) {
	if m := o.Model; m != nil {
		if m.Name != nil {
			cfg.Model.Name = *m.Name
		}
		if m.ContextWindow != nil {
			cfg.Model.ContextWindow = m.ContextWindow
		}
		if m.Temperature != nil {
			cfg.Model.Temperature = m.Temperature
		}
		if m.MaxTokens != nil {
			cfg.Model.MaxTokens = m.MaxTokens
		}
	}

	if o.SystemPrompt != nil {
		cfg.SystemPrompt = *o.SystemPrompt
	}

	if o.Toolsets != nil {
		cfg.Toolsets = cloneToolsets(o.Toolsets)
	}

	if e := o.Environment; e != nil {
		if e.ShellMode != nil {
			cfg.ShellMode = *e.ShellMode
		}
		if e.ContainerID != nil {
			cfg.ContainerID = e.ContainerID
		}
		if e.ContainerWorkdir != nil {
			cfg.ContainerWorkdir = e.ContainerWorkdir
		}
	}

	if s := o.Subagents; s != nil {
		if s.IncludeBuiltin != nil {
			cfg.Subagents.IncludeBuiltin = *s.IncludeBuiltin
		}
		if s.AsyncEnabled != nil {
			cfg.Subagents.AsyncEnabled = *s.AsyncEnabled
		}
		if s.Refs != nil {
			cfg.Subagents.Refs = append([]database.SubagentRef{}, s.Refs...)
		}
	}
}
