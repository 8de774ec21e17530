// Package resolver merges a preset, a per-request override and workspace
// references into the configuration of a single execution.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/pkg/log"
)

var (
	// ErrPresetNotFound is returned when neither the requested preset nor a
	// default preset exists.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrWorkspaceNotFound is returned when a referenced workspace does not
	// exist.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrProjectConflict is returned when a workspace reference and an
	// explicit project list are given at the same level.
	ErrProjectConflict = errors.New("workspace_id and project_ids are mutually exclusive")

	// ErrInvalidOverride is returned when the merged configuration is not
	// usable.
	ErrInvalidOverride = errors.New("invalid config override")
)

// Level names a source in the project resolution chain.
type Level string

const (
	LevelRequest  Level = "request"
	LevelOverride Level = "override"
	LevelPreset   Level = "preset"
)

// ConflictError reports a project conflict at one level.
type ConflictError struct {
	Level Level
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s at %s level", ErrProjectConflict.Error(), e.Level)
}

func (e *ConflictError) Unwrap() error {
	return ErrProjectConflict
}

// PresetReader is the read side of preset persistence used by the resolver.
type PresetReader interface {
	Get(ctx context.Context, id string) (*database.Preset, error)
	GetDefault(ctx context.Context) (*database.Preset, error)
}

// WorkspaceReader is the read side of workspace persistence used by the
// resolver.
type WorkspaceReader interface {
	Get(ctx context.Context, id string) (*database.Workspace, error)
}

// Request carries everything needed to resolve one execution's config.
type Request struct {
	// PresetID selects the preset; empty selects the default preset.
	PresetID string
	Override *ConfigOverride
	// WorkspaceID and ProjectIDs are the request-level project source.
	// A nil ProjectIDs is unset.
	WorkspaceID string
	ProjectIDs  []string
	// ParentProjectIDs is the project list of the parent session, nil when
	// there is no parent.
	ParentProjectIDs []string
}

// ResolvedConfig is the fully merged configuration of one execution.
type ResolvedConfig struct {
	PresetID         string
	Model            database.ModelSettings
	SystemPrompt     string
	Toolsets         []database.ToolsetSpec
	Subagents        database.SubagentSpec
	ShellMode        database.ShellMode
	ContainerID      *string
	ContainerWorkdir *string
	// WorkspaceID is the workspace the project list came from, if any.
	WorkspaceID *string
	ProjectIDs  []string
}

// Resolver resolves execution configs. It only reads.
type Resolver struct {
	presets    PresetReader
	workspaces WorkspaceReader
	logger     log.Logger
}

// New creates a Resolver.
func New(presets PresetReader, workspaces WorkspaceReader, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Resolver{
		presets:    presets,
		workspaces: workspaces,
		logger:     logger.With("component", "resolver"),
	}
}

// Resolve loads the preset, applies the override and walks the project
// chain: request, override environment, preset environment, parent, empty.
// The first level that sets a source wins; a level setting both a
// workspace and a project list fails with a *ConflictError and later
// levels are not consulted.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*ResolvedConfig, error) {
	if req.WorkspaceID != "" && req.ProjectIDs != nil {
		return nil, &ConflictError{Level: LevelRequest}
	}

	preset, err := r.loadPreset(ctx, req.PresetID)
	if err != nil {
		return nil, err
	}

	cfg := &ResolvedConfig{
		PresetID:         preset.ID,
		Model:            preset.Model,
		SystemPrompt:     preset.SystemPrompt,
		Toolsets:         cloneToolsets(preset.Toolsets),
		Subagents:        preset.Subagents,
		ShellMode:        preset.Environment.ShellMode,
		ContainerID:      preset.Environment.ContainerID,
		ContainerWorkdir: preset.Environment.ContainerWorkdir,
	}
	if cfg.ShellMode == "" {
		cfg.ShellMode = database.ShellModeLocal
	}

	var envOverride *EnvironmentOverride
	if req.Override != nil {
		req.Override.apply(cfg)
		envOverride = req.Override.Environment
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := r.resolveProjects(ctx, cfg, req, envOverride, preset.Environment); err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("preset_id", cfg.PresetID).
		Str("shell_mode", string(cfg.ShellMode)).
		Strs("project_ids", cfg.ProjectIDs).
		Msg("resolved execution config")
	return cfg, nil
}

func (r *Resolver) loadPreset(ctx context.Context, id string) (*database.Preset, error) {
	var (
		preset *database.Preset
		err    error
	)
	if id != "" {
		preset, err = r.presets.Get(ctx, id)
	} else {
		preset, err = r.presets.GetDefault(ctx)
	}
	if err != nil {
		if database.IsNotFound(err) {
			if id == "" {
				return nil, fmt.Errorf("%w: no preset id given and no default preset configured", ErrPresetNotFound)
			}
			return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
		}
		return nil, fmt.Errorf("failed to load preset: %w", err)
	}
	return preset, nil
}

func (r *Resolver) resolveProjects(
	ctx context.Context,
	cfg *ResolvedConfig,
	req Request,
	override *EnvironmentOverride,
	preset database.EnvironmentSpec,
) error {
	type source struct {
		level       Level
		workspaceID *string
		projectIDs  []string
	}

	sources := []source{{level: LevelRequest, projectIDs: req.ProjectIDs}}
	if req.WorkspaceID != "" {
		sources[0].workspaceID = &req.WorkspaceID
	}
	if override != nil {
		sources = append(sources, source{level: LevelOverride, workspaceID: override.WorkspaceID, projectIDs: override.ProjectIDs})
	}
	sources = append(sources, source{level: LevelPreset, workspaceID: preset.WorkspaceID, projectIDs: preset.ProjectIDs})

	for _, s := range sources {
		hasWorkspace := s.workspaceID != nil && *s.workspaceID != ""
		hasProjects := s.projectIDs != nil

		switch {
		case hasWorkspace && hasProjects:
			return &ConflictError{Level: s.level}
		case hasWorkspace:
			ws, err := r.workspaces.Get(ctx, *s.workspaceID)
			if err != nil {
				if database.IsNotFound(err) {
					return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, *s.workspaceID)
				}
				return fmt.Errorf("failed to load workspace: %w", err)
			}
			id := ws.ID
			cfg.WorkspaceID = &id
			cfg.ProjectIDs = append([]string{}, ws.ProjectIDs...)
			return nil
		case hasProjects:
			cfg.ProjectIDs = append([]string{}, s.projectIDs...)
			return nil
		}
	}

	cfg.ProjectIDs = append([]string{}, req.ParentProjectIDs...)
	return nil
}

func validate(cfg *ResolvedConfig) error {
	var errs []error
	if cfg.Model.Name == "" {
		errs = append(errs, errors.New("model name must not be empty"))
	}
	if cfg.Model.Temperature != nil && (*cfg.Model.Temperature < 0 || *cfg.Model.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature %v outside [0, 2]", *cfg.Model.Temperature))
	}
	if cfg.Model.MaxTokens != nil && *cfg.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("max tokens must be positive"))
	}
	if cfg.Model.ContextWindow != nil && *cfg.Model.ContextWindow <= 0 {
		errs = append(errs, errors.New("context window must be positive"))
	}
	if !cfg.ShellMode.Valid() {
		errs = append(errs, fmt.Errorf("unknown shell mode %q", cfg.ShellMode))
	}
	if cfg.ShellMode == database.ShellModeDocker && (cfg.ContainerID == nil || *cfg.ContainerID == "") {
		errs = append(errs, errors.New("docker shell mode requires a container id"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOverride, errors.Join(errs...))
}

func cloneToolsets(in []database.ToolsetSpec) []database.ToolsetSpec {
	out := make([]database.ToolsetSpec, len(in))
	for i, t := range in {
		t.ExcludeTools = append([]string(nil), t.ExcludeTools...)
		out[i] = t
	}
	return out
}
