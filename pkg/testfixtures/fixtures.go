// Package testfixtures provides builders for presets and workspaces used
// across package tests.
package testfixtures

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/conductor/agentrt/internal/database"
)

// PresetBuilder helps construct test presets with default values.
type PresetBuilder struct {
	preset *database.Preset
}

// NewPresetBuilder creates a local-shell preset with a unique id.
func NewPresetBuilder() *PresetBuilder {
	id := "preset-" + uuid.NewString()[:8]
	return &PresetBuilder{
		preset: &database.Preset{
			ID:           id,
			Name:         fmt.Sprintf("test %s", id),
			Model:        database.ModelSettings{Name: "test-model"},
			SystemPrompt: "You are a test agent.",
			Toolsets:     []database.ToolsetSpec{{Name: "core", Enabled: true}},
			Environment:  database.EnvironmentSpec{ShellMode: database.ShellModeLocal},
		},
	}
}

// WithID sets the preset id.
func (b *PresetBuilder) WithID(id string) *PresetBuilder {
	b.preset.ID = id
	return b
}

// WithSystemPrompt sets the system prompt.
func (b *PresetBuilder) WithSystemPrompt(prompt string) *PresetBuilder {
	b.preset.SystemPrompt = prompt
	return b
}

// WithModel sets the model name.
func (b *PresetBuilder) WithModel(name string) *PresetBuilder {
	b.preset.Model.Name = name
	return b
}

// WithProjects sets the environment project list.
func (b *PresetBuilder) WithProjects(ids ...string) *PresetBuilder {
	b.preset.Environment.ProjectIDs = append([]string{}, ids...)
	return b
}

// WithWorkspace sets the environment workspace reference.
func (b *PresetBuilder) WithWorkspace(id string) *PresetBuilder {
	b.preset.Environment.WorkspaceID = &id
	return b
}

// WithDocker switches the shell to the given container.
func (b *PresetBuilder) WithDocker(containerID string) *PresetBuilder {
	b.preset.Environment.ShellMode = database.ShellModeDocker
	b.preset.Environment.ContainerID = &containerID
	return b
}

// AsDefault flags the preset as the default one.
func (b *PresetBuilder) AsDefault() *PresetBuilder {
	b.preset.IsDefault = true
	return b
}

// Build returns the constructed preset.
func (b *PresetBuilder) Build() *database.Preset {
	return b.preset
}

// NewWorkspace returns a workspace with the given projects.
func NewWorkspace(id string, projects ...string) *database.Workspace {
	return &database.Workspace{
		ID:         id,
		ProjectIDs: append([]string{}, projects...),
	}
}
