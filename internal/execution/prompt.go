package execution

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/conductor/agentrt/internal/resolver"
)

// PromptVars are the values available to a system prompt template.
type PromptVars struct {
	ProjectIDs     []string
	DefaultProject string
	ShellMode      string
	ModelName      string
	PresetID       string
	// Date is the current UTC date as YYYY-MM-DD.
	Date string
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// RenderSystemPrompt renders cfg.SystemPrompt as a text/template. Prompts
// without template actions are returned unchanged.
func RenderSystemPrompt(cfg *resolver.ResolvedConfig, now time.Time) (string, error) {
	raw := cfg.SystemPrompt
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}

	vars := PromptVars{
		ProjectIDs: cfg.ProjectIDs,
		ShellMode:  string(cfg.ShellMode),
		ModelName:  cfg.Model.Name,
		PresetID:   cfg.PresetID,
		Date:       now.UTC().Format("2006-01-02"),
	}
	if len(cfg.ProjectIDs) > 0 {
		vars.DefaultProject = cfg.ProjectIDs[0]
	}

	tmpl, err := template.New("system_prompt").
		Funcs(promptFuncs).
		Option("missingkey=zero").
		Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse system prompt template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return b.String(), nil
}
