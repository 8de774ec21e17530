// Package environment maps execution projects onto the host filesystem
// and checks the container a docker-mode shell runs in.
package environment

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// VirtualRoot is the workspace root presented to the agent.
const VirtualRoot = "/workspace"

// ProjectPaths resolves project ids to real host paths under
// <data_root>/<prefix>/projects and virtual paths under VirtualRoot. The
// first project is the default one.
type ProjectPaths struct {
	projectIDs   []string
	projectsBase string
}

// NewProjectPaths creates ProjectPaths for the given projects.
func NewProjectPaths(dataRoot, prefix string, projectIDs []string) *ProjectPaths {
	base := dataRoot
	if prefix != "" {
		base = filepath.Join(base, prefix)
	}
	return &ProjectPaths{
		projectIDs:   append([]string{}, projectIDs...),
		projectsBase: filepath.Join(base, "projects"),
	}
}

// ProjectIDs returns the projects in order.
func (p *ProjectPaths) ProjectIDs() []string {
	return append([]string{}, p.projectIDs...)
}

// HasProjects reports whether any project is configured.
func (p *ProjectPaths) HasProjects() bool {
	return len(p.projectIDs) > 0
}

// DefaultProjectID returns the first project id, or "".
func (p *ProjectPaths) DefaultProjectID() string {
	if len(p.projectIDs) == 0 {
		return ""
	}
	return p.projectIDs[0]
}

// RealPath returns the host directory of a project.
func (p *ProjectPaths) RealPath(projectID string) string {
	return filepath.Join(p.projectsBase, projectID)
}

// VirtualPath returns the path of a project as the agent sees it.
func (p *ProjectPaths) VirtualPath(projectID string) string {
	return path.Join(VirtualRoot, projectID)
}

// DefaultRealPath returns the host directory of the default project.
func (p *ProjectPaths) DefaultRealPath() (string, bool) {
	if id := p.DefaultProjectID(); id != "" {
		return p.RealPath(id), true
	}
	return "", false
}

// DefaultVirtualPath returns the virtual path of the default project.
func (p *ProjectPaths) DefaultVirtualPath() (string, bool) {
	if id := p.DefaultProjectID(); id != "" {
		return p.VirtualPath(id), true
	}
	return "", false
}

// Mapping returns virtual path to real path for every project.
func (p *ProjectPaths) Mapping() map[string]string {
	m := make(map[string]string, len(p.projectIDs))
	for _, id := range p.projectIDs {
		m[p.VirtualPath(id)] = p.RealPath(id)
	}
	return m
}

// EnsureDirs creates every project directory.
func (p *ProjectPaths) EnsureDirs() error {
	for _, id := range p.projectIDs {
		if err := validProjectID(id); err != nil {
			return err
		}
		if err := os.MkdirAll(p.RealPath(id), 0o755); err != nil {
			return fmt.Errorf("failed to create project directory %s: %w", id, err)
		}
	}
	return nil
}

// ResolveInProject joins rel onto the default project and returns the real
// and virtual paths. rel may not escape the project.
func (p *ProjectPaths) ResolveInProject(rel string) (realPath, virtualPath string, err error) {
	id := p.DefaultProjectID()
	if id == "" {
		return "", "", fmt.Errorf("no project configured")
	}
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" {
		return "", "", fmt.Errorf("empty project path %q", rel)
	}
	clean = strings.TrimPrefix(clean, "/")
	return filepath.Join(p.RealPath(id), filepath.FromSlash(clean)), path.Join(p.VirtualPath(id), clean), nil
}

func validProjectID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid project id %q", id)
	}
	return nil
}
