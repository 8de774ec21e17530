package environment

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

var (
	// ErrContainerNotFound is returned when the configured container does
	// not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerNotRunning is returned when the container exists but is
	// not running.
	ErrContainerNotRunning = errors.New("container not running")
)

// ContainerInspector is the part of the docker client the checker uses.
type ContainerInspector interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// ContainerChecker verifies that a docker-mode shell has a running
// container to exec into.
type ContainerChecker struct {
	docker ContainerInspector
}

// NewContainerChecker wraps an existing inspector.
func NewContainerChecker(docker ContainerInspector) *ContainerChecker {
	return &ContainerChecker{docker: docker}
}

// NewDockerChecker creates a checker backed by a docker client. An empty
// host uses the environment defaults.
func NewDockerChecker(dockerHost string) (*ContainerChecker, *client.Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewContainerChecker(cli), cli, nil
}

// Check returns nil when the container exists and is running.
func (c *ContainerChecker) Check(ctx context.Context, containerID string) error {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		status := "unknown"
		if info.ContainerJSONBase != nil && info.State != nil {
			status = string(info.State.Status)
		}
		return fmt.Errorf("%w: %s is %s", ErrContainerNotRunning, containerID, status)
	}
	return nil
}
