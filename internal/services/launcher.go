package services

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/storeharness/internal/config"
)

// Launcher starts service containers.
type Launcher interface {
	// Name identifies the launcher in logs and metrics.
	Name() string

	// Launch removes any container named svc.ContainerName and starts a
	// fresh one from svc.Image with svc's port mappings and env. It returns
	// once the container is started, not once the service is ready.
	Launch(ctx context.Context, svc Service) (Container, error)
}

// Remover removes a container by name. Removing a missing container is not
// an error.
type Remover interface {
	Remove(ctx context.Context, containerName string) error
}

// Container is a container started by a Launcher.
type Container interface {
	Name() string
	Stop(ctx context.Context) error
}

// NewLauncher returns the launcher selected by services.launcher. Unless
// services.teardown is set, launched containers outlive the process.
func NewLauncher(cfg *config.Config) (Launcher, error) {
	switch cfg.Services.Launcher {
	case config.LauncherDocker, "":
		return NewDockerCLI(), nil
	case config.LauncherTestcontainers:
		return NewTestcontainers(!cfg.Services.Teardown), nil
	}
	return nil, fmt.Errorf("unsupported launcher %q", cfg.Services.Launcher)
}
