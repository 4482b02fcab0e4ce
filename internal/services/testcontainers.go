package services

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// ryukDisabledEnv is read by testcontainers-go once per process.
const ryukDisabledEnv = "TESTCONTAINERS_RYUK_DISABLED"

// Testcontainers launches containers through testcontainers-go. Host ports
// are bound to the fixed values from the service configuration so clients
// keep using the well-known endpoints.
//
// A persistent launcher runs without the Ryuk reaper, so its containers
// outlive the process like docker CLI containers do and only
// Registry.Teardown or "storeharness services down" removes them.
type Testcontainers struct {
	persist bool
}

// NewTestcontainers returns a testcontainers-go launcher. With persist set,
// launched containers are not reaped when the process exits.
func NewTestcontainers(persist bool) *Testcontainers {
	return &Testcontainers{persist: persist}
}

// Persistent reports whether launched containers outlive the process.
func (tc *Testcontainers) Persistent() bool { return tc.persist }

func (tc *Testcontainers) Name() string { return "testcontainers" }

// ContainerRequest builds the testcontainers request for svc.
func ContainerRequest(svc Service) (testcontainers.ContainerRequest, error) {
	mappings, err := svc.PortMappings()
	if err != nil {
		return testcontainers.ContainerRequest{}, err
	}

	exposed := make([]string, 0, len(mappings))
	bindings := nat.PortMap{}
	for _, m := range mappings {
		port := nat.Port(m.Container + "/tcp")
		exposed = append(exposed, string(port))
		bindings[port] = append(bindings[port], nat.PortBinding{HostIP: "0.0.0.0", HostPort: m.Host})
	}

	return testcontainers.ContainerRequest{
		Image:        svc.Image,
		Name:         svc.ContainerName,
		Env:          svc.Env,
		ExposedPorts: exposed,
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.PortBindings = bindings
		},
	}, nil
}

// Launch starts svc. A stale container of the same name is replaced.
func (tc *Testcontainers) Launch(ctx context.Context, svc Service) (Container, error) {
	req, err := ContainerRequest(svc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, svc.Name, err)
	}

	if tc.persist {
		if err := disableReaper(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, svc.Name, err)
		}
	}

	if err := removeStale(ctx, svc.ContainerName); err != nil {
		return nil, fmt.Errorf("%w: %s: removing stale container: %v", ErrLaunchFailed, svc.Name, err)
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, svc.Name, err)
	}
	return &tcContainer{name: svc.ContainerName, c: c}, nil
}

var (
	reaperOnce sync.Once
	reaperErr  error
)

// disableReaper turns the Ryuk reaper off for this process.
func disableReaper() error {
	reaperOnce.Do(func() {
		reaperErr = ensureReaperDisabled(os.LookupEnv, os.Setenv, func() bool {
			return testcontainers.ReadConfig().Config.RyukDisabled
		})
	})
	return reaperErr
}

// ensureReaperDisabled sets TESTCONTAINERS_RYUK_DISABLED unless the user set
// it, then checks the configuration testcontainers-go actually uses. That
// configuration is cached on first read, so a process that already started
// containers with the reaper cannot switch it off.
func ensureReaperDisabled(lookup func(string) (string, bool), setenv func(string, string) error, disabled func() bool) error {
	if _, ok := lookup(ryukDisabledEnv); !ok {
		if err := setenv(ryukDisabledEnv, "true"); err != nil {
			return fmt.Errorf("disabling reaper: %w", err)
		}
	}
	if !disabled() {
		return fmt.Errorf("testcontainers reaper is enabled and would remove persistent containers; set %s=true or services.teardown=true", ryukDisabledEnv)
	}
	return nil
}

// Remove force-removes the named container through the Docker API.
func (tc *Testcontainers) Remove(ctx context.Context, name string) error {
	return removeStale(ctx, name)
}

// removeStale force-removes a container with the given name, if any.
func removeStale(ctx context.Context, name string) error {
	cli, err := testcontainers.NewDockerClientWithOpts(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	err = cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return err
	}
	return nil
}

type tcContainer struct {
	name string
	c    testcontainers.Container
}

func (c *tcContainer) Name() string { return c.name }

var (
	_ Remover = (*DockerCLI)(nil)
	_ Remover = (*Testcontainers)(nil)
)

func (c *tcContainer) Stop(ctx context.Context) error {
	return c.c.Terminate(ctx)
}
