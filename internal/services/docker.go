package services

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner runs a command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DockerCLI launches containers with the docker command line client.
type DockerCLI struct {
	binary string
	run    commandRunner
}

// NewDockerCLI returns a launcher using the docker binary on PATH.
func NewDockerCLI() *DockerCLI {
	return &DockerCLI{binary: "docker", run: execRunner}
}

func (d *DockerCLI) Name() string { return "docker" }

// RunArgs returns the docker run arguments for svc.
func (d *DockerCLI) RunArgs(svc Service) ([]string, error) {
	mappings, err := svc.PortMappings()
	if err != nil {
		return nil, err
	}
	args := []string{"run", "-d", "--name", svc.ContainerName}
	for _, m := range mappings {
		args = append(args, "-p", m.Host+":"+m.Container)
	}
	for _, kv := range svc.EnvList() {
		args = append(args, "-e", kv)
	}
	return append(args, svc.Image), nil
}

// Launch runs `docker rm -f` on the container name, ignoring failures, then
// `docker run -d`.
func (d *DockerCLI) Launch(ctx context.Context, svc Service) (Container, error) {
	args, err := d.RunArgs(svc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, svc.Name, err)
	}

	_, _ = d.run(ctx, d.binary, "rm", "-f", svc.ContainerName)

	out, err := d.run(ctx, d.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: docker run: %v: %s",
			ErrLaunchFailed, svc.Name, err, strings.TrimSpace(string(out)))
	}
	return &dockerContainer{cli: d, name: svc.ContainerName, id: strings.TrimSpace(string(out))}, nil
}

type dockerContainer struct {
	cli  *DockerCLI
	name string
	id   string
}

func (c *dockerContainer) Name() string { return c.name }

func (c *dockerContainer) Stop(ctx context.Context) error {
	return c.cli.Remove(ctx, c.name)
}

// Remove runs `docker rm -f` on name.
func (d *DockerCLI) Remove(ctx context.Context, name string) error {
	out, err := d.run(ctx, d.binary, "rm", "-f", name)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "No such container") {
			return nil
		}
		return fmt.Errorf("removing container %s: %v: %s", name, err, msg)
	}
	return nil
}
