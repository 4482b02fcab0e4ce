package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry records the containers launched during one session.
type Registry struct {
	mu         sync.Mutex
	containers map[string]Container
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[string]Container)}
}

// Add records a launched container under its service name.
func (r *Registry) Add(service string, c Container) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[service] = c
}

// Names returns the recorded service names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.containers))
	for name := range r.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of recorded containers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// Teardown stops every recorded container concurrently and empties the
// registry. All containers are attempted; failures are joined in service
// name order.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	containers := r.containers
	r.containers = make(map[string]Container)
	r.mu.Unlock()

	names := make([]string, 0, len(containers))
	for name := range containers {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			err := containers[name].Stop(ctx)
			recordTeardown(name, err)
			if err != nil {
				errs[i] = fmt.Errorf("stopping %s: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
