package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"go.uber.org/zap"
)

// Bootstrapper makes sure services are running before backends use them.
// It is safe for concurrent use; bootstraps are serialized.
type Bootstrapper struct {
	services map[string]Service
	launcher Launcher
	registry *Registry
	logger   *logging.Logger
	client   *http.Client
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	launched map[string]error
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithHTTPClient sets the client used for HTTP probes.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bootstrapper) { b.client = c }
}

// WithSleep replaces the settle wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bootstrapper) { b.sleep = fn }
}

// NewBootstrapper creates a Bootstrapper over the given services. A nil
// registry gets a fresh one.
func NewBootstrapper(services map[string]Service, launcher Launcher, registry *Registry, logger *logging.Logger, opts ...Option) *Bootstrapper {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bootstrapper{
		services: services,
		launcher: launcher,
		registry: registry,
		logger:   logger.Named("services"),
		client:   &http.Client{Timeout: probeTimeout},
		sleep:    sleepContext,
		launched: make(map[string]error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromConfig builds a Bootstrapper with the configured services and
// launcher.
func NewFromConfig(cfg *config.Config, registry *Registry, logger *logging.Logger, opts ...Option) (*Bootstrapper, error) {
	svcs, err := AllFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	launcher, err := NewLauncher(cfg)
	if err != nil {
		return nil, err
	}
	return NewBootstrapper(svcs, launcher, registry, logger, opts...), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry returns the registry launched containers are recorded in.
func (b *Bootstrapper) Registry() *Registry { return b.registry }

// Service returns the named service.
func (b *Bootstrapper) Service(name string) (Service, error) {
	svc, ok := b.services[name]
	if !ok {
		return Service{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return svc, nil
}

// Ensure runs EnsureRunning for the named service.
func (b *Bootstrapper) Ensure(ctx context.Context, name string) error {
	svc, err := b.Service(name)
	if err != nil {
		return err
	}
	return b.EnsureRunning(ctx, svc)
}

// EnsureRunning probes svc and, if it is unreachable, launches it and waits
// for its settle delay. A service is launched at most once per Bootstrapper;
// a failed launch or an interrupted settle wait is returned again on every
// later call.
func (b *Bootstrapper) EnsureRunning(ctx context.Context, svc Service) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err, done := b.launched[svc.Name]; done {
		return err
	}

	began := time.Now()
	defer func() {
		BootstrapDuration.WithLabelValues(svc.Name).Observe(time.Since(began).Seconds())
	}()

	probeErr := Probe(ctx, b.client, svc.ProbeURL)
	recordProbe(svc.Name, probeErr)
	if probeErr == nil {
		b.logger.Debug(ctx, "service reachable", zap.String("service", svc.Name), zap.String("probe_url", svc.ProbeURL))
		return nil
	}

	b.logger.Info(ctx, "service unreachable, launching container",
		zap.String("service", svc.Name),
		zap.String("image", svc.Image),
		zap.String("container", svc.ContainerName),
		zap.String("launcher", b.launcher.Name()),
		zap.NamedError("probe_error", probeErr))

	c, err := b.launcher.Launch(ctx, svc)
	recordLaunch(svc.Name, b.launcher.Name(), err)
	if err != nil {
		b.logger.Error(ctx, "service launch failed", zap.String("service", svc.Name), zap.Error(err))
		b.launched[svc.Name] = err
		return err
	}
	b.registry.Add(svc.Name, c)

	b.logger.Info(ctx, "waiting for service to settle",
		zap.String("service", svc.Name),
		zap.Duration("settle_delay", svc.SettleDelay))
	if err := b.sleep(ctx, svc.SettleDelay); err != nil {
		// The container exists but never settled; launching again would
		// replace it, so the failure sticks like a failed launch.
		err = fmt.Errorf("%w: %s: waiting to settle: %w", ErrLaunchFailed, svc.Name, err)
		b.logger.Error(ctx, "service settle interrupted", zap.String("service", svc.Name), zap.Error(err))
		b.launched[svc.Name] = err
		return err
	}
	b.launched[svc.Name] = nil
	return nil
}

// Status is the probe result of one service.
type Status struct {
	Name      string
	Endpoint  string
	ProbeURL  string
	Reachable bool
	Err       error
}

// Statuses probes every service once, without launching anything.
func (b *Bootstrapper) Statuses(ctx context.Context) []Status {
	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		svc := b.services[name]
		err := Probe(ctx, b.client, svc.ProbeURL)
		recordProbe(name, err)
		out = append(out, Status{
			Name:      name,
			Endpoint:  svc.Endpoint,
			ProbeURL:  svc.ProbeURL,
			Reachable: err == nil,
			Err:       err,
		})
	}
	return out
}
