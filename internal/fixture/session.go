// Package fixture composes services, harness and docstore into per-test
// fixtures with guaranteed cleanup.
//
// One Session is built per test binary, usually in TestMain:
//
//	var (
//		flags   = harness.RegisterFlags(flag.CommandLine)
//		session *fixture.Session
//	)
//
//	func TestMain(m *testing.M) {
//		flag.Parse()
//		var err error
//		session, err = fixture.Load(flags)
//		if err != nil {
//			fmt.Fprintln(os.Stderr, err)
//			os.Exit(2)
//		}
//		code := m.Run()
//		_ = session.Close(context.Background())
//		os.Exit(code)
//	}
//
// Tests then ask the session for handles:
//
//	func TestWrite(t *testing.T) {
//		session.Run(t, harness.Decl{NeedsBackend: true}, func(t *testing.T, inst harness.Instance) {
//			store := session.DocumentStoreWithDocs(t, inst.Backend)
//			...
//		})
//	}
//
// Fixture-driven tests must not call t.Parallel.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/harness"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/fyrsmithlabs/storeharness/internal/services"
	"github.com/fyrsmithlabs/storeharness/internal/telemetry"
	"go.uber.org/zap"
)

// Session holds the state shared by every fixture of one test binary.
type Session struct {
	cfg        *config.Config
	logger     *logging.Logger
	bootstrap  *services.Bootstrapper
	controller *harness.Controller
	factory    *docstore.Factory
	telemetry  *telemetry.Telemetry

	mu         sync.Mutex
	fatal      error
	reclaiming map[testing.TB]struct{}
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	launcher       services.Launcher
	bootstrapOpts  []services.Option
	factoryOpts    []docstore.FactoryOption
	registry       *services.Registry
	serviceConfigs map[string]services.Service
	telemetry      *telemetry.Telemetry
}

// WithLauncher replaces the configured container launcher.
func WithLauncher(l services.Launcher) Option {
	return func(o *sessionOptions) { o.launcher = l }
}

// WithBootstrapOptions passes options to the service bootstrapper.
func WithBootstrapOptions(opts ...services.Option) Option {
	return func(o *sessionOptions) { o.bootstrapOpts = append(o.bootstrapOpts, opts...) }
}

// WithFactoryOptions passes options to the store factory.
func WithFactoryOptions(opts ...docstore.FactoryOption) Option {
	return func(o *sessionOptions) { o.factoryOpts = append(o.factoryOpts, opts...) }
}

// WithServices replaces the configured service definitions.
func WithServices(svcs map[string]services.Service) Option {
	return func(o *sessionOptions) { o.serviceConfigs = svcs }
}

// WithTelemetry traces every store call through tel. The session shuts tel
// down on Close.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *sessionOptions) { o.telemetry = tel }
}

// Load reads the configuration (STOREHARNESS_CONFIG and STOREHARNESS_*
// env), builds the logger and creates a Session.
func Load(flags *harness.Flags, opts ...Option) (*Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.New(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	return NewSession(cfg, flags, logger, append([]Option{WithTelemetry(tel)}, opts...)...)
}

// NewSession wires bootstrapper, controller and factory for cfg. flags may
// be nil, in which case the selector comes from cfg.
func NewSession(cfg *config.Config, flags *harness.Flags, logger *logging.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	o := &sessionOptions{registry: services.NewRegistry()}
	for _, opt := range opts {
		opt(o)
	}

	sel, err := flags.Selector(cfg)
	if err != nil {
		return nil, err
	}

	svcs := o.serviceConfigs
	if svcs == nil {
		if svcs, err = services.AllFromConfig(cfg); err != nil {
			return nil, err
		}
	}
	launcher := o.launcher
	if launcher == nil {
		if launcher, err = services.NewLauncher(cfg); err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		telemetry: o.telemetry,
		bootstrap: services.NewBootstrapper(svcs, launcher, o.registry, logger, o.bootstrapOpts...),
		controller: harness.NewController(sel,
			harness.WithStrictTags(cfg.Run.StrictTags),
			harness.WithLogger(logger)),
	}
	factoryOpts := o.factoryOpts
	if o.telemetry.Enabled() {
		factoryOpts = append([]docstore.FactoryOption{docstore.WithTracerProvider(o.telemetry.TracerProvider())}, factoryOpts...)
	}
	s.factory = docstore.NewFactory(docstore.EndpointsFromConfig(cfg), s, logger, factoryOpts...)

	logger.Info(context.Background(), "test session ready",
		zap.String("backends", sel.String()),
		zap.String("sql_type", cfg.SQL.Type),
		zap.String("launcher", launcher.Name()),
		zap.Bool("strict_tags", cfg.Run.StrictTags),
		zap.Bool("telemetry", o.telemetry.Enabled()))
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Logger returns the session logger.
func (s *Session) Logger() *logging.Logger { return s.logger }

// Controller returns the parametrization controller.
func (s *Session) Controller() *harness.Controller { return s.controller }

// Factory returns the store factory.
func (s *Session) Factory() *docstore.Factory { return s.factory }

// Bootstrapper returns the service bootstrapper.
func (s *Session) Bootstrapper() *services.Bootstrapper { return s.bootstrap }

// Run expands decl and runs fn per instance; see harness.Controller.Run.
// Every instance that runs gets a memory reclamation pass when it ends.
func (s *Session) Run(t *testing.T, decl harness.Decl, fn func(t *testing.T, inst harness.Instance)) {
	t.Helper()
	s.controller.Run(t, decl, func(t *testing.T, inst harness.Instance) {
		t.Helper()
		s.reclaimAfter(t)
		fn(t, inst)
	})
}

// reclaimAfter registers one reclaimMemory cleanup for t, however many
// fixtures ask for it.
func (s *Session) reclaimAfter(t testing.TB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reclaiming[t]; ok {
		return
	}
	if s.reclaiming == nil {
		s.reclaiming = make(map[testing.TB]struct{})
	}
	s.reclaiming[t] = struct{}{}
	t.Cleanup(func() {
		reclaimMemory()
		s.mu.Lock()
		delete(s.reclaiming, t)
		s.mu.Unlock()
	})
}

// Ensure makes sure the named service is running. A launch failure is
// recorded and returned by every later Ensure and fixture request.
func (s *Session) Ensure(ctx context.Context, name string) error {
	if err := s.Err(); err != nil {
		return err
	}
	err := s.bootstrap.Ensure(ctx, name)
	if errors.Is(err, services.ErrLaunchFailed) {
		s.mu.Lock()
		if s.fatal == nil {
			s.fatal = err
		}
		s.mu.Unlock()
	}
	return err
}

// Err returns the bootstrap failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Close stops launched containers when services.teardown is set; otherwise
// they are left running for the next run.
func (s *Session) Close(ctx context.Context) error {
	defer func() { _ = s.logger.Sync() }()
	defer func() {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry := s.bootstrap.Registry()
	if !s.cfg.Services.Teardown {
		if registry.Len() > 0 {
			s.logger.Info(ctx, "leaving launched containers running",
				zap.Strings("services", registry.Names()))
		}
		return nil
	}
	names := registry.Names()
	if err := registry.Teardown(ctx); err != nil {
		s.logger.Error(ctx, "container teardown failed", zap.Error(err))
		return err
	}
	s.logger.Info(ctx, "stopped launched containers", zap.Strings("services", names))
	return nil
}

var _ docstore.Ensurer = (*Session)(nil)
