package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeContainer struct {
	name    string
	stopErr error

	mu      sync.Mutex
	stopped bool
}

func (c *fakeContainer) Name() string { return c.name }

func (c *fakeContainer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return c.stopErr
}

func (c *fakeContainer) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeLauncher struct {
	err      error
	launched []string
	onLaunch func()
}

func (l *fakeLauncher) Name() string { return "fake" }

func (l *fakeLauncher) Launch(_ context.Context, svc Service) (Container, error) {
	l.launched = append(l.launched, svc.Name)
	if l.err != nil {
		return nil, l.err
	}
	if l.onLaunch != nil {
		l.onLaunch()
	}
	return &fakeContainer{name: svc.ContainerName}, nil
}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

// unusedAddr returns a loopback address nothing listens on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testService(name, probeURL string) Service {
	return Service{
		Name:          name,
		Image:         name + ":test",
		ContainerName: "storeharness_test_" + name,
		Ports:         []string{"1234:1234"},
		ProbeURL:      probeURL,
		SettleDelay:   30 * time.Second,
	}
}

func TestEnsureRunning_ReachableHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	launcher := &fakeLauncher{}
	sleeper := &recordedSleep{}
	svc := testService("elasticsearch", srv.URL)
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, nil, WithSleep(sleeper.sleep))

	require.NoError(t, b.Ensure(context.Background(), "elasticsearch"))
	assert.Empty(t, launcher.launched)
	assert.Empty(t, sleeper.delays)
	assert.Zero(t, b.Registry().Len())
}

func TestEnsureRunning_ReachableTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	launcher := &fakeLauncher{}
	svc := testService("redis", "tcp://"+l.Addr().String())
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, nil)

	require.NoError(t, b.EnsureRunning(context.Background(), svc))
	assert.Empty(t, launcher.launched)
}

func TestEnsureRunning_LaunchesOnceAndSettles(t *testing.T) {
	launcher := &fakeLauncher{}
	sleeper := &recordedSleep{}
	tl := logging.NewTestLogger()
	svc := testService("qdrant", "tcp://"+unusedAddr(t))
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, tl.Logger, WithSleep(sleeper.sleep))

	before := testutil.ToFloat64(LaunchesTotal.WithLabelValues("qdrant", "fake", "success"))

	require.NoError(t, b.Ensure(context.Background(), "qdrant"))
	require.NoError(t, b.Ensure(context.Background(), "qdrant"))

	assert.Equal(t, []string{"qdrant"}, launcher.launched, "one launch per session")
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeper.delays)
	assert.Equal(t, []string{"qdrant"}, b.Registry().Names())
	assert.Equal(t, before+1, testutil.ToFloat64(LaunchesTotal.WithLabelValues("qdrant", "fake", "success")))
	tl.AssertLogged(t, zapcore.InfoLevel, "launching container")
	tl.AssertField(t, "waiting for service to settle", "service", "qdrant")
}

func TestEnsureRunning_LaunchFailureIsSticky(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exit status 125")}
	sleeper := &recordedSleep{}
	svc := testService("weaviate", "tcp://"+unusedAddr(t))
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, nil, WithSleep(sleeper.sleep))

	err := b.Ensure(context.Background(), "weaviate")
	require.Error(t, err)

	err2 := b.Ensure(context.Background(), "weaviate")
	assert.Same(t, err, err2)
	assert.Len(t, launcher.launched, 1, "no retry")
	assert.Empty(t, sleeper.delays)
	assert.Zero(t, b.Registry().Len())
}

func TestEnsureRunning_SettleHonorsContext(t *testing.T) {
	launcher := &fakeLauncher{}
	svc := testService("tika", "tcp://"+unusedAddr(t))
	svc.SettleDelay = time.Hour
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	launcher.onLaunch = cancel

	err := b.EnsureRunning(ctx, svc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, 1, b.Registry().Len(), "launched container is still recorded")
}

func TestEnsureRunning_InterruptedSettleIsSticky(t *testing.T) {
	launcher := &fakeLauncher{}
	svc := testService("qdrant", "tcp://"+unusedAddr(t))
	sleeps := 0
	b := NewBootstrapper(map[string]Service{svc.Name: svc}, launcher, nil, nil,
		WithSleep(func(context.Context, time.Duration) error {
			sleeps++
			return context.DeadlineExceeded
		}))

	first := b.Ensure(context.Background(), "qdrant")
	require.ErrorIs(t, first, context.DeadlineExceeded)
	require.ErrorIs(t, first, ErrLaunchFailed)

	second := b.Ensure(context.Background(), "qdrant")
	assert.Same(t, first, second)
	assert.Len(t, launcher.launched, 1, "no relaunch")
	assert.Equal(t, 1, sleeps)
}

func TestEnsure_UnknownService(t *testing.T) {
	b := NewBootstrapper(map[string]Service{}, &fakeLauncher{}, nil, nil)
	assert.ErrorIs(t, b.Ensure(context.Background(), "solr"), ErrUnknownService)
}

func TestStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	up := testService("elasticsearch", srv.URL)
	down := testService("redis", "tcp://"+unusedAddr(t))
	launcher := &fakeLauncher{}
	b := NewBootstrapper(map[string]Service{up.Name: up, down.Name: down}, launcher, nil, nil)

	st := b.Statuses(context.Background())
	require.Len(t, st, 2)
	assert.Equal(t, "elasticsearch", st[0].Name)
	assert.True(t, st[0].Reachable)
	assert.Equal(t, "redis", st[1].Name)
	assert.False(t, st[1].Reachable)
	assert.Error(t, st[1].Err)
	assert.Empty(t, launcher.launched, "status never launches")
}

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	ctx := context.Background()
	assert.NoError(t, Probe(ctx, http.DefaultClient, ok.URL))
	assert.ErrorContains(t, Probe(ctx, http.DefaultClient, failing.URL), "503")
	assert.Error(t, Probe(ctx, http.DefaultClient, "tcp://"+unusedAddr(t)))
	assert.ErrorContains(t, Probe(ctx, http.DefaultClient, "udp://localhost:1"), "unsupported probe scheme")
}
