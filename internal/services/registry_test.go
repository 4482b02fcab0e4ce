package services

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Teardown(t *testing.T) {
	r := NewRegistry()
	es := &fakeContainer{name: "es"}
	qd := &fakeContainer{name: "qd", stopErr: errors.New("already gone")}
	wv := &fakeContainer{name: "wv"}
	r.Add("elasticsearch", es)
	r.Add("qdrant", qd)
	r.Add("weaviate", wv)

	assert.Equal(t, []string{"elasticsearch", "qdrant", "weaviate"}, r.Names())

	err := r.Teardown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping qdrant")
	assert.True(t, es.isStopped())
	assert.True(t, qd.isStopped())
	assert.True(t, wv.isStopped(), "failures do not stop the others")
	assert.Zero(t, r.Len())

	assert.NoError(t, r.Teardown(context.Background()), "second teardown is a no-op")
}

func TestRequireTool(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	_, err := RequireTool("pdftotext")
	assert.ErrorIs(t, err, ErrToolMissing)
	assert.Contains(t, err.Error(), "poppler")

	_, err = RequireTool("exotic")
	assert.ErrorContains(t, err, "on PATH")

	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	path, err := RequireTool("pdftotext")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/pdftotext", path)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()

	svc, err := FromConfig(cfg, "Weaviate")
	require.NoError(t, err)
	assert.Equal(t, "weaviate", svc.Name)
	assert.Equal(t, 60*time.Second, svc.SettleDelay)
	assert.Equal(t, []string{
		"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED=true",
		"DEFAULT_VECTORIZER_MODULE=none",
		"PERSISTENCE_DATA_PATH=/var/lib/weaviate",
	}, svc.EnvList())

	_, err = FromConfig(cfg, "solr")
	assert.ErrorIs(t, err, ErrUnknownService)

	all, err := AllFromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, all, len(config.ServiceNames()))
	assert.Equal(t, 5*time.Second, all["redis"].SettleDelay)
}

func TestPortMappings(t *testing.T) {
	svc := Service{Name: "x", Ports: []string{"6333:6333", "16334:6334"}}
	m, err := svc.PortMappings()
	require.NoError(t, err)
	assert.Equal(t, []PortMapping{{"6333", "6333"}, {"16334", "6334"}}, m)

	svc.Ports = []string{":1"}
	_, err = svc.PortMappings()
	assert.Error(t, err)
}
