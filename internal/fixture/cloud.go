package fixture

import (
	"context"
	"net/http"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/jarcoal/httpmock"
)

// CloudTransport returns the transport cloud clients use in this test. In
// mock mode the hosted index answers with a canned INDEXED status for the
// configured key and every other request fails. In passthrough mode every
// request goes to the real endpoint.
func (s *Session) CloudTransport(t testing.TB) *httpmock.MockTransport {
	t.Helper()
	mt := httpmock.NewMockTransport()
	if s.cfg.Cloud.Passthrough {
		mt.RegisterNoResponder(httpmock.InitialTransport.RoundTrip)
		return mt
	}
	mt.RegisterMatcherResponder(http.MethodGet,
		docstore.StatusURL(s.cfg.Cloud.Endpoint, s.cfg.Cloud.Index),
		httpmock.HeaderIs("Authorization", "Bearer "+s.cfg.Cloud.APIKey.Value()),
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"name": s.cfg.Cloud.Index,
			"indexing": map[string]any{
				"status":             docstore.IndexStatusIndexed,
				"pending_file_count": 0,
				"total_file_count":   31,
			},
		}),
	)
	return mt
}

// CloudStore returns a client for the configured hosted index, closed when
// the test ends.
func (s *Session) CloudStore(t testing.TB) *docstore.CloudStore {
	t.Helper()
	mt := s.CloudTransport(t)
	store, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{
		Endpoint:   s.cfg.Cloud.Endpoint,
		Index:      s.cfg.Cloud.Index,
		APIKey:     s.cfg.Cloud.APIKey,
		HTTPClient: &http.Client{Transport: mt},
	})
	if err != nil {
		t.Fatalf("opening cloud index %s: %v", s.cfg.Cloud.Index, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
