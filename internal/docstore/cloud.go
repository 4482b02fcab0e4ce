package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
)

// Indexing status reported by the hosted index API.
const IndexStatusIndexed = "INDEXED"

// IndexStatus is the indexing block of the hosted index resource.
type IndexStatus struct {
	Status           string `json:"status"`
	PendingFileCount int    `json:"pending_file_count"`
	TotalFileCount   int    `json:"total_file_count"`
}

// CloudConfig addresses one hosted index.
type CloudConfig struct {
	Endpoint string
	Index    string
	APIKey   config.Secret

	// HTTPClient is used for every call. Tests pass a client whose
	// transport is intercepted. Nil uses a client with a 30s timeout.
	HTTPClient *http.Client
}

// CloudStore is a read-only client for an index hosted by the cloud API.
// Documents are managed by the hosted service; writes and deletes fail with
// ErrReadOnly.
type CloudStore struct {
	cfg    CloudConfig
	client *http.Client
}

// NewCloudStore checks that the hosted index exists and is fully indexed.
func NewCloudStore(ctx context.Context, cfg CloudConfig) (*CloudStore, error) {
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, fmt.Errorf("%w: cloud endpoint and index are required", ErrUnsupportedConfig)
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	s := &CloudStore{cfg: cfg, client: client}
	st, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status != IndexStatusIndexed {
		return nil, fmt.Errorf("%w: index %s is %s (%d of %d files pending)",
			ErrIndexNotReady, cfg.Index, st.Status, st.PendingFileCount, st.TotalFileCount)
	}
	return s, nil
}

// StatusURL is the resource URL of the hosted index.
func StatusURL(endpoint, index string) string {
	return strings.TrimRight(endpoint, "/") + "/workspaces/default/indexes/" + index
}

// Status fetches the current indexing status.
func (s *CloudStore) Status(ctx context.Context) (IndexStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, StatusURL(s.cfg.Endpoint, s.cfg.Index), nil)
	if err != nil {
		return IndexStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey.Value())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return IndexStatus{}, fmt.Errorf("fetching index %s: %w", s.cfg.Index, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return IndexStatus{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return IndexStatus{}, fmt.Errorf("fetching index %s: status %d: %s", s.cfg.Index, resp.StatusCode, string(body))
	}

	var payload struct {
		Indexing IndexStatus `json:"indexing"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return IndexStatus{}, fmt.Errorf("decoding index %s: %w", s.cfg.Index, err)
	}
	return payload.Indexing, nil
}

// Index returns the hosted index name.
func (s *CloudStore) Index() string { return s.cfg.Index }

func (s *CloudStore) WriteDocuments(context.Context, []Document) error {
	return fmt.Errorf("%w: cannot write to hosted index %s", ErrReadOnly, s.cfg.Index)
}

func (s *CloudStore) DeleteDocuments(context.Context) error {
	return fmt.Errorf("%w: cannot delete from hosted index %s", ErrReadOnly, s.cfg.Index)
}

// Close releases idle connections.
func (s *CloudStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
