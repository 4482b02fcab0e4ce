package docstore_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCloudEndpoint = "https://DC_API/v1"
	testCloudIndex    = "document_retrieval_1"
)

func mockCloud(t *testing.T, status string) (*httpmock.MockTransport, *http.Client) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	mt.RegisterMatcherResponder(http.MethodGet,
		docstore.StatusURL(testCloudEndpoint, testCloudIndex),
		httpmock.HeaderIs("Authorization", "Bearer NO_KEY"),
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"indexing": map[string]any{
				"status":             status,
				"pending_file_count": 0,
				"total_file_count":   31,
			},
		}),
	)
	return mt, &http.Client{Transport: mt}
}

func TestCloudStore_Indexed(t *testing.T) {
	mt, client := mockCloud(t, "INDEXED")

	s, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{
		Endpoint:   testCloudEndpoint,
		Index:      testCloudIndex,
		APIKey:     config.Secret("NO_KEY"),
		HTTPClient: client,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, testCloudIndex, s.Index())
	assert.Equal(t, 1, mt.GetTotalCallCount())

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docstore.IndexStatus{Status: "INDEXED", TotalFileCount: 31}, st)
}

func TestCloudStore_NotIndexed(t *testing.T) {
	_, client := mockCloud(t, "INDEXING")

	_, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{
		Endpoint:   testCloudEndpoint,
		Index:      testCloudIndex,
		APIKey:     config.Secret("NO_KEY"),
		HTTPClient: client,
	})
	assert.ErrorIs(t, err, docstore.ErrIndexNotReady)
}

func TestCloudStore_WrongKeyIsNotMatched(t *testing.T) {
	_, client := mockCloud(t, "INDEXED")

	_, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{
		Endpoint:   testCloudEndpoint,
		Index:      testCloudIndex,
		APIKey:     config.Secret("other"),
		HTTPClient: client,
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "other")
}

func TestCloudStore_ReadOnly(t *testing.T) {
	_, client := mockCloud(t, "INDEXED")
	s, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{
		Endpoint:   testCloudEndpoint + "/",
		Index:      testCloudIndex,
		APIKey:     config.Secret("NO_KEY"),
		HTTPClient: client,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.WriteDocuments(context.Background(), nil), docstore.ErrReadOnly)
	assert.ErrorIs(t, s.DeleteDocuments(context.Background()), docstore.ErrReadOnly)
}

func TestCloudStore_RequiresEndpointAndIndex(t *testing.T) {
	_, err := docstore.NewCloudStore(context.Background(), docstore.CloudConfig{Index: testCloudIndex})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)
}
