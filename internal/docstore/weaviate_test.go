package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestWalkWeaviateObjects(t *testing.T) {
	const total = 10005
	objects := make([]*models.Object, total)
	for i := range objects {
		objects[i] = &models.Object{ID: strfmt.UUID(stableUUID(fmt.Sprintf("doc-%05d", i)))}
	}
	index := make(map[string]int, total)
	for i, o := range objects {
		index[o.ID.String()] = i
	}

	var cursors []string
	fetch := func(_ context.Context, after string) ([]*models.Object, error) {
		cursors = append(cursors, after)
		start := 0
		if after != "" {
			i, ok := index[after]
			require.True(t, ok, "cursor is an object id")
			start = i + 1
		}
		end := min(start+weaviatePageSize, total)
		return objects[start:end], nil
	}

	got, err := walkWeaviateObjects(context.Background(), weaviatePageSize, fetch)
	require.NoError(t, err)
	assert.Len(t, got, total)
	assert.Len(t, cursors, 11)
	assert.Empty(t, cursors[0])
	assert.Equal(t, objects[weaviatePageSize-1].ID.String(), cursors[1])
}

func TestWalkWeaviateObjects_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := walkWeaviateObjects(context.Background(), 2, func(context.Context, string) ([]*models.Object, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWalkWeaviateObjects_Empty(t *testing.T) {
	got, err := walkWeaviateObjects(context.Background(), 2, func(context.Context, string) ([]*models.Object, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
