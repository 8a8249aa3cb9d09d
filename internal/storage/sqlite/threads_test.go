package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

func newTestThreadStore(t *testing.T) *ThreadStore {
	t.Helper()
	store, err := NewThreadStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestThreadStoreMapAndGet(t *testing.T) {
	store := newTestThreadStore(t)
	ctx := context.Background()

	mapping, err := store.Map(ctx, "thread-1", "/home/user/projects/api")
	require.NoError(t, err)
	assert.False(t, mapping.CreatedAt.IsZero())

	got, err := store.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/projects/api", got.ProjectPath)

	byPath, err := store.GetByPath(ctx, "/home/user/projects/api")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", byPath.ThreadID)
}

func TestThreadStoreMappingConflicts(t *testing.T) {
	store := newTestThreadStore(t)
	ctx := context.Background()

	_, err := store.Map(ctx, "thread-1", "/home/user/projects/api")
	require.NoError(t, err)

	t.Run("thread already mapped", func(t *testing.T) {
		_, err := store.Map(ctx, "thread-1", "/home/user/projects/web")
		require.Error(t, err)
		assert.True(t, errors.IsMappingConflict(err))
		assert.Contains(t, err.Error(), "thread 'thread-1'")
	})

	t.Run("path already mapped", func(t *testing.T) {
		_, err := store.Map(ctx, "thread-2", "/home/user/projects/api")
		require.Error(t, err)
		assert.True(t, errors.IsMappingConflict(err))
		assert.Contains(t, err.Error(), "already mapped to thread thread-1")
	})

	// Neither conflict leaves a partial row behind.
	mappings, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestThreadStoreUnmap(t *testing.T) {
	store := newTestThreadStore(t)
	ctx := context.Background()

	_, err := store.Map(ctx, "thread-1", "/tmp/a")
	require.NoError(t, err)

	require.NoError(t, store.Unmap(ctx, "thread-1"))

	_, err = store.Get(ctx, "thread-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	err = store.Unmap(ctx, "thread-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// The freed path can be mapped again.
	_, err = store.Map(ctx, "thread-2", "/tmp/a")
	require.NoError(t, err)
}

func TestThreadStoreList(t *testing.T) {
	store := newTestThreadStore(t)
	ctx := context.Background()

	_, err := store.Map(ctx, "thread-1", "/tmp/a")
	require.NoError(t, err)
	_, err = store.Map(ctx, "thread-2", "/tmp/b")
	require.NoError(t, err)

	mappings, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "thread-1", mappings[0].ThreadID)
	assert.Equal(t, "thread-2", mappings[1].ThreadID)
}
