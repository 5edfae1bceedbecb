package cache_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/storage/cache"
	"github.com/tendant/simple-memories/pkg/memories/storage/memory"
)

// countingBackend counts reads that reach the nested backend.
type countingBackend struct {
	*memory.Backend
	reads atomic.Int32
}

func (c *countingBackend) GetChunk(ctx context.Context, key string) ([]byte, error) {
	c.reads.Add(1)
	return c.Backend.GetChunk(ctx, key)
}

func TestCacheHits(t *testing.T) {
	next := &countingBackend{Backend: memory.New()}
	b, err := cache.New(next, 8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, next.Backend.PutChunk(ctx, "blobs/aa/x/00000000", []byte("cold")))

	for i := 0; i < 3; i++ {
		got, err := b.GetChunk(ctx, "blobs/aa/x/00000000")
		require.NoError(t, err)
		assert.Equal(t, []byte("cold"), got)
	}
	assert.Equal(t, int32(1), next.reads.Load())

	// Callers get their own copy.
	got, _ := b.GetChunk(ctx, "blobs/aa/x/00000000")
	got[0] = 'X'
	again, _ := b.GetChunk(ctx, "blobs/aa/x/00000000")
	assert.Equal(t, []byte("cold"), again)

	_, err = b.GetChunk(ctx, "missing")
	assert.ErrorIs(t, err, memories.ErrChunkNotFound)
}

func TestCacheWriteThroughAndInvalidation(t *testing.T) {
	next := &countingBackend{Backend: memory.New()}
	b, err := cache.New(next, 8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.PutChunk(ctx, "sessions/s/00000000", []byte("v1")))
	require.NoError(t, b.PutChunk(ctx, "sessions/s/00000000", []byte("v2")))
	got, err := b.GetChunk(ctx, "sessions/s/00000000")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, int32(0), next.reads.Load())

	require.NoError(t, b.DeleteChunk(ctx, "sessions/s/00000000"))
	_, err = b.GetChunk(ctx, "sessions/s/00000000")
	assert.ErrorIs(t, err, memories.ErrChunkNotFound)

	require.NoError(t, b.PutChunk(ctx, "blobs/bb/y/00000000", []byte("a")))
	require.NoError(t, b.PutChunk(ctx, "blobs/bb/y/00000001", []byte("b")))
	require.NoError(t, b.PutChunk(ctx, "blobs/cc/z/00000000", []byte("c")))
	require.NoError(t, b.DeletePrefix(ctx, "blobs/bb/y/"))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, next.Len())

	_, err = b.GetChunk(ctx, "blobs/bb/y/00000001")
	assert.ErrorIs(t, err, memories.ErrChunkNotFound)
	assert.Equal(t, "memory://blobs/", b.Location("blobs/"))
}

func TestCacheEviction(t *testing.T) {
	next := &countingBackend{Backend: memory.New()}
	b, err := cache.New(next, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, b.PutChunk(ctx, key, []byte(key)))
	}
	assert.Equal(t, 2, b.Len())

	got, err := b.GetChunk(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
	assert.Equal(t, int32(1), next.reads.Load())
}

func TestNewRejectsBadSize(t *testing.T) {
	_, err := cache.New(memory.New(), 0)
	assert.Error(t, err)
}
