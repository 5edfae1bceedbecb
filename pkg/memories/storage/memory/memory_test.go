package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/storage/memory"
)

func TestBackend(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	data := []byte("chunk")
	require.NoError(t, b.PutChunk(ctx, "sessions/s/00000000", data))
	data[0] = 'X'

	got, err := b.GetChunk(ctx, "sessions/s/00000000")
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk"), got)

	require.NoError(t, b.PutChunk(ctx, "sessions/s/00000001", []byte("two")))
	require.NoError(t, b.PutChunk(ctx, "sessions/t/00000000", []byte("other")))
	assert.Len(t, b.Keys("sessions/s/"), 2)
	assert.Equal(t, 3, b.Len())

	require.NoError(t, b.DeletePrefix(ctx, "sessions/s/"))
	assert.Empty(t, b.Keys("sessions/s/"))
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.DeleteChunk(ctx, "sessions/t/00000000"))
	require.NoError(t, b.DeleteChunk(ctx, "sessions/t/00000000"))
	_, err = b.GetChunk(ctx, "sessions/t/00000000")
	assert.ErrorIs(t, err, memories.ErrChunkNotFound)

	assert.Equal(t, "memory://blobs/", b.Location("blobs/"))
}
