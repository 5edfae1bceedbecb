package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/storage/fs"
)

func TestBackend(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			b, err := fs.New(fs.Config{BaseDir: dir, Compress: compress})
			require.NoError(t, err)
			ctx := context.Background()

			blob := memories.NewID(memories.KindBlob)
			key := memories.BlobChunkKey(blob, 0)
			payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
			require.NoError(t, b.PutChunk(ctx, key, payload))

			onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
			require.NoError(t, err)
			if compress {
				assert.Less(t, len(onDisk), len(payload))
			} else {
				assert.Equal(t, payload, onDisk)
			}

			got, err := b.GetChunk(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			// Overwrite replaces the previous payload.
			require.NoError(t, b.PutChunk(ctx, key, []byte("second")))
			got, err = b.GetChunk(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), got)

			require.NoError(t, b.PutChunk(ctx, memories.BlobChunkKey(blob, 1), []byte("more")))
			require.NoError(t, b.DeletePrefix(ctx, memories.BlobPrefix(blob)))
			_, err = b.GetChunk(ctx, key)
			assert.ErrorIs(t, err, memories.ErrChunkNotFound)

			// Empty shard directories are pruned.
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestDeleteChunk(t *testing.T) {
	dir := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	session := memories.NewID(memories.KindSession)
	key := memories.SessionChunkKey(session, 2)
	require.NoError(t, b.PutChunk(ctx, key, []byte("x")))
	require.NoError(t, b.DeleteChunk(ctx, key))
	require.NoError(t, b.DeleteChunk(ctx, key))

	_, err = os.Stat(filepath.Join(dir, "sessions"))
	assert.True(t, os.IsNotExist(err))
}

func TestRejectsEscapingKeys(t *testing.T) {
	b, err := fs.New(fs.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside", "blobs/../../x"} {
		err := b.PutChunk(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, memories.ErrInvalidArgument, key)
	}
	assert.Error(t, b.DeletePrefix(ctx, "blobs/no-slash"))
}

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	dir := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(dir)+"/blobs/ab/x/", b.Location("blobs/ab/x/"))
}
