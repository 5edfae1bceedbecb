package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/repo/postgres"
	memorystorage "github.com/tendant/simple-memories/pkg/memories/storage/memory"
)

// newPool connects to MEMORIES_TEST_DATABASE_URL, skipping when it is unset.
func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("MEMORIES_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEMORIES_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(context.Background(), pool))
	return pool
}

func newService(t *testing.T) memories.Service {
	t.Helper()
	svc, err := memories.New(
		memories.WithRepository(postgres.NewWithPool(newPool(t))),
		memories.WithChunkBackend("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	return svc
}

func TestUploadAndCascade(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	capsule, err := svc.CreateCapsule(ctx, "")
	require.NoError(t, err)

	session, err := svc.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 2, IdempotencyKey: "pg-upload"})
	require.NoError(t, err)
	again, err := svc.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 2, IdempotencyKey: "pg-upload"})
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)

	_, err = svc.PutChunk(ctx, memories.PutChunkRequest{SessionID: session.ID, Index: 1, Data: []byte("world")})
	require.NoError(t, err)
	_, err = svc.PutChunk(ctx, memories.PutChunkRequest{SessionID: session.ID, Index: 0, Data: []byte("hello ")})
	require.NoError(t, err)

	payload := []byte("hello world")
	result, err := svc.FinishUpload(ctx, memories.FinishUploadRequest{
		SessionID:   session.ID,
		SHA256:      memories.SumDigest(payload),
		TotalLength: int64(len(payload)),
		Memory:      &memories.FinishMemoryInput{Metadata: memories.MemoryMetadata{Title: "greeting", Tags: []string{"pg"}}},
	})
	require.NoError(t, err)

	mem, err := svc.GetMemory(ctx, result.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, "greeting", mem.Metadata.Title)
	require.Len(t, mem.BlobAssets, 1)
	assert.Equal(t, result.BlobID, mem.BlobAssets[0].BlobRef.Locator)

	_, err = svc.AddInlineAsset(ctx, mem.ID, memories.InlineAssetInput{Bytes: []byte("thumb")})
	require.NoError(t, err)

	page, err := svc.ListMemories(ctx, memories.ListMemoriesRequest{CapsuleID: capsule.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Len(t, page.Items[0].InlineAssets, 1)

	deleted, err := svc.DeleteMemory(ctx, mem.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{result.BlobID}, deleted.DeletedBlobs)

	_, err = svc.ReadBlob(ctx, result.BlobID)
	assert.ErrorIs(t, err, memories.ErrBlobNotFound)
}

func TestSessionConflicts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	capsule, err := svc.CapsuleForOwner(ctx, memories.NewID(memories.KindCapsule))
	require.NoError(t, err)
	session, err := svc.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 1})
	require.NoError(t, err)

	aborted, err := svc.AbortUpload(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, memories.SessionStatusAborted, aborted.Status)

	_, err = svc.PutChunk(ctx, memories.PutChunkRequest{SessionID: session.ID, Index: 0, Data: []byte("x")})
	assert.ErrorIs(t, err, memories.ErrSessionNotOpen)

	_, err = svc.GetUpload(ctx, memories.NewID(memories.KindSession))
	assert.ErrorIs(t, err, memories.ErrSessionNotFound)
}

func TestMemoriesRequireBlobs(t *testing.T) {
	repo := postgres.NewWithPool(newPool(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	capsule := &memories.Capsule{ID: memories.NewID(memories.KindCapsule), CreatedAt: now}
	require.NoError(t, repo.CreateCapsule(ctx, capsule))
	blob := &memories.BlobMeta{ID: memories.NewID(memories.KindBlob), CapsuleID: capsule.ID, Size: 1, Backend: "memory", CreatedAt: now}
	require.NoError(t, repo.CreateBlobMeta(ctx, blob))
	require.NoError(t, repo.DeleteBlobMeta(ctx, blob.ID))

	_, _, err := repo.CreateMemoryIfAbsent(ctx, &memories.Memory{
		ID:         memories.NewID(memories.KindMemory),
		CapsuleID:  capsule.ID,
		BlobAssets: []memories.BlobAsset{{AssetID: memories.NewID(memories.KindAsset), BlobRef: memories.BlobRef{Locator: blob.ID}, Metadata: &memories.DocumentMetadata{}}},
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	assert.ErrorIs(t, err, memories.ErrBlobNotFound)

	mem := &memories.Memory{
		ID:           memories.NewID(memories.KindMemory),
		CapsuleID:    capsule.ID,
		InlineAssets: []memories.InlineAsset{{AssetID: memories.NewID(memories.KindInlineAsset), Bytes: []byte("x"), Metadata: &memories.NoteMetadata{}}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, created, err := repo.CreateMemoryIfAbsent(ctx, mem)
	require.NoError(t, err)
	assert.True(t, created)

	err = repo.AppendBlobAsset(ctx, mem.ID, memories.BlobAsset{AssetID: memories.NewID(memories.KindAsset), BlobRef: memories.BlobRef{Locator: blob.ID}, Metadata: &memories.DocumentMetadata{}}, now)
	assert.ErrorIs(t, err, memories.ErrBlobNotFound)
	err = repo.AppendBlobAsset(ctx, memories.NewID(memories.KindMemory), memories.BlobAsset{BlobRef: memories.BlobRef{Locator: blob.ID}}, now)
	assert.ErrorIs(t, err, memories.ErrMemoryNotFound)
}
