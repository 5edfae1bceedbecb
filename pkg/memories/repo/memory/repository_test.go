package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/repo/memory"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newCapsule(t *testing.T, repo memories.Repository, owner string) *memories.Capsule {
	t.Helper()
	c := &memories.Capsule{ID: memories.NewID(memories.KindCapsule), Owner: owner, CreatedAt: epoch}
	require.NoError(t, repo.CreateCapsule(context.Background(), c))
	return c
}

func TestCapsules(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "ann")

	err := repo.CreateCapsule(ctx, &memories.Capsule{ID: memories.NewID(memories.KindCapsule), Owner: "ann"})
	assert.ErrorIs(t, err, memories.ErrAlreadyExists)

	got, created, err := repo.GetOrCreateCapsuleByOwner(ctx, &memories.Capsule{ID: memories.NewID(memories.KindCapsule), Owner: "ann"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, got.ID)

	fresh, created, err := repo.GetOrCreateCapsuleByOwner(ctx, &memories.Capsule{ID: memories.NewID(memories.KindCapsule), Owner: "ben"})
	require.NoError(t, err)
	assert.True(t, created)
	fetched, err := repo.GetCapsule(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "ben", fetched.Owner)

	_, err = repo.GetCapsule(ctx, "cap_missing")
	assert.ErrorIs(t, err, memories.ErrCapsuleNotFound)
}

func TestSessions(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "")

	session := &memories.UploadSession{
		ID:             memories.NewID(memories.KindSession),
		CapsuleID:      c.ID,
		ExpectedChunks: 2,
		ReceivedChunks: map[uint32]int64{},
		IdempotencyKey: "k",
		Status:         memories.SessionStatusOpen,
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
		ExpiresAt:      epoch.Add(time.Hour),
	}
	stored, created, err := repo.CreateSessionIfAbsent(ctx, session)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *session
	dup.ID = memories.NewID(memories.KindSession)
	existing, created, err := repo.CreateSessionIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, existing.ID)

	// Rewrites count the latest size only.
	_, err = repo.RecordChunk(ctx, session.ID, 0, 10, epoch)
	require.NoError(t, err)
	updated, err := repo.RecordChunk(ctx, session.ID, 0, 4, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.BytesReceived)
	assert.Equal(t, uint32(1), updated.MissingCount())

	updated.ReceivedChunks[1] = 99
	again, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, again.ReceivedIndices())

	_, err = repo.TransitionSession(ctx, memories.SessionTransition{ID: session.ID, From: memories.SessionStatusOpen, To: memories.SessionStatusFinishing, At: epoch})
	require.NoError(t, err)
	_, err = repo.TransitionSession(ctx, memories.SessionTransition{ID: session.ID, From: memories.SessionStatusOpen, To: memories.SessionStatusAborted, At: epoch})
	assert.ErrorIs(t, err, memories.ErrSessionNotOpen)
	_, err = repo.RecordChunk(ctx, session.ID, 1, 1, epoch)
	assert.ErrorIs(t, err, memories.ErrSessionNotOpen)

	done, err := repo.TransitionSession(ctx, memories.SessionTransition{
		ID: session.ID, From: memories.SessionStatusFinishing, To: memories.SessionStatusFinished, BlobID: "blob_x", At: epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "blob_x", done.BlobID)

	purged, err := repo.PurgeSessions(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	purged, err = repo.PurgeSessions(ctx, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	// The idempotency key is free again once the session is purged.
	_, created, err = repo.CreateSessionIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestListExpiredSessions(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "")

	for i, ttl := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		_, _, err := repo.CreateSessionIfAbsent(ctx, &memories.UploadSession{
			ID:             memories.NewID(memories.KindSession),
			CapsuleID:      c.ID,
			ExpectedChunks: uint32(i + 1),
			ReceivedChunks: map[uint32]int64{},
			Status:         memories.SessionStatusOpen,
			ExpiresAt:      epoch.Add(ttl),
		})
		require.NoError(t, err)
	}

	expired, err := repo.ListExpiredSessions(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, uint32(2), expired[0].ExpectedChunks)
	assert.Equal(t, uint32(3), expired[1].ExpectedChunks)
}

func TestMemories(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "")

	mem := &memories.Memory{
		ID:             memories.NewID(memories.KindMemory),
		CapsuleID:      c.ID,
		Metadata:       memories.MemoryMetadata{Title: "t"},
		InlineAssets:   []memories.InlineAsset{{AssetID: memories.NewID(memories.KindInlineAsset), Bytes: []byte("x"), Metadata: &memories.NoteMetadata{}}},
		IdempotencyKey: "once",
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
	_, created, err := repo.CreateMemoryIfAbsent(ctx, mem)
	require.NoError(t, err)
	assert.True(t, created)

	at := epoch.Add(time.Hour)
	require.NoError(t, repo.AppendExternalAsset(ctx, mem.ID, memories.ExternalAsset{
		AssetID:  memories.NewID(memories.KindExternalAsset),
		Location: memories.ExternalLocation{Provider: "https", URI: "https://example.com"},
		Metadata: &memories.DocumentMetadata{},
	}, at))
	got, err := repo.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Len(t, got.ExternalAssets, 1)
	assert.Equal(t, at, got.UpdatedAt)

	err = repo.AppendBlobAsset(ctx, "mem_missing", memories.BlobAsset{}, at)
	assert.ErrorIs(t, err, memories.ErrMemoryNotFound)

	deleted, err := repo.DeleteMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.ID, deleted.ID)
	_, err = repo.DeleteMemory(ctx, mem.ID)
	assert.ErrorIs(t, err, memories.ErrMemoryNotFound)
}

func TestListMemoriesOrdering(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "")

	// Two memories share a timestamp; ties break on id.
	ids := []string{"mem_00000000-0000-4000-8000-000000000002", "mem_00000000-0000-4000-8000-000000000001", "mem_00000000-0000-4000-8000-000000000003"}
	times := []time.Time{epoch, epoch, epoch.Add(time.Second)}
	for i := range ids {
		_, _, err := repo.CreateMemoryIfAbsent(ctx, &memories.Memory{ID: ids[i], CapsuleID: c.ID, CreatedAt: times[i], UpdatedAt: times[i]})
		require.NoError(t, err)
	}

	all, err := repo.ListMemories(ctx, memories.ListMemoriesParams{CapsuleID: c.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[1], ids[0], ids[2]}, []string{all[0].ID, all[1].ID, all[2].ID})

	rest, err := repo.ListMemories(ctx, memories.ListMemoriesParams{CapsuleID: c.ID, AfterCreatedAt: epoch, AfterID: ids[1], Limit: 1})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}

func TestBlobMeta(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	meta := &memories.BlobMeta{ID: memories.NewID(memories.KindBlob), Size: 3}
	require.NoError(t, repo.CreateBlobMeta(ctx, meta))
	assert.ErrorIs(t, repo.CreateBlobMeta(ctx, meta), memories.ErrAlreadyExists)

	got, err := repo.GetBlobMeta(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Size)

	require.NoError(t, repo.DeleteBlobMeta(ctx, meta.ID))
	assert.ErrorIs(t, repo.DeleteBlobMeta(ctx, meta.ID), memories.ErrBlobNotFound)
}

func TestMemoriesRequireBlobs(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	c := newCapsule(t, repo, "")
	meta := &memories.BlobMeta{ID: memories.NewID(memories.KindBlob), CapsuleID: c.ID, Size: 1}
	require.NoError(t, repo.CreateBlobMeta(ctx, meta))

	missing := memories.NewID(memories.KindBlob)
	_, _, err := repo.CreateMemoryIfAbsent(ctx, &memories.Memory{
		ID:         memories.NewID(memories.KindMemory),
		CapsuleID:  c.ID,
		BlobAssets: []memories.BlobAsset{{BlobRef: memories.BlobRef{Locator: meta.ID}}, {BlobRef: memories.BlobRef{Locator: missing}}},
	})
	assert.ErrorIs(t, err, memories.ErrBlobNotFound)
	all, err := repo.ListMemories(ctx, memories.ListMemoriesParams{CapsuleID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, all)

	mem := &memories.Memory{
		ID:         memories.NewID(memories.KindMemory),
		CapsuleID:  c.ID,
		BlobAssets: []memories.BlobAsset{{BlobRef: memories.BlobRef{Locator: meta.ID}}},
	}
	_, created, err := repo.CreateMemoryIfAbsent(ctx, mem)
	require.NoError(t, err)
	assert.True(t, created)

	err = repo.AppendBlobAsset(ctx, mem.ID, memories.BlobAsset{BlobRef: memories.BlobRef{Locator: missing}}, epoch)
	assert.ErrorIs(t, err, memories.ErrBlobNotFound)
	got, err := repo.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Len(t, got.BlobAssets, 1)
}
