package client_test

import (
	"bytes"
	"context"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/api"
	"github.com/tendant/simple-memories/pkg/memories/client"
	"github.com/tendant/simple-memories/pkg/memories/repo/memory"
	memorystorage "github.com/tendant/simple-memories/pkg/memories/storage/memory"
)

func setup(t *testing.T, cfg api.RouterConfig, opts ...client.ClientOption) (*client.Client, memories.Service) {
	t.Helper()
	svc, err := memories.New(
		memories.WithRepository(memory.New()),
		memories.WithChunkBackend("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	cfg.Service = svc
	handler, err := api.NewRouter(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]client.ClientOption{client.WithRetry(1, 0)}, opts...)
	return client.NewClient(srv.URL, opts...), svc
}

func TestUploadFile(t *testing.T) {
	var progress []int64
	c, _ := setup(t, api.RouterConfig{},
		client.WithChunkSize(4),
		client.WithProgress(func(sent, total int64) { progress = append(progress, sent) }),
	)
	ctx := context.Background()

	capsule, err := c.CreateCapsule(ctx, "alice")
	require.NoError(t, err)

	payload := []byte("hello, memories")
	result, err := c.UploadFile(ctx, capsule.ID, bytes.NewReader(payload), int64(len(payload)), &api.FinishMemoryRequest{
		Metadata: memories.MemoryMetadata{Title: "greeting", Kind: memories.MemoryKindNote},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), result.Size)
	assert.Equal(t, uint32(4), result.ChunkCount)
	assert.Equal(t, memories.SumDigest(payload), result.SHA256)
	assert.Equal(t, []int64{4, 8, 12, 15}, progress)
	require.NotEmpty(t, result.MemoryID)

	data, err := c.ReadBlob(ctx, result.BlobID)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	chunk, err := c.ReadBlobChunk(ctx, result.BlobID, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ies"), chunk)

	meta, err := c.GetBlob(ctx, result.BlobID)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID, meta.CapsuleID)

	mem, err := c.GetMemory(ctx, result.MemoryID)
	require.NoError(t, err)
	require.Len(t, mem.BlobAssets, 1)
	assert.Equal(t, result.BlobID, mem.BlobAssets[0].BlobRef.Locator)
	assert.Equal(t, "greeting", mem.Metadata.Title)
}

func TestUploadFileEmpty(t *testing.T) {
	c, _ := setup(t, api.RouterConfig{})
	capsule, err := c.CreateCapsule(context.Background(), "")
	require.NoError(t, err)

	_, err = c.UploadFile(context.Background(), capsule.ID, bytes.NewReader(nil), 0, nil)
	assert.ErrorIs(t, err, memories.ErrExpectedChunksZero)
}

func TestUploadFileTooManyChunks(t *testing.T) {
	c, _ := setup(t, api.RouterConfig{}, client.WithChunkSize(1))
	capsule, err := c.CreateCapsule(context.Background(), "")
	require.NoError(t, err)

	_, err = c.UploadFile(context.Background(), capsule.ID, bytes.NewReader(nil), math.MaxUint32+1, nil)
	assert.ErrorIs(t, err, memories.ErrPayloadTooLarge)
}

func TestMemoryRoundTrip(t *testing.T) {
	c, _ := setup(t, api.RouterConfig{})
	ctx := context.Background()

	capsule, err := c.ResolveCapsule(ctx, "bob")
	require.NoError(t, err)
	again, err := c.ResolveCapsule(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, capsule.ID, again.ID)

	mem, err := c.CreateMemory(ctx, api.CreateMemoryRequest{
		CapsuleID: capsule.ID,
		Metadata:  memories.MemoryMetadata{Title: "shopping list", Kind: memories.MemoryKindNote},
		InlineAssets: []api.InlineAssetRequest{{
			Bytes:    []byte("milk"),
			Metadata: api.Tag(&memories.NoteMetadata{AssetBase: memories.AssetBase{Name: "list.txt", MimeType: "text/plain"}}),
		}},
	})
	require.NoError(t, err)
	require.Len(t, mem.InlineAssets, 1)

	assetID, err := c.AddExternalAsset(ctx, mem.ID, api.ExternalAssetRequest{
		Location: memories.ExternalLocation{Provider: "https", URI: "https://example.com/list.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, memories.KindExternalAsset, memories.ClassifyID(assetID))

	updated, err := c.UpdateMemoryMetadata(ctx, mem.ID, memories.MemoryMetadata{Title: "groceries", Kind: memories.MemoryKindNote})
	require.NoError(t, err)
	assert.Equal(t, "groceries", updated.Metadata.Title)
	assert.Len(t, updated.ExternalAssets, 1)

	page, err := c.ListMemories(ctx, capsule.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mem.ID, page.Items[0].ID)

	result, err := c.DeleteMemory(ctx, mem.ID, true)
	require.NoError(t, err)
	assert.Equal(t, mem.ID, result.MemoryID)

	_, err = c.GetMemory(ctx, mem.ID)
	assert.ErrorIs(t, err, memories.ErrNotFound)
}

func TestAPIErrors(t *testing.T) {
	c, _ := setup(t, api.RouterConfig{}, client.WithChunkSize(4))
	ctx := context.Background()

	_, err := c.GetCapsule(ctx, memories.NewID(memories.KindCapsule))
	assert.ErrorIs(t, err, memories.ErrNotFound)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)

	_, err = c.GetMemory(ctx, memories.NewID(memories.KindBlob))
	assert.ErrorIs(t, err, memories.ErrInvalidArgument)

	capsule, err := c.CreateCapsule(ctx, "")
	require.NoError(t, err)
	session, err := c.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 2})
	require.NoError(t, err)
	_, err = c.PutChunk(ctx, session.ID, 0, []byte("abcd"))
	require.NoError(t, err)

	_, err = c.FinishUpload(ctx, session.ID, api.FinishUploadRequest{SHA256: memories.SumDigest([]byte("abcd")), TotalLength: 4})
	assert.ErrorIs(t, err, memories.ErrIncompleteUpload)

	_, err = c.PutChunk(ctx, session.ID, 1, []byte("efgh"))
	require.NoError(t, err)
	_, err = c.FinishUpload(ctx, session.ID, api.FinishUploadRequest{SHA256: memories.SumDigest([]byte("nope")), TotalLength: 8})
	assert.ErrorIs(t, err, memories.ErrHashMismatch)

	aborted, err := c.AbortUpload(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, memories.SessionStatusAborted, aborted.Status)

	_, err = c.PutChunk(ctx, session.ID, 0, []byte("abcd"))
	assert.ErrorIs(t, err, memories.ErrSessionNotOpen)
}

func TestWithToken(t *testing.T) {
	const secret = "client-secret"
	_, token, err := api.NewTokenAuth(secret).Encode(map[string]interface{}{"sub": "carol"})
	require.NoError(t, err)

	anonymous, _ := setup(t, api.RouterConfig{JWTSecret: secret})
	_, err = anonymous.ResolveCapsule(context.Background(), "")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)

	c, _ := setup(t, api.RouterConfig{JWTSecret: secret}, client.WithToken(token))
	capsule, err := c.ResolveCapsule(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "carol", capsule.Owner)
}

func TestPutChunkDoesNotRetryClientErrors(t *testing.T) {
	c, _ := setup(t, api.RouterConfig{}, client.WithRetry(3, time.Hour))
	ctx := context.Background()

	capsule, err := c.CreateCapsule(ctx, "")
	require.NoError(t, err)
	session, err := c.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsule.ID, ExpectedChunks: 1})
	require.NoError(t, err)

	// Client errors are not retried, so the hour-long delay is never hit.
	_, err = c.PutChunk(ctx, session.ID, 5, []byte("x"))
	assert.ErrorIs(t, err, memories.ErrInvalidArgument)
}
