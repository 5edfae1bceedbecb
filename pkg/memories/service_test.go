package memories_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/repo/memory"
	memorystorage "github.com/tendant/simple-memories/pkg/memories/storage/memory"
)

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []memories.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []memories.Option{},
			expectError: true,
		},
		{
			name: "repository without backend should fail",
			options: []memories.Option{
				memories.WithRepository(memory.New()),
			},
			expectError: true,
		},
		{
			name: "single backend becomes the default",
			options: []memories.Option{
				memories.WithRepository(memory.New()),
				memories.WithChunkBackend("memory", memorystorage.New()),
			},
		},
		{
			name: "two backends need an explicit default",
			options: []memories.Option{
				memories.WithRepository(memory.New()),
				memories.WithChunkBackend("a", memorystorage.New()),
				memories.WithChunkBackend("b", memorystorage.New()),
			},
			expectError: true,
		},
		{
			name: "unknown default fails",
			options: []memories.Option{
				memories.WithRepository(memory.New()),
				memories.WithChunkBackend("a", memorystorage.New()),
				memories.WithDefaultBackend("b"),
			},
			expectError: true,
		},
		{
			name: "explicit default among two",
			options: []memories.Option{
				memories.WithRepository(memory.New()),
				memories.WithChunkBackend("a", memorystorage.New()),
				memories.WithChunkBackend("b", memorystorage.New()),
				memories.WithDefaultBackend("b"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := memories.New(tt.options...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestLimitsDefaults(t *testing.T) {
	svc, err := memories.New(
		memories.WithRepository(memory.New()),
		memories.WithChunkBackend("memory", memorystorage.New()),
		memories.WithLimits(memories.Limits{MaxChunkSize: 10}),
	)
	require.NoError(t, err)

	limits := svc.Limits()
	assert.Equal(t, int64(10), limits.MaxChunkSize)
	assert.Equal(t, int64(memories.DefaultMaxInlineAssetSize), limits.MaxInlineAssetSize)
	assert.Equal(t, memories.DefaultSessionTTL, limits.SessionTTL)
	assert.Equal(t, memories.DefaultCascadeParallelism, limits.CascadeParallelism)
	assert.Equal(t, "memory", svc.DefaultBackend())
}

const (
	second = time.Second
	minute = time.Minute
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink counts lifecycle events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) add(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	return nil
}

func (r *recordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSink) CapsuleCreated(context.Context, *memories.Capsule) error {
	return r.add("capsule_created")
}

func (r *recordingSink) UploadFinished(context.Context, *memories.UploadSession, *memories.BlobMeta) error {
	return r.add("upload_finished")
}

func (r *recordingSink) UploadAborted(_ context.Context, s *memories.UploadSession) error {
	return r.add("upload_" + string(s.Status))
}

func (r *recordingSink) BlobDeleted(context.Context, string) error {
	return r.add("blob_deleted")
}

func (r *recordingSink) MemoryCreated(context.Context, *memories.Memory) error {
	return r.add("memory_created")
}

func (r *recordingSink) MemoryDeleted(context.Context, *memories.DeleteMemoryResult) error {
	return r.add("memory_deleted")
}

type fixture struct {
	svc     memories.Service
	backend *memorystorage.Backend
	clock   *fakeClock
	events  *recordingSink
}

func setup(t *testing.T, opts ...memories.Option) *fixture {
	t.Helper()
	f := &fixture{
		backend: memorystorage.New(),
		clock:   newFakeClock(),
		events:  &recordingSink{},
	}
	opts = append([]memories.Option{
		memories.WithRepository(memory.New()),
		memories.WithChunkBackend("memory", f.backend),
		memories.WithClock(f.clock.Now),
		memories.WithEventSink(f.events),
	}, opts...)
	svc, err := memories.New(opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) capsule(t *testing.T) *memories.Capsule {
	t.Helper()
	c, err := f.svc.CreateCapsule(context.Background(), "")
	require.NoError(t, err)
	return c
}

// upload runs a complete session with one chunk per element of chunks.
func (f *fixture) upload(t *testing.T, capsuleID string, chunks ...[]byte) *memories.FinishResult {
	t.Helper()
	ctx := context.Background()
	session, err := f.svc.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsuleID, ExpectedChunks: uint32(len(chunks))})
	require.NoError(t, err)

	var all []byte
	for i, c := range chunks {
		_, err := f.svc.PutChunk(ctx, memories.PutChunkRequest{SessionID: session.ID, Index: uint32(i), Data: c})
		require.NoError(t, err)
		all = append(all, c...)
	}
	result, err := f.svc.FinishUpload(ctx, memories.FinishUploadRequest{
		SessionID:   session.ID,
		SHA256:      memories.SumDigest(all),
		TotalLength: int64(len(all)),
	})
	require.NoError(t, err)
	return result
}

func TestCapsules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateCapsule(ctx, "  dana ")
	require.NoError(t, err)
	assert.Equal(t, "dana", c.Owner)
	assert.Equal(t, memories.KindCapsule, memories.ClassifyID(c.ID))

	_, err = f.svc.CreateCapsule(ctx, "dana")
	assert.ErrorIs(t, err, memories.ErrAlreadyExists)

	resolved, err := f.svc.CapsuleForOwner(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, c.ID, resolved.ID)

	fresh, err := f.svc.CapsuleForOwner(ctx, "erin")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, fresh.ID)

	_, err = f.svc.CapsuleForOwner(ctx, " ")
	assert.ErrorIs(t, err, memories.ErrInvalidArgument)

	got, err := f.svc.GetCapsule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = f.svc.GetCapsule(ctx, memories.NewID(memories.KindCapsule))
	assert.ErrorIs(t, err, memories.ErrCapsuleNotFound)

	_, err = f.svc.GetCapsule(ctx, memories.NewID(memories.KindMemory))
	assert.ErrorIs(t, err, memories.ErrInvalidArgument)

	assert.Equal(t, []string{"capsule_created", "capsule_created"}, f.events.Events())
}
