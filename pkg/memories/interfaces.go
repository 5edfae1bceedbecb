package memories

import (
	"context"
	"time"
)

// ChunkBackend defines the interface for chunk payload storage backends.
// Keys are slash separated paths produced by SessionChunkKey and BlobChunkKey.
type ChunkBackend interface {
	// PutChunk stores data under key, replacing any previous payload
	PutChunk(ctx context.Context, key string, data []byte) error

	// GetChunk returns the payload stored under key or ErrChunkNotFound
	GetChunk(ctx context.Context, key string) ([]byte, error)

	// DeleteChunk removes a single payload. Missing keys are not an error.
	DeleteChunk(ctx context.Context, key string) error

	// DeletePrefix removes every payload whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// Location describes where the payloads under prefix live, e.g. "s3://bucket/blobs/ab/blob_x/"
	Location(prefix string) string
}

// Repository defines the interface for capsule, session, blob and memory persistence.
// Implementations must return copies so callers cannot mutate stored records.
type Repository interface {
	// Capsule operations
	CreateCapsule(ctx context.Context, capsule *Capsule) error
	GetCapsule(ctx context.Context, id string) (*Capsule, error)
	// GetOrCreateCapsuleByOwner returns the capsule owned by candidate.Owner,
	// inserting candidate when none exists. The bool reports an insert.
	GetOrCreateCapsuleByOwner(ctx context.Context, candidate *Capsule) (*Capsule, bool, error)

	// Upload session operations
	// CreateSessionIfAbsent inserts session unless one with the same
	// (CapsuleID, IdempotencyKey) exists, in which case the existing one is
	// returned. The bool reports an insert. An empty key always inserts.
	CreateSessionIfAbsent(ctx context.Context, session *UploadSession) (*UploadSession, bool, error)
	GetSession(ctx context.Context, id string) (*UploadSession, error)
	// RecordChunk marks index as received with the given size. Fails with
	// ErrSessionNotOpen unless the session is open.
	RecordChunk(ctx context.Context, sessionID string, index uint32, size int64, at time.Time) (*UploadSession, error)
	// TransitionSession atomically moves a session from t.From to t.To.
	// Fails with ErrSessionNotOpen when the current status is not t.From.
	TransitionSession(ctx context.Context, t SessionTransition) (*UploadSession, error)
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*UploadSession, error)
	// PurgeSessions deletes terminal sessions last updated before the cutoff
	PurgeSessions(ctx context.Context, before time.Time) (int, error)

	// Blob metadata operations
	CreateBlobMeta(ctx context.Context, meta *BlobMeta) error
	GetBlobMeta(ctx context.Context, id string) (*BlobMeta, error)
	DeleteBlobMeta(ctx context.Context, id string) error

	// Memory operations
	// CreateMemoryIfAbsent behaves like CreateSessionIfAbsent, keyed on
	// (CapsuleID, IdempotencyKey). A new memory is stored only if every blob it
	// references still exists at that moment; otherwise ErrBlobNotFound.
	CreateMemoryIfAbsent(ctx context.Context, memory *Memory) (*Memory, bool, error)
	GetMemory(ctx context.Context, id string) (*Memory, error)
	ListMemories(ctx context.Context, params ListMemoriesParams) ([]*Memory, error)
	// AppendBlobAsset fails with ErrBlobNotFound if the referenced blob is gone
	// when the asset would be stored.
	AppendBlobAsset(ctx context.Context, memoryID string, asset BlobAsset, at time.Time) error
	AppendInlineAsset(ctx context.Context, memoryID string, asset InlineAsset, at time.Time) error
	AppendExternalAsset(ctx context.Context, memoryID string, asset ExternalAsset, at time.Time) error
	UpdateMemoryMetadata(ctx context.Context, memoryID string, metadata MemoryMetadata, at time.Time) (*Memory, error)
	// DeleteMemory removes the memory together with its idempotency mapping
	// and returns the record as it was.
	DeleteMemory(ctx context.Context, id string) (*Memory, error)
}

// EventSink defines the interface for lifecycle event handling
type EventSink interface {
	// CapsuleCreated is fired when a capsule is created
	CapsuleCreated(ctx context.Context, capsule *Capsule) error

	// UploadFinished is fired after a session was committed into a blob
	UploadFinished(ctx context.Context, session *UploadSession, blob *BlobMeta) error

	// UploadAborted is fired when a session is aborted or expires
	UploadAborted(ctx context.Context, session *UploadSession) error

	// BlobDeleted is fired when a blob is deleted
	BlobDeleted(ctx context.Context, blobID string) error

	// MemoryCreated is fired when a memory is created
	MemoryCreated(ctx context.Context, memory *Memory) error

	// MemoryDeleted is fired when a memory is deleted
	MemoryDeleted(ctx context.Context, result *DeleteMemoryResult) error
}

// Observer receives timing and size measurements from the service.
type Observer interface {
	ObserveChunk(backend string, size int64, d time.Duration, err error)
	ObserveFinish(backend string, size int64, d time.Duration, err error)
	ObserveBlobDelete(d time.Duration, err error)
	ObserveMemoryDelete(cascade bool, blobs int, d time.Duration, err error)
}

// SessionTransition is a compare-and-set on an upload session status.
type SessionTransition struct {
	ID     string
	From   SessionStatus
	To     SessionStatus
	BlobID string // set when To is SessionStatusFinished
	At     time.Time
}

// ListMemoriesParams selects one page of a capsule's memories ordered by
// (CreatedAt, ID). The page starts strictly after the (AfterCreatedAt, AfterID) position.
type ListMemoriesParams struct {
	CapsuleID      string
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}
