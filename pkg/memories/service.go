package memories

import (
	"context"
)

// Service defines the main interface for the simple-memories library
type Service interface {
	// Capsule operations
	CreateCapsule(ctx context.Context, owner string) (*Capsule, error)
	CapsuleForOwner(ctx context.Context, owner string) (*Capsule, error)
	GetCapsule(ctx context.Context, id string) (*Capsule, error)

	// Upload session operations
	BeginUpload(ctx context.Context, req BeginUploadRequest) (*UploadSession, error)
	PutChunk(ctx context.Context, req PutChunkRequest) (*UploadSession, error)
	FinishUpload(ctx context.Context, req FinishUploadRequest) (*FinishResult, error)
	AbortUpload(ctx context.Context, sessionID string) (*UploadSession, error)
	GetUpload(ctx context.Context, sessionID string) (*UploadSession, error)
	ReapExpiredSessions(ctx context.Context) (*ReapResult, error)

	// Blob operations
	GetBlobMeta(ctx context.Context, blobID string) (*BlobMeta, error)
	ReadBlob(ctx context.Context, blobID string) ([]byte, error)
	ReadBlobChunk(ctx context.Context, blobID string, index uint32) ([]byte, error)
	DeleteBlob(ctx context.Context, blobID string) error

	// Memory operations
	CreateMemory(ctx context.Context, req CreateMemoryRequest) (*Memory, error)
	AddBlobAsset(ctx context.Context, memoryID string, in BlobAssetInput) (string, error)
	AddInlineAsset(ctx context.Context, memoryID string, in InlineAssetInput) (string, error)
	AddExternalAsset(ctx context.Context, memoryID string, in ExternalAssetInput) (string, error)
	GetMemory(ctx context.Context, memoryID string) (*Memory, error)
	UpdateMemoryMetadata(ctx context.Context, memoryID string, metadata MemoryMetadata) (*Memory, error)
	DeleteMemory(ctx context.Context, memoryID string, cascade bool) (*DeleteMemoryResult, error)
	ListMemories(ctx context.Context, req ListMemoriesRequest) (*MemoryPage, error)

	// Storage backend operations
	DefaultBackend() string
	Limits() Limits
}
