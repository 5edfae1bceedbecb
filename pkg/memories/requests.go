package memories

// Request/Response DTOs

// BeginUploadRequest contains parameters for starting an upload session.
// An empty IdempotencyKey disables deduplication.
type BeginUploadRequest struct {
	CapsuleID      string `json:"capsule_id"`
	ExpectedChunks uint32 `json:"expected_chunks"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PutChunkRequest carries one chunk of an upload.
type PutChunkRequest struct {
	SessionID string
	Index     uint32
	Data      []byte
}

// FinishUploadRequest contains the declared integrity values for an upload.
// When Memory is set, a memory wrapping the new blob is created in the same call.
type FinishUploadRequest struct {
	SessionID   string             `json:"session_id"`
	SHA256      Digest             `json:"sha256"`
	TotalLength int64              `json:"total_length"`
	Memory      *FinishMemoryInput `json:"memory,omitempty"`
}

// FinishMemoryInput describes the memory created around a freshly committed blob.
type FinishMemoryInput struct {
	Metadata       MemoryMetadata `json:"metadata"`
	AssetMetadata  AssetMetadata  `json:"-"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// BlobAssetInput references a committed blob to attach to a memory.
type BlobAssetInput struct {
	BlobID   string
	Metadata AssetMetadata
}

// InlineAssetInput carries a small payload stored inside the memory record.
type InlineAssetInput struct {
	Bytes    []byte
	Metadata AssetMetadata
}

// ExternalAssetInput references bytes hosted by an external provider.
type ExternalAssetInput struct {
	Location ExternalLocation
	Metadata AssetMetadata
}

// CreateMemoryRequest contains parameters for creating a memory.
// At least one asset of any kind is required.
type CreateMemoryRequest struct {
	CapsuleID      string
	Metadata       MemoryMetadata
	BlobAssets     []BlobAssetInput
	InlineAssets   []InlineAssetInput
	ExternalAssets []ExternalAssetInput
	IdempotencyKey string
}

// ListMemoriesRequest selects a page of a capsule's memories.
// Limit defaults to 50 and is capped at 100.
type ListMemoriesRequest struct {
	CapsuleID string
	Cursor    string
	Limit     int
}
