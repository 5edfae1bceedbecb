package api

import (
	"github.com/tendant/simple-memories/pkg/memories"
)

// TaggedMetadata carries asset metadata in its {"kind", "data"} envelope.
// A missing or null value decodes to nil.
type TaggedMetadata struct {
	Value memories.AssetMetadata
}

// Tag wraps m for a request body.
func Tag(m memories.AssetMetadata) TaggedMetadata {
	return TaggedMetadata{Value: m}
}

func (t TaggedMetadata) MarshalJSON() ([]byte, error) {
	return memories.MarshalAssetMetadata(t.Value)
}

func (t *TaggedMetadata) UnmarshalJSON(b []byte) error {
	m, err := memories.UnmarshalAssetMetadata(b)
	if err != nil {
		return err
	}
	t.Value = m
	return nil
}

// CreateCapsuleRequest is the request body for creating a capsule
type CreateCapsuleRequest struct {
	Owner string `json:"owner,omitempty"`
}

// ResolveCapsuleRequest names the owner whose capsule is returned, created on
// first use. With bearer auth enabled the token subject is used when Owner is empty.
type ResolveCapsuleRequest struct {
	Owner string `json:"owner,omitempty"`
}

// FinishUploadRequest is the request body for finishing an upload
type FinishUploadRequest struct {
	SHA256      memories.Digest      `json:"sha256"`
	TotalLength int64                `json:"total_length"`
	Memory      *FinishMemoryRequest `json:"memory,omitempty"`
}

// FinishMemoryRequest asks finish to wrap the new blob in a memory
type FinishMemoryRequest struct {
	Metadata       memories.MemoryMetadata `json:"metadata"`
	AssetMetadata  TaggedMetadata          `json:"asset_metadata"`
	IdempotencyKey string                  `json:"idempotency_key,omitempty"`
}

// BlobAssetRequest attaches a committed blob
type BlobAssetRequest struct {
	BlobID   string         `json:"blob_id"`
	Metadata TaggedMetadata `json:"metadata"`
}

// InlineAssetRequest attaches a small payload; Bytes is base64 in JSON
type InlineAssetRequest struct {
	Bytes    []byte         `json:"bytes"`
	Metadata TaggedMetadata `json:"metadata"`
}

// ExternalAssetRequest attaches externally hosted bytes
type ExternalAssetRequest struct {
	Location memories.ExternalLocation `json:"location"`
	Metadata TaggedMetadata            `json:"metadata"`
}

// CreateMemoryRequest is the request body for creating a memory
type CreateMemoryRequest struct {
	CapsuleID      string                  `json:"capsule_id"`
	Metadata       memories.MemoryMetadata `json:"metadata"`
	BlobAssets     []BlobAssetRequest      `json:"blob_assets,omitempty"`
	InlineAssets   []InlineAssetRequest    `json:"inline_assets,omitempty"`
	ExternalAssets []ExternalAssetRequest  `json:"external_assets,omitempty"`
	IdempotencyKey string                  `json:"idempotency_key,omitempty"`
}

// AssetResponse returns the id of an appended asset
type AssetResponse struct {
	AssetID string `json:"asset_id"`
}

func (r FinishUploadRequest) toService(sessionID string) memories.FinishUploadRequest {
	req := memories.FinishUploadRequest{
		SessionID:   sessionID,
		SHA256:      r.SHA256,
		TotalLength: r.TotalLength,
	}
	if r.Memory != nil {
		req.Memory = &memories.FinishMemoryInput{
			Metadata:       r.Memory.Metadata,
			AssetMetadata:  r.Memory.AssetMetadata.Value,
			IdempotencyKey: r.Memory.IdempotencyKey,
		}
	}
	return req
}

func (r CreateMemoryRequest) toService() memories.CreateMemoryRequest {
	req := memories.CreateMemoryRequest{
		CapsuleID:      r.CapsuleID,
		Metadata:       r.Metadata,
		IdempotencyKey: r.IdempotencyKey,
	}
	for _, a := range r.BlobAssets {
		req.BlobAssets = append(req.BlobAssets, a.toService())
	}
	for _, a := range r.InlineAssets {
		req.InlineAssets = append(req.InlineAssets, a.toService())
	}
	for _, a := range r.ExternalAssets {
		req.ExternalAssets = append(req.ExternalAssets, a.toService())
	}
	return req
}

func (a BlobAssetRequest) toService() memories.BlobAssetInput {
	return memories.BlobAssetInput{BlobID: a.BlobID, Metadata: a.Metadata.Value}
}

func (a InlineAssetRequest) toService() memories.InlineAssetInput {
	return memories.InlineAssetInput{Bytes: a.Bytes, Metadata: a.Metadata.Value}
}

func (a ExternalAssetRequest) toService() memories.ExternalAssetInput {
	return memories.ExternalAssetInput{Location: a.Location, Metadata: a.Metadata.Value}
}
