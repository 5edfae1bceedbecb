package memories

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Digest is a SHA-256 hash.
type Digest [sha256.Size]byte

// SumDigest hashes data.
func SumDigest(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// ParseDigest decodes a hex encoded SHA-256 hash.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, invalidArgument("sha256 is not hex: %v", err)
	}
	if len(raw) != sha256.Size {
		return d, invalidArgument("sha256 must be %d bytes, got %d", sha256.Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText encodes the digest as lowercase hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Capsule is the identity-scoped namespace that owns sessions and memories.
type Capsule struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

// Session status constants.
//
// Finishing is held only while a single finish call commits the chunks.
// Expired is written by the timeout-triggered abort.
const (
	SessionStatusOpen      SessionStatus = "open"
	SessionStatusFinishing SessionStatus = "finishing"
	SessionStatusFinished  SessionStatus = "finished"
	SessionStatusAborted   SessionStatus = "aborted"
	SessionStatusExpired   SessionStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusFinished, SessionStatusAborted, SessionStatusExpired:
		return true
	}
	return false
}

// UploadSession tracks chunk ingestion for one logical file.
type UploadSession struct {
	ID             string           `json:"id"`
	CapsuleID      string           `json:"capsule_id"`
	ExpectedChunks uint32           `json:"expected_chunks"`
	ReceivedChunks map[uint32]int64 `json:"received_chunks"` // index -> size of the latest write
	BytesReceived  int64            `json:"bytes_received"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Status         SessionStatus    `json:"status"`
	BlobID         string           `json:"blob_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// MissingCount returns how many indices in [0, ExpectedChunks) have not been
// written. Only in-range indices are ever recorded.
func (s *UploadSession) MissingCount() uint32 {
	received := uint32(len(s.ReceivedChunks))
	if received >= s.ExpectedChunks {
		return 0
	}
	return s.ExpectedChunks - received
}

// FirstMissingChunk returns the lowest index not yet written, or false when
// every expected chunk is present.
func (s *UploadSession) FirstMissingChunk() (uint32, bool) {
	if s.MissingCount() == 0 {
		return 0, false
	}
	for i := uint32(0); i < s.ExpectedChunks; i++ {
		if _, ok := s.ReceivedChunks[i]; !ok {
			return i, true
		}
	}
	return 0, false
}

// ReceivedIndices returns the written chunk indices in ascending order.
func (s *UploadSession) ReceivedIndices() []uint32 {
	indices := make([]uint32, 0, len(s.ReceivedChunks))
	for i := range s.ReceivedChunks {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	return indices
}

// Clone returns a deep copy.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	c.ReceivedChunks = make(map[uint32]int64, len(s.ReceivedChunks))
	for k, v := range s.ReceivedChunks {
		c.ReceivedChunks[k] = v
	}
	return &c
}

// BlobMeta describes a committed blob.
type BlobMeta struct {
	ID         string    `json:"id"`
	CapsuleID  string    `json:"capsule_id"`
	Size       int64     `json:"size"`
	ChunkCount uint32    `json:"chunk_count"`
	SHA256     Digest    `json:"sha256"`
	Backend    string    `json:"backend"`
	CreatedAt  time.Time `json:"created_at"`
}

// BlobRef is the value a memory keeps for a blob-backed asset.
type BlobRef struct {
	Locator string `json:"locator"` // blob id
	Length  int64  `json:"length"`
	SHA256  Digest `json:"sha256"`
}

// BlobAsset is an asset whose bytes live in the blob store.
type BlobAsset struct {
	AssetID  string        `json:"asset_id"`
	BlobRef  BlobRef       `json:"blob_ref"`
	Metadata AssetMetadata `json:"metadata"`
}

// InlineAsset is a small asset stored inside the memory record.
type InlineAsset struct {
	AssetID  string        `json:"asset_id"`
	Bytes    []byte        `json:"bytes"`
	Metadata AssetMetadata `json:"metadata"`
}

// ExternalLocation points at bytes hosted outside this system.
type ExternalLocation struct {
	Provider string `json:"provider"` // e.g. "s3", "https"
	URI      string `json:"uri"`
}

// ExternalAsset is an asset hosted by an external provider.
type ExternalAsset struct {
	AssetID  string           `json:"asset_id"`
	Location ExternalLocation `json:"location"`
	Metadata AssetMetadata    `json:"metadata"`
}

// MemoryKind classifies a memory as a whole.
type MemoryKind string

// Memory kind constants.
const (
	MemoryKindImage    MemoryKind = "image"
	MemoryKindDocument MemoryKind = "document"
	MemoryKindAudio    MemoryKind = "audio"
	MemoryKindVideo    MemoryKind = "video"
	MemoryKindNote     MemoryKind = "note"
)

// MemoryMetadata is the descriptive metadata shared by every asset of a memory.
type MemoryMetadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Kind        MemoryKind        `json:"kind,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	OccurredAt  *time.Time        `json:"occurred_at,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (m MemoryMetadata) clone() MemoryMetadata {
	c := m
	c.Tags = append([]string(nil), m.Tags...)
	if m.OccurredAt != nil {
		t := *m.OccurredAt
		c.OccurredAt = &t
	}
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Memory aggregates assets under shared metadata.
type Memory struct {
	ID             string          `json:"id"`
	CapsuleID      string          `json:"capsule_id"`
	Metadata       MemoryMetadata  `json:"metadata"`
	BlobAssets     []BlobAsset     `json:"blob_assets"`
	InlineAssets   []InlineAsset   `json:"inline_assets"`
	ExternalAssets []ExternalAsset `json:"external_assets"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AssetCount returns the number of assets of every kind.
func (m *Memory) AssetCount() int {
	return len(m.BlobAssets) + len(m.InlineAssets) + len(m.ExternalAssets)
}

// BlobIDs returns the distinct blob locators referenced by the memory, in asset order.
func (m *Memory) BlobIDs() []string {
	seen := make(map[string]bool, len(m.BlobAssets))
	var ids []string
	for _, a := range m.BlobAssets {
		if seen[a.BlobRef.Locator] {
			continue
		}
		seen[a.BlobRef.Locator] = true
		ids = append(ids, a.BlobRef.Locator)
	}
	return ids
}

// Clone returns a deep copy.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Metadata = m.Metadata.clone()
	c.BlobAssets = make([]BlobAsset, len(m.BlobAssets))
	for i, a := range m.BlobAssets {
		a.Metadata = CloneAssetMetadata(a.Metadata)
		c.BlobAssets[i] = a
	}
	c.InlineAssets = make([]InlineAsset, len(m.InlineAssets))
	for i, a := range m.InlineAssets {
		a.Bytes = append([]byte(nil), a.Bytes...)
		a.Metadata = CloneAssetMetadata(a.Metadata)
		c.InlineAssets[i] = a
	}
	c.ExternalAssets = make([]ExternalAsset, len(m.ExternalAssets))
	for i, a := range m.ExternalAssets {
		a.Metadata = CloneAssetMetadata(a.Metadata)
		c.ExternalAssets[i] = a
	}
	return &c
}

// MemoryPage is one page of a capsule's memories.
type MemoryPage struct {
	Items      []*Memory `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// FinishResult is returned by a successful finish.
type FinishResult struct {
	BlobID          string `json:"blob_id"`
	MemoryID        string `json:"memory_id,omitempty"`
	Size            int64  `json:"size"`
	ChunkCount      uint32 `json:"chunk_count"`
	SHA256          Digest `json:"sha256"`
	StorageLocation string `json:"storage_location"`
}

// BlobFailure records a blob that could not be removed during cascade deletion.
type BlobFailure struct {
	BlobID string `json:"blob_id"`
	Err    error  `json:"-"`
}

type blobFailureJSON struct {
	BlobID string `json:"blob_id"`
	Error  string `json:"error"`
}

// MarshalJSON includes the error text.
func (f BlobFailure) MarshalJSON() ([]byte, error) {
	out := blobFailureJSON{BlobID: f.BlobID}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the error text as an opaque error.
func (f *BlobFailure) UnmarshalJSON(b []byte) error {
	var in blobFailureJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	f.BlobID = in.BlobID
	f.Err = nil
	if in.Error != "" {
		f.Err = errors.New(in.Error)
	}
	return nil
}

// DeleteMemoryResult reports the outcome of a memory deletion.
type DeleteMemoryResult struct {
	MemoryID     string        `json:"memory_id"`
	CapsuleID    string        `json:"capsule_id"`
	Cascade      bool          `json:"cascade"`
	DeletedBlobs []string      `json:"deleted_blobs,omitempty"`
	BlobFailures []BlobFailure `json:"blob_failures,omitempty"`
}

// ReapResult reports what a sweep of expired sessions did.
type ReapResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}
