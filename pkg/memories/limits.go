package memories

import (
	"math"
	"time"
)

// Default limits.
const (
	DefaultMaxChunkSize       = 1_800_000
	DefaultMaxInlineAssetSize = 32 << 10
	DefaultMaxBlobReadSize    = 16 << 20
	DefaultSessionTTL         = 24 * time.Hour
	DefaultCascadeParallelism = 4
	DefaultListLimit          = 50
	MaxListLimit              = 100
)

// Limits bounds payload sizes, session lifetime and fan-out.
type Limits struct {
	MaxChunkSize       int64         `json:"max_chunk_size"`
	MaxInlineAssetSize int64         `json:"max_inline_asset_size"`
	MaxBlobReadSize    int64         `json:"max_blob_read_size"`
	SessionTTL         time.Duration `json:"session_ttl"`
	CascadeParallelism int           `json:"cascade_parallelism"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxChunkSize:       DefaultMaxChunkSize,
		MaxInlineAssetSize: DefaultMaxInlineAssetSize,
		MaxBlobReadSize:    DefaultMaxBlobReadSize,
		SessionTTL:         DefaultSessionTTL,
		CascadeParallelism: DefaultCascadeParallelism,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxChunkSize <= 0 {
		l.MaxChunkSize = d.MaxChunkSize
	}
	if l.MaxInlineAssetSize <= 0 {
		l.MaxInlineAssetSize = d.MaxInlineAssetSize
	}
	if l.MaxBlobReadSize <= 0 {
		l.MaxBlobReadSize = d.MaxBlobReadSize
	}
	if l.SessionTTL <= 0 {
		l.SessionTTL = d.SessionTTL
	}
	if l.CascadeParallelism <= 0 {
		l.CascadeParallelism = d.CascadeParallelism
	}
	return l
}

// ExpectedChunks returns ceil(totalSize / chunkSize), the chunk count a client
// announces when it begins an upload. A non-positive chunkSize uses
// DefaultMaxChunkSize. Counts past math.MaxUint32 are clamped to it; such a
// total cannot be uploaded at that chunk size.
func ExpectedChunks(totalSize, chunkSize int64) uint32 {
	if chunkSize <= 0 {
		chunkSize = DefaultMaxChunkSize
	}
	if totalSize <= 0 {
		return 0
	}
	n := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		n++
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
