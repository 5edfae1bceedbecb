package memories

import (
	"fmt"
	"strings"
)

// Chunk keys are laid out in two namespaces:
//
//	sessions/{session_id}/{index:08d}
//	blobs/{shard}/{blob_id}/{index:08d}
//
// where shard is the first two hex characters of the blob's UUID.
const (
	sessionNamespace = "sessions"
	blobNamespace    = "blobs"
	shardLength      = 2
)

// SessionPrefix returns the key prefix holding a session's chunks.
func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("%s/%s/", sessionNamespace, sessionID)
}

// SessionChunkKey returns the key of chunk index in a session.
func SessionChunkKey(sessionID string, index uint32) string {
	return fmt.Sprintf("%s%08d", SessionPrefix(sessionID), index)
}

// BlobPrefix returns the key prefix holding a blob's chunks.
func BlobPrefix(blobID string) string {
	return fmt.Sprintf("%s/%s/%s/", blobNamespace, shardOf(blobID), blobID)
}

// BlobChunkKey returns the key of chunk index in a blob.
func BlobChunkKey(blobID string, index uint32) string {
	return fmt.Sprintf("%s%08d", BlobPrefix(blobID), index)
}

func shardOf(id string) string {
	_, rest, ok := strings.Cut(id, "_")
	if !ok {
		rest = id
	}
	rest = strings.ReplaceAll(rest, "-", "")
	if len(rest) < shardLength {
		return "00"
	}
	return rest[:shardLength]
}
