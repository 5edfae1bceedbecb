package memories

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// CapsuleCreated does nothing and returns nil
func (n *NoopEventSink) CapsuleCreated(ctx context.Context, capsule *Capsule) error {
	return nil
}

// UploadFinished does nothing and returns nil
func (n *NoopEventSink) UploadFinished(ctx context.Context, session *UploadSession, blob *BlobMeta) error {
	return nil
}

// UploadAborted does nothing and returns nil
func (n *NoopEventSink) UploadAborted(ctx context.Context, session *UploadSession) error {
	return nil
}

// BlobDeleted does nothing and returns nil
func (n *NoopEventSink) BlobDeleted(ctx context.Context, blobID string) error {
	return nil
}

// MemoryCreated does nothing and returns nil
func (n *NoopEventSink) MemoryCreated(ctx context.Context, memory *Memory) error {
	return nil
}

// MemoryDeleted does nothing and returns nil
func (n *NoopEventSink) MemoryDeleted(ctx context.Context, result *DeleteMemoryResult) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// CapsuleCreated logs the capsule creation event
func (l *LoggingEventSink) CapsuleCreated(ctx context.Context, capsule *Capsule) error {
	l.logger.InfoContext(ctx, "capsule created", "capsule_id", capsule.ID, "owner", capsule.Owner)
	return nil
}

// UploadFinished logs the committed blob
func (l *LoggingEventSink) UploadFinished(ctx context.Context, session *UploadSession, blob *BlobMeta) error {
	l.logger.InfoContext(ctx, "upload finished",
		"session_id", session.ID,
		"capsule_id", session.CapsuleID,
		"blob_id", blob.ID,
		"size", blob.Size,
		"chunks", blob.ChunkCount,
		"backend", blob.Backend)
	return nil
}

// UploadAborted logs aborted and expired sessions
func (l *LoggingEventSink) UploadAborted(ctx context.Context, session *UploadSession) error {
	l.logger.InfoContext(ctx, "upload aborted",
		"session_id", session.ID,
		"status", session.Status,
		"received_chunks", len(session.ReceivedChunks))
	return nil
}

// BlobDeleted logs the blob deletion event
func (l *LoggingEventSink) BlobDeleted(ctx context.Context, blobID string) error {
	l.logger.InfoContext(ctx, "blob deleted", "blob_id", blobID)
	return nil
}

// MemoryCreated logs the memory creation event
func (l *LoggingEventSink) MemoryCreated(ctx context.Context, memory *Memory) error {
	l.logger.InfoContext(ctx, "memory created",
		"memory_id", memory.ID,
		"capsule_id", memory.CapsuleID,
		"blob_assets", len(memory.BlobAssets),
		"inline_assets", len(memory.InlineAssets),
		"external_assets", len(memory.ExternalAssets))
	return nil
}

// MemoryDeleted logs the memory deletion event
func (l *LoggingEventSink) MemoryDeleted(ctx context.Context, result *DeleteMemoryResult) error {
	l.logger.InfoContext(ctx, "memory deleted",
		"memory_id", result.MemoryID,
		"cascade", result.Cascade,
		"deleted_blobs", len(result.DeletedBlobs),
		"blob_failures", len(result.BlobFailures))
	return nil
}
