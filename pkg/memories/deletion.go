package memories

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DeleteMemory removes a memory. With cascade every distinct blob the memory
// referenced is deleted too; per-blob failures are collected in the result and
// never undo or mask the memory deletion. Without cascade the blobs stay
// readable.
func (s *service) DeleteMemory(ctx context.Context, memoryID string, cascade bool) (*DeleteMemoryResult, error) {
	start := time.Now()
	result, err := s.deleteMemory(ctx, memoryID, cascade)
	blobs := 0
	if result != nil {
		blobs = len(result.DeletedBlobs)
	}
	s.observer.ObserveMemoryDelete(cascade, blobs, time.Since(start), err)
	return result, err
}

func (s *service) deleteMemory(ctx context.Context, memoryID string, cascade bool) (*DeleteMemoryResult, error) {
	if err := RequireKind(memoryID, KindMemory); err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "delete", Err: err}
	}
	memory, err := s.repository.DeleteMemory(ctx, memoryID)
	if err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "delete", Err: err}
	}

	result := &DeleteMemoryResult{
		MemoryID:  memory.ID,
		CapsuleID: memory.CapsuleID,
		Cascade:   cascade,
	}
	if cascade {
		s.cascadeBlobs(ctx, memory.BlobIDs(), result)
	}
	s.emit(ctx, "memory_deleted", func(e EventSink) error { return e.MemoryDeleted(ctx, result) })
	return result, nil
}

func (s *service) cascadeBlobs(ctx context.Context, blobIDs []string, result *DeleteMemoryResult) {
	if len(blobIDs) == 0 {
		return
	}
	errs := make([]error, len(blobIDs))
	var g errgroup.Group
	g.SetLimit(s.limits.CascadeParallelism)
	for i, id := range blobIDs {
		i, id := i, id
		g.Go(func() error {
			errs[i] = s.DeleteBlob(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range blobIDs {
		if errs[i] != nil {
			s.logger.WarnContext(ctx, "cascade blob delete failed", "memory_id", result.MemoryID, "blob_id", id, "err", errs[i])
			result.BlobFailures = append(result.BlobFailures, BlobFailure{BlobID: id, Err: errs[i]})
			continue
		}
		result.DeletedBlobs = append(result.DeletedBlobs, id)
	}
}
