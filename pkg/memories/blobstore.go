package memories

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// commitBlob copies a session's chunks into a fresh blob namespace, hashing
// them on the way, and persists BlobMeta only once size and hash check out.
// On any failure the copied chunks are removed and no blob exists.
func (s *service) commitBlob(ctx context.Context, session *UploadSession, want Digest, wantLen int64) (*BlobMeta, error) {
	backendName := s.defaultBackend
	b, err := s.backend(backendName)
	if err != nil {
		return nil, err
	}

	blobID := NewID(KindBlob)
	prefix := BlobPrefix(blobID)
	rollback := func() { s.cleanup(ctx, b, prefix) }

	h := sha256.New()
	var size int64
	for i := uint32(0); i < session.ExpectedChunks; i++ {
		data, err := b.GetChunk(ctx, SessionChunkKey(session.ID, i))
		if err != nil {
			rollback()
			return nil, fmt.Errorf("read session chunk %d: %w", i, err)
		}
		h.Write(data)
		size += int64(len(data))
		if err := b.PutChunk(ctx, BlobChunkKey(blobID, i), data); err != nil {
			rollback()
			return nil, fmt.Errorf("write blob chunk %d: %w", i, err)
		}
	}

	if size != wantLen {
		rollback()
		return nil, fmt.Errorf("%w: declared %d bytes, assembled %d", ErrSizeMismatch, wantLen, size)
	}
	var got Digest
	copy(got[:], h.Sum(nil))
	if got != want {
		rollback()
		return nil, fmt.Errorf("%w: declared %s, assembled %s", ErrHashMismatch, want, got)
	}

	meta := &BlobMeta{
		ID:         blobID,
		CapsuleID:  session.CapsuleID,
		Size:       size,
		ChunkCount: session.ExpectedChunks,
		SHA256:     got,
		Backend:    backendName,
		CreatedAt:  s.now(),
	}
	if err := s.repository.CreateBlobMeta(ctx, meta); err != nil {
		rollback()
		return nil, fmt.Errorf("persist blob metadata: %w", err)
	}
	return meta, nil
}

// Blob operations

func (s *service) GetBlobMeta(ctx context.Context, blobID string) (*BlobMeta, error) {
	if err := RequireKind(blobID, KindBlob); err != nil {
		return nil, &BlobError{BlobID: blobID, Op: "get_meta", Err: err}
	}
	meta, err := s.repository.GetBlobMeta(ctx, blobID)
	if err != nil {
		return nil, &BlobError{BlobID: blobID, Op: "get_meta", Err: err}
	}
	return meta, nil
}

// ReadBlob returns the whole blob. Blobs larger than Limits.MaxBlobReadSize
// must be fetched with ReadBlobChunk.
func (s *service) ReadBlob(ctx context.Context, blobID string) ([]byte, error) {
	meta, err := s.GetBlobMeta(ctx, blobID)
	if err != nil {
		return nil, err
	}
	if meta.Size > s.limits.MaxBlobReadSize {
		return nil, &BlobError{BlobID: blobID, Op: "read", Err: fmt.Errorf("%w: blob is %d bytes, whole reads are limited to %d",
			ErrPayloadTooLarge, meta.Size, s.limits.MaxBlobReadSize)}
	}
	b, err := s.backend(meta.Backend)
	if err != nil {
		return nil, &BlobError{BlobID: blobID, Op: "read", Err: err}
	}

	buf := make([]byte, 0, meta.Size)
	for i := uint32(0); i < meta.ChunkCount; i++ {
		data, err := b.GetChunk(ctx, BlobChunkKey(blobID, i))
		if err != nil {
			return nil, &BlobError{BlobID: blobID, Op: "read", Err: chunkReadError(err)}
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

func (s *service) ReadBlobChunk(ctx context.Context, blobID string, index uint32) ([]byte, error) {
	meta, err := s.GetBlobMeta(ctx, blobID)
	if err != nil {
		return nil, err
	}
	if index >= meta.ChunkCount {
		return nil, &BlobError{BlobID: blobID, Op: "read_chunk",
			Err: fmt.Errorf("%w: index %d, blob has %d chunks", ErrChunkNotFound, index, meta.ChunkCount)}
	}
	b, err := s.backend(meta.Backend)
	if err != nil {
		return nil, &BlobError{BlobID: blobID, Op: "read_chunk", Err: err}
	}
	data, err := b.GetChunk(ctx, BlobChunkKey(blobID, index))
	if err != nil {
		return nil, &BlobError{BlobID: blobID, Op: "read_chunk", Err: chunkReadError(err)}
	}
	return data, nil
}

// DeleteBlob removes a blob. Identifiers of any other kind, inline and
// external asset ids included, are rejected with ErrInvalidArgument before
// anything is touched. Metadata is removed before the chunks.
func (s *service) DeleteBlob(ctx context.Context, blobID string) error {
	start := time.Now()
	err := s.deleteBlob(ctx, blobID)
	s.observer.ObserveBlobDelete(time.Since(start), err)
	return err
}

func (s *service) deleteBlob(ctx context.Context, blobID string) error {
	if err := RequireKind(blobID, KindBlob); err != nil {
		return &BlobError{BlobID: blobID, Op: "delete", Err: err}
	}
	meta, err := s.repository.GetBlobMeta(ctx, blobID)
	if err != nil {
		return &BlobError{BlobID: blobID, Op: "delete", Err: err}
	}
	if err := s.repository.DeleteBlobMeta(ctx, blobID); err != nil {
		return &BlobError{BlobID: blobID, Op: "delete", Err: err}
	}
	if b, err := s.backend(meta.Backend); err != nil {
		s.logger.WarnContext(ctx, "blob chunks left behind", "blob_id", blobID, "err", err)
	} else {
		s.cleanup(ctx, b, BlobPrefix(blobID))
	}
	s.emit(ctx, "blob_deleted", func(e EventSink) error { return e.BlobDeleted(ctx, blobID) })
	return nil
}

// chunkReadError maps a missing chunk of a blob whose metadata was just seen
// to ErrBlobNotFound: the blob was deleted concurrently.
func chunkReadError(err error) error {
	if errors.Is(err, ErrChunkNotFound) {
		return ErrBlobNotFound
	}
	return err
}
