package memories

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Upload session operations

func (s *service) BeginUpload(ctx context.Context, req BeginUploadRequest) (*UploadSession, error) {
	if req.ExpectedChunks == 0 {
		return nil, ErrExpectedChunksZero
	}
	if err := RequireKind(req.CapsuleID, KindCapsule); err != nil {
		return nil, err
	}
	if _, err := s.repository.GetCapsule(ctx, req.CapsuleID); err != nil {
		return nil, err
	}

	now := s.now()
	session := &UploadSession{
		ID:             NewID(KindSession),
		CapsuleID:      req.CapsuleID,
		ExpectedChunks: req.ExpectedChunks,
		ReceivedChunks: make(map[uint32]int64),
		IdempotencyKey: req.IdempotencyKey,
		Status:         SessionStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.limits.SessionTTL),
	}
	got, created, err := s.repository.CreateSessionIfAbsent(ctx, session)
	if err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "begin", Err: err}
	}
	if !created && got.ExpectedChunks != req.ExpectedChunks {
		return nil, &SessionError{SessionID: got.ID, Op: "begin",
			Err: invalidArgument("idempotency key %q was used with %d expected chunks", req.IdempotencyKey, got.ExpectedChunks)}
	}
	return got, nil
}

func (s *service) PutChunk(ctx context.Context, req PutChunkRequest) (*UploadSession, error) {
	start := time.Now()
	size := int64(len(req.Data))
	updated, err := s.putChunk(ctx, req)
	s.observer.ObserveChunk(s.defaultBackend, size, time.Since(start), err)
	return updated, err
}

func (s *service) putChunk(ctx context.Context, req PutChunkRequest) (*UploadSession, error) {
	size := int64(len(req.Data))
	if size > s.limits.MaxChunkSize {
		return nil, &SessionError{SessionID: req.SessionID, Op: "put_chunk",
			Err: fmt.Errorf("%w: chunk is %d bytes, limit is %d", ErrPayloadTooLarge, size, s.limits.MaxChunkSize)}
	}
	session, err := s.openSession(ctx, req.SessionID, "put_chunk")
	if err != nil {
		return nil, err
	}
	if req.Index >= session.ExpectedChunks {
		return nil, &SessionError{SessionID: session.ID, Op: "put_chunk",
			Err: fmt.Errorf("%w: index %d, expected %d chunks", ErrChunkIndexOutOfRange, req.Index, session.ExpectedChunks)}
	}

	b, err := s.backend(s.defaultBackend)
	if err != nil {
		return nil, err
	}
	key := SessionChunkKey(session.ID, req.Index)
	if err := b.PutChunk(ctx, key, req.Data); err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "put_chunk", Err: err}
	}
	updated, err := s.repository.RecordChunk(ctx, session.ID, req.Index, size, s.now())
	if err != nil {
		// The session left Open while the payload was being written.
		if errors.Is(err, ErrSessionNotOpen) {
			if derr := b.DeleteChunk(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.WarnContext(ctx, "failed to release chunk", "key", key, "err", derr)
			}
		}
		return nil, &SessionError{SessionID: session.ID, Op: "put_chunk", Err: err}
	}
	return updated, nil
}

// FinishUpload verifies and commits a session. Exactly one concurrent caller
// wins the Open to Finishing claim; the others get ErrSessionNotOpen. Integrity
// failures leave the session Open so chunks can be rewritten and finish retried.
func (s *service) FinishUpload(ctx context.Context, req FinishUploadRequest) (*FinishResult, error) {
	start := time.Now()
	result, err := s.finishUpload(ctx, req)
	var size int64
	if result != nil {
		size = result.Size
	}
	s.observer.ObserveFinish(s.defaultBackend, size, time.Since(start), err)
	return result, err
}

func (s *service) finishUpload(ctx context.Context, req FinishUploadRequest) (*FinishResult, error) {
	session, err := s.openSession(ctx, req.SessionID, "finish")
	if err != nil {
		return nil, err
	}
	if missing := session.MissingCount(); missing > 0 {
		first, _ := session.FirstMissingChunk()
		return nil, &SessionError{SessionID: session.ID, Op: "finish",
			Err: fmt.Errorf("%w: %d of %d chunks missing, first is %d", ErrIncompleteUpload, missing, session.ExpectedChunks, first)}
	}
	if req.TotalLength < 0 {
		return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: invalidArgument("total length cannot be negative")}
	}
	if session.BytesReceived != req.TotalLength {
		return nil, &SessionError{SessionID: session.ID, Op: "finish",
			Err: fmt.Errorf("%w: declared %d bytes, received %d", ErrSizeMismatch, req.TotalLength, session.BytesReceived)}
	}
	var assetMeta AssetMetadata
	if req.Memory != nil {
		if err := validateMemoryMetadata(req.Memory.Metadata); err != nil {
			return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: err}
		}
		assetMeta = req.Memory.AssetMetadata
		if assetMeta == nil {
			assetMeta = defaultAssetMetadata(AssetKind(req.Memory.Metadata.Kind))
		}
		if err := ValidateAssetMetadata(assetMeta); err != nil {
			return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: err}
		}
	}

	if _, err := s.repository.TransitionSession(ctx, SessionTransition{
		ID: session.ID, From: SessionStatusOpen, To: SessionStatusFinishing, At: s.now(),
	}); err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: err}
	}

	meta, err := s.commitBlob(ctx, session, req.SHA256, req.TotalLength)
	if err != nil {
		if _, rerr := s.repository.TransitionSession(context.WithoutCancel(ctx), SessionTransition{
			ID: session.ID, From: SessionStatusFinishing, To: SessionStatusOpen, At: s.now(),
		}); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to reopen session after failed commit", "session_id", session.ID, "err", rerr)
		}
		return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: err}
	}

	finished, err := s.repository.TransitionSession(ctx, SessionTransition{
		ID: session.ID, From: SessionStatusFinishing, To: SessionStatusFinished, BlobID: meta.ID, At: s.now(),
	})
	if err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "finish", Err: err}
	}

	b, err := s.backend(meta.Backend)
	if err != nil {
		return nil, err
	}
	s.cleanup(ctx, b, SessionPrefix(session.ID))
	s.emit(ctx, "upload_finished", func(e EventSink) error { return e.UploadFinished(ctx, finished, meta) })

	result := &FinishResult{
		BlobID:          meta.ID,
		Size:            meta.Size,
		ChunkCount:      meta.ChunkCount,
		SHA256:          meta.SHA256,
		StorageLocation: b.Location(BlobPrefix(meta.ID)),
	}
	if req.Memory == nil {
		return result, nil
	}

	memory, err := s.CreateMemory(ctx, CreateMemoryRequest{
		CapsuleID:      session.CapsuleID,
		Metadata:       req.Memory.Metadata,
		BlobAssets:     []BlobAssetInput{{BlobID: meta.ID, Metadata: assetMeta}},
		IdempotencyKey: req.Memory.IdempotencyKey,
	})
	if err != nil {
		// The blob is committed; the caller can still wrap it in a memory.
		return result, &SessionError{SessionID: session.ID, Op: "finish_memory", Err: err}
	}
	result.MemoryID = memory.ID
	return result, nil
}

func (s *service) AbortUpload(ctx context.Context, sessionID string) (*UploadSession, error) {
	session, err := s.openSession(ctx, sessionID, "abort")
	if err != nil {
		return nil, err
	}
	aborted, err := s.repository.TransitionSession(ctx, SessionTransition{
		ID: session.ID, From: SessionStatusOpen, To: SessionStatusAborted, At: s.now(),
	})
	if err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "abort", Err: err}
	}
	s.releaseSession(ctx, aborted)
	return aborted, nil
}

// GetUpload returns the session record. An open session past its lifetime is
// expired on the spot and returned with status expired.
func (s *service) GetUpload(ctx context.Context, sessionID string) (*UploadSession, error) {
	if err := RequireKind(sessionID, KindSession); err != nil {
		return nil, &SessionError{SessionID: sessionID, Op: "get", Err: err}
	}
	session, err := s.repository.GetSession(ctx, sessionID)
	if err != nil {
		return nil, &SessionError{SessionID: sessionID, Op: "get", Err: err}
	}
	if s.pastExpiry(session) {
		if expired, ok := s.expireSession(ctx, session); ok {
			return expired, nil
		}
		return s.repository.GetSession(ctx, sessionID)
	}
	return session, nil
}

// ReapExpiredSessions expires every open session past its lifetime and purges
// terminal sessions that have been idle for longer than the session lifetime.
func (s *service) ReapExpiredSessions(ctx context.Context) (*ReapResult, error) {
	now := s.now()
	expired, err := s.repository.ListExpiredSessions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	result := &ReapResult{}
	for _, session := range expired {
		if _, ok := s.expireSession(ctx, session); ok {
			result.Expired++
		}
	}
	purged, err := s.repository.PurgeSessions(ctx, now.Add(-s.limits.SessionTTL))
	if err != nil {
		return result, fmt.Errorf("purge sessions: %w", err)
	}
	result.Purged = purged
	return result, nil
}

// openSession loads a session that must be Open. A session past its lifetime
// is expired first and reported as ErrSessionExpired.
func (s *service) openSession(ctx context.Context, sessionID, op string) (*UploadSession, error) {
	if err := RequireKind(sessionID, KindSession); err != nil {
		return nil, &SessionError{SessionID: sessionID, Op: op, Err: err}
	}
	session, err := s.repository.GetSession(ctx, sessionID)
	if err != nil {
		return nil, &SessionError{SessionID: sessionID, Op: op, Err: err}
	}
	switch {
	case s.pastExpiry(session):
		s.expireSession(ctx, session)
		return nil, &SessionError{SessionID: sessionID, Op: op, Err: ErrSessionExpired}
	case session.Status == SessionStatusExpired:
		return nil, &SessionError{SessionID: sessionID, Op: op, Err: ErrSessionExpired}
	case session.Status != SessionStatusOpen:
		return nil, &SessionError{SessionID: sessionID, Op: op,
			Err: fmt.Errorf("%w: status is %s", ErrSessionNotOpen, session.Status)}
	}
	return session, nil
}

func (s *service) pastExpiry(session *UploadSession) bool {
	return session.Status == SessionStatusOpen && !s.now().Before(session.ExpiresAt)
}

// expireSession is the timeout-triggered abort. It reports false when another
// caller moved the session first.
func (s *service) expireSession(ctx context.Context, session *UploadSession) (*UploadSession, bool) {
	expired, err := s.repository.TransitionSession(ctx, SessionTransition{
		ID: session.ID, From: SessionStatusOpen, To: SessionStatusExpired, At: s.now(),
	})
	if err != nil {
		if !errors.Is(err, ErrSessionNotOpen) {
			s.logger.WarnContext(ctx, "failed to expire session", "session_id", session.ID, "err", err)
		}
		return nil, false
	}
	s.releaseSession(ctx, expired)
	return expired, true
}

func (s *service) releaseSession(ctx context.Context, session *UploadSession) {
	b, err := s.backend(s.defaultBackend)
	if err != nil {
		s.logger.WarnContext(ctx, "session chunks left behind", "session_id", session.ID, "err", err)
		return
	}
	s.cleanup(ctx, b, SessionPrefix(session.ID))
	s.emit(ctx, "upload_aborted", func(e EventSink) error { return e.UploadAborted(ctx, session) })
}
