package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-memories/pkg/memories"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements memories.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) memories.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) memories.Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.ConstraintName, memories.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record: %w", operation, memories.ErrNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Capsule operations

const capsuleColumns = `id, COALESCE(owner, ''), created_at`

func scanCapsule(row pgx.Row) (*memories.Capsule, error) {
	var c memories.Capsule
	if err := row.Scan(&c.ID, &c.Owner, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) CreateCapsule(ctx context.Context, capsule *memories.Capsule) error {
	query := `INSERT INTO capsules (id, owner, created_at) VALUES ($1, NULLIF($2, ''), $3)`
	if _, err := r.db.Exec(ctx, query, capsule.ID, capsule.Owner, capsule.CreatedAt); err != nil {
		return r.handlePostgresError("create capsule", err)
	}
	return nil
}

func (r *Repository) GetCapsule(ctx context.Context, id string) (*memories.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE id = $1`
	c, err := scanCapsule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrCapsuleNotFound
		}
		return nil, r.handlePostgresError("get capsule", err)
	}
	return c, nil
}

func (r *Repository) GetOrCreateCapsuleByOwner(ctx context.Context, candidate *memories.Capsule) (*memories.Capsule, bool, error) {
	insert := `
		INSERT INTO capsules (id, owner, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO NOTHING
		RETURNING ` + capsuleColumns
	c, err := scanCapsule(r.db.QueryRow(ctx, insert, candidate.ID, candidate.Owner, candidate.CreatedAt))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, r.handlePostgresError("create capsule", err)
	}
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE owner = $1`
	c, err = scanCapsule(r.db.QueryRow(ctx, query, candidate.Owner))
	if err != nil {
		return nil, false, r.handlePostgresError("get capsule by owner", err)
	}
	return c, false, nil
}

// Upload session operations

const sessionColumns = `id, capsule_id, expected_chunks, received_chunks, bytes_received,
	COALESCE(idempotency_key, ''), status, COALESCE(blob_id, ''), created_at, updated_at, expires_at`

func scanSession(row pgx.Row) (*memories.UploadSession, error) {
	var (
		s        memories.UploadSession
		expected int64
		received []byte
		status   string
	)
	err := row.Scan(&s.ID, &s.CapsuleID, &expected, &received, &s.BytesReceived,
		&s.IdempotencyKey, &status, &s.BlobID, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	s.ExpectedChunks = uint32(expected)
	s.Status = memories.SessionStatus(status)
	s.ReceivedChunks = make(map[uint32]int64)
	if len(received) > 0 {
		if err := json.Unmarshal(received, &s.ReceivedChunks); err != nil {
			return nil, fmt.Errorf("decode received chunks: %w", err)
		}
	}
	return &s, nil
}

func (r *Repository) CreateSessionIfAbsent(ctx context.Context, session *memories.UploadSession) (*memories.UploadSession, bool, error) {
	insert := `
		INSERT INTO upload_sessions (
			id, capsule_id, expected_chunks, received_chunks, bytes_received,
			idempotency_key, status, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, '{}'::jsonb, 0, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT (capsule_id, idempotency_key) DO NOTHING
		RETURNING ` + sessionColumns
	created, err := scanSession(r.db.QueryRow(ctx, insert,
		session.ID, session.CapsuleID, int64(session.ExpectedChunks), session.IdempotencyKey,
		string(session.Status), session.CreatedAt, session.UpdatedAt, session.ExpiresAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, r.handlePostgresError("create session", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE capsule_id = $1 AND idempotency_key = $2`
	existing, err := scanSession(r.db.QueryRow(ctx, query, session.CapsuleID, session.IdempotencyKey))
	if err != nil {
		return nil, false, r.handlePostgresError("get session by idempotency key", err)
	}
	return existing, false, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*memories.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrSessionNotFound
		}
		return nil, r.handlePostgresError("get session", err)
	}
	return s, nil
}

func (r *Repository) RecordChunk(ctx context.Context, sessionID string, index uint32, size int64, at time.Time) (*memories.UploadSession, error) {
	// Both SET expressions see the row as it was before the update.
	query := `
		UPDATE upload_sessions SET
			bytes_received = bytes_received - COALESCE((received_chunks ->> $2::text)::bigint, 0) + $3,
			received_chunks = jsonb_set(received_chunks, ARRAY[$2::text], to_jsonb($3::bigint)),
			updated_at = $4
		WHERE id = $1 AND status = 'open'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRow(ctx, query, sessionID, strconv.FormatUint(uint64(index), 10), size, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.notOpen(ctx, sessionID)
		}
		return nil, r.handlePostgresError("record chunk", err)
	}
	return s, nil
}

func (r *Repository) TransitionSession(ctx context.Context, t memories.SessionTransition) (*memories.UploadSession, error) {
	query := `
		UPDATE upload_sessions SET
			status = $3,
			blob_id = COALESCE(NULLIF($4, ''), blob_id),
			updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRow(ctx, query, t.ID, string(t.From), string(t.To), t.BlobID, t.At))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.notOpen(ctx, t.ID)
		}
		return nil, r.handlePostgresError("transition session", err)
	}
	return s, nil
}

// notOpen explains why a conditional session update matched no row.
func (r *Repository) notOpen(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM upload_sessions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memories.ErrSessionNotFound
		}
		return r.handlePostgresError("get session status", err)
	}
	return fmt.Errorf("%w: status is %s", memories.ErrSessionNotOpen, status)
}

func (r *Repository) ListExpiredSessions(ctx context.Context, now time.Time) ([]*memories.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE status = 'open' AND expires_at <= $1
		ORDER BY expires_at`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, r.handlePostgresError("list expired sessions", err)
	}
	defer rows.Close()

	var result []*memories.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *Repository) PurgeSessions(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM upload_sessions
		WHERE status IN ('finished', 'aborted', 'expired') AND updated_at < $1`
	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, r.handlePostgresError("purge sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

// Blob metadata operations

func (r *Repository) CreateBlobMeta(ctx context.Context, meta *memories.BlobMeta) error {
	query := `
		INSERT INTO blobs (id, capsule_id, size, chunk_count, sha256, backend, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, meta.ID, meta.CapsuleID, meta.Size, int64(meta.ChunkCount),
		meta.SHA256[:], meta.Backend, meta.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create blob", err)
	}
	return nil
}

func (r *Repository) GetBlobMeta(ctx context.Context, id string) (*memories.BlobMeta, error) {
	query := `SELECT id, capsule_id, size, chunk_count, sha256, backend, created_at FROM blobs WHERE id = $1`
	var (
		m      memories.BlobMeta
		chunks int64
		sum    []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &m.CapsuleID, &m.Size, &chunks, &sum, &m.Backend, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrBlobNotFound
		}
		return nil, r.handlePostgresError("get blob", err)
	}
	m.ChunkCount = uint32(chunks)
	copy(m.SHA256[:], sum)
	return &m, nil
}

func (r *Repository) DeleteBlobMeta(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM blobs WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete blob", err)
	}
	if tag.RowsAffected() == 0 {
		return memories.ErrBlobNotFound
	}
	return nil
}

// Memory operations

const memoryColumns = `id, capsule_id, metadata, blob_assets, inline_assets, external_assets,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func scanMemory(row pgx.Row) (*memories.Memory, error) {
	var (
		m                                   memories.Memory
		metadata, blobs, inlines, externals []byte
	)
	err := row.Scan(&m.ID, &m.CapsuleID, &metadata, &blobs, &inlines, &externals,
		&m.IdempotencyKey, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct {
		raw  []byte
		dest interface{}
	}{
		{metadata, &m.Metadata},
		{blobs, &m.BlobAssets},
		{inlines, &m.InlineAssets},
		{externals, &m.ExternalAssets},
	} {
		if err := json.Unmarshal(part.raw, part.dest); err != nil {
			return nil, fmt.Errorf("decode memory %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (r *Repository) CreateMemoryIfAbsent(ctx context.Context, memory *memories.Memory) (*memories.Memory, bool, error) {
	metadata, err := json.Marshal(memory.Metadata)
	if err != nil {
		return nil, false, err
	}
	blobs, err := marshalList(memory.BlobAssets)
	if err != nil {
		return nil, false, err
	}
	inlines, err := marshalList(memory.InlineAssets)
	if err != nil {
		return nil, false, err
	}
	externals, err := marshalList(memory.ExternalAssets)
	if err != nil {
		return nil, false, err
	}

	// The referenced blob rows are share-locked for the statement, so a
	// concurrent DeleteBlobMeta either finishes first and the insert is skipped,
	// or waits until the memory is stored.
	blobIDs := memory.BlobIDs()
	if blobIDs == nil {
		blobIDs = []string{}
	}
	insert := `
		WITH referenced AS (
			SELECT id FROM blobs WHERE id = ANY($10::text[]) FOR SHARE
		)
		INSERT INTO memories (
			id, capsule_id, metadata, blob_assets, inline_assets, external_assets,
			idempotency_key, created_at, updated_at
		)
		SELECT $1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6::jsonb, NULLIF($7, ''), $8, $9
		WHERE (SELECT count(*) FROM referenced) = $11
		ON CONFLICT (capsule_id, idempotency_key) DO NOTHING
		RETURNING ` + memoryColumns
	created, err := scanMemory(r.db.QueryRow(ctx, insert,
		memory.ID, memory.CapsuleID, string(metadata), blobs, inlines, externals,
		memory.IdempotencyKey, memory.CreatedAt, memory.UpdatedAt, blobIDs, len(blobIDs)))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, r.handlePostgresError("create memory", err)
	}

	// Nothing inserted: either the idempotency key is taken or a blob is gone.
	if memory.IdempotencyKey != "" {
		query := `SELECT ` + memoryColumns + ` FROM memories WHERE capsule_id = $1 AND idempotency_key = $2`
		existing, err := scanMemory(r.db.QueryRow(ctx, query, memory.CapsuleID, memory.IdempotencyKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, r.handlePostgresError("get memory by idempotency key", err)
		}
	}
	return nil, false, fmt.Errorf("create memory %s: %w", memory.ID, memories.ErrBlobNotFound)
}

func (r *Repository) GetMemory(ctx context.Context, id string) (*memories.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id = $1`
	m, err := scanMemory(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrMemoryNotFound
		}
		return nil, r.handlePostgresError("get memory", err)
	}
	return m, nil
}

func (r *Repository) ListMemories(ctx context.Context, params memories.ListMemoriesParams) ([]*memories.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE capsule_id = $1`
	args := []interface{}{params.CapsuleID}
	if params.AfterID != "" {
		query += ` AND (created_at, id) > ($2, $3)`
		args = append(args, params.AfterCreatedAt, params.AfterID)
	}
	query += ` ORDER BY created_at, id`
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list memories", err)
	}
	defer rows.Close()

	var result []*memories.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *Repository) AppendBlobAsset(ctx context.Context, memoryID string, asset memories.BlobAsset, at time.Time) error {
	payload, err := json.Marshal([]memories.BlobAsset{asset})
	if err != nil {
		return err
	}
	query := `
		WITH referenced AS (
			SELECT id FROM blobs WHERE id = $4 FOR SHARE
		)
		UPDATE memories SET blob_assets = blob_assets || $2::jsonb, updated_at = $3
		WHERE id = $1 AND EXISTS (SELECT 1 FROM referenced)`
	tag, err := r.db.Exec(ctx, query, memoryID, string(payload), at, asset.BlobRef.Locator)
	if err != nil {
		return r.handlePostgresError("append blob asset", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM memories WHERE id = $1)`, memoryID).Scan(&exists); err != nil {
		return r.handlePostgresError("append blob asset", err)
	}
	if !exists {
		return memories.ErrMemoryNotFound
	}
	return fmt.Errorf("blob %s: %w", asset.BlobRef.Locator, memories.ErrBlobNotFound)
}

func (r *Repository) AppendInlineAsset(ctx context.Context, memoryID string, asset memories.InlineAsset, at time.Time) error {
	return r.appendAsset(ctx, "inline_assets", memoryID, []memories.InlineAsset{asset}, at)
}

func (r *Repository) AppendExternalAsset(ctx context.Context, memoryID string, asset memories.ExternalAsset, at time.Time) error {
	return r.appendAsset(ctx, "external_assets", memoryID, []memories.ExternalAsset{asset}, at)
}

// appendAsset concatenates a one element JSON array onto column. column is
// always one of the fixed asset column names.
func (r *Repository) appendAsset(ctx context.Context, column, memoryID string, one interface{}, at time.Time) error {
	payload, err := json.Marshal(one)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE memories SET %[1]s = %[1]s || $2::jsonb, updated_at = $3 WHERE id = $1`, column)
	tag, err := r.db.Exec(ctx, query, memoryID, string(payload), at)
	if err != nil {
		return r.handlePostgresError("append asset", err)
	}
	if tag.RowsAffected() == 0 {
		return memories.ErrMemoryNotFound
	}
	return nil
}

func (r *Repository) UpdateMemoryMetadata(ctx context.Context, memoryID string, metadata memories.MemoryMetadata, at time.Time) (*memories.Memory, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	query := `UPDATE memories SET metadata = $2::jsonb, updated_at = $3 WHERE id = $1 RETURNING ` + memoryColumns
	m, err := scanMemory(r.db.QueryRow(ctx, query, memoryID, string(raw), at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrMemoryNotFound
		}
		return nil, r.handlePostgresError("update memory metadata", err)
	}
	return m, nil
}

// DeleteMemory removes the row; the idempotency key lives on the row and goes with it.
func (r *Repository) DeleteMemory(ctx context.Context, id string) (*memories.Memory, error) {
	query := `DELETE FROM memories WHERE id = $1 RETURNING ` + memoryColumns
	m, err := scanMemory(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, memories.ErrMemoryNotFound
		}
		return nil, r.handlePostgresError("delete memory", err)
	}
	return m, nil
}

// marshalList encodes a slice as a JSON array, never null.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
