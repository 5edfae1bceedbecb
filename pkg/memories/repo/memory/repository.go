package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-memories/pkg/memories"
)

// Repository implements memories.Repository using in-memory storage
type Repository struct {
	mu             sync.RWMutex
	capsules       map[string]*memories.Capsule
	capsuleByOwner map[string]string // owner -> capsule_id
	sessions       map[string]*memories.UploadSession
	sessionByKey   map[scopedKey]string // (capsule_id, idempotency_key) -> session_id
	blobs          map[string]*memories.BlobMeta
	memories       map[string]*memories.Memory
	memoryByKey    map[scopedKey]string // (capsule_id, idempotency_key) -> memory_id
}

type scopedKey struct {
	capsuleID string
	key       string
}

// New creates a new in-memory repository
func New() memories.Repository {
	return &Repository{
		capsules:       make(map[string]*memories.Capsule),
		capsuleByOwner: make(map[string]string),
		sessions:       make(map[string]*memories.UploadSession),
		sessionByKey:   make(map[scopedKey]string),
		blobs:          make(map[string]*memories.BlobMeta),
		memories:       make(map[string]*memories.Memory),
		memoryByKey:    make(map[scopedKey]string),
	}
}

// Capsule operations

func (r *Repository) CreateCapsule(ctx context.Context, capsule *memories.Capsule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capsules[capsule.ID]; exists {
		return fmt.Errorf("capsule %s: %w", capsule.ID, memories.ErrAlreadyExists)
	}
	if capsule.Owner != "" {
		if _, taken := r.capsuleByOwner[capsule.Owner]; taken {
			return fmt.Errorf("capsule for owner %q: %w", capsule.Owner, memories.ErrAlreadyExists)
		}
		r.capsuleByOwner[capsule.Owner] = capsule.ID
	}
	c := *capsule
	r.capsules[capsule.ID] = &c
	return nil
}

func (r *Repository) GetCapsule(ctx context.Context, id string) (*memories.Capsule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capsule, exists := r.capsules[id]
	if !exists {
		return nil, memories.ErrCapsuleNotFound
	}
	c := *capsule
	return &c, nil
}

func (r *Repository) GetOrCreateCapsuleByOwner(ctx context.Context, candidate *memories.Capsule) (*memories.Capsule, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.capsuleByOwner[candidate.Owner]; ok {
		c := *r.capsules[id]
		return &c, false, nil
	}
	c := *candidate
	r.capsules[c.ID] = &c
	r.capsuleByOwner[c.Owner] = c.ID
	out := c
	return &out, true, nil
}

// Upload session operations

func (r *Repository) CreateSessionIfAbsent(ctx context.Context, session *memories.UploadSession) (*memories.UploadSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key scopedKey
	if session.IdempotencyKey != "" {
		key = scopedKey{capsuleID: session.CapsuleID, key: session.IdempotencyKey}
		if id, ok := r.sessionByKey[key]; ok {
			return r.sessions[id].Clone(), false, nil
		}
	}
	stored := session.Clone()
	r.sessions[stored.ID] = stored
	if session.IdempotencyKey != "" {
		r.sessionByKey[key] = stored.ID
	}
	return stored.Clone(), true, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*memories.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, memories.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *Repository) RecordChunk(ctx context.Context, sessionID string, index uint32, size int64, at time.Time) (*memories.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return nil, memories.ErrSessionNotFound
	}
	if session.Status != memories.SessionStatusOpen {
		return nil, fmt.Errorf("%w: status is %s", memories.ErrSessionNotOpen, session.Status)
	}
	session.BytesReceived += size - session.ReceivedChunks[index]
	session.ReceivedChunks[index] = size
	session.UpdatedAt = at
	return session.Clone(), nil
}

func (r *Repository) TransitionSession(ctx context.Context, t memories.SessionTransition) (*memories.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[t.ID]
	if !exists {
		return nil, memories.ErrSessionNotFound
	}
	if session.Status != t.From {
		return nil, fmt.Errorf("%w: status is %s", memories.ErrSessionNotOpen, session.Status)
	}
	session.Status = t.To
	if t.BlobID != "" {
		session.BlobID = t.BlobID
	}
	session.UpdatedAt = t.At
	return session.Clone(), nil
}

func (r *Repository) ListExpiredSessions(ctx context.Context, now time.Time) ([]*memories.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*memories.UploadSession
	for _, session := range r.sessions {
		if session.Status == memories.SessionStatusOpen && !now.Before(session.ExpiresAt) {
			result = append(result, session.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result, nil
}

func (r *Repository) PurgeSessions(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, session := range r.sessions {
		if !session.Status.IsTerminal() || !session.UpdatedAt.Before(before) {
			continue
		}
		delete(r.sessions, id)
		if session.IdempotencyKey != "" {
			delete(r.sessionByKey, scopedKey{capsuleID: session.CapsuleID, key: session.IdempotencyKey})
		}
		purged++
	}
	return purged, nil
}

// Blob metadata operations

func (r *Repository) CreateBlobMeta(ctx context.Context, meta *memories.BlobMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blobs[meta.ID]; exists {
		return fmt.Errorf("blob %s: %w", meta.ID, memories.ErrAlreadyExists)
	}
	m := *meta
	r.blobs[meta.ID] = &m
	return nil
}

func (r *Repository) GetBlobMeta(ctx context.Context, id string) (*memories.BlobMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.blobs[id]
	if !exists {
		return nil, memories.ErrBlobNotFound
	}
	m := *meta
	return &m, nil
}

func (r *Repository) DeleteBlobMeta(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blobs[id]; !exists {
		return memories.ErrBlobNotFound
	}
	delete(r.blobs, id)
	return nil
}

// Memory operations

func (r *Repository) CreateMemoryIfAbsent(ctx context.Context, memory *memories.Memory) (*memories.Memory, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key scopedKey
	if memory.IdempotencyKey != "" {
		key = scopedKey{capsuleID: memory.CapsuleID, key: memory.IdempotencyKey}
		if id, ok := r.memoryByKey[key]; ok {
			return r.memories[id].Clone(), false, nil
		}
	}
	for _, id := range memory.BlobIDs() {
		if _, ok := r.blobs[id]; !ok {
			return nil, false, fmt.Errorf("blob %s: %w", id, memories.ErrBlobNotFound)
		}
	}
	stored := memory.Clone()
	r.memories[stored.ID] = stored
	if memory.IdempotencyKey != "" {
		r.memoryByKey[key] = stored.ID
	}
	return stored.Clone(), true, nil
}

func (r *Repository) GetMemory(ctx context.Context, id string) (*memories.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memory, exists := r.memories[id]
	if !exists {
		return nil, memories.ErrMemoryNotFound
	}
	return memory.Clone(), nil
}

func (r *Repository) ListMemories(ctx context.Context, params memories.ListMemoriesParams) ([]*memories.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*memories.Memory
	for _, memory := range r.memories {
		if memory.CapsuleID != params.CapsuleID {
			continue
		}
		if params.AfterID != "" && !after(memory, params.AfterCreatedAt, params.AfterID) {
			continue
		}
		result = append(result, memory)
	}

	// Sort by (created_at, id) ascending
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	for i, memory := range result {
		result[i] = memory.Clone()
	}
	return result, nil
}

func after(m *memories.Memory, at time.Time, id string) bool {
	if m.CreatedAt.Equal(at) {
		return m.ID > id
	}
	return m.CreatedAt.After(at)
}

func (r *Repository) AppendBlobAsset(ctx context.Context, memoryID string, asset memories.BlobAsset, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	memory, exists := r.memories[memoryID]
	if !exists {
		return memories.ErrMemoryNotFound
	}
	if _, ok := r.blobs[asset.BlobRef.Locator]; !ok {
		return fmt.Errorf("blob %s: %w", asset.BlobRef.Locator, memories.ErrBlobNotFound)
	}
	asset.Metadata = memories.CloneAssetMetadata(asset.Metadata)
	memory.BlobAssets = append(memory.BlobAssets, asset)
	memory.UpdatedAt = at
	return nil
}

func (r *Repository) AppendInlineAsset(ctx context.Context, memoryID string, asset memories.InlineAsset, at time.Time) error {
	return r.mutateMemory(memoryID, at, func(m *memories.Memory) {
		asset.Bytes = append([]byte(nil), asset.Bytes...)
		asset.Metadata = memories.CloneAssetMetadata(asset.Metadata)
		m.InlineAssets = append(m.InlineAssets, asset)
	})
}

func (r *Repository) AppendExternalAsset(ctx context.Context, memoryID string, asset memories.ExternalAsset, at time.Time) error {
	return r.mutateMemory(memoryID, at, func(m *memories.Memory) {
		asset.Metadata = memories.CloneAssetMetadata(asset.Metadata)
		m.ExternalAssets = append(m.ExternalAssets, asset)
	})
}

func (r *Repository) UpdateMemoryMetadata(ctx context.Context, memoryID string, metadata memories.MemoryMetadata, at time.Time) (*memories.Memory, error) {
	detached := (&memories.Memory{Metadata: metadata}).Clone().Metadata
	var updated *memories.Memory
	err := r.mutateMemory(memoryID, at, func(m *memories.Memory) {
		m.Metadata = detached
		updated = m.Clone()
	})
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = at
	return updated, nil
}

func (r *Repository) DeleteMemory(ctx context.Context, id string) (*memories.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	memory, exists := r.memories[id]
	if !exists {
		return nil, memories.ErrMemoryNotFound
	}
	delete(r.memories, id)
	if memory.IdempotencyKey != "" {
		delete(r.memoryByKey, scopedKey{capsuleID: memory.CapsuleID, key: memory.IdempotencyKey})
	}
	return memory, nil
}

func (r *Repository) mutateMemory(id string, at time.Time, fn func(*memories.Memory)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	memory, exists := r.memories[id]
	if !exists {
		return memories.ErrMemoryNotFound
	}
	fn(memory)
	memory.UpdatedAt = at
	return nil
}
