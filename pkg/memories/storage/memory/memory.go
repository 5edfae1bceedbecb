package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tendant/simple-memories/pkg/memories"
)

// Backend is an in-memory implementation of the memories.ChunkBackend interface
type Backend struct {
	mu     sync.RWMutex
	chunks map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		chunks: make(map[string][]byte),
	}
}

// PutChunk stores a copy of data
func (b *Backend) PutChunk(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks[key] = append([]byte(nil), data...)
	return nil
}

// GetChunk returns a copy of the stored payload
func (b *Backend) GetChunk(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.chunks[key]
	if !exists {
		return nil, memories.ErrChunkNotFound
	}
	return append([]byte(nil), data...), nil
}

// DeleteChunk removes a payload
func (b *Backend) DeleteChunk(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.chunks, key)
	return nil
}

// DeletePrefix removes every payload under prefix
func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.chunks {
		if strings.HasPrefix(key, prefix) {
			delete(b.chunks, key)
		}
	}
	return nil
}

// Location returns a memory:// pseudo URL
func (b *Backend) Location(prefix string) string {
	return "memory://" + prefix
}

// Len returns the number of stored payloads
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Keys returns the stored keys under prefix
func (b *Backend) Keys(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.chunks {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}
