// Package cache implements a chunk backend that keeps recently read chunks in
// memory in front of a slower backend.
package cache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-memories/pkg/memories"
)

var _ memories.ChunkBackend = &Backend{}

// Backend caches chunk payloads in a least-recently-used cache.
// Writes and deletes pass through to the nested backend.
type Backend struct {
	c    *lru.Cache[string, []byte]
	next memories.ChunkBackend
}

// New produces a Backend in front of next caching up to size chunks.
func New(next memories.ChunkBackend, size int) (*Backend, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Backend{c: c, next: next}, nil
}

// PutChunk writes through and refreshes the cached copy.
func (b *Backend) PutChunk(ctx context.Context, key string, data []byte) error {
	// Drop first so a failed write cannot leave a stale entry behind.
	b.c.Remove(key)
	if err := b.next.PutChunk(ctx, key, data); err != nil {
		return err
	}
	b.c.Add(key, append([]byte(nil), data...))
	return nil
}

// GetChunk serves from the cache, falling back to the nested backend.
func (b *Backend) GetChunk(ctx context.Context, key string) ([]byte, error) {
	if data, ok := b.c.Get(key); ok {
		return append([]byte(nil), data...), nil
	}
	data, err := b.next.GetChunk(ctx, key)
	if err != nil {
		return nil, err
	}
	b.c.Add(key, append([]byte(nil), data...))
	return data, nil
}

func (b *Backend) DeleteChunk(ctx context.Context, key string) error {
	b.c.Remove(key)
	return b.next.DeleteChunk(ctx, key)
}

func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	for _, key := range b.c.Keys() {
		if strings.HasPrefix(key, prefix) {
			b.c.Remove(key)
		}
	}
	return b.next.DeletePrefix(ctx, prefix)
}

func (b *Backend) Location(prefix string) string {
	return b.next.Location(prefix)
}

// Len returns the number of cached chunks.
func (b *Backend) Len() int {
	return b.c.Len()
}
