package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/tendant/simple-memories/pkg/memories"
)

const backendName = "fs"

// Backend is a filesystem implementation of the memories.ChunkBackend interface.
// Each chunk is one file; keys map to paths under BaseDir.
type Backend struct {
	baseDir  string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// Config options for the filesystem backend
type Config struct {
	BaseDir  string // Base directory for storing chunks
	Compress bool   // Store chunks zstd-compressed
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	b := &Backend{baseDir: baseDir, compress: config.Compress}
	if config.Compress {
		// Encoders and decoders created with a nil io are safe for concurrent EncodeAll/DecodeAll.
		if b.encoder, err = zstd.NewWriter(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if b.decoder, err = zstd.NewReader(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}
	return b, nil
}

// PutChunk writes data to a temporary file and renames it into place, so
// readers never observe a partially written chunk.
func (b *Backend) PutChunk(ctx context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if b.compress {
		data = b.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return b.storageError("put", key, fmt.Errorf("failed to create directory: %w", err))
	}
	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return b.storageError("put", key, fmt.Errorf("failed to create file: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return b.storageError("put", key, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return b.storageError("put", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return b.storageError("put", key, fmt.Errorf("failed to commit file: %w", err))
	}
	return nil
}

// GetChunk reads a chunk, decompressing it when the backend compresses
func (b *Backend) GetChunk(ctx context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, memories.ErrChunkNotFound
	} else if err != nil {
		return nil, b.storageError("get", key, fmt.Errorf("failed to read file: %w", err))
	}
	if b.compress {
		data, err = b.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, b.storageError("get", key, fmt.Errorf("failed to decompress: %w", err))
		}
	}
	return data, nil
}

// DeleteChunk deletes a chunk file and prunes empty parent directories
func (b *Backend) DeleteChunk(ctx context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return b.storageError("delete", key, fmt.Errorf("failed to delete file: %w", err))
	}
	b.cleanupEmptyDirectories(filepath.Dir(path))
	return nil
}

// DeletePrefix removes the directory holding every chunk under prefix.
// Prefixes produced by memories.SessionPrefix and memories.BlobPrefix end in
// a slash and name a directory.
func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		return b.storageError("delete_prefix", prefix, errors.New("prefix must end with a slash"))
	}
	dir, err := b.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return b.storageError("delete_prefix", prefix, err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(dir))
	return nil
}

// Location returns a file:// URL of the directory holding prefix
func (b *Backend) Location(prefix string) string {
	return "file://" + filepath.ToSlash(filepath.Join(b.baseDir, filepath.FromSlash(prefix))) + "/"
}

// path maps a key to a file path, refusing keys that escape baseDir.
func (b *Backend) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", b.storageError("resolve", key, memories.ErrInvalidArgument)
	}
	path := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if path != b.baseDir && !strings.HasPrefix(path, b.baseDir+string(filepath.Separator)) {
		return "", b.storageError("resolve", key, memories.ErrInvalidArgument)
	}
	return path, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	// Don't remove the base directory
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	// Check if directory is empty
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		// Remove empty directory
		if os.Remove(dir) == nil {
			// Recursively clean parent directory
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

func (b *Backend) storageError(op, key string, err error) error {
	return &memories.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}
