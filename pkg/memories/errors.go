package memories

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound is the root of every not-found error. Kind-specific errors wrap it.
	ErrNotFound = errors.New("not found")

	// ErrCapsuleNotFound indicates a capsule was not found
	ErrCapsuleNotFound = fmt.Errorf("capsule %w", ErrNotFound)

	// ErrSessionNotFound indicates an upload session was not found
	ErrSessionNotFound = fmt.Errorf("upload session %w", ErrNotFound)

	// ErrBlobNotFound indicates a blob was not found or has been deleted
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)

	// ErrChunkNotFound indicates a chunk payload was not found
	ErrChunkNotFound = fmt.Errorf("chunk %w", ErrNotFound)

	// ErrMemoryNotFound indicates a memory was not found or has been deleted
	ErrMemoryNotFound = fmt.Errorf("memory %w", ErrNotFound)

	// ErrInvalidArgument indicates a malformed request or an identifier of the wrong kind
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExpectedChunksZero indicates an upload was started with zero expected chunks
	ErrExpectedChunksZero = errors.New("expected chunk count must be greater than zero")

	// ErrChunkIndexOutOfRange indicates a chunk index outside [0, expected_chunks)
	ErrChunkIndexOutOfRange = fmt.Errorf("chunk index out of range: %w", ErrInvalidArgument)

	// ErrIncompleteUpload indicates finish was called before every chunk arrived
	ErrIncompleteUpload = errors.New("upload is missing chunks")

	// ErrSessionNotOpen indicates the session is finished, aborted, expired or being finished
	ErrSessionNotOpen = errors.New("upload session is not open")

	// ErrSessionExpired indicates the session outlived its maximum lifetime.
	// It wraps ErrSessionNotOpen.
	ErrSessionExpired = fmt.Errorf("upload session expired: %w", ErrSessionNotOpen)

	// ErrHashMismatch indicates the assembled bytes do not match the declared SHA-256
	ErrHashMismatch = errors.New("sha256 mismatch")

	// ErrSizeMismatch indicates the assembled bytes do not match the declared length
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrAlreadyExists indicates a unique attribute, such as a capsule owner, is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrPayloadTooLarge indicates a payload exceeds a configured ceiling
	ErrPayloadTooLarge = errors.New("payload too large")
)

// SessionError represents an error related to upload session operations
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("upload operation %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// BlobError represents an error related to blob operations
type BlobError struct {
	BlobID string
	Op     string
	Err    error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob operation %s failed for blob %s: %v", e.Op, e.BlobID, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// MemoryError represents an error related to memory operations
type MemoryError struct {
	MemoryID string
	Op       string
	Err      error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory operation %s failed for memory %s: %v", e.Op, e.MemoryID, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error raised by a chunk backend
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
