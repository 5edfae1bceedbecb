// Package client is an HTTP client for the memories API.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/api"
)

// Client talks to a memories server
type Client struct {
	baseURL       string
	httpClient    *http.Client
	token         string
	chunkSize     int64
	retryAttempts int
	retryDelay    time.Duration
	progressFunc  ProgressFunc
}

// ProgressFunc is called after each chunk is stored with the bytes sent so far
type ProgressFunc func(bytesUploaded, total int64)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// NewClient creates a client for the server at baseURL, e.g. http://localhost:8080
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v1",
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		chunkSize:     memories.DefaultMaxChunkSize,
		retryAttempts: 3,
		retryDelay:    time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithToken sends a bearer token with every request
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithChunkSize sets the chunk size UploadFile splits payloads into
func WithChunkSize(size int64) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithRetry configures how chunk uploads are retried
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// WithProgress sets a progress callback function
func WithProgress(fn ProgressFunc) ClientOption {
	return func(c *Client) {
		c.progressFunc = fn
	}
}

// APIError is a non-2xx response. It unwraps to the matching memories sentinel
// so callers can use errors.Is(err, memories.ErrNotFound) and friends.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	// Result is the committed blob of a finish whose memory step failed.
	Result *memories.FinishResult
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("memories api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("memories api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return memories.ErrNotFound
	case "too_large":
		return memories.ErrPayloadTooLarge
	case "expired":
		return memories.ErrSessionExpired
	case "invalid":
		return memories.ErrInvalidArgument
	case "integrity":
		if strings.Contains(e.Message, memories.ErrHashMismatch.Error()) {
			return memories.ErrHashMismatch
		}
		return memories.ErrSizeMismatch
	case "conflict":
		switch {
		case strings.Contains(e.Message, memories.ErrIncompleteUpload.Error()):
			return memories.ErrIncompleteUpload
		case strings.Contains(e.Message, memories.ErrAlreadyExists.Error()):
			return memories.ErrAlreadyExists
		}
		return memories.ErrSessionNotOpen
	}
	return nil
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends a JSON request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorBody
	if json.Unmarshal(data, &body) == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.RequestID = body.Error.RequestID
		apiErr.Result = body.Result
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Capsules

func (c *Client) CreateCapsule(ctx context.Context, owner string) (*memories.Capsule, error) {
	var out memories.Capsule
	if err := c.do(ctx, http.MethodPost, "/capsules", api.CreateCapsuleRequest{Owner: owner}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveCapsule returns the capsule of owner, or of the token subject when owner is empty
func (c *Client) ResolveCapsule(ctx context.Context, owner string) (*memories.Capsule, error) {
	var out memories.Capsule
	if err := c.do(ctx, http.MethodPost, "/capsules/resolve", api.ResolveCapsuleRequest{Owner: owner}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCapsule(ctx context.Context, id string) (*memories.Capsule, error) {
	var out memories.Capsule
	if err := c.do(ctx, http.MethodGet, "/capsules/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Uploads

func (c *Client) BeginUpload(ctx context.Context, req memories.BeginUploadRequest) (*memories.UploadSession, error) {
	var out memories.UploadSession
	if err := c.do(ctx, http.MethodPost, "/uploads", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetUpload(ctx context.Context, sessionID string) (*memories.UploadSession, error) {
	var out memories.UploadSession
	if err := c.do(ctx, http.MethodGet, "/uploads/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutChunk stores one chunk. Writing an index again replaces it, so transport
// failures and 5xx responses are retried.
func (c *Client) PutChunk(ctx context.Context, sessionID string, index uint32, data []byte) (*memories.UploadSession, error) {
	path := "/uploads/" + url.PathEscape(sessionID) + "/chunks/" + strconv.FormatUint(uint64(index), 10)

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data), "application/octet-stream")
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("PUT %s: %w", path, err)
			continue
		}
		var out memories.UploadSession
		err = checkResponse(resp)
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&out)
		}
		resp.Body.Close()
		if err == nil {
			return &out, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("chunk %d failed after %d attempts: %w", index, c.retryAttempts, lastErr)
}

func (c *Client) FinishUpload(ctx context.Context, sessionID string, req api.FinishUploadRequest) (*memories.FinishResult, error) {
	var out memories.FinishResult
	if err := c.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(sessionID)+"/finish", req, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Result != nil {
			return apiErr.Result, err
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) AbortUpload(ctx context.Context, sessionID string) (*memories.UploadSession, error) {
	var out memories.UploadSession
	if err := c.do(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReapSessions(ctx context.Context) (*memories.ReapResult, error) {
	var out memories.ReapResult
	if err := c.do(ctx, http.MethodPost, "/uploads/reap", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile splits r into chunks of the configured size, uploads them and
// finishes the session with the locally computed hash. size must be the exact
// length of r. A failed upload is aborted so its chunks are released.
func (c *Client) UploadFile(ctx context.Context, capsuleID string, r io.Reader, size int64, memory *api.FinishMemoryRequest) (*memories.FinishResult, error) {
	expected := memories.ExpectedChunks(size, c.chunkSize)
	if expected == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", memories.ErrExpectedChunksZero)
	}
	if expected == math.MaxUint32 && size > int64(expected)*c.chunkSize {
		return nil, fmt.Errorf("%w: %d bytes do not fit in %d chunks of %d bytes", memories.ErrPayloadTooLarge, size, expected, c.chunkSize)
	}
	session, err := c.BeginUpload(ctx, memories.BeginUploadRequest{CapsuleID: capsuleID, ExpectedChunks: expected})
	if err != nil {
		return nil, err
	}

	result, err := c.uploadChunks(ctx, session, r, size, memory)
	if err != nil && result == nil {
		if _, aerr := c.AbortUpload(context.WithoutCancel(ctx), session.ID); aerr != nil && !errors.Is(aerr, memories.ErrSessionNotOpen) {
			err = errors.Join(err, fmt.Errorf("abort upload: %w", aerr))
		}
	}
	return result, err
}

func (c *Client) uploadChunks(ctx context.Context, session *memories.UploadSession, r io.Reader, size int64, memory *api.FinishMemoryRequest) (*memories.FinishResult, error) {
	h := sha256.New()
	buf := make([]byte, c.chunkSize)
	var sent int64
	for i := uint32(0); i < session.ExpectedChunks; i++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		h.Write(buf[:n])
		if _, err := c.PutChunk(ctx, session.ID, i, buf[:n]); err != nil {
			return nil, err
		}
		sent += int64(n)
		if c.progressFunc != nil {
			c.progressFunc(sent, size)
		}
	}

	var digest memories.Digest
	copy(digest[:], h.Sum(nil))
	return c.FinishUpload(ctx, session.ID, api.FinishUploadRequest{
		SHA256:      digest,
		TotalLength: sent,
		Memory:      memory,
	})
}

// Blobs

func (c *Client) GetBlob(ctx context.Context, blobID string) (*memories.BlobMeta, error) {
	var out memories.BlobMeta
	if err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(blobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReadBlob(ctx context.Context, blobID string) ([]byte, error) {
	return c.getBytes(ctx, "/blobs/"+url.PathEscape(blobID)+"/content")
}

func (c *Client) ReadBlobChunk(ctx context.Context, blobID string, index uint32) ([]byte, error) {
	return c.getBytes(ctx, "/blobs/"+url.PathEscape(blobID)+"/chunks/"+strconv.FormatUint(uint64(index), 10))
}

func (c *Client) DeleteBlob(ctx context.Context, blobID string) error {
	return c.do(ctx, http.MethodDelete, "/blobs/"+url.PathEscape(blobID), nil, nil)
}

// Memories

func (c *Client) CreateMemory(ctx context.Context, req api.CreateMemoryRequest) (*memories.Memory, error) {
	var out memories.Memory
	if err := c.do(ctx, http.MethodPost, "/memories", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMemory(ctx context.Context, memoryID string) (*memories.Memory, error) {
	var out memories.Memory
	if err := c.do(ctx, http.MethodGet, "/memories/"+url.PathEscape(memoryID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMemoryMetadata(ctx context.Context, memoryID string, md memories.MemoryMetadata) (*memories.Memory, error) {
	var out memories.Memory
	if err := c.do(ctx, http.MethodPut, "/memories/"+url.PathEscape(memoryID)+"/metadata", md, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMemory(ctx context.Context, memoryID string, cascade bool) (*memories.DeleteMemoryResult, error) {
	var out memories.DeleteMemoryResult
	path := "/memories/" + url.PathEscape(memoryID) + "?cascade=" + strconv.FormatBool(cascade)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMemories(ctx context.Context, capsuleID, cursor string, limit int) (*memories.MemoryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/capsules/" + url.PathEscape(capsuleID) + "/memories"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out memories.MemoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddBlobAsset(ctx context.Context, memoryID string, req api.BlobAssetRequest) (string, error) {
	return c.addAsset(ctx, memoryID, "blob", req)
}

func (c *Client) AddInlineAsset(ctx context.Context, memoryID string, req api.InlineAssetRequest) (string, error) {
	return c.addAsset(ctx, memoryID, "inline", req)
}

func (c *Client) AddExternalAsset(ctx context.Context, memoryID string, req api.ExternalAssetRequest) (string, error) {
	return c.addAsset(ctx, memoryID, "external", req)
}

func (c *Client) addAsset(ctx context.Context, memoryID, kind string, req any) (string, error) {
	var out api.AssetResponse
	if err := c.do(ctx, http.MethodPost, "/memories/"+url.PathEscape(memoryID)+"/assets/"+kind, req, &out); err != nil {
		return "", err
	}
	return out.AssetID, nil
}
