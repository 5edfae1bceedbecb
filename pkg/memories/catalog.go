package memories

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Memory operations

func (s *service) CreateMemory(ctx context.Context, req CreateMemoryRequest) (*Memory, error) {
	if err := RequireKind(req.CapsuleID, KindCapsule); err != nil {
		return nil, err
	}
	if len(req.BlobAssets)+len(req.InlineAssets)+len(req.ExternalAssets) == 0 {
		return nil, invalidArgument("a memory needs at least one asset")
	}
	if _, err := s.repository.GetCapsule(ctx, req.CapsuleID); err != nil {
		return nil, err
	}

	now := s.now()
	memory := &Memory{
		ID:             NewID(KindMemory),
		CapsuleID:      req.CapsuleID,
		Metadata:       req.Metadata.clone(),
		BlobAssets:     make([]BlobAsset, 0, len(req.BlobAssets)),
		InlineAssets:   make([]InlineAsset, 0, len(req.InlineAssets)),
		ExternalAssets: make([]ExternalAsset, 0, len(req.ExternalAssets)),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := validateMemoryMetadata(memory.Metadata); err != nil {
		return nil, err
	}
	for _, in := range req.BlobAssets {
		asset, err := s.buildBlobAsset(ctx, req.CapsuleID, in, now)
		if err != nil {
			return nil, &MemoryError{MemoryID: memory.ID, Op: "create", Err: err}
		}
		memory.BlobAssets = append(memory.BlobAssets, asset)
	}
	for _, in := range req.InlineAssets {
		asset, err := s.buildInlineAsset(in, now)
		if err != nil {
			return nil, &MemoryError{MemoryID: memory.ID, Op: "create", Err: err}
		}
		memory.InlineAssets = append(memory.InlineAssets, asset)
	}
	for _, in := range req.ExternalAssets {
		asset, err := buildExternalAsset(in, now)
		if err != nil {
			return nil, &MemoryError{MemoryID: memory.ID, Op: "create", Err: err}
		}
		memory.ExternalAssets = append(memory.ExternalAssets, asset)
	}

	got, created, err := s.repository.CreateMemoryIfAbsent(ctx, memory)
	if err != nil {
		return nil, &MemoryError{MemoryID: memory.ID, Op: "create", Err: err}
	}
	if created {
		s.emit(ctx, "memory_created", func(e EventSink) error { return e.MemoryCreated(ctx, got) })
	}
	return got, nil
}

func (s *service) AddBlobAsset(ctx context.Context, memoryID string, in BlobAssetInput) (string, error) {
	memory, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return "", err
	}
	now := s.now()
	asset, err := s.buildBlobAsset(ctx, memory.CapsuleID, in, now)
	if err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_asset", Err: err}
	}
	if err := s.repository.AppendBlobAsset(ctx, memoryID, asset, now); err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_asset", Err: err}
	}
	return asset.AssetID, nil
}

func (s *service) AddInlineAsset(ctx context.Context, memoryID string, in InlineAssetInput) (string, error) {
	if _, err := s.GetMemory(ctx, memoryID); err != nil {
		return "", err
	}
	now := s.now()
	asset, err := s.buildInlineAsset(in, now)
	if err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_inline_asset", Err: err}
	}
	if err := s.repository.AppendInlineAsset(ctx, memoryID, asset, now); err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_inline_asset", Err: err}
	}
	return asset.AssetID, nil
}

func (s *service) AddExternalAsset(ctx context.Context, memoryID string, in ExternalAssetInput) (string, error) {
	if _, err := s.GetMemory(ctx, memoryID); err != nil {
		return "", err
	}
	now := s.now()
	asset, err := buildExternalAsset(in, now)
	if err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_external_asset", Err: err}
	}
	if err := s.repository.AppendExternalAsset(ctx, memoryID, asset, now); err != nil {
		return "", &MemoryError{MemoryID: memoryID, Op: "add_external_asset", Err: err}
	}
	return asset.AssetID, nil
}

func (s *service) GetMemory(ctx context.Context, memoryID string) (*Memory, error) {
	if err := RequireKind(memoryID, KindMemory); err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "read", Err: err}
	}
	memory, err := s.repository.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "read", Err: err}
	}
	return memory, nil
}

// UpdateMemoryMetadata replaces the top-level metadata. Assets are left untouched.
func (s *service) UpdateMemoryMetadata(ctx context.Context, memoryID string, metadata MemoryMetadata) (*Memory, error) {
	if err := RequireKind(memoryID, KindMemory); err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "update_metadata", Err: err}
	}
	if err := validateMemoryMetadata(metadata); err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "update_metadata", Err: err}
	}
	memory, err := s.repository.UpdateMemoryMetadata(ctx, memoryID, metadata.clone(), s.now())
	if err != nil {
		return nil, &MemoryError{MemoryID: memoryID, Op: "update_metadata", Err: err}
	}
	return memory, nil
}

func (s *service) ListMemories(ctx context.Context, req ListMemoriesRequest) (*MemoryPage, error) {
	if err := RequireKind(req.CapsuleID, KindCapsule); err != nil {
		return nil, err
	}
	if _, err := s.repository.GetCapsule(ctx, req.CapsuleID); err != nil {
		return nil, err
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	params := ListMemoriesParams{CapsuleID: req.CapsuleID, Limit: limit + 1}
	if req.Cursor != "" {
		at, id, err := decodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		params.AfterCreatedAt, params.AfterID = at, id
	}

	items, err := s.repository.ListMemories(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	page := &MemoryPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	if page.Items == nil {
		page.Items = []*Memory{}
	}
	return page, nil
}

func (s *service) buildBlobAsset(ctx context.Context, capsuleID string, in BlobAssetInput, now time.Time) (BlobAsset, error) {
	if err := RequireKind(in.BlobID, KindBlob); err != nil {
		return BlobAsset{}, err
	}
	meta, err := s.repository.GetBlobMeta(ctx, in.BlobID)
	if err != nil {
		return BlobAsset{}, err
	}
	if meta.CapsuleID != capsuleID {
		return BlobAsset{}, invalidArgument("blob %s belongs to another capsule", in.BlobID)
	}
	md, err := prepareAssetMetadata(in.Metadata, AssetKindDocument, meta.Size, meta.SHA256, now)
	if err != nil {
		return BlobAsset{}, err
	}
	return BlobAsset{
		AssetID:  NewID(KindAsset),
		BlobRef:  BlobRef{Locator: meta.ID, Length: meta.Size, SHA256: meta.SHA256},
		Metadata: md,
	}, nil
}

func (s *service) buildInlineAsset(in InlineAssetInput, now time.Time) (InlineAsset, error) {
	size := int64(len(in.Bytes))
	if size > s.limits.MaxInlineAssetSize {
		return InlineAsset{}, fmt.Errorf("%w: inline asset is %d bytes, limit is %d", ErrPayloadTooLarge, size, s.limits.MaxInlineAssetSize)
	}
	md, err := prepareAssetMetadata(in.Metadata, AssetKindImage, size, SumDigest(in.Bytes), now)
	if err != nil {
		return InlineAsset{}, err
	}
	if in.Metadata == nil {
		md.Base().AssetType = AssetTypePlaceholder
	}
	return InlineAsset{
		AssetID:  NewID(KindInlineAsset),
		Bytes:    append([]byte(nil), in.Bytes...),
		Metadata: md,
	}, nil
}

func buildExternalAsset(in ExternalAssetInput, now time.Time) (ExternalAsset, error) {
	loc := in.Location
	if strings.TrimSpace(loc.URI) == "" {
		return ExternalAsset{}, invalidArgument("external asset needs a uri")
	}
	u, err := url.Parse(loc.URI)
	if err != nil || u.Scheme == "" {
		return ExternalAsset{}, invalidArgument("external asset uri %q is not absolute", loc.URI)
	}
	if loc.Provider == "" {
		loc.Provider = strings.ToLower(u.Scheme)
	}
	md, err := prepareAssetMetadata(in.Metadata, AssetKindDocument, 0, Digest{}, now)
	if err != nil {
		return ExternalAsset{}, err
	}
	return ExternalAsset{
		AssetID:  NewID(KindExternalAsset),
		Location: loc,
		Metadata: md,
	}, nil
}

// prepareAssetMetadata copies md, or builds a default of fallback kind, and
// fills size, hash and timestamps the caller left empty.
func prepareAssetMetadata(md AssetMetadata, fallback AssetKind, size int64, digest Digest, now time.Time) (AssetMetadata, error) {
	if md == nil {
		md = defaultAssetMetadata(fallback)
	} else {
		md = CloneAssetMetadata(md)
	}
	base := md.Base()
	if base.AssetType == "" {
		base.AssetType = AssetTypeOriginal
	}
	if base.Bytes == 0 {
		base.Bytes = size
	}
	if base.SHA256 == nil && !digest.IsZero() {
		d := digest
		base.SHA256 = &d
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
	if err := ValidateAssetMetadata(md); err != nil {
		return nil, err
	}
	return md, nil
}

// defaultAssetMetadata returns an original asset of kind, falling back to a
// document for unknown kinds.
func defaultAssetMetadata(kind AssetKind) AssetMetadata {
	md, err := NewAssetMetadata(kind)
	if err != nil {
		md = &DocumentMetadata{}
	}
	md.Base().AssetType = AssetTypeOriginal
	return md
}

func validateMemoryMetadata(md MemoryMetadata) error {
	switch md.Kind {
	case "", MemoryKindImage, MemoryKindDocument, MemoryKindAudio, MemoryKindVideo, MemoryKindNote:
		return nil
	}
	return invalidArgument("unknown memory kind %q", md.Kind)
}

// Cursors are base64url("{created_at_unix_nano}:{memory_id}").

func encodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", invalidArgument("malformed cursor")
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, "", invalidArgument("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", invalidArgument("malformed cursor")
	}
	if ClassifyID(id) != KindMemory {
		return time.Time{}, "", invalidArgument("malformed cursor")
	}
	return time.Unix(0, n).UTC(), id, nil
}
