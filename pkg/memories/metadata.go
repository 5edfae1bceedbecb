package memories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// AssetType tells whether an asset is the original file, a derivative of it
// or a small placeholder.
type AssetType string

// Asset type constants.
const (
	AssetTypeOriginal    AssetType = "original"
	AssetTypeDerivative  AssetType = "derivative"
	AssetTypePlaceholder AssetType = "placeholder"
)

// IsValid reports whether t is a known asset type.
func (t AssetType) IsValid() bool {
	switch t {
	case AssetTypeOriginal, AssetTypeDerivative, AssetTypePlaceholder:
		return true
	}
	return false
}

// AssetKind is the tag of the AssetMetadata union.
type AssetKind string

// Asset kind constants.
const (
	AssetKindImage    AssetKind = "image"
	AssetKindDocument AssetKind = "document"
	AssetKindAudio    AssetKind = "audio"
	AssetKindVideo    AssetKind = "video"
	AssetKindNote     AssetKind = "note"
)

// AssetBase is the record shared by every asset metadata variant.
type AssetBase struct {
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type"`
	Tags      []string   `json:"tags,omitempty"`
	Bytes     int64      `json:"bytes"`
	AssetType AssetType  `json:"asset_type"`
	SHA256    *Digest    `json:"sha256,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AssetMetadata is a tagged union of per-kind metadata. The set of variants is
// closed: ImageMetadata, DocumentMetadata, AudioMetadata, VideoMetadata and
// NoteMetadata.
type AssetMetadata interface {
	Kind() AssetKind
	Base() *AssetBase
	clone() AssetMetadata
}

// ImageMetadata describes an image asset.
type ImageMetadata struct {
	AssetBase
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

// DocumentMetadata describes a document asset.
type DocumentMetadata struct {
	AssetBase
	PageCount int    `json:"page_count,omitempty"`
	Language  string `json:"language,omitempty"`
}

// AudioMetadata describes an audio asset.
type AudioMetadata struct {
	AssetBase
	DurationMillis int64 `json:"duration_ms,omitempty"`
	SampleRate     int   `json:"sample_rate,omitempty"`
	Channels       int   `json:"channels,omitempty"`
}

// VideoMetadata describes a video asset.
type VideoMetadata struct {
	AssetBase
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	DurationMillis int64   `json:"duration_ms,omitempty"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
}

// NoteMetadata describes a text note asset.
type NoteMetadata struct {
	AssetBase
	Language string `json:"language,omitempty"`
}

func (m *ImageMetadata) Kind() AssetKind    { return AssetKindImage }
func (m *DocumentMetadata) Kind() AssetKind { return AssetKindDocument }
func (m *AudioMetadata) Kind() AssetKind    { return AssetKindAudio }
func (m *VideoMetadata) Kind() AssetKind    { return AssetKindVideo }
func (m *NoteMetadata) Kind() AssetKind     { return AssetKindNote }

func (m *ImageMetadata) Base() *AssetBase    { return &m.AssetBase }
func (m *DocumentMetadata) Base() *AssetBase { return &m.AssetBase }
func (m *AudioMetadata) Base() *AssetBase    { return &m.AssetBase }
func (m *VideoMetadata) Base() *AssetBase    { return &m.AssetBase }
func (m *NoteMetadata) Base() *AssetBase     { return &m.AssetBase }

func (m *ImageMetadata) clone() AssetMetadata {
	c := *m
	c.AssetBase = m.AssetBase.clone()
	return &c
}

func (m *DocumentMetadata) clone() AssetMetadata {
	c := *m
	c.AssetBase = m.AssetBase.clone()
	return &c
}

func (m *AudioMetadata) clone() AssetMetadata {
	c := *m
	c.AssetBase = m.AssetBase.clone()
	return &c
}

func (m *VideoMetadata) clone() AssetMetadata {
	c := *m
	c.AssetBase = m.AssetBase.clone()
	return &c
}

func (m *NoteMetadata) clone() AssetMetadata {
	c := *m
	c.AssetBase = m.AssetBase.clone()
	return &c
}

func (b AssetBase) clone() AssetBase {
	c := b
	c.Tags = append([]string(nil), b.Tags...)
	if b.SHA256 != nil {
		d := *b.SHA256
		c.SHA256 = &d
	}
	if b.DeletedAt != nil {
		t := *b.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// CloneAssetMetadata deep-copies m. A nil input yields nil.
func CloneAssetMetadata(m AssetMetadata) AssetMetadata {
	if m == nil {
		return nil
	}
	return m.clone()
}

// NewAssetMetadata returns an empty variant for kind.
func NewAssetMetadata(kind AssetKind) (AssetMetadata, error) {
	switch kind {
	case AssetKindImage:
		return &ImageMetadata{}, nil
	case AssetKindDocument:
		return &DocumentMetadata{}, nil
	case AssetKindAudio:
		return &AudioMetadata{}, nil
	case AssetKindVideo:
		return &VideoMetadata{}, nil
	case AssetKindNote:
		return &NoteMetadata{}, nil
	}
	return nil, invalidArgument("unknown asset kind %q", kind)
}

// ValidateAssetMetadata checks the fields every variant must carry.
func ValidateAssetMetadata(m AssetMetadata) error {
	if m == nil {
		return invalidArgument("asset metadata is required")
	}
	base := m.Base()
	if !base.AssetType.IsValid() {
		return invalidArgument("unknown asset type %q", base.AssetType)
	}
	if base.Bytes < 0 {
		return invalidArgument("asset size cannot be negative")
	}
	return nil
}

type assetMetadataEnvelope struct {
	Kind AssetKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalAssetMetadata encodes m as {"kind": ..., "data": {...}}. A nil m encodes as null.
func MarshalAssetMetadata(m AssetMetadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(assetMetadataEnvelope{Kind: m.Kind(), Data: data})
}

// UnmarshalAssetMetadata decodes the envelope written by MarshalAssetMetadata,
// dispatching on the kind tag.
func UnmarshalAssetMetadata(b []byte) (AssetMetadata, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var env assetMetadataEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode asset metadata: %w", err)
	}
	m, err := NewAssetMetadata(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, m); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", env.Kind, err)
		}
	}
	return m, nil
}

// MarshalJSON encodes the asset with tagged metadata.
func (a BlobAsset) MarshalJSON() ([]byte, error) {
	type alias BlobAsset
	md, err := MarshalAssetMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias(a), md})
}

// UnmarshalJSON decodes the asset and its tagged metadata.
func (a *BlobAsset) UnmarshalJSON(b []byte) error {
	type alias BlobAsset
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	md, err := UnmarshalAssetMetadata(aux.Metadata)
	if err != nil {
		return err
	}
	a.Metadata = md
	return nil
}

// MarshalJSON encodes the asset with tagged metadata.
func (a InlineAsset) MarshalJSON() ([]byte, error) {
	type alias InlineAsset
	md, err := MarshalAssetMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias(a), md})
}

// UnmarshalJSON decodes the asset and its tagged metadata.
func (a *InlineAsset) UnmarshalJSON(b []byte) error {
	type alias InlineAsset
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	md, err := UnmarshalAssetMetadata(aux.Metadata)
	if err != nil {
		return err
	}
	a.Metadata = md
	return nil
}

// MarshalJSON encodes the asset with tagged metadata.
func (a ExternalAsset) MarshalJSON() ([]byte, error) {
	type alias ExternalAsset
	md, err := MarshalAssetMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias(a), md})
}

// UnmarshalJSON decodes the asset and its tagged metadata.
func (a *ExternalAsset) UnmarshalJSON(b []byte) error {
	type alias ExternalAsset
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	md, err := UnmarshalAssetMetadata(aux.Metadata)
	if err != nil {
		return err
	}
	a.Metadata = md
	return nil
}
