package memories

import (
	"strings"

	"github.com/google/uuid"
)

// IDKind is the tag carried at the front of every identifier minted by this package.
type IDKind string

// Identifier kinds.
const (
	KindCapsule       IDKind = "cap"
	KindSession       IDKind = "upl"
	KindBlob          IDKind = "blob"
	KindMemory        IDKind = "mem"
	KindAsset         IDKind = "ast"
	KindInlineAsset   IDKind = "inl"
	KindExternalAsset IDKind = "ext"
)

var knownKinds = map[IDKind]string{
	KindCapsule:       "capsule",
	KindSession:       "upload session",
	KindBlob:          "blob",
	KindMemory:        "memory",
	KindAsset:         "asset",
	KindInlineAsset:   "inline asset",
	KindExternalAsset: "external asset",
}

// String returns a human readable name for the kind.
func (k IDKind) String() string {
	if name, ok := knownKinds[k]; ok {
		return name
	}
	return "unknown"
}

// NewID mints a fresh identifier of the given kind: "<kind>_<uuid>".
func NewID(kind IDKind) string {
	return string(kind) + "_" + uuid.NewString()
}

// ParseID splits an identifier into its kind and UUID.
// Malformed identifiers and unknown kinds yield ErrInvalidArgument.
func ParseID(id string) (IDKind, uuid.UUID, error) {
	prefix, rest, ok := strings.Cut(id, "_")
	if !ok {
		return "", uuid.Nil, invalidArgument("malformed identifier %q", id)
	}
	kind := IDKind(prefix)
	if _, known := knownKinds[kind]; !known {
		return "", uuid.Nil, invalidArgument("unknown identifier kind %q", prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, invalidArgument("malformed identifier %q", id)
	}
	return kind, u, nil
}

// ClassifyID returns the kind of id, or "" when it is not a well-formed identifier.
func ClassifyID(id string) IDKind {
	kind, _, err := ParseID(id)
	if err != nil {
		return ""
	}
	return kind
}

// RequireKind fails with ErrInvalidArgument unless id is a well-formed identifier of kind want.
func RequireKind(id string, want IDKind) error {
	kind, _, err := ParseID(id)
	if err != nil {
		return err
	}
	if kind != want {
		return invalidArgument("expected %s identifier, got %s identifier %q", want, kind, id)
	}
	return nil
}
