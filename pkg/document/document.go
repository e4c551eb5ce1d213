// Package document defines the canonical document model, the inverted
// metadata index, and the Store interface implemented by document backends.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
)

// Well-known metadata keys.
const (
	KeyCategory = "category"
	KeySource   = "source"
	KeyTitle    = "title"

	// KeyPublished holds the publication timestamp (RFC 3339 or YYYY-MM-DD).
	KeyPublished = "published"

	// Unknown is reported in summaries for documents without a category or source.
	Unknown = "unknown"
)

// Metadata is open-ended document metadata. Values are scalars (string,
// number, bool) or lists of scalars.
type Metadata map[string]any

// Document is a unit of retrievable text.
type Document struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Metadata    Metadata  `json:"metadata"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input describes a document to add. ID is optional.
type Input struct {
	ID       string   `json:"id,omitempty" yaml:"id,omitempty"`
	Text     string   `json:"text" yaml:"text"`
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Update describes a partial document mutation. A nil Text leaves the text
// unchanged; Metadata is shallow-merged over the existing metadata.
type Update struct {
	Text     *string  `json:"text,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// ContentHash returns the hex SHA-256 digest of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Metadata = d.Metadata.Clone()
	return &out
}

// Title returns the document's title metadata, if any.
func (d *Document) Title() string {
	s, _ := d.Metadata[KeyTitle].(string)
	return s
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns m with every key of other written over it.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	maps.Copy(out, other.Clone())
	return out
}

// StringValue returns the string value of key, or fallback when the key is
// absent or not a non-empty string.
func (m Metadata) StringValue(key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// NormalizeMetadata validates metadata values and converts them to the
// canonical representation used by the index and filters.
func NormalizeMetadata(m Metadata) (Metadata, error) {
	out := make(Metadata, len(m))
	for key, v := range m {
		if strings.TrimSpace(key) == "" {
			return nil, fault.Validation("metadata", "empty key")
		}
		norm, err := normalizeValue(key, v)
		if err != nil {
			return nil, err
		}
		out[key] = norm
	}
	return out, nil
}

func normalizeValue(key string, v any) (any, error) {
	switch t := v.(type) {
	case []any:
		list := make([]any, len(t))
		for i, item := range t {
			if !filter.IsScalar(item) {
				return nil, fault.Validation("metadata", "key %q: list items must be scalars", key)
			}
			list[i] = filter.Normalize(item)
		}
		return list, nil
	case []string:
		list := make([]any, len(t))
		for i, item := range t {
			list[i] = item
		}
		return list, nil
	default:
		if !filter.IsScalar(v) {
			return nil, fault.Validation("metadata", "key %q: unsupported value %v (%T)", key, v, v)
		}
		return filter.Normalize(v), nil
	}
}

// ValidateInput checks an Input before any work is done.
func ValidateInput(in Input) error {
	if strings.TrimSpace(in.Text) == "" {
		return fault.Validation("text", "document text is empty")
	}
	if _, err := NormalizeMetadata(in.Metadata); err != nil {
		return err
	}
	return nil
}
