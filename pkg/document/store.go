package document

import (
	"context"

	"github.com/papercomputeco/finsight/pkg/filter"
)

// Summary describes the stored corpus.
type Summary struct {
	Total      int              `json:"total"`
	Fields     map[string][]any `json:"fields"`
	Categories map[string]int   `json:"categories"`
	Sources    map[string]int   `json:"sources"`
}

// Store is canonical storage with metadata-filtered lookup.
type Store interface {
	// Add stores a new document. When a document with identical text already
	// exists it is returned unchanged and created is false.
	Add(ctx context.Context, in Input) (doc *Document, created bool, err error)

	// Get returns the document with id or a NotFoundError.
	Get(ctx context.Context, id string) (*Document, error)

	// Update applies u to the document with id. It returns false when id is
	// unknown. Text counts as changed only when it differs from the current text.
	Update(ctx context.Context, id string, u Update) (bool, error)

	// Delete removes the document and its index entries. It returns false
	// when id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// Restore writes doc exactly as given, replacing any document with the
	// same id. Used by snapshot import and write rollback.
	Restore(ctx context.Context, doc *Document) error

	// SearchByText returns filtered documents whose text contains query,
	// case-insensitively, in id order. A limit <= 0 means no limit.
	SearchByText(ctx context.Context, query string, f filter.Expr, limit int) ([]*Document, error)

	// Filter returns the documents matching f in id order. An empty f matches
	// every document.
	Filter(ctx context.Context, f filter.Expr) ([]*Document, error)

	// List returns every document in id order.
	List(ctx context.Context) ([]*Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Summary reports corpus statistics.
	Summary(ctx context.Context) (*Summary, error)

	// Clear removes every document.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Persister is durable storage behind a Store. Stores load the full corpus at
// startup and rebuild the metadata index from it.
type Persister interface {
	Load(ctx context.Context) ([]*Document, error)
	Save(ctx context.Context, doc *Document) error
	Remove(ctx context.Context, id string) error
	Truncate(ctx context.Context) error
	Close() error
}

// NotFoundError is returned when a document id is unknown.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "document not found"
	}
	return "document not found: " + e.ID
}
