// Package vector defines the Vector Index capability: per-document embeddings
// with nearest-neighbor queries under optional metadata filters.
package vector

import (
	"context"
	"math"

	"github.com/papercomputeco/finsight/pkg/filter"
)

// Record is one stored embedding. Metadata is a copy of the owning
// document's metadata, kept for backend-side filtering.
type Record struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Match is a query hit. Distance is the cosine distance in [0, 2].
type Match struct {
	ID       string
	Distance float64
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Upsert stores records, replacing any with the same ID.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to k records nearest to embedding, ordered by
	// ascending distance. Drivers apply f as far as their backend allows;
	// callers must not assume every match satisfies f.
	Query(ctx context.Context, embedding []float32, k int, f filter.Expr) ([]Match, error)

	// Get returns the records for ids. Unknown ids are skipped.
	Get(ctx context.Context, ids []string) ([]Record, error)

	// Delete removes records by id. Unknown ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// List returns every stored id.
	List(ctx context.Context) ([]string, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close releases any resources held by the driver.
	Close() error
}

// Similarity converts a cosine distance to a similarity score in [0, 1].
// Vectors pointing away from each other score 0.
func Similarity(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}
