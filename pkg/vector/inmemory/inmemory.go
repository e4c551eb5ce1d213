// Package inmemory provides an in-process vector.Driver using exact cosine
// distance. It suits tests and small corpora.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// Driver implements vector.Driver.
type Driver struct {
	mu         sync.RWMutex
	records    map[string]vector.Record
	dimensions int
}

// NewDriver creates an empty driver. When dimensions is zero the size is
// fixed by the first upsert.
func NewDriver(dimensions int) *Driver {
	return &Driver{
		records:    make(map[string]vector.Record),
		dimensions: dimensions,
	}
}

// Upsert stores records.
func (d *Driver) Upsert(_ context.Context, records []vector.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range records {
		if d.dimensions == 0 {
			d.dimensions = len(r.Embedding)
		}
		if len(r.Embedding) != d.dimensions {
			return fmt.Errorf("%w: record %s has %d dimensions, want %d",
				vector.ErrDimensions, r.ID, len(r.Embedding), d.dimensions)
		}
	}
	for _, r := range records {
		d.records[r.ID] = copyRecord(r)
	}
	return nil
}

// Query scans every record matching f.
func (d *Driver) Query(_ context.Context, embedding []float32, k int, f filter.Expr) ([]vector.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]vector.Match, 0, len(d.records))
	for id, r := range d.records {
		if !f.IsEmpty() && !f.Match(r.Metadata) {
			continue
		}
		matches = append(matches, vector.Match{
			ID:       id,
			Distance: 1 - embeddings.Cosine(embedding, r.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Get returns the stored records for ids.
func (d *Driver) Get(_ context.Context, ids []string) ([]vector.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]vector.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := d.records[id]; ok {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

// Delete removes records.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.records, id)
	}
	return nil
}

// Count returns the number of records.
func (d *Driver) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records), nil
}

// List returns every id in sorted order.
func (d *Driver) List(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.records))
	for id := range d.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear removes every record.
func (d *Driver) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = make(map[string]vector.Record)
	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

func copyRecord(r vector.Record) vector.Record {
	out := vector.Record{
		ID:        r.ID,
		Embedding: append([]float32(nil), r.Embedding...),
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

var _ vector.Driver = (*Driver)(nil)
