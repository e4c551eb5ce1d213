package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/vector"
	"github.com/papercomputeco/finsight/pkg/vector/inmemory"
)

// MockVectorDriver is a test vector driver backed by the in-memory driver,
// with injectable failures and orphan matches.
type MockVectorDriver struct {
	*inmemory.Driver

	mu         sync.Mutex
	failQuery  error
	failUpsert error
	failDelete error
	orphans    []vector.Match
	queries    []MockQuery
	ignoreF    bool
}

// MockQuery records one Query call.
type MockQuery struct {
	K      int
	Filter filter.Expr
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{Driver: inmemory.NewDriver(0)}
}

// FailQuery makes Query return err. Pass nil to clear.
func (m *MockVectorDriver) FailQuery(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failQuery = err
}

// FailUpsert makes Upsert return err. Pass nil to clear.
func (m *MockVectorDriver) FailUpsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpsert = err
}

// FailDelete makes Delete return err. Pass nil to clear.
func (m *MockVectorDriver) FailDelete(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete = err
}

// AddOrphans prepends matches with no backing document to every Query result.
func (m *MockVectorDriver) AddOrphans(matches ...vector.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans = append(m.orphans, matches...)
}

// IgnoreFilters makes Query skip filters, like a backend without pushdown.
func (m *MockVectorDriver) IgnoreFilters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreF = true
}

// Queries returns the recorded Query calls.
func (m *MockVectorDriver) Queries() []MockQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockQuery(nil), m.queries...)
}

func (m *MockVectorDriver) Upsert(ctx context.Context, records []vector.Record) error {
	m.mu.Lock()
	err := m.failUpsert
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Driver.Upsert(ctx, records)
}

func (m *MockVectorDriver) Query(ctx context.Context, embedding []float32, k int, f filter.Expr) ([]vector.Match, error) {
	m.mu.Lock()
	m.queries = append(m.queries, MockQuery{K: k, Filter: f})
	err := m.failQuery
	orphans := append([]vector.Match(nil), m.orphans...)
	if m.ignoreF {
		f = nil
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	matches, err := m.Driver.Query(ctx, embedding, k, f)
	if err != nil {
		return nil, err
	}
	return append(orphans, matches...), nil
}

func (m *MockVectorDriver) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	err := m.failDelete
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Driver.Delete(ctx, ids)
}

var _ vector.Driver = (*MockVectorDriver)(nil)
