// Package inmemory provides the document.Store implementation. Documents and
// the metadata index live in memory; an optional document.Persister makes
// every write durable before it becomes visible.
package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/logger"
)

// Store implements document.Store.
type Store struct {
	// mu serializes writes; reads share it.
	mu sync.RWMutex

	docs   map[string]*document.Document
	byHash map[string]string
	index  *document.Index

	persister document.Persister
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister writes every mutation through p.
func WithPersister(p document.Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		docs:   make(map[string]*document.Document),
		byHash: make(map[string]string),
		index:  document.NewIndex(),
		logger: logger.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store and loads every persisted document, rebuilding the
// metadata index from them.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := NewStore(opts...)
	if s.persister == nil {
		return s, nil
	}

	docs, err := s.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	for _, doc := range docs {
		md, err := document.NormalizeMetadata(doc.Metadata)
		if err != nil {
			s.logger.Warn("skipping persisted document with invalid metadata",
				"doc_id", doc.ID,
				"error", err,
			)
			continue
		}
		doc.Metadata = md
		if doc.ContentHash == "" {
			doc.ContentHash = document.ContentHash(doc.Text)
		}
		s.insert(doc)
	}

	s.logger.Info("document store loaded", "count", len(s.docs))
	return s, nil
}

// Add stores a new document, or returns the existing one with identical text.
func (s *Store) Add(ctx context.Context, in document.Input) (*document.Document, bool, error) {
	if err := document.ValidateInput(in); err != nil {
		return nil, false, err
	}
	md, err := document.NormalizeMetadata(in.Metadata)
	if err != nil {
		return nil, false, err
	}
	hash := document.ContentHash(in.Text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		return s.docs[id].Clone(), false, nil
	}

	id := in.ID
	if id == "" {
		id = document.NewID()
	} else if _, exists := s.docs[id]; exists {
		return nil, false, fault.Validation("id", "document %q already exists with different content", id)
	}

	now := s.now()
	doc := &document.Document{
		ID:          id,
		Text:        in.Text,
		Metadata:    md,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.save(ctx, doc); err != nil {
		return nil, false, err
	}
	s.insert(doc)

	s.logger.Debug("document added", "doc_id", id)
	return doc.Clone(), true, nil
}

// Get returns the document with id.
func (s *Store) Get(_ context.Context, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, document.NotFoundError{ID: id}
	}
	return doc.Clone(), nil
}

// Update applies u to the document with id.
func (s *Store) Update(ctx context.Context, id string, u document.Update) (bool, error) {
	var md document.Metadata
	if len(u.Metadata) > 0 {
		var err error
		md, err = document.NormalizeMetadata(u.Metadata)
		if err != nil {
			return false, err
		}
	}
	if u.Text != nil && strings.TrimSpace(*u.Text) == "" {
		return false, fault.Validation("text", "document text is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[id]
	if !ok {
		return false, nil
	}

	updated := current.Clone()
	changed := false

	if u.Text != nil && *u.Text != current.Text {
		hash := document.ContentHash(*u.Text)
		if other, exists := s.byHash[hash]; exists && other != id {
			return false, fault.Validation("text", "identical content already stored as %q", other)
		}
		updated.Text = *u.Text
		updated.ContentHash = hash
		changed = true
	}

	if md != nil {
		merged := current.Metadata.Merge(md)
		if !reflect.DeepEqual(merged, current.Metadata) {
			updated.Metadata = merged
			changed = true
		}
	}

	if !changed {
		return true, nil
	}

	updated.UpdatedAt = s.now()
	if err := s.save(ctx, updated); err != nil {
		return false, err
	}
	s.remove(current)
	s.insert(updated)

	s.logger.Debug("document updated", "doc_id", id)
	return true, nil
}

// Delete removes the document with id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return false, nil
	}

	if s.persister != nil {
		if err := s.persister.Remove(ctx, id); err != nil {
			return false, fmt.Errorf("removing document %s: %w", id, err)
		}
	}
	s.remove(doc)

	s.logger.Debug("document deleted", "doc_id", id)
	return true, nil
}

// Restore writes doc as given, replacing any document with the same id.
func (s *Store) Restore(ctx context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return fault.Validation("id", "restored document needs an id")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fault.Validation("text", "document %q has empty text", doc.ID)
	}
	md, err := document.NormalizeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	restored := doc.Clone()
	restored.Metadata = md
	restored.ContentHash = document.ContentHash(restored.Text)
	if restored.CreatedAt.IsZero() {
		restored.CreatedAt = s.now()
	}
	if restored.UpdatedAt.IsZero() {
		restored.UpdatedAt = restored.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if other, ok := s.byHash[restored.ContentHash]; ok && other != restored.ID {
		return fault.Validation("text", "document %q duplicates the content of %q", restored.ID, other)
	}

	if err := s.save(ctx, restored); err != nil {
		return err
	}
	if existing, ok := s.docs[restored.ID]; ok {
		s.remove(existing)
	}
	s.insert(restored)
	return nil
}

// SearchByText returns filtered documents containing query.
func (s *Store) SearchByText(_ context.Context, query string, f filter.Expr, limit int) ([]*document.Document, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*document.Document
	for _, id := range s.candidatesLocked(f) {
		doc := s.docs[id]
		if !strings.Contains(strings.ToLower(doc.Text), needle) {
			continue
		}
		out = append(out, doc.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Filter returns the documents matching f.
func (s *Store) Filter(_ context.Context, f filter.Expr) ([]*document.Document, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.candidatesLocked(f)
	out := make([]*document.Document, len(ids))
	for i, id := range ids {
		out[i] = s.docs[id].Clone()
	}
	return out, nil
}

// List returns every document in id order.
func (s *Store) List(ctx context.Context) ([]*document.Document, error) {
	return s.Filter(ctx, nil)
}

// Count returns the number of documents.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Summary reports corpus statistics.
func (s *Store) Summary(_ context.Context) (*document.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &document.Summary{
		Total:      len(s.docs),
		Fields:     s.index.Fields(),
		Categories: make(map[string]int),
		Sources:    make(map[string]int),
	}
	for _, doc := range s.docs {
		summary.Categories[doc.Metadata.StringValue(document.KeyCategory, document.Unknown)]++
		summary.Sources[doc.Metadata.StringValue(document.KeySource, document.Unknown)]++
	}
	return summary, nil
}

// Clear removes every document.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Truncate(ctx); err != nil {
			return fmt.Errorf("truncating documents: %w", err)
		}
	}
	s.docs = make(map[string]*document.Document)
	s.byHash = make(map[string]string)
	s.index = document.NewIndex()
	return nil
}

// Close releases the persister, if any.
func (s *Store) Close() error {
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}

// candidatesLocked returns the ids matching f in sorted order. Callers hold mu.
func (s *Store) candidatesLocked(f filter.Expr) []string {
	var ids []string
	if f.IsEmpty() {
		ids = make([]string, 0, len(s.docs))
		for id := range s.docs {
			ids = append(ids, id)
		}
	} else {
		matched := s.index.Lookup(f)
		ids = make([]string, 0, len(matched))
		for id := range matched {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) save(ctx context.Context, doc *document.Document) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, doc); err != nil {
		return fmt.Errorf("persisting document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) insert(doc *document.Document) {
	s.docs[doc.ID] = doc
	s.byHash[doc.ContentHash] = doc.ID
	s.index.Add(doc.ID, doc.Metadata)
}

func (s *Store) remove(doc *document.Document) {
	delete(s.docs, doc.ID)
	if s.byHash[doc.ContentHash] == doc.ID {
		delete(s.byHash, doc.ContentHash)
	}
	s.index.Remove(doc.ID, doc.Metadata)
}

var _ document.Store = (*Store)(nil)
