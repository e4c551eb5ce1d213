// Package ingest applies document writes to the document store and the
// vector index in lockstep. A write either lands in both stores or is rolled
// back from both, and every failure is returned to the caller.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/eventstream"
	"github.com/papercomputeco/finsight/pkg/eventstream/nop"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// DefaultTimeout bounds each vector index call.
const DefaultTimeout = 30 * time.Second

// Config is the configuration for a Manager.
type Config struct {
	Store    document.Store
	Vectors  vector.Driver
	Embedder embeddings.Embedder

	// Publisher receives lifecycle events after successful writes. Optional.
	Publisher eventstream.Publisher

	// Timeout bounds each vector index call. Defaults to DefaultTimeout.
	// Embedding requests are bounded one provider request at a time by the
	// Embedder, so a large batch never shares a single deadline.
	Timeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager serializes document writes across both stores.
type Manager struct {
	// mu serializes writes for every id.
	mu sync.Mutex

	store     document.Store
	vectors   vector.Driver
	embedder  embeddings.Embedder
	publisher eventstream.Publisher
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// AddResult reports the outcome of an add.
type AddResult struct {
	// IDs holds one id per input, in input order. Inputs whose text was
	// already stored report the existing id.
	IDs        []string `json:"ids"`
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Embedded   bool     `json:"embedded"`
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest requires a document store")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("ingest requires a vector index")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("ingest requires an embedder")
	}

	m := &Manager{
		store:     cfg.Store,
		vectors:   cfg.Vectors,
		embedder:  cfg.Embedder,
		publisher: cfg.Publisher,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if m.publisher == nil {
		m.publisher = nop.NewPublisher()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.logger == nil {
		m.logger = logger.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Add stores inputs and, when embed is true, indexes their embeddings. Every
// input is validated before any write. On failure every document created by
// this call is removed from both stores.
func (m *Manager) Add(ctx context.Context, inputs []document.Input, embed bool) (*AddResult, error) {
	if len(inputs) == 0 {
		return nil, fault.Validation("documents", "no documents given")
	}
	for i, in := range inputs {
		if err := document.ValidateInput(in); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if _, err := document.NormalizeMetadata(in.Metadata); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := &AddResult{IDs: make([]string, len(inputs)), Embedded: embed}
	var created []*document.Document

	for i, in := range inputs {
		doc, isNew, err := m.store.Add(ctx, in)
		if err != nil {
			m.rollbackAdd(ctx, created, false)
			return nil, fmt.Errorf("storing document %d: %w", i, err)
		}
		result.IDs[i] = doc.ID
		if isNew {
			created = append(created, doc)
		} else {
			result.Duplicates++
		}
	}
	result.Created = len(created)

	if embed && len(created) > 0 {
		if err := m.index(ctx, created); err != nil {
			m.rollbackAdd(ctx, created, true)
			return nil, err
		}
	}

	for _, doc := range created {
		m.publish(ctx, eventstream.EventTypeDocumentAdded, doc.ID, doc, embed)
	}

	m.logger.Info("documents added",
		"count", len(inputs),
		"created", result.Created,
		"duplicates", result.Duplicates,
		"embedded", embed,
	)
	return result, nil
}

// Update applies u to the document with id. Changed text is re-embedded;
// changed metadata is copied onto the existing vector record.
func (m *Manager) Update(ctx context.Context, id string, u document.Update) (*document.Document, error) {
	if u.Text == nil && len(u.Metadata) == 0 {
		return nil, fault.Validation("update", "nothing to update")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.Update(ctx, id, u)
	if err != nil {
		return nil, fmt.Errorf("updating document %s: %w", id, err)
	}
	if !ok {
		return nil, document.NotFoundError{ID: id}
	}

	updated, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading updated document %s: %w", id, err)
	}
	if updated.ContentHash == current.ContentHash && reflect.DeepEqual(updated.Metadata, current.Metadata) {
		return updated, nil
	}

	embedded, err := m.reindex(ctx, current, updated)
	if err != nil {
		if rerr := m.store.Restore(ctx, current); rerr != nil {
			m.logger.Error("rolling back document update failed",
				"doc_id", id,
				"error", rerr,
			)
		}
		return nil, err
	}

	m.publish(ctx, eventstream.EventTypeDocumentUpdated, id, updated, embedded)
	m.logger.Debug("document updated", "doc_id", id, "reembedded", updated.ContentHash != current.ContentHash)
	return updated, nil
}

// Delete removes the document with id from both stores. It returns false when
// id is unknown.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.store.Get(ctx, id)
	if err != nil {
		var nf document.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	records, err := m.vectors.Get(callCtx, []string{id})
	cancel()
	if err != nil {
		return false, m.vectorError("reading vector", err)
	}

	callCtx, cancel = context.WithTimeout(ctx, m.timeout)
	err = m.vectors.Delete(callCtx, []string{id})
	cancel()
	if err != nil {
		return false, m.vectorError("deleting vector", err)
	}

	if _, err := m.store.Delete(ctx, id); err != nil {
		if len(records) > 0 {
			if uerr := m.vectors.Upsert(ctx, records); uerr != nil {
				m.logger.Error("restoring vector after failed delete",
					"doc_id", id,
					"error", uerr,
				)
			}
		}
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}

	m.publish(ctx, eventstream.EventTypeDocumentDeleted, id, doc, false)
	m.logger.Debug("document deleted", "doc_id", id)
	return true, nil
}

// Exclusive runs fn while holding the write lock, so no add, update, delete
// or reconcile interleaves with it.
func (m *Manager) Exclusive(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// index embeds docs and upserts their vectors.
func (m *Manager) index(ctx context.Context, docs []*document.Document) error {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if fault.IsUnavailable(err) || fault.IsTimeout(err) {
			return fmt.Errorf("embedding documents: %w", err)
		}
		return fault.Unavailable(m.embedder.Info().Provider, fmt.Errorf("embedding documents: %w", err))
	}
	if len(vecs) != len(docs) {
		return fault.Unavailable(m.embedder.Info().Provider,
			fmt.Errorf("%w: got %d embeddings for %d documents", embeddings.ErrEmbedding, len(vecs), len(docs)))
	}

	records := make([]vector.Record, len(docs))
	for i, doc := range docs {
		records[i] = vector.Record{ID: doc.ID, Embedding: vecs[i], Metadata: doc.Metadata.Clone()}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err = m.vectors.Upsert(callCtx, records)
	cancel()
	if err != nil {
		return m.vectorError("upserting vectors", err)
	}
	return nil
}

// reindex brings the vector record for updated in line with the store. It
// reports whether the document has an embedding afterwards.
func (m *Manager) reindex(ctx context.Context, current, updated *document.Document) (bool, error) {
	if updated.ContentHash != current.ContentHash {
		return true, m.index(ctx, []*document.Document{updated})
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	records, err := m.vectors.Get(callCtx, []string{updated.ID})
	cancel()
	if err != nil {
		return false, m.vectorError("reading vector", err)
	}
	if len(records) == 0 {
		// Stored without an embedding; reconcile picks it up.
		return false, nil
	}

	records[0].Metadata = updated.Metadata.Clone()
	callCtx, cancel = context.WithTimeout(ctx, m.timeout)
	err = m.vectors.Upsert(callCtx, records)
	cancel()
	if err != nil {
		return false, m.vectorError("updating vector metadata", err)
	}
	return true, nil
}

func (m *Manager) rollbackAdd(ctx context.Context, created []*document.Document, vectors bool) {
	if len(created) == 0 {
		return
	}

	ids := make([]string, len(created))
	for i, doc := range created {
		ids[i] = doc.ID
	}

	if vectors {
		if err := m.vectors.Delete(ctx, ids); err != nil {
			m.logger.Error("rolling back vectors failed",
				"count", len(ids),
				"error", err,
			)
		}
	}
	for _, id := range ids {
		if _, err := m.store.Delete(ctx, id); err != nil {
			m.logger.Error("rolling back document failed",
				"doc_id", id,
				"error", err,
			)
		}
	}
	m.logger.Warn("add rolled back", "count", len(ids))
}

func (m *Manager) publish(ctx context.Context, eventType, id string, doc *document.Document, embedded bool) {
	event := eventstream.NewDocumentEvent(eventType, id, doc, embedded, m.now())
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("publishing document event failed",
			"event_type", eventType,
			"doc_id", id,
			"error", err,
		)
	}
}

func (m *Manager) vectorError(op string, err error) error {
	if fault.IsTimeout(err) {
		return fault.Timeout(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
