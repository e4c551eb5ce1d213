// Package snapshot exports and imports the full dataset as a self-describing
// JSON bundle of document records and vector records. Paths ending in .gz are
// gzip-compressed.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/vector"
)

const (
	// Format identifies finsight bundles.
	Format = "finsight.snapshot"

	// Version is the current bundle schema version.
	Version = 1

	pageSize = 256
)

// Bundle is the serialized dataset.
type Bundle struct {
	Format    string               `json:"format"`
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Embedding embeddings.ModelInfo `json:"embedding"`
	Documents []*document.Document `json:"documents"`
	Vectors   []vector.Record      `json:"vectors"`
}

// Stats summarizes an export or import.
type Stats struct {
	Documents int `json:"documents"`
	Vectors   int `json:"vectors"`

	// Skipped counts vector records without a matching document.
	Skipped int `json:"skipped"`
}

// Serializer runs fn with every other store writer held off.
// *ingest.Manager satisfies it.
type Serializer interface {
	Exclusive(fn func() error) error
}

// Config wires a Snapshotter to the stores it copies.
type Config struct {
	Store    document.Store
	Vectors  vector.Driver
	Embedder embeddings.Embedder

	// Writes serializes imports with other writers. Optional.
	Writes Serializer

	Logger *slog.Logger
	Now    func() time.Time
}

// Snapshotter reads and writes bundles.
type Snapshotter struct {
	store    document.Store
	vectors  vector.Driver
	embedder embeddings.Embedder
	writes   Serializer
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Snapshotter.
func New(cfg Config) (*Snapshotter, error) {
	if cfg.Store == nil || cfg.Vectors == nil {
		return nil, errors.New("snapshot requires a document store and a vector index")
	}
	s := &Snapshotter{
		store:    cfg.Store,
		vectors:  cfg.Vectors,
		embedder: cfg.Embedder,
		writes:   cfg.Writes,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Export writes the dataset to w.
func (s *Snapshotter) Export(ctx context.Context, w io.Writer) (*Stats, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	records, err := s.allVectors(ctx)
	if err != nil {
		return nil, err
	}

	bundle := Bundle{
		Format:    Format,
		Version:   Version,
		CreatedAt: s.now().UTC(),
		Documents: docs,
		Vectors:   records,
	}
	if s.embedder != nil {
		bundle.Embedding = s.embedder.Info()
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(bundle); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	stats := &Stats{Documents: len(docs), Vectors: len(records)}
	s.logger.Info("snapshot exported",
		"documents", stats.Documents,
		"vectors", stats.Vectors,
	)
	return stats, nil
}

// Import loads a bundle from r. With clearExisting both stores are emptied
// first; otherwise bundle records replace records with the same id. Vector
// records whose document is in neither the bundle nor the store are skipped.
// A failed import is undone, leaving both stores as they were.
func (s *Snapshotter) Import(ctx context.Context, r io.Reader, clearExisting bool) (*Stats, error) {
	var bundle Bundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fault.Validation("snapshot", "decoding bundle: %v", err)
	}
	if err := s.check(&bundle); err != nil {
		return nil, err
	}

	var stats *Stats
	run := func() error {
		var j journal
		var err error
		stats, err = s.apply(ctx, &bundle, clearExisting, &j)
		if err == nil {
			return nil
		}
		if uerr := j.undo(context.WithoutCancel(ctx)); uerr != nil {
			s.logger.Error("undoing failed import", "error", uerr)
			return errors.Join(err, fmt.Errorf("undoing import: %w", uerr))
		}
		s.logger.Warn("import failed, stores restored", "error", err)
		return err
	}

	var err error
	if s.writes != nil {
		err = s.writes.Exclusive(run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot imported",
		"documents", stats.Documents,
		"vectors", stats.Vectors,
		"skipped", stats.Skipped,
		"cleared", clearExisting,
	)
	return stats, nil
}

func (s *Snapshotter) apply(ctx context.Context, bundle *Bundle, clearExisting bool, j *journal) (*Stats, error) {
	if clearExisting {
		if err := s.clear(ctx, j); err != nil {
			return nil, err
		}
	}

	stats := &Stats{}
	for _, doc := range bundle.Documents {
		if err := s.restoreDocument(ctx, doc, j); err != nil {
			return nil, fmt.Errorf("restoring document %s: %w", doc.ID, err)
		}
		stats.Documents++
	}

	var batch []vector.Record
	for _, rec := range bundle.Vectors {
		if _, err := s.store.Get(ctx, rec.ID); err != nil {
			stats.Skipped++
			s.logger.Warn("skipping vector without document", "doc_id", rec.ID)
			continue
		}
		batch = append(batch, rec)
		if len(batch) == pageSize {
			if err := s.upsert(ctx, batch, j); err != nil {
				return nil, err
			}
			stats.Vectors += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.upsert(ctx, batch, j); err != nil {
			return nil, err
		}
		stats.Vectors += len(batch)
	}
	return stats, nil
}

// clear empties both stores after recording their contents.
func (s *Snapshotter) clear(ctx context.Context, j *journal) error {
	docs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	records, err := s.allVectors(ctx)
	if err != nil {
		return err
	}

	j.record(func(ctx context.Context) error {
		errs := []error{s.store.Clear(ctx), s.vectors.Clear(ctx)}
		for _, doc := range docs {
			errs = append(errs, s.store.Restore(ctx, doc))
		}
		for start := 0; start < len(records); start += pageSize {
			errs = append(errs, s.vectors.Upsert(ctx, records[start:min(start+pageSize, len(records))]))
		}
		return errors.Join(errs...)
	})

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	if err := s.vectors.Clear(ctx); err != nil {
		return fmt.Errorf("clearing vectors: %w", err)
	}
	return nil
}

func (s *Snapshotter) restoreDocument(ctx context.Context, doc *document.Document, j *journal) error {
	prior, err := s.store.Get(ctx, doc.ID)
	var notFound document.NotFoundError
	switch {
	case errors.As(err, &notFound):
		j.record(func(ctx context.Context) error {
			_, err := s.store.Delete(ctx, doc.ID)
			return err
		})
	case err != nil:
		return err
	default:
		j.record(func(ctx context.Context) error { return s.store.Restore(ctx, prior) })
	}
	return s.store.Restore(ctx, doc)
}

func (s *Snapshotter) upsert(ctx context.Context, batch []vector.Record, j *journal) error {
	ids := make([]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
	}
	prior, err := s.vectors.Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("reading vectors: %w", err)
	}
	existed := make(map[string]bool, len(prior))
	for _, rec := range prior {
		existed[rec.ID] = true
	}
	var added []string
	for _, id := range ids {
		if !existed[id] {
			added = append(added, id)
		}
	}

	j.record(func(ctx context.Context) error {
		var errs []error
		if len(added) > 0 {
			errs = append(errs, s.vectors.Delete(ctx, added))
		}
		if len(prior) > 0 {
			errs = append(errs, s.vectors.Upsert(ctx, prior))
		}
		return errors.Join(errs...)
	})

	if err := s.vectors.Upsert(ctx, batch); err != nil {
		return fmt.Errorf("restoring vectors: %w", err)
	}
	return nil
}

func (s *Snapshotter) allVectors(ctx context.Context) ([]vector.Record, error) {
	ids, err := s.vectors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vectors: %w", err)
	}

	records := make([]vector.Record, 0, len(ids))
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		page, err := s.vectors.Get(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("reading vectors: %w", err)
		}
		records = append(records, page...)
	}
	return records, nil
}

// journal holds the steps that undo an import, in the order they were
// recorded. Steps are recorded before the write they undo.
type journal struct {
	steps []func(context.Context) error
}

func (j *journal) record(step func(context.Context) error) {
	j.steps = append(j.steps, step)
}

// undo runs every step, newest first.
func (j *journal) undo(ctx context.Context) error {
	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		errs = append(errs, j.steps[i](ctx))
	}
	return errors.Join(errs...)
}

func (s *Snapshotter) check(b *Bundle) error {
	if b.Format != Format {
		return fault.Validation("snapshot", "unknown format %q", b.Format)
	}
	if b.Version < 1 || b.Version > Version {
		return fault.Validation("snapshot", "unsupported version %d", b.Version)
	}
	if s.embedder == nil || b.Embedding.Dimensions == 0 {
		return nil
	}
	if want := s.embedder.Info().Dimensions; want != 0 && want != b.Embedding.Dimensions {
		return fault.Validation("snapshot",
			"bundle embeddings have %d dimensions, configured model produces %d", b.Embedding.Dimensions, want)
	}
	return nil
}

// ExportFile writes a bundle to path, gzip-compressed when path ends in .gz.
func (s *Snapshotter) ExportFile(ctx context.Context, path string) (*Stats, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if compressed(path) {
		zw = gzip.NewWriter(f)
		w = zw
	}

	stats, err := s.Export(ctx, w)
	if err != nil {
		return nil, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compressing snapshot: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing snapshot file: %w", err)
	}
	return stats, nil
}

// ImportFile reads a bundle from path, decompressing when path ends in .gz.
func (s *Snapshotter) ImportFile(ctx context.Context, path string, clearExisting bool) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fault.Validation("snapshot", "reading gzip header: %v", err)
		}
		defer zr.Close()
		r = zr
	}
	return s.Import(ctx, r, clearExisting)
}

func compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
