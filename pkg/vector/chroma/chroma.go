// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for finsight embeddings.
	DefaultCollectionName = "finsight"

	listPageSize = 1000
)

// Driver implements vector.Driver using Chroma's v2 REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds connection attempts at startup. Defaults to 1.
	MaxRetries int

	// RetryDelay is the first delay between connection attempts; it doubles
	// up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewDriver connects to Chroma and gets or creates the collection, retrying
// while the server is starting.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	attempts := max(c.MaxRetries, 1)
	delay := c.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: collectionName,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d.collectionID, err = d.getOrCreateCollection(context.Background()); err == nil {
			break
		}
		if attempt == attempts {
			return nil, fmt.Errorf("%w: getting or creating collection %q after %d attempts: %w",
				vector.ErrConnection, collectionName, attempts, err)
		}
		logger.Warn("chroma not ready, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		time.Sleep(delay)
		delay = min(delay*2, maxDelay)
	}

	logger.Info("connected to Chroma",
		"url", c.URL,
		"collection", collectionName,
		"collection_id", d.collectionID,
	)

	return d, nil
}

func (d *Driver) collectionsURL() string {
	return d.baseURL + "/api/v2/tenants/default_tenant/databases/default_database/collections"
}

func (d *Driver) recordsURL(op string) string {
	return fmt.Sprintf("%s/%s/%s", d.collectionsURL(), d.collectionID, op)
}

// do sends a JSON request and decodes a JSON response into out, if non-nil.
func (d *Driver) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return vector.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	err := d.do(ctx, http.MethodPost, d.collectionsURL(), chromaCreateRequest{
		Name:        d.collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}, &collection)
	if err != nil {
		return "", err
	}
	return collection.ID, nil
}

// Upsert stores records, replacing existing ones.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
	}
	for i, r := range records {
		req.IDs[i] = r.ID
		req.Embeddings[i] = r.Embedding
		req.Metadatas[i] = encodeMetadata(r.Metadata)
	}

	if err := d.do(ctx, http.MethodPost, d.recordsURL("upsert"), req, nil); err != nil {
		return fmt.Errorf("upserting records: %w", err)
	}

	d.logger.Debug("upserted records to chroma", "count", len(records))
	return nil
}

// Query returns the k nearest records. Equality, membership and numeric
// range conditions are pushed down as a where clause.
func (d *Driver) Query(ctx context.Context, embedding []float32, k int, f filter.Expr) ([]vector.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	var resp chromaQueryResponse
	err := d.do(ctx, http.MethodPost, d.recordsURL("query"), chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
		Where:           buildWhere(f),
		Include:         []string{"distances"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	// One query embedding, so only the first group is populated.
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	ids := resp.IDs[0]
	var distances []float64
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}

	matches := make([]vector.Match, 0, len(ids))
	for i, id := range ids {
		m := vector.Match{ID: id, Distance: 1}
		if i < len(distances) {
			m.Distance = distances[i]
		}
		matches = append(matches, m)
	}

	d.logger.Debug("queried chroma", "results", len(matches))
	return matches, nil
}

// Get retrieves records by id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var resp chromaGetResponse
	err := d.do(ctx, http.MethodPost, d.recordsURL("get"), chromaGetRequest{
		IDs:     ids,
		Include: []string{"metadatas", "embeddings"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("getting records: %w", err)
	}

	records := make([]vector.Record, len(resp.IDs))
	for i, id := range resp.IDs {
		records[i].ID = id
		if i < len(resp.Metadatas) {
			records[i].Metadata = decodeMetadata(resp.Metadatas[i])
		}
		if i < len(resp.Embeddings) {
			records[i].Embedding = resp.Embeddings[i]
		}
	}
	return records, nil
}

// Delete removes records by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.do(ctx, http.MethodPost, d.recordsURL("delete"), chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	d.logger.Debug("deleted records from chroma", "count", len(ids))
	return nil
}

// Count returns the number of records in the collection.
func (d *Driver) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.do(ctx, http.MethodGet, d.recordsURL("count"), nil, &n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// List pages through every id in the collection.
func (d *Driver) List(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += listPageSize {
		var resp chromaGetResponse
		err := d.do(ctx, http.MethodPost, d.recordsURL("get"), chromaGetRequest{
			Include: []string{},
			Limit:   listPageSize,
			Offset:  offset,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("listing records: %w", err)
		}
		ids = append(ids, resp.IDs...)
		if len(resp.IDs) < listPageSize {
			return ids, nil
		}
	}
}

// Clear drops and recreates the collection.
func (d *Driver) Clear(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s", d.collectionsURL(), d.collectionName)
	if err := d.do(ctx, http.MethodDelete, url, nil, nil); err != nil && !errors.Is(err, vector.ErrNotFound) {
		return fmt.Errorf("deleting collection: %w", err)
	}

	id, err := d.getOrCreateCollection(ctx)
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	d.collectionID = id
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
