// Package qdrant provides a vector.Driver backed by Qdrant's gRPC API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for finsight embeddings.
	DefaultCollectionName = "finsight"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	scrollPageSize = 256
)

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Collection defaults to DefaultCollectionName.
	Collection string

	// Dimensions sizes the collection when it is created.
	Dimensions int
}

// Driver implements vector.Driver.
type Driver struct {
	client     *qc.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and creates the collection with cosine
// distance if it is missing.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if c.Dimensions <= 0 {
		return nil, errors.New("qdrant embedding dimensions must be configured")
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	collection := c.Collection
	if collection == "" {
		collection = DefaultCollectionName
	}

	client, err := qc.NewClient(&qc.Config{
		Host:   c.Host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}

	d := &Driver{
		client:     client,
		collection: collection,
		dimensions: c.Dimensions,
		logger:     logger,
	}
	if err := d.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("connected to Qdrant",
		"host", c.Host,
		"port", port,
		"collection", collection,
	)
	return d, nil
}

func (d *Driver) ensureCollection(ctx context.Context) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %w", vector.ErrConnection, d.collection, err)
	}
	if exists {
		return nil
	}

	err = d.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(d.dimensions), // #nosec G115 -- positive, checked in NewDriver
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", d.collection, err)
	}
	return nil
}

// Upsert stores records, replacing existing ones.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qc.PointStruct, len(records))
	for i, r := range records {
		if len(r.Embedding) != d.dimensions {
			return fmt.Errorf("%w: record %s has %d dimensions, want %d",
				vector.ErrDimensions, r.ID, len(r.Embedding), d.dimensions)
		}
		payload, err := qc.TryValueMap(payloadFor(r.ID, r.Metadata))
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", r.ID, err)
		}
		points[i] = &qc.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qc.NewVectors(r.Embedding...),
			Payload: payload,
		}
	}

	wait := true
	if _, err := d.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: d.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted records to qdrant", "count", len(records))
	return nil
}

// Query returns the k nearest records, with filters pushed down as payload
// conditions.
func (d *Driver) Query(ctx context.Context, embedding []float32, k int, f filter.Expr) ([]vector.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	limit := uint64(k) // #nosec G115 -- positive, checked above
	points, err := d.client.Query(ctx, &qc.QueryPoints{
		CollectionName: d.collection,
		Query:          qc.NewQuery(embedding...),
		Filter:         buildFilter(f),
		Limit:          &limit,
		WithPayload:    qc.NewWithPayloadInclude(docIDKey),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	matches := make([]vector.Match, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[docIDKey].GetStringValue()
		if id == "" {
			continue
		}
		// Cosine collections score by similarity.
		matches = append(matches, vector.Match{ID: id, Distance: 1 - float64(p.GetScore())})
	}

	d.logger.Debug("queried qdrant", "results", len(matches))
	return matches, nil
}

// Get retrieves records by id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qc.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	points, err := d.client.Get(ctx, &qc.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qc.NewWithPayload(true),
		WithVectors:    qc.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	records := make([]vector.Record, 0, len(points))
	for _, p := range points {
		id, md := metadataFrom(p.GetPayload())
		records = append(records, vector.Record{
			ID:        id,
			Embedding: p.GetVectors().GetVector().GetData(),
			Metadata:  md,
		})
	}
	return records, nil
}

// Delete removes records by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qc.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	wait := true
	if _, err := d.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: d.collection,
		Wait:           &wait,
		Points:         qc.NewPointsSelector(pointIDs...),
	}); err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted records from qdrant", "count", len(ids))
	return nil
}

// Count returns the exact number of points.
func (d *Driver) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := d.client.Count(ctx, &qc.CountPoints{
		CollectionName: d.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil // #nosec G115 -- point counts fit in int
}

// List scrolls through every point and returns the document ids.
func (d *Driver) List(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		offset *qc.PointId
	)
	limit := uint32(scrollPageSize)
	for {
		points, err := d.client.Scroll(ctx, &qc.ScrollPoints{
			CollectionName: d.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qc.NewWithPayloadInclude(docIDKey),
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling points: %w", err)
		}
		for _, p := range points {
			ids = append(ids, p.GetPayload()[docIDKey].GetStringValue())
		}
		if len(points) < scrollPageSize {
			return ids, nil
		}
		// The next page starts at the last id seen, which is returned again.
		offset = points[len(points)-1].GetId()
		ids = ids[:len(ids)-1]
	}
}

// Clear drops and recreates the collection.
func (d *Driver) Clear(ctx context.Context) error {
	if err := d.client.DeleteCollection(ctx, d.collection); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return d.ensureCollection(ctx)
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

var _ vector.Driver = (*Driver)(nil)
