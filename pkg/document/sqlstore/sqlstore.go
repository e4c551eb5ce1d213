// Package sqlstore implements document.Persister over database/sql. Statements
// are built with ent's dialect-aware SQL builder so the same code serves
// SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/finsight/pkg/document"
)

// DefaultTable is the table documents are stored in.
const DefaultTable = "documents"

var columns = []string{"id", "text", "metadata", "content_hash", "created_at", "updated_at"}

// Persister stores documents in a single SQL table.
type Persister struct {
	db      *sql.DB
	dialect string
	table   string
}

// New wraps db and creates the documents table if it does not exist.
// dialectName is one of ent's dialect names (dialect.SQLite, dialect.Postgres).
func New(ctx context.Context, db *sql.DB, dialectName string) (*Persister, error) {
	switch dialectName {
	case dialect.SQLite, dialect.Postgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialectName)
	}

	p := &Persister{db: db, dialect: dialectName, table: DefaultTable}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persister) builder() *entsql.DialectBuilder {
	return entsql.Dialect(p.dialect)
}

func (p *Persister) migrate(ctx context.Context) error {
	query, args := p.builder().CreateTable(p.table).
		IfNotExists().
		Columns(
			entsql.Column("id").Type("varchar(255)").Attr("NOT NULL"),
			entsql.Column("text").Type("text").Attr("NOT NULL"),
			entsql.Column("metadata").Type("text").Attr("NOT NULL"),
			entsql.Column("content_hash").Type("varchar(64)").Attr("NOT NULL"),
			entsql.Column("created_at").Type("varchar(64)").Attr("NOT NULL"),
			entsql.Column("updated_at").Type("varchar(64)").Attr("NOT NULL"),
		).
		PrimaryKey("id").
		Query()
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_content_hash ON %s (content_hash)", p.table, p.table)
	if _, err := p.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to create content hash index: %w", err)
	}
	return nil
}

// Load returns every stored document in id order.
func (p *Persister) Load(ctx context.Context) ([]*document.Document, error) {
	query, args := p.builder().
		Select(columns...).
		From(entsql.Table(p.table)).
		OrderBy("id").
		Query()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		var (
			doc                  document.Document
			metadata             string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metadata, &doc.ContentHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", doc.ID, err)
		}
		if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decoding created_at for %s: %w", doc.ID, err)
		}
		if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("decoding updated_at for %s: %w", doc.ID, err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Save upserts doc by id.
func (p *Persister) Save(ctx context.Context, doc *document.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query, args := p.builder().Insert(p.table).
		Columns(columns...).
		Values(
			doc.ID,
			doc.Text,
			string(metadata),
			doc.ContentHash,
			doc.CreatedAt.UTC().Format(time.RFC3339Nano),
			doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

// Remove deletes the row for id. Unknown ids are not an error.
func (p *Persister) Remove(ctx context.Context, id string) error {
	query, args := p.builder().Delete(p.table).
		Where(entsql.EQ("id", id)).
		Query()
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// Truncate deletes every row.
func (p *Persister) Truncate(ctx context.Context) error {
	query, args := p.builder().Delete(p.table).Query()
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("truncating documents: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *Persister) Close() error {
	return p.db.Close()
}

var _ document.Persister = (*Persister)(nil)
