package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/finsight/pkg/document"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	EventTypeDocumentAdded   = "finsight.document.added"
	EventTypeDocumentUpdated = "finsight.document.updated"
	EventTypeDocumentDeleted = "finsight.document.deleted"
)

// DocumentEvent is a transport-neutral payload emitted after a document write
// has been applied to both the document store and the vector index.
type DocumentEvent struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventID       string            `json:"event_id"`
	EmittedAt     time.Time         `json:"emitted_at"`
	DocumentID    string            `json:"document_id"`
	ContentHash   string            `json:"content_hash,omitempty"`
	Metadata      document.Metadata `json:"metadata,omitempty"`
	Embedded      bool              `json:"embedded"`
}

// NewDocumentEvent builds an event for doc. A nil doc yields an event carrying
// only the id, which is what deletes of unknown content produce.
func NewDocumentEvent(eventType, id string, doc *document.Document, embedded bool, now time.Time) *DocumentEvent {
	event := &DocumentEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     now.UTC(),
		DocumentID:    id,
		Embedded:      embedded,
	}
	if doc != nil {
		event.ContentHash = doc.ContentHash
		event.Metadata = doc.Metadata.Clone()
	}
	return event
}
