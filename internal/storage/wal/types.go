package wal

import (
	"time"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the record shapes stored in the journal
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventFailure  EventType = "FAILURE"  // identifier yielded no metadata
	EventMetadata EventType = "METADATA" // book found and extracted
)

// Event represents one journal line
type Event struct {
	Seq       uint64              `json:"seq"`              // Event sequence number (monotonically increasing)
	Type      EventType           `json:"type"`             // Event type
	BookID    string              `json:"book_id"`          // Rendered identifier
	Reason    types.FailureReason `json:"reason,omitempty"` // FAILURE only
	Fields    map[string]string   `json:"fields,omitempty"` // METADATA only
	Timestamp int64               `json:"timestamp"`        // injection timestamp, Unix ms
	Checksum  uint32              `json:"checksum"`         // CRC32 checksum
}

// FailureRecord converts a FAILURE event.
func (e Event) FailureRecord() types.FailureRecord {
	return types.FailureRecord{
		BookID:     e.BookID,
		Reason:     e.Reason,
		InjectedAt: time.UnixMilli(e.Timestamp).UTC(),
	}
}

// MetadataRecord converts a METADATA event.
func (e Event) MetadataRecord() types.MetadataRecord {
	return types.MetadataRecord{
		ID:         e.BookID,
		Fields:     e.Fields,
		InjectedAt: time.UnixMilli(e.Timestamp).UTC(),
	}
}

// EventHandler is the function type for processing journal events during Replay.
// Returning an error aborts the replay.
type EventHandler func(event Event) error
