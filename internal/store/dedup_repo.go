package store

import (
	"time"

	"github.com/rjooske/tabiji/internal/models"
)

// DedupRecord represents an inbound webhook event deduplication record.
type DedupRecord struct {
	EventID     string     `json:"event_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound webhook event deduplication.
type DedupRepo interface {
	// IsDuplicate checks if an event ID has already been recorded.
	IsDuplicate(eventID string) (bool, error)

	// RecordInbound inserts a new inbound event record. Returns false if the
	// event was already recorded (duplicate).
	RecordInbound(eventID, userID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an event.
	MarkProcessed(eventID string) error

	// PruneBefore deletes records received before cutoff and returns how
	// many were removed.
	PruneBefore(cutoff time.Time) (int64, error)
}

// HistoryRepo stores finished generation jobs.
type HistoryRepo interface {
	// AddGeneration persists a validated record.
	AddGeneration(rec models.GenerationRecord) error

	// ListGenerations returns the newest records for userID first.
	ListGenerations(userID string, limit int) ([]models.GenerationRecord, error)
}
