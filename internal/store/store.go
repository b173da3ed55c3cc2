// Package store provides storage backends for tabiji.
//
// It keeps two things: webhook event IDs, so redelivered events are handled
// once, and the history of finished generation jobs. In-flight jobs are never
// persisted; they live in the process-local registry only.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rjooske/tabiji/internal/models"
)

const (
	// DefaultHistoryLimit is used when ListGenerations is called with limit <= 0.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps a single ListGenerations call.
	MaxHistoryLimit = 100
)

// ErrEmptyEventID is returned when dedup is asked to record an event without ID.
var ErrEmptyEventID = errors.New("event id cannot be empty")

// Store is implemented by every backend.
type Store interface {
	DedupRepo
	HistoryRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open returns the backend for dsn: PostgreSQL or SQLite by DetectDSNType,
// or an in-memory store when dsn is empty.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("store.Open: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.Open: detected PostgreSQL DSN", "dsn_set", true)
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("store.Open: detected SQLite DSN", "db_path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// normalizeLimit applies DefaultHistoryLimit and MaxHistoryLimit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.Mutex
	dedup       map[string]*DedupRecord
	generations []models.GenerationRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{dedup: make(map[string]*DedupRecord)}
}

// IsDuplicate implements DedupRepo.
func (s *InMemoryStore) IsDuplicate(eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[eventID]
	return ok, nil
}

// RecordInbound implements DedupRepo.
func (s *InMemoryStore) RecordInbound(eventID, userID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[eventID]; ok {
		return false, nil
	}
	s.dedup[eventID] = &DedupRecord{EventID: eventID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

// MarkProcessed implements DedupRepo.
func (s *InMemoryStore) MarkProcessed(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[eventID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// PruneBefore implements DedupRepo.
func (s *InMemoryStore) PruneBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

// AddGeneration implements HistoryRepo.
func (s *InMemoryStore) AddGeneration(rec models.GenerationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.ImageURLs = append([]string(nil), rec.ImageURLs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations = append(s.generations, rec)
	return nil
}

// ListGenerations implements HistoryRepo.
func (s *InMemoryStore) ListGenerations(userID string, limit int) ([]models.GenerationRecord, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	var out []models.GenerationRecord
	for _, rec := range s.generations {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	return nil
}
