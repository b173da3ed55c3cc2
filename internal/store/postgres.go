// Package store provides storage backends for tabiji.
//
// This file implements a PostgreSQL-backed store for dedup and generation history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/rjooske/tabiji/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// AddGeneration stores a finished generation job.
func (s *PostgresStore) AddGeneration(rec models.GenerationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	urls, err := encodeURLs(rec.ImageURLs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO generations (id, user_id, backend, prompt, translated_prompt, image_urls, status, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, string(rec.Backend), rec.Prompt, nilIfEmpty(rec.TranslatedPrompt),
		urls, string(rec.Status), nilIfEmpty(rec.Error), rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddGeneration failed", "error", err, "id", rec.ID, "user_id", rec.UserID)
		return fmt.Errorf("failed to insert generation %s: %w", rec.ID, err)
	}
	slog.Debug("PostgresStore AddGeneration succeeded", "id", rec.ID, "status", rec.Status)
	return nil
}

// ListGenerations returns the newest generation records for userID.
func (s *PostgresStore) ListGenerations(userID string, limit int) ([]models.GenerationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, backend, prompt, translated_prompt, image_urls, status, error, started_at, finished_at
		 FROM generations WHERE user_id = $1 ORDER BY started_at DESC, id DESC LIMIT $2`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore ListGenerations query failed", "error", err)
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()
	return scanGenerations(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
