// Package store provides storage backends for tabiji.
//
// This file implements an SQLite-backed store for dedup and generation history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rjooske/tabiji/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time keeps "database is locked" away from concurrent jobs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddGeneration stores a finished generation job.
func (s *SQLiteStore) AddGeneration(rec models.GenerationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	urls, err := encodeURLs(rec.ImageURLs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO generations (id, user_id, backend, prompt, translated_prompt, image_urls, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Backend), rec.Prompt, nilIfEmpty(rec.TranslatedPrompt),
		urls, string(rec.Status), nilIfEmpty(rec.Error), rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore AddGeneration failed", "error", err, "id", rec.ID, "user_id", rec.UserID)
		return fmt.Errorf("failed to insert generation %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore AddGeneration succeeded", "id", rec.ID, "status", rec.Status)
	return nil
}

// ListGenerations returns the newest generation records for userID.
func (s *SQLiteStore) ListGenerations(userID string, limit int) ([]models.GenerationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, backend, prompt, translated_prompt, image_urls, status, error, started_at, finished_at
		 FROM generations WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore ListGenerations query failed", "error", err)
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()
	return scanGenerations(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
