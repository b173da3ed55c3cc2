package store

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *SQLiteStore) IsDuplicate(eventID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT event_id FROM inbound_dedup WHERE event_id = ?`, eventID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(eventID, userID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (event_id, user_id, received_at) VALUES (?, ?, ?)`,
		eventID, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(eventID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE event_id = ?`,
		time.Now().UTC(), eventID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return result.RowsAffected()
}
