package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rjooske/tabiji/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeURLs serializes image URLs for the image_urls column.
func encodeURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("failed to encode image urls: %w", err)
	}
	return string(b), nil
}

// scanGenerations scans GenerationRecords from sql.Rows.
func scanGenerations(rows *sql.Rows) ([]models.GenerationRecord, error) {
	var out []models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		var backend, status string
		var translated, errText sql.NullString
		var urls []byte
		err := rows.Scan(
			&rec.ID, &rec.UserID, &backend, &rec.Prompt, &translated,
			&urls, &status, &errText, &rec.StartedAt, &rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan generation failed: %w", err)
		}
		rec.Backend = models.Backend(backend)
		rec.Status = models.GenerationStatus(status)
		rec.TranslatedPrompt = translated.String
		rec.Error = errText.String
		if len(urls) > 0 {
			if err := json.Unmarshal(urls, &rec.ImageURLs); err != nil {
				return nil, fmt.Errorf("decode image urls for %s: %w", rec.ID, err)
			}
		}
		if len(rec.ImageURLs) == 0 {
			rec.ImageURLs = nil
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generation rows: %w", err)
	}
	return out, nil
}
