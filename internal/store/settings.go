package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SettingsRepository manages the singleton settings document.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db.sql}
}

func (r *SettingsRepository) Get(ctx context.Context) (*Settings, error) {
	var docJSON string
	err := r.db.QueryRowContext(ctx, `SELECT doc_json FROM settings WHERE id = 1`).Scan(&docJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Settings{Templates: map[OrderStatus]NotificationTemplate{}}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal([]byte(docJSON), &s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) Put(ctx context.Context, s *Settings) error {
	docJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO settings (id, doc_json, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc_json = excluded.doc_json, updated_at = excluded.updated_at`,
		string(docJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}
