package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NostrBookkeepingRepository tracks the last-publish state of stall and
// product mirror events so internal/nostrmirror can skip republishing
// unchanged content.
type NostrBookkeepingRepository struct {
	db *sql.DB
}

func NewNostrBookkeepingRepository(db *DB) *NostrBookkeepingRepository {
	return &NostrBookkeepingRepository{db: db.sql}
}

func (r *NostrBookkeepingRepository) Get(ctx context.Context, kind, key string) (*NostrBookkeeping, error) {
	var b NostrBookkeeping
	var lastEventID, lastContentHash, ackJSON sql.NullString
	var lastPublishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT last_event_id, last_content_hash, last_published_at, last_ack_json FROM nostr_bookkeeping WHERE kind = ? AND key = ?`,
		kind, key,
	).Scan(&lastEventID, &lastContentHash, &lastPublishedAt, &ackJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &NostrBookkeeping{Kind: kind, Key: key}, nil
		}
		return nil, fmt.Errorf("get nostr bookkeeping: %w", err)
	}

	b.Kind = kind
	b.Key = key
	b.LastEventID = lastEventID.String
	b.LastContentHash = lastContentHash.String
	b.LastPublishedAt = lastPublishedAt.Time
	if ackJSON.Valid && ackJSON.String != "" {
		if err := json.Unmarshal([]byte(ackJSON.String), &b.LastAck); err != nil {
			return nil, fmt.Errorf("unmarshal last ack: %w", err)
		}
	}
	return &b, nil
}

func (r *NostrBookkeepingRepository) Put(ctx context.Context, b *NostrBookkeeping) error {
	ackJSON, err := json.Marshal(b.LastAck)
	if err != nil {
		return fmt.Errorf("marshal last ack: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO nostr_bookkeeping (kind, key, last_event_id, last_content_hash, last_published_at, last_ack_json)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(kind, key) DO UPDATE SET
		   last_event_id = excluded.last_event_id,
		   last_content_hash = excluded.last_content_hash,
		   last_published_at = excluded.last_published_at,
		   last_ack_json = excluded.last_ack_json`,
		b.Kind, b.Key, b.LastEventID, b.LastContentHash, time.Now().UTC(), string(ackJSON),
	)
	if err != nil {
		return fmt.Errorf("put nostr bookkeeping: %w", err)
	}
	return nil
}
