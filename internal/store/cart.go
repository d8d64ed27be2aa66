package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxCartItems bounds a cart snapshot.
const MaxCartItems = 24

// CartRepository stores the server-side cart mirror keyed by Nostr pubkey.
// Last-write-wins on serialized content; prices are never cached here (see
// shipping.Quote, invoked fresh at checkout).
type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db.sql}
}

func (r *CartRepository) Get(ctx context.Context, nostrPubkey string) (*CartSnapshot, error) {
	var itemsJSON string
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT items_json, updated_at FROM carts WHERE nostr_pubkey = ?`, nostrPubkey).
		Scan(&itemsJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &CartSnapshot{NostrPubkey: nostrPubkey}, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var items []CartItem
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	return &CartSnapshot{NostrPubkey: nostrPubkey, Items: items, UpdatedAt: updatedAt}, nil
}

func (r *CartRepository) Put(ctx context.Context, snapshot *CartSnapshot) error {
	if len(snapshot.Items) > MaxCartItems {
		return fmt.Errorf("%w: cart exceeds %d items", ErrValidation, MaxCartItems)
	}
	itemsJSON, err := json.Marshal(snapshot.Items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO carts (nostr_pubkey, items_json, updated_at) VALUES (?,?,?)
		 ON CONFLICT(nostr_pubkey) DO UPDATE SET items_json = excluded.items_json, updated_at = excluded.updated_at`,
		snapshot.NostrPubkey, string(itemsJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put cart: %w", err)
	}
	return nil
}
