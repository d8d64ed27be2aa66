package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Product is the read-only local mirror of a catalog row. Catalog CRUD lives
// elsewhere; this repository only stores what checkout and the Nostr mirror
// need to read, upserted by whatever external process owns the catalog.
type Product struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	PriceSats int64           `json:"priceSats"`
	Doc       json.RawMessage `json:"doc"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db.sql}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*Product, error) {
	var p Product
	var docJSON string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, price_sats, doc_json, updated_at FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.PriceSats, &docJSON, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	p.Doc = json.RawMessage(docJSON)
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]*Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, price_sats, doc_json, updated_at FROM products ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		var p Product
		var docJSON string
		if err := rows.Scan(&p.ID, &p.Title, &p.PriceSats, &docJSON, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		p.Doc = json.RawMessage(docJSON)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *ProductRepository) Upsert(ctx context.Context, p *Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, title, price_sats, doc_json, updated_at) VALUES (?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, price_sats = excluded.price_sats,
		   doc_json = excluded.doc_json, updated_at = excluded.updated_at`,
		p.ID, p.Title, p.PriceSats, string(p.Doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}
