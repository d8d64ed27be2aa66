package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxRepository implements the at-most-once notification guarantee with a
// SQLite "INSERT OR IGNORE" as an atomic claim, backed by the authoritative
// store so the claim survives restart instead of expiring with a TTL.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db.sql}
}

// Claim returns true the first time this (orderId, targetState, channel)
// tuple is claimed, false on every subsequent call; callers only perform
// the side effect when Claim returns true.
func (r *OutboxRepository) Claim(ctx context.Context, orderID string, targetState OrderStatus, channel string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outbox (order_id, target_state, channel, claimed_at, dispatched) VALUES (?,?,?,?,0)`,
		orderID, targetState, channel, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim outbox row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkDispatched records the outcome of a claimed side effect. Failures are
// recorded but never roll back the claim; repair is an explicit admin
// action via Reset.
func (r *OutboxRepository) MarkDispatched(ctx context.Context, orderID string, targetState OrderStatus, channel string, lastErr error) error {
	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET dispatched = 1, last_error = ? WHERE order_id = ? AND target_state = ? AND channel = ?`,
		nullIfEmpty(errText), orderID, targetState, channel,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

// Reset deletes an outbox row so the notification can be re-enqueued, the
// backing operation of the operator "resend" action.
func (r *OutboxRepository) Reset(ctx context.Context, orderID string, targetState OrderStatus, channel string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE order_id = ? AND target_state = ? AND channel = ?`,
		orderID, targetState, channel,
	)
	if err != nil {
		return fmt.Errorf("reset outbox row: %w", err)
	}
	return nil
}

// PendingDispatch lists claimed-but-not-yet-dispatched rows, oldest claim
// first, up to limit.
func (r *OutboxRepository) PendingDispatch(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, target_state, channel FROM outbox WHERE dispatched = 0 ORDER BY claimed_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox rows: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.OrderID, &row.TargetState, &row.Channel); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type OutboxRow struct {
	OrderID     string
	TargetState OrderStatus
	Channel     string
}
