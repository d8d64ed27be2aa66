package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderRepository handles all database operations for orders.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db.sql}
}

// newOrderID mints a short opaque, printable, case-insensitive-unique id: a
// truncated lowercase uuid, short enough to read aloud to support.
func newOrderID() string {
	return strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
}

func (r *OrderRepository) Create(ctx context.Context, draft OrderDraft) (*Order, error) {
	if draft.Contact.Empty() {
		return nil, fmt.Errorf("%w: at least one contact channel is required", ErrValidation)
	}
	if draft.TotalSats != draft.SubtotalSats+draft.ShippingSats {
		return nil, fmt.Errorf("%w: totalSats must equal subtotalSats + shippingSats", ErrValidation)
	}
	if draft.Method == MethodLightning && draft.PaymentHash == "" {
		return nil, fmt.Errorf("%w: lightning order requires paymentHash", ErrValidation)
	}
	if draft.Method == MethodOnchain && (draft.SwapID == "" || draft.OnchainAddress == "") {
		return nil, fmt.Errorf("%w: onchain order requires swapId and onchainAddress", ErrValidation)
	}

	now := time.Now().UTC()
	order := &Order{
		ID:                 newOrderID(),
		Method:             draft.Method,
		Provider:           draft.Provider,
		PaymentHash:        draft.PaymentHash,
		PaymentRequest:     draft.PaymentRequest,
		SwapID:             draft.SwapID,
		OnchainAddress:     draft.OnchainAddress,
		OnchainAmountSats:  draft.OnchainAmountSats,
		BIP21:              draft.BIP21,
		SubtotalSats:       draft.SubtotalSats,
		ShippingSats:       draft.ShippingSats,
		TotalSats:          draft.TotalSats,
		Items:              draft.Items,
		Destination:        draft.Destination,
		Contact:            draft.Contact,
		Notes:              draft.Notes,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          draft.ExpiresAt,
		SessionID:          draft.SessionID,
		ContactNostrPubkey: draft.ContactNostrPubkey,
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	destJSON, err := json.Marshal(order.Destination)
	if err != nil {
		return nil, fmt.Errorf("marshal destination: %w", err)
	}
	contactJSON, err := json.Marshal(order.Contact)
	if err != nil {
		return nil, fmt.Errorf("marshal contact: %w", err)
	}

	query := `INSERT INTO orders (
		id, method, provider, payment_hash, payment_request, swap_id,
		onchain_address, onchain_amount_sats, bip21, subtotal_sats,
		shipping_sats, total_sats, items_json, destination_json,
		contact_json, notes, status, created_at, updated_at, expires_at,
		courier, tracking, contact_nostr_pubkey, session_id, admin_override
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

	_, err = r.db.ExecContext(ctx, query,
		order.ID, order.Method, order.Provider, nullIfEmpty(order.PaymentHash), nullIfEmpty(order.PaymentRequest),
		nullIfEmpty(order.SwapID), nullIfEmpty(order.OnchainAddress), order.OnchainAmountSats, nullIfEmpty(order.BIP21),
		order.SubtotalSats, order.ShippingSats, order.TotalSats, string(itemsJSON), string(destJSON),
		string(contactJSON), order.Notes, order.Status, order.CreatedAt, order.UpdatedAt, order.ExpiresAt,
		order.Courier, order.Tracking, nullIfEmpty(order.ContactNostrPubkey), order.SessionID, order.AdminOverride,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: payment reference already bound", ErrPaymentRefExists)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

// TransitionStatus performs the conditional UPDATE that is the state
// machine's only mutation path: the write lands only if the row's status is
// still in `from`, and RowsAffected tells the caller whether it won.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from []OrderStatus, to OrderStatus) (bool, *Order, error) {
	if len(from) == 0 {
		return false, nil, fmt.Errorf("%w: from must be non-empty", ErrValidation)
	}

	placeholders := make([]string, len(from))
	args := make([]any, 0, len(from)+2)
	args = append(args, to, time.Now().UTC())
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, s)
	}
	args = append(args, id)

	query := fmt.Sprintf(
		`UPDATE orders SET status = ?, updated_at = ? WHERE status IN (%s) AND id = ?`,
		strings.Join(placeholders, ","),
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, nil, fmt.Errorf("transition order %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return false, nil, getErr
	}

	return affected > 0, current, nil
}

// AdminSetStatus is the one mutation path that bypasses the `from` allow
// list, used only by orderstate.Machine.AdminSetStatus. The UPDATE still
// refuses terminal rows, so a racing watcher cannot hand the admin a
// just-expired order to resurrect.
func (r *OrderRepository) AdminSetStatus(ctx context.Context, id string, to OrderStatus, courier, tracking string) (*Order, error) {
	query := `UPDATE orders SET status = ?, updated_at = ?, courier = COALESCE(NULLIF(?, ''), courier),
		tracking = COALESCE(NULLIF(?, ''), tracking), admin_override = 1
		WHERE id = ? AND status NOT IN (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), courier, tracking, id,
		StatusShipped, StatusExpired, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("admin set status %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: order %s is %s, a terminal state", ErrConflict, id, current.Status)
	}
	return r.Get(ctx, id)
}

const selectOrderColumns = `id, method, provider, payment_hash, payment_request, swap_id,
	onchain_address, onchain_amount_sats, bip21, subtotal_sats, shipping_sats,
	total_sats, items_json, destination_json, contact_json, notes, status,
	created_at, updated_at, expires_at, courier, tracking,
	contact_nostr_pubkey, session_id, admin_override`

func (r *OrderRepository) scanOrder(row interface {
	Scan(dest ...any) error
}) (*Order, error) {
	var o Order
	var paymentHash, paymentRequest, swapID, onchainAddress, bip21, contactNostrPubkey sql.NullString
	var itemsJSON, destJSON, contactJSON string

	err := row.Scan(
		&o.ID, &o.Method, &o.Provider, &paymentHash, &paymentRequest, &swapID,
		&onchainAddress, &o.OnchainAmountSats, &bip21, &o.SubtotalSats, &o.ShippingSats,
		&o.TotalSats, &itemsJSON, &destJSON, &contactJSON, &o.Notes, &o.Status,
		&o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt, &o.Courier, &o.Tracking,
		&contactNostrPubkey, &o.SessionID, &o.AdminOverride,
	)
	if err != nil {
		return nil, err
	}

	o.PaymentHash = paymentHash.String
	o.PaymentRequest = paymentRequest.String
	o.SwapID = swapID.String
	o.OnchainAddress = onchainAddress.String
	o.BIP21 = bip21.String
	o.ContactNostrPubkey = contactNostrPubkey.String

	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal([]byte(destJSON), &o.Destination); err != nil {
		return nil, fmt.Errorf("unmarshal destination: %w", err)
	}
	if err := json.Unmarshal([]byte(contactJSON), &o.Contact); err != nil {
		return nil, fmt.Errorf("unmarshal contact: %w", err)
	}

	return &o, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectOrderColumns+` FROM orders WHERE id = ?`, id)
	o, err := r.scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *OrderRepository) ByPaymentHash(ctx context.Context, paymentHash string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectOrderColumns+` FROM orders WHERE payment_hash = ?`, paymentHash)
	o, err := r.scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order by payment hash: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) BySwapID(ctx context.Context, swapID string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectOrderColumns+` FROM orders WHERE swap_id = ?`, swapID)
	o, err := r.scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order by swap id: %w", err)
	}
	return o, nil
}

// ListMineByContact returns every order bound to either the given session id
// or nostr pubkey, the union /api/orders/mine exposes.
func (r *OrderRepository) ListMineByContact(ctx context.Context, sessionID, nostrPubkey string) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectOrderColumns+` FROM orders WHERE session_id = ? OR (contact_nostr_pubkey = ? AND ? != '') ORDER BY created_at DESC`,
		sessionID, nostrPubkey, nostrPubkey,
	)
	if err != nil {
		return nil, fmt.Errorf("list mine: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListNonTerminal is the startup-recovery query: every order a Payment
// Watcher must be (re)spawned for, i.e. orders whose payment is still
// undecided. PAID and later fulfillment states need no watcher.
func (r *OrderRepository) ListNonTerminal(ctx context.Context) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectOrderColumns+` FROM orders WHERE status IN (?, ?, ?)`,
		StatusPending, StatusMempool, StatusConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PrunePendingOlderThan expires stale PENDING and MEMPOOL orders past the
// configured TTL, returning the number of rows affected.
func (r *OrderRepository) PrunePendingOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE status IN (?, ?) AND created_at < ?`,
		StatusExpired, time.Now().UTC(), StatusPending, StatusMempool, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune pending orders: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures as an error whose
	// message contains "UNIQUE constraint failed"; it exports no typed
	// error to match on.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
