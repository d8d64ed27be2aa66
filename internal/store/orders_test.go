//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() OrderDraft {
	return OrderDraft{
		Method:       MethodLightning,
		Provider:     "test-ln",
		PaymentHash:  "hash-" + time.Now().Format("150405.000000000"),
		SubtotalSats: 1000,
		ShippingSats: 100,
		TotalSats:    1100,
		Items:        []OrderItem{{ProductID: "p1", Title: "Widget", PriceSats: 1000, Qty: 1}},
		Destination:  ShippingDestination{Country: "IT"},
		Contact:      ContactInfo{Email: "buyer@example.com"},
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestOrders_Create_AssignsPendingStatus(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)

	order, err := repo.Create(context.Background(), validDraft())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, order.Status)
	assert.NotEmpty(t, order.ID)
	assert.False(t, order.UpdatedAt.Before(order.CreatedAt))
}

func TestOrders_Create_RejectsMissingContact(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)

	draft := validDraft()
	draft.Contact = ContactInfo{}

	_, err := repo.Create(context.Background(), draft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestOrders_Create_RejectsLedgerMismatch(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)

	draft := validDraft()
	draft.TotalSats = draft.SubtotalSats + draft.ShippingSats + 1

	_, err := repo.Create(context.Background(), draft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestOrders_Create_DuplicatePaymentHashConflicts(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)

	draft := validDraft()
	_, err := repo.Create(context.Background(), draft)
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), draft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPaymentRefExists))
}

func TestOrders_TransitionStatus_ConditionalUpdate(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)

	updated, current, err := repo.TransitionStatus(ctx, order.ID, []OrderStatus{StatusPending}, StatusPaid)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, StatusPaid, current.Status)

	// Second attempt from the same `from` set no longer matches: the order
	// is already PAID, so RowsAffected is 0.
	updated, current, err = repo.TransitionStatus(ctx, order.ID, []OrderStatus{StatusPending}, StatusPaid)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, StatusPaid, current.Status)
}

func TestOrders_TransitionStatus_ConcurrentDuplicateReportsFireOnce(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)

	results := make(chan bool, 2)
	race := func() {
		updated, _, err := repo.TransitionStatus(ctx, order.ID, []OrderStatus{StatusPending}, StatusPaid)
		require.NoError(t, err)
		results <- updated
	}
	go race()
	go race()

	first := <-results
	second := <-results
	assert.True(t, first != second, "exactly one of the two concurrent reports should win the transition")
}

func TestOrders_ByPaymentHash_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)

	_, err := repo.ByPaymentHash(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOrders_ListNonTerminal_ExcludesTerminalStatuses(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	live, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)

	draft2 := validDraft()
	draft2.PaymentHash = "hash-terminal"
	terminal, err := repo.Create(ctx, draft2)
	require.NoError(t, err)
	_, _, err = repo.TransitionStatus(ctx, terminal.ID, []OrderStatus{StatusPending}, StatusExpired)
	require.NoError(t, err)

	orders, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, o := range orders {
		ids[o.ID] = true
	}
	assert.True(t, ids[live.ID])
	assert.False(t, ids[terminal.ID])
}

func TestOrders_PrunePendingOlderThan(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)

	// Backdate created_at directly; Create always stamps "now".
	_, err = db.sql.ExecContext(ctx, `UPDATE orders SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour), order.ID)
	require.NoError(t, err)

	affected, err := repo.PrunePendingOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	pruned, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, pruned.Status)
}

func TestOrders_AdminSetStatus_RequiresCourierAndTrackingViaMachine(t *testing.T) {
	// Courier/tracking validation lives in orderstate.Machine.AdminSetStatus;
	// verify the repository-level update still only touches the targeted row.
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)

	updated, err := repo.AdminSetStatus(ctx, order.ID, StatusPreparation, "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusPreparation, updated.Status)
	assert.True(t, updated.AdminOverride)
}

func TestOrders_AdminSetStatus_RefusesTerminalRows(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, validDraft())
	require.NoError(t, err)
	_, _, err = repo.TransitionStatus(ctx, order.ID, []OrderStatus{StatusPending}, StatusExpired)
	require.NoError(t, err)

	_, err = repo.AdminSetStatus(ctx, order.ID, StatusPaid, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	unchanged, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, unchanged.Status)
}
