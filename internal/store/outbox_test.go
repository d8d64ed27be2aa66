//go:build integration

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_Claim_FirstCallerWins(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	first, err := repo.Claim(ctx, "order-1", StatusPaid, "dm")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.Claim(ctx, "order-1", StatusPaid, "dm")
	require.NoError(t, err)
	assert.False(t, second, "duplicate claim must lose")
}

func TestOutbox_Claim_IsolatedByChannelAndTargetState(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	emailClaimed, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	assert.True(t, emailClaimed, "email channel has its own claim slot")

	prepClaimed, err := repo.Claim(ctx, "order-1", StatusPreparation, "dm")
	require.NoError(t, err)
	assert.True(t, prepClaimed, "a different target state has its own claim slot")
}

func TestOutbox_MarkDispatched_RecordsErrorWithoutRollingBackClaim(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	ok, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.MarkDispatched(ctx, "order-1", StatusPaid, "email", errors.New("smtp refused")))

	// The claim still stands: a second Claim call must not succeed, because
	// a failed send never rolls back the outbox claim.
	again, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestOutbox_Reset_AllowsReclaim(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	ok, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Reset(ctx, "order-1", StatusPaid, "email"))

	again, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	assert.True(t, again, "after Reset the claim slot is free again")
}

func TestOutbox_PendingDispatch_ListsUndispatchedWork(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	_, err := repo.Claim(ctx, "order-1", StatusPaid, "email")
	require.NoError(t, err)
	_, err = repo.Claim(ctx, "order-2", StatusPaid, "dm")
	require.NoError(t, err)
	require.NoError(t, repo.MarkDispatched(ctx, "order-2", StatusPaid, "dm", nil))

	pending, err := repo.PendingDispatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "order-1", pending[0].OrderID)
}
