//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepository_GetOnEmptyReturnsZeroValue(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewSettingsRepository(db)

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.StoreName)
}

func TestSettingsRepository_PutThenGetRoundTrips(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewSettingsRepository(db)

	want := &Settings{
		StoreName: "Sats & Crafts",
		Shipping:  ShippingSettings{ZoneSats: map[string]int64{"US": 500, "ALL": 1000}},
	}
	require.NoError(t, repo.Put(context.Background(), want))

	got, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.StoreName, got.StoreName)
	assert.Equal(t, want.Shipping.ZoneSats, got.Shipping.ZoneSats)
}

func TestSettingsRepository_PutTwiceUpsertsSingletonRow(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewSettingsRepository(db)

	require.NoError(t, repo.Put(context.Background(), &Settings{StoreName: "First"}))
	require.NoError(t, repo.Put(context.Background(), &Settings{StoreName: "Second"}))

	got, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Second", got.StoreName)
}

func TestProductRepository_UpsertThenGet(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewProductRepository(db)

	require.NoError(t, repo.Upsert(context.Background(), &Product{ID: "p1", Title: "Widget", PriceSats: 1500}))
	got, err := repo.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Title)
	assert.Equal(t, int64(1500), got.PriceSats)
}

func TestProductRepository_UpsertUpdatesExistingRow(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewProductRepository(db)

	require.NoError(t, repo.Upsert(context.Background(), &Product{ID: "p1", Title: "Widget", PriceSats: 1500}))
	require.NoError(t, repo.Upsert(context.Background(), &Product{ID: "p1", Title: "Widget v2", PriceSats: 2000}))

	got, err := repo.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Widget v2", got.Title)
	assert.Equal(t, int64(2000), got.PriceSats)
}

func TestProductRepository_GetMissingReturnsErrNotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewProductRepository(db)

	_, err := repo.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepository_ListOrdersByTitle(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewProductRepository(db)

	require.NoError(t, repo.Upsert(context.Background(), &Product{ID: "p2", Title: "Zebra Mug"}))
	require.NoError(t, repo.Upsert(context.Background(), &Product{ID: "p1", Title: "Acorn Hat"}))

	got, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acorn Hat", got[0].Title)
	assert.Equal(t, "Zebra Mug", got[1].Title)
}

func TestCartRepository_GetMissingReturnsEmptySnapshot(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewCartRepository(db)

	cart, err := repo.Get(context.Background(), "pubkey-x")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCartRepository_PutThenGetRoundTrips(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewCartRepository(db)

	snapshot := &CartSnapshot{NostrPubkey: "pubkey-x", Items: []CartItem{{ProductID: "p1", Qty: 2}}}
	require.NoError(t, repo.Put(context.Background(), snapshot))

	got, err := repo.Get(context.Background(), "pubkey-x")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Qty)
}

func TestCartRepository_PutRejectsOversizedCart(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewCartRepository(db)

	items := make([]CartItem, MaxCartItems+1)
	for i := range items {
		items[i] = CartItem{ProductID: "p1", Qty: 1}
	}
	err := repo.Put(context.Background(), &CartSnapshot{NostrPubkey: "pubkey-x", Items: items})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNostrBookkeepingRepository_GetMissingReturnsZeroValue(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewNostrBookkeepingRepository(db)

	b, err := repo.Get(context.Background(), "stall", "main")
	require.NoError(t, err)
	assert.Empty(t, b.LastContentHash)
}

func TestNostrBookkeepingRepository_PutThenGetRoundTrips(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewNostrBookkeepingRepository(db)

	want := &NostrBookkeeping{Kind: "product", Key: "p1", LastEventID: "evt1", LastContentHash: "hash1"}
	require.NoError(t, repo.Put(context.Background(), want))

	got, err := repo.Get(context.Background(), "product", "p1")
	require.NoError(t, err)
	assert.Equal(t, "evt1", got.LastEventID)
	assert.Equal(t, "hash1", got.LastContentHash)
}

func TestNostrBookkeepingRepository_PutTwiceUpdatesRow(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewNostrBookkeepingRepository(db)

	require.NoError(t, repo.Put(context.Background(), &NostrBookkeeping{Kind: "product", Key: "p1", LastContentHash: "hash1"}))
	require.NoError(t, repo.Put(context.Background(), &NostrBookkeeping{Kind: "product", Key: "p1", LastContentHash: "hash2"}))

	got, err := repo.Get(context.Background(), "product", "p1")
	require.NoError(t, err)
	assert.Equal(t, "hash2", got.LastContentHash)
}
