package shipping

import (
	"errors"
	"testing"

	"storefront/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsWithZones(zones map[string]int64) *store.Settings {
	return &store.Settings{Shipping: store.ShippingSettings{ZoneSats: zones}}
}

func TestQuote_ExactZoneMatch(t *testing.T) {
	s := settingsWithZones(map[string]int64{"IT": 100, "ALL": 500})

	price, err := Quote(store.ShippingDestination{Country: "it"}, s)
	require.NoError(t, err)
	assert.Equal(t, int64(100), price)
}

func TestQuote_FallsBackToAll(t *testing.T) {
	s := settingsWithZones(map[string]int64{"IT": 100, "ALL": 500})

	price, err := Quote(store.ShippingDestination{Country: "DE"}, s)
	require.NoError(t, err)
	assert.Equal(t, int64(500), price)
}

func TestQuote_UncoveredDestination(t *testing.T) {
	s := settingsWithZones(map[string]int64{"IT": 100})

	_, err := Quote(store.ShippingDestination{Country: "DE"}, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUncoveredDestination))
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestQuote_EmptyCountryIsValidationError(t *testing.T) {
	s := settingsWithZones(map[string]int64{"ALL": 500})

	_, err := Quote(store.ShippingDestination{Country: ""}, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestSubtotalSats(t *testing.T) {
	items := []store.OrderItem{
		{ProductID: "a", PriceSats: 1000, Qty: 2},
		{ProductID: "b", PriceSats: 250, Qty: 1},
	}
	assert.Equal(t, int64(2250), SubtotalSats(items))
}

func TestSubtotalSats_Empty(t *testing.T) {
	assert.Equal(t, int64(0), SubtotalSats(nil))
}
