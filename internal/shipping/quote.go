// Package shipping resolves a cart + destination + settings into a flat
// shipping price. Shipping tiers are a flat zone lookup with no
// back-references, deduplicated by upper-cased ISO code, "ALL" as the
// fallback zone. Checkout always calls Quote fresh from current product
// rows; it never reads CartSnapshot's cached numbers.
package shipping

import (
	"fmt"
	"strings"

	"storefront/internal/store"
)

// ErrUncoveredDestination is a Validation-class error: the destination
// country has no zone entry and no "ALL" fallback is configured.
var ErrUncoveredDestination = fmt.Errorf("%w: shipping destination not covered", store.ErrValidation)

// Quote resolves the shipping price in sats for destination.Country using
// settings.Shipping.ZoneSats, falling back to "ALL" when the specific
// country is not listed.
func Quote(destination store.ShippingDestination, settings *store.Settings) (int64, error) {
	country := strings.ToUpper(strings.TrimSpace(destination.Country))
	if country == "" {
		return 0, fmt.Errorf("%w: destination country is required", store.ErrValidation)
	}

	if price, ok := settings.Shipping.ZoneSats[country]; ok {
		return price, nil
	}
	if price, ok := settings.Shipping.ZoneSats["ALL"]; ok {
		return price, nil
	}
	return 0, ErrUncoveredDestination
}

// SubtotalSats sums priced items; it never reads product rows (items are
// already snapshotted with their checkout-time price by the caller).
func SubtotalSats(items []store.OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.PriceSats * int64(it.Qty)
	}
	return total
}
