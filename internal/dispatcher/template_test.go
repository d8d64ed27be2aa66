package dispatcher

import (
	"testing"
	"time"

	"storefront/internal/store"

	"github.com/stretchr/testify/assert"
)

func sampleOrder() *store.Order {
	return &store.Order{
		ID:           "ord123",
		PaymentHash:  "deadbeef",
		SubtotalSats: 1000,
		ShippingSats: 100,
		TotalSats:    1100,
		Items: []store.OrderItem{
			{ProductID: "p1", Title: "Widget", PriceSats: 1000, Qty: 1},
		},
		Destination: store.ShippingDestination{
			Name: "Alice", Line1: "1 Main St", City: "Rome", PostalCode: "00100", Country: "IT",
		},
		Contact:   store.ContactInfo{Email: "alice@example.com"},
		Courier:   "DHL",
		Tracking:  "TRACK123",
		CreatedAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
	}
}

func TestRender_SubstitutesAllKnownPlaceholders(t *testing.T) {
	order := sampleOrder()
	values := substitutions("Acme Shop", order, store.StatusShipped)

	tpl := "{{storeName}}: order {{orderId}} is {{statusLabel}}. Total: {{totalSats}} sats. " +
		"Courier: {{courier}} ({{tracking}}). Items: {{productTitle}}. " +
		"Ship to {{customerName}} at {{address}}. Placed {{createdAt}}. Hash {{paymentHash}}."

	out := render(tpl, values)

	assert.Contains(t, out, "Acme Shop")
	assert.Contains(t, out, "ord123")
	assert.Contains(t, out, "Shipped")
	assert.Contains(t, out, "1100")
	assert.Contains(t, out, "DHL")
	assert.Contains(t, out, "TRACK123")
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "1 Main St")
	assert.Contains(t, out, "deadbeef")
	assert.NotContains(t, out, "{{")
}

func TestRender_MissingPlaceholderRendersEmpty(t *testing.T) {
	order := sampleOrder()
	order.Courier = ""
	order.Tracking = ""
	values := substitutions("Acme Shop", order, store.StatusPaid)

	out := render("courier=[{{courier}}] tracking=[{{tracking}}]", values)
	assert.Equal(t, "courier=[] tracking=[]", out)
}

func TestRender_LeavesUnknownTokenLiteral(t *testing.T) {
	values := substitutions("Acme Shop", sampleOrder(), store.StatusPaid)
	out := render("{{notAPlaceholder}}", values)
	assert.Equal(t, "{{notAPlaceholder}}", out)
}

func TestWithDefaults_FillsOnlyEmptyFields(t *testing.T) {
	tpl := withDefaults(store.NotificationTemplate{EmailSubject: "custom subject"})
	assert.Equal(t, "custom subject", tpl.EmailSubject)
	assert.NotEmpty(t, tpl.DMBody)
	assert.NotEmpty(t, tpl.EmailBody)
}

func TestCustomerName_FallsBackToEmailThenDefault(t *testing.T) {
	withName := customerName(store.ContactInfo{}, store.ShippingDestination{Name: "Bob"})
	assert.Equal(t, "Bob", withName)

	withEmail := customerName(store.ContactInfo{Email: "x@y.com"}, store.ShippingDestination{})
	assert.Equal(t, "x@y.com", withEmail)

	fallback := customerName(store.ContactInfo{}, store.ShippingDestination{})
	assert.Equal(t, "Customer", fallback)
}

func TestStatusLabel_CoversEveryStatus(t *testing.T) {
	statuses := []store.OrderStatus{
		store.StatusPending, store.StatusMempool, store.StatusConfirmed, store.StatusPaid,
		store.StatusPreparation, store.StatusShipped, store.StatusExpired, store.StatusFailed,
	}
	for _, s := range statuses {
		assert.NotEqual(t, string(s), statusLabel(s), "status %s should have a human label", s)
	}
}
