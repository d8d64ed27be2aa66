package dispatcher

import (
	"fmt"
	"strings"

	"storefront/internal/store"
)

// placeholders is the full set templates may use; a known placeholder with
// no value renders as empty, never leaving the literal "{{...}}" token
// behind.
var placeholders = []string{
	"storeName", "orderId", "status", "statusLabel", "totalSats", "subtotalSats",
	"shippingSats", "courier", "tracking", "productTitle", "customerName",
	"address", "createdAt", "paymentHash",
}

// withDefaults fills any template field the operator left empty, so a fresh
// install still sends something readable.
func withDefaults(tpl store.NotificationTemplate) store.NotificationTemplate {
	if tpl.DMBody == "" {
		tpl.DMBody = "{{storeName}}: order {{orderId}} is now {{statusLabel}}."
	}
	if tpl.EmailSubject == "" {
		tpl.EmailSubject = "{{storeName}} order {{orderId}}: {{statusLabel}}"
	}
	if tpl.EmailBody == "" {
		tpl.EmailBody = "Hi {{customerName}},\n\nyour order {{orderId}} ({{totalSats}} sats) is now {{statusLabel}}."
	}
	return tpl
}

func statusLabel(s store.OrderStatus) string {
	switch s {
	case store.StatusPending:
		return "Pending Payment"
	case store.StatusMempool:
		return "Payment Seen (Unconfirmed)"
	case store.StatusConfirmed:
		return "Payment Confirmed"
	case store.StatusPaid:
		return "Paid"
	case store.StatusPreparation:
		return "Preparing Your Order"
	case store.StatusShipped:
		return "Shipped"
	case store.StatusExpired:
		return "Expired"
	case store.StatusFailed:
		return "Failed"
	default:
		return string(s)
	}
}

func productTitles(items []store.OrderItem) string {
	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	return strings.Join(titles, ", ")
}

func addressLine(d store.ShippingDestination) string {
	parts := []string{d.Line1}
	if d.Line2 != "" {
		parts = append(parts, d.Line2)
	}
	parts = append(parts, d.City, d.PostalCode, d.Country)
	return strings.Join(parts, ", ")
}

func customerName(c store.ContactInfo, d store.ShippingDestination) string {
	if d.Name != "" {
		return d.Name
	}
	if c.Email != "" {
		return c.Email
	}
	return "Customer"
}

// substitutions builds the full placeholder->value map for one order at one
// target state.
func substitutions(storeName string, order *store.Order, target store.OrderStatus) map[string]string {
	return map[string]string{
		"storeName":    storeName,
		"orderId":      order.ID,
		"status":       string(target),
		"statusLabel":  statusLabel(target),
		"totalSats":    fmt.Sprintf("%d", order.TotalSats),
		"subtotalSats": fmt.Sprintf("%d", order.SubtotalSats),
		"shippingSats": fmt.Sprintf("%d", order.ShippingSats),
		"courier":      order.Courier,
		"tracking":     order.Tracking,
		"productTitle": productTitles(order.Items),
		"customerName": customerName(order.Contact, order.Destination),
		"address":      addressLine(order.Destination),
		"createdAt":    order.CreatedAt.Format("2006-01-02 15:04 MST"),
		"paymentHash":  order.PaymentHash,
	}
}

// render replaces every {{placeholder}} token in tpl; unknown tokens are
// left as literal text (they are not in the placeholders list, so a typo in
// an admin-authored template is visible rather than silently blanked).
func render(tpl string, values map[string]string) string {
	out := tpl
	for _, key := range placeholders {
		out = strings.ReplaceAll(out, "{{"+key+"}}", values[key])
	}
	return out
}
