package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/nostrsign"
	"storefront/internal/shipping"
	"storefront/internal/store"
)

type checkoutItem struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

type checkoutRequest struct {
	Items         []checkoutItem            `json:"items"`
	Destination   store.ShippingDestination `json:"destination"`
	Contact       store.ContactInfo         `json:"contact"`
	Notes         string                    `json:"notes"`
	PaymentMethod store.PaymentMethod       `json:"paymentMethod"`
	NostrPubkey   string                    `json:"nostrPubkey"`
	RefundPubkey  string                    `json:"refundPubkey"`
}

type checkoutResponse struct {
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
	PaymentRequest string    `json:"paymentRequest,omitempty"`
	PaymentHash    string    `json:"paymentHash,omitempty"`
	SwapID         string    `json:"swapId,omitempty"`
	Address        string    `json:"address,omitempty"`
	BIP21          string    `json:"bip21,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TotalSats      int64     `json:"totalSats"`
}

// handleCreateInvoice is POST /api/checkout/create-invoice: hydrate line
// items from the product mirror, quote shipping, ask the payment driver for
// the method's artifact, persist the order, and start a Watcher.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", store.ErrValidation))
		return
	}
	if len(req.Items) == 0 {
		writeError(w, fmt.Errorf("%w: cart is empty", store.ErrValidation))
		return
	}
	if req.Contact.Empty() && req.NostrPubkey == "" {
		writeError(w, fmt.Errorf("%w: at least one contact channel is required", store.ErrValidation))
		return
	}

	ctx := r.Context()

	items := make([]store.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Qty <= 0 {
			writeError(w, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation))
			return
		}
		p, err := s.products.Get(ctx, it.ProductID)
		if err != nil {
			writeError(w, err)
			return
		}
		items = append(items, store.OrderItem{ProductID: p.ID, Title: p.Title, PriceSats: p.PriceSats, Qty: it.Qty})
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	subtotal := shipping.SubtotalSats(items)
	shipSats, err := shipping.Quote(req.Destination, settings)
	if err != nil {
		writeError(w, err)
		return
	}
	total := subtotal + shipSats

	method := req.PaymentMethod
	if method == "" {
		method = store.MethodLightning
	}
	drv, ok := s.drivers[method]
	if !ok {
		writeError(w, fmt.Errorf("%w: payment method %s is not configured", store.ErrValidation, method))
		return
	}

	contactPubkey := ""
	if req.NostrPubkey != "" {
		contactPubkey, err = nostrsign.PubkeyHex(req.NostrPubkey)
		if err != nil {
			writeError(w, fmt.Errorf("%w: invalid nostr pubkey: %v", store.ErrValidation, err))
			return
		}
	}

	draft := store.OrderDraft{
		Method: method, SubtotalSats: subtotal, ShippingSats: shipSats, TotalSats: total,
		Items: items, Destination: req.Destination, Contact: req.Contact, Notes: req.Notes,
		SessionID: s.sessionID(w, r), ContactNostrPubkey: contactPubkey,
	}

	switch method {
	case store.MethodLightning:
		inv, err := drv.CreateLightningInvoice(ctx, total, fmt.Sprintf("order for %d item(s)", len(items)), 0)
		if err != nil {
			writeError(w, err)
			return
		}
		draft.Provider = "lnd"
		draft.PaymentHash = inv.PaymentHash
		draft.PaymentRequest = inv.PaymentRequest
		draft.ExpiresAt = inv.ExpiresAt
	case store.MethodOnchain:
		if total < s.onchainMinSats {
			writeError(w, fmt.Errorf("%w: order total below on-chain minimum of %d sats", store.ErrValidation, s.onchainMinSats))
			return
		}
		swap, err := drv.CreateOnchainSwap(ctx, total, req.RefundPubkey)
		if err != nil {
			writeError(w, err)
			return
		}
		draft.Provider = "swap"
		draft.SwapID = swap.SwapID
		draft.OnchainAddress = swap.Address
		draft.OnchainAmountSats = swap.ExpectedAmountSats
		draft.BIP21 = swap.BIP21
		draft.ExpiresAt = swap.ExpiresAt
	default:
		writeError(w, fmt.Errorf("%w: unknown payment method %s", store.ErrValidation, method))
		return
	}

	order, err := s.machine.CreateOrder(ctx, draft)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.registry != nil {
		s.registry.Watch(order)
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID: order.ID, Status: string(order.Status),
		PaymentRequest: order.PaymentRequest, PaymentHash: order.PaymentHash,
		SwapID: order.SwapID, Address: order.OnchainAddress, BIP21: order.BIP21,
		ExpiresAt: order.ExpiresAt, TotalSats: order.TotalSats,
	})
}
