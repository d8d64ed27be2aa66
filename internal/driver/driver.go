// Package driver defines the polymorphic payment-provider interface.
// internal/driver/lightning and internal/driver/swap are the two shipped
// implementations.
package driver

import (
	"context"
	"net/http"
	"time"

	"storefront/internal/store"
)

// Capabilities advertises what a driver instance can do, so the watcher and
// HTTP surface can branch without type-asserting the concrete driver.
type Capabilities struct {
	LightningInvoice  bool
	OnchainSwap       bool
	PushStream        bool
	StatusPoll        bool
	WebhookHMACVerify bool
}

// LightningInvoiceResult is the artifact returned by CreateLightningInvoice.
type LightningInvoiceResult struct {
	PaymentRequest string
	PaymentHash    string
	Satoshis       int64
	ExpiresAt      time.Time
}

// OnchainSwapResult is the artifact returned by CreateOnchainSwap.
type OnchainSwapResult struct {
	SwapID             string
	Address            string
	ExpectedAmountSats int64
	BIP21              string
	ExpiresAt          time.Time
}

// WebhookResult is decoded from a provider webhook delivery.
type WebhookResult struct {
	Kind     string // "lightning" or "onchain"
	OrderRef string // paymentHash or swapId
	NewState store.OrderStatus
}

// Driver is the contract every payment provider implementation satisfies.
// Status is monotonic within a single order's happy path: a driver MUST NOT
// report PAID before PENDING, but MAY report MEMPOOL/CONFIRMED out of order
// relative to wall clock; the watcher's state machine handles reordering.
type Driver interface {
	Capabilities() Capabilities

	CreateLightningInvoice(ctx context.Context, amountSats int64, memo string, expirySecs int64) (*LightningInvoiceResult, error)
	CreateOnchainSwap(ctx context.Context, amountSats int64, refundPubkey string) (*OnchainSwapResult, error)

	InvoiceStatus(ctx context.Context, ref string) (store.OrderStatus, error)

	// SubscribePush opens a long-lived push subscription for ref (a payment
	// hash or swap id), invoking onUpdate for every reported state change.
	// It returns "unsupported" when Capabilities().PushStream is false.
	// Implementations MUST reconnect on transport error with exponential
	// backoff capped at 60s.
	SubscribePush(ctx context.Context, ref string, onUpdate func(ref string, newState store.OrderStatus)) (cancel func(), err error)

	VerifyWebhook(headers http.Header, rawBody []byte) (*WebhookResult, error)
}

// ErrUnsupported is returned by SubscribePush when a driver has no push
// capability; callers fall back to polling only.
var ErrUnsupported = driverUnsupportedError{}

type driverUnsupportedError struct{}

func (driverUnsupportedError) Error() string { return "driver: operation unsupported" }
