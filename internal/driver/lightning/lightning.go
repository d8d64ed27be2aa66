package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront/internal/driver"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"github.com/lightningnetwork/lnd/lnrpc"
	"go.uber.org/zap"
)

// CreateLightningInvoice mints a hold-free BOLT11 invoice for the given
// amount via AddInvoice.
func (c *Client) CreateLightningInvoice(ctx context.Context, amountSats int64, memo string, expirySecs int64) (*driver.LightningInvoiceResult, error) {
	if expirySecs <= 0 {
		expirySecs = c.cfg.InvoiceExpirySeconds
	}
	if expirySecs <= 0 {
		expirySecs = 900
	}

	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   memo,
		Value:  amountSats,
		Expiry: expirySecs,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd AddInvoice: %w", err)
	}

	return &driver.LightningInvoiceResult{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hex.EncodeToString(resp.RHash),
		Satoshis:       amountSats,
		ExpiresAt:      time.Now().Add(time.Duration(expirySecs) * time.Second),
	}, nil
}

// CreateOnchainSwap is not implemented by the Lightning driver; the
// storefront routes on-chain orders to internal/driver/swap instead.
func (c *Client) CreateOnchainSwap(ctx context.Context, amountSats int64, refundPubkey string) (*driver.OnchainSwapResult, error) {
	return nil, fmt.Errorf("lightning driver: %w: onchain swaps", driver.ErrUnsupported)
}

// InvoiceStatus polls LookupInvoice for ref (a hex payment hash) and maps the
// lnd invoice state onto the order state machine's vocabulary. Lightning
// invoices never pass through MEMPOOL/CONFIRMED; settlement is atomic.
func (c *Client) InvoiceStatus(ctx context.Context, ref string) (store.OrderStatus, error) {
	rHash, err := hex.DecodeString(ref)
	if err != nil {
		return "", fmt.Errorf("invalid payment hash %q: %w", ref, err)
	}

	inv, err := c.ln.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rHash})
	if err != nil {
		return "", fmt.Errorf("lnd LookupInvoice: %w", err)
	}

	return mapInvoiceState(inv.State, inv.Expiry, inv.CreationDate)
}

func mapInvoiceState(state lnrpc.Invoice_InvoiceState, expirySecs, creationDate int64) (store.OrderStatus, error) {
	switch state {
	case lnrpc.Invoice_SETTLED:
		return store.StatusPaid, nil
	case lnrpc.Invoice_CANCELED:
		return store.StatusFailed, nil
	case lnrpc.Invoice_ACCEPTED:
		return store.StatusPending, nil
	case lnrpc.Invoice_OPEN:
		if expirySecs > 0 && time.Now().Unix() > creationDate+expirySecs {
			return store.StatusExpired, nil
		}
		return store.StatusPending, nil
	default:
		return store.StatusPending, nil
	}
}

// SubscribePush opens lnd's server-streamed SubscribeInvoices RPC and
// forwards every settle/cancel event for invoices matching ref, reconnecting
// with exponential backoff on transport error.
func (c *Client) SubscribePush(ctx context.Context, ref string, onUpdate func(ref string, newState store.OrderStatus)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		backoff := time.Second
		const maxBackoff = 60 * time.Second

		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}

			stream, err := c.ln.SubscribeInvoices(subCtx, &lnrpc.InvoiceSubscription{})
			if err != nil {
				logger.Warn("lnd SubscribeInvoices failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				if !sleepOrDone(subCtx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}
			backoff = time.Second

			for {
				inv, err := stream.Recv()
				if err == io.EOF || err != nil {
					if subCtx.Err() != nil {
						return
					}
					logger.Warn("lnd invoice subscription stream ended, reconnecting", zap.Error(err))
					break
				}
				hash := hex.EncodeToString(inv.RHash)
				if hash != ref {
					continue
				}
				st, err := mapInvoiceState(inv.State, inv.Expiry, inv.CreationDate)
				if err != nil {
					continue
				}
				onUpdate(ref, st)
			}

			if !sleepOrDone(subCtx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}()

	return cancel, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// VerifyWebhook is unsupported: lnd's receive path is observed via RPC, not
// an inbound webhook. The watcher never calls this for a Lightning driver
// because Capabilities().WebhookHMACVerify is false.
func (c *Client) VerifyWebhook(headers http.Header, rawBody []byte) (*driver.WebhookResult, error) {
	return nil, fmt.Errorf("lightning driver: %w: webhook delivery", driver.ErrUnsupported)
}
