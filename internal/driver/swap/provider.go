// Package swap implements driver.Driver against a hosted on-chain /
// submarine-swap provider reached over HTTP plus an inbound signed webhook.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront/internal/driver"
	"storefront/internal/store"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// networkParams selects the chain parameters addresses are validated
// against: swap providers are never trusted to hand back an address for the
// wrong network, so every response is decoded against the configured params
// before it reaches an order row.
func networkParams(network string) *chaincfg.Params {
	if network == "mainnet" {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

// Config is a base URL plus an API credential, and the webhook HMAC secret
// this driver needs to authenticate inbound delivery.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Network       string // "mainnet" or "testnet", passed through to the provider
	HTTPTimeout   time.Duration
}

// Client is the on-chain swap driver.Driver implementation.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ driver.Driver = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{OnchainSwap: true, StatusPoll: true, WebhookHMACVerify: true}
}

func (c *Client) CreateLightningInvoice(ctx context.Context, amountSats int64, memo string, expirySecs int64) (*driver.LightningInvoiceResult, error) {
	return nil, fmt.Errorf("swap driver: %w: lightning invoices", driver.ErrUnsupported)
}

type createSwapRequest struct {
	AmountSats   int64  `json:"amountSats"`
	RefundPubkey string `json:"refundPubkey,omitempty"`
	Network      string `json:"network"`
}

type createSwapResponse struct {
	SwapID       string `json:"swapId"`
	Address      string `json:"address"`
	ExpectedSats int64  `json:"expectedAmountSats"`
	ExpiresAt    int64  `json:"expiresAt"` // unix seconds
}

// CreateOnchainSwap requests a fresh deposit address from the provider.
func (c *Client) CreateOnchainSwap(ctx context.Context, amountSats int64, refundPubkey string) (*driver.OnchainSwapResult, error) {
	reqBody, err := json.Marshal(createSwapRequest{
		AmountSats:   amountSats,
		RefundPubkey: refundPubkey,
		Network:      c.cfg.Network,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	var out createSwapResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/swaps", reqBody, &out); err != nil {
		return nil, err
	}

	if _, err := btcutil.DecodeAddress(out.Address, networkParams(c.cfg.Network)); err != nil {
		return nil, fmt.Errorf("swap provider returned an address invalid for network %s: %w", c.cfg.Network, err)
	}

	expires := time.Unix(out.ExpiresAt, 0)
	return &driver.OnchainSwapResult{
		SwapID:             out.SwapID,
		Address:            out.Address,
		ExpectedAmountSats: out.ExpectedSats,
		BIP21:              bip21URI(out.Address, out.ExpectedSats),
		ExpiresAt:          expires,
	}, nil
}

func bip21URI(address string, amountSats int64) string {
	btc := float64(amountSats) / 1e8
	return fmt.Sprintf("bitcoin:%s?amount=%.8f", address, btc)
}

type swapStatusResponse struct {
	State string `json:"state"` // "waiting" | "mempool" | "confirmed" | "paid" | "expired" | "failed"
}

// InvoiceStatus polls the provider's swap-status endpoint; ref is the swap id.
func (c *Client) InvoiceStatus(ctx context.Context, ref string) (store.OrderStatus, error) {
	var out swapStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/swaps/"+ref, nil, &out); err != nil {
		return "", err
	}
	return mapSwapState(out.State)
}

func mapSwapState(state string) (store.OrderStatus, error) {
	switch state {
	case "waiting":
		return store.StatusPending, nil
	case "mempool":
		return store.StatusMempool, nil
	case "confirmed", "paid":
		if state == "paid" {
			return store.StatusPaid, nil
		}
		return store.StatusConfirmed, nil
	case "expired":
		return store.StatusExpired, nil
	case "failed":
		return store.StatusFailed, nil
	default:
		return "", fmt.Errorf("swap driver: unrecognized provider state %q", state)
	}
}

// SubscribePush is unsupported: this provider only speaks webhook + poll,
// never an outbound streaming RPC. Capabilities().PushStream is false.
func (c *Client) SubscribePush(ctx context.Context, ref string, onUpdate func(ref string, newState store.OrderStatus)) (func(), error) {
	return nil, fmt.Errorf("swap driver: %w: push subscription", driver.ErrUnsupported)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("swap provider request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("swap provider %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode swap provider response: %w", err)
	}
	return nil
}
