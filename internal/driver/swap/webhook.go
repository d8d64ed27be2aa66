package swap

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/driver"
)

// webhookTolerance bounds how stale a signed delivery may be, the same
// replay-window idea as the Stripe webhook example's
// STRIPE_WEBHOOK_TOLERANCE_SECONDS.
const webhookTolerance = 5 * time.Minute

type webhookEnvelope struct {
	SwapID string `json:"swapId"`
	State  string `json:"state"`
}

// VerifyWebhook authenticates an inbound delivery using the provider's
// "X-Swap-Signature: t=<unix>,v1=<hex hmac>" header, the same t=/v1=
// construction and constant-time comparison as the Stripe webhook reference
// (crypto/hmac + crypto/sha256, hmac.Equal), adapted to a single-provider
// secret instead of Stripe's per-account signing secret lookup.
func (c *Client) VerifyWebhook(headers http.Header, rawBody []byte) (*driver.WebhookResult, error) {
	sigHeader := strings.TrimSpace(headers.Get("X-Swap-Signature"))
	if sigHeader == "" {
		return nil, fmt.Errorf("swap webhook: missing X-Swap-Signature")
	}
	if c.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("swap webhook: no webhook secret configured")
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			if ts, err := strconv.ParseInt(strings.TrimPrefix(part, "t="), 10, 64); err == nil {
				timestamp = ts
			}
		case strings.HasPrefix(part, "v1="):
			if sig := strings.TrimSpace(strings.TrimPrefix(part, "v1=")); sig != "" {
				signatures = append(signatures, sig)
			}
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return nil, fmt.Errorf("swap webhook: malformed signature header")
	}

	if delta := time.Now().Unix() - timestamp; delta > int64(webhookTolerance.Seconds()) || delta < -int64(webhookTolerance.Seconds()) {
		return nil, fmt.Errorf("swap webhook: signature timestamp outside tolerance")
	}

	signedPayload := fmt.Sprintf("%d.%s", timestamp, rawBody)
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	var matched bool
	for _, sig := range signatures {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("swap webhook: no matching v1 signature")
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("swap webhook: decode body: %w", err)
	}

	newState, err := mapSwapState(env.State)
	if err != nil {
		return nil, fmt.Errorf("swap webhook: %w", err)
	}

	return &driver.WebhookResult{
		Kind:     "onchain",
		OrderRef: env.SwapID,
		NewState: newState,
	}, nil
}
