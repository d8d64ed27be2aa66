package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"storefront/internal/store"
)

// handleWebhook is POST /api/webhooks/:provider. The provider path segment
// is the payment method name ("lightning" or "onchain"); it selects which
// driver's VerifyWebhook validates the HMAC and decodes the payload. The
// result feeds straight into the state machine exactly like a poll or
// push-subscription report would.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	drv, ok := s.drivers[store.PaymentMethod(provider)]
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown webhook provider %s", store.ErrValidation, provider))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: unreadable webhook body", store.ErrValidation))
		return
	}

	result, err := drv.VerifyWebhook(r.Header, body)
	if err != nil {
		// Signature failures get a bare 401: no error body that could help
		// an attacker probe the HMAC scheme.
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if s.cache != nil {
		first, err := s.cache.ClaimWebhookDelivery(r.Context(), provider, result.OrderRef, string(result.NewState))
		if err == nil && !first {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	var order *store.Order
	if result.Kind == "onchain" {
		order, err = s.orders.BySwapID(r.Context(), result.OrderRef)
	} else {
		order, err = s.orders.ByPaymentHash(r.Context(), result.OrderRef)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.machine.TryTransition(r.Context(), order.ID, result.NewState); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
