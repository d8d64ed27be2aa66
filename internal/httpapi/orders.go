package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"storefront/internal/store"
)

// handleOrdersMine is GET /api/orders/mine: returns every order bound to
// either the caller's session cookie or, when supplied, their Nostr pubkey;
// the union covers a buyer who checked out anonymously once and later
// returns with a Nostr identity.
func (s *Server) handleOrdersMine(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)
	nostrPubkey := r.URL.Query().Get("nostrPubkey")

	orders, err := s.orders.ListMineByContact(r.Context(), sessionID, nostrPubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type adminSetStatusRequest struct {
	Status   store.OrderStatus `json:"status"`
	Courier  string            `json:"courier,omitempty"`
	Tracking string            `json:"tracking,omitempty"`
}

// handleAdminSetStatus is POST /api/admin/orders/:id/status, gated by
// adminOnly. It bypasses the sticky-PAID transition guard the payment-driven
// path enforces, via orderstate.Machine.AdminSetStatus.
func (s *Server) handleAdminSetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req adminSetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", store.ErrValidation))
		return
	}

	order, err := s.machine.AdminSetStatus(r.Context(), orderID, req.Status, req.Courier, req.Tracking)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type adminResendRequest struct {
	OrderID     string            `json:"orderId"`
	TargetState store.OrderStatus `json:"targetState"`
	Channel     string            `json:"channel"`
}

// handleAdminResend is the operator "resend" action: it resets the outbox
// claim for (orderId, targetState, channel) and immediately re-enqueues the
// notification job, never touching orders that already succeeded.
func (s *Server) handleAdminResend(w http.ResponseWriter, r *http.Request) {
	var req adminResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", store.ErrValidation))
		return
	}
	if req.OrderID == "" || req.TargetState == "" || req.Channel == "" {
		writeError(w, fmt.Errorf("%w: orderId, targetState and channel are required", store.ErrValidation))
		return
	}

	if err := s.outboxRepo.Reset(r.Context(), req.OrderID, req.TargetState, req.Channel); err != nil {
		writeError(w, err)
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Enqueue(req.OrderID, req.TargetState)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}
