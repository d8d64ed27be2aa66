package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"storefront/internal/orderstate"
)

type statusResponse struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Server) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	paymentHash := mux.Vars(r)["paymentHash"]
	order, err := s.orders.ByPaymentHash(r.Context(), paymentHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OrderID: order.ID, Status: string(order.Status), UpdatedAt: order.UpdatedAt})
}

func (s *Server) handleOnchainStatus(w http.ResponseWriter, r *http.Request) {
	swapID := mux.Vars(r)["swapId"]
	order, err := s.orders.BySwapID(r.Context(), swapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OrderID: order.ID, Status: string(order.Status), UpdatedAt: order.UpdatedAt})
}

func (s *Server) handleInvoiceStream(w http.ResponseWriter, r *http.Request) {
	paymentHash := mux.Vars(r)["paymentHash"]
	order, err := s.orders.ByPaymentHash(r.Context(), paymentHash)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamOrder(w, r, order.ID)
}

func (s *Server) handleOnchainStream(w http.ResponseWriter, r *http.Request) {
	swapID := mux.Vars(r)["swapId"]
	order, err := s.orders.BySwapID(r.Context(), swapID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamOrder(w, r, order.ID)
}

// maxStreamsPerOrder caps how many SSE connections one order may hold open
// across all instances; a buyer with a dozen tabs gets a 429 on the 13th.
const maxStreamsPerOrder = 12

// streamOrder serves an SSE stream of order status transitions. It
// subscribes before writing the current snapshot so no transition can land
// in the gap between read and subscribe, then forwards every StatusChanged
// event until the client disconnects or the payment settles, at which point
// it flushes and closes.
func (s *Server) streamOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "streaming unsupported"})
		return
	}

	if s.cache != nil {
		viewers, err := s.cache.AddStreamViewer(r.Context(), orderID)
		if err == nil {
			defer s.cache.RemoveStreamViewer(context.Background(), orderID)
			if viewers > maxStreamsPerOrder {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many open streams for this order"})
				return
			}
		}
	}

	sub := s.bus.Subscribe(orderID)
	defer sub.Close()

	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEEvent(w, statusResponse{OrderID: order.ID, Status: string(order.Status), UpdatedAt: order.UpdatedAt})
	flusher.Flush()
	if order.Status.PaymentTerminal() {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			sc, ok := ev.Payload.(orderstate.StatusChanged)
			if !ok {
				continue
			}
			writeSSEEvent(w, statusResponse{OrderID: sc.OrderID, Status: string(sc.To), UpdatedAt: sc.At})
			flusher.Flush()
			if sc.To.PaymentTerminal() {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
