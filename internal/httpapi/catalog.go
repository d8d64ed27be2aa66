package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"storefront/internal/store"
)

// handleListProducts is GET /api/products, a thin passthrough to the local
// product mirror; catalog CRUD lives elsewhere, this only serves what was
// upserted into it.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// publicSettings strips operator-only fields (blocked pubkeys, per-status
// notification templates) from Settings before it reaches a buyer.
type publicSettings struct {
	StoreName string                 `json:"storeName"`
	Logo      string                 `json:"logo,omitempty"`
	Favicon   string                 `json:"favicon,omitempty"`
	Shipping  store.ShippingSettings `json:"shipping"`
	Theme     map[string]string      `json:"theme,omitempty"`
}

func (s *Server) handlePublicSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicSettings{
		StoreName: settings.StoreName, Logo: settings.Logo, Favicon: settings.Favicon,
		Shipping: settings.Shipping, Theme: settings.Theme,
	})
}

type cartPutRequest struct {
	Items []store.CartItem `json:"items"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("nostrPubkey")
	if pubkey == "" {
		writeError(w, fmt.Errorf("%w: nostrPubkey query parameter is required", store.ErrValidation))
		return
	}
	cart, err := s.carts.Get(r.Context(), pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handlePutCart(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("nostrPubkey")
	if pubkey == "" {
		writeError(w, fmt.Errorf("%w: nostrPubkey query parameter is required", store.ErrValidation))
		return
	}
	var req cartPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", store.ErrValidation))
		return
	}
	snapshot := &store.CartSnapshot{NostrPubkey: pubkey, Items: req.Items}
	if err := s.carts.Put(r.Context(), snapshot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
