package httpapi

import (
	"fmt"
	"net/http"

	"storefront/internal/nostrmirror"
	"storefront/internal/store"
)

type commentProofResponse struct {
	Proof       *nostrmirror.CommentProof `json:"proof"`
	StorePubkey string                    `json:"storePubkey"`
}

// handleCommentProof is GET /api/nostr/comment-proof?productId=...: issues a
// shop-signed proof a buyer attaches to a Nostr comment event so readers can
// verify the comment references a real product without the shop running its
// own comment relay logic.
func (s *Server) handleCommentProof(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		writeError(w, fmt.Errorf("%w: productId query parameter is required", store.ErrValidation))
		return
	}

	if _, err := s.products.Get(r.Context(), productID); err != nil {
		writeError(w, err)
		return
	}

	proof, err := s.mirror.IssueCommentProof(productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commentProofResponse{Proof: proof, StorePubkey: s.mirror.PublicKey()})
}

// handleAdminNostrRepublish pushes the stall and the whole catalog to the
// relay set. Unchanged records are skipped by the content-hash check, so the
// operator can hit this freely after editing products.
func (s *Server) handleAdminNostrRepublish(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	products, err := s.products.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.mirror.SyncAll(r.Context(), settings, products); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "products": len(products)})
}
