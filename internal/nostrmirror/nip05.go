package nostrmirror

import (
	"encoding/json"
	"net/http"
	"strings"
)

// nip05Response is the well-known response shape NIP-05 specifies: a map of
// local-part -> hex pubkey, plus optional relay hints we leave empty.
type nip05Response struct {
	Names map[string]string `json:"names"`
}

// NIP05Handler serves /.well-known/nostr.json?name=..., resolving the
// configured store name to the shop's pubkey. A stall publish is only
// discoverable in practice if buyers can resolve the shop's name@domain
// identifier. It shares the mirror's signing key and touches no
// order/payment state.
func (m *Mirror) NIP05Handler(storeName string) http.HandlerFunc {
	normalized := strings.ToLower(strings.TrimSpace(storeName))

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("name")))
		resp := nip05Response{Names: map[string]string{}}

		if name == "" || name == normalized || name == "_" {
			resp.Names[name] = m.key.PublicKey
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
