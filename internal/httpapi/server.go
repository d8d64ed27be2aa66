// Package httpapi is the thin HTTP adapter over the checkout, watcher, and
// notification machinery, routed with gorilla/mux.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"storefront/internal/cache"
	"storefront/internal/dispatcher"
	"storefront/internal/driver"
	"storefront/internal/eventbus"
	"storefront/internal/nostrmirror"
	"storefront/internal/orderstate"
	"storefront/internal/store"
	"storefront/internal/watcher"

	"github.com/gorilla/mux"
)

// Server holds every dependency an HTTP handler needs. Handlers are methods
// on *Server rather than closures over package-level state.
type Server struct {
	orders         *store.OrderRepository
	carts          *store.CartRepository
	products       *store.ProductRepository
	settings       *store.SettingsRepository
	outboxRepo     *store.OutboxRepository
	machine        *orderstate.Machine
	bus            *eventbus.Bus
	registry       *watcher.Registry
	drivers        map[store.PaymentMethod]driver.Driver
	mirror         *nostrmirror.Mirror
	dispatcher     *dispatcher.Dispatcher
	cache          *cache.Cache
	sessions       *sessionSigner
	adminPIN       string
	requestTimeout time.Duration
	onchainMinSats int64
}

type Config struct {
	Orders         *store.OrderRepository
	Carts          *store.CartRepository
	Products       *store.ProductRepository
	Settings       *store.SettingsRepository
	Outbox         *store.OutboxRepository
	Machine        *orderstate.Machine
	Bus            *eventbus.Bus
	Registry       *watcher.Registry
	Drivers        map[store.PaymentMethod]driver.Driver
	Mirror         *nostrmirror.Mirror
	Dispatcher     *dispatcher.Dispatcher
	Cache          *cache.Cache
	SessionSecret  string
	AdminPIN       string
	RequestTimeout time.Duration
	OnchainMinSats int64
}

func NewServer(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		orders: cfg.Orders, carts: cfg.Carts, products: cfg.Products, settings: cfg.Settings, outboxRepo: cfg.Outbox,
		machine: cfg.Machine, bus: cfg.Bus, registry: cfg.Registry, drivers: cfg.Drivers,
		mirror: cfg.Mirror, dispatcher: cfg.Dispatcher, cache: cfg.Cache,
		sessions: newSessionSigner(cfg.SessionSecret), adminPIN: cfg.AdminPIN,
		requestTimeout: timeout, onchainMinSats: cfg.OnchainMinSats,
	}
}

// NewRouter wires the public checkout/status/stream routes, the webhook and
// admin endpoints, and the read-only catalog passthroughs.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.timeoutMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/checkout/create-invoice", s.handleCreateInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{paymentHash}/status", s.handleInvoiceStatus).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{paymentHash}/stream", s.handleInvoiceStream).Methods(http.MethodGet)
	api.HandleFunc("/onchain/{swapId}/status", s.handleOnchainStatus).Methods(http.MethodGet)
	api.HandleFunc("/onchain/{swapId}/stream", s.handleOnchainStream).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{provider}", s.handleWebhook).Methods(http.MethodPost)
	api.HandleFunc("/orders/mine", s.handleOrdersMine).Methods(http.MethodGet)
	api.HandleFunc("/nostr/comment-proof", s.handleCommentProof).Methods(http.MethodGet)
	api.HandleFunc("/admin/orders/{id}/status", s.adminOnly(s.handleAdminSetStatus)).Methods(http.MethodPost)
	api.HandleFunc("/admin/outbox/resend", s.adminOnly(s.handleAdminResend)).Methods(http.MethodPost)
	api.HandleFunc("/admin/nostr/republish", s.adminOnly(s.handleAdminNostrRepublish)).Methods(http.MethodPost)

	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/settings/public", s.handlePublicSettings).Methods(http.MethodGet)
	api.HandleFunc("/cart", s.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", s.handlePutCart).Methods(http.MethodPut)

	if s.mirror != nil {
		r.HandleFunc("/.well-known/nostr.json", s.storeNameHint).Methods(http.MethodGet)
	}

	return r
}

// storeNameHint is resolved lazily per-request from settings rather than
// cached at router-construction time, since an admin can rename the shop
// without a restart.
func (s *Server) storeNameHint(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	name := ""
	if err == nil {
		name = settings.StoreName
	}
	s.mirror.NIP05Handler(name)(w, r)
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminOnly requires the X-Admin-PIN header to match the configured PIN. An
// empty configured PIN disables the admin surface entirely rather than
// leaving it open.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminPIN == "" || r.Header.Get("X-Admin-PIN") != s.adminPIN {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "admin authorization required"})
			return
		}
		next(w, r)
	}
}
