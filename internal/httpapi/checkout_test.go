//go:build integration

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/driver"
	"storefront/internal/eventbus"
	"storefront/internal/orderstate"
	"storefront/internal/store"
	"storefront/internal/watcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver is a minimal driver.Driver double that always succeeds,
// grounded the same way watcher's fakeDriver is: a deterministic stand-in
// for the real lnd/swap providers described by the Driver contract.
type stubDriver struct {
	caps driver.Capabilities
}

func (d *stubDriver) Capabilities() driver.Capabilities { return d.caps }

func (d *stubDriver) CreateLightningInvoice(ctx context.Context, amountSats int64, memo string, expirySecs int64) (*driver.LightningInvoiceResult, error) {
	return &driver.LightningInvoiceResult{
		PaymentHash:    "hash-" + strings.ReplaceAll(memo, " ", "-"),
		PaymentRequest: "lnbc1...",
		ExpiresAt:      time.Now().Add(15 * time.Minute),
	}, nil
}

func (d *stubDriver) CreateOnchainSwap(ctx context.Context, amountSats int64, refundPubkey string) (*driver.OnchainSwapResult, error) {
	return &driver.OnchainSwapResult{
		SwapID: "swap-1", Address: "bc1qexampleaddress",
		ExpectedAmountSats: amountSats, BIP21: "bitcoin:bc1qexampleaddress?amount=0.001",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (d *stubDriver) InvoiceStatus(ctx context.Context, ref string) (store.OrderStatus, error) {
	return store.StatusPending, nil
}

func (d *stubDriver) SubscribePush(ctx context.Context, ref string, onUpdate func(string, store.OrderStatus)) (func(), error) {
	return nil, driver.ErrUnsupported
}

func (d *stubDriver) VerifyWebhook(headers http.Header, rawBody []byte) (*driver.WebhookResult, error) {
	return nil, driver.ErrUnsupported
}

func setupTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db := store.SetupTestDB(t)
	orders := store.NewOrderRepository(db)
	outbox := store.NewOutboxRepository(db)
	products := store.NewProductRepository(db)
	settings := store.NewSettingsRepository(db)
	carts := store.NewCartRepository(db)
	bus := eventbus.New()
	machine := orderstate.NewMachine(orders, outbox, bus, nil)
	drivers := map[store.PaymentMethod]driver.Driver{
		store.MethodLightning: &stubDriver{caps: driver.Capabilities{StatusPoll: true}},
		store.MethodOnchain:   &stubDriver{caps: driver.Capabilities{StatusPoll: true}},
	}
	registry := watcher.NewRegistry(orders, drivers, machine, bus)

	require.NoError(t, settings.Put(context.Background(), &store.Settings{
		StoreName: "Test Shop",
		Shipping:  store.ShippingSettings{ZoneSats: map[string]int64{"ALL": 500}},
	}))
	require.NoError(t, products.Upsert(context.Background(), &store.Product{
		ID: "p1", Title: "Widget", PriceSats: 2000,
	}))

	srv := NewServer(Config{
		Orders: orders, Carts: carts, Products: products, Settings: settings, Outbox: outbox,
		Machine: machine, Bus: bus, Registry: registry, Drivers: drivers,
		SessionSecret: "test-secret", AdminPIN: "1234",
		RequestTimeout: 5 * time.Second, OnchainMinSats: 10000,
	})
	return srv, db
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateInvoice_LightningHappyPath(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	req := checkoutRequest{
		Items:         []checkoutItem{{ProductID: "p1", Qty: 2}},
		Destination:   store.ShippingDestination{Country: "US"},
		Contact:       store.ContactInfo{Email: "buyer@example.com"},
		PaymentMethod: store.MethodLightning,
	}
	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	assert.NotEmpty(t, resp.PaymentHash)
	assert.NotEmpty(t, resp.PaymentRequest)
	assert.Equal(t, int64(4500), resp.TotalSats) // 2*2000 + 500 shipping
	assert.Equal(t, string(store.StatusPending), resp.Status)
}

func TestHandleCreateInvoice_OnchainBelowMinimumRejected(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	req := checkoutRequest{
		Items:         []checkoutItem{{ProductID: "p1", Qty: 1}},
		Destination:   store.ShippingDestination{Country: "US"},
		Contact:       store.ContactInfo{Email: "buyer@example.com"},
		PaymentMethod: store.MethodOnchain,
	}
	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateInvoice_EmptyCartRejected(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", checkoutRequest{
		Contact: store.ContactInfo{Email: "buyer@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateInvoice_MissingContactAndPubkeyRejected(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", checkoutRequest{
		Items: []checkoutItem{{ProductID: "p1", Qty: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateInvoice_UnknownProductRejected(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", checkoutRequest{
		Items:   []checkoutItem{{ProductID: "does-not-exist", Qty: 1}},
		Contact: store.ContactInfo{Email: "buyer@example.com"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInvoiceStatus_ReturnsCurrentOrderState(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	rec := doJSON(t, router, http.MethodPost, "/api/checkout/create-invoice", checkoutRequest{
		Items:   []checkoutItem{{ProductID: "p1", Qty: 1}},
		Contact: store.ContactInfo{Email: "buyer@example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	statusRec := doJSON(t, router, http.MethodGet, "/api/invoices/"+created.PaymentHash+"/status", nil)
	require.Equal(t, http.StatusOK, statusRec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, created.OrderID, status.OrderID)
	assert.Equal(t, string(store.StatusPending), status.Status)
}

func TestHandleInvoiceStatus_UnknownHashReturnsNotFound(t *testing.T) {
	srv, db := setupTestServer(t)
	defer store.CleanupTestDB(t, db)
	router := srv.NewRouter()

	rec := doJSON(t, router, http.MethodGet, "/api/invoices/does-not-exist/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
