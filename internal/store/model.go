package store

import "time"

// OrderStatus is the enum driving the order lifecycle. The only writer of
// this field is orderstate.Machine; the store only enforces the conditional
// UPDATE that makes transitions race-safe.
type OrderStatus string

const (
	StatusPending     OrderStatus = "PENDING"
	StatusMempool     OrderStatus = "MEMPOOL"
	StatusConfirmed   OrderStatus = "CONFIRMED"
	StatusPaid        OrderStatus = "PAID"
	StatusPreparation OrderStatus = "PREPARATION"
	StatusShipped     OrderStatus = "SHIPPED"
	StatusExpired     OrderStatus = "EXPIRED"
	StatusFailed      OrderStatus = "FAILED"
)

// Terminal reports whether the order's whole lifecycle is over: shipped, or
// dead without payment.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusShipped, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// PaymentTerminal reports whether the payment watcher has nothing left to
// observe: the payment settled (PAID and the admin-driven states after it) or
// can never settle (EXPIRED, FAILED). The watcher stops here even though
// fulfillment may still be in flight.
func (s OrderStatus) PaymentTerminal() bool {
	switch s {
	case StatusPaid, StatusPreparation, StatusShipped, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	MethodLightning PaymentMethod = "lightning"
	MethodOnchain   PaymentMethod = "onchain"
)

// OrderItem is an immutable line snapshotted at checkout time; later catalog
// edits never mutate it.
type OrderItem struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	PriceSats int64  `json:"priceSats"`
	Qty       int    `json:"qty"`
}

type ShippingDestination struct {
	Country    string `json:"country"`
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

type ContactInfo struct {
	Email     string `json:"email,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	NostrNpub string `json:"nostrNpub,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (c ContactInfo) Empty() bool {
	return c.Email == "" && c.Telegram == "" && c.NostrNpub == "" && c.Phone == ""
}

// Order is the aggregate root. Exactly one of {PaymentHash} or
// {SwapID, OnchainAddress, OnchainAmountSats} is populated, selected by
// Method.
type Order struct {
	ID string `json:"id"`

	Method   PaymentMethod `json:"paymentMethod"`
	Provider string        `json:"provider"`

	PaymentHash    string `json:"paymentHash,omitempty"`
	PaymentRequest string `json:"paymentRequest,omitempty"`

	SwapID            string `json:"swapId,omitempty"`
	OnchainAddress    string `json:"onchainAddress,omitempty"`
	OnchainAmountSats int64  `json:"onchainAmountSats,omitempty"`
	BIP21             string `json:"bip21,omitempty"`

	SubtotalSats int64 `json:"subtotalSats"`
	ShippingSats int64 `json:"shippingSats"`
	TotalSats    int64 `json:"totalSats"`

	Items []OrderItem `json:"items"`

	Destination ShippingDestination `json:"destination"`
	Contact     ContactInfo         `json:"contact"`
	Notes       string              `json:"notes,omitempty"`

	Status OrderStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	Courier  string `json:"courier,omitempty"`
	Tracking string `json:"tracking,omitempty"`

	ContactNostrPubkey string `json:"contactNostrPubkey,omitempty"`

	SessionID string `json:"-"`

	AdminOverride bool `json:"-"`
}

// OrderDraft is the input to Orders.Create, before an id/status/timestamps
// are assigned.
type OrderDraft struct {
	Method             PaymentMethod
	Provider           string
	PaymentHash        string
	PaymentRequest     string
	SwapID             string
	OnchainAddress     string
	OnchainAmountSats  int64
	BIP21              string
	SubtotalSats       int64
	ShippingSats       int64
	TotalSats          int64
	Items              []OrderItem
	Destination        ShippingDestination
	Contact            ContactInfo
	Notes              string
	ExpiresAt          time.Time
	SessionID          string
	ContactNostrPubkey string
}

// Settings is the singleton shop configuration document.
type Settings struct {
	StoreName string `json:"storeName"`
	Logo      string `json:"logo,omitempty"`
	Favicon   string `json:"favicon,omitempty"`

	Shipping ShippingSettings `json:"shipping"`

	Nostr struct {
		Relays          []string `json:"relays"`
		DefaultHashtags []string `json:"defaultHashtags"`
		BlockedPubkeys  []string `json:"blockedPubkeys"`
		CommentsEnabled bool     `json:"commentsEnabled"`
	} `json:"nostr"`

	Templates map[OrderStatus]NotificationTemplate `json:"templates"`

	EmailSignature string `json:"emailSignature,omitempty"`

	Theme map[string]string `json:"theme,omitempty"`
}

type NotificationTemplate struct {
	DMBody       string `json:"dmBody"`
	EmailSubject string `json:"emailSubject"`
	EmailBody    string `json:"emailBody"`
}

// ShippingSettings models the flattened shipping-zone lookup: no
// back-references, upper-cased ISO codes, "ALL" is the fallback zone.
type ShippingSettings struct {
	// ZoneSats maps an upper-cased ISO-3166-1 alpha-2 country code, or the
	// literal "ALL", to a flat shipping price in sats.
	ZoneSats map[string]int64 `json:"zoneSats"`
}

// CartSnapshot is the server-side mirror of a buyer's cart, keyed by Nostr
// pubkey. Last-write-wins; shipping is never cached here (recomputed at
// checkout, see shipping.Quote).
type CartSnapshot struct {
	NostrPubkey string     `json:"nostrPubkey"`
	Items       []CartItem `json:"items"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type CartItem struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

// RelayAck records one relay's response to a single publish attempt.
type RelayAck struct {
	Relay     string `json:"relay"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// NostrBookkeeping tracks the last publish of a stall or product mirror
// event, keyed by (kind, key) where kind is "stall" or "product" and key is
// the d-tag.
type NostrBookkeeping struct {
	Kind            string     `json:"kind"`
	Key             string     `json:"key"`
	LastEventID     string     `json:"lastEventId"`
	LastContentHash string     `json:"lastContentHash"`
	LastPublishedAt time.Time  `json:"lastPublishedAt"`
	LastAck         []RelayAck `json:"lastAck"`
}
