// Package nostrmirror publishes the shop's stall and product catalog as
// Nostr parameterized-replaceable events, and issues/verifies the
// comment-proof tuple that lets readers accept buyer comments without the
// relay knowing about the shop.
package nostrmirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"storefront/internal/nostrsign"
	"storefront/internal/relaypool"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// Kind values per the Nostr NIPs this mirror targets: parameterized
// replaceable events live in the 30000-39999 range (NIP-33).
const (
	KindStall   = 30017
	KindProduct = 30018
	// KindComment is a custom kind for shop-scoped product comments. 31920
	// lies inside the parameterized replaceable range above; it is not an
	// ephemeral kind.
	KindComment = 31920
)

const defaultStallDTag = "main"

// Mirror publishes stall/product mirror events and issues comment proofs.
// The signing key is loaded once at startup from the environment and never
// persisted to Settings or any store table.
type Mirror struct {
	relays *relaypool.Pool
	books  *store.NostrBookkeepingRepository
	key    *nostrsign.Keypair
}

func New(relays *relaypool.Pool, books *store.NostrBookkeepingRepository, key *nostrsign.Keypair) *Mirror {
	return &Mirror{relays: relays, books: books, key: key}
}

// PublicKey is the shop's x-only pubkey, surfaced by the comment-proof
// endpoint and the NIP-05 handler.
func (m *Mirror) PublicKey() string { return m.key.PublicKey }

type stallPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Currency    string   `json:"currency"`
	Shipping    []string `json:"shipping"`
}

// PublishStall builds, hashes, and (if changed) signs+publishes the stall
// event.
func (m *Mirror) PublishStall(ctx context.Context, settings *store.Settings) error {
	zones := make([]string, 0, len(settings.Shipping.ZoneSats))
	for zone := range settings.Shipping.ZoneSats {
		zones = append(zones, zone)
	}
	sort.Strings(zones)

	payload := stallPayload{
		Name:        settings.StoreName,
		Description: "", // Settings carries no dedicated description field beyond StoreName
		Currency:    "SATS",
		Shipping:    zones,
	}
	content, err := canonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("canonicalize stall payload: %w", err)
	}

	return m.publishReplaceable(ctx, "stall", defaultStallDTag, KindStall, content, [][]string{{"d", defaultStallDTag}})
}

// productDoc is the subset of a catalog document the mirror lifts into tags.
// The document is externally authored, so both fields are optional and
// anything malformed is simply ignored.
type productDoc struct {
	Images   []string `json:"images"`
	Hashtags []string `json:"hashtags"`
}

// PublishProduct mirrors one catalog product. Image and hashtag tags come
// from the product document itself, default hashtags from settings.
func (m *Mirror) PublishProduct(ctx context.Context, p *store.Product, defaultHashtags ...string) error {
	content := string(p.Doc)

	tags := [][]string{{"d", p.ID}, {"price", fmt.Sprintf("%d", p.PriceSats), "SATS"}}

	var doc productDoc
	_ = json.Unmarshal(p.Doc, &doc)
	seen := make(map[string]bool)
	for _, tag := range append(doc.Hashtags, defaultHashtags...) {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, []string{"t", tag})
	}
	for _, img := range doc.Images {
		if img != "" {
			tags = append(tags, []string{"image", img})
		}
	}

	return m.publishReplaceable(ctx, "product", p.ID, KindProduct, content, tags)
}

// publishReplaceable implements the content-hash short-circuit: it skips
// signing+publishing entirely when the canonical content hash matches the
// stored lastContentHash, so unchanged catalog rows cost zero network calls.
func (m *Mirror) publishReplaceable(ctx context.Context, kind, key string, nostrKind int, content string, tags [][]string) error {
	hash := contentHash(content)

	prior, err := m.books.Get(ctx, kind, key)
	if err != nil {
		return fmt.Errorf("load bookkeeping for %s/%s: %w", kind, key, err)
	}
	if prior.LastContentHash == hash {
		logger.Debug("nostrmirror: content unchanged, skipping publish", zap.String("kind", kind), zap.String("key", key))
		return nil
	}

	createdAt := time.Now().Unix()
	id, err := nostrsign.EventID(m.key.PublicKey, createdAt, nostrKind, tags, content)
	if err != nil {
		return fmt.Errorf("compute event id: %w", err)
	}
	sig, err := m.key.Sign(id)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	ev := relaypool.Event{
		ID:        id,
		PubKey:    m.key.PublicKey,
		CreatedAt: createdAt,
		Kind:      nostrKind,
		Tags:      tags,
		Content:   content,
		Sig:       sig,
	}

	acks, err := m.relays.Publish(ev)
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", kind, key, err)
	}

	storeAcks := make([]store.RelayAck, 0, len(acks))
	for _, a := range acks {
		storeAcks = append(storeAcks, store.RelayAck{Relay: a.Relay, OK: a.OK, Error: a.Error, LatencyMs: a.LatencyMs})
	}

	return m.books.Put(ctx, &store.NostrBookkeeping{
		Kind:            kind,
		Key:             key,
		LastEventID:     id,
		LastContentHash: hash,
		LastPublishedAt: time.Now().UTC(),
		LastAck:         storeAcks,
	})
}

// SyncAll republishes the stall and every catalog product. The content-hash
// short-circuit makes this cheap to call at startup or after catalog edits;
// a relay outage on one record does not stop the rest.
func (m *Mirror) SyncAll(ctx context.Context, settings *store.Settings, products []*store.Product) error {
	var firstErr error
	if err := m.PublishStall(ctx, settings); err != nil {
		logger.Warn("nostrmirror: stall publish failed", zap.Error(err))
		firstErr = err
	}
	for _, p := range products {
		if err := m.PublishProduct(ctx, p, settings.Nostr.DefaultHashtags...); err != nil {
			logger.Warn("nostrmirror: product publish failed", zap.String("product_id", p.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals v with sorted map keys via Go's stable struct field
// ordering (json.Marshal on a struct is already deterministic field-order),
// which is sufficient here since every payload is a fixed struct shape, not
// a generic map.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
