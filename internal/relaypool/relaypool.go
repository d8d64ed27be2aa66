// Package relaypool maintains persistent WebSocket connections to a
// configurable set of Nostr relays: one reader goroutine plus one writer
// goroutine per relay, each connection independently reconnecting with
// exponential backoff so one dead relay never blocks fan-out to the rest.
package relaypool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storefront/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is the wire shape of a signed Nostr event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Ack records one relay's response to a publish attempt.
type Ack struct {
	Relay     string
	OK        bool
	Error     string
	LatencyMs int64
}

// Filter is a subset of NIP-01 REQ filter fields.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Tags    map[string][]string
	Since   int64 `json:"since,omitempty"`
	Until   int64 `json:"until,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}

func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for k, v := range f.Tags {
		m["#"+k] = v
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// Connection and publish deadlines, with the reconnect backoff window.
const (
	PublishTimeout  = 10 * time.Second
	ConnectTimeout  = 10 * time.Second
	initialBackoff  = 2 * time.Second
	maxBackoff      = 5 * time.Minute
	dedupeWindow    = 2 * time.Minute
)

type relayConn struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	writeCh chan []byte
	stopCh  chan struct{}
	wg      sync.WaitGroup

	publishWaiters map[string]chan Ack
	waitersMu      sync.Mutex
}

// Pool fans Publish/Subscribe/FetchOnce out across every configured relay.
type Pool struct {
	relays map[string]*relayConn
	mu     sync.RWMutex

	subMu sync.Mutex
	subs  map[string]*subscription

	seenMu sync.Mutex
	seen   map[string]time.Time // event id -> first-seen, for Subscribe dedupe
}

type subscription struct {
	id      string
	filters []Filter
	onEvent func(Event)
	onEose  func()

	// awaiting holds the relays the REQ went out to; eoseSeen fills in as
	// each answers EOSE (or drops its connection). onEose fires once, when
	// every awaited relay is accounted for.
	awaiting  map[string]bool
	eoseSeen  map[string]bool
	eoseFired bool
}

// eoseComplete reports whether every awaited relay has answered. Caller
// holds subMu.
func (s *subscription) eoseComplete() bool {
	for url := range s.awaiting {
		if !s.eoseSeen[url] {
			return false
		}
	}
	return true
}

// New constructs an empty pool; call AddRelay for each configured relay url.
func New() *Pool {
	return &Pool{relays: make(map[string]*relayConn), subs: make(map[string]*subscription), seen: make(map[string]time.Time)}
}

// AddRelay registers and connects a relay url, spawning its reader/writer
// goroutines. Safe to call concurrently with Publish/Subscribe.
func (p *Pool) AddRelay(url string) {
	p.mu.Lock()
	if _, ok := p.relays[url]; ok {
		p.mu.Unlock()
		return
	}
	rc := &relayConn{url: url, writeCh: make(chan []byte, 64), stopCh: make(chan struct{}), publishWaiters: make(map[string]chan Ack)}
	p.relays[url] = rc
	p.mu.Unlock()

	rc.wg.Add(1)
	go p.runRelay(rc)
}

// Close stops every relay connection, for graceful shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	relays := make([]*relayConn, 0, len(p.relays))
	for _, rc := range p.relays {
		relays = append(relays, rc)
	}
	p.mu.Unlock()

	for _, rc := range relays {
		close(rc.stopCh)
	}
	for _, rc := range relays {
		rc.wg.Wait()
	}
}

func (p *Pool) runRelay(rc *relayConn) {
	defer rc.wg.Done()

	backoff := initialBackoff
	for {
		select {
		case <-rc.stopCh:
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rc.url, nil)
		cancel()
		if err != nil {
			logger.Warn("relaypool: connect failed, retrying", zap.String("relay", rc.url), zap.Error(err), zap.Duration("backoff", backoff))
			if !sleepOrDone(rc.stopCh, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		rc.mu.Lock()
		rc.conn = conn
		rc.mu.Unlock()
		backoff = initialBackoff
		logger.Info("relaypool: connected", zap.String("relay", rc.url))

		done := make(chan struct{})
		go p.readLoop(rc, conn, done)
		p.writeLoop(rc, conn, done)

		rc.mu.Lock()
		rc.conn = nil
		rc.mu.Unlock()
		p.relayDown(rc.url)

		select {
		case <-rc.stopCh:
			return
		default:
		}
		if !sleepOrDone(rc.stopCh, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (p *Pool) writeLoop(rc *relayConn, conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-rc.stopCh:
			conn.Close()
			return
		case <-done:
			return
		case msg := <-rc.writeCh:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("relaypool: write failed", zap.String("relay", rc.url), zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (p *Pool) readLoop(rc *relayConn, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p.handleFrame(rc, raw)
	}
}

// handleFrame parses an inbound relay frame defensively: unknown or
// malformed frames are logged at Debug and dropped, never panicking.
func (p *Pool) handleFrame(rc *relayConn, raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
		logger.Debug("relaypool: malformed frame", zap.String("relay", rc.url))
		return
	}

	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		logger.Debug("relaypool: frame missing kind", zap.String("relay", rc.url))
		return
	}

	switch kind {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		var ev Event
		if err := json.Unmarshal(frame[2], &ev); err != nil {
			logger.Debug("relaypool: malformed EVENT payload", zap.String("relay", rc.url))
			return
		}
		p.dispatchEvent(subID, ev)
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		p.dispatchEose(rc.url, subID)
	case "OK":
		if len(frame) < 4 {
			return
		}
		var eventID string
		var ok bool
		var msg string
		_ = json.Unmarshal(frame[1], &eventID)
		_ = json.Unmarshal(frame[2], &ok)
		_ = json.Unmarshal(frame[3], &msg)
		p.dispatchAck(rc, eventID, ok, msg)
	case "NOTICE":
		logger.Debug("relaypool: NOTICE", zap.String("relay", rc.url))
	default:
		logger.Debug("relaypool: unknown frame kind", zap.String("relay", rc.url), zap.String("kind", kind))
	}
}

func (p *Pool) dispatchAck(rc *relayConn, eventID string, ok bool, msg string) {
	rc.waitersMu.Lock()
	ch, exists := rc.publishWaiters[eventID]
	if exists {
		delete(rc.publishWaiters, eventID)
	}
	rc.waitersMu.Unlock()
	if exists {
		ch <- Ack{Relay: rc.url, OK: ok, Error: msg}
	}
}

// dispatchEvent merges events by id within a sliding window: the same event
// relayed by several relays reaches the subscriber callback once.
func (p *Pool) dispatchEvent(subID string, ev Event) {
	p.seenMu.Lock()
	now := time.Now()
	for id, seenAt := range p.seen {
		if now.Sub(seenAt) > dedupeWindow {
			delete(p.seen, id)
		}
	}
	_, dup := p.seen[ev.ID]
	p.seen[ev.ID] = now
	p.seenMu.Unlock()
	if dup {
		return
	}

	p.subMu.Lock()
	sub, ok := p.subs[subID]
	p.subMu.Unlock()
	if !ok || sub.onEvent == nil {
		return
	}
	sub.onEvent(ev)
}

// dispatchEose records one relay's end-of-stored-events marker and fires the
// subscription's onEose only when the whole awaited set has answered, so a
// fast relay cannot cut off events the slower ones still hold.
func (p *Pool) dispatchEose(relayURL, subID string) {
	p.subMu.Lock()
	sub, ok := p.subs[subID]
	var fire func()
	if ok {
		if sub.eoseSeen == nil {
			sub.eoseSeen = make(map[string]bool)
		}
		sub.eoseSeen[relayURL] = true
		if !sub.eoseFired && sub.eoseComplete() {
			sub.eoseFired = true
			fire = sub.onEose
		}
	}
	p.subMu.Unlock()
	if fire != nil {
		fire()
	}
}

// relayDown counts a dropped connection as that relay's EOSE for every open
// subscription: a relay that died will never answer, and waiting on it would
// stall FetchOnce until its full timeout.
func (p *Pool) relayDown(relayURL string) {
	p.subMu.Lock()
	var fires []func()
	for _, sub := range p.subs {
		if !sub.awaiting[relayURL] || sub.eoseSeen[relayURL] {
			continue
		}
		if sub.eoseSeen == nil {
			sub.eoseSeen = make(map[string]bool)
		}
		sub.eoseSeen[relayURL] = true
		if !sub.eoseFired && sub.eoseComplete() {
			sub.eoseFired = true
			if sub.onEose != nil {
				fires = append(fires, sub.onEose)
			}
		}
	}
	p.subMu.Unlock()
	for _, fire := range fires {
		fire()
	}
}

func sleepOrDone(stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func buildReqMessage(subID string, filters []Filter) ([]byte, error) {
	arr := make([]any, 0, len(filters)+2)
	arr = append(arr, "REQ", subID)
	for _, f := range filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

// fmtOK is a tiny guard against an empty relay set producing a nonsensical
// "published to 0 relays, 0 failed" silence.
func fmtOK(n int) error {
	if n == 0 {
		return fmt.Errorf("relaypool: no relays configured")
	}
	return nil
}
