package relaypool

import (
	"encoding/json"
	"sync"
	"time"

	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// Publish fans a signed event out to every relay in the pool (or only
// `relays` if non-empty), returning after the first OK ack or the global
// deadline, whichever is later.
func (p *Pool) Publish(ev Event, relays ...string) ([]Ack, error) {
	raw, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	targets := make([]*relayConn, 0, len(p.relays))
	if len(relays) == 0 {
		for _, rc := range p.relays {
			targets = append(targets, rc)
		}
	} else {
		want := make(map[string]bool, len(relays))
		for _, r := range relays {
			want[r] = true
		}
		for url, rc := range p.relays {
			if want[url] {
				targets = append(targets, rc)
			}
		}
	}
	p.mu.RUnlock()

	if err := fmtOK(len(targets)); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	acks := make([]Ack, 0, len(targets))
	var wg sync.WaitGroup
	gotOK := make(chan struct{}, 1)

	for _, rc := range targets {
		wg.Add(1)
		go func(rc *relayConn) {
			defer wg.Done()
			start := time.Now()
			ack := p.publishOne(rc, ev.ID, raw)
			ack.LatencyMs = time.Since(start).Milliseconds()

			mu.Lock()
			acks = append(acks, ack)
			mu.Unlock()

			if ack.OK {
				select {
				case gotOK <- struct{}{}:
				default:
				}
			}
		}(rc)
	}

	allDone := make(chan struct{})
	go func() { wg.Wait(); close(allDone) }()

	deadline := time.NewTimer(PublishTimeout)
	defer deadline.Stop()

	select {
	case <-gotOK:
	case <-allDone:
	case <-deadline.C:
	}

	// Whichever completed first, still wait out the global deadline so
	// slower relays get a chance to land their ack too.
	select {
	case <-allDone:
	case <-deadline.C:
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]Ack(nil), acks...), nil
}

func (p *Pool) publishOne(rc *relayConn, eventID string, raw []byte) Ack {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return Ack{Relay: rc.url, OK: false, Error: "not connected"}
	}

	waitCh := make(chan Ack, 1)
	rc.waitersMu.Lock()
	rc.publishWaiters[eventID] = waitCh
	rc.waitersMu.Unlock()

	select {
	case rc.writeCh <- raw:
	default:
		rc.waitersMu.Lock()
		delete(rc.publishWaiters, eventID)
		rc.waitersMu.Unlock()
		return Ack{Relay: rc.url, OK: false, Error: "write buffer full"}
	}

	select {
	case ack := <-waitCh:
		return ack
	case <-time.After(PublishTimeout):
		rc.waitersMu.Lock()
		delete(rc.publishWaiters, eventID)
		rc.waitersMu.Unlock()
		return Ack{Relay: rc.url, OK: false, Error: "timeout waiting for OK"}
	}
}

// Subscribe opens a REQ across every connected relay, merging events by id
// and invoking onEvent as frames arrive, until cancel is called. onEose
// fires once, after every relay the REQ reached has sent EOSE or dropped
// its connection.
func (p *Pool) Subscribe(subID string, filters []Filter, onEvent func(Event), onEose func()) (cancel func()) {
	sub := &subscription{
		id: subID, filters: filters, onEvent: onEvent, onEose: onEose,
		awaiting: make(map[string]bool), eoseSeen: make(map[string]bool),
	}
	p.subMu.Lock()
	p.subs[subID] = sub
	p.subMu.Unlock()

	msg, err := buildReqMessage(subID, filters)
	if err == nil {
		p.mu.RLock()
		for _, rc := range p.relays {
			rc.mu.Lock()
			connected := rc.conn != nil
			rc.mu.Unlock()
			if !connected {
				continue
			}
			select {
			case rc.writeCh <- msg:
				p.subMu.Lock()
				sub.awaiting[rc.url] = true
				p.subMu.Unlock()
			default:
				logger.Warn("relaypool: subscribe write buffer full", zap.String("relay", rc.url))
			}
		}
		p.mu.RUnlock()
	}

	// Nothing reachable means nothing to wait for: report end-of-stored
	// immediately rather than letting a FetchOnce sit out its timeout.
	p.subMu.Lock()
	empty := len(sub.awaiting) == 0 && !sub.eoseFired
	if empty {
		sub.eoseFired = true
	}
	p.subMu.Unlock()
	if empty && onEose != nil {
		onEose()
	}

	return func() {
		closeMsg, _ := json.Marshal([]any{"CLOSE", subID})
		p.mu.RLock()
		for _, rc := range p.relays {
			select {
			case rc.writeCh <- closeMsg:
			default:
			}
		}
		p.mu.RUnlock()

		p.subMu.Lock()
		delete(p.subs, subID)
		p.subMu.Unlock()
	}
}

// FetchOnce runs a one-shot Subscribe, collecting events until every relay
// the REQ reached has sent EOSE (or disconnected), or overallTimeout
// elapses. Subscribe fires onEose exactly once, so the done channel needs
// no further guarding.
func (p *Pool) FetchOnce(subID string, filters []Filter, overallTimeout time.Duration) []Event {
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})

	cancel := p.Subscribe(subID, filters,
		func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		func() {
			close(done)
		},
	)
	defer cancel()

	select {
	case <-done:
	case <-time.After(overallTimeout):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]Event(nil), events...)
}
