// Package eventbus is the in-process publish/subscribe backing the SSE
// endpoints: bounded delivery, explicit drop accounting, per-topic
// mutex-guarded state. Deliberately in-memory: durability for status
// changes lives in the store and the notification outbox, not here.
package eventbus

import (
	"sync"

	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// HistorySize is how many of a topic's most recent events a late joiner
// replays before receiving live ones.
const HistorySize = 8

// SubscriberBuffer is the bounded per-subscriber channel capacity; on a slow
// subscriber the oldest buffered event is dropped, never the whole topic.
const SubscriberBuffer = 16

// Event is one bus message. Kind lets subscribers distinguish payload shapes
// without reflecting on Payload; today only "StatusChanged" is published.
type Event struct {
	Kind    string
	Payload any
}

type topic struct {
	mu      sync.Mutex
	history []Event
	subs    map[int]chan Event
	nextID  int
}

// Bus is a map of orderId -> topic, each independently synchronized so one
// busy order's fan-out never blocks another's.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic

	dropped uint64 // events evicted from slow-subscriber buffers
}

func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) topicFor(orderID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[orderID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[orderID] = t
	}
	return t
}

// Publish fans an event out to every live subscriber of orderID and appends
// it to the bounded replay history.
func (b *Bus) Publish(orderID string, ev Event) {
	t := b.topicFor(orderID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, ev)
	if len(t.history) > HistorySize {
		t.history = t.history[len(t.history)-HistorySize:]
	}

	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop the oldest buffered event to make room
			// rather than block the publisher or grow unboundedly.
			select {
			case <-ch:
				b.mu.Lock()
				b.dropped++
				b.mu.Unlock()
				logger.Warn("eventbus: dropped oldest event for slow subscriber",
					zap.String("order_id", orderID), zap.Int("subscriber", id))
			default:
			}
			select {
			case ch <- ev:
			default:
				b.mu.Lock()
				b.dropped++
				b.mu.Unlock()
			}
		}
	}
}

// Subscription is returned by Subscribe; callers range over Events until
// Close is called or the bus shuts down the topic.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

func (s *Subscription) Close() { s.cancel() }

// Subscribe registers a new subscriber for orderID, replaying up to
// HistorySize buffered events before returning, so a late joiner (e.g. a
// page reload) never misses the terminal event if it already fired.
func (b *Bus) Subscribe(orderID string) *Subscription {
	t := b.topicFor(orderID)
	t.mu.Lock()

	ch := make(chan Event, SubscriberBuffer)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	for _, ev := range t.history {
		select {
		case ch <- ev:
		default:
		}
	}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}

	return &Subscription{Events: ch, cancel: cancel}
}

// DroppedCount reports the cumulative number of events dropped across every
// topic due to slow subscribers, exposed for diagnostics/metrics.
func (b *Bus) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
