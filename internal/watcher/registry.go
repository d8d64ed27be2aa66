package watcher

import (
	"context"
	"sync"

	"storefront/internal/driver"
	"storefront/internal/eventbus"
	"storefront/internal/orderstate"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// Registry owns every live Watcher, keyed by order id, and guarantees at
// most one Watcher goroutine pair runs per order at a time. The guard is
// in-process only; the store's conditional UPDATE makes a stray duplicate
// harmless anyway.
type Registry struct {
	orders  *store.OrderRepository
	drivers map[store.PaymentMethod]driver.Driver
	machine *orderstate.Machine
	bus     *eventbus.Bus

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry takes one driver per payment method: a storefront may run a
// Lightning driver and a swap driver side by side, each order routed to the
// driver matching its own Method.
func NewRegistry(orders *store.OrderRepository, drivers map[store.PaymentMethod]driver.Driver, machine *orderstate.Machine, bus *eventbus.Bus) *Registry {
	return &Registry{orders: orders, drivers: drivers, machine: machine, bus: bus, watchers: make(map[string]*Watcher)}
}

// Watch starts a Watcher for order if one is not already running for its id,
// and subscribes a one-shot cleanup goroutine that releases the Watcher the
// moment the order reaches a terminal status.
func (r *Registry) Watch(order *store.Order) {
	drv, ok := r.drivers[order.Method]
	if !ok {
		logger.Error("watcher: no driver configured for payment method", zap.String("order_id", order.ID), zap.String("method", string(order.Method)))
		return
	}

	r.mu.Lock()
	if _, exists := r.watchers[order.ID]; exists {
		r.mu.Unlock()
		return
	}
	w := newWatcher(order, drv, r.machine)
	r.watchers[order.ID] = w
	r.mu.Unlock()

	w.Start()

	if r.bus != nil {
		go r.watchForTerminal(order.ID)
	}
}

func (r *Registry) watchForTerminal(orderID string) {
	sub := r.bus.Subscribe(orderID)
	defer sub.Close()

	for ev := range sub.Events {
		sc, ok := ev.Payload.(orderstate.StatusChanged)
		if !ok {
			continue
		}
		if sc.To.PaymentTerminal() {
			r.Release(orderID)
			return
		}
	}
}

// Release stops and forgets the Watcher for orderID, called once an order
// reaches a terminal state or on shutdown.
func (r *Registry) Release(orderID string) {
	r.mu.Lock()
	w, ok := r.watchers[orderID]
	if ok {
		delete(r.watchers, orderID)
	}
	r.mu.Unlock()

	if ok {
		w.Stop()
	}
}

// RecoverAll lists every non-terminal order at process startup and spawns a
// Watcher for each, so a restart picks back up orders that were mid-flight
// when the process last stopped.
func (r *Registry) RecoverAll(ctx context.Context) error {
	orders, err := r.orders.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		r.Watch(o)
	}
	logger.Info("watcher: recovered orders", zap.Int("count", len(orders)))
	return nil
}

// StopAll stops every live Watcher, used during graceful shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for id, w := range r.watchers {
		watchers = append(watchers, w)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
}

// Count reports the number of currently-tracked watchers, for diagnostics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}
