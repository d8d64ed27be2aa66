// Package orderstate owns the order lifecycle: it is the only component
// that writes store.Order.Status. Every other subsystem (watcher, HTTP
// admin handler, webhook handler) goes through Machine.
package orderstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/eventbus"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// transitions is the order lifecycle graph. The zero value for a status
// absent from this map means no payment-driven transition leaves it.
var transitions = map[store.OrderStatus][]store.OrderStatus{
	store.StatusPending:     {store.StatusMempool, store.StatusConfirmed, store.StatusPaid, store.StatusExpired, store.StatusFailed},
	store.StatusMempool:     {store.StatusConfirmed, store.StatusPaid, store.StatusExpired, store.StatusFailed},
	store.StatusConfirmed:   {store.StatusPaid, store.StatusFailed},
	store.StatusPaid:        {store.StatusPreparation},
	store.StatusPreparation: {store.StatusShipped, store.StatusPaid},
	store.StatusShipped:     {},
}

// ErrDisallowedTransition is returned by TryTransition when `to` is not
// reachable from the order's current status.
var ErrDisallowedTransition = errors.New("transition not allowed from current status")

// Machine is the sole mutator of order status. It wraps store.OrderRepository
// so every committed transition also fans out on the event bus and enqueues
// the customer-visible notification targets: validate -> mutate -> record ->
// publish, in that order, never publish before the row is committed.
type Machine struct {
	orders *store.OrderRepository
	outbox *store.OutboxRepository
	bus    *eventbus.Bus
	notify NotificationEnqueuer
}

// NotificationEnqueuer decouples Machine from the concrete dispatcher so the
// two packages do not import each other; internal/dispatcher implements it.
type NotificationEnqueuer interface {
	Enqueue(orderID string, targetState store.OrderStatus)
}

// CustomerVisibleTargets are the three states that trigger DM+email
// dispatch.
var CustomerVisibleTargets = map[store.OrderStatus]bool{
	store.StatusPaid:        true,
	store.StatusPreparation: true,
	store.StatusShipped:     true,
}

func NewMachine(orders *store.OrderRepository, outbox *store.OutboxRepository, bus *eventbus.Bus, notify NotificationEnqueuer) *Machine {
	return &Machine{orders: orders, outbox: outbox, bus: bus, notify: notify}
}

// StatusChanged is the event published on the bus for every committed
// transition.
type StatusChanged struct {
	OrderID string            `json:"orderId"`
	From    store.OrderStatus `json:"from"`
	To      store.OrderStatus `json:"to"`
	At      time.Time         `json:"at"`
}

func allowedFrom(to store.OrderStatus) []store.OrderStatus {
	var from []store.OrderStatus
	for src, dsts := range transitions {
		for _, d := range dsts {
			if d == to {
				from = append(from, src)
				break
			}
		}
	}
	return from
}

// TryTransition is the watcher's and webhook handler's entry point: it
// attempts to move the order to `reported`, treating "already there" as a
// success no-op so duplicate driver/webhook reports never surface as errors.
// The conditional UPDATE is keyed to the exact status just read, so the
// committed StatusChanged event always carries the real predecessor; a lost
// race re-reads and retries.
func (m *Machine) TryTransition(ctx context.Context, orderID string, reported store.OrderStatus) (*store.Order, error) {
	allowed := allowedFrom(reported)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: %s has no predecessors", ErrDisallowedTransition, reported)
	}

	for attempt := 0; attempt < 3; attempt++ {
		prior, err := m.orders.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if prior.Status == reported {
			// Already at target: duplicate report, not an error.
			return prior, nil
		}
		if !statusIn(prior.Status, allowed) {
			if prior.Status.PaymentTerminal() {
				// PAID is sticky against watcher downgrades; EXPIRED/FAILED
				// similarly cannot be revisited by a payment report. A stale
				// poll landing here is routine, so log quietly.
				logger.Debug("dropped stale report, payment already settled",
					zap.String("order_id", orderID), zap.String("current", string(prior.Status)),
					zap.String("reported", string(reported)))
			} else {
				logger.Warn("dropped disallowed transition",
					zap.String("order_id", orderID), zap.String("current", string(prior.Status)),
					zap.String("reported", string(reported)))
			}
			return prior, fmt.Errorf("%w: order %s is %s, cannot move to %s", ErrDisallowedTransition, orderID, prior.Status, reported)
		}

		updated, current, err := m.orders.TransitionStatus(ctx, orderID, []store.OrderStatus{prior.Status}, reported)
		if err != nil {
			return nil, err
		}
		if updated {
			m.commit(orderID, prior.Status, reported, current)
			return current, nil
		}
		// Another report won the conditional UPDATE between our read and
		// write; re-read and re-evaluate against the new status.
	}

	current, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return current, nil
}

func statusIn(s store.OrderStatus, set []store.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

// AdminSetStatus bypasses the sticky PAID-downgrade rule; it is only ever
// called from the admin HTTP handler. Orders that reached SHIPPED, EXPIRED,
// or FAILED are done: not even an admin moves them again.
func (m *Machine) AdminSetStatus(ctx context.Context, orderID string, to store.OrderStatus, courier, tracking string) (*store.Order, error) {
	if to == store.StatusShipped && (courier == "" || tracking == "") {
		return nil, fmt.Errorf("%w: shipping requires courier and tracking", store.ErrValidation)
	}

	before, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if before.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s, a terminal state", store.ErrConflict, orderID, before.Status)
	}

	updated, err := m.orders.AdminSetStatus(ctx, orderID, to, courier, tracking)
	if err != nil {
		return nil, err
	}

	m.commit(orderID, before.Status, to, updated)
	return updated, nil
}

// commit publishes StatusChanged and enqueues notification dispatch for the
// three customer-visible targets. Called only after a row was actually
// updated, never on a no-op.
func (m *Machine) commit(orderID string, from, to store.OrderStatus, order *store.Order) {
	logger.Info("order transitioned",
		zap.String("order_id", orderID), zap.String("from", string(from)), zap.String("to", string(to)))

	m.bus.Publish(orderID, eventbus.Event{
		Kind: "StatusChanged",
		Payload: StatusChanged{
			OrderID: orderID,
			From:    from,
			To:      to,
			At:      order.UpdatedAt,
		},
	})

	if CustomerVisibleTargets[to] && m.notify != nil {
		m.notify.Enqueue(orderID, to)
	}
}

// CreateOrder inserts the order after the driver artifact already exists, so
// no PENDING row can ever lack a payment reference: if the driver call died,
// there is nothing to insert. If the insert fails (e.g. a duplicate payment
// reference) the driver-side artifact is left in place; neither this method
// nor the checkout handler cancels it.
func (m *Machine) CreateOrder(ctx context.Context, draft store.OrderDraft) (*store.Order, error) {
	order, err := m.orders.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	logger.Info("order created", zap.String("order_id", order.ID), zap.String("method", string(order.Method)))
	return order, nil
}
