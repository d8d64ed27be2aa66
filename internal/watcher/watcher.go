// Package watcher reconciles each non-terminal order against its payment
// driver until the payment settles or dies. Each order gets one Watcher: a
// polling goroutine plus, when the driver supports it, a push-subscription
// goroutine, both feeding the same state machine.
package watcher

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"storefront/internal/driver"
	"storefront/internal/orderstate"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// Poll intervals: Lightning settles in seconds, on-chain in blocks, so the
// base cadence differs. After consecutive unchanged reads the interval doubles
// up to MaxPollInterval and snaps back to base on any observed change.
const (
	LightningPollInterval = 3 * time.Second
	OnchainPollInterval   = 5 * time.Second
	MaxPollInterval       = 60 * time.Second

	// ExpiryGrace extends the order's absolute deadline so a payment landing
	// right at expiry still gets one authoritative look before the order is
	// force-expired.
	ExpiryGrace = 30 * time.Second
)

// Watcher reconciles a single order's payment status. One Watcher instance
// ever exists per live order, enforced by Registry.
type Watcher struct {
	order   *store.Order
	drv     driver.Driver
	machine *orderstate.Machine
	log     *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	running      bool
	lastReported store.OrderStatus
}

func newWatcher(order *store.Order, drv driver.Driver, machine *orderstate.Machine) *Watcher {
	return &Watcher{
		order: order, drv: drv, machine: machine, log: logger.WithOrder(order.ID),
		stopCh: make(chan struct{}), lastReported: order.Status,
	}
}

func (w *Watcher) ref() string {
	if w.order.Method == store.MethodOnchain {
		return w.order.SwapID
	}
	return w.order.PaymentHash
}

func (w *Watcher) baseInterval() time.Duration {
	if w.order.Method == store.MethodOnchain {
		return OnchainPollInterval
	}
	return LightningPollInterval
}

// Start spawns the poll and (capability-permitting) push-subscription
// goroutines. Safe to call once; Registry guards against double-start.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.runPoller()

	if w.drv.Capabilities().PushStream {
		w.wg.Add(1)
		go w.runSubscription()
	}
}

// Stop signals both goroutines and blocks until they exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
}

// jitter spreads an interval by ±25% so a fleet of watchers recovered
// together at startup does not hammer the provider in lockstep.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 4
	if spread == 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(2*spread)-spread)
}

func (w *Watcher) runPoller() {
	defer w.wg.Done()

	// One authoritative check before the cadence starts: after a restart the
	// payment may already have settled via a webhook delivered while the
	// process was down, and the watcher must exit immediately in that case.
	interval := w.baseInterval()
	if w.checkOnce() {
		return
	}

	timer := time.NewTimer(jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-timer.C:
			changed, done := w.pollStep()
			if done {
				return
			}
			if changed {
				interval = w.baseInterval()
			} else if interval < MaxPollInterval {
				interval *= 2
				if interval > MaxPollInterval {
					interval = MaxPollInterval
				}
			}
			timer.Reset(jitter(interval))
		}
	}
}

// pollStep runs one poll cycle and reports whether the driver's answer
// differed from the previous one (resetting the backoff) and whether the
// watcher is finished.
func (w *Watcher) pollStep() (changed, done bool) {
	w.mu.Lock()
	before := w.lastReported
	w.mu.Unlock()

	done = w.checkOnce()

	w.mu.Lock()
	changed = w.lastReported != before
	w.mu.Unlock()
	return changed, done
}

// checkOnce polls driver status once, applies it, and enforces the order's
// absolute deadline. It returns true once the payment is settled or dead,
// signaling the poller to stop.
func (w *Watcher) checkOnce() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !w.order.ExpiresAt.IsZero() && time.Now().After(w.order.ExpiresAt.Add(ExpiryGrace)) {
		return w.expire(ctx)
	}

	status, err := w.drv.InvoiceStatus(ctx, w.ref())
	if err != nil {
		w.log.Warn("watcher: poll failed", zap.Error(err))
		return false
	}

	w.mu.Lock()
	w.lastReported = status
	w.mu.Unlock()

	current, err := w.machine.TryTransition(ctx, w.order.ID, status)
	if err != nil && !errors.Is(err, orderstate.ErrDisallowedTransition) {
		w.log.Warn("watcher: transition failed", zap.Error(err))
		return false
	}
	if current != nil {
		return current.Status.PaymentTerminal()
	}
	return false
}

// expire runs the deadline procedure: one last authoritative poll, and only
// if the payment is still unsettled does the order move to EXPIRED.
func (w *Watcher) expire(ctx context.Context) bool {
	status, err := w.drv.InvoiceStatus(ctx, w.ref())
	if err == nil {
		switch status {
		case store.StatusMempool, store.StatusConfirmed, store.StatusPaid, store.StatusFailed:
			current, terr := w.machine.TryTransition(ctx, w.order.ID, status)
			if terr != nil && !errors.Is(terr, orderstate.ErrDisallowedTransition) {
				w.log.Warn("watcher: deadline transition failed", zap.Error(terr))
				return false
			}
			// Funds were seen at the wire: MEMPOOL/CONFIRMED keep the watcher
			// alive past the deadline, the rest end it.
			if current != nil && current.Status.PaymentTerminal() {
				return true
			}
			if status == store.StatusMempool || status == store.StatusConfirmed {
				return false
			}
		}
	} else {
		w.log.Warn("watcher: authoritative deadline poll failed, expiring anyway", zap.Error(err))
	}

	current, err := w.machine.TryTransition(ctx, w.order.ID, store.StatusExpired)
	if err != nil && !errors.Is(err, orderstate.ErrDisallowedTransition) {
		w.log.Warn("watcher: failed to expire order", zap.Error(err))
		return false
	}
	if current != nil {
		return current.Status.PaymentTerminal()
	}
	return true
}

func (w *Watcher) runSubscription() {
	defer w.wg.Done()

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		subCtx, cancel := context.WithCancel(context.Background())
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-w.stopCh:
				cancel()
			case <-stopWatch:
			}
		}()

		onUpdate := func(ref string, newState store.OrderStatus) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			w.mu.Lock()
			w.lastReported = newState
			w.mu.Unlock()

			if _, err := w.machine.TryTransition(ctx, w.order.ID, newState); err != nil && !errors.Is(err, orderstate.ErrDisallowedTransition) {
				w.log.Warn("watcher: push-driven transition failed", zap.Error(err))
			}
		}

		cancelSub, err := w.drv.SubscribePush(subCtx, w.ref(), onUpdate)
		if err != nil {
			close(stopWatch)
			cancel()
			if errors.Is(err, driver.ErrUnsupported) {
				return
			}
			w.log.Warn("watcher: subscribe failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-w.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		<-w.stopCh
		cancelSub()
		close(stopWatch)
		cancel()
		return
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
