// Package dispatcher sends order status notifications: claim an outbox row,
// render the configured template, send over the DM or email channel, and
// record the outcome without ever rolling back the claim. Jobs arrive via
// internal/streamqueue so a slow SMTP server or relay publish never blocks
// the order state machine's transition commit.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/mailer"
	"storefront/internal/nostr"
	"storefront/internal/nostrsign"
	"storefront/internal/relaypool"
	"storefront/internal/store"
	"storefront/internal/streamqueue"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

const (
	channelDM    = "dm"
	channelEmail = "email"

	// nip04Kind is the event kind NIP-04 encrypted direct messages use.
	nip04Kind = 4
)

// Dispatcher is the orderstate.NotificationEnqueuer implementation.
type Dispatcher struct {
	orders   *store.OrderRepository
	outbox   *store.OutboxRepository
	settings *store.SettingsRepository
	queue    *streamqueue.Queue
	relays   *relaypool.Pool
	mail     mailer.Mailer
	key      *nostrsign.Keypair
	consumer string
}

func New(
	orders *store.OrderRepository,
	outbox *store.OutboxRepository,
	settings *store.SettingsRepository,
	queue *streamqueue.Queue,
	relays *relaypool.Pool,
	mail mailer.Mailer,
	key *nostrsign.Keypair,
	consumerName string,
) *Dispatcher {
	return &Dispatcher{
		orders: orders, outbox: outbox, settings: settings,
		queue: queue, relays: relays, mail: mail, key: key, consumer: consumerName,
	}
}

type job struct {
	OrderID     string            `json:"orderId"`
	TargetState store.OrderStatus `json:"targetState"`
}

// Enqueue implements orderstate.NotificationEnqueuer: it publishes a job to
// the stream and returns immediately, never touching the network itself.
func (d *Dispatcher) Enqueue(orderID string, targetState store.OrderStatus) {
	raw, err := json.Marshal(job{OrderID: orderID, TargetState: targetState})
	if err != nil {
		logger.Error("dispatcher: marshal job failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.queue.Enqueue(ctx, raw); err != nil {
		logger.Error("dispatcher: enqueue failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Run declares the consumer group and blocks, draining jobs until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.queue.Declare(ctx); err != nil {
		return fmt.Errorf("dispatcher: declare stream: %w", err)
	}
	return d.queue.Consume(ctx, d.consumer, d.handleJob)
}

func (d *Dispatcher) handleJob(messageID string, data []byte) error {
	var j job
	if err := json.Unmarshal(data, &j); err != nil {
		logger.Error("dispatcher: malformed job, dropping", zap.String("message_id", messageID), zap.Error(err))
		return nil // ack and drop: a malformed job will never succeed on retry
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.Dispatch(ctx, j.OrderID, j.TargetState)
}

// Dispatch runs claim -> render -> send -> record for both channels.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID string, targetState store.OrderStatus) error {
	order, err := d.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("dispatcher: load order %s: %w", orderID, err)
	}
	settings, err := d.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load settings: %w", err)
	}
	tpl := withDefaults(settings.Templates[targetState])

	if order.ContactNostrPubkey != "" {
		if err := d.dispatchChannel(ctx, order, targetState, channelDM, func() error {
			return d.sendDM(order, settings, tpl, targetState)
		}); err != nil {
			logger.Warn("dispatcher: dm channel failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	if order.Contact.Email != "" {
		if err := d.dispatchChannel(ctx, order, targetState, channelEmail, func() error {
			return d.sendEmail(order, settings, tpl, targetState)
		}); err != nil {
			logger.Warn("dispatcher: email channel failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	return nil
}

// dispatchChannel claims the outbox row, runs send, and records the outcome.
// A permanent send failure is recorded but never rolls back the claim; only
// the admin "resend" action (Outbox.Reset) re-enqueues.
func (d *Dispatcher) dispatchChannel(ctx context.Context, order *store.Order, targetState store.OrderStatus, channel string, send func() error) error {
	claimed, err := d.outbox.Claim(ctx, order.ID, targetState, channel)
	if err != nil {
		return fmt.Errorf("claim outbox: %w", err)
	}
	if !claimed {
		return nil
	}

	sendErr := send()
	if markErr := d.outbox.MarkDispatched(ctx, order.ID, targetState, channel, sendErr); markErr != nil {
		logger.Error("dispatcher: failed to record dispatch outcome", zap.String("order_id", order.ID), zap.Error(markErr))
	}
	return sendErr
}

func (d *Dispatcher) sendDM(order *store.Order, settings *store.Settings, tpl store.NotificationTemplate, targetState store.OrderStatus) error {
	// Only the hex pubkey works here: NIP-04 key derivation needs the raw
	// x-only key, and bech32 npubs are normalized to hex at checkout.
	recipient := order.ContactNostrPubkey

	vals := substitutions(settings.StoreName, order, targetState)
	body := render(tpl.DMBody, vals)

	envelope, err := nostr.EncryptDM(d.key.PrivateKeyHex(), recipient, body)
	if err != nil {
		return fmt.Errorf("encrypt dm: %w", err)
	}

	createdAt := time.Now().Unix()
	tags := [][]string{{"p", recipient}}
	id, err := nostrsign.EventID(d.key.PublicKey, createdAt, nip04Kind, tags, envelope)
	if err != nil {
		return fmt.Errorf("compute dm event id: %w", err)
	}
	sig, err := d.key.Sign(id)
	if err != nil {
		return fmt.Errorf("sign dm: %w", err)
	}

	ev := relaypool.Event{ID: id, PubKey: d.key.PublicKey, CreatedAt: createdAt, Kind: nip04Kind, Tags: tags, Content: envelope, Sig: sig}
	acks, err := d.relays.Publish(ev)
	if err != nil {
		return fmt.Errorf("publish dm: %w", err)
	}

	anyOK := false
	for _, a := range acks {
		if a.OK {
			anyOK = true
			break
		}
	}
	if !anyOK {
		return fmt.Errorf("dm delivery failed on all %d relays", len(acks))
	}
	return nil
}

func (d *Dispatcher) sendEmail(order *store.Order, settings *store.Settings, tpl store.NotificationTemplate, targetState store.OrderStatus) error {
	vals := substitutions(settings.StoreName, order, targetState)
	subject := render(tpl.EmailSubject, vals)
	body := render(tpl.EmailBody, vals)
	if settings.EmailSignature != "" {
		body = body + "\n\n" + settings.EmailSignature
	}
	return d.mail.Send(order.Contact.Email, subject, body)
}
