package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe_DeliversLiveEvent(t *testing.T) {
	b := New()
	sub := b.Subscribe("order-1")
	defer sub.Close()

	b.Publish("order-1", Event{Kind: "StatusChanged", Payload: "PAID"})

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "StatusChanged", ev.Kind)
		assert.Equal(t, "PAID", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_ReplaysBoundedHistoryToLateJoiner(t *testing.T) {
	b := New()

	for i := 0; i < HistorySize+5; i++ {
		b.Publish("order-2", Event{Kind: "tick", Payload: i})
	}

	sub := b.Subscribe("order-2")
	defer sub.Close()

	var got []int
	for i := 0; i < HistorySize; i++ {
		select {
		case ev := <-sub.Events:
			got = append(got, ev.Payload.(int))
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	require.Len(t, got, HistorySize)
	// Only the most recent HistorySize events survive the bounded history.
	assert.Equal(t, 5, got[0])
	assert.Equal(t, HistorySize+4, got[len(got)-1])
}

func TestPublish_IsolatedPerOrder(t *testing.T) {
	b := New()
	subA := b.Subscribe("order-a")
	defer subA.Close()
	subB := b.Subscribe("order-b")
	defer subB.Close()

	b.Publish("order-a", Event{Kind: "StatusChanged", Payload: "PAID"})

	select {
	case <-subA.Events:
	case <-time.After(time.Second):
		t.Fatal("order-a subscriber never received its event")
	}

	select {
	case ev := <-subB.Events:
		t.Fatalf("order-b subscriber unexpectedly received %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_StopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("order-3")
	sub.Close()

	b.Publish("order-3", Event{Kind: "StatusChanged", Payload: "PAID"})

	_, ok := <-sub.Events
	assert.False(t, ok, "channel should be closed after Close")
}

func TestSlowSubscriber_DropsOldestAndCountsIt(t *testing.T) {
	b := New()
	sub := b.Subscribe("order-4")
	defer sub.Close()

	// Flood well past the subscriber buffer without draining, so the bus
	// must drop the oldest buffered events to keep publishing.
	for i := 0; i < SubscriberBuffer+10; i++ {
		b.Publish("order-4", Event{Kind: "tick", Payload: i})
	}

	assert.Greater(t, b.DroppedCount(), uint64(0))
}
