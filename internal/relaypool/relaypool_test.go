package relaypool

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReqMessage_Shape(t *testing.T) {
	raw, err := buildReqMessage("sub1", []Filter{{Kinds: []int{1}, Limit: 10}})
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &arr))
	require.Len(t, arr, 3)

	var kind, subID string
	require.NoError(t, json.Unmarshal(arr[0], &kind))
	require.NoError(t, json.Unmarshal(arr[1], &subID))
	assert.Equal(t, "REQ", kind)
	assert.Equal(t, "sub1", subID)
}

func TestFilter_MarshalJSON_OmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Filter{Kinds: []int{30018}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "kinds")
	assert.NotContains(t, m, "authors")
	assert.NotContains(t, m, "limit")
}

func TestFilter_MarshalJSON_TagsUseHashPrefix(t *testing.T) {
	raw, err := json.Marshal(Filter{Tags: map[string][]string{"d": {"product-1"}}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "#d")
}

func TestPool_HandleFrame_EventDispatchesAndDedupes(t *testing.T) {
	p := New()
	var received []Event
	p.subs["sub1"] = &subscription{id: "sub1", onEvent: func(ev Event) { received = append(received, ev) }}

	rc := &relayConn{url: "wss://relay.test"}

	frame, err := json.Marshal([]any{"EVENT", "sub1", Event{ID: "evt1", Kind: 1, Content: "hello"}})
	require.NoError(t, err)

	p.handleFrame(rc, frame)
	p.handleFrame(rc, frame) // duplicate, must be suppressed

	require.Len(t, received, 1)
	assert.Equal(t, "evt1", received[0].ID)
}

func TestPool_HandleFrame_EOSEInvokesCallback(t *testing.T) {
	p := New()
	eoseCalled := false
	p.subs["sub1"] = &subscription{id: "sub1", onEose: func() { eoseCalled = true }}

	rc := &relayConn{url: "wss://relay.test"}
	frame, err := json.Marshal([]any{"EOSE", "sub1"})
	require.NoError(t, err)

	p.handleFrame(rc, frame)
	assert.True(t, eoseCalled)
}

func TestPool_Eose_WaitsForEveryAwaitedRelay(t *testing.T) {
	p := New()
	fired := 0
	p.subs["sub1"] = &subscription{
		id:       "sub1",
		onEose:   func() { fired++ },
		awaiting: map[string]bool{"wss://a.test": true, "wss://b.test": true},
		eoseSeen: map[string]bool{},
	}

	p.dispatchEose("wss://a.test", "sub1")
	assert.Equal(t, 0, fired, "one of two relays is not global EOSE")

	p.dispatchEose("wss://a.test", "sub1")
	assert.Equal(t, 0, fired, "a repeated EOSE from the same relay counts once")

	p.dispatchEose("wss://b.test", "sub1")
	assert.Equal(t, 1, fired)

	p.dispatchEose("wss://b.test", "sub1")
	assert.Equal(t, 1, fired, "global EOSE fires exactly once")
}

func TestPool_Eose_DisconnectCountsAsAnswered(t *testing.T) {
	p := New()
	fired := 0
	p.subs["sub1"] = &subscription{
		id:       "sub1",
		onEose:   func() { fired++ },
		awaiting: map[string]bool{"wss://a.test": true, "wss://b.test": true},
		eoseSeen: map[string]bool{},
	}

	p.dispatchEose("wss://a.test", "sub1")
	require.Equal(t, 0, fired)

	p.relayDown("wss://b.test")
	assert.Equal(t, 1, fired, "a dead relay must not stall global EOSE")
}

func TestFetchOnce_EmptyPoolReturnsImmediately(t *testing.T) {
	p := New()

	start := time.Now()
	events := p.FetchOnce("sub1", []Filter{{Kinds: []int{1}}}, 5*time.Second)
	assert.Empty(t, events)
	assert.Less(t, time.Since(start), time.Second, "no reachable relay means nothing to wait for")
}

func TestPool_HandleFrame_OKDispatchesAck(t *testing.T) {
	p := New()
	rc := &relayConn{url: "wss://relay.test", publishWaiters: make(map[string]chan Ack)}
	waitCh := make(chan Ack, 1)
	rc.publishWaiters["evt1"] = waitCh

	frame, err := json.Marshal([]any{"OK", "evt1", true, ""})
	require.NoError(t, err)
	p.handleFrame(rc, frame)

	select {
	case ack := <-waitCh:
		assert.True(t, ack.OK)
		assert.Equal(t, "wss://relay.test", ack.Relay)
	default:
		t.Fatal("expected an ack to be delivered")
	}
}

func TestPool_HandleFrame_MalformedFrameDoesNotPanic(t *testing.T) {
	p := New()
	rc := &relayConn{url: "wss://relay.test"}

	assert.NotPanics(t, func() {
		p.handleFrame(rc, []byte("not json at all"))
		p.handleFrame(rc, []byte(`[]`))
		p.handleFrame(rc, []byte(`["UNKNOWN_KIND", "x"]`))
		p.handleFrame(rc, []byte(`["EVENT"]`))
	})
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	d := initialBackoff
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxBackoff, d)
}

func TestFmtOK_RejectsEmptyRelaySet(t *testing.T) {
	assert.Error(t, fmtOK(0))
	assert.NoError(t, fmtOK(1))
}
