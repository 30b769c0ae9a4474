package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return nil
}

func TestHeaderChannelFallback(t *testing.T) {
	assert.Equal(t, "abc", Header{ChannelID: "abc", RoomID: "def"}.Channel())
	assert.Equal(t, "def", Header{RoomID: "def"}.Channel())
	assert.Equal(t, "", Header{}.Channel())
}

func TestHeaderTimestamp(t *testing.T) {
	recv := time.Unix(1700000000, 0)
	h := Header{}
	h.Stamp(recv)
	assert.Equal(t, recv, h.Timestamp())

	h.CreatedAt = 1600000000000
	assert.Equal(t, time.UnixMilli(1600000000000), h.Timestamp())
}

func TestNewDecodesEveryInboundKind(t *testing.T) {
	for _, kind := range Inbound {
		ev, ok := New(kind)
		require.True(t, ok, kind)
		require.NoError(t, json.Unmarshal([]byte(`{"channelId":"abc"}`), ev))
		v := Deref(ev)
		assert.Equal(t, kind, v.Kind())
		assert.Equal(t, "abc", v.Channel())
	}
	_, ok := New(KindConnectionState)
	assert.False(t, ok)
}

func TestMessageBroadcastDecode(t *testing.T) {
	ev, _ := New(KindMessageBroadcast)
	raw := `{"id":"m1","senderId":"agent","senderName":"Eliza","text":"hi","roomId":"abc","source":"agent_response","actions":["REPLY"]}`
	require.NoError(t, json.Unmarshal([]byte(raw), ev))
	msg, ok := Deref(ev).(MessageBroadcast)
	require.True(t, ok)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "Eliza", msg.SenderName)
	assert.Equal(t, "abc", msg.Channel())
	assert.Equal(t, []string{"REPLY"}, msg.Actions)
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	msgs := bus.Subscribe(KindMessageBroadcast, KindMessageBroadcast)
	all := bus.Subscribe()

	bus.Publish(ChannelCleared{Header: Header{ChannelID: "abc"}})
	bus.Publish(MessageBroadcast{Header: Header{ChannelID: "abc"}, Text: "hello"})

	got := receive(t, msgs)
	assert.Equal(t, "hello", got.(MessageBroadcast).Text)

	assert.Equal(t, KindChannelCleared, receive(t, all).Kind())
	assert.Equal(t, KindMessageBroadcast, receive(t, all).Kind())

	select {
	case ev := <-msgs.C():
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPreservesOrder(t *testing.T) {
	bus := NewBus(32)
	defer bus.Close()
	sub := bus.Subscribe(KindMessageBroadcast)

	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(MessageBroadcast{ID: string(rune('a' + i))})
		}
	}()
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(rune('a'+i)), receive(t, sub).(MessageBroadcast).ID)
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	// Publishing must not block on a closed subscription even past capacity.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ChannelDeleted{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on closed subscription")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	var mu sync.Mutex
	var dropped []string
	bus := NewBus(4, WithDropHandler(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, ev.(MessageBroadcast).ID)
	}))
	defer bus.Close()
	stalled := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(MessageBroadcast{ID: fmt.Sprintf("m%02d", i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an unread subscription")
	}

	require.Eventually(t, func() bool { return stalled.Dropped() == 16 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "m00", dropped[0])
	assert.Len(t, dropped, 16)
	mu.Unlock()

	// The queue keeps the newest events in order.
	for i := 16; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("m%02d", i), receive(t, stalled).(MessageBroadcast).ID)
	}
}

func TestBusCloseWithUnreadSubscription(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe()
	for i := 0; i < 50; i++ {
		bus.Publish(ChannelCleared{})
	}

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind an unread subscription")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBusCloseClosesSubscriptions(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe()
	bus.Close()
	bus.Close()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on shutdown")
	}

	bus.Publish(ChannelDeleted{})
	late := bus.Subscribe()
	_, ok := <-late.C()
	assert.False(t, ok)
}

func TestOnTyped(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ConnectionStateChanged, 1)
	On(ctx, bus, func(e ConnectionStateChanged) { got <- e })

	bus.Publish(ChannelCleared{})
	bus.Publish(ConnectionStateChanged{Previous: transport.StateConnecting, Current: transport.StateConnected})

	select {
	case e := <-got:
		assert.Equal(t, transport.StateConnected, e.Current)
		assert.Equal(t, "", e.Channel())
	case <-time.After(time.Second):
		t.Fatal("typed handler not called")
	}
}
