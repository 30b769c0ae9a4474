package client

import (
	"context"
	"testing"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func droppedEvents(m *Manager) []debuglog.Event {
	var out []debuglog.Event
	for _, ev := range m.DebugLog().Filter(debuglog.CategoryReceived) {
		if ev.Name == "event_dropped" {
			out = append(out, ev)
		}
	}
	return out
}

func TestFilterDropsIrrelevantChannel(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	m.SetActiveSessionChannelID("abc")

	sub := m.Subscribe(events.KindMessageBroadcast)
	defer sub.Close()

	ft.deliver(t, ergosockets.EventMessageBroadcast, map[string]any{"id": "x1", "channelId": "zzz", "text": "stray"})
	ft.deliver(t, ergosockets.EventMessageBroadcast, map[string]any{"id": "x2", "channelId": "abc", "text": "mine"})

	got := testutil.Receive(t, sub.C(), time.Second).(events.MessageBroadcast)
	assert.Equal(t, "x2", got.ID, "stray event must not be delivered")
	assert.Equal(t, "mine", got.Text)
	assert.False(t, got.ReceivedAt.IsZero())
	testutil.AssertNoReceive(t, sub.C(), 50*time.Millisecond)

	dropped := droppedEvents(m)
	require.Len(t, dropped, 1)
	data := dropped[0].Data.(map[string]any)
	assert.Equal(t, "zzz", data["channelId"])
}

func TestFilterDeliversActiveOrMember(t *testing.T) {
	tests := []struct {
		name    string
		members []string
		active  string
		channel string
		deliver bool
	}{
		{name: "active only", active: "s1", channel: "s1", deliver: true},
		{name: "member only", members: []string{"abc"}, channel: "abc", deliver: true},
		{name: "member while other active", members: []string{"abc", "def"}, active: "abc", channel: "def", deliver: true},
		{name: "neither", members: []string{"abc"}, active: "s1", channel: "zzz", deliver: false},
		{name: "unaddressed event", members: []string{"abc"}, channel: "", deliver: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ft := connectedManager(t)
			for _, ch := range tt.members {
				require.NoError(t, m.JoinChannel(context.Background(), ch, ""))
			}
			if tt.active != "" {
				m.SetActiveSessionChannelID(tt.active)
			}
			sub := m.Subscribe(events.KindChannelCleared)
			defer sub.Close()

			ft.deliver(t, ergosockets.EventChannelCleared, map[string]any{"channelId": tt.channel})
			if tt.deliver {
				ev := testutil.Receive(t, sub.C(), time.Second)
				assert.Equal(t, tt.channel, ev.Channel())
				assert.Empty(t, droppedEvents(m))
			} else {
				testutil.AssertNoReceive(t, sub.C(), 50*time.Millisecond)
				assert.Len(t, droppedEvents(m), 1)
			}
		})
	}
}

func TestRoomIDAddressing(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	sub := m.Subscribe(events.KindMessageDeleted)
	defer sub.Close()

	ft.deliver(t, ergosockets.EventMessageDeleted, map[string]any{"roomId": "abc", "messageId": "m9"})
	ev := testutil.Receive(t, sub.C(), time.Second).(events.MessageDeleted)
	assert.Equal(t, "m9", ev.MessageID)
	assert.Equal(t, "abc", ev.Channel())
}

func TestResponseCorrelatesByID(t *testing.T) {
	clock := newFakeClock()
	m, ft := connectedManager(t, WithClock(clock.Now))
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))

	id, err := m.SendMessage(context.Background(), Message{ChannelID: "abc", MessageID: "m1", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, "m1", id)

	clock.Advance(250 * time.Millisecond)
	ft.deliver(t, ergosockets.EventMessageBroadcast, map[string]any{"id": "m1", "channelId": "abc", "text": "hello"})

	metrics := m.Tracker().Metrics()
	assert.Equal(t, 1, metrics.TotalResponses)
	assert.Equal(t, 250*time.Millisecond, metrics.AverageLatency)
	for _, r := range m.Tracker().Pending() {
		assert.NotEqual(t, "m1", r.ID)
	}
	// The join is still pending.
	assert.Equal(t, 1, metrics.Pending)
}

func TestAckResolvesJoinWithoutEvent(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	joins := ft.joins(t)
	require.Len(t, joins, 1)

	sub := m.Subscribe()
	defer sub.Close()

	ft.deliverMessage(t, ergosockets.KindAck, ergosockets.AckPayload{RequestID: joins[0].RequestID, ChannelID: "abc"})
	assert.Empty(t, m.Tracker().Pending())
	assert.Equal(t, 1, m.Tracker().Metrics().TotalResponses)
	testutil.AssertNoReceive(t, sub.C(), 50*time.Millisecond)
}

func TestTaggedMessages(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	sub := m.Subscribe()
	defer sub.Close()

	ft.deliverMessage(t, ergosockets.KindMessage, map[string]any{
		"messageId": "r1", "channelId": "abc", "message": "agent says hi", "senderName": "Eliza",
	})
	ft.deliverMessage(t, ergosockets.KindThinking, map[string]any{"messageId": "r2", "roomId": "abc"})
	ft.deliverMessage(t, ergosockets.KindControl, map[string]any{"channelId": "abc", "action": "disable_input"})

	msg := testutil.Receive(t, sub.C(), time.Second).(events.MessageBroadcast)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, "agent says hi", msg.Text)
	assert.Equal(t, "Eliza", msg.SenderName)

	st := testutil.Receive(t, sub.C(), time.Second).(events.MessageState)
	assert.Equal(t, events.StateThinking, st.State)
	assert.Equal(t, "r2", st.MessageID)

	ctl := testutil.Receive(t, sub.C(), time.Second).(events.ControlMessage)
	assert.Equal(t, "disable_input", ctl.Action)
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	sub := m.Subscribe()
	defer sub.Close()

	ft.deliver(t, "somethingNew", map[string]any{"channelId": "abc"})
	ft.handler().HandleFrame(&ergosockets.Frame{Event: ergosockets.EventChannelDeleted, Data: []byte(`"not an object"`)})
	ft.deliverMessage(t, ergosockets.MessageKind(99), map[string]any{"channelId": "abc"})

	testutil.AssertNoReceive(t, sub.C(), 50*time.Millisecond)
	assert.Len(t, m.DebugLog().Filter(debuglog.CategoryError), 2)
}

func TestEventOrderPreserved(t *testing.T) {
	m, ft := connectedManager(t)
	require.NoError(t, m.JoinChannel(context.Background(), "abc", ""))
	sub := m.Subscribe(events.KindMessageBroadcast)
	defer sub.Close()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		ft.deliver(t, ergosockets.EventMessageBroadcast, map[string]any{"id": id, "channelId": "abc"})
	}
	for _, id := range ids {
		assert.Equal(t, id, testutil.Receive(t, sub.C(), time.Second).(events.MessageBroadcast).ID)
	}
}
