package client

import (
	"fmt"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/session"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
)

// deliveryPayload is the body of a tag-3 message. Servers use either the
// broadcast field names or the send field names.
type deliveryPayload struct {
	events.MessageBroadcast
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// route decodes one inbound frame, correlates it with pending requests and
// publishes it if it belongs to a relevant channel. Frames are routed in the
// order the transport delivers them.
func (m *Manager) route(frame *ergosockets.Frame) {
	m.debug.Record(debuglog.CategoryReceived, frame.Event, map[string]any{
		"bytes":   len(frame.Data),
		"preview": ergosockets.Truncate(string(frame.Data), ergosockets.DefaultPayloadPreview),
	})

	ev, err := m.decode(frame)
	if err != nil {
		m.debug.Record(debuglog.CategoryError, "decode_failed", map[string]any{
			"event": frame.Event,
			"error": err.Error(),
		})
		m.logger.Warn("client: dropping undecodable frame", "event", frame.Event, "error", err)
		return
	}
	if ev == nil {
		return // Consumed internally
	}
	if s, ok := ev.(events.Stamper); ok {
		s.Stamp(m.now())
	}
	ev = events.Deref(ev)

	m.correlate(ev)

	channelID := ev.Channel()
	match := m.registry.Match(channelID)
	if match == session.MatchNone {
		active, _ := m.registry.Active()
		m.debug.Record(debuglog.CategoryReceived, "event_dropped", map[string]any{
			"kind":      string(ev.Kind()),
			"channelId": channelID,
			"active":    active,
			"members":   m.registry.Members(),
		})
		m.logger.Debug("client: dropped event for irrelevant channel", "kind", ev.Kind(), "channelID", channelID)
		return
	}
	m.bus.Publish(ev)
}

// decode maps a frame to an event. A nil event with a nil error means the
// frame was handled without producing a UI event.
func (m *Manager) decode(frame *ergosockets.Frame) (events.Event, error) {
	if frame.Event != ergosockets.EventMessage {
		ev, ok := events.New(events.Kind(frame.Event))
		if !ok {
			m.debug.Record(debuglog.CategoryReceived, "unknown_event", map[string]any{"event": frame.Event})
			return nil, nil
		}
		if err := frame.DecodeData(ev); err != nil {
			return nil, err
		}
		return ev, nil
	}

	env, err := frame.DecodeMessage()
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case ergosockets.KindMessage:
		var p deliveryPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, err
		}
		msg := p.MessageBroadcast
		if msg.Text == "" {
			msg.Text = p.Message
		}
		if msg.ID == "" {
			msg.ID = p.MessageID
		}
		return &msg, nil

	case ergosockets.KindAck:
		var ack ergosockets.AckPayload
		if err := env.DecodePayload(&ack); err != nil {
			return nil, err
		}
		id := ack.RequestID
		if id == "" {
			id = ack.MessageID
		}
		m.tracker.TrackResponse(tracker.Response{
			ID:        id,
			ChannelID: ack.ChannelID,
			RoomID:    ack.RoomID,
			EventKind: env.Type.String(),
		})
		return nil, nil

	case ergosockets.KindThinking:
		var st events.MessageState
		if err := env.DecodePayload(&st); err != nil {
			return nil, err
		}
		st.State = events.StateThinking
		return &st, nil

	case ergosockets.KindControl:
		var ctl events.ControlMessage
		if err := env.DecodePayload(&ctl); err != nil {
			return nil, err
		}
		return &ctl, nil

	default:
		return nil, fmt.Errorf("unexpected message type %s", env.Type)
	}
}

// correlate resolves pending requests answered by ev.
func (m *Manager) correlate(ev events.Event) {
	var resp tracker.Response
	switch e := ev.(type) {
	case events.MessageBroadcast:
		resp = tracker.Response{ID: e.ID, ChannelID: e.ChannelID, RoomID: e.RoomID}
	case events.MessageComplete:
		resp = tracker.Response{ID: e.MessageID, ChannelID: e.ChannelID, RoomID: e.RoomID}
	default:
		return
	}
	resp.EventKind = string(ev.Kind())
	m.tracker.TrackResponse(resp)
}
