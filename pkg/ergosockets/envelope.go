// ergosockets/envelope.go
package ergosockets

import (
	"encoding/json"
	"fmt"
)

// Frame is the unit exchanged over the socket. Every frame names an event and
// carries an event-specific JSON document.
type Frame struct {
	Event string          `json:"event"`          // Wire event name, e.g. "message" or "messageBroadcast"
	Data  json.RawMessage `json:"data,omitempty"` // Event payload. `null` if none.
}

// Outbound event names.
const (
	EventMessage = "message" // Generic envelope carrying a tagged MessageEnvelope
	EventLeave   = "leave"   // Channel leave instruction
)

// Inbound event names routed to subscribers.
const (
	EventMessageBroadcast = "messageBroadcast"
	EventMessageComplete  = "messageComplete"
	EventControlMessage   = "controlMessage"
	EventMessageDeleted   = "messageDeleted"
	EventChannelCleared   = "channelCleared"
	EventChannelDeleted   = "channelDeleted"
	EventLogStream        = "logStream"
	EventMessageState     = "messageState"
)

// MessageKind is the integer tag carried inside a "message" frame.
type MessageKind int

const (
	KindRoomJoining MessageKind = 1
	KindSendMessage MessageKind = 2
	KindMessage     MessageKind = 3
	KindAck         MessageKind = 4
	KindThinking    MessageKind = 5
	KindControl     MessageKind = 6
)

func (k MessageKind) String() string {
	switch k {
	case KindRoomJoining:
		return "room_joining"
	case KindSendMessage:
		return "send_message"
	case KindMessage:
		return "message"
	case KindAck:
		return "ack"
	case KindThinking:
		return "thinking"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MessageEnvelope is the body of a "message" frame.
type MessageEnvelope struct {
	Type    MessageKind     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload asks the server to route a channel to this client.
type JoinPayload struct {
	ChannelID string `json:"channelId"`
	RoomID    string `json:"roomId"`
	EntityID  string `json:"entityId"`
	ServerID  string `json:"serverId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// SendPayload carries a user message into a channel.
type SendPayload struct {
	SenderID    string         `json:"senderId"`
	SenderName  string         `json:"senderName,omitempty"`
	Message     string         `json:"message"`
	ChannelID   string         `json:"channelId"`
	RoomID      string         `json:"roomId"`
	ServerID    string         `json:"serverId,omitempty"`
	MessageID   string         `json:"messageId"`
	Source      string         `json:"source,omitempty"`
	Attachments []any          `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LeavePayload removes a channel from this client's server-side routing.
type LeavePayload struct {
	ChannelID string `json:"channelId"`
	RoomID    string `json:"roomId"`
	EntityID  string `json:"entityId"`
}

// AckPayload is the server's acknowledgement of an earlier operation.
// RequestID or MessageID echo the identifier of the acknowledged operation
// when the server supports it.
type AckPayload struct {
	RequestID string `json:"requestId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
}

// NewFrame marshals data and wraps it in a frame for the given event.
// A nil data value produces a frame with a `null` payload.
func NewFrame(event string, data any) (*Frame, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data for %q frame: %w", event, err)
		}
		raw = b
	}
	return &Frame{Event: event, Data: raw}, nil
}

// NewMessageFrame builds a "message" frame carrying a tagged payload.
func NewMessageFrame(kind MessageKind, payload any) (*Frame, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		raw = b
	}
	return NewFrame(EventMessage, MessageEnvelope{Type: kind, Payload: raw})
}

// DecodeData unmarshals the frame's data into v (must be a pointer).
// A missing or `null` payload leaves v untouched.
func (f *Frame) DecodeData(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// DecodeMessage unmarshals a "message" frame into its envelope.
func (f *Frame) DecodeMessage() (*MessageEnvelope, error) {
	if f.Event != EventMessage {
		return nil, fmt.Errorf("frame event %q is not %q", f.Event, EventMessage)
	}
	var env MessageEnvelope
	if err := f.DecodeData(&env); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope's payload into v.
func (e *MessageEnvelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
