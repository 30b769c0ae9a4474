// Package events defines the typed events the connection layer publishes to
// UI consumers and a topic bus to fan them out.
package events

import (
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

// Kind names an event. Inbound kinds match the backend event names.
type Kind string

const (
	KindMessageBroadcast Kind = "messageBroadcast"
	KindMessageComplete  Kind = "messageComplete"
	KindControlMessage   Kind = "controlMessage"
	KindMessageDeleted   Kind = "messageDeleted"
	KindChannelCleared   Kind = "channelCleared"
	KindChannelDeleted   Kind = "channelDeleted"
	KindLogStream        Kind = "logStream"
	KindMessageState     Kind = "messageState"
	KindConnectionState  Kind = "connectionState"
)

// Inbound lists every kind that originates from the backend.
var Inbound = []Kind{
	KindMessageBroadcast,
	KindMessageComplete,
	KindControlMessage,
	KindMessageDeleted,
	KindChannelCleared,
	KindChannelDeleted,
	KindLogStream,
	KindMessageState,
}

// Event is implemented by every event variant.
type Event interface {
	Kind() Kind
	// Channel is the channel the event belongs to, or "" for link events.
	Channel() string
	Timestamp() time.Time
	isEvent()
}

// Header carries the channel addressing shared by inbound events.
type Header struct {
	ChannelID  string    `json:"channelId,omitempty"`
	RoomID     string    `json:"roomId,omitempty"`
	CreatedAt  int64     `json:"createdAt,omitempty"` // Unix millis, set by the backend
	ReceivedAt time.Time `json:"-"`
}

// Channel returns channelId, falling back to roomId.
func (h Header) Channel() string {
	if h.ChannelID != "" {
		return h.ChannelID
	}
	return h.RoomID
}

// Timestamp prefers the backend creation time over local receipt.
func (h Header) Timestamp() time.Time {
	if h.CreatedAt > 0 {
		return time.UnixMilli(h.CreatedAt)
	}
	return h.ReceivedAt
}

// Stamp records local receipt time.
func (h *Header) Stamp(t time.Time) {
	h.ReceivedAt = t
}

// Stamper is implemented by decoded inbound events.
type Stamper interface {
	Stamp(t time.Time)
}

func (Header) isEvent() {}

// MessageBroadcast is a chat message delivered to a channel.
type MessageBroadcast struct {
	Header
	ID          string         `json:"id,omitempty"`
	SenderID    string         `json:"senderId,omitempty"`
	SenderName  string         `json:"senderName,omitempty"`
	Text        string         `json:"text,omitempty"`
	ServerID    string         `json:"serverId,omitempty"`
	Source      string         `json:"source,omitempty"`
	Thought     string         `json:"thought,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	Attachments []any          `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (MessageBroadcast) Kind() Kind { return KindMessageBroadcast }

// MessageComplete signals the end of a streamed response.
type MessageComplete struct {
	Header
	MessageID string `json:"messageId,omitempty"`
}

func (MessageComplete) Kind() Kind { return KindMessageComplete }

// ControlMessage asks the UI to perform an action, such as disabling input.
type ControlMessage struct {
	Header
	Action string         `json:"action,omitempty"`
	Target string         `json:"target,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func (ControlMessage) Kind() Kind { return KindControlMessage }

// MessageDeleted removes one message from a channel.
type MessageDeleted struct {
	Header
	MessageID string `json:"messageId,omitempty"`
}

func (MessageDeleted) Kind() Kind { return KindMessageDeleted }

// ChannelCleared empties a channel's history.
type ChannelCleared struct {
	Header
}

func (ChannelCleared) Kind() Kind { return KindChannelCleared }

// ChannelDeleted removes a channel entirely.
type ChannelDeleted struct {
	Header
}

func (ChannelDeleted) Kind() Kind { return KindChannelDeleted }

// LogStream is a line of server-side log output for a channel.
type LogStream struct {
	Header
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (LogStream) Kind() Kind { return KindLogStream }

// Message processing states.
const (
	StateThinking = "thinking"
	StateDone     = "done"
)

// MessageState reports progress of a message, e.g. the agent is thinking.
type MessageState struct {
	Header
	MessageID string `json:"messageId,omitempty"`
	State     string `json:"state,omitempty"`
}

func (MessageState) Kind() Kind { return KindMessageState }

// ConnectionStateChanged is published on every link state transition.
type ConnectionStateChanged struct {
	Previous transport.State
	Current  transport.State
	Reason   string
	Err      error
	At       time.Time
}

func (ConnectionStateChanged) Kind() Kind             { return KindConnectionState }
func (ConnectionStateChanged) Channel() string        { return "" }
func (e ConnectionStateChanged) Timestamp() time.Time { return e.At }
func (ConnectionStateChanged) isEvent()               {}

// New returns a zero inbound event for kind, ready to decode into.
func New(kind Kind) (Event, bool) {
	switch kind {
	case KindMessageBroadcast:
		return &MessageBroadcast{}, true
	case KindMessageComplete:
		return &MessageComplete{}, true
	case KindControlMessage:
		return &ControlMessage{}, true
	case KindMessageDeleted:
		return &MessageDeleted{}, true
	case KindChannelCleared:
		return &ChannelCleared{}, true
	case KindChannelDeleted:
		return &ChannelDeleted{}, true
	case KindLogStream:
		return &LogStream{}, true
	case KindMessageState:
		return &MessageState{}, true
	default:
		return nil, false
	}
}

// Deref turns a pointer returned by New into its value form so subscribers
// can type-switch on value types.
func Deref(e Event) Event {
	switch v := e.(type) {
	case *MessageBroadcast:
		return *v
	case *MessageComplete:
		return *v
	case *ControlMessage:
		return *v
	case *MessageDeleted:
		return *v
	case *ChannelCleared:
		return *v
	case *ChannelDeleted:
		return *v
	case *LogStream:
		return *v
	case *MessageState:
		return *v
	default:
		return e
	}
}
