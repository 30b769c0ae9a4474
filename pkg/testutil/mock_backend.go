package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
)

// Handshake records what a client presented when opening a connection.
type Handshake struct {
	ClientID      string
	ServerID      string
	Authorization string
	Header        http.Header
}

// Responder is invoked for every frame the backend receives.
type Responder func(b *MockBackend, frame ergosockets.Frame)

// MockBackend is a websocket server speaking the messaging frame format.
// It records every handshake and inbound frame and lets tests push frames
// and drop connections.
type MockBackend struct {
	T      *testing.T
	Server *httptest.Server
	WsURL  string

	mu         sync.Mutex
	conn       *websocket.Conn
	handshakes []Handshake
	frames     []ergosockets.Frame
	rejectNext int
	responder  Responder
}

// BackendOption configures a MockBackend.
type BackendOption func(*MockBackend)

// WithResponder installs a callback run for each inbound frame.
func WithResponder(r Responder) BackendOption {
	return func(b *MockBackend) {
		b.responder = r
	}
}

// AckJoins answers every join with an ack echoing its request ID.
func AckJoins() BackendOption {
	return WithResponder(func(b *MockBackend, frame ergosockets.Frame) {
		env, err := frame.DecodeMessage()
		if err != nil || env.Type != ergosockets.KindRoomJoining {
			return
		}
		var join ergosockets.JoinPayload
		if err := env.DecodePayload(&join); err != nil {
			return
		}
		_ = b.SendMessage(ergosockets.KindAck, ergosockets.AckPayload{
			RequestID: join.RequestID,
			ChannelID: join.ChannelID,
			RoomID:    join.RoomID,
		})
	})
}

// NewMockBackend starts a backend for the duration of the test.
func NewMockBackend(t *testing.T, opts ...BackendOption) *MockBackend {
	t.Helper()
	b := &MockBackend{T: t}
	for _, opt := range opts {
		opt(b)
	}

	b.Server = httptest.NewServer(http.HandlerFunc(b.serveWS))
	b.WsURL = "ws" + strings.TrimPrefix(b.Server.URL, "http")

	t.Cleanup(func() {
		b.Close()
	})
	return b
}

func (b *MockBackend) serveWS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.rejectNext > 0 {
		b.rejectNext--
		b.mu.Unlock()
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	b.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.T.Logf("MockBackend: Accept error: %v", err)
		return
	}

	b.mu.Lock()
	b.conn = conn
	b.handshakes = append(b.handshakes, Handshake{
		ClientID:      r.URL.Query().Get("client_id"),
		ServerID:      r.URL.Query().Get("server_id"),
		Authorization: r.Header.Get("Authorization"),
		Header:        r.Header.Clone(),
	})
	responder := b.responder
	b.mu.Unlock()

	for {
		var frame ergosockets.Frame
		if err := wsjson.Read(context.Background(), conn, &frame); err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, frame)
		b.mu.Unlock()
		if responder != nil {
			responder(b, frame)
		}
	}
}

// Send writes frame to the current connection. It is a no-op without one.
func (b *MockBackend) Send(frame *ergosockets.Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

// SendEvent sends a named event frame.
func (b *MockBackend) SendEvent(event string, data any) error {
	frame, err := ergosockets.NewFrame(event, data)
	if err != nil {
		return err
	}
	return b.Send(frame)
}

// SendMessage sends a typed "message" frame.
func (b *MockBackend) SendMessage(kind ergosockets.MessageKind, payload any) error {
	frame, err := ergosockets.NewMessageFrame(kind, payload)
	if err != nil {
		return err
	}
	return b.Send(frame)
}

// DropConnection closes the current connection. serverInitiated selects a
// clean close handshake; otherwise the socket is torn down abruptly.
func (b *MockBackend) DropConnection(serverInitiated bool) {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if serverInitiated {
		conn.Close(websocket.StatusNormalClosure, "server closing connection")
		return
	}
	conn.CloseNow()
}

// RejectHandshakes makes the next n upgrade attempts fail with 503.
func (b *MockBackend) RejectHandshakes(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectNext = n
}

// Connected reports whether a client connection is live.
func (b *MockBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Connections returns how many connections were accepted.
func (b *MockBackend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handshakes)
}

// Handshakes returns a copy of every accepted handshake.
func (b *MockBackend) Handshakes() []Handshake {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Handshake(nil), b.handshakes...)
}

// Frames returns a copy of every received frame, in arrival order.
func (b *MockBackend) Frames() []ergosockets.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ergosockets.Frame(nil), b.frames...)
}

// FramesOfEvent returns received frames carrying event.
func (b *MockBackend) FramesOfEvent(event string) []ergosockets.Frame {
	var out []ergosockets.Frame
	for _, f := range b.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// FramesOfKind returns decoded "message" envelopes of the given kind.
func (b *MockBackend) FramesOfKind(kind ergosockets.MessageKind) []ergosockets.MessageEnvelope {
	var out []ergosockets.MessageEnvelope
	for _, f := range b.FramesOfEvent(ergosockets.EventMessage) {
		env, err := f.DecodeMessage()
		if err != nil || env.Type != kind {
			continue
		}
		out = append(out, *env)
	}
	return out
}

// Joins returns every join payload received.
func (b *MockBackend) Joins() []ergosockets.JoinPayload {
	var out []ergosockets.JoinPayload
	for _, env := range b.FramesOfKind(ergosockets.KindRoomJoining) {
		var p ergosockets.JoinPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			out = append(out, p)
		}
	}
	return out
}

// WaitForConnections waits until at least n connections were accepted.
func (b *MockBackend) WaitForConnections(n int, timeout time.Duration) error {
	b.T.Helper()
	return WaitFor(b.T, "backend connections", timeout, func() bool {
		return b.Connections() >= n && b.Connected()
	})
}

// WaitForFrames waits until at least n frames of event arrived.
func (b *MockBackend) WaitForFrames(event string, n int, timeout time.Duration) error {
	b.T.Helper()
	return WaitFor(b.T, "frames of "+event, timeout, func() bool {
		return len(b.FramesOfEvent(event)) >= n
	})
}

// Close shuts the backend down.
func (b *MockBackend) Close() {
	b.DropConnection(true)
	if b.Server != nil {
		b.Server.Close()
	}
}
