package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/testutil"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outbound frames and lets tests drive the handler.
type fakeTransport struct {
	mu      sync.Mutex
	cfg     transport.Config
	h       transport.Handler
	sent    []*ergosockets.Frame
	closed  bool
	sendErr error
}

func (f *fakeTransport) Start(_ context.Context, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.h = h
	return nil
}

func (f *fakeTransport) Send(_ context.Context, frame *ergosockets.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) handler() transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *fakeTransport) connect() {
	h := f.handler()
	h.HandleConnecting(1)
	h.HandleConnected()
}

func (f *fakeTransport) drop(serverInitiated bool) {
	f.handler().HandleDisconnected(transport.DisconnectInfo{ServerInitiated: serverInitiated, Reason: "test drop"})
}

func (f *fakeTransport) deliver(t *testing.T, event string, data any) {
	t.Helper()
	frame, err := ergosockets.NewFrame(event, data)
	require.NoError(t, err)
	f.handler().HandleFrame(frame)
}

func (f *fakeTransport) deliverMessage(t *testing.T, kind ergosockets.MessageKind, payload any) {
	t.Helper()
	frame, err := ergosockets.NewMessageFrame(kind, payload)
	require.NoError(t, err)
	f.handler().HandleFrame(frame)
}

func (f *fakeTransport) frames() []*ergosockets.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ergosockets.Frame(nil), f.sent...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func (f *fakeTransport) joins(t *testing.T) []ergosockets.JoinPayload {
	t.Helper()
	var out []ergosockets.JoinPayload
	for _, frame := range f.frames() {
		if frame.Event != ergosockets.EventMessage {
			continue
		}
		env, err := frame.DecodeMessage()
		require.NoError(t, err)
		if env.Type != ergosockets.KindRoomJoining {
			continue
		}
		var p ergosockets.JoinPayload
		require.NoError(t, env.DecodePayload(&p))
		out = append(out, p)
	}
	return out
}

type fakeFactory struct {
	mu    sync.Mutex
	made  []*fakeTransport
	built []transport.Config
}

func (ff *fakeFactory) New(cfg transport.Config) (transport.Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ft := &fakeTransport{cfg: cfg}
	ff.made = append(ff.made, ft)
	ff.built = append(ff.built, cfg)
	return ft, nil
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.made[len(ff.made)-1]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	base := []Option{
		WithURL("ws://backend.test/ws"),
		WithTransportFactory(ff.New),
		WithSettleDelay(0),
		WithLogger(testutil.DefaultLogger),
	}
	m, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, ff
}

// connectedManager returns an initialized manager whose fake link is up.
func connectedManager(t *testing.T, opts ...Option) (*Manager, *fakeTransport) {
	t.Helper()
	m, ff := newTestManager(t, opts...)
	require.NoError(t, m.Initialize(context.Background(), "client-1", "agent-1", "tok"))
	ft := ff.last()
	ft.connect()
	return m, ft
}
