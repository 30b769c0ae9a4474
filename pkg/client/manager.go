// Package client multiplexes many logical channels over one backend
// connection. A Manager owns the link, re-joins channels after reconnects,
// filters inbound events to the channels the UI cares about and tracks
// request/response latency.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/session"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

// Request kinds recorded by the tracker.
const (
	RequestJoin = "join"
	RequestSend = "send"
)

// Message is an outbound chat message.
type Message struct {
	ChannelID   string
	Text        string
	MessageID   string // Generated when empty
	ServerID    string // Defaults to the server given to Initialize
	SenderID    string // Defaults to the client ID
	SenderName  string
	Source      string
	Attachments []any
	Metadata    map[string]any
}

// Manager is one connection to the backend and the channels joined over it.
// It is safe for concurrent use. Construct with New.
type Manager struct {
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	factory  transport.Factory
	state    *transport.StateMachine
	registry *session.Registry
	tracker  *tracker.Tracker
	debug    *debuglog.Log
	bus      *events.Bus
	connObs  ConnectionObserver

	mu            sync.Mutex
	transport     transport.Transport
	gen           uint64 // Bumped per Initialize; stale handler callbacks are ignored
	closed        bool
	everConnected bool
	clientID      string
	serverID      string
	lifeCancel    context.CancelFunc
	done          chan struct{} // Closed by Disconnect to release WaitReady
}

// New creates a Manager from DefaultOptions and opts.
func New(opts ...Option) (*Manager, error) {
	return NewWithOptions(DefaultOptions(), opts...)
}

// NewWithOptions creates a Manager from an Options struct, then applies opts.
func NewWithOptions(o Options, opts ...Option) (*Manager, error) {
	for _, opt := range opts {
		opt(&o)
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = ergosockets.TimeNow
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.SenderName == "" {
		o.SenderName = defaultSenderName
	}
	if o.TransportFactory == nil {
		if o.URL == "" {
			return nil, errors.New("client: url required when no transport factory is set")
		}
		delay := o.ReconnectDelay
		if delay <= 0 {
			delay = defaultReconnectDelay
		}
		o.TransportFactory = transport.WebSocketFactory(
			transport.WithLogger(o.Logger),
			transport.WithReconnect(o.ReconnectAttempts, delay, delay),
			transport.WithPingInterval(o.PingInterval),
		)
	}

	if o.DebugLog == nil {
		dlOpts := []debuglog.Option{
			debuglog.WithCapacity(o.DebugCapacity),
			debuglog.WithClock(o.Clock),
			debuglog.WithLogger(o.Logger),
			debuglog.WithVerbose(o.Verbose),
		}
		if o.Observer != nil {
			dlOpts = append(dlOpts, debuglog.WithObserver(o.Observer))
		}
		o.DebugLog = debuglog.New(dlOpts...)
	}
	if o.Tracker == nil {
		trOpts := []tracker.Option{
			tracker.WithClock(o.Clock),
			tracker.WithDebugLog(o.DebugLog),
		}
		if o.Observer != nil {
			trOpts = append(trOpts, tracker.WithObserver(o.Observer))
		}
		o.Tracker = tracker.New(trOpts...)
	}
	if o.Registry == nil {
		o.Registry = session.NewRegistry()
	}
	if o.Bus == nil {
		debug := o.DebugLog
		o.Bus = events.NewBus(o.EventBuffer, events.WithDropHandler(func(ev events.Event) {
			debug.Record(debuglog.CategoryError, "event_dropped_slow_consumer", map[string]any{
				"kind":      string(ev.Kind()),
				"channelId": ev.Channel(),
			})
		}))
	}
	connObs := o.ConnectionObserver
	if connObs == nil && o.Observer != nil {
		connObs = o.Observer
	}

	return &Manager{
		opts:     o,
		logger:   o.Logger,
		now:      o.Clock,
		factory:  o.TransportFactory,
		state:    transport.NewStateMachine(o.Clock),
		registry: o.Registry,
		tracker:  o.Tracker,
		debug:    o.DebugLog,
		bus:      o.Bus,
		connObs:  connObs,
	}, nil
}

// Initialize opens the connection in the background. ctx values are kept for
// the link's lifetime, its cancellation is not: the link lives until
// Disconnect. A second call while a connection exists logs a warning and
// returns nil. An empty clientID is replaced with a generated one.
func (m *Manager) Initialize(ctx context.Context, clientID, serverID, credential string) error {
	m.mu.Lock()
	if m.transport != nil {
		m.mu.Unlock()
		m.logger.Warn("client: already initialized, ignoring", "clientID", m.ClientID())
		return nil
	}
	if clientID == "" {
		clientID = ergosockets.GenerateID()
	}

	tr, err := m.factory(transport.Config{
		URL:        m.opts.URL,
		ClientID:   clientID,
		ServerID:   serverID,
		Credential: credential,
		Logger:     m.logger,
	})
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("client: create transport: %w", err)
	}

	m.gen++
	gen := m.gen
	m.transport = tr
	m.closed = false
	m.everConnected = false
	m.clientID = clientID
	m.serverID = serverID
	lifeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.lifeCancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("client: initializing", "url", m.opts.URL, "clientID", clientID, "serverID", serverID)
	m.debug.Record(debuglog.CategoryConnection, "initialize", map[string]any{
		"url":      m.opts.URL,
		"clientId": clientID,
		"serverId": serverID,
	})
	m.setStateFor(gen, transport.StateConnecting, "initialize", nil)

	if err := tr.Start(lifeCtx, &connHandler{m: m, gen: gen}); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.transport = nil
		}
		m.mu.Unlock()
		cancel()
		m.setState(transport.StateDisconnected, "start failed", err)
		return fmt.Errorf("client: start transport: %w", err)
	}
	return nil
}

// Disconnect closes the link and clears membership and the active session.
// The Manager stays usable: Initialize may be called again.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	tr := m.transport
	cancel := m.lifeCancel
	m.transport = nil
	m.lifeCancel = nil
	m.closed = true
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if tr != nil {
		if cerr := tr.Close(); cerr != nil {
			err = fmt.Errorf("client: close transport: %w", cerr)
		}
	}
	m.registry.Clear()
	m.debug.Record(debuglog.CategoryConnection, "disconnect", nil)
	m.setState(transport.StateDisconnected, "disconnect requested", nil)
	m.logger.Info("client: disconnected", "clientID", m.ClientID())
	return err
}

// Close disconnects and shuts down the event bus. The Manager is not usable
// afterwards.
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.bus.Close()
	return err
}

func (m *Manager) setState(next transport.State, reason string, cause error) {
	prev, changed := m.state.Set(next)
	if !changed {
		return
	}
	m.stateChanged(prev, next, reason, cause)
}

// setStateFor applies next only while gen is still the live generation. The
// check and the transition happen under m.mu, so a concurrent Disconnect
// either wins outright or runs after the transition and overrides it.
func (m *Manager) setStateFor(gen uint64, next transport.State, reason string, cause error) bool {
	m.mu.Lock()
	if m.gen != gen || m.transport == nil {
		m.mu.Unlock()
		return false
	}
	prev, changed := m.state.Set(next)
	m.mu.Unlock()
	if changed {
		m.stateChanged(prev, next, reason, cause)
	}
	return true
}

func (m *Manager) stateChanged(prev, next transport.State, reason string, cause error) {
	data := map[string]any{"from": prev.String(), "to": next.String(), "reason": reason}
	if cause != nil {
		data["error"] = cause.Error()
	}
	m.debug.Record(debuglog.CategoryConnection, "state_changed", data)
	m.logger.Info("client: connection state changed", "from", prev, "to", next, "reason", reason)
	if m.connObs != nil {
		m.connObs.StateChanged(next)
	}
	m.bus.Publish(events.ConnectionStateChanged{
		Previous: prev,
		Current:  next,
		Reason:   reason,
		Err:      cause,
		At:       m.now(),
	})
}

// WaitReady blocks until the link is connected. It returns ErrNotInitialized
// before Initialize, ErrClosed if Disconnect is called while waiting, or the
// context error.
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		tr, closed, done := m.transport, m.closed, m.done
		m.mu.Unlock()
		if tr == nil {
			if closed {
				return ErrClosed
			}
			return ErrNotInitialized
		}

		next := m.state.NextTransition()
		select {
		case <-m.state.Ready():
			return nil
		case <-next:
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NextTransition returns a channel closed on the next connection state change.
func (m *Manager) NextTransition() <-chan struct{} {
	return m.state.NextTransition()
}

// State returns the current connection state.
func (m *Manager) State() transport.State {
	return m.state.State()
}

// IsConnected reports whether the link is up.
func (m *Manager) IsConnected() bool {
	return m.state.State() == transport.StateConnected
}

// LastConnectedAt returns the time of the last successful handshake.
func (m *Manager) LastConnectedAt() time.Time {
	return m.state.LastConnected()
}

// ClientID returns the identity presented on the handshake.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// ServerID returns the default server given to Initialize.
func (m *Manager) ServerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverID
}

func (m *Manager) currentTransport() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil {
		if m.closed {
			return nil, ErrClosed
		}
		return nil, ErrNotInitialized
	}
	return m.transport, nil
}

func (m *Manager) send(ctx context.Context, frame *ergosockets.Frame) error {
	tr, err := m.currentTransport()
	if err != nil {
		return err
	}
	return tr.Send(ctx, frame)
}

// sendFailed handles a failed outbound frame. Connection errors are recorded
// and swallowed; only context errors reach the caller.
func (m *Manager) sendFailed(ctx context.Context, op, channelID string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.debug.Record(debuglog.CategoryError, op+"_failed", map[string]any{
		"channelId": channelID,
		"error":     err.Error(),
	})
	m.logger.Warn("client: send failed", "op", op, "channelID", channelID, "error", err)
	return nil
}

// Channels returns the joined channels, sorted.
func (m *Manager) Channels() []string {
	return m.registry.Members()
}

// IsMember reports whether channelID is joined.
func (m *Manager) IsMember(channelID string) bool {
	return m.registry.Has(channelID)
}

// Subscribe returns a stream of events of the given kinds, or all events.
func (m *Manager) Subscribe(kinds ...events.Kind) *events.Subscription {
	return m.bus.Subscribe(kinds...)
}

// Bus returns the event bus.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// DebugLog returns the debug event log.
func (m *Manager) DebugLog() *debuglog.Log {
	return m.debug
}

// Tracker returns the request tracker.
func (m *Manager) Tracker() *tracker.Tracker {
	return m.tracker
}
