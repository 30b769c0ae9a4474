// transport/websocket.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand" // For jitter
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
)

const (
	defaultSendBuffer        = 16
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReadLimit         = 1 << 20 // 1MB
	defaultPingInterval      = 0       // Rely on server pings
	defaultReconnectAttempts = 5
	defaultReconnectDelayMin = 1 * time.Second
	defaultReconnectDelayMax = 1 * time.Second
)

type wsConfig struct {
	logger            *slog.Logger
	dialOptions       *websocket.DialOptions
	dialTimeout       time.Duration
	writeTimeout      time.Duration
	readLimit         int64
	pingInterval      time.Duration // 0 disables client pings
	autoReconnect     bool
	reconnectAttempts int // 0 means unbounded
	reconnectDelayMin time.Duration
	reconnectDelayMax time.Duration
}

// link is one physical connection and the pumps serving it.
type link struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WebSocket is a Transport over a single websocket connection with automatic
// reconnection.
type WebSocket struct {
	config  wsConfig
	target  Config
	dialURL string
	handler Handler

	connMu sync.RWMutex
	cur    *link

	send chan *ergosockets.Frame

	// Overall transport lifetime context
	clientCtx    context.Context
	clientCancel context.CancelFunc

	stateMu      sync.Mutex
	started      bool
	closed       bool
	reconnecting bool
}

// Option configures a WebSocket transport.
type Option func(*WebSocket)

// WithLogger sets a custom logger. Config.Logger is used when unset.
func WithLogger(logger *slog.Logger) Option {
	return func(w *WebSocket) {
		if logger != nil {
			w.config.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions. The Authorization header
// is added on top of any headers supplied here.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(w *WebSocket) {
		w.config.dialOptions = opts
	}
}

// WithDialTimeout bounds each handshake attempt.
func WithDialTimeout(timeout time.Duration) Option {
	return func(w *WebSocket) {
		if timeout > 0 {
			w.config.dialTimeout = timeout
		}
	}
}

// WithWriteTimeout sets the write timeout for outbound frames.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(w *WebSocket) {
		if timeout > 0 {
			w.config.writeTimeout = timeout
		}
	}
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(w *WebSocket) {
		if n > 0 {
			w.config.readLimit = n
		}
	}
}

// WithPingInterval enables client-initiated pings. interval <= 0 disables them.
func WithPingInterval(interval time.Duration) Option {
	return func(w *WebSocket) {
		if interval < 0 {
			interval = 0
		}
		w.config.pingInterval = interval
	}
}

// WithReconnect configures automatic reconnection.
// maxAttempts = 0 means unbounded attempts. Equal delays give a fixed backoff.
func WithReconnect(maxAttempts int, minDelay, maxDelay time.Duration) Option {
	return func(w *WebSocket) {
		w.config.autoReconnect = true
		w.config.reconnectAttempts = maxAttempts
		if minDelay > 0 {
			w.config.reconnectDelayMin = minDelay
		}
		if maxDelay >= w.config.reconnectDelayMin {
			w.config.reconnectDelayMax = maxDelay
		} else {
			w.config.reconnectDelayMax = w.config.reconnectDelayMin // Ensure max is not less than min
		}
	}
}

// WithoutReconnect disables automatic reconnection.
func WithoutReconnect() Option {
	return func(w *WebSocket) {
		w.config.autoReconnect = false
	}
}

// NewWebSocket validates cfg and returns an unstarted transport.
func NewWebSocket(cfg Config, opts ...Option) (*WebSocket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid url %q: %w", cfg.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("transport: unsupported url scheme %q", u.Scheme)
	}
	q := u.Query()
	if cfg.ClientID != "" {
		q.Set("client_id", cfg.ClientID)
	}
	if cfg.ServerID != "" {
		q.Set("server_id", cfg.ServerID)
	}
	u.RawQuery = q.Encode()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebSocket{
		config: wsConfig{
			logger:            logger,
			dialTimeout:       defaultDialTimeout,
			writeTimeout:      defaultWriteTimeout,
			readLimit:         defaultReadLimit,
			pingInterval:      defaultPingInterval,
			autoReconnect:     true,
			reconnectAttempts: defaultReconnectAttempts,
			reconnectDelayMin: defaultReconnectDelayMin,
			reconnectDelayMax: defaultReconnectDelayMax,
		},
		target:  cfg,
		dialURL: u.String(),
		send:    make(chan *ergosockets.Frame, defaultSendBuffer),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.config.dialOptions == nil {
		w.config.dialOptions = &websocket.DialOptions{HTTPClient: http.DefaultClient}
	}
	return w, nil
}

// WebSocketFactory returns a Factory producing WebSocket transports with opts.
func WebSocketFactory(opts ...Option) Factory {
	return func(cfg Config) (Transport, error) {
		return NewWebSocket(cfg, opts...)
	}
}

// Start begins connecting in the background.
func (w *WebSocket) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("transport: handler must not be nil")
	}
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.stateMu.Unlock()
		return errors.New("transport: already started")
	}
	w.started = true
	w.handler = h
	w.clientCtx, w.clientCancel = context.WithCancel(ctx)
	w.stateMu.Unlock()

	go w.reconnectLoop(true)
	return nil
}

func (w *WebSocket) isClosed() bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.closed
}

func (w *WebSocket) dialOptions() *websocket.DialOptions {
	opts := *w.config.dialOptions
	if w.target.Credential != "" {
		hdr := opts.HTTPHeader.Clone()
		if hdr == nil {
			hdr = http.Header{}
		}
		hdr.Set("Authorization", "Bearer "+w.target.Credential)
		opts.HTTPHeader = hdr
	}
	return &opts
}

func (w *WebSocket) establishConnection() error {
	if w.isClosed() {
		return ErrClosed
	}

	// Stop pumps of a previous link before replacing it.
	w.connMu.Lock()
	old := w.cur
	w.cur = nil
	w.connMu.Unlock()
	if old != nil {
		old.cancel()
		old.wg.Wait()
		old.conn.Close(websocket.StatusAbnormalClosure, "stale connection being replaced")
	}

	dialCtx, dialCancel := context.WithTimeout(w.clientCtx, w.config.dialTimeout)
	conn, httpResp, err := websocket.Dial(dialCtx, w.dialURL, w.dialOptions())
	dialCancel()
	if err != nil {
		if httpResp != nil {
			return fmt.Errorf("dial to %s failed: %w (status: %s)", w.target.URL, err, httpResp.Status)
		}
		return fmt.Errorf("dial to %s failed: %w", w.target.URL, err)
	}
	conn.SetReadLimit(w.config.readLimit)

	l := &link{conn: conn}
	l.ctx, l.cancel = context.WithCancel(w.clientCtx)

	// Frames queued for a dead link are not replayed on the new one.
	if dropped := w.drainSendQueue(); dropped > 0 {
		w.config.logger.Warn("transport: dropped frames queued before reconnect", "count", dropped)
	}

	w.connMu.Lock()
	w.cur = l
	w.connMu.Unlock()

	l.wg.Add(1)
	go w.writePump(l)
	if w.config.pingInterval > 0 {
		l.wg.Add(1)
		go w.pingLoop(l)
	}

	w.config.logger.Info("transport: connected", "url", w.target.URL, "clientID", w.target.ClientID)
	w.handler.HandleConnected()

	l.wg.Add(1)
	go w.readPump(l)
	return nil
}

func (w *WebSocket) drainSendQueue() int {
	dropped := 0
	for {
		select {
		case <-w.send:
			dropped++
		default:
			return dropped
		}
	}
}

func (w *WebSocket) reconnectLoop(immediate bool) {
	w.stateMu.Lock()
	if w.reconnecting {
		w.stateMu.Unlock()
		return // Another reconnect loop is already active
	}
	w.reconnecting = true
	w.stateMu.Unlock()

	defer func() {
		w.stateMu.Lock()
		w.reconnecting = false
		w.stateMu.Unlock()
	}()

	attempts := 0
	currentDelay := w.config.reconnectDelayMin

	for {
		if w.isClosed() || w.clientCtx.Err() != nil {
			return
		}

		if attempts > 0 && !w.config.autoReconnect {
			return
		}
		if w.config.reconnectAttempts > 0 && attempts >= w.config.reconnectAttempts {
			w.config.logger.Warn("transport: max reconnect attempts reached", "attempts", attempts)
			w.handler.HandleError(ErrReconnectExhausted)
			return
		}

		if attempts > 0 || !immediate {
			// Jitter spreads out retries from multiple clients
			jitterRange := int(currentDelay / 4)
			if jitterRange <= 0 {
				jitterRange = 1
			}
			sleepDuration := currentDelay + time.Duration(rand.Intn(jitterRange))
			w.config.logger.Debug("transport: waiting before reconnect attempt", "delay", sleepDuration, "attempt", attempts+1)
			select {
			case <-time.After(sleepDuration):
			case <-w.clientCtx.Done():
				return
			}
		}

		w.handler.HandleConnecting(attempts + 1)
		err := w.establishConnection()
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) || w.clientCtx.Err() != nil {
			return
		}

		attempts++
		w.config.logger.Warn("transport: connect attempt failed", "attempt", attempts, "error", err)
		w.handler.HandleError(err)

		currentDelay *= 2 // Exponential backoff
		if currentDelay > w.config.reconnectDelayMax {
			currentDelay = w.config.reconnectDelayMax
		}
	}
}

func (w *WebSocket) readPump(l *link) {
	info := DisconnectInfo{Reason: "read pump terminated"}
	defer func() {
		l.cancel()
		l.conn.Close(websocket.StatusAbnormalClosure, "read pump terminated for connection")
		w.connMu.Lock()
		if w.cur == l {
			w.cur = nil
		}
		w.connMu.Unlock()
		l.wg.Done()

		if w.isClosed() || w.clientCtx.Err() != nil {
			return
		}
		w.handler.HandleDisconnected(info)
		if w.config.autoReconnect {
			// A clean server close gets an immediate retry; anything else backs off.
			go w.reconnectLoop(info.ServerInitiated)
		}
	}()

	for {
		var frame ergosockets.Frame
		err := wsjson.Read(l.ctx, l.conn, &frame)
		if err != nil {
			status := websocket.CloseStatus(err)
			info.Err = err
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				info.ServerInitiated = true
				info.Reason = fmt.Sprintf("server closed connection (status %d)", status)
			case errors.Is(err, context.Canceled):
				info.Reason = "connection cancelled"
			default:
				info.Reason = "read error"
			}
			w.config.logger.Info("transport: read loop ending", "reason", info.Reason, "error", err)
			return
		}
		w.handler.HandleFrame(&frame)
	}
}

func (w *WebSocket) writePump(l *link) {
	defer l.wg.Done()

	for {
		select {
		case frame := <-w.send:
			writeCtx, writeCancel := context.WithTimeout(l.ctx, w.config.writeTimeout)
			err := wsjson.Write(writeCtx, l.conn, frame)
			writeCancel()
			if err != nil {
				w.config.logger.Warn("transport: write failed, connection may be stale", "event", frame.Event, "error", err)
				// readPump's defer handles reconnect.
				l.cancel()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (w *WebSocket) pingLoop(l *link) {
	defer l.wg.Done()

	ticker := time.NewTicker(w.config.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(l.ctx, w.config.pingInterval/2)
			err := l.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				w.config.logger.Warn("transport: ping failed, connection might be stale", "error", err)
				l.cancel()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Connected reports whether a link is currently up.
func (w *WebSocket) Connected() bool {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.cur != nil
}

// Send queues frame for the current link. It fails fast with ErrNotConnected
// when no link is up rather than buffering across reconnects.
func (w *WebSocket) Send(ctx context.Context, frame *ergosockets.Frame) error {
	if w.isClosed() {
		return ErrClosed
	}
	w.connMu.RLock()
	l := w.cur
	w.connMu.RUnlock()
	if l == nil {
		return ErrNotConnected
	}

	timer := time.NewTimer(w.config.writeTimeout)
	defer timer.Stop()
	select {
	case w.send <- frame:
		return nil
	case <-l.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("transport: send of %q timed out (queue full or connection stalled)", frame.Event)
	}
}

// Close terminates the link and stops reconnection. It is safe to call more
// than once.
func (w *WebSocket) Close() error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return nil
	}
	w.closed = true
	cancel := w.clientCancel
	w.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}

	w.connMu.Lock()
	l := w.cur
	w.cur = nil
	w.connMu.Unlock()
	if l != nil {
		l.cancel()
		l.conn.Close(websocket.StatusNormalClosure, "client initiated close")
	}
	w.config.logger.Info("transport: closed", "clientID", w.target.ClientID)
	return nil
}
