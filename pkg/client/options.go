package client

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/session"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

const (
	// EnvServerURL names the environment variable holding the backend endpoint.
	EnvServerURL = "SESSIONMUX_SERVER_URL"
	// DefaultServerURL is used when EnvServerURL is unset.
	DefaultServerURL = "ws://localhost:3000/ws"

	defaultSettleDelay       = 500 * time.Millisecond
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 1 * time.Second
	defaultSenderName        = "user"
	defaultSource            = "client_chat"
)

var (
	endpointOnce sync.Once
	endpoint     string
)

// EndpointFromEnv returns the backend endpoint from SESSIONMUX_SERVER_URL,
// falling back to DefaultServerURL. The variable is read once per process.
func EndpointFromEnv() string {
	endpointOnce.Do(func() {
		endpoint = os.Getenv(EnvServerURL)
		if endpoint == "" {
			endpoint = DefaultServerURL
		}
	})
	return endpoint
}

// ConnectionObserver is notified of link state changes, e.g. for metrics.
type ConnectionObserver interface {
	StateChanged(state transport.State)
	Reconnected()
}

// Observer bundles every hook a metrics exporter can implement.
type Observer interface {
	tracker.Observer
	debuglog.Observer
	ConnectionObserver
}

// Options contains configuration values for NewWithOptions.
type Options struct {
	URL               string
	Logger            *slog.Logger
	TransportFactory  transport.Factory
	ReconnectAttempts int
	ReconnectDelay    time.Duration // Fixed delay between reconnect attempts
	PingInterval      time.Duration
	SettleDelay       time.Duration // Pause after each explicit join
	SenderName        string
	Verbose           bool // Mirror debug events to the logger
	DebugCapacity     int
	EventBuffer       int

	// Collaborators. Nil values are constructed from the fields above.
	Tracker            *tracker.Tracker
	DebugLog           *debuglog.Log
	Registry           *session.Registry
	Bus                *events.Bus
	Observer           Observer
	ConnectionObserver ConnectionObserver
	Clock              func() time.Time
}

// DefaultOptions returns an Options struct populated with library defaults.
// The endpoint comes from EndpointFromEnv.
func DefaultOptions() Options {
	return Options{
		URL:               EndpointFromEnv(),
		Logger:            slog.Default(),
		ReconnectAttempts: defaultReconnectAttempts,
		ReconnectDelay:    defaultReconnectDelay,
		SettleDelay:       defaultSettleDelay,
		SenderName:        defaultSenderName,
		DebugCapacity:     debuglog.DefaultCapacity,
		EventBuffer:       events.DefaultCapacity,
	}
}

// Option configures a Manager.
type Option func(*Options)

// WithURL sets the backend websocket endpoint.
func WithURL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithTransportFactory replaces the websocket transport, e.g. with a fake in tests.
func WithTransportFactory(f transport.Factory) Option {
	return func(o *Options) {
		o.TransportFactory = f
	}
}

// WithReconnect configures the default transport's reconnect loop.
// attempts = 0 means unbounded attempts.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(o *Options) {
		o.ReconnectAttempts = attempts
		if delay > 0 {
			o.ReconnectDelay = delay
		}
	}
}

// WithPingInterval enables client pings on the default transport.
func WithPingInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PingInterval = interval
	}
}

// WithSettleDelay sets the pause after each explicit join. 0 disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.SettleDelay = d
		}
	}
}

// WithSenderName sets the display name attached to outbound messages.
func WithSenderName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.SenderName = name
		}
	}
}

// WithVerbose mirrors debug events to the logger at debug level.
func WithVerbose(verbose bool) Option {
	return func(o *Options) {
		o.Verbose = verbose
	}
}

// WithDebugCapacity sets the ring buffer size of the default debug log.
func WithDebugCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.DebugCapacity = n
		}
	}
}

// WithEventBuffer sets the per-subscriber event queue length of the default
// bus. A subscriber that falls further behind loses its oldest events.
func WithEventBuffer(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.EventBuffer = n
		}
	}
}

// WithTracker injects a request tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(o *Options) {
		o.Tracker = t
	}
}

// WithDebugLog injects a debug event log.
func WithDebugLog(l *debuglog.Log) Option {
	return func(o *Options) {
		o.DebugLog = l
	}
}

// WithRegistry injects a channel membership registry.
func WithRegistry(r *session.Registry) Option {
	return func(o *Options) {
		o.Registry = r
	}
}

// WithBus injects the event bus subscribers read from.
func WithBus(b *events.Bus) Option {
	return func(o *Options) {
		o.Bus = b
	}
}

// WithObserver attaches an exporter to the default tracker, debug log and
// connection state.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithConnectionObserver attaches a connection state observer only.
func WithConnectionObserver(obs ConnectionObserver) Option {
	return func(o *Options) {
		o.ConnectionObserver = obs
	}
}

// WithClock sets the time source used by default collaborators.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}
