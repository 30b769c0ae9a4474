// sessionmux.go
package sessionmux

import (
	"github.com/lightforgemedia/go-sessionmux/pkg/client"
	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/diagnostics"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/session"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

// Re-export core types
type (
	Manager        = client.Manager
	Message        = client.Message
	Option         = client.Option
	Options        = client.Options
	Observer       = client.Observer
	State          = transport.State
	Event          = events.Event
	Kind           = events.Kind
	Subscription   = events.Subscription
	Session        = session.Session
	Provisioner    = session.Provisioner
	Diagnostics    = diagnostics.Diagnostics
	Report         = diagnostics.Report
	DebugEvent     = debuglog.Event
	PendingRequest = tracker.Request
)

// Re-export error values
var (
	ErrNotInitialized = client.ErrNotInitialized
	ErrClosed         = client.ErrClosed
)

// Re-export connection states
const (
	StateDisconnected = transport.StateDisconnected
	StateConnecting   = transport.StateConnecting
	StateConnected    = transport.StateConnected
)

// NewManager creates a session manager. Without WithURL the endpoint comes
// from SESSIONMUX_SERVER_URL.
func NewManager(opts ...client.Option) (*client.Manager, error) {
	return client.New(opts...)
}

// NewDiagnostics builds a diagnostics facade over m's debug log and tracker.
func NewDiagnostics(m *client.Manager, opts ...diagnostics.Option) *diagnostics.Diagnostics {
	return diagnostics.New(m.DebugLog(), m.Tracker(), m, opts...)
}
