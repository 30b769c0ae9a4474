// Package transport owns the physical connection to the messaging backend.
// It exposes link lifecycle callbacks and frame delivery; everything about
// channels and correlation lives above it.
package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
)

var (
	// ErrNotConnected is returned by Send when no link is up.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrReconnectExhausted is reported through Handler.HandleError when the
	// reconnect loop gives up.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")
)

// DisconnectInfo describes a lost link.
type DisconnectInfo struct {
	// ServerInitiated is true when the server closed the link cleanly.
	ServerInitiated bool
	// Reason is a short human-readable cause.
	Reason string
	// Err is the underlying read/write error, if any.
	Err error
}

// Handler receives link lifecycle callbacks and inbound frames.
// HandleFrame is called sequentially from a single goroutine per link, so
// server ordering within the link is preserved.
type Handler interface {
	HandleConnecting(attempt int)
	HandleConnected()
	HandleDisconnected(info DisconnectInfo)
	HandleFrame(frame *ergosockets.Frame)
	HandleError(err error)
}

// Transport is a single multiplexed link to the backend.
type Transport interface {
	// Start begins connecting in the background. It does not wait for the
	// handshake; progress is reported through h.
	Start(ctx context.Context, h Handler) error
	// Send queues a frame on the current link.
	Send(ctx context.Context, frame *ergosockets.Frame) error
	// Close terminates the link permanently.
	Close() error
}

// Config is what the connection layer hands a transport at initialize time.
type Config struct {
	URL        string
	ClientID   string
	ServerID   string
	Credential string // Opaque bearer token forwarded on the handshake
	Logger     *slog.Logger
}

// Factory builds a transport for one initialize call.
type Factory func(cfg Config) (Transport, error)
