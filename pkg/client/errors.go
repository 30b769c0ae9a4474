package client

import "errors"

var (
	// ErrNotInitialized is returned by operations that need a connection
	// before Initialize has been called.
	ErrNotInitialized = errors.New("client: not initialized")
	// ErrClosed is returned when Disconnect ends a wait for readiness.
	ErrClosed = errors.New("client: disconnected")
)
