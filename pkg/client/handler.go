package client

import (
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

// connHandler adapts transport callbacks for one Initialize generation.
type connHandler struct {
	m   *Manager
	gen uint64
}

var _ transport.Handler = (*connHandler)(nil)

func (h *connHandler) current() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.m.gen == h.gen && h.m.transport != nil
}

func (h *connHandler) HandleConnecting(attempt int) {
	if !h.current() {
		return
	}
	h.m.debug.Record(debuglog.CategoryConnection, "connecting", map[string]any{"attempt": attempt})
	h.m.setStateFor(h.gen, transport.StateConnecting, fmt.Sprintf("connect attempt %d", attempt), nil)
}

func (h *connHandler) HandleConnected() {
	h.m.mu.Lock()
	if h.m.gen != h.gen || h.m.transport == nil {
		h.m.mu.Unlock()
		return
	}
	reconnected := h.m.everConnected
	h.m.everConnected = true
	h.m.mu.Unlock()

	members := h.m.registry.Members()
	if !h.m.setStateFor(h.gen, transport.StateConnected, "handshake complete", nil) {
		return
	}
	if reconnected && h.m.connObs != nil {
		h.m.connObs.Reconnected()
	}
	h.m.rejoin(members)
}

func (h *connHandler) HandleDisconnected(info transport.DisconnectInfo) {
	if !h.current() {
		return
	}
	data := map[string]any{"reason": info.Reason, "serverInitiated": info.ServerInitiated}
	if info.Err != nil && !info.ServerInitiated {
		data["error"] = info.Err.Error()
		h.m.debug.Record(debuglog.CategoryError, "connection_lost", data)
	}
	h.m.setStateFor(h.gen, transport.StateDisconnected, info.Reason, info.Err)
}

func (h *connHandler) HandleFrame(frame *ergosockets.Frame) {
	if !h.current() {
		return
	}
	h.m.route(frame)
}

func (h *connHandler) HandleError(err error) {
	if !h.current() {
		return
	}
	h.m.debug.Record(debuglog.CategoryError, "connection_error", map[string]any{"error": err.Error()})
	h.m.logger.Warn("client: connection error", "error", err)
	reason := "connect failed"
	if errors.Is(err, transport.ErrReconnectExhausted) {
		reason = "reconnect attempts exhausted"
	}
	h.m.setStateFor(h.gen, transport.StateDisconnected, reason, err)
}
