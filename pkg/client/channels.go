package client

import (
	"context"
	"errors"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

var errEmptyChannel = errors.New("client: channel id required")

// JoinChannel adds channelID to the membership and asks the server to route
// it to this client. It waits for the link to be ready; ctx bounds the wait.
// An empty serverID uses the server given to Initialize. Joining a channel
// that is already joined sends a fresh join and leaves membership unchanged.
func (m *Manager) JoinChannel(ctx context.Context, channelID, serverID string) error {
	if channelID == "" {
		return errEmptyChannel
	}
	if err := m.WaitReady(ctx); err != nil {
		return err
	}

	if n := m.tracker.ClearRequestsForChannel(channelID); n > 0 {
		m.logger.Debug("client: cleared stale requests before join", "channelID", channelID, "count", n)
	}
	if m.registry.Add(channelID) {
		m.logger.Info("client: joined channel", "channelID", channelID)
	}

	if err := m.sendJoin(ctx, channelID, serverID); err != nil {
		return m.sendFailed(ctx, "join", channelID, err)
	}

	if m.opts.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(m.opts.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		// The join is already sent; an interrupted settle is not a failure.
	}
	return nil
}

func (m *Manager) sendJoin(ctx context.Context, channelID, serverID string) error {
	if serverID == "" {
		serverID = m.ServerID()
	}
	payload := ergosockets.JoinPayload{
		ChannelID: channelID,
		RoomID:    channelID,
		EntityID:  m.ClientID(),
		ServerID:  serverID,
		RequestID: "join-" + ergosockets.GenerateID(),
	}
	frame, err := ergosockets.NewMessageFrame(ergosockets.KindRoomJoining, payload)
	if err != nil {
		return err
	}

	m.tracker.TrackRequest(tracker.Request{
		ID:        payload.RequestID,
		Kind:      RequestJoin,
		ChannelID: channelID,
		RoomID:    channelID,
		Payload:   channelID,
	})
	m.debug.Record(debuglog.CategorySent, "join", payload)
	return m.send(ctx, frame)
}

// rejoin issues one join per member. members is captured before the link is
// marked connected so that joins racing with the transition are not doubled.
func (m *Manager) rejoin(members []string) {
	if len(members) == 0 {
		return
	}
	m.logger.Info("client: rejoining channels", "count", len(members))
	ctx := context.Background()
	for _, channelID := range members {
		if err := m.sendJoin(ctx, channelID, ""); err != nil {
			m.sendFailed(ctx, "rejoin", channelID, err)
		}
	}
}

// LeaveChannel removes channelID from the membership and tells the server.
// While not connected it logs a warning and does nothing.
func (m *Manager) LeaveChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return errEmptyChannel
	}
	if m.State() != transport.StateConnected {
		m.logger.Warn("client: leave ignored, not connected", "channelID", channelID)
		return nil
	}

	m.tracker.ClearRequestsForChannel(channelID)
	if m.registry.Remove(channelID) {
		m.logger.Info("client: left channel", "channelID", channelID)
	}

	payload := ergosockets.LeavePayload{
		ChannelID: channelID,
		RoomID:    channelID,
		EntityID:  m.ClientID(),
	}
	frame, err := ergosockets.NewFrame(ergosockets.EventLeave, payload)
	if err != nil {
		return err
	}
	m.debug.Record(debuglog.CategorySent, "leave", payload)
	if err := m.send(ctx, frame); err != nil {
		return m.sendFailed(ctx, "leave", channelID, err)
	}
	return nil
}

// SendMessage posts msg to its channel once the link is ready and returns the
// message ID, which is also the tracked request ID.
func (m *Manager) SendMessage(ctx context.Context, msg Message) (string, error) {
	if msg.ChannelID == "" {
		return "", errEmptyChannel
	}
	if err := m.WaitReady(ctx); err != nil {
		return "", err
	}

	payload := ergosockets.SendPayload{
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Message:     msg.Text,
		ChannelID:   msg.ChannelID,
		RoomID:      msg.ChannelID,
		ServerID:    msg.ServerID,
		MessageID:   msg.MessageID,
		Source:      msg.Source,
		Attachments: msg.Attachments,
		Metadata:    msg.Metadata,
	}
	if payload.SenderID == "" {
		payload.SenderID = m.ClientID()
	}
	if payload.SenderName == "" {
		payload.SenderName = m.opts.SenderName
	}
	if payload.ServerID == "" {
		payload.ServerID = m.ServerID()
	}
	if payload.MessageID == "" {
		payload.MessageID = ergosockets.GenerateID()
	}
	if payload.Source == "" {
		payload.Source = defaultSource
	}

	frame, err := ergosockets.NewMessageFrame(ergosockets.KindSendMessage, payload)
	if err != nil {
		return "", err
	}
	m.tracker.TrackRequest(tracker.Request{
		ID:        payload.MessageID,
		Kind:      RequestSend,
		ChannelID: msg.ChannelID,
		RoomID:    msg.ChannelID,
		Payload:   msg.Text,
	})
	m.debug.Record(debuglog.CategorySent, "send_message", map[string]any{
		"messageId": payload.MessageID,
		"channelId": payload.ChannelID,
		"preview":   ergosockets.Truncate(msg.Text, ergosockets.DefaultPayloadPreview),
	})
	if err := m.send(ctx, frame); err != nil {
		return payload.MessageID, m.sendFailed(ctx, "send_message", msg.ChannelID, err)
	}
	return payload.MessageID, nil
}

// SetActiveSessionChannelID narrows delivery to channelID in addition to the
// joined channels. Switching away from a previous session purges the pending
// requests tied to it.
func (m *Manager) SetActiveSessionChannelID(channelID string) {
	if channelID == "" {
		m.ClearActiveSessionChannelID()
		return
	}
	prev, replaced := m.registry.SetActive(channelID)
	if replaced {
		n := m.tracker.ClearRequestsForChannel(prev)
		m.logger.Info("client: active session switched", "from", prev, "to", channelID, "purged", n)
		return
	}
	m.logger.Debug("client: active session set", "channelID", channelID)
}

// ClearActiveSessionChannelID unsets the active session without purging.
func (m *Manager) ClearActiveSessionChannelID() {
	if prev := m.registry.ClearActive(); prev != "" {
		m.logger.Debug("client: active session cleared", "channelID", prev)
	}
}

// ActiveSessionChannelID returns the active session, if any.
func (m *Manager) ActiveSessionChannelID() (string, bool) {
	return m.registry.Active()
}
