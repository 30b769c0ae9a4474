package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Session is what the session service hands back: an opaque session id and
// the channel the messaging client should join.
type Session struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
}

// Provisioner mints sessions. The messaging client never originates channel
// ids itself; it joins whatever a Provisioner returns.
type Provisioner interface {
	CreateSession(ctx context.Context, userID, seedMessage string) (Session, error)
}

// ErrNoChannel is returned when the session service answers without a channel id.
var ErrNoChannel = errors.New("session: response has no channel id")

// HTTPProvisioner calls a JSON session endpoint.
type HTTPProvisioner struct {
	Endpoint   string
	HTTPClient *http.Client
	// Credential, if set, is sent as a bearer token.
	Credential string
}

type createSessionRequest struct {
	UserID         string `json:"userId"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

type createSessionResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SessionID string `json:"sessionId"`
		ChannelID string `json:"channelId"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// CreateSession posts {userId, initialMessage} to the endpoint.
func (p *HTTPProvisioner) CreateSession(ctx context.Context, userID, seedMessage string) (Session, error) {
	if userID == "" {
		return Session{}, errors.New("session: user id is required")
	}
	body, err := json.Marshal(createSessionRequest{UserID: userID, InitialMessage: seedMessage})
	if err != nil {
		return Session{}, fmt.Errorf("session: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("session: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+p.Credential)
	}

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("session: request to %s failed: %w", p.Endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("session: failed to read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Session{}, fmt.Errorf("session: service returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}

	var parsed createSessionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Session{}, fmt.Errorf("session: failed to decode response: %w", err)
	}
	if parsed.Error != "" {
		return Session{}, fmt.Errorf("session: service error: %s", parsed.Error)
	}
	if parsed.Data.ChannelID == "" {
		return Session{}, ErrNoChannel
	}
	return Session{SessionID: parsed.Data.SessionID, ChannelID: parsed.Data.ChannelID}, nil
}
