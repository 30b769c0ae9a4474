// Package tracker correlates outbound operations with the inbound events that
// answer them and keeps running latency statistics.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
)

// Request is an outbound operation awaiting a correlated reply.
type Request struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ChannelID string    `json:"channelId,omitempty"`
	RoomID    string    `json:"roomId,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	StartedAt time.Time `json:"startedAt"`

	seq uint64
}

func (r *Request) belongsTo(id string) bool {
	return id != "" && (r.ChannelID == id || r.RoomID == id)
}

func (r *Request) newerThan(other *Request) bool {
	if r.StartedAt.Equal(other.StartedAt) {
		return r.seq > other.seq
	}
	return r.StartedAt.After(other.StartedAt)
}

// Response describes an inbound event that may answer a pending request.
type Response struct {
	ID        string
	ChannelID string
	RoomID    string
	EventKind string
}

// Metrics is a point-in-time view of request/response bookkeeping.
type Metrics struct {
	TotalRequests  int           `json:"totalRequests"`
	TotalResponses int           `json:"totalResponses"`
	MinLatency     time.Duration `json:"minLatencyNs"`
	MaxLatency     time.Duration `json:"maxLatencyNs"`
	AverageLatency time.Duration `json:"averageLatencyNs"`
	Pending        int           `json:"pending"`
	LastActivity   time.Time     `json:"lastActivity"`
}

// Observer receives bookkeeping notifications, e.g. for metrics export.
type Observer interface {
	RequestTracked(kind string)
	ResponseMatched(kind string, latency time.Duration)
	OrphanResponse(eventKind string)
	RequestsCleared(reason string, n int)
	// PendingChanged runs with the tracker lock held, so successive calls
	// arrive in mutation order. It must not call back into the Tracker.
	PendingChanged(n int)
}

// Tracker records pending requests and matches responses to them.
// It is safe for concurrent use.
type Tracker struct {
	matcher      Matcher
	now          func() time.Time
	log          *debuglog.Log
	observer     Observer
	payloadLimit int

	mu             sync.Mutex
	pending        map[string]*Request
	seq            uint64
	totalRequests  int
	totalResponses int
	minLatency     time.Duration
	maxLatency     time.Duration
	latencySum     time.Duration
	lastActivity   time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMatcher overrides the response matching strategy.
func WithMatcher(m Matcher) Option {
	return func(t *Tracker) {
		if m != nil {
			t.matcher = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithDebugLog records matches, orphans and sweeps to l.
func WithDebugLog(l *debuglog.Log) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// WithObserver registers a bookkeeping observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.observer = o
	}
}

// WithPayloadLimit sets how many runes of a payload are retained.
func WithPayloadLimit(n int) Option {
	return func(t *Tracker) {
		t.payloadLimit = n
	}
}

// New creates a Tracker using the heuristic matcher.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		matcher:      HeuristicMatcher{},
		now:          ergosockets.TimeNow,
		payloadLimit: ergosockets.DefaultPayloadPreview,
		pending:      make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackRequest records an outbound operation. An empty ID is replaced with a
// generated one; the effective ID is returned. Tracking an ID that is already
// pending restarts its clock.
func (t *Tracker) TrackRequest(req Request) string {
	if req.ID == "" {
		req.ID = ergosockets.GenerateID()
	}
	req.Payload = ergosockets.Truncate(req.Payload, t.payloadLimit)

	t.mu.Lock()
	now := t.now()
	req.StartedAt = now
	t.seq++
	req.seq = t.seq
	t.pending[req.ID] = &req
	t.totalRequests++
	t.lastActivity = now
	t.pendingChangedLocked()
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.RequestTracked(req.Kind)
	}
	return req.ID
}

// TrackResponse resolves the pending request answered by resp, if any, and
// returns the measured latency. Unmatched responses are logged and ignored.
func (t *Tracker) TrackResponse(resp Response) (time.Duration, bool) {
	t.mu.Lock()
	id, ok := t.matcher.Match(t.pending, resp)
	if !ok {
		t.mu.Unlock()
		if t.log != nil {
			t.log.Record(debuglog.CategoryReceived, "orphan_response", map[string]any{
				"id":        resp.ID,
				"channelId": resp.ChannelID,
				"roomId":    resp.RoomID,
				"eventKind": resp.EventKind,
			})
		}
		if t.observer != nil {
			t.observer.OrphanResponse(resp.EventKind)
		}
		return 0, false
	}

	req := t.pending[id]
	delete(t.pending, id)
	now := t.now()
	latency := now.Sub(req.StartedAt)
	if latency < 0 {
		latency = 0
	}
	t.totalResponses++
	t.latencySum += latency
	if t.totalResponses == 1 || latency < t.minLatency {
		t.minLatency = latency
	}
	if latency > t.maxLatency {
		t.maxLatency = latency
	}
	t.lastActivity = now
	t.pendingChangedLocked()
	t.mu.Unlock()

	if t.log != nil {
		t.log.RecordDuration(debuglog.CategoryPerformance, "response_matched", map[string]any{
			"id":        req.ID,
			"kind":      req.Kind,
			"channelId": req.ChannelID,
			"eventKind": resp.EventKind,
			"exact":     resp.ID == req.ID,
		}, latency)
	}
	if t.observer != nil {
		t.observer.ResponseMatched(req.Kind, latency)
	}
	return latency, true
}

// ClearStuckRequests removes every pending request older than olderThan and
// returns how many were removed.
func (t *Tracker) ClearStuckRequests(olderThan time.Duration) int {
	t.mu.Lock()
	cutoff := t.now().Add(-olderThan)
	var removed []string
	for id, req := range t.pending {
		if req.StartedAt.Before(cutoff) {
			removed = append(removed, id)
			delete(t.pending, id)
		}
	}
	if len(removed) > 0 {
		t.pendingChangedLocked()
	}
	t.mu.Unlock()

	t.cleared("stuck", removed, map[string]any{"olderThan": olderThan.String()})
	return len(removed)
}

// ClearRequestsForChannel removes every pending request tied to channelID as
// either its channel or room, returning how many were removed.
func (t *Tracker) ClearRequestsForChannel(channelID string) int {
	if channelID == "" {
		return 0
	}
	t.mu.Lock()
	var removed []string
	for id, req := range t.pending {
		if req.belongsTo(channelID) {
			removed = append(removed, id)
			delete(t.pending, id)
		}
	}
	if len(removed) > 0 {
		t.pendingChangedLocked()
	}
	t.mu.Unlock()

	t.cleared("channel", removed, map[string]any{"channelId": channelID})
	return len(removed)
}

func (t *Tracker) cleared(reason string, removed []string, data map[string]any) {
	if len(removed) == 0 {
		return
	}
	if t.log != nil {
		sort.Strings(removed)
		data["count"] = len(removed)
		data["ids"] = removed
		t.log.Record(debuglog.CategoryPerformance, "requests_cleared_"+reason, data)
	}
	if t.observer != nil {
		t.observer.RequestsCleared(reason, len(removed))
	}
}

// Pending returns a copy of the pending requests, oldest first.
func (t *Tracker) Pending() []Request {
	t.mu.Lock()
	out := make([]*Request, 0, len(t.pending))
	for _, req := range t.pending {
		out = append(out, req)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[j].newerThan(out[i]) })
	res := make([]Request, len(out))
	for i, req := range out {
		res[i] = *req
	}
	return res
}

// Metrics returns the current aggregate statistics.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := Metrics{
		TotalRequests:  t.totalRequests,
		TotalResponses: t.totalResponses,
		MinLatency:     t.minLatency,
		MaxLatency:     t.maxLatency,
		Pending:        len(t.pending),
		LastActivity:   t.lastActivity,
	}
	if t.totalResponses > 0 {
		m.AverageLatency = t.latencySum / time.Duration(t.totalResponses)
	}
	return m
}

// Reset drops all pending requests and statistics.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.pending = make(map[string]*Request)
	t.totalRequests = 0
	t.totalResponses = 0
	t.minLatency = 0
	t.maxLatency = 0
	t.latencySum = 0
	t.lastActivity = time.Time{}
	t.pendingChangedLocked()
	t.mu.Unlock()
}

func (t *Tracker) pendingChangedLocked() {
	if t.observer != nil {
		t.observer.PendingChanged(len(t.pending))
	}
}
