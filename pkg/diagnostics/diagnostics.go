// Package diagnostics summarizes connection health from the debug log and the
// request tracker, exports snapshots for offline analysis and runs a periodic
// sampler that sweeps stuck requests.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/tracker"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
)

const (
	defaultInterval   = 30 * time.Second
	defaultSweepAfter = 60 * time.Second
)

// Recommendation texts.
const (
	RecommendConnectivity = "Low response rate detected. Check backend connectivity."
	RecommendPerformance  = "High average latency detected. Check backend performance."
	RecommendStuck        = "Many pending requests. Some may be stuck; consider clearing them."
)

// ConnectionStatus reports the current link state. *client.Manager satisfies it.
type ConnectionStatus interface {
	State() transport.State
}

// Health is the coarse connection verdict.
type Health string

const (
	HealthConnected    Health = "connected"
	HealthDisconnected Health = "disconnected"
)

// Thresholds trigger recommendations.
type Thresholds struct {
	MinResponseRate   float64       // Percent; only applies once a request was made
	MaxAverageLatency time.Duration // Exceeding this suggests a slow backend
	MaxPending        int           // Exceeding this suggests stuck requests
}

// DefaultThresholds returns the stock recommendation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinResponseRate:   50,
		MaxAverageLatency: 5 * time.Second,
		MaxPending:        5,
	}
}

// Report is a health summary.
type Report struct {
	GeneratedAt     time.Time       `json:"generatedAt"`
	Health          Health          `json:"health"`
	State           string          `json:"state"`
	ResponseRate    float64         `json:"responseRate"`
	AverageLatency  time.Duration   `json:"averageLatencyNs"`
	Pending         int             `json:"pending"`
	Metrics         tracker.Metrics `json:"metrics"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// String renders the report for humans.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Connection health: %s (%s)\n", r.Health, r.State)
	fmt.Fprintf(&b, "Requests: %d sent, %d answered (%.1f%%)\n", r.Metrics.TotalRequests, r.Metrics.TotalResponses, r.ResponseRate)
	fmt.Fprintf(&b, "Latency: avg %s, min %s, max %s\n", r.AverageLatency, r.Metrics.MinLatency, r.Metrics.MaxLatency)
	fmt.Fprintf(&b, "Pending requests: %d\n", r.Pending)
	if !r.Metrics.LastActivity.IsZero() {
		fmt.Fprintf(&b, "Last activity: %s\n", r.Metrics.LastActivity.Format(time.RFC3339))
	}
	if len(r.Recommendations) == 0 {
		b.WriteString("Recommendations: none\n")
		return b.String()
	}
	b.WriteString("Recommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}
	return b.String()
}

// Snapshot is a full export of diagnostic state.
type Snapshot struct {
	ExportedAt      time.Time         `json:"exportedAt"`
	ConnectionState string            `json:"connectionState"`
	Metrics         tracker.Metrics   `json:"metrics"`
	Pending         []tracker.Request `json:"pending"`
	Events          []debuglog.Event  `json:"events"`
}

// Diagnostics reads from a debug log, a tracker and a connection.
type Diagnostics struct {
	log        *debuglog.Log
	tracker    *tracker.Tracker
	conn       ConnectionStatus
	thresholds Thresholds
	interval   time.Duration
	sweepAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures Diagnostics.
type Option func(*Diagnostics)

// WithInterval sets the sampler period.
func WithInterval(interval time.Duration) Option {
	return func(d *Diagnostics) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithSweepAfter sets the age after which the sampler sweeps a pending request.
func WithSweepAfter(age time.Duration) Option {
	return func(d *Diagnostics) {
		if age > 0 {
			d.sweepAfter = age
		}
	}
}

// WithThresholds replaces the recommendation thresholds.
func WithThresholds(t Thresholds) Option {
	return func(d *Diagnostics) {
		d.thresholds = t
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Diagnostics) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Diagnostics) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Diagnostics facade. conn may be nil, in which case the link
// is reported as disconnected.
func New(log *debuglog.Log, tr *tracker.Tracker, conn ConnectionStatus, opts ...Option) *Diagnostics {
	d := &Diagnostics{
		log:        log,
		tracker:    tr,
		conn:       conn,
		thresholds: DefaultThresholds(),
		interval:   defaultInterval,
		sweepAfter: defaultSweepAfter,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Diagnostics) state() transport.State {
	if d.conn == nil {
		return transport.StateDisconnected
	}
	return d.conn.State()
}

// Report builds a health summary with recommendations.
func (d *Diagnostics) Report() Report {
	m := d.tracker.Metrics()
	state := d.state()

	r := Report{
		GeneratedAt:    d.now(),
		Health:         HealthDisconnected,
		State:          state.String(),
		AverageLatency: m.AverageLatency,
		Pending:        m.Pending,
		Metrics:        m,
	}
	if state == transport.StateConnected {
		r.Health = HealthConnected
	}
	if m.TotalRequests > 0 {
		r.ResponseRate = float64(m.TotalResponses) / float64(m.TotalRequests) * 100
		if r.ResponseRate < d.thresholds.MinResponseRate {
			r.Recommendations = append(r.Recommendations, RecommendConnectivity)
		}
	}
	if m.AverageLatency > d.thresholds.MaxAverageLatency {
		r.Recommendations = append(r.Recommendations, RecommendPerformance)
	}
	if m.Pending > d.thresholds.MaxPending {
		r.Recommendations = append(r.Recommendations, RecommendStuck)
	}
	return r
}

// Export captures the full diagnostic state.
func (d *Diagnostics) Export() Snapshot {
	return Snapshot{
		ExportedAt:      d.now(),
		ConnectionState: d.state().String(),
		Metrics:         d.tracker.Metrics(),
		Pending:         d.tracker.Pending(),
		Events:          d.log.Events(),
	}
}

// WriteJSON writes an indented Export to w.
func (d *Diagnostics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.Export()); err != nil {
		return fmt.Errorf("diagnostics: encode snapshot: %w", err)
	}
	return nil
}

// ClearStuckRequests removes pending requests older than olderThan.
func (d *Diagnostics) ClearStuckRequests(olderThan time.Duration) int {
	n := d.tracker.ClearStuckRequests(olderThan)
	if n > 0 {
		d.logger.Info("diagnostics: cleared stuck requests", "count", n, "olderThan", olderThan)
	}
	return n
}

// ClearChannelRequests removes pending requests tagged with channelID.
func (d *Diagnostics) ClearChannelRequests(channelID string) int {
	n := d.tracker.ClearRequestsForChannel(channelID)
	if n > 0 {
		d.logger.Info("diagnostics: cleared channel requests", "channelID", channelID, "count", n)
	}
	return n
}

// Sample records a metrics snapshot in the debug log and sweeps requests
// older than the sweep threshold. It returns the number swept.
func (d *Diagnostics) Sample() int {
	m := d.tracker.Metrics()
	d.log.Record(debuglog.CategoryPerformance, "metrics_sample", map[string]any{
		"state":          d.state().String(),
		"totalRequests":  m.TotalRequests,
		"totalResponses": m.TotalResponses,
		"averageLatency": m.AverageLatency.String(),
		"pending":        m.Pending,
	})
	return d.ClearStuckRequests(d.sweepAfter)
}

// Run samples every interval until ctx is done. It returns nil on
// cancellation.
func (d *Diagnostics) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Debug("diagnostics: sampler started", "interval", d.interval, "sweepAfter", d.sweepAfter)
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("diagnostics: sampler stopped")
			return nil
		case <-ticker.C:
			d.Sample()
		}
	}
}
