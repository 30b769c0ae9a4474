// Package debuglog keeps a bounded, timestamped record of connection
// lifecycle and traffic events for diagnostics.
package debuglog

import (
	"log/slog"
	"time"
)

// DefaultCapacity is the number of events retained when no capacity is configured.
const DefaultCapacity = 1000

// Category groups debug events.
type Category string

const (
	CategorySent        Category = "sent"
	CategoryReceived    Category = "received"
	CategoryConnection  Category = "connection"
	CategoryError       Category = "error"
	CategoryPerformance Category = "performance"
)

// Event is an immutable debug log entry.
type Event struct {
	Time     time.Time     `json:"time"`
	Category Category      `json:"category"`
	Name     string        `json:"event"`
	Data     any           `json:"data,omitempty"`
	Duration time.Duration `json:"durationNs,omitempty"`
}

// Observer is notified for every recorded event.
type Observer interface {
	DebugEventRecorded(category Category)
}

// Log is a ring buffer of debug events. It is safe for concurrent use.
type Log struct {
	buf      *RingBuffer[Event]
	now      func() time.Time
	logger   *slog.Logger
	verbose  bool
	observer Observer
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity sets the maximum number of retained events.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.buf = NewRingBuffer[Event](n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used when verbose mirroring is enabled.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithVerbose mirrors every recorded event to the logger at debug level.
func WithVerbose(verbose bool) Option {
	return func(l *Log) {
		l.verbose = verbose
	}
}

// WithObserver registers an observer for recorded events.
func WithObserver(o Observer) Option {
	return func(l *Log) {
		l.observer = o
	}
}

// New creates a debug log.
func New(opts ...Option) *Log {
	l := &Log{
		buf:    NewRingBuffer[Event](DefaultCapacity),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an event without a duration.
func (l *Log) Record(category Category, name string, data any) {
	l.RecordDuration(category, name, data, 0)
}

// RecordDuration appends an event carrying a latency or duration.
func (l *Log) RecordDuration(category Category, name string, data any, d time.Duration) {
	ev := Event{
		Time:     l.now(),
		Category: category,
		Name:     name,
		Data:     data,
		Duration: d,
	}
	l.buf.WriteOne(ev)

	if l.verbose {
		attrs := []any{"category", string(category), "event", name}
		if data != nil {
			attrs = append(attrs, "data", data)
		}
		if d > 0 {
			attrs = append(attrs, "duration", d)
		}
		l.logger.Debug("debuglog: event recorded", attrs...)
	}
	if l.observer != nil {
		l.observer.DebugEventRecorded(category)
	}
}

// Events returns all retained events, oldest first.
func (l *Log) Events() []Event {
	return l.buf.ReadAll()
}

// Filter returns retained events of the given category, oldest first.
func (l *Log) Filter(category Category) []Event {
	var out []Event
	for _, ev := range l.buf.ReadAll() {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out
}

// Since returns retained events recorded at or after t.
func (l *Log) Since(t time.Time) []Event {
	var out []Event
	for _, ev := range l.buf.ReadAll() {
		if !ev.Time.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	return l.buf.Len()
}

// Capacity returns the maximum number of retained events.
func (l *Log) Capacity() int {
	return l.buf.Capacity()
}

// Clear drops all retained events.
func (l *Log) Clear() {
	l.buf.Clear()
}
