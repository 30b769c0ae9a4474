package debuglog

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEviction(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.WriteOne(i)
	}
	assert.Equal(t, []int{3, 4, 5}, rb.ReadAll())
	assert.Equal(t, 3, rb.Len())
	assert.EqualValues(t, 5, rb.TotalAdded())

	rb.Clear()
	assert.Nil(t, rb.ReadAll())
	rb.WriteOne(9)
	assert.Equal(t, []int{9}, rb.ReadAll())
}

func TestRingBufferPartial(t *testing.T) {
	rb := NewRingBuffer[string](4)
	rb.WriteOne("a")
	rb.WriteOne("b")
	assert.Equal(t, []string{"a", "b"}, rb.ReadAll())
	assert.Equal(t, 4, rb.Capacity())
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := NewRingBuffer[int](0)
	rb.WriteOne(1)
	rb.WriteOne(2)
	assert.Equal(t, []int{2}, rb.ReadAll())
}

type countingObserver struct {
	counts map[Category]int
}

func (o *countingObserver) DebugEventRecorded(c Category) {
	o.counts[c]++
}

func TestLogRecordAndFilter(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := base
	obs := &countingObserver{counts: map[Category]int{}}
	l := New(
		WithCapacity(10),
		WithClock(func() time.Time { return now }),
		WithObserver(obs),
	)

	l.Record(CategoryConnection, "connected", nil)
	now = now.Add(time.Second)
	l.RecordDuration(CategoryPerformance, "response_matched", map[string]any{"id": "m1"}, 150*time.Millisecond)
	now = now.Add(time.Second)
	l.Record(CategoryError, "connect_error", "boom")

	events := l.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "connected", events[0].Name)
	assert.Equal(t, base, events[0].Time)
	assert.Equal(t, 150*time.Millisecond, events[1].Duration)

	perf := l.Filter(CategoryPerformance)
	require.Len(t, perf, 1)
	assert.Equal(t, "response_matched", perf[0].Name)

	recent := l.Since(base.Add(time.Second))
	assert.Len(t, recent, 2)

	assert.Equal(t, 1, obs.counts[CategoryError])
	assert.Equal(t, 1, obs.counts[CategoryConnection])

	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestLogDefaultCapacityBound(t *testing.T) {
	l := New()
	assert.Equal(t, DefaultCapacity, l.Capacity())
	for i := 0; i < DefaultCapacity+250; i++ {
		l.Record(CategorySent, "message", i)
	}
	events := l.Events()
	require.Len(t, events, DefaultCapacity)
	assert.Equal(t, 250, events[0].Data)
}

func TestLogVerboseMirrorsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := New(WithLogger(logger), WithVerbose(true))
	l.Record(CategoryReceived, "messageBroadcast", "abc")
	assert.Contains(t, buf.String(), "messageBroadcast")
	assert.Contains(t, buf.String(), "category=received")
}
