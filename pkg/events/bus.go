package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"
)

const allTopic = "*"

// DefaultCapacity is the per-subscriber queue length used when none is given.
const DefaultCapacity = 64

// Bus fans events out to subscribers by kind. Delivery to one subscriber is
// in publish order. Publish never waits on a subscriber: when a subscriber's
// queue is full its oldest queued event is dropped.
type Bus struct {
	mu       sync.RWMutex
	ps       *pubsub.PubSub
	capacity int
	onDrop   func(Event)
	closed   bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDropHandler registers fn to be called for every event dropped from a
// full subscriber queue. fn runs on the subscriber's forwarding goroutine and
// must not publish to the same bus.
func WithDropHandler(fn func(Event)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a bus whose subscriber queues hold capacity events.
// capacity <= 0 selects DefaultCapacity.
func NewBus(capacity int, opts ...BusOption) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{ps: pubsub.New(capacity), capacity: capacity}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to subscribers of its kind and to catch-all
// subscribers. It is a no-op after Close. The pubsub hand-off only waits for
// forwarding goroutines, which never block on their consumer.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Pub(ev, string(ev.Kind()), allTopic)
}

// Subscribe returns a subscription for kinds, or for every event when no
// kinds are given.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	topics := topicsFor(kinds)
	s := &Subscription{
		bus:    b,
		topics: topics,
		out:    make(chan Event, b.capacity),
		done:   make(chan struct{}),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		close(s.out)
		s.once.Do(func() { close(s.done) })
		return s
	}
	s.raw = b.ps.Sub(topics...)
	go s.forward()
	return s
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func topicsFor(kinds []Kind) []string {
	if len(kinds) == 0 {
		return []string{allTopic}
	}
	seen := make(map[Kind]struct{}, len(kinds))
	topics := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		topics = append(topics, string(k))
	}
	return topics
}

// Subscription is a stream of events from a Bus.
type Subscription struct {
	bus     *Bus
	topics  []string
	raw     chan interface{}
	out     chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// C returns the event stream. It is closed after Close or when the bus shuts
// down.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close stops delivery. Events already queued may still be read from C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.bus.isClosed() {
			return
		}
		// Unsub round-trips through the pubsub loop, which may be blocked
		// delivering to this subscription until forward drains it.
		go s.bus.ps.Unsub(s.raw, s.topics...)
	})
}

func (s *Subscription) forward() {
	defer close(s.out)
	for msg := range s.raw {
		ev, ok := msg.(Event)
		if !ok {
			continue
		}
		select {
		case <-s.done:
			continue // Drain until pubsub closes raw
		default:
		}
		s.deliver(ev)
	}
}

// deliver queues ev on out, evicting the oldest queued event while out is full.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.out <- ev:
			return
		default:
		}
		select {
		case old := <-s.out:
			if s.bus.onDrop != nil {
				s.bus.onDrop(old)
			}
			s.dropped.Add(1)
		default:
			// The consumer made room; retry the send.
		}
	}
}

// Dropped returns how many events were evicted because C was not read fast
// enough.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// On runs fn for every event of type T until ctx is done. The returned
// subscription can be closed to stop early.
func On[T Event](ctx context.Context, b *Bus, fn func(T)) *Subscription {
	sub := b.Subscribe()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if v, ok := ev.(T); ok {
					fn(v)
				}
			}
		}
	}()
	return sub
}
