package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 16

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize sets the per-subscriber queue depth. A full queue drops.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropFunc installs a loss injector. Messages for which drop returns true
// are accepted by Publish and never delivered.
func WithDropFunc(drop func(Message) bool) BusOption {
	return func(b *Bus) { b.drop = drop }
}

// BusStats is a point-in-time view of bus counters.
type BusStats struct {
	Published    uint64
	Delivered    uint64
	Dropped      uint64
	LossInjected uint64
	Subscribers  int
}

// Bus is an in-memory Channel. Each subscriber owns a bounded queue drained
// by its own goroutine, so a slow handler never blocks publishers.
type Bus struct {
	queueSize int
	drop      func(Message) bool

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	published    atomic.Uint64
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	lossInjected atomic.Uint64
}

type subscription struct {
	pattern string
	handler Handler
	queue   chan Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewBus constructs an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		queueSize: defaultQueueSize,
		subs:      make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish fans payload out to every matching subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	m := Message{Topic: topic, Payload: payload}
	b.published.Add(1)
	if b.drop != nil && b.drop(m) {
		b.lossInjected.Add(1)
		return nil
	}
	for _, s := range b.subs {
		if !Match(s.pattern, topic) {
			continue
		}
		select {
		case s.queue <- m:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers h for topics matching pattern.
func (b *Bus) Subscribe(pattern string, h Handler) (func(), error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	s := &subscription{
		pattern: pattern,
		handler: h,
		queue:   make(chan Message, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go b.deliver(s)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}, nil
}

func (b *Bus) deliver(s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.queue:
			s.handler(m)
			b.delivered.Add(1)
		}
	}
}

// Close stops every subscription. Later calls to Publish and Subscribe
// return ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.stop()
		delete(b.subs, id)
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Published:    b.published.Load(),
		Delivered:    b.delivered.Load(),
		Dropped:      b.dropped.Load(),
		LossInjected: b.lossInjected.Load(),
		Subscribers:  n,
	}
}
