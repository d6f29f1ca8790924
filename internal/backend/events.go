package backend

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/metrics"
)

const defaultQueueSize = 256

// Action is a notification button press reported by the backend.
type Action struct {
	ID   string
	Time time.Time
}

// Subscription receives events from a Bus on C until it is unsubscribed.
type Subscription[T any] struct {
	C  <-chan T
	ch chan T
}

// Bus is a typed publish/subscribe channel. Each subscriber has a bounded
// queue; events for a full queue are dropped. Per subscriber, delivery order
// equals publish order.
type Bus[T any] struct {
	mu   sync.Mutex
	name string
	size int
	subs map[*Subscription[T]]struct{}
	log  *logrus.Logger
}

// NewBus creates a bus whose subscribers each buffer up to size events.
func NewBus[T any](name string, size int, log *logrus.Logger) *Bus[T] {
	if size <= 0 {
		size = defaultQueueSize
	}

	return &Bus[T]{
		name: name,
		size: size,
		subs: make(map[*Subscription[T]]struct{}),
		log:  log,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, b.size)
	s := &Subscription[T]{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more than once.
func (b *Bus[T]) Unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers v to every subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			metrics.EventsDropped.WithLabelValues(b.name).Inc()
			b.log.WithField("bus", b.name).Warn("subscriber queue full, dropping event")
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
