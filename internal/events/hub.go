package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/metrics"
)

// DefaultSubscriberBuffer is the channel size given to new subscribers.
const DefaultSubscriberBuffer = 64

// Subscription receives events from a Hub until it is cancelled.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Hub is an in-process fan-out of events. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber with the given buffer size.
// A closed hub returns a subscription whose channel is already closed.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}

	h.subs[sub] = struct{}{}
	return sub
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, events ...Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		for _, ev := range events {
			select {
			case sub.ch <- ev:
				delivered++
			default:
				metrics.EventPublishErrorsTotal.WithLabelValues("hub").Inc()
				h.logger.Debug("subscriber buffer full, dropping event",
					zap.String("type", string(ev.Type)),
					zap.String("item_id", ev.Item.ID),
				)
			}
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues("hub").Add(float64(delivered))

	return nil
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close cancels every subscription. Later Publish calls are no-ops.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.once.Do(func() { close(sub.ch) })
	}

	return nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}
