package stream

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
)

// ErrSubscriberClosed is returned by Next after Unsubscribe.
var ErrSubscriberClosed = errors.New("subscriber closed")

// DefaultSubscriberBuffer bounds each subscriber's queue.
const DefaultSubscriberBuffer = 256

// Subscriber is one consumer's bounded FIFO view of the stream. The
// publisher writes without blocking; under overflow the oldest droppable
// envelope (ticks, then rolling candles) is discarded first. Closed
// candles and backend errors are never dropped — the queue grows past
// its bound rather than lose them.
type Subscriber struct {
	id     uint64
	filter atomic.Value // models.SubscriptionFilter

	mu     sync.Mutex
	queue  []models.Envelope
	bound  int
	notify chan struct{}
	closed bool

	tickDrops atomic.Int64
}

// ID returns the hub-assigned subscriber id.
func (s *Subscriber) ID() uint64 { return s.id }

// UpdateFilter atomically replaces the subscription filter. Envelopes
// already admitted under the old filter may still be delivered; every
// envelope is self-describing so clients can route them regardless.
func (s *Subscriber) UpdateFilter(f models.SubscriptionFilter) {
	s.filter.Store(f)
}

// Filter returns the current filter.
func (s *Subscriber) Filter() models.SubscriptionFilter {
	return s.filter.Load().(models.SubscriptionFilter)
}

// Drops returns the number of envelopes dropped for this subscriber.
func (s *Subscriber) Drops() int64 { return s.tickDrops.Load() }

// push admits an envelope, applying the drop policy. Called only by the hub.
func (s *Subscriber) push(env models.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.bound {
		if i := s.oldestDroppable(); i >= 0 {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.tickDrops.Add(1)
			metrics.SubscriberDrops.WithLabelValues(strconv.FormatUint(s.id, 10)).Inc()
		} else if env.Droppable() {
			// Queue is all protected envelopes; shed the incoming tick.
			s.tickDrops.Add(1)
			metrics.SubscriberDrops.WithLabelValues(strconv.FormatUint(s.id, 10)).Inc()
			s.mu.Unlock()
			return
		}
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) oldestDroppable() int {
	for i, e := range s.queue {
		if e.Droppable() {
			return i
		}
	}
	return -1
}

// Next blocks until an envelope is available, the context is cancelled,
// or the subscriber is closed. Delivery is FIFO in admission order.
func (s *Subscriber) Next(ctx context.Context) (models.Envelope, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return env, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return models.Envelope{}, ErrSubscriberClosed
		}
		select {
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Hub fans envelopes out to subscribers. The subscriber table lock is
// held only for table mutation and the filter check; delivery goes
// through per-subscriber queues so one slow client cannot stall others.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscriber
	nextID  uint64
	bufSize int
	log     zerolog.Logger
}

// NewHub builds a hub with the given per-subscriber buffer bound.
func NewHub(bufSize int, log zerolog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[uint64]*Subscriber),
		bufSize: bufSize,
		log:     log.With().Str("component", "fanout").Logger(),
	}
}

// Subscribe registers a consumer with an initial filter.
func (h *Hub) Subscribe(filter models.SubscriptionFilter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscriber{
		id:     h.nextID,
		bound:  h.bufSize,
		notify: make(chan struct{}, 1),
	}
	s.filter.Store(filter)
	h.subs[s.id] = s
	return s
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.close()
}

// Publish delivers the envelope to every subscriber whose filter
// matches. Never blocks and never fails the publisher.
func (h *Hub) Publish(env models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.Filter().Matches(env) {
			s.push(env)
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
