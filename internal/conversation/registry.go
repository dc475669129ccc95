// ABOUTME: In-memory registry of live realtime subscribers keyed by conversation
// ABOUTME: Fans committed messages out to every subscriber of a conversation, in commit order

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389/medibridge/internal/store"
)

const (
	// DefaultSubscriberBuffer is the queue length for each subscriber.
	DefaultSubscriberBuffer = 64
)

// ErrRegistryClosed is returned by Join after Close
var ErrRegistryClosed = errors.New("registry closed")

// Subscriber is one live connection's view of a conversation. Messages are
// delivered on a buffered queue that is never closed; Done is closed once
// the subscriber has left or fell too far behind.
type Subscriber struct {
	ID             string
	ConversationID string

	queue    chan *store.Message
	done     chan struct{}
	doneOnce sync.Once
}

// NewSubscriber creates a subscriber for one conversation. buffer <= 0 uses
// DefaultSubscriberBuffer.
func NewSubscriber(conversationID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Subscriber{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		queue:          make(chan *store.Message, buffer),
		done:           make(chan struct{}),
	}
}

// Messages returns the delivery queue.
func (s *Subscriber) Messages() <-chan *store.Message {
	return s.queue
}

// Done is closed when the subscriber will receive no further messages.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Stale reports whether the subscriber has been marked done.
func (s *Subscriber) Stale() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscriber) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// topic holds the subscribers of one conversation. Its mutex serializes
// join, leave, and broadcast for that conversation only.
type topic struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

// Registry maps conversation IDs to their live subscribers. A conversation
// is present only while it has at least one subscriber.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool
	logger *slog.Logger

	deliveries metric.Int64Counter
	active     metric.Int64UpDownCounter
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	m := newMetrics()
	return &Registry{
		topics:     make(map[string]*topic),
		logger:     logger.With("component", "registry"),
		deliveries: m.deliveries,
		active:     m.activeSubscribers,
	}
}

// Join registers sub for its conversation.
func (r *Registry) Join(sub *Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		sub.markDone()
		return ErrRegistryClosed
	}

	t, ok := r.topics[sub.ConversationID]
	if !ok {
		t = &topic{subs: make(map[string]*Subscriber)}
		r.topics[sub.ConversationID] = t
	}

	t.mu.Lock()
	t.subs[sub.ID] = sub
	t.mu.Unlock()

	r.active.Add(context.Background(), 1)
	r.logger.Debug("subscriber joined",
		"conversation_id", sub.ConversationID,
		"sub_id", sub.ID)
	return nil
}

// Leave removes sub and marks it done. Leaving twice, or leaving without
// having joined, is a no-op apart from marking done.
func (r *Registry) Leave(sub *Subscriber) {
	defer sub.markDone()

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[sub.ConversationID]
	if !ok {
		return
	}

	t.mu.Lock()
	_, exists := t.subs[sub.ID]
	delete(t.subs, sub.ID)
	empty := len(t.subs) == 0
	t.mu.Unlock()

	// Clean up empty conversation entries
	if empty {
		delete(r.topics, sub.ConversationID)
	}

	if exists {
		r.active.Add(context.Background(), -1)
		r.logger.Debug("subscriber left",
			"conversation_id", sub.ConversationID,
			"sub_id", sub.ID)
	}
}

// Broadcast enqueues msg for every subscriber currently joined to
// conversationID and returns how many accepted it. Enqueues never block:
// a subscriber whose queue is full is marked done and skipped, and the
// connection that owns it tears itself down.
func (r *Registry) Broadcast(conversationID string, msg *store.Message) int {
	r.mu.RLock()
	t, ok := r.topics[conversationID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	// Holding the topic lock across the enqueues keeps concurrent broadcasts
	// for one conversation from interleaving.
	t.mu.Lock()
	defer t.mu.Unlock()

	delivered := 0
	for _, sub := range t.subs {
		if sub.Stale() {
			r.record("stale")
			continue
		}
		select {
		case sub.queue <- msg:
			delivered++
			r.record("delivered")
		default:
			sub.markDone()
			r.record("dropped")
			r.logger.Warn("subscriber too slow, disconnecting",
				"conversation_id", conversationID,
				"sub_id", sub.ID,
				"message_id", msg.ID)
		}
	}
	return delivered
}

// Publish implements Publisher by broadcasting to local subscribers.
func (r *Registry) Publish(_ context.Context, msg *store.Message) error {
	r.Broadcast(msg.ConversationID, msg)
	return nil
}

// Subscribers returns the number of subscribers joined to conversationID.
func (r *Registry) Subscribers(conversationID string) int {
	r.mu.RLock()
	t, ok := r.topics[conversationID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Conversations returns the number of conversations with subscribers.
func (r *Registry) Conversations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close marks every subscriber done and empties the registry. Later joins fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID, t := range r.topics {
		t.mu.Lock()
		for subID, sub := range t.subs {
			sub.markDone()
			delete(t.subs, subID)
			r.active.Add(context.Background(), -1)
		}
		t.mu.Unlock()
		delete(r.topics, convID)
	}
	r.closed = true

	r.logger.Debug("registry closed")
}

func (r *Registry) record(result string) {
	r.deliveries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
