// Package notify dispatches change events to in-process subscribers.
//
// Subscribers register a Handler for a Topic: one key of one collection kind
// inside one storage partition. Publishers call Publish after a mutation has
// committed; handlers run synchronously on the publishing goroutine, in
// subscription order. A panicking handler is recovered and logged so it
// cannot affect the write that triggered it or the other subscribers.
package notify

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"nestkv/internal/logging"
)

var logger = logging.For("notify")

// Kind names the collection type a topic belongs to.
type Kind string

const (
	KindScalar Kind = "kv"
	KindList   Kind = "list"
	KindQueue  Kind = "queue"
	KindSet    Kind = "set"
	KindHash   Kind = "hash"
)

// Topic identifies the value a subscriber watches.
type Topic struct {
	Partition string
	Kind      Kind
	Key       string
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%s:%s", t.Partition, t.Kind, t.Key)
}

// Event is delivered to handlers.
type Event struct {
	Topic Topic
	Seq   uint64 // hub-wide publish order
}

// Handler receives events for one subscription.
type Handler func(Event)

type entry struct {
	id uuid.UUID
	fn Handler
}

// Hub is a registry of subscriptions. The zero value is not usable; call New.
type Hub struct {
	mu   sync.RWMutex
	subs map[Topic][]entry
	seq  Sequence
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[Topic][]entry)}
}

// Subscribe registers fn for topic and returns a handle to cancel it.
func (h *Hub) Subscribe(topic Topic, fn Handler) *Subscription {
	sub := &Subscription{ID: uuid.New(), Topic: topic, hub: h}
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], entry{id: sub.ID, fn: fn})
	h.mu.Unlock()
	logger.Debug("subscribed", "topic", topic.String(), "id", sub.ID)
	return sub
}

// Watched reports whether topic has at least one subscriber.
func (h *Hub) Watched(topic Topic) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic]) > 0
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.subs {
		n += len(list)
	}
	return n
}

// Publish delivers an event for topic to its subscribers and returns the
// number of handlers called.
func (h *Hub) Publish(topic Topic) int {
	h.mu.RLock()
	list := append([]entry(nil), h.subs[topic]...)
	h.mu.RUnlock()
	if len(list) == 0 {
		return 0
	}
	ev := Event{Topic: topic, Seq: h.seq.Next()}
	for _, e := range list {
		h.call(e, ev)
	}
	return len(list)
}

// PublishAll delivers an event to every watched topic.
func (h *Hub) PublishAll() int {
	return h.publishWhere(func(Topic) bool { return true })
}

// PublishPartition delivers an event to every watched topic of partition
// whose kind is in kinds (all kinds when kinds is empty). Used after bulk
// deletes that touch keys the caller cannot enumerate cheaply.
func (h *Hub) PublishPartition(partition string, kinds ...Kind) int {
	return h.publishWhere(func(t Topic) bool {
		return t.Partition == partition && (len(kinds) == 0 || slices.Contains(kinds, t.Kind))
	})
}

func (h *Hub) publishWhere(match func(Topic) bool) int {
	h.mu.RLock()
	var topics []Topic
	for t := range h.subs {
		if match(t) {
			topics = append(topics, t)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, t := range topics {
		n += h.Publish(t)
	}
	return n
}

func (h *Hub) call(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked", "topic", ev.Topic.String(), "id", e.id, "panic", r)
		}
	}()
	e.fn(ev)
}

func (h *Hub) remove(topic Topic, id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[topic]
	for i, e := range list {
		if e.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(h.subs, topic)
		} else {
			h.subs[topic] = list
		}
		return true
	}
	return false
}

// Subscription is a registered handler.
type Subscription struct {
	ID    uuid.UUID
	Topic Topic

	hub  *Hub
	once sync.Once
}

// Cancel removes the subscription. It is safe to call more than once and
// from inside the handler itself.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.hub.remove(s.Topic, s.ID) {
			logger.Debug("unsubscribed", "topic", s.Topic.String(), "id", s.ID)
		}
	})
}
