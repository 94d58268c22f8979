package storage

import (
	"context"
	"fmt"
	"strings"

	"nestkv/internal/notify"
	"nestkv/internal/outcome"
)

// DequeueMode selects which end Dequeue reads from.
type DequeueMode string

const (
	FIFO DequeueMode = "FIFO" // oldest first
	LIFO DequeueMode = "LIFO" // newest first
)

// ParseDequeueMode accepts "fifo" or "lifo" in any case.
func ParseDequeueMode(s string) (DequeueMode, error) {
	switch m := DequeueMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case FIFO, LIFO:
		return m, nil
	}
	return "", fmt.Errorf("unknown dequeue mode %q", s)
}

// Queue is a sequence of strings with enqueue at the tail and dequeue from
// either end.
type Queue struct {
	seq sequence
}

// QueueOf returns the queue stored under key.
func (s *Storage) QueueOf(key string) *Queue {
	return &Queue{seq: newSequence(s, tableQueues, key)}
}

// Key returns the queue key.
func (q *Queue) Key() string { return q.seq.key }

// Enqueue appends value.
func (q *Queue) Enqueue(ctx context.Context, value string) outcome.Void {
	r := track(q.seq.s, notify.KindQueue, "enqueue", func() (struct{}, error) {
		return struct{}{}, q.seq.pushBack(ctx, value)
	})
	if r.IsOk() {
		q.changed()
	}
	return r
}

// Dequeue removes and returns the oldest (FIFO) or newest (LIFO) element.
// An empty queue yields Ok(nil). Any other mode panics.
func (q *Queue) Dequeue(ctx context.Context, mode DequeueMode) outcome.Result[*string] {
	var last bool
	switch mode {
	case FIFO:
	case LIFO:
		last = true
	default:
		panic(fmt.Sprintf("storage: unknown dequeue mode %q", string(mode)))
	}
	r := track(q.seq.s, notify.KindQueue, "dequeue", func() (*string, error) {
		return q.seq.take(ctx, last)
	})
	if v, err := r.Value(); err == nil && v != nil {
		q.changed()
	}
	return r
}

// Length returns the number of queued elements.
func (q *Queue) Length(ctx context.Context) outcome.Result[int] {
	return track(q.seq.s, notify.KindQueue, "length", func() (int, error) {
		return q.seq.length(ctx)
	})
}

// Clear removes every element.
func (q *Queue) Clear(ctx context.Context) outcome.Void {
	var n int
	r := track(q.seq.s, notify.KindQueue, "clear", func() (struct{}, error) {
		var err error
		n, err = q.seq.clear(ctx)
		return struct{}{}, err
	})
	if r.IsOk() && n > 0 {
		q.changed()
	}
	return r
}

// Subscribe calls fn with the queued elements, oldest first, after every
// committed mutation.
func (q *Queue) Subscribe(fn func(outcome.Result[[]string])) *notify.Subscription {
	return q.seq.s.db.hub.Subscribe(q.topic(), func(notify.Event) {
		fn(outcome.Try(func() ([]string, error) { return q.seq.all(context.Background()) }))
	})
}

// Notify calls fn after every committed mutation.
func (q *Queue) Notify(fn func()) *notify.Subscription {
	return q.seq.s.db.hub.Subscribe(q.topic(), func(notify.Event) { fn() })
}

func (q *Queue) topic() notify.Topic { return q.seq.s.topic(notify.KindQueue, q.seq.key) }

func (q *Queue) changed() { q.seq.s.db.hub.Publish(q.topic()) }
