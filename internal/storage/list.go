package storage

import (
	"context"

	"nestkv/internal/notify"
	"nestkv/internal/outcome"
)

// List is an ordered sequence of strings stored under one key.
type List struct {
	seq sequence
}

// ListOf returns the list stored under key.
func (s *Storage) ListOf(key string) *List {
	return &List{seq: newSequence(s, tableLists, key)}
}

// Key returns the list key.
func (l *List) Key() string { return l.seq.key }

func (l *List) changed() { l.seq.s.publish(notify.KindList, l.seq.key) }

// Push appends value to the tail.
func (l *List) Push(ctx context.Context, value string) outcome.Void {
	return l.mutate("push", func() error { return l.seq.pushBack(ctx, value) })
}

// PushMany appends values to the tail in the given order, atomically.
func (l *List) PushMany(ctx context.Context, values []string) outcome.Void {
	if len(values) == 0 {
		return outcome.Done()
	}
	return l.mutate("pushMany", func() error { return l.seq.pushBack(ctx, values...) })
}

// Unshift inserts value at the head.
func (l *List) Unshift(ctx context.Context, value string) outcome.Void {
	return l.mutate("unshift", func() error { return l.seq.pushFront(ctx, value) })
}

// Pop removes and returns the tail. An empty list yields Ok(nil).
func (l *List) Pop(ctx context.Context) outcome.Result[*string] {
	return l.take(ctx, "pop", true)
}

// Shift removes and returns the head. An empty list yields Ok(nil).
func (l *List) Shift(ctx context.Context) outcome.Result[*string] {
	return l.take(ctx, "shift", false)
}

func (l *List) take(ctx context.Context, op string, last bool) outcome.Result[*string] {
	r := track(l.seq.s, notify.KindList, op, func() (*string, error) {
		return l.seq.take(ctx, last)
	})
	if v, err := r.Value(); err == nil && v != nil {
		l.changed()
	}
	return r
}

// Get returns the element at index i (0 is the head). An index past the end
// fails with ErrIndexOutOfRange.
func (l *List) Get(ctx context.Context, i int) outcome.Result[string] {
	return track(l.seq.s, notify.KindList, "get", func() (string, error) {
		return l.seq.get(ctx, i)
	})
}

// Set replaces the element at index i.
func (l *List) Set(ctx context.Context, i int, value string) outcome.Void {
	return l.mutate("set", func() error { return l.seq.set(ctx, i, value) })
}

// Length returns the number of elements.
func (l *List) Length(ctx context.Context) outcome.Result[int] {
	return track(l.seq.s, notify.KindList, "length", func() (int, error) {
		return l.seq.length(ctx)
	})
}

// GetAll returns every element from head to tail.
func (l *List) GetAll(ctx context.Context) outcome.Result[[]string] {
	return track(l.seq.s, notify.KindList, "getAll", func() ([]string, error) {
		return l.seq.all(ctx)
	})
}

// Clear removes every element. Clearing an empty list succeeds.
func (l *List) Clear(ctx context.Context) outcome.Void {
	return l.mutateIf("clear", func() (bool, error) {
		n, err := l.seq.clear(ctx)
		return n > 0, err
	})
}

// Max returns the element with the greatest numeric value, as stored.
func (l *List) Max(ctx context.Context) outcome.Result[string] {
	return track(l.seq.s, notify.KindList, "max", func() (string, error) {
		values, err := l.seq.all(ctx)
		if err != nil {
			return "", err
		}
		return extreme(values, true)
	})
}

// Min returns the element with the least numeric value, as stored.
func (l *List) Min(ctx context.Context) outcome.Result[string] {
	return track(l.seq.s, notify.KindList, "min", func() (string, error) {
		values, err := l.seq.all(ctx)
		if err != nil {
			return "", err
		}
		return extreme(values, false)
	})
}

// Sum returns the numeric total of the elements; 0 for an empty list.
func (l *List) Sum(ctx context.Context) outcome.Result[float64] {
	return track(l.seq.s, notify.KindList, "sum", func() (float64, error) {
		values, err := l.seq.all(ctx)
		if err != nil {
			return 0, err
		}
		return sum(values)
	})
}

// Avg returns the numeric mean of the elements. An empty list fails with
// ErrEmpty.
func (l *List) Avg(ctx context.Context) outcome.Result[float64] {
	return track(l.seq.s, notify.KindList, "avg", func() (float64, error) {
		values, err := l.seq.all(ctx)
		if err != nil {
			return 0, err
		}
		return avg(values)
	})
}

// Subscribe calls fn with the whole list after every committed mutation.
func (l *List) Subscribe(fn func(outcome.Result[[]string])) *notify.Subscription {
	return l.seq.s.db.hub.Subscribe(l.seq.s.topic(notify.KindList, l.seq.key), func(notify.Event) {
		fn(outcome.Try(func() ([]string, error) { return l.seq.all(context.Background()) }))
	})
}

// Notify calls fn after every committed mutation.
func (l *List) Notify(fn func()) *notify.Subscription {
	return l.seq.s.db.hub.Subscribe(l.seq.s.topic(notify.KindList, l.seq.key), func(notify.Event) { fn() })
}

func (l *List) mutate(op string, fn func() error) outcome.Void {
	return l.mutateIf(op, func() (bool, error) { return true, fn() })
}

// mutateIf publishes only when fn reports that rows changed.
func (l *List) mutateIf(op string, fn func() (bool, error)) outcome.Void {
	var changed bool
	r := track(l.seq.s, notify.KindList, op, func() (struct{}, error) {
		var err error
		changed, err = fn()
		return struct{}{}, err
	})
	if r.IsOk() && changed {
		l.changed()
	}
	return r
}
