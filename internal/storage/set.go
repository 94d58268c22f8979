package storage

import (
	"context"

	"nestkv/internal/notify"
	"nestkv/internal/outcome"
	"nestkv/internal/store"
)

// Set is an unordered collection of unique strings stored under one key.
// Members are returned in byte order.
type Set struct {
	s      *Storage
	key    string
	prefix []byte
}

// SetOf returns the set stored under key.
func (s *Storage) SetOf(key string) *Set {
	return &Set{s: s, key: key, prefix: store.KeyPrefix(key)}
}

// Key returns the set key.
func (st *Set) Key() string { return st.key }

func (st *Set) bucket() []byte { return st.s.bucket(tableSets) }

func (st *Set) row(member string) []byte { return store.Composite(st.key, []byte(member)) }

// Add inserts member and reports whether it was new. Adding an existing
// member is a no-op; the check and the insert share one transaction.
func (st *Set) Add(ctx context.Context, member string) outcome.Result[bool] {
	r := track(st.s, notify.KindSet, "add", func() (bool, error) {
		var added bool
		err := st.s.db.update(ctx, "sets.add", func(tx store.Tx) error {
			cur, err := tx.Get(st.bucket(), st.row(member))
			if err != nil || cur != nil {
				return err
			}
			added = true
			return tx.Put(st.bucket(), st.row(member), []byte{})
		})
		return added, err
	})
	if added, err := r.Value(); err == nil && added {
		st.changed()
	}
	return r
}

// Remove deletes member and reports whether it was present.
func (st *Set) Remove(ctx context.Context, member string) outcome.Result[bool] {
	r := track(st.s, notify.KindSet, "remove", func() (bool, error) {
		var removed bool
		err := st.s.db.update(ctx, "sets.remove", func(tx store.Tx) error {
			cur, err := tx.Get(st.bucket(), st.row(member))
			if err != nil || cur == nil {
				return err
			}
			removed = true
			return tx.Delete(st.bucket(), st.row(member))
		})
		return removed, err
	})
	if removed, err := r.Value(); err == nil && removed {
		st.changed()
	}
	return r
}

// Has reports whether member is in the set.
func (st *Set) Has(ctx context.Context, member string) outcome.Result[bool] {
	return track(st.s, notify.KindSet, "has", func() (bool, error) {
		var found bool
		err := st.s.db.view(ctx, "sets.has", func(tx store.Tx) error {
			cur, err := tx.Get(st.bucket(), st.row(member))
			found = cur != nil
			return err
		})
		return found, err
	})
}

// GetAll returns every member.
func (st *Set) GetAll(ctx context.Context) outcome.Result[[]string] {
	return track(st.s, notify.KindSet, "getAll", func() ([]string, error) {
		return st.members(ctx)
	})
}

func (st *Set) members(ctx context.Context) ([]string, error) {
	out := []string{}
	err := st.s.db.view(ctx, "sets.scan", func(tx store.Tx) error {
		return tx.Scan(st.bucket(), st.prefix, store.ScanOptions{}, func(k, _ []byte) (bool, error) {
			out = append(out, string(k[len(st.prefix):]))
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Length returns the number of members.
func (st *Set) Length(ctx context.Context) outcome.Result[int] {
	return track(st.s, notify.KindSet, "length", func() (int, error) {
		var n int
		err := st.s.db.view(ctx, "sets.length", func(tx store.Tx) error {
			var err error
			n, err = store.Count(tx, st.bucket(), st.prefix)
			return err
		})
		return n, err
	})
}

// Clear removes every member.
func (st *Set) Clear(ctx context.Context) outcome.Void {
	var n int
	r := track(st.s, notify.KindSet, "clear", func() (struct{}, error) {
		return struct{}{}, st.s.db.update(ctx, "sets.clear", func(tx store.Tx) error {
			var err error
			n, err = tx.DeletePrefix(st.bucket(), st.prefix)
			return err
		})
	})
	if r.IsOk() && n > 0 {
		st.changed()
	}
	return r
}

// Max returns the member with the greatest numeric value.
func (st *Set) Max(ctx context.Context) outcome.Result[string] {
	return track(st.s, notify.KindSet, "max", func() (string, error) {
		members, err := st.members(ctx)
		if err != nil {
			return "", err
		}
		return extreme(members, true)
	})
}

// Min returns the member with the least numeric value.
func (st *Set) Min(ctx context.Context) outcome.Result[string] {
	return track(st.s, notify.KindSet, "min", func() (string, error) {
		members, err := st.members(ctx)
		if err != nil {
			return "", err
		}
		return extreme(members, false)
	})
}

// Sum returns the numeric total of the members; 0 for an empty set.
func (st *Set) Sum(ctx context.Context) outcome.Result[float64] {
	return track(st.s, notify.KindSet, "sum", func() (float64, error) {
		members, err := st.members(ctx)
		if err != nil {
			return 0, err
		}
		return sum(members)
	})
}

// Avg returns the numeric mean of the members.
func (st *Set) Avg(ctx context.Context) outcome.Result[float64] {
	return track(st.s, notify.KindSet, "avg", func() (float64, error) {
		members, err := st.members(ctx)
		if err != nil {
			return 0, err
		}
		return avg(members)
	})
}

// Subscribe calls fn with every member after each committed mutation.
func (st *Set) Subscribe(fn func(outcome.Result[[]string])) *notify.Subscription {
	return st.s.db.hub.Subscribe(st.topic(), func(notify.Event) {
		fn(outcome.Try(func() ([]string, error) { return st.members(context.Background()) }))
	})
}

// Notify calls fn after every committed mutation.
func (st *Set) Notify(fn func()) *notify.Subscription {
	return st.s.db.hub.Subscribe(st.topic(), func(notify.Event) { fn() })
}

func (st *Set) topic() notify.Topic { return st.s.topic(notify.KindSet, st.key) }

func (st *Set) changed() { st.s.db.hub.Publish(st.topic()) }
