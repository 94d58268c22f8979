package storage

import (
	"context"
	"slices"

	"nestkv/internal/notify"
	"nestkv/internal/outcome"
	"nestkv/internal/store"
)

// Hash maps fields to string values under one key.
type Hash struct {
	s      *Storage
	key    string
	prefix []byte
}

// HashOf returns the hash stored under key.
func (s *Storage) HashOf(key string) *Hash {
	return &Hash{s: s, key: key, prefix: store.KeyPrefix(key)}
}

// Key returns the hash key.
func (h *Hash) Key() string { return h.key }

func (h *Hash) bucket() []byte { return h.s.bucket(tableHashes) }

func (h *Hash) row(field string) []byte { return store.Composite(h.key, []byte(field)) }

// Set stores value in field, replacing any previous value.
func (h *Hash) Set(ctx context.Context, field, value string) outcome.Void {
	return h.mutate("set", func() error {
		return h.s.db.update(ctx, "hashes.set", func(tx store.Tx) error {
			return tx.Put(h.bucket(), h.row(field), []byte(value))
		})
	})
}

// Get returns the value of field, or Err(ErrNotFound).
func (h *Hash) Get(ctx context.Context, field string) outcome.Result[string] {
	return trackFound(h.s, notify.KindHash, "get", nil, func() (string, bool, error) {
		var v []byte
		err := h.s.db.view(ctx, "hashes.get", func(tx store.Tx) error {
			var err error
			v, err = tx.Get(h.bucket(), h.row(field))
			return err
		})
		return string(v), v != nil, err
	})
}

// Has reports whether field exists.
func (h *Hash) Has(ctx context.Context, field string) outcome.Result[bool] {
	return track(h.s, notify.KindHash, "has", func() (bool, error) {
		var found bool
		err := h.s.db.view(ctx, "hashes.has", func(tx store.Tx) error {
			v, err := tx.Get(h.bucket(), h.row(field))
			found = v != nil
			return err
		})
		return found, err
	})
}

// Remove deletes field. Removing a missing field succeeds.
func (h *Hash) Remove(ctx context.Context, field string) outcome.Void {
	return h.mutateIf("remove", func() (bool, error) {
		var removed bool
		err := h.s.db.update(ctx, "hashes.remove", func(tx store.Tx) error {
			cur, err := tx.Get(h.bucket(), h.row(field))
			if err != nil || cur == nil {
				return err
			}
			removed = true
			return tx.Delete(h.bucket(), h.row(field))
		})
		return removed, err
	})
}

// GetAll returns the complete field/value mapping.
func (h *Hash) GetAll(ctx context.Context) outcome.Result[map[string]string] {
	return track(h.s, notify.KindHash, "getAll", func() (map[string]string, error) {
		return h.all(ctx)
	})
}

func (h *Hash) all(ctx context.Context) (map[string]string, error) {
	entries, err := h.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

func (h *Hash) entries(ctx context.Context) ([]Entry, error) {
	out := []Entry{}
	err := h.s.db.view(ctx, "hashes.scan", func(tx store.Tx) error {
		return tx.Scan(h.bucket(), h.prefix, store.ScanOptions{}, func(k, v []byte) (bool, error) {
			out = append(out, Entry{Key: string(k[len(h.prefix):]), Value: string(v)})
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Keys returns every field in byte order.
func (h *Hash) Keys(ctx context.Context) outcome.Result[[]string] {
	return track(h.s, notify.KindHash, "keys", func() ([]string, error) {
		entries, err := h.entries(ctx)
		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		return keys, err
	})
}

// Values returns every value, ordered by field.
func (h *Hash) Values(ctx context.Context) outcome.Result[[]string] {
	return track(h.s, notify.KindHash, "values", func() ([]string, error) {
		entries, err := h.entries(ctx)
		values := make([]string, len(entries))
		for i, e := range entries {
			values[i] = e.Value
		}
		return values, err
	})
}

// Entries returns every field/value pair, ordered by field.
func (h *Hash) Entries(ctx context.Context) outcome.Result[[]Entry] {
	return track(h.s, notify.KindHash, "entries", func() ([]Entry, error) {
		return h.entries(ctx)
	})
}

// FromObject stores every field of obj in one transaction. Fields missing
// from obj keep their current value; call Clear first to replace the hash.
func (h *Hash) FromObject(ctx context.Context, obj map[string]string) outcome.Void {
	if len(obj) == 0 {
		return outcome.Done()
	}
	return h.mutate("fromObject", func() error {
		fields := make([]string, 0, len(obj))
		for f := range obj {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		rows := make([]store.Entry, len(fields))
		for i, f := range fields {
			rows[i] = store.Entry{Key: h.row(f), Value: []byte(obj[f])}
		}
		return h.s.db.update(ctx, "hashes.fromObject", func(tx store.Tx) error {
			return store.PutAll(tx, h.bucket(), rows)
		})
	})
}

// Increment adds delta to the number stored in field and returns the new
// value. A missing field counts as 0; a non-numeric value fails with
// ErrTypeMismatch.
func (h *Hash) Increment(ctx context.Context, field string, delta float64) outcome.Result[float64] {
	r := track(h.s, notify.KindHash, "increment", func() (float64, error) {
		var next float64
		err := h.s.db.update(ctx, "hashes.increment", func(tx store.Tx) error {
			cur, err := tx.Get(h.bucket(), h.row(field))
			if err != nil {
				return err
			}
			if next, err = addNumber(cur, delta); err != nil {
				return err
			}
			return tx.Put(h.bucket(), h.row(field), []byte(FormatNumber(next)))
		})
		return next, err
	})
	if r.IsOk() {
		h.changed()
	}
	return r
}

// Clear removes every field.
func (h *Hash) Clear(ctx context.Context) outcome.Void {
	return h.mutateIf("clear", func() (bool, error) {
		var n int
		err := h.s.db.update(ctx, "hashes.clear", func(tx store.Tx) error {
			var err error
			n, err = tx.DeletePrefix(h.bucket(), h.prefix)
			return err
		})
		return n > 0, err
	})
}

// Subscribe calls fn with the whole mapping after every committed mutation.
func (h *Hash) Subscribe(fn func(outcome.Result[map[string]string])) *notify.Subscription {
	return h.s.db.hub.Subscribe(h.topic(), func(notify.Event) {
		fn(outcome.Try(func() (map[string]string, error) { return h.all(context.Background()) }))
	})
}

// Notify calls fn after every committed mutation.
func (h *Hash) Notify(fn func()) *notify.Subscription {
	return h.s.db.hub.Subscribe(h.topic(), func(notify.Event) { fn() })
}

func (h *Hash) topic() notify.Topic { return h.s.topic(notify.KindHash, h.key) }

func (h *Hash) changed() { h.s.db.hub.Publish(h.topic()) }

func (h *Hash) mutate(op string, fn func() error) outcome.Void {
	return h.mutateIf(op, func() (bool, error) { return true, fn() })
}

// mutateIf publishes only when fn reports that rows changed.
func (h *Hash) mutateIf(op string, fn func() (bool, error)) outcome.Void {
	var changed bool
	r := track(h.s, notify.KindHash, op, func() (struct{}, error) {
		var err error
		changed, err = fn()
		return struct{}{}, err
	})
	if r.IsOk() && changed {
		h.changed()
	}
	return r
}
