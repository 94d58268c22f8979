package storage

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"nestkv/internal/notify"
	"nestkv/internal/outcome"
	"nestkv/internal/store"
)

// Entry is a key/value pair returned by Entries.
type Entry struct {
	Key   string
	Value string
}

// Storage is a handle on one partition. Handles are cheap and stateless;
// two handles with the same visibility and path see the same data.
type Storage struct {
	db        *DB
	vis       Visibility
	path      []string
	partition string
	logger    *slog.Logger
}

func newStorage(db *DB, vis Visibility, path []string) *Storage {
	partition := partitionName(vis, path)
	return &Storage{
		db:        db,
		vis:       vis,
		path:      path,
		partition: partition,
		logger:    logger.With("partition", partition),
	}
}

// Namespace returns the handle of the child partition seg. The child keeps
// the visibility of s and shares no rows with s or its siblings.
func (s *Storage) Namespace(seg string) *Storage {
	path := make([]string, len(s.path), len(s.path)+1)
	copy(path, s.path)
	return newStorage(s.db, s.vis, append(path, seg))
}

// Parent returns the handle one level up, or s itself at the root path.
func (s *Storage) Parent() *Storage {
	if len(s.path) <= 1 {
		return s
	}
	return newStorage(s.db, s.vis, slices.Clone(s.path[:len(s.path)-1]))
}

// Path returns a copy of the namespace path.
func (s *Storage) Path() []string { return slices.Clone(s.path) }

// Visibility returns the visibility class of the handle.
func (s *Storage) Visibility() Visibility { return s.vis }

// Partition returns the partition name, e.g. "PRIVATE/default/sheet%2F1".
func (s *Storage) Partition() string { return s.partition }

func (s *Storage) String() string {
	return string(s.vis) + ":" + strings.Join(s.path, "/")
}

func (s *Storage) bucket(table string) []byte {
	return bucketName(s.partition, table)
}

func (s *Storage) topic(kind notify.Kind, key string) notify.Topic {
	return notify.Topic{Partition: s.partition, Kind: kind, Key: key}
}

func (s *Storage) publish(kind notify.Kind, key string) {
	s.db.hub.Publish(s.topic(kind, key))
}

// Get returns the value of key, or Err(ErrNotFound).
func (s *Storage) Get(ctx context.Context, key string) outcome.Result[string] {
	return trackFound(s, notify.KindScalar, "get", nil, func() (string, bool, error) {
		v, err := s.get(ctx, key)
		return string(v), v != nil, err
	})
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.view(ctx, "kv.get", func(tx store.Tx) error {
		var err error
		v, err = tx.Get(s.bucket(tableKV), store.KeyPrefix(key))
		return err
	})
	return v, err
}

// Set stores value under key.
func (s *Storage) Set(ctx context.Context, key, value string) outcome.Void {
	r := track(s, notify.KindScalar, "set", func() (struct{}, error) {
		return struct{}{}, s.db.update(ctx, "kv.set", func(tx store.Tx) error {
			return tx.Put(s.bucket(tableKV), store.KeyPrefix(key), []byte(value))
		})
	})
	if r.IsOk() {
		s.publish(notify.KindScalar, key)
	}
	return r
}

// Remove deletes key. Removing a missing key succeeds and notifies nobody.
func (s *Storage) Remove(ctx context.Context, key string) outcome.Void {
	var removed bool
	r := track(s, notify.KindScalar, "remove", func() (struct{}, error) {
		return struct{}{}, s.db.update(ctx, "kv.remove", func(tx store.Tx) error {
			b, k := s.bucket(tableKV), store.KeyPrefix(key)
			cur, err := tx.Get(b, k)
			if err != nil || cur == nil {
				return err
			}
			removed = true
			return tx.Delete(b, k)
		})
	})
	if r.IsOk() && removed {
		s.publish(notify.KindScalar, key)
	}
	return r
}

// Clear deletes every scalar key of the partition. Collections and child
// namespaces are not touched.
func (s *Storage) Clear(ctx context.Context) outcome.Void {
	var n int
	r := track(s, notify.KindScalar, "clear", func() (struct{}, error) {
		return struct{}{}, s.db.update(ctx, "kv.clear", func(tx store.Tx) error {
			var err error
			if n, err = store.Count(tx, s.bucket(tableKV), nil); err != nil || n == 0 {
				return err
			}
			return tx.DropBucket(s.bucket(tableKV))
		})
	})
	if r.IsOk() && n > 0 {
		s.db.hub.PublishPartition(s.partition, notify.KindScalar)
	}
	return r
}

// Drop deletes every table of the partition: scalar keys and all
// collections. Child namespaces are not touched.
func (s *Storage) Drop(ctx context.Context) outcome.Void {
	var rows int
	r := track(s, notify.KindScalar, "drop", func() (struct{}, error) {
		return struct{}{}, s.db.update(ctx, "partition.drop", func(tx store.Tx) error {
			var names [][]byte
			prefix := []byte(s.partition + "\x00")
			if err := tx.Buckets(prefix, func(name []byte) error {
				names = append(names, bytes.Clone(name))
				return nil
			}); err != nil {
				return err
			}
			for _, name := range names {
				n, err := store.Count(tx, name, nil)
				if err != nil {
					return err
				}
				rows += n
				if err := tx.DropBucket(name); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if r.IsOk() {
		s.logger.Info("partition dropped", "rows", rows)
		if rows > 0 {
			s.db.hub.PublishPartition(s.partition)
		}
	}
	return r
}

// Length returns the number of characters of the value stored under key.
func (s *Storage) Length(ctx context.Context, key string) outcome.Result[int] {
	return trackFound(s, notify.KindScalar, "length", nil, func() (int, bool, error) {
		v, err := s.get(ctx, key)
		return utf8.RuneCount(v), v != nil, err
	})
}

// Has reports whether key exists.
func (s *Storage) Has(ctx context.Context, key string) outcome.Result[bool] {
	return track(s, notify.KindScalar, "has", func() (bool, error) {
		v, err := s.get(ctx, key)
		return v != nil, err
	})
}

// Keys returns every scalar key in lexical order.
func (s *Storage) Keys(ctx context.Context) outcome.Result[[]string] {
	return track(s, notify.KindScalar, "keys", func() ([]string, error) {
		entries, err := s.entries(ctx)
		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		return keys, err
	})
}

// Values returns every scalar value, ordered by key.
func (s *Storage) Values(ctx context.Context) outcome.Result[[]string] {
	return track(s, notify.KindScalar, "values", func() ([]string, error) {
		entries, err := s.entries(ctx)
		values := make([]string, len(entries))
		for i, e := range entries {
			values[i] = e.Value
		}
		return values, err
	})
}

// Entries returns every scalar key/value pair, ordered by key.
func (s *Storage) Entries(ctx context.Context) outcome.Result[[]Entry] {
	return track(s, notify.KindScalar, "entries", func() ([]Entry, error) {
		return s.entries(ctx)
	})
}

func (s *Storage) entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.db.view(ctx, "kv.scan", func(tx store.Tx) error {
		return tx.Scan(s.bucket(tableKV), nil, store.ScanOptions{}, func(k, v []byte) (bool, error) {
			key, _, err := store.SplitComposite(k)
			if err != nil {
				return false, err
			}
			out = append(out, Entry{Key: key, Value: string(v)})
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Composite keys sort by length first.
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Increase adds delta to the number stored under key and returns the new
// value. A missing key counts as 0; a non-numeric value fails with
// ErrTypeMismatch and is left unchanged. The read and the write happen in
// one transaction, so concurrent increases never lose an update.
func (s *Storage) Increase(ctx context.Context, key string, delta float64) outcome.Result[float64] {
	r := track(s, notify.KindScalar, "increase", func() (float64, error) {
		var next float64
		err := s.db.update(ctx, "kv.increase", func(tx store.Tx) error {
			b, k := s.bucket(tableKV), store.KeyPrefix(key)
			cur, err := tx.Get(b, k)
			if err != nil {
				return err
			}
			if next, err = addNumber(cur, delta); err != nil {
				return err
			}
			return tx.Put(b, k, []byte(FormatNumber(next)))
		})
		return next, err
	})
	if r.IsOk() {
		s.publish(notify.KindScalar, key)
	}
	return r
}

// Subscribe calls fn with the new value of key after every committed
// mutation. A deleted key is delivered as Ok(nil).
func (s *Storage) Subscribe(key string, fn func(outcome.Result[*string])) *notify.Subscription {
	return s.db.hub.Subscribe(s.topic(notify.KindScalar, key), func(notify.Event) {
		fn(outcome.Try(func() (*string, error) {
			v, err := s.get(context.Background(), key)
			if err != nil || v == nil {
				return nil, err
			}
			str := string(v)
			return &str, nil
		}))
	})
}

// Notify calls fn after every committed mutation of key.
func (s *Storage) Notify(key string, fn func()) *notify.Subscription {
	return s.db.hub.Subscribe(s.topic(notify.KindScalar, key), func(notify.Event) { fn() })
}
