package storage

import (
	"context"
	"math"

	"nestkv/internal/store"
)

// firstOrdinal is the ordinal of the first row of an empty sequence. It sits
// in the middle of the uint64 space so rows can be added at either end.
const firstOrdinal uint64 = 1 << 63

// sequence is the ordinal-keyed row set shared by List and Queue.
type sequence struct {
	s      *Storage
	table  string
	key    string
	prefix []byte
}

func newSequence(s *Storage, table, key string) sequence {
	return sequence{s: s, table: table, key: key, prefix: store.KeyPrefix(key)}
}

func (q sequence) bucket() []byte { return q.s.bucket(q.table) }

func (q sequence) op(name string) string { return q.table + "." + name }

// tailOrdinal returns the ordinal after the current last row.
func (q sequence) tailOrdinal(tx store.Tx) (uint64, error) {
	e, ok, err := store.Last(tx, q.bucket(), q.prefix)
	if err != nil || !ok {
		return firstOrdinal, err
	}
	n, err := store.Ordinal(e.Key)
	if err != nil {
		return 0, err
	}
	if n == math.MaxUint64 {
		return 0, errOrdinalsExhausted
	}
	return n + 1, nil
}

// headOrdinal returns the ordinal before the current first row.
func (q sequence) headOrdinal(tx store.Tx) (uint64, error) {
	e, ok, err := store.First(tx, q.bucket(), q.prefix)
	if err != nil || !ok {
		return firstOrdinal, err
	}
	n, err := store.Ordinal(e.Key)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errOrdinalsExhausted
	}
	return n - 1, nil
}

// pushBack adds values after the last row, in order.
func (q sequence) pushBack(ctx context.Context, values ...string) error {
	return q.s.db.update(ctx, q.op("push"), func(tx store.Tx) error {
		n, err := q.tailOrdinal(tx)
		if err != nil {
			return err
		}
		if len(values) > 0 && n > math.MaxUint64-uint64(len(values)-1) {
			return errOrdinalsExhausted
		}
		rows := make([]store.Entry, len(values))
		for i, v := range values {
			rows[i] = store.Entry{Key: store.OrdinalKey(q.key, n+uint64(i)), Value: []byte(v)}
		}
		return store.PutAll(tx, q.bucket(), rows)
	})
}

// pushFront adds value before the first row.
func (q sequence) pushFront(ctx context.Context, value string) error {
	return q.s.db.update(ctx, q.op("unshift"), func(tx store.Tx) error {
		n, err := q.headOrdinal(tx)
		if err != nil {
			return err
		}
		return tx.Put(q.bucket(), store.OrdinalKey(q.key, n), []byte(value))
	})
}

// take removes and returns the last (or first) row. It returns nil when the
// sequence is empty.
func (q sequence) take(ctx context.Context, last bool) (*string, error) {
	var out *string
	op := q.op("shift")
	if last {
		op = q.op("pop")
	}
	err := q.s.db.update(ctx, op, func(tx store.Tx) error {
		edge := store.First
		if last {
			edge = store.Last
		}
		e, ok, err := edge(tx, q.bucket(), q.prefix)
		if err != nil || !ok {
			return err
		}
		if err := tx.Delete(q.bucket(), e.Key); err != nil {
			return err
		}
		v := string(e.Value)
		out = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// at returns the key and value of the row at position i.
func (q sequence) at(tx store.Tx, i int) ([]byte, []byte, error) {
	if i < 0 {
		return nil, nil, ErrIndexOutOfRange
	}
	var key, value []byte
	pos := 0
	err := tx.Scan(q.bucket(), q.prefix, store.ScanOptions{Limit: i + 1}, func(k, v []byte) (bool, error) {
		if pos == i {
			key, value = append([]byte{}, k...), append([]byte{}, v...)
			return false, nil
		}
		pos++
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if key == nil {
		return nil, nil, ErrIndexOutOfRange
	}
	return key, value, nil
}

func (q sequence) get(ctx context.Context, i int) (string, error) {
	var out string
	err := q.s.db.view(ctx, q.op("get"), func(tx store.Tx) error {
		_, v, err := q.at(tx, i)
		out = string(v)
		return err
	})
	return out, err
}

func (q sequence) set(ctx context.Context, i int, value string) error {
	return q.s.db.update(ctx, q.op("set"), func(tx store.Tx) error {
		k, _, err := q.at(tx, i)
		if err != nil {
			return err
		}
		return tx.Put(q.bucket(), k, []byte(value))
	})
}

func (q sequence) length(ctx context.Context) (int, error) {
	var n int
	err := q.s.db.view(ctx, q.op("length"), func(tx store.Tx) error {
		var err error
		n, err = store.Count(tx, q.bucket(), q.prefix)
		return err
	})
	return n, err
}

func (q sequence) all(ctx context.Context) ([]string, error) {
	out := []string{}
	err := q.s.db.view(ctx, q.op("getAll"), func(tx store.Tx) error {
		return tx.Scan(q.bucket(), q.prefix, store.ScanOptions{}, func(_, v []byte) (bool, error) {
			out = append(out, string(v))
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q sequence) clear(ctx context.Context) (int, error) {
	var n int
	err := q.s.db.update(ctx, q.op("clear"), func(tx store.Tx) error {
		var err error
		n, err = tx.DeletePrefix(q.bucket(), q.prefix)
		return err
	})
	return n, err
}
