package store

import (
	"context"
	"errors"
)

// Store is an abstract ordered key-value storage interface backed by buckets.
// Keys inside a bucket are kept in byte order, so a bucket doubles as a
// range-scannable table. Implementations exist for bbolt, SQLite and memory;
// the interface allows swapping them without touching the collection layer.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a read-write transaction. Writers are serialized and
	// the transaction is all-or-nothing: if fn returns an error nothing it
	// wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is a transaction over the store. Byte slices handed to Scan callbacks
// are only valid until the callback returns; Get returns a copy.
type Tx interface {
	// Get returns the value for key, or nil if it is absent.
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	// Scan visits every key that starts with prefix in byte order (reverse
	// order if opts.Reverse). Returning false from fn stops the scan.
	Scan(bucket, prefix []byte, opts ScanOptions, fn func(key, value []byte) (bool, error)) error
	// DeletePrefix removes every key that starts with prefix and returns how
	// many were removed.
	DeletePrefix(bucket, prefix []byte) (int, error)
	// DropBucket removes a bucket and everything in it.
	DropBucket(bucket []byte) error
	// Buckets visits the names of all buckets starting with prefix.
	Buckets(prefix []byte, fn func(name []byte) error) error
}

// ScanOptions controls a range scan.
type ScanOptions struct {
	Reverse bool
	Limit   int // 0 means unlimited
}

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("write in read-only transaction")

// Entry is a key/value pair copied out of a transaction.
type Entry struct {
	Key   []byte
	Value []byte
}

// First returns the entry with the smallest key under prefix.
func First(tx Tx, bucket, prefix []byte) (Entry, bool, error) {
	return edge(tx, bucket, prefix, false)
}

// Last returns the entry with the greatest key under prefix.
func Last(tx Tx, bucket, prefix []byte) (Entry, bool, error) {
	return edge(tx, bucket, prefix, true)
}

func edge(tx Tx, bucket, prefix []byte, reverse bool) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	err := tx.Scan(bucket, prefix, ScanOptions{Reverse: reverse, Limit: 1}, func(k, v []byte) (bool, error) {
		e = Entry{Key: clone(k), Value: clone(v)}
		found = true
		return false, nil
	})
	return e, found, err
}

// Count returns the number of keys under prefix.
func Count(tx Tx, bucket, prefix []byte) (int, error) {
	n := 0
	err := tx.Scan(bucket, prefix, ScanOptions{}, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// Collect copies every entry under prefix in key order.
func Collect(tx Tx, bucket, prefix []byte) ([]Entry, error) {
	var out []Entry
	err := tx.Scan(bucket, prefix, ScanOptions{}, func(k, v []byte) (bool, error) {
		out = append(out, Entry{Key: clone(k), Value: clone(v)})
		return true, nil
	})
	return out, err
}

// PutAll writes all entries in order.
func PutAll(tx Tx, bucket []byte, entries []Entry) error {
	for _, e := range entries {
		if err := tx.Put(bucket, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of every entry in a bucket keyed by string(key).
func Snapshot(ctx context.Context, s Store, bucket []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.View(ctx, func(tx Tx) error {
		return tx.Scan(bucket, nil, ScanOptions{}, func(k, v []byte) (bool, error) {
			result[string(k)] = clone(v)
			return true, nil
		})
	})
	return result, err
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none (prefix is empty or all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
