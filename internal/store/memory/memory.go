// Package memory implements store.Store in process memory. It is the test
// double for the collection layer and backs the "memory" backend of the CLI.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"nestkv/internal/store"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Store keeps buckets as maps guarded by a sync.RWMutex. Update holds the
// write lock for the whole transaction and rolls back from an undo log when
// fn fails, so readers never observe a partial write.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&memTx{s: s})
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tx := &memTx{s: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// undo records the state of one key before the transaction touched it.
type undo struct {
	bucket  string
	key     string
	value   []byte
	existed bool
}

type memTx struct {
	s        *Store
	writable bool
	log      []undo
}

func (t *memTx) Get(bucket, key []byte) ([]byte, error) {
	v, ok := t.s.buckets[string(bucket)][string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (t *memTx) record(bucket, key string) {
	old, existed := t.s.buckets[bucket][key]
	t.log = append(t.log, undo{bucket: bucket, key: key, value: old, existed: existed})
}

func (t *memTx) Put(bucket, key, value []byte) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	b, k := string(bucket), string(key)
	t.record(b, k)
	m := t.s.buckets[b]
	if m == nil {
		m = make(map[string][]byte)
		t.s.buckets[b] = m
	}
	m[k] = append([]byte{}, value...)
	return nil
}

func (t *memTx) Delete(bucket, key []byte) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	b, k := string(bucket), string(key)
	if _, ok := t.s.buckets[b][k]; !ok {
		return nil
	}
	t.record(b, k)
	delete(t.s.buckets[b], k)
	return nil
}

// sortedKeys returns the keys of bucket that start with prefix, in order.
func (t *memTx) sortedKeys(bucket, prefix []byte) []string {
	m := t.s.buckets[string(bucket)]
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (t *memTx) Scan(bucket, prefix []byte, opts store.ScanOptions, fn func(key, value []byte) (bool, error)) error {
	keys := t.sortedKeys(bucket, prefix)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	m := t.s.buckets[string(bucket)]
	seen := 0
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue // deleted by fn during the scan
		}
		if opts.Limit > 0 && seen >= opts.Limit {
			return nil
		}
		seen++
		more, err := fn([]byte(k), v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *memTx) DeletePrefix(bucket, prefix []byte) (int, error) {
	if !t.writable {
		return 0, store.ErrReadOnly
	}
	keys := t.sortedKeys(bucket, prefix)
	for _, k := range keys {
		if err := t.Delete(bucket, []byte(k)); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (t *memTx) DropBucket(bucket []byte) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	_, err := t.DeletePrefix(bucket, nil)
	if err != nil {
		return err
	}
	delete(t.s.buckets, string(bucket))
	return nil
}

func (t *memTx) Buckets(prefix []byte, fn func(name []byte) error) error {
	names := make([]string, 0, len(t.s.buckets))
	for name, m := range t.s.buckets {
		if len(m) > 0 && bytes.HasPrefix([]byte(name), prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := fn([]byte(name)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) rollback() {
	for i := len(t.log) - 1; i >= 0; i-- {
		u := t.log[i]
		if !u.existed {
			delete(t.s.buckets[u.bucket], u.key)
			continue
		}
		m := t.s.buckets[u.bucket]
		if m == nil {
			m = make(map[string][]byte)
			t.s.buckets[u.bucket] = m
		}
		m[u.key] = u.value
	}
}
