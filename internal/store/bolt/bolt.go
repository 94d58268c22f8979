package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"nestkv/internal/store"
)

// Store implements store.Store using bbolt (embedded B+ tree). Buckets are
// flat top-level bbolt buckets; nested buckets are never created.
// bbolt allows a single writer at a time, which makes every Update a
// serializable transaction.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Get(bucket, key []byte) ([]byte, error) {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil, nil
	}
	// Seek rather than Get so an empty value is not mistaken for a miss.
	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, nil
	}
	val := make([]byte, len(v))
	copy(val, v)
	return val, nil
}

func (t *boltTx) Put(bucket, key, value []byte) error {
	if !t.tx.Writable() {
		return store.ErrReadOnly
	}
	b, err := t.tx.CreateBucketIfNotExists(bucket)
	if err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	// bbolt treats a nil value as a missing key.
	if value == nil {
		value = []byte{}
	}
	return b.Put(key, value)
}

func (t *boltTx) Delete(bucket, key []byte) error {
	if !t.tx.Writable() {
		return store.ErrReadOnly
	}
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (t *boltTx) Scan(bucket, prefix []byte, opts store.ScanOptions, fn func(key, value []byte) (bool, error)) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	c := b.Cursor()

	var k, v []byte
	next := c.Next
	if opts.Reverse {
		k, v = seekLast(c, prefix)
		next = c.Prev
	} else {
		k, v = c.Seek(prefix)
	}

	seen := 0
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = next() {
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		seen++
		if !more || (opts.Limit > 0 && seen >= opts.Limit) {
			return nil
		}
	}
	return nil
}

// seekLast positions c on the greatest key starting with prefix, or on
// whatever precedes it if there is none (the caller checks the prefix).
func seekLast(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	end := store.PrefixEnd(prefix)
	if end == nil {
		return c.Last()
	}
	k, _ := c.Seek(end)
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

func (t *boltTx) DeletePrefix(bucket, prefix []byte) (int, error) {
	if !t.tx.Writable() {
		return 0, store.ErrReadOnly
	}
	b := t.tx.Bucket(bucket)
	if b == nil {
		return 0, nil
	}
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (t *boltTx) DropBucket(bucket []byte) error {
	if !t.tx.Writable() {
		return store.ErrReadOnly
	}
	if t.tx.Bucket(bucket) == nil {
		return nil
	}
	return t.tx.DeleteBucket(bucket)
}

func (t *boltTx) Buckets(prefix []byte, fn func(name []byte) error) error {
	c := t.tx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := fn(append([]byte(nil), k...)); err != nil {
			return err
		}
	}
	return nil
}
