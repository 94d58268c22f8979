package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nestkv/internal/store"
	"nestkv/internal/store/bolt"
	"nestkv/internal/store/memory"
	"nestkv/internal/store/sqlite"
)

var backends = []struct {
	name string
	open func(t *testing.T) store.Store
}{
	{"memory", func(t *testing.T) store.Store { return memory.New() }},
	{"bolt", func(t *testing.T) store.Store {
		s, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		return s
	}},
	{"sqlite", func(t *testing.T) store.Store {
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"))
		require.NoError(t, err)
		return s
	}},
}

// eachBackend runs fn once per backend with a fresh DB.
func eachBackend(t *testing.T, fn func(t *testing.T, db *DB)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := New(b.open(t), Options{})
			t.Cleanup(func() { _ = db.Close() })
			fn(t, db)
		})
	}
}

// eachStorage runs fn with the default PRIVATE handle of a fresh DB.
func eachStorage(t *testing.T, fn func(t *testing.T, s *Storage)) {
	t.Helper()
	eachBackend(t, func(t *testing.T, db *DB) {
		s, err := db.Storage(Private)
		require.NoError(t, err)
		fn(t, s)
	})
}

func newMemoryStorage(t *testing.T) *Storage {
	t.Helper()
	db := New(memory.New(), Options{})
	t.Cleanup(func() { _ = db.Close() })
	s, err := db.Storage(Private)
	require.NoError(t, err)
	return s
}

var ctx = context.Background()

var errDiskGone = errors.New("disk gone")

// brokenStore fails every transaction.
type brokenStore struct{}

func (brokenStore) View(context.Context, func(store.Tx) error) error   { return errDiskGone }
func (brokenStore) Update(context.Context, func(store.Tx) error) error { return errDiskGone }
func (brokenStore) Close() error                                         { return nil }

func str(s string) *string { return &s }
