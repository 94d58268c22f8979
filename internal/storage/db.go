package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"nestkv/internal/logging"
	"nestkv/internal/metrics"
	"nestkv/internal/notify"
	"nestkv/internal/outcome"
	"nestkv/internal/snapshot"
	"nestkv/internal/store"
)

var logger = logging.For("storage")

// Options configures a DB. Zero values are valid.
type Options struct {
	// Metrics receives per-operation counters. Nil disables metrics.
	Metrics *metrics.Metrics
	// Hub delivers change notifications. A private hub is created when nil.
	Hub *notify.Hub
}

// DB is the entry point of the storage layer. It is safe for concurrent use.
type DB struct {
	store   store.Store
	hub     *notify.Hub
	metrics *metrics.Metrics
}

// New wraps an open backend. The DB takes ownership of s and closes it in
// Close.
func New(s store.Store, opts Options) *DB {
	hub := opts.Hub
	if hub == nil {
		hub = notify.New()
	}
	return &DB{store: s, hub: hub, metrics: opts.Metrics}
}

// Storage returns the handle for a visibility class and namespace path. An
// empty path means the single segment DefaultNamespace.
func (db *DB) Storage(vis Visibility, path ...string) (*Storage, error) {
	if !vis.Valid() {
		return nil, ErrInvalidVisibility
	}
	if len(path) == 0 {
		path = []string{DefaultNamespace}
	}
	return newStorage(db, vis, append([]string(nil), path...)), nil
}

// Hub returns the notification hub shared by every handle of db.
func (db *DB) Hub() *notify.Hub {
	return db.hub
}

// Close closes the backing store.
func (db *DB) Close() error {
	return db.store.Close()
}

// Export writes every row of every partition to w.
func (db *DB) Export(ctx context.Context, w io.Writer) (int, error) {
	n, err := snapshot.Export(ctx, db.store, w, nil)
	return n, classify("export", err)
}

// Import loads a snapshot written by Export, overwriting rows that already
// exist. Subscribers of every watched key are notified afterwards.
func (db *DB) Import(ctx context.Context, r io.Reader) (int, error) {
	n, err := snapshot.Import(ctx, db.store, r)
	if err != nil {
		return 0, err
	}
	db.hub.PublishAll()
	return n, nil
}

func (db *DB) view(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	return classify(op, db.store.View(ctx, fn))
}

func (db *DB) update(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	return classify(op, db.store.Update(ctx, fn))
}

// track runs fn, records metrics and logs backend failures.
func track[T any](s *Storage, kind notify.Kind, op string, fn func() (T, error)) outcome.Result[T] {
	start := time.Now()
	return observe(s, kind, op, start, outcome.Try(fn))
}

// trackFound is track for lookups: a missing value becomes Err(notFound).
func trackFound[T any](s *Storage, kind notify.Kind, op string, notFound error, fn func() (T, bool, error)) outcome.Result[T] {
	start := time.Now()
	return observe(s, kind, op, start, outcome.TryFound(fn, notFound))
}

func observe[T any](s *Storage, kind notify.Kind, op string, start time.Time, r outcome.Result[T]) outcome.Result[T] {
	_, err := r.Value()
	s.db.metrics.Observe(string(kind), op, metrics.Result(err, ErrNotFound), time.Since(start))
	if errors.Is(err, ErrBackend) {
		s.logger.Warn("backend failure", "op", string(kind)+"."+op, "err", err)
	} else {
		s.logger.Debug("op", "op", string(kind)+"."+op, "ok", err == nil)
	}
	return r
}
