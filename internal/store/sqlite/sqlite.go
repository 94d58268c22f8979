// Package sqlite implements store.Store on a single SQLite table using the
// pure-Go modernc.org/sqlite driver. Keys are BLOBs, which SQLite compares
// with memcmp, so ORDER BY key matches the byte order of the other backends.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"nestkv/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	bucket BLOB NOT NULL,
	key    BLOB NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID`

// Store provides SQLite-backed bucket storage.
type Store struct {
	sqlDB *sql.DB
	// Writers are serialized in-process; _txlock=immediate covers other
	// processes sharing the file.
	writeMu sync.Mutex
}

// Open opens a SQLite store at path and creates the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, writable bool, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	raw, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &sqlTx{ctx: ctx, tx: raw, writable: writable}
	if err := fn(tx); err != nil {
		_ = raw.Rollback()
		return err
	}
	if !writable {
		return raw.Rollback()
	}
	if err := raw.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

func (t *sqlTx) Get(bucket, key []byte) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM entries WHERE bucket = ? AND key = ?`, bucket, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t *sqlTx) Put(bucket, key, value []byte) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO entries (bucket, key, value) VALUES (?, ?, ?)
ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value
`, bucket, key, value)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

func (t *sqlTx) Delete(bucket, key []byte) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM entries WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// rangeClause returns the WHERE fragment and args selecting keys under prefix.
func rangeClause(bucket, prefix []byte) (string, []any) {
	where := `bucket = ?`
	args := []any{bucket}
	if len(prefix) > 0 {
		where += ` AND key >= ?`
		args = append(args, prefix)
	}
	if end := store.PrefixEnd(prefix); end != nil {
		where += ` AND key < ?`
		args = append(args, end)
	}
	return where, args
}

func (t *sqlTx) Scan(bucket, prefix []byte, opts store.ScanOptions, fn func(key, value []byte) (bool, error)) error {
	where, args := rangeClause(bucket, prefix)
	q := `SELECT key, value FROM entries WHERE ` + where + ` ORDER BY key`
	if opts.Reverse {
		q += ` DESC`
	}
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	// Rows are buffered so fn may write through the same transaction.
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}
	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate entries: %w", err)
	}
	_ = rows.Close()

	for _, e := range entries {
		more, err := fn(e.Key, e.Value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *sqlTx) DeletePrefix(bucket, prefix []byte) (int, error) {
	if !t.writable {
		return 0, store.ErrReadOnly
	}
	where, args := rangeClause(bucket, prefix)
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM entries WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete prefix: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete prefix: %w", err)
	}
	return int(n), nil
}

func (t *sqlTx) DropBucket(bucket []byte) error {
	_, err := t.DeletePrefix(bucket, nil)
	return err
}

func (t *sqlTx) Buckets(prefix []byte, fn func(name []byte) error) error {
	q := `SELECT DISTINCT bucket FROM entries`
	var args []any
	if len(prefix) > 0 {
		q += ` WHERE bucket >= ?`
		args = append(args, prefix)
		if end := store.PrefixEnd(prefix); end != nil {
			q += ` AND bucket < ?`
			args = append(args, end)
		}
	}
	q += ` ORDER BY bucket`

	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	var names [][]byte
	for rows.Next() {
		var name []byte
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan bucket: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate buckets: %w", err)
	}
	_ = rows.Close()

	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}
