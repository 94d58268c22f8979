// Package snapshot streams the contents of a store to and from a portable
// byte format.
//
// A snapshot is a sequence of length-delimited protobuf messages. The first
// message is a header; every following message is one row:
//
//	message Header { string magic = 15; uint32 version = 14; }
//	message Record { bytes bucket = 1; bytes key = 2; bytes value = 3; }
//
// The format does not depend on the backend, so a bolt database can be
// exported and imported into SQLite and back.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"nestkv/internal/logging"
	"nestkv/internal/store"
)

const (
	magic   = "nestkv-snapshot"
	version = 1

	// MaxRecordSize bounds a single decoded message.
	MaxRecordSize = 64 << 20
)

// Field numbers.
const (
	fieldBucket  protowire.Number = 1
	fieldKey     protowire.Number = 2
	fieldValue   protowire.Number = 3
	fieldVersion protowire.Number = 14
	fieldMagic   protowire.Number = 15
)

var (
	ErrBadHeader      = errors.New("not a nestkv snapshot")
	ErrRecordTooLarge = errors.New("snapshot record too large")
)

var logger = logging.For("snapshot")

// Record is one row of a snapshot.
type Record struct {
	Bucket []byte
	Key    []byte
	Value  []byte
}

// MarshalRecord encodes r without the length prefix.
func MarshalRecord(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldBucket, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Bucket)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Key)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Value)
	return b
}

// UnmarshalRecord decodes a message produced by MarshalRecord. Unknown
// fields are skipped.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType || num < fieldBucket || num > fieldValue {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]
		v = append([]byte{}, v...)
		switch num {
		case fieldBucket:
			r.Bucket = v
		case fieldKey:
			r.Key = v
		case fieldValue:
			r.Value = v
		}
	}
	if len(r.Bucket) == 0 || len(r.Key) == 0 {
		return Record{}, errors.New("snapshot record missing bucket or key")
	}
	return r, nil
}

func marshalHeader() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, version)
	b = protowire.AppendTag(b, fieldMagic, protowire.BytesType)
	b = protowire.AppendString(b, magic)
	return b
}

func checkHeader(b []byte) error {
	var (
		gotMagic   string
		gotVersion uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrBadHeader
		}
		b = b[n:]
		switch {
		case num == fieldMagic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ErrBadHeader
			}
			gotMagic, b = v, b[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ErrBadHeader
			}
			gotVersion, b = v, b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrBadHeader
			}
			b = b[n:]
		}
	}
	if gotMagic != magic {
		return ErrBadHeader
	}
	if gotVersion != version {
		return fmt.Errorf("unsupported snapshot version %d", gotVersion)
	}
	return nil
}

// Writer writes length-delimited messages.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

// NewWriter writes the snapshot header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	sw := &Writer{w: bufio.NewWriter(w)}
	if err := sw.writeMessage(marshalHeader()); err != nil {
		return nil, err
	}
	return sw, nil
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	return w.writeMessage(MarshalRecord(r))
}

func (w *Writer) writeMessage(msg []byte) error {
	w.buf = protowire.AppendVarint(w.buf[:0], uint64(len(msg)))
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	_, err := w.w.Write(msg)
	return err
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads records written by Writer.
type Reader struct {
	r *bufio.Reader
}

// NewReader reads and checks the snapshot header.
func NewReader(r io.Reader) (*Reader, error) {
	sr := &Reader{r: bufio.NewReader(r)}
	msg, err := sr.readMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadHeader
		}
		return nil, err
	}
	if err := checkHeader(msg); err != nil {
		return nil, err
	}
	return sr, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	msg, err := r.readMessage()
	if err != nil {
		return Record{}, err
	}
	return UnmarshalRecord(msg)
}

func (r *Reader) readMessage() ([]byte, error) {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, err
	}
	if size > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r.r, msg); err != nil {
		return nil, fmt.Errorf("truncated snapshot: %w", err)
	}
	return msg, nil
}

// Export writes every row of every bucket whose name starts with prefix
// (all buckets when prefix is empty) and returns the number of rows written.
// The rows come from a single read transaction.
func Export(ctx context.Context, s store.Store, w io.Writer, prefix []byte) (int, error) {
	sw, err := NewWriter(w)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.View(ctx, func(tx store.Tx) error {
		var buckets [][]byte
		if err := tx.Buckets(prefix, func(name []byte) error {
			buckets = append(buckets, append([]byte{}, name...))
			return nil
		}); err != nil {
			return err
		}
		for _, b := range buckets {
			err := tx.Scan(b, nil, store.ScanOptions{}, func(k, v []byte) (bool, error) {
				if err := sw.Write(Record{Bucket: b, Key: k, Value: v}); err != nil {
					return false, err
				}
				n++
				return true, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := sw.Flush(); err != nil {
		return 0, err
	}
	logger.Info("exported snapshot", "rows", n)
	return n, nil
}

// Import writes every record of the snapshot in r into s inside a single
// write transaction, overwriting rows with the same bucket and key. Nothing
// is written if the snapshot is malformed.
func Import(ctx context.Context, s store.Store, r io.Reader) (int, error) {
	sr, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.Update(ctx, func(tx store.Tx) error {
		for {
			rec, err := sr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("record %d: %w", n+1, err)
			}
			if err := tx.Put(rec.Bucket, rec.Key, rec.Value); err != nil {
				return err
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	logger.Info("imported snapshot", "rows", n)
	return n, nil
}
