package memory

import (
	"context"
	"errors"
	"testing"

	"nestkv/internal/store"
	"nestkv/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestClosed(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	err := s.View(context.Background(), func(store.Tx) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("View after Close = %v, want ErrClosed", err)
	}
	err = s.Update(context.Background(), func(store.Tx) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Update after Close = %v, want ErrClosed", err)
	}
}

func TestRollbackRestoresDroppedBucket(t *testing.T) {
	s := New()
	ctx := context.Background()
	bucket := []byte("b")
	if err := s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(bucket, []byte("k"), []byte("v"))
	}); err != nil {
		t.Fatal(err)
	}

	errAbort := errors.New("abort")
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.DropBucket(bucket); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update = %v", err)
	}

	snap, err := store.Snapshot(ctx, s, bucket)
	if err != nil {
		t.Fatal(err)
	}
	if string(snap["k"]) != "v" {
		t.Fatalf("dropped bucket not restored: %v", snap)
	}
}
