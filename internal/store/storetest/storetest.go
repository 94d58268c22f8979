// Package storetest holds the conformance suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"nestkv/internal/store"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) store.Store

var testBucket = []byte("test-bucket")

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetNonexistent", testGetNonexistent},
		{"EmptyValue", testEmptyValue},
		{"Overwrite", testOverwrite},
		{"Delete", testDelete},
		{"ScanPrefixOrder", testScanPrefixOrder},
		{"ScanReverseAndLimit", testScanReverseAndLimit},
		{"ScanStopEarly", testScanStopEarly},
		{"FirstLastCount", testFirstLastCount},
		{"DeletePrefix", testDeletePrefix},
		{"DropBucket", testDropBucket},
		{"Buckets", testBuckets},
		{"UpdateRollback", testUpdateRollback},
		{"ReadOnlyView", testReadOnlyView},
		{"WriteDuringScan", testWriteDuringScan},
		{"SnapshotReturnsCopy", testSnapshotReturnsCopy},
		{"MultipleBuckets", testMultipleBuckets},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"CanceledContext", testCanceledContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func put(t *testing.T, s store.Store, bucket []byte, kv ...string) {
	t.Helper()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		for i := 0; i+1 < len(kv); i += 2 {
			if err := tx.Put(bucket, []byte(kv[i]), []byte(kv[i+1])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, s store.Store, bucket []byte, key string) []byte {
	t.Helper()
	var val []byte
	err := s.View(context.Background(), func(tx store.Tx) error {
		var err error
		val, err = tx.Get(bucket, []byte(key))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return val
}

func scanKeys(t *testing.T, s store.Store, bucket, prefix []byte, opts store.ScanOptions) []string {
	t.Helper()
	var keys []string
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.Scan(bucket, prefix, opts, func(k, _ []byte) (bool, error) {
			keys = append(keys, string(k))
			return true, nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testSetAndGet(t *testing.T, s store.Store) {
	put(t, s, testBucket, "key1", "val1")
	if got := get(t, s, testBucket, "key1"); string(got) != "val1" {
		t.Fatalf("expected val1, got %q", got)
	}
}

func testGetNonexistent(t *testing.T, s store.Store) {
	if val := get(t, s, []byte("no-bucket"), "key"); val != nil {
		t.Fatalf("expected nil for nonexistent bucket, got %q", val)
	}
	put(t, s, testBucket, "other", "val")
	if val := get(t, s, testBucket, "missing"); val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func testEmptyValue(t *testing.T, s store.Store) {
	put(t, s, testBucket, "empty", "")
	val := get(t, s, testBucket, "empty")
	if val == nil {
		t.Fatal("empty value should be distinguishable from a missing key")
	}
	if len(val) != 0 {
		t.Fatalf("expected empty value, got %q", val)
	}
}

func testOverwrite(t *testing.T, s store.Store) {
	put(t, s, testBucket, "k", "v1")
	put(t, s, testBucket, "k", "v2")
	if got := get(t, s, testBucket, "k"); string(got) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q", got)
	}
}

func testDelete(t *testing.T, s store.Store) {
	put(t, s, testBucket, "k", "v")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.Delete(testBucket, []byte("k")); err != nil {
			return err
		}
		// Deleting missing keys and buckets is not an error.
		if err := tx.Delete(testBucket, []byte("missing")); err != nil {
			return err
		}
		return tx.Delete([]byte("no-bucket"), []byte("k"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if val := get(t, s, testBucket, "k"); val != nil {
		t.Fatalf("expected nil after delete, got %q", val)
	}
}

func testScanPrefixOrder(t *testing.T, s store.Store) {
	put(t, s, testBucket, "b/2", "x", "a/1", "x", "b/1", "x", "b/10", "x", "c", "x")
	got := scanKeys(t, s, testBucket, []byte("b/"), store.ScanOptions{})
	want := []string{"b/1", "b/10", "b/2"}
	if !equal(got, want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}
	all := scanKeys(t, s, testBucket, nil, store.ScanOptions{})
	if len(all) != 5 || all[0] != "a/1" || all[4] != "c" {
		t.Fatalf("full scan = %v", all)
	}
	if none := scanKeys(t, s, []byte("no-bucket"), nil, store.ScanOptions{}); len(none) != 0 {
		t.Fatalf("scan of missing bucket = %v", none)
	}
}

func testScanReverseAndLimit(t *testing.T, s store.Store) {
	put(t, s, testBucket, "a", "x", "p1", "x", "p2", "x", "p3", "x", "q", "x")
	got := scanKeys(t, s, testBucket, []byte("p"), store.ScanOptions{Reverse: true})
	if want := []string{"p3", "p2", "p1"}; !equal(got, want) {
		t.Fatalf("reverse scan = %v, want %v", got, want)
	}
	got = scanKeys(t, s, testBucket, []byte("p"), store.ScanOptions{Limit: 2})
	if want := []string{"p1", "p2"}; !equal(got, want) {
		t.Fatalf("limited scan = %v, want %v", got, want)
	}
	got = scanKeys(t, s, testBucket, nil, store.ScanOptions{Reverse: true, Limit: 1})
	if want := []string{"q"}; !equal(got, want) {
		t.Fatalf("reverse limited scan = %v, want %v", got, want)
	}
	// Greatest prefix in the bucket: reverse seek falls off the end.
	got = scanKeys(t, s, testBucket, []byte("q"), store.ScanOptions{Reverse: true})
	if want := []string{"q"}; !equal(got, want) {
		t.Fatalf("reverse scan at end = %v, want %v", got, want)
	}
}

func testScanStopEarly(t *testing.T, s store.Store) {
	put(t, s, testBucket, "a", "1", "b", "2", "c", "3")
	n := 0
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.Scan(testBucket, nil, store.ScanOptions{}, func(_, _ []byte) (bool, error) {
			n++
			return n < 2, nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("visited %d entries, want 2", n)
	}

	errStop := errors.New("stop")
	err = s.View(context.Background(), func(tx store.Tx) error {
		return tx.Scan(testBucket, nil, store.ScanOptions{}, func(_, _ []byte) (bool, error) {
			return true, errStop
		})
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("scan error = %v, want errStop", err)
	}
}

func testFirstLastCount(t *testing.T, s store.Store) {
	put(t, s, testBucket, "k1", "one", "k2", "two", "k3", "three", "z", "other")
	err := s.View(context.Background(), func(tx store.Tx) error {
		first, ok, err := store.First(tx, testBucket, []byte("k"))
		if err != nil || !ok || string(first.Value) != "one" {
			return fmt.Errorf("First = %q %v %v", first.Value, ok, err)
		}
		last, ok, err := store.Last(tx, testBucket, []byte("k"))
		if err != nil || !ok || string(last.Value) != "three" {
			return fmt.Errorf("Last = %q %v %v", last.Value, ok, err)
		}
		n, err := store.Count(tx, testBucket, []byte("k"))
		if err != nil || n != 3 {
			return fmt.Errorf("Count = %d %v", n, err)
		}
		_, ok, err = store.First(tx, testBucket, []byte("missing"))
		if err != nil || ok {
			return fmt.Errorf("First on empty range = %v %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testDeletePrefix(t *testing.T, s store.Store) {
	put(t, s, testBucket, "a1", "x", "a2", "x", "b1", "x")
	var n int
	err := s.Update(context.Background(), func(tx store.Tx) error {
		var err error
		n, err = tx.DeletePrefix(testBucket, []byte("a"))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("DeletePrefix removed %d, want 2", n)
	}
	if got := scanKeys(t, s, testBucket, nil, store.ScanOptions{}); !equal(got, []string{"b1"}) {
		t.Fatalf("remaining keys = %v", got)
	}
}

func testDropBucket(t *testing.T, s store.Store) {
	put(t, s, testBucket, "a", "x")
	put(t, s, []byte("keep"), "a", "y")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.DropBucket(testBucket); err != nil {
			return err
		}
		return tx.DropBucket([]byte("no-bucket"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if val := get(t, s, testBucket, "a"); val != nil {
		t.Fatalf("dropped bucket still has %q", val)
	}
	if val := get(t, s, []byte("keep"), "a"); string(val) != "y" {
		t.Fatalf("sibling bucket lost data: %q", val)
	}
}

func testBuckets(t *testing.T, s store.Store) {
	put(t, s, []byte("p/a"), "k", "v")
	put(t, s, []byte("p/b"), "k", "v")
	put(t, s, []byte("q/a"), "k", "v")
	var names []string
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.Buckets([]byte("p/"), func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"p/a", "p/b"}; !equal(names, want) {
		t.Fatalf("Buckets = %v, want %v", names, want)
	}
}

func testUpdateRollback(t *testing.T, s store.Store) {
	put(t, s, testBucket, "keep", "original")
	errAbort := errors.New("abort")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.Put(testBucket, []byte("keep"), []byte("changed")); err != nil {
			return err
		}
		if err := tx.Put(testBucket, []byte("new"), []byte("v")); err != nil {
			return err
		}
		if _, err := tx.DeletePrefix(testBucket, nil); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update error = %v, want errAbort", err)
	}
	if val := get(t, s, testBucket, "keep"); string(val) != "original" {
		t.Fatalf("rolled back value = %q, want original", val)
	}
	if val := get(t, s, testBucket, "new"); val != nil {
		t.Fatalf("rolled back insert still visible: %q", val)
	}
}

func testReadOnlyView(t *testing.T, s store.Store) {
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.Put(testBucket, []byte("k"), []byte("v"))
	})
	if err == nil {
		t.Fatal("Put inside View should fail")
	}
}

func testWriteDuringScan(t *testing.T, s store.Store) {
	put(t, s, testBucket, "a", "1", "b", "2", "c", "3")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.Scan(testBucket, nil, store.ScanOptions{}, func(k, v []byte) (bool, error) {
			if string(k) == "b" {
				return false, tx.Delete(testBucket, k)
			}
			return true, nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := scanKeys(t, s, testBucket, nil, store.ScanOptions{}); !equal(got, []string{"a", "c"}) {
		t.Fatalf("keys after delete during scan = %v", got)
	}
}

func testSnapshotReturnsCopy(t *testing.T, s store.Store) {
	put(t, s, testBucket, "k", "original")
	snap, err := store.Snapshot(context.Background(), s, testBucket)
	if err != nil {
		t.Fatal(err)
	}
	// Mutating the snapshot should not affect the store
	snap["k"][0] = 'X'
	if val := get(t, s, testBucket, "k"); string(val) != "original" {
		t.Fatal("snapshot mutation should not affect store")
	}
}

func testMultipleBuckets(t *testing.T, s store.Store) {
	b1 := []byte("bucket1")
	b2 := []byte("bucket2")
	put(t, s, b1, "k", "v1")
	put(t, s, b2, "k", "v2")
	if string(get(t, s, b1, "k")) != "v1" || string(get(t, s, b2, "k")) != "v2" {
		t.Fatal("buckets should be isolated")
	}
}

// testConcurrentUpdates checks that read-modify-write inside Update is
// serialized: no increment may be lost.
func testConcurrentUpdates(t *testing.T, s store.Store) {
	const workers, rounds = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				err := s.Update(context.Background(), func(tx store.Tx) error {
					v, err := tx.Get(testBucket, []byte("counter"))
					if err != nil {
						return err
					}
					n := len(v)
					return tx.Put(testBucket, []byte("counter"), make([]byte, n+1))
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if got := len(get(t, s, testBucket, "counter")); got != workers*rounds {
		t.Fatalf("counter = %d, want %d", got, workers*rounds)
	}
}

func testCanceledContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(testBucket, []byte("k"), []byte("v"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Update with canceled ctx = %v, want context.Canceled", err)
	}
}
