package storage

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestkv/internal/logging"
	"nestkv/internal/metrics"
	"nestkv/internal/outcome"
	"nestkv/internal/store/memory"
)

func TestParseVisibility(t *testing.T) {
	tests := []struct {
		in      string
		want    Visibility
		wantErr bool
	}{
		{"USER", User, false},
		{"worksheet", Worksheet, false},
		{" Private ", Private, false},
		{"component", Component, false},
		{"PUBLIC", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVisibility(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVisibility)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStorageRejectsInvalidVisibility(t *testing.T) {
	db := New(memory.New(), Options{})
	defer db.Close()
	_, err := db.Storage(Visibility("nobody"))
	assert.ErrorIs(t, err, ErrInvalidVisibility)
}

func TestPartitionNames(t *testing.T) {
	db := New(memory.New(), Options{})
	defer db.Close()

	root, err := db.Storage(Worksheet)
	require.NoError(t, err)
	assert.Equal(t, "WORKSHEET/default", root.Partition())
	assert.Equal(t, []string{"default"}, root.Path())
	assert.Equal(t, Worksheet, root.Visibility())

	child := root.Namespace("sheet/1").Namespace("cell")
	assert.Equal(t, "WORKSHEET/default/sheet%2F1/cell", child.Partition())
	assert.Equal(t, []string{"default", "sheet/1", "cell"}, child.Path())
	assert.Equal(t, Worksheet, child.Visibility(), "namespace keeps visibility")
	assert.Equal(t, root.Namespace("sheet/1").Partition(), child.Parent().Partition())
	assert.Same(t, root, root.Parent())

	// A slash inside a segment must not alias two segments.
	assert.NotEqual(t, root.Namespace("a/b").Partition(), root.Namespace("a").Namespace("b").Partition())
}

func TestNamespaceDoesNotAliasParentPath(t *testing.T) {
	db := New(memory.New(), Options{})
	defer db.Close()
	root, err := db.Storage(Private, "x")
	require.NoError(t, err)

	a := root.Namespace("a")
	b := root.Namespace("b")
	assert.Equal(t, []string{"x", "a"}, a.Path())
	assert.Equal(t, []string{"x", "b"}, b.Path())
}

func TestScalarGetSet(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		require.True(t, s.Set(ctx, "name", "nest").IsOk())
		assert.Equal(t, "nest", s.Get(ctx, "name").Unwrap())

		require.True(t, s.Set(ctx, "name", "kv").IsOk())
		assert.Equal(t, "kv", s.Get(ctx, "name").Unwrap())

		r := s.Get(ctx, "missing")
		require.True(t, r.IsErr())
		assert.ErrorIs(t, r.UnwrapErr(), ErrNotFound)
	})
}

func TestScalarEmptyKeyAndValue(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		require.True(t, s.Set(ctx, "", "").IsOk())
		assert.Equal(t, "", s.Get(ctx, "").Unwrap())
		assert.True(t, s.Has(ctx, "").Unwrap())
		assert.Equal(t, 0, s.Length(ctx, "").Unwrap())
	})
}

func TestScalarRemoveHas(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.Set(ctx, "k", "v").Unwrap()
		assert.True(t, s.Has(ctx, "k").Unwrap())

		require.True(t, s.Remove(ctx, "k").IsOk())
		assert.False(t, s.Has(ctx, "k").Unwrap())
		assert.True(t, s.Remove(ctx, "k").IsOk(), "removing a missing key succeeds")
	})
}

func TestScalarLength(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.Set(ctx, "ascii", "hello").Unwrap()
		s.Set(ctx, "utf8", "héllo").Unwrap()
		assert.Equal(t, 5, s.Length(ctx, "ascii").Unwrap())
		assert.Equal(t, 5, s.Length(ctx, "utf8").Unwrap())
		assert.ErrorIs(t, s.Length(ctx, "missing").UnwrapErr(), ErrNotFound)
	})
}

func TestScalarKeysValuesEntries(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		assert.Empty(t, s.Keys(ctx).Unwrap())

		s.Set(ctx, "bb", "2").Unwrap()
		s.Set(ctx, "a", "1").Unwrap()
		s.Set(ctx, "c", "3").Unwrap()

		assert.Equal(t, []string{"a", "bb", "c"}, s.Keys(ctx).Unwrap())
		assert.Equal(t, []string{"1", "2", "3"}, s.Values(ctx).Unwrap())
		assert.Equal(t, []Entry{{"a", "1"}, {"bb", "2"}, {"c", "3"}}, s.Entries(ctx).Unwrap())
	})
}

func TestScalarIncrease(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		assert.Equal(t, 5.0, s.Increase(ctx, "c", 5).Unwrap(), "missing key starts at 0")
		assert.Equal(t, 10.0, s.Increase(ctx, "c", 5).Unwrap())
		assert.Equal(t, "10", s.Get(ctx, "c").Unwrap())

		assert.Equal(t, 9.5, s.Increase(ctx, "c", -0.5).Unwrap())
		assert.Equal(t, "9.5", s.Get(ctx, "c").Unwrap())
	})
}

func TestScalarIncreaseTypeMismatch(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.Set(ctx, "word", "hello").Unwrap()
		r := s.Increase(ctx, "word", 1)
		require.True(t, r.IsErr())
		assert.ErrorIs(t, r.UnwrapErr(), ErrTypeMismatch)
		assert.Equal(t, "hello", s.Get(ctx, "word").Unwrap(), "failed increase leaves value unchanged")

		s.Set(ctx, "blank", "").Unwrap()
		assert.ErrorIs(t, s.Increase(ctx, "blank", 1).UnwrapErr(), ErrTypeMismatch)
	})
}

func TestScalarIncreaseConcurrent(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		const workers, perWorker = 8, 25
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					if r := s.Increase(ctx, "hits", 1); r.IsErr() {
						t.Errorf("Increase: %v", r.UnwrapErr())
						return
					}
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, "200", s.Get(ctx, "hits").Unwrap())
	})
}

func TestNamespaceIsolation(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		a := s.Namespace("a")
		b := s.Namespace("b")

		a.Set(ctx, "k", "in-a").Unwrap()
		a.ListOf("l").Push(ctx, "x").Unwrap()
		a.SetOf("s").Add(ctx, "x").Unwrap()
		a.HashOf("h").Set(ctx, "f", "x").Unwrap()
		a.QueueOf("q").Enqueue(ctx, "x").Unwrap()

		for _, other := range []*Storage{b, s, a.Namespace("child")} {
			assert.False(t, other.Has(ctx, "k").Unwrap(), other.Partition())
			assert.Equal(t, 0, other.ListOf("l").Length(ctx).Unwrap())
			assert.Equal(t, 0, other.SetOf("s").Length(ctx).Unwrap())
			assert.False(t, other.HashOf("h").Has(ctx, "f").Unwrap())
			assert.Equal(t, 0, other.QueueOf("q").Length(ctx).Unwrap())
		}
	})
}

func TestVisibilityIsolation(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		user, err := db.Storage(User, "ns")
		require.NoError(t, err)
		comp, err := db.Storage(Component, "ns")
		require.NoError(t, err)

		user.Set(ctx, "k", "user").Unwrap()
		assert.False(t, comp.Has(ctx, "k").Unwrap())
	})
}

func TestHandlesShareData(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		s1, err := db.Storage(Private, "shared")
		require.NoError(t, err)
		s2, err := db.Storage(Private, "shared")
		require.NoError(t, err)

		s1.Set(ctx, "k", "v").Unwrap()
		assert.Equal(t, "v", s2.Get(ctx, "k").Unwrap())
	})
}

func TestClearOnlyTouchesScalars(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.Set(ctx, "k", "v").Unwrap()
		s.ListOf("l").Push(ctx, "x").Unwrap()
		s.Namespace("child").Set(ctx, "k", "v").Unwrap()

		require.True(t, s.Clear(ctx).IsOk())
		require.True(t, s.Clear(ctx).IsOk(), "clear is idempotent")

		assert.Empty(t, s.Keys(ctx).Unwrap())
		assert.Equal(t, 1, s.ListOf("l").Length(ctx).Unwrap())
		assert.True(t, s.Namespace("child").Has(ctx, "k").Unwrap())
	})
}

func TestDrop(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.Set(ctx, "k", "v").Unwrap()
		s.ListOf("l").Push(ctx, "x").Unwrap()
		s.HashOf("h").Set(ctx, "f", "v").Unwrap()
		s.Namespace("child").Set(ctx, "k", "kept").Unwrap()

		require.True(t, s.Drop(ctx).IsOk())

		assert.False(t, s.Has(ctx, "k").Unwrap())
		assert.Equal(t, 0, s.ListOf("l").Length(ctx).Unwrap())
		assert.False(t, s.HashOf("h").Has(ctx, "f").Unwrap())
		assert.Equal(t, "kept", s.Namespace("child").Get(ctx, "k").Unwrap())
	})
}

func TestScalarSubscribe(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		var got []outcome.Result[*string]
		sub := s.Subscribe("k", func(r outcome.Result[*string]) { got = append(got, r) })
		pings := 0
		s.Notify("k", func() { pings++ })

		s.Set(ctx, "k", "1").Unwrap()
		s.Increase(ctx, "k", 1).Unwrap()
		s.Remove(ctx, "k").Unwrap()
		s.Set(ctx, "other", "x").Unwrap()

		require.Len(t, got, 3)
		assert.Equal(t, "1", *got[0].Unwrap())
		assert.Equal(t, "2", *got[1].Unwrap())
		assert.Nil(t, got[2].Unwrap(), "deletion is delivered as Ok(nil)")
		assert.Equal(t, 3, pings)

		sub.Cancel()
		s.Set(ctx, "k", "3").Unwrap()
		assert.Len(t, got, 3, "cancelled subscription receives nothing")
		assert.Equal(t, 4, pings)
	})
}

func TestSubscribeSeesOtherHandles(t *testing.T) {
	eachBackend(t, func(t *testing.T, db *DB) {
		s1, _ := db.Storage(Private, "p")
		s2, _ := db.Storage(Private, "p")
		other, _ := db.Storage(Private, "q")

		calls := 0
		s1.Notify("k", func() { calls++ })
		s2.Set(ctx, "k", "v").Unwrap()
		other.Set(ctx, "k", "v").Unwrap()
		assert.Equal(t, 1, calls)
	})
}

func TestClearAndDropNotifyScalarSubscribers(t *testing.T) {
	s := newMemoryStorage(t)
	calls := 0
	s.Notify("k", func() { calls++ })
	listCalls := 0
	s.ListOf("l").Notify(func() { listCalls++ })

	s.Set(ctx, "k", "v").Unwrap()
	s.ListOf("l").Push(ctx, "a").Unwrap()
	calls, listCalls = 0, 0

	s.Clear(ctx).Unwrap()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, listCalls)

	s.Drop(ctx).Unwrap()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, listCalls)
}

func TestNoOpWritesDoNotNotify(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		calls := map[string]int{}
		count := func(name string) func() { return func() { calls[name]++ } }
		s.Notify("k", count("scalar"))
		s.ListOf("l").Notify(count("list"))
		s.QueueOf("q").Notify(count("queue"))
		s.SetOf("s").Notify(count("set"))
		s.HashOf("h").Notify(count("hash"))

		require.True(t, s.Remove(ctx, "k").IsOk())
		require.True(t, s.Clear(ctx).IsOk())
		require.True(t, s.ListOf("l").Clear(ctx).IsOk())
		require.True(t, s.QueueOf("q").Clear(ctx).IsOk())
		require.True(t, s.SetOf("s").Clear(ctx).IsOk())
		require.True(t, s.HashOf("h").Remove(ctx, "f").IsOk())
		require.True(t, s.HashOf("h").Clear(ctx).IsOk())
		require.True(t, s.Drop(ctx).IsOk())
		assert.Empty(t, calls)

		s.HashOf("h").Set(ctx, "f", "1").Unwrap()
		s.HashOf("h").Remove(ctx, "g").Unwrap()
		s.HashOf("h").Remove(ctx, "f").Unwrap()
		s.Set(ctx, "k", "1").Unwrap()
		s.Remove(ctx, "k").Unwrap()
		s.Remove(ctx, "k").Unwrap()
		assert.Equal(t, map[string]int{"hash": 2, "scalar": 2}, calls)
	})
}

func TestFailedWriteDoesNotNotify(t *testing.T) {
	s := newMemoryStorage(t)
	s.Set(ctx, "word", "abc").Unwrap()
	calls := 0
	s.Notify("word", func() { calls++ })

	require.True(t, s.Increase(ctx, "word", 1).IsErr())
	assert.Equal(t, 0, calls)
}

func TestPanickingSubscriberDoesNotBreakWrite(t *testing.T) {
	c := logging.CaptureForTest()
	defer c.Restore()

	s := newMemoryStorage(t)
	s.Notify("k", func() { panic("subscriber bug") })

	require.True(t, s.Set(ctx, "k", "v").IsOk())
	assert.Equal(t, "v", s.Get(ctx, "k").Unwrap())
	assert.True(t, c.Has(slog.LevelError, "subscriber panicked"))
}

func TestBackendFailure(t *testing.T) {
	c := logging.CaptureForTest()
	defer c.Restore()

	db := New(brokenStore{}, Options{})
	s, err := db.Storage(Private)
	require.NoError(t, err)

	for name, r := range map[string]error{
		"get":      s.Get(ctx, "k").UnwrapErr(),
		"set":      s.Set(ctx, "k", "v").UnwrapErr(),
		"increase": s.Increase(ctx, "k", 1).UnwrapErr(),
		"push":     s.ListOf("l").Push(ctx, "x").UnwrapErr(),
		"pop":      s.ListOf("l").Pop(ctx).UnwrapErr(),
		"add":      s.SetOf("s").Add(ctx, "x").UnwrapErr(),
		"hget":     s.HashOf("h").Get(ctx, "f").UnwrapErr(),
	} {
		assert.ErrorIs(t, r, ErrBackend, name)
		assert.ErrorIs(t, r, errDiskGone, name)
		assert.NotErrorIs(t, r, ErrNotFound, name)
	}

	var be *BackendError
	require.True(t, errors.As(s.Get(ctx, "k").UnwrapErr(), &be))
	assert.Equal(t, "kv.get", be.Op)

	v, ok := c.Attr(slog.LevelWarn, "backend failure", "op")
	require.True(t, ok)
	assert.NotEmpty(t, v.String())
	assert.GreaterOrEqual(t, c.Count(slog.LevelWarn), 7)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.Equal(t, ErrTypeMismatch, classify("op", ErrTypeMismatch))
	assert.Equal(t, ErrIndexOutOfRange, classify("op", ErrIndexOutOfRange))

	inner := &BackendError{Op: "inner", Err: errDiskGone}
	assert.Same(t, inner, classify("outer", inner).(*BackendError), "already classified errors are kept")
}

func TestMetricsRecorded(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	db := New(memory.New(), Options{Metrics: m})
	defer db.Close()
	s, _ := db.Storage(Private)

	s.Set(ctx, "k", "v").Unwrap()
	s.Get(ctx, "k").Unwrap()
	s.Get(ctx, "missing")
	s.ListOf("l").Push(ctx, "x").Unwrap()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	seen := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "nestkv_ops_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			seen[labels["collection"]+"."+labels["op"]+"."+labels["result"]] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, seen["kv.set.ok"])
	assert.Equal(t, 1.0, seen["kv.get.ok"])
	assert.Equal(t, 1.0, seen["kv.get.not_found"])
	assert.Equal(t, 1.0, seen["list.push.ok"])
}

func TestExportImport(t *testing.T) {
	src := New(memory.New(), Options{})
	defer src.Close()
	s, _ := src.Storage(Worksheet, "sheet")
	s.Set(ctx, "title", "Budget").Unwrap()
	s.ListOf("rows").PushMany(ctx, []string{"1", "2", "3"}).Unwrap()
	s.HashOf("meta").FromObject(ctx, map[string]string{"owner": "me"}).Unwrap()
	s.Namespace("child").SetOf("tags").Add(ctx, "red").Unwrap()

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	eachBackend(t, func(t *testing.T, dst *DB) {
		d, _ := dst.Storage(Worksheet, "sheet")
		calls := 0
		d.Notify("title", func() { calls++ })

		n, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, 1, calls, "import notifies watched keys")

		assert.Equal(t, "Budget", d.Get(ctx, "title").Unwrap())
		assert.Equal(t, []string{"1", "2", "3"}, d.ListOf("rows").GetAll(ctx).Unwrap())
		assert.Equal(t, map[string]string{"owner": "me"}, d.HashOf("meta").GetAll(ctx).Unwrap())
		assert.True(t, d.Namespace("child").SetOf("tags").Has(ctx, "red").Unwrap())

		// Imported lists keep working at both ends.
		d.ListOf("rows").Unshift(ctx, "0").Unwrap()
		d.ListOf("rows").Push(ctx, "4").Unwrap()
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}, d.ListOf("rows").GetAll(ctx).Unwrap())
	})
}
