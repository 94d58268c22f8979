package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestkv/internal/outcome"
)

func TestQueueFIFOThenLIFO(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		q := s.QueueOf("jobs")
		for _, v := range []string{"1", "2", "3"} {
			require.True(t, q.Enqueue(ctx, v).IsOk())
		}
		assert.Equal(t, str("1"), q.Dequeue(ctx, FIFO).Unwrap())
		assert.Equal(t, str("3"), q.Dequeue(ctx, LIFO).Unwrap())
		assert.Equal(t, 1, q.Length(ctx).Unwrap())
		assert.Equal(t, str("2"), q.Dequeue(ctx, FIFO).Unwrap())
	})
}

func TestQueueEmptyDequeue(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		q := s.QueueOf("empty")
		for _, mode := range []DequeueMode{FIFO, LIFO} {
			r := q.Dequeue(ctx, mode)
			require.True(t, r.IsOk(), "empty dequeue is not an error")
			assert.Nil(t, r.Unwrap())
		}
	})
}

func TestQueueClear(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		q := s.QueueOf("q")
		q.Enqueue(ctx, "a").Unwrap()
		q.Enqueue(ctx, "b").Unwrap()
		require.True(t, q.Clear(ctx).IsOk())
		require.True(t, q.Clear(ctx).IsOk())
		assert.Equal(t, 0, q.Length(ctx).Unwrap())
	})
}

func TestQueueAndListAreSeparateTables(t *testing.T) {
	eachStorage(t, func(t *testing.T, s *Storage) {
		s.QueueOf("same").Enqueue(ctx, "q").Unwrap()
		s.ListOf("same").Push(ctx, "l").Unwrap()
		assert.Equal(t, []string{"l"}, s.ListOf("same").GetAll(ctx).Unwrap())
		assert.Equal(t, str("q"), s.QueueOf("same").Dequeue(ctx, FIFO).Unwrap())
	})
}

func TestQueueUnknownModePanics(t *testing.T) {
	q := newMemoryStorage(t).QueueOf("q")
	q.Enqueue(ctx, "x").Unwrap()
	assert.Panics(t, func() { q.Dequeue(ctx, DequeueMode("RANDOM")) })
	assert.Equal(t, 1, q.Length(ctx).Unwrap(), "panicking dequeue removes nothing")
}

func TestParseDequeueMode(t *testing.T) {
	m, err := ParseDequeueMode("fifo")
	require.NoError(t, err)
	assert.Equal(t, FIFO, m)
	m, err = ParseDequeueMode(" LIFO ")
	require.NoError(t, err)
	assert.Equal(t, LIFO, m)
	_, err = ParseDequeueMode("stack")
	assert.Error(t, err)
}

func TestQueueSubscribe(t *testing.T) {
	q := newMemoryStorage(t).QueueOf("q")
	var seen [][]string
	q.Subscribe(func(r outcome.Result[[]string]) { seen = append(seen, r.Unwrap()) })
	pings := 0
	q.Notify(func() { pings++ })

	q.Enqueue(ctx, "a").Unwrap()
	q.Enqueue(ctx, "b").Unwrap()
	q.Dequeue(ctx, FIFO).Unwrap()
	q.Dequeue(ctx, FIFO).Unwrap()
	q.Dequeue(ctx, FIFO).Unwrap() // empty

	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"b"}, {}}, seen)
	assert.Equal(t, 4, pings)
}
