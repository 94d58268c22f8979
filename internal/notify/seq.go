package notify

import "sync/atomic"

// Sequence is a monotonically increasing event counter.
// It is safe for concurrent use.
type Sequence struct {
	counter atomic.Uint64
}

// Next increments the counter and returns the new value.
func (s *Sequence) Next() uint64 {
	return s.counter.Add(1)
}

// Current returns the current value without incrementing.
func (s *Sequence) Current() uint64 {
	return s.counter.Load()
}
