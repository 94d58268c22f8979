// Package storage implements a namespaced multi-model store on top of an
// ordered key-value backend.
//
// A DB wraps one store.Store. DB.Storage returns a handle for a visibility
// class and namespace path; every handle addresses its own partition, a set
// of five backend buckets that no other handle reads or writes. From a
// handle callers use scalar keys directly, or obtain a List, Queue, Set or
// Hash bound to one collection key.
//
// Row layout inside a partition:
//
//	kv      KeyPrefix(key)                  -> value
//	lists   KeyPrefix(list)  || ordinal     -> value
//	queues  KeyPrefix(queue) || ordinal     -> value
//	sets    KeyPrefix(set)   || member      -> ""
//	hashes  KeyPrefix(hash)  || field       -> value
//
// Ordinals are big-endian uint64 values allocated around 1<<63: appends take
// last+1, head inserts take first-1, so both ends are O(1) and no row is
// ever renumbered.
//
// Every operation runs in a single backend transaction and returns an
// outcome.Result. Subscribers registered with Subscribe or Notify are called
// synchronously after the mutating transaction commits.
package storage
