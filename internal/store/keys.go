package store

import (
	"encoding/binary"
	"fmt"
)

// Composite keys are built as uvarint(len(k)) || k || suffix. The length
// prefix keeps every row of one collection key under a single scan prefix,
// even when one key is a byte-prefix of another.

// KeyPrefix returns the scan prefix owning every row of collection key k.
func KeyPrefix(k string) []byte {
	b := make([]byte, 0, binary.MaxVarintLen64+len(k))
	b = binary.AppendUvarint(b, uint64(len(k)))
	return append(b, k...)
}

// Composite returns KeyPrefix(k) followed by suffix.
func Composite(k string, suffix []byte) []byte {
	return append(KeyPrefix(k), suffix...)
}

// OrdinalKey returns the composite key for row ordinal n of collection k.
// Ordinals are big-endian so byte order matches numeric order.
func OrdinalKey(k string, n uint64) []byte {
	return binary.BigEndian.AppendUint64(KeyPrefix(k), n)
}

// SplitComposite returns the collection key and suffix of a composite key.
func SplitComposite(key []byte) (string, []byte, error) {
	n, sz := binary.Uvarint(key)
	if sz <= 0 || uint64(len(key)-sz) < n {
		return "", nil, fmt.Errorf("malformed composite key %x", key)
	}
	end := sz + int(n)
	return string(key[sz:end]), key[end:], nil
}

// Ordinal decodes the ordinal suffix of an OrdinalKey.
func Ordinal(key []byte) (uint64, error) {
	_, suffix, err := SplitComposite(key)
	if err != nil {
		return 0, err
	}
	if len(suffix) != 8 {
		return 0, fmt.Errorf("malformed ordinal suffix %x", suffix)
	}
	return binary.BigEndian.Uint64(suffix), nil
}
