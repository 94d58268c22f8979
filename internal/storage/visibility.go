package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Visibility is the partitioning class of a storage handle. It is part of
// the partition name and is not an access control mechanism.
type Visibility string

const (
	User      Visibility = "USER"
	Worksheet Visibility = "WORKSHEET"
	Private   Visibility = "PRIVATE"
	Component Visibility = "COMPONENT"
)

// DefaultNamespace is the path used when none is given.
const DefaultNamespace = "default"

// Visibilities lists every valid class.
var Visibilities = []Visibility{User, Worksheet, Private, Component}

// ParseVisibility accepts a class name in any case.
func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, s)
	}
	return v, nil
}

// Valid reports whether v is one of the defined classes.
func (v Visibility) Valid() bool {
	switch v {
	case User, Worksheet, Private, Component:
		return true
	}
	return false
}

func (v Visibility) String() string { return string(v) }

// Backend tables of a partition.
const (
	tableKV     = "kv"
	tableLists  = "lists"
	tableQueues = "queues"
	tableSets   = "sets"
	tableHashes = "hashes"
)

var tables = []string{tableKV, tableLists, tableQueues, tableSets, tableHashes}

// partitionName joins the visibility and escaped path segments with "/".
// Escaping keeps the name unambiguous: a segment containing "/" cannot
// collide with two segments.
func partitionName(vis Visibility, path []string) string {
	var b strings.Builder
	b.WriteString(string(vis))
	for _, seg := range path {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// bucketName returns the backend bucket holding table of partition. The NUL
// separator sorts below every escaped path byte, so the buckets of a
// partition never share a name prefix with those of its children.
func bucketName(partition, table string) []byte {
	return []byte(partition + "\x00" + table)
}
