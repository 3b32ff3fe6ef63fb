// Package seriesid computes a compact, comparable identity for a
// series.Key.
//
// A series.Key carries a map[string]string, which can't be used directly
// as a Go map key. Rather than keying MemTable/SSTable-index lookups on
// the canonical string (re-hashed by the runtime's string-keyed map on
// every lookup), this package hashes the canonical form once with xxHash64
// — the same library and call shape arloliu/mebo's internal/hash.ID uses —
// and that uint64 becomes the actual map key. Callers that need the
// original Key back (for display or query filtering) keep a side table of
// ID -> series.Key. Collisions are not detected: two keys with the same ID
// share one entry.
package seriesid

import "github.com/cespare/xxhash/v2"

// ID is a uint64 identity derived from a series.Key's canonical form.
type ID uint64

// Of computes the ID of a canonical series key string
// (series.Key.Canonical()).
func Of(canonical string) ID {
	return ID(xxhash.Sum64String(canonical))
}
