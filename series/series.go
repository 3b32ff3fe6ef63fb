// Package series defines the data model shared by the write path and the
// read path: timestamped points grouped by tag/field and the series
// identity they index under.
package series

import (
	"sort"
	"strings"
)

// Timestamp is an unsigned instant in time; monotonicity is not required
// of the sequence of timestamps written for a series.
type Timestamp = uint64

// DataPoint is a single timestamped measurement: tags classify it, fields
// carry its measured numbers.
type DataPoint struct {
	Timestamp Timestamp
	Tags      map[string]string
	Fields    map[string]float64
}

// Key identifies a time series: a measurement name plus a tag set. Two Keys
// with the same measurement and the same tag pairs (in any order) denote
// the same series — equality and hashing must be computed over the
// measurement plus the *sorted* tag pairs.
type Key struct {
	Measurement string
	Tags        map[string]string
}

// Canonical returns a deterministic string encoding of the key: the
// measurement followed by its tags sorted by key, NUL-separated. This is
// both the identity input fed to seriesid.Of and the comparison key Equal
// uses, since a map[string]string can't be a Go map key on its own.
func (k Key) Canonical() string {
	if len(k.Tags) == 0 {
		return k.Measurement
	}

	names := make([]string, 0, len(k.Tags))
	for name := range k.Tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Measurement)
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k.Tags[name])
	}
	return b.String()
}

// Equal reports whether two keys denote the same series.
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// Matches reports whether k satisfies a query filter: an empty
// filter.Measurement matches any measurement, and every tag present in
// filter.Tags must be present and equal in k.
func (k Key) Matches(filter Key) bool {
	if filter.Measurement != "" && filter.Measurement != k.Measurement {
		return false
	}
	for name, want := range filter.Tags {
		got, ok := k.Tags[name]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// SortedTagNames returns the tag names of k in sorted order, for stable
// serialization.
func (k Key) SortedTagNames() []string {
	names := make([]string, 0, len(k.Tags))
	for name := range k.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
