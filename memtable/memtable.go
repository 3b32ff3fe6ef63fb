// Package memtable holds the write buffer: recently-written points, indexed
// by series, waiting to be flushed to an SSTable. Unlike the teacher's
// skip-list memtable, timestamp order within a series is not maintained
// (points stay in insertion order) —
// spec.md §4.4 requires only that points be sortable and deduplicated by
// timestamp at flush time, so an append-only slice per series is enough and
// avoids the per-insert rebalancing cost a skip list pays for an ordering
// nothing downstream needs.
package memtable

import (
	"sync"

	"github.com/devraj-patil/flashseries/series"
	"github.com/devraj-patil/flashseries/seriesid"
)

// MemTable buffers writes in memory, grouped by series identity. All
// methods are safe for concurrent use.
type MemTable struct {
	mu     sync.RWMutex
	points map[seriesid.ID][]series.DataPoint
	keys   map[seriesid.ID]series.Key
	count  int
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{
		points: make(map[seriesid.ID][]series.DataPoint),
		keys:   make(map[seriesid.ID]series.Key),
	}
}

// Insert appends one point to the series identified by key.
func (m *MemTable) Insert(key series.Key, p series.DataPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := seriesid.Of(key.Canonical())
	if _, ok := m.keys[id]; !ok {
		m.keys[id] = key
	}
	m.points[id] = append(m.points[id], p)
	m.count++
}

// InsertBatch appends several points belonging to the same series.
func (m *MemTable) InsertBatch(key series.Key, points []series.DataPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := seriesid.Of(key.Canonical())
	if _, ok := m.keys[id]; !ok {
		m.keys[id] = key
	}
	m.points[id] = append(m.points[id], points...)
	m.count += len(points)
}

// Len returns the total number of buffered points across all series.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// SeriesCount returns the number of distinct series currently buffered.
func (m *MemTable) SeriesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Series is one series' buffered points, as seen by Each and Query.
type Series struct {
	Key    series.Key
	Points []series.DataPoint
}

// Each calls fn once per buffered series while holding a read lock. fn must
// not call back into m.
func (m *MemTable) Each(fn func(Series)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, pts := range m.points {
		fn(Series{Key: m.keys[id], Points: pts})
	}
}

// Query returns the buffered points for every series matching filter,
// along with the resolved series.Key each came from — used by the read
// path to merge unflushed writes into a query result.
func (m *MemTable) Query(filter series.Key) []Series {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Series
	for id, key := range m.keys {
		if !key.Matches(filter) {
			continue
		}
		out = append(out, Series{Key: key, Points: m.points[id]})
	}
	return out
}
