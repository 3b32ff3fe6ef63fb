package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/devraj-patil/flashseries/series"
)

func tempWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	w, _ := tempWAL(t)

	points := []series.DataPoint{
		{Timestamp: 100, Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"cpu": 1.5}},
		{Timestamp: 200, Tags: map[string]string{"host": "b"}, Fields: map[string]float64{"cpu": 2.5, "mem": 3.0}},
		{Timestamp: 300, Tags: map[string]string{}, Fields: map[string]float64{"cpu": -1.25}},
	}

	for _, p := range points {
		require.NoError(t, w.AppendPoint("metrics", p))
	}

	entries, err := w.Load()
	require.NoError(t, err)
	require.Len(t, entries, len(points))

	for i, e := range entries {
		require.Equal(t, "metrics", e.Measurement)
		require.Equal(t, points[i].Timestamp, e.Point.Timestamp)
		_, reservedLeaked := e.Point.Tags[reservedNameTag]
		require.False(t, reservedLeaked, "entry %d: reserved tag leaked into decoded point", i)
		for k, v := range points[i].Fields {
			require.Equal(t, v, e.Point.Fields[k], "entry %d: field %q", i, k)
		}
	}
}

func TestAppendPointsBatch(t *testing.T) {
	w, _ := tempWAL(t)

	batch := []series.DataPoint{
		{Timestamp: 1, Tags: map[string]string{}, Fields: map[string]float64{"v": 1}},
		{Timestamp: 2, Tags: map[string]string{}, Fields: map[string]float64{"v": 2}},
		{Timestamp: 3, Tags: map[string]string{}, Fields: map[string]float64{"v": 3}},
	}

	require.NoError(t, w.AppendPoints("batchseries", batch))

	entries, err := w.Load()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, float64(i+1), e.Point.Fields["v"], "entry %d", i)
	}
}

func TestClearResetsLog(t *testing.T) {
	w, path := tempWAL(t)

	require.NoError(t, w.AppendPoint("m", series.DataPoint{Timestamp: 1, Tags: map[string]string{}, Fields: map[string]float64{"f": 1}}))
	require.NoError(t, w.Clear())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	entries, err := w.Load()
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, w.AppendPoint("m", series.DataPoint{Timestamp: 9, Tags: map[string]string{}, Fields: map[string]float64{"f": 9}}))
	entries, err = w.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(9), entries[0].Point.Timestamp)
}

func TestLoadTruncatedTailIsTolerated(t *testing.T) {
	w, path := tempWAL(t)

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, w.AppendPoint("m", series.DataPoint{Timestamp: i, Tags: map[string]string{}, Fields: map[string]float64{"f": float64(i)}}))
	}
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	w2, err := Open(path, nil)
	require.NoError(t, err)
	defer w2.Close()

	entries, err := w2.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2, "torn final record should be dropped")
}

func TestLoadWarnsOnMalformedUTF8Pair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	core, logs := observer.New(zap.WarnLevel)
	w, err := Open(path, zap.New(core))
	require.NoError(t, err)
	defer w.Close()

	good := series.DataPoint{Timestamp: 1, Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"v": 1}}
	bad := series.DataPoint{Timestamp: 2, Tags: map[string]string{"host": "\xffbad"}, Fields: map[string]float64{"v": 2}}
	require.NoError(t, w.AppendPoint("m", good))
	require.NoError(t, w.AppendPoint("m", bad))

	entries, err := w.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	_, present := entries[1].Point.Tags["host"]
	require.False(t, present, "malformed tag pair should have been skipped, not decoded")

	warnings := logs.FilterMessage("skipped malformed tag/field pair with invalid utf-8")
	require.Equal(t, 1, warnings.Len(), "expected exactly one warning for the malformed pair")
}

func TestAppendPointPreservesExistingTags(t *testing.T) {
	w, _ := tempWAL(t)

	p := series.DataPoint{
		Timestamp: 42,
		Tags:      map[string]string{"region": "eu", "dc": "1"},
		Fields:    map[string]float64{"x": 7},
	}
	require.NoError(t, w.AppendPoint("requests", p))

	entries, err := w.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	require.Equal(t, "eu", got.Point.Tags["region"])
	require.Equal(t, "1", got.Point.Tags["dc"])
	require.Len(t, p.Tags, 2, "input DataPoint's tag map must not be mutated by AppendPoint")
}
