// Package store orchestrates the WAL, MemTable, and SSTable set into the
// read/write/flush protocol spec.md §4.6 describes: writes land in the WAL
// then the MemTable; reads merge the MemTable with every opened SSTable;
// a background task periodically snapshots the MemTable into a new
// SSTable and truncates the WAL once that file is durable.
package store

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devraj-patil/flashseries/memtable"
	"github.com/devraj-patil/flashseries/series"
	"github.com/devraj-patil/flashseries/sstable"
	"github.com/devraj-patil/flashseries/storeerr"
	"github.com/devraj-patil/flashseries/wal"
)

// sstableExt is the suffix Store uses to recognize SSTable files when
// enumerating sstable_dir on open.
const sstableExt = ".db"

// flushInterval is the fixed background-flush sleep spec.md §4.6 names as
// its design default.
const flushInterval = 5 * time.Second

// Config names the three knobs spec.md §6 exhaustively recognizes, plus
// the flush interval spec.md §4.6 calls out as "design default: 5 seconds;
// configurable".
type Config struct {
	SSTableDir            string
	WALPath               string
	MemtableSizeThreshold int
	FlushInterval         time.Duration
	Logger                *zap.Logger
}

// Store is the top-level database handle.
type Store struct {
	dir           string
	threshold     int
	flushInterval time.Duration
	logger        *zap.Logger

	wal   *wal.WAL
	memMu sync.RWMutex
	mem   *memtable.MemTable

	sstMu    sync.Mutex
	sstables []*sstable.SSTable

	flushCancel context.CancelFunc
	flushDone   chan struct{}
}

// Stats is the result of GetStats.
type Stats struct {
	MemtablePoints int
	MemtableSeries int
	SSTableCount   int
	SSTableBytes   int64
}

// Open creates sstable_dir and wal_path's parent directory if absent,
// opens the WAL and replays it into a fresh MemTable, opens every existing
// SSTable file under sstable_dir (logging and skipping any that fail to
// parse), and starts the background flush task.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "store"))

	if err := os.MkdirAll(cfg.SSTableDir, 0o755); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "create sstable directory", err)
	}

	w, err := wal.Open(cfg.WALPath, logger)
	if err != nil {
		return nil, err
	}

	mem := memtable.New()

	entries, err := w.Load()
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, e := range entries {
		key := series.Key{Measurement: e.Measurement, Tags: e.Point.Tags}
		mem.Insert(key, e.Point)
	}
	logger.Info("replayed wal", zap.Int("points", len(entries)))

	files, err := sstable.Discover(cfg.SSTableDir)
	if err != nil {
		w.Close()
		return nil, storeerr.Wrap(storeerr.ErrIO, "enumerate sstable directory", err)
	}

	var opened []*sstable.SSTable
	for _, f := range files {
		sst, err := sstable.Open(f)
		if err != nil {
			logger.Warn("failed to open sstable, skipping", zap.String("path", f), zap.Error(err))
			continue
		}
		opened = append(opened, sst)
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = flushInterval
	}

	s := &Store{
		dir:           cfg.SSTableDir,
		threshold:     cfg.MemtableSizeThreshold,
		flushInterval: interval,
		logger:        logger,
		wal:           w,
		mem:           mem,
		sstables:      opened,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.flushCancel = cancel
	s.flushDone = make(chan struct{})
	go s.flushLoop(ctx)

	return s, nil
}

// WritePoint appends p to the WAL under measurement, then inserts it into
// the MemTable. A WAL failure is surfaced to the caller and the MemTable is
// left untouched. memMu is held across the insert so a concurrent flush
// swap can never observe a write landing in a MemTable it has already
// detached (spec.md §5: "held across the flush swap").
func (s *Store) WritePoint(measurement string, p series.DataPoint) error {
	if err := s.wal.AppendPoint(measurement, p); err != nil {
		return err
	}
	s.memMu.Lock()
	s.mem.Insert(series.Key{Measurement: measurement, Tags: p.Tags}, p)
	s.memMu.Unlock()
	return nil
}

// WritePoints is the batch form: one WAL flush for the whole slice, then a
// best-effort bulk insert (all points share measurement and tags).
func (s *Store) WritePoints(measurement string, points []series.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.wal.AppendPoints(measurement, points); err != nil {
		return err
	}
	s.memMu.Lock()
	for _, p := range points {
		s.mem.Insert(series.Key{Measurement: measurement, Tags: p.Tags}, p)
	}
	s.memMu.Unlock()
	return nil
}

// Query merges matching points from the MemTable and every opened SSTable.
// fields being empty means "all fields present at each series".
func (s *Store) Query(filter series.Key, fields []string, start, end uint64) (map[series.Key]map[string][]Point, error) {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	merged := make(map[series.Key]map[string][]Point)

	s.memMu.RLock()
	memMatches := s.mem.Query(filter)
	s.memMu.RUnlock()

	for _, ms := range memMatches {
		for _, p := range ms.Points {
			if p.Timestamp < start || p.Timestamp > end {
				continue
			}
			for field, val := range p.Fields {
				if len(want) > 0 && !want[field] {
					continue
				}
				bucket := merged[ms.Key]
				if bucket == nil {
					bucket = make(map[string][]Point)
					merged[ms.Key] = bucket
				}
				bucket[field] = append(bucket[field], Point{TS: p.Timestamp, Value: val})
			}
		}
	}

	s.sstMu.Lock()
	tables := make([]*sstable.SSTable, len(s.sstables))
	copy(tables, s.sstables)
	s.sstMu.Unlock()

	// Tables are visited newest first and their points placed ahead of what
	// is already merged, so each list runs oldest SSTable → newest SSTable →
	// MemTable and the last-wins dedup below keeps the most recent write.
	for i := len(tables) - 1; i >= 0; i-- {
		sst := tables[i]
		if !sst.MayContain(start, end) {
			continue
		}
		res, err := sst.Query(filter, fields, start, end)
		if err != nil {
			// A decode failure in any series fails sst.Query as a whole, so
			// this file contributes nothing to the result.
			s.logger.Warn("sstable query decode failed, skipping file", zap.String("path", sst.Path()), zap.Error(err))
			continue
		}
		for key, byField := range res {
			bucket := merged[key]
			if bucket == nil {
				bucket = make(map[string][]Point)
				merged[key] = bucket
			}
			for field, pts := range byField {
				older := make([]Point, 0, len(pts)+len(bucket[field]))
				for _, p := range pts {
					older = append(older, Point{TS: p.TS, Value: p.Value})
				}
				bucket[field] = append(older, bucket[field]...)
			}
		}
	}

	for _, byField := range merged {
		for field, pts := range byField {
			byField[field] = sortDedupLastWins(pts)
		}
	}

	return merged, nil
}

// Point is a decoded (timestamp, value) pair returned from Query.
type Point struct {
	TS    uint64
	Value float64
}

func sortDedupLastWins(points []Point) []Point {
	sort.SliceStable(points, func(i, j int) bool { return points[i].TS < points[j].TS })
	out := points[:0:0]
	for i, p := range points {
		if i > 0 && p.TS == points[i-1].TS {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// GetStats scans sstable_dir for file count/size and reports current
// MemTable point count.
func (s *Store) GetStats() (Stats, error) {
	s.sstMu.Lock()
	count := len(s.sstables)
	s.sstMu.Unlock()

	var totalBytes int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, storeerr.Wrap(storeerr.ErrIO, "scan sstable directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sstableExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		totalBytes += info.Size()
	}

	s.memMu.RLock()
	points, seriesCount := s.mem.Len(), s.mem.SeriesCount()
	s.memMu.RUnlock()

	return Stats{
		MemtablePoints: points,
		MemtableSeries: seriesCount,
		SSTableCount:   count,
		SSTableBytes:   totalBytes,
	}, nil
}

// Close stops the background flush task and closes the WAL.
func (s *Store) Close() error {
	s.flushCancel()
	<-s.flushDone
	return s.wal.Close()
}

func (s *Store) flushLoop(ctx context.Context) {
	defer close(s.flushDone)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeFlush()
		}
	}
}

func (s *Store) maybeFlush() {
	s.memMu.RLock()
	below := s.mem.Len() < s.threshold
	s.memMu.RUnlock()
	if below {
		return
	}

	snapshot := s.takeSnapshot()
	if len(snapshot) == 0 {
		return
	}

	stamp := time.Now().UnixNano()
	sst, err := sstable.Create(s.dir, stamp, snapshot)
	if err != nil {
		s.logger.Error("flush failed, retrying next cycle", zap.Error(err))
		s.restoreSnapshot(snapshot)
		return
	}

	s.sstMu.Lock()
	s.sstables = append(s.sstables, sst)
	s.sstMu.Unlock()

	if err := s.wal.Clear(); err != nil {
		s.logger.Error("wal truncate after flush failed", zap.Error(err))
	}

	s.logger.Info("flushed memtable", zap.String("path", sst.Path()), zap.Int("series", len(snapshot)))
}

// takeSnapshot swaps the live MemTable for a fresh one and returns the
// contents of the old one, per spec.md §4.6 step 3's "swap, then release"
// option.
func (s *Store) takeSnapshot() []memtable.Series {
	s.memMu.Lock()
	old := s.mem
	s.mem = memtable.New()
	s.memMu.Unlock()

	var out []memtable.Series
	old.Each(func(sr memtable.Series) { out = append(out, sr) })
	return out
}

// restoreSnapshot merges a failed flush's snapshot back into the live
// MemTable, so the next flush cycle retries against everything: the
// failed snapshot plus whatever arrived in the meantime.
func (s *Store) restoreSnapshot(snapshot []memtable.Series) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	for _, sr := range snapshot {
		s.mem.InsertBatch(sr.Key, sr.Points)
	}
}
