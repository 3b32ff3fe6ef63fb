// Package wal implements the append-only, durable write-ahead log: one
// record per write, replayed into a MemTable on startup, truncated after a
// successful flush. See record.go for the on-disk record layout.
package wal

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/devraj-patil/flashseries/series"
	"github.com/devraj-patil/flashseries/storeerr"
)

// Entry is one replayed WAL record, measurement split back out of the
// reserved tag it travels under on disk (see record.go).
type Entry struct {
	Measurement string
	Point       series.DataPoint
}

// WAL is a single append-only log file. All append and truncate operations
// serialize behind one mutex, matching spec.md §5's "one mutex around the
// buffered writer" model.
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	path   string
	logger *zap.Logger
}

// Open opens (creating if absent) the WAL file at path, creating its
// parent directory if needed.
func Open(path string, logger *zap.Logger) (*WAL, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIO, "create wal directory", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "open wal file", err)
	}

	return &WAL{
		f:      f,
		w:      bufio.NewWriter(f),
		path:   path,
		logger: logger.With(zap.String("component", "wal"), zap.String("path", path)),
	}, nil
}

// AppendPoint writes exactly one record and flushes and syncs before
// returning success: a success return means the point is durable.
func (w *WAL) AppendPoint(measurement string, p series.DataPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := encodeRecord(w.w, withMeasurement(measurement, p)); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "encode wal record", err)
	}
	return w.syncLocked()
}

// AppendPoints writes several records and flushes/syncs once at the end.
// Partial-batch durability is not guaranteed on crash — Load tolerates a
// truncated final record.
func (w *WAL) AppendPoints(measurement string, points []series.DataPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range points {
		if err := encodeRecord(w.w, withMeasurement(measurement, p)); err != nil {
			return storeerr.Wrap(storeerr.ErrIO, "encode wal record", err)
		}
	}
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.w.Flush(); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "flush wal buffer", err)
	}
	if err := w.f.Sync(); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "sync wal file", err)
	}
	return nil
}

// Load replays every complete record in the log. A truncated final record
// (an unexpected end of file) is logged as a warning and the prefix of
// fully-decoded records is returned — Load never fails the open because of
// a torn tail.
func (w *WAL) Load() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "seek wal for replay", err)
	}

	r := bufio.NewReader(w.f)
	var entries []Entry
	for {
		rec, skipped, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			w.logger.Warn("truncated record at end of wal, stopping replay",
				zap.Int("records_recovered", len(entries)))
			break
		}
		if err != nil {
			return entries, storeerr.Wrap(storeerr.ErrData, "decode wal record", err)
		}
		if skipped > 0 {
			w.logger.Warn("skipped malformed tag/field pair with invalid utf-8",
				zap.Int("record", len(entries)), zap.Int("pairs_skipped", skipped))
		}

		measurement, pt := splitMeasurement(rec)
		entries = append(entries, Entry{Measurement: measurement, Point: pt})
	}

	return entries, nil
}

// Clear truncates the file to zero length and rewinds the writer. Callers
// must only call this after the corresponding SSTable flush has been
// durably persisted (spec.md §4.6's ordering invariant).
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Truncate(0); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "truncate wal", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "rewind wal", err)
	}
	w.w = bufio.NewWriter(w.f)
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return storeerr.Wrap(storeerr.ErrIO, "flush wal on close", err)
	}
	return w.f.Close()
}

func withMeasurement(measurement string, p series.DataPoint) series.DataPoint {
	tags := make(map[string]string, len(p.Tags)+1)
	for k, v := range p.Tags {
		tags[k] = v
	}
	tags[reservedNameTag] = measurement

	return series.DataPoint{Timestamp: p.Timestamp, Tags: tags, Fields: p.Fields}
}

func splitMeasurement(rec series.DataPoint) (string, series.DataPoint) {
	measurement := rec.Tags[reservedNameTag]
	delete(rec.Tags, reservedNameTag)
	return measurement, rec
}
