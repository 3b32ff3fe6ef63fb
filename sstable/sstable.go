// Package sstable implements the immutable, self-describing, multi-series
// on-disk file: an index region mapping each series to its payload, a
// payload region of per-field Gorilla blocks, and a trailing footer giving
// fast min/max timestamp skipping plus a bloom filter over series identity.
// The on-disk index/payload layout is little-endian, matching
// internal/endian.Storage; it is memory-mapped read-only on Open so reads
// never copy out of the page cache.
package sstable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"

	"github.com/devraj-patil/flashseries/codec"
	"github.com/devraj-patil/flashseries/internal/endian"
	"github.com/devraj-patil/flashseries/memtable"
	"github.com/devraj-patil/flashseries/series"
	"github.com/devraj-patil/flashseries/seriesid"
	"github.com/devraj-patil/flashseries/storeerr"
)

const (
	footerSize  = 40
	footerMagic = 0x46535354 // "FSST"
)

type keyJSON struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags"`
}

func toKeyJSON(k series.Key) keyJSON {
	return keyJSON{Measurement: k.Measurement, Tags: k.Tags}
}

func (k keyJSON) toKey() series.Key {
	tags := k.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return series.Key{Measurement: k.Measurement, Tags: tags}
}

type indexEntry struct {
	offset uint64
	length uint64
}

// SSTable is one opened, memory-mapped on-disk file.
type SSTable struct {
	path  string
	f     *os.File
	data  mmap.MMap
	index map[seriesid.ID]indexEntry
	keys  map[seriesid.ID]series.Key
	minTS uint64
	maxTS uint64
	bloom *bloom.BloomFilter
}

// Filename returns the canonical name for an SSTable created at stamp (a
// monotonically increasing nanosecond timestamp captured once at flush
// time).
func Filename(stamp int64) string {
	return fmt.Sprintf("sstable-%d.db", stamp)
}

// Path returns the file path this SSTable was opened from or created at.
func (s *SSTable) Path() string { return s.path }

// MinTS and MaxTS report the inclusive timestamp range covered by the
// points this file holds.
func (s *SSTable) MinTS() uint64 { return s.minTS }
func (s *SSTable) MaxTS() uint64 { return s.maxTS }

// MayContain is the cheap pre-filter spec.md §4.5 recommends: false means
// the file provably holds no point in [start, end] and Query can be
// skipped entirely.
func (s *SSTable) MayContain(start, end uint64) bool {
	if len(s.index) == 0 {
		return false
	}
	return s.maxTS >= start && s.minTS <= end
}

// hasSeries reports whether the file's index or bloom filter indicate the
// given series might be present. A bloom negative is authoritative; a
// bloom positive (or absent bloom) falls through to the real index.
func (s *SSTable) hasSeries(id seriesid.ID) bool {
	if s.bloom != nil {
		var idBytes [8]byte
		endian.Storage.PutUint64(idBytes[:], uint64(id))
		if !s.bloom.Test(idBytes[:]) {
			return false
		}
	}
	_, ok := s.index[id]
	return ok
}

// Close unmaps and closes the underlying file.
func (s *SSTable) Close() error {
	var errs []error
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.f != nil {
		if err := s.f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return storeerr.Wrap(storeerr.ErrIO, "close sstable", errs[0])
	}
	return nil
}

// Create builds a new SSTable file in dir from a MemTable snapshot,
// grouping each series' points by field, sorting and deduplicating by
// timestamp (last write wins on a duplicate timestamp), compressing each
// field with the Gorilla codec, and writing the index/payload/footer
// layout spec.md §4.5 defines. The whole file is assembled in memory so
// index offsets are known before anything is written — FlashLogGo's
// sst.diskSSTWriter instead seeks back to patch sizes in place; buffering
// is simpler here because SSTable files are write-once and bounded by a
// single flush's worth of memtable data.
func Create(dir string, stamp int64, seriesList []memtable.Series) (*SSTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "create sstable directory", err)
	}

	type encoded struct {
		keyBytes []byte
		payload  []byte
	}

	entries := make([]encoded, 0, len(seriesList))
	filter := bloom.NewWithEstimates(uint(max(len(seriesList), 1)), 0.01)

	var minTS, maxTS uint64
	haveRange := false

	for _, s := range seriesList {
		if len(s.Points) == 0 {
			continue
		}

		byField := make(map[string][]codec.Point)
		for _, p := range s.Points {
			for field, val := range p.Fields {
				byField[field] = append(byField[field], codec.Point{TS: p.Timestamp, Value: val})
			}
		}

		fieldNames := make([]string, 0, len(byField))
		for name := range byField {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		var payload bytes.Buffer
		if err := writeU32(&payload, uint32(len(fieldNames))); err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIO, "write field count", err)
		}

		for _, fname := range fieldNames {
			pts := dedupSortedByTS(byField[fname])
			for _, p := range pts {
				if !haveRange {
					minTS, maxTS = p.TS, p.TS
					haveRange = true
				} else {
					if p.TS < minTS {
						minTS = p.TS
					}
					if p.TS > maxTS {
						maxTS = p.TS
					}
				}
			}

			block, err := codec.EncodeBlock(pts)
			if err != nil {
				return nil, storeerr.Wrap(storeerr.ErrCompression, "encode field block", err)
			}
			if err := writeU32(&payload, uint32(len(fname))); err != nil {
				return nil, storeerr.Wrap(storeerr.ErrIO, "write field name length", err)
			}
			payload.WriteString(fname)
			if err := writeU32(&payload, uint32(len(block))); err != nil {
				return nil, storeerr.Wrap(storeerr.ErrIO, "write block length", err)
			}
			payload.Write(block)
		}

		kb, err := json.Marshal(toKeyJSON(s.Key))
		if err != nil {
			return nil, storeerr.Wrap(storeerr.ErrSerialization, "marshal series key", err)
		}

		entries = append(entries, encoded{keyBytes: kb, payload: payload.Bytes()})

		var idBytes [8]byte
		endian.Storage.PutUint64(idBytes[:], uint64(seriesid.Of(s.Key.Canonical())))
		filter.Add(idBytes[:])
	}

	indexSize := 4
	for _, e := range entries {
		indexSize += 4 + len(e.keyBytes) + 8 + 8
	}

	var file bytes.Buffer
	if err := writeU32(&file, uint32(len(entries))); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "write series count", err)
	}

	offset := uint64(indexSize)
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		offsets[i] = offset
		offset += uint64(len(e.payload))

		if err := writeU32(&file, uint32(len(e.keyBytes))); err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIO, "write index key length", err)
		}
		file.Write(e.keyBytes)
		if err := writeU64(&file, offsets[i]); err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIO, "write index offset", err)
		}
		if err := writeU64(&file, uint64(len(e.payload))); err != nil {
			return nil, storeerr.Wrap(storeerr.ErrIO, "write index length", err)
		}
	}

	for _, e := range entries {
		file.Write(e.payload)
	}

	var bloomBuf bytes.Buffer
	if _, err := filter.WriteTo(&bloomBuf); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrSerialization, "encode bloom filter", err)
	}
	bloomOffset := uint64(file.Len())
	file.Write(bloomBuf.Bytes())

	var footer [footerSize]byte
	endian.Storage.PutUint64(footer[0:8], minTS)
	endian.Storage.PutUint64(footer[8:16], maxTS)
	endian.Storage.PutUint64(footer[16:24], bloomOffset)
	endian.Storage.PutUint32(footer[24:28], uint32(bloomBuf.Len()))
	endian.Storage.PutUint32(footer[28:32], footerMagic)
	file.Write(footer[:])

	path := filepath.Join(dir, Filename(stamp))
	f, err := os.Create(path)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "create sstable file", err)
	}
	if _, err := f.Write(file.Bytes()); err != nil {
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrIO, "write sstable file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrIO, "sync sstable file", err)
	}
	if err := f.Close(); err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "close sstable after write", err)
	}

	return Open(path)
}

// Open memory-maps path read-only and parses its index and footer.
func Open(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrIO, "open sstable file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrIO, "stat sstable file", err)
	}
	if info.Size() < 4+footerSize {
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrData, "sstable file too short", fmt.Errorf("%s: %d bytes", path, info.Size()))
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrMemoryMap, "mmap sstable file", err)
	}

	sst := &SSTable{path: path, f: f, data: data, index: map[seriesid.ID]indexEntry{}, keys: map[seriesid.ID]series.Key{}}

	footer := data[len(data)-footerSize:]
	magic := endian.Storage.Uint32(footer[28:32])
	if magic != footerMagic {
		data.Unmap()
		f.Close()
		return nil, storeerr.Wrap(storeerr.ErrData, "sstable footer magic mismatch", fmt.Errorf("%s: got %x", path, magic))
	}
	sst.minTS = endian.Storage.Uint64(footer[0:8])
	sst.maxTS = endian.Storage.Uint64(footer[8:16])
	bloomOffset := endian.Storage.Uint64(footer[16:24])
	bloomLen := endian.Storage.Uint32(footer[24:28])

	if bloomLen > 0 {
		bf := &bloom.BloomFilter{}
		if _, err := bf.ReadFrom(bytes.NewReader(data[bloomOffset : bloomOffset+uint64(bloomLen)])); err != nil {
			data.Unmap()
			f.Close()
			return nil, storeerr.Wrap(storeerr.ErrSerialization, "decode bloom filter", err)
		}
		sst.bloom = bf
	}

	count := endian.Storage.Uint32(data[0:4])
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(data) {
			data.Unmap()
			f.Close()
			return nil, storeerr.Wrap(storeerr.ErrData, "sstable index truncated", fmt.Errorf("%s: entry %d", path, i))
		}
		klen := int(endian.Storage.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+klen+16 > len(data) {
			data.Unmap()
			f.Close()
			return nil, storeerr.Wrap(storeerr.ErrData, "sstable index entry truncated", fmt.Errorf("%s: entry %d", path, i))
		}
		var kj keyJSON
		if err := json.Unmarshal(data[pos:pos+klen], &kj); err != nil {
			data.Unmap()
			f.Close()
			return nil, storeerr.Wrap(storeerr.ErrSerialization, "unmarshal series key", err)
		}
		pos += klen

		off := endian.Storage.Uint64(data[pos : pos+8])
		pos += 8
		length := endian.Storage.Uint64(data[pos : pos+8])
		pos += 8

		key := kj.toKey()
		id := seriesid.Of(key.Canonical())
		sst.index[id] = indexEntry{offset: off, length: length}
		sst.keys[id] = key
	}

	return sst, nil
}

// FieldPoints maps a field name to its decoded, timestamp-filtered points.
type FieldPoints = map[string][]codec.Point

// Query returns, for each indexed series matching filter, the decoded
// points of every requested field (or every field present if fields is
// empty) whose timestamp lies in [start, end].
func (s *SSTable) Query(filter series.Key, fields []string, start, end uint64) (map[series.Key]FieldPoints, error) {
	result := make(map[series.Key]FieldPoints)

	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	for id, key := range s.keys {
		if !key.Matches(filter) {
			continue
		}
		if s.bloom != nil && !s.hasSeries(id) {
			continue
		}

		entry := s.index[id]
		payload := s.data[entry.offset : entry.offset+entry.length]

		decoded, err := decodePayload(payload, want, start, end)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.ErrCompression, fmt.Sprintf("decode series %s", key.Canonical()), err)
		}
		if len(decoded) > 0 {
			result[key] = decoded
		}
	}

	return result, nil
}

func decodePayload(payload []byte, want map[string]bool, start, end uint64) (FieldPoints, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("payload too short for field count")
	}
	fieldCount := endian.Storage.Uint32(payload[0:4])
	pos := 4

	out := make(FieldPoints)
	for i := uint32(0); i < fieldCount; i++ {
		if pos+4 > len(payload) {
			return nil, fmt.Errorf("truncated field name length at field %d", i)
		}
		nlen := int(endian.Storage.Uint32(payload[pos : pos+4]))
		pos += 4
		if pos+nlen+4 > len(payload) {
			return nil, fmt.Errorf("truncated field name at field %d", i)
		}
		name := string(payload[pos : pos+nlen])
		pos += nlen

		blen := int(endian.Storage.Uint32(payload[pos : pos+4]))
		pos += 4
		if pos+blen > len(payload) {
			return nil, fmt.Errorf("truncated block for field %q", name)
		}
		block := payload[pos : pos+blen]
		pos += blen

		if len(want) > 0 && !want[name] {
			continue
		}

		points, err := codec.DecodeBlock(block)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}

		filtered := points[:0:0]
		for _, p := range points {
			if p.TS >= start && p.TS <= end {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			out[name] = filtered
		}
	}

	return out, nil
}

func dedupSortedByTS(points []codec.Point) []codec.Point {
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

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	endian.Storage.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	endian.Storage.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
