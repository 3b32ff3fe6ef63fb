package wal

import (
	"bufio"
	"io"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/devraj-patil/flashseries/internal/endian"
	"github.com/devraj-patil/flashseries/series"
)

// On-disk record layout (big-endian, per spec.md §4.3 — a stable order
// distinct from the codec/SSTable's little-endian framing, see
// internal/endian):
//
//	ts:        u64
//	tag_count: u32
//	repeat tag_count:
//	  key_len: u32, key_bytes, val_len: u32, val_bytes
//	field_count: u32
//	repeat field_count:
//	  key_len: u32, key_bytes, value: f64
//
// The wire format has no dedicated measurement field. Following the same
// convention Prometheus uses for its reserved "__name__" label,
// withMeasurement folds the measurement into the tag set under
// reservedNameTag before encodeRecord is called, and splitMeasurement splits
// it back out after decodeRecord (see wal.go) — the record
// codec itself only ever sees tags and fields.
const reservedNameTag = "__name__"

func encodeRecord(w io.Writer, p series.DataPoint) error {
	var buf [8]byte

	endian.WAL.PutUint64(buf[:8], p.Timestamp)
	if _, err := w.Write(buf[:8]); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(p.Tags))); err != nil {
		return err
	}
	for _, name := range sortedKeys(p.Tags) {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := writeString(w, p.Tags[name]); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(p.Fields))); err != nil {
		return err
	}
	for _, name := range sortedFieldKeys(p.Fields) {
		if err := writeString(w, name); err != nil {
			return err
		}
		endian.WAL.PutUint64(buf[:8], math.Float64bits(p.Fields[name]))
		if _, err := w.Write(buf[:8]); err != nil {
			return err
		}
	}

	return nil
}

// decodeRecord reads one record from r. io.EOF is returned only when r is
// exhausted exactly at a record boundary (a clean end of file); any other
// truncation surfaces as io.ErrUnexpectedEOF so the caller can tell a clean
// stop from a torn final record.
//
// The returned skipped count is the number of tag/field pairs dropped
// because a key or value was not valid UTF-8 — the record boundary is
// already tracked by key_len/val_len, so decoding continues past a
// malformed pair, but Load needs this count to log the warning spec.md
// requires rather than silently dropping data.
func decodeRecord(r *bufio.Reader) (series.DataPoint, int, error) {
	var p series.DataPoint
	var skipped int

	tsBytes, err := readFull(r, 8)
	if err != nil {
		if err == io.EOF {
			return p, 0, io.EOF
		}
		return p, 0, io.ErrUnexpectedEOF
	}
	p.Timestamp = endian.WAL.Uint64(tsBytes)

	tagCount, err := readUint32(r)
	if err != nil {
		return p, 0, io.ErrUnexpectedEOF
	}

	p.Tags = make(map[string]string, tagCount)
	for i := uint32(0); i < tagCount; i++ {
		key, err := readString(r)
		if err != nil {
			return p, skipped, io.ErrUnexpectedEOF
		}
		val, err := readString(r)
		if err != nil {
			return p, skipped, io.ErrUnexpectedEOF
		}
		if !utf8.Valid(key) || !utf8.Valid(val) {
			skipped++
			continue
		}
		p.Tags[string(key)] = string(val)
	}

	fieldCount, err := readUint32(r)
	if err != nil {
		return p, skipped, io.ErrUnexpectedEOF
	}

	p.Fields = make(map[string]float64, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		key, err := readString(r)
		if err != nil {
			return p, skipped, io.ErrUnexpectedEOF
		}
		valBytes, err := readFull(r, 8)
		if err != nil {
			return p, skipped, io.ErrUnexpectedEOF
		}
		if !utf8.Valid(key) {
			skipped++
			continue
		}
		p.Fields[string(key)] = math.Float64frombits(endian.WAL.Uint64(valBytes))
	}

	return p, skipped, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	endian.WAL.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readUint32(r *bufio.Reader) (uint32, error) {
	b, err := readFull(r, 4)
	if err != nil {
		return 0, err
	}
	return endian.WAL.Uint32(b), nil
}

func readString(r *bufio.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	return readFull(r, int(n))
}

func readFull(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
