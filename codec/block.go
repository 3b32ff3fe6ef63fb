// Package codec implements the Gorilla-style compressed block: delta-of-
// delta timestamp encoding plus XOR float encoding over a bit-packed
// stream, framed with a little-endian point count.
//
// See https://www.vldb.org/pvldb/vol8/p1816-teller.pdf for the algorithm
// this is adapted from (the same paper arloliu/mebo's
// internal/encoding/numeric_gorilla.go cites); this implementation follows
// the simplified single-pass XOR scheme spec'd here rather than mebo's
// "reuse previous leading/trailing block" optimization.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/devraj-patil/flashseries/bitio"
)

// Point is a single (timestamp, value) pair as stored in a compressed
// block.
type Point struct {
	TS    uint64
	Value float64
}

// EncodeBlock compresses points into a self-delimited byte sequence: a
// little-endian u32 count followed by the Gorilla bitstream. points must
// already be sorted by TS ascending with no duplicate timestamps — callers
// (sstable.Create) are responsible for that ordering and dedup.
func EncodeBlock(points []Point) ([]byte, error) {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, uint32(len(points))); err != nil {
		return nil, err
	}

	if len(points) == 0 {
		return out.Bytes(), nil
	}

	bw := bitio.NewWriter(&out)
	first := points[0]
	if err := bw.WriteBits(first.TS, 64); err != nil {
		return nil, err
	}
	if err := bw.WriteBits(math.Float64bits(first.Value), 64); err != nil {
		return nil, err
	}

	prevTS := first.TS
	var prevDelta int64
	prevValueBits := math.Float64bits(first.Value)

	for _, p := range points[1:] {
		delta := int64(p.TS) - int64(prevTS)
		dod := delta - prevDelta
		if err := encodeDod(bw, dod); err != nil {
			return nil, err
		}
		prevDelta = delta
		prevTS = p.TS

		valueBits := math.Float64bits(p.Value)
		if err := encodeXOR(bw, valueBits^prevValueBits); err != nil {
			return nil, err
		}
		prevValueBits = valueBits
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeBlock reverses EncodeBlock. It returns exactly the encoded count of
// points or a data error describing the mismatch.
func DecodeBlock(data []byte) ([]Point, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("codec: block too short to hold a count: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint32(data[:4])
	if count == 0 {
		return []Point{}, nil
	}

	br := bitio.NewReader(bytes.NewReader(data[4:]))

	tsBits, err := br.ReadBits(64)
	if err != nil {
		return nil, fmt.Errorf("codec: reading first timestamp: %w", err)
	}
	valBits, err := br.ReadBits(64)
	if err != nil {
		return nil, fmt.Errorf("codec: reading first value: %w", err)
	}

	points := make([]Point, 1, count)
	points[0] = Point{TS: tsBits, Value: math.Float64frombits(valBits)}

	prevTS := tsBits
	var prevDelta int64
	prevValueBits := valBits

	for i := uint32(1); i < count; i++ {
		dod, err := decodeDod(br)
		if err != nil {
			return nil, fmt.Errorf("codec: decoding timestamp %d: %w", i, err)
		}
		delta := prevDelta + dod
		ts := uint64(int64(prevTS) + delta)
		prevDelta = delta
		prevTS = ts

		xorBits, err := decodeXOR(br, prevValueBits)
		if err != nil {
			return nil, fmt.Errorf("codec: decoding value %d: %w", i, err)
		}
		prevValueBits = xorBits

		points = append(points, Point{TS: ts, Value: math.Float64frombits(xorBits)})
	}

	if uint32(len(points)) != count {
		return nil, fmt.Errorf("codec: expected %d points, decoded %d", count, len(points))
	}

	return points, nil
}
