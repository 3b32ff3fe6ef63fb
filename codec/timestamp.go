package codec

import "github.com/devraj-patil/flashseries/bitio"

// Delta-of-delta timestamp encoding. The first timestamp of a block is
// written verbatim by the caller (block.go); this file only encodes the
// signed difference between successive deltas using a unary control prefix
// that picks the narrowest payload width covering the value.
//
//	dod range          prefix  payload bits
//	0                  0       0
//	[-63, 64]          10      7
//	[-255, 256]        110     9
//	[-2047, 2048]      1110    12
//	otherwise          1111    32
//
// Prefixes are listed in the order their bits are written and read. WriteBits
// emits the least-significant bit first, so the prefix literals passed to it
// below are bit-reversed (0b01 puts 1 then 0 on the stream).

func encodeDod(bw *bitio.Writer, dod int64) error {
	switch {
	case dod == 0:
		return bw.WriteBits(0, 1)
	case dod >= -63 && dod <= 64:
		if err := bw.WriteBits(0b01, 2); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod)&mask(7), 7)
	case dod >= -255 && dod <= 256:
		if err := bw.WriteBits(0b011, 3); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod)&mask(9), 9)
	case dod >= -2047 && dod <= 2048:
		if err := bw.WriteBits(0b0111, 4); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod)&mask(12), 12)
	default:
		if err := bw.WriteBits(0b1111, 4); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod)&mask(32), 32)
	}
}

func decodeDod(br *bitio.Reader) (int64, error) {
	b, err := br.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		return 0, nil
	}

	b, err = br.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := br.ReadBits(7)
		if err != nil {
			return 0, err
		}
		return signExtendBucket(v, 7), nil
	}

	b, err = br.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := br.ReadBits(9)
		if err != nil {
			return 0, err
		}
		return signExtendBucket(v, 9), nil
	}

	b, err = br.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := br.ReadBits(12)
		if err != nil {
			return 0, err
		}
		return signExtendBucket(v, 12), nil
	}

	v, err := br.ReadBits(32)
	if err != nil {
		return 0, err
	}
	return signExtend(v, 32), nil
}

func mask(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// signExtend interprets the low n bits of v as a two's-complement integer.
func signExtend(v uint64, n uint) int64 {
	signBit := uint64(1) << (n - 1)
	if v&signBit != 0 {
		v |= ^uint64(0) << n
	}
	return int64(v)
}

// signExtendBucket decodes the payload of a bounded n-bit bucket. Such a
// bucket covers [-(2^(n-1)-1), 2^(n-1)], so the one pattern that sign-extends
// to -2^(n-1) can only have been written for +2^(n-1).
func signExtendBucket(v uint64, n uint) int64 {
	d := signExtend(v, n)
	if d == -(int64(1) << (n - 1)) {
		return -d
	}
	return d
}
