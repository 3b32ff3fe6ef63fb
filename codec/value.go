package codec

import (
	"math/bits"

	"github.com/devraj-patil/flashseries/bitio"
)

// XOR-based float compression. x is the XOR of the current value's bits
// against the previous value's bits:
//
//   - x == 0: emit a single 0 bit (value unchanged).
//   - x != 0: emit 1, then 5-bit leading-zero count (capped at 31, the
//     largest value 5 bits hold; the capped zeros go out with the
//     meaningful bits), then 6-bit
//     significant-bit count, then that many meaningful bits of x shifted
//     down by its trailing-zero count.
//
// significant_bits ranges 1..64; a 6-bit field only reaches 0..63, so it is
// stored as (significant_bits - 1) and read back with +1 — the standard fix
// for the "all 64 bits meaningful" edge case (e.g. xoring two values whose
// highest and lowest bits both flip), which the literal prose description
// glosses over but which correctness requires.
func encodeXOR(bw *bitio.Writer, x uint64) error {
	if x == 0 {
		return bw.WriteBit(false)
	}
	if err := bw.WriteBit(true); err != nil {
		return err
	}

	leading := bits.LeadingZeros64(x)
	if leading > 31 {
		leading = 31
	}
	trailing := bits.TrailingZeros64(x)
	significant := 64 - leading - trailing

	if err := bw.WriteBits(uint64(leading), 5); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(significant-1), 6); err != nil {
		return err
	}
	return bw.WriteBits(x>>uint(trailing), uint(significant))
}

func decodeXOR(br *bitio.Reader, prevBits uint64) (uint64, error) {
	control, err := br.ReadBit()
	if err != nil {
		return 0, err
	}
	if !control {
		return prevBits, nil
	}

	leadingBits, err := br.ReadBits(5)
	if err != nil {
		return 0, err
	}
	significantBits, err := br.ReadBits(6)
	if err != nil {
		return 0, err
	}
	leading := uint(leadingBits)
	significant := uint(significantBits) + 1

	meaningful, err := br.ReadBits(significant)
	if err != nil {
		return 0, err
	}

	trailing := 64 - leading - significant
	x := meaningful << trailing
	return prevBits ^ x, nil
}
