package code

import (
	"fmt"
	"math"
	"math/bits"
)

// Length is an allocation size compressed into an 8-bit mantissa and an
// 8-bit shift. The decompressed value is Mantissa << Shift.
type Length struct {
	Mantissa uint8
	Shift    uint8
}

// MakeLength compresses a length. Lengths that cannot be represented
// exactly are rounded up, never down.
func MakeLength(n uint32) (length Length) {
	shift := max(bits.Len32(n)-8, 0)

	if shift <= bits.TrailingZeros32(n) {
		length = Length{Mantissa: uint8(n >> shift), Shift: uint8(shift)}
		return
	}

	// Lossy; bump by one unit of the current shift and renormalize.
	rounded := uint64(n) + (uint64(1) << shift)
	shift = max(bits.Len64(rounded)-8, 0)
	length = Length{Mantissa: uint8(rounded >> shift), Shift: uint8(shift)}

	return
}

// Len returns the decompressed length, saturating at math.MaxUint64.
func (length Length) Len() uint64 {
	if length.Mantissa != 0 && bits.Len8(length.Mantissa)+int(length.Shift) > 64 {
		return math.MaxUint64
	}
	return uint64(length.Mantissa) << length.Shift
}

// Exact returns true if n compresses without loss.
func Exact(n uint32) bool {
	return MakeLength(n).Len() == uint64(n)
}

func (length Length) String() string {
	return fmt.Sprintf("%d<<%d", length.Mantissa, length.Shift)
}
