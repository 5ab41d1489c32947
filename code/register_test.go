package code

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReg_Fields(t *testing.T) {
	assert := assert.New(t)

	reg := MakeSignedReg(WIDTH_16, 8)
	assert.Equal(8, reg.Id())
	assert.Equal(WIDTH_16, reg.Width())
	assert.True(reg.Signed())
	assert.False(reg.IsNull())
	assert.Equal("r8.s16", reg.String())

	reg = MakeReg64(2)
	assert.Equal(2, reg.Id())
	assert.Equal(WIDTH_64, reg.Width())
	assert.False(reg.Signed())
	assert.Equal("r2.u64", reg.String())

	assert.True(REG_NULL.IsNull())
	assert.True(MakeSignedReg(WIDTH_8, REG_NULL_ID).IsNull())
	assert.Equal("-", REG_NULL.String())
	assert.False(MakeReg64(0).IsNull())
}

func TestWidth_Bytes(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, WIDTH_8.Bytes())
	assert.Equal(2, WIDTH_16.Bytes())
	assert.Equal(4, WIDTH_32.Bytes())
	assert.Equal(8, WIDTH_64.Bytes())
	assert.Equal("32", WIDTH_32.String())
}

func TestTruncate(t *testing.T) {
	assert := assert.New(t)

	value := uint64(0x1122_3344_5566_8788)

	assert.Equal(uint64(0x88), Truncate(WIDTH_8, value))
	assert.Equal(uint64(0x8788), Truncate(WIDTH_16, value))
	assert.Equal(uint64(0x5566_8788), Truncate(WIDTH_32, value))
	assert.Equal(value, Truncate(WIDTH_64, value))

	assert.Equal(int64(-0x78), SignExtendAndTruncate(WIDTH_8, value))
	assert.Equal(int64(-0x7878), SignExtendAndTruncate(WIDTH_16, value))
	assert.Equal(int64(0x5566_8788), SignExtendAndTruncate(WIDTH_32, value))
	assert.Equal(int64(value), SignExtendAndTruncate(WIDTH_64, value))
}

func TestTruncate_Idempotent(t *testing.T) {
	assert := assert.New(t)

	values := []uint64{
		0, 1, 0x7f, 0x80, 0xff, 0x8000, 0xffff, 0x8000_0000,
		0xdead_beef_cafe_f00d, 0xffff_ffff_ffff_ffff, 0x8000_0000_0000_0000,
	}

	for _, width := range []Width{WIDTH_8, WIDTH_16, WIDTH_32, WIDTH_64} {
		for _, value := range values {
			once := Truncate(width, value)
			assert.Equal(once, Truncate(width, once), "%v %#x", width, value)

			signed := SignExtendAndTruncate(width, value)
			assert.Equal(signed, SignExtendAndTruncate(width, uint64(signed)), "%v %#x", width, value)
		}
	}
}

func TestSignExtend_HighBit(t *testing.T) {
	assert := assert.New(t)

	for _, width := range []Width{WIDTH_8, WIDTH_16, WIDTH_32, WIDTH_64} {
		high := uint64(1) << (width.Bytes()*8 - 1)
		assert.Less(SignExtendAndTruncate(width, high), int64(0), "%v", width)
		assert.Less(SignExtendAndTruncate(width, high|1), int64(0), "%v", width)
		assert.GreaterOrEqual(SignExtendAndTruncate(width, high-1), int64(0), "%v", width)
	}

	// 32768 as a 16-bit signed value.
	assert.Equal(int64(-32768), SignExtendAndTruncate(WIDTH_16, 32768))
}
