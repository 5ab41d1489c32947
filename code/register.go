package code

import (
	"fmt"
)

// Width is a register operand width class.
type Width int

const (
	WIDTH_8  = Width(0) // 8
	WIDTH_16 = Width(1) // 16
	WIDTH_32 = Width(2) // 32
	WIDTH_64 = Width(3) // 64
)

// Bytes returns the number of bytes covered by the width class.
func (width Width) Bytes() int {
	return 1 << (width & 3)
}

func (width Width) String() string {
	return fmt.Sprintf("%d", width.Bytes()*8)
}

const (
	REGISTER_COUNT = 32 // Registers per frame.
	REGISTER_BYTES = 8  // Bytes per register.
	REGISTER_CALL  = 0  // Register reserved for call and return values.
	REG_NULL_ID    = 31 // Register id reserved as the 'no register' sentinel.
)

// Reg is a register operand descriptor.
//
//	bit  7    signedness (1 = sign extend)
//	bits 5-6  width class
//	bits 0-4  register id; REG_NULL_ID means no register
type Reg uint8

// REG_NULL is a 64-bit, unsigned, absent register.
const REG_NULL = Reg((uint8(WIDTH_64) << 5) | REG_NULL_ID)

// MakeReg creates an unsigned register operand.
func MakeReg(width Width, id int) Reg {
	return Reg((uint8(width&3) << 5) | uint8(id&0x1f))
}

// MakeSignedReg creates a signed register operand.
func MakeSignedReg(width Width, id int) Reg {
	return MakeReg(width, id) | 0x80
}

// MakeReg64 creates an unsigned 64-bit register operand.
func MakeReg64(id int) Reg {
	return MakeReg(WIDTH_64, id)
}

// Id returns the register id.
func (reg Reg) Id() int {
	return int(reg & 0x1f)
}

// IsNull returns true if the operand names no register.
func (reg Reg) IsNull() bool {
	return reg.Id() == REG_NULL_ID
}

// Width returns the width class.
func (reg Reg) Width() Width {
	return Width((reg >> 5) & 3)
}

// Signed returns true if the operand sign extends.
func (reg Reg) Signed() bool {
	return (reg & 0x80) != 0
}

func (reg Reg) String() string {
	if reg.IsNull() {
		return "-"
	}

	sign := "u"
	if reg.Signed() {
		sign = "s"
	}

	return fmt.Sprintf("r%d.%v%v", reg.Id(), sign, reg.Width())
}

// shiftOf returns the number of high bits to discard for a width class.
func shiftOf(width Width) uint {
	return uint(8-width.Bytes()) * 8
}

// Truncate masks value to the width, zero extending.
func Truncate(width Width, value uint64) uint64 {
	shift := shiftOf(width)
	return (value << shift) >> shift
}

// SignExtendAndTruncate masks value to the width, sign extending.
func SignExtendAndTruncate(width Width, value uint64) int64 {
	shift := shiftOf(width)
	return int64(value<<shift) >> shift
}
