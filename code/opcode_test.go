package code

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWord_Decode(t *testing.T) {
	assert := assert.New(t)

	code := MakeCodeStackAlloc(MakeReg64(1), MakeLength(300))
	out, length := code.Word.StackAllocDecode()
	assert.Equal(OP_STACK_ALLOC, code.Word.Op())
	assert.Equal(MakeReg64(1), out)
	assert.Equal(MakeLength(300), length)
	assert.Equal(0, code.Word.Extra())

	code = MakeCodeArith(OP_ADD, MakeSignedReg(WIDTH_16, 8), MakeReg(WIDTH_64, 2), MakeReg(WIDTH_64, 3))
	dst, left, right := code.Word.ArithDecode()
	assert.Equal(OP_ADD, code.Word.Op())
	assert.Equal(MakeSignedReg(WIDTH_16, 8), dst)
	assert.Equal(MakeReg(WIDTH_64, 2), left)
	assert.Equal(MakeReg(WIDTH_64, 3), right)
	assert.Equal("add r8.s16 r2.u64 r3.u64", code.Word.String())

	code = MakeCodeStackDealloc(0x1234)
	_, count := code.Word.ValueDecode()
	assert.Equal(uint16(0x1234), count)

	code = MakeCodeEcall(ECALL_PRINT, MakeReg64(4), REG_NULL)
	kind, in1, in2 := code.Word.EcallDecode()
	assert.Equal(ECALL_PRINT, kind)
	assert.Equal(MakeReg64(4), in1)
	assert.True(in2.IsNull())
	assert.Equal("ecall print r4.u64 -", code.Word.String())

	code = MakeCodeThrow(2, MakeReg64(5), MakeReg64(6))
	skip, msg, msglen := code.Word.ThrowDecode()
	assert.Equal(2, skip)
	assert.Equal(MakeReg64(5), msg)
	assert.Equal(MakeReg64(6), msglen)

	code = MakeCodeCall(MakeReg64(9), 3, 0x40)
	cout, args := code.Word.CallDecode()
	assert.Equal(MakeReg64(9), cout)
	assert.Equal(3, args)
	assert.Equal([]uint32{0x40}, code.Immediates)
}

func TestCode_Immediates(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name  string
		code  Code
		extra int
		words []uint32
	}){
		{"make64", MakeCodeMake64(MakeReg64(2), MakeSlot(1, 4), 0x1122334455667788), 2,
			[]uint32{uint32(makeWord16(OP_MAKE64, uint8(MakeReg64(2)), 0x0401)), 0x55667788, 0x11223344}},
		{"make32", MakeCodeMake32(REG_NULL, MakeSlot(0, 0), 0xcafe), 1,
			[]uint32{uint32(makeWord16(OP_MAKE32, uint8(REG_NULL), 0)), 0xcafe}},
		{"jump", MakeCodeJump(0x10), 1,
			[]uint32{uint32(OP_JUMP), 0x10}},
		{"jump.z", MakeCodeJumpIf(OP_JUMP_IF_ZERO, MakeReg64(1), 0, 0x20), 1,
			[]uint32{uint32(makeWord16(OP_JUMP_IF_ZERO, uint8(MakeReg64(1)), 0)), 0x20}},
		{"ret", MakeCodeRet(REG_NULL), 0,
			[]uint32{uint32(makeWord(OP_RET, uint8(REG_NULL), 0, 0))}},
	}

	for _, entry := range table {
		assert.Equal(entry.extra, entry.code.Word.Extra(), entry.name)
		assert.Equal(entry.extra, len(entry.code.Immediates), entry.name)
		assert.Equal(entry.words, entry.code.Words(), entry.name)
	}
}

func TestSlot(t *testing.T) {
	assert := assert.New(t)

	slot := MakeSlot(3, 16)
	assert.Equal(uint32(3), slot.Id())
	assert.Equal(uint32(16), slot.Offset())
	assert.Equal("@3+16", slot.String())
}

func TestOp_Names(t *testing.T) {
	assert := assert.New(t)

	for n := range OP_COUNT {
		op := Op(n)
		assert.True(op.Valid())
		found, ok := OpByName(op.String())
		assert.True(ok, op.String())
		assert.Equal(op, found)
	}

	assert.False(Op(OP_COUNT).Valid())
	assert.False(OP_FADD.Implemented())
	assert.False(OP_FMOD.Implemented())
	assert.True(OP_ADD.Implemented())
	assert.True(OP_COMP_LT.Implemented())
	assert.Equal("Op(200)", Op(200).String())

	kind, ok := EcallByName("exit")
	assert.True(ok)
	assert.Equal(ECALL_EXIT_SUCCESS, kind)
	_, ok = EcallByName("launch")
	assert.False(ok)
}

func TestWord_StringInvalid(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("?0x000000ff", Word(0xff).String())
}
