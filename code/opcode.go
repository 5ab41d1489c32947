package code

import (
	"fmt"
	"iter"
	"maps"
	"strings"
)

// Op is an opcode tag, stored in the low byte of an instruction word.
type Op uint8

const (
	OP_FUNC             = Op(0)  // func
	OP_STACK_ALLOC      = Op(1)  // stack.alloc
	OP_STACK_DEALLOC    = Op(2)  // stack.dealloc
	OP_HEAP_ALLOC       = Op(3)  // heap.alloc
	OP_HEAP_DEALLOC     = Op(4)  // heap.dealloc
	OP_MAKE16           = Op(5)  // make16
	OP_MAKE32           = Op(6)  // make32
	OP_MAKE64           = Op(7)  // make64
	OP_MAKE_FP          = Op(8)  // makefp
	OP_TRUNCATE         = Op(9)  // truncate
	OP_BOOL_NORM        = Op(10) // bool.norm
	OP_BOOL_NOT         = Op(11) // bool.not
	OP_ADD16            = Op(12) // add16
	OP_GET              = Op(13) // get
	OP_SET              = Op(14) // set
	OP_MEM_COPY         = Op(15) // memcopy
	OP_ADD              = Op(16) // add
	OP_SUB              = Op(17) // sub
	OP_MUL              = Op(18) // mul
	OP_DIV              = Op(19) // div
	OP_MOD              = Op(20) // mod
	OP_RSHIFT           = Op(21) // shr
	OP_LSHIFT           = Op(22) // shl
	OP_BIT_AND          = Op(23) // and
	OP_BIT_OR           = Op(24) // or
	OP_BIT_XOR          = Op(25) // xor
	OP_BIT_NOT          = Op(26) // not
	OP_FADD             = Op(27) // fadd
	OP_FSUB             = Op(28) // fsub
	OP_FMUL             = Op(29) // fmul
	OP_FDIV             = Op(30) // fdiv
	OP_FMOD             = Op(31) // fmod
	OP_COMP_LT          = Op(32) // lt
	OP_COMP_LEQ         = Op(33) // le
	OP_COMP_EQ          = Op(34) // eq
	OP_COMP_NEQ         = Op(35) // ne
	OP_JUMP             = Op(36) // jump
	OP_JUMP_IF_ZERO     = Op(37) // jump.z
	OP_JUMP_IF_NOT_ZERO = Op(38) // jump.nz
	OP_RET              = Op(39) // ret
	OP_CALL             = Op(40) // call
	OP_ECALL            = Op(41) // ecall
	OP_THROW            = Op(42) // throw

	OP_COUNT = 43 // Number of defined opcodes.
)

var opNames = [OP_COUNT]string{
	"func", "stack.alloc", "stack.dealloc", "heap.alloc", "heap.dealloc",
	"make16", "make32", "make64", "makefp",
	"truncate", "bool.norm", "bool.not", "add16",
	"get", "set", "memcopy",
	"add", "sub", "mul", "div", "mod", "shr", "shl", "and", "or", "xor", "not",
	"fadd", "fsub", "fmul", "fdiv", "fmod",
	"lt", "le", "eq", "ne",
	"jump", "jump.z", "jump.nz", "ret", "call", "ecall", "throw",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Valid returns true if the opcode is defined by the encoding.
func (op Op) Valid() bool {
	return op < OP_COUNT
}

// Implemented returns false for the encodings reserved for floating point,
// which are decoded but never executed.
func (op Op) Implemented() bool {
	return op.Valid() && (op < OP_FADD || op > OP_FMOD)
}

// OpByName looks up an opcode by its assembly mnemonic.
func OpByName(name string) (op Op, ok bool) {
	for n, str := range opNames {
		if str == name {
			return Op(n), true
		}
	}
	return
}

// EcallKind is an environment call type.
type EcallKind uint8

const (
	ECALL_PRINT         = EcallKind(0) // print
	ECALL_PRINT_NEWLINE = EcallKind(1) // newline
	ECALL_EXIT_SUCCESS  = EcallKind(2) // exit
)

var ecallNames = map[EcallKind]string{
	ECALL_PRINT:         "print",
	ECALL_PRINT_NEWLINE: "newline",
	ECALL_EXIT_SUCCESS:  "exit",
}

func (kind EcallKind) String() string {
	str, ok := ecallNames[kind]
	if !ok {
		return fmt.Sprintf("EcallKind(%d)", uint8(kind))
	}
	return str
}

// EcallByName looks up an ecall kind by its assembly mnemonic.
func EcallByName(name string) (kind EcallKind, ok bool) {
	for k, str := range ecallNames {
		if str == name {
			return k, true
		}
	}
	return
}

// Slot is a stack slot reference; low byte is the frame relative stack id,
// high byte is the byte offset into that allocation.
type Slot uint16

// MakeSlot creates a stack slot reference.
func MakeSlot(id, offset uint8) Slot {
	return Slot(uint16(offset)<<8 | uint16(id))
}

// Id returns the frame relative stack id.
func (slot Slot) Id() uint32 {
	return uint32(slot & 0xff)
}

// Offset returns the byte offset.
func (slot Slot) Offset() uint32 {
	return uint32(slot >> 8)
}

func (slot Slot) String() string {
	return fmt.Sprintf("@%d+%d", slot.Id(), slot.Offset())
}

// Word is a single tagged instruction word.
//
//	bits  0-7   opcode
//	bits  8-15  operand A
//	bits 16-23  operand B (or low byte of the 16-bit field)
//	bits 24-31  operand C (or high byte of the 16-bit field)
type Word uint32

func makeWord(op Op, a, b, c uint8) Word {
	return Word(uint32(op) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24)
}

func makeWord16(op Op, a uint8, value uint16) Word {
	return Word(uint32(op) | uint32(a)<<8 | uint32(value)<<16)
}

// Op returns the opcode tag.
func (word Word) Op() Op {
	return Op(word & 0xff)
}

func (word Word) a() uint8 {
	return uint8(word >> 8)
}

func (word Word) b() uint8 {
	return uint8(word >> 16)
}

func (word Word) c() uint8 {
	return uint8(word >> 24)
}

func (word Word) u16() uint16 {
	return uint16(word >> 16)
}

// StackAllocDecode decodes STACK_ALLOC.
func (word Word) StackAllocDecode() (out Reg, length Length) {
	out = Reg(word.a())
	length = Length{Mantissa: word.b(), Shift: word.c()}
	return
}

// ValueDecode decodes the register and 16-bit field of STACK_DEALLOC,
// MAKE16, MAKE_FP and ADD16.
func (word Word) ValueDecode() (reg Reg, value uint16) {
	reg = Reg(word.a())
	value = word.u16()
	return
}

// SlotDecode decodes the register and stack slot of MAKE32, MAKE64,
// TRUNCATE, BOOL_NORM, BOOL_NOT and the conditional jumps.
func (word Word) SlotDecode() (reg Reg, slot Slot) {
	reg = Reg(word.a())
	slot = Slot(word.u16())
	return
}

// PairDecode decodes the two registers of GET, SET, HEAP_ALLOC and
// HEAP_DEALLOC.
func (word Word) PairDecode() (a, b Reg) {
	a = Reg(word.a())
	b = Reg(word.b())
	return
}

// ArithDecode decodes the three registers of the integer, comparison and
// MEM_COPY opcodes.
func (word Word) ArithDecode() (out, left, right Reg) {
	out = Reg(word.a())
	left = Reg(word.b())
	right = Reg(word.c())
	return
}

// CallDecode decodes CALL.
func (word Word) CallDecode() (out Reg, args int) {
	out = Reg(word.a())
	args = int(word.b())
	return
}

// EcallDecode decodes ECALL.
func (word Word) EcallDecode() (kind EcallKind, in1, in2 Reg) {
	kind = EcallKind(word.a())
	in1 = Reg(word.b())
	in2 = Reg(word.c())
	return
}

// ThrowDecode decodes THROW.
func (word Word) ThrowDecode() (skip int, message, length Reg) {
	skip = int(word.a())
	message = Reg(word.b())
	length = Reg(word.c())
	return
}

// Extra returns the number of raw 32-bit words following the instruction.
func (word Word) Extra() int {
	switch word.Op() {
	case OP_MAKE32, OP_JUMP, OP_JUMP_IF_ZERO, OP_JUMP_IF_NOT_ZERO, OP_CALL:
		return 1
	case OP_MAKE64:
		return 2
	}
	return 0
}

// String returns the disassembly of the tagged word.
func (word Word) String() string {
	op := word.Op()

	var args []string
	switch op {
	case OP_FUNC, OP_JUMP:
	case OP_STACK_ALLOC:
		out, length := word.StackAllocDecode()
		args = []string{out.String(), length.String()}
	case OP_STACK_DEALLOC:
		_, count := word.ValueDecode()
		args = []string{fmt.Sprint(count)}
	case OP_MAKE16, OP_ADD16, OP_MAKE_FP:
		reg, value := word.ValueDecode()
		args = []string{reg.String(), fmt.Sprint(value)}
	case OP_MAKE32, OP_MAKE64, OP_TRUNCATE, OP_BOOL_NORM, OP_BOOL_NOT,
		OP_JUMP_IF_ZERO, OP_JUMP_IF_NOT_ZERO:
		reg, slot := word.SlotDecode()
		args = []string{reg.String(), slot.String()}
	case OP_GET, OP_SET, OP_HEAP_ALLOC:
		a, b := word.PairDecode()
		args = []string{a.String(), b.String()}
	case OP_HEAP_DEALLOC, OP_RET:
		reg, _ := word.PairDecode()
		args = []string{reg.String()}
	case OP_CALL:
		out, count := word.CallDecode()
		args = []string{out.String(), fmt.Sprint(count)}
	case OP_ECALL:
		kind, in1, in2 := word.EcallDecode()
		args = []string{kind.String(), in1.String(), in2.String()}
	case OP_THROW:
		skip, msg, length := word.ThrowDecode()
		args = []string{fmt.Sprint(skip), msg.String(), length.String()}
	default:
		if !op.Valid() {
			return fmt.Sprintf("?0x%08x", uint32(word))
		}
		out, left, right := word.ArithDecode()
		args = []string{out.String(), left.String(), right.String()}
	}

	return strings.Join(append([]string{op.String()}, args...), " ")
}

// Code is a tagged instruction word with the raw words that follow it.
type Code struct {
	Word       Word
	Immediates []uint32
}

// Words returns the code as a flat instruction stream fragment.
func (code Code) Words() (words []uint32) {
	words = append(words, uint32(code.Word))
	words = append(words, code.Immediates...)
	return
}

func (code Code) String() string {
	if len(code.Immediates) == 0 {
		return code.Word.String()
	}
	return fmt.Sprintf("%v imm:%#v", code.Word, code.Immediates)
}

// MakeCodeFunc creates a function marker.
func MakeCodeFunc() Code {
	return Code{Word: makeWord(OP_FUNC, 0, 0, 0)}
}

// MakeCodeStackAlloc creates a stack allocation, optionally saving the
// pointer into out.
func MakeCodeStackAlloc(out Reg, length Length) Code {
	return Code{Word: makeWord(OP_STACK_ALLOC, uint8(out), length.Mantissa, length.Shift)}
}

// MakeCodeStackDealloc creates a deallocation of the newest count stack
// variables.
func MakeCodeStackDealloc(count uint16) Code {
	return Code{Word: makeWord16(OP_STACK_DEALLOC, 0, count)}
}

// MakeCodeHeapAlloc creates a heap allocation of size bytes.
func MakeCodeHeapAlloc(out, size Reg) Code {
	return Code{Word: makeWord(OP_HEAP_ALLOC, uint8(out), uint8(size), 0)}
}

// MakeCodeHeapDealloc creates a heap free.
func MakeCodeHeapDealloc(pointer Reg) Code {
	return Code{Word: makeWord(OP_HEAP_DEALLOC, uint8(pointer), 0, 0)}
}

// MakeCodeMake16 loads a 16-bit immediate.
func MakeCodeMake16(out Reg, value uint16) Code {
	return Code{Word: makeWord16(OP_MAKE16, uint8(out), value)}
}

// MakeCodeMake32 loads a 32-bit immediate into out, or into slot if out is
// null.
func MakeCodeMake32(out Reg, slot Slot, value uint32) Code {
	return Code{
		Word:       makeWord16(OP_MAKE32, uint8(out), uint16(slot)),
		Immediates: []uint32{value},
	}
}

// MakeCodeMake64 loads a 64-bit immediate into out, or into slot if out is
// null. The low half is the first raw word.
func MakeCodeMake64(out Reg, slot Slot, value uint64) Code {
	return Code{
		Word:       makeWord16(OP_MAKE64, uint8(out), uint16(slot)),
		Immediates: []uint32{uint32(value), uint32(value >> 32)},
	}
}

// MakeCodeMakeFp creates a pointer to a frame relative stack variable.
func MakeCodeMakeFp(out Reg, id uint16) Code {
	return Code{Word: makeWord16(OP_MAKE_FP, uint8(out), id)}
}

// MakeCodeSlotOp creates one of TRUNCATE, BOOL_NORM or BOOL_NOT.
func MakeCodeSlotOp(op Op, out Reg, slot Slot) Code {
	return Code{Word: makeWord16(op, uint8(out), uint16(slot))}
}

// MakeCodeAdd16 adds a 16-bit immediate to a 64-bit register.
func MakeCodeAdd16(out Reg, value uint16) Code {
	return Code{Word: makeWord16(OP_ADD16, uint8(out), value)}
}

// MakeCodeGet loads through a pointer.
func MakeCodeGet(out, pointer Reg) Code {
	return Code{Word: makeWord(OP_GET, uint8(out), uint8(pointer), 0)}
}

// MakeCodeSet stores through a pointer.
func MakeCodeSet(pointer, value Reg) Code {
	return Code{Word: makeWord(OP_SET, uint8(pointer), uint8(value), 0)}
}

// MakeCodeMemCopy copies length bytes from source to dest.
func MakeCodeMemCopy(source, dest, length Reg) Code {
	return Code{Word: makeWord(OP_MEM_COPY, uint8(source), uint8(dest), uint8(length))}
}

// MakeCodeArith creates a three register integer or comparison operation.
func MakeCodeArith(op Op, out, left, right Reg) Code {
	return Code{Word: makeWord(op, uint8(out), uint8(left), uint8(right))}
}

// MakeCodeJump creates an unconditional jump to an executable offset.
func MakeCodeJump(address uint32) Code {
	return Code{Word: makeWord(OP_JUMP, 0, 0, 0), Immediates: []uint32{address}}
}

// MakeCodeJumpIf creates a conditional jump; op is OP_JUMP_IF_ZERO or
// OP_JUMP_IF_NOT_ZERO. The tested value is in, or slot if in is null.
func MakeCodeJumpIf(op Op, in Reg, slot Slot, address uint32) Code {
	return Code{
		Word:       makeWord16(op, uint8(in), uint16(slot)),
		Immediates: []uint32{address},
	}
}

// MakeCodeRet creates a return of value to the caller.
func MakeCodeRet(value Reg) Code {
	return Code{Word: makeWord(OP_RET, uint8(value), 0, 0)}
}

// MakeCodeCall creates a call, handing the newest args stack variables to
// the callee.
func MakeCodeCall(out Reg, args uint8, address uint32) Code {
	return Code{
		Word:       makeWord(OP_CALL, uint8(out), args, 0),
		Immediates: []uint32{address},
	}
}

// MakeCodeEcall creates an environment call.
func MakeCodeEcall(kind EcallKind, in1, in2 Reg) Code {
	return Code{Word: makeWord(OP_ECALL, uint8(kind), uint8(in1), uint8(in2))}
}

// MakeCodeThrow creates a throw of the message string.
func MakeCodeThrow(skip uint8, message, length Reg) Code {
	return Code{Word: makeWord(OP_THROW, skip, uint8(message), uint8(length))}
}

var _code_defines = map[string]string{
	"REGISTER_COUNT": fmt.Sprint(REGISTER_COUNT),
	"REGISTER_BYTES": fmt.Sprint(REGISTER_BYTES),
	"REGISTER_CALL":  fmt.Sprint(REGISTER_CALL),
	"REG_NULL_ID":    fmt.Sprint(REG_NULL_ID),
}

// Defines returns the encoding constants for the assembler.
func Defines() iter.Seq2[string, string] {
	return maps.All(_code_defines)
}
