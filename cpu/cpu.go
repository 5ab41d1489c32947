package cpu

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"

	"github.com/ezrec/regvm/arena"
	"github.com/ezrec/regvm/code"
)

// Cpu is the interpreter for one program run.
type Cpu struct {
	Verbose bool // Set to enable verbose logging.

	*Memory // Register file, frames and arena.

	Output io.Writer // Sink for the print ecalls.

	Halted bool // Set by the exit ecall.
	Ticks  int  // Instructions executed.
}

// NewCpu loads a program into a fresh arena and prepares the root frame.
func NewCpu(program []uint32, limits Limits) (cpu *Cpu, err error) {
	tracker := arena.NewTracker()

	words, err := tracker.AllocateExecutable(len(program))
	if err != nil {
		return
	}
	words.Load(program)

	mem, err := NewMemory(tracker, limits)
	if err != nil {
		return
	}

	cpu = &Cpu{
		Memory: mem,
		Output: io.Discard,
	}

	return
}

// String returns the current CPU state as a string.
func (cpu *Cpu) String() (text string) {
	var lines []string

	lines = append(lines, fmt.Sprintf("   pc: %#x", cpu.Frame.Pc))
	lines = append(lines, fmt.Sprintf("depth: %d", cpu.Frames.Len()))
	lines = append(lines, fmt.Sprintf("stack: %d vars, %d bytes", cpu.StackMap.Len(), cpu.StackBytes))

	for id := range code.REG_NULL_ID {
		value, _ := cpu.ReadRegister(id)
		if value == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%5s: %016x", fmt.Sprintf("r%d", id), value))
	}

	text = strings.Join(lines, "\n") + "\n"
	return
}

// FetchCode fetches the instruction at the program counter, with the raw
// words that follow it.
func (cpu *Cpu) FetchCode() (c code.Code, err error) {
	pc := cpu.Frame.Pc

	word, err := cpu.FetchAt(pc)
	if err != nil {
		return
	}

	c.Word = code.Word(word)

	for n := range c.Word.Extra() {
		var imm uint32
		imm, err = cpu.FetchAt(pc + 4*uint32(n+1))
		if err != nil {
			err = errors.Join(ErrOpcode{Pc: pc, Code: c}, err)
			return
		}
		c.Immediates = append(c.Immediates, imm)
	}

	return
}

// Tick executes a single instruction.
func (cpu *Cpu) Tick() (err error) {
	if cpu.Halted {
		err = ErrHalted
		return
	}

	cpu.Memory.Verbose = cpu.Verbose
	cpu.Tracker.Verbose = cpu.Verbose

	c, err := cpu.FetchCode()
	if err != nil {
		return
	}

	err = cpu.Execute(c)
	return
}

// Run executes instructions until the exit ecall, or an error.
func (cpu *Cpu) Run() (err error) {
	for !cpu.Halted {
		err = cpu.Tick()
		if err != nil {
			return
		}
	}

	return
}

// narrow reduces a 64-bit result to the width of reg, sign extending if reg
// is signed.
func narrow(reg code.Reg, value uint64) uint64 {
	if reg.Signed() {
		return uint64(code.SignExtendAndTruncate(reg.Width(), value))
	}
	return code.Truncate(reg.Width(), value)
}

// extend widens a value of width to 64 bits.
func extend(width code.Width, signed bool, value uint64) uint64 {
	if signed {
		return uint64(code.SignExtendAndTruncate(width, value))
	}
	return code.Truncate(width, value)
}

// readInput reads an input register, sign extending it when signed is set.
func (cpu *Cpu) readInput(reg code.Reg, signed bool) (value uint64, err error) {
	if reg.IsNull() {
		err = ErrRegisterNull
		return
	}

	if signed {
		var svalue int64
		svalue, err = cpu.ReadSigned(reg)
		value = uint64(svalue)
		return
	}

	return cpu.ReadUnsigned(reg)
}

// readPointer reads a pointer register.
func (cpu *Cpu) readPointer(reg code.Reg) (ptr arena.Pointer, err error) {
	if reg.IsNull() {
		err = ErrRegisterNull
		return
	}

	return cpu.ReadPointer(reg)
}

// writeOut narrows a value to an output register, and stores it.
func (cpu *Cpu) writeOut(reg code.Reg, value uint64) (err error) {
	if reg.IsNull() {
		err = ErrRegisterNull
		return
	}

	if reg.Id() == code.REGISTER_CALL {
		err = ErrRegisterReserved
		return
	}

	return cpu.WriteRegister(reg.Id(), narrow(reg, value))
}

// readSlot reads a stack slot with the width and sign of reg.
func (cpu *Cpu) readSlot(reg code.Reg, slot code.Slot) (value uint64, err error) {
	ptr, err := cpu.SlotPointer(slot)
	if err != nil {
		return
	}

	raw, err := cpu.Load(ptr, reg.Width().Bytes())
	if err != nil {
		return
	}

	value = narrow(reg, raw)
	return
}

// writeSlot writes a stack slot with the width of reg.
func (cpu *Cpu) writeSlot(reg code.Reg, slot code.Slot, value uint64) (err error) {
	ptr, err := cpu.SlotPointer(slot)
	if err != nil {
		return
	}

	return cpu.Store(ptr, reg.Width().Bytes(), value)
}

// readTarget reads a register, or the stack slot when the register is null.
func (cpu *Cpu) readTarget(reg code.Reg, slot code.Slot) (value uint64, err error) {
	if reg.IsNull() {
		return cpu.readSlot(reg, slot)
	}

	return cpu.readInput(reg, reg.Signed())
}

// writeTarget writes a register, or the stack slot when the register is
// null.
func (cpu *Cpu) writeTarget(reg code.Reg, slot code.Slot, value uint64) (err error) {
	if reg.IsNull() {
		return cpu.writeSlot(reg, slot, value)
	}

	return cpu.writeOut(reg, value)
}

// inPlace rewrites a register, or the 64-bit stack slot when the register
// is null, for TRUNCATE, BOOL_NORM and BOOL_NOT.
func (cpu *Cpu) inPlace(op code.Op, out code.Reg, slot code.Slot) (err error) {
	var ptr arena.Pointer
	var value uint64

	if out.IsNull() {
		ptr, err = cpu.SlotPointer(slot)
		if err != nil {
			return
		}
		value, err = cpu.Load(ptr, 8)
	} else {
		value, err = cpu.ReadRegister(out.Id())
	}
	if err != nil {
		return
	}

	switch op {
	case code.OP_TRUNCATE:
		value = narrow(out, value)
	case code.OP_BOOL_NORM:
		value = boolValue(code.Truncate(out.Width(), value) != 0)
	case code.OP_BOOL_NOT:
		value = boolValue(code.Truncate(out.Width(), value) == 0)
	}

	if out.IsNull() {
		return cpu.Store(ptr, 8, value)
	}

	return cpu.writeOut(out, value)
}

func boolValue(cond bool) uint64 {
	if cond {
		return 1
	}
	return 0
}

// arith executes the three register integer and comparison opcodes. The
// sign of the output register selects how inputs are widened and whether
// the operation is signed.
func (cpu *Cpu) arith(op code.Op, out, left, right code.Reg) (err error) {
	signed := out.Signed()

	a, err := cpu.readInput(left, signed)
	if err != nil {
		return
	}

	var b uint64
	if op != code.OP_BIT_NOT {
		b, err = cpu.readInput(right, signed)
		if err != nil {
			return
		}
	}

	var result uint64
	switch op {
	case code.OP_ADD:
		result = a + b
	case code.OP_SUB:
		result = a - b
	case code.OP_MUL:
		result = a * b
	case code.OP_DIV, code.OP_MOD:
		if b == 0 {
			err = ErrDivideByZero
			return
		}
		switch {
		case signed && op == code.OP_DIV:
			result = uint64(int64(a) / int64(b))
		case signed:
			result = uint64(int64(a) % int64(b))
		case op == code.OP_DIV:
			result = a / b
		default:
			result = a % b
		}
	case code.OP_RSHIFT:
		if signed {
			result = uint64(int64(a) >> (b & 63))
		} else {
			result = a >> (b & 63)
		}
	case code.OP_LSHIFT:
		result = a << (b & 63)
	case code.OP_BIT_AND:
		result = a & b
	case code.OP_BIT_OR:
		result = a | b
	case code.OP_BIT_XOR:
		result = a ^ b
	case code.OP_BIT_NOT:
		result = ^a
	case code.OP_COMP_LT:
		if signed {
			result = boolValue(int64(a) < int64(b))
		} else {
			result = boolValue(a < b)
		}
	case code.OP_COMP_LEQ:
		if signed {
			result = boolValue(int64(a) <= int64(b))
		} else {
			result = boolValue(a <= b)
		}
	case code.OP_COMP_EQ:
		result = boolValue(a == b)
	case code.OP_COMP_NEQ:
		result = boolValue(a != b)
	default:
		err = ErrOpcodeDecode
		return
	}

	return cpu.writeOut(out, result)
}

// ecall executes an environment call.
func (cpu *Cpu) ecall(kind code.EcallKind, in1, in2 code.Reg) (err error) {
	switch kind {
	case code.ECALL_PRINT:
		for _, reg := range []code.Reg{in1, in2} {
			if reg.IsNull() {
				continue
			}
			var value uint64
			value, err = cpu.ReadUnsigned(reg)
			if err != nil {
				return
			}
			_, err = fmt.Fprintf(cpu.Output, "%d ", value)
			if err != nil {
				err = errors.Join(ErrOutput, err)
				return
			}
		}
	case code.ECALL_PRINT_NEWLINE:
		_, err = io.WriteString(cpu.Output, "\n")
		if err != nil {
			err = errors.Join(ErrOutput, err)
			return
		}
	case code.ECALL_EXIT_SUCCESS:
		cpu.Halted = true
		if cpu.Verbose {
			log.Printf("cpu: exit after %d ticks", cpu.Ticks+1)
		}
	default:
		err = ErrEcallInvalid
	}

	return
}

// throw reads the message, then unwinds the frames.
func (cpu *Cpu) throw(skip int, message, length code.Reg) (err error) {
	ptr, err := cpu.readPointer(message)
	if err != nil {
		return
	}

	n, err := cpu.readInput(length, false)
	if err != nil {
		return
	}

	if n > math.MaxUint32 {
		err = errors.Join(arena.ErrInvalidPointer, arena.ErrOutOfRange)
		return
	}

	text, err := cpu.ReadBytes(ptr, uint32(n))
	if err != nil {
		return
	}

	err = cpu.Unwind(skip)
	if err != nil {
		return
	}

	err = &ErrThrow{Message: string(text), Frames: skip}
	return
}

// Execute executes a single decoded instruction at the program counter.
func (cpu *Cpu) Execute(c code.Code) (err error) {
	pc := cpu.Frame.Pc

	defer func() {
		if err != nil {
			err = errors.Join(ErrOpcode{Pc: pc, Code: c}, err)
		}
	}()

	if cpu.Verbose {
		log.Printf("%03x: %v", pc-cpu.Manifest.Start, c)
	}

	word := c.Word
	op := word.Op()

	if !op.Valid() {
		err = ErrOpcodeDecode
		return
	}

	if !op.Implemented() {
		err = ErrUnimplemented
		return
	}

	if len(c.Immediates) != word.Extra() {
		err = ErrOpcodeDecode
		return
	}

	next_pc := pc + 4*uint32(1+len(c.Immediates))
	moved := false

	switch op {
	case code.OP_FUNC:
		// Marker only.
	case code.OP_STACK_ALLOC:
		out, length := word.StackAllocDecode()
		var ptr arena.Pointer
		ptr, err = cpu.AllocStackVar(length)
		if err != nil {
			return
		}
		if !out.IsNull() {
			err = cpu.writeOut(out, ptr.Uint64())
		}
	case code.OP_STACK_DEALLOC:
		_, count := word.ValueDecode()
		err = cpu.DropStackVars(uint32(count))
	case code.OP_HEAP_ALLOC:
		out, size := word.PairDecode()
		var n uint64
		n, err = cpu.readInput(size, false)
		if err != nil {
			return
		}
		if n > math.MaxUint32 {
			err = arena.ErrOutOfMemory
			return
		}
		var ptr arena.Pointer
		ptr, err = cpu.AllocateHeap(uint32(n), cpu.Op())
		if err != nil {
			return
		}
		if !out.IsNull() {
			err = cpu.writeOut(out, ptr.Uint64())
		}
	case code.OP_HEAP_DEALLOC:
		in, _ := word.PairDecode()
		var ptr arena.Pointer
		ptr, err = cpu.readPointer(in)
		if err != nil {
			return
		}
		_, err = cpu.DeallocateHeap(ptr, cpu.Op())
	case code.OP_MAKE16:
		out, value := word.ValueDecode()
		err = cpu.writeOut(out, extend(code.WIDTH_16, out.Signed(), uint64(value)))
	case code.OP_MAKE32:
		out, slot := word.SlotDecode()
		value := extend(code.WIDTH_32, out.Signed(), uint64(c.Immediates[0]))
		err = cpu.writeTarget(out, slot, value)
	case code.OP_MAKE64:
		out, slot := word.SlotDecode()
		value := uint64(c.Immediates[1])<<32 | uint64(c.Immediates[0])
		err = cpu.writeTarget(out, slot, value)
	case code.OP_MAKE_FP:
		out, id := word.ValueDecode()
		var ptr arena.Pointer
		ptr, err = cpu.StackPointer(uint32(id), 0)
		if err != nil {
			return
		}
		err = cpu.writeOut(out, ptr.Uint64())
	case code.OP_TRUNCATE, code.OP_BOOL_NORM, code.OP_BOOL_NOT:
		out, slot := word.SlotDecode()
		err = cpu.inPlace(op, out, slot)
	case code.OP_ADD16:
		out, value := word.ValueDecode()
		var base uint64
		base, err = cpu.readInput(out, false)
		if err != nil {
			return
		}
		err = cpu.writeOut(out, base+uint64(value))
	case code.OP_GET:
		out, pointer := word.PairDecode()
		var ptr arena.Pointer
		ptr, err = cpu.readPointer(pointer)
		if err != nil {
			return
		}
		var value uint64
		value, err = cpu.Load(ptr, out.Width().Bytes())
		if err != nil {
			return
		}
		err = cpu.writeOut(out, value)
	case code.OP_SET:
		pointer, in := word.PairDecode()
		var ptr arena.Pointer
		ptr, err = cpu.readPointer(pointer)
		if err != nil {
			return
		}
		var value uint64
		value, err = cpu.readInput(in, false)
		if err != nil {
			return
		}
		err = cpu.Store(ptr, in.Width().Bytes(), value)
	case code.OP_MEM_COPY:
		source, dest, length := word.ArithDecode()
		var src, dst arena.Pointer
		src, err = cpu.readPointer(source)
		if err != nil {
			return
		}
		dst, err = cpu.readPointer(dest)
		if err != nil {
			return
		}
		var n uint64
		n, err = cpu.readInput(length, false)
		if err != nil {
			return
		}
		if n > math.MaxUint32 {
			err = errors.Join(arena.ErrInvalidPointer, arena.ErrOutOfRange)
			return
		}
		err = cpu.Copy(dst, src, uint32(n))
	case code.OP_ADD, code.OP_SUB, code.OP_MUL, code.OP_DIV, code.OP_MOD,
		code.OP_RSHIFT, code.OP_LSHIFT,
		code.OP_BIT_AND, code.OP_BIT_OR, code.OP_BIT_XOR, code.OP_BIT_NOT,
		code.OP_COMP_LT, code.OP_COMP_LEQ, code.OP_COMP_EQ, code.OP_COMP_NEQ:
		out, left, right := word.ArithDecode()
		err = cpu.arith(op, out, left, right)
	case code.OP_JUMP:
		err = cpu.Jump(cpu.Target(c.Immediates[0]))
		moved = true
	case code.OP_JUMP_IF_ZERO, code.OP_JUMP_IF_NOT_ZERO:
		in, slot := word.SlotDecode()
		var value uint64
		value, err = cpu.readTarget(in, slot)
		if err != nil {
			return
		}
		if (value == 0) == (op == code.OP_JUMP_IF_ZERO) {
			err = cpu.Jump(cpu.Target(c.Immediates[0]))
			moved = true
		}
	case code.OP_RET:
		in, _ := word.PairDecode()
		var value uint64
		if !in.IsNull() {
			value, err = cpu.ReadUnsigned(in)
			if err != nil {
				return
			}
		}
		err = cpu.Ret(value)
		moved = true
	case code.OP_CALL:
		out, args := word.CallDecode()
		if !out.IsNull() && out.Id() == code.REGISTER_CALL {
			err = ErrRegisterReserved
			return
		}
		cpu.Frame.Pc = next_pc
		err = cpu.Call(cpu.Target(c.Immediates[0]), args, out)
		if err != nil {
			cpu.Frame.Pc = pc
			return
		}
		moved = true
	case code.OP_ECALL:
		kind, in1, in2 := word.EcallDecode()
		err = cpu.ecall(kind, in1, in2)
	case code.OP_THROW:
		skip, message, length := word.ThrowDecode()
		err = cpu.throw(skip, message, length)
	default:
		err = ErrOpcodeDecode
	}

	if err != nil {
		return
	}

	if !moved {
		cpu.Frame.Pc = next_pc
	}

	cpu.Ticks++

	return
}
