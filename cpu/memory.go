package cpu

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"

	"github.com/ezrec/regvm/arena"
	"github.com/ezrec/regvm/code"
)

const (
	STACK_SIZE   = 4 * 1024 * 1024 // Maximum live stack bytes.
	STACK_FRAMES = 4000            // Maximum call depth.

	REGISTER_BLOCK = code.REGISTER_COUNT * code.REGISTER_BYTES // Bytes of one register file.
)

var _cpu_defines = map[string]string{
	"STACK_SIZE":     fmt.Sprintf("%v", STACK_SIZE),
	"STACK_FRAMES":   fmt.Sprintf("%v", STACK_FRAMES),
	"REGISTER_BLOCK": fmt.Sprintf("%v", REGISTER_BLOCK),
}

// Defines for the cpu
func Defines() iter.Seq2[string, string] {
	return maps.All(_cpu_defines)
}

// Limits bounds the resources of a run.
type Limits struct {
	StackSize uint32 `toml:"stack_size"` // Maximum live stack bytes.
	Frames    int    `toml:"frames"`     // Maximum call depth.
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		StackSize: STACK_SIZE,
		Frames:    STACK_FRAMES,
	}
}

// Frame is the state of one call frame.
type Frame struct {
	Pc        uint32   // Program counter, as an arena offset.
	MapOffset uint32   // Index of the frame's first stack pointer map entry.
	Registers uint32   // Arena offset of the frame's register block.
	Result    code.Reg // Caller register receiving the returned value.
}

// Memory is the register file and call stack, layered over the
// allocation tracker.
type Memory struct {
	Verbose bool // Set to enable verbose logging.

	*arena.Tracker

	Limits     Limits        // Resource limits.
	Frame      Frame         // Current frame.
	Frames     Stack[Frame]  // Suspended caller frames.
	StackMap   Stack[uint32] // Allocation ids of the live stack variables.
	StackBytes uint32        // Live stack variable bytes.
}

// NewMemory creates the root frame over a tracker whose executable region
// has already been allocated.
func NewMemory(tracker *arena.Tracker, limits Limits) (mem *Memory, err error) {
	mem = &Memory{
		Tracker: tracker,
		Limits:  limits,
		Frames:  Stack[Frame]{Limit: limits.Frames},
	}

	regs, err := mem.newRegisters()
	if err != nil {
		mem = nil
		return
	}

	mem.Frame = Frame{
		Pc:        tracker.Manifest.Start,
		Registers: regs,
		Result:    code.REG_NULL,
	}

	return
}

// newRegisters carves a zeroed register block out of the arena.
func (mem *Memory) newRegisters() (start uint32, err error) {
	r, err := mem.AllocateRange(REGISTER_BLOCK)
	if err != nil {
		return
	}

	start = r.Start
	return
}

// registerOffset returns the arena offset of a register of the current
// frame.
func (mem *Memory) registerOffset(id int) (offset uint32, err error) {
	if id < 0 || id >= code.REG_NULL_ID {
		err = errors.Join(ErrInternal, ErrRegisterNull)
		return
	}

	offset = mem.Frame.Registers + uint32(id)*code.REGISTER_BYTES
	return
}

// ReadRegister returns the raw 64-bit content of a register.
func (mem *Memory) ReadRegister(id int) (value uint64, err error) {
	offset, err := mem.registerOffset(id)
	if err != nil {
		return
	}

	value = mem.Uint64At(offset)
	return
}

// WriteRegister sets the raw 64-bit content of a register. Register 0 is
// not protected here; that is left to the instruction set.
func (mem *Memory) WriteRegister(id int, value uint64) (err error) {
	offset, err := mem.registerOffset(id)
	if err != nil {
		return
	}

	mem.PutUint64At(offset, value)
	return
}

// ReadUnsigned reads a register operand, zero extended from its width.
func (mem *Memory) ReadUnsigned(reg code.Reg) (value uint64, err error) {
	raw, err := mem.ReadRegister(reg.Id())
	if err != nil {
		return
	}

	value = code.Truncate(reg.Width(), raw)
	return
}

// ReadSigned reads a register operand, sign extended from its width.
func (mem *Memory) ReadSigned(reg code.Reg) (value int64, err error) {
	raw, err := mem.ReadRegister(reg.Id())
	if err != nil {
		return
	}

	value = code.SignExtendAndTruncate(reg.Width(), raw)
	return
}

// ReadPointer reads a full register as a pointer.
func (mem *Memory) ReadPointer(reg code.Reg) (ptr arena.Pointer, err error) {
	raw, err := mem.ReadRegister(reg.Id())
	if err != nil {
		return
	}

	ptr = arena.PointerOf(raw)
	return
}

// Op returns the instruction index of the program counter, used as the
// creator and destroyer of allocations.
func (mem *Memory) Op() uint32 {
	return (mem.Frame.Pc - mem.Manifest.Start) / 4
}

// Target converts an executable relative address to a program counter.
func (mem *Memory) Target(address uint32) uint32 {
	return mem.Manifest.Start + address
}

// checkPc validates a program counter.
func (mem *Memory) checkPc(pc uint32) (err error) {
	if pc%4 != 0 {
		err = ErrUnalignedProgramCounter
		return
	}

	if !mem.Manifest.Contains(pc) {
		err = ErrOutOfBoundsExecutable
		return
	}

	return
}

// FetchAt reads the instruction word at a program counter.
func (mem *Memory) FetchAt(pc uint32) (word uint32, err error) {
	err = mem.checkPc(pc)
	if err != nil {
		return
	}

	word = mem.Word(pc)
	return
}

// Jump moves the program counter of the current frame. The target is
// validated before the frame is touched.
func (mem *Memory) Jump(pc uint32) (err error) {
	err = mem.checkPc(pc)
	if err != nil {
		err = errors.Join(ErrInvalidJump, err)
		return
	}

	mem.Frame.Pc = pc
	return
}

// AllocStackVar allocates a stack variable owned by the current frame.
func (mem *Memory) AllocStackVar(length code.Length) (ptr arena.Pointer, err error) {
	n := length.Len()
	if n > uint64(mem.Limits.StackSize) || uint64(mem.StackBytes)+n > uint64(mem.Limits.StackSize) {
		err = ErrStackOverflow
		return
	}

	ptr, err = mem.AllocateStack(length, mem.Op())
	if err != nil {
		return
	}

	mem.StackMap.Push(ptr.Id)
	mem.StackBytes += uint32(n)

	return
}

// DropStackVars deallocates the newest count stack variables of the
// current frame.
func (mem *Memory) DropStackVars(count uint32) (err error) {
	for range count {
		if mem.StackMap.Len() <= int(mem.Frame.MapOffset) {
			err = errors.Join(ErrInternal, ErrOverPop)
			return
		}

		id, ok := mem.StackMap.Pop()
		if !ok {
			err = errors.Join(ErrInternal, ErrStackMissing)
			return
		}

		var n uint32
		n, err = mem.DeallocateStack(arena.Pointer{Id: id})
		if err != nil {
			return
		}

		mem.StackBytes -= n
	}

	return
}

// StackPointer resolves a frame relative stack id to a pointer.
func (mem *Memory) StackPointer(id uint32, offset uint32) (ptr arena.Pointer, err error) {
	index := uint64(mem.Frame.MapOffset) + uint64(id)

	alloc, ok := mem.StackMap.Get(int(index))
	if !ok {
		err = errors.Join(ErrInternal, ErrStackMissing)
		return
	}

	ptr = arena.Pointer{Id: alloc, Offset: offset}
	return
}

// SlotPointer resolves a stack slot to a pointer.
func (mem *Memory) SlotPointer(slot code.Slot) (ptr arena.Pointer, err error) {
	return mem.StackPointer(slot.Id(), slot.Offset())
}

// Call suspends the current frame and enters target with a fresh register
// block. The newest args stack variables of the caller become the first
// stack variables of the callee. The caller's program counter must already
// hold the return address.
func (mem *Memory) Call(target uint32, args int, result code.Reg) (err error) {
	if mem.Frames.Full() {
		err = ErrRecursionLimit
		return
	}

	err = mem.checkPc(target)
	if err != nil {
		err = errors.Join(ErrInvalidJump, err)
		return
	}

	owned := mem.StackMap.Len() - int(mem.Frame.MapOffset)
	if args < 0 || args > owned {
		err = errors.Join(ErrInternal, ErrArguments)
		return
	}

	regs, err := mem.newRegisters()
	if err != nil {
		return
	}

	mem.Frames.Push(mem.Frame)
	mem.Frame = Frame{
		Pc:        target,
		MapOffset: uint32(mem.StackMap.Len() - args),
		Registers: regs,
		Result:    result,
	}

	if mem.Verbose {
		log.Printf("cpu: call %#x depth %d", target, mem.Frames.Len())
	}

	return
}

// leave deallocates the current frame's stack variables and resumes the
// caller.
func (mem *Memory) leave() (err error) {
	if mem.Frames.Empty() {
		err = ErrNoFramesLeft
		return
	}

	count := uint32(mem.StackMap.Len()) - mem.Frame.MapOffset
	err = mem.DropStackVars(count)
	if err != nil {
		return
	}

	mem.Frame, _ = mem.Frames.Pop()
	return
}

// Ret returns value to the caller, in register 0 and in the register named
// by the call.
func (mem *Memory) Ret(value uint64) (err error) {
	result := mem.Frame.Result

	err = mem.leave()
	if err != nil {
		return
	}

	err = mem.WriteRegister(code.REGISTER_CALL, value)
	if err != nil {
		return
	}

	if !result.IsNull() {
		err = mem.WriteRegister(result.Id(), narrow(result, value))
		if err != nil {
			return
		}
	}

	if mem.Verbose {
		log.Printf("cpu: ret %#x depth %d", mem.Frame.Pc, mem.Frames.Len())
	}

	return
}

// Unwind leaves frames without returning a value.
func (mem *Memory) Unwind(frames int) (err error) {
	for range frames {
		err = mem.leave()
		if err != nil {
			return
		}
	}

	return
}
