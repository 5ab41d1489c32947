package emulator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/regvm/arena"
	"github.com/ezrec/regvm/code"
	"github.com/ezrec/regvm/cpu"
	"github.com/ezrec/regvm/internal"
)

func TestEmulator(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	assert.False(emu.Verbose)
	assert.Nil(emu.Cpu)
	assert.NotNil(emu.Program)
	assert.Equal(cpu.DefaultLimits(), emu.Limits)
	assert.Equal(0, emu.MaxTicks)
	assert.Equal(0, emu.Ticks())

	defines := internal.IterSeq2Collect(emu.Defines())
	assert.Equal("8", defines["ARENA_ALIGNMENT"])
	assert.Equal("31", defines["REG_NULL_ID"])
	assert.Equal("4000", defines["STACK_FRAMES"])
}

func doLoad(emu *Emulator, program []string, t *testing.T) (output *strings.Builder) {
	asm := &cpu.Assembler{}
	for name, value := range emu.Defines() {
		asm.Predefine(name, value)
	}

	prog, err := asm.Parse(strings.NewReader(strings.Join(program, "\n")))
	if err != nil {
		t.Fatal(err)
	}
	emu.Program = prog

	output = &strings.Builder{}
	emu.Output = output

	err = emu.Reset()
	if err != nil {
		t.Fatal(err)
	}

	return
}

func doRunSingle(emu *Emulator, program []string, t *testing.T) (output string) {
	assert := assert.New(t)

	out := doLoad(emu, program, t)

	for n, op := range emu.Program.Opcodes {
		here := program[op.LineNo-1]
		assert.Equal(op.LineNo, emu.LineNo(), here)
		assert.Equal(op.Pc, emu.Pc(), here)
		assert.Equal(op.Codes[0], emu.Code(), here)

		done, err := emu.Tick()
		assert.NoError(err, here)
		if err != nil {
			t.Log(emu.Cpu.String())
			t.Fatalf("%v", err)
		}
		assert.Equal(n == len(emu.Program.Opcodes)-1, done, here)
	}

	output = out.String()
	return
}

func TestEmulatorSingle(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	program := []string{
		".equ BASE 0x40",
		"li r1 BASE",
		"li r2 $(BASE * 2)",
		"add r3 r1 r2",
		"; comment only",
		"print r3 r1",
		"newline",
		"exit",
	}

	output := doRunSingle(emu, program, t)

	assert.Equal("192 64 \n", output)
	assert.Equal(6, emu.Ticks())
	assert.True(emu.Halted)

	// Ticking after exit stays done.
	done, err := emu.Tick()
	assert.NoError(err)
	assert.True(done)
	assert.Equal(6, emu.Ticks())
}

func TestEmulatorCall(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	program := []string{
		"stack.alloc r3 8",
		"li r1 5",
		"set r3 r1",
		"call r2 fact 1",
		"print r2",
		"newline",
		"exit",
		"",
		"; n! where n is the stack argument",
		"fact:",
		"makefp r1 0",
		"get r2 r1",
		"jump.z r2 base",
		"li r3 1",
		"sub r4 r2 r3",
		"stack.alloc r5 8",
		"set r5 r4",
		"call r6 fact 1",
		"mul r7 r2 r6",
		"ret r7",
		"base:",
		"li r7 1",
		"ret r7",
	}

	doLoad(emu, program, t)
	out := emu.Output.(*strings.Builder)

	err := emu.Run()
	assert.NoError(err)
	assert.Equal("120 \n", out.String())

	assert.Equal(0, emu.Frames.Len())
	assert.Equal(0, emu.StackMap.Len())
	assert.Equal(uint32(0), emu.StackBytes)

	stats := emu.Stats()
	assert.Equal(uint64(0), stats.LiveBytes)
	assert.Equal(6, stats.Count[arena.STACK_DEAD])

	// A reset runs the program again from the start.
	out.Reset()
	assert.NoError(emu.Reset())
	assert.Equal(0, emu.Ticks())
	assert.NoError(emu.Run())
	assert.Equal("120 \n", out.String())
}

func TestEmulatorRuntimeError(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	program := []string{
		"li r1 16",
		"heap.alloc r2 r1",
		"heap.dealloc r2",
		"heap.dealloc r2",
		"exit",
	}

	doLoad(emu, program, t)

	err := emu.Run()
	assert.ErrorIs(err, arena.ErrDoubleFree)
	assert.ErrorIs(err, cpu.ErrOpcode{})

	var rt *ErrRuntime
	if assert.True(errors.As(err, &rt)) {
		assert.Equal(4, rt.LineNo)
		assert.Equal(uint32(12), rt.Pc)
	}

	var alloc *arena.ErrAllocation
	if assert.True(errors.As(err, &alloc)) {
		assert.Equal(arena.HEAP_DEAD, alloc.Record.Kind)
		assert.Equal(uint32(1), alloc.Record.Creator)
		assert.Equal(uint32(2), alloc.Record.Destroyer)
	}

	assert.False(emu.Halted)
	assert.Equal(3, emu.Ticks())
}

func TestEmulatorTickLimit(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	emu.MaxTicks = 10
	program := []string{
		"loop: add16 r1 1",
		"jump loop",
	}

	doLoad(emu, program, t)

	err := emu.Run()
	assert.ErrorIs(err, ErrTickLimit)
	assert.Equal(10, emu.Ticks())

	var rt *ErrRuntime
	if assert.True(errors.As(err, &rt)) {
		assert.Equal(1, rt.LineNo)
		assert.Equal(uint32(0), rt.Pc)
	}

	value, err := emu.ReadRegister(1)
	assert.NoError(err)
	assert.Equal(uint64(5), value)
}

func TestEmulatorLimits(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	emu.Limits = cpu.Limits{StackSize: 64, Frames: 3}
	program := []string{
		"call - f",
		"f: call - f",
	}

	doLoad(emu, program, t)

	err := emu.Run()
	assert.ErrorIs(err, cpu.ErrRecursionLimit)
	assert.Equal(3, emu.Frames.Len())

	var rt *ErrRuntime
	if assert.True(errors.As(err, &rt)) {
		assert.Equal(2, rt.LineNo)
		assert.Equal(uint32(8), rt.Pc)
	}

	program = []string{
		"stack.alloc - 32",
		"stack.alloc - 32",
		"stack.alloc - 8",
	}

	doLoad(emu, program, t)

	err = emu.Run()
	assert.ErrorIs(err, cpu.ErrStackOverflow)
	assert.Equal(3, emu.LineNo())
	assert.Equal(uint32(64), emu.StackBytes)
}

func TestEmulatorThrow(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()
	program := []string{
		"stack.alloc r1 8",
		"make64 - @0 $(0x73706f6f)", // "oops"
		"li r2 4",
		"throw 0 r1 r2",
	}

	doLoad(emu, program, t)

	err := emu.Run()

	var throw *cpu.ErrThrow
	if assert.True(errors.As(err, &throw)) {
		assert.Equal("oops", throw.Message)
	}

	assert.Equal(code.OP_THROW, emu.Code().Word.Op())
}
