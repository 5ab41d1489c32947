// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"fmt"
	"io"
	"iter"
	"log"
	"maps"

	"github.com/ezrec/regvm/arena"
	"github.com/ezrec/regvm/code"
	"github.com/ezrec/regvm/cpu"
	"github.com/ezrec/regvm/internal"
)

var _emulator_defines = map[string]string{
	"ARENA_ALIGNMENT": fmt.Sprintf("%v", arena.ALIGNMENT),
}

// Emulator state. Program listing + CPU + run budget.
type Emulator struct {
	Verbose  bool         // If set, enables verbose logging.
	*cpu.Cpu              // Reference to the CPU simulation.
	Program  *cpu.Program // Reference to the currently running program listing.

	Limits   cpu.Limits // Stack and recursion limits for the next Reset.
	MaxTicks int        // Tick budget; zero for none.
	Output   io.Writer  // Sink for the print ecalls.
}

// NewEmulator creates a new emulator.
func NewEmulator() (emu *Emulator) {
	emu = &Emulator{
		Program: &cpu.Program{},
		Limits:  cpu.DefaultLimits(),
		Output:  io.Discard,
	}

	return
}

// Defines returns an iterator over all of the defines
func (emu *Emulator) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(_emulator_defines),
		code.Defines(),
		cpu.Defines(),
	)
}

// Reset loads the program into a fresh CPU.
func (emu *Emulator) Reset() (err error) {
	c, err := cpu.NewCpu(emu.Program.Binary(), emu.Limits)
	if err != nil {
		return
	}

	c.Output = emu.Output
	c.Verbose = emu.Verbose
	c.Tracker.Verbose = emu.Verbose

	emu.Cpu = c

	return
}

// Ticks returns the total ticks since a reset.
func (emu *Emulator) Ticks() int {
	if emu.Cpu == nil {
		return 0
	}
	return emu.Cpu.Ticks
}

// Pc returns the current program counter, relative to the executable.
func (emu *Emulator) Pc() uint32 {
	if emu.Cpu == nil {
		return 0
	}
	return emu.Cpu.Frame.Pc - emu.Cpu.Manifest.Start
}

// Code returns the current instruction code.
func (emu *Emulator) Code() code.Code {
	dbg := emu.Program.Debug(emu.Pc())
	if dbg.Opcode == nil {
		return code.Code{}
	}

	return dbg.Codes[dbg.Index]
}

// LineNo returns the current line number for the executing opcode.
func (emu *Emulator) LineNo() int {
	dbg := emu.Program.Debug(emu.Pc())
	if dbg.Opcode == nil {
		return 0
	}

	return dbg.LineNo
}

// Tick performs a single tick of the emulator.
func (emu *Emulator) Tick() (done bool, err error) {
	if emu.Cpu == nil {
		err = emu.Reset()
		if err != nil {
			return
		}
	}

	// Set CPU verbosity
	emu.Cpu.Verbose = emu.Verbose

	if emu.Halted {
		done = true
		return
	}

	lineno := emu.LineNo()
	pc := emu.Pc()
	defer func() {
		if err != nil {
			err = &ErrRuntime{LineNo: lineno, Pc: pc, Err: err}
		}
	}()

	if emu.MaxTicks > 0 && emu.Cpu.Ticks >= emu.MaxTicks {
		err = ErrTickLimit
		return
	}

	err = emu.Cpu.Tick()
	if err != nil {
		return
	}

	done = emu.Halted

	return
}

// Run ticks the program until it exits or fails.
func (emu *Emulator) Run() (err error) {
	for done := false; !done; {
		done, err = emu.Tick()
		if err != nil {
			return
		}
	}

	if emu.Verbose {
		stats := emu.Stats()
		log.Printf("emulator: %d ticks, %d records, %d live bytes",
			emu.Ticks(), stats.Records, stats.LiveBytes)
	}

	return
}
