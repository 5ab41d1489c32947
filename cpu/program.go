package cpu

import (
	"iter"
	"slices"

	"github.com/ezrec/regvm/code"
)

// Opcode is one assembled source line.
type Opcode struct {
	LineNo    int         // Source line number.
	Pc        uint32      // Byte offset into the executable.
	Words     []string    // Source words, after equate expansion.
	Codes     []code.Code // Generated instructions.
	LinkLabel string      // Label patched into the final immediate.
}

// Size returns the number of bytes of executable the opcode covers.
func (op *Opcode) Size() (size uint32) {
	for _, c := range op.Codes {
		size += 4 * uint32(1+len(c.Immediates))
	}
	return
}

type Program struct {
	Opcodes []Opcode
}

type Debug struct {
	*Opcode
	Index int
}

// Debug finds the source line that generated the instruction at an
// executable offset.
func (prog *Program) Debug(pc uint32) (dbg Debug) {
	for n, op := range prog.Opcodes {
		if pc < op.Pc || pc >= op.Pc+op.Size() {
			continue
		}

		at := op.Pc
		for index, c := range op.Codes {
			if pc < at+4*uint32(1+len(c.Immediates)) {
				dbg = Debug{
					Opcode: &prog.Opcodes[n],
					Index:  index,
				}
				return
			}
			at += 4 * uint32(1+len(c.Immediates))
		}
	}

	return
}

// Binary returns the executable image.
func (prog *Program) Binary() (bins []uint32) {
	for _, c := range prog.Codes() {
		bins = append(bins, c.Words()...)
	}

	return
}

// Codes iterates the instructions with their executable offsets.
func (prog *Program) Codes() iter.Seq2[uint32, code.Code] {
	return func(yield func(pc uint32, c code.Code) bool) {
		for _, op := range prog.Opcodes {
			pc := op.Pc
			for _, c := range op.Codes {
				if !yield(pc, c) {
					return
				}
				pc += 4 * uint32(1+len(c.Immediates))
			}
		}
	}
}

// Disassemble builds a listing for an executable image, one opcode per
// instruction. A trailing instruction missing immediates keeps what remains.
func Disassemble(words []uint32) (prog *Program) {
	prog = &Program{}

	for pc := 0; pc < len(words); {
		c := code.Code{Word: code.Word(words[pc])}
		extra := min(c.Word.Extra(), len(words)-pc-1)
		if extra > 0 {
			c.Immediates = slices.Clone(words[pc+1 : pc+1+extra])
		}

		prog.Opcodes = append(prog.Opcodes, Opcode{
			Pc:    uint32(pc * 4),
			Words: []string{c.String()},
			Codes: []code.Code{c},
		})

		pc += 1 + extra
	}

	return
}
