// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/regvm/code"
	"github.com/ezrec/regvm/internal"
)

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO": "0",
}

// Assembler is a single pass macro assembler for the bytecode.
type Assembler struct {
	Verbose bool     // If set, verbosely logs the assembler actions.
	Opcode  []Opcode // List of generated opcodes.

	predefine map[string]string   // Predefines
	Label     map[string]uint32   // Map of jump labels to executable offsets.
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.
}

// Predefine defines a new equate or redefines an existing equate.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// valueOf returns the value of a simple word.
func (asm *Assembler) valueOf(word string) (value uint64, err error) {
	if len(word) == 0 {
		err = ErrParseNumber(word)
		return
	}

	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}

	if len(word) > 0 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(strings.Trim(word, "'"))
		return
	}

	v64, err := strconv.ParseInt(word, 0, 64)
	if err == nil {
		value = uint64(v64)
	} else {
		value, err = strconv.ParseUint(word, 0, 64)
		if err != nil {
			err = ErrParseNumber(word)
			return
		}
	}

	if invert {
		value = ^value
	}

	return
}

// sizedValueOf returns the value of a word, which must fit in bits as either
// a signed or an unsigned value.
func (asm *Assembler) sizedValueOf(word string, bits int) (value uint64, err error) {
	value, err = asm.valueOf(word)
	if err != nil {
		return
	}

	if bits >= 64 {
		return
	}

	limit := uint64(1) << bits
	signed := int64(value)
	if value >= limit && (signed >= 0 || signed < -int64(limit/2)) {
		err = ErrValueRange
		return
	}

	value &= limit - 1
	return
}

// widthMap maps register width suffixes.
var widthMap = map[string]code.Width{
	"8":  code.WIDTH_8,
	"16": code.WIDTH_16,
	"32": code.WIDTH_32,
	"64": code.WIDTH_64,
}

// regOf parses a register operand; 'rN', 'rN.u16', 'rN.s8', or '-' for no
// register.
func (asm *Assembler) regOf(word string) (reg code.Reg, err error) {
	if word == "-" {
		reg = code.REG_NULL
		return
	}

	name, suffix, has_suffix := strings.Cut(word, ".")
	if len(name) < 2 || name[0] != 'r' {
		err = ErrRegisterInvalid
		return
	}

	id, err := strconv.Atoi(name[1:])
	if err != nil || id < 0 || id >= code.REG_NULL_ID {
		err = ErrRegisterInvalid
		return
	}

	width := code.WIDTH_64
	signed := false
	if has_suffix {
		if len(suffix) < 2 {
			err = ErrRegisterInvalid
			return
		}
		switch suffix[0] {
		case 'u':
		case 's':
			signed = true
		default:
			err = ErrRegisterInvalid
			return
		}
		var ok bool
		width, ok = widthMap[suffix[1:]]
		if !ok {
			err = ErrRegisterInvalid
			return
		}
	}

	if signed {
		reg = code.MakeSignedReg(width, id)
	} else {
		reg = code.MakeReg(width, id)
	}

	return
}

// slotOf parses a stack slot; '@ID' or '@ID+OFFSET'.
func (asm *Assembler) slotOf(word string) (slot code.Slot, err error) {
	if !strings.HasPrefix(word, "@") {
		err = ErrSlotInvalid
		return
	}

	id_word, offset_word, has_offset := strings.Cut(word[1:], "+")

	id, err := asm.sizedValueOf(id_word, 8)
	if err != nil {
		err = ErrSlotInvalid
		return
	}

	var offset uint64
	if has_offset {
		offset, err = asm.sizedValueOf(offset_word, 8)
		if err != nil {
			err = ErrSlotInvalid
			return
		}
	}

	slot = code.MakeSlot(uint8(id), uint8(offset))
	return
}

// targetOf parses a register, optionally followed by a stack slot used when
// the register is '-'.
func (asm *Assembler) targetOf(words []string) (reg code.Reg, slot code.Slot, rest []string, err error) {
	if len(words) == 0 {
		err = ErrOpcodeValueMissing
		return
	}

	reg, err = asm.regOf(words[0])
	if err != nil {
		return
	}
	rest = words[1:]

	if len(rest) > 0 && strings.HasPrefix(rest[0], "@") {
		slot, err = asm.slotOf(rest[0])
		if err != nil {
			return
		}
		rest = rest[1:]
	} else if reg.IsNull() {
		err = ErrSlotInvalid
		return
	}

	return
}

// addressOf parses a jump target, which is either an executable offset or a
// label to link later.
func (asm *Assembler) addressOf(word string) (address uint32, label string, err error) {
	value, err := asm.valueOf(word)
	if err != nil {
		label = word
		err = nil
		return
	}

	if value > math.MaxUint32 {
		err = ErrValueRange
		return
	}

	address = uint32(value)
	return
}

// argCount checks the number of operand words.
func argCount(args []string, min, max int) (err error) {
	switch {
	case len(args) < min:
		err = ErrOpcodeValueMissing
	case len(args) > max:
		err = ErrOpcodeExtraArgs
	}
	return
}

// parenEval does compile-time $(...) evaluations
func (asm *Assembler) parenEval(expr string) (value uint64, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range asm.Equate {
		var value64 uint64
		value64, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			continue
		}
		pred[key] = starlark.MakeUint64(value64)
	}
	err = nil

	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if ok {
		value = uint64(st_int64)
		return
	}
	value, ok = st_int.Uint64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	return
}

var (
	reCharacter  = regexp.MustCompile(`'\\?[^']'`)
	reExpression = regexp.MustCompile(`\$\([^\$]*\)`)
)

// parseLine parses a single line as an opcode.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	// Do 'x' evaluations
	line = reCharacter.ReplaceAllStringFunc(line, func(word string) string {
		str := word[1 : len(word)-1]
		if str[0] == '\\' {
			str = str[1:]
			switch str {
			case "\\":
				str = "\\"
			case "n":
				str = "\n"
			case "r":
				str = "\r"
			case "e":
				str = "\033"
			default:
				return word
			}
		} else if len(str) != 1 {
			return word
		}
		return fmt.Sprintf("%v", str[0])
	})

	// Do $() evaluations
	line = reExpression.ReplaceAllStringFunc(line, func(str string) string {
		value, _err := asm.parenEval(str[2 : len(str)-1])
		if _err != nil {
			err = _err
		}
		return fmt.Sprintf("%#x", value)
	})
	if err != nil {
		return
	}

	words = strings.Fields(line)

	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE
	if words[0] == ".equ" {
		if len(words) != 3 {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		if ok {
			err = ErrEquateDuplicate
			return
		}
		asm.Equate[words[1]] = words[2]
		words = words[:0]
		return
	}

	for n, word := range words {
		// Check for equate next
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
		}
	}

	for strings.HasSuffix(words[0], ":") {
		label := words[0][:len(words[0])-1]
		_, ok := asm.Label[label]
		if ok {
			err = ErrLabelDuplicate
			return
		}

		if asm.Label == nil {
			asm.Label = make(map[string]uint32, 16)
		}
		asm.Label[label] = asm.currentPc()
		words = words[1:]
		if len(words) == 0 {
			return
		}
	}

	// .macro processing
	macro, ok := asm.Macro[words[0]]
	if ok {
		name := words[0]

		args := words[1:]
		if len(args) != len(macro.Args) {
			err = ErrMacroSyntax
			return
		}
		// Turn args into equs
		old_equate := maps.Clone(asm.Equate)
		for n, arg := range macro.Args {
			asm.Equate[arg] = words[1+n]
		}
		defer func() { asm.Equate = old_equate }()

		// Local labels are unique per invocation.
		local := fmt.Sprintf("%v_%v_", name, lineno)
		for n, line := range macro.Lines {
			lineno := macro.LineNo + n

			line = strings.ReplaceAll(line, "$$", local)
			words, err = asm.parseLine(line, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}

			err = asm.parseWords(words, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}
		}

		words = nil
		return
	}

	return
}

// currentPc gets the executable offset of the next opcode.
func (asm *Assembler) currentPc() uint32 {
	if len(asm.Opcode) == 0 {
		return 0
	}

	last := &asm.Opcode[len(asm.Opcode)-1]

	return last.Pc + last.Size()
}

// Parse parses an input stream into a Program containing opcodes.
func (asm *Assembler) Parse(input io.Reader) (prog *Program, err error) {
	scanner := bufio.NewScanner(input)

	var line string
	var lineno int
	var macro *Macro

	defer func() {
		if err != nil {
			err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
		}
	}()

	clear(asm.Label)
	asm.Opcode = asm.Opcode[:0]
	if asm.Macro == nil {
		asm.Macro = make(map[string](*Macro))
	}
	clear(asm.Macro)
	asm.Equate = internal.IterSeq2Collect(internal.IterSeq2Concat(
		maps.All(sysEquate),
		code.Defines(),
		Defines(),
		maps.All(asm.predefine),
	))

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if asm.Verbose {
			log.Printf("%v: %v\n", lineno, text)
		}

		text_comment := strings.Split(text, ";")
		line = strings.TrimSpace(text_comment[0])
		words := strings.Fields(line)

		// .macro NAME arg...
		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				err = ErrMacroNesting
				return
			}
			if len(words) < 2 {
				err = ErrMacroSyntax
				return
			}
			_, ok := asm.Macro[words[1]]
			if ok {
				err = ErrMacroDuplicate
				return
			}
			macro = &Macro{
				LineNo: lineno + 1,
			}
			if len(words) > 2 {
				macro.Args = words[2:]
			}
			asm.Macro[words[1]] = macro
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				err = ErrMacroLonelyEndm
				return
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = asm.parseLine(line, lineno)
		if err != nil {
			return
		}

		err = asm.parseWords(words, lineno)
		if err != nil {
			return
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		err = ErrMacroLonely
		return
	}

	// Final linking of jump labels.
	var op *Opcode
	op, err = asm.link()
	if err != nil {
		lineno = op.LineNo
		line = strings.Join(op.Words, " ")
		return
	}

	prog = &Program{
		Opcodes: slices.Clone(asm.Opcode),
	}

	return
}

// link patches label offsets into the final immediate of each linked
// opcode. On error, op is the opcode that failed.
func (asm *Assembler) link() (op *Opcode, err error) {
	for n := range asm.Opcode {
		op = &asm.Opcode[n]

		if len(op.LinkLabel) == 0 {
			continue
		}
		pc, ok := asm.Label[op.LinkLabel]
		if !ok {
			err = ErrLabelMissing(op.LinkLabel)
			return
		}
		if len(op.Codes) == 0 {
			err = ErrInstructionInvalid
			return
		}
		linked := &op.Codes[len(op.Codes)-1]
		if len(linked.Immediates) < 1 {
			err = ErrInstructionInvalid
			return
		}
		linked.Immediates[len(linked.Immediates)-1] = pc
	}

	op = nil
	return
}

// loadImmediate picks the smallest MAKE opcode that loads value into out.
func loadImmediate(out code.Reg, value uint64) code.Code {
	signed := int64(value)
	switch {
	case value <= math.MaxUint16 && !out.Signed(),
		out.Signed() && signed >= math.MinInt16 && signed <= math.MaxInt16:
		return code.MakeCodeMake16(out, uint16(value))
	case value <= math.MaxUint32 && !out.Signed(),
		out.Signed() && signed >= math.MinInt32 && signed <= math.MaxInt32:
		return code.MakeCodeMake32(out, 0, uint32(value))
	}

	return code.MakeCodeMake64(out, 0, value)
}

// parseWords evaluates the words in a line of assembly text.
func (asm *Assembler) parseWords(words []string, lineno int) (err error) {
	var codes []code.Code
	var label string

	// no-op
	if len(words) == 0 {
		return
	}

	initial_words := words

	defer func() {
		if err != nil || len(codes) == 0 {
			return
		}
		opcode := Opcode{LineNo: lineno, Pc: asm.currentPc(), Words: initial_words, Codes: codes, LinkLabel: label}
		asm.Opcode = append(asm.Opcode, opcode)
	}()

	// Alternate syntax substitutions
	switch {
	case words[0] == "print":
		// print A [B] => ecall print A B
		words = append([]string{"ecall", "print"}, words[1:]...)
	case len(words) == 1 && words[0] == "newline":
		words = []string{"ecall", "newline"}
	case len(words) == 1 && words[0] == "exit":
		words = []string{"ecall", "exit"}
	case len(words) == 3 && words[0] == "li":
		// li OUT VALUE => make16, make32 or make64 OUT VALUE
		var out code.Reg
		out, err = asm.regOf(words[1])
		if err != nil {
			return
		}
		var value uint64
		value, err = asm.valueOf(words[2])
		if err != nil {
			return
		}
		codes = append(codes, loadImmediate(out, value))
		return
	default:
		// unchanged
	}

	op, ok := code.OpByName(words[0])
	if !ok {
		err = ErrInstructionInvalid
		return
	}

	args := words[1:]

	switch op {
	case code.OP_FUNC:
		err = argCount(args, 0, 0)
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeFunc())
	case code.OP_STACK_ALLOC:
		err = argCount(args, 2, 2)
		if err != nil {
			return
		}
		var out code.Reg
		out, err = asm.regOf(args[0])
		if err != nil {
			return
		}
		var length uint64
		length, err = asm.valueOf(args[1])
		if err != nil {
			return
		}
		if length > math.MaxUint32 {
			err = ErrValueRange
			return
		}
		codes = append(codes, code.MakeCodeStackAlloc(out, code.MakeLength(uint32(length))))
	case code.OP_STACK_DEALLOC:
		err = argCount(args, 1, 1)
		if err != nil {
			return
		}
		var count uint64
		count, err = asm.sizedValueOf(args[0], 16)
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeStackDealloc(uint16(count)))
	case code.OP_HEAP_ALLOC, code.OP_GET, code.OP_SET:
		err = argCount(args, 2, 2)
		if err != nil {
			return
		}
		var regs [2]code.Reg
		for n, arg := range args {
			regs[n], err = asm.regOf(arg)
			if err != nil {
				return
			}
		}
		switch op {
		case code.OP_HEAP_ALLOC:
			codes = append(codes, code.MakeCodeHeapAlloc(regs[0], regs[1]))
		case code.OP_GET:
			codes = append(codes, code.MakeCodeGet(regs[0], regs[1]))
		case code.OP_SET:
			codes = append(codes, code.MakeCodeSet(regs[0], regs[1]))
		}
	case code.OP_HEAP_DEALLOC:
		err = argCount(args, 1, 1)
		if err != nil {
			return
		}
		var in code.Reg
		in, err = asm.regOf(args[0])
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeHeapDealloc(in))
	case code.OP_MAKE16, code.OP_MAKE_FP, code.OP_ADD16:
		err = argCount(args, 2, 2)
		if err != nil {
			return
		}
		var out code.Reg
		out, err = asm.regOf(args[0])
		if err != nil {
			return
		}
		var value uint64
		value, err = asm.sizedValueOf(args[1], 16)
		if err != nil {
			return
		}
		switch op {
		case code.OP_MAKE16:
			codes = append(codes, code.MakeCodeMake16(out, uint16(value)))
		case code.OP_MAKE_FP:
			codes = append(codes, code.MakeCodeMakeFp(out, uint16(value)))
		case code.OP_ADD16:
			codes = append(codes, code.MakeCodeAdd16(out, uint16(value)))
		}
	case code.OP_MAKE32, code.OP_MAKE64:
		var out code.Reg
		var slot code.Slot
		var rest []string
		out, slot, rest, err = asm.targetOf(args)
		if err != nil {
			return
		}
		err = argCount(rest, 1, 1)
		if err != nil {
			return
		}
		var value uint64
		if op == code.OP_MAKE32 {
			value, err = asm.sizedValueOf(rest[0], 32)
			if err != nil {
				return
			}
			codes = append(codes, code.MakeCodeMake32(out, slot, uint32(value)))
		} else {
			value, err = asm.valueOf(rest[0])
			if err != nil {
				return
			}
			codes = append(codes, code.MakeCodeMake64(out, slot, value))
		}
	case code.OP_TRUNCATE, code.OP_BOOL_NORM, code.OP_BOOL_NOT:
		var out code.Reg
		var slot code.Slot
		var rest []string
		out, slot, rest, err = asm.targetOf(args)
		if err != nil {
			return
		}
		err = argCount(rest, 0, 0)
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeSlotOp(op, out, slot))
	case code.OP_MEM_COPY:
		err = argCount(args, 3, 3)
		if err != nil {
			return
		}
		var regs [3]code.Reg
		for n, arg := range args {
			regs[n], err = asm.regOf(arg)
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeMemCopy(regs[0], regs[1], regs[2]))
	case code.OP_ADD, code.OP_SUB, code.OP_MUL, code.OP_DIV, code.OP_MOD,
		code.OP_RSHIFT, code.OP_LSHIFT,
		code.OP_BIT_AND, code.OP_BIT_OR, code.OP_BIT_XOR, code.OP_BIT_NOT,
		code.OP_FADD, code.OP_FSUB, code.OP_FMUL, code.OP_FDIV, code.OP_FMOD,
		code.OP_COMP_LT, code.OP_COMP_LEQ, code.OP_COMP_EQ, code.OP_COMP_NEQ:
		err = argCount(args, 2, 3)
		if err != nil {
			return
		}
		regs := [3]code.Reg{code.REG_NULL, code.REG_NULL, code.REG_NULL}
		for n, arg := range args {
			regs[n], err = asm.regOf(arg)
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeArith(op, regs[0], regs[1], regs[2]))
	case code.OP_JUMP:
		err = argCount(args, 1, 1)
		if err != nil {
			return
		}
		var address uint32
		address, label, err = asm.addressOf(args[0])
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeJump(address))
	case code.OP_JUMP_IF_ZERO, code.OP_JUMP_IF_NOT_ZERO:
		var in code.Reg
		var slot code.Slot
		var rest []string
		in, slot, rest, err = asm.targetOf(args)
		if err != nil {
			return
		}
		err = argCount(rest, 1, 1)
		if err != nil {
			return
		}
		var address uint32
		address, label, err = asm.addressOf(rest[0])
		if err != nil {
			return
		}
		codes = append(codes, code.MakeCodeJumpIf(op, in, slot, address))
	case code.OP_RET:
		err = argCount(args, 0, 1)
		if err != nil {
			return
		}
		in := code.REG_NULL
		if len(args) == 1 {
			in, err = asm.regOf(args[0])
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeRet(in))
	case code.OP_CALL:
		// call OUT ADDRESS [ARGS]
		err = argCount(args, 2, 3)
		if err != nil {
			return
		}
		var out code.Reg
		out, err = asm.regOf(args[0])
		if err != nil {
			return
		}
		var address uint32
		address, label, err = asm.addressOf(args[1])
		if err != nil {
			return
		}
		var count uint64
		if len(args) == 3 {
			count, err = asm.sizedValueOf(args[2], 8)
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeCall(out, uint8(count), address))
	case code.OP_ECALL:
		err = argCount(args, 1, 3)
		if err != nil {
			return
		}
		kind, ok := code.EcallByName(args[0])
		if !ok {
			err = ErrEcallUnknown
			return
		}
		regs := [2]code.Reg{code.REG_NULL, code.REG_NULL}
		for n, arg := range args[1:] {
			regs[n], err = asm.regOf(arg)
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeEcall(kind, regs[0], regs[1]))
	case code.OP_THROW:
		// throw SKIP MESSAGE LENGTH
		err = argCount(args, 3, 3)
		if err != nil {
			return
		}
		var skip uint64
		skip, err = asm.sizedValueOf(args[0], 8)
		if err != nil {
			return
		}
		var regs [2]code.Reg
		for n, arg := range args[1:] {
			regs[n], err = asm.regOf(arg)
			if err != nil {
				return
			}
		}
		codes = append(codes, code.MakeCodeThrow(uint8(skip), regs[0], regs[1]))
	default:
		err = ErrOpcodeInvalid
		return
	}

	return
}
