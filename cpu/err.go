package cpu

import (
	"errors"

	"github.com/ezrec/regvm/arena"
	"github.com/ezrec/regvm/code"
	"github.com/ezrec/regvm/translate"
)

var f = translate.From

var (
	// Execution errors
	ErrStackOverflow           = errors.New(f("stack overflow"))
	ErrRecursionLimit          = errors.New(f("recursion limit reached"))
	ErrNoFramesLeft            = errors.New(f("no frames left"))
	ErrInvalidJump             = errors.New(f("invalid jump"))
	ErrUnalignedProgramCounter = errors.New(f("unaligned program counter"))
	ErrOutOfBoundsExecutable   = errors.New(f("program counter outside executable"))
	ErrDivideByZero            = errors.New(f("divide by zero"))
	ErrOutput                  = errors.New(f("output failed"))
	ErrHalted                  = errors.New(f("halted"))
	ErrImageSize               = errors.New(f("image is not a whole number of words"))

	// Instruction decode errors
	ErrOpcodeDecode     = errors.New(f("decode"))
	ErrUnimplemented    = errors.New(f("unimplemented"))
	ErrEcallInvalid     = errors.New(f("ecall invalid"))
	ErrRegisterNull     = errors.New(f("register null"))
	ErrRegisterReserved = errors.New(f("register reserved"))

	// Interpreter invariant errors
	ErrInternal     = arena.ErrInternal
	ErrOverPop      = errors.New(f("over-popped from the stack"))
	ErrStackMissing = errors.New(f("missing stack pointer map value"))
	ErrArguments    = errors.New(f("call arguments exceed frame"))

	// Assembler errors
	ErrEquateSyntax       = errors.New(f(".equ syntax"))
	ErrEquateDuplicate    = errors.New(f(".equ duplicated"))
	ErrLabelDuplicate     = errors.New(f("label duplicated"))
	ErrMacroSyntax        = errors.New(f(".macro syntax"))
	ErrMacroNesting       = errors.New(f(".macro in .macro prohibited"))
	ErrMacroDuplicate     = errors.New(f(".macro duplicated"))
	ErrMacroLonely        = errors.New(f(".macro without .endm"))
	ErrMacroLonelyEndm    = errors.New(f(".endm without .macro"))
	ErrOpcodeExtraArgs    = errors.New(f("excessive arguments"))
	ErrOpcodeMissing      = errors.New(f("opcode missing"))
	ErrOpcodeValueMissing = errors.New(f("value missing"))
	ErrOpcodeInvalid      = errors.New(f("opcode invalid"))
	ErrRegisterInvalid    = errors.New(f("register invalid"))
	ErrSlotInvalid        = errors.New(f("stack slot invalid"))
	ErrValueRange         = errors.New(f("value out of range"))
	ErrEcallUnknown       = errors.New(f("ecall unknown"))
	ErrInstructionInvalid = errors.New(f("instruction invalid"))
)

type ErrLabelMissing string

func (el ErrLabelMissing) Error() string {
	return f("label %v missing", string(el))
}

// ErrOpcode locates an execution error at an instruction.
type ErrOpcode struct {
	Pc   uint32
	Code code.Code
}

func (eo ErrOpcode) Error() string {
	return f("pc %#x: %v", eo.Pc, eo.Code)
}

func (eo ErrOpcode) Is(err error) (ok bool) {
	_, ok = err.(ErrOpcode)
	return
}

// ErrThrow is raised by the THROW instruction.
type ErrThrow struct {
	Message string
	Frames  int
}

func (err *ErrThrow) Error() string {
	return f("throw: %v", err.Message)
}

type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (err ErrSyntax) Error() string {
	return f("line %d '%v' %v", err.LineNo, err.Line, err.Err)
}

func (err ErrSyntax) Unwrap() error {
	return err.Err
}

type ErrParseNumber string

func (err ErrParseNumber) Error() string {
	return f("'%v' is not a number", string(err))
}

type ErrParseCharacter string

func (err ErrParseCharacter) Error() string {
	return f("'%v' is not a character", string(err))
}

type ErrParseExpression string

func (err ErrParseExpression) Error() string {
	return f("$(%v) is not a valid expression", string(err))
}

type ErrMacro struct {
	Macro string
	Line  int
	Err   error
}

func (err ErrMacro) Error() string {
	return f("macro %v line %v %v", err.Macro, err.Line, err.Err.Error())
}

func (err ErrMacro) Unwrap() error {
	return err.Err
}
