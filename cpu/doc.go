// Package cpu implements the bytecode interpreter and assembler for the
// register VM.
//
// Each call frame owns 32 64-bit registers carved out of the arena, and the
// stack variables it allocated, tracked through the stack pointer map so
// that returning releases them in LIFO order. Operand descriptors carry a
// width and signedness that drive how values are widened on read and
// narrowed on write.
//
// The assembler provides a text syntax for the instruction set, supporting
// macros, labels, equates, and compile-time expression evaluation.
package cpu
