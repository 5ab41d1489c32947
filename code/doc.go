// Package code defines the instruction encoding of the regvm bytecode.
//
// Each instruction is a 32-bit little-endian word tagged by its low byte.
// A few instructions (MAKE32, MAKE64, the jumps and CALL) are followed by
// untagged raw words holding an immediate value or an executable offset;
// Word.Extra reports how many. Register operands carry their own width and
// signedness, and stack lengths are stored as a compressed Length.
package code
