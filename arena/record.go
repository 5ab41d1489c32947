package arena

import (
	"fmt"

	"github.com/ezrec/regvm/code"
)

// Kind is the lifetime state of an allocation record.
type Kind int

const (
	STACK_LIVE        = Kind(0) // stack
	STACK_DEAD        = Kind(1) // stack (dead)
	HEAP_LIVE         = Kind(2) // heap
	HEAP_DEAD         = Kind(3) // heap (dead)
	STATIC_EXECUTABLE = Kind(4) // executable
)

var kindNames = [...]string{"stack", "stack (dead)", "heap", "heap (dead)", "executable"}

func (kind Kind) String() string {
	if kind < 0 || int(kind) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(kind))
	}
	return kindNames[kind]
}

// Record tracks the lifetime, origin and extent of one allocation.
type Record struct {
	Kind      Kind
	Creator   uint32      // Op index that created the allocation.
	Destroyer uint32      // Op index that freed a heap allocation.
	Start     uint32      // Arena offset, live records only.
	Length    code.Length // Length, live records only.
}

// Live returns true if the record may be read.
func (rec Record) Live() bool {
	switch rec.Kind {
	case STACK_LIVE, HEAP_LIVE, STATIC_EXECUTABLE:
		return true
	}
	return false
}

func (rec Record) String() string {
	switch rec.Kind {
	case STACK_LIVE, HEAP_LIVE:
		return fmt.Sprintf("%v %d bytes at %#x, created by op %d", rec.Kind, rec.Length.Len(), rec.Start, rec.Creator)
	case STACK_DEAD:
		return fmt.Sprintf("%v, created by op %d", rec.Kind, rec.Creator)
	case HEAP_DEAD:
		return fmt.Sprintf("%v, created by op %d, freed by op %d", rec.Kind, rec.Creator, rec.Destroyer)
	case STATIC_EXECUTABLE:
		return fmt.Sprintf("%v %d bytes at %#x", rec.Kind, rec.Length.Len(), rec.Start)
	}
	return rec.Kind.String()
}

// Pointer is a guest pointer. Id is 1-indexed into the record table, with
// 0 as the null pointer.
type Pointer struct {
	Offset uint32
	Id     uint32
}

// NULL is the null pointer.
var NULL = Pointer{}

// PointerOf unpacks a pointer from a register value.
func PointerOf(value uint64) Pointer {
	return Pointer{Offset: uint32(value), Id: uint32(value >> 32)}
}

// Uint64 packs the pointer into a register value.
func (ptr Pointer) Uint64() uint64 {
	return uint64(ptr.Id)<<32 | uint64(ptr.Offset)
}

// IsNull returns true for the null pointer.
func (ptr Pointer) IsNull() bool {
	return ptr.Id == 0
}

// Add returns the pointer advanced by n bytes within the same allocation.
func (ptr Pointer) Add(n uint32) Pointer {
	return Pointer{Offset: ptr.Offset + n, Id: ptr.Id}
}

func (ptr Pointer) String() string {
	if ptr.IsNull() {
		return "null"
	}
	return fmt.Sprintf("#%d+%d", ptr.Id, ptr.Offset)
}

// Range is a half-open byte range [Start, End) of the arena.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes in the range.
func (r Range) Len() uint32 {
	return r.End - r.Start
}

// Manifest records the bounds of the executable region.
type Manifest struct {
	Start uint32
	End   uint32
}

// Contains returns true if a whole word at offset lies inside the
// executable region.
func (m Manifest) Contains(offset uint32) bool {
	return offset >= m.Start && uint64(offset)+4 <= uint64(m.End)
}
