package arena

import (
	"errors"

	"github.com/ezrec/regvm/translate"
)

var f = translate.From

var (
	ErrNullPointer    = errors.New(f("null pointer"))
	ErrInvalidPointer = errors.New(f("invalid pointer"))
	ErrUseAfterFree   = errors.New(f("use after free"))
	ErrOutOfRange     = errors.New(f("out of range"))
	ErrReadOnly       = errors.New(f("read only"))
	ErrDoubleFree     = errors.New(f("double free"))
	ErrNotHeapMemory  = errors.New(f("not heap memory"))
	ErrOutOfMemory    = errors.New(f("out of memory"))
	ErrInternal       = errors.New(f("internal error"))
)

// ErrAllocation attaches the allocation record, and its provenance, to an
// error.
type ErrAllocation struct {
	Id     uint32
	Record Record
	Err    error
}

func (err *ErrAllocation) Error() string {
	return f("allocation #%d (%v): %v", err.Id, err.Record, err.Err)
}

func (err *ErrAllocation) Unwrap() error {
	return err.Err
}
