package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/regvm/code"
)

func TestTracker_AllocateRange(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	for n := range uint64(100) {
		r, err := tr.AllocateRange(13 + n)
		assert.NoError(err)
		assert.Equal(uint32(0), r.Start%ALIGNMENT)
		assert.Equal(uint32(0), r.End%ALIGNMENT)
		assert.GreaterOrEqual(uint64(r.Len()), 13+n)
	}

	r, err := tr.AllocateRange(0)
	assert.NoError(err)
	assert.Equal(uint32(0), r.Len())
	assert.Equal(uint32(0), r.Start%ALIGNMENT)
}

func TestTracker_AllocateRange_OutOfMemory(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	_, err := tr.AllocateRange(1 << 32)
	assert.ErrorIs(err, ErrOutOfMemory)
	assert.Equal(0, len(tr.Bytes))
}

func TestTracker_AllocateExecutable(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	_, err := tr.AllocateRange(5)
	assert.NoError(err)

	words, err := tr.AllocateExecutable(3)
	assert.NoError(err)
	assert.Equal(3, words.Len())
	words.Load([]uint32{0x11, 0x22, 0x33})

	assert.Equal(Manifest{Start: 8, End: 8 + 12}, tr.Manifest)
	assert.Equal(uint32(0x22), tr.Word(12))
	assert.True(tr.Manifest.Contains(16))
	assert.False(tr.Manifest.Contains(20))
	assert.False(tr.Manifest.Contains(4))

	// Executable is readable but immutable.
	ptr := Pointer{Id: 1}
	value, err := Read[uint32](tr, ptr.Add(8))
	assert.NoError(err)
	assert.Equal(uint32(0x33), value)

	err = Write[uint32](tr, ptr, 0)
	assert.ErrorIs(err, ErrInvalidPointer)
	assert.ErrorIs(err, ErrReadOnly)

	assert.Panics(func() { words.Set(3, 0) })
}

func TestTracker_ReadWrite(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	ptr, err := tr.AllocateStack(code.MakeLength(16), 7)
	assert.NoError(err)
	assert.Equal(Pointer{Id: 1}, ptr)

	assert.NoError(Write[uint64](tr, ptr, 0x1122334455667788))
	assert.NoError(Write[uint16](tr, ptr.Add(8), 0xbeef))

	v8, err := Read[uint8](tr, ptr)
	assert.NoError(err)
	assert.Equal(uint8(0x88), v8)

	v32, err := Read[uint32](tr, ptr.Add(4))
	assert.NoError(err)
	assert.Equal(uint32(0x11223344), v32)

	data, err := tr.ReadBytes(ptr.Add(8), 2)
	assert.NoError(err)
	assert.Equal([]byte{0xef, 0xbe}, data)

	assert.NoError(tr.WriteBytes(ptr.Add(14), []byte{1, 2}))
	v16, err := Read[uint16](tr, ptr.Add(14))
	assert.NoError(err)
	assert.Equal(uint16(0x0201), v16)

	// The returned bytes are a copy.
	data[0] = 0
	v8, _ = Read[uint8](tr, ptr.Add(8))
	assert.Equal(uint8(0xef), v8)
}

func TestTracker_Bounds(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	ptr, err := tr.AllocateStack(code.MakeLength(12), 0)
	assert.NoError(err)

	_, err = tr.ReadBytes(ptr, 12)
	assert.NoError(err)

	_, err = tr.ReadBytes(ptr.Add(4), 9)
	assert.ErrorIs(err, ErrInvalidPointer)
	assert.ErrorIs(err, ErrOutOfRange)

	_, err = Read[uint64](tr, ptr.Add(8))
	assert.ErrorIs(err, ErrInvalidPointer)

	_, err = tr.ReadBytes(Pointer{Id: 1, Offset: 0xffffffff}, 2)
	assert.ErrorIs(err, ErrInvalidPointer)

	_, err = Read[uint8](tr, NULL)
	assert.ErrorIs(err, ErrNullPointer)

	_, err = Read[uint8](tr, Pointer{Id: 2})
	assert.ErrorIs(err, ErrInvalidPointer)
}

func TestTracker_StackLifetime(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	ptr, err := tr.AllocateStack(code.MakeLength(8), 3)
	assert.NoError(err)

	n, err := tr.DeallocateStack(ptr)
	assert.NoError(err)
	assert.Equal(uint32(8), n)

	rec, err := tr.Record(ptr)
	assert.NoError(err)
	assert.Equal(Record{Kind: STACK_DEAD, Creator: 3}, rec)

	_, err = Read[uint64](tr, ptr)
	assert.ErrorIs(err, ErrInvalidPointer)
	assert.ErrorIs(err, ErrUseAfterFree)

	var alloc *ErrAllocation
	assert.True(errors.As(err, &alloc))
	assert.Equal(uint32(3), alloc.Record.Creator)

	_, err = tr.DeallocateStack(ptr)
	assert.ErrorIs(err, ErrInternal)

	_, err = tr.DeallocateStack(NULL)
	assert.ErrorIs(err, ErrInternal)
	assert.ErrorIs(err, ErrNullPointer)

	_, err = tr.DeallocateHeap(ptr, 9)
	assert.ErrorIs(err, ErrNotHeapMemory)
}

func TestTracker_HeapLifetime(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	ptr, err := tr.AllocateHeap(20, 4)
	assert.NoError(err)
	assert.NoError(Write[uint32](tr, ptr.Add(16), 42))

	n, err := tr.DeallocateHeap(ptr, 11)
	assert.NoError(err)
	assert.Equal(uint32(20), n)

	_, err = tr.DeallocateHeap(ptr, 12)
	assert.ErrorIs(err, ErrDoubleFree)

	var alloc *ErrAllocation
	assert.True(errors.As(err, &alloc))
	assert.Equal(uint32(4), alloc.Record.Creator)
	assert.Equal(uint32(11), alloc.Record.Destroyer)

	_, err = Read[uint32](tr, ptr.Add(16))
	assert.ErrorIs(err, ErrUseAfterFree)

	_, err = tr.DeallocateHeap(NULL, 0)
	assert.ErrorIs(err, ErrNullPointer)

	_, err = tr.DeallocateStack(ptr)
	assert.ErrorIs(err, ErrInternal)
}

func TestTracker_Copy(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	a, _ := tr.AllocateHeap(8, 0)
	b, _ := tr.AllocateHeap(8, 0)

	assert.NoError(tr.WriteBytes(a, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.NoError(tr.Copy(b, a, 8))
	data, _ := tr.ReadBytes(b, 8)
	assert.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}, data)

	// Overlapping, forwards.
	assert.NoError(tr.Copy(a.Add(2), a, 6))
	data, _ = tr.ReadBytes(a, 8)
	assert.Equal([]byte{1, 2, 1, 2, 3, 4, 5, 6}, data)

	// Overlapping, backwards.
	assert.NoError(tr.Copy(b, b.Add(2), 6))
	data, _ = tr.ReadBytes(b, 8)
	assert.Equal([]byte{3, 4, 5, 6, 7, 8, 7, 8}, data)

	assert.ErrorIs(tr.Copy(b, a, 9), ErrInvalidPointer)
	assert.ErrorIs(tr.Copy(NULL, a, 1), ErrNullPointer)
}

func TestTracker_Stats(t *testing.T) {
	assert := assert.New(t)

	tr := NewTracker()
	_, _ = tr.AllocateExecutable(2)
	s, _ := tr.AllocateStack(code.MakeLength(16), 0)
	_, _ = tr.AllocateHeap(8, 0)
	_, _ = tr.DeallocateStack(s)

	stats := tr.Stats()
	assert.Equal(3, stats.Records)
	assert.Equal(1, stats.Count[STATIC_EXECUTABLE])
	assert.Equal(1, stats.Count[STACK_DEAD])
	assert.Equal(1, stats.Count[HEAP_LIVE])
	assert.Equal(uint64(8), stats.LiveBytes)
}

func TestPointer_Pack(t *testing.T) {
	assert := assert.New(t)

	ptr := Pointer{Offset: 0x10, Id: 3}
	assert.Equal(uint64(0x3_0000_0010), ptr.Uint64())
	assert.Equal(ptr, PointerOf(ptr.Uint64()))
	assert.Equal("#3+16", ptr.String())
	assert.Equal("null", NULL.String())
	assert.True(PointerOf(0x1234).IsNull())
}
