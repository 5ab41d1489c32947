package arena

import (
	"encoding/binary"
	"errors"
	"log"
	"math"
	"slices"
	"unsafe"

	"github.com/ezrec/regvm/code"
)

const (
	ALIGNMENT = 8 // Alignment of every allocation in the arena.
)

// Unsigned are the fixed size values that may be loaded and stored.
type Unsigned interface {
	uint8 | uint16 | uint32 | uint64
}

// Tracker owns the byte arena and the allocation records of one program
// run.
type Tracker struct {
	Verbose bool // Set to enable verbose logging.

	Bytes    []byte   // Arena; append only.
	Records  []Record // Allocation records, indexed by Pointer.Id - 1.
	Manifest Manifest // Bounds of the executable region.
}

// NewTracker creates an empty tracker.
func NewTracker() (t *Tracker) {
	t = &Tracker{}
	return
}

// AllocateRange appends length bytes, rounded up to ALIGNMENT, to the arena.
func (t *Tracker) AllocateRange(length uint64) (r Range, err error) {
	start := uint64(len(t.Bytes))
	aligned := (length + ALIGNMENT - 1) / ALIGNMENT * ALIGNMENT

	if start+aligned > math.MaxUint32 {
		err = ErrOutOfMemory
		return
	}

	t.Bytes = append(t.Bytes, make([]byte, aligned)...)
	r = Range{Start: uint32(start), End: uint32(start + aligned)}

	return
}

// Words is a writable view of the executable region.
type Words struct {
	t     *Tracker
	start uint32
	count int
}

// Len returns the number of instruction words.
func (w Words) Len() int {
	return w.count
}

// Set sets the n'th instruction word.
func (w Words) Set(n int, word uint32) {
	if n < 0 || n >= w.count {
		panic("arena: executable word out of range")
	}
	at := w.start + uint32(n)*4
	binary.LittleEndian.PutUint32(w.t.Bytes[at:at+4], word)
}

// Load copies an instruction stream into the region, starting at the first
// word.
func (w Words) Load(words []uint32) {
	for n, word := range words {
		w.Set(n, word)
	}
}

// AllocateExecutable reserves count instruction words as the executable
// region. The manifest covers exactly count words, even though the
// allocation itself is rounded up.
func (t *Tracker) AllocateExecutable(count int) (words Words, err error) {
	if count < 0 || uint64(count)*4 > math.MaxUint32 {
		err = ErrOutOfMemory
		return
	}

	length := code.MakeLength(uint32(count) * 4)
	r, err := t.AllocateRange(length.Len())
	if err != nil {
		return
	}

	t.Records = append(t.Records, Record{
		Kind:   STATIC_EXECUTABLE,
		Start:  r.Start,
		Length: length,
	})

	t.Manifest = Manifest{Start: r.Start, End: r.Start + uint32(count)*4}
	words = Words{t: t, start: r.Start, count: count}

	if t.Verbose {
		log.Printf("arena: executable %d words at %#x", count, r.Start)
	}

	return
}

// allocate appends a live record of kind.
func (t *Tracker) allocate(kind Kind, length code.Length, creator uint32) (ptr Pointer, err error) {
	r, err := t.AllocateRange(length.Len())
	if err != nil {
		return
	}

	t.Records = append(t.Records, Record{
		Kind:    kind,
		Creator: creator,
		Start:   r.Start,
		Length:  length,
	})

	ptr = Pointer{Id: uint32(len(t.Records))}

	if t.Verbose {
		log.Printf("arena: %v %v %d bytes by op %d", ptr, kind, length.Len(), creator)
	}

	return
}

// AllocateStack creates a live stack allocation.
func (t *Tracker) AllocateStack(length code.Length, creator uint32) (ptr Pointer, err error) {
	return t.allocate(STACK_LIVE, length, creator)
}

// AllocateHeap creates a live heap allocation of at least n bytes.
func (t *Tracker) AllocateHeap(n uint32, creator uint32) (ptr Pointer, err error) {
	return t.allocate(HEAP_LIVE, code.MakeLength(n), creator)
}

// DeallocateStack kills a live stack allocation, returning its length.
// Anything other than a live stack record is an interpreter bug.
func (t *Tracker) DeallocateStack(ptr Pointer) (n uint32, err error) {
	rec, err := t.record(ptr)
	if err != nil {
		err = errors.Join(ErrInternal, err)
		return
	}

	if rec.Kind != STACK_LIVE {
		err = &ErrAllocation{Id: ptr.Id, Record: *rec, Err: ErrInternal}
		return
	}

	n = uint32(rec.Length.Len())
	*rec = Record{Kind: STACK_DEAD, Creator: rec.Creator}

	if t.Verbose {
		log.Printf("arena: %v stack freed", ptr)
	}

	return
}

// DeallocateHeap kills a live heap allocation, returning its length.
func (t *Tracker) DeallocateHeap(ptr Pointer, destroyer uint32) (n uint32, err error) {
	rec, err := t.record(ptr)
	if err != nil {
		return
	}

	switch rec.Kind {
	case HEAP_LIVE:
		n = uint32(rec.Length.Len())
		*rec = Record{Kind: HEAP_DEAD, Creator: rec.Creator, Destroyer: destroyer}
	case HEAP_DEAD:
		err = &ErrAllocation{Id: ptr.Id, Record: *rec, Err: ErrDoubleFree}
		return
	default:
		err = &ErrAllocation{Id: ptr.Id, Record: *rec, Err: ErrNotHeapMemory}
		return
	}

	if t.Verbose {
		log.Printf("arena: %v heap freed by op %d", ptr, destroyer)
	}

	return
}

// record resolves a pointer to its record.
func (t *Tracker) record(ptr Pointer) (rec *Record, err error) {
	if ptr.Id == 0 {
		err = ErrNullPointer
		return
	}

	if int(ptr.Id) > len(t.Records) {
		err = ErrInvalidPointer
		return
	}

	rec = &t.Records[ptr.Id-1]
	return
}

// Record returns the allocation record a pointer refers to.
func (t *Tracker) Record(ptr Pointer) (rec Record, err error) {
	prec, err := t.record(ptr)
	if err != nil {
		return
	}
	rec = *prec
	return
}

// Range resolves n bytes at a pointer to an arena range. This is the single
// checked path for every guest read and write.
func (t *Tracker) Range(ptr Pointer, n uint32) (r Range, err error) {
	rec, err := t.record(ptr)
	if err != nil {
		return
	}

	if !rec.Live() {
		err = &ErrAllocation{Id: ptr.Id, Record: *rec, Err: errors.Join(ErrInvalidPointer, ErrUseAfterFree)}
		return
	}

	end := uint64(ptr.Offset) + uint64(n)
	if end > rec.Length.Len() {
		err = &ErrAllocation{Id: ptr.Id, Record: *rec, Err: errors.Join(ErrInvalidPointer, ErrOutOfRange)}
		return
	}

	r = Range{Start: rec.Start + ptr.Offset, End: rec.Start + uint32(end)}
	return
}

// writableRange is Range, refusing the executable region.
func (t *Tracker) writableRange(ptr Pointer, n uint32) (r Range, err error) {
	r, err = t.Range(ptr, n)
	if err != nil {
		return
	}

	if t.Records[ptr.Id-1].Kind == STATIC_EXECUTABLE {
		err = &ErrAllocation{Id: ptr.Id, Record: t.Records[ptr.Id-1], Err: errors.Join(ErrInvalidPointer, ErrReadOnly)}
		return
	}

	return
}

// ReadBytes returns a copy of n bytes at ptr.
func (t *Tracker) ReadBytes(ptr Pointer, n uint32) (data []byte, err error) {
	r, err := t.Range(ptr, n)
	if err != nil {
		return
	}

	data = slices.Clone(t.Bytes[r.Start:r.End])
	return
}

// WriteBytes writes data at ptr.
func (t *Tracker) WriteBytes(ptr Pointer, data []byte) (err error) {
	if uint64(len(data)) > math.MaxUint32 {
		err = errors.Join(ErrInvalidPointer, ErrOutOfRange)
		return
	}

	r, err := t.writableRange(ptr, uint32(len(data)))
	if err != nil {
		return
	}

	copy(t.Bytes[r.Start:r.End], data)
	return
}

// Copy copies n bytes from src to dest. The ranges may overlap.
func (t *Tracker) Copy(dest, src Pointer, n uint32) (err error) {
	d, err := t.writableRange(dest, n)
	if err != nil {
		return
	}

	s, err := t.Range(src, n)
	if err != nil {
		return
	}

	// The builtin copy has memmove semantics.
	copy(t.Bytes[d.Start:d.End], t.Bytes[s.Start:s.End])
	return
}

// Load reads a little-endian value of size 1, 2, 4 or 8 bytes.
func (t *Tracker) Load(ptr Pointer, size int) (value uint64, err error) {
	r, err := t.Range(ptr, uint32(size))
	if err != nil {
		return
	}

	data := t.Bytes[r.Start:r.End]
	switch size {
	case 1:
		value = uint64(data[0])
	case 2:
		value = uint64(binary.LittleEndian.Uint16(data))
	case 4:
		value = uint64(binary.LittleEndian.Uint32(data))
	case 8:
		value = binary.LittleEndian.Uint64(data)
	default:
		err = ErrInternal
	}

	return
}

// Store writes the low size bytes of value, little-endian.
func (t *Tracker) Store(ptr Pointer, size int, value uint64) (err error) {
	r, err := t.writableRange(ptr, uint32(size))
	if err != nil {
		return
	}

	data := t.Bytes[r.Start:r.End]
	switch size {
	case 1:
		data[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(data, value)
	default:
		err = ErrInternal
	}

	return
}

// Read loads a T at ptr.
func Read[T Unsigned](t *Tracker, ptr Pointer) (value T, err error) {
	v, err := t.Load(ptr, int(unsafe.Sizeof(value)))
	value = T(v)
	return
}

// Write stores a T at ptr.
func Write[T Unsigned](t *Tracker, ptr Pointer, value T) (err error) {
	return t.Store(ptr, int(unsafe.Sizeof(value)), uint64(value))
}

// Word reads the instruction word at an arena offset. The caller checks the
// offset against the Manifest.
func (t *Tracker) Word(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(t.Bytes[offset : offset+4])
}

// Uint64At reads a raw 64-bit value at an arena offset. Only used for
// register blocks, which have no allocation record.
func (t *Tracker) Uint64At(offset uint32) uint64 {
	return binary.LittleEndian.Uint64(t.Bytes[offset : offset+8])
}

// PutUint64At writes a raw 64-bit value at an arena offset.
func (t *Tracker) PutUint64At(offset uint32, value uint64) {
	binary.LittleEndian.PutUint64(t.Bytes[offset:offset+8], value)
}

// Stats summarizes the records by kind.
type Stats struct {
	Records   int          // Total records.
	Count     map[Kind]int // Records per kind.
	LiveBytes uint64       // Bytes held by live stack and heap records.
	Arena     int          // Total arena size.
}

// Stats returns a summary of the allocation table.
func (t *Tracker) Stats() (stats Stats) {
	stats = Stats{
		Records: len(t.Records),
		Count:   make(map[Kind]int),
		Arena:   len(t.Bytes),
	}

	for _, rec := range t.Records {
		stats.Count[rec.Kind]++
		if rec.Kind == STACK_LIVE || rec.Kind == HEAP_LIVE {
			stats.LiveBytes += rec.Length.Len()
		}
	}

	return
}
