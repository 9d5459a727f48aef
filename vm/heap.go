package vm

// ---------------------------------------------------------------------------
// Heap: per-context value storage with byte accounting
// ---------------------------------------------------------------------------

// Heap owns every string and object a context can reach. Handles index into
// the two tables; nothing is ever freed (arena-per-context), which keeps
// object identity stable for the lifetime of the context and makes the
// memory budget a simple running counter.
type Heap struct {
	strings []string
	objects []*Object

	bytesUsed   int
	memoryLimit int // 0 = unbounded
}

// Rough per-allocation overheads used for budget accounting. These do not
// try to mirror Go's allocator exactly; they only need to be monotone in the
// real cost so hostile programs hit the limit.
const (
	objectOverhead = 96
	propertyCost   = 48
	stringOverhead = 24
	valueCost      = 8
	cellCost       = 24
	protoOverhead  = 128
)

// NewHeap creates a heap with the given byte budget (0 = unbounded).
func NewHeap(memoryLimit int) *Heap {
	return &Heap{memoryLimit: memoryLimit}
}

// BytesUsed returns the bytes charged so far.
func (h *Heap) BytesUsed() int { return h.bytesUsed }

// charge adds n bytes to the budget, panicking with memoryLimitPanic when
// the budget is exhausted. The panic unwinds straight through user frames
// (uncatchable) and is converted to MemoryLimitError at the eval boundary.
func (h *Heap) charge(n int) {
	h.bytesUsed += n
	if h.memoryLimit > 0 && h.bytesUsed > h.memoryLimit {
		panic(memoryLimitPanic{})
	}
}

// NewString allocates a string value.
func (h *Heap) NewString(s string) Value {
	h.charge(stringOverhead + len(s))
	h.strings = append(h.strings, s)
	return stringHandle(len(h.strings) - 1)
}

// Str returns the Go string for a string value.
func (h *Heap) Str(v Value) string {
	return h.strings[v.handle()]
}

// addObject registers an object record and returns its value.
func (h *Heap) addObject(o *Object) Value {
	h.charge(objectOverhead)
	h.objects = append(h.objects, o)
	v := objectHandle(len(h.objects) - 1)
	o.self = v
	return v
}

// Obj returns the object record for an object value.
func (h *Heap) Obj(v Value) *Object {
	return h.objects[v.handle()]
}

// NewCell allocates a closure cell.
func (h *Heap) NewCell() *Cell {
	h.charge(cellCost)
	return &Cell{Value: Undefined}
}

// Cell is an independently addressable slot holding one captured variable.
// Every closure that captured the same outer local shares one cell, so a
// mutation through any of them is visible to all.
type Cell struct {
	Value Value
}
