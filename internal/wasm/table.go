package wasm

import (
	"sync"
)

// Reference is a table element: the canonical signature ID and the function
// it resolves to. A zero TypeID marks an uninitialized element.
type Reference struct {
	// TypeID is the canonical ID of the function's signature, compared at
	// indirect call sites.
	TypeID FunctionTypeID
	// Function is the resolved function, nil while uninitialized.
	Function *FunctionInstance
}

// TableInstance represents a table instance in a store.
//
// Elements are written during instantiation and whenever a host replaces an
// entry, and read on every "call_indirect". The mutex only guards writers;
// readers go through Lookup which takes a read lock.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	// Min is the minimum size in elements this table was declared with.
	Min uint32
	// Max is the optional maximum size in elements.
	Max *uint32

	mux sync.RWMutex
	// References are the elements in insertion order, len >= Min.
	References []Reference
}

// NewTableInstance allocates the element storage for a declared table.
func NewTableInstance(tableSec *Table) *TableInstance {
	return &TableInstance{
		Min:        tableSec.Min,
		Max:        tableSec.Max,
		References: make([]Reference, tableSec.Min),
	}
}

// Size returns the current element count.
func (t *TableInstance) Size() uint32 {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return uint32(len(t.References))
}

// Lookup returns the element at idx. ok is false when idx is out of range.
// An in-range element with a nil Function is uninitialized, which is a
// different trap at the call site.
func (t *TableInstance) Lookup(idx uint32) (ref Reference, ok bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	if idx >= uint32(len(t.References)) {
		return Reference{}, false
	}
	return t.References[idx], true
}

// Grow appends delta elements initialized to init, returning the old size.
// Like MemoryInstance.Grow, failure leaves the table untouched and growth is
// monotonic: no shrink exists.
func (t *TableInstance) Grow(delta uint32, init Reference) (result uint32, ok bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	cur := uint32(len(t.References))
	if delta == 0 {
		return cur, true
	}
	newLen := uint64(cur) + uint64(delta)
	if t.Max != nil && newLen > uint64(*t.Max) {
		return 0, false
	}
	for i := uint32(0); i < delta; i++ {
		t.References = append(t.References, init)
	}
	return cur, true
}

// Set writes the element at idx, used during element segment initialization.
func (t *TableInstance) Set(idx uint32, ref Reference) bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	if idx >= uint32(len(t.References)) {
		return false
	}
	t.References[idx] = ref
	return true
}
