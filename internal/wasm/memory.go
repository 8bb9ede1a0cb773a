package wasm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/platform"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly, and is
	// defined as 2^16 = 65536.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// compile-time check to ensure MemoryInstance implements api.Memory
var _ api.Memory = &MemoryInstance{}

// MemoryInstance represents a memory instance in a store, and implements
// api.Memory.
//
// The backing buffer is published through an atomic pointer: readers never
// take a lock, and Grow builds the next buffer aside before swapping it in.
// Guest code holding a stale buffer between the swap and its next access
// observes the old length, which is the same race the WebAssembly threads
// proposal permits.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0.
type MemoryInstance struct {
	// Min is the minimum size in pages this memory was declared with.
	Min uint32
	// Max is the effective maximum size in pages, bounded by MemoryLimitPages.
	Max uint32
	// Style records how the backing storage was allocated.
	Style MemoryStyle

	buffer atomic.Pointer[[]byte]

	// reserved is set when the buffer came from a platform reservation and
	// must be returned to the operating system on Free.
	reserved bool

	// mux serializes Grow against concurrent Grow.
	mux sync.Mutex
}

// NewMemoryInstance allocates the backing storage for a declared memory.
//
// A static style memory reserves capacity at its bound so Grow never
// relocates the storage; a dynamic one starts at Min and reallocates.
func NewMemoryInstance(memSec *Memory, style MemoryStyle) *MemoryInstance {
	min := MemoryPagesToBytesNum(memSec.Min)
	max := memSec.Max
	if !memSec.IsMaxEncoded {
		max = MemoryLimitPages
	}
	m := &MemoryInstance{Min: memSec.Min, Max: max, Style: style}

	var buf []byte
	if style.Static {
		// A reservation keeps the bound's address range without committing
		// it, so in-place growth stays cheap even for a 4GiB bound.
		if r, err := platform.ReserveBuffer(min, MemoryPagesToBytesNum(style.Bound)); err == nil {
			buf, m.reserved = r, true
		} else {
			buf = make([]byte, min, MemoryPagesToBytesNum(style.Bound))
		}
	} else {
		buf = make([]byte, min)
	}
	m.buffer.Store(&buf)
	return m
}

// Free returns a platform reservation to the operating system. The memory
// must not be accessed afterwards; the owning module calls this when it
// closes. Memories backed by the Go allocator free as a no-op.
func (m *MemoryInstance) Free() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.reserved {
		return nil
	}
	m.reserved = false
	buf := m.Buffer()
	empty := []byte{}
	m.buffer.Store(&empty)
	if cap(buf) == 0 {
		return nil
	}
	return platform.ReleaseBuffer(buf)
}

// Buffer returns the current backing storage. The slice is only valid until
// the next successful Grow on a dynamic style memory.
func (m *MemoryInstance) Buffer() []byte {
	return *m.buffer.Load()
}

// Definition implements the same method as documented on api.Memory.
func (m *MemoryInstance) Definition() api.MemoryDefinition {
	return memoryDefinition{min: m.Min, max: m.Max}
}

type memoryDefinition struct {
	min, max uint32
}

func (d memoryDefinition) Min() uint32 { return d.min }
func (d memoryDefinition) Max() uint32 { return d.max }

// Size implements the same method as documented on api.Memory.
func (m *MemoryInstance) Size() uint32 {
	return uint32(len(m.Buffer()))
}

// Pages returns the current size in pages.
func (m *MemoryInstance) Pages() uint32 {
	return memoryBytesNumToPages(uint64(len(m.Buffer())))
}

// Grow implements the same method as documented on api.Memory.
//
// Growth never shrinks and failure leaves the memory untouched, so a
// successful result is the page count all earlier calls observed or more.
func (m *MemoryInstance) Grow(delta uint32) (result uint32, ok bool) {
	m.mux.Lock()
	defer m.mux.Unlock()

	cur := m.Buffer()
	currentPages := memoryBytesNumToPages(uint64(len(cur)))
	if delta == 0 {
		return currentPages, true
	}

	// Refuse to grow past the declared maximum or the 32-bit address space.
	newPages := uint64(currentPages) + uint64(delta)
	if newPages > uint64(m.Max) || newPages > uint64(MemoryLimitPages) {
		return 0, false
	}

	newLen := MemoryPagesToBytesNum(uint32(newPages))
	if uint64(cap(cur)) >= newLen {
		// Static style: extend in place, the base address is stable.
		next := cur[:newLen]
		m.buffer.Store(&next)
		return currentPages, true
	}

	next := make([]byte, newLen)
	copy(next, cur)
	m.buffer.Store(&next)
	return currentPages, true
}

// ReadByte implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	buf := m.Buffer()
	if offset >= uint32(len(buf)) {
		return 0, false
	}
	return buf[offset], true
}

// ReadUint16Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint16Le(offset uint32) (uint16, bool) {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[offset : offset+2]), true
}

// ReadUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[offset : offset+4]), true
}

// ReadFloat32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

// ReadUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), true
}

// ReadFloat64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// Read implements the same method as documented on api.Memory.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, uint64(byteCount)) {
		return nil, false
	}
	return buf[offset : offset+byteCount : offset+byteCount], true
}

// WriteByte implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	buf := m.Buffer()
	if offset >= uint32(len(buf)) {
		return false
	}
	buf[offset] = v
	return true
}

// WriteUint16Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint16Le(offset uint32, v uint16) bool {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(buf[offset:], v)
	return true
}

// WriteUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint32Le(offset uint32, v uint32) bool {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(buf[offset:], v)
	return true
}

// WriteFloat32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteFloat32Le(offset uint32, v float32) bool {
	return m.WriteUint32Le(offset, math.Float32bits(v))
}

// WriteUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(buf[offset:], v)
	return true
}

// WriteFloat64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteFloat64Le(offset uint32, v float64) bool {
	return m.WriteUint64Le(offset, math.Float64bits(v))
}

// Write implements the same method as documented on api.Memory.
func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	buf := m.Buffer()
	if !m.hasSize(buf, offset, uint64(len(val))) {
		return false
	}
	copy(buf[offset:], val)
	return true
}

// hasSize returns true if Len is sufficient for byteCount at the given offset.
//
// Note: This is always fine, because memory can grow, but never shrink.
func (m *MemoryInstance) hasSize(buf []byte, offset uint32, byteCount uint64) bool {
	return uint64(offset)+byteCount <= uint64(len(buf)) // uint64 prevents overflow on add
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes
// contained in those pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of
// pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint32) {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}

// PagesToUnitOfBytes converts the pages to a human-readable form.
// e.g. 1 -> "64Ki"
func PagesToUnitOfBytes(pages uint32) string {
	k := pages * 64
	if k < 1024 {
		return fmt.Sprintf("%d Ki", k)
	}
	m := k / 1024
	if m < 1024 {
		return fmt.Sprintf("%d Mi", m)
	}
	g := m / 1024
	if g < 1024 {
		return fmt.Sprintf("%d Gi", g)
	}
	return fmt.Sprintf("%d Ti", g/1024)
}
