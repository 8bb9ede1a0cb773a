package wasm

// MemoryStyle tells the backend and the object model how a memory's backing
// storage behaves: a static memory never moves after allocation, a dynamic
// one may relocate on growth.
type MemoryStyle struct {
	// Static is true when the memory is allocated at its bound up front and
	// Grow never relocates the backing storage.
	Static bool

	// Bound is the maximum size in pages the memory may reach. Only
	// meaningful when Static is true.
	Bound uint32

	// OffsetGuardSize is the size in bytes of the inaccessible region after
	// the linear memory, letting the backend elide bounds checks for small
	// constant offsets.
	OffsetGuardSize uint64
}

// TableStyle is the counterpart of MemoryStyle for tables. Only one
// representation exists, carried for artifact compatibility.
type TableStyle struct {
	// CallerChecksSignature is true when indirect call sites compare the
	// canonical signature ID before transferring control.
	CallerChecksSignature bool
}

// Tunables decide the style of each declared memory and table. The engine
// picks defaults appropriate for the host, and embedders can tighten the
// static bound to trade address space for relocation-free growth.
type Tunables struct {
	// StaticMemoryBound is the maximum declared minimum, in pages, for which
	// a memory without a maximum still gets the static style.
	StaticMemoryBound uint32

	// StaticMemoryOffsetGuardSize is the guard size in bytes for static
	// memories.
	StaticMemoryOffsetGuardSize uint64

	// DynamicMemoryOffsetGuardSize is the guard size in bytes for dynamic
	// memories, typically much smaller.
	DynamicMemoryOffsetGuardSize uint64
}

// DefaultTunables mirrors a 64-bit host: 4GiB static bound with a 2GiB guard
// so 32-bit address arithmetic can never escape the reservation.
func DefaultTunables() Tunables {
	return Tunables{
		StaticMemoryBound:            0x1_0000, // 4GiB of 64KiB pages
		StaticMemoryOffsetGuardSize:  0x8000_0000,
		DynamicMemoryOffsetGuardSize: 0x1_0000,
	}
}

// MemoryStyle decides the style for one declared memory.
//
// A memory whose maximum fits under the static bound is static: its backing
// storage is reserved at the bound and growth just moves the length. All
// other memories are dynamic and may relocate on Grow.
func (t Tunables) MemoryStyle(m *Memory) MemoryStyle {
	if m.IsMaxEncoded && m.Max <= t.StaticMemoryBound {
		return MemoryStyle{
			Static:          true,
			Bound:           m.Max,
			OffsetGuardSize: t.StaticMemoryOffsetGuardSize,
		}
	}
	if !m.IsMaxEncoded && m.Min <= t.StaticMemoryBound {
		return MemoryStyle{
			Static:          true,
			Bound:           t.StaticMemoryBound,
			OffsetGuardSize: t.StaticMemoryOffsetGuardSize,
		}
	}
	return MemoryStyle{
		Static:          false,
		OffsetGuardSize: t.DynamicMemoryOffsetGuardSize,
	}
}

// TableStyle decides the style for one declared table.
func (t Tunables) TableStyle(_ *Table) TableStyle {
	return TableStyle{CallerChecksSignature: true}
}
