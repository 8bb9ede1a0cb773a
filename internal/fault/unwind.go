package fault

// Unwind metadata bookkeeping for compiled code. Regions carry either
// compact unwind entries (macOS-style, one word per function) or a Windows
// RuntimeFunction table; both attach to a code region and share its
// lifetime.

// compactUnwindDWARFSectionFlag marks a compact-unwind encoding whose real
// unwind info lives in the DWARF section. The constant matches the
// UNWIND_X86_64_MODE_DWARF / UNWIND_ARM64_MODE_DWARF discriminator.
const compactUnwindDWARFSectionFlag = 0x03000000

// CompactUnwindEntry is one function's compact unwind record.
type CompactUnwindEntry struct {
	// FunctionOffset is the function start relative to the region base.
	FunctionOffset uint32
	// Encoding is the packed unwind encoding word.
	Encoding uint32
}

// IsDWARF reports whether the entry defers to DWARF unwind info. Entries for
// which this holds must never be split across compact-unwind pages, because
// the page-relative DWARF offset would no longer resolve.
func (e CompactUnwindEntry) IsDWARF() bool {
	return e.Encoding&0x0F000000 == compactUnwindDWARFSectionFlag
}

// RuntimeFunction is one entry of a Windows x64 function table: the
// [begin, end) range of a function and the offset of its unwind info.
type RuntimeFunction struct {
	BeginAddress uint32
	EndAddress   uint32
	UnwindInfo   uint32
}

// FunctionTable is a Windows RuntimeFunction table for one code region. The
// operating system requires the whole table to be registered and
// unregistered as a unit, so the table owns its registration state rather
// than exposing per-entry operations.
type FunctionTable struct {
	// BaseAddress is the region start the entries are relative to.
	BaseAddress uintptr
	// Entries are sorted by BeginAddress.
	Entries []RuntimeFunction

	registered bool
}

// Register publishes the table to the host unwinder. Registering an already
// registered table is a no-op.
func (t *FunctionTable) Register() {
	if t.registered {
		return
	}
	registerFunctionTable(t)
	t.registered = true
}

// Unregister withdraws the table. It must run before the region's code is
// freed, or the host unwinder may walk freed memory.
func (t *FunctionTable) Unregister() {
	if !t.registered {
		return
	}
	unregisterFunctionTable(t)
	t.registered = false
}
