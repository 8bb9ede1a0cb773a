// Package wasmdebug converts runtime failures into structured traps with
// WebAssembly-level stack traces.
package wasmdebug

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// TrapCode names the runtime-library-raised fault classes. The values are
// stable: they appear in serialized trap-site tables.
type TrapCode byte

const (
	// TrapCodeStackOverflow raises when the call stack exhausted its limit.
	TrapCodeStackOverflow TrapCode = iota
	// TrapCodeMemoryOutOfBounds raises on a linear memory access outside the
	// current bounds.
	TrapCodeMemoryOutOfBounds
	// TrapCodeTableOutOfBounds raises on a table access outside the current
	// bounds.
	TrapCodeTableOutOfBounds
	// TrapCodeIndirectCallToNull raises on call_indirect through an
	// uninitialized table element.
	TrapCodeIndirectCallToNull
	// TrapCodeBadSignature raises on call_indirect when the callee signature
	// ID differs from the expected one.
	TrapCodeBadSignature
	// TrapCodeIntegerOverflow raises on integer division overflow, e.g.
	// i32.div_s of MinInt32 by -1.
	TrapCodeIntegerOverflow
	// TrapCodeIntegerDivisionByZero raises on a zero divisor.
	TrapCodeIntegerDivisionByZero
	// TrapCodeBadConversionToInteger raises on float-to-int truncation of
	// NaN or an out-of-range value.
	TrapCodeBadConversionToInteger
	// TrapCodeUnreachable raises when the unreachable instruction executes.
	TrapCodeUnreachable
	// TrapCodeOutOfMemory raises when a runtime allocation fails, e.g.
	// growing a memory's backing storage.
	TrapCodeOutOfMemory
)

// String implements fmt.Stringer with the standard trap messages.
func (c TrapCode) String() string {
	switch c {
	case TrapCodeStackOverflow:
		return "call stack exhausted"
	case TrapCodeMemoryOutOfBounds:
		return "out of bounds memory access"
	case TrapCodeTableOutOfBounds:
		return "out of bounds table access"
	case TrapCodeIndirectCallToNull:
		return "uninitialized element"
	case TrapCodeBadSignature:
		return "indirect call type mismatch"
	case TrapCodeIntegerOverflow:
		return "integer overflow"
	case TrapCodeIntegerDivisionByZero:
		return "integer divide by zero"
	case TrapCodeBadConversionToInteger:
		return "invalid conversion to integer"
	case TrapCodeUnreachable:
		return "unreachable"
	case TrapCodeOutOfMemory:
		return "out of memory"
	}
	return "unknown trap"
}

// trapKind discriminates the Trap union.
type trapKind byte

const (
	// trapKindUser is an error raised by a host function.
	trapKindUser trapKind = iota
	// trapKindRuntime is a named TrapCode raised by generated or library
	// code.
	trapKindRuntime
	// trapKindFault is a synchronous CPU-style fault at a known code
	// address.
	trapKindFault
)

// Frame is one raw WebAssembly-level stack entry captured at trap time.
// Symbolication into a printable form is deferred to FrameInfo.
type Frame struct {
	// ModuleName is the instance name the function belongs to.
	ModuleName string
	// FuncName is the name-section name, possibly empty.
	FuncName string
	// FuncIndex is the position in the module's function index namespace.
	FuncIndex uint32
	// CodeOffset is the byte offset within the original binary where the
	// fault or the pending call sits, or 0 when unknown.
	CodeOffset uint64
}

// FrameInfo is a symbolicated Frame: the human-readable mapping from a code
// address back to (module, function, offset).
type FrameInfo struct {
	// Location is "module.function" with numeric fallbacks for missing
	// names.
	Location string
	// CodeOffset mirrors Frame.CodeOffset.
	CodeOffset uint64
}

// String implements fmt.Stringer.
func (f FrameInfo) String() string {
	if f.CodeOffset == 0 {
		return f.Location
	}
	return fmt.Sprintf("%s[+%#x]", f.Location, f.CodeOffset)
}

// Trap is a structured runtime fault: what failed, where, and the stack at
// the moment of failure.
//
// Construction captures the native program counters and the raw wasm frames
// eagerly, at the fault point. Symbolication runs at most once, on first
// inspection, because it is expensive and traps are exceptional.
type Trap struct {
	kind trapKind

	// cause is the user error for trapKindUser.
	cause error
	// code is the TrapCode for trapKindRuntime.
	code TrapCode
	// pc is the faulting address for trapKindFault.
	pc uintptr

	// callers are raw native program counters from runtime.Callers.
	callers []uintptr
	// frames are raw wasm-level frames, innermost first.
	frames []Frame

	symbolicateOnce sync.Once
	symbolicated    []FrameInfo
}

// backtraceDepth bounds native PC capture. Deeper frames belong to the
// embedder, not the engine.
const backtraceDepth = 64

func newTrap(kind trapKind, frames []Frame) *Trap {
	t := &Trap{kind: kind, frames: frames}
	t.callers = make([]uintptr, backtraceDepth)
	// Skip runtime.Callers itself and the constructor.
	n := runtime.Callers(2, t.callers)
	t.callers = t.callers[:n]
	return t
}

// NewUserTrap wraps an error raised by a host function.
func NewUserTrap(cause error, frames []Frame) *Trap {
	t := newTrap(trapKindUser, frames)
	t.cause = cause
	return t
}

// NewRuntimeTrap builds a trap for a named runtime fault.
func NewRuntimeTrap(code TrapCode, frames []Frame) *Trap {
	t := newTrap(trapKindRuntime, frames)
	t.code = code
	return t
}

// NewFaultTrap builds a trap for a fault at a known code address, classified
// to a TrapCode by the fault registry.
func NewFaultTrap(pc uintptr, code TrapCode, frames []Frame) *Trap {
	t := newTrap(trapKindFault, frames)
	t.pc = pc
	t.code = code
	return t
}

// NewOOMTrap builds the allocation-failure trap. Out of memory unwinds like
// any other trap because it can occur mid-execution.
func NewOOMTrap(frames []Frame) *Trap {
	return NewRuntimeTrap(TrapCodeOutOfMemory, frames)
}

// IsUser returns the wrapped user error, or nil for engine-raised traps.
func (t *Trap) IsUser() error {
	if t.kind == trapKindUser {
		return t.cause
	}
	return nil
}

// Code returns the trap code and true for engine-raised traps.
func (t *Trap) Code() (TrapCode, bool) {
	if t.kind == trapKindUser {
		return 0, false
	}
	return t.code, true
}

// PC returns the faulting code address and true for CPU-style faults.
func (t *Trap) PC() (uintptr, bool) {
	if t.kind == trapKindFault {
		return t.pc, true
	}
	return 0, false
}

// NativeCallers returns the raw program counters captured at the fault.
func (t *Trap) NativeCallers() []uintptr {
	return t.callers
}

// Frames resolves and returns the WebAssembly-level stack, innermost first.
// Resolution runs once; later calls return the cached result.
func (t *Trap) Frames() []FrameInfo {
	t.symbolicateOnce.Do(func() {
		t.symbolicated = make([]FrameInfo, len(t.frames))
		for i, f := range t.frames {
			t.symbolicated[i] = symbolicate(f)
		}
	})
	return t.symbolicated
}

func symbolicate(f Frame) FrameInfo {
	module := f.ModuleName
	if module == "" {
		module = "?"
	}
	fn := f.FuncName
	if fn == "" {
		fn = fmt.Sprintf("[%d]", f.FuncIndex)
	}
	return FrameInfo{Location: module + "." + fn, CodeOffset: f.CodeOffset}
}

// Error implements error. The message includes the wasm-level stack when
// available, with unresolved entries kept rather than omitted.
func (t *Trap) Error() string {
	var sb strings.Builder
	switch t.kind {
	case trapKindUser:
		sb.WriteString(t.cause.Error())
	case trapKindFault:
		fmt.Fprintf(&sb, "%s (fault at %#x)", t.code, t.pc)
	default:
		sb.WriteString(t.code.String())
	}

	if frames := t.Frames(); len(frames) > 0 {
		sb.WriteString("\nwasm stack trace:")
		for _, f := range frames {
			sb.WriteString("\n\t")
			sb.WriteString(f.String())
		}
	}
	return sb.String()
}

// Unwrap exposes the user cause to errors.Is/As, so an embedder error thrown
// in a host function is matchable at the outer call site.
func (t *Trap) Unwrap() error {
	return t.cause
}
