package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/wavmio/wavm/internal/wasm"
)

// interpOp is one lowered instruction. Structured control flow is resolved
// at compile time: block, loop, if, else and end disappear, and every branch
// carries its absolute target and the operand-stack adjustment to perform.
//
// Ops hold indices, never pointers, so a compiled function round-trips
// through artifact serialization unchanged.
type interpOp struct {
	// kind is the WebAssembly opcode for ops that execute as themselves,
	// or one of the synthetic kinds below for resolved control flow.
	kind wasm.Opcode
	// u1, u2 are the immediates. Branch ops pack u1=target instruction
	// index and u2=unwindHeight<<32|arity.
	u1, u2 uint64
	// offset is the byte offset of the source instruction in the original
	// binary, for trap frames.
	offset uint64
}

// Synthetic kinds occupy the gap above the last MVP opcode (0xC4) and below
// the reserved prefix range.
const (
	// kindGoto is an unconditional jump with no stack adjustment.
	kindGoto wasm.Opcode = 0xC5
	// kindBrIfZero pops a condition and jumps when it is zero. Lowered from
	// the if instruction.
	kindBrIfZero wasm.Opcode = 0xC6

	// Saturating truncations lose their 0xFC prefix during lowering.
	kindI32TruncSatF32S wasm.Opcode = 0xC7
	kindI32TruncSatF32U wasm.Opcode = 0xC8
	kindI32TruncSatF64S wasm.Opcode = 0xC9
	kindI32TruncSatF64U wasm.Opcode = 0xCA
	kindI64TruncSatF32S wasm.Opcode = 0xCB
	kindI64TruncSatF32U wasm.Opcode = 0xCC
	kindI64TruncSatF64S wasm.Opcode = 0xCD
	kindI64TruncSatF64U wasm.Opcode = 0xCE

	// kindCompileFailed is the entire body of a function whose lowering
	// failed under best-effort compilation. u1 indexes the module's
	// deferred compile errors.
	kindCompileFailed wasm.Opcode = 0xCF
)

// branchTarget packs the stack adjustment of a resolved branch.
func branchTarget(unwindHeight, arity int) uint64 {
	return uint64(unwindHeight)<<32 | uint64(arity)
}

func unpackBranchTarget(u2 uint64) (unwindHeight, arity int) {
	return int(u2 >> 32), int(u2 & 0xffffffff)
}

// compiledFunction is the executable form of one locally-defined function.
type compiledFunction struct {
	// index is the function's position in the module index namespace.
	index wasm.Index
	// typeIndex is the module-local index of the function's signature.
	typeIndex wasm.Index
	// localTypes are the declared (non-parameter) locals, expanded.
	localTypes []wasm.ValueType
	// ops is the lowered body. Execution begins at ops[0]; the function
	// returns when the instruction pointer runs past the end.
	ops []interpOp
	// bodyOffsetInBinary locates the original body for diagnostics.
	bodyOffsetInBinary uint64
	// regionStart is the synthetic code address assigned at registration
	// with the fault registry. One op occupies one address unit.
	regionStart uintptr
}

// Serialization of lowered code, used by the artifact layer. Fixed-width
// little-endian fields: decode must not allocate proportional to claimed
// counts before verifying the input actually holds them.

const opRecordSize = 1 + 8 + 8 + 8

// encodeFunction appends the wire form of f to dst.
func encodeFunction(dst []byte, f *compiledFunction) []byte {
	var tmp [8]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:4], v)
		dst = append(dst, tmp[:4]...)
	}
	put32(f.index)
	put32(f.typeIndex)
	binary.LittleEndian.PutUint64(tmp[:], f.bodyOffsetInBinary)
	dst = append(dst, tmp[:]...)
	put32(uint32(len(f.localTypes)))
	dst = append(dst, f.localTypes...)
	put32(uint32(len(f.ops)))
	for i := range f.ops {
		op := &f.ops[i]
		dst = append(dst, byte(op.kind))
		binary.LittleEndian.PutUint64(tmp[:], op.u1)
		dst = append(dst, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], op.u2)
		dst = append(dst, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], op.offset)
		dst = append(dst, tmp[:]...)
	}
	return dst
}

// decodeFunction reads one function record from b, returning the remainder.
func decodeFunction(b []byte) (*compiledFunction, []byte, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("truncated compiled function: need %d bytes, have %d", n, len(b))
		}
		return nil
	}
	if err := need(4 + 4 + 8 + 4); err != nil {
		return nil, nil, err
	}
	f := &compiledFunction{
		index:              binary.LittleEndian.Uint32(b),
		typeIndex:          binary.LittleEndian.Uint32(b[4:]),
		bodyOffsetInBinary: binary.LittleEndian.Uint64(b[8:]),
	}
	localCount := binary.LittleEndian.Uint32(b[16:])
	b = b[20:]
	if err := need(int(localCount)); err != nil {
		return nil, nil, err
	}
	f.localTypes = append([]wasm.ValueType{}, b[:localCount]...)
	b = b[localCount:]

	if err := need(4); err != nil {
		return nil, nil, err
	}
	opCount := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if err := need(int(opCount) * opRecordSize); err != nil {
		return nil, nil, err
	}
	f.ops = make([]interpOp, opCount)
	for i := range f.ops {
		f.ops[i] = interpOp{
			kind:   wasm.Opcode(b[0]),
			u1:     binary.LittleEndian.Uint64(b[1:]),
			u2:     binary.LittleEndian.Uint64(b[9:]),
			offset: binary.LittleEndian.Uint64(b[17:]),
		}
		b = b[opRecordSize:]
	}
	return f, b, nil
}

// encodeFunctions serializes a module's lowered code for embedding in an
// artifact.
func encodeFunctions(fns []*compiledFunction) []byte {
	var dst []byte
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(fns)))
	dst = append(dst, tmp[:]...)
	for _, f := range fns {
		dst = encodeFunction(dst, f)
	}
	return dst
}

// decodeFunctions is the inverse of encodeFunctions.
func decodeFunctions(b []byte) ([]*compiledFunction, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("truncated compiled code: %d bytes", len(b))
	}
	count := binary.LittleEndian.Uint32(b)
	b = b[4:]
	fns := make([]*compiledFunction, 0, count)
	for i := uint32(0); i < count; i++ {
		f, rest, err := decodeFunction(b)
		if err != nil {
			return nil, err
		}
		fns = append(fns, f)
		b = rest
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after compiled code", len(b))
	}
	return fns, nil
}
