package middleware

import (
	"bytes"
	"fmt"

	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

// Operator is one instruction of a function body: the opcode and its raw
// immediate bytes, positioned at Offset within the body.
type Operator struct {
	Opcode wasm.Opcode
	// Immediates are the undecoded immediate bytes, aliasing the body.
	Immediates []byte
	// Offset is the byte position of the opcode within the body.
	Offset int
}

// OperatorReader iterates a function body one operator at a time. It only
// splits instruction boundaries; it does not typecheck, as bodies reaching a
// middleware already passed validation.
type OperatorReader struct {
	body []byte
	pc   int
}

// NewOperatorReader returns a reader positioned at the first instruction.
func NewOperatorReader(body []byte) *OperatorReader {
	return &OperatorReader{body: body}
}

// HasNext returns false once the body is exhausted.
func (r *OperatorReader) HasNext() bool {
	return r.pc < len(r.body)
}

// Next returns the operator at the cursor and advances past it.
func (r *OperatorReader) Next() (Operator, error) {
	if r.pc >= len(r.body) {
		return Operator{}, fmt.Errorf("operator stream exhausted")
	}
	start := r.pc
	op := r.body[r.pc]
	r.pc++

	n, err := immediateLen(op, r.body[r.pc:])
	if err != nil {
		return Operator{}, fmt.Errorf("offset %d: %w", start, err)
	}
	imm := r.body[r.pc : r.pc+n]
	r.pc += n
	return Operator{Opcode: op, Immediates: imm, Offset: start}, nil
}

// immediateLen returns how many immediate bytes follow op at the start of
// rest.
func immediateLen(op wasm.Opcode, rest []byte) (int, error) {
	rd := bytes.NewReader(rest)
	switch op {
	// No immediates: parametric, numeric, and most control instructions.
	default:
		return 0, nil
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		_, n, err := leb128.DecodeInt33AsInt64(rd)
		return int(n), err
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
		wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		_, n, err := leb128.DecodeUint32(rd)
		return int(n), err
	case wasm.OpcodeBrTable:
		count, n, err := leb128.DecodeUint32(rd)
		if err != nil {
			return 0, err
		}
		total := n
		for i := uint64(0); i < uint64(count)+1; i++ {
			_, n, err = leb128.DecodeUint32(rd)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return int(total), nil
	case wasm.OpcodeCallIndirect:
		_, n, err := leb128.DecodeUint32(rd)
		if err != nil {
			return 0, err
		}
		// Table index byte follows the type index.
		if _, err = rd.ReadByte(); err != nil {
			return 0, err
		}
		return int(n) + 1, nil
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if len(rest) < 1 {
			return 0, fmt.Errorf("missing reserved byte")
		}
		return 1, nil
	case wasm.OpcodeI32Const:
		_, n, err := leb128.DecodeInt32(rd)
		return int(n), err
	case wasm.OpcodeI64Const:
		_, n, err := leb128.DecodeInt64(rd)
		return int(n), err
	case wasm.OpcodeF32Const:
		if len(rest) < 4 {
			return 0, fmt.Errorf("truncated f32 immediate")
		}
		return 4, nil
	case wasm.OpcodeF64Const:
		if len(rest) < 8 {
			return 0, fmt.Errorf("truncated f64 immediate")
		}
		return 8, nil
	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16,
		wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		_, n1, err := leb128.DecodeUint32(rd) // alignment
		if err != nil {
			return 0, err
		}
		_, n2, err := leb128.DecodeUint32(rd) // offset
		if err != nil {
			return 0, err
		}
		return int(n1 + n2), nil
	case wasm.OpcodeMiscPrefix:
		_, n, err := leb128.DecodeUint32(rd)
		return int(n), err
	}
}
