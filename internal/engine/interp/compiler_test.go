package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/internal/wasm"
)

func compileBody(t *testing.T, typ *wasm.FunctionType, localTypes []wasm.ValueType, body []byte) *compiledFunction {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{typ},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{LocalTypes: localTypes, Body: body, BodyOffsetInBinary: 0x20}},
	}
	f, err := compileFunction(m, 0)
	require.NoError(t, err)
	return f
}

func TestCompileFunction_branchResolution(t *testing.T) {
	// block (result i32) i32.const 1 br 0 end
	f := compileBody(t, &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}, nil, []byte{
		wasm.OpcodeBlock, 0x7f,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeBr, 0,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})

	require.Len(t, f.ops, 2)
	require.Equal(t, wasm.OpcodeI32Const, f.ops[0].kind)
	br := f.ops[1]
	require.Equal(t, wasm.OpcodeBr, br.kind)
	// The branch targets the op past the end, carrying one result down to
	// the block's entry height.
	require.Equal(t, uint64(2), br.u1)
	height, arity := unpackBranchTarget(br.u2)
	require.Equal(t, 0, height)
	require.Equal(t, 1, arity)
}

func TestCompileFunction_loopBranchesBackward(t *testing.T) {
	// loop br 0 end
	f := compileBody(t, &wasm.FunctionType{}, nil, []byte{
		wasm.OpcodeLoop, 0x40,
		wasm.OpcodeBr, 0,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})

	require.Len(t, f.ops, 1)
	require.Equal(t, wasm.OpcodeBr, f.ops[0].kind)
	require.Equal(t, uint64(0), f.ops[0].u1) // back to the loop start
}

func TestCompileFunction_ifElse(t *testing.T) {
	// if (result i32) i32.const 1 else i32.const 2 end, condition local 0
	f := compileBody(t, &wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32},
		Results: []wasm.ValueType{wasm.ValueTypeI32},
	}, nil, []byte{
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeIf, 0x7f,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeElse,
		wasm.OpcodeI32Const, 2,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})

	// local.get, brIfZero -> else, const 1, goto -> end, const 2
	require.Len(t, f.ops, 5)
	require.Equal(t, kindBrIfZero, f.ops[1].kind)
	require.Equal(t, uint64(4), f.ops[1].u1) // alternative starts after the goto
	require.Equal(t, kindGoto, f.ops[3].kind)
	require.Equal(t, uint64(5), f.ops[3].u1)
}

func TestCompileFunction_deadCodeIsDropped(t *testing.T) {
	// return followed by ops that never execute, including a nested block.
	f := compileBody(t, &wasm.FunctionType{}, nil, []byte{
		wasm.OpcodeReturn,
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeDrop,
		wasm.OpcodeEnd,
		wasm.OpcodeNop,
		wasm.OpcodeEnd,
	})

	require.Len(t, f.ops, 1)
	require.Equal(t, wasm.OpcodeReturn, f.ops[0].kind)
}

func TestCompileFunction_sourceOffsets(t *testing.T) {
	f := compileBody(t, &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}, nil, []byte{
		wasm.OpcodeI32Const, 7, // offset 0
		wasm.OpcodeI32Const, 8, // offset 2
		wasm.OpcodeI32Add, // offset 4
		wasm.OpcodeEnd,
	})

	require.Equal(t, uint64(0x20), f.ops[0].offset)
	require.Equal(t, uint64(0x22), f.ops[1].offset)
	require.Equal(t, uint64(0x24), f.ops[2].offset)
}

func TestCompileFunction_errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		err  string
	}{
		{
			name: "unknown opcode",
			body: []byte{0xfe, wasm.OpcodeEnd},
			err:  "unknown opcode 0xfe",
		},
		{
			name: "truncated immediate",
			body: []byte{wasm.OpcodeI32Const},
			err:  "read i32 immediate",
		},
		{
			name: "label out of range",
			body: []byte{wasm.OpcodeBr, 5, wasm.OpcodeEnd},
			err:  "label index out of range: 5",
		},
		{
			name: "trailing bytes",
			body: []byte{wasm.OpcodeEnd, wasm.OpcodeNop},
			err:  "1 bytes after function end",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				CodeSection:     []*wasm.Code{{Body: tc.body}},
			}
			_, err := compileFunction(m, 0)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestSerializedFunctions_roundTrip(t *testing.T) {
	f := compileBody(t, &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}},
		[]wasm.ValueType{wasm.ValueTypeI64}, []byte{
			wasm.OpcodeI32Const, 3,
			wasm.OpcodeEnd,
		})

	payload := encodeFunctions([]*compiledFunction{f})
	decoded, err := decodeFunctions(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, f.index, decoded[0].index)
	require.Equal(t, f.typeIndex, decoded[0].typeIndex)
	require.Equal(t, f.localTypes, decoded[0].localTypes)
	require.Equal(t, f.ops, decoded[0].ops)
	require.Equal(t, f.bodyOffsetInBinary, decoded[0].bodyOffsetInBinary)
}

func TestDecodeFunctions_truncated(t *testing.T) {
	f := compileBody(t, &wasm.FunctionType{}, nil, []byte{wasm.OpcodeEnd})
	payload := encodeFunctions([]*compiledFunction{f})

	for cut := 1; cut < len(payload); cut++ {
		_, err := decodeFunctions(payload[:cut])
		require.Error(t, err, "cut at %d", cut)
	}
	_, err := decodeFunctions(append(payload, 0))
	require.EqualError(t, err, "1 trailing bytes after compiled code")
}
