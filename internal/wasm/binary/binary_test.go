package binary

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/wasm"
)

// addWasm is a module exporting "add" as (func (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add), assembled by hand.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // preamble
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type section
	0x03, 0x02, 0x01, 0x00, // function section
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00, // export section
	0x0a, 0x09, 0x01, 0x07, 0x00, // code section, one body, no locals
	0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b, // local.get 0 local.get 1 i32.add end
}

func TestDecodeModule_Add(t *testing.T) {
	m, err := DecodeModule(addWasm, api.CoreFeaturesV2)
	require.NoError(t, err)

	require.Equal(t, []*wasm.FunctionType{
		{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
	}, m.TypeSection)
	require.Equal(t, []wasm.Index{0}, m.FunctionSection)
	require.Equal(t, &wasm.Export{Type: wasm.ExternTypeFunc, Name: "add", Index: 0}, m.ExportSection["add"])

	require.Len(t, m.CodeSection, 1)
	code := m.CodeSection[0]
	require.Empty(t, code.LocalTypes)
	require.Equal(t, []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}, code.Body)
	// The body offset points at the first instruction in the input bytes.
	require.Equal(t, byte(0x20), addWasm[code.BodyOffsetInBinary])

	require.NoError(t, m.Validate(api.CoreFeaturesV2, wasm.MemoryLimitPages))
}

// TestDecodeModule_StreamingEquivalence feeds the same bytes through the
// slice and streaming paths and requires identical results, including body
// offsets, with an unbuffered reader that forces short reads.
func TestDecodeModule_StreamingEquivalence(t *testing.T) {
	fromSlice, err := DecodeModule(addWasm, api.CoreFeaturesV2)
	require.NoError(t, err)

	fromStream, err := DecodeModuleFromReader(bufio.NewReaderSize(bytes.NewReader(addWasm), 1), api.CoreFeaturesV2)
	require.NoError(t, err)
	fromStream.AssignModuleID(addWasm)

	require.Equal(t, fromSlice, fromStream)
}

func TestDecodeModule_Preamble(t *testing.T) {
	_, err := DecodeModule([]byte{0x01, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, api.CoreFeaturesV2)
	require.ErrorIs(t, err, ErrInvalidMagicNumber)

	_, err = DecodeModule([]byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, api.CoreFeaturesV2)
	require.ErrorIs(t, err, ErrInvalidVersion)

	_, err = DecodeModule([]byte{0x00, 0x61}, api.CoreFeaturesV2)
	require.Error(t, err)
}

func TestDecodeModule_ErrorOffset(t *testing.T) {
	// Corrupt the export desc type (0x00 at offset 28 becomes 0x7b).
	corrupt := append([]byte{}, addWasm...)
	require.Equal(t, byte(0x00), corrupt[28])
	corrupt[28] = 0x7b

	_, err := DecodeModule(corrupt, api.CoreFeaturesV2)
	require.Error(t, err)

	var oe *OffsetError
	require.True(t, errors.As(err, &oe))
	require.Equal(t, uint64(29), oe.Offset) // position after reading the byte
	require.Contains(t, err.Error(), "invalid desc type")
}

func TestDecodeModule_SectionOrder(t *testing.T) {
	// A function section appearing after the export section is rejected.
	outOfOrder := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x07, 0x01, 0x00, // empty export section
		0x03, 0x01, 0x00, // empty function section
	}
	_, err := DecodeModule(outOfOrder, api.CoreFeaturesV2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of order")
}

func TestDecodeModule_SectionLength(t *testing.T) {
	// Type section declares 8 bytes but its content is 7.
	bad := append([]byte{}, addWasm[:8]...)
	bad = append(bad, 0x01, 0x08, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f)
	_, err := DecodeModule(bad, api.CoreFeaturesV2)
	require.Error(t, err)
}

func TestDecodeModule_NameSection(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
		ExportSection:   map[string]*wasm.Export{},
		NameSection: &wasm.NameSection{
			ModuleName:    "example",
			FunctionNames: wasm.NameMap{{Index: 0, Name: "start"}},
			LocalNames: wasm.IndirectNameMap{
				{Index: 0, NameMap: wasm.NameMap{{Index: 0, Name: "x"}}},
			},
		},
	}

	decoded, err := DecodeModule(EncodeModule(m), api.CoreFeaturesV2)
	require.NoError(t, err)
	require.NotNil(t, decoded.NameSection)
	require.Equal(t, "example", decoded.NameSection.ModuleName)
	require.Equal(t, "start", decoded.FunctionName(0))
	require.Equal(t, m.NameSection.LocalNames, decoded.NameSection.LocalNames)
}

func TestEncodeModule_RoundTrip(t *testing.T) {
	max := uint32(4)
	two := uint32(2)
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
			{},
		},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "env", Name: "mul", DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0, 1},
		TableSection:    &wasm.Table{Min: 2, Max: &max},
		MemorySection:   &wasm.Memory{Min: 1, Max: 4, IsMaxEncoded: true},
		GlobalSection: []*wasm.Global{
			{
				Type: &wasm.GlobalType{ValType: wasm.ValueTypeI64, Mutable: true},
				Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{0x2a}},
			},
		},
		ExportSection: map[string]*wasm.Export{
			"add": {Type: wasm.ExternTypeFunc, Name: "add", Index: 1},
			"mem": {Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
		},
		StartSection: &two,
		ElementSection: []*wasm.ElementSegment{
			{OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}}, Init: []wasm.Index{1, 2}},
		},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0x00, wasm.OpcodeLocalGet, 0x01, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI64}, Body: []byte{wasm.OpcodeEnd}},
		},
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x08}}, Init: []byte("hi")},
		},
	}

	encoded := EncodeModule(m)
	decoded, err := DecodeModule(encoded, api.CoreFeaturesV2)
	require.NoError(t, err)

	require.Equal(t, m.TypeSection, decoded.TypeSection)
	require.Equal(t, m.ImportSection, decoded.ImportSection)
	require.Equal(t, m.FunctionSection, decoded.FunctionSection)
	require.Equal(t, m.TableSection, decoded.TableSection)
	require.Equal(t, m.MemorySection, decoded.MemorySection)
	require.Equal(t, m.GlobalSection, decoded.GlobalSection)
	require.Equal(t, m.ExportSection, decoded.ExportSection)
	require.Equal(t, m.StartSection, decoded.StartSection)
	require.Equal(t, m.ElementSection, decoded.ElementSection)
	require.Equal(t, m.DataSection, decoded.DataSection)
	for i, c := range m.CodeSection {
		require.Equal(t, c.LocalTypes, decoded.CodeSection[i].LocalTypes)
		require.Equal(t, c.Body, decoded.CodeSection[i].Body)
	}
}
