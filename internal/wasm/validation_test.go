package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/api"
)

// i32i32_i32 is the signature of a binary i32 operator.
var i32i32_i32 = &FunctionType{
	Params:  []ValueType{ValueTypeI32, ValueTypeI32},
	Results: []ValueType{ValueTypeI32},
}

func validModuleWithBody(ft *FunctionType, body []byte) *Module {
	return &Module{
		TypeSection:     []*FunctionType{ft},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: body}},
		ExportSection:   map[string]*Export{},
	}
}

func TestModule_Validate_Add(t *testing.T) {
	m := validModuleWithBody(i32i32_i32, []byte{
		OpcodeLocalGet, 0x00,
		OpcodeLocalGet, 0x01,
		OpcodeI32Add,
		OpcodeEnd,
	})
	require.NoError(t, m.Validate(api.CoreFeaturesV2, MemoryLimitPages))
}

func TestModule_Validate_Errors(t *testing.T) {
	tests := []struct {
		name        string
		m           *Module
		features    api.CoreFeatures
		expectedErr string
	}{
		{
			name: "arity mismatch on add",
			m: validModuleWithBody(i32i32_i32, []byte{
				OpcodeLocalGet, 0x00,
				OpcodeI32Add,
				OpcodeEnd,
			}),
			features:    api.CoreFeaturesV2,
			expectedErr: "operand stack underflow",
		},
		{
			name: "local index out of range",
			m: validModuleWithBody(i32i32_i32, []byte{
				OpcodeLocalGet, 0x02,
				OpcodeLocalGet, 0x01,
				OpcodeI32Add,
				OpcodeEnd,
			}),
			features:    api.CoreFeaturesV2,
			expectedErr: "local index out of range: 2",
		},
		{
			name: "function index out of range",
			m: validModuleWithBody(&FunctionType{}, []byte{
				OpcodeCall, 0x01,
				OpcodeEnd,
			}),
			features:    api.CoreFeaturesV2,
			expectedErr: "function index out of range: 1",
		},
		{
			name: "result type mismatch",
			m: validModuleWithBody(i32i32_i32, []byte{
				OpcodeI64Const, 0x00,
				OpcodeEnd,
			}),
			features:    api.CoreFeaturesV2,
			expectedErr: "type mismatch",
		},
		{
			name: "sign extension disabled",
			m: validModuleWithBody(
				&FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}},
				[]byte{
					OpcodeLocalGet, 0x00,
					OpcodeI32Extend8S,
					OpcodeEnd,
				}),
			features:    api.CoreFeaturesV1,
			expectedErr: `feature "sign-extension-ops" is disabled`,
		},
		{
			name: "trunc sat disabled",
			m: validModuleWithBody(
				&FunctionType{Params: []ValueType{ValueTypeF32}, Results: []ValueType{ValueTypeI32}},
				[]byte{
					OpcodeLocalGet, 0x00,
					OpcodeMiscPrefix, byte(OpcodeMiscI32TruncSatF32S),
					OpcodeEnd,
				}),
			features:    api.CoreFeaturesV1,
			expectedErr: `feature "nontrapping-float-to-int-conversion" is disabled`,
		},
		{
			name: "memory op without memory",
			m: validModuleWithBody(&FunctionType{Results: []ValueType{ValueTypeI32}}, []byte{
				OpcodeI32Const, 0x00,
				OpcodeI32Load, 0x02, 0x00,
				OpcodeEnd,
			}),
			features:    api.CoreFeaturesV2,
			expectedErr: "memory not declared",
		},
		{
			name: "alignment too large",
			m: func() *Module {
				m := validModuleWithBody(&FunctionType{Results: []ValueType{ValueTypeI32}}, []byte{
					OpcodeI32Const, 0x00,
					OpcodeI32Load, 0x03, 0x00,
					OpcodeEnd,
				})
				m.MemorySection = &Memory{Min: 1, Max: 1, IsMaxEncoded: true}
				return m
			}(),
			features:    api.CoreFeaturesV2,
			expectedErr: "invalid memory alignment",
		},
		{
			name: "global set on immutable",
			m: func() *Module {
				m := validModuleWithBody(&FunctionType{}, []byte{
					OpcodeI32Const, 0x00,
					OpcodeGlobalSet, 0x00,
					OpcodeEnd,
				})
				m.GlobalSection = []*Global{{
					Type: &GlobalType{ValType: ValueTypeI32},
					Init: &ConstantExpression{Opcode: OpcodeI32Const, Data: []byte{0x00}},
				}}
				return m
			}(),
			features:    api.CoreFeaturesV2,
			expectedErr: "global[0] is immutable",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate(tc.features, MemoryLimitPages)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestModule_Validate_SectionConsistency(t *testing.T) {
	m := &Module{
		TypeSection:     []*FunctionType{{}},
		FunctionSection: []Index{0},
		ExportSection:   map[string]*Export{},
	}
	err := m.Validate(api.CoreFeaturesV2, MemoryLimitPages)
	require.EqualError(t, err, "function and code section have inconsistent lengths: 1 != 0")
}

func TestModule_Validate_ExportIndex(t *testing.T) {
	m := validModuleWithBody(&FunctionType{}, []byte{OpcodeEnd})
	m.ExportSection = map[string]*Export{
		"f": {Type: ExternTypeFunc, Name: "f", Index: 10},
	}
	err := m.Validate(api.CoreFeaturesV2, MemoryLimitPages)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown function for export["f"]`)
}

func TestMemory_Validate(t *testing.T) {
	require.NoError(t, (&Memory{Min: 1, Max: 2}).Validate(MemoryLimitPages))
	require.Error(t, (&Memory{Min: 3, Max: 2}).Validate(MemoryLimitPages))
	require.Error(t, (&Memory{Min: 0, Max: 70000}).Validate(MemoryLimitPages))
	require.Error(t, (&Memory{Min: 2, Max: 2}).Validate(1))
}

func TestModule_Validate_MultiValueBlock(t *testing.T) {
	// (block (result i32 i32) ...) requires the multi-value feature.
	m := &Module{
		TypeSection: []*FunctionType{
			{Results: []ValueType{ValueTypeI32}},
			{Results: []ValueType{ValueTypeI32, ValueTypeI32}},
		},
		FunctionSection: []Index{0},
		CodeSection: []*Code{{Body: []byte{
			OpcodeBlock, 0x01, // block type = type section index 1
			OpcodeI32Const, 0x01,
			OpcodeI32Const, 0x02,
			OpcodeEnd,
			OpcodeI32Add,
			OpcodeEnd,
		}}},
		ExportSection: map[string]*Export{},
	}

	require.NoError(t, m.Validate(api.CoreFeaturesV2, MemoryLimitPages))

	err := m.Validate(api.CoreFeaturesV1, MemoryLimitPages)
	require.Error(t, err)
	require.Contains(t, err.Error(), `feature "multi-value" is disabled`)
}
