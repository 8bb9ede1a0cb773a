package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/wasm"
)

func addModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
			Results: []wasm.ValueType{wasm.ValueTypeI32},
		}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0x00,
			wasm.OpcodeLocalGet, 0x01,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{
			"add": {Type: wasm.ExternTypeFunc, Name: "add", Index: 0},
		},
	}
}

func TestMetering_TransformModule(t *testing.T) {
	m := addModule()
	mw := &Metering{InitialPoints: 100}
	require.NoError(t, mw.TransformModule(m))

	require.Len(t, m.GlobalSection, 2)
	points := m.GlobalSection[0]
	require.Equal(t, wasm.ValueTypeI64, points.Type.ValType)
	require.True(t, points.Type.Mutable)

	exp := m.ExportSection[RemainingPointsExport]
	require.NotNil(t, exp)
	require.Equal(t, wasm.ExternTypeGlobal, exp.Type)
	require.Equal(t, wasm.Index(0), exp.Index)
	require.NotNil(t, m.ExportSection[PointsExhaustedExport])
}

func TestMetering_RewrittenBodyIsValid(t *testing.T) {
	m := addModule()
	chain := NewChain(&Metering{InitialPoints: 100})
	require.NoError(t, chain.Apply(m))

	// The injected sequence references the new globals and traps on an empty
	// budget, and the rewritten module still validates.
	require.NoError(t, m.Validate(api.CoreFeaturesV2, wasm.MemoryLimitPages))
	require.Greater(t, len(m.CodeSection[0].Body), 6)
}

func TestMetering_ChargesLoopPerIteration(t *testing.T) {
	// (loop br 0) body: the run inside the loop must carry its own check, so
	// two checks exist: one before the loop opcode's run, one for the branch.
	m := addModule()
	m.TypeSection = append(m.TypeSection, &wasm.FunctionType{})
	m.FunctionSection = []wasm.Index{1}
	m.CodeSection = []*wasm.Code{{Body: []byte{
		wasm.OpcodeLoop, 0x40,
		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	}}}
	m.ExportSection = map[string]*wasm.Export{}

	mw := &Metering{InitialPoints: 100}
	require.NoError(t, NewChain(mw).Apply(m))

	body := m.CodeSection[0].Body
	var checks int
	r := NewOperatorReader(body)
	for r.HasNext() {
		op, err := r.Next()
		require.NoError(t, err)
		// Each injected check contains exactly one i64.lt_u.
		if op.Opcode == wasm.OpcodeI64LtU {
			checks++
		}
	}
	require.Equal(t, 4, checks) // loop run, br run, two end runs
	require.NoError(t, m.Validate(api.CoreFeaturesV2, wasm.MemoryLimitPages))
}

func TestChain_AssertsStableSections(t *testing.T) {
	m := addModule()
	chain := NewChain(&sectionMutator{})
	require.Panics(t, func() { _ = chain.Apply(m) })
}

// sectionMutator grows the global section during the body phase, which is
// the ordering bug the chain must catch.
type sectionMutator struct{}

func (*sectionMutator) Name() string                         { return "mutator" }
func (*sectionMutator) TransformModule(m *wasm.Module) error { return nil }
func (*sectionMutator) RewriteBody(m *wasm.Module, _ wasm.Index, body []byte) ([]byte, error) {
	m.GlobalSection = append(m.GlobalSection, &wasm.Global{
		Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32},
		Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
	})
	return body, nil
}

func TestOperatorReader_Offsets(t *testing.T) {
	body := []byte{
		wasm.OpcodeI32Const, 0x2a,
		wasm.OpcodeLocalSet, 0x00,
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeF64Const, 0, 0, 0, 0, 0, 0, 0, 0,
		wasm.OpcodeDrop,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	}
	r := NewOperatorReader(body)

	var ops []wasm.Opcode
	var offsets []int
	for r.HasNext() {
		op, err := r.Next()
		require.NoError(t, err)
		ops = append(ops, op.Opcode)
		offsets = append(offsets, op.Offset)
	}
	require.Equal(t, []wasm.Opcode{
		wasm.OpcodeI32Const, wasm.OpcodeLocalSet, wasm.OpcodeBlock,
		wasm.OpcodeF64Const, wasm.OpcodeDrop, wasm.OpcodeEnd, wasm.OpcodeEnd,
	}, ops)
	require.Equal(t, []int{0, 2, 4, 6, 15, 16, 17}, offsets)
}
