package interp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/wasm"
	"github.com/wavmio/wavm/internal/wasmdebug"
)

var testCtx = context.Background()

func newTestStore(strict bool) *wasm.Store {
	e := NewEngine(api.CoreFeaturesV2, strict)
	return wasm.NewStore(api.CoreFeaturesV2, e, wasm.DefaultTunables(), wasm.MemoryLimitPages)
}

// instantiate validates and instantiates a hand-built module.
func instantiate(t *testing.T, s *wasm.Store, m *wasm.Module, name string) api.Module {
	m.AssignModuleID([]byte(name))
	require.NoError(t, m.Validate(api.CoreFeaturesV2, wasm.MemoryLimitPages))
	mod, err := s.Instantiate(testCtx, m, name)
	require.NoError(t, err)
	return mod
}

func i32i32() *wasm.FunctionType {
	return &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
}

func TestEngine_recursiveCall(t *testing.T) {
	// fib(n) = n < 2 ? n : fib(n-1) + fib(n-2)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32()},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI32Const, 2,
			wasm.OpcodeI32LtS,
			wasm.OpcodeIf, 0x7f, // result i32
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeElse,
			wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Sub, wasm.OpcodeCall, 0,
			wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 2, wasm.OpcodeI32Sub, wasm.OpcodeCall, 0,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
			wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{"fib": {Type: wasm.ExternTypeFunc, Name: "fib", Index: 0}},
	}

	mod := instantiate(t, newTestStore(true), m, "fib")
	results, err := mod.ExportedFunction("fib").Call(testCtx, 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{55}, results)
}

func TestEngine_loopWithBranches(t *testing.T) {
	// sum(n) iterates a loop, accumulating into a local until n reaches 0.
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32()},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			LocalTypes: []wasm.ValueType{wasm.ValueTypeI32},
			Body: []byte{
				wasm.OpcodeBlock, 0x40,
				wasm.OpcodeLoop, 0x40,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeI32Eqz,
				wasm.OpcodeBrIf, 1,
				wasm.OpcodeLocalGet, 1, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Add, wasm.OpcodeLocalSet, 1,
				wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Sub, wasm.OpcodeLocalSet, 0,
				wasm.OpcodeBr, 0,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeEnd,
			},
		}},
		ExportSection: map[string]*wasm.Export{"sum": {Type: wasm.ExternTypeFunc, Name: "sum", Index: 0}},
	}

	mod := instantiate(t, newTestStore(true), m, "sum")
	results, err := mod.ExportedFunction("sum").Call(testCtx, 100)
	require.NoError(t, err)
	require.Equal(t, []uint64{5050}, results)
}

func TestEngine_brTable(t *testing.T) {
	// switch (n) { case 0: 100; case 1: 200; default: 300 }
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32()},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeBlock, 0x40,
			wasm.OpcodeBlock, 0x40,
			wasm.OpcodeBlock, 0x40,
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeBrTable, 2, 0, 1, 2,
			wasm.OpcodeEnd,
			wasm.OpcodeI32Const, 0xe4, 0x00, wasm.OpcodeReturn, // 100
			wasm.OpcodeEnd,
			wasm.OpcodeI32Const, 0xc8, 0x01, wasm.OpcodeReturn, // 200
			wasm.OpcodeEnd,
			wasm.OpcodeI32Const, 0xac, 0x02, // 300
			wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{"switch": {Type: wasm.ExternTypeFunc, Name: "switch", Index: 0}},
	}

	mod := instantiate(t, newTestStore(true), m, "brtable")
	f := mod.ExportedFunction("switch")
	for input, expected := range map[uint64]uint64{0: 100, 1: 200, 2: 300, 50: 300} {
		results, err := f.Call(testCtx, input)
		require.NoError(t, err)
		require.Equal(t, []uint64{expected}, results, "input %d", input)
	}
}

func TestEngine_memoryOps(t *testing.T) {
	max := uint32(2)
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}}, // poke
			i32i32(), // peek, grow
		},
		FunctionSection: []wasm.Index{0, 1, 1},
		MemorySection:   &wasm.Memory{Min: 1, Max: max, IsMaxEncoded: true},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Store, 2, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeMemoryGrow, 0, wasm.OpcodeEnd}},
		},
		ExportSection: map[string]*wasm.Export{
			"poke": {Type: wasm.ExternTypeFunc, Name: "poke", Index: 0},
			"peek": {Type: wasm.ExternTypeFunc, Name: "peek", Index: 1},
			"grow": {Type: wasm.ExternTypeFunc, Name: "grow", Index: 2},
		},
	}

	mod := instantiate(t, newTestStore(true), m, "memory")

	_, err := mod.ExportedFunction("poke").Call(testCtx, 16, 0xcafe)
	require.NoError(t, err)
	results, err := mod.ExportedFunction("peek").Call(testCtx, 16)
	require.NoError(t, err)
	require.Equal(t, []uint64{0xcafe}, results)

	// Out of bounds load traps.
	_, err = mod.ExportedFunction("peek").Call(testCtx, 65536)
	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	code, ok := trap.Code()
	require.True(t, ok)
	require.Equal(t, wasmdebug.TrapCodeMemoryOutOfBounds, code)

	// Growth succeeds up to the declared maximum, then reports -1.
	results, err = mod.ExportedFunction("grow").Call(testCtx, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, results)
	results, err = mod.ExportedFunction("grow").Call(testCtx, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{0xffffffff}, results)

	// The previously out-of-bounds address is now readable.
	results, err = mod.ExportedFunction("peek").Call(testCtx, 65536)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, results)
}

// TestEngine_memoryGrowLarge grows a 1-page memory by 1024 pages and checks
// the boundary moved exactly: the last word is addressable, one byte past the
// new size traps.
func TestEngine_memoryGrowLarge(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32()},
		FunctionSection: []wasm.Index{0, 0},
		MemorySection:   &wasm.Memory{Min: 1, Max: 1025, IsMaxEncoded: true},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeMemoryGrow, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeEnd}},
		},
		ExportSection: map[string]*wasm.Export{
			"grow": {Type: wasm.ExternTypeFunc, Name: "grow", Index: 0},
			"peek": {Type: wasm.ExternTypeFunc, Name: "peek", Index: 1},
			"mem":  {Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
		},
	}

	mod := instantiate(t, newTestStore(true), m, "bigmem")

	results, err := mod.ExportedFunction("grow").Call(testCtx, 1024)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, results)
	require.Equal(t, uint32(1025*65536), mod.ExportedMemory("mem").Size())

	_, err = mod.ExportedFunction("peek").Call(testCtx, 1025*65536-4)
	require.NoError(t, err)

	_, err = mod.ExportedFunction("peek").Call(testCtx, 1025*65536)
	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	code, ok := trap.Code()
	require.True(t, ok)
	require.Equal(t, wasmdebug.TrapCodeMemoryOutOfBounds, code)
}

func TestEngine_callIndirect(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Results: []wasm.ValueType{wasm.ValueTypeI32}},
			{Results: []wasm.ValueType{wasm.ValueTypeI64}},
			i32i32(),
		},
		FunctionSection: []wasm.Index{0, 1, 2},
		TableSection:    &wasm.Table{Min: 3},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeI32Const, 42, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI64Const, 1, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeCallIndirect, 0, 0, wasm.OpcodeEnd}},
		},
		ElementSection: []*wasm.ElementSegment{{
			OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
			Init:       []wasm.Index{0, 1},
		}},
		ExportSection: map[string]*wasm.Export{"dispatch": {Type: wasm.ExternTypeFunc, Name: "dispatch", Index: 2}},
	}

	mod := instantiate(t, newTestStore(true), m, "indirect")
	dispatch := mod.ExportedFunction("dispatch")

	results, err := dispatch.Call(testCtx, 0)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)

	expectTrap := func(elem uint64, code wasmdebug.TrapCode) {
		_, err := dispatch.Call(testCtx, elem)
		var trap *wasmdebug.Trap
		require.ErrorAs(t, err, &trap)
		got, ok := trap.Code()
		require.True(t, ok)
		require.Equal(t, code, got)
	}
	expectTrap(1, wasmdebug.TrapCodeBadSignature)
	expectTrap(2, wasmdebug.TrapCodeIndirectCallToNull)
	expectTrap(10, wasmdebug.TrapCodeTableOutOfBounds)
}

func TestEngine_trapHasStackTrace(t *testing.T) {
	// outer calls inner, inner executes unreachable.
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}},
		},
		ExportSection: map[string]*wasm.Export{"outer": {Type: wasm.ExternTypeFunc, Name: "outer", Index: 0}},
		NameSection: &wasm.NameSection{
			FunctionNames: wasm.NameMap{{Index: 0, Name: "outer"}, {Index: 1, Name: "inner"}},
		},
	}

	mod := instantiate(t, newTestStore(true), m, "traps")
	_, err := mod.ExportedFunction("outer").Call(testCtx)

	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	frames := trap.Frames()
	require.Len(t, frames, 2)
	require.Equal(t, "traps.inner", frames[0].Location)
	require.Equal(t, "traps.outer", frames[1].Location)
	require.Contains(t, err.Error(), "unreachable\nwasm stack trace:")
}

func TestEngine_callStackExhausted(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
		ExportSection:   map[string]*wasm.Export{"loop": {Type: wasm.ExternTypeFunc, Name: "loop", Index: 0}},
	}

	mod := instantiate(t, newTestStore(true), m, "recurse")
	_, err := mod.ExportedFunction("loop").Call(testCtx)

	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	code, ok := trap.Code()
	require.True(t, ok)
	require.Equal(t, wasmdebug.TrapCodeStackOverflow, code)
}

func TestEngine_integerDivision(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
			Results: []wasm.ValueType{wasm.ValueTypeI32},
		}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32DivS, wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{"div": {Type: wasm.ExternTypeFunc, Name: "div", Index: 0}},
	}

	mod := instantiate(t, newTestStore(true), m, "div")
	div := mod.ExportedFunction("div")

	results, err := div.Call(testCtx, api.EncodeI32(-6), api.EncodeI32(3))
	require.NoError(t, err)
	require.Equal(t, api.EncodeI32(-2), results[0])

	expectTrap := func(x, y uint64, code wasmdebug.TrapCode) {
		_, err := div.Call(testCtx, x, y)
		var trap *wasmdebug.Trap
		require.ErrorAs(t, err, &trap)
		got, _ := trap.Code()
		require.Equal(t, code, got)
	}
	expectTrap(1, 0, wasmdebug.TrapCodeIntegerDivisionByZero)
	expectTrap(api.EncodeI32(-2147483648), api.EncodeI32(-1), wasmdebug.TrapCodeIntegerOverflow)
}

func TestEngine_hostFunctions(t *testing.T) {
	s := newTestStore(true)

	var hostErr = errors.New("store unavailable")
	host, err := wasm.NewHostModule("env", map[string]interface{}{
		"mul": func(a, b uint32) uint32 { return a * b },
		"fail": func() {
			panic(hostErr)
		},
	})
	require.NoError(t, err)
	_, err = s.Instantiate(testCtx, host, "env")
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
			{},
		},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "mul", Type: wasm.ExternTypeFunc, DescFunc: 0},
			{Module: "env", Name: "fail", Type: wasm.ExternTypeFunc, DescFunc: 1},
		},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeEnd}},
		},
		ExportSection: map[string]*wasm.Export{
			"mul2": {Type: wasm.ExternTypeFunc, Name: "mul2", Index: 2},
			"boom": {Type: wasm.ExternTypeFunc, Name: "boom", Index: 3},
		},
	}

	mod := instantiate(t, s, m, "user")

	results, err := mod.ExportedFunction("mul2").Call(testCtx, 6, 7)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)

	// A host panic surfaces as a user trap preserving the original error.
	_, err = mod.ExportedFunction("boom").Call(testCtx)
	require.ErrorIs(t, err, hostErr)
	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, hostErr, trap.IsUser())
}

// TestEngine_nestedHostCallback drives wasm -> host -> wasm -> host and
// checks a user error raised at the innermost level surfaces unmodified at
// the outermost call site.
func TestEngine_nestedHostCallback(t *testing.T) {
	s := newTestStore(true)

	var hostErr = errors.New("downstream rejected")
	host, err := wasm.NewHostModule("env", map[string]interface{}{
		"relay": func(ctx context.Context, mod api.Module) {
			if _, err := mod.ExportedFunction("inner").Call(ctx); err != nil {
				panic(err)
			}
		},
		"fail": func() {
			panic(hostErr)
		},
	})
	require.NoError(t, err)
	_, err = s.Instantiate(testCtx, host, "env")
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{{}},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "relay", Type: wasm.ExternTypeFunc, DescFunc: 0},
			{Module: "env", Name: "fail", Type: wasm.ExternTypeFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}}, // outer: call relay
			{Body: []byte{wasm.OpcodeCall, 1, wasm.OpcodeEnd}}, // inner: call fail
		},
		ExportSection: map[string]*wasm.Export{
			"outer": {Type: wasm.ExternTypeFunc, Name: "outer", Index: 2},
			"inner": {Type: wasm.ExternTypeFunc, Name: "inner", Index: 3},
		},
	}

	mod := instantiate(t, s, m, "nested")

	// The trap raised at the innermost level crosses both host boundaries
	// unchanged: the outer trampoline re-raises a trap as-is.
	_, err = mod.ExportedFunction("outer").Call(testCtx)
	require.ErrorIs(t, err, hostErr)
	var trap *wasmdebug.Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, hostErr, trap.IsUser())
}

func TestEngine_compileModes(t *testing.T) {
	// The body decodes but uses an opcode lowering does not know.
	bad := func() *wasm.Module {
		return &wasm.Module{
			TypeSection:     []*wasm.FunctionType{{}, i32i32()},
			FunctionSection: []wasm.Index{0, 1},
			CodeSection: []*wasm.Code{
				{Body: []byte{0xfe, wasm.OpcodeEnd}},
				{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}},
			},
			ExportSection: map[string]*wasm.Export{
				"bad": {Type: wasm.ExternTypeFunc, Name: "bad", Index: 0},
				"ok":  {Type: wasm.ExternTypeFunc, Name: "ok", Index: 1},
			},
		}
	}

	t.Run("strict fails compilation", func(t *testing.T) {
		e := NewEngine(api.CoreFeaturesV2, true)
		m := bad()
		m.AssignModuleID([]byte("strict"))
		err := e.CompileModule(testCtx, m)
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, wasm.Index(0), ce.FuncIndex)
	})

	t.Run("best effort defers to call time", func(t *testing.T) {
		s := newTestStore(false)
		m := bad()
		m.AssignModuleID([]byte("besteffort"))
		mod, err := s.Instantiate(testCtx, m, "besteffort")
		require.NoError(t, err)

		// The sound function runs.
		results, err := mod.ExportedFunction("ok").Call(testCtx, 5)
		require.NoError(t, err)
		require.Equal(t, []uint64{5}, results)

		// The failed one reports its lowering error when called.
		_, err = mod.ExportedFunction("bad").Call(testCtx)
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, wasm.Index(0), ce.FuncIndex)
	})
}

func TestEngine_serializeRoundTrip(t *testing.T) {
	build := func() *wasm.Module {
		m := &wasm.Module{
			TypeSection:     []*wasm.FunctionType{i32i32()},
			FunctionSection: []wasm.Index{0},
			CodeSection: []*wasm.Code{{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Mul, wasm.OpcodeEnd,
			}}},
			ExportSection: map[string]*wasm.Export{"square": {Type: wasm.ExternTypeFunc, Name: "square", Index: 0}},
		}
		m.AssignModuleID([]byte("square"))
		return m
	}

	src := NewEngine(api.CoreFeaturesV2, true).(*engine)
	m := build()
	require.NoError(t, m.Validate(api.CoreFeaturesV2, wasm.MemoryLimitPages))
	require.NoError(t, src.CompileModule(testCtx, m))
	payload, err := src.SerializeModuleCode(m)
	require.NoError(t, err)

	// A fresh engine loads the payload instead of compiling.
	dst := NewEngine(api.CoreFeaturesV2, true).(*engine)
	m2 := build()
	require.NoError(t, dst.LoadSerializedModuleCode(m2, payload))
	require.Equal(t, uint32(1), dst.CompiledModuleCount())

	s := wasm.NewStore(api.CoreFeaturesV2, dst, wasm.DefaultTunables(), wasm.MemoryLimitPages)
	mod, err := s.Instantiate(testCtx, m2, "square")
	require.NoError(t, err)
	results, err := mod.ExportedFunction("square").Call(testCtx, 12)
	require.NoError(t, err)
	require.Equal(t, []uint64{144}, results)
}

func TestEngine_faultRegistry(t *testing.T) {
	e := NewEngine(api.CoreFeaturesV2, true).(*engine)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}}},
	}
	m.AssignModuleID([]byte("faulty"))
	require.NoError(t, e.CompileModule(testCtx, m))

	f, _, err := e.compiledOf(&wasm.FunctionInstance{
		Module: &wasm.ModuleInstance{Module: m},
	})
	require.NoError(t, err)

	// The unreachable op registered a trap site at its synthetic address.
	info, site, ok := e.FaultRegistry().Classify(f.regionStart, true)
	require.True(t, ok)
	require.Equal(t, wasm.Index(0), info.FuncIndex)
	require.NotNil(t, site)
	require.Equal(t, wasmdebug.TrapCodeUnreachable, site.Code)

	// Deleting the module withdraws its regions.
	e.DeleteCompiledModule(m)
	_, _, ok = e.FaultRegistry().Classify(f.regionStart, true)
	require.False(t, ok)
	require.Equal(t, uint32(0), e.CompiledModuleCount())
}

func TestEngine_paramCountMismatch(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32()},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}}},
		ExportSection:   map[string]*wasm.Export{"id": {Type: wasm.ExternTypeFunc, Name: "id", Index: 0}},
	}
	mod := instantiate(t, newTestStore(true), m, "arity")

	_, err := mod.ExportedFunction("id").Call(testCtx)
	require.EqualError(t, err, "expected 1 params, but passed 0")
	_, err = mod.ExportedFunction("id").Call(testCtx, 1, 2)
	require.EqualError(t, err, "expected 1 params, but passed 2")
}
