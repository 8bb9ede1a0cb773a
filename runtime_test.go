package wavm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wavmio/wavm/internal/wasm"
	wasmbinary "github.com/wavmio/wavm/internal/wasm/binary"
	"github.com/wavmio/wavm/internal/wasmdebug"
)

var testCtx = context.Background()

// addSource is a module exporting add(i32, i32) -> i32, named "calc".
func addSource() []byte {
	return wasmbinary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
			Results: []wasm.ValueType{wasm.ValueTypeI32},
		}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{
			"add": {Type: wasm.ExternTypeFunc, Name: "add", Index: 0},
		},
		NameSection: &wasm.NameSection{ModuleName: "calc"},
	})
}

// spinSource is a module exporting spin(i32) -> i32: count the parameter
// down to zero in a loop and return it.
func spinSource() []byte {
	return wasmbinary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32},
			Results: []wasm.ValueType{wasm.ValueTypeI32},
		}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeBlock, 0x40,
			wasm.OpcodeLoop, 0x40,
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI32Eqz,
			wasm.OpcodeBrIf, 1,
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI32Const, 1,
			wasm.OpcodeI32Sub,
			wasm.OpcodeLocalSet, 0,
			wasm.OpcodeBr, 0,
			wasm.OpcodeEnd,
			wasm.OpcodeEnd,
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{
			"spin": {Type: wasm.ExternTypeFunc, Name: "spin", Index: 0},
		},
		NameSection: &wasm.NameSection{ModuleName: "spinner"},
	})
}

func TestRuntime_instantiateAndCall(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	mod, err := r.Instantiate(testCtx, addSource())
	require.NoError(t, err)
	require.Equal(t, "calc", mod.Name())

	results, err := mod.ExportedFunction("add").Call(testCtx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)

	// The instance is registered under its declared name.
	require.NotNil(t, r.Module("calc"))
	require.Nil(t, r.Module("nope"))
}

func TestRuntime_instantiateModuleNamed(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, addSource())
	require.NoError(t, err)
	require.Equal(t, "calc", compiled.Name())

	// One compiled module backs several instances under distinct names.
	for _, name := range []string{"a", "b"} {
		mod, err := r.InstantiateModule(testCtx, compiled, name)
		require.NoError(t, err)
		require.Equal(t, name, mod.Name())
	}

	_, err = r.InstantiateModule(testCtx, compiled, "a")
	require.EqualError(t, err, "module[a] has already been instantiated")
}

func TestRuntime_closeModule(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	_, err := r.Instantiate(testCtx, addSource())
	require.NoError(t, err)
	require.NotNil(t, r.Module("calc"))

	r.CloseModule("calc")
	require.Nil(t, r.Module("calc"))

	// The name is free for reuse.
	_, err = r.Instantiate(testCtx, addSource())
	require.NoError(t, err)
}

func TestRuntime_metering(t *testing.T) {
	t.Run("within budget", func(t *testing.T) {
		r := NewRuntimeWithConfig(NewRuntimeConfig().WithMetering(10_000, nil))
		defer r.Close(testCtx)

		mod, err := r.Instantiate(testCtx, spinSource())
		require.NoError(t, err)

		results, err := mod.ExportedFunction("spin").Call(testCtx, 100)
		require.NoError(t, err)
		require.Equal(t, []uint64{0}, results)

		remaining := mod.ExportedGlobal(MeteringRemainingPoints).Get()
		require.Less(t, remaining, uint64(10_000))
		require.NotZero(t, remaining)
		require.Zero(t, mod.ExportedGlobal(MeteringPointsExhausted).Get())
	})

	t.Run("budget exhausted", func(t *testing.T) {
		r := NewRuntimeWithConfig(NewRuntimeConfig().WithMetering(100, DefaultCost))
		defer r.Close(testCtx)

		mod, err := r.Instantiate(testCtx, spinSource())
		require.NoError(t, err)

		_, err = mod.ExportedFunction("spin").Call(testCtx, 1_000_000)
		var trap *wasmdebug.Trap
		require.ErrorAs(t, err, &trap)
		code, ok := trap.Code()
		require.True(t, ok)
		require.Equal(t, wasmdebug.TrapCodeUnreachable, code)

		require.Equal(t, uint64(1), mod.ExportedGlobal(MeteringPointsExhausted).Get())
	})
}

func TestRuntime_hostModuleBuilder(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	_, err := r.NewHostModuleBuilder("env").
		WithFunc("mul", func(a, b uint32) uint32 { return a * b }).
		Instantiate(testCtx)
	require.NoError(t, err)

	source := wasmbinary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{{
			Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
			Results: []wasm.ValueType{wasm.ValueTypeI32},
		}},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "mul", Type: wasm.ExternTypeFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeCall, 0, wasm.OpcodeEnd,
		}}},
		ExportSection: map[string]*wasm.Export{
			"mul2": {Type: wasm.ExternTypeFunc, Name: "mul2", Index: 1},
		},
	})

	mod, err := r.Instantiate(testCtx, source)
	require.NoError(t, err)

	results, err := mod.ExportedFunction("mul2").Call(testCtx, 6, 7)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestRuntime_compilationCache(t *testing.T) {
	dir := t.TempDir()
	source := addSource()

	newCachingRuntime := func() (*Runtime, *observer.ObservedLogs) {
		core, logs := observer.New(zap.DebugLevel)
		r := NewRuntimeWithConfig(NewRuntimeConfig().
			WithLogger(zap.New(core)).
			WithCompilationCacheDir(dir))
		return r, logs
	}

	// First compilation misses and persists an artifact.
	r1, logs1 := newCachingRuntime()
	_, err := r1.CompileModule(testCtx, source)
	require.NoError(t, err)
	require.NoError(t, r1.Close(testCtx))

	require.Equal(t, 1, logs1.FilterMessage("compilation cache store").Len())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
	require.False(t, strings.HasSuffix(entries[0].Name(), ".tmp"))

	// A fresh runtime loads the artifact instead of compiling.
	r2, logs2 := newCachingRuntime()
	defer r2.Close(testCtx)
	compiled, err := r2.CompileModule(testCtx, source)
	require.NoError(t, err)
	require.Equal(t, 1, logs2.FilterMessage("compilation cache hit").Len())
	require.Equal(t, 0, logs2.FilterMessage("compilation cache store").Len())

	// Cached code runs.
	mod, err := r2.InstantiateModule(testCtx, compiled, "calc")
	require.NoError(t, err)
	results, err := mod.ExportedFunction("add").Call(testCtx, 20, 22)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)

	// A corrupt artifact falls back to compiling from source.
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("junk"), 0o600))
	r3, logs3 := newCachingRuntime()
	defer r3.Close(testCtx)
	_, err = r3.CompileModule(testCtx, source)
	require.NoError(t, err)
	require.Equal(t, 1, logs3.FilterMessage("compilation cache corrupt").Len())
	require.Equal(t, 1, logs3.FilterMessage("compilation cache store").Len())
}

func TestRuntime_cacheKeyVariesWithConfig(t *testing.T) {
	dir := t.TempDir()
	source := addSource()

	plain := NewRuntimeWithConfig(NewRuntimeConfig().WithCompilationCacheDir(dir))
	defer plain.Close(testCtx)
	_, err := plain.CompileModule(testCtx, source)
	require.NoError(t, err)

	metered := NewRuntimeWithConfig(NewRuntimeConfig().
		WithCompilationCacheDir(dir).
		WithMetering(100, nil))
	defer metered.Close(testCtx)
	_, err = metered.CompileModule(testCtx, source)
	require.NoError(t, err)

	// Instrumented and plain compilations must not share an artifact.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 2, len(entries))
}

func TestRuntimeConfig_immutable(t *testing.T) {
	base := NewRuntimeConfig()

	derived := base.WithStrictCompilation(false).WithMetering(10, nil).WithCompilationCacheDir("/tmp/x")
	require.True(t, base.strict)
	require.Nil(t, base.metering)
	require.Empty(t, base.cacheDir)

	require.False(t, derived.strict)
	require.NotNil(t, derived.metering)

	// Deriving again does not alias earlier metering state.
	again := derived.WithMetering(20, nil)
	require.Equal(t, uint64(10), derived.metering.initialPoints)
	require.Equal(t, uint64(20), again.metering.initialPoints)
}

func TestRuntime_strictCompilation(t *testing.T) {
	// A body with an opcode lowering rejects: 0xFE is outside the MVP range.
	source := wasmbinary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{0xFE, wasm.OpcodeEnd}}},
		ExportSection: map[string]*wasm.Export{
			"f": {Type: wasm.ExternTypeFunc, Name: "f", Index: 0},
		},
	})

	r := NewRuntime()
	defer r.Close(testCtx)
	_, err := r.CompileModule(testCtx, source)
	require.Error(t, err)
}
