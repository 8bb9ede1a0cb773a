// Package interp implements the reference execution backend: function bodies
// lower to flat, branch-resolved op lists executed by a portable loop. It is
// the semantic baseline other backends are checked against, and the only
// backend with no architecture requirements.
package interp

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/fault"
	"github.com/wavmio/wavm/internal/wasm"
	"github.com/wavmio/wavm/internal/wasmdebug"
)

// regionAlign separates synthetic code regions so that off-by-one address
// arithmetic in lookups cannot land in a neighboring function.
const regionAlign = 16

type engine struct {
	enabledFeatures api.CoreFeatures
	// strict fails CompileModule on the first lowering error. When false,
	// failed functions defer their error to call time.
	strict bool

	mux   sync.RWMutex
	codes map[wasm.ModuleID]*compiledModule

	// faults maps synthetic code addresses back to functions and trap
	// sites.
	faults fault.Registry
	// nextRegion is the synthetic address allocator.
	nextRegion uintptr

	trampolines trampolineCache
}

type compiledModule struct {
	module *wasm.Module
	// functions holds lowered code for locally-defined functions, indexed
	// by code section position.
	functions []*compiledFunction
	// deferred are lowering errors awaiting the first call, in best-effort
	// mode. kindCompileFailed ops index into it.
	deferred []*CompileError
}

// NewEngine returns an interpreter-backed wasm.Engine. With strict set,
// module compilation fails on the first function that does not lower;
// otherwise failed functions compile to a stub returning the error when
// called.
func NewEngine(enabledFeatures api.CoreFeatures, strict bool) wasm.Engine {
	return &engine{
		enabledFeatures: enabledFeatures,
		strict:          strict,
		codes:           map[wasm.ModuleID]*compiledModule{},
		nextRegion:      0x1000,
	}
}

// Close implements wasm.Engine.
func (e *engine) Close() error {
	e.mux.Lock()
	defer e.mux.Unlock()
	for _, cm := range e.codes {
		e.unregisterRegions(cm)
	}
	e.codes = map[wasm.ModuleID]*compiledModule{}
	return nil
}

// CompiledModuleCount implements wasm.Engine.
func (e *engine) CompiledModuleCount() uint32 {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return uint32(len(e.codes))
}

// DeleteCompiledModule implements wasm.Engine.
func (e *engine) DeleteCompiledModule(module *wasm.Module) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if cm, ok := e.codes[module.ID]; ok {
		e.unregisterRegions(cm)
		delete(e.codes, module.ID)
	}
}

// CompileModule implements wasm.Engine. Functions lower in parallel; the
// lowering of one function never depends on another's output.
func (e *engine) CompileModule(ctx context.Context, module *wasm.Module) error {
	e.mux.RLock()
	_, done := e.codes[module.ID]
	e.mux.RUnlock()
	if done {
		return nil
	}

	cm := &compiledModule{
		module:    module,
		functions: make([]*compiledFunction, len(module.CodeSection)),
	}

	errs := make([]error, len(module.CodeSection))
	var wg sync.WaitGroup
	var next int32 = -1
	workers := runtime.GOMAXPROCS(0)
	if workers > len(module.CodeSection) {
		workers = len(module.CodeSection)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt32(&next, 1))
				if i >= len(module.CodeSection) {
					return
				}
				if module.CodeSection[i].GoFunc != nil {
					continue // host function, nothing to lower
				}
				cm.functions[i], errs[i] = compileFunction(module, i)
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		if e.strict {
			return err
		}
		// Best effort: calling the failed function reports its error.
		ce := err.(*CompileError)
		cm.functions[i] = &compiledFunction{
			index:     module.ImportFuncCount() + wasm.Index(i),
			typeIndex: module.FunctionSection[i],
			ops:       []interpOp{{kind: kindCompileFailed, u1: uint64(len(cm.deferred))}},
		}
		cm.deferred = append(cm.deferred, ce)
	}

	e.mux.Lock()
	defer e.mux.Unlock()
	if _, done = e.codes[module.ID]; done {
		return nil // lost a concurrent compilation race, keep the winner
	}
	e.registerRegions(cm)
	e.codes[module.ID] = cm
	return nil
}

// registerRegions assigns each lowered function a synthetic address range
// and publishes its trap sites. Callers hold e.mux.
func (e *engine) registerRegions(cm *compiledModule) {
	name := cm.module.ModuleName()
	for _, f := range cm.functions {
		if f == nil {
			continue
		}
		size := uintptr(len(f.ops))
		if size == 0 {
			size = 1
		}
		f.regionStart = e.nextRegion
		e.nextRegion += (size + regionAlign - 1) &^ (regionAlign - 1)
		e.faults.Register(f.regionStart, size, &fault.RegionInfo{
			ModuleName: name,
			FuncIndex:  f.index,
			Sites:      trapSites(f),
		})
	}
}

func (e *engine) unregisterRegions(cm *compiledModule) {
	for _, f := range cm.functions {
		if f != nil && f.regionStart != 0 {
			e.faults.Unregister(f.regionStart)
		}
	}
}

// trapSites lists the op indices that can raise, with their primary trap
// class. Ops with several possible classes record the most common one; the
// execution loop refines the code when it actually raises.
func trapSites(f *compiledFunction) []fault.Site {
	var sites []fault.Site
	for i := range f.ops {
		code, traps := opTrapCode(f.ops[i].kind)
		if traps {
			sites = append(sites, fault.Site{Offset: uint32(i), Code: code})
		}
	}
	return sites
}

func opTrapCode(kind wasm.Opcode) (wasmdebug.TrapCode, bool) {
	switch kind {
	case wasm.OpcodeUnreachable:
		return wasmdebug.TrapCodeUnreachable, true
	case wasm.OpcodeCallIndirect:
		return wasmdebug.TrapCodeIndirectCallToNull, true
	case wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU,
		wasm.OpcodeI64DivS, wasm.OpcodeI64DivU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU:
		return wasmdebug.TrapCodeIntegerDivisionByZero, true
	case wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
		wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U:
		return wasmdebug.TrapCodeBadConversionToInteger, true
	}
	if kind >= wasm.OpcodeI32Load && kind <= wasm.OpcodeI64Store32 {
		return wasmdebug.TrapCodeMemoryOutOfBounds, true
	}
	return 0, false
}

// FaultRegistry exposes the synthetic code address mapping, e.g. so tooling
// can resolve a trap PC captured from a serialized artifact.
func (e *engine) FaultRegistry() *fault.Registry {
	return &e.faults
}

// SerializeModuleCode returns the lowered code of a compiled module in the
// artifact wire form. CompileModule must have succeeded for the module.
func (e *engine) SerializeModuleCode(module *wasm.Module) ([]byte, error) {
	e.mux.RLock()
	cm, ok := e.codes[module.ID]
	e.mux.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module %s is not compiled", module.IDString())
	}
	return encodeFunctions(cm.functions), nil
}

// LoadSerializedModuleCode installs previously serialized lowered code for
// the module, skipping compilation. The caller vouches that the payload was
// produced by SerializeModuleCode for a binary with the same identity.
func (e *engine) LoadSerializedModuleCode(module *wasm.Module, payload []byte) error {
	fns, err := decodeFunctions(payload)
	if err != nil {
		return err
	}
	if len(fns) != len(module.CodeSection) {
		return fmt.Errorf("compiled code has %d functions, module declares %d", len(fns), len(module.CodeSection))
	}
	for i, f := range fns {
		if f == nil {
			continue
		}
		if int(f.typeIndex) >= len(module.TypeSection) {
			return fmt.Errorf("function[%d]: type index out of range: %d", i, f.typeIndex)
		}
	}
	cm := &compiledModule{module: module, functions: fns}

	e.mux.Lock()
	defer e.mux.Unlock()
	if _, done := e.codes[module.ID]; done {
		return nil
	}
	e.registerRegions(cm)
	e.codes[module.ID] = cm
	return nil
}

// NewModuleEngine implements wasm.Engine.
func (e *engine) NewModuleEngine(name string, module *wasm.Module, functions []*wasm.FunctionInstance) (wasm.ModuleEngine, error) {
	e.mux.RLock()
	cm, ok := e.codes[module.ID]
	e.mux.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source module %s must be compiled before instantiation", module.IDString())
	}
	return &moduleEngine{name: name, engine: e, compiled: cm, functions: functions}, nil
}

// compiledOf resolves the lowered code for a function instance, crossing
// module boundaries for imported functions.
func (e *engine) compiledOf(f *wasm.FunctionInstance) (*compiledFunction, *compiledModule, error) {
	source := f.Module.Module
	e.mux.RLock()
	cm, ok := e.codes[source.ID]
	e.mux.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("function %s belongs to an uncompiled module", f.DebugName())
	}
	local := int(f.Idx - source.ImportFuncCount())
	if local < 0 || local >= len(cm.functions) || cm.functions[local] == nil {
		return nil, nil, fmt.Errorf("no compiled code for %s", f.DebugName())
	}
	return cm.functions[local], cm, nil
}

type moduleEngine struct {
	name      string
	engine    *engine
	compiled  *compiledModule
	functions []*wasm.FunctionInstance
}

// Name implements wasm.ModuleEngine.
func (me *moduleEngine) Name() string { return me.name }

// Call implements wasm.ModuleEngine.
func (me *moduleEngine) Call(ctx context.Context, callCtx *wasm.CallContext, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	tramp := me.engine.trampolines.entry(f.Type)
	return tramp.call(ctx, me, callCtx, f, params)
}
