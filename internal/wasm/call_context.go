package wasm

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/wavmio/wavm/api"
)

// errModuleClosed is returned by calls through a context whose Close already
// completed.
var errModuleClosed = errors.New("module closed")

// compile-time check to ensure CallContext implements api.Module
var _ api.Module = &CallContext{}

// CallContext is the first argument of all exported function calls and the
// api.Module view of one ModuleInstance.
//
// It is a separate type from ModuleInstance so engines receive a stable
// handle that also carries liveness: a closed context fails calls instead of
// reaching freed objects.
type CallContext struct {
	store  *Store
	module *ModuleInstance

	// closed is non-zero once Close was called. Checked on the call path.
	closed uint32
}

// NewCallContext returns the facade for an instantiated module.
func NewCallContext(store *Store, instance *ModuleInstance) *CallContext {
	return &CallContext{store: store, module: instance}
}

// Name implements the same method as documented on api.Module.
func (m *CallContext) Name() string {
	return m.module.Name
}

// Module returns the underlying instance, for engine use.
func (m *CallContext) Module() *ModuleInstance {
	return m.module
}

// Memory returns the instance's memory whether exported or not, or nil.
func (m *CallContext) Memory() *MemoryInstance {
	return m.module.Memory
}

// Closed returns true once Close was called.
func (m *CallContext) Closed() bool {
	return atomic.LoadUint32(&m.closed) != 0
}

// ExportedFunction implements the same method as documented on api.Module.
func (m *CallContext) ExportedFunction(name string) api.Function {
	exp, ok := m.module.Module.ExportSection[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil
	}
	return &exportedFunction{callCtx: m, f: m.module.Functions[exp.Index]}
}

// ExportedMemory implements the same method as documented on api.Module.
func (m *CallContext) ExportedMemory(name string) api.Memory {
	exp, ok := m.module.Module.ExportSection[name]
	if !ok || exp.Type != ExternTypeMemory {
		return nil
	}
	return m.module.Memory
}

// ExportedGlobal implements the same method as documented on api.Module.
func (m *CallContext) ExportedGlobal(name string) api.Global {
	exp, ok := m.module.Module.ExportSection[name]
	if !ok || exp.Type != ExternTypeGlobal {
		return nil
	}
	return ExportGlobal(m.module.Globals[exp.Index])
}

// Close implements the same method as documented on api.Module.
func (m *CallContext) Close(_ context.Context) error {
	if !atomic.CompareAndSwapUint32(&m.closed, 0, 1) {
		return nil
	}
	m.store.CloseModule(m.module.Name)
	return nil
}

// exportedFunction implements api.Function over one FunctionInstance.
type exportedFunction struct {
	callCtx *CallContext
	f       *FunctionInstance
}

// Definition implements the same method as documented on api.Function.
func (e *exportedFunction) Definition() api.FunctionDefinition {
	return e.f.Definition()
}

// Call implements the same method as documented on api.Function.
func (e *exportedFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if e.callCtx.Closed() {
		return nil, errModuleClosed
	}
	return e.callCtx.module.Engine.Call(ctx, e.callCtx, e.f, params...)
}
