package wasm

import "context"

// Engine is a Store-scoped mechanism to compile functions declared or
// imported by a module. This is a top-level type implemented by a backend,
// e.g. the reference interpreter.
//
// Compilation happens once per Module identity and is shared by every
// instance of it. Engines must be safe for concurrent use.
type Engine interface {
	// Close closes this engine, releasing compiled code and any cache handle.
	Close() error

	// CompileModule implements the pre-instantiation phase: lower every
	// function body in the module to executable form, or return the first
	// translation error. Idempotent on module identity.
	CompileModule(ctx context.Context, module *Module) error

	// CompiledModuleCount is the count of compiled modules currently held.
	CompiledModuleCount() uint32

	// DeleteCompiledModule releases the compiled form of the module,
	// e.g. because it was closed or overwritten by the same name.
	DeleteCompiledModule(module *Module)

	// NewModuleEngine binds compiled code to one instance's objects. The
	// functions slice is the instance's full function index namespace,
	// imports first.
	NewModuleEngine(name string, module *Module, functions []*FunctionInstance) (ModuleEngine, error)
}

// ModuleEngine implements function calls for a module instance.
type ModuleEngine interface {
	// Name returns the name of the module this engine was compiled for.
	Name() string

	// Call invokes a function instance in this module engine with the given
	// parameters. Results and parameters use the api.ValueType encoding.
	Call(ctx context.Context, callCtx *CallContext, f *FunctionInstance, params ...uint64) ([]uint64, error)
}
