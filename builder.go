package wavm

import (
	"context"
	"sort"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/wasm"
)

// HostModuleBuilder assembles a module whose functions are implemented in Go
// rather than WebAssembly. Instantiate it before any module that imports it:
//
//	_, err := r.NewHostModuleBuilder("env").
//		WithFunc("log", func(v uint32) { fmt.Println(v) }).
//		Instantiate(ctx)
//
// Exported function signatures are derived by reflection over the Go func,
// with an optional leading context.Context and api.Module.
type HostModuleBuilder struct {
	r     *Runtime
	name  string
	funcs map[string]interface{}
}

// NewHostModuleBuilder creates a builder for a host module of the given name.
func (r *Runtime) NewHostModuleBuilder(name string) *HostModuleBuilder {
	return &HostModuleBuilder{r: r, name: name, funcs: map[string]interface{}{}}
}

// WithFunc exports fn under the given name, replacing any prior definition.
func (b *HostModuleBuilder) WithFunc(name string, fn interface{}) *HostModuleBuilder {
	b.funcs[name] = fn
	return b
}

// Instantiate builds the host module and instantiates it in the runtime.
func (b *HostModuleBuilder) Instantiate(ctx context.Context) (api.Module, error) {
	m, err := wasm.NewHostModule(b.name, b.funcs)
	if err != nil {
		return nil, err
	}

	// Host modules have no binary form; identity is the module name plus the
	// sorted export names, matching how instances resolve imports.
	id := []byte(b.name)
	names := make([]string, 0, len(b.funcs))
	for name := range b.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id = append(id, 0)
		id = append(id, name...)
	}
	m.AssignModuleID(id)

	// Host bodies skip validation and lowering; only trampolines for their
	// signatures need building before the first wasm-to-host call.
	b.r.compileTrampolines(m)
	return b.r.store.Instantiate(ctx, m, b.name)
}
