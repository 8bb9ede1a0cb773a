package interp

import (
	"context"
	"fmt"
	"sync"

	"github.com/wavmio/wavm/internal/wasm"
	"github.com/wavmio/wavm/internal/wasmdebug"
)

// Trampolines bridge the two calling conventions at module boundaries. An
// entry trampoline takes an embedder call into wasm: it checks arity, seeds
// the value stack and converts trap panics back into errors. A host
// trampoline takes a wasm call out to a Go function, marshalling the packed
// stack values through reflection.
//
// One trampoline exists per boundary-crossing signature and is shared by
// every function with that signature.

type trampolineCache struct {
	mux     sync.RWMutex
	entries map[string]*entryTrampoline
	hosts   map[string]*hostTrampoline
}

// entry returns the embedder-to-wasm trampoline for the signature.
func (c *trampolineCache) entry(typ *wasm.FunctionType) *entryTrampoline {
	key := typ.String()
	c.mux.RLock()
	t, ok := c.entries[key]
	c.mux.RUnlock()
	if ok {
		return t
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if t, ok = c.entries[key]; ok {
		return t
	}
	if c.entries == nil {
		c.entries = map[string]*entryTrampoline{}
	}
	t = &entryTrampoline{nParams: len(typ.Params), nResults: len(typ.Results)}
	c.entries[key] = t
	return t
}

// host returns the wasm-to-host trampoline for the signature.
func (c *trampolineCache) host(typ *wasm.FunctionType) *hostTrampoline {
	key := typ.String()
	c.mux.RLock()
	t, ok := c.hosts[key]
	c.mux.RUnlock()
	if ok {
		return t
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if t, ok = c.hosts[key]; ok {
		return t
	}
	if c.hosts == nil {
		c.hosts = map[string]*hostTrampoline{}
	}
	t = &hostTrampoline{nResults: len(typ.Results)}
	c.hosts[key] = t
	return t
}

// CompileTrampolines pre-builds both trampoline directions for each
// signature, so instantiating against a prepared artifact does not build
// them lazily on the first call.
func (e *engine) CompileTrampolines(types []*wasm.FunctionType) {
	for _, typ := range types {
		e.trampolines.entry(typ)
		e.trampolines.host(typ)
	}
}

type entryTrampoline struct {
	nParams  int
	nResults int
}

func (t *entryTrampoline) call(ctx context.Context, me *moduleEngine, callCtx *wasm.CallContext, f *wasm.FunctionInstance, params []uint64) (results []uint64, err error) {
	if len(params) != t.nParams {
		return nil, fmt.Errorf("expected %d params, but passed %d", t.nParams, len(params))
	}

	ce := &callEngine{engine: me.engine, ctx: ctx, callCtx: callCtx}
	defer func() {
		if v := recover(); v != nil {
			switch e := v.(type) {
			case *wasmdebug.Trap:
				err = e
			case error:
				err = wasmdebug.NewUserTrap(e, ce.wasmFrames())
			default:
				err = wasmdebug.NewUserTrap(fmt.Errorf("%v", v), ce.wasmFrames())
			}
		}
	}()

	ce.stack = append(ce.stack, params...)
	ce.invoke(f)

	results = make([]uint64, t.nResults)
	copy(results, ce.stack[len(ce.stack)-t.nResults:])
	return results, nil
}

type hostTrampoline struct {
	nResults int
}

func (t *hostTrampoline) call(ctx context.Context, callCtx *wasm.CallContext, f *wasm.FunctionInstance, params []uint64) []uint64 {
	results := wasm.CallGoFunc(ctx, callCtx, f, params)
	if len(results) != t.nResults {
		panic(fmt.Errorf("BUG: host function %s returned %d results, signature declares %d", f.DebugName(), len(results), t.nResults))
	}
	return results
}
