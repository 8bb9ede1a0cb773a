// Package middleware rewrites modules between translation and lowering.
//
// A middleware sees the module twice: once whole, before any function body is
// touched, and then once per function body as an operator stream. Module
// transformation runs strictly first, since a middleware that adds a global
// must do so before any body references the new index.
package middleware

import (
	"fmt"

	"github.com/wavmio/wavm/internal/wasm"
)

// Middleware is one bytecode-to-bytecode rewriter.
//
// Implementations must be deterministic and side-effect-free with respect to
// module semantics except for the additions they are designed to make.
type Middleware interface {
	// Name identifies the middleware in errors and logs.
	Name() string

	// TransformModule runs once, before any body is rewritten. It may append
	// globals, exports or types, but must not reorder or remove existing
	// entries: function code compiled later references them by index.
	TransformModule(m *wasm.Module) error

	// RewriteBody rewrites one function's operator stream. funcIdx is in the
	// function index namespace, imports first. The returned body replaces the
	// original and must end with OpcodeEnd.
	RewriteBody(m *wasm.Module, funcIdx wasm.Index, body []byte) ([]byte, error)
}

// Chain applies middlewares in registration order.
type Chain struct {
	middlewares []Middleware
}

// NewChain returns a chain over the given middlewares. A nil or empty chain
// is valid and applies nothing.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middlewares)
}

// Apply runs every middleware over the module in place: all module
// transforms first, then every body through every rewriter.
//
// Growing the global, type or export sections during the body phase panics:
// that is a bug in the middleware, not bad input, because already-rewritten
// bodies may hold stale indices.
func (c *Chain) Apply(m *wasm.Module) error {
	if c.Len() == 0 {
		return nil
	}

	for _, mw := range c.middlewares {
		if err := mw.TransformModule(m); err != nil {
			return fmt.Errorf("middleware %q: transform module: %w", mw.Name(), err)
		}
	}

	globals, types, exports := len(m.GlobalSection), len(m.TypeSection), len(m.ExportSection)

	importCount := m.ImportFuncCount()
	for i, code := range m.CodeSection {
		if code.GoFunc != nil {
			continue
		}
		funcIdx := importCount + wasm.Index(i)
		for _, mw := range c.middlewares {
			rewritten, err := mw.RewriteBody(m, funcIdx, code.Body)
			if err != nil {
				return fmt.Errorf("middleware %q: function[%d]: %w", mw.Name(), funcIdx, err)
			}
			if len(rewritten) == 0 || rewritten[len(rewritten)-1] != wasm.OpcodeEnd {
				return fmt.Errorf("middleware %q: function[%d]: rewritten body must end with end", mw.Name(), funcIdx)
			}
			code.Body = rewritten
		}

		if len(m.GlobalSection) != globals || len(m.TypeSection) != types || len(m.ExportSection) != exports {
			panic(fmt.Errorf("BUG: middleware mutated module sections while rewriting function[%d]", funcIdx))
		}
	}
	return nil
}
