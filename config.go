package wavm

import (
	"go.uber.org/zap"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/middleware"
	"github.com/wavmio/wavm/internal/wasm"
)

// RuntimeConfig controls how a Runtime compiles and instantiates modules.
//
// Configs are immutable: every With method clones, so a config can seed many
// runtimes and a retained reference never changes under the caller.
type RuntimeConfig struct {
	enabledFeatures  api.CoreFeatures
	logger           *zap.Logger
	strict           bool
	tunables         wasm.Tunables
	memoryLimitPages uint32
	cacheDir         string
	metering         *meteringSpec
}

// meteringSpec holds WithMetering parameters. Middleware instances carry
// per-module state, so the runtime builds a fresh one per compilation.
type meteringSpec struct {
	initialPoints uint64
	cost          CostFunc
}

// Tunables decide the memory and table styles for compiled modules. See
// DefaultTunables for the values used when unset.
type Tunables = wasm.Tunables

// DefaultTunables mirrors a 64-bit host: every well-bounded memory gets the
// static style with a 4GiB bound.
func DefaultTunables() Tunables { return wasm.DefaultTunables() }

// NewRuntimeConfig returns the default configuration: the finished feature
// set, strict compilation, wasmer-style tunables and no logging.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		enabledFeatures:  api.CoreFeaturesV2,
		logger:           zap.NewNop(),
		strict:           true,
		tunables:         wasm.DefaultTunables(),
		memoryLimitPages: wasm.MemoryLimitPages,
	}
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	next := *c
	if c.metering != nil {
		m := *c.metering
		next.metering = &m
	}
	return &next
}

// WithCoreFeatures sets the WebAssembly feature flags modules are validated
// and compiled under.
func (c *RuntimeConfig) WithCoreFeatures(features api.CoreFeatures) *RuntimeConfig {
	next := c.clone()
	next.enabledFeatures = features
	return next
}

// WithLogger sets the logger for compilation and cache events. Nothing logs
// on the execution hot path.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	next := c.clone()
	next.logger = logger
	return next
}

// WithStrictCompilation toggles compilation failure handling. Strict (the
// default) fails CompileModule on the first function that does not compile;
// best-effort compiles the rest and defers each failure until the broken
// function is called.
func (c *RuntimeConfig) WithStrictCompilation(strict bool) *RuntimeConfig {
	next := c.clone()
	next.strict = strict
	return next
}

// WithTunables overrides memory and table style selection, e.g. to shrink
// the static bound on address-space-constrained hosts.
func (c *RuntimeConfig) WithTunables(t Tunables) *RuntimeConfig {
	next := c.clone()
	next.tunables = t
	return next
}

// WithMemoryLimitPages caps the pages any memory may declare or grow to,
// below the 2^16 ceiling of the WebAssembly Core Specification.
func (c *RuntimeConfig) WithMemoryLimitPages(pages uint32) *RuntimeConfig {
	next := c.clone()
	next.memoryLimitPages = pages
	return next
}

// WithCompilationCacheDir persists compiled artifacts under dir, keyed by
// module identity, engine version and configuration. An empty dir disables
// caching.
func (c *RuntimeConfig) WithCompilationCacheDir(dir string) *RuntimeConfig {
	next := c.clone()
	next.cacheDir = dir
	return next
}

// WithMetering injects the metering middleware: every compiled module pays
// points per instruction from the given budget and traps when it runs out.
// The remaining budget is observable through the module's exported globals.
func (c *RuntimeConfig) WithMetering(initialPoints uint64, cost CostFunc) *RuntimeConfig {
	next := c.clone()
	next.metering = &meteringSpec{initialPoints: initialPoints, cost: cost}
	return next
}

// middlewares builds the middleware instances for one compilation. Instances
// are per-module, as transforms record the indices they assign.
func (c *RuntimeConfig) middlewares() []middleware.Middleware {
	var mws []middleware.Middleware
	if c.metering != nil {
		mws = append(mws, &middleware.Metering{
			InitialPoints: c.metering.initialPoints,
			Cost:          c.metering.cost,
		})
	}
	return mws
}
