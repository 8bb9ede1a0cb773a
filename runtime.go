// Package wavm is a WebAssembly runtime embeddable in Go programs. A Runtime
// compiles WebAssembly Core Specification modules, instruments them through
// configured middleware and instantiates them for calling:
//
//	r := wavm.NewRuntime()
//	defer r.Close(ctx)
//
//	mod, err := r.Instantiate(ctx, source)
//	...
//	results, err := mod.ExportedFunction("fac").Call(ctx, 7)
//
// See https://webassembly.github.io/spec/core/ for the specification this
// implements.
package wavm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/artifact"
	"github.com/wavmio/wavm/internal/engine/interp"
	"github.com/wavmio/wavm/internal/middleware"
	"github.com/wavmio/wavm/internal/version"
	"github.com/wavmio/wavm/internal/wasm"
	wasmbinary "github.com/wavmio/wavm/internal/wasm/binary"
)

// Runtime compiles and instantiates WebAssembly modules against one Store.
// Runtimes are safe for concurrent use.
type Runtime struct {
	config *RuntimeConfig
	store  *wasm.Store
	engine wasm.Engine
	logger *zap.Logger
	cache  *fileCache
}

// codeSerializer is the optional engine surface backing the compilation
// cache. Engines that cannot serialize simply bypass caching.
type codeSerializer interface {
	SerializeModuleCode(module *wasm.Module) ([]byte, error)
	LoadSerializedModuleCode(module *wasm.Module, payload []byte) error
}

// trampolineCompiler is implemented by engines that pre-build call entry
// points per function signature.
type trampolineCompiler interface {
	CompileTrampolines(types []*wasm.FunctionType)
}

// NewRuntime returns a Runtime with the default configuration.
func NewRuntime() *Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime built from the given configuration.
func NewRuntimeWithConfig(config *RuntimeConfig) *Runtime {
	config = config.clone()
	engine := interp.NewEngine(config.enabledFeatures, config.strict)
	r := &Runtime{
		config: config,
		store:  wasm.NewStore(config.enabledFeatures, engine, config.tunables, config.memoryLimitPages),
		engine: engine,
		logger: config.logger,
	}
	if config.cacheDir != "" {
		if err := os.MkdirAll(config.cacheDir, 0o700); err != nil {
			r.logger.Warn("compilation cache disabled", zap.String("dir", config.cacheDir), zap.Error(err))
		} else {
			r.cache = &fileCache{dir: config.cacheDir, logger: r.logger}
		}
	}
	return r
}

// CompiledModule is a WebAssembly module ready to instantiate, decoded,
// transformed by the runtime's middleware and compiled by its engine. One
// CompiledModule can back any number of instances.
type CompiledModule struct {
	module *wasm.Module
	r      *Runtime
}

// Name returns the name declared in the module's name section, or "" if it
// has none.
func (c *CompiledModule) Name() string {
	return c.module.ModuleName()
}

// Close releases the compiled code held by the engine for this module.
// Instances created from it before Close continue to work.
func (c *CompiledModule) Close(context.Context) error {
	c.r.engine.DeleteCompiledModule(c.module)
	return nil
}

// CompileModule decodes and compiles source, a module in the WebAssembly
// binary format. When a compilation cache directory is configured, the
// compiled code is persisted and reused across processes.
//
// Note: middleware transforms, e.g. metering instrumentation, are applied
// before validation and are part of the cache identity.
func (r *Runtime) CompileModule(ctx context.Context, source []byte) (*CompiledModule, error) {
	if r.cache != nil {
		if m, ok := r.tryCachedModule(ctx, source); ok {
			return &CompiledModule{module: m, r: r}, nil
		}
	}

	m, err := wasmbinary.DecodeModule(source, r.config.enabledFeatures)
	if err != nil {
		return nil, err
	}
	// Middleware instances are per-compilation: transforms record the global
	// indices they assign into the instance.
	if err = middleware.NewChain(r.config.middlewares()...).Apply(m); err != nil {
		return nil, err
	}

	// Identity covers the transformed module, so the same source compiled
	// under different middleware is a different module to the engine.
	encoded := wasmbinary.EncodeModule(m)
	m.AssignModuleID(encoded)

	if err = m.Validate(r.config.enabledFeatures, r.store.MemoryLimitPages()); err != nil {
		return nil, err
	}
	if err = r.engine.CompileModule(ctx, m); err != nil {
		return nil, err
	}
	r.compileTrampolines(m)

	if r.cache != nil {
		r.cache.store(r.cacheKey(source), r.engine, m, encoded, r.config.enabledFeatures)
	}
	return &CompiledModule{module: m, r: r}, nil
}

// InstantiateModule instantiates a compiled module under the given name,
// resolving its imports against modules already instantiated in this
// runtime. An empty name falls back to the module's declared name.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, name string) (api.Module, error) {
	if name == "" {
		name = compiled.module.ModuleName()
	}
	return r.store.Instantiate(ctx, compiled.module, name)
}

// Instantiate compiles source and instantiates it in one step.
func (r *Runtime) Instantiate(ctx context.Context, source []byte) (api.Module, error) {
	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, "")
}

// Module returns the instantiated module of the given name, or nil.
func (r *Runtime) Module(name string) api.Module {
	if m := r.store.Module(name); m != nil {
		return m.CallCtx
	}
	return nil
}

// CloseModule closes the instantiated module of the given name, releasing
// resources such as reserved linear memory.
func (r *Runtime) CloseModule(name string) {
	r.store.CloseModule(name)
}

// Close releases all compiled code. Instantiated modules must not be called
// afterwards.
func (r *Runtime) Close(context.Context) error {
	return r.engine.Close()
}

// compileTrampolines pre-builds entry and host trampolines for every
// signature the module declares, so first calls pay no lock contention.
func (r *Runtime) compileTrampolines(m *wasm.Module) {
	if tc, ok := r.engine.(trampolineCompiler); ok {
		tc.CompileTrampolines(m.TypeSection)
	}
}

// cacheKey derives the cache file name for source compiled under this
// runtime's configuration.
func (r *Runtime) cacheKey(source []byte) string {
	h := sha256.New()
	h.Write(source)
	h.Write([]byte(version.GetVersion()))
	var features [8]byte
	binary.LittleEndian.PutUint64(features[:], uint64(r.config.enabledFeatures))
	h.Write(features[:])
	if r.config.strict {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	// Metering parameters change the emitted code. A custom CostFunc is not
	// hashable; callers varying one should vary the cache directory too.
	if ms := r.config.metering; ms != nil {
		var points [8]byte
		binary.LittleEndian.PutUint64(points[:], ms.initialPoints)
		h.Write([]byte("metering"))
		h.Write(points[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// tryCachedModule loads a previously compiled artifact for source. A miss or
// a stale artifact returns ok=false and the caller compiles from scratch.
func (r *Runtime) tryCachedModule(_ context.Context, source []byte) (*wasm.Module, bool) {
	cs, ok := r.engine.(codeSerializer)
	if !ok {
		return nil, false
	}
	key := r.cacheKey(source)
	contents, ok := r.cache.load(key)
	if !ok {
		return nil, false
	}
	if contents.EngineVersion != version.GetVersion() || contents.Features != r.config.enabledFeatures {
		r.logger.Debug("compilation cache stale", zap.String("key", key),
			zap.String("artifactVersion", contents.EngineVersion))
		return nil, false
	}

	m, err := wasmbinary.DecodeModule(contents.Module, r.config.enabledFeatures)
	if err != nil {
		r.logger.Warn("compilation cache corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	m.AssignModuleID(contents.Module)
	if err = m.Validate(r.config.enabledFeatures, r.store.MemoryLimitPages()); err != nil {
		r.logger.Warn("compilation cache corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if err = cs.LoadSerializedModuleCode(m, contents.Code); err != nil {
		r.logger.Warn("compilation cache corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	r.compileTrampolines(m)
	r.logger.Debug("compilation cache hit", zap.String("key", key))
	return m, true
}

// fileCache persists compiled artifacts under a directory, one file per
// cache key. Writes go through a temp file and rename so concurrent readers
// never observe a partial artifact.
type fileCache struct {
	dir    string
	logger *zap.Logger
}

func (c *fileCache) path(key string) string {
	return filepath.Join(c.dir, key)
}

func (c *fileCache) load(key string) (*artifact.Contents, bool) {
	b, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	contents, err := artifact.DecodeContents(b)
	if err != nil {
		c.logger.Warn("compilation cache corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return contents, true
}

func (c *fileCache) store(key string, engine wasm.Engine, m *wasm.Module, encoded []byte, features api.CoreFeatures) {
	cs, ok := engine.(codeSerializer)
	if !ok {
		return
	}
	code, err := cs.SerializeModuleCode(m)
	if err != nil {
		c.logger.Warn("compilation cache skip", zap.String("key", key), zap.Error(err))
		return
	}
	contents := &artifact.Contents{
		EngineVersion: version.GetVersion(),
		Features:      features,
		Module:        encoded,
		Code:          code,
	}
	if err = c.write(key, contents.Encode()); err != nil {
		c.logger.Warn("compilation cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("compilation cache store", zap.String("key", key))
}

func (c *fileCache) write(key string, b []byte) error {
	f, err := os.CreateTemp(c.dir, "wavm-*.tmp")
	if err != nil {
		return err
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	if err = os.Rename(f.Name(), c.path(key)); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	return nil
}
