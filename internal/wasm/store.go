package wasm

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/ieee754"
	"github.com/wavmio/wavm/internal/leb128"
)

// Store is the runtime representation of all instantiated modules and the
// engine that executes them.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
type Store struct {
	// EnabledFeatures are the features allowed to be used by instantiated
	// modules.
	EnabledFeatures api.CoreFeatures

	// Engine is a global context for a Store which is in responsible for
	// compilation and execution of Wasm modules.
	Engine Engine

	// Tunables decide memory and table styles for modules instantiated here.
	Tunables Tunables

	// memoryLimitPages caps declared and grown memory sizes.
	memoryLimitPages uint32

	// typeIDs interns signatures across every module in this store.
	typeIDs *SignatureRegistry

	// mux guards modules.
	mux sync.RWMutex
	// modules are the instantiated modules keyed on instance name.
	modules map[string]*ModuleInstance
}

// NewStore returns a store with the given engine and feature set.
func NewStore(enabledFeatures api.CoreFeatures, engine Engine, tunables Tunables, memoryLimitPages uint32) *Store {
	if memoryLimitPages == 0 || memoryLimitPages > MemoryLimitPages {
		memoryLimitPages = MemoryLimitPages
	}
	return &Store{
		EnabledFeatures:  enabledFeatures,
		Engine:           engine,
		Tunables:         tunables,
		memoryLimitPages: memoryLimitPages,
		typeIDs:          NewSignatureRegistry(),
		modules:          map[string]*ModuleInstance{},
	}
}

// MemoryLimitPages returns the page cap this store applies to memories.
func (s *Store) MemoryLimitPages() uint32 {
	return s.memoryLimitPages
}

// SignatureRegistry returns the store-wide signature interner.
func (s *Store) SignatureRegistry() *SignatureRegistry {
	return s.typeIDs
}

// ModuleInstance represents instantiated wasm module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Name string

	// Module is the immutable metadata this instance was built from.
	Module *Module

	// Functions is the function index namespace, imports first.
	Functions []*FunctionInstance
	// Globals is the global index namespace, imports first.
	Globals []*GlobalInstance
	// Memory is nil when this module declares and imports no memory.
	Memory *MemoryInstance
	// Table is nil when this module declares and imports no table.
	Table *TableInstance

	// TypeIDs is index-correlated with Module.TypeSection and holds the
	// store-canonical ID of each signature.
	TypeIDs []FunctionTypeID

	// Engine executes this instance's functions.
	Engine ModuleEngine

	// CallCtx is the api.Module facade over this instance.
	CallCtx *CallContext
}

// FunctionKind tells the engine how to transfer control into a function.
type FunctionKind byte

const (
	// FunctionKindWasm means the function was compiled from a wasm body.
	FunctionKindWasm FunctionKind = iota
	// FunctionKindGoFunc means the function is a host Go function invoked
	// through reflection.
	FunctionKindGoFunc
)

// FunctionInstance represents a function instance in a Store.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
type FunctionInstance struct {
	Kind FunctionKind

	// Type is the signature of this function.
	Type *FunctionType
	// TypeID is the store-canonical ID of Type.
	TypeID FunctionTypeID

	// Idx is the position in the module's function index namespace.
	Idx Index

	// Module is the instance this function belongs to. For an imported
	// function this is the exporting instance, not the importer.
	Module *ModuleInstance

	// GoFunc is set when Kind is FunctionKindGoFunc.
	GoFunc *reflect.Value
}

// Definition implements api.FunctionDefinition over a FunctionInstance.
func (f *FunctionInstance) Definition() api.FunctionDefinition {
	return functionDefinition{f}
}

type functionDefinition struct {
	f *FunctionInstance
}

func (d functionDefinition) Name() string {
	return d.f.Module.Module.FunctionName(d.f.Idx)
}

func (d functionDefinition) Index() uint32 {
	return d.f.Idx
}

func (d functionDefinition) ParamTypes() []api.ValueType {
	return d.f.Type.Params
}

func (d functionDefinition) ResultTypes() []api.ValueType {
	return d.f.Type.Results
}

// DebugName returns a printable identity for stack traces, preferring the
// custom name section over a numeric index.
func (f *FunctionInstance) DebugName() string {
	name := f.Module.Module.FunctionName(f.Idx)
	if name == "" {
		name = fmt.Sprintf("[%d]", f.Idx)
	}
	moduleName := f.Module.Name
	if moduleName == "" {
		moduleName = "?"
	}
	return fmt.Sprintf("%s.%s", moduleName, name)
}

// Instantiate builds and registers a ModuleInstance from a validated module,
// then runs its start function if any.
//
// The name must be unique in this store. On any failure nothing remains
// registered.
func (s *Store) Instantiate(ctx context.Context, module *Module, name string) (*CallContext, error) {
	if err := s.requireModuleName(name); err != nil {
		return nil, err
	}

	// Compilation is idempotent on module identity, so instantiating an
	// already-compiled module only pays a lookup here.
	if err := s.Engine.CompileModule(ctx, module); err != nil {
		s.releaseModuleName(name)
		return nil, err
	}

	m, err := s.build(module, name)
	if err != nil {
		s.releaseModuleName(name)
		return nil, err
	}

	if module.StartSection != nil {
		start := m.Functions[*module.StartSection]
		if _, err = m.Engine.Call(ctx, m.CallCtx, start); err != nil {
			s.releaseModuleName(name)
			return nil, fmt.Errorf("start function[%s] failed: %w", start.DebugName(), err)
		}
	}
	return m.CallCtx, nil
}

// requireModuleName reserves the name, failing if already taken.
func (s *Store) requireModuleName(name string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.modules[name]; ok {
		return fmt.Errorf("module[%s] has already been instantiated", name)
	}
	s.modules[name] = nil // reserve
	return nil
}

func (s *Store) releaseModuleName(name string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.modules, name)
}

// Module returns the instance registered under name, or nil.
func (s *Store) Module(name string) *ModuleInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.modules[name]
}

// CloseModule deregisters the named instance and returns any platform
// reservation backing its own memory. Compiled code is shared per Module
// identity and is not released here.
func (s *Store) CloseModule(name string) {
	s.mux.Lock()
	m := s.modules[name]
	delete(s.modules, name)
	s.mux.Unlock()

	// Only a locally-declared memory is owned; imported ones outlive us.
	if m != nil && m.Module.MemorySection != nil && m.Memory != nil {
		_ = m.Memory.Free()
	}
}

func (s *Store) build(module *Module, name string) (*ModuleInstance, error) {
	typeIDs, err := s.typeIDs.RegisterAll(module.TypeSection)
	if err != nil {
		return nil, err
	}

	m := &ModuleInstance{Name: name, Module: module, TypeIDs: typeIDs}

	importedFunctions, importedGlobals, importedMemory, importedTable, err := s.resolveImports(module)
	if err != nil {
		return nil, err
	}

	m.Functions = append(m.Functions, importedFunctions...)
	m.Globals = append(m.Globals, importedGlobals...)

	importCount := module.ImportFuncCount()
	for i := range module.FunctionSection {
		idx := importCount + uint32(i)
		typeIdx := module.FunctionSection[i]
		kind := FunctionKindWasm
		var goFunc *reflect.Value
		if code := module.CodeSection[i]; code.GoFunc != nil {
			kind = FunctionKindGoFunc
			goFunc = code.GoFunc
		}
		m.Functions = append(m.Functions, &FunctionInstance{
			Kind:   kind,
			Type:   module.TypeSection[typeIdx],
			TypeID: typeIDs[typeIdx],
			Idx:    idx,
			Module: m,
			GoFunc: goFunc,
		})
	}

	for _, g := range module.GlobalSection {
		val, err := evaluateConstantExpression(importedGlobals, g.Init)
		if err != nil {
			return nil, err
		}
		m.Globals = append(m.Globals, &GlobalInstance{Type: g.Type, Val: val})
	}

	m.Memory = importedMemory
	if module.MemorySection != nil {
		m.Memory = NewMemoryInstance(module.MemorySection, s.Tunables.MemoryStyle(module.MemorySection))
	}
	m.Table = importedTable
	if module.TableSection != nil {
		m.Table = NewTableInstance(module.TableSection)
	}

	if err = s.applyDataSegments(m, importedGlobals); err != nil {
		return nil, err
	}
	if err = s.applyElementSegments(m, importedGlobals); err != nil {
		return nil, err
	}

	m.Engine, err = s.Engine.NewModuleEngine(name, module, m.Functions)
	if err != nil {
		return nil, err
	}

	m.CallCtx = NewCallContext(s, m)

	s.mux.Lock()
	s.modules[name] = m
	s.mux.Unlock()
	return m, nil
}

// resolveImports looks up every import in previously instantiated modules
// and type-checks the found definition against the declaration.
func (s *Store) resolveImports(module *Module) (
	functions []*FunctionInstance, globals []*GlobalInstance,
	memory *MemoryInstance, table *TableInstance, err error,
) {
	for idx, i := range module.ImportSection {
		exporter := s.Module(i.Module)
		if exporter == nil {
			err = fmt.Errorf("module[%s] not instantiated", i.Module)
			return
		}
		exp, ok := exporter.Module.ExportSection[i.Name]
		if !ok {
			err = fmt.Errorf("%q is not exported in module %q", i.Name, i.Module)
			return
		}
		if exp.Type != i.Type {
			err = fmt.Errorf("import[%d] %q.%q: %s, but have %s", idx, i.Module, i.Name,
				ExternTypeName(i.Type), ExternTypeName(exp.Type))
			return
		}

		switch i.Type {
		case ExternTypeFunc:
			f := exporter.Functions[exp.Index]
			expected := module.TypeSection[i.DescFunc]
			if !f.Type.EqualsSignature(expected.Params, expected.Results) {
				err = fmt.Errorf("import[%d] func[%s.%s]: signature mismatch: %s != %s",
					idx, i.Module, i.Name, expected, f.Type)
				return
			}
			functions = append(functions, f)
		case ExternTypeTable:
			t := exporter.Table
			if t.Min < i.DescTable.Min {
				err = fmt.Errorf("import[%d] table[%s.%s]: minimum size mismatch: %d < %d",
					idx, i.Module, i.Name, t.Min, i.DescTable.Min)
				return
			}
			if i.DescTable.Max != nil && (t.Max == nil || *t.Max > *i.DescTable.Max) {
				err = fmt.Errorf("import[%d] table[%s.%s]: maximum size mismatch", idx, i.Module, i.Name)
				return
			}
			table = t
		case ExternTypeMemory:
			mem := exporter.Memory
			if mem.Min < i.DescMem.Min {
				err = fmt.Errorf("import[%d] memory[%s.%s]: minimum size mismatch: %d pages < %d pages",
					idx, i.Module, i.Name, mem.Min, i.DescMem.Min)
				return
			}
			if i.DescMem.IsMaxEncoded && mem.Max > i.DescMem.Max {
				err = fmt.Errorf("import[%d] memory[%s.%s]: maximum size mismatch: %d pages > %d pages",
					idx, i.Module, i.Name, mem.Max, i.DescMem.Max)
				return
			}
			memory = mem
		case ExternTypeGlobal:
			g := exporter.Globals[exp.Index]
			if g.Type.ValType != i.DescGlobal.ValType {
				err = fmt.Errorf("import[%d] global[%s.%s]: value type mismatch", idx, i.Module, i.Name)
				return
			}
			if g.Type.Mutable != i.DescGlobal.Mutable {
				err = fmt.Errorf("import[%d] global[%s.%s]: mutability mismatch: %v != %v",
					idx, i.Module, i.Name, i.DescGlobal.Mutable, g.Type.Mutable)
				return
			}
			globals = append(globals, g)
		}
	}
	return
}

// applyDataSegments bounds-checks every data segment before writing any,
// so a failed instantiation leaves no partial memory writes.
func (s *Store) applyDataSegments(m *ModuleInstance, importedGlobals []*GlobalInstance) error {
	module := m.Module
	if len(module.DataSection) == 0 {
		return nil
	}
	offsets := make([]uint32, len(module.DataSection))
	for i, d := range module.DataSection {
		val, err := evaluateConstantExpression(importedGlobals, d.OffsetExpression)
		if err != nil {
			return err
		}
		offset := uint32(val)
		if uint64(offset)+uint64(len(d.Init)) > uint64(m.Memory.Size()) {
			return fmt.Errorf("%s[%d]: out of bounds memory access", SectionIDName(SectionIDData), i)
		}
		offsets[i] = offset
	}
	for i, d := range module.DataSection {
		m.Memory.Write(offsets[i], d.Init)
	}
	return nil
}

// applyElementSegments bounds-checks every element segment before writing
// any, mirroring applyDataSegments.
func (s *Store) applyElementSegments(m *ModuleInstance, importedGlobals []*GlobalInstance) error {
	module := m.Module
	if len(module.ElementSection) == 0 {
		return nil
	}
	offsets := make([]uint32, len(module.ElementSection))
	for i, elem := range module.ElementSection {
		val, err := evaluateConstantExpression(importedGlobals, elem.OffsetExpr)
		if err != nil {
			return err
		}
		offset := uint32(val)
		if uint64(offset)+uint64(len(elem.Init)) > uint64(m.Table.Size()) {
			return fmt.Errorf("%s[%d]: out of bounds table access", SectionIDName(SectionIDElement), i)
		}
		offsets[i] = offset
	}
	for i, elem := range module.ElementSection {
		for ei, funcIdx := range elem.Init {
			f := m.Functions[funcIdx]
			m.Table.Set(offsets[i]+uint32(ei), Reference{TypeID: f.TypeID, Function: f})
		}
	}
	return nil
}

// evaluateConstantExpression computes the 64-bit encoded value of an
// initializer. The expression was already type-checked during validation.
func evaluateConstantExpression(importedGlobals []*GlobalInstance, expr *ConstantExpression) (uint64, error) {
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return 0, err
		}
		return api.EncodeI32(v), nil
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(v), nil
	case OpcodeF32Const:
		v, err := ieee754.DecodeFloat32(r)
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(v), nil
	case OpcodeF64Const:
		v, err := ieee754.DecodeFloat64(r)
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(v), nil
	case OpcodeGlobalGet:
		id, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, err
		}
		if id >= uint32(len(importedGlobals)) {
			return 0, fmt.Errorf("global index out of range: %d", id)
		}
		return importedGlobals[id].Val, nil
	}
	return 0, fmt.Errorf("invalid opcode for const expression: %#x", expr.Opcode)
}
