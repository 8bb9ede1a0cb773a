// Package wasm holds the module metadata produced by translation and the
// runtime object model (memories, tables, globals, signature registry) that
// compiled code executes against.
package wasm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/ieee754"
	"github.com/wavmio/wavm/internal/leb128"
)

// Module is the immutable description of a WebAssembly module's shape:
// type signatures, import/export tables, memory/table/global declarations and
// data/element initializers, decoded from the binary format.
//
// A Module is read-only after translation. It may be shared by many compiled
// artifacts and many instances, so nothing may mutate it afterwards.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or
	// defined in this module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#types%E2%91%A0%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals
	// required for instantiation.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function
	// defined in this module.
	//
	// Note: The function Index namespace begins with imported functions.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
	FunctionSection []Index

	// TableSection contains the table defined in this module, if any.
	//
	// Note: Version 1.0 (20191205) of the WebAssembly spec allows at most one
	// table definition per module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-section%E2%91%A0
	TableSection *Table

	// MemorySection contains the memory defined in this module, if any.
	//
	// Note: Version 1.0 (20191205) of the WebAssembly spec allows at most one
	// memory definition per module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
	MemorySection *Memory

	// GlobalSection contains each global defined in this module.
	//
	// Global indexes are offset by any imported globals because the global
	// index namespace begins with imports.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-section%E2%91%A0
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, keyed on the
	// unique export name.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#exports%E2%91%A0
	ExportSection map[string]*Export

	// StartSection is the index of a function to call during instantiation.
	//
	// Note: The index here is in the function index namespace, which begins
	// with imported functions.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-section%E2%91%A0
	StartSection *Index

	// ElementSection are initialization instructions for the table.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-section%E2%91%A0
	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each
	// function's locals and body.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	CodeSection []*Code

	// DataSection are initialization instructions for the memory.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
	DataSection []*DataSegment

	// NameSection is set when the SectionIDCustom "name" was successfully
	// decoded from the binary format. Only used to argument stack traces.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
	NameSection *NameSection

	// ID is the SHA-256 of the raw binary this module was translated from,
	// used as the artifact cache key and the module part of symbol names.
	ID ModuleID
}

// ModuleID uniquely identifies the raw bytes a module was translated from.
type ModuleID = [sha256.Size]byte

// MaximumFunctionLocals caps local declarations per function. The count is
// attacker-controlled via the local run-length encoding, so it is bounded
// before allocation.
const MaximumFunctionLocals = 1 << 17

// AssignModuleID records the identity of the raw binary into Module.ID.
func (m *Module) AssignModuleID(wasm []byte) {
	m.ID = sha256.Sum256(wasm)
}

// IDString returns the short hex form of Module.ID used in symbol names.
func (m *Module) IDString() string {
	return hex.EncodeToString(m.ID[:4])
}

// Index is the offset in an index namespace, not necessarily an absolute
// position in a Module section. This is because index namespaces are often
// preceded by a corresponding type in the Module.ImportSection.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a
	// function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a
	// function with this signature.
	Results []ValueType

	// string is cached as it is used both for signature registry keys and
	// error messages.
	string string
}

// EqualsSignature returns true if the function type has the same parameters
// and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return bytes.Equal(t.Params, params) && bytes.Equal(t.Results, results)
}

// String implements fmt.Stringer.
func (t *FunctionType) String() string {
	if t.string != "" {
		return t.string
	}
	var ret string
	for _, b := range t.Params {
		ret += api.ValueTypeName(b)
	}
	if len(t.Params) == 0 {
		ret += "v"
	}
	ret += "_"
	for _, b := range t.Results {
		ret += api.ValueTypeName(b)
	}
	if len(t.Results) == 0 {
		ret += "v"
	}
	t.string = ret
	return ret
}

// Import is the binary representation of an import indicated by Type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import.
	Module string
	// Name is the possibly empty secondary namespace of this import.
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc.
	DescFunc Index
	// DescTable is the inlined Table when Type equals ExternTypeTable.
	DescTable *Table
	// DescMem is the inlined Memory when Type equals ExternTypeMemory.
	DescMem *Memory
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal.
	DescGlobal *GlobalType
}

// Table describes the limits of elements in a table.
type Table struct {
	Min uint32
	Max *uint32
}

// Memory describes the limits of pages (64KiB) in a memory.
type Memory struct {
	Min, Max uint32
	// IsMaxEncoded true if the Max is encoded in the original binary.
	IsMaxEncoded bool
}

// Validate ensures values assigned to Min and Max are within allowed limits.
func (m *Memory) Validate(memoryLimitPages uint32) error {
	min, max := m.Min, m.Max
	if max > memoryLimitPages {
		return fmt.Errorf("max %d pages (%s) over limit of %d pages (%s)",
			max, PagesToUnitOfBytes(max), memoryLimitPages, PagesToUnitOfBytes(memoryLimitPages))
	} else if min > memoryLimitPages {
		return fmt.Errorf("min %d pages (%s) over limit of %d pages (%s)",
			min, PagesToUnitOfBytes(min), memoryLimitPages, PagesToUnitOfBytes(memoryLimitPages))
	} else if min > max {
		return fmt.Errorf("min %d pages (%s) > max %d pages (%s)",
			min, PagesToUnitOfBytes(min), max, PagesToUnitOfBytes(max))
	}
	return nil
}

// GlobalType declares the value type and mutability of one global.
type GlobalType struct {
	ValType ValueType
	// Mutable gates whether a "global.set" was legal at validation time. It
	// is not enforced again at runtime.
	Mutable bool
}

// Global is the combination of a declared type and its initializer.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a short expression that computes an initial value,
// ending in OpcodeEnd.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Export is the binary representation of an export indicated by Type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export. The index namespace is
	// by Type, imports first.
	Index Index
}

// ElementSegment are initialization instructions for a TableInstance.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-elem
type ElementSegment struct {
	// OffsetExpr returns the table element offset to apply to Init indices.
	OffsetExpr *ConstantExpression
	// Init indices are positions in the function index namespace that
	// initialize the corresponding table element.
	Init []Index
}

// Code is an entry in the Module.CodeSection containing the locals and body
// of a function.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType
	// Body is a sequence of expressions ending in OpcodeEnd. The slice
	// aliases the translated binary: an opaque byte range per function.
	Body []byte
	// BodyOffsetInBinary is the offset of Body in the original binary, used
	// to map trap sites back to WebAssembly-level code offsets.
	BodyOffsetInBinary uint64

	// GoFunc is set instead of Body when this entry was built from a host Go
	// function. See NewHostModule.
	GoFunc *reflect.Value
}

// DataSegment are initialization instructions for a MemoryInstance.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-data
type DataSegment struct {
	OffsetExpression *ConstantExpression
	Init             []byte
}

// NameSection represents the known custom name subsections defined in the
// WebAssembly binary format.
//
// Note: This can be nil if no names were decoded for any reason.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic
	// identifier. Ex. add
	//
	// Note: FunctionNames are only used for debugging. At runtime, functions
	// are called based on raw numeric index.
	FunctionNames NameMap

	// LocalNames contains symbolic names for function parameters or locals
	// that have one.
	LocalNames IndirectNameMap
}

// NameMap associates an index with any associated names. It is unique by
// NameAssoc.Index and ordered by it when encoded.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namemap
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// IndirectNameMap associates an index with an association of names.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-indirectnamemap
type IndirectNameMap []*NameMapAssoc

type NameMapAssoc struct {
	Index   Index
	NameMap NameMap
}

// ImportFuncCount returns the possibly empty count of imported functions.
func (m *Module) ImportFuncCount() uint32 {
	return m.importCount(ExternTypeFunc)
}

// ImportGlobalCount returns the possibly empty count of imported globals.
func (m *Module) ImportGlobalCount() uint32 {
	return m.importCount(ExternTypeGlobal)
}

func (m *Module) importCount(et ExternType) (res uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			res++
		}
	}
	return
}

// TypeOfFunction returns the FunctionType for the given function namespace
// index, or nil if out of range.
//
// Note: The function index namespace is preceded by imported functions.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	if typeSectionLength == 0 {
		return nil
	}
	funcImportCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeFunc {
			if funcIdx == funcImportCount {
				if im.DescFunc >= typeSectionLength {
					return nil
				}
				return m.TypeSection[im.DescFunc]
			}
			funcImportCount++
		}
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// FunctionName returns the name of the function at the given index in the
// function index namespace, or "" if unnamed.
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection == nil {
		return ""
	}
	for _, na := range m.NameSection.FunctionNames {
		if na.Index == funcIdx {
			return na.Name
		}
	}
	return ""
}

// ModuleName returns the name from the custom name section, or "" if absent.
func (m *Module) ModuleName() string {
	if m.NameSection == nil {
		return ""
	}
	return m.NameSection.ModuleName
}

// allDeclarations returns all declarations for functions, globals, memories
// and tables in a module including imported ones.
func (m *Module) allDeclarations() (functions []Index, globals []*GlobalType, memory *Memory, table *Table) {
	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			functions = append(functions, imp.DescFunc)
		case ExternTypeGlobal:
			globals = append(globals, imp.DescGlobal)
		case ExternTypeMemory:
			memory = imp.DescMem
		case ExternTypeTable:
			table = imp.DescTable
		}
	}

	functions = append(functions, m.FunctionSection...)
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	if m.MemorySection != nil {
		memory = m.MemorySection
	}
	if m.TableSection != nil {
		table = m.TableSection
	}
	return
}

// Validate performs the semantic checks the binary decoder cannot: index
// references across sections, initializer soundness, and per-function body
// typing. Feature flags are threaded through so a module using a disabled
// feature is rejected, not miscompiled.
func (m *Module) Validate(enabledFeatures api.CoreFeatures, memoryLimitPages uint32) error {
	functions, globals, memory, table := m.allDeclarations()

	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}

	for i, typeIndex := range m.FunctionSection {
		if typeIndex >= uint32(len(m.TypeSection)) {
			return fmt.Errorf("function[%d] type index out of range: %d", i, typeIndex)
		}
	}

	if err := m.validateImports(enabledFeatures); err != nil {
		return err
	}

	if err := m.validateGlobals(globals); err != nil {
		return err
	}

	if memory != nil {
		if err := memory.Validate(memoryLimitPages); err != nil {
			return err
		}
	}

	if err := m.validateExports(functions, globals, memory, table); err != nil {
		return err
	}

	if m.StartSection != nil {
		startIndex := *m.StartSection
		if startIndex >= uint32(len(functions)) {
			return fmt.Errorf("start function index out of range: %d", startIndex)
		}
		ft := m.TypeSection[functions[startIndex]]
		if len(ft.Params) > 0 || len(ft.Results) > 0 {
			return fmt.Errorf("invalid start function signature: %s", ft)
		}
	}

	if err := m.validateDataSegments(globals, memory); err != nil {
		return err
	}

	if err := m.validateElementSegments(globals, table, uint32(len(functions))); err != nil {
		return err
	}

	// Function bodies are typed last, as they reference everything above.
	for i, code := range m.CodeSection {
		ft := m.TypeSection[m.FunctionSection[i]]
		if err := m.validateFunction(enabledFeatures, ft, code, functions, globals, memory, table); err != nil {
			idx := m.ImportFuncCount() + uint32(i)
			name := m.FunctionName(idx)
			if name == "" {
				name = fmt.Sprintf("%d", idx)
			}
			return fmt.Errorf("invalid function[%s]: %w", name, err)
		}
	}
	return nil
}

func (m *Module) validateImports(enabledFeatures api.CoreFeatures) error {
	for _, i := range m.ImportSection {
		switch i.Type {
		case ExternTypeFunc:
			if i.DescFunc >= uint32(len(m.TypeSection)) {
				return fmt.Errorf("import[%q.%q] function type index out of range: %d", i.Module, i.Name, i.DescFunc)
			}
		case ExternTypeGlobal:
			if i.DescGlobal.Mutable {
				if err := enabledFeatures.RequireEnabled(api.CoreFeatureMutableGlobal); err != nil {
					return fmt.Errorf("import[%q.%q] invalid global: %w", i.Module, i.Name, err)
				}
			}
		}
	}
	return nil
}

func (m *Module) validateGlobals(globals []*GlobalType) error {
	importedCount := m.importCount(ExternTypeGlobal)
	for i, g := range m.GlobalSection {
		// A global initializer may only reference an imported global with a
		// strictly lower index namespace position.
		if err := m.validateConstExpression(globals[:importedCount], g.Init, g.Type.ValType); err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *Module) validateExports(functions []Index, globals []*GlobalType, memory *Memory, table *Table) error {
	for name, exp := range m.ExportSection {
		switch exp.Type {
		case ExternTypeFunc:
			if exp.Index >= uint32(len(functions)) {
				return fmt.Errorf("unknown function for export[%q]: %d", name, exp.Index)
			}
		case ExternTypeGlobal:
			if exp.Index >= uint32(len(globals)) {
				return fmt.Errorf("unknown global for export[%q]: %d", name, exp.Index)
			}
		case ExternTypeMemory:
			if exp.Index != 0 || memory == nil {
				return fmt.Errorf("memory for export[%q] out of range", name)
			}
		case ExternTypeTable:
			if exp.Index != 0 || table == nil {
				return fmt.Errorf("table for export[%q] out of range", name)
			}
		}
	}
	return nil
}

func (m *Module) validateDataSegments(globals []*GlobalType, memory *Memory) error {
	if len(m.DataSection) > 0 && memory == nil {
		return fmt.Errorf("%s section exists, but no memory definition", SectionIDName(SectionIDData))
	}
	importedGlobals := globals[:m.importCount(ExternTypeGlobal)]
	for i, d := range m.DataSection {
		if err := m.validateConstExpression(importedGlobals, d.OffsetExpression, ValueTypeI32); err != nil {
			return fmt.Errorf("%s[%d] offset: %w", SectionIDName(SectionIDData), i, err)
		}
	}
	return nil
}

func (m *Module) validateElementSegments(globals []*GlobalType, table *Table, functionCount uint32) error {
	if len(m.ElementSection) > 0 && table == nil {
		return fmt.Errorf("%s section exists, but no table definition", SectionIDName(SectionIDElement))
	}
	importedGlobals := globals[:m.importCount(ExternTypeGlobal)]
	for i, elem := range m.ElementSection {
		if err := m.validateConstExpression(importedGlobals, elem.OffsetExpr, ValueTypeI32); err != nil {
			return fmt.Errorf("%s[%d] offset: %w", SectionIDName(SectionIDElement), i, err)
		}
		for ei, funcIdx := range elem.Init {
			if funcIdx >= functionCount {
				return fmt.Errorf("%s[%d].init[%d] function index out of range: %d", SectionIDName(SectionIDElement), i, ei, funcIdx)
			}
		}
	}
	return nil
}

// validateConstExpression type-checks an initializer. Only imported globals
// are visible to initializers in WebAssembly 1.0 (20191205).
func (m *Module) validateConstExpression(importedGlobals []*GlobalType, expr *ConstantExpression, expectedType ValueType) error {
	var actualType ValueType
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case OpcodeI32Const:
		if _, _, err := leb128.DecodeInt32(r); err != nil {
			return fmt.Errorf("read i32: %w", err)
		}
		actualType = ValueTypeI32
	case OpcodeI64Const:
		if _, _, err := leb128.DecodeInt64(r); err != nil {
			return fmt.Errorf("read i64: %w", err)
		}
		actualType = ValueTypeI64
	case OpcodeF32Const:
		if _, err := ieee754.DecodeFloat32(r); err != nil {
			return fmt.Errorf("read f32: %w", err)
		}
		actualType = ValueTypeF32
	case OpcodeF64Const:
		if _, err := ieee754.DecodeFloat64(r); err != nil {
			return fmt.Errorf("read f64: %w", err)
		}
		actualType = ValueTypeF64
	case OpcodeGlobalGet:
		id, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read global index: %w", err)
		}
		if id >= uint32(len(importedGlobals)) {
			return fmt.Errorf("global index out of range: %d", id)
		}
		actualType = importedGlobals[id].ValType
	default:
		return fmt.Errorf("invalid opcode for const expression: %#x", expr.Opcode)
	}

	if actualType != expectedType {
		return fmt.Errorf("const expression type mismatch: expected %s but was %s",
			api.ValueTypeName(expectedType), api.ValueTypeName(actualType))
	}
	return nil
}

// SectionID identifies the sections of a Module in the WebAssembly 1.0
// (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly
	// others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	}
	return "unknown"
}

// ValueType is an alias of api.ValueType defined to simplify imports.
type ValueType = api.ValueType

const (
	ValueTypeI32 = api.ValueTypeI32
	ValueTypeI64 = api.ValueTypeI64
	ValueTypeF32 = api.ValueTypeF32
	ValueTypeF64 = api.ValueTypeF64
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the canonical name of the externdesc.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return "unknown"
}
