package binary

import (
	"sort"

	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

// EncodeModule implements the inverse of DecodeModule.
//
// Output is deterministic for a given module but not byte-identical to the
// input it was decoded from: integers re-encode canonically and exports sort
// by index. Decoding the output yields an equivalent module.
func EncodeModule(m *wasm.Module) []byte {
	out := append(append([]byte{}, Magic...), version...)
	if len(m.TypeSection) > 0 {
		out = append(out, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		out = append(out, encodeImportSection(m.ImportSection)...)
	}
	if len(m.FunctionSection) > 0 {
		out = append(out, encodeFunctionSection(m.FunctionSection)...)
	}
	if m.TableSection != nil {
		out = append(out, encodeTableSection(m.TableSection)...)
	}
	if m.MemorySection != nil {
		out = append(out, encodeMemorySection(m.MemorySection)...)
	}
	if len(m.GlobalSection) > 0 {
		out = append(out, encodeGlobalSection(m.GlobalSection)...)
	}
	if len(m.ExportSection) > 0 {
		out = append(out, encodeExportSection(m.ExportSection)...)
	}
	if m.StartSection != nil {
		out = append(out, encodeStartSection(*m.StartSection)...)
	}
	if len(m.ElementSection) > 0 {
		out = append(out, encodeElementSection(m.ElementSection)...)
	}
	if len(m.CodeSection) > 0 {
		out = append(out, encodeCodeSection(m.CodeSection)...)
	}
	if len(m.DataSection) > 0 {
		out = append(out, encodeDataSection(m.DataSection)...)
	}
	if m.NameSection != nil {
		out = append(out, encodeNameSectionCustom(m.NameSection)...)
	}
	return out
}

// encodeSection prepends the section ID and content size.
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	out := []byte{sectionID}
	out = append(out, leb128.EncodeUint32(uint32(len(contents)))...)
	return append(out, contents...)
}

func encodeTypeSection(types []*wasm.FunctionType) []byte {
	contents := leb128.EncodeUint32(uint32(len(types)))
	for _, t := range types {
		contents = append(contents, encodeFunctionType(t)...)
	}
	return encodeSection(wasm.SectionIDType, contents)
}

func encodeFunctionType(t *wasm.FunctionType) []byte {
	out := []byte{0x60}
	out = append(out, encodeValueTypes(t.Params)...)
	return append(out, encodeValueTypes(t.Results)...)
}

func encodeValueTypes(types []wasm.ValueType) []byte {
	return append(leb128.EncodeUint32(uint32(len(types))), types...)
}

func encodeImportSection(imports []*wasm.Import) []byte {
	contents := leb128.EncodeUint32(uint32(len(imports)))
	for _, i := range imports {
		contents = append(contents, encodeUTF8(i.Module)...)
		contents = append(contents, encodeUTF8(i.Name)...)
		contents = append(contents, i.Type)
		switch i.Type {
		case wasm.ExternTypeFunc:
			contents = append(contents, leb128.EncodeUint32(i.DescFunc)...)
		case wasm.ExternTypeTable:
			contents = append(contents, 0x70)
			contents = append(contents, encodeLimits(i.DescTable.Min, i.DescTable.Max)...)
		case wasm.ExternTypeMemory:
			contents = append(contents, encodeMemoryLimits(i.DescMem)...)
		case wasm.ExternTypeGlobal:
			contents = append(contents, encodeGlobalType(i.DescGlobal)...)
		}
	}
	return encodeSection(wasm.SectionIDImport, contents)
}

func encodeFunctionSection(typeIndices []wasm.Index) []byte {
	contents := leb128.EncodeUint32(uint32(len(typeIndices)))
	for _, idx := range typeIndices {
		contents = append(contents, leb128.EncodeUint32(idx)...)
	}
	return encodeSection(wasm.SectionIDFunction, contents)
}

func encodeTableSection(t *wasm.Table) []byte {
	contents := leb128.EncodeUint32(1)
	contents = append(contents, 0x70)
	contents = append(contents, encodeLimits(t.Min, t.Max)...)
	return encodeSection(wasm.SectionIDTable, contents)
}

func encodeMemorySection(mem *wasm.Memory) []byte {
	contents := append(leb128.EncodeUint32(1), encodeMemoryLimits(mem)...)
	return encodeSection(wasm.SectionIDMemory, contents)
}

func encodeMemoryLimits(mem *wasm.Memory) []byte {
	if mem.IsMaxEncoded {
		max := mem.Max
		return encodeLimits(mem.Min, &max)
	}
	return encodeLimits(mem.Min, nil)
}

func encodeLimits(min uint32, max *uint32) []byte {
	if max == nil {
		return append([]byte{0x00}, leb128.EncodeUint32(min)...)
	}
	out := append([]byte{0x01}, leb128.EncodeUint32(min)...)
	return append(out, leb128.EncodeUint32(*max)...)
}

func encodeGlobalSection(globals []*wasm.Global) []byte {
	contents := leb128.EncodeUint32(uint32(len(globals)))
	for _, g := range globals {
		contents = append(contents, encodeGlobalType(g.Type)...)
		contents = append(contents, encodeConstantExpression(g.Init)...)
	}
	return encodeSection(wasm.SectionIDGlobal, contents)
}

func encodeGlobalType(gt *wasm.GlobalType) []byte {
	mut := byte(0x00)
	if gt.Mutable {
		mut = 0x01
	}
	return []byte{gt.ValType, mut}
}

func encodeConstantExpression(expr *wasm.ConstantExpression) []byte {
	out := append([]byte{expr.Opcode}, expr.Data...)
	return append(out, wasm.OpcodeEnd)
}

func encodeExportSection(exports map[string]*wasm.Export) []byte {
	// Map order is random: sort by index, then name, so output is stable.
	sorted := make([]*wasm.Export, 0, len(exports))
	for _, e := range exports {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index < sorted[j].Index
		}
		return sorted[i].Name < sorted[j].Name
	})

	contents := leb128.EncodeUint32(uint32(len(sorted)))
	for _, e := range sorted {
		contents = append(contents, encodeUTF8(e.Name)...)
		contents = append(contents, e.Type)
		contents = append(contents, leb128.EncodeUint32(e.Index)...)
	}
	return encodeSection(wasm.SectionIDExport, contents)
}

func encodeStartSection(funcIdx wasm.Index) []byte {
	return encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(funcIdx))
}

func encodeElementSection(elements []*wasm.ElementSegment) []byte {
	contents := leb128.EncodeUint32(uint32(len(elements)))
	for _, elem := range elements {
		contents = append(contents, leb128.EncodeUint32(0)...) // table index
		contents = append(contents, encodeConstantExpression(elem.OffsetExpr)...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(elem.Init)))...)
		for _, funcIdx := range elem.Init {
			contents = append(contents, leb128.EncodeUint32(funcIdx)...)
		}
	}
	return encodeSection(wasm.SectionIDElement, contents)
}

func encodeCodeSection(codes []*wasm.Code) []byte {
	contents := leb128.EncodeUint32(uint32(len(codes)))
	for _, c := range codes {
		contents = append(contents, encodeCode(c)...)
	}
	return encodeSection(wasm.SectionIDCode, contents)
}

// encodeCode writes one code entry, run-length compressing consecutive
// locals of the same type.
func encodeCode(c *wasm.Code) []byte {
	var runs [][2]uint32 // (count, type as uint32)
	for _, t := range c.LocalTypes {
		if n := len(runs); n > 0 && runs[n-1][1] == uint32(t) {
			runs[n-1][0]++
		} else {
			runs = append(runs, [2]uint32{1, uint32(t)})
		}
	}

	body := leb128.EncodeUint32(uint32(len(runs)))
	for _, run := range runs {
		body = append(body, leb128.EncodeUint32(run[0])...)
		body = append(body, byte(run[1]))
	}
	body = append(body, c.Body...)

	out := leb128.EncodeUint32(uint32(len(body)))
	return append(out, body...)
}

func encodeDataSection(data []*wasm.DataSegment) []byte {
	contents := leb128.EncodeUint32(uint32(len(data)))
	for _, d := range data {
		contents = append(contents, leb128.EncodeUint32(0)...) // memory index
		contents = append(contents, encodeConstantExpression(d.OffsetExpression)...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(d.Init)))...)
		contents = append(contents, d.Init...)
	}
	return encodeSection(wasm.SectionIDData, contents)
}

func encodeNameSectionCustom(ns *wasm.NameSection) []byte {
	var data []byte
	if ns.ModuleName != "" {
		data = append(data, encodeNameSubsection(subsectionIDModuleName, encodeUTF8(ns.ModuleName))...)
	}
	if len(ns.FunctionNames) > 0 {
		data = append(data, encodeNameSubsection(subsectionIDFunctionNames, encodeNameMap(ns.FunctionNames))...)
	}
	if len(ns.LocalNames) > 0 {
		var nm []byte
		nm = leb128.EncodeUint32(uint32(len(ns.LocalNames)))
		for _, na := range ns.LocalNames {
			nm = append(nm, leb128.EncodeUint32(na.Index)...)
			nm = append(nm, encodeNameMap(na.NameMap)...)
		}
		data = append(data, encodeNameSubsection(subsectionIDLocalNames, nm)...)
	}

	contents := append(encodeUTF8("name"), data...)
	return encodeSection(wasm.SectionIDCustom, contents)
}

func encodeNameSubsection(id uint8, contents []byte) []byte {
	out := []byte{id}
	out = append(out, leb128.EncodeUint32(uint32(len(contents)))...)
	return append(out, contents...)
}

func encodeNameMap(nm wasm.NameMap) []byte {
	out := leb128.EncodeUint32(uint32(len(nm)))
	for _, na := range nm {
		out = append(out, leb128.EncodeUint32(na.Index)...)
		out = append(out, encodeUTF8(na.Name)...)
	}
	return out
}

func encodeUTF8(s string) []byte {
	return append(leb128.EncodeUint32(uint32(len(s))), s...)
}
