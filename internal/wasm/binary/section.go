package binary

import (
	"fmt"
	"unicode/utf8"

	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

func decodeTypeSection(r *reader) ([]*wasm.FunctionType, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.FunctionType, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeFunctionType(r); err != nil {
			return nil, fmt.Errorf("read %d-th type: %w", i, err)
		}
	}
	return result, nil
}

// decodeFunctionType decodes one functype, which begins with the 0x60
// discriminator byte.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-functype
func decodeFunctionType(r *reader) (*wasm.FunctionType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}
	if b != 0x60 {
		return nil, r.errorf("expected funcref, but was %#x", b)
	}

	params, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("read parameter types: %w", err)
	}
	results, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("read result types: %w", err)
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeValueTypes(r *reader) ([]wasm.ValueType, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %v", err)
	}
	if vs == 0 {
		return nil, nil
	}
	ret := make([]wasm.ValueType, vs)
	if err = r.readFull(ret); err != nil {
		return nil, err
	}
	for _, vt := range ret {
		switch vt {
		case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		default:
			return nil, r.errorf("invalid value type: %#x", vt)
		}
	}
	return ret, nil
}

func decodeImportSection(r *reader) ([]*wasm.Import, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.Import, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeImport(r, i); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeImport(r *reader, idx uint32) (i *wasm.Import, err error) {
	i = &wasm.Import{}
	if i.Module, err = decodeUTF8(r, "import module"); err != nil {
		return nil, fmt.Errorf("import[%d]: %w", idx, err)
	}
	if i.Name, err = decodeUTF8(r, "import name"); err != nil {
		return nil, fmt.Errorf("import[%d]: %w", idx, err)
	}

	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("import[%d] read desc type: %v", idx, err)
	}
	i.Type = b
	switch i.Type {
	case wasm.ExternTypeFunc:
		i.DescFunc, err = r.readUint32()
	case wasm.ExternTypeTable:
		i.DescTable, err = decodeTable(r)
	case wasm.ExternTypeMemory:
		i.DescMem, err = decodeMemory(r)
	case wasm.ExternTypeGlobal:
		i.DescGlobal, err = decodeGlobalType(r)
	default:
		return nil, r.errorf("import[%d] invalid desc type: %#x", idx, i.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("import[%d] %s[%s.%s]: %w", idx, wasm.ExternTypeName(i.Type), i.Module, i.Name, err)
	}
	return
}

func decodeFunctionSection(r *reader) ([]wasm.Index, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]wasm.Index, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = r.readUint32(); err != nil {
			return nil, fmt.Errorf("get type index of function[%d]: %v", i, err)
		}
	}
	return result, nil
}

func decodeTableSection(r *reader) (*wasm.Table, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}
	if vs == 0 {
		return nil, nil
	}
	if vs > 1 {
		return nil, r.errorf("at most one table allowed in module, but read %d", vs)
	}
	return decodeTable(r)
}

// decodeTable returns the wasm.Table decoded with the WebAssembly 1.0
// (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTable(r *reader) (*wasm.Table, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}
	if b != 0x70 { // funcref
		return nil, r.errorf("invalid element type %#x", b)
	}

	min, max, _, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &wasm.Table{Min: min, Max: max}, nil
}

func decodeMemorySection(r *reader) (*wasm.Memory, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}
	if vs == 0 {
		return nil, nil
	}
	if vs > 1 {
		return nil, r.errorf("at most one memory allowed in module, but read %d", vs)
	}
	return decodeMemory(r)
}

// decodeMemory returns the wasm.Memory decoded with the WebAssembly 1.0
// (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func decodeMemory(r *reader) (*wasm.Memory, error) {
	min, max, isMaxEncoded, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	mem := &wasm.Memory{Min: min, IsMaxEncoded: isMaxEncoded}
	if isMaxEncoded {
		mem.Max = *max
	} else {
		mem.Max = wasm.MemoryLimitPages
	}
	return mem, nil
}

// decodeLimitsType returns the `limitsType` (min, max) decoded with the
// WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *reader) (min uint32, max *uint32, isMaxEncoded bool, err error) {
	var flag byte
	if flag, err = r.ReadByte(); err != nil {
		err = fmt.Errorf("read leading byte: %v", err)
		return
	}

	switch flag {
	case 0x00:
		min, err = r.readUint32()
		if err != nil {
			err = fmt.Errorf("read min of limit: %v", err)
		}
	case 0x01:
		min, err = r.readUint32()
		if err != nil {
			err = fmt.Errorf("read min of limit: %v", err)
			return
		}
		var m uint32
		if m, err = r.readUint32(); err != nil {
			err = fmt.Errorf("read max of limit: %v", err)
		} else {
			max = &m
			isMaxEncoded = true
		}
	default:
		err = r.errorf("invalid byte for limits: %#x", flag)
	}
	return
}

func decodeGlobalSection(r *reader) ([]*wasm.Global, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.Global, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeGlobal(r); err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeGlobal(r *reader) (*wasm.Global, error) {
	gt, err := decodeGlobalType(r)
	if err != nil {
		return nil, err
	}
	init, err := decodeConstantExpression(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Global{Type: gt, Init: init}, nil
}

// decodeGlobalType returns the wasm.GlobalType decoded with the WebAssembly
// 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-globaltype
func decodeGlobalType(r *reader) (*wasm.GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read value type: %v", err)
	}
	switch vt {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
	default:
		return nil, r.errorf("invalid value type: %#x", vt)
	}

	ret := &wasm.GlobalType{ValType: vt}
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read mutablity: %v", err)
	}
	switch b {
	case 0x00:
	case 0x01:
		ret.Mutable = true
	default:
		return nil, r.errorf("invalid mutability: %#x != 0x00 or 0x01", b)
	}
	return ret, nil
}

// decodeConstantExpression decodes a single opcode, its immediate bytes and
// the terminating OpcodeEnd. The immediate is retained undecoded: validation
// and evaluation re-read it with the expected type.
func decodeConstantExpression(r *reader) (*wasm.ConstantExpression, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode: %v", err)
	}

	r.beginCapture()
	switch b {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeF32Const:
		err = r.readFull(make([]byte, 4))
	case wasm.OpcodeF64Const:
		err = r.readFull(make([]byte, 8))
	case wasm.OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(r)
	default:
		r.endCapture()
		return nil, r.errorf("invalid opcode for const expression: %#x", b)
	}
	data := r.endCapture()
	if err != nil {
		return nil, fmt.Errorf("read const expression immediate: %v", err)
	}

	end, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read end of const expression: %v", err)
	}
	if end != wasm.OpcodeEnd {
		return nil, r.errorf("const expression must be followed by end, but was %#x", end)
	}
	return &wasm.ConstantExpression{Opcode: b, Data: data}, nil
}

func decodeExportSection(r *reader) (map[string]*wasm.Export, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	exports := make(map[string]*wasm.Export, vs)
	for i := uint32(0); i < vs; i++ {
		export := &wasm.Export{}
		if export.Name, err = decodeUTF8(r, "export name"); err != nil {
			return nil, fmt.Errorf("export[%d]: %w", i, err)
		}
		if _, ok := exports[export.Name]; ok {
			return nil, r.errorf("export[%d] %q already exported", i, export.Name)
		}

		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("export[%d] read desc type: %v", i, err)
		}
		export.Type = b
		switch export.Type {
		case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal:
		default:
			return nil, r.errorf("export[%d] invalid desc type: %#x", i, export.Type)
		}
		if export.Index, err = r.readUint32(); err != nil {
			return nil, fmt.Errorf("export[%d] read index: %v", i, err)
		}
		exports[export.Name] = export
	}
	return exports, nil
}

func decodeStartSection(r *reader) (*wasm.Index, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("read start function index: %v", err)
	}
	return &vs, nil
}

func decodeElementSection(r *reader) ([]*wasm.ElementSegment, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.ElementSegment, vs)
	for i := uint32(0); i < vs; i++ {
		tableIdx, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("element[%d] read table index: %v", i, err)
		}
		if tableIdx != 0 {
			return nil, r.errorf("element[%d] table index must be zero, but was %d", i, tableIdx)
		}

		expr, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("element[%d] read offset: %w", i, err)
		}

		n, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("element[%d] get size of init vector: %v", i, err)
		}
		init := make([]wasm.Index, n)
		for j := uint32(0); j < n; j++ {
			if init[j], err = r.readUint32(); err != nil {
				return nil, fmt.Errorf("element[%d] read init[%d]: %v", i, j, err)
			}
		}
		result[i] = &wasm.ElementSegment{OffsetExpr: expr, Init: init}
	}
	return result, nil
}

func decodeCodeSection(r *reader) ([]*wasm.Code, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.Code, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeCode(r); err != nil {
			return nil, fmt.Errorf("read function[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeCode(r *reader) (*wasm.Code, error) {
	size, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("get size of code: %v", err)
	}
	codeStart := r.pos

	localCount, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("get count of local declarations: %v", err)
	}
	var localTypes []wasm.ValueType
	var total uint64
	for i := uint32(0); i < localCount; i++ {
		n, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %v", err)
		}
		t, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read type of local: %v", err)
		}
		switch t {
		case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		default:
			return nil, r.errorf("invalid local type: %#x", t)
		}
		if total += uint64(n); total > wasm.MaximumFunctionLocals {
			return nil, r.errorf("too many locals: %d", total)
		}
		for j := uint32(0); j < n; j++ {
			localTypes = append(localTypes, t)
		}
	}

	consumed := r.pos - codeStart
	if uint64(size) < consumed {
		return nil, r.errorf("code size %d smaller than local declarations", size)
	}
	bodySize := uint64(size) - consumed
	bodyOffset := r.pos
	body := make([]byte, bodySize)
	if err = r.readFull(body); err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	if len(body) == 0 || body[len(body)-1] != wasm.OpcodeEnd {
		return nil, errorAt(bodyOffset, "expr not ended with end instruction")
	}
	return &wasm.Code{LocalTypes: localTypes, Body: body, BodyOffsetInBinary: bodyOffset}, nil
}

func decodeDataSection(r *reader) ([]*wasm.DataSegment, error) {
	vs, err := r.readUint32()
	if err != nil {
		return nil, r.errorf("get size of vector: %v", err)
	}

	result := make([]*wasm.DataSegment, vs)
	for i := uint32(0); i < vs; i++ {
		memIdx, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("data[%d] read memory index: %v", i, err)
		}
		if memIdx != 0 {
			return nil, r.errorf("data[%d] memory index must be zero, but was %d", i, memIdx)
		}

		expr, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("data[%d] read offset: %w", i, err)
		}

		n, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("data[%d] get size of vector: %v", i, err)
		}
		init := make([]byte, n)
		if err = r.readFull(init); err != nil {
			return nil, fmt.Errorf("data[%d] read init: %v", i, err)
		}
		result[i] = &wasm.DataSegment{OffsetExpression: expr, Init: init}
	}
	return result, nil
}

// decodeUTF8 decodes a size-prefixed string.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-utf8
func decodeUTF8(r *reader, context string) (string, error) {
	size, err := r.readUint32()
	if err != nil {
		return "", fmt.Errorf("get size of %s: %v", context, err)
	}
	buf := make([]byte, size)
	if err = r.readFull(buf); err != nil {
		return "", fmt.Errorf("read %s: %v", context, err)
	}
	if !utf8.Valid(buf) {
		return "", r.errorf("%s must be valid utf8", context)
	}
	return string(buf), nil
}
