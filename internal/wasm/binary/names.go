package binary

import (
	"fmt"

	"github.com/wavmio/wavm/internal/wasm"
)

const (
	// subsectionIDModuleName contains only the module name.
	subsectionIDModuleName = uint8(0)
	// subsectionIDFunctionNames is a map of indices to function names, in
	// ascending order by function index
	subsectionIDFunctionNames = uint8(1)
	// subsectionIDLocalNames contain a map of function indices to a map of
	// local indices to their names, in ascending order by function and local
	// index
	subsectionIDLocalNames = uint8(2)
)

// decodeCustomSection reads one custom section. The "name" section feeds
// wasm.Module.NameSection; any other custom section is skipped whole, as its
// contents do not affect execution.
func decodeCustomSection(r *reader, m *wasm.Module, sectionSize uint32) error {
	start := r.pos
	name, err := decodeUTF8(r, "custom section name")
	if err != nil {
		return err
	}
	nameLen := r.pos - start
	if uint64(sectionSize) < nameLen {
		return r.errorf("malformed custom section %s", name)
	}
	remaining := uint64(sectionSize) - nameLen

	if name != "name" || m.NameSection != nil {
		// Duplicate name sections are ignored, like any unknown custom
		// section.
		return r.skip(remaining)
	}

	ns, err := decodeNameSection(r, remaining)
	if err != nil {
		return fmt.Errorf("section custom %q: %w", name, err)
	}
	m.NameSection = ns
	return nil
}

// decodeNameSection deserializes the data associated with the "name" key in
// SectionIDCustom according to the standard:
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
func decodeNameSection(r *reader, limit uint64) (*wasm.NameSection, error) {
	result := &wasm.NameSection{}
	end := r.pos + limit
	for r.pos < end {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read a subsection ID: %w", err)
		}

		size, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read the size of subsection[%d]: %w", id, err)
		}

		switch id {
		case subsectionIDModuleName:
			if result.ModuleName, err = decodeUTF8(r, "module name"); err != nil {
				return nil, err
			}
		case subsectionIDFunctionNames:
			if result.FunctionNames, err = decodeNameMap(r, "function names"); err != nil {
				return nil, err
			}
		case subsectionIDLocalNames:
			if result.LocalNames, err = decodeIndirectNameMap(r); err != nil {
				return nil, err
			}
		default: // Skip other subsections.
			if err = r.skip(uint64(size)); err != nil {
				return nil, fmt.Errorf("failed to skip subsection[%d]: %w", id, err)
			}
		}
	}
	return result, nil
}

func decodeNameMap(r *reader, context string) (wasm.NameMap, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("get size of %s: %v", context, err)
	}
	result := make(wasm.NameMap, 0, count)
	var prev *wasm.Index
	for i := uint32(0); i < count; i++ {
		idx, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("read index of %s[%d]: %v", context, i, err)
		}
		if prev != nil && *prev >= idx {
			return nil, r.errorf("%s out of order: index %d after %d", context, idx, *prev)
		}
		name, err := decodeUTF8(r, context)
		if err != nil {
			return nil, err
		}
		result = append(result, &wasm.NameAssoc{Index: idx, Name: name})
		p := idx
		prev = &p
	}
	return result, nil
}

func decodeIndirectNameMap(r *reader) (wasm.IndirectNameMap, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("get size of local names: %v", err)
	}
	result := make(wasm.IndirectNameMap, 0, count)
	var prev *wasm.Index
	for i := uint32(0); i < count; i++ {
		idx, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("read function index of local names[%d]: %v", i, err)
		}
		if prev != nil && *prev >= idx {
			return nil, r.errorf("local names out of order: function %d after %d", idx, *prev)
		}
		nm, err := decodeNameMap(r, "local names")
		if err != nil {
			return nil, err
		}
		result = append(result, &wasm.NameMapAssoc{Index: idx, NameMap: nm})
		p := idx
		prev = &p
	}
	return result, nil
}
