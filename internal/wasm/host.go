package wasm

import (
	"fmt"
	"sort"
)

// NewHostModule builds a Module entirely from Go functions, exported under
// their map keys. The result translates and instantiates like any other
// module, so guests import host functionality with ordinary import entries.
func NewHostModule(moduleName string, nameToGoFunc map[string]interface{}) (*Module, error) {
	m := &Module{
		ExportSection: map[string]*Export{},
		NameSection:   &NameSection{ModuleName: moduleName},
	}

	// Deterministic iteration keeps function indices and the module ID
	// stable across processes.
	names := make([]string, 0, len(nameToGoFunc))
	for name := range nameToGoFunc {
		names = append(names, name)
	}
	sort.Strings(names)

	for idx, name := range names {
		fn, ft, err := ParseGoFunc(nameToGoFunc[name])
		if err != nil {
			return nil, fmt.Errorf("func[%s.%s]: %w", moduleName, name, err)
		}

		typeIdx := maybeAddType(m, ft)
		funcIdx := Index(idx)
		m.FunctionSection = append(m.FunctionSection, typeIdx)
		m.CodeSection = append(m.CodeSection, &Code{GoFunc: fn})
		m.ExportSection[name] = &Export{Type: ExternTypeFunc, Name: name, Index: funcIdx}
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &NameAssoc{Index: funcIdx, Name: name})
	}

	m.AssignModuleID([]byte("host:" + moduleName))
	return m, nil
}

func maybeAddType(m *Module, ft *FunctionType) Index {
	for i, t := range m.TypeSection {
		if t.EqualsSignature(ft.Params, ft.Results) {
			return Index(i)
		}
	}
	m.TypeSection = append(m.TypeSection, ft)
	return Index(len(m.TypeSection) - 1)
}
