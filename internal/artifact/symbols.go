package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

// SymbolKind names the entity classes an artifact's symbol table can hold.
type SymbolKind string

const (
	// SymbolFunction is a compiled function body.
	SymbolFunction SymbolKind = "function"
	// SymbolSection is a custom data section carried alongside code.
	SymbolSection SymbolKind = "section"
	// SymbolTrampolineCall is an embedder-to-wasm entry trampoline.
	SymbolTrampolineCall SymbolKind = "trampoline_call"
	// SymbolTrampolineDynamic is a wasm-to-host exit trampoline.
	SymbolTrampolineDynamic SymbolKind = "trampoline_dynamic"
)

// symbolKinds is ordered so that the longest kind matches first: "function"
// must not match inside "trampoline_call" parsing and vice versa.
var symbolKinds = []SymbolKind{
	SymbolTrampolineDynamic, SymbolTrampolineCall, SymbolSection, SymbolFunction,
}

// Symbol identifies one serialized entity.
type Symbol struct {
	// Prefix namespaces symbols of one embedding, e.g. "wavm".
	Prefix string
	// Kind is the entity class.
	Kind SymbolKind
	// ModuleID is the hex module identity the entity belongs to.
	ModuleID string
	// Index is the entity's index within its kind.
	Index uint32
}

// String renders the symbol as "{prefix}_{kind}_{moduleID}_{index}".
func (s Symbol) String() string {
	return fmt.Sprintf("%s_%s_%s_%d", s.Prefix, s.Kind, s.ModuleID, s.Index)
}

// ParseSymbol is the inverse of Symbol.String. The prefix may itself contain
// underscores; the kind, module ID and index may not, so parsing anchors on
// the last three components.
func ParseSymbol(name string) (Symbol, error) {
	for _, kind := range symbolKinds {
		sep := "_" + string(kind) + "_"
		i := strings.LastIndex(name, sep)
		if i < 0 {
			continue
		}
		prefix := name[:i]
		rest := name[i+len(sep):]

		j := strings.LastIndex(rest, "_")
		if j < 0 {
			continue
		}
		moduleID, idxStr := rest[:j], rest[j+1:]
		if prefix == "" || moduleID == "" || strings.Contains(moduleID, "_") {
			continue
		}
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil {
			continue
		}
		return Symbol{Prefix: prefix, Kind: kind, ModuleID: moduleID, Index: uint32(idx)}, nil
	}
	return Symbol{}, fmt.Errorf("unparsable symbol name %q", name)
}
