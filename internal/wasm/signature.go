package wasm

import (
	"fmt"
	"sync"
)

// FunctionTypeID is the canonical ID of a function signature, uniquely
// assigned by a SignatureRegistry. Signatures equal up to parameter and
// result types share one ID across every module the engine compiled, which
// reduces "call_indirect" signature checks to an integer compare.
type FunctionTypeID uint32

// FunctionTypeIDInvalid is never assigned to a signature. Table elements
// start at this value, so a call through an uninitialized element can never
// pass the signature check.
const FunctionTypeIDInvalid = FunctionTypeID(0)

// maximumFunctionTypes represents the limit on the number of function types
// in a registry. Note: this is arbitrary, not defined by the specification.
const maximumFunctionTypes = 1 << 27

// SignatureRegistry interns function signatures engine-wide.
//
// Register is idempotent: re-registering an equal signature, even from a
// different module, returns the same ID. IDs are never reused for the
// lifetime of the registry.
type SignatureRegistry struct {
	mux sync.RWMutex
	// typeIDs maps FunctionType.String() to a canonical ID.
	typeIDs map[string]FunctionTypeID
	// types is index-correlated with assigned IDs (ID 1 at position 0), for
	// reverse lookup in diagnostics.
	types []*FunctionType
}

// NewSignatureRegistry returns an empty registry.
func NewSignatureRegistry() *SignatureRegistry {
	return &SignatureRegistry{typeIDs: map[string]FunctionTypeID{}}
}

// Register returns the canonical ID for t, assigning the next one on first
// sight of this signature.
func (r *SignatureRegistry) Register(t *FunctionType) (FunctionTypeID, error) {
	key := t.String()

	r.mux.RLock()
	id, ok := r.typeIDs[key]
	r.mux.RUnlock()
	if ok {
		return id, nil
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	// Re-check: another goroutine may have registered between the locks.
	if id, ok = r.typeIDs[key]; ok {
		return id, nil
	}
	l := len(r.typeIDs)
	if l >= maximumFunctionTypes {
		return FunctionTypeIDInvalid, fmt.Errorf("too many function types in a registry")
	}
	// IDs start at 1, FunctionTypeIDInvalid is reserved.
	id = FunctionTypeID(l + 1)
	r.typeIDs[key] = id
	r.types = append(r.types, t)
	return id, nil
}

// Type is the reverse of Register: the signature an ID was assigned to, or
// (nil, false) for an ID never assigned. Used by diagnostics, not hot paths.
func (r *SignatureRegistry) Type(id FunctionTypeID) (*FunctionType, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if id == FunctionTypeIDInvalid || int(id) > len(r.types) {
		return nil, false
	}
	return r.types[id-1], true
}

// RegisterAll resolves every type in the section to its canonical ID,
// index-correlated with the input.
func (r *SignatureRegistry) RegisterAll(typeSection []*FunctionType) ([]FunctionTypeID, error) {
	ret := make([]FunctionTypeID, len(typeSection))
	for i, t := range typeSection {
		id, err := r.Register(t)
		if err != nil {
			return nil, err
		}
		ret[i] = id
	}
	return ret, nil
}

// Lookup returns the ID previously assigned to an equal signature, or
// (FunctionTypeIDInvalid, false) if none was registered.
func (r *SignatureRegistry) Lookup(t *FunctionType) (FunctionTypeID, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	id, ok := r.typeIDs[t.String()]
	if !ok {
		return FunctionTypeIDInvalid, false
	}
	return id, true
}

// Count returns the number of distinct signatures registered so far.
func (r *SignatureRegistry) Count() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.typeIDs)
}
