package wasm

import (
	"fmt"

	"github.com/wavmio/wavm/api"
)

// GlobalInstance represents a global instance in a store.
//
// Val is only written by code the validator proved may write it, so a global
// declared immutable is effectively constant after instantiation.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-instances%E2%91%A0
type GlobalInstance struct {
	Type *GlobalType
	// Val holds a 64-bit representation of the actual value.
	Val uint64
}

// constantGlobal wraps GlobalInstance to implement api.Global.
type constantGlobal struct {
	g *GlobalInstance
}

// Type implements the same method as documented on api.Global.
func (g constantGlobal) Type() api.ValueType {
	return g.g.Type.ValType
}

// Get implements the same method as documented on api.Global.
func (g constantGlobal) Get() uint64 {
	return g.g.Val
}

// String implements fmt.Stringer.
func (g constantGlobal) String() string {
	return globalString(g.g)
}

// mutableGlobal extends constantGlobal to implement api.MutableGlobal.
type mutableGlobal struct {
	constantGlobal
}

// Set implements the same method as documented on api.MutableGlobal.
func (g mutableGlobal) Set(v uint64) {
	g.g.Val = v
}

func globalString(g *GlobalInstance) string {
	switch t := g.Type.ValType; t {
	case ValueTypeI32, ValueTypeI64:
		return fmt.Sprintf("global(%d)", g.Val)
	case ValueTypeF32:
		return fmt.Sprintf("global(%f)", api.DecodeF32(g.Val))
	case ValueTypeF64:
		return fmt.Sprintf("global(%f)", api.DecodeF64(g.Val))
	default:
		panic(fmt.Errorf("BUG: unknown value type %X", t))
	}
}

// ExportGlobal returns the api view of g: api.MutableGlobal when its
// declaration allowed "global.set", otherwise a read-only api.Global.
func ExportGlobal(g *GlobalInstance) api.Global {
	if g.Type.Mutable {
		return mutableGlobal{constantGlobal{g}}
	}
	return constantGlobal{g}
}
