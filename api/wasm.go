// Package api includes constants and interfaces used by both end-users and internal implementations.
package api

import (
	"context"
	"fmt"
	"math"
)

// ValueType describes a parameter or result type mapped to a WebAssembly
// function signature.
//
// The following describes how to convert between Wasm and Golang types:
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 DecodeF64 from float64
//
// Ex. Given a Text Format type use (param f64) (result f64), conversion is
// necessary.
//
//	results, _ := fn(ctx, api.EncodeF64(input))
//	result := api.DecodeF64(results[0])
//
// Note: This is a type alias as it is easier to encode and decode in the
// binary format.
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// Module is an instantiated module, ready to be executed.
type Module interface {
	// Name is the name this module was instantiated with. Exported functions
	// in other modules can import this module by this name.
	Name() string

	// ExportedFunction returns a function exported from this module or nil if
	// it wasn't.
	ExportedFunction(name string) Function

	// ExportedMemory returns a memory exported from this module or nil if it
	// wasn't.
	ExportedMemory(name string) Memory

	// ExportedGlobal returns a global exported from this module or nil if it
	// wasn't.
	ExportedGlobal(name string) Global

	// Close releases resources allocated for this module.
	Close(ctx context.Context) error
}

// Function is a WebAssembly function exported from an instantiated module.
type Function interface {
	// Definition describes the signature of this function.
	Definition() FunctionDefinition

	// Call invokes the function with the given parameters and returns any
	// results or an error for any failure invoking the function.
	//
	// Parameters and results are encoded as described in ValueType. When the
	// error is a runtime fault, it unwraps to the originating trap value.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// FunctionDefinition describes the signature of one function in a module.
type FunctionDefinition interface {
	// Name is the module-local name of this function from the custom name
	// section, possibly empty.
	Name() string

	// Index is the position in the module's function index namespace, imports
	// first.
	Index() uint32

	// ParamTypes are the possibly empty sequence of value types accepted by
	// a function with this signature.
	ParamTypes() []ValueType

	// ResultTypes are the possibly empty sequence of value types returned by
	// a function with this signature.
	ResultTypes() []ValueType
}

// Memory allows restricted access to a module's linear memory.
//
// All accesses are bounds-checked: results are false on any access that would
// exceed the current size.
type Memory interface {
	// Definition describes the limits this memory was declared with.
	Definition() MemoryDefinition

	// Size returns the size in bytes available. Ex. If the underlying memory
	// has 1 page: 65536.
	Size() uint32

	// Grow increases memory by the delta in pages (65536 bytes per page).
	// The return val is the previous memory size in pages, or false if the
	// delta was ignored as it exceeds the maximum.
	//
	// Note: This is the same as the "memory.grow" instruction, except it
	// never traps.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)

	// ReadByte reads a single byte from the underlying buffer at the offset
	// or returns false if out of range.
	ReadByte(offset uint32) (byte, bool)

	// ReadUint16Le reads a uint16 in little-endian encoding from the
	// underlying buffer at the offset or returns false if out of range.
	ReadUint16Le(offset uint32) (uint16, bool)

	// ReadUint32Le reads a uint32 in little-endian encoding from the
	// underlying buffer at the offset or returns false if out of range.
	ReadUint32Le(offset uint32) (uint32, bool)

	// ReadUint64Le reads a uint64 in little-endian encoding from the
	// underlying buffer at the offset or returns false if out of range.
	ReadUint64Le(offset uint32) (uint64, bool)

	// ReadFloat32Le reads a float32 from 32 IEEE 754 little-endian encoded
	// bits in the underlying buffer at the offset or returns false if out of
	// range.
	ReadFloat32Le(offset uint32) (float32, bool)

	// ReadFloat64Le reads a float64 from 64 IEEE 754 little-endian encoded
	// bits in the underlying buffer at the offset or returns false if out of
	// range.
	ReadFloat64Le(offset uint32) (float64, bool)

	// Read reads byteCount bytes from the underlying buffer at the offset or
	// returns false if out of range.
	//
	// The returned slice shares memory with the module: writes are visible to
	// wasm code, and the slice is invalidated by "memory.grow".
	Read(offset, byteCount uint32) ([]byte, bool)

	// WriteByte writes a single byte to the underlying buffer at the offset
	// or returns false if out of range.
	WriteByte(offset uint32, v byte) bool

	// WriteUint16Le writes the value in little-endian encoding to the
	// underlying buffer at the offset or returns false if out of range.
	WriteUint16Le(offset uint32, v uint16) bool

	// WriteUint32Le writes the value in little-endian encoding to the
	// underlying buffer at the offset or returns false if out of range.
	WriteUint32Le(offset, v uint32) bool

	// WriteUint64Le writes the value in little-endian encoding to the
	// underlying buffer at the offset or returns false if out of range.
	WriteUint64Le(offset uint32, v uint64) bool

	// WriteFloat32Le writes the value in 32 IEEE 754 little-endian encoded
	// bits to the underlying buffer at the offset or returns false if out of
	// range.
	WriteFloat32Le(offset uint32, v float32) bool

	// WriteFloat64Le writes the value in 64 IEEE 754 little-endian encoded
	// bits to the underlying buffer at the offset or returns false if out of
	// range.
	WriteFloat64Le(offset uint32, v float64) bool

	// Write writes the slice to the underlying buffer at the offset or
	// returns false if out of range.
	Write(offset uint32, v []byte) bool
}

// MemoryDefinition describes the limits a memory was declared with, in pages.
type MemoryDefinition interface {
	// Min is the minimum size in pages.
	Min() uint32

	// Max is the effective maximum size in pages: the declared maximum, or the
	// 65536 page limit when the declaration had none.
	Max() uint32
}

// Global is one value cell, whose mutability was fixed at compile time.
type Global interface {
	fmt.Stringer

	// Type describes the numeric type of the global.
	Type() ValueType

	// Get returns the last known value of this global.
	// See Type for how to decode this value to a Go type.
	Get() uint64
}

// MutableGlobal is a Global whose declaration allowed "global.set". A Global
// can be cast to a MutableGlobal only in that case: mutability is a
// compile-time property, not re-checked at runtime.
type MutableGlobal interface {
	Global

	// Set updates the value of this global.
	// See Global.Type for how to encode this value from a Go type.
	Set(v uint64)
}

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// DecodeI32 decodes the input as a ValueTypeI32.
func DecodeI32(input uint64) int32 {
	return int32(input)
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 encodes the input as a ValueTypeF32.
//
// See DecodeF32
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
//
// See EncodeF32
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
//
// See DecodeF64
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
//
// See EncodeF64
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}
