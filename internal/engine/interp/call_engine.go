package interp

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/wavmio/wavm/internal/wasm"
	"github.com/wavmio/wavm/internal/wasmdebug"
)

// callStackCeiling bounds wasm-level call depth. Each interpreter frame also
// consumes Go stack, so the limit sits well under the Go runtime's own.
const callStackCeiling = 2000

// callEngine holds the per-invocation execution state: one shared value
// stack carrying locals and operands for every active frame.
type callEngine struct {
	engine  *engine
	ctx     context.Context
	callCtx *wasm.CallContext

	stack  []uint64
	frames []*activeFrame
}

// activeFrame is the trap-visible record of one executing function.
type activeFrame struct {
	f        *wasm.FunctionInstance
	compiled *compiledFunction
	// pc is the op index, kept current at call sites and trap raises.
	pc int
	// base indexes the first local in the shared stack.
	base int
	// opBase indexes the operand floor, above params and locals.
	opBase int
}

func (ce *callEngine) push(v uint64) {
	ce.stack = append(ce.stack, v)
}

func (ce *callEngine) pop() uint64 {
	v := ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return v
}

// wasmFrames snapshots the wasm-level stack, innermost first.
func (ce *callEngine) wasmFrames() []wasmdebug.Frame {
	frames := make([]wasmdebug.Frame, 0, len(ce.frames))
	for i := len(ce.frames) - 1; i >= 0; i-- {
		af := ce.frames[i]
		var offset uint64
		if af.compiled != nil && af.pc < len(af.compiled.ops) {
			offset = af.compiled.ops[af.pc].offset
		}
		source := af.f.Module.Module
		frames = append(frames, wasmdebug.Frame{
			ModuleName: af.f.Module.Name,
			FuncName:   source.FunctionName(af.f.Idx),
			FuncIndex:  af.f.Idx,
			CodeOffset: offset,
		})
	}
	return frames
}

// trap aborts execution with a runtime trap. The synthetic code address of
// the raising op rides along so the fault registry can classify it later.
func (ce *callEngine) trap(af *activeFrame, pc int, code wasmdebug.TrapCode) {
	af.pc = pc
	if af.compiled != nil {
		panic(wasmdebug.NewFaultTrap(af.compiled.regionStart+uintptr(pc), code, ce.wasmFrames()))
	}
	panic(wasmdebug.NewRuntimeTrap(code, ce.wasmFrames()))
}

// invoke runs f with its parameters on top of the stack, replacing them
// with its results. Errors propagate as trap panics and are recovered at
// the public entry point.
func (ce *callEngine) invoke(f *wasm.FunctionInstance) {
	if f.Kind == wasm.FunctionKindGoFunc {
		ce.invokeGoFunc(f)
		return
	}
	if len(ce.frames) >= callStackCeiling {
		panic(wasmdebug.NewRuntimeTrap(wasmdebug.TrapCodeStackOverflow, ce.wasmFrames()))
	}

	compiled, cm, err := ce.engine.compiledOf(f)
	if err != nil {
		panic(wasmdebug.NewUserTrap(err, ce.wasmFrames()))
	}

	nParams := len(f.Type.Params)
	af := &activeFrame{
		f:        f,
		compiled: compiled,
		base:     len(ce.stack) - nParams,
	}
	for range compiled.localTypes {
		ce.push(0)
	}
	af.opBase = af.base + nParams + len(compiled.localTypes)
	ce.frames = append(ce.frames, af)

	ce.exec(af, cm)

	// Keep the results, discard locals and operand residue underneath.
	arity := len(f.Type.Results)
	copy(ce.stack[af.base:], ce.stack[len(ce.stack)-arity:])
	ce.stack = ce.stack[:af.base+arity]
	ce.frames = ce.frames[:len(ce.frames)-1]
}

func (ce *callEngine) invokeGoFunc(f *wasm.FunctionInstance) {
	nParams := len(f.Type.Params)
	params := make([]uint64, nParams)
	copy(params, ce.stack[len(ce.stack)-nParams:])
	ce.stack = ce.stack[:len(ce.stack)-nParams]

	// The host observes the calling module, not the host module itself.
	callCtx := ce.callCtx
	if n := len(ce.frames); n > 0 {
		callCtx = ce.frames[n-1].f.Module.CallCtx
	}

	tramp := ce.engine.trampolines.host(f.Type)
	results := tramp.call(ce.ctx, callCtx, f, params)
	ce.stack = append(ce.stack, results...)
}

// exec is the interpreter loop. It returns when the instruction pointer
// passes the final op; the function results are then on top of the stack.
func (ce *callEngine) exec(af *activeFrame, cm *compiledModule) {
	ops := af.compiled.ops
	m := af.f.Module
	pc := 0

	branch := func(op *interpOp) int {
		height, arity := unpackBranchTarget(op.u2)
		dst := af.opBase + height
		copy(ce.stack[dst:], ce.stack[len(ce.stack)-arity:])
		ce.stack = ce.stack[:dst+arity]
		return int(op.u1)
	}

	for pc < len(ops) {
		op := &ops[pc]
		switch op.kind {
		case wasm.OpcodeUnreachable:
			ce.trap(af, pc, wasmdebug.TrapCodeUnreachable)

		case kindCompileFailed:
			deferred := cm.deferred[op.u1]
			panic(wasmdebug.NewUserTrap(deferred, ce.wasmFrames()))

		case kindGoto:
			pc = int(op.u1)
			continue

		case kindBrIfZero:
			if ce.pop() == 0 {
				pc = int(op.u1)
				continue
			}

		case wasm.OpcodeBr:
			pc = branch(op)
			continue

		case wasm.OpcodeBrIf:
			if ce.pop() != 0 {
				pc = branch(op)
				continue
			}

		case wasm.OpcodeBrTable:
			n := op.u1
			idx := ce.pop()
			if idx > n {
				idx = n
			}
			pc = branch(&ops[pc+1+int(idx)])
			continue

		case wasm.OpcodeReturn:
			return

		case wasm.OpcodeCall:
			af.pc = pc
			ce.invoke(m.Functions[op.u1])

		case wasm.OpcodeCallIndirect:
			af.pc = pc
			elemIdx := uint32(ce.pop())
			table := m.Table
			ref, ok := table.Lookup(elemIdx)
			if !ok {
				ce.trap(af, pc, wasmdebug.TrapCodeTableOutOfBounds)
			}
			if ref.TypeID == wasm.FunctionTypeIDInvalid {
				ce.trap(af, pc, wasmdebug.TrapCodeIndirectCallToNull)
			}
			if ref.TypeID != m.TypeIDs[op.u1] {
				ce.trap(af, pc, wasmdebug.TrapCodeBadSignature)
			}
			ce.invoke(ref.Function)

		case wasm.OpcodeDrop:
			ce.pop()

		case wasm.OpcodeSelect:
			c := ce.pop()
			v2 := ce.pop()
			if c == 0 {
				ce.stack[len(ce.stack)-1] = v2
			}

		case wasm.OpcodeLocalGet:
			ce.push(ce.stack[af.base+int(op.u1)])
		case wasm.OpcodeLocalSet:
			ce.stack[af.base+int(op.u1)] = ce.pop()
		case wasm.OpcodeLocalTee:
			ce.stack[af.base+int(op.u1)] = ce.stack[len(ce.stack)-1]

		case wasm.OpcodeGlobalGet:
			ce.push(m.Globals[op.u1].Val)
		case wasm.OpcodeGlobalSet:
			m.Globals[op.u1].Val = ce.pop()

		case wasm.OpcodeMemorySize:
			ce.push(uint64(m.Memory.Pages()))
		case wasm.OpcodeMemoryGrow:
			delta := uint32(ce.pop())
			if prev, ok := m.Memory.Grow(delta); ok {
				ce.push(uint64(prev))
			} else {
				ce.push(uint64(0xffffffff)) // -1
			}

		default:
			if op.kind >= wasm.OpcodeI32Load && op.kind <= wasm.OpcodeI64Store32 {
				ce.execMemory(af, pc, op, m.Memory)
			} else {
				ce.execNumeric(af, pc, op)
			}
		}
		pc++
	}
}

// execMemory handles every load and store. The effective address is the
// 33-bit sum of the popped base and the immediate offset, checked against
// the current buffer length.
func (ce *callEngine) execMemory(af *activeFrame, pc int, op *interpOp, mem *wasm.MemoryInstance) {
	buf := mem.Buffer()

	check := func(addr uint64, n uint64) uint64 {
		if addr+n > uint64(len(buf)) {
			ce.trap(af, pc, wasmdebug.TrapCodeMemoryOutOfBounds)
		}
		return addr
	}

	if op.kind >= wasm.OpcodeI32Store {
		val := ce.pop()
		addr := uint64(uint32(ce.pop())) + op.u1
		switch op.kind {
		case wasm.OpcodeI32Store:
			binary.LittleEndian.PutUint32(buf[check(addr, 4):], uint32(val))
		case wasm.OpcodeI64Store:
			binary.LittleEndian.PutUint64(buf[check(addr, 8):], val)
		case wasm.OpcodeF32Store:
			binary.LittleEndian.PutUint32(buf[check(addr, 4):], uint32(val))
		case wasm.OpcodeF64Store:
			binary.LittleEndian.PutUint64(buf[check(addr, 8):], val)
		case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
			buf[check(addr, 1)] = byte(val)
		case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
			binary.LittleEndian.PutUint16(buf[check(addr, 2):], uint16(val))
		case wasm.OpcodeI64Store32:
			binary.LittleEndian.PutUint32(buf[check(addr, 4):], uint32(val))
		}
		return
	}

	addr := uint64(uint32(ce.pop())) + op.u1
	var v uint64
	switch op.kind {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		v = uint64(binary.LittleEndian.Uint32(buf[check(addr, 4):]))
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		v = binary.LittleEndian.Uint64(buf[check(addr, 8):])
	case wasm.OpcodeI32Load8S:
		v = uint64(uint32(int32(int8(buf[check(addr, 1)]))))
	case wasm.OpcodeI32Load8U:
		v = uint64(buf[check(addr, 1)])
	case wasm.OpcodeI32Load16S:
		v = uint64(uint32(int32(int16(binary.LittleEndian.Uint16(buf[check(addr, 2):])))))
	case wasm.OpcodeI32Load16U:
		v = uint64(binary.LittleEndian.Uint16(buf[check(addr, 2):]))
	case wasm.OpcodeI64Load8S:
		v = uint64(int64(int8(buf[check(addr, 1)])))
	case wasm.OpcodeI64Load8U:
		v = uint64(buf[check(addr, 1)])
	case wasm.OpcodeI64Load16S:
		v = uint64(int64(int16(binary.LittleEndian.Uint16(buf[check(addr, 2):]))))
	case wasm.OpcodeI64Load16U:
		v = uint64(binary.LittleEndian.Uint16(buf[check(addr, 2):]))
	case wasm.OpcodeI64Load32S:
		v = uint64(int64(int32(binary.LittleEndian.Uint32(buf[check(addr, 4):]))))
	case wasm.OpcodeI64Load32U:
		v = uint64(binary.LittleEndian.Uint32(buf[check(addr, 4):]))
	}
	ce.push(v)
}

func (ce *callEngine) execNumeric(af *activeFrame, pc int, op *interpOp) {
	switch op.kind {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		ce.push(op.u1)

	case wasm.OpcodeI32Eqz:
		ce.push(b2i(uint32(ce.pop()) == 0))
	case wasm.OpcodeI64Eqz:
		ce.push(b2i(ce.pop() == 0))

	case wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU,
		wasm.OpcodeI32GeS, wasm.OpcodeI32GeU:
		y, x := uint32(ce.pop()), uint32(ce.pop())
		var r bool
		switch op.kind {
		case wasm.OpcodeI32Eq:
			r = x == y
		case wasm.OpcodeI32Ne:
			r = x != y
		case wasm.OpcodeI32LtS:
			r = int32(x) < int32(y)
		case wasm.OpcodeI32LtU:
			r = x < y
		case wasm.OpcodeI32GtS:
			r = int32(x) > int32(y)
		case wasm.OpcodeI32GtU:
			r = x > y
		case wasm.OpcodeI32LeS:
			r = int32(x) <= int32(y)
		case wasm.OpcodeI32LeU:
			r = x <= y
		case wasm.OpcodeI32GeS:
			r = int32(x) >= int32(y)
		case wasm.OpcodeI32GeU:
			r = x >= y
		}
		ce.push(b2i(r))

	case wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI64GtS, wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU,
		wasm.OpcodeI64GeS, wasm.OpcodeI64GeU:
		y, x := ce.pop(), ce.pop()
		var r bool
		switch op.kind {
		case wasm.OpcodeI64Eq:
			r = x == y
		case wasm.OpcodeI64Ne:
			r = x != y
		case wasm.OpcodeI64LtS:
			r = int64(x) < int64(y)
		case wasm.OpcodeI64LtU:
			r = x < y
		case wasm.OpcodeI64GtS:
			r = int64(x) > int64(y)
		case wasm.OpcodeI64GtU:
			r = x > y
		case wasm.OpcodeI64LeS:
			r = int64(x) <= int64(y)
		case wasm.OpcodeI64LeU:
			r = x <= y
		case wasm.OpcodeI64GeS:
			r = int64(x) >= int64(y)
		case wasm.OpcodeI64GeU:
			r = x >= y
		}
		ce.push(b2i(r))

	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt,
		wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		y, x := f32(ce.pop()), f32(ce.pop())
		var r bool
		switch op.kind {
		case wasm.OpcodeF32Eq:
			r = x == y
		case wasm.OpcodeF32Ne:
			r = x != y
		case wasm.OpcodeF32Lt:
			r = x < y
		case wasm.OpcodeF32Gt:
			r = x > y
		case wasm.OpcodeF32Le:
			r = x <= y
		case wasm.OpcodeF32Ge:
			r = x >= y
		}
		ce.push(b2i(r))

	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt,
		wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		y, x := f64(ce.pop()), f64(ce.pop())
		var r bool
		switch op.kind {
		case wasm.OpcodeF64Eq:
			r = x == y
		case wasm.OpcodeF64Ne:
			r = x != y
		case wasm.OpcodeF64Lt:
			r = x < y
		case wasm.OpcodeF64Gt:
			r = x > y
		case wasm.OpcodeF64Le:
			r = x <= y
		case wasm.OpcodeF64Ge:
			r = x >= y
		}
		ce.push(b2i(r))

	case wasm.OpcodeI32Clz:
		ce.push(uint64(bits.LeadingZeros32(uint32(ce.pop()))))
	case wasm.OpcodeI32Ctz:
		ce.push(uint64(bits.TrailingZeros32(uint32(ce.pop()))))
	case wasm.OpcodeI32Popcnt:
		ce.push(uint64(bits.OnesCount32(uint32(ce.pop()))))

	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32And,
		wasm.OpcodeI32Or, wasm.OpcodeI32Xor, wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS,
		wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr:
		y, x := uint32(ce.pop()), uint32(ce.pop())
		var r uint32
		switch op.kind {
		case wasm.OpcodeI32Add:
			r = x + y
		case wasm.OpcodeI32Sub:
			r = x - y
		case wasm.OpcodeI32Mul:
			r = x * y
		case wasm.OpcodeI32And:
			r = x & y
		case wasm.OpcodeI32Or:
			r = x | y
		case wasm.OpcodeI32Xor:
			r = x ^ y
		case wasm.OpcodeI32Shl:
			r = x << (y & 31)
		case wasm.OpcodeI32ShrS:
			r = uint32(int32(x) >> (y & 31))
		case wasm.OpcodeI32ShrU:
			r = x >> (y & 31)
		case wasm.OpcodeI32Rotl:
			r = bits.RotateLeft32(x, int(y&31))
		case wasm.OpcodeI32Rotr:
			r = bits.RotateLeft32(x, -int(y&31))
		}
		ce.push(uint64(r))

	case wasm.OpcodeI32DivS:
		y, x := int32(uint32(ce.pop())), int32(uint32(ce.pop()))
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		if x == math.MinInt32 && y == -1 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
		}
		ce.push(uint64(uint32(x / y)))
	case wasm.OpcodeI32DivU:
		y, x := uint32(ce.pop()), uint32(ce.pop())
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		ce.push(uint64(x / y))
	case wasm.OpcodeI32RemS:
		y, x := int32(uint32(ce.pop())), int32(uint32(ce.pop()))
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		if x == math.MinInt32 && y == -1 {
			ce.push(0) // the only signed case Go's % cannot express
		} else {
			ce.push(uint64(uint32(x % y)))
		}
	case wasm.OpcodeI32RemU:
		y, x := uint32(ce.pop()), uint32(ce.pop())
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		ce.push(uint64(x % y))

	case wasm.OpcodeI64Clz:
		ce.push(uint64(bits.LeadingZeros64(ce.pop())))
	case wasm.OpcodeI64Ctz:
		ce.push(uint64(bits.TrailingZeros64(ce.pop())))
	case wasm.OpcodeI64Popcnt:
		ce.push(uint64(bits.OnesCount64(ce.pop())))

	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64And,
		wasm.OpcodeI64Or, wasm.OpcodeI64Xor, wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS,
		wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr:
		y, x := ce.pop(), ce.pop()
		var r uint64
		switch op.kind {
		case wasm.OpcodeI64Add:
			r = x + y
		case wasm.OpcodeI64Sub:
			r = x - y
		case wasm.OpcodeI64Mul:
			r = x * y
		case wasm.OpcodeI64And:
			r = x & y
		case wasm.OpcodeI64Or:
			r = x | y
		case wasm.OpcodeI64Xor:
			r = x ^ y
		case wasm.OpcodeI64Shl:
			r = x << (y & 63)
		case wasm.OpcodeI64ShrS:
			r = uint64(int64(x) >> (y & 63))
		case wasm.OpcodeI64ShrU:
			r = x >> (y & 63)
		case wasm.OpcodeI64Rotl:
			r = bits.RotateLeft64(x, int(y&63))
		case wasm.OpcodeI64Rotr:
			r = bits.RotateLeft64(x, -int(y&63))
		}
		ce.push(r)

	case wasm.OpcodeI64DivS:
		y, x := int64(ce.pop()), int64(ce.pop())
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		if x == math.MinInt64 && y == -1 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
		}
		ce.push(uint64(x / y))
	case wasm.OpcodeI64DivU:
		y, x := ce.pop(), ce.pop()
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		ce.push(x / y)
	case wasm.OpcodeI64RemS:
		y, x := int64(ce.pop()), int64(ce.pop())
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		if x == math.MinInt64 && y == -1 {
			ce.push(0)
		} else {
			ce.push(uint64(x % y))
		}
	case wasm.OpcodeI64RemU:
		y, x := ce.pop(), ce.pop()
		if y == 0 {
			ce.trap(af, pc, wasmdebug.TrapCodeIntegerDivisionByZero)
		}
		ce.push(x % y)

	case wasm.OpcodeF32Abs:
		ce.push(pushF32(float32(math.Abs(float64(f32(ce.pop()))))))
	case wasm.OpcodeF32Neg:
		ce.push(pushF32(-f32(ce.pop())))
	case wasm.OpcodeF32Ceil:
		ce.push(pushF32(float32(math.Ceil(float64(f32(ce.pop()))))))
	case wasm.OpcodeF32Floor:
		ce.push(pushF32(float32(math.Floor(float64(f32(ce.pop()))))))
	case wasm.OpcodeF32Trunc:
		ce.push(pushF32(float32(math.Trunc(float64(f32(ce.pop()))))))
	case wasm.OpcodeF32Nearest:
		ce.push(pushF32(float32(math.RoundToEven(float64(f32(ce.pop()))))))
	case wasm.OpcodeF32Sqrt:
		ce.push(pushF32(float32(math.Sqrt(float64(f32(ce.pop()))))))

	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div:
		y, x := f32(ce.pop()), f32(ce.pop())
		var r float32
		switch op.kind {
		case wasm.OpcodeF32Add:
			r = x + y
		case wasm.OpcodeF32Sub:
			r = x - y
		case wasm.OpcodeF32Mul:
			r = x * y
		case wasm.OpcodeF32Div:
			r = x / y
		}
		ce.push(pushF32(r))
	case wasm.OpcodeF32Min:
		y, x := f32(ce.pop()), f32(ce.pop())
		ce.push(pushF32(float32(math.Min(float64(x), float64(y)))))
	case wasm.OpcodeF32Max:
		y, x := f32(ce.pop()), f32(ce.pop())
		ce.push(pushF32(float32(math.Max(float64(x), float64(y)))))
	case wasm.OpcodeF32Copysign:
		y, x := f32(ce.pop()), f32(ce.pop())
		ce.push(pushF32(float32(math.Copysign(float64(x), float64(y)))))

	case wasm.OpcodeF64Abs:
		ce.push(pushF64(math.Abs(f64(ce.pop()))))
	case wasm.OpcodeF64Neg:
		ce.push(pushF64(-f64(ce.pop())))
	case wasm.OpcodeF64Ceil:
		ce.push(pushF64(math.Ceil(f64(ce.pop()))))
	case wasm.OpcodeF64Floor:
		ce.push(pushF64(math.Floor(f64(ce.pop()))))
	case wasm.OpcodeF64Trunc:
		ce.push(pushF64(math.Trunc(f64(ce.pop()))))
	case wasm.OpcodeF64Nearest:
		ce.push(pushF64(math.RoundToEven(f64(ce.pop()))))
	case wasm.OpcodeF64Sqrt:
		ce.push(pushF64(math.Sqrt(f64(ce.pop()))))

	case wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div:
		y, x := f64(ce.pop()), f64(ce.pop())
		var r float64
		switch op.kind {
		case wasm.OpcodeF64Add:
			r = x + y
		case wasm.OpcodeF64Sub:
			r = x - y
		case wasm.OpcodeF64Mul:
			r = x * y
		case wasm.OpcodeF64Div:
			r = x / y
		}
		ce.push(pushF64(r))
	case wasm.OpcodeF64Min:
		y, x := f64(ce.pop()), f64(ce.pop())
		ce.push(pushF64(math.Min(x, y)))
	case wasm.OpcodeF64Max:
		y, x := f64(ce.pop()), f64(ce.pop())
		ce.push(pushF64(math.Max(x, y)))
	case wasm.OpcodeF64Copysign:
		y, x := f64(ce.pop()), f64(ce.pop())
		ce.push(pushF64(math.Copysign(x, y)))

	case wasm.OpcodeI32WrapI64:
		ce.push(uint64(uint32(ce.pop())))

	case wasm.OpcodeI32TruncF32S:
		ce.push(uint64(uint32(ce.truncS32(af, pc, float64(f32(ce.pop()))))))
	case wasm.OpcodeI32TruncF32U:
		ce.push(uint64(ce.truncU32(af, pc, float64(f32(ce.pop())))))
	case wasm.OpcodeI32TruncF64S:
		ce.push(uint64(uint32(ce.truncS32(af, pc, f64(ce.pop())))))
	case wasm.OpcodeI32TruncF64U:
		ce.push(uint64(ce.truncU32(af, pc, f64(ce.pop()))))
	case wasm.OpcodeI64TruncF32S:
		ce.push(uint64(ce.truncS64(af, pc, float64(f32(ce.pop())))))
	case wasm.OpcodeI64TruncF32U:
		ce.push(ce.truncU64(af, pc, float64(f32(ce.pop()))))
	case wasm.OpcodeI64TruncF64S:
		ce.push(uint64(ce.truncS64(af, pc, f64(ce.pop()))))
	case wasm.OpcodeI64TruncF64U:
		ce.push(ce.truncU64(af, pc, f64(ce.pop())))

	case wasm.OpcodeI64ExtendI32S:
		ce.push(uint64(int64(int32(uint32(ce.pop())))))
	case wasm.OpcodeI64ExtendI32U:
		ce.push(uint64(uint32(ce.pop())))

	case wasm.OpcodeF32ConvertI32S:
		ce.push(pushF32(float32(int32(uint32(ce.pop())))))
	case wasm.OpcodeF32ConvertI32U:
		ce.push(pushF32(float32(uint32(ce.pop()))))
	case wasm.OpcodeF32ConvertI64S:
		ce.push(pushF32(float32(int64(ce.pop()))))
	case wasm.OpcodeF32ConvertI64U:
		ce.push(pushF32(float32(ce.pop())))
	case wasm.OpcodeF32DemoteF64:
		ce.push(pushF32(float32(f64(ce.pop()))))

	case wasm.OpcodeF64ConvertI32S:
		ce.push(pushF64(float64(int32(uint32(ce.pop())))))
	case wasm.OpcodeF64ConvertI32U:
		ce.push(pushF64(float64(uint32(ce.pop()))))
	case wasm.OpcodeF64ConvertI64S:
		ce.push(pushF64(float64(int64(ce.pop()))))
	case wasm.OpcodeF64ConvertI64U:
		ce.push(pushF64(float64(ce.pop())))
	case wasm.OpcodeF64PromoteF32:
		ce.push(pushF64(float64(f32(ce.pop()))))

	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// Bit patterns are the stack representation already.

	case wasm.OpcodeI32Extend8S:
		ce.push(uint64(uint32(int32(int8(uint8(ce.pop()))))))
	case wasm.OpcodeI32Extend16S:
		ce.push(uint64(uint32(int32(int16(uint16(ce.pop()))))))
	case wasm.OpcodeI64Extend8S:
		ce.push(uint64(int64(int8(uint8(ce.pop())))))
	case wasm.OpcodeI64Extend16S:
		ce.push(uint64(int64(int16(uint16(ce.pop())))))
	case wasm.OpcodeI64Extend32S:
		ce.push(uint64(int64(int32(uint32(ce.pop())))))

	case kindI32TruncSatF32S:
		ce.push(uint64(uint32(truncSatS32(float64(f32(ce.pop()))))))
	case kindI32TruncSatF32U:
		ce.push(uint64(truncSatU32(float64(f32(ce.pop())))))
	case kindI32TruncSatF64S:
		ce.push(uint64(uint32(truncSatS32(f64(ce.pop())))))
	case kindI32TruncSatF64U:
		ce.push(uint64(truncSatU32(f64(ce.pop()))))
	case kindI64TruncSatF32S:
		ce.push(uint64(truncSatS64(float64(f32(ce.pop())))))
	case kindI64TruncSatF32U:
		ce.push(truncSatU64(float64(f32(ce.pop()))))
	case kindI64TruncSatF64S:
		ce.push(uint64(truncSatS64(f64(ce.pop()))))
	case kindI64TruncSatF64U:
		ce.push(truncSatU64(f64(ce.pop())))

	default:
		panic(fmt.Errorf("BUG: unimplemented op %#x", op.kind))
	}
}

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(v uint64) float32     { return math.Float32frombits(uint32(v)) }
func f64(v uint64) float64     { return math.Float64frombits(v) }
func pushF32(v float32) uint64 { return uint64(math.Float32bits(v)) }
func pushF64(v float64) uint64 { return math.Float64bits(v) }

// Trapping float-to-int truncations. NaN raises the conversion trap,
// out-of-range values the overflow trap, per the core semantics.

func (ce *callEngine) truncS32(af *activeFrame, pc int, v float64) int32 {
	if math.IsNaN(v) {
		ce.trap(af, pc, wasmdebug.TrapCodeBadConversionToInteger)
	}
	t := math.Trunc(v)
	if t < math.MinInt32 || t > math.MaxInt32 {
		ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
	}
	return int32(t)
}

func (ce *callEngine) truncU32(af *activeFrame, pc int, v float64) uint32 {
	if math.IsNaN(v) {
		ce.trap(af, pc, wasmdebug.TrapCodeBadConversionToInteger)
	}
	t := math.Trunc(v)
	if t < 0 || t > math.MaxUint32 {
		ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
	}
	return uint32(t)
}

func (ce *callEngine) truncS64(af *activeFrame, pc int, v float64) int64 {
	if math.IsNaN(v) {
		ce.trap(af, pc, wasmdebug.TrapCodeBadConversionToInteger)
	}
	t := math.Trunc(v)
	// MaxInt64 is not exactly representable; the first out-of-range value
	// above is 2^63 itself.
	if t < math.MinInt64 || t >= math.MaxInt64 {
		ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
	}
	return int64(t)
}

func (ce *callEngine) truncU64(af *activeFrame, pc int, v float64) uint64 {
	if math.IsNaN(v) {
		ce.trap(af, pc, wasmdebug.TrapCodeBadConversionToInteger)
	}
	t := math.Trunc(v)
	if t < 0 || t >= math.MaxUint64 {
		ce.trap(af, pc, wasmdebug.TrapCodeIntegerOverflow)
	}
	return uint64(t)
}

// Saturating truncations clamp instead of trapping; NaN becomes zero.

func truncSatS32(v float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	if t < math.MinInt32 {
		return math.MinInt32
	}
	if t > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(t)
}

func truncSatU32(v float64) uint32 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	t := math.Trunc(v)
	if t > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatS64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	if t < math.MinInt64 {
		return math.MinInt64
	}
	if t >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}

func truncSatU64(v float64) uint64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	t := math.Trunc(v)
	if t >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(t)
}
