package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/leb128"
)

// valueTypeUnknown marks a polymorphic operand produced after unreachable
// code. It satisfies any expected type.
const valueTypeUnknown = ValueType(0)

// controlFrame tracks one structured control instruction while its body is
// being typed.
type controlFrame struct {
	// opcode is OpcodeBlock, OpcodeLoop or OpcodeIf. The function body itself
	// is typed as a block.
	opcode Opcode
	// startTypes are the operand types a branch to a loop re-supplies.
	startTypes []ValueType
	// endTypes are the operand types the frame leaves on the stack, also the
	// branch target types for block and if.
	endTypes []ValueType
	// height is the operand stack height on entry.
	height int
	// unreachable is true after br, return or unreachable until the frame
	// ends.
	unreachable bool
	// elseObserved is true once OpcodeElse was seen for an if frame.
	elseObserved bool
}

// branchTargetTypes are the operand types a branch to this frame must
// supply: the start types for a loop, the end types otherwise.
func (f *controlFrame) branchTargetTypes() []ValueType {
	if f.opcode == OpcodeLoop {
		return f.startTypes
	}
	return f.endTypes
}

type funcValidator struct {
	m        *Module
	features api.CoreFeatures

	localTypes []ValueType
	functions  []Index
	globals    []*GlobalType
	memory     *Memory
	table      *Table

	stack  []ValueType
	frames []*controlFrame
}

// validateFunction typechecks a single function body against its declared
// signature using the standard operand/control stack algorithm.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#validation%E2%91%A0
func (m *Module) validateFunction(enabledFeatures api.CoreFeatures, ft *FunctionType, code *Code,
	functions []Index, globals []*GlobalType, memory *Memory, table *Table,
) error {
	v := &funcValidator{
		m:          m,
		features:   enabledFeatures,
		localTypes: append(append([]ValueType{}, ft.Params...), code.LocalTypes...),
		functions:  functions,
		globals:    globals,
		memory:     memory,
		table:      table,
	}
	v.pushFrame(OpcodeBlock, nil, ft.Results)
	return v.run(code.Body)
}

func (v *funcValidator) pushFrame(op Opcode, start, end []ValueType) {
	v.frames = append(v.frames, &controlFrame{
		opcode:     op,
		startTypes: start,
		endTypes:   end,
		height:     len(v.stack),
	})
	v.stack = append(v.stack, start...)
}

func (v *funcValidator) frame(labelIdx uint32) (*controlFrame, error) {
	if labelIdx >= uint32(len(v.frames)) {
		return nil, fmt.Errorf("invalid label index %d", labelIdx)
	}
	return v.frames[len(v.frames)-1-int(labelIdx)], nil
}

func (v *funcValidator) pushVal(t ValueType) {
	v.stack = append(v.stack, t)
}

func (v *funcValidator) popVal() (ValueType, error) {
	f := v.frames[len(v.frames)-1]
	if len(v.stack) == f.height {
		if f.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return t, nil
}

func (v *funcValidator) popExpected(expected ValueType) (ValueType, error) {
	actual, err := v.popVal()
	if err != nil {
		return 0, err
	}
	if actual != expected && actual != valueTypeUnknown && expected != valueTypeUnknown {
		return 0, fmt.Errorf("type mismatch: expected %s, but was %s",
			api.ValueTypeName(expected), api.ValueTypeName(actual))
	}
	return actual, nil
}

func (v *funcValidator) popExpecteds(expected []ValueType) error {
	for i := len(expected) - 1; i >= 0; i-- {
		if _, err := v.popExpected(expected[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *funcValidator) pushVals(types []ValueType) {
	v.stack = append(v.stack, types...)
}

// markUnreachable truncates the operand stack to the current frame height,
// making subsequent pops polymorphic.
func (v *funcValidator) markUnreachable() {
	f := v.frames[len(v.frames)-1]
	v.stack = v.stack[:f.height]
	f.unreachable = true
}

// popFrame ends the current frame, verifying its end types are on the stack.
func (v *funcValidator) popFrame() (*controlFrame, error) {
	f := v.frames[len(v.frames)-1]
	if err := v.popExpecteds(f.endTypes); err != nil {
		return nil, err
	}
	if len(v.stack) != f.height {
		return nil, fmt.Errorf("type mismatch: %d values remaining on stack at end of block", len(v.stack)-f.height)
	}
	v.frames = v.frames[:len(v.frames)-1]
	return f, nil
}

// readBlockType decodes a block type immediate. Without CoreFeatureMultiValue
// only the empty type and single value types are accepted.
func (v *funcValidator) readBlockType(r *bytes.Reader) (start, end []ValueType, err error) {
	raw, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read block type: %w", err)
	}
	switch raw {
	case -64: // 0x40 in original byte = nil
		return nil, nil, nil
	case -1: // 0x7f in original byte = i32
		return nil, []ValueType{ValueTypeI32}, nil
	case -2: // 0x7e in original byte = i64
		return nil, []ValueType{ValueTypeI64}, nil
	case -3: // 0x7d in original byte = f32
		return nil, []ValueType{ValueTypeF32}, nil
	case -4: // 0x7c in original byte = f64
		return nil, []ValueType{ValueTypeF64}, nil
	}
	if raw < 0 {
		return nil, nil, fmt.Errorf("invalid block type: %d", raw)
	}
	if err = v.features.RequireEnabled(api.CoreFeatureMultiValue); err != nil {
		return nil, nil, fmt.Errorf("block with function type: %w", err)
	}
	if raw >= int64(len(v.m.TypeSection)) {
		return nil, nil, fmt.Errorf("block type index out of range: %d", raw)
	}
	ft := v.m.TypeSection[raw]
	return ft.Params, ft.Results, nil
}

func (v *funcValidator) run(body []byte) error {
	if len(body) == 0 || body[len(body)-1] != OpcodeEnd {
		return fmt.Errorf("function body must end with %s", InstructionName(OpcodeEnd))
	}
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		if len(v.frames) == 0 {
			return fmt.Errorf("instruction %s after function end", InstructionName(op))
		}
		if err = v.step(r, op); err != nil {
			return fmt.Errorf("%s: %w", InstructionName(op), err)
		}
	}
	if len(v.frames) != 0 {
		return fmt.Errorf("unterminated control frame")
	}
	return nil
}

func (v *funcValidator) step(r *bytes.Reader, op Opcode) error {
	switch op {
	case OpcodeUnreachable:
		v.markUnreachable()
	case OpcodeNop:
	case OpcodeBlock, OpcodeLoop:
		start, end, err := v.readBlockType(r)
		if err != nil {
			return err
		}
		if err = v.popExpecteds(start); err != nil {
			return err
		}
		v.pushFrame(op, start, end)
	case OpcodeIf:
		start, end, err := v.readBlockType(r)
		if err != nil {
			return err
		}
		if _, err = v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		if err = v.popExpecteds(start); err != nil {
			return err
		}
		v.pushFrame(op, start, end)
	case OpcodeElse:
		f := v.frames[len(v.frames)-1]
		if f.opcode != OpcodeIf || f.elseObserved {
			return fmt.Errorf("else must follow if")
		}
		if _, err := v.popFrame(); err != nil {
			return err
		}
		v.pushFrame(OpcodeIf, f.startTypes, f.endTypes)
		v.frames[len(v.frames)-1].elseObserved = true
	case OpcodeEnd:
		f, err := v.popFrame()
		if err != nil {
			return err
		}
		// An if without else must be type-neutral, as the implicit else arm
		// passes the start types through.
		if f.opcode == OpcodeIf && !f.elseObserved && !typesEqual(f.startTypes, f.endTypes) {
			return fmt.Errorf("if without else must have matching params and results")
		}
		v.pushVals(f.endTypes)
	case OpcodeBr:
		labelIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read label index: %w", err)
		}
		f, err := v.frame(labelIdx)
		if err != nil {
			return err
		}
		if err = v.popExpecteds(f.branchTargetTypes()); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeBrIf:
		labelIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read label index: %w", err)
		}
		f, err := v.frame(labelIdx)
		if err != nil {
			return err
		}
		if _, err = v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		target := f.branchTargetTypes()
		if err = v.popExpecteds(target); err != nil {
			return err
		}
		v.pushVals(target)
	case OpcodeBrTable:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read target count: %w", err)
		}
		targets := make([]uint32, count+1)
		for i := range targets {
			targets[i], _, err = leb128.DecodeUint32(r)
			if err != nil {
				return fmt.Errorf("read target: %w", err)
			}
		}
		defaultFrame, err := v.frame(targets[count])
		if err != nil {
			return err
		}
		defaultTypes := defaultFrame.branchTargetTypes()
		for _, t := range targets[:count] {
			f, err := v.frame(t)
			if err != nil {
				return err
			}
			if !typesEqual(f.branchTargetTypes(), defaultTypes) {
				return fmt.Errorf("br_table target arity mismatch")
			}
		}
		if _, err = v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		if err = v.popExpecteds(defaultTypes); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeReturn:
		if err := v.popExpecteds(v.frames[0].endTypes); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeCall:
		funcIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read function index: %w", err)
		}
		if funcIdx >= uint32(len(v.functions)) {
			return fmt.Errorf("function index out of range: %d", funcIdx)
		}
		ft := v.m.TypeSection[v.functions[funcIdx]]
		if err = v.popExpecteds(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)
	case OpcodeCallIndirect:
		typeIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read type index: %w", err)
		}
		tableIdx, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read table index: %w", err)
		}
		if tableIdx != 0 {
			return fmt.Errorf("table index must be zero, but was %d", tableIdx)
		}
		if v.table == nil {
			return fmt.Errorf("table not declared")
		}
		if typeIdx >= uint32(len(v.m.TypeSection)) {
			return fmt.Errorf("type index out of range: %d", typeIdx)
		}
		if _, err = v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		ft := v.m.TypeSection[typeIdx]
		if err = v.popExpecteds(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)
	case OpcodeDrop:
		_, err := v.popVal()
		return err
	case OpcodeSelect:
		if _, err := v.popExpected(ValueTypeI32); err != nil {
			return err
		}
		t1, err := v.popVal()
		if err != nil {
			return err
		}
		t2, err := v.popExpected(t1)
		if err != nil {
			return err
		}
		if t1 == valueTypeUnknown {
			t1 = t2
		}
		v.pushVal(t1)
	case OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read local index: %w", err)
		}
		if idx >= uint32(len(v.localTypes)) {
			return fmt.Errorf("local index out of range: %d", idx)
		}
		t := v.localTypes[idx]
		switch op {
		case OpcodeLocalGet:
			v.pushVal(t)
		case OpcodeLocalSet:
			if _, err = v.popExpected(t); err != nil {
				return err
			}
		case OpcodeLocalTee:
			if _, err = v.popExpected(t); err != nil {
				return err
			}
			v.pushVal(t)
		}
	case OpcodeGlobalGet, OpcodeGlobalSet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read global index: %w", err)
		}
		if idx >= uint32(len(v.globals)) {
			return fmt.Errorf("global index out of range: %d", idx)
		}
		g := v.globals[idx]
		if op == OpcodeGlobalGet {
			v.pushVal(g.ValType)
		} else {
			if !g.Mutable {
				return fmt.Errorf("global[%d] is immutable", idx)
			}
			if _, err = v.popExpected(g.ValType); err != nil {
				return err
			}
		}
	case OpcodeMemorySize, OpcodeMemoryGrow:
		if v.memory == nil {
			return fmt.Errorf("memory not declared")
		}
		reserved, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read reserved byte: %w", err)
		}
		if reserved != 0 {
			return fmt.Errorf("reserved byte must be zero, but was %d", reserved)
		}
		if op == OpcodeMemoryGrow {
			if _, err = v.popExpected(ValueTypeI32); err != nil {
				return err
			}
		}
		v.pushVal(ValueTypeI32)
	case OpcodeI32Const:
		if _, _, err := leb128.DecodeInt32(r); err != nil {
			return fmt.Errorf("read i32 immediate: %w", err)
		}
		v.pushVal(ValueTypeI32)
	case OpcodeI64Const:
		if _, _, err := leb128.DecodeInt64(r); err != nil {
			return fmt.Errorf("read i64 immediate: %w", err)
		}
		v.pushVal(ValueTypeI64)
	case OpcodeF32Const:
		if _, err := readBytes(r, 4); err != nil {
			return fmt.Errorf("read f32 immediate: %w", err)
		}
		v.pushVal(ValueTypeF32)
	case OpcodeF64Const:
		if _, err := readBytes(r, 8); err != nil {
			return fmt.Errorf("read f64 immediate: %w", err)
		}
		v.pushVal(ValueTypeF64)
	case OpcodeMiscPrefix:
		return v.stepMisc(r)
	default:
		return v.stepNumericOrMemory(r, op)
	}
	return nil
}

// stepMisc validates a 0xFC-prefixed instruction, all of which are the
// non-trapping float-to-int conversions in this profile.
func (v *funcValidator) stepMisc(r *bytes.Reader) error {
	sub, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read misc opcode: %w", err)
	}
	if sub > uint32(OpcodeMiscI64TruncSatF64U) {
		return fmt.Errorf("unknown misc instruction: %#x", sub)
	}
	if err = v.features.RequireEnabled(api.CoreFeatureNonTrappingFloatToIntConversion); err != nil {
		return fmt.Errorf("%s: %w", MiscInstructionName(OpcodeMisc(sub)), err)
	}
	// Sub-opcodes group as signed/unsigned pairs per source type, with i32
	// results for the first four and i64 results after.
	var from, to ValueType
	if sub%4 < 2 {
		from = ValueTypeF32
	} else {
		from = ValueTypeF64
	}
	if sub < 4 {
		to = ValueTypeI32
	} else {
		to = ValueTypeI64
	}
	if _, err = v.popExpected(from); err != nil {
		return err
	}
	v.pushVal(to)
	return nil
}

// memArg reads the alignment and offset immediates of a load or store and
// verifies alignment does not exceed the access width.
func (v *funcValidator) memArg(r *bytes.Reader, accessWidthLog2 uint32) error {
	if v.memory == nil {
		return fmt.Errorf("memory not declared")
	}
	align, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read alignment: %w", err)
	}
	if align > accessWidthLog2 {
		return fmt.Errorf("invalid memory alignment: %d", align)
	}
	if _, _, err = leb128.DecodeUint32(r); err != nil {
		return fmt.Errorf("read offset: %w", err)
	}
	return nil
}

func (v *funcValidator) load(r *bytes.Reader, widthLog2 uint32, result ValueType) error {
	if err := v.memArg(r, widthLog2); err != nil {
		return err
	}
	if _, err := v.popExpected(ValueTypeI32); err != nil {
		return err
	}
	v.pushVal(result)
	return nil
}

func (v *funcValidator) store(r *bytes.Reader, widthLog2 uint32, operand ValueType) error {
	if err := v.memArg(r, widthLog2); err != nil {
		return err
	}
	if _, err := v.popExpected(operand); err != nil {
		return err
	}
	_, err := v.popExpected(ValueTypeI32)
	return err
}

// unop pops one operand of type t and pushes a result of type res.
func (v *funcValidator) unop(t, res ValueType) error {
	if _, err := v.popExpected(t); err != nil {
		return err
	}
	v.pushVal(res)
	return nil
}

// binop pops two operands of type t and pushes a result of type res.
func (v *funcValidator) binop(t, res ValueType) error {
	if _, err := v.popExpected(t); err != nil {
		return err
	}
	return v.unop(t, res)
}

func (v *funcValidator) stepNumericOrMemory(r *bytes.Reader, op Opcode) error {
	const i32, i64, f32, f64 = ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64
	switch op {
	// Loads.
	case OpcodeI32Load:
		return v.load(r, 2, i32)
	case OpcodeI64Load:
		return v.load(r, 3, i64)
	case OpcodeF32Load:
		return v.load(r, 2, f32)
	case OpcodeF64Load:
		return v.load(r, 3, f64)
	case OpcodeI32Load8S, OpcodeI32Load8U:
		return v.load(r, 0, i32)
	case OpcodeI32Load16S, OpcodeI32Load16U:
		return v.load(r, 1, i32)
	case OpcodeI64Load8S, OpcodeI64Load8U:
		return v.load(r, 0, i64)
	case OpcodeI64Load16S, OpcodeI64Load16U:
		return v.load(r, 1, i64)
	case OpcodeI64Load32S, OpcodeI64Load32U:
		return v.load(r, 2, i64)
	// Stores.
	case OpcodeI32Store:
		return v.store(r, 2, i32)
	case OpcodeI64Store:
		return v.store(r, 3, i64)
	case OpcodeF32Store:
		return v.store(r, 2, f32)
	case OpcodeF64Store:
		return v.store(r, 3, f64)
	case OpcodeI32Store8:
		return v.store(r, 0, i32)
	case OpcodeI32Store16:
		return v.store(r, 1, i32)
	case OpcodeI64Store8:
		return v.store(r, 0, i64)
	case OpcodeI64Store16:
		return v.store(r, 1, i64)
	case OpcodeI64Store32:
		return v.store(r, 2, i64)
	// Tests and comparisons.
	case OpcodeI32Eqz:
		return v.unop(i32, i32)
	case OpcodeI64Eqz:
		return v.unop(i64, i32)
	case OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU, OpcodeI32GtS, OpcodeI32GtU,
		OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU:
		return v.binop(i32, i32)
	case OpcodeI64Eq, OpcodeI64Ne, OpcodeI64LtS, OpcodeI64LtU, OpcodeI64GtS, OpcodeI64GtU,
		OpcodeI64LeS, OpcodeI64LeU, OpcodeI64GeS, OpcodeI64GeU:
		return v.binop(i64, i32)
	case OpcodeF32Eq, OpcodeF32Ne, OpcodeF32Lt, OpcodeF32Gt, OpcodeF32Le, OpcodeF32Ge:
		return v.binop(f32, i32)
	case OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge:
		return v.binop(f64, i32)
	// Integer arithmetic.
	case OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt:
		return v.unop(i32, i32)
	case OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul, OpcodeI32DivS, OpcodeI32DivU,
		OpcodeI32RemS, OpcodeI32RemU, OpcodeI32And, OpcodeI32Or, OpcodeI32Xor,
		OpcodeI32Shl, OpcodeI32ShrS, OpcodeI32ShrU, OpcodeI32Rotl, OpcodeI32Rotr:
		return v.binop(i32, i32)
	case OpcodeI64Clz, OpcodeI64Ctz, OpcodeI64Popcnt:
		return v.unop(i64, i64)
	case OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul, OpcodeI64DivS, OpcodeI64DivU,
		OpcodeI64RemS, OpcodeI64RemU, OpcodeI64And, OpcodeI64Or, OpcodeI64Xor,
		OpcodeI64Shl, OpcodeI64ShrS, OpcodeI64ShrU, OpcodeI64Rotl, OpcodeI64Rotr:
		return v.binop(i64, i64)
	// Float arithmetic.
	case OpcodeF32Abs, OpcodeF32Neg, OpcodeF32Ceil, OpcodeF32Floor, OpcodeF32Trunc,
		OpcodeF32Nearest, OpcodeF32Sqrt:
		return v.unop(f32, f32)
	case OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul, OpcodeF32Div, OpcodeF32Min,
		OpcodeF32Max, OpcodeF32Copysign:
		return v.binop(f32, f32)
	case OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor, OpcodeF64Trunc,
		OpcodeF64Nearest, OpcodeF64Sqrt:
		return v.unop(f64, f64)
	case OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div, OpcodeF64Min,
		OpcodeF64Max, OpcodeF64Copysign:
		return v.binop(f64, f64)
	// Conversions.
	case OpcodeI32WrapI64:
		return v.unop(i64, i32)
	case OpcodeI32TruncF32S, OpcodeI32TruncF32U:
		return v.unop(f32, i32)
	case OpcodeI32TruncF64S, OpcodeI32TruncF64U:
		return v.unop(f64, i32)
	case OpcodeI64ExtendI32S, OpcodeI64ExtendI32U:
		return v.unop(i32, i64)
	case OpcodeI64TruncF32S, OpcodeI64TruncF32U:
		return v.unop(f32, i64)
	case OpcodeI64TruncF64S, OpcodeI64TruncF64U:
		return v.unop(f64, i64)
	case OpcodeF32ConvertI32S, OpcodeF32ConvertI32U:
		return v.unop(i32, f32)
	case OpcodeF32ConvertI64S, OpcodeF32ConvertI64U:
		return v.unop(i64, f32)
	case OpcodeF32DemoteF64:
		return v.unop(f64, f32)
	case OpcodeF64ConvertI32S, OpcodeF64ConvertI32U:
		return v.unop(i32, f64)
	case OpcodeF64ConvertI64S, OpcodeF64ConvertI64U:
		return v.unop(i64, f64)
	case OpcodeF64PromoteF32:
		return v.unop(f32, f64)
	case OpcodeI32ReinterpretF32:
		return v.unop(f32, i32)
	case OpcodeI64ReinterpretF64:
		return v.unop(f64, i64)
	case OpcodeF32ReinterpretI32:
		return v.unop(i32, f32)
	case OpcodeF64ReinterpretI64:
		return v.unop(i64, f64)
	// Sign extensions.
	case OpcodeI32Extend8S, OpcodeI32Extend16S:
		if err := v.features.RequireEnabled(api.CoreFeatureSignExtensionOps); err != nil {
			return err
		}
		return v.unop(i32, i32)
	case OpcodeI64Extend8S, OpcodeI64Extend16S, OpcodeI64Extend32S:
		if err := v.features.RequireEnabled(api.CoreFeatureSignExtensionOps); err != nil {
			return err
		}
		return v.unop(i64, i64)
	}
	return fmt.Errorf("unknown instruction: %#x", op)
}

func typesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func readBytes(r *bytes.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
