package interp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

// CompileError attributes a lowering failure to one function. Under
// best-effort compilation the error is deferred until the function is
// called; under strict compilation it fails CompileModule.
type CompileError struct {
	// FuncIndex is the function's position in the module index namespace.
	FuncIndex wasm.Index
	// Name is the function's debug name, possibly empty.
	Name string
	// Err is the underlying lowering error.
	Err error
}

// Error implements error.
func (e *CompileError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("compile function[%d] %s: %v", e.FuncIndex, e.Name, e.Err)
	}
	return fmt.Sprintf("compile function[%d]: %v", e.FuncIndex, e.Err)
}

// Unwrap returns the underlying lowering error.
func (e *CompileError) Unwrap() error { return e.Err }

// bodyReader walks a function body, tracking the program counter so lowered
// ops can carry their source offsets.
type bodyReader struct {
	body []byte
	pc   int
}

// ReadByte implements io.ByteReader.
func (r *bodyReader) ReadByte() (byte, error) {
	if r.pc >= len(r.body) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.body[r.pc]
	r.pc++
	return b, nil
}

func (r *bodyReader) readU32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	return v, err
}

func (r *bodyReader) readFixed(n int) ([]byte, error) {
	if len(r.body)-r.pc < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.body[r.pc : r.pc+n]
	r.pc += n
	return b, nil
}

// controlBlock is one entry of the lowering-time control stack.
type controlBlock struct {
	// op is OpcodeBlock, OpcodeLoop or OpcodeIf; the function body frame
	// uses OpcodeBlock.
	op  wasm.Opcode
	typ *wasm.FunctionType
	// height is the operand stack height beneath the block's parameters.
	height int
	// loopStart is the target instruction index for branches to a loop.
	loopStart int
	// patches lists op indices whose u1 must be set to the end target.
	patches []int
	// elsePatch is the kindBrIfZero op awaiting the else or end target, or
	// -1 when consumed or absent.
	elsePatch int
	// unreachable is set after an unconditional transfer until else or end.
	unreachable bool
	// dead marks a frame entered while its parent was unreachable. Its
	// entire extent is skipped.
	dead bool
}

type funcCompiler struct {
	m      *wasm.Module
	typ    *wasm.FunctionType
	r      *bodyReader
	base   uint64 // body offset in the original binary
	ops    []interpOp
	height int
	blocks []*controlBlock
}

// compileFunction lowers the local function at codeIdx to branch-resolved
// ops. The module must already be validated; lowering re-derives stack
// heights but relies on validation for type soundness.
func compileFunction(m *wasm.Module, codeIdx int) (*compiledFunction, error) {
	code := m.CodeSection[codeIdx]
	typeIdx := m.FunctionSection[codeIdx]
	funcIdx := m.ImportFuncCount() + wasm.Index(codeIdx)

	c := &funcCompiler{
		m:    m,
		typ:  m.TypeSection[typeIdx],
		r:    &bodyReader{body: code.Body},
		base: code.BodyOffsetInBinary,
	}
	c.blocks = append(c.blocks, &controlBlock{
		op: wasm.OpcodeBlock, typ: c.typ, elsePatch: -1,
	})

	if err := c.run(); err != nil {
		return nil, &CompileError{FuncIndex: funcIdx, Name: m.FunctionName(funcIdx), Err: err}
	}
	return &compiledFunction{
		index:              funcIdx,
		typeIndex:          typeIdx,
		localTypes:         code.LocalTypes,
		ops:                c.ops,
		bodyOffsetInBinary: code.BodyOffsetInBinary,
	}, nil
}

func (c *funcCompiler) current() *controlBlock {
	return c.blocks[len(c.blocks)-1]
}

// skipping reports whether the instruction stream is currently dead code.
func (c *funcCompiler) skipping() bool {
	cb := c.current()
	return cb.unreachable || cb.dead
}

func (c *funcCompiler) emit(op interpOp, srcOffset int) {
	op.offset = c.base + uint64(srcOffset)
	c.ops = append(c.ops, op)
}

// blockType resolves a raw s33 block type immediate.
func (c *funcCompiler) blockType(raw int64) (*wasm.FunctionType, error) {
	switch raw {
	case -64:
		return &wasm.FunctionType{}, nil
	case -1:
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}, nil
	case -2:
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI64}}, nil
	case -3:
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeF32}}, nil
	case -4:
		return &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeF64}}, nil
	}
	if raw < 0 || raw >= int64(len(c.m.TypeSection)) {
		return nil, fmt.Errorf("type index out of range: %d", raw)
	}
	return c.m.TypeSection[raw], nil
}

// resolveBranch emits a branch op of the given kind to the label depth.
// Branches to a loop jump backward immediately; branches to a block or if
// are patched when the frame ends.
func (c *funcCompiler) resolveBranch(kind wasm.Opcode, label uint32, srcOffset int) error {
	if int(label) >= len(c.blocks) {
		return fmt.Errorf("label index out of range: %d", label)
	}
	tf := c.blocks[len(c.blocks)-1-int(label)]
	if tf.op == wasm.OpcodeLoop {
		arity := len(tf.typ.Params)
		c.emit(interpOp{kind: kind, u1: uint64(tf.loopStart), u2: branchTarget(tf.height, arity)}, srcOffset)
		return nil
	}
	arity := len(tf.typ.Results)
	c.emit(interpOp{kind: kind, u2: branchTarget(tf.height, arity)}, srcOffset)
	tf.patches = append(tf.patches, len(c.ops)-1)
	return nil
}

func (c *funcCompiler) run() error {
	r := c.r
	for len(c.blocks) > 0 {
		srcOffset := r.pc
		opcode, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read opcode: %w", err)
		}
		if err := c.step(opcode, srcOffset); err != nil {
			return fmt.Errorf("offset %#x: %w", c.base+uint64(srcOffset), err)
		}
	}
	if r.pc != len(r.body) {
		return fmt.Errorf("%d bytes after function end", len(r.body)-r.pc)
	}
	return nil
}

func (c *funcCompiler) step(opcode wasm.Opcode, srcOffset int) error {
	r := c.r
	switch opcode {
	case wasm.OpcodeUnreachable:
		if !c.skipping() {
			c.emit(interpOp{kind: wasm.OpcodeUnreachable}, srcOffset)
			c.current().unreachable = true
		}

	case wasm.OpcodeNop:

	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		raw, _, err := leb128.DecodeInt33AsInt64(r)
		if err != nil {
			return fmt.Errorf("read block type: %w", err)
		}
		if c.skipping() {
			c.blocks = append(c.blocks, &controlBlock{op: opcode, dead: true, elsePatch: -1})
			return nil
		}
		bt, err := c.blockType(raw)
		if err != nil {
			return err
		}
		c.blocks = append(c.blocks, &controlBlock{
			op: opcode, typ: bt,
			height:    c.height - len(bt.Params),
			loopStart: len(c.ops),
			elsePatch: -1,
		})

	case wasm.OpcodeIf:
		raw, _, err := leb128.DecodeInt33AsInt64(r)
		if err != nil {
			return fmt.Errorf("read block type: %w", err)
		}
		if c.skipping() {
			c.blocks = append(c.blocks, &controlBlock{op: opcode, dead: true, elsePatch: -1})
			return nil
		}
		bt, err := c.blockType(raw)
		if err != nil {
			return err
		}
		c.height-- // condition
		c.emit(interpOp{kind: kindBrIfZero}, srcOffset)
		c.blocks = append(c.blocks, &controlBlock{
			op: opcode, typ: bt,
			height:    c.height - len(bt.Params),
			elsePatch: len(c.ops) - 1,
		})

	case wasm.OpcodeElse:
		cb := c.current()
		if cb.dead {
			return nil
		}
		if cb.op != wasm.OpcodeIf {
			return fmt.Errorf("else outside if")
		}
		if !cb.unreachable {
			// Jump over the alternative when the consequent completes.
			c.emit(interpOp{kind: kindGoto}, srcOffset)
			cb.patches = append(cb.patches, len(c.ops)-1)
		}
		c.ops[cb.elsePatch].u1 = uint64(len(c.ops))
		cb.elsePatch = -1
		cb.unreachable = false
		c.height = cb.height + len(cb.typ.Params)

	case wasm.OpcodeEnd:
		cb := c.current()
		c.blocks = c.blocks[:len(c.blocks)-1]
		if cb.dead {
			return nil
		}
		end := uint64(len(c.ops))
		for _, ip := range cb.patches {
			c.ops[ip].u1 = end
		}
		if cb.elsePatch >= 0 {
			// if without else: the false branch falls through to end.
			c.ops[cb.elsePatch].u1 = end
		}
		c.height = cb.height + len(cb.typ.Results)

	case wasm.OpcodeBr:
		label, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read label: %w", err)
		}
		if c.skipping() {
			return nil
		}
		if err := c.resolveBranch(wasm.OpcodeBr, label, srcOffset); err != nil {
			return err
		}
		c.current().unreachable = true

	case wasm.OpcodeBrIf:
		label, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read label: %w", err)
		}
		if c.skipping() {
			return nil
		}
		c.height-- // condition
		if err := c.resolveBranch(wasm.OpcodeBrIf, label, srcOffset); err != nil {
			return err
		}

	case wasm.OpcodeBrTable:
		count, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read br_table target count: %w", err)
		}
		labels := make([]uint32, count+1)
		for i := range labels {
			if labels[i], err = r.readU32(); err != nil {
				return fmt.Errorf("read br_table target: %w", err)
			}
		}
		if c.skipping() {
			return nil
		}
		c.height-- // selector
		c.emit(interpOp{kind: wasm.OpcodeBrTable, u1: uint64(count)}, srcOffset)
		// Each target is a full branch op immediately after the dispatch.
		for _, label := range labels {
			if err := c.resolveBranch(wasm.OpcodeBr, label, srcOffset); err != nil {
				return err
			}
		}
		c.current().unreachable = true

	case wasm.OpcodeReturn:
		if !c.skipping() {
			c.emit(interpOp{kind: wasm.OpcodeReturn}, srcOffset)
			c.current().unreachable = true
		}

	case wasm.OpcodeCall:
		idx, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read function index: %w", err)
		}
		if c.skipping() {
			return nil
		}
		ft := c.m.TypeOfFunction(idx)
		if ft == nil {
			return fmt.Errorf("function index out of range: %d", idx)
		}
		c.height += len(ft.Results) - len(ft.Params)
		c.emit(interpOp{kind: wasm.OpcodeCall, u1: uint64(idx)}, srcOffset)

	case wasm.OpcodeCallIndirect:
		typeIdx, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read type index: %w", err)
		}
		if _, err = r.ReadByte(); err != nil { // table index
			return fmt.Errorf("read table index: %w", err)
		}
		if c.skipping() {
			return nil
		}
		if typeIdx >= uint32(len(c.m.TypeSection)) {
			return fmt.Errorf("type index out of range: %d", typeIdx)
		}
		ft := c.m.TypeSection[typeIdx]
		c.height-- // element index
		c.height += len(ft.Results) - len(ft.Params)
		c.emit(interpOp{kind: wasm.OpcodeCallIndirect, u1: uint64(typeIdx)}, srcOffset)

	case wasm.OpcodeDrop:
		if !c.skipping() {
			c.height--
			c.emit(interpOp{kind: wasm.OpcodeDrop}, srcOffset)
		}

	case wasm.OpcodeSelect:
		if !c.skipping() {
			c.height -= 2
			c.emit(interpOp{kind: wasm.OpcodeSelect}, srcOffset)
		}

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		if c.skipping() {
			return nil
		}
		switch opcode {
		case wasm.OpcodeLocalGet, wasm.OpcodeGlobalGet:
			c.height++
		case wasm.OpcodeLocalSet, wasm.OpcodeGlobalSet:
			c.height--
		}
		c.emit(interpOp{kind: opcode, u1: uint64(idx)}, srcOffset)

	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return fmt.Errorf("read i32 immediate: %w", err)
		}
		if c.skipping() {
			return nil
		}
		c.height++
		c.emit(interpOp{kind: opcode, u1: uint64(uint32(v))}, srcOffset)

	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return fmt.Errorf("read i64 immediate: %w", err)
		}
		if c.skipping() {
			return nil
		}
		c.height++
		c.emit(interpOp{kind: opcode, u1: uint64(v)}, srcOffset)

	case wasm.OpcodeF32Const:
		b, err := r.readFixed(4)
		if err != nil {
			return fmt.Errorf("read f32 immediate: %w", err)
		}
		if c.skipping() {
			return nil
		}
		c.height++
		c.emit(interpOp{kind: opcode, u1: uint64(binary.LittleEndian.Uint32(b))}, srcOffset)

	case wasm.OpcodeF64Const:
		b, err := r.readFixed(8)
		if err != nil {
			return fmt.Errorf("read f64 immediate: %w", err)
		}
		if c.skipping() {
			return nil
		}
		c.height++
		c.emit(interpOp{kind: opcode, u1: binary.LittleEndian.Uint64(b)}, srcOffset)

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil { // memory index
			return fmt.Errorf("read memory index: %w", err)
		}
		if c.skipping() {
			return nil
		}
		if opcode == wasm.OpcodeMemorySize {
			c.height++
		}
		c.emit(interpOp{kind: opcode}, srcOffset)

	case wasm.OpcodeMiscPrefix:
		sub, err := r.readU32()
		if err != nil {
			return fmt.Errorf("read misc opcode: %w", err)
		}
		if sub > uint32(wasm.OpcodeMiscI64TruncSatF64U) {
			return fmt.Errorf("unknown misc opcode %#x", sub)
		}
		if c.skipping() {
			return nil
		}
		c.emit(interpOp{kind: kindI32TruncSatF32S + wasm.Opcode(sub)}, srcOffset)

	default:
		if opcode >= wasm.OpcodeI32Load && opcode <= wasm.OpcodeI64Store32 {
			// All loads and stores carry an alignment hint and an offset.
			if _, err := r.readU32(); err != nil {
				return fmt.Errorf("read alignment: %w", err)
			}
			offset, err := r.readU32()
			if err != nil {
				return fmt.Errorf("read offset: %w", err)
			}
			if c.skipping() {
				return nil
			}
			if opcode >= wasm.OpcodeI32Store {
				c.height -= 2
			}
			c.emit(interpOp{kind: opcode, u1: uint64(offset)}, srcOffset)
			return nil
		}
		if opcode >= wasm.OpcodeI32Eqz && opcode <= wasm.OpcodeI64Extend32S {
			if c.skipping() {
				return nil
			}
			c.height += numericDelta(opcode)
			c.emit(interpOp{kind: opcode}, srcOffset)
			return nil
		}
		return fmt.Errorf("unknown opcode %#x", opcode)
	}
	return nil
}

// numericDelta is the operand stack effect of a numeric instruction: -1 for
// binary operations and comparisons, 0 for tests, unary operations and
// conversions.
func numericDelta(op wasm.Opcode) int {
	switch {
	case op >= wasm.OpcodeI32Eq && op <= wasm.OpcodeI32GeU, // i32 comparisons
		op >= wasm.OpcodeI64Eq && op <= wasm.OpcodeF64Ge, // i64/f32/f64 comparisons
		op >= wasm.OpcodeI32Add && op <= wasm.OpcodeI32Rotr,
		op >= wasm.OpcodeI64Add && op <= wasm.OpcodeI64Rotr,
		op >= wasm.OpcodeF32Add && op <= wasm.OpcodeF32Copysign,
		op >= wasm.OpcodeF64Add && op <= wasm.OpcodeF64Copysign:
		return -1
	}
	return 0
}
