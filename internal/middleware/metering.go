package middleware

import (
	"fmt"

	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

const (
	// RemainingPointsExport is the name of the mutable i64 global holding
	// the unconsumed execution points, appended by Metering.
	RemainingPointsExport = "wavm_metering_remaining_points"
	// PointsExhaustedExport is the name of the mutable i32 global set to 1
	// right before the exhaustion trap fires.
	PointsExhaustedExport = "wavm_metering_points_exhausted"
)

// CostFunc prices one operator in abstract execution points.
type CostFunc func(op Operator) uint64

// DefaultCost charges one point per operator.
func DefaultCost(Operator) uint64 { return 1 }

// Metering rewrites function bodies so a module pays for its own execution:
// straight-line instruction runs are priced up front, and a run the budget
// cannot cover traps with unreachable instead of executing.
//
// Two globals are appended and exported: the remaining point budget and an
// exhaustion flag, so the embedder can distinguish "ran out of points" from a
// genuine unreachable and can refill the budget between calls.
type Metering struct {
	// InitialPoints is the starting budget.
	InitialPoints uint64
	// Cost prices each operator; nil means DefaultCost.
	Cost CostFunc

	// pointsGlobal and exhaustedGlobal are the global index namespace
	// positions assigned during TransformModule.
	pointsGlobal    wasm.Index
	exhaustedGlobal wasm.Index
	transformed     bool
}

// Name implements the same method as documented on Middleware.
func (*Metering) Name() string { return "metering" }

// TransformModule appends the budget and exhaustion globals with their
// exports. Runs before any body is rewritten, as the rewritten code
// references the new globals by index.
func (mw *Metering) TransformModule(m *wasm.Module) error {
	base := m.ImportGlobalCount() + uint32(len(m.GlobalSection))
	mw.pointsGlobal = base
	mw.exhaustedGlobal = base + 1
	mw.transformed = true

	m.GlobalSection = append(m.GlobalSection,
		&wasm.Global{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI64, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: leb128.EncodeInt64(int64(mw.InitialPoints))},
		},
		&wasm.Global{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
		},
	)
	if m.ExportSection == nil {
		m.ExportSection = map[string]*wasm.Export{}
	}
	if _, ok := m.ExportSection[RemainingPointsExport]; ok {
		return fmt.Errorf("module already exports %q", RemainingPointsExport)
	}
	m.ExportSection[RemainingPointsExport] = &wasm.Export{
		Type: wasm.ExternTypeGlobal, Name: RemainingPointsExport, Index: mw.pointsGlobal,
	}
	m.ExportSection[PointsExhaustedExport] = &wasm.Export{
		Type: wasm.ExternTypeGlobal, Name: PointsExhaustedExport, Index: mw.exhaustedGlobal,
	}
	return nil
}

// RewriteBody implements the same method as documented on Middleware.
//
// The body is split at control-flow operators into straight-line runs. Each
// run is preceded by: check the budget covers the run's total cost, trap if
// not, then deduct. A loop body forms its own run, so every iteration pays.
func (mw *Metering) RewriteBody(_ *wasm.Module, _ wasm.Index, body []byte) ([]byte, error) {
	if !mw.transformed {
		panic("BUG: metering body rewrite before module transform")
	}

	r := NewOperatorReader(body)
	cost := mw.Cost
	if cost == nil {
		cost = DefaultCost
	}

	out := make([]byte, 0, len(body)*2)
	segStart := 0
	var segCost uint64
	flush := func(end int) {
		if segCost > 0 {
			out = appendMeteringCheck(out, mw.pointsGlobal, mw.exhaustedGlobal, segCost)
		}
		out = append(out, body[segStart:end]...)
		segStart = end
		segCost = 0
	}

	for r.HasNext() {
		op, err := r.Next()
		if err != nil {
			return nil, err
		}
		segCost += cost(op)
		if isRunBoundary(op.Opcode) {
			flush(op.Offset + 1 + len(op.Immediates))
		}
	}
	flush(len(body))
	return out, nil
}

// isRunBoundary reports whether control can enter or leave at this operator,
// ending the straight-line run it closes.
func isRunBoundary(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf, wasm.OpcodeElse, wasm.OpcodeEnd,
		wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeBrTable, wasm.OpcodeReturn,
		wasm.OpcodeCall, wasm.OpcodeCallIndirect, wasm.OpcodeUnreachable:
		return true
	}
	return false
}

// appendMeteringCheck emits:
//
//	if points < cost { exhausted = 1; unreachable }
//	points -= cost
func appendMeteringCheck(out []byte, points, exhausted wasm.Index, cost uint64) []byte {
	costImm := leb128.EncodeInt64(int64(cost))
	pointsIdx := leb128.EncodeUint32(points)
	exhaustedIdx := leb128.EncodeUint32(exhausted)

	out = append(out, wasm.OpcodeGlobalGet)
	out = append(out, pointsIdx...)
	out = append(out, wasm.OpcodeI64Const)
	out = append(out, costImm...)
	out = append(out, wasm.OpcodeI64LtU)
	out = append(out, wasm.OpcodeIf, 0x40)
	out = append(out, wasm.OpcodeI32Const, 0x01)
	out = append(out, wasm.OpcodeGlobalSet)
	out = append(out, exhaustedIdx...)
	out = append(out, wasm.OpcodeUnreachable)
	out = append(out, wasm.OpcodeEnd)
	out = append(out, wasm.OpcodeGlobalGet)
	out = append(out, pointsIdx...)
	out = append(out, wasm.OpcodeI64Const)
	out = append(out, costImm...)
	out = append(out, wasm.OpcodeI64Sub)
	out = append(out, wasm.OpcodeGlobalSet)
	out = append(out, pointsIdx...)
	return out
}
