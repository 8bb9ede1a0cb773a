package wavm

import "github.com/wavmio/wavm/internal/middleware"

// Operator is one decoded WebAssembly operator as seen by a CostFunc.
type Operator = middleware.Operator

// CostFunc prices one operator in abstract execution points. Used with
// RuntimeConfig.WithMetering.
type CostFunc = middleware.CostFunc

// DefaultCost charges one point per operator.
func DefaultCost(op Operator) uint64 { return middleware.DefaultCost(op) }

const (
	// MeteringRemainingPoints is the exported mutable i64 global holding a
	// metered module's unconsumed execution points.
	MeteringRemainingPoints = middleware.RemainingPointsExport
	// MeteringPointsExhausted is the exported mutable i32 global set to 1
	// when a metered module trapped because its budget ran out.
	MeteringPointsExhausted = middleware.PointsExhaustedExport
)
