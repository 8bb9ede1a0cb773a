package api

import (
	"fmt"
	"strings"
)

// CoreFeatures is a bit flag of WebAssembly core specification features. See
// https://github.com/WebAssembly/proposals for more information.
//
// Tip: Select the feature set via the runtime configuration, and query what a
// compiler backend supports before attempting compilation.
//
// Note: Numeric values are not intended to be interpreted except as bit flags.
type CoreFeatures uint64

const (
	// CoreFeatureMutableGlobal allows "global.set" on imported and exported
	// globals. Finished in WebAssembly 1.0 (20191205), so always enabled by
	// default.
	//
	// See https://github.com/WebAssembly/mutable-global
	CoreFeatureMutableGlobal CoreFeatures = 1 << iota

	// CoreFeatureSignExtensionOps adds instructions like "i32.extend8_s".
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/sign-extension-ops/Overview.md
	CoreFeatureSignExtensionOps

	// CoreFeatureNonTrappingFloatToIntConversion adds instructions like
	// "i32.trunc_sat_f32_s".
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/nontrapping-float-to-int-conversion/Overview.md
	CoreFeatureNonTrappingFloatToIntConversion

	// CoreFeatureMultiValue enables multiple results for functions and blocks.
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/multi-value/Overview.md
	CoreFeatureMultiValue

	// CoreFeatureBulkMemoryOperations adds instructions like "memory.copy"
	// and "memory.fill".
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/bulk-memory-operations/Overview.md
	CoreFeatureBulkMemoryOperations

	// CoreFeatureReferenceTypes enables the "externref" value type and
	// multiple tables.
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/reference-types/Overview.md
	CoreFeatureReferenceTypes

	// CoreFeatureSIMD enables the 128-bit vector value type and operations.
	//
	// See https://github.com/WebAssembly/spec/blob/main/proposals/simd/SIMD.md
	CoreFeatureSIMD

	// CoreFeatureThreads enables shared memories and atomic instructions.
	//
	// See https://github.com/WebAssembly/threads
	CoreFeatureThreads

	// CoreFeatureExceptionHandling enables try/catch and exception
	// propagation.
	//
	// See https://github.com/WebAssembly/exception-handling
	CoreFeatureExceptionHandling

	// CoreFeatureTailCall enables the "return_call" family of instructions.
	//
	// See https://github.com/WebAssembly/tail-call
	CoreFeatureTailCall

	// CoreFeatureExtendedConst allows extended const expressions in
	// initializers.
	//
	// See https://github.com/WebAssembly/extended-const
	CoreFeatureExtendedConst

	// CoreFeatureRelaxedSIMD enables the relaxed vector instructions.
	//
	// See https://github.com/WebAssembly/relaxed-simd
	CoreFeatureRelaxedSIMD

	// CoreFeatureMemory64 enables 64-bit memory indexes.
	//
	// See https://github.com/WebAssembly/memory64
	CoreFeatureMemory64
)

// CoreFeaturesV1 are the features included in the WebAssembly Core
// Specification 1.0 (20191205).
const CoreFeaturesV1 = CoreFeatureMutableGlobal

// CoreFeaturesV2 adds the features merged into the WebAssembly Core
// Specification 2.0 draft that this engine implements in translation.
const CoreFeaturesV2 = CoreFeaturesV1 |
	CoreFeatureSignExtensionOps |
	CoreFeatureNonTrappingFloatToIntConversion |
	CoreFeatureMultiValue

// SetEnabled returns a new flag set with the given feature enabled or
// disabled.
func (f CoreFeatures) SetEnabled(feature CoreFeatures, val bool) CoreFeatures {
	if val {
		return f | feature
	}
	return f &^ feature
}

// IsEnabled returns true if the feature (or group of features) is enabled.
func (f CoreFeatures) IsEnabled(feature CoreFeatures) bool {
	return f&feature != 0
}

// RequireEnabled returns an error unless the feature (or group of features)
// is enabled. Translation uses this to reject a module using a disabled
// feature instead of miscompiling it.
func (f CoreFeatures) RequireEnabled(feature CoreFeatures) error {
	if f&feature == 0 {
		return fmt.Errorf("feature %q is disabled", feature)
	}
	return nil
}

// String implements fmt.Stringer by returning each enabled feature.
func (f CoreFeatures) String() string {
	var builder strings.Builder
	for i := 0; i <= 63; i++ {
		target := CoreFeatures(1 << i)
		if f.IsEnabled(target) {
			if name := featureName(target); name != "" {
				if builder.Len() > 0 {
					builder.WriteByte('|')
				}
				builder.WriteString(name)
			}
		}
	}
	return builder.String()
}

func featureName(f CoreFeatures) string {
	switch f {
	case CoreFeatureMutableGlobal:
		return "mutable-global"
	case CoreFeatureSignExtensionOps:
		return "sign-extension-ops"
	case CoreFeatureNonTrappingFloatToIntConversion:
		return "nontrapping-float-to-int-conversion"
	case CoreFeatureMultiValue:
		return "multi-value"
	case CoreFeatureBulkMemoryOperations:
		return "bulk-memory-operations"
	case CoreFeatureReferenceTypes:
		return "reference-types"
	case CoreFeatureSIMD:
		return "simd"
	case CoreFeatureThreads:
		return "threads"
	case CoreFeatureExceptionHandling:
		return "exception-handling"
	case CoreFeatureTailCall:
		return "tail-call"
	case CoreFeatureExtendedConst:
		return "extended-const"
	case CoreFeatureRelaxedSIMD:
		return "relaxed-simd"
	case CoreFeatureMemory64:
		return "memory64"
	}
	return ""
}
