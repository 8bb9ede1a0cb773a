//go:build !windows

package fault

// Non-Windows hosts unwind via frame pointers or DWARF; there is no system
// table to publish.

func registerFunctionTable(*FunctionTable)   {}
func unregisterFunctionTable(*FunctionTable) {}
