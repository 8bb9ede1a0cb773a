package fault

import (
	"syscall"
	"unsafe"
)

var (
	kernel32                   = syscall.NewLazyDLL("kernel32.dll")
	procRtlAddFunctionTable    = kernel32.NewProc("RtlAddFunctionTable")
	procRtlDeleteFunctionTable = kernel32.NewProc("RtlDeleteFunctionTable")
)

func registerFunctionTable(t *FunctionTable) {
	if len(t.Entries) == 0 {
		return
	}
	procRtlAddFunctionTable.Call(
		uintptr(unsafe.Pointer(&t.Entries[0])),
		uintptr(len(t.Entries)),
		t.BaseAddress,
	)
}

func unregisterFunctionTable(t *FunctionTable) {
	if len(t.Entries) == 0 {
		return
	}
	procRtlDeleteFunctionTable.Call(uintptr(unsafe.Pointer(&t.Entries[0])))
}
