package platform

import (
	"syscall"
	"unsafe"
)

const (
	windowsMemCommit     = 0x1000
	windowsMemReserve    = 0x2000
	windowsMemRelease    = 0x8000
	windowsPageReadwrite = 0x04
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAlloc = kernel32.NewProc("VirtualAlloc")
	procVirtualFree  = kernel32.NewProc("VirtualFree")
)

func reserveBuffer(length, capacity uint64) ([]byte, error) {
	ptr, _, err := procVirtualAlloc.Call(0, uintptr(capacity),
		windowsMemReserve|windowsMemCommit, windowsPageReadwrite)
	if ptr == 0 {
		return nil, err
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), capacity)
	return buf[:length], nil
}

func releaseBuffer(buf []byte) error {
	ptr := uintptr(unsafe.Pointer(&buf[:cap(buf)][0]))
	r, _, err := procVirtualFree.Call(ptr, 0, windowsMemRelease)
	if r == 0 {
		return err
	}
	return nil
}
