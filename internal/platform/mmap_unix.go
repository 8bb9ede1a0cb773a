//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package platform

import "syscall"

func reserveBuffer(length, capacity uint64) ([]byte, error) {
	buf, err := syscall.Mmap(-1, 0, int(capacity),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return buf[:length], nil
}

func releaseBuffer(buf []byte) error {
	// Recover the full mapping regardless of how far the slice was grown.
	return syscall.Munmap(buf[:cap(buf)])
}
