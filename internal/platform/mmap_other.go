//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris || windows)

package platform

func reserveBuffer(length, capacity uint64) ([]byte, error) {
	return make([]byte, length, capacity), nil
}

func releaseBuffer([]byte) error {
	return nil
}
