// Package platform isolates the per-OS allocation primitives the runtime
// needs: reserving large address ranges for static-style linear memories
// without committing them up front.
package platform

// ReserveBuffer returns a zeroed byte slice of the given length whose
// capacity is reserved from the operating system in one range. Growing the
// slice toward its capacity never moves the base address.
//
// On hosts without an anonymous mapping primitive this falls back to the Go
// allocator; the base-stability property still holds, only the reservation
// is accounted eagerly.
func ReserveBuffer(length, capacity uint64) ([]byte, error) {
	return reserveBuffer(length, capacity)
}

// ReleaseBuffer returns a reservation obtained from ReserveBuffer to the
// operating system. The slice and any aliases of it must not be used
// afterwards. Buffers from the fallback allocator release as a no-op.
func ReleaseBuffer(buf []byte) error {
	return releaseBuffer(buf)
}
