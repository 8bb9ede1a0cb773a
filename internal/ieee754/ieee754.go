// Package ieee754 decodes little-endian IEEE 754 floating point values, as
// used by "f32.const" and "f64.const" in the binary format.
package ieee754

import (
	"encoding/binary"
	"io"
	"math"
)

// DecodeFloat32 decodes a float32 from 4 little-endian encoded bytes.
func DecodeFloat32(r io.Reader) (float32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	raw := binary.LittleEndian.Uint32(buf)
	return math.Float32frombits(raw), nil
}

// DecodeFloat64 decodes a float64 from 8 little-endian encoded bytes.
func DecodeFloat64(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	raw := binary.LittleEndian.Uint64(buf)
	return math.Float64frombits(raw), nil
}

// EncodeFloat32 encodes a float32 into 4 little-endian encoded bytes.
func EncodeFloat32(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

// EncodeFloat64 encodes a float64 into 8 little-endian encoded bytes.
func EncodeFloat64(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}
