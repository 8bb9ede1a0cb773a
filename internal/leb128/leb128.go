// Package leb128 decodes and encodes the Little Endian Base 128 variable-width
// integers used throughout the WebAssembly binary format.
package leb128

import (
	"errors"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow33 = errors.New("overflows a 33-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format.
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format.
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits of the value.
		b := uint8(value & 0x7f)
		signb := b & 0x40

		value >>= 7
		if (value == 0 && signb == 0) || (value == -1 && signb != 0) {
			buf = append(buf, b)
			break
		}

		// more bits to come, set the high-order bit of this byte.
		b |= 0x80
		buf = append(buf, b)
	}
	return
}

// EncodeUint32 encodes the value into a buffer in LEB128 format.
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format.
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint64(value uint64) (buf []byte) {
	// This is effectively a do/while loop where we take 7 bits of the value
	// until the value is fully consumed.
	for {
		b := uint8(value & 0x7f)

		value >>= 7
		if value != 0 {
			b |= 0x80 // more bits to come, set the high-order bit.
		}
		buf = append(buf, b)
		if value == 0 {
			break
		}
	}
	return
}

// DecodeUint32 decodes an unsigned 32-bit integer and returns how many bytes
// were consumed.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	// Derived from https://github.com/golang/go/blob/go1.20/src/encoding/binary/varint.go
	// with the modification on the overflow handling tailored for 32-bits.
	var s uint32
	for i := 0; i < maxVarintLen32; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		if b < 0x80 {
			// Unused bits must be all zero.
			if i == maxVarintLen32-1 && (b&0xf0) > 0 {
				return 0, 0, errOverflow32
			}
			return ret | uint32(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint32(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow32
}

// DecodeUint64 decodes an unsigned 64-bit integer and returns how many bytes
// were consumed.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	var s uint64
	for i := 0; i < maxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		if b < 0x80 {
			// Unused bits must be all zero.
			if i == maxVarintLen64-1 && b > 1 {
				return 0, 0, errOverflow64
			}
			return ret | uint64(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint64(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow64
}

// DecodeInt32 decodes a signed 32-bit integer and returns how many bytes were
// consumed.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		ret |= (int32(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 32 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			// Over flow checks.
			// fixme: can be optimized.
			if bytesRead > maxVarintLen32 {
				return 0, 0, errOverflow32
			} else if unused := b & 0b00110000; bytesRead == maxVarintLen32 && ret < 0 && unused != 0b00110000 {
				return 0, 0, errOverflow32
			} else if bytesRead == maxVarintLen32 && ret >= 0 && unused != 0x00 {
				return 0, 0, errOverflow32
			}
			return
		}
	}
}

// DecodeInt33AsInt64 decodes a signed 33-bit integer, used for block types,
// and returns how many bytes were consumed.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	const (
		int33Mask  int64 = 1 << 7
		int33Mask2       = ^int33Mask
		int33Mask3       = 1 << 6
		int33Mask4       = 8589934591 // 2^33-1
		int33Mask5       = 1 << 32
		int33Mask6       = int33Mask4 + 1 // 2^33
	)
	var shift int
	var b int64
	var rb byte
	for shift < 35 {
		rb, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		b = int64(rb)
		ret |= (b & int33Mask2) << shift
		shift += 7
		bytesRead++
		if b&int33Mask == 0 {
			break
		}
	}

	// If the number of bytes exceeds the maximum for a 33-bit int, the leading
	// bits of the last byte must be unused.
	if shift > 35 {
		return 0, 0, errOverflow33
	}

	if shift < 33 && (b&int33Mask3) == int33Mask3 {
		ret |= int33Mask4 << shift
	}
	ret = ret & int33Mask4

	// if 33rd bit == 1, we translate it as a corresponding signed-33bit minus
	// value.
	if ret&int33Mask5 > 0 {
		ret = ret - int33Mask6
	}
	return ret, bytesRead, nil
}

// DecodeInt64 decodes a signed 64-bit integer and returns how many bytes were
// consumed.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		ret |= (int64(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			// Over flow checks.
			if bytesRead > maxVarintLen64 {
				return 0, 0, errOverflow64
			} else if bytesRead == maxVarintLen64 && ((ret < 0 && b != 0x7f) || (ret >= 0 && b != 0x00)) {
				return 0, 0, errOverflow64
			}
			return
		}
	}
}
