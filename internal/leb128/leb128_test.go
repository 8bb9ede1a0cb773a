package leb128

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeUint32(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint32
		expErr   bool
	}{
		{name: "zero", input: []byte{0x00}, expected: 0},
		{name: "one byte", input: []byte{0x04}, expected: 4},
		{name: "two bytes", input: []byte{0x80, 0x7f}, expected: 16256},
		{name: "five bytes", input: []byte{0x83, 0x80, 0x80, 0x80, 0x00}, expected: 3},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0xf}, expected: 0xffffffff},
		{name: "overflow by unused bits", input: []byte{0x83, 0x80, 0x80, 0x80, 0x10}, expErr: true},
		{name: "too long", input: []byte{0x82, 0x80, 0x80, 0x80, 0x80, 0x00}, expErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			actual, n, err := DecodeUint32(bytes.NewReader(tc.input))
			if tc.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.expected, actual)
				require.Equal(t, uint64(len(tc.input)), n)
			}
		})
	}
}

func TestDecodeInt32(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int32
		expErr   bool
	}{
		{name: "zero", input: []byte{0x00}, expected: 0},
		{name: "one byte positive", input: []byte{0x04}, expected: 4},
		{name: "negative one", input: []byte{0x7f}, expected: -1},
		{name: "two bytes negative", input: []byte{0x81, 0x7f}, expected: -127},
		{name: "min", input: []byte{0x80, 0x80, 0x80, 0x80, 0x78}, expected: -2147483648},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0x07}, expected: 2147483647},
		{name: "overflow by unused bits", input: []byte{0xff, 0xff, 0xff, 0xff, 0x6f}, expErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			actual, _, err := DecodeInt32(bytes.NewReader(tc.input))
			if tc.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.expected, actual)
			}
		})
	}
}

func TestDecodeInt33AsInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int64
	}{
		{name: "block type nil", input: []byte{0x40}, expected: -64},
		{name: "block type i32", input: []byte{0x7f}, expected: -1},
		{name: "block type f64", input: []byte{0x7c}, expected: -4},
		{name: "type index zero", input: []byte{0x00}, expected: 0},
		{name: "type index", input: []byte{0x05}, expected: 5},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			actual, _, err := DecodeInt33AsInt64(bytes.NewReader(tc.input))
			require.NoError(t, err)
			require.Equal(t, tc.expected, actual)
		})
	}
}

func TestEncodeDecodeRoundTrip_Uint32(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16256, 624485, 0xffffffff} {
		actual, _, err := DecodeUint32(bytes.NewReader(EncodeUint32(v)))
		require.NoError(t, err)
		require.Equal(t, v, actual)
	}
}

func TestEncodeDecodeRoundTrip_Int64(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, -127, 624485, -624485, 1 << 60, -(1 << 60)} {
		actual, _, err := DecodeInt64(bytes.NewReader(EncodeInt64(v)))
		require.NoError(t, err)
		require.Equal(t, v, actual)
	}
}
