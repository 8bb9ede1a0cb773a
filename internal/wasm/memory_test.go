package wasm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMemory(min, max uint32, style MemoryStyle) *MemoryInstance {
	return NewMemoryInstance(&Memory{Min: min, Max: max, IsMaxEncoded: true}, style)
}

func TestMemoryInstance_Grow_Size(t *testing.T) {
	tests := []struct {
		name  string
		style MemoryStyle
	}{
		{name: "dynamic", style: MemoryStyle{}},
		{name: "static", style: MemoryStyle{Static: true, Bound: 10}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMemory(0, 10, tc.style)

			res, ok := m.Grow(5)
			require.True(t, ok)
			require.Equal(t, uint32(0), res)
			require.Equal(t, uint32(5), m.Pages())

			// Zero delta is a size query.
			res, ok = m.Grow(0)
			require.True(t, ok)
			require.Equal(t, uint32(5), res)
			require.Equal(t, uint32(5), m.Pages())

			res, ok = m.Grow(4)
			require.True(t, ok)
			require.Equal(t, uint32(5), res)
			require.Equal(t, uint32(9), m.Pages())

			// Trying to grow above the max is a no-op failure.
			_, ok = m.Grow(2)
			require.False(t, ok)
			require.Equal(t, uint32(9), m.Pages())

			res, ok = m.Grow(1)
			require.True(t, ok)
			require.Equal(t, uint32(9), res)
			require.Equal(t, uint32(10), m.Pages())
		})
	}
}

func TestMemoryInstance_Grow_PreservesContents(t *testing.T) {
	m := newTestMemory(1, 4, MemoryStyle{})
	require.True(t, m.WriteUint32Le(0, 0xdeadbeef))
	require.True(t, m.WriteByte(65535, 0x7a))

	_, ok := m.Grow(3)
	require.True(t, ok)

	v, ok := m.ReadUint32Le(0)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), v)
	b, ok := m.ReadByte(65535)
	require.True(t, ok)
	require.Equal(t, byte(0x7a), b)
}

func TestMemoryInstance_Grow_StaticDoesNotRelocate(t *testing.T) {
	m := newTestMemory(1, 8, MemoryStyle{Static: true, Bound: 8})
	before := &m.Buffer()[0]

	_, ok := m.Grow(7)
	require.True(t, ok)
	require.Same(t, before, &m.Buffer()[0])
}

func TestMemoryInstance_Grow_Concurrent(t *testing.T) {
	const goroutines = 50
	m := newTestMemory(0, goroutines, MemoryStyle{})

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, ok := m.Grow(1)
			require.True(t, ok)
		}()
	}
	wg.Wait()
	require.Equal(t, uint32(goroutines), m.Pages())
}

func TestMemoryInstance_ReadWrite_Bounds(t *testing.T) {
	m := newTestMemory(1, 1, MemoryStyle{})
	size := m.Size()

	require.True(t, m.WriteUint64Le(size-8, 1))
	_, ok := m.ReadUint64Le(size - 8)
	require.True(t, ok)

	// One byte past the end must fail without panicking.
	require.False(t, m.WriteUint64Le(size-7, 1))
	_, ok = m.ReadUint64Le(size - 7)
	require.False(t, ok)
	_, ok = m.ReadByte(size)
	require.False(t, ok)

	// Offset arithmetic must not wrap around.
	require.False(t, m.WriteUint32Le(0xfffffffe, 1))
	_, ok = m.Read(0xffffffff, 2)
	require.False(t, ok)
}

func TestMemoryInstance_Float_RoundTrip(t *testing.T) {
	m := newTestMemory(1, 1, MemoryStyle{})
	require.True(t, m.WriteFloat64Le(0, 1.5))
	v, ok := m.ReadFloat64Le(0)
	require.True(t, ok)
	require.Equal(t, 1.5, v)

	require.True(t, m.WriteFloat32Le(8, float32(-2.25)))
	f, ok := m.ReadFloat32Le(8)
	require.True(t, ok)
	require.Equal(t, float32(-2.25), f)
}

func TestTableInstance_Grow(t *testing.T) {
	max := uint32(5)
	tbl := NewTableInstance(&Table{Min: 2, Max: &max})
	require.Equal(t, uint32(2), tbl.Size())

	old, ok := tbl.Grow(2, Reference{})
	require.True(t, ok)
	require.Equal(t, uint32(2), old)
	require.Equal(t, uint32(4), tbl.Size())

	_, ok = tbl.Grow(2, Reference{})
	require.False(t, ok)
	require.Equal(t, uint32(4), tbl.Size())
}

func TestTableInstance_LookupSet(t *testing.T) {
	tbl := NewTableInstance(&Table{Min: 2})

	ref, ok := tbl.Lookup(0)
	require.True(t, ok)
	require.Nil(t, ref.Function)
	require.Equal(t, FunctionTypeIDInvalid, ref.TypeID)

	f := &FunctionInstance{}
	require.True(t, tbl.Set(1, Reference{TypeID: 3, Function: f}))
	ref, ok = tbl.Lookup(1)
	require.True(t, ok)
	require.Same(t, f, ref.Function)

	_, ok = tbl.Lookup(2)
	require.False(t, ok)
	require.False(t, tbl.Set(2, Reference{}))
}
