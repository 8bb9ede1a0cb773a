package wasm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureRegistry_Register_Idempotent(t *testing.T) {
	r := NewSignatureRegistry()

	i32i32_i32 := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	id1, err := r.Register(i32i32_i32)
	require.NoError(t, err)
	require.NotEqual(t, FunctionTypeIDInvalid, id1)

	// A structurally equal type from "another module" maps to the same ID.
	id2, err := r.Register(&FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// A different type never collides.
	id3, err := r.Register(&FunctionType{Params: []ValueType{ValueTypeI64}})
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)

	require.Equal(t, 2, r.Count())
}

func TestSignatureRegistry_Type(t *testing.T) {
	r := NewSignatureRegistry()
	ft := &FunctionType{Results: []ValueType{ValueTypeF64}}
	id, err := r.Register(ft)
	require.NoError(t, err)

	got, ok := r.Type(id)
	require.True(t, ok)
	require.True(t, got.EqualsSignature(ft.Params, ft.Results))

	_, ok = r.Type(FunctionTypeIDInvalid)
	require.False(t, ok)
	_, ok = r.Type(id + 1)
	require.False(t, ok)
}

func TestSignatureRegistry_Register_Concurrent(t *testing.T) {
	const goroutines = 100
	r := NewSignatureRegistry()

	ids := make([]FunctionTypeID, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		i := i
		go func() {
			defer wg.Done()
			// Half race on the same type, half on distinct types.
			ft := &FunctionType{Params: []ValueType{ValueTypeI32}}
			if i%2 == 1 {
				ft = &FunctionType{Params: []ValueType{ValueTypeI64, ValueTypeI64}}
			}
			id, err := r.Register(ft)
			require.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	// Races resolve to exactly one winning index per type.
	for i := 2; i < goroutines; i++ {
		require.Equal(t, ids[i%2], ids[i])
	}
	require.Equal(t, 2, r.Count())
}

func TestFunctionType_String(t *testing.T) {
	tests := []struct {
		ft       *FunctionType
		expected string
	}{
		{ft: &FunctionType{}, expected: "v_v"},
		{ft: &FunctionType{Params: []ValueType{ValueTypeI32}}, expected: "i32_v"},
		{ft: &FunctionType{Results: []ValueType{ValueTypeF64}}, expected: "v_f64"},
		{
			ft: &FunctionType{
				Params:  []ValueType{ValueTypeI32, ValueTypeI64},
				Results: []ValueType{ValueTypeF32},
			},
			expected: "i32i64_f32",
		},
	}
	for _, tc := range tests {
		require.Equal(t, tc.expected, tc.ft.String())
	}
}
