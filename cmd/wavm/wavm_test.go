package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/internal/wasm"
)

func TestParseCallArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expected    []uint64
		expectedErr string
	}{
		{name: "empty", args: nil, expected: []uint64{}},
		{name: "decimal", args: []string{"0", "42", "18446744073709551615"}, expected: []uint64{0, 42, 18446744073709551615}},
		{name: "negative", args: []string{"-1"}, expectedErr: `"-1" is not a uint64`},
		{name: "not a number", args: []string{"x"}, expectedErr: `"x" is not a uint64`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			params, err := parseCallArgs(tc.args)
			if tc.expectedErr != "" {
				require.ErrorContains(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.expected, params)
			}
		})
	}
}

func TestWriteInspection(t *testing.T) {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
		},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "log", Type: wasm.ExternTypeFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}}},
		MemorySection:   &wasm.Memory{Min: 1, Max: 2},
		ExportSection: map[string]*wasm.Export{
			"echo": {Type: wasm.ExternTypeFunc, Name: "echo", Index: 1},
			"mem":  {Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
		},
		NameSection: &wasm.NameSection{ModuleName: "demo"},
	}

	var out bytes.Buffer
	writeInspection(&out, m)

	require.Equal(t, `module: demo
types: 1, functions: 1, globals: 0
memory: min=1 pages, max=2 pages
import: func env.log
export: func echo[1]
export: memory mem[0]
`, out.String())
}
