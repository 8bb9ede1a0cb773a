package wasmdebug

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrapCode_String(t *testing.T) {
	tests := []struct {
		code     TrapCode
		expected string
	}{
		{TrapCodeStackOverflow, "call stack exhausted"},
		{TrapCodeMemoryOutOfBounds, "out of bounds memory access"},
		{TrapCodeTableOutOfBounds, "out of bounds table access"},
		{TrapCodeIndirectCallToNull, "uninitialized element"},
		{TrapCodeBadSignature, "indirect call type mismatch"},
		{TrapCodeIntegerOverflow, "integer overflow"},
		{TrapCodeIntegerDivisionByZero, "integer divide by zero"},
		{TrapCodeBadConversionToInteger, "invalid conversion to integer"},
		{TrapCodeUnreachable, "unreachable"},
		{TrapCodeOutOfMemory, "out of memory"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.expected, tc.code.String())
	}
}

func TestNewRuntimeTrap(t *testing.T) {
	frames := []Frame{
		{ModuleName: "test", FuncName: "inner", FuncIndex: 3, CodeOffset: 0x41},
		{ModuleName: "test", FuncIndex: 1},
	}
	trap := NewRuntimeTrap(TrapCodeUnreachable, frames)

	code, ok := trap.Code()
	require.True(t, ok)
	require.Equal(t, TrapCodeUnreachable, code)
	require.Nil(t, trap.IsUser())
	_, ok = trap.PC()
	require.False(t, ok)

	// The native backtrace is captured eagerly at construction.
	require.NotEmpty(t, trap.NativeCallers())

	require.Equal(t, `unreachable
wasm stack trace:
	test.inner[+0x41]
	test.[1]`, trap.Error())
}

func TestNewUserTrap(t *testing.T) {
	cause := errors.New("host rejected the request")
	trap := NewUserTrap(cause, nil)

	require.Equal(t, cause, trap.IsUser())
	_, ok := trap.Code()
	require.False(t, ok)
	require.Equal(t, "host rejected the request", trap.Error())

	// The original error stays reachable through the trap.
	require.True(t, errors.Is(trap, cause))
}

func TestNewFaultTrap(t *testing.T) {
	trap := NewFaultTrap(0xdeadbeef, TrapCodeMemoryOutOfBounds, nil)

	pc, ok := trap.PC()
	require.True(t, ok)
	require.Equal(t, uintptr(0xdeadbeef), pc)
	require.Equal(t, "out of bounds memory access (fault at 0xdeadbeef)", trap.Error())
}

func TestTrap_Frames_symbolicatesOnce(t *testing.T) {
	trap := NewRuntimeTrap(TrapCodeIntegerOverflow, []Frame{
		{FuncIndex: 7, CodeOffset: 0x10},
	})

	first := trap.Frames()
	require.Equal(t, []FrameInfo{{Location: "?.[7]", CodeOffset: 0x10}}, first)

	// Mutating the raw frames after symbolication has no effect: the
	// resolved form is cached.
	trap.frames[0].FuncIndex = 9
	require.Equal(t, first, trap.Frames())
}
