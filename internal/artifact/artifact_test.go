package artifact

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/api"
)

func TestSerialize_roundTrip(t *testing.T) {
	payload := []byte("lowered code bytes")
	b := Serialize(payload)

	require.Zero(t, len(b)%Alignment)
	require.Equal(t, Magic, string(b[:8]))

	got, err := Deserialize(b)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	got, err = DeserializeUnchecked(b)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSerialize_emptyPayload(t *testing.T) {
	b := Serialize(nil)
	require.Equal(t, HeaderSize, len(b))
	got, err := Deserialize(b)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeserialize_rejections(t *testing.T) {
	good := Serialize([]byte("payload"))

	t.Run("wrong magic", func(t *testing.T) {
		b := append([]byte{}, good...)
		b[0] = 'X'
		_, err := Deserialize(b)
		require.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("wrong version", func(t *testing.T) {
		b := append([]byte{}, good...)
		binary.LittleEndian.PutUint32(b[8:], CurrentVersion+1)
		_, err := Deserialize(b)
		require.ErrorIs(t, err, ErrVersionMismatch)
	})

	t.Run("misaligned", func(t *testing.T) {
		_, err := Deserialize(good[:len(good)-1])
		require.ErrorIs(t, err, ErrMisaligned)
	})

	t.Run("shorter than header", func(t *testing.T) {
		_, err := Deserialize(good[:8])
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("length exceeds input", func(t *testing.T) {
		b := append([]byte{}, good...)
		binary.LittleEndian.PutUint32(b[12:], uint32(len(b)))
		_, err := Deserialize(b)
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("unchecked skips magic and version", func(t *testing.T) {
		b := append([]byte{}, good...)
		b[0] = 'X'
		binary.LittleEndian.PutUint32(b[8:], CurrentVersion+9)
		got, err := DeserializeUnchecked(b)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), got)
	})
}

func TestContents_roundTrip(t *testing.T) {
	c := &Contents{
		EngineVersion: "1.2.3",
		Features:      api.CoreFeaturesV2,
		Module:        []byte{0x00, 0x61, 0x73, 0x6d},
		Code:          []byte{1, 2, 3},
	}
	b := c.Encode()
	require.Zero(t, len(b)%Alignment)

	got, err := DecodeContents(b)
	require.NoError(t, err)
	require.Equal(t, c, got)

	got, err = DecodeContentsUnchecked(b)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDecodeContents_truncatedPayload(t *testing.T) {
	c := &Contents{EngineVersion: "v", Module: []byte{1}, Code: []byte{2}}
	b := c.Encode()

	// Claim a longer version string than the payload holds.
	binary.LittleEndian.PutUint32(b[HeaderSize:], 1<<20)
	_, err := DecodeContents(b)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSymbol_roundTrip(t *testing.T) {
	id := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	tests := []Symbol{
		{Prefix: "wavm", Kind: SymbolFunction, ModuleID: id, Index: 0},
		{Prefix: "wavm", Kind: SymbolSection, ModuleID: id, Index: 7},
		{Prefix: "wavm", Kind: SymbolTrampolineCall, ModuleID: id, Index: 3},
		{Prefix: "wavm", Kind: SymbolTrampolineDynamic, ModuleID: id, Index: 12},
		// Prefixes may contain underscores and even kind-like words.
		{Prefix: "my_host_function_app", Kind: SymbolFunction, ModuleID: id, Index: 1},
	}
	for _, s := range tests {
		parsed, err := ParseSymbol(s.String())
		require.NoError(t, err, s.String())
		require.Equal(t, s, parsed)
	}
}

func TestParseSymbol_format(t *testing.T) {
	s := Symbol{Prefix: "wavm", Kind: SymbolFunction, ModuleID: "abcd", Index: 9}
	require.Equal(t, "wavm_function_abcd_9", s.String())
}

func TestParseSymbol_rejects(t *testing.T) {
	for _, name := range []string{
		"",
		"wavm",
		"wavm_function_abcd",       // no index
		"wavm_function_abcd_x",     // non-numeric index
		"wavm_frobnicate_abcd_1",   // unknown kind
		"_function_abcd_1",         // empty prefix
		"wavm_function__1",         // empty module ID
		"wavm_function_ab_cd_1",    // underscore in module ID
		"wavm_function_abcd_99999999999", // index overflows uint32
	} {
		_, err := ParseSymbol(name)
		require.Error(t, err, name)
	}
}
