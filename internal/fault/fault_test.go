package fault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavmio/wavm/internal/wasmdebug"
)

func TestRegistry_Classify(t *testing.T) {
	var r Registry
	info := &RegionInfo{
		ModuleName: "m",
		FuncIndex:  2,
		Sites: []Site{
			{Offset: 0x10, Code: wasmdebug.TrapCodeMemoryOutOfBounds},
			{Offset: 0x30, Code: wasmdebug.TrapCodeIntegerDivisionByZero},
		},
	}
	r.Register(0x1000, 0x100, info)

	t.Run("exact hit", func(t *testing.T) {
		gotInfo, site, ok := r.Classify(0x1010, true)
		require.True(t, ok)
		require.Equal(t, info, gotInfo)
		require.NotNil(t, site)
		require.Equal(t, wasmdebug.TrapCodeMemoryOutOfBounds, site.Code)
	})

	t.Run("nearest preceding site", func(t *testing.T) {
		_, site, ok := r.Classify(0x1035, false)
		require.True(t, ok)
		require.NotNil(t, site)
		require.Equal(t, wasmdebug.TrapCodeIntegerDivisionByZero, site.Code)
	})

	t.Run("exact miss between sites", func(t *testing.T) {
		gotInfo, site, ok := r.Classify(0x1035, true)
		require.True(t, ok)
		require.Equal(t, info, gotInfo)
		require.Nil(t, site)
	})

	t.Run("before first site", func(t *testing.T) {
		_, site, ok := r.Classify(0x1005, false)
		require.True(t, ok)
		require.Nil(t, site)
	})

	t.Run("outside every region", func(t *testing.T) {
		_, _, ok := r.Classify(0x500, false)
		require.False(t, ok)
		_, _, ok = r.Classify(0x1100, false) // end is exclusive
		require.False(t, ok)
	})
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	var r Registry
	r.Register(0x3000, 0x100, &RegionInfo{ModuleName: "b"})
	r.Register(0x1000, 0x100, &RegionInfo{ModuleName: "a"})
	require.Equal(t, 2, r.Len())

	info, _, ok := r.Classify(0x1001, false)
	require.True(t, ok)
	require.Equal(t, "a", info.ModuleName)

	r.Unregister(0x1000)
	require.Equal(t, 1, r.Len())
	_, _, ok = r.Classify(0x1001, false)
	require.False(t, ok)

	// Unknown start is ignored.
	r.Unregister(0x9000)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_rejectsOverlap(t *testing.T) {
	var r Registry
	r.Register(0x1000, 0x100, &RegionInfo{})
	require.Panics(t, func() { r.Register(0x1080, 0x100, &RegionInfo{}) })
	require.Panics(t, func() { r.Register(0x0f80, 0x100, &RegionInfo{}) })
}

func TestCompactUnwindEntry_IsDWARF(t *testing.T) {
	require.True(t, CompactUnwindEntry{Encoding: 0x03000000}.IsDWARF())
	require.True(t, CompactUnwindEntry{Encoding: 0x0300abcd}.IsDWARF())
	require.False(t, CompactUnwindEntry{Encoding: 0x01000000}.IsDWARF())
	require.False(t, CompactUnwindEntry{Encoding: 0}.IsDWARF())
}
