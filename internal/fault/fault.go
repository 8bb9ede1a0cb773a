// Package fault maps faulting code addresses back to the compiled function
// and trap class that produced them.
//
// Engines register each compiled code region once, with the trap sites laid
// down during compilation. When a synchronous fault arrives at an address
// inside a registered region, Classify resolves it to a TrapCode; addresses
// outside every region belong to the host and must be re-raised untouched.
package fault

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wavmio/wavm/internal/wasmdebug"
)

// Site is one potentially-trapping location within a compiled function.
type Site struct {
	// Offset is the byte offset of the instruction within the region.
	Offset uint32
	// Code is the trap raised when execution faults here.
	Code wasmdebug.TrapCode
}

// RegionInfo identifies the function a code region was compiled from.
type RegionInfo struct {
	// ModuleName is the instance or artifact name.
	ModuleName string
	// FuncIndex is the function's position in the module index namespace.
	FuncIndex uint32
	// Sites are the region's trap sites sorted by Offset ascending.
	Sites []Site
}

type region struct {
	start, end uintptr // [start, end)
	info       *RegionInfo
}

// Registry tracks live compiled-code regions. The zero value is ready to
// use. Lookups take a read lock only, so fault classification never blocks
// on a concurrent module compilation.
type Registry struct {
	mux sync.RWMutex
	// regions is sorted by start address. Regions never overlap.
	regions []region
}

// Register adds the region [start, start+size). Sites must already be
// sorted by offset. Registering an overlapping range is a bug in the caller.
func (r *Registry) Register(start, size uintptr, info *RegionInfo) {
	r.mux.Lock()
	defer r.mux.Unlock()

	end := start + size
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].start >= start
	})
	if i < len(r.regions) && r.regions[i].start < end {
		panic(fmt.Errorf("BUG: code region %#x-%#x overlaps existing region at %#x", start, end, r.regions[i].start))
	}
	if i > 0 && r.regions[i-1].end > start {
		panic(fmt.Errorf("BUG: code region %#x-%#x overlaps existing region at %#x", start, end, r.regions[i-1].start))
	}

	r.regions = append(r.regions, region{})
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = region{start: start, end: end, info: info}
}

// Unregister removes the region starting at start, typically when its module
// is deleted from the engine. Unknown starts are ignored.
func (r *Registry) Unregister(start uintptr) {
	r.mux.Lock()
	defer r.mux.Unlock()

	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].start >= start
	})
	if i < len(r.regions) && r.regions[i].start == start {
		r.regions = append(r.regions[:i], r.regions[i+1:]...)
	}
}

// Classify resolves a faulting address to its trap site.
//
// A hardware fault reports the address of the faulting instruction itself,
// so the lookup within a region is for the nearest trap site at or before
// the offset. When exact is true the offset must match a site exactly; that
// mode serves explicit (software-raised) traps whose address is the trap
// instruction.
//
// The third result is false when pc lies outside every registered region.
// Such a fault did not come from compiled wasm code and the caller must
// re-raise it to the host rather than swallow it as a wasm trap.
func (r *Registry) Classify(pc uintptr, exact bool) (*RegionInfo, *Site, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].start > pc
	})
	if i == 0 {
		return nil, nil, false
	}
	reg := &r.regions[i-1]
	if pc >= reg.end {
		return nil, nil, false
	}

	offset := uint32(pc - reg.start)
	sites := reg.info.Sites
	j := sort.Search(len(sites), func(j int) bool {
		return sites[j].Offset > offset
	})
	if j == 0 {
		return reg.info, nil, true
	}
	site := &sites[j-1]
	if exact && site.Offset != offset {
		return reg.info, nil, true
	}
	return reg.info, site, true
}

// Len returns the number of registered regions.
func (r *Registry) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.regions)
}
