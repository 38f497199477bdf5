// Package vmsim is a deterministic, allocation-backed stand-in for
// vmlayer.VM used by the allocator's own test suites, so they don't need
// real mmap/MAP_FIXED privileges to exercise tracker/pageblock/heap logic.
// It backs the whole reserved region with one Go byte slice and tracks
// which ranges are "committed" only for assertions; reads/writes into a
// decommitted range are not actually protected (a real Unix VM is what
// enforces that).
//
// Unlike the real VM, the simulated region's address is not chosen by the
// caller: it is wherever the Go runtime placed the backing slice. Callers
// must read Base() after New and use it as the configured base virtual
// address, so that raw uintptr arithmetic against committed memory
// (rawmem reads/writes, header placement) dereferences real bytes instead
// of an arbitrary address picked before the slice existed.
package vmsim

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/fgindraud/givy/vmlayer"
)

// VM is an in-process fake of vmlayer.VM.
type VM struct {
	mu        sync.Mutex
	pageSize  int
	region    []byte
	base      uintptr
	committed map[uintptr]uintptr // base -> size, of committed sub-ranges
}

var _ vmlayer.VM = (*VM)(nil)

// New allocates a simulated region of size bytes and returns a VM whose
// Base() is the region's real address; Reserve must later be called with
// exactly that base and size.
func New(pageSize int, size uintptr) *VM {
	buf := make([]byte, size)
	return &VM{
		pageSize:  pageSize,
		region:    buf,
		base:      uintptr(unsafe.Pointer(&buf[0])),
		committed: make(map[uintptr]uintptr),
	}
}

// Base returns the simulated region's real address.
func (v *VM) Base() uintptr {
	return v.base
}

func (v *VM) Reserve(base, size uintptr) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if size != uintptr(len(v.region)) {
		return fmt.Errorf("vmsim: reserve size mismatch: got %d want %d", size, len(v.region))
	}
	if base != v.base {
		return fmt.Errorf("vmsim: reserve base mismatch: got %#x want %#x", base, v.base)
	}
	return nil
}

func (v *VM) Commit(base, size uintptr) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if base < v.base || base+size > v.base+uintptr(len(v.region)) {
		return fmt.Errorf("vmsim: commit out of range")
	}
	v.committed[base] = size
	return nil
}

func (v *VM) Decommit(base, size uintptr) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.committed, base)
	return nil
}

func (v *VM) PageSize() int {
	return v.pageSize
}

// CommittedCount reports how many distinct ranges are currently
// committed, for leak-detection assertions (spec.md P8).
func (v *VM) CommittedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.committed)
}
