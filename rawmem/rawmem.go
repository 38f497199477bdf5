// Package rawmem reads and writes small fixed-layout records directly
// into raw, VM-committed memory via unsafe.Pointer, the way biscuit's
// util.Readn/Writen poke typed values into a []uint8 at an offset. It
// backs the allocator's UnusedBlock freelist link, which spec.md §3
// requires to live inside the bytes of the free block itself rather
// than in a separately-allocated Go object (this memory is off-heap:
// committed by vmlayer, never scanned by the Go GC, so writing a plain
// struct through unsafe.Pointer is safe).
package rawmem

import (
	"sync/atomic"
	"unsafe"
)

// UnusedBlock is the freelist link embedded in the first bytes of a free
// small block (spec.md §3 "UnusedBlock"): the address of the next free
// block in the same page block's freelist, and optionally the base
// address of the enclosing SPB so a remote-free drain does not need to
// re-resolve it via the tracker.
type UnusedBlock struct {
	Next uintptr
	SPB  uintptr
}

// Size is sizeof(UnusedBlock) in bytes: the smallest a size class can be.
const Size = unsafe.Sizeof(UnusedBlock{})

// WriteUnusedBlock writes an UnusedBlock at addr.
func WriteUnusedBlock(addr uintptr, v UnusedBlock) {
	*(*UnusedBlock)(unsafe.Pointer(addr)) = v
}

// ReadUnusedBlock reads the UnusedBlock at addr.
func ReadUnusedBlock(addr uintptr) UnusedBlock {
	return *(*UnusedBlock)(unsafe.Pointer(addr))
}

// Zero zeroes n bytes starting at addr.
func Zero(addr uintptr, n int) {
	s := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	for i := range s {
		s[i] = 0
	}
}

// Mailbox is a lock-free stack of UnusedBlock records threaded through
// their own Next field, living entirely in raw committed memory rather
// than as Go-managed objects (spec.md §4.5 "remote free... push onto the
// owner's atomic mailbox"). It is the same push/take-all shape as
// collections.Stack, specialized to off-heap storage since a freed
// small block's bytes, not a Go struct, carry the link.
type Mailbox struct {
	head atomic.Uintptr
}

// Push writes an UnusedBlock{Next: <previous head>, SPB: spb} at addr and
// links it onto the mailbox via CAS retry loop. Safe from any goroutine.
func (m *Mailbox) Push(addr uintptr, spb uintptr) {
	for {
		old := m.head.Load()
		WriteUnusedBlock(addr, UnusedBlock{Next: old, SPB: spb})
		if m.head.CompareAndSwap(old, addr) {
			return
		}
	}
}

// TakeAll atomically detaches and returns the address of the top node of
// the mailbox (0 if empty), leaving the mailbox empty.
func (m *Mailbox) TakeAll() uintptr {
	return m.head.Swap(0)
}
