// Package space implements GasSpace (spec.md §4.3): the thin layer that
// turns superpage indices from the tracker into committed virtual
// addresses. It is the single process-wide owner of the VM layer and the
// superpage tracker; everything above it (superpage, heap) talks only in
// base pointers and superpage counts.
//
// Grounded on biscuit's Physmem_t as the "one struct owns the VM-facing
// bookkeeping" shape, generalized from biscuit's single fixed physical
// window to the multi-node virtual GAS layout spec.md §3 describes.
package space

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/fgindraud/givy/bootstrap"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/superpage"
	"github.com/fgindraud/givy/tracker"
	"github.com/fgindraud/givy/vmlayer"
)

// ErrBadNode is a contract violation: a node id outside [0, NodeCount).
var ErrBadNode = errors.New("space: node id out of range")

// ErrOutsideGas is a contract violation: a pointer outside the reserved
// global address space.
var ErrOutsideGas = errors.New("space: pointer outside reserved region")

// Space is the singleton GasSpace: one VM reservation spanning NodeCount
// contiguous node areas of SuperpagesPerNode superpages each.
type Space struct {
	vm                vmlayer.VM
	tr                *tracker.Tracker
	base              uintptr
	superpagesPerNode uint64
	nodeCount         int

	blocks sync.Map // base uintptr -> *superpage.Block
}

// New reserves the whole GAS region [base, base+nodeCount*superpagesPerNode*SUPERPAGE)
// via vm, bootstraps the tracker's bitmap tables out of bump, and returns
// the constructed Space. This is the one place in the allocator that runs
// before any ThreadLocalHeap exists (spec.md §6 "used exactly at
// initialization of GasSpace").
func New(vm vmlayer.VM, base uintptr, superpagesPerNode uint64, nodeCount int, bump *bootstrap.Bump) (*Space, error) {
	total := superpagesPerNode * uint64(nodeCount)
	size := uintptr(total) * geometry.SuperpageSize
	if err := vm.Reserve(base, size); err != nil {
		return nil, err
	}
	words := tracker.WordsFor(total)
	mapping := bumpWords(bump, words)
	sequence := bumpWords(bump, words)
	tr := tracker.New(total, mapping, sequence)
	return &Space{vm: vm, tr: tr, base: base, superpagesPerNode: superpagesPerNode, nodeCount: nodeCount}, nil
}

// bumpWords carves a zeroed []uint64 of length words out of the bootstrap
// arena, reinterpreting the returned byte block in place (the tracker's
// bitmaps never need to outlive the arena, and there are no other
// consumers of that memory, so aliasing it this way is safe).
func bumpWords(bump *bootstrap.Bump, words uint64) []uint64 {
	if words == 0 {
		return nil
	}
	block, _ := bump.Allocate(int(words)*8, 8)
	return unsafe.Slice((*uint64)(unsafe.Pointer(&block.Bytes[0])), words)
}

// Tracker exposes the underlying SuperpageTracker, for callers that need
// it directly rather than through SpbBase and the run helpers.
func (s *Space) Tracker() *tracker.Tracker { return s.tr }

// PageSize returns the VM layer's reported OS page size.
func (s *Space) PageSize() int { return s.vm.PageSize() }

func (s *Space) localArea(nodeID int) (tracker.Range, error) {
	if nodeID < 0 || nodeID >= s.nodeCount {
		return tracker.Range{}, ErrBadNode
	}
	start := uint64(nodeID) * s.superpagesPerNode
	return tracker.Range{Start: start, End: start + s.superpagesPerNode}, nil
}

func (s *Space) addrOf(superpage uint64) uintptr {
	return s.base + uintptr(superpage)*geometry.SuperpageSize
}

func (s *Space) superpageOf(ptr uintptr) uint64 {
	return uint64((ptr - s.base) / geometry.SuperpageSize)
}

// ReserveLocalRun acquires n contiguous superpages from nodeID's local
// area and commits physical storage for them, returning the base
// address (spec.md §4.3 "reserve_local_run").
func (s *Space) ReserveLocalRun(nodeID int, n uint64) (uintptr, error) {
	area, err := s.localArea(nodeID)
	if err != nil {
		return 0, err
	}
	base, err := s.tr.Acquire(n, area)
	if err != nil {
		return 0, err
	}
	addr := s.addrOf(base)
	if err := s.vm.Commit(addr, uintptr(n)*geometry.SuperpageSize); err != nil {
		return 0, err
	}
	return addr, nil
}

// ReleaseRun decommits and releases an n-superpage run starting at base
// (spec.md §4.3 "release_run").
func (s *Space) ReleaseRun(base uintptr, n uint64) error {
	if err := s.vm.Decommit(base, uintptr(n)*geometry.SuperpageSize); err != nil {
		return err
	}
	idx := s.superpageOf(base)
	s.tr.Release(tracker.Range{Start: idx, End: idx + n})
	return nil
}

// TrimRun decommits the trailing n-1 superpages of an n-superpage run and
// shrinks the tracker reservation to its first superpage (spec.md §4.3
// "trim_run", used when a huge allocation's extra superpages are freed).
func (s *Space) TrimRun(base uintptr, n uint64) error {
	if n <= 1 {
		return nil
	}
	tailAddr := base + geometry.SuperpageSize
	if err := s.vm.Decommit(tailAddr, uintptr(n-1)*geometry.SuperpageSize); err != nil {
		return err
	}
	idx := s.superpageOf(base)
	s.tr.Trim(tracker.Range{Start: idx, End: idx + n})
	return nil
}

// SpbBase resolves any interior pointer within a reserved run to the
// run's base address, by walking the sequence table backward (spec.md
// §4.3 "spb_base", I2).
func (s *Space) SpbBase(ptr uintptr) uintptr {
	idx := s.superpageOf(ptr)
	first := s.tr.SequenceStart(idx)
	return s.addrOf(first)
}

// InGas reports whether ptr falls inside the reserved global address
// space.
func (s *Space) InGas(ptr uintptr) bool {
	return ptr >= s.base && ptr < s.base+uintptr(s.nodeCount)*uintptr(s.superpagesPerNode)*geometry.SuperpageSize
}

// InLocalInterval reports whether ptr falls inside nodeID's local area.
func (s *Space) InLocalInterval(ptr uintptr, nodeID int) bool {
	area, err := s.localArea(nodeID)
	if err != nil {
		return false
	}
	idx := s.superpageOf(ptr)
	return idx >= area.Start && idx < area.End
}

// NodeOf returns the node id owning ptr's superpage.
func (s *Space) NodeOf(ptr uintptr) int {
	return int(s.superpageOf(ptr) / s.superpagesPerNode)
}

// RegisterBlock records that base is the address of SuperpageBlock blk,
// so any thread resolving spec.md's spb_base(ptr) to that address can
// look up the live *superpage.Block it names. Every heap that
// constructs a new SuperpageBlock must register it here; adoption relies
// on this process-wide registry rather than any one heap's private state.
func (s *Space) RegisterBlock(base uintptr, blk *superpage.Block) {
	s.blocks.Store(base, blk)
}

// UnregisterBlock removes base's entry once its SuperpageBlock is
// destroyed and its superpages released back to the tracker.
func (s *Space) UnregisterBlock(base uintptr) {
	s.blocks.Delete(base)
}

// BlockAt looks up the SuperpageBlock registered at base.
func (s *Space) BlockAt(base uintptr) (*superpage.Block, bool) {
	v, ok := s.blocks.Load(base)
	if !ok {
		return nil, false
	}
	return v.(*superpage.Block), true
}
