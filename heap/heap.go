// Package heap implements ThreadLocalHeap (spec.md §3/§4.5): the
// per-thread allocation front end. One Heap is meant to be used by
// exactly one goroutine at a time (Go has no implicit thread-local
// storage, so callers hold their Heap explicitly, as spec.md §9 allows
// for languages without one); every other goroutine may only touch it
// through Deallocate's remote-free path.
//
// Grounded on biscuit's per-CPU run queue / free-page-list ownership
// pattern (biscuit/src/mem, biscuit/src/sched) for the "owned resources,
// touched by one thread except for a narrow cross-thread handoff" shape.
package heap

import (
	"errors"
	"unsafe"

	"github.com/google/uuid"

	"github.com/fgindraud/givy/collections"
	"github.com/fgindraud/givy/fault"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/pageblock"
	"github.com/fgindraud/givy/rawmem"
	"github.com/fgindraud/givy/sizeclass"
	"github.com/fgindraud/givy/space"
	"github.com/fgindraud/givy/superpage"
	"github.com/fgindraud/givy/util"
)

// ErrOutOfSpace propagates a fatal tracker.ErrOutOfSpace or vmlayer
// failure up through Allocate (spec.md §7 "address-space exhaustion" /
// "VM failure": both fatal, no retry, no silent smaller fallback).
var ErrOutOfSpace = errors.New("heap: unable to satisfy allocation")

// Block is a successful allocation: its address and actual usable size,
// which may be larger than requested (spec.md §6 "allocate(size, align)
// → block").
type Block struct {
	Ptr  uintptr
	Size int
}

// mediumHigh is the size above which Allocate takes the huge path: the
// number of pages a single SPB can serve outside its reserved header,
// times the page size (spec.md §4.5 "MEDIUM_HIGH = available pages per
// SPB × page size").
func mediumHigh(pageSize int) int {
	return (geometry.PagesPerSuperpage - superpage.HeaderPages) * pageSize
}

// Heap is one ThreadLocalHeap.
type Heap struct {
	id      uuid.UUID
	sp      *space.Space
	nodeID  int
	classes *sizeclass.Table

	owned   *collections.List[superpage.Block]
	active  []*collections.List[pageblock.Header]
	mailbox rawmem.Mailbox
}

// New constructs a Heap drawing superpages from nodeID's local area of
// sp, using classes for its small-allocation size-class ladder. Each
// Heap gets a random identity, useful for diagnostics (logging which
// heap adopted or remote-freed into which) since Go gives goroutines no
// stable identifier of their own to log instead.
func New(sp *space.Space, nodeID int, classes *sizeclass.Table) *Heap {
	active := make([]*collections.List[pageblock.Header], len(classes.Classes()))
	for i := range active {
		active[i] = collections.NewList(pageblock.ActiveField)
	}
	return &Heap{
		id:      uuid.New(),
		sp:      sp,
		nodeID:  nodeID,
		classes: classes,
		owned:   collections.NewList(superpage.OwnedField),
		active:  active,
	}
}

// ID returns this heap's diagnostic identity.
func (h *Heap) ID() uuid.UUID { return h.id }

// self returns this heap's opaque owner identity.
func (h *Heap) self() superpage.Owner {
	return superpage.Owner(uintptr(unsafe.Pointer(h)))
}

// Allocate dispatches to the small, medium, or huge path by effective
// size (spec.md §4.5). align must be a power of two no larger than one
// page; effective size is max(size, align).
func (h *Heap) Allocate(size, align int) (Block, error) {
	fault.Assert(align > 0 && util.IsPow2(align) && align <= geometry.PageSize,
		"heap: bad align %d", align)
	fault.Assert(size > 0, "heap: zero-size allocation")
	h.drainMailbox()
	eff := util.Max(size, align)

	switch {
	case eff < geometry.PageSize:
		return h.allocateSmall(eff)
	case eff < mediumHigh(h.sp.PageSize()):
		return h.allocateMedium(eff)
	default:
		return h.allocateHuge(eff)
	}
}

// --- small path ---

func (h *Heap) allocateSmall(size int) (Block, error) {
	cls, ok := h.classes.ClassFor(size)
	fault.Assert(ok, "heap: no size class for %d", size)

	list := h.active[cls.ID]
	pb := list.Front()
	if pb == nil {
		var err error
		pb, err = h.newSmallPB(cls)
		if err != nil {
			return Block{}, err
		}
		list.PushFront(pb)
	}

	addr := takeSmallBlock(pb, cls)
	if smallAvailable(pb, cls) == 0 {
		list.Remove(pb)
	}
	return Block{Ptr: addr, Size: cls.BlockSize}, nil
}

// newSmallPB finds or creates a one-page block formatted as Small for
// cls, trying every owned SPB before reserving a new one (spec.md §4.5
// "create a new PB in some owned SPB... or a new SPB").
func (h *Heap) newSmallPB(cls sizeclass.Class) (*pageblock.Header, error) {
	var pb *pageblock.Header
	h.owned.Each(func(spb *superpage.Block) bool {
		if p := spb.AllocatePageBlock(1, pageblock.Small); p != nil {
			pb = p
			return false
		}
		return true
	})
	if pb == nil {
		spb, err := h.newOwnedSPB(0)
		if err != nil {
			return nil, err
		}
		pb = spb.AllocatePageBlock(1, pageblock.Small)
		fault.Assert(pb != nil, "heap: fresh SPB cannot host a one-page small PB")
	}
	pb.ClassID = cls.ID
	return pb, nil
}

// takeSmallBlock pops a small block from pb's per-PB unused freelist, or
// carves a fresh one if the freelist is empty (spec.md §4.5
// "take_small_block").
func takeSmallBlock(pb *pageblock.Header, cls sizeclass.Class) uintptr {
	if pb.UnusedHead != 0 {
		addr := pb.UnusedHead
		pb.UnusedHead = rawmem.ReadUnusedBlock(addr).Next
		pb.UnusedCount--
		return addr
	}
	addr := pb.Base + uintptr(pb.Carved)*uintptr(cls.BlockSize)
	pb.Carved++
	return addr
}

// putSmallBlock pushes ptr, aligned down to its block's boundary, onto
// pb's per-PB unused freelist (spec.md §4.5 "put_small_block").
func putSmallBlock(pb *pageblock.Header, cls sizeclass.Class, ptr uintptr) {
	offset := (ptr - pb.Base) / uintptr(cls.BlockSize)
	addr := pb.Base + offset*uintptr(cls.BlockSize)
	rawmem.WriteUnusedBlock(addr, rawmem.UnusedBlock{Next: pb.UnusedHead, SPB: 0})
	pb.UnusedHead = addr
	pb.UnusedCount++
}

func smallAvailable(pb *pageblock.Header, cls sizeclass.Class) int {
	return cls.NBlocks - pb.Carved + pb.UnusedCount
}

// --- medium path ---

func (h *Heap) allocateMedium(size int) (Block, error) {
	pageCount := util.Roundup(size, geometry.PageSize) / geometry.PageSize

	var pb *pageblock.Header
	h.owned.Each(func(spb *superpage.Block) bool {
		if p := spb.AllocatePageBlock(pageCount, pageblock.Medium); p != nil {
			pb = p
			return false
		}
		return true
	})
	if pb == nil {
		spb, err := h.newOwnedSPB(0)
		if err != nil {
			return Block{}, err
		}
		pb = spb.AllocatePageBlock(pageCount, pageblock.Medium)
		fault.Assert(pb != nil, "heap: fresh SPB cannot host a %d-page medium PB", pageCount)
	}
	return Block{Ptr: pb.Base, Size: pageCount * geometry.PageSize}, nil
}

// --- huge path ---

func (h *Heap) allocateHuge(size int) (Block, error) {
	hugePages := util.Roundup(size, geometry.PageSize) / geometry.PageSize

	superpages := uint64(1)
	tailPages := hugePages
	for tailPages > geometry.PagesPerSuperpage-superpage.HeaderPages {
		superpages++
		tailPages -= geometry.PagesPerSuperpage
	}

	spb, err := h.newOwnedSPBSpanning(superpages, tailPages)
	if err != nil {
		return Block{}, err
	}
	addr := spb.PageAddr(spb.HugeAllocStartPageIndex)
	return Block{Ptr: addr, Size: hugePages * geometry.PageSize}, nil
}

// newOwnedSPB reserves and registers a new single-superpage SPB with
// hugeAllocPageCount pages of huge tail (0 for small/medium hosts).
func (h *Heap) newOwnedSPB(hugeAllocPageCount int) (*superpage.Block, error) {
	return h.newOwnedSPBSpanning(1, hugeAllocPageCount)
}

func (h *Heap) newOwnedSPBSpanning(superpages uint64, tailPages int) (*superpage.Block, error) {
	base, err := h.sp.ReserveLocalRun(h.nodeID, superpages)
	if err != nil {
		return nil, ErrOutOfSpace
	}
	spb := superpage.New(base, superpages, tailPages, h.self())
	h.sp.RegisterBlock(base, spb)
	h.owned.PushFront(spb)
	return spb, nil
}

// --- deallocation ---

// ErrCrossNode is returned by Deallocate for a pointer belonging to a
// node area other than this heap's own. Cross-node remote-free is a
// documented non-goal: the allocator has no coherence protocol carrying
// a free across node boundaries, so such a call is a caller error rather
// than something this package attempts to service.
var ErrCrossNode = errors.New("heap: cross-node deallocate not supported")

// Deallocate frees the allocation containing ptr, which may be any
// interior pointer into it (spec.md §4.5 "deallocate").
func (h *Heap) Deallocate(ptr uintptr) error {
	if h.sp.NodeOf(ptr) != h.nodeID {
		return ErrCrossNode
	}

	h.drainMailbox()

	spbBase := h.sp.SpbBase(ptr)
	spb, ok := h.sp.BlockAt(spbBase)
	fault.Assert(ok, "heap: deallocate of pointer outside any known SPB")

	owner := spb.GetOwner()
	if owner == 0 {
		if spb.Adopt(h.self()) {
			h.adoptSPB(spb)
			h.localFree(spb, ptr)
			return nil
		}
		owner = spb.GetOwner()
	}
	if owner == h.self() {
		h.localFree(spb, ptr)
		return nil
	}
	h.remoteFree(owner, spb, ptr)
	return nil
}

// DeallocateBlock is Deallocate with an advisory size hint (spec.md §4.5
// "deallocate(block): same, with size hint"); the hint is not currently
// used since every live allocation carries its size class/PB length.
func (h *Heap) DeallocateBlock(b Block) error {
	return h.Deallocate(b.Ptr)
}

// adoptSPB links an orphan SPB the caller just won into the owned list
// and reinserts its non-full, non-empty small PBs into this heap's
// per-size-class active lists (spec.md §4.5 "proceed as owner").
func (h *Heap) adoptSPB(spb *superpage.Block) {
	h.owned.PushFront(spb)
	spb.Pages.EachLive(func(hdr *pageblock.Header) {
		if hdr.Type != pageblock.Small {
			return
		}
		cls := h.classes.Classes()[hdr.ClassID]
		if avail := smallAvailable(hdr, cls); avail > 0 && avail < cls.NBlocks {
			h.active[hdr.ClassID].PushFront(hdr)
		}
	})
}

// remoteFree places an UnusedBlock node inside the freed allocation and
// pushes it onto owner's mailbox (spec.md §4.5 "remote free").
func (h *Heap) remoteFree(owner superpage.Owner, spb *superpage.Block, ptr uintptr) {
	addr := ptr
	if !spb.HasHugeAlloc() || pageIndex(spb, ptr) < spb.HugeAllocStartPageIndex {
		live := spb.Pages.LiveHeaderAt(pageIndex(spb, ptr))
		if live.Type == pageblock.Small {
			cls := h.classes.Classes()[live.ClassID]
			offset := (ptr - live.Base) / uintptr(cls.BlockSize)
			addr = live.Base + offset*uintptr(cls.BlockSize)
		}
	}
	target := (*Heap)(unsafe.Pointer(uintptr(owner)))
	target.mailbox.Push(addr, spb.Base)
}

// drainMailbox atomically takes the whole mailbox and local-frees every
// node in LIFO order (spec.md §4.5 "mailbox drain").
func (h *Heap) drainMailbox() {
	addr := h.mailbox.TakeAll()
	for addr != 0 {
		ub := rawmem.ReadUnusedBlock(addr)
		next := ub.Next
		if spb, ok := h.sp.BlockAt(ub.SPB); ok {
			h.localFree(spb, addr)
		}
		addr = next
	}
}

func pageIndex(spb *superpage.Block, ptr uintptr) int {
	return int((ptr - spb.Base) / geometry.PageSize)
}

// localFree frees ptr within an SPB this heap owns (spec.md §4.5 "local
// free").
func (h *Heap) localFree(spb *superpage.Block, ptr uintptr) {
	idx := pageIndex(spb, ptr)
	if spb.HasHugeAlloc() && idx >= spb.HugeAllocStartPageIndex {
		h.freeHuge(spb)
		return
	}

	live := spb.Pages.LiveHeaderAt(idx)
	switch live.Type {
	case pageblock.Small:
		h.freeSmall(spb, live, ptr)
	case pageblock.Medium:
		spb.FreePageBlock(live)
		if spb.FullyUnused() {
			h.destroySPB(spb)
		}
	default:
		fault.Abort("heap: deallocate of non-live page type %s", live.Type)
	}
}

func (h *Heap) freeSmall(spb *superpage.Block, live *pageblock.Header, ptr uintptr) {
	cls := h.classes.Classes()[live.ClassID]
	wasFull := smallAvailable(live, cls) == 0
	putSmallBlock(live, cls, ptr)
	avail := smallAvailable(live, cls)

	switch {
	case avail == cls.NBlocks:
		if !wasFull {
			h.active[live.ClassID].Remove(live)
		}
		spb.FreePageBlock(live)
		if spb.FullyUnused() {
			h.destroySPB(spb)
		}
	case wasFull && avail == 1:
		h.active[live.ClassID].PushFront(live)
	}
}

func (h *Heap) freeHuge(spb *superpage.Block) {
	if spb.NonHugeRegionUnused() {
		h.destroySPB(spb)
		return
	}
	superpages := spb.SuperpageCount
	base := spb.Base
	spb.DestroyHugeAlloc()
	if err := h.sp.TrimRun(base, superpages); err != nil {
		fault.Abort("heap: trim_run failed after destroy_huge_alloc: %v", err)
	}
}

func (h *Heap) destroySPB(spb *superpage.Block) {
	h.owned.Remove(spb)
	h.sp.UnregisterBlock(spb.Base)
	if err := h.sp.ReleaseRun(spb.Base, spb.SuperpageCount); err != nil {
		fault.Abort("heap: release_run failed destroying SPB: %v", err)
	}
}

// Detach releases this heap's hold on its owned SPBs at thread exit:
// every small PB is unlinked from its active list, then every owned SPB
// is disowned (not released — the memory remains mapped until another
// heap adopts and eventually destroys it). Deallocate must not be called
// on this heap again afterward (spec.md §4.5 "heap destruction").
func (h *Heap) Detach() {
	h.drainMailbox()
	h.owned.Each(func(spb *superpage.Block) bool {
		spb.Pages.EachLive(func(hdr *pageblock.Header) {
			if hdr.Type == pageblock.Small {
				h.active[hdr.ClassID].Remove(hdr)
			}
		})
		spb.Disown()
		return true
	})
}
