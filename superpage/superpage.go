// Package superpage implements SuperpageBlock (spec.md §3/§4.4): the
// primary unit of reservation. A Block occupies one or more superpages;
// its first superpage carries a page-block table (pageblock.Table) and,
// optionally, the leading pages of a huge allocation whose tail spills
// into the block's remaining superpages.
//
// Grounded on biscuit's Physmem_t/Page_t ownership bookkeeping
// (biscuit/src/mem/mem.go) for the atomic-owner-and-freelist shape,
// generalized to runs of pages instead of single physical pages.
package superpage

import (
	"sync/atomic"

	"github.com/fgindraud/givy/collections"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/pageblock"
)

// quicklistExactLimit is the number of exact-size slots the unused-PB
// quicklist carries before falling back to the sorted tail (spec.md
// §4.4 "exact-size slots up to 10").
const quicklistExactLimit = 10

// HeaderPages is the number of pages at the start of the first superpage
// reserved for the SPB header. The header itself is a normal Go-managed
// struct (Block), never stored in the raw page bytes, but the page range
// is still carved out and marked reserved so the page-block accounting
// spec.md §4.4 describes (and scenario S1's arithmetic) holds.
const HeaderPages = 1

// Owner identifies the heap owning a Block, or 0 for an orphan. It is an
// opaque token (the owning *heap.Heap's address, reinterpreted) rather
// than a typed pointer so this package does not need to import heap.
type Owner uintptr

func quickSize(h *pageblock.Header) int { l, r := h.Pages(); return r - l }

// Block is one SuperpageBlock.
type Block struct {
	Base                    uintptr
	SuperpageCount          uint64
	HugeAllocStartPageIndex int // into the first superpage; PAGES_PER_SUPERPAGE when absent

	owner atomic.Uintptr

	Pages  pageblock.Table
	unused *collections.Quicklist[pageblock.Header]

	owned collections.Node[Block] // membership in the owning heap's owned-SPB list
}

// OwnedField is the FieldOf accessor for a heap's owned-SPB list.
func OwnedField(b *Block) *collections.Node[Block] { return &b.owned }

// New constructs a Block spanning superpageCount superpages starting at
// base, with hugeAllocPageCount pages (possibly 0) of huge allocation
// living in the tail of the first superpage and all further superpages.
// Formats the initial reserved/unused/huge regions and seeds the unused
// quicklist, per spec.md §4.4's construction step.
func New(base uintptr, superpageCount uint64, hugeAllocPageCount int, owner Owner) *Block {
	b := &Block{
		Base:           base,
		SuperpageCount: superpageCount,
		unused:         collections.NewQuicklist(quicklistExactLimit, pageblock.QuickField, quickSize),
	}
	b.owner.Store(uintptr(owner))
	b.format(hugeAllocPageCount)
	return b
}

func (b *Block) format(hugeAllocPageCount int) {
	maxAvailable := geometry.PagesPerSuperpage - hugeAllocPageCount
	if maxAvailable < HeaderPages {
		maxAvailable = HeaderPages
	}
	b.HugeAllocStartPageIndex = maxAvailable
	b.Pages = *pageblock.NewTable()
	b.formatAt(0, HeaderPages, pageblock.Reserved)
	if maxAvailable > HeaderPages {
		h := b.formatAt(HeaderPages, maxAvailable-HeaderPages, pageblock.Unused)
		b.unused.Insert(h)
	}
	if maxAvailable < geometry.PagesPerSuperpage {
		b.formatAt(maxAvailable, geometry.PagesPerSuperpage-maxAvailable, pageblock.Huge)
	}
}

// formatAt formats pages [start, start+length) as typ and stamps the
// resulting live header's Base with the run's actual address, since
// pageblock.Table has no notion of where in virtual memory it sits.
func (b *Block) formatAt(start, length int, typ pageblock.MemType) *pageblock.Header {
	h := b.Pages.Format(start, length, typ)
	h.Base = b.PageAddr(start)
	return h
}

// PageAddr returns the address of the first byte of page index idx within
// the first superpage.
func (b *Block) PageAddr(idx int) uintptr {
	return b.Base + uintptr(idx)*geometry.PageSize
}

// HasHugeAlloc reports whether the block currently carries a live huge
// allocation.
func (b *Block) HasHugeAlloc() bool {
	return b.HugeAllocStartPageIndex < geometry.PagesPerSuperpage
}

// AllocatePageBlock carves a run of at least pageCount pages formatted as
// typ out of the unused quicklist, splitting the overflow tail back into
// the quicklist if the chosen run is larger than needed (spec.md §4.4
// "allocate_page_block"). Returns nil if no unused run is large enough.
func (b *Block) AllocatePageBlock(pageCount int, typ pageblock.MemType) *pageblock.Header {
	run := b.unused.Take(pageCount)
	if run == nil {
		return nil
	}
	start, end := run.Pages()
	length := end - start
	if length > pageCount {
		tail := b.formatAt(start+pageCount, length-pageCount, pageblock.Unused)
		b.unused.Insert(tail)
	}
	return b.formatAt(start, pageCount, typ)
}

// FreePageBlock reformats h as unused, coalescing with any immediately
// adjacent unused neighbors within the first superpage's table (spec.md
// §4.4 "free_page_block").
func (b *Block) FreePageBlock(h *pageblock.Header) *pageblock.Header {
	start, end := h.Pages()
	if prev := b.Pages.Prev(h); prev != nil && prev.Type == pageblock.Unused {
		ps, _ := prev.Pages()
		b.unused.Remove(prev)
		start = ps
	}
	if next := b.Pages.Next(h); next != nil && next.Type == pageblock.Unused {
		_, ne := next.Pages()
		b.unused.Remove(next)
		end = ne
	}
	merged := b.formatAt(start, end-start, pageblock.Unused)
	b.unused.Insert(merged)
	return merged
}

// DestroyHugeAlloc frees the huge-allocation tail page block within the
// first superpage (as a medium free) and marks the block as
// single-superpage. The caller (heap) must also call space.TrimRun to
// actually decommit and release the trailing superpages (spec.md §4.4
// "destroy_huge_alloc").
func (b *Block) DestroyHugeAlloc() {
	if b.HasHugeAlloc() {
		h := b.Pages.LiveHeaderAt(b.HugeAllocStartPageIndex)
		b.FreePageBlock(h)
	}
	b.HugeAllocStartPageIndex = geometry.PagesPerSuperpage
	b.SuperpageCount = 1
}

// NonHugeRegionUnused reports whether every page block between the
// header and the huge-allocation start (or the table end, if there is no
// huge allocation) is unused.
func (b *Block) NonHugeRegionUnused() bool {
	limit := b.HugeAllocStartPageIndex
	start := HeaderPages
	for start < limit {
		h := b.Pages.LiveHeaderAt(start)
		if h.Type != pageblock.Unused {
			return false
		}
		_, end := h.Pages()
		start = end
	}
	return true
}

// FullyUnused reports whether every non-reserved page block is unused and
// no huge allocation remains (spec.md I6, the SPB-destruction condition).
func (b *Block) FullyUnused() bool {
	return !b.HasHugeAlloc() && b.NonHugeRegionUnused()
}

// GetOwner acquire-loads the current owner (0 means orphan).
func (b *Block) GetOwner() Owner { return Owner(b.owner.Load()) }

// Disown release-stores a null owner.
func (b *Block) Disown() { b.owner.Store(0) }

// Adopt attempts to claim an orphan block for h via CAS, returning
// whether it won.
func (b *Block) Adopt(h Owner) bool {
	return b.owner.CompareAndSwap(0, uintptr(h))
}

// FromInteriorPtr derives the SPB header for an allocation known to live
// in the block's first superpage, by aligning ptr down to SUPERPAGE. It
// does not work for a huge allocation's trailing superpages; callers must
// use space.Space.SpbBase for those (spec.md §4.4 "from_interior_ptr").
func FromInteriorPtr(ptr uintptr) uintptr {
	return ptr &^ (geometry.SuperpageSize - 1)
}
