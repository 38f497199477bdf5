// Package pageblock implements the per-superpage page-block table of
// spec.md §3/§4.4: a fixed array of page headers, one per page of the
// first superpage of an SPB, carved into maximal runs ("page blocks")
// that never cross the superpage boundary. Grounded on the page-header
// array walking in biscuit's biscuit/src/mem/mem.go (Physmem_t.Pgs,
// indexed by page number) and on the "expose a raw address, not a Go
// pointer" off-heap allocator style visible in the pack's
// cznic/memory-shaped examples: allocations are uintptr spans into
// VM-committed memory, not Go-managed objects, since the memory is
// reused as raw bytes (freelist links get written directly into freed
// blocks) the way spec.md §9 requires.
package pageblock

import (
	"github.com/fgindraud/givy/collections"
	"github.com/fgindraud/givy/geometry"
)

// MemType is the state of one page block (spec.md §3 "States").
type MemType int

const (
	// Continuation marks a non-live header redirected via Head.
	Continuation MemType = iota
	// Reserved pages hold the SPB header itself.
	Reserved
	// Unused pages are free, a coalescing candidate.
	Unused
	// Small pages are carved into fixed-size blocks of one size class.
	Small
	// Medium pages serve a single medium allocation.
	Medium
	// Huge marks the tail region belonging to a huge allocation.
	Huge
)

func (t MemType) String() string {
	switch t {
	case Continuation:
		return "continuation"
	case Reserved:
		return "reserved"
	case Unused:
		return "unused"
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Huge:
		return "huge"
	default:
		return "invalid"
	}
}

// Header is one page's header slot. Only the header at the first page of
// a run is "live" (Head == self, Type != Continuation); every other
// header in the run redirects to the live one via Head (spec.md I3).
type Header struct {
	Type   MemType
	Length int // in pages; only meaningful on the live header
	Head   *Header
	Index  int // this header's page index within the table; set once

	// Small-class bookkeeping; only meaningful when Type == Small.
	ClassID     int
	Carved      int
	UnusedCount int
	UnusedHead  uintptr // address of the first free small block, or 0
	Base        uintptr // address of the first byte this PB's pages cover

	quick  collections.Node[Header] // membership in owning SPB's unused quicklist
	active collections.Node[Header] // membership in owning heap's active-small-PB list
}

// QuickField and ActiveField are the FieldOf accessors collections.List
// needs to thread Header through the unused-quicklist and the
// active-small-PB list respectively.
func QuickField(h *Header) *collections.Node[Header]  { return &h.quick }
func ActiveField(h *Header) *collections.Node[Header] { return &h.active }

// Live returns the live header of the run h.Index belongs to.
func (h *Header) Live() *Header { return h.Head }

// Table is the fixed per-superpage array of page headers.
type Table struct {
	headers [geometry.PagesPerSuperpage]Header
}

// NewTable returns a table with every header's Index pre-set and
// defaulted to Continuation/unlinked; callers must Format at least one
// live run before use.
func NewTable() *Table {
	t := &Table{}
	for i := range t.headers {
		t.headers[i].Index = i
	}
	return t
}

// HeaderAt returns the raw (possibly non-live) header slot at pageIdx.
func (t *Table) HeaderAt(pageIdx int) *Header {
	return &t.headers[pageIdx]
}

// LiveHeaderAt returns the live header of the run containing pageIdx.
func (t *Table) LiveHeaderAt(pageIdx int) *Header {
	return t.headers[pageIdx].Head
}

// Format (re)writes headers [start, start+length) as one live run of the
// given type, with start itself as the live header and every other slot
// redirected to it via Head.
func (t *Table) Format(start, length int, typ MemType) *Header {
	if start < 0 || length <= 0 || start+length > len(t.headers) {
		panic("pageblock: format out of bounds")
	}
	live := &t.headers[start]
	live.Type = typ
	live.Length = length
	live.Head = live
	live.ClassID, live.Carved, live.UnusedCount, live.UnusedHead, live.Base = 0, 0, 0, 0, 0
	for i := start + 1; i < start+length; i++ {
		t.headers[i] = Header{Index: i, Type: Continuation, Head: live}
	}
	return live
}

// Prev returns the live header of the run immediately before h, or nil
// if h starts at page 0.
func (t *Table) Prev(h *Header) *Header {
	if h.Index == 0 {
		return nil
	}
	return t.headers[h.Index-1].Head
}

// Next returns the live header of the run immediately after h, or nil if
// h's run ends at the last page of the table.
func (t *Table) Next(h *Header) *Header {
	end := h.Index + h.Length
	if end >= len(t.headers) {
		return nil
	}
	return t.headers[end].Head
}

// Pages returns the page-index range [start, end) a header's run spans.
func (h *Header) Pages() (start, end int) {
	return h.Index, h.Index + h.Length
}

// EachLive calls fn once per live header, front to back, covering the
// whole table including the reserved header at page 0.
func (t *Table) EachLive(fn func(*Header)) {
	idx := 0
	for idx < len(t.headers) {
		live := t.headers[idx].Head
		fn(live)
		_, end := live.Pages()
		idx = end
	}
}
