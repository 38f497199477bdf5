// Package bootstrap is the allocator consumed exactly once, before the
// main allocator exists, to size the superpage tracker's bitmap tables
// (spec.md §6 "Bootstrap allocator").
package bootstrap

import "github.com/fgindraud/givy/util"

// Block is a bootstrap-allocated region: a plain Go byte slice standing
// in for the raw memory a freestanding kernel would carve out of a
// fixed early-boot arena.
type Block struct {
	Bytes []uint8
}

// Bump is a single-shot bump allocator: allocations are never individually
// freed, matching the one-time use spec.md §6 describes (it exists solely
// to size the tracker tables at GasSpace construction).
type Bump struct {
	buf    []uint8
	offset int
}

// NewBump creates a bump allocator backed by a freshly made capacity-byte
// arena.
func NewBump(capacity int) *Bump {
	return &Bump{buf: make([]uint8, capacity)}
}

// Allocate returns a zeroed block of at least size bytes, aligned to
// align (which must be a power of two), and the block's actual size.
func (b *Bump) Allocate(size, align int) (Block, int) {
	if !util.IsPow2(align) {
		panic("bootstrap: align must be a power of two")
	}
	start := util.Roundup(b.offset, align)
	end := start + size
	if end > len(b.buf) {
		panic("bootstrap: arena exhausted")
	}
	b.offset = end
	return Block{Bytes: b.buf[start:end]}, size
}

// Deallocate is a no-op: the bootstrap allocator never reclaims
// individual blocks, only the whole arena is dropped with its owner.
func (b *Bump) Deallocate(Block) {}
