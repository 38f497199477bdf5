// Package sizeclass computes the compile/init-time table of small
// allocation size classes spec.md §3 and §4.7 describe: a power-of-two
// ladder of block sizes from the smallest block that can hold an
// UnusedBlock link up to one page.
package sizeclass

import (
	"math/bits"

	"github.com/fgindraud/givy/rawmem"
)

// UnusedBlockSize is sizeof(UnusedBlock): the freelist link plus the
// cached owning-SPB pointer (spec.md §3 "UnusedBlock"), two machine words.
var UnusedBlockSize = int(rawmem.Size)

// Class describes one size class: fixed block size, the page-block
// length it is carved in units of, how many blocks fit in that many
// pages, and its index into the table.
type Class struct {
	BlockSize     int
	PageBlockSize int // in pages; always 1 per spec.md §4.7
	NBlocks       int
	ID            int
}

func ceilLog2(v int) uint {
	if v <= 1 {
		return 0
	}
	return uint(bits.Len(uint(v - 1)))
}

func roundPow2(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << ceilLog2(v)
}

// Table is the immutable, init-time-computed size-class ladder.
type Table struct {
	classes []Class
	minLog  uint
	maxLog  uint
}

// New builds the size-class table for the given page size, following
// spec.md §4.7: min_log = ceil_log2(smallest), max_log = ceil_log2(page),
// nb_sizeclass = max_log - min_log + 1, config[k] = {1<<(k+min_log), 1,
// page/block_size, k}.
func New(pageSize int) *Table {
	smallest := roundPow2(UnusedBlockSize)
	minLog := ceilLog2(smallest)
	maxLog := ceilLog2(pageSize)
	n := int(maxLog-minLog) + 1
	classes := make([]Class, n)
	for k := 0; k < n; k++ {
		blockSize := 1 << (uint(k) + minLog)
		classes[k] = Class{
			BlockSize:     blockSize,
			PageBlockSize: 1,
			NBlocks:       pageSize / blockSize,
			ID:            k,
		}
	}
	return &Table{classes: classes, minLog: minLog, maxLog: maxLog}
}

// Classes returns the full ladder, smallest block first.
func (t *Table) Classes() []Class { return t.classes }

// Smallest is the smallest representable small-allocation size.
func (t *Table) Smallest() int { return t.classes[0].BlockSize }

// ClassFor returns the size class that can hold a size-byte, align-byte
// aligned allocation, and whether one exists (size must be <= one page).
// Because every class's BlockSize is a power of two and align <= BlockSize
// is implied by picking the class sized to max(size, align), the returned
// block is always sufficiently aligned.
func (t *Table) ClassFor(size int) (Class, bool) {
	if size <= 0 {
		size = 1
	}
	log := ceilLog2(size)
	if log < t.minLog {
		log = t.minLog
	}
	if log > t.maxLog {
		return Class{}, false
	}
	return t.classes[log-t.minLog], true
}
