package heap

import (
	"sync"
	"testing"

	"github.com/fgindraud/givy/bootstrap"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/sizeclass"
	"github.com/fgindraud/givy/space"
	"github.com/fgindraud/givy/vmlayer/vmsim"
)

func newTestSpace(t *testing.T, nodeCount int, superpagesPerNode uint64) *space.Space {
	t.Helper()
	sim := vmsim.New(geometry.PageSize, uintptr(superpagesPerNode)*uintptr(nodeCount)*geometry.SuperpageSize)
	sp, err := space.New(sim, sim.Base(), superpagesPerNode, nodeCount, bootstrap.NewBump(4096))
	if err != nil {
		t.Fatalf("space.New: %v", err)
	}
	return sp
}

func TestSmallAllocateRoundTrip(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	h := New(sp, 0, classes)

	b, err := h.Allocate(10, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Size < 10 {
		t.Fatalf("block size %d smaller than requested 10", b.Size)
	}
	if err := h.Deallocate(b.Ptr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	b2, err := h.Allocate(10, 1)
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if b2.Ptr != b.Ptr {
		t.Fatalf("expected the freed block to be reused, got %#x want %#x", b2.Ptr, b.Ptr)
	}
}

func TestAllocationsAreDisjoint(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	h := New(sp, 0, classes)

	seen := map[uintptr]int{}
	for i := 0; i < 50; i++ {
		b, err := h.Allocate(10, 1)
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		for p := b.Ptr; p < b.Ptr+uintptr(b.Size); p++ {
			if seen[p] != 0 {
				t.Fatalf("overlap at %#x between allocation %d and %d", p, seen[p], i)
			}
			seen[p] = i + 1
		}
	}
}

func TestMediumAllocateAndFreeCoalesces(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	h := New(sp, 0, classes)

	a, err := h.Allocate(4000, 8)
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	bb, err := h.Allocate(4000, 8)
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}
	if a.Ptr == bb.Ptr {
		t.Fatal("two medium allocations must not alias")
	}
	if err := h.Deallocate(a.Ptr); err != nil {
		t.Fatalf("Deallocate a: %v", err)
	}
	if err := h.Deallocate(bb.Ptr); err != nil {
		t.Fatalf("Deallocate b: %v", err)
	}
	// Both frees coalesce with the surrounding unused run, leaving the SPB
	// fully unused, so it is released.
	if !h.owned.Empty() {
		t.Fatal("expected the coalesced, fully unused SPB to be released")
	}
}

func TestHugeAllocateSpansSuperpages(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	h := New(sp, 0, classes)

	b, err := h.Allocate(3*1024*1024, 8)
	if err != nil {
		t.Fatalf("Allocate huge: %v", err)
	}
	if b.Size < 3*1024*1024 {
		t.Fatalf("huge block too small: %d", b.Size)
	}
	if err := h.Deallocate(b.Ptr); err != nil {
		t.Fatalf("Deallocate huge: %v", err)
	}
}

func TestRemoteFreeDrainsOnNextAllocate(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	heapA := New(sp, 0, classes)
	heapB := New(sp, 0, classes)

	b, err := heapA.Allocate(32, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := heapB.Deallocate(b.Ptr); err != nil {
			t.Errorf("remote Deallocate: %v", err)
		}
	}()
	wg.Wait()

	// A's next allocate should drain the mailbox and reuse the freed block.
	b2, err := heapA.Allocate(32, 8)
	if err != nil {
		t.Fatalf("Allocate after remote free: %v", err)
	}
	if b2.Ptr != b.Ptr {
		t.Fatalf("expected drained block reused, got %#x want %#x", b2.Ptr, b.Ptr)
	}
}

func TestAdoptionAfterDetach(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	classes := sizeclass.New(geometry.PageSize)
	heapA := New(sp, 0, classes)

	b, err := heapA.Allocate(32, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	heapA.Detach()

	heapB := New(sp, 0, classes)
	if err := heapB.Deallocate(b.Ptr); err != nil {
		t.Fatalf("Deallocate after adoption: %v", err)
	}
	// heapB now owns the SPB; a further allocation of the same size class
	// should succeed without error.
	if _, err := heapB.Allocate(32, 8); err != nil {
		t.Fatalf("Allocate on adopting heap: %v", err)
	}
}

func TestCrossNodeDeallocateRejected(t *testing.T) {
	sp := newTestSpace(t, 2, 4)
	classes := sizeclass.New(geometry.PageSize)
	heapNode0 := New(sp, 0, classes)
	heapNode1 := New(sp, 1, classes)

	b, err := heapNode0.Allocate(32, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := heapNode1.Deallocate(b.Ptr); err != ErrCrossNode {
		t.Fatalf("Deallocate across nodes = %v, want ErrCrossNode", err)
	}
}
