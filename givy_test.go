package givy

import (
	"testing"

	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/vmlayer/vmsim"
)

func TestInitAttachAllocateDeallocate(t *testing.T) {
	const nodeCount = 2
	const superpagesPerNode = 8
	sim := vmsim.New(geometry.PageSize, uintptr(nodeCount*superpagesPerNode)*geometry.SuperpageSize)

	sp, err := Init(Config{
		NodeID:            0,
		NodeCount:         nodeCount,
		SuperpagesPerNode: superpagesPerNode,
		BaseAddr:          sim.Base(),
		VM:                sim,
		BootstrapBytes:    4096,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	h := sp.Attach(0)
	b, err := h.Allocate(100, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Ptr%8 != 0 {
		t.Fatalf("block not aligned: %#x", b.Ptr)
	}
	if b.Size < 100 {
		t.Fatalf("block too small: %d", b.Size)
	}
	if err := h.Deallocate(b.Ptr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	h.Detach()
}

func TestInitRejectsBadNodeID(t *testing.T) {
	sim := vmsim.New(geometry.PageSize, uintptr(4)*geometry.SuperpageSize)
	_, err := Init(Config{NodeID: 9, NodeCount: 2, SuperpagesPerNode: 2, BaseAddr: sim.Base(), VM: sim, BootstrapBytes: 4096})
	if err == nil {
		t.Fatal("expected an error for an out-of-range NodeID")
	}
}

func TestInitRejectsPageSizeMismatch(t *testing.T) {
	sim := vmsim.New(geometry.PageSize*2, uintptr(4)*geometry.SuperpageSize)
	_, err := Init(Config{NodeID: 0, NodeCount: 1, SuperpagesPerNode: 4, BaseAddr: sim.Base(), VM: sim, BootstrapBytes: 4096})
	if err == nil {
		t.Fatal("expected an error for mismatched page size")
	}
}
