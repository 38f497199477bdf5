package space

import (
	"testing"

	"github.com/fgindraud/givy/bootstrap"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/vmlayer/vmsim"
)

func newTestSpace(t *testing.T, nodeCount int, superpagesPerNode uint64) *Space {
	t.Helper()
	sim := vmsim.New(geometry.PageSize, uintptr(superpagesPerNode)*uintptr(nodeCount)*geometry.SuperpageSize)
	sp, err := New(sim, sim.Base(), superpagesPerNode, nodeCount, bootstrap.NewBump(4096))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sp
}

func TestReserveAndReleaseRun(t *testing.T) {
	sp := newTestSpace(t, 2, 4)
	base, err := sp.ReserveLocalRun(0, 2)
	if err != nil {
		t.Fatalf("ReserveLocalRun: %v", err)
	}
	if !sp.InGas(base) || !sp.InLocalInterval(base, 0) {
		t.Fatal("reserved base should be in GAS and node 0's local interval")
	}
	if sp.NodeOf(base) != 0 {
		t.Fatalf("NodeOf = %d, want 0", sp.NodeOf(base))
	}
	if err := sp.ReleaseRun(base, 2); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	// Released range must be re-reservable.
	if _, err := sp.ReserveLocalRun(0, 2); err != nil {
		t.Fatalf("ReserveLocalRun after release: %v", err)
	}
}

func TestLocalAreasAreDisjoint(t *testing.T) {
	sp := newTestSpace(t, 2, 4)
	base0, err := sp.ReserveLocalRun(0, 4)
	if err != nil {
		t.Fatalf("node 0 reserve: %v", err)
	}
	if _, err := sp.ReserveLocalRun(0, 1); err == nil {
		t.Fatal("expected node 0's area to be exhausted")
	}
	base1, err := sp.ReserveLocalRun(1, 4)
	if err != nil {
		t.Fatalf("node 1 reserve: %v", err)
	}
	if sp.NodeOf(base0) != 0 || sp.NodeOf(base1) != 1 {
		t.Fatal("node areas not correctly attributed")
	}
}

func TestSpbBaseWalksBackToRunStart(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	base, err := sp.ReserveLocalRun(0, 3)
	if err != nil {
		t.Fatalf("ReserveLocalRun: %v", err)
	}
	interior := base + geometry.SuperpageSize + 100
	if got := sp.SpbBase(interior); got != base {
		t.Fatalf("SpbBase(interior) = %#x, want %#x", got, base)
	}
}

func TestTrimRunShrinksToFirstSuperpage(t *testing.T) {
	sp := newTestSpace(t, 1, 8)
	base, err := sp.ReserveLocalRun(0, 3)
	if err != nil {
		t.Fatalf("ReserveLocalRun: %v", err)
	}
	if err := sp.TrimRun(base, 3); err != nil {
		t.Fatalf("TrimRun: %v", err)
	}
	if got := sp.SpbBase(base); got != base {
		t.Fatalf("SpbBase(base) after trim = %#x, want %#x", got, base)
	}
	// The trailing superpages must be free again.
	if _, err := sp.ReserveLocalRun(0, 2); err != nil {
		t.Fatalf("reserve after trim: %v", err)
	}
}

func TestBadNodeRejected(t *testing.T) {
	sp := newTestSpace(t, 2, 4)
	if _, err := sp.ReserveLocalRun(5, 1); err != ErrBadNode {
		t.Fatalf("expected ErrBadNode, got %v", err)
	}
}
