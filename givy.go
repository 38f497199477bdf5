// Package givy is the public entry point of the node-local global address
// space allocator: Init builds the process-wide Space, Space.Attach hands
// a goroutine its own ThreadLocalHeap, and that Heap is the handle every
// further Allocate/Deallocate call goes through (spec.md §6 "Public API").
//
// Go has no implicit thread-local storage, so where the original design
// reaches into TLS for "the calling thread's heap", callers here thread
// the *heap.Heap returned by Attach explicitly — spec.md §9 names exactly
// this adaptation for languages without mutable globals/TLS.
package givy

import (
	"fmt"

	"github.com/fgindraud/givy/bootstrap"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/heap"
	"github.com/fgindraud/givy/sizeclass"
	"github.com/fgindraud/givy/space"
	"github.com/fgindraud/givy/vmlayer"
)

// Config configures a single Init call: which node this process instance
// is, how many nodes share the GAS, how many superpages each node's local
// area spans, and the fixed virtual base address the whole region is
// reserved at (spec.md §6 "opaque parameters").
type Config struct {
	NodeID            int
	NodeCount         int
	SuperpagesPerNode uint64
	BaseAddr          uintptr

	// VM overrides the default vmlayer.Unix for the process's VM layer;
	// tests pass a vmsim.VM here instead of real mmap/mprotect.
	VM vmlayer.VM

	// BootstrapBytes sizes the one-shot bump arena space.New uses to
	// size the tracker's bitmap tables; it must be comfortably larger
	// than 2 * WordsFor(NodeCount*SuperpagesPerNode) * 8 bytes.
	BootstrapBytes int
}

// Space is the process-wide allocator instance: the GasSpace plus the
// size-class table every heap attached to it shares.
type Space struct {
	gas     *space.Space
	classes *sizeclass.Table
}

// Init reserves the configured GAS region and constructs the singleton
// Space every subsequent Attach call uses (spec.md §6 "init(args)").
func Init(cfg Config) (*Space, error) {
	if cfg.NodeID < 0 || cfg.NodeID >= cfg.NodeCount {
		return nil, fmt.Errorf("givy: NodeID %d out of range [0, %d)", cfg.NodeID, cfg.NodeCount)
	}
	vm := cfg.VM
	if vm == nil {
		vm = &vmlayer.Unix{}
	}
	if vm.PageSize() != geometry.PageSize {
		return nil, fmt.Errorf("givy: OS page size %d does not match geometry.PageSize %d", vm.PageSize(), geometry.PageSize)
	}

	bump := bootstrap.NewBump(cfg.BootstrapBytes)
	gas, err := space.New(vm, cfg.BaseAddr, cfg.SuperpagesPerNode, cfg.NodeCount, bump)
	if err != nil {
		return nil, fmt.Errorf("givy: init: %w", err)
	}
	return &Space{gas: gas, classes: sizeclass.New(geometry.PageSize)}, nil
}

// Attach returns a fresh ThreadLocalHeap drawing superpages from nodeID's
// local area. The caller owns the returned Heap exclusively until it
// calls Detach (spec.md §5 "one ThreadLocalHeap instance per thread").
func (s *Space) Attach(nodeID int) *heap.Heap {
	return heap.New(s.gas, nodeID, s.classes)
}
