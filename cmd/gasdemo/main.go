// Command gasdemo is a minimal consumer of the givy allocator: it
// attaches a handful of goroutines as heaps, drives small/medium/huge
// allocations, frees some of them from a different goroutine than the
// one that allocated them (spec.md scenario S4), and lets one heap
// detach while another later frees its leftover blocks (scenario S5).
//
// It uses vmsim instead of a real mmap reservation so it runs without
// needing a privileged fixed-address mapping; vmlayer.Unix is a drop-in
// replacement for production use (see givy.Config.VM).
package main

import (
	"fmt"
	"sync"

	"github.com/fgindraud/givy"
	"github.com/fgindraud/givy/geometry"
	"github.com/fgindraud/givy/vmlayer/vmsim"
)

const (
	nodeCount         = 2
	superpagesPerNode = 8
)

func main() {
	sim := vmsim.New(geometry.PageSize, uintptr(nodeCount*superpagesPerNode)*geometry.SuperpageSize)

	space, err := givy.Init(givy.Config{
		NodeID:            0,
		NodeCount:         nodeCount,
		SuperpagesPerNode: superpagesPerNode,
		BaseAddr:          sim.Base(),
		VM:                sim,
		BootstrapBytes:    4096,
	})
	if err != nil {
		fmt.Println("init failed:", err)
		return
	}

	// Scenario S4: thread A allocates, thread B deallocates; A's next
	// allocation drains its mailbox.
	heapA := space.Attach(0)
	blockA, err := heapA.Allocate(64, 8)
	if err != nil {
		fmt.Println("allocate failed:", err)
		return
	}
	fmt.Printf("heap %s allocated %d bytes @ %#x\n", heapA.ID(), blockA.Size, blockA.Ptr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heapB := space.Attach(0)
		if err := heapB.Deallocate(blockA.Ptr); err != nil {
			fmt.Println("remote free failed:", err)
		}
	}()
	wg.Wait()

	// A's next allocation drains the mailbox entry B just pushed.
	if _, err := heapA.Allocate(64, 8); err != nil {
		fmt.Println("allocate after remote free failed:", err)
	}

	// Medium and huge paths, freed locally.
	medium, _ := heapA.Allocate(4000, 8)
	fmt.Printf("heap %s allocated medium block of %d bytes @ %#x\n", heapA.ID(), medium.Size, medium.Ptr)
	if err := heapA.Deallocate(medium.Ptr); err != nil {
		fmt.Println("deallocate medium failed:", err)
	}

	huge, err := heapA.Allocate(3*1024*1024, 8)
	if err != nil {
		fmt.Println("huge allocate failed:", err)
	} else {
		fmt.Printf("heap %s allocated huge block of %d bytes @ %#x\n", heapA.ID(), huge.Size, huge.Ptr)
	}

	// Scenario S5: A exits (detaches) while still owning the huge
	// allocation's SPB; a later deallocate from another heap adopts it.
	heapA.Detach()

	heapC := space.Attach(0)
	if huge.Ptr != 0 {
		if err := heapC.Deallocate(huge.Ptr); err != nil {
			fmt.Println("adoption free failed:", err)
		} else {
			fmt.Printf("heap %s adopted orphaned SPB and freed the huge block\n", heapC.ID())
		}
	}
	heapC.Detach()

	fmt.Printf("committed ranges remaining: %d\n", sim.CommittedCount())
}
