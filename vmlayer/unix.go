//go:build unix

package vmlayer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Unix drives the VM interface with real mmap/mprotect/munmap calls,
// reserving memory at a fixed address the way a kernel's physical-page
// allocator expects the GAS base to be stable for the life of the
// process. Grounded on the pack-wide convention (gVisor, go-ublk,
// systemd_exporter) of driving low-level memory mapping through
// golang.org/x/sys/unix; biscuit itself cannot be the model here since it
// runs freestanding and owns its own page tables instead of calling a
// host mmap.
type Unix struct{}

var _ VM = Unix{}

// Reserve maps size bytes of PROT_NONE, MAP_FIXED anonymous memory at
// base, carving out the address range without committing any physical
// storage for it.
func (Unix) Reserve(base, size uintptr) error {
	_, err := mmapFixed(base, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReserveFailed, err)
	}
	return nil
}

// Commit makes [base, base+size) readable and writable by reprotecting
// the already-reserved range; the kernel backs it with physical pages
// lazily on first touch.
func (Unix) Commit(base, size uintptr) error {
	if err := mprotect(base, size, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// Decommit gives the physical pages back to the OS (MADV_DONTNEED) and
// reprotects the range to PROT_NONE so an accidental touch faults loudly
// instead of silently reusing stale contents.
func (Unix) Decommit(base, size uintptr) error {
	if err := madviseDontneed(base, size); err != nil {
		return fmt.Errorf("vmlayer: decommit advise failed: %w", err)
	}
	return mprotect(base, size, unix.PROT_NONE)
}

// PageSize reports the OS page size.
func (Unix) PageSize() int {
	return unix.Getpagesize()
}

func mmapFixed(base, size uintptr, prot, flags int) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, base, size, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

func mprotect(base, size uintptr, prot int) error {
	data := unsafeSlice(base, size)
	return unix.Mprotect(data, prot)
}

func madviseDontneed(base, size uintptr) error {
	data := unsafeSlice(base, size)
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
