//go:build unix

package vmlayer

import "unsafe"

// unsafeSlice views the raw memory at [base, base+size) as a byte slice,
// for the syscalls (Mprotect, Madvise) that insist on []byte rather than a
// bare pointer. It never copies or allocates.
func unsafeSlice(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
