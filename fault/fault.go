// Package fault reports contract violations the way spec.md §7 wants:
// abort the process after printing the offending call chain, rather than
// silently corrupting allocator state. Adapted from biscuit's caller
// package (Callerdump), which did the same for kernel-internal asserts.
package fault

import (
	"fmt"
	"runtime"
)

// Stack renders the call stack starting at the given depth (0 = Stack
// itself, 1 = its caller) the same way biscuit's Callerdump did.
func Stack(start int) string {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}

// Abort reports a contract violation and panics. It is the single place
// the allocator core uses to turn an invariant breach (bad alignment, a
// release of a range not held, an interior pointer outside the GAS, ...)
// into process termination, per spec.md §7.
func Abort(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(fmt.Sprintf("givy: contract violation: %s\n%s", msg, Stack(2)))
}

// Assert aborts with msg when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		Abort(format, args...)
	}
}
