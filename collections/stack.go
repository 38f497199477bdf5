package collections

import "sync/atomic"

// StackNode is the embeddable link for lock-free stack membership: it is
// the remote-free mailbox's node type (spec.md §4.5/§9).
type StackNode[T any] struct {
	next *T
}

// StackFieldOf extracts the StackNode[T] field an element uses.
type StackFieldOf[T any] func(*T) *StackNode[T]

// Stack is a lock-free singly-linked LIFO: Push is a CAS retry loop,
// TakeAll is a single atomic swap-with-nil. There is no Pop, so the
// structure is ABA-immune (spec.md §4.6): once taken, a node is never
// observed by Push's CAS again until it is independently re-pushed.
type Stack[T any] struct {
	head  atomic.Pointer[T]
	field StackFieldOf[T]
}

// NewStack returns an empty lock-free stack threaded through field.
func NewStack[T any](field StackFieldOf[T]) *Stack[T] {
	return &Stack[T]{field: field}
}

// Push links e onto the top of the stack. Safe to call from any
// goroutine, including ones that do not own e (spec.md's remote-free
// mailbox push side).
func (s *Stack[T]) Push(e *T) {
	for {
		old := s.head.Load()
		s.field(e).next = old
		if s.head.CompareAndSwap(old, e) {
			return
		}
	}
}

// TakeAll atomically detaches and returns the entire stack (LIFO order),
// leaving the stack empty. Only the owning goroutine should call this
// (spec.md's mailbox take side).
func (s *Stack[T]) TakeAll() *T {
	return s.head.Swap(nil)
}

// Next returns the element e.next points to, for walking a list returned
// by TakeAll. The caller must read it before it overwrites e's memory
// (spec.md §4.5 "advance to the next because the node's memory is about
// to be overwritten").
func (s *Stack[T]) Next(e *T) *T {
	return s.field(e).next
}
