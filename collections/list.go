// Package collections implements the intrusive containers spec.md §4.6
// describes: a circular intrusive doubly-linked list, a singly-linked
// list, a lock-free push/take-all stack, and a quicklist (exact-size
// slots plus a sorted tail). None of these allocate per-element wrapper
// nodes; the link fields live inside the element itself, so one object
// can belong to several independent lists by carrying one Node[T] field
// per list it participates in (spec.md §9 "tag parameterizes the element
// type" / "store a named field of link records").
//
// Grounded on biscuit's own raw-pointer intrusive structures (e.g. the
// bucket chains of biscuit/src/hashtable and the physical-page freelist
// of biscuit/src/mem), generalized here to Go generics since the teacher
// predates any single reusable container package for this.
package collections

// Node is the embeddable link pair for one list membership. Zero value
// is "not linked to anything"; a linked node always has non-nil Prev and
// Next (the list is a circular ring, so a singleton element points to
// itself).
type Node[T any] struct {
	prev, next *T
}

// Linked reports whether the node is currently part of some list.
func (n *Node[T]) Linked() bool { return n.next != nil }

// FieldOf extracts the Node[T] an element participates in a given list
// through; every List is configured with one of these.
type FieldOf[T any] func(*T) *Node[T]

// List is a headless circular intrusive doubly-linked list of *T,
// threaded through the Node[T] field FieldOf selects.
type List[T any] struct {
	head  *T
	field FieldOf[T]
	n     int
}

// NewList returns an empty list that links elements through the Node[T]
// field returned by field.
func NewList[T any](field FieldOf[T]) *List[T] {
	return &List[T]{field: field}
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int { return l.n }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.head == nil }

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *T { return l.head }

// PushFront links e at the front of the list. e must not already be
// linked in this list.
func (l *List[T]) PushFront(e *T) {
	n := l.field(e)
	if l.head == nil {
		n.prev, n.next = e, e
		l.head = e
		l.n++
		return
	}
	l.insertBefore(e, l.head)
	l.head = e
	l.n++
}

// PushBack links e at the back of the list.
func (l *List[T]) PushBack(e *T) {
	if l.head == nil {
		l.PushFront(e)
		return
	}
	l.insertBefore(e, l.head)
	l.n++
}

// InsertBefore splices e immediately before at, which must already be
// linked in the list. at remains the head if it was the head.
func (l *List[T]) InsertBefore(e, at *T) {
	l.insertBefore(e, at)
	l.n++
}

// insertBefore splices e immediately before at in the ring.
func (l *List[T]) insertBefore(e, at *T) {
	n := l.field(e)
	atNode := l.field(at)
	prev := atNode.prev
	prevNode := l.field(prev)

	n.prev = prev
	n.next = at
	prevNode.next = e
	atNode.prev = e
}

// Remove unlinks e from the list. e must currently be linked in it.
func (l *List[T]) Remove(e *T) {
	n := l.field(e)
	if n.next == nil {
		return // not linked; idempotent remove is convenient at call sites
	}
	if n.next == e {
		// sole element
		l.head = nil
	} else {
		prevNode := l.field(n.prev)
		nextNode := l.field(n.next)
		prevNode.next = n.next
		nextNode.prev = n.prev
		if l.head == e {
			l.head = n.next
		}
	}
	n.prev, n.next = nil, nil
	l.n--
}

// PopFront unlinks and returns the first element, or nil if empty.
func (l *List[T]) PopFront() *T {
	e := l.head
	if e == nil {
		return nil
	}
	l.Remove(e)
	return e
}

// Next returns the element following e in the ring, or nil if e is the
// last element (i.e. the one immediately before the head).
func (l *List[T]) Next(e *T) *T {
	n := l.field(e)
	if n.next == l.head {
		return nil
	}
	return n.next
}

// Each calls f for every linked element, front to back, stopping early if
// f returns false. Safe against f removing the current element, not
// against f removing other elements.
func (l *List[T]) Each(f func(*T) bool) {
	if l.head == nil {
		return
	}
	e := l.head
	last := l.field(e).prev
	for {
		n := l.field(e)
		next := n.next
		isLast := e == last
		if !f(e) {
			return
		}
		if isLast {
			return
		}
		e = next
	}
}
