package collections

// SizeOf reports the "size" a quicklist orders elements by (in the
// allocator's case, a page-block's length in pages).
type SizeOf[T any] func(*T) int

// Quicklist is the exact-size-slots-plus-sorted-tail freelist of spec.md
// §4.6: sizes below exactLimit get their own list (O(1) insert/take),
// sizes at or above it fall into one ascending-sorted "bigger" list
// (spec.md §4.4 "exact-size slots up to 10, else a sorted tail").
type Quicklist[T any] struct {
	exact      []*List[T]
	bigger     *List[T]
	sizeOf     SizeOf[T]
	exactLimit int
}

// NewQuicklist returns a Quicklist with exactLimit exact-size slots
// (sizes [0, exactLimit) each get their own list; 0 is unused since a
// zero-length run is never inserted).
func NewQuicklist[T any](exactLimit int, field FieldOf[T], sizeOf SizeOf[T]) *Quicklist[T] {
	exact := make([]*List[T], exactLimit)
	for i := range exact {
		exact[i] = NewList(field)
	}
	return &Quicklist[T]{
		exact:      exact,
		bigger:     NewList(field),
		sizeOf:     sizeOf,
		exactLimit: exactLimit,
	}
}

// Insert adds e, keyed by sizeOf(e).
func (q *Quicklist[T]) Insert(e *T) {
	sz := q.sizeOf(e)
	if sz > 0 && sz < q.exactLimit {
		q.exact[sz].PushFront(e)
		return
	}
	for cur := q.bigger.Front(); cur != nil; cur = q.bigger.Next(cur) {
		if q.sizeOf(cur) >= sz {
			if cur == q.bigger.Front() {
				q.bigger.PushFront(e)
			} else {
				q.bigger.InsertBefore(e, cur)
			}
			return
		}
	}
	q.bigger.PushBack(e)
}

// Remove unlinks e, wherever it currently lives.
func (q *Quicklist[T]) Remove(e *T) {
	sz := q.sizeOf(e)
	if sz > 0 && sz < q.exactLimit {
		q.exact[sz].Remove(e)
		return
	}
	q.bigger.Remove(e)
}

// Take returns the smallest-fitting element with sizeOf(e) >= minSize,
// removing it, or nil if none exists: scan exact slots from minSize
// upward, then the sorted tail (spec.md §4.4).
func (q *Quicklist[T]) Take(minSize int) *T {
	limit := q.exactLimit
	if minSize < limit {
		for sz := minSize; sz < limit; sz++ {
			if !q.exact[sz].Empty() {
				return q.exact[sz].PopFront()
			}
		}
	}
	for cur := q.bigger.Front(); cur != nil; cur = q.bigger.Next(cur) {
		if q.sizeOf(cur) >= minSize {
			q.bigger.Remove(cur)
			return cur
		}
	}
	return nil
}

// Len returns the total number of linked elements across every slot.
func (q *Quicklist[T]) Len() int {
	n := q.bigger.Len()
	for _, l := range q.exact {
		n += l.Len()
	}
	return n
}
