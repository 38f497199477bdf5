package collections

import "testing"

type item struct {
	id   int
	size int
	dl   Node[item]
	sl   SNode[item]
	sk   StackNode[item]
}

func dlField(e *item) *Node[item]       { return &e.dl }
func slField(e *item) *SNode[item]      { return &e.sl }
func skField(e *item) *StackNode[item]  { return &e.sk }
func sizeField(e *item) int             { return e.size }

func TestListPushPopOrder(t *testing.T) {
	l := NewList(dlField)
	a, b, c := &item{id: 1}, &item{id: 2}, &item{id: 3}
	l.PushFront(a)
	l.PushFront(b)
	l.PushFront(c)
	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	var order []int
	l.Each(func(e *item) bool { order = append(order, e.id); return true })
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("unexpected order: %v", order)
	}
	l.Remove(b)
	if l.Len() != 2 {
		t.Fatalf("len after remove = %d, want 2", l.Len())
	}
	if got := l.PopFront(); got != c {
		t.Fatalf("PopFront = %v, want c", got)
	}
	if got := l.PopFront(); got != a {
		t.Fatalf("PopFront = %v, want a", got)
	}
	if !l.Empty() {
		t.Fatal("expected empty list")
	}
}

func TestListRemoveSoleElement(t *testing.T) {
	l := NewList(dlField)
	a := &item{id: 1}
	l.PushFront(a)
	l.Remove(a)
	if !l.Empty() || l.Len() != 0 {
		t.Fatal("expected empty list after removing sole element")
	}
}

func TestSListBasics(t *testing.T) {
	l := NewSList(slField)
	a, b := &item{id: 1}, &item{id: 2}
	l.PushFront(a)
	l.PushFront(b)
	if l.Front() != b {
		t.Fatal("expected b at front")
	}
	l.Remove(a)
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	if got := l.PopFront(); got != b {
		t.Fatal("expected b popped")
	}
}

func TestStackPushTakeAllLIFO(t *testing.T) {
	s := NewStack(skField)
	a, b, c := &item{id: 1}, &item{id: 2}, &item{id: 3}
	s.Push(a)
	s.Push(b)
	s.Push(c)
	head := s.TakeAll()
	var order []int
	for e := head; e != nil; e = s.Next(e) {
		order = append(order, e.id)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("unexpected LIFO order: %v", order)
	}
	if s.TakeAll() != nil {
		t.Fatal("expected empty stack after TakeAll")
	}
}

func TestQuicklistExactAndSorted(t *testing.T) {
	q := NewQuicklist(10, dlField, sizeField)
	a := &item{id: 1, size: 3}
	b := &item{id: 2, size: 3}
	c := &item{id: 3, size: 50}
	d := &item{id: 4, size: 20}
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)
	q.Insert(d)
	if q.Len() != 4 {
		t.Fatalf("len = %d, want 4", q.Len())
	}
	// Exact-size slot hit: take(3) returns one of a/b (LIFO within slot).
	got := q.Take(3)
	if got == nil || got.size != 3 {
		t.Fatalf("Take(3) = %v, want size-3 item", got)
	}
	// Bigger list must return the smallest fitting block: d (20) before c (50).
	got = q.Take(10)
	if got != d {
		t.Fatalf("Take(10) = %v, want d (size 20)", got)
	}
	got = q.Take(10)
	if got != c {
		t.Fatalf("Take(10) = %v, want c (size 50)", got)
	}
	if q.Take(10) != nil {
		t.Fatal("expected nil once all consumed")
	}
}
