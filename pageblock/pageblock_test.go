package pageblock

import "testing"

func TestFormatSingleRunIsLive(t *testing.T) {
	tbl := NewTable()
	h := tbl.Format(0, 4, Small)
	if h.Head != h || h.Type != Small || h.Length != 4 {
		t.Fatalf("unexpected live header: %+v", h)
	}
	for i := 1; i < 4; i++ {
		c := tbl.HeaderAt(i)
		if c.Type != Continuation || c.Head != h {
			t.Fatalf("page %d not a continuation of the live header", i)
		}
	}
	start, end := h.Pages()
	if start != 0 || end != 4 {
		t.Fatalf("Pages() = (%d, %d), want (0, 4)", start, end)
	}
}

func TestPrevNext(t *testing.T) {
	tbl := NewTable()
	a := tbl.Format(0, 2, Reserved)
	b := tbl.Format(2, 3, Unused)
	c := tbl.Format(5, 1, Medium)

	if tbl.Prev(a) != nil {
		t.Fatal("expected nil Prev of the first run")
	}
	if tbl.Prev(b) != a {
		t.Fatal("Prev(b) should be a")
	}
	if tbl.Next(a) != b {
		t.Fatal("Next(a) should be b")
	}
	if tbl.Next(b) != c {
		t.Fatal("Next(b) should be c")
	}
	if tbl.Next(c) != nil {
		t.Fatal("expected nil Next of the last run")
	}
}

func TestReformatOverwritesRun(t *testing.T) {
	tbl := NewTable()
	tbl.Format(0, 4, Unused)
	h := tbl.Format(0, 4, Small)
	if h.Type != Small {
		t.Fatalf("reformat did not change type: %v", h.Type)
	}
}

func TestEachLiveVisitsEveryRunOnce(t *testing.T) {
	tbl := NewTable()
	tbl.Format(0, 1, Reserved)
	tbl.Format(1, 2, Unused)
	tbl.Format(3, 509, Unused)

	var runs [][2]int
	tbl.EachLive(func(h *Header) {
		s, e := h.Pages()
		runs = append(runs, [2]int{s, e})
	})
	want := [][2]int{{0, 1}, {1, 3}, {3, 512}}
	if len(runs) != len(want) {
		t.Fatalf("got %d runs, want %d: %v", len(runs), len(want), runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Fatalf("run %d = %v, want %v", i, runs[i], want[i])
		}
	}
}

func TestLiveHeaderAtRedirectsContinuation(t *testing.T) {
	tbl := NewTable()
	h := tbl.Format(10, 5, Medium)
	for i := 10; i < 15; i++ {
		if tbl.LiveHeaderAt(i) != h {
			t.Fatalf("LiveHeaderAt(%d) did not redirect to the live header", i)
		}
	}
}
