package sizeclass

import "testing"

func TestTableLadder(t *testing.T) {
	tbl := New(4096)
	classes := tbl.Classes()
	if len(classes) == 0 {
		t.Fatal("empty table")
	}
	if classes[0].BlockSize != 16 {
		t.Fatalf("smallest block = %d, want 16", classes[0].BlockSize)
	}
	if classes[len(classes)-1].BlockSize != 4096 {
		t.Fatalf("largest block = %d, want 4096", classes[len(classes)-1].BlockSize)
	}
	for _, c := range classes {
		if c.NBlocks != 4096/c.BlockSize {
			t.Errorf("class %d: NBlocks=%d, want %d", c.ID, c.NBlocks, 4096/c.BlockSize)
		}
		if c.BlockSize&(c.BlockSize-1) != 0 {
			t.Errorf("class %d block size %d not a power of two", c.ID, c.BlockSize)
		}
	}
}

func TestClassFor(t *testing.T) {
	tbl := New(4096)
	cases := []struct {
		size int
		want int
	}{
		{1, 16}, {10, 16}, {16, 16}, {17, 32}, {4000, 4096}, {4096, 4096},
	}
	for _, c := range cases {
		cl, ok := tbl.ClassFor(c.size)
		if !ok {
			t.Fatalf("ClassFor(%d): no class found", c.size)
		}
		if cl.BlockSize != c.want {
			t.Errorf("ClassFor(%d) = %d, want %d", c.size, cl.BlockSize, c.want)
		}
	}
	if _, ok := tbl.ClassFor(5000); ok {
		t.Fatal("ClassFor(5000) should fail: exceeds one page")
	}
}
