package diffview

import (
	"fmt"
	"reflect"
	"testing"
)

func TestDiffIdentical(t *testing.T) {
	if edits := Diff("a\nb\nc", "a\nb\nc"); len(edits) != 0 {
		t.Fatalf("identical texts produced %d edits, want 0", len(edits))
	}
}

func TestDiffFromEmpty(t *testing.T) {
	edits := Diff("", "line1\nline2")
	want := []Edit{
		{Kind: EditAdded, Content: "line1", LineNumber: 1},
		{Kind: EditAdded, Content: "line2", LineNumber: 2},
	}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("Diff(\"\", ...) = %+v, want %+v", edits, want)
	}
}

func TestDiffToEmpty(t *testing.T) {
	edits := Diff("line1\nline2", "")
	want := []Edit{
		{Kind: EditRemoved, Content: "line1", LineNumber: 1},
		{Kind: EditRemoved, Content: "line2", LineNumber: 2},
	}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("Diff(..., \"\") = %+v, want %+v", edits, want)
	}
}

// 不匹配行必须严格按 removed-then-added 输出。
func TestDiffMismatchOrdering(t *testing.T) {
	edits := Diff("a\nb\nc", "a\nx\nc")
	want := []Edit{
		{Kind: EditRemoved, Content: "b", LineNumber: 2},
		{Kind: EditAdded, Content: "x", LineNumber: 2},
	}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("edits = %+v, want %+v", edits, want)
	}
}

func TestDiffTailRemainder(t *testing.T) {
	edits := Diff("a", "a\nb\nc")
	want := []Edit{
		{Kind: EditAdded, Content: "b", LineNumber: 2},
		{Kind: EditAdded, Content: "c", LineNumber: 3},
	}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("edits = %+v, want %+v", edits, want)
	}
}

// 贪婪两游标: 插入导致后续整体错位时, 每行都按 remove+add 对输出,
// 而不是最小编辑距离的单行插入。
func TestDiffGreedyNotMinimal(t *testing.T) {
	edits := Diff("b\nc", "a\nb\nc")
	want := []Edit{
		{Kind: EditRemoved, Content: "b", LineNumber: 1},
		{Kind: EditAdded, Content: "a", LineNumber: 1},
		{Kind: EditRemoved, Content: "c", LineNumber: 2},
		{Kind: EditAdded, Content: "b", LineNumber: 2},
		{Kind: EditAdded, Content: "c", LineNumber: 3},
	}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("edits = %+v, want %+v", edits, want)
	}
}

func TestDifferCacheHit(t *testing.T) {
	d := NewDiffer(100)
	first := d.Diff("a\nb", "a\nc")
	second := d.Diff("a\nb", "a\nc")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("cache returned different result")
	}
	if d.CacheLen() != 1 {
		t.Fatalf("CacheLen = %d, want 1", d.CacheLen())
	}
}

func TestDifferCacheEviction(t *testing.T) {
	d := NewDiffer(3)
	for i := 0; i < 5; i++ {
		d.Diff(fmt.Sprintf("old-%d", i), "new")
	}
	if d.CacheLen() != 3 {
		t.Fatalf("CacheLen = %d, want 3 after FIFO eviction", d.CacheLen())
	}
}

func TestRefineSpans(t *testing.T) {
	spans := Refine("hello world", "hello there")
	if len(spans) == 0 {
		t.Fatal("no spans")
	}
	var rebuiltOld, rebuiltNew string
	for _, s := range spans {
		switch s.Kind {
		case "equal":
			rebuiltOld += s.Text
			rebuiltNew += s.Text
		case "removed":
			rebuiltOld += s.Text
		case "added":
			rebuiltNew += s.Text
		}
	}
	if rebuiltOld != "hello world" || rebuiltNew != "hello there" {
		t.Fatalf("spans do not reconstruct inputs: old=%q new=%q", rebuiltOld, rebuiltNew)
	}
}

func TestSummary(t *testing.T) {
	edits := Diff("a\nb\nc", "a\nx\nc\nd")
	if got := Summary(edits); got != "+2 -1" {
		t.Fatalf("Summary = %q, want +2 -1", got)
	}
}
