// refine.go — 编辑卡片的紧凑预览渲染 (次级通道, 与契约 diff 无关)。
package diffview

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Span is an intra-line fragment of a refined preview.
type Span struct {
	Kind string `json:"kind"` // "equal" | "added" | "removed"
	Text string `json:"text"`
}

// MaxRefineBytes caps the input size for refinement; above it the caller
// should fall back to the plain line diff.
const MaxRefineBytes = 64 * 1024

// Refine computes a word-level change preview for a removed/added line pair
// using diffmatchpatch with semantic cleanup. Used only for rendering compact
// edit previews; the line-diff contract output always comes from Diff.
func Refine(oldLine, newLine string) []Span {
	if len(oldLine) > MaxRefineBytes || len(newLine) > MaxRefineBytes {
		return []Span{{Kind: "removed", Text: oldLine}, {Kind: "added", Text: newLine}}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldLine, newLine, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	spans := make([]Span, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			spans = append(spans, Span{Kind: "equal", Text: d.Text})
		case diffmatchpatch.DiffDelete:
			spans = append(spans, Span{Kind: "removed", Text: d.Text})
		case diffmatchpatch.DiffInsert:
			spans = append(spans, Span{Kind: "added", Text: d.Text})
		}
	}
	return spans
}

// Summary returns a one-line "+N -M" change summary for a diff result.
func Summary(edits []Edit) string {
	added, removed := 0, 0
	for _, e := range edits {
		switch e.Kind {
		case EditAdded:
			added++
		case EditRemoved:
			removed++
		}
	}
	return fmt.Sprintf("+%d -%d", added, removed)
}
