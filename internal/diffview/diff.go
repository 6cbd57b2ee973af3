// Package diffview renders file-edit tool cards as line-level diffs.
//
// The contract diff is a greedy two-cursor line walk, not a minimal
// edit-distance diff: equal lines at the same relative position are skipped
// as context, a mismatch always emits remove-then-add for that line pair, and
// whatever remains on one side after the other is exhausted is flushed with a
// single kind. Downstream rendering depends on this exact ordering, so the
// walk must never be "improved" into an LCS diff.
package diffview

import (
	"strings"
	"sync"
)

// EditKind 差异行类别。
type EditKind string

const (
	EditAdded   EditKind = "added"
	EditRemoved EditKind = "removed"
)

// Edit is one diff output line. LineNumber is 1-based and refers to the old
// text for removed lines and the new text for added lines.
type Edit struct {
	Kind       EditKind `json:"kind"`
	Content    string   `json:"content"`
	LineNumber int      `json:"lineNumber"`
}

// Differ computes and caches greedy line diffs.
type Differ struct {
	mu         sync.Mutex
	cache      map[cacheKey][]Edit
	order      []cacheKey // FIFO 淘汰顺序
	maxEntries int
}

type cacheKey struct {
	oldLen  int
	newLen  int
	oldHead string // first 50 chars of old text
}

// NewDiffer creates a Differ with a bounded cache. maxEntries <= 0 falls back
// to 100.
func NewDiffer(maxEntries int) *Differ {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Differ{
		cache:      map[cacheKey][]Edit{},
		maxEntries: maxEntries,
	}
}

// Diff returns the greedy line diff between oldText and newText. Results are
// cached by (len(old), len(new), first-50-chars-of-old); the cache is FIFO
// bounded.
func (d *Differ) Diff(oldText, newText string) []Edit {
	key := cacheKey{
		oldLen:  len(oldText),
		newLen:  len(newText),
		oldHead: head50(oldText),
	}

	d.mu.Lock()
	if cached, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return cached
	}
	d.mu.Unlock()

	edits := Diff(oldText, newText)

	d.mu.Lock()
	if _, ok := d.cache[key]; !ok {
		d.cache[key] = edits
		d.order = append(d.order, key)
		for len(d.order) > d.maxEntries {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.cache, oldest)
		}
	}
	d.mu.Unlock()
	return edits
}

// CacheLen returns the number of cached diffs (diagnostics).
func (d *Differ) CacheLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// Diff is the uncached greedy walk. Empty input counts as zero lines, so
// Diff("", x) is all-added and Diff(x, x) is empty.
func Diff(oldText, newText string) []Edit {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	var edits []Edit
	i, j := 0, 0
	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			i++
			j++
			continue
		}
		// 不匹配: 先 removed 后 added, 两侧游标同时前进
		edits = append(edits, Edit{Kind: EditRemoved, Content: oldLines[i], LineNumber: i + 1})
		edits = append(edits, Edit{Kind: EditAdded, Content: newLines[j], LineNumber: j + 1})
		i++
		j++
	}
	for ; i < len(oldLines); i++ {
		edits = append(edits, Edit{Kind: EditRemoved, Content: oldLines[i], LineNumber: i + 1})
	}
	for ; j < len(newLines); j++ {
		edits = append(edits, Edit{Kind: EditAdded, Content: newLines[j], LineNumber: j + 1})
	}
	return edits
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func head50(s string) string {
	runes := []rune(s)
	if len(runes) <= 50 {
		return s
	}
	return string(runes[:50])
}
