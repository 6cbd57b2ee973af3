// paginate.go — 历史分页加载与视口锚定。
package chat

import (
	"context"
	"strings"
	"sync"
)

// Page is one slice of transcript history.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// PageLoader loads transcript history pages (backed by the durable store).
type PageLoader interface {
	LoadPage(ctx context.Context, sessionID string, offset, pageSize int) (Page, error)
}

// MeasureFunc reports the rendered height of a message in the consumer's
// units (pixels, rows). The engine stays headless; the default measurer
// counts content lines.
type MeasureFunc func(Message) int

func defaultMeasure(msg Message) int {
	if msg.Content == "" {
		return 1
	}
	return strings.Count(msg.Content, "\n") + 1
}

// PrependResult reports a completed pagination merge. HeightDelta is exactly
// the height introduced in front of the viewport; the consumer adds it to the
// scroll offset so the visual position does not jump.
type PrependResult struct {
	Inserted    int  `json:"inserted"`
	HeightDelta int  `json:"heightDelta"`
	HasMore     bool `json:"hasMore"`
}

// Paginator loads older transcript pages as the user scrolls toward the
// oldest edge. A load triggers only when the scroll position is within the
// near-top threshold, no page is already loading, and more pages exist.
type Paginator struct {
	mu        sync.Mutex
	loader    PageLoader
	pageSize  int
	threshold int
	measure   MeasureFunc

	loading bool
	hasMore bool
	offset  int
}

// NewPaginator creates a paginator. pageSize <= 0 falls back to 20,
// threshold < 0 to 120.
func NewPaginator(loader PageLoader, pageSize, threshold int, measure MeasureFunc) *Paginator {
	if pageSize <= 0 {
		pageSize = 20
	}
	if threshold < 0 {
		threshold = 120
	}
	if measure == nil {
		measure = defaultMeasure
	}
	return &Paginator{
		loader:    loader,
		pageSize:  pageSize,
		threshold: threshold,
		measure:   measure,
		hasMore:   true,
	}
}

// Reset rewinds pagination for a new conversation. alreadyLoaded seeds the
// offset with messages hydrated outside the paginator.
func (p *Paginator) Reset(alreadyLoaded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	p.hasMore = true
	p.offset = alreadyLoaded
	if p.offset < 0 {
		p.offset = 0
	}
}

// ShouldLoad gates a load on the three trigger conditions.
func (p *Paginator) ShouldLoad(scrollTop int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return scrollTop <= p.threshold && !p.loading && p.hasMore
}

// HasMore reports whether older pages are known to exist.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// LoadOlder fetches the next older page and merges it via merge (the engine's
// locked prepend). The fetch itself runs without any engine lock held. merge
// receives the page messages and returns the ones actually inserted after
// dedupe.
func (p *Paginator) LoadOlder(ctx context.Context, sessionID string, merge func([]Message) []Message) (PrependResult, error) {
	p.mu.Lock()
	if p.loading || !p.hasMore {
		p.mu.Unlock()
		return PrependResult{HasMore: p.hasMore}, nil
	}
	p.loading = true
	offset := p.offset
	p.mu.Unlock()

	page, err := p.loader.LoadPage(ctx, sessionID, offset, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return PrependResult{HasMore: p.hasMore}, err
	}

	inserted := merge(page.Messages)
	p.offset = offset + len(page.Messages)
	p.hasMore = page.HasMore

	delta := 0
	for _, msg := range inserted {
		delta += p.measure(msg)
	}
	return PrependResult{
		Inserted:    len(inserted),
		HeightDelta: delta,
		HasMore:     page.HasMore,
	}, nil
}
