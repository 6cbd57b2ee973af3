// throttle.go — 流式增量的合并限流缓冲。
package chat

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval is the delta coalescing window. Token-by-token network
// events would otherwise trigger one render per token.
const DefaultFlushInterval = 100 * time.Millisecond

// DeltaBuffer accumulates incoming text fragments per stream. The first
// fragment after an idle buffer arms a timer; on fire the flush callback is
// signalled and disarms the timer. The callback itself drains via Take under
// the owner's lock, so a concurrent abort and a timer fire can never split
// one drain across two transcript positions.
type DeltaBuffer struct {
	mu        sync.Mutex
	interval  time.Duration
	content   strings.Builder
	reasoning strings.Builder
	timer     *time.Timer
	stopped   bool

	// flush 只是信号; 数据由接收方通过 Take 取走。
	flush func()
}

// NewDeltaBuffer creates a buffer signalling flush after each coalescing
// window. interval <= 0 falls back to DefaultFlushInterval.
func NewDeltaBuffer(interval time.Duration, flush func()) *DeltaBuffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &DeltaBuffer{interval: interval, flush: flush}
}

// Add accumulates a content fragment, arming the timer when idle.
func (b *DeltaBuffer) Add(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.content.WriteString(text)
	b.armLocked()
}

// AddReasoning accumulates a reasoning-channel fragment.
func (b *DeltaBuffer) AddReasoning(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.reasoning.WriteString(text)
	b.armLocked()
}

func (b *DeltaBuffer) armLocked() {
	if b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(b.interval, b.fire)
}

func (b *DeltaBuffer) fire() {
	b.mu.Lock()
	b.timer = nil
	pending := b.content.Len() > 0 || b.reasoning.Len() > 0
	b.mu.Unlock()
	if pending {
		b.flush()
	}
}

func (b *DeltaBuffer) drainLocked() (string, string) {
	content := b.content.String()
	reasoning := b.reasoning.String()
	b.content.Reset()
	b.reasoning.Reset()
	return content, reasoning
}

// FlushNow signals the flush callback immediately and disarms the timer.
func (b *DeltaBuffer) FlushNow() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := b.content.Len() > 0 || b.reasoning.Len() > 0
	b.mu.Unlock()
	if pending {
		b.flush()
	}
}

// Take drains buffered fragments and disarms the timer. This is the single
// drain point: the engine calls it under its own lock, both from the flush
// signal and from the turn-ending paths (stream end, abort), so buffered
// partial text always lands exactly once, in lock order.
func (b *DeltaBuffer) Take() (content, reasoning string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return b.drainLocked()
}

// Stop rejects further input and disarms the timer. The buffer is per-turn
// (arena pattern); a new turn constructs a fresh one. Anything still buffered
// remains takeable.
func (b *DeltaBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Pending reports whether undelivered fragments are buffered (diagnostics).
func (b *DeltaBuffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content.Len() > 0 || b.reasoning.Len() > 0
}
