package chat

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// flushRecorder drains the buffer on each flush signal, the way the engine
// does under its own lock.
type flushRecorder struct {
	mu      sync.Mutex
	buf     *DeltaBuffer
	flushes []string
}

func (r *flushRecorder) record() {
	content, reasoning := r.buf.Take()
	r.mu.Lock()
	r.flushes = append(r.flushes, content+reasoning)
	r.mu.Unlock()
}

func (r *flushRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.flushes...)
}

func newRecordedBuffer(interval time.Duration) (*DeltaBuffer, *flushRecorder) {
	rec := &flushRecorder{}
	b := NewDeltaBuffer(interval, rec.record)
	rec.buf = b
	return b, rec
}

func TestDeltaBufferCoalescesWithinWindow(t *testing.T) {
	b, rec := newRecordedBuffer(30 * time.Millisecond)

	b.Add("Hel")
	b.Add("lo ")
	b.Add("world")

	deadline := time.Now().Add(time.Second)
	for {
		flushes := rec.snapshot()
		if len(flushes) > 0 {
			if flushes[0] != "Hello world" {
				t.Fatalf("first flush = %q, want %q", flushes[0], "Hello world")
			}
			if len(flushes) != 1 {
				t.Fatalf("flushes = %d, want 1 coalesced delivery", len(flushes))
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timer flush never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeltaBufferFlushNow(t *testing.T) {
	b, rec := newRecordedBuffer(time.Hour)

	b.Add("partial")
	b.FlushNow()

	flushes := rec.snapshot()
	if len(flushes) != 1 || flushes[0] != "partial" {
		t.Fatalf("flushes = %v, want [partial]", flushes)
	}

	// 空缓冲不触发回调
	b.FlushNow()
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("flushes after empty FlushNow = %d, want 1", got)
	}
}

func TestDeltaBufferTakeBypassesCallback(t *testing.T) {
	b, rec := newRecordedBuffer(time.Hour)

	b.Add("text")
	b.AddReasoning("thinking")
	content, reasoning := b.Take()

	if content != "text" || reasoning != "thinking" {
		t.Fatalf("Take() = (%q, %q), want (%q, %q)", content, reasoning, "text", "thinking")
	}
	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("callback fired %d times during Take, want 0", got)
	}
	if b.Pending() {
		t.Fatal("buffer still pending after Take")
	}
}

func TestDeltaBufferStopRejectsInput(t *testing.T) {
	b, _ := newRecordedBuffer(time.Hour)

	b.Add("tail")
	b.Stop()
	b.Add("late")

	// Stop 只拒收, 不外推; 收尾路径用 Take 取走剩余片段
	content, _ := b.Take()
	if content != "tail" {
		t.Fatalf("Take after Stop = %q, want %q", content, "tail")
	}
	if b.Pending() {
		t.Fatal("input accepted after Stop")
	}
}

// 定时器触发与收尾路径竞争时, 缓冲内容只能落点一次: 谁先 Take 谁得到,
// 另一方拿到空串。
func TestDeltaBufferSingleDrainUnderRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		var mu sync.Mutex
		var landed []string
		var b *DeltaBuffer
		b = NewDeltaBuffer(time.Millisecond, func() {
			content, _ := b.Take()
			if content != "" {
				mu.Lock()
				landed = append(landed, content)
				mu.Unlock()
			}
		})

		b.Add("partial resul")
		time.Sleep(time.Millisecond) // 让定时器就绪, 与下面的 Take 竞争
		if content, _ := b.Take(); content != "" {
			mu.Lock()
			landed = append(landed, content)
			mu.Unlock()
		}
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		total := strings.Join(landed, "")
		count := len(landed)
		mu.Unlock()
		if total != "partial resul" || count != 1 {
			t.Fatalf("iteration %d: landed = %q (%d deliveries), want single %q",
				i, total, count, "partial resul")
		}
	}
}
