// timeline.go — 画布: canonical 消息列表的 copy-on-write 容器。
package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Timeline owns the canonical message list. Every mutation replaces the
// backing slice (copy-on-write), so a snapshot handed to a renderer or SSE
// marshal never observes a torn in-place splice. Not goroutine-safe on its
// own; the Engine serializes access.
type Timeline struct {
	messages []Message
	// streamingIndex 指向唯一的 streaming 消息, 恒为末尾或 -1。
	streamingIndex int
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{messages: []Message{}, streamingIndex: -1}
}

// Snapshot returns the current message slice. Callers must not mutate it;
// copy-on-write guarantees it stays stable after return.
func (t *Timeline) Snapshot() []Message {
	return t.messages
}

// Len returns the message count.
func (t *Timeline) Len() int { return len(t.messages) }

// Last returns the trailing message, or nil when empty.
func (t *Timeline) Last() *Message {
	if len(t.messages) == 0 {
		return nil
	}
	return &t.messages[len(t.messages)-1]
}

// StreamingOpen reports whether a streaming message is currently open.
func (t *Timeline) StreamingOpen() bool { return t.streamingIndex >= 0 }

func (t *Timeline) nextID(kind Kind) string {
	return string(kind) + "-" + uuid.NewString()
}

// Append appends a message and returns its index. Appending closes any open
// streaming message first when the new message itself streams, preserving the
// single-trailing-streaming invariant.
func (t *Timeline) Append(msg Message) int {
	if msg.ID == "" {
		msg.ID = t.nextID(msg.Kind)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if t.streamingIndex >= 0 {
		// 新消息入列即终结旧 streaming 消息 (不变量: 至多一个, 恒在末尾)
		t.CloseStreaming()
	}
	list := append(append([]Message{}, t.messages...), msg)
	t.messages = list
	if msg.IsStreaming {
		t.streamingIndex = len(list) - 1
	}
	return len(list) - 1
}

// Patch rewrites the message at index through fn via copy-on-write. Out of
// range indexes are ignored.
func (t *Timeline) Patch(index int, fn func(*Message)) {
	if index < 0 || index >= len(t.messages) {
		return
	}
	list := append([]Message{}, t.messages...)
	msg := list[index]
	fn(&msg)
	list[index] = msg
	t.messages = list
}

// AppendStreamingText appends a text fragment to the open streaming assistant
// message, opening one when none is open or the trailing message already
// carries a tool card. Returns the index of the streaming message.
func (t *Timeline) AppendStreamingText(text string) int {
	idx := t.ensureStreamingAssistant()
	if text != "" {
		t.Patch(idx, func(m *Message) { m.Content += text })
	}
	return idx
}

// AppendStreamingReasoning appends to the reasoning channel of the open
// streaming message.
func (t *Timeline) AppendStreamingReasoning(text string) int {
	idx := t.ensureStreamingAssistant()
	if text != "" {
		t.Patch(idx, func(m *Message) { m.Reasoning += text })
	}
	return idx
}

func (t *Timeline) ensureStreamingAssistant() int {
	if t.streamingIndex >= 0 {
		return t.streamingIndex
	}
	last := t.Last()
	if last != nil && last.Kind == KindAssistant && last.IsStreaming && !last.HasToolCard() {
		t.streamingIndex = len(t.messages) - 1
		return t.streamingIndex
	}
	idx := t.Append(Message{Kind: KindAssistant, IsStreaming: true})
	t.streamingIndex = idx
	return idx
}

// CloseStreaming clears IsStreaming on the open streaming message, if any.
func (t *Timeline) CloseStreaming() {
	idx := t.streamingIndex
	if idx < 0 {
		return
	}
	t.streamingIndex = -1
	t.Patch(idx, func(m *Message) { m.IsStreaming = false })
}

// Clear drops every message (explicit clear-conversation or session switch).
func (t *Timeline) Clear() {
	t.messages = []Message{}
	t.streamingIndex = -1
}

// IndexByToolID returns the index of the message with the given correlation
// key, or -1.
func (t *Timeline) IndexByToolID(toolID string) int {
	if toolID == "" {
		return -1
	}
	for i := range t.messages {
		if t.messages[i].ToolID == toolID {
			return i
		}
	}
	return -1
}

// Prepend merges older messages in front of the list, deduplicating against
// the existing messages by ordering key (falling back to content+timestamp).
// The merged prefix is re-sorted by ordering key. Returns the messages that
// were actually inserted, in final order.
func (t *Timeline) Prepend(older []Message) []Message {
	if len(older) == 0 {
		return nil
	}
	seen := make(map[dedupeKey]struct{}, len(t.messages))
	for i := range t.messages {
		seen[t.messages[i].dedupe()] = struct{}{}
	}

	fresh := make([]Message, 0, len(older))
	for _, msg := range older {
		key := msg.dedupe()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if msg.ID == "" {
			msg.ID = t.nextID(msg.Kind)
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Before(&fresh[j])
	})

	list := make([]Message, 0, len(fresh)+len(t.messages))
	list = append(list, fresh...)
	list = append(list, t.messages...)
	t.messages = list
	if t.streamingIndex >= 0 {
		t.streamingIndex += len(fresh)
	}
	return fresh
}

// Replace swaps the entire list (hydration from the durable store).
func (t *Timeline) Replace(msgs []Message) {
	list := append([]Message{}, msgs...)
	t.messages = list
	t.streamingIndex = -1
	for i := range list {
		if list[i].IsStreaming {
			// 只允许末尾保留 streaming 标记
			if i == len(list)-1 {
				t.streamingIndex = i
			} else {
				t.Patch(i, func(m *Message) { m.IsStreaming = false })
			}
		}
	}
}
