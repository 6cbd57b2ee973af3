// Package chat implements the message-stream reconciliation and session
// lifecycle engine: it ingests events from both backend providers, folds them
// into one canonical transcript per session, throttles streaming deltas, links
// tool invocations to their results, and tracks the session state machine.
package chat

import (
	"encoding/json"
	"time"
)

// Kind 消息类别。
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindError     Kind = "error"
	KindPlan      Kind = "plan"
)

// ToolStatus 工具调用状态。
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// OrderingKey sorts historical records deterministically. Sequence is the
// provider-side turn sequence, RowID the durable store row. Messages without
// a key fall back to timestamp ordering.
type OrderingKey struct {
	Sequence int64 `json:"sequence"`
	RowID    int64 `json:"rowId"`
}

// AgentInfo 子 agent 归属信息 (工具由子 agent 执行时填充)。
type AgentInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// Message is the canonical provider-agnostic transcript entry. All UI
// rendering consumes this shape; both provider normalizers produce it.
type Message struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	Content   string       `json:"content"`
	Reasoning string       `json:"reasoning,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Ordering  *OrderingKey `json:"orderingKey,omitempty"`

	// IsStreaming marks the single trailing message still receiving deltas.
	IsStreaming bool `json:"isStreaming,omitempty"`

	// Tool correlation fields; set only for KindTool or an assistant message
	// carrying a tool call.
	ToolID     string          `json:"toolId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolStatus ToolStatus      `json:"toolStatus,omitempty"`
	// ToolResult 只能从 nil 变为具体值, 不会回退。
	ToolResult *string    `json:"toolResult,omitempty"`
	Agent      *AgentInfo `json:"agentInfo,omitempty"`

	// Images 附件引用 (仅 user 消息)。
	Images []string `json:"images,omitempty"`
}

// HasToolCard reports whether the message renders as a tool card.
func (m *Message) HasToolCard() bool {
	return m.Kind == KindTool || m.ToolID != ""
}

// Before reports display ordering: ordering keys win when both sides carry
// one, otherwise timestamps decide.
func (m *Message) Before(other *Message) bool {
	if m.Ordering != nil && other.Ordering != nil {
		if m.Ordering.Sequence != other.Ordering.Sequence {
			return m.Ordering.Sequence < other.Ordering.Sequence
		}
		return m.Ordering.RowID < other.Ordering.RowID
	}
	return m.Timestamp.Before(other.Timestamp)
}

// dedupeKey identifies a message across pagination merges: ordering key when
// present, content+timestamp equality otherwise.
type dedupeKey struct {
	hasOrdering bool
	sequence    int64
	rowID       int64
	content     string
	unixNano    int64
}

func (m *Message) dedupe() dedupeKey {
	if m.Ordering != nil {
		return dedupeKey{hasOrdering: true, sequence: m.Ordering.Sequence, rowID: m.Ordering.RowID}
	}
	return dedupeKey{content: m.Content, unixNano: m.Timestamp.UnixNano()}
}
