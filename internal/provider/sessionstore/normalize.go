// normalize.go — WS 事件与历史记录 → canonical mutations 的纯映射。
package sessionstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
)

// Normalizer maps session-store WebSocket events to canonical mutations.
// Stateless; lifecycle kinds never reach it (the ingestor consumes those).
type Normalizer struct{}

// NewNormalizer returns the session-store normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Provider implements chat.Normalizer.
func (n *Normalizer) Provider() string { return ProviderName }

// Normalize implements chat.Normalizer.
func (n *Normalizer) Normalize(ev chat.Event) ([]chat.Mutation, error) {
	switch ev.Type {
	case EventProviderResponse:
		return normalizeProviderResponse(ev.Payload)

	case EventProviderOutput:
		var p providerOutputPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "sessionstore.Normalize", "provider-output payload")
		}
		if p.Text == "" {
			return nil, nil
		}
		return []chat.Mutation{chat.AppendText(UnescapeText(p.Text))}, nil

	case EventInteractivePrompt:
		var p interactivePromptPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "sessionstore.Normalize", "interactive-prompt payload")
		}
		content := p.Prompt
		if len(p.Options) > 0 {
			content += "\n" + strings.Join(p.Options, " / ")
		}
		return []chat.Mutation{chat.CreateMessage(chat.Message{
			Kind:    chat.KindAssistant,
			Content: content,
		})}, nil

	case EventProviderError:
		var p providerErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "sessionstore.Normalize", "provider-error payload")
		}
		msg := p.Message
		if msg == "" {
			msg = "provider error"
		}
		if p.Code != "" {
			msg = "[" + p.Code + "] " + msg
		}
		return []chat.Mutation{chat.CreateMessage(chat.Message{Kind: chat.KindError, Content: msg})}, nil

	case EventProviderStatus:
		var p providerStatusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "sessionstore.Normalize", "provider-status payload")
		}
		return []chat.Mutation{{Op: chat.OpStatus, Text: p.Text}}, nil

	case EventSessionHistory:
		var p sessionHistoryPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "sessionstore.Normalize", "session-history payload")
		}
		return []chat.Mutation{chat.Hydrate(ConvertHistory(p.Records))}, nil

	case EventTokenBudget:
		// compat: 消费但不产生变化
		return nil, nil
	}

	return nil, apperrors.Newf("sessionstore.Normalize", "unknown event type %q", ev.Type)
}

func normalizeProviderResponse(payload json.RawMessage) ([]chat.Mutation, error) {
	var p providerResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apperrors.Wrap(err, "sessionstore.normalizeProviderResponse", "payload")
	}

	// 流式 content-block 增量
	if p.Delta != nil {
		switch p.Delta.Type {
		case "text_delta":
			if p.Delta.Text == "" {
				return nil, nil
			}
			return []chat.Mutation{chat.AppendText(p.Delta.Text)}, nil
		case "thinking_delta":
			if p.Delta.Text == "" {
				return nil, nil
			}
			return []chat.Mutation{chat.AppendReasoning(p.Delta.Text)}, nil
		default:
			// input_json_delta 等不可渲染增量
			return nil, nil
		}
	}

	if p.Message == nil {
		return nil, nil
	}
	return blocksToMutations(p.Message.Content), nil
}

// blocksToMutations converts provider-native content blocks in order. Text
// and tool cards keep their relative order; tool results attach by
// correlation key.
func blocksToMutations(blocks []contentBlock) []chat.Mutation {
	var muts []chat.Mutation
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				muts = append(muts, chat.AppendText(UnescapeText(block.Text)))
			}
		case "thinking":
			if block.Text != "" {
				muts = append(muts, chat.AppendReasoning(UnescapeText(block.Text)))
			}
		case "tool_use":
			muts = append(muts, chat.CreateMessage(chat.Message{
				Kind:       chat.KindTool,
				ToolID:     block.ID,
				ToolName:   block.Name,
				ToolInput:  block.Input,
				ToolStatus: chat.ToolRunning,
			}))
		case "tool_result":
			status := chat.ToolSuccess
			if block.IsError {
				status = chat.ToolFailed
			}
			muts = append(muts, chat.AttachResult(block.ToolUseID, "", resultText(block.Content), status))
		}
	}
	return muts
}

// resultText renders a tool_result content field: plain string, or a block
// array whose text entries are concatenated.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ConvertHistory converts a persisted session record batch into canonical
// messages. Two passes: pass 1 indexes tool-result records by correlation
// key; pass 2 walks user/assistant records in original order, attaching
// indexed results immediately. O(n) regardless of input ordering, and pure:
// converting the same batch twice yields identical output.
func ConvertHistory(records []HistoryRecord) []chat.Message {
	// pass 1: 工具结果按关联键建索引
	type indexedResult struct {
		text    string
		isError bool
	}
	results := make(map[string]indexedResult)
	for _, rec := range records {
		if rec.Role == "tool_result" && rec.ToolUseID != "" {
			if _, ok := results[rec.ToolUseID]; !ok {
				results[rec.ToolUseID] = indexedResult{text: rec.Result, isError: rec.IsError}
			}
		}
	}

	// pass 2: 按原始顺序生成消息
	var msgs []chat.Message
	consumed := make(map[string]bool)
	for _, rec := range records {
		ordering := &chat.OrderingKey{Sequence: rec.Sequence, RowID: rec.RowID}
		ts := time.UnixMilli(rec.Timestamp)

		switch rec.Role {
		case "user":
			msgs = append(msgs, chat.Message{
				Kind:      chat.KindUser,
				Content:   UnescapeText(rec.Text),
				Timestamp: ts,
				Ordering:  ordering,
				Images:    rec.Images,
			})

		case "assistant":
			if rec.Text != "" || rec.Reasoning != "" {
				msgs = append(msgs, chat.Message{
					Kind:      chat.KindAssistant,
					Content:   UnescapeText(rec.Text),
					Reasoning: UnescapeText(rec.Reasoning),
					Timestamp: ts,
					Ordering:  ordering,
				})
			}
			for _, use := range rec.ToolUses {
				msg := chat.Message{
					Kind:       chat.KindTool,
					ToolID:     use.ID,
					ToolName:   use.Name,
					ToolInput:  use.Input,
					ToolStatus: chat.ToolRunning,
					Timestamp:  ts,
					Ordering:   ordering,
				}
				if r, ok := results[use.ID]; ok {
					text := r.text
					msg.ToolResult = &text
					msg.ToolStatus = chat.ToolSuccess
					if r.isError {
						msg.ToolStatus = chat.ToolFailed
					}
					consumed[use.ID] = true
				}
				msgs = append(msgs, msg)
			}

		}
	}

	// 孤儿结果: 批内无对应 tool_use, 保留为独立结果消息而非丢弃
	for _, rec := range records {
		if rec.Role != "tool_result" || rec.ToolUseID == "" || consumed[rec.ToolUseID] {
			continue
		}
		consumed[rec.ToolUseID] = true
		text := rec.Result
		status := chat.ToolSuccess
		if rec.IsError {
			status = chat.ToolFailed
		}
		msgs = append(msgs, chat.Message{
			Kind:       chat.KindTool,
			ToolID:     rec.ToolUseID,
			ToolResult: &text,
			ToolStatus: status,
			Timestamp:  time.UnixMilli(rec.Timestamp),
			Ordering:   &chat.OrderingKey{Sequence: rec.Sequence, RowID: rec.RowID},
		})
	}
	return msgs
}
