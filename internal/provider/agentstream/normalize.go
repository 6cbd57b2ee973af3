// normalize.go — SSE 事件 → canonical mutations 的纯映射。
package agentstream

import (
	"encoding/json"
	"strings"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

// Normalizer maps agent-stream SSE events to canonical mutations. Stateless;
// safe to share.
type Normalizer struct{}

// NewNormalizer returns the agent-stream normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Provider implements chat.Normalizer.
func (n *Normalizer) Provider() string { return ProviderName }

// Normalize implements chat.Normalizer.
func (n *Normalizer) Normalize(ev chat.Event) ([]chat.Mutation, error) {
	switch ev.Type {
	case EventContent:
		var p contentPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "content payload")
		}
		var muts []chat.Mutation
		if p.Reasoning != "" {
			muts = append(muts, chat.AppendReasoning(p.Reasoning))
		}
		if p.Text != "" {
			muts = append(muts, chat.AppendText(p.Text))
		}
		return muts, nil

	case EventToolStart:
		var p toolStartPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "tool_start payload")
		}
		if p.ToolID == "" && p.ToolName == "" {
			return nil, apperrors.New("agentstream.Normalize", "tool_start without toolId or toolName")
		}
		msg := chat.Message{
			Kind:       chat.KindTool,
			ToolID:     toolKey(p.ToolID, p.ToolName),
			ToolName:   util.FirstNonEmpty(p.Label, p.ToolName),
			ToolInput:  p.Input,
			ToolStatus: chat.ToolRunning,
		}
		if p.Agent != nil {
			msg.Agent = &chat.AgentInfo{ID: p.Agent.ID, Name: p.Agent.Name, Color: p.Agent.Color}
		}
		return []chat.Mutation{chat.CreateMessage(msg)}, nil

	case EventToolEnd:
		var p toolEndPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "tool_end payload")
		}
		key := toolKey(p.ToolID, p.ToolName)
		if key == "" {
			return nil, apperrors.New("agentstream.Normalize", "tool_end without correlation key")
		}
		return []chat.Mutation{
			chat.AttachResult(key, p.ToolName, p.Result, toolStatus(p.Status)),
		}, nil

	case EventPlan:
		var p planPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "plan payload")
		}
		return []chat.Mutation{{
			Op:      chat.OpSetPlan,
			Message: &chat.Message{Kind: chat.KindPlan, Content: renderPlan(p.Steps)},
		}}, nil

	case EventStatus:
		var p statusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "status payload")
		}
		return []chat.Mutation{{Op: chat.OpStatus, Text: p.Text}}, nil

	case EventError:
		var p errorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, apperrors.Wrap(err, "agentstream.Normalize", "error payload")
		}
		msg := p.Message
		if msg == "" {
			msg = "stream error"
		}
		return []chat.Mutation{chat.CreateMessage(chat.Message{Kind: chat.KindError, Content: msg})}, nil

	case EventDone:
		var p donePayload
		if len(ev.Payload) > 0 {
			_ = json.Unmarshal(ev.Payload, &p)
		}
		return []chat.Mutation{chat.CloseStream(p.StopReason)}, nil
	}

	return nil, apperrors.Newf("agentstream.Normalize", "unknown event type %q", ev.Type)
}

// toolKey 优先 toolId, 缺失时退回工具名 (tool_end 可能只按名字标识)。
func toolKey(id, name string) string {
	if id != "" {
		return id
	}
	return name
}

func toolStatus(s string) chat.ToolStatus {
	switch strings.ToLower(s) {
	case "success", "ok", "done", "completed":
		return chat.ToolSuccess
	case "failed", "error":
		return chat.ToolFailed
	case "running":
		return chat.ToolRunning
	}
	return ""
}

// renderPlan 将计划步骤渲染为 markdown 勾选列表。
func renderPlan(steps []planStep) string {
	var b strings.Builder
	for i, step := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch step.Status {
		case "done", "completed":
			b.WriteString("- [x] ")
		case "in_progress":
			b.WriteString("- [~] ")
		default:
			b.WriteString("- [ ] ")
		}
		b.WriteString(step.Text)
	}
	return b.String()
}
