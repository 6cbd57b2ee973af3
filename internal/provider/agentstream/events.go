// events.go — SSE 通道事件类型与载荷结构。
package agentstream

import "encoding/json"

// ProviderName 注册到引擎的归一化器标识。
const ProviderName = "agent-stream"

// SSE 事件类型 (每条 data: 行的 type 字段)。
const (
	EventContent   = "content"
	EventToolStart = "tool_start"
	EventToolEnd   = "tool_end"
	EventPlan      = "plan"
	EventStatus    = "status"
	EventError     = "error"
	EventDone      = "done"
)

// contentPayload — 文本增量。
type contentPayload struct {
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
}

// toolStartPayload — 工具调用开始。
type toolStartPayload struct {
	ToolID   string          `json:"toolId"`
	ToolName string          `json:"toolName"`
	ToolType string          `json:"toolType,omitempty"`
	Label    string          `json:"label,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Agent    *agentPayload   `json:"agent,omitempty"`
}

type agentPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// toolEndPayload — 工具调用结束。
type toolEndPayload struct {
	ToolID   string `json:"toolId"`
	ToolName string `json:"toolName"`
	Status   string `json:"status"`
	Result   string `json:"result,omitempty"`
}

// planPayload — 有序计划步骤列表。
type planPayload struct {
	Steps []planStep `json:"steps"`
}

type planStep struct {
	Text   string `json:"text"`
	Status string `json:"status"` // pending / in_progress / done
}

// statusPayload — 工作指示器文本。
type statusPayload struct {
	Text string `json:"text"`
}

// errorPayload — 流内错误。
type errorPayload struct {
	Message string `json:"message"`
}

// donePayload — 流结束, 携带停止原因。
type donePayload struct {
	StopReason string `json:"stopReason,omitempty"`
}
