// events.go — WebSocket 通道事件类型与载荷结构。
package sessionstore

import "encoding/json"

// ProviderName 注册到引擎的归一化器标识。
const ProviderName = "session-store"

// WS 事件类型 (envelope 的 type 字段)。生命周期类事件由 ingestor 直接处理,
// 其余交给归一化器。
const (
	EventSessionCreated    = "session-created"
	EventTokenBudget       = "token-budget"
	EventProviderResponse  = "provider-response"
	EventProviderOutput    = "provider-output"
	EventInteractivePrompt = "interactive-prompt"
	EventProviderError     = "provider-error"
	EventCompletion        = "completion"
	EventSessionAborted    = "session-aborted"
	EventSessionStatus     = "session-status"
	EventProviderStatus    = "provider-status"
	EventSessionHistory    = "session-history"
)

// envelope 是每条 WS 消息的外层结构。
type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// providerResponsePayload 包装 provider 原生消息内容, 包括流式 content-block
// 增量与完整消息两种形态。
type providerResponsePayload struct {
	Delta   *contentDelta   `json:"delta,omitempty"`
	Message *nativeMessage  `json:"message,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // message 缺失时的兼容路径
}

type contentDelta struct {
	Type string `json:"type"` // text_delta / thinking_delta / input_json_delta
	Text string `json:"text,omitempty"`
}

type nativeMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"` // text / thinking / tool_use / tool_result

	Text string `json:"text,omitempty"` // text / thinking

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// providerOutputPayload — 原始文本输出。
type providerOutputPayload struct {
	Text string `json:"text"`
}

// interactivePromptPayload — 后端请求用户交互。
type interactivePromptPayload struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// providerErrorPayload — provider 侧错误。
type providerErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// providerStatusPayload — working/thinking 指示器。
type providerStatusPayload struct {
	Text         string `json:"text"`
	Tokens       int    `json:"tokens,omitempty"`
	CanInterrupt bool   `json:"canInterrupt,omitempty"`
}

// sessionHistoryPayload — 切换会话后后端回放的持久化记录批。
type sessionHistoryPayload struct {
	Records []HistoryRecord `json:"records"`
}

// HistoryRecord 是持久化会话记录中的一条原始消息。
type HistoryRecord struct {
	Role      string   `json:"role"` // user / assistant / tool_result
	Text      string   `json:"text,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Sequence  int64    `json:"sequence,omitempty"`
	RowID     int64    `json:"rowId,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix millis
	Images    []string `json:"images,omitempty"`

	// 工具调用 (assistant 记录内嵌)
	ToolUses []historyToolUse `json:"toolUses,omitempty"`

	// 工具结果 (独立记录)
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type historyToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}
