// linker.go — 工具调用与结果的关联 (correlation key → in-place patch)。
package chat

// ToolLinker correlates tool invocations with their possibly delayed,
// possibly out-of-order results. Results patch the invocation message in
// place; a result with no known invocation becomes a standalone tool message
// instead of being dropped.
type ToolLinker struct {
	byID map[string]int // correlation key → timeline index
}

// NewToolLinker creates an empty linker.
func NewToolLinker() *ToolLinker {
	return &ToolLinker{byID: map[string]int{}}
}

// Register records the timeline index of a tool invocation message.
func (l *ToolLinker) Register(toolID string, index int) {
	if toolID == "" || index < 0 {
		return
	}
	l.byID[toolID] = index
}

// Shift moves every tracked index forward by n (pagination prepended n
// messages in front).
func (l *ToolLinker) Shift(n int) {
	if n <= 0 {
		return
	}
	for id, idx := range l.byID {
		l.byID[id] = idx + n
	}
}

// Reset drops all correlations (clear-conversation or session switch).
func (l *ToolLinker) Reset() {
	l.byID = map[string]int{}
}

// Attach links a result to its invocation. When the key is known the tool
// message is patched in place, preserving its transcript position; ToolResult
// only ever transitions nil → value, so a second (older) result never
// overwrites. When the key is unknown a standalone result-only tool message
// is appended and registered.
//
// 返回 patched=false 表示走了 standalone 兜底路径。
func (l *ToolLinker) Attach(tl *Timeline, mut Mutation) (patched bool) {
	index, known := l.byID[mut.ToolID]
	if !known {
		index = tl.IndexByToolID(mut.ToolID)
		known = index >= 0
	}
	if known && index < tl.Len() {
		tl.Patch(index, func(m *Message) {
			if m.ToolResult == nil {
				result := mut.Result
				m.ToolResult = &result
			}
			if mut.ToolStatus != "" && m.ToolStatus != ToolSuccess && m.ToolStatus != ToolFailed {
				m.ToolStatus = mut.ToolStatus
			}
		})
		return true
	}

	// tool_end 先于 tool_start 到达 (网络乱序): 保留结果而非丢弃
	result := mut.Result
	msg := Message{
		Kind:       KindTool,
		ToolID:     mut.ToolID,
		ToolName:   mut.ToolName,
		ToolStatus: mut.ToolStatus,
		ToolResult: &result,
	}
	if msg.ToolStatus == "" {
		msg.ToolStatus = ToolSuccess
	}
	idx := tl.Append(msg)
	l.Register(mut.ToolID, idx)
	return false
}
