package sessionstore

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ai-workbench/chat-engine/internal/chat"
)

func normalize(t *testing.T, evType, payload string) []chat.Mutation {
	t.Helper()
	muts, err := NewNormalizer().Normalize(chat.Event{
		Type:     evType,
		Provider: ProviderName,
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("Normalize(%s): %v", evType, err)
	}
	return muts
}

func TestNormalizeTextDelta(t *testing.T) {
	muts := normalize(t, EventProviderResponse, `{"delta":{"type":"text_delta","text":"Hel"}}`)
	if len(muts) != 1 || muts[0].Op != chat.OpAppendText || muts[0].Text != "Hel" {
		t.Fatalf("muts = %+v", muts)
	}
}

func TestNormalizeThinkingDelta(t *testing.T) {
	muts := normalize(t, EventProviderResponse, `{"delta":{"type":"thinking_delta","text":"hmm"}}`)
	if len(muts) != 1 || muts[0].Op != chat.OpAppendReasoning {
		t.Fatalf("muts = %+v", muts)
	}
}

func TestNormalizeIgnoresInputJSONDelta(t *testing.T) {
	muts := normalize(t, EventProviderResponse, `{"delta":{"type":"input_json_delta","text":"{\"pa"}}`)
	if len(muts) != 0 {
		t.Fatalf("muts = %+v, want none", muts)
	}
}

func TestNormalizeCompleteMessageBlocks(t *testing.T) {
	muts := normalize(t, EventProviderResponse, `{"message":{"role":"assistant","content":[
		{"type":"text","text":"Let me look."},
		{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"a.go"}},
		{"type":"tool_result","tool_use_id":"tu_1","content":"package a"}
	]}}`)
	if len(muts) != 3 {
		t.Fatalf("len = %d, want 3 (%+v)", len(muts), muts)
	}
	if muts[0].Op != chat.OpAppendText {
		t.Fatalf("muts[0].Op = %q", muts[0].Op)
	}
	if muts[1].Op != chat.OpCreate || muts[1].Message.ToolID != "tu_1" {
		t.Fatalf("muts[1] = %+v", muts[1])
	}
	if muts[2].Op != chat.OpAttachResult || muts[2].Result != "package a" {
		t.Fatalf("muts[2] = %+v", muts[2])
	}
}

func TestNormalizeToolResultBlockArray(t *testing.T) {
	muts := normalize(t, EventProviderResponse, `{"message":{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu_2","is_error":true,
		 "content":[{"type":"text","text":"exit 1"},{"type":"text","text":": no such file"}]}
	]}}`)
	if len(muts) != 1 || muts[0].Op != chat.OpAttachResult {
		t.Fatalf("muts = %+v", muts)
	}
	if muts[0].Result != "exit 1: no such file" {
		t.Fatalf("Result = %q", muts[0].Result)
	}
	if muts[0].ToolStatus != chat.ToolFailed {
		t.Fatalf("ToolStatus = %q, want failed", muts[0].ToolStatus)
	}
}

func TestNormalizeProviderOutputUnescapes(t *testing.T) {
	muts := normalize(t, EventProviderOutput, `{"text":"line1\\nline2"}`)
	if len(muts) != 1 || muts[0].Text != "line1\nline2" {
		t.Fatalf("muts = %+v", muts)
	}
}

func TestNormalizeProviderStatus(t *testing.T) {
	muts := normalize(t, EventProviderStatus, `{"text":"Thinking...","tokens":421,"canInterrupt":true}`)
	if len(muts) != 1 || muts[0].Op != chat.OpStatus || muts[0].Text != "Thinking..." {
		t.Fatalf("muts = %+v", muts)
	}
}

func TestNormalizeTokenBudgetNoOp(t *testing.T) {
	muts := normalize(t, EventTokenBudget, `{"used":1000,"limit":200000}`)
	if len(muts) != 0 {
		t.Fatalf("muts = %+v, want none", muts)
	}
}

func TestNormalizeRejectsUnknownType(t *testing.T) {
	if _, err := NewNormalizer().Normalize(chat.Event{Type: "bogus", Payload: json.RawMessage(`{}`)}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func historyFixture() []HistoryRecord {
	return []HistoryRecord{
		{Role: "tool_result", ToolUseID: "tu_1", Result: "3 files", Sequence: 4, RowID: 4},
		{Role: "user", Text: "list files", Sequence: 1, RowID: 1},
		{Role: "assistant", Text: "Listing now.", Sequence: 2, RowID: 2,
			ToolUses: []historyToolUse{{ID: "tu_1", Name: "ls", Input: json.RawMessage(`{}`)}}},
		{Role: "tool_result", ToolUseID: "tu_orphan", Result: "stray", Sequence: 9, RowID: 9},
	}
}

func TestConvertHistoryTwoPassCorrelation(t *testing.T) {
	msgs := ConvertHistory(historyFixture())

	// user / assistant text / tool(带结果) / 孤儿结果
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4 (%+v)", len(msgs), msgs)
	}
	if msgs[0].Kind != chat.KindUser || msgs[0].Content != "list files" {
		t.Fatalf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Kind != chat.KindAssistant {
		t.Fatalf("msgs[1] = %+v", msgs[1])
	}

	tool := msgs[2]
	if tool.ToolID != "tu_1" || tool.ToolResult == nil || *tool.ToolResult != "3 files" {
		t.Fatalf("result not attached despite earlier arrival: %+v", tool)
	}
	if tool.ToolStatus != chat.ToolSuccess {
		t.Fatalf("ToolStatus = %q", tool.ToolStatus)
	}

	orphan := msgs[3]
	if orphan.ToolID != "tu_orphan" || orphan.ToolResult == nil || *orphan.ToolResult != "stray" {
		t.Fatalf("orphan result dropped: %+v", orphan)
	}
}

func TestNormalizeSessionHistory(t *testing.T) {
	raw, err := json.Marshal(sessionHistoryPayload{Records: historyFixture()})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	muts := normalize(t, EventSessionHistory, string(raw))

	if len(muts) != 1 || muts[0].Op != chat.OpHydrate {
		t.Fatalf("muts = %+v, want single OpHydrate", muts)
	}
	if !reflect.DeepEqual(muts[0].Messages, ConvertHistory(historyFixture())) {
		t.Fatalf("hydrate payload diverges from conversion: %+v", muts[0].Messages)
	}
}

// 回放事件走完整链路: envelope → 归一化 → 引擎整表替换 + 工具重关联。
func TestSessionHistoryHydratesEngine(t *testing.T) {
	e := chat.NewEngine(chat.Options{})
	e.RegisterNormalizer(NewNormalizer())
	in := chat.NewIngestor(e, 8)

	raw, err := json.Marshal(sessionHistoryPayload{Records: historyFixture()})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	in.Dispatch(chat.Event{
		Type:     EventSessionHistory,
		Provider: ProviderName,
		Payload:  raw,
	})

	msgs := e.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4 hydrated messages (%+v)", len(msgs), msgs)
	}
	if msgs[0].Content != "list files" || msgs[2].ToolID != "tu_1" {
		t.Fatalf("hydrated transcript out of order: %+v", msgs)
	}

	// 重关联: 回放后迟到的结果仍按关联键补到原位
	e.Apply([]chat.Mutation{chat.AttachResult("tu_orphan", "ls", "late", chat.ToolSuccess)})
	if got := e.Snapshot(); len(got) != 4 {
		t.Fatalf("late result created duplicate instead of patching: %+v", got)
	}
}

func TestConvertHistoryIdempotent(t *testing.T) {
	first := ConvertHistory(historyFixture())
	second := ConvertHistory(historyFixture())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("conversion not pure:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestConvertHistoryEmpty(t *testing.T) {
	if msgs := ConvertHistory(nil); len(msgs) != 0 {
		t.Fatalf("msgs = %+v, want empty", msgs)
	}
}
