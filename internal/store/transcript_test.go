// transcript_test.go — 行映射纯逻辑测试。
package store

import (
	"encoding/json"
	"testing"

	"github.com/ai-workbench/chat-engine/internal/chat"
)

func TestRowToMessageFillsOrdering(t *testing.T) {
	payload, _ := json.Marshal(chat.Message{ID: "m1", Kind: chat.KindUser, Content: "hi"})
	msg, err := rowToMessage(TranscriptRow{ID: 42, SessionID: "s1", Sequence: 7, Payload: payload})
	if err != nil {
		t.Fatalf("rowToMessage: %v", err)
	}
	if msg.Ordering == nil {
		t.Fatal("Ordering not filled from row")
	}
	if msg.Ordering.Sequence != 7 || msg.Ordering.RowID != 42 {
		t.Fatalf("Ordering = %+v, want {7 42}", msg.Ordering)
	}
}

func TestRowToMessageKeepsExplicitOrdering(t *testing.T) {
	payload, _ := json.Marshal(chat.Message{
		ID: "m1", Kind: chat.KindUser,
		Ordering: &chat.OrderingKey{Sequence: 99},
	})
	msg, err := rowToMessage(TranscriptRow{ID: 42, Sequence: 7, Payload: payload})
	if err != nil {
		t.Fatalf("rowToMessage: %v", err)
	}
	if msg.Ordering.Sequence != 99 {
		t.Fatalf("Sequence = %d, want payload value 99 preserved", msg.Ordering.Sequence)
	}
	if msg.Ordering.RowID != 42 {
		t.Fatalf("RowID = %d, want backfilled 42", msg.Ordering.RowID)
	}
}

func TestRowToMessageRejectsMalformedPayload(t *testing.T) {
	if _, err := rowToMessage(TranscriptRow{ID: 1, Payload: json.RawMessage(`{bad`)}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
