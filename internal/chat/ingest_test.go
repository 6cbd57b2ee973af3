package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDispatchDropsCrossSessionEvents(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: time.Hour})
	e.RegisterNormalizer(textNormalizer{name: "agent"})
	e.SendUserMessage("q", nil)
	e.OnSessionCreated("sess-1")
	in := NewIngestor(e, 8)

	in.Dispatch(Event{Provider: "agent", Type: "content", SessionID: "sess-other", Payload: json.RawMessage(`{"text":"stale"}`)})
	in.Dispatch(Event{Provider: "agent", Type: "content", SessionID: "sess-1", Payload: json.RawMessage(`{"text":"fresh"}`)})
	e.Apply([]Mutation{CloseStream("")})

	msgs := e.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (cross-session event leaked)", len(msgs))
	}
	if msgs[1].Content != "fresh" {
		t.Fatalf("Content = %q, want %q", msgs[1].Content, "fresh")
	}
}

func TestDispatchGlobalKindsBypassFilter(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: time.Hour})
	e.SendUserMessage("q", nil)
	e.OnSessionCreated("sess-1")
	in := NewIngestor(e, 8)

	// completion 不携带当前会话 ID 也必须放行
	in.Dispatch(Event{Type: EvtCompletion, SessionID: "sess-elsewhere"})

	if got := e.Session().State(); got != StateCompleted {
		t.Fatalf("session state = %q, want %q", got, StateCompleted)
	}
}

func TestDispatchSessionCreatedSwapsID(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: time.Hour})
	_, temp := e.SendUserMessage("q", nil)
	in := NewIngestor(e, 8)

	in.Dispatch(Event{
		Type:      EvtSessionCreated,
		SessionID: "sess-42",
		Payload:   json.RawMessage(`{"sessionId":"sess-42"}`),
	})

	if got := e.Session().CurrentID(); got != "sess-42" {
		t.Fatalf("CurrentID = %q, want sess-42 (was %s)", got, temp)
	}
}

func TestDispatchSessionStatusReattaches(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: time.Hour})
	e.SendUserMessage("q", nil)
	e.OnSessionCreated("sess-1")
	e.Session().Detach()
	in := NewIngestor(e, 8)

	in.Dispatch(Event{Type: EvtSessionStatus, SessionID: "sess-1", Payload: json.RawMessage(`{"processing":true}`)})
	if got := e.Session().State(); got != StateProcessing {
		t.Fatalf("session state = %q, want %q", got, StateProcessing)
	}
}

func TestDispatchCompatKindsNoOp(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: time.Hour})
	e.SendUserMessage("q", nil)
	in := NewIngestor(e, 8)

	in.Dispatch(Event{Type: EvtTokenBudget, Payload: json.RawMessage(`{"used":100}`)})
	in.Dispatch(Event{Type: EvtProjectListChanged})

	if got := len(e.Snapshot()); got != 1 {
		t.Fatalf("compat kinds mutated transcript, len = %d", got)
	}
}

func TestIngestorRunPreservesOrder(t *testing.T) {
	e := newTestEngine(Options{FlushInterval: 10 * time.Millisecond})
	e.RegisterNormalizer(textNormalizer{name: "agent"})
	e.SendUserMessage("q", nil)
	e.OnSessionCreated("sess-1")
	in := NewIngestor(e, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	for _, part := range []string{"a", "b", "c", "d"} {
		in.Push(Event{Provider: "agent", Type: "content", SessionID: "sess-1",
			Payload: json.RawMessage(`{"text":"` + part + `"}`)})
	}

	waitFor(t, func() bool {
		msgs := e.Snapshot()
		return len(msgs) == 2 && msgs[1].Content == "abcd"
	}, "ingest drain")
}
