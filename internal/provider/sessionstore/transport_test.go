package sessionstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
)

type eventSink struct {
	mu     sync.Mutex
	events []chat.Event
}

func (s *eventSink) Push(ev chat.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) snapshot() []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Event{}, s.events...)
}

func wsTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// hold until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvents(t *testing.T, sink *eventSink, n int) []chat.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := sink.snapshot()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: got %d events, want %d", len(events), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSClientDispatchesFrames(t *testing.T) {
	srv := wsTestServer(t, []string{
		`{"type":"session-created","sessionId":"sess-1","payload":{"sessionId":"sess-1"}}`,
		`{not json}`,
		`{"type":"provider-output","sessionId":"sess-1","payload":{"text":"hello"}}`,
	})
	defer srv.Close()

	sink := &eventSink{}
	c := NewWSClient(wsURL(srv), sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	events := waitEvents(t, sink, 2)
	if events[0].Type != EventSessionCreated || events[0].SessionID != "sess-1" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventProviderOutput {
		t.Fatalf("events[1] = %+v (malformed frame leaked?)", events[1])
	}
	if events[0].Provider != ProviderName {
		t.Fatalf("Provider = %q", events[0].Provider)
	}
}

func TestWSClientFlatEnvelopeCompat(t *testing.T) {
	srv := wsTestServer(t, []string{
		`{"type":"provider-output","sessionId":"sess-1","text":"flat"}`,
	})
	defer srv.Close()

	sink := &eventSink{}
	c := NewWSClient(wsURL(srv), sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	events := waitEvents(t, sink, 1)
	var p providerOutputPayload
	if err := json.Unmarshal(events[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Text != "flat" {
		t.Fatalf("Text = %q, want flat (flat envelope payload = whole frame)", p.Text)
	}
}

func TestWSClientCloseStopsLoops(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()

	sink := &eventSink{}
	c := NewWSClient(wsURL(srv), sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()
	c.Close() // idempotent

	err := c.Send(map[string]string{"type": "ping"})
	if err == nil {
		t.Fatal("Send after Close must fail")
	}
	if !apperrors.Is(err, apperrors.ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed in chain", err)
	}
}

func TestReconnectDelayBackoff(t *testing.T) {
	if d := reconnectDelay(1); d != reconnectBaseDelay {
		t.Fatalf("delay(1) = %v", d)
	}
	if d := reconnectDelay(2); d != 2*reconnectBaseDelay {
		t.Fatalf("delay(2) = %v", d)
	}
	if d := reconnectDelay(100); d != reconnectMaxDelay {
		t.Fatalf("delay(100) = %v, want capped at %v", d, reconnectMaxDelay)
	}
}
