package agentstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

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

func TestStreamParsesSSELines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"Hel\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"lo\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"done\",\"stopReason\":\"end_turn\"}\n\n")
	}))
	defer srv.Close()

	sink := &eventSink{}
	c := NewClient(srv.URL, srv.Client(), sink)
	err := c.Stream(context.Background(), SendRequest{SessionID: "sess-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	events := sink.snapshot()
	// 畸形行被丢弃, 其余按序送达
	wantTypes := []string{EventContent, EventContent, EventDone}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d (%+v)", len(events), len(wantTypes), events)
	}
	for i, wt := range wantTypes {
		if events[i].Type != wt {
			t.Fatalf("events[%d].Type = %q, want %q", i, events[i].Type, wt)
		}
		if events[i].SessionID != "sess-1" {
			t.Fatalf("events[%d].SessionID = %q", i, events[i].SessionID)
		}
		if events[i].Provider != ProviderName {
			t.Fatalf("events[%d].Provider = %q", i, events[i].Provider)
		}
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content\",\"text\":\"a\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the stream open
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &eventSink{}
	c := NewClient(srv.URL, srv.Client(), sink)

	done := make(chan error, 1)
	go func() { done <- c.Stream(ctx, SendRequest{SessionID: "sess-1", Message: "hi"}) }()
	cancel()

	err := <-done
	if err == nil {
		t.Fatal("expected abort error after cancel")
	}
	if !apperrors.Is(err, apperrors.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted in chain", err)
	}
}

func TestStreamRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), &eventSink{})
	err := c.Stream(context.Background(), SendRequest{Message: "hi"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) || appErr.Code != CodeUpstreamStatus {
		t.Fatalf("err = %v, want AppError with code %s", err, CodeUpstreamStatus)
	}
	if !strings.Contains(appErr.Message, "502") || !strings.Contains(appErr.Message, "backend down") {
		t.Fatalf("message = %q, want status and body detail", appErr.Message)
	}
}

func TestAbortSession(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), &eventSink{})
	if err := c.AbortSession(context.Background(), "sess-9"); err != nil {
		t.Fatalf("AbortSession: %v", err)
	}
	if gotPath != "/api/chat/sess-9/abort" {
		t.Fatalf("path = %q, want /api/chat/sess-9/abort", gotPath)
	}
}
