// ingest.go — 入站事件的有序队列消费与分发。
package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ai-workbench/chat-engine/pkg/logger"
)

// Event is the transport-agnostic inbound event envelope. Both the WebSocket
// channel and the SSE reader push Events; ordering between the two channels
// is resolved by the session filter, not by arrival order.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Provider  string          `json:"-"`
	Payload   json.RawMessage `json:"data,omitempty"`
}

// Normalizer converts provider-native events into canonical mutations. Pure
// and stateless; tested independently of any transport.
type Normalizer interface {
	Provider() string
	Normalize(ev Event) ([]Mutation, error)
}

// Global event kinds bypass the per-session filter.
const (
	EvtSessionCreated     = "session-created"
	EvtCompletion         = "completion"
	EvtProjectListChanged = "project-list-changed"

	EvtSessionAborted = "session-aborted"
	EvtSessionStatus  = "session-status"
	EvtTokenBudget    = "token-budget"
)

func isGlobalKind(kind string) bool {
	switch kind {
	case EvtSessionCreated, EvtCompletion, EvtProjectListChanged:
		return true
	default:
		return false
	}
}

// Ingestor is the top-level dispatcher: an ordered queue drained by a single
// goroutine so every transcript mutation happens on one logical thread.
// Dispatch is also callable synchronously (tests, in-process callers).
type Ingestor struct {
	engine *Engine
	queue  chan Event
}

// NewIngestor creates an ingestor feeding the engine. queueSize <= 0 falls
// back to 256.
func NewIngestor(engine *Engine, queueSize int) *Ingestor {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Ingestor{engine: engine, queue: make(chan Event, queueSize)}
}

// Push enqueues an event in arrival order. Blocks when the queue is full so
// transports apply natural backpressure instead of dropping.
func (in *Ingestor) Push(ev Event) {
	in.queue <- ev
}

// Run drains the queue until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in.queue:
			in.Dispatch(ev)
		}
	}
}

// lifecycleHandlers routes session-level kinds straight to the state machine.
var lifecycleHandlers = map[string]func(*Engine, Event){
	EvtSessionCreated: handleSessionCreated,
	EvtCompletion:     handleCompletion,
	EvtSessionAborted: handleSessionAborted,
	EvtSessionStatus:  handleSessionStatus,
}

// Dispatch applies the cross-session filter, then routes the event either to
// a lifecycle handler or to the owning provider normalizer.
func (in *Ingestor) Dispatch(ev Event) {
	kind := strings.TrimSpace(ev.Type)
	if kind == "" {
		return
	}

	if !isGlobalKind(kind) && !in.engine.session.Accepts(ev.SessionID) {
		// 跨会话隔离: 用户切换会话后, 迟到的旧会话响应不得污染当前 transcript
		logger.Debug("ingest: dropped cross-session event",
			logger.FieldEventType, kind,
			logger.FieldSessionID, ev.SessionID,
		)
		return
	}

	switch kind {
	case EvtTokenBudget, EvtProjectListChanged:
		// compat kinds: 消费但不产生 transcript 变化
		return
	}

	if handler, ok := lifecycleHandlers[kind]; ok {
		handler(in.engine, ev)
		return
	}

	in.engine.HandleProviderEvent(ev)
}

func handleSessionCreated(e *Engine, ev Event) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &payload)
	}
	id := payload.SessionID
	if id == "" {
		id = ev.SessionID
	}
	e.OnSessionCreated(id)
}

func handleCompletion(e *Engine, ev Event) {
	e.OnCompletion()
}

func handleSessionAborted(e *Engine, ev Event) {
	e.OnAborted("")
}

func handleSessionStatus(e *Engine, ev Event) {
	var payload struct {
		Processing bool `json:"processing"`
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &payload)
	}
	e.CheckSessionStatus(payload.Processing)
}
