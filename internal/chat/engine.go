// engine.go — 引擎外观: 串联 timeline / throttle / session / linker / 分页。
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/ai-workbench/chat-engine/pkg/logger"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

// Persistence is the durable key-value sink for transcript and draft input,
// keyed by conversation identity. Read on mount, written on every
// canonical-list mutation, cleared on clean completion.
type Persistence interface {
	SaveTranscript(ctx context.Context, conversationID string, msgs []Message) error
	LoadTranscript(ctx context.Context, conversationID string) ([]Message, error)
	ClearTranscript(ctx context.Context, conversationID string) error
	SaveDraft(ctx context.Context, conversationID, text string) error
	LoadDraft(ctx context.Context, conversationID string) (string, error)
	ClearDraft(ctx context.Context, conversationID string) error
}

// AbortTransport asks the backend to terminate the in-flight generation for a
// session, so server-side work stops even if the client-side reader
// disconnects.
type AbortTransport interface {
	AbortSession(ctx context.Context, sessionID string) error
}

// StreamSession is the per-turn arena: delta accumulator, flush timer, and
// the cancel func of the in-flight HTTP stream. Constructed per logical turn
// and discarded on completion/abort.
type StreamSession struct {
	buffer    *DeltaBuffer
	cancel    context.CancelFunc
	startedAt time.Time
}

// Options configures an Engine. Zero values get sensible defaults.
type Options struct {
	Protection    Protection
	Router        Router
	Persistence   Persistence
	Abort         AbortTransport
	Loader        PageLoader
	FlushInterval time.Duration
	PageSize      int
	NearTop       int
	Measure       MeasureFunc

	// OnUpdate observes every committed canonical-list snapshot (the gateway
	// fans it out over SSE). Called outside the engine lock.
	OnUpdate func(sessionID string, msgs []Message)
}

// 状态条在 UI 里只有一行的位置
const maxStatusRunes = 200

// Engine owns the canonical transcript for one open conversation and all
// mutation entry points. Every mutation happens under one lock and is
// expressed as a copy-on-write slice replace, so snapshots handed out are
// never torn by a concurrent timer flush.
type Engine struct {
	mu       sync.Mutex
	timeline *Timeline
	linker   *ToolLinker
	session  *SessionTracker
	pager    *Paginator

	normalizers map[string]Normalizer
	persistence Persistence
	abortConn   AbortTransport
	onUpdate    func(sessionID string, msgs []Message)

	flushInterval time.Duration
	turn          *StreamSession
	statusText    string // transient working indicator

	// persistCh 串行化存储写入: clear 不得被迟到的 save 复活
	persistCh chan func(context.Context)
	persistWG sync.WaitGroup
}

// NewEngine constructs an engine with its collaborators.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		timeline:      NewTimeline(),
		linker:        NewToolLinker(),
		session:       NewSessionTracker(opts.Protection, opts.Router),
		normalizers:   map[string]Normalizer{},
		persistence:   opts.Persistence,
		abortConn:     opts.Abort,
		onUpdate:      opts.OnUpdate,
		flushInterval: opts.FlushInterval,
	}
	if opts.Loader != nil {
		e.pager = NewPaginator(opts.Loader, opts.PageSize, opts.NearTop, opts.Measure)
	}
	if e.persistence != nil {
		e.persistCh = make(chan func(context.Context), 256)
		e.persistWG.Add(1)
		util.SafeGo(func() {
			defer e.persistWG.Done()
			for op := range e.persistCh {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				op(ctx)
				cancel()
			}
		})
	}
	return e
}

// Close drains pending persistence writes. Safe to call once on shutdown.
func (e *Engine) Close() {
	if e.persistCh != nil {
		close(e.persistCh)
		e.persistWG.Wait()
	}
}

func (e *Engine) enqueuePersist(op func(context.Context)) {
	if e.persistCh == nil {
		return
	}
	select {
	case e.persistCh <- op:
	default:
		logger.Debug("engine: persistence queue full, dropping write")
	}
}

// RegisterNormalizer installs a provider normalizer.
func (e *Engine) RegisterNormalizer(n Normalizer) {
	e.mu.Lock()
	e.normalizers[n.Provider()] = n
	e.mu.Unlock()
}

// Session exposes the session tracker (read-mostly callers: ingestor,
// transports, gateway).
func (e *Engine) Session() *SessionTracker { return e.session }

// Snapshot returns the current canonical message list.
func (e *Engine) Snapshot() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.Snapshot()
}

// StatusText returns the transient working indicator text.
func (e *Engine) StatusText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusText
}

// ========================================
// 用户操作入口
// ========================================

// SendUserMessage appends the user's message, allocates a session when none
// exists, opens a fresh per-turn StreamSession, and marks the session
// processing. Returns the turn context (cancelled on abort) and the session
// ID the transports should address.
func (e *Engine) SendUserMessage(text string, images []string) (context.Context, string) {
	e.mu.Lock()

	if e.turn != nil {
		// 新 turn 开始前终止上一个: 先冲刷缓冲避免丢失尾部片段
		e.finishTurnLocked()
	}

	sessionID := e.session.CurrentID()
	if sessionID == "" {
		sessionID = e.session.BeginPending()
	}
	e.session.StartProcessing()

	e.timeline.Append(Message{
		Kind:    KindUser,
		Content: text,
		Images:  images,
	})

	ctx, cancel := context.WithCancel(context.Background())
	turn := &StreamSession{cancel: cancel, startedAt: time.Now()}
	turn.buffer = NewDeltaBuffer(e.flushInterval, func() { e.commitDelta(turn) })
	e.turn = turn
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	e.afterMutation(sessionID, snapshot)
	return ctx, sessionID
}

// AbortTurn cancels the in-flight turn: the HTTP stream context is cancelled,
// buffered partial text is flushed (never discarded), an abort notice is
// appended, and the backend is told to stop server-side.
func (e *Engine) AbortTurn(ctx context.Context) {
	e.mu.Lock()
	sessionID := e.session.CurrentID()
	turn := e.turn
	if turn != nil {
		turn.cancel()
		content, reasoning := turn.buffer.Take()
		e.applyDeltaLocked(content, reasoning)
		e.turn = nil
	}
	e.timeline.CloseStreaming()
	// 用户主动中止不是错误: 信息性提示而非 error 卡
	e.timeline.Append(Message{
		Kind:    KindAssistant,
		Content: "Generation aborted",
	})
	e.session.Abort()
	e.statusText = ""
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	if e.abortConn != nil && sessionID != "" && !IsTemporaryID(sessionID) {
		if err := e.abortConn.AbortSession(ctx, sessionID); err != nil {
			logger.Warn("engine: abort side-channel failed",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
		}
	}
	e.afterMutation(sessionID, snapshot)
}

// ClearConversation drops the transcript and correlations (explicit clear).
func (e *Engine) ClearConversation() {
	e.mu.Lock()
	sessionID := e.session.CurrentID()
	e.timeline.Clear()
	e.linker.Reset()
	if e.pager != nil {
		e.pager.Reset(0)
	}
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	if sessionID != "" {
		e.enqueuePersist(func(ctx context.Context) {
			if err := e.persistence.ClearTranscript(ctx, sessionID); err != nil {
				logger.Warn("engine: clear transcript failed",
					logger.FieldSessionID, sessionID, logger.FieldError, err)
			}
		})
	}
	e.notify(sessionID, snapshot)
}

// SwitchSession is the user-initiated switch: transcript clears (unlike a
// backend redirect) and the new conversation hydrates from the durable
// store. An in-flight backend turn is NOT cancelled; only live rendering
// detaches.
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	e.session.Detach()
	e.session.Reset()
	e.timeline.Clear()
	e.linker.Reset()
	e.turn = nil
	e.statusText = ""
	e.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	var msgs []Message
	if e.persistence != nil {
		loaded, err := e.persistence.LoadTranscript(ctx, sessionID)
		if err != nil {
			logger.Warn("engine: hydrate transcript failed",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
		} else {
			msgs = loaded
		}
	}

	e.mu.Lock()
	e.session.Adopt(sessionID)
	e.timeline.Replace(msgs)
	e.relinkToolMessagesLocked()
	if e.pager != nil {
		e.pager.Reset(len(msgs))
	}
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	e.afterMutation(sessionID, snapshot)
	return nil
}

// CheckSessionStatus re-attaches Processing when the backend reports the
// session still running server-side (user returned to a detached session).
func (e *Engine) CheckSessionStatus(stillRunning bool) {
	e.session.Reattach(stillRunning)
}

// ========================================
// 会话生命周期 (ingestor 转发)
// ========================================

// OnSessionCreated processes a backend init event with a real session ID.
func (e *Engine) OnSessionCreated(realID string) {
	result := e.session.Adopt(realID)
	switch result {
	case AdoptSwapped:
		logger.Info("engine: temporary session ID swapped",
			logger.FieldSessionID, realID)
	case AdoptRedirected:
		// 后端会话复制: transcript 保留, 导航已由 tracker 请求
		logger.Info("engine: session duplication redirect",
			logger.FieldSessionID, realID)
	}
}

// OnCompletion finishes the turn cleanly: remaining deltas flush, the
// streaming flag clears, processing releases, and the local transcript cache
// clears since the durable store now holds the canonical copy.
func (e *Engine) OnCompletion() {
	e.mu.Lock()
	sessionID := e.session.CurrentID()
	e.completeTurnLocked()
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	e.notify(sessionID, snapshot)
}

// completeTurnLocked is the shared clean-completion path: the session-store
// completion kind and the agent-stream done event both land here.
func (e *Engine) completeTurnLocked() {
	sessionID := e.session.CurrentID()
	e.finishTurnLocked()
	e.session.Complete()
	e.statusText = ""

	if e.persistence != nil && sessionID != "" {
		e.enqueuePersist(func(ctx context.Context) {
			if err := e.persistence.ClearTranscript(ctx, sessionID); err != nil {
				logger.Warn("engine: clear transcript cache failed",
					logger.FieldSessionID, sessionID, logger.FieldError, err)
			}
			if err := e.persistence.ClearDraft(ctx, sessionID); err != nil {
				logger.Debug("engine: clear draft failed",
					logger.FieldSessionID, sessionID, logger.FieldError, err)
			}
		})
	}
}

// OnAborted processes a backend-initiated abort event.
func (e *Engine) OnAborted(reason string) {
	e.mu.Lock()
	sessionID := e.session.CurrentID()
	e.finishTurnLocked()
	notice := "Generation aborted"
	if reason != "" {
		notice = notice + ": " + reason
	}
	e.timeline.Append(Message{Kind: KindAssistant, Content: notice})
	e.session.Abort()
	e.statusText = ""
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	e.afterMutation(sessionID, snapshot)
}

// finishTurnLocked flushes the per-turn buffer inline and closes the stream.
func (e *Engine) finishTurnLocked() {
	if e.turn != nil {
		content, reasoning := e.turn.buffer.Take()
		e.applyDeltaLocked(content, reasoning)
		e.turn.cancel()
		e.turn = nil
	}
	e.timeline.CloseStreaming()
}

// ========================================
// Provider 事件 → canonical mutations
// ========================================

// HandleProviderEvent normalizes one provider event and applies the
// resulting mutations. Malformed payloads drop with a log line; the stream
// keeps going.
func (e *Engine) HandleProviderEvent(ev Event) {
	e.mu.Lock()
	n, ok := e.normalizers[ev.Provider]
	e.mu.Unlock()
	if !ok {
		logger.Warn("engine: no normalizer for provider",
			logger.FieldProvider, ev.Provider, logger.FieldEventType, ev.Type)
		return
	}
	muts, err := n.Normalize(ev)
	if err != nil {
		logger.Warn("engine: dropped malformed event",
			logger.FieldProvider, ev.Provider,
			logger.FieldEventType, ev.Type,
			logger.FieldError, err)
		return
	}
	e.Apply(muts)
}

// Apply folds canonical mutations into the transcript.
func (e *Engine) Apply(muts []Mutation) {
	if len(muts) == 0 {
		return
	}
	e.mu.Lock()
	sessionID := e.session.CurrentID()
	completed := false
	for _, mut := range muts {
		if e.applyOneLocked(mut) {
			completed = true
		}
	}
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	if completed {
		// 完成后缓存已清, 不可再入列一次 save 把它复活
		e.notify(sessionID, snapshot)
		return
	}
	e.afterMutation(sessionID, snapshot)
}

// applyOneLocked applies a single mutation; reports whether it completed the
// turn.
func (e *Engine) applyOneLocked(mut Mutation) bool {
	switch mut.Op {
	case OpAppendText:
		if e.turn != nil {
			e.turn.buffer.Add(mut.Text)
			return false
		}
		e.applyDeltaLocked(mut.Text, "")

	case OpAppendReasoning:
		if e.turn != nil {
			e.turn.buffer.AddReasoning(mut.Text)
			return false
		}
		e.applyDeltaLocked("", mut.Text)

	case OpCreate:
		// 工具卡/独立消息入列前必须先冲刷缓冲文本,
		// 保证一个 turn 内文本与工具卡不会乱序交错
		e.flushBufferLocked()
		e.timeline.CloseStreaming()
		idx := e.timeline.Append(*mut.Message)
		if mut.Message.ToolID != "" {
			e.linker.Register(mut.Message.ToolID, idx)
		}

	case OpAttachResult:
		e.flushBufferLocked()
		if patched := e.linker.Attach(e.timeline, mut); !patched {
			logger.Debug("engine: standalone tool result",
				logger.FieldToolID, mut.ToolID)
		}

	case OpSetPlan:
		e.flushBufferLocked()
		e.setPlanLocked(mut)

	case OpCloseStream:
		// SSE 的 done 事件即 turn 完成: 不止清 streaming 标记,
		// 还要释放 processing 状态与保护 (WS 通道另有 completion 事件)
		e.completeTurnLocked()
		return true

	case OpStatus:
		// 状态条是单行 UI 文本: 压扁换行并按 rune 截断
		e.statusText = util.CompactOneLine(mut.Text, maxStatusRunes)

	case OpHydrate:
		// 会话回放: 持久化记录转换后的整表替换
		e.timeline.Replace(mut.Messages)
		e.relinkToolMessagesLocked()
		if e.pager != nil {
			e.pager.Reset(len(mut.Messages))
		}
	}
	return false
}

// flushBufferLocked drains the per-turn buffer inline (the callback path
// would re-lock the engine).
func (e *Engine) flushBufferLocked() {
	if e.turn == nil {
		return
	}
	content, reasoning := e.turn.buffer.Take()
	e.applyDeltaLocked(content, reasoning)
}

func (e *Engine) applyDeltaLocked(content, reasoning string) {
	if content != "" {
		e.timeline.AppendStreamingText(content)
	}
	if reasoning != "" {
		e.timeline.AppendStreamingReasoning(reasoning)
	}
}

// setPlanLocked replaces the trailing plan card, appending when none exists.
func (e *Engine) setPlanLocked(mut Mutation) {
	if mut.Message == nil {
		return
	}
	msgs := e.timeline.Snapshot()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == KindPlan {
			text := mut.Message.Content
			e.timeline.Patch(i, func(m *Message) { m.Content = text })
			return
		}
		if msgs[i].Kind == KindUser {
			break // plan 卡只在当前 turn 内复用
		}
	}
	e.timeline.CloseStreaming()
	e.timeline.Append(*mut.Message)
}

// commitDelta is the throttle timer's flush signal (runs off the timer
// goroutine). The drain itself happens here under the engine lock: a turn
// that ended in the meantime has already drained its buffer through the same
// lock, so a late timer finds the buffer empty instead of appending after
// the abort notice.
func (e *Engine) commitDelta(turn *StreamSession) {
	e.mu.Lock()
	if e.turn != turn {
		e.mu.Unlock()
		return
	}
	sessionID := e.session.CurrentID()
	content, reasoning := turn.buffer.Take()
	if content == "" && reasoning == "" {
		e.mu.Unlock()
		return
	}
	e.applyDeltaLocked(content, reasoning)
	snapshot := e.timeline.Snapshot()
	e.mu.Unlock()

	e.afterMutation(sessionID, snapshot)
}

// ========================================
// 分页
// ========================================

// ShouldLoadOlder gates pagination on scroll position.
func (e *Engine) ShouldLoadOlder(scrollTop int) bool {
	return e.pager != nil && e.pager.ShouldLoad(scrollTop)
}

// LoadOlderPage fetches and merges one older history page. The network fetch
// runs without the engine lock; only the merge locks.
func (e *Engine) LoadOlderPage(ctx context.Context) (PrependResult, error) {
	if e.pager == nil {
		return PrependResult{}, nil
	}
	sessionID := e.session.RealID()
	if sessionID == "" {
		return PrependResult{}, nil
	}

	var snapshot []Message
	result, err := e.pager.LoadOlder(ctx, sessionID, func(older []Message) []Message {
		e.mu.Lock()
		defer e.mu.Unlock()
		inserted := e.timeline.Prepend(older)
		e.linker.Shift(len(inserted))
		e.relinkToolMessagesLocked()
		snapshot = e.timeline.Snapshot()
		return inserted
	})
	if err != nil {
		return result, err
	}
	if result.Inserted > 0 {
		e.afterMutation(sessionID, snapshot)
	}
	return result, nil
}

// relinkToolMessagesLocked rebuilds correlation indexes after a bulk list
// replacement or prepend (indexes may predate the merge).
func (e *Engine) relinkToolMessagesLocked() {
	e.linker.Reset()
	msgs := e.timeline.Snapshot()
	for i := range msgs {
		if msgs[i].ToolID != "" {
			e.linker.Register(msgs[i].ToolID, i)
		}
	}
}

// ========================================
// 通知与持久化
// ========================================

// afterMutation notifies observers and persists the snapshot. Persistence is
// best-effort and off the hot path; failures degrade to log lines.
func (e *Engine) afterMutation(sessionID string, snapshot []Message) {
	e.notify(sessionID, snapshot)
	if e.persistence == nil || sessionID == "" {
		return
	}
	e.enqueuePersist(func(ctx context.Context) {
		if err := e.persistence.SaveTranscript(ctx, sessionID, snapshot); err != nil {
			logger.Debug("engine: persist transcript failed",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
		}
	})
}

func (e *Engine) notify(sessionID string, snapshot []Message) {
	if e.onUpdate != nil {
		e.onUpdate(sessionID, snapshot)
	}
}
