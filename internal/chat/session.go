// session.go — 会话身份与 processing/abort 状态机。
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SessionState 会话生命周期状态。
type SessionState string

const (
	StateNoSession       SessionState = "no_session"
	StatePendingCreation SessionState = "pending_creation"
	StateActive          SessionState = "active"
	StateProcessing      SessionState = "processing"
	StateCompleted       SessionState = "completed"
	StateAborted         SessionState = "aborted"
)

// TempIDPrefix 前缀标识客户端生成的临时会话 ID。
const TempIDPrefix = "new-session-"

// IsTemporaryID reports whether id is a client-generated placeholder.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTemporaryID allocates a placeholder session ID used before the backend
// assigns a real one.
func NewTemporaryID() string {
	return fmt.Sprintf("%s%d", TempIDPrefix, time.Now().UnixMilli())
}

// Protection is the external session-protection collaborator: while a session
// is marked active, background refreshes pause.
type Protection interface {
	MarkActive(id string)
	MarkInactive(id string)
	ReplaceTemporaryID(newID string)
	MarkProcessing(id string)
	MarkNotProcessing(id string)
}

// Router is the external navigation collaborator, used for new-session
// adoption and duplication redirects.
type Router interface {
	NavigateToSession(id string)
}

// SessionTracker owns session identity and the processing/aborted flags.
//
// Identity transfer (temporary → real) is atomic from the collaborator's
// point of view: ReplaceTemporaryID is a single call under the tracker lock,
// so no window exists where neither ID is marked active.
type SessionTracker struct {
	mu         sync.Mutex
	state      SessionState
	id         string // real backend-issued ID, empty until adopted
	pendingID  string // temporary placeholder, empty once swapped
	provider   string
	detached   bool // UI 导航离开, 不取消后端 turn
	protection Protection
	router     Router
}

// NewSessionTracker creates a tracker bound to its collaborators. Nil
// collaborators are replaced by no-ops.
func NewSessionTracker(protection Protection, router Router) *SessionTracker {
	if protection == nil {
		protection = nopProtection{}
	}
	if router == nil {
		router = nopRouter{}
	}
	return &SessionTracker{
		state:      StateNoSession,
		protection: protection,
		router:     router,
	}
}

// State returns the current lifecycle state.
func (s *SessionTracker) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentID returns the real ID when adopted, otherwise the pending
// temporary ID, otherwise "".
func (s *SessionTracker) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return s.id
	}
	return s.pendingID
}

// RealID returns the backend-issued ID, or "" before adoption.
func (s *SessionTracker) RealID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Provider identifies which normalizer owns this session's event shapes.
func (s *SessionTracker) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// SetProvider records the owning provider.
func (s *SessionTracker) SetProvider(provider string) {
	s.mu.Lock()
	s.provider = provider
	s.mu.Unlock()
}

// BeginPending allocates a temporary ID for a brand-new conversation and
// immediately reports it active so background refreshes pause. Returns the
// temporary ID.
func (s *SessionTracker) BeginPending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNoSession && s.state != StateCompleted && s.state != StateAborted {
		if s.id != "" {
			return s.id
		}
		if s.pendingID != "" {
			return s.pendingID
		}
	}
	temp := NewTemporaryID()
	s.pendingID = temp
	s.id = ""
	s.state = StatePendingCreation
	s.protection.MarkActive(temp)
	return temp
}

// AdoptResult 描述 Adopt 的结果分支。
type AdoptResult int

const (
	// AdoptIgnored — 事件携带的 ID 与当前追踪 ID 一致, 无需处理。
	AdoptIgnored AdoptResult = iota
	// AdoptSwapped — 临时 ID 原子替换为真实 ID。
	AdoptSwapped
	// AdoptRedirected — 后端发起的会话复制/重定向, 消息保留, 已请求导航。
	AdoptRedirected
	// AdoptFresh — 无任何追踪 ID 时直接采用 (重连/恢复)。
	AdoptFresh
)

// Adopt processes a backend session-created/init event carrying a real ID.
//
// Branches:
//   - temporary ID pending → atomic swap via ReplaceTemporaryID
//   - tracked real ID differs → duplication/redirect: messages are preserved
//     (unlike a user-initiated switch) and navigation is requested
//   - nothing tracked → plain adoption
//
// 假设: 后端不会将旧 session ID 复用于无关新会话; 若复用, redirect 会错误
// 合并 transcript。该假设按原始实现保留。
func (s *SessionTracker) Adopt(realID string) AdoptResult {
	realID = strings.TrimSpace(realID)
	if realID == "" || IsTemporaryID(realID) {
		return AdoptIgnored
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.id == realID:
		return AdoptIgnored

	case s.pendingID != "":
		// 原子交换: 单次 ReplaceTemporaryID 调用完成保护转移, 无空窗
		s.protection.ReplaceTemporaryID(realID)
		s.pendingID = ""
		s.id = realID
		if s.state == StatePendingCreation {
			s.state = StateActive
		}
		return AdoptSwapped

	case s.id != "":
		// 系统发起的会话迁移: 区别于用户切换, transcript 不清空
		prev := s.id
		s.protection.MarkActive(realID)
		s.protection.MarkInactive(prev)
		s.id = realID
		s.router.NavigateToSession(realID)
		return AdoptRedirected

	default:
		s.protection.MarkActive(realID)
		s.id = realID
		if s.state == StateNoSession {
			s.state = StateActive
		}
		return AdoptFresh
	}
}

// Accepts implements the cross-session filter: events for other sessions are
// discarded once a real ID is tracked; before that everything is provisional.
func (s *SessionTracker) Accepts(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return true
	}
	return sessionID == "" || sessionID == s.id || sessionID == s.pendingID
}

// StartProcessing marks the session processing (a turn is in flight).
func (s *SessionTracker) StartProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.currentIDLocked()
	if id == "" {
		return
	}
	s.state = StateProcessing
	s.protection.MarkProcessing(id)
}

// Complete transitions Processing → Completed and releases protection.
func (s *SessionTracker) Complete() {
	s.finish(StateCompleted)
}

// Abort transitions Processing → Aborted and releases protection.
func (s *SessionTracker) Abort() {
	s.finish(StateAborted)
}

func (s *SessionTracker) finish(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.currentIDLocked()
	if id != "" {
		s.protection.MarkNotProcessing(id)
		s.protection.MarkInactive(id)
	}
	s.state = next
	s.detached = false
}

// Detach records that the user navigated away while Processing. The backend
// turn keeps running; only live rendering is detached.
func (s *SessionTracker) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		s.detached = true
	}
}

// Reattach re-applies Processing when a check-session-status query reports
// the session still running server-side. Returns whether Processing was
// restored.
func (s *SessionTracker) Reattach(stillRunning bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = false
	if !stillRunning {
		if s.state == StateProcessing {
			s.state = StateActive
		}
		return false
	}
	id := s.currentIDLocked()
	if id == "" {
		return false
	}
	s.state = StateProcessing
	s.protection.MarkProcessing(id)
	return true
}

// Detached reports whether live rendering is detached.
func (s *SessionTracker) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Reset clears identity for a user-initiated session switch (transcript is
// cleared by the caller; a backend redirect keeps it instead).
func (s *SessionTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.currentIDLocked()
	if id != "" {
		s.protection.MarkNotProcessing(id)
		s.protection.MarkInactive(id)
	}
	s.id = ""
	s.pendingID = ""
	s.state = StateNoSession
	s.detached = false
}

func (s *SessionTracker) currentIDLocked() string {
	if s.id != "" {
		return s.id
	}
	return s.pendingID
}

type nopProtection struct{}

func (nopProtection) MarkActive(string)         {}
func (nopProtection) MarkInactive(string)       {}
func (nopProtection) ReplaceTemporaryID(string) {}
func (nopProtection) MarkProcessing(string)     {}
func (nopProtection) MarkNotProcessing(string)  {}

type nopRouter struct{}

func (nopRouter) NavigateToSession(string) {}
