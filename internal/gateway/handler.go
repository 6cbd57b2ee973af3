// handler.go — chat-gateway REST API handlers。
package gateway

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ai-workbench/chat-engine/internal/chat"
	"github.com/ai-workbench/chat-engine/internal/diffview"
	"github.com/ai-workbench/chat-engine/pkg/logger"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/timeline", s.getTimeline)
	api.POST("/timeline/load-older", s.loadOlder)

	api.POST("/chat/send", s.sendMessage)
	api.POST("/chat/abort", s.abortTurn)
	api.POST("/chat/clear", s.clearConversation)

	api.POST("/sessions/:id/switch", s.switchSession)
	api.GET("/sessions/:id/history", s.listHistory)
	api.POST("/sessions/:id/archive", s.archiveMessages)
	api.GET("/sessions/:id/draft", s.getDraft)
	api.PUT("/sessions/:id/draft", s.putDraft)

	api.POST("/diff", s.computeDiff)

	api.GET("/events", s.sseHandler)
}

// ========================================
// Timeline
// ========================================

func (s *Server) getTimeline(c *gin.Context) {
	success(c, gin.H{
		"sessionId": s.engine.Session().CurrentID(),
		"state":     s.engine.Session().State(),
		"status":    s.engine.StatusText(),
		"messages":  s.engine.Snapshot(),
	})
}

type loadOlderRequest struct {
	ScrollTop int `json:"scrollTop"`
}

func (s *Server) loadOlder(c *gin.Context) {
	var req loadOlderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if !s.engine.ShouldLoadOlder(req.ScrollTop) {
		success(c, chat.PrependResult{})
		return
	}
	result, err := s.engine.LoadOlderPage(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, result)
}

// ========================================
// Chat turn
// ========================================

type sendRequest struct {
	Message string   `json:"message" binding:"required"`
	Images  []string `json:"images"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}

	turnCtx, sessionID := s.engine.SendUserMessage(req.Message, req.Images)
	if s.turns != nil {
		// 临时 ID 不发给后端; 后端用 session-created 回授真实 ID
		target := sessionID
		if chat.IsTemporaryID(target) {
			target = ""
		}
		message := req.Message
		images := req.Images
		util.SafeGo(func() {
			s.turns.StartTurn(turnCtx, target, message, images)
		})
	}
	success(c, gin.H{"sessionId": sessionID})
}

func (s *Server) abortTurn(c *gin.Context) {
	s.engine.AbortTurn(c.Request.Context())
	success(c, gin.H{"aborted": true})
}

func (s *Server) clearConversation(c *gin.Context) {
	s.engine.ClearConversation()
	success(c, gin.H{"cleared": true})
}

// ========================================
// Sessions
// ========================================

func (s *Server) switchSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.engine.SwitchSession(c.Request.Context(), sessionID); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{
		"sessionId": sessionID,
		"messages":  s.engine.Snapshot(),
	})
}

func (s *Server) listHistory(c *gin.Context) {
	sessionID := c.Param("id")
	offset := queryInt(c, "offset", 0)
	pageSize := util.ClampInt(queryInt(c, "pageSize", s.cfg.GatewayPageSize), 1, s.cfg.GatewayMaxPageSize)

	page, err := s.transcripts.LoadPage(c.Request.Context(), sessionID, offset, pageSize)
	if err != nil {
		serverError(c, err)
		return
	}
	total, err := s.transcripts.CountBySession(c.Request.Context(), sessionID)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{
		"messages": page.Messages,
		"hasMore":  page.HasMore,
		"total":    total,
	})
}

type archiveRequest struct {
	Messages []chat.Message `json:"messages" binding:"required"`
}

// archiveMessages 由后端写入组件调用, 将完成的消息落入 durable 历史。
func (s *Server) archiveMessages(c *gin.Context) {
	sessionID := c.Param("id")
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	for _, msg := range req.Messages {
		if err := s.transcripts.Insert(c.Request.Context(), sessionID, msg); err != nil {
			serverError(c, err)
			return
		}
	}
	logger.Info("gateway: archived messages",
		logger.FieldSessionID, sessionID, "count", len(req.Messages))
	success(c, gin.H{"archived": len(req.Messages)})
}

func (s *Server) getDraft(c *gin.Context) {
	text, err := s.transcripts.LoadDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"text": text})
}

type draftRequest struct {
	Text string `json:"text"`
}

func (s *Server) putDraft(c *gin.Context) {
	sessionID := c.Param("id")
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	var err error
	if req.Text == "" {
		err = s.transcripts.ClearDraft(c.Request.Context(), sessionID)
	} else {
		err = s.transcripts.SaveDraft(c.Request.Context(), sessionID, req.Text)
	}
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"saved": true})
}

// ========================================
// Diff
// ========================================

type diffRequest struct {
	Old    string `json:"old"`
	New    string `json:"new"`
	Refine bool   `json:"refine"`
}

func (s *Server) computeDiff(c *gin.Context) {
	var req diffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	edits := s.differ.Diff(req.Old, req.New)

	resp := gin.H{
		"edits":   edits,
		"summary": diffview.Summary(edits),
	}
	if req.Refine {
		resp["spans"] = diffview.Refine(req.Old, req.New)
	}
	success(c, resp)
}

// queryInt 从 query 读整型参数。
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}
