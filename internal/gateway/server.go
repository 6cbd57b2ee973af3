// Package gateway 提供 UI 侧 HTTP/SSE 服务。
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ai-workbench/chat-engine/internal/chat"
	"github.com/ai-workbench/chat-engine/internal/config"
	"github.com/ai-workbench/chat-engine/internal/diffview"
	"github.com/ai-workbench/chat-engine/pkg/logger"
)

// Server chat-gateway HTTP 服务。
type Server struct {
	router      *gin.Engine
	engine      *chat.Engine
	transcripts Transcripts
	differ      *diffview.Differ
	bus         *EventBus
	turns       TurnStarter
	cfg         *config.Config
}

// TurnStarter launches the agent-stream fetch for one turn (the transport
// client). Runs until the stream ends or the turn context cancels.
type TurnStarter interface {
	StartTurn(ctx context.Context, sessionID, message string, images []string)
}

// Transcripts is the durable history surface the session endpoints serve
// from (store.TranscriptStore in production).
type Transcripts interface {
	LoadPage(ctx context.Context, sessionID string, offset, pageSize int) (chat.Page, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	Insert(ctx context.Context, sessionID string, msg chat.Message) error
	LoadDraft(ctx context.Context, sessionID string) (string, error)
	SaveDraft(ctx context.Context, sessionID, text string) error
	ClearDraft(ctx context.Context, sessionID string) error
}

// NewServer 创建 gateway 服务。
func NewServer(cfg *config.Config, engine *chat.Engine, transcripts Transcripts, turns TurnStarter) *Server {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	s := &Server{
		router:      r,
		engine:      engine,
		transcripts: transcripts,
		differ:      diffview.NewDiffer(cfg.DiffCacheEntries),
		bus:         NewEventBus(),
		turns:       turns,
		cfg:         cfg,
	}
	r.Use(s.localOriginOnly())
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Run 启动 HTTP 服务, 阻塞直至出错。
func (s *Server) Run() error {
	return s.router.Run(s.cfg.GatewayAddr)
}

// localOriginOnly 仅允许 localhost 来源的浏览器请求。
//
// 接受: 无 Origin header (本地工具), localhost, 127.0.0.1, [::1]。
func (s *Server) localOriginOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		lower := strings.ToLower(origin)
		for _, allowed := range []string{
			"http://localhost", "https://localhost",
			"http://127.0.0.1", "https://127.0.0.1",
			"http://[::1]", "https://[::1]",
		} {
			if strings.HasPrefix(lower, allowed) {
				c.Next()
				return
			}
		}
		logger.Warn("gateway: rejected non-local origin", logger.FieldOrigin, origin)
		c.AbortWithStatus(http.StatusForbidden)
	}
}
