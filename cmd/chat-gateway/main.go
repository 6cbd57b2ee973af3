// cmd/chat-gateway — UI 网关主入口: stream 引擎 + HTTP/SSE 服务。
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/ai-workbench/chat-engine/internal/chat"
	"github.com/ai-workbench/chat-engine/internal/config"
	"github.com/ai-workbench/chat-engine/internal/database"
	"github.com/ai-workbench/chat-engine/internal/gateway"
	"github.com/ai-workbench/chat-engine/internal/provider/agentstream"
	"github.com/ai-workbench/chat-engine/internal/provider/sessionstore"
	"github.com/ai-workbench/chat-engine/internal/store"
	"github.com/ai-workbench/chat-engine/pkg/logger"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.Init(cfg.AppEnv)
	}

	// ========================================
	// 存储层
	// ========================================

	var transcripts *store.TranscriptStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		transcripts = store.NewTranscriptStore(pool)
	} else {
		logger.Warn("no POSTGRES_CONNECTION_STRING, transcripts are in-memory only")
	}

	// ========================================
	// Stream 引擎 + providers
	// ========================================

	// srv 在 engine 之后创建; OnUpdate 闭包晚绑定
	var srv *gateway.Server
	abort := &abortRelay{}

	opts := chat.Options{
		Abort:         abort,
		FlushInterval: time.Duration(cfg.DeltaFlushMS) * time.Millisecond,
		PageSize:      cfg.GatewayPageSize,
		NearTop:       cfg.NearTopThresholdPX,
		OnUpdate: func(sessionID string, msgs []chat.Message) {
			if srv != nil {
				srv.Bus().PublishTimeline(sessionID, msgs)
			}
		},
	}
	if transcripts != nil {
		opts.Persistence = transcripts
		opts.Loader = transcripts
	}
	engine := chat.NewEngine(opts)
	defer engine.Close()

	engine.RegisterNormalizer(agentstream.NewNormalizer())
	engine.RegisterNormalizer(sessionstore.NewNormalizer())

	ingestor := chat.NewIngestor(engine, 0)
	util.SafeGo(func() { ingestor.Run(ctx) })

	streamClient := agentstream.NewClient(cfg.AgentStreamBaseURL, nil, ingestor)
	abort.client = streamClient

	wsClient := sessionstore.NewWSClient(cfg.SessionStoreWSURL, ingestor)
	if err := wsClient.Connect(ctx); err != nil {
		// 会话存储后端可后启动; 传输层自带重连
		logger.Warn("session-store connect failed, will retry in background",
			logger.FieldError, err)
	}
	defer wsClient.Close()

	// ========================================
	// HTTP 网关
	// ========================================

	// 接口参数不能塞 typed-nil 指针
	var gwTranscripts gateway.Transcripts
	if transcripts != nil {
		gwTranscripts = transcripts
	}
	srv = gateway.NewServer(cfg, engine, gwTranscripts, &turnStarter{client: streamClient, sink: ingestor})

	logger.Info("chat-gateway starting", "addr", cfg.GatewayAddr)
	util.SafeGo(func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("gateway server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}

// turnStarter drives one agent turn: POST the user message, then pump the
// SSE response into the ingestor until the stream closes.
type turnStarter struct {
	client *agentstream.Client
	sink   agentstream.Sink
}

func (t *turnStarter) StartTurn(ctx context.Context, sessionID, message string, images []string) {
	err := t.client.Stream(ctx, agentstream.SendRequest{
		SessionID: sessionID,
		Message:   message,
		Images:    images,
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logger.Error("agent stream failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
	// 传输层故障也走 error 事件, 让用户在 transcript 中看到
	t.sink.Push(chat.Event{
		Type:      agentstream.EventError,
		SessionID: sessionID,
		Provider:  agentstream.ProviderName,
		Payload:   []byte(`{"message":"stream connection failed"}`),
	})
}

// abortRelay 延迟绑定 abort 传输 (engine 先于 client 创建)。
type abortRelay struct {
	client *agentstream.Client
}

func (r *abortRelay) AbortSession(ctx context.Context, sessionID string) error {
	if r.client == nil {
		return nil
	}
	return r.client.AbortSession(ctx, sessionID)
}
