// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/ai-workbench/chat-engine/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Gateway (UI 侧 HTTP/SSE)
	GatewayAddr        string `env:"GATEWAY_ADDR" default:"127.0.0.1:8790"`
	GatewaySSEKeepSec  int    `env:"GATEWAY_SSE_KEEPALIVE_SEC" default:"30" min:"5"`
	GatewayPageSize    int    `env:"GATEWAY_PAGE_SIZE" default:"20" min:"1"`
	GatewayMaxPageSize int    `env:"GATEWAY_MAX_PAGE_SIZE" default:"100" min:"1"`

	// Agent-stream provider (per-turn SSE endpoint)
	AgentStreamBaseURL    string `env:"AGENT_STREAM_BASE_URL" default:"http://127.0.0.1:8991"`
	AgentStreamTimeoutSec int    `env:"AGENT_STREAM_TIMEOUT_SEC" default:"300" min:"10"`

	// Session-store provider (long-lived WebSocket)
	SessionStoreWSURL        string `env:"SESSION_STORE_WS_URL" default:"ws://127.0.0.1:8992/ws"`
	SessionStoreDialSec      int    `env:"SESSION_STORE_DIAL_SEC" default:"10" min:"1"`
	SessionStorePingSec      int    `env:"SESSION_STORE_PING_SEC" default:"25" min:"5"`
	SessionStoreReconnectMax int    `env:"SESSION_STORE_RECONNECT_MAX_SEC" default:"30" min:"1"`

	// Stream 引擎
	DeltaFlushMS       int `env:"DELTA_FLUSH_MS" default:"100" min:"10"`
	NearTopThresholdPX int `env:"NEAR_TOP_THRESHOLD_PX" default:"120" min:"0"`
	DiffCacheEntries   int `env:"DIFF_CACHE_ENTRIES" default:"100" min:"1"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
	AppEnv   string `env:"APP_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
