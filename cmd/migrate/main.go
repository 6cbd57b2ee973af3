// cmd/migrate — 手动执行数据库迁移 (版本化, 幂等)。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ai-workbench/chat-engine/internal/config"
	"github.com/ai-workbench/chat-engine/internal/database"
	"github.com/ai-workbench/chat-engine/pkg/logger"
)

func main() {
	cfg := config.Load()
	if cfg.PostgresConnStr == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_CONNECTION_STRING not set")
		os.Exit(1)
	}
	logger.Init(cfg.AppEnv)

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connect failed: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	dir := "./migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := database.Migrate(ctx, pool, dir); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations up to date")
}
