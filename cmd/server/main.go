package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
	"github.com/cliffyan/local-websearch-mcp/internal/engine"
	"github.com/cliffyan/local-websearch-mcp/internal/extract"
	"github.com/cliffyan/local-websearch-mcp/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🔍 Starting local-websearch MCP Server...")

	// 可选 .env
	_ = godotenv.Load()

	// 加载配置
	cfg := config.Load()

	// 初始化搜索引擎管理器和正文提取器
	engineManager := engine.NewManager(cfg)

	proxyURL := ""
	if cfg.Proxy.Enabled {
		proxyURL = cfg.Proxy.URL
	}
	extractor := extract.New(cfg.Extract, proxyURL)

	srv := server.New(cfg, engineManager, extractor)

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("❌ Shutdown failed")
		}

		if bm := engine.GetBrowserManager(); bm.IsInitialized() {
			bm.Close()
		}
	}()

	// 启动服务器
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("❌ Server failed")
	}
}
