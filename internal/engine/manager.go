package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
)

// Manager 搜索引擎注册表，按请求分发到单个引擎
type Manager struct {
	engines map[string]SearchEngine
	config  *config.Config
	mu      sync.RWMutex
}

// NewManager 创建搜索引擎管理器
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		engines: make(map[string]SearchEngine),
		config:  cfg,
	}

	m.initEngines()

	return m
}

// initEngines 初始化所有搜索引擎
func (m *Manager) initEngines() {
	proxyURL := ""
	if m.config.Proxy.Enabled {
		proxyURL = m.config.Proxy.URL
	}

	// HTTP 版引擎
	m.RegisterEngine(NewDuckDuckGoEngine(proxyURL))
	m.RegisterEngine(NewBingEngine(proxyURL))

	// 浏览器版引擎（按配置启用）
	if m.config.Browser.Enabled {
		m.RegisterEngine(NewBrowserGoogleEngine(proxyURL, m.config.Browser.Headless))
		log.Info().Bool("headless", m.config.Browser.Headless).Msg("🌐 Browser engine enabled")
	}

	log.Info().Strs("engines", m.EngineNames()).Msg("✅ Search engines initialized")
}

// RegisterEngine 注册搜索引擎
func (m *Manager) RegisterEngine(engine SearchEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines[engine.Name()] = engine
	log.Debug().Str("engine", engine.Name()).Msg("📝 Registered search engine")
}

// Engine 按名称获取搜索引擎
func (m *Manager) Engine(name string) (SearchEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, ok := m.engines[name]
	return engine, ok
}

// EngineNames 获取所有已注册的引擎名称
func (m *Manager) EngineNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	return names
}

// Search 分发搜索请求；engineName 为空时使用默认引擎
// 失败对本次请求是终止性的，不做重试和引擎兜底
func (m *Manager) Search(ctx context.Context, engineName string, q SearchQuery) ([]SearchResult, error) {
	if engineName == "" {
		engineName = m.config.Search.DefaultEngine
	}

	if !m.config.IsEngineAllowed(engineName) {
		return nil, fmt.Errorf("engine %q is not allowed", engineName)
	}

	engine, ok := m.Engine(engineName)
	if !ok {
		return nil, fmt.Errorf("engine %q not registered", engineName)
	}

	results, err := engine.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Str("engine", engineName).Msg("❌ Search failed")
		return nil, err
	}

	log.Info().Str("engine", engineName).Int("count", len(results)).Msg("✅ Search completed")
	return results, nil
}
