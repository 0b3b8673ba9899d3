package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// 搜索配置
	Search SearchConfig `yaml:"search"`

	// 正文提取配置
	Extract ExtractConfig `yaml:"extract"`

	// 代理配置
	Proxy ProxyConfig `yaml:"proxy"`

	// MCP 配置
	MCP MCPConfig `yaml:"mcp"`

	// 浏览器配置
	Browser BrowserConfig `yaml:"browser"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int        `yaml:"port"`
	Host string     `yaml:"host"`
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Origin  string `yaml:"origin"`
}

// SearchConfig 搜索配置
type SearchConfig struct {
	DefaultEngine  string   `yaml:"default_engine"`
	AllowedEngines []string `yaml:"allowed_engines"`
	MaxResultsCap  int      `yaml:"max_results_cap"`
	DefaultRegion  string   `yaml:"default_region"`
}

// ExtractConfig 正文提取配置
type ExtractConfig struct {
	TimeoutSeconds       int `yaml:"timeout_seconds"`
	MinContentLength     int `yaml:"min_content_length"`
	MaxContentLength     int `yaml:"max_content_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`
	Concurrency          int `yaml:"concurrency"`
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// MCPConfig MCP 协议配置
type MCPConfig struct {
	ServerName    string         `yaml:"server_name"`
	ServerVersion string         `yaml:"server_version"`
	Tools         MCPToolsConfig `yaml:"tools"`
}

// MCPToolsConfig MCP 工具名称配置
type MCPToolsConfig struct {
	SearchName        string `yaml:"search_name"`
	SearchDescription string `yaml:"search_description"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Enabled  bool `yaml:"enabled"`
	Headless bool `yaml:"headless"`
}

// ValidEngines 有效的搜索引擎列表
var ValidEngines = []string{"duckduckgo", "bing", "browser_google"}

// ValidTimeLimits search_web 的 timelimit 参数取值
var ValidTimeLimits = []string{"d", "w", "m", "y", ""}

// DefaultConfig 默认配置
var DefaultConfig = &Config{
	Server: ServerConfig{
		Port: 8000,
		Host: "0.0.0.0",
		CORS: CORSConfig{
			Enabled: false,
			Origin:  "*",
		},
	},
	Search: SearchConfig{
		DefaultEngine:  "duckduckgo",
		AllowedEngines: []string{},
		MaxResultsCap:  25,
		DefaultRegion:  "wt-wt",
	},
	Extract: ExtractConfig{
		TimeoutSeconds:       10,
		MinContentLength:     120,
		MaxContentLength:     800,
		MaxDescriptionLength: 300,
		Concurrency:          4,
	},
	Proxy: ProxyConfig{
		Enabled: false,
		URL:     "http://127.0.0.1:7890",
	},
	MCP: MCPConfig{
		ServerName:    "local-websearch-mcp",
		ServerVersion: "1.0.0",
		Tools: MCPToolsConfig{
			SearchName:        "search_web",
			SearchDescription: "Search the web locally (scraping + content extraction), no API key required. Returns structured results with title, URL and snippet; optionally fetches and extracts the main readable text of each result page.",
		},
	},
	Browser: BrowserConfig{
		Enabled:  false,
		Headless: true,
	},
}

// configSearchPaths 配置文件搜索路径
var configSearchPaths = []string{
	"config.yaml",
	"config.yml",
	"configs/config.yaml",
	"configs/config.yml",
}

// Load 加载配置：YAML 文件（可选）+ 环境变量覆盖
// 配置缺失或非法时回退默认值，永不失败
func Load() *Config {
	cfg := *DefaultConfig

	configPath := findConfigFile()
	if configPath == "" {
		log.Info().Msg("⚠️ No config file found, using default configuration")
	} else {
		log.Info().Str("path", configPath).Msg("📄 Loading configuration")
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to read config file, using defaults")
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to parse config file, using defaults")
			cfg = *DefaultConfig
		}
	}

	cfg.applyEnvOverrides()
	cfg.validate()
	cfg.Print()

	return &cfg
}

// LoadFromFile 从指定路径加载配置
func LoadFromFile(path string) (*Config, error) {
	cfg := *DefaultConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.validate()
	return &cfg, nil
}

// findConfigFile 查找配置文件
func findConfigFile() string {
	// 优先使用环境变量指定的配置文件
	if envPath := os.Getenv("CONFIG_FILE"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		log.Warn().Str("path", envPath).Msg("⚠️ CONFIG_FILE not found, searching default paths")
	}

	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	workDir, _ := os.Getwd()

	searchDirs := []string{workDir}
	if execDir != "" && execDir != workDir {
		searchDirs = append(searchDirs, execDir)
	}

	for _, dir := range searchDirs {
		for _, name := range configSearchPaths {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// applyEnvOverrides 环境变量覆盖监听地址
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if portStr := os.Getenv("SERVER_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Server.Port = port
		} else {
			log.Warn().Str("value", portStr).Msg("⚠️ Invalid SERVER_PORT, ignored")
		}
	}
}

// validate 验证并修正配置
func (c *Config) validate() {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		log.Warn().Int("port", c.Server.Port).Int("fallback", DefaultConfig.Server.Port).Msg("⚠️ Invalid port")
		c.Server.Port = DefaultConfig.Server.Port
	}

	if c.Server.Host == "" {
		c.Server.Host = DefaultConfig.Server.Host
	}

	if c.Server.CORS.Origin == "" {
		c.Server.CORS.Origin = DefaultConfig.Server.CORS.Origin
	}

	if !isValidEngine(c.Search.DefaultEngine) {
		log.Warn().Str("engine", c.Search.DefaultEngine).Str("fallback", DefaultConfig.Search.DefaultEngine).Msg("⚠️ Invalid default_engine")
		c.Search.DefaultEngine = DefaultConfig.Search.DefaultEngine
	}

	validAllowed := []string{}
	for _, e := range c.Search.AllowedEngines {
		e = strings.TrimSpace(e)
		if isValidEngine(e) {
			validAllowed = append(validAllowed, e)
		} else {
			log.Warn().Str("engine", e).Msg("⚠️ Invalid search engine ignored")
		}
	}
	c.Search.AllowedEngines = validAllowed

	// 设置了允许列表时默认引擎必须在列表内
	if len(c.Search.AllowedEngines) > 0 && !contains(c.Search.AllowedEngines, c.Search.DefaultEngine) {
		log.Warn().Str("engine", c.Search.DefaultEngine).Str("fallback", c.Search.AllowedEngines[0]).Msg("⚠️ Default engine not in allowed list")
		c.Search.DefaultEngine = c.Search.AllowedEngines[0]
	}

	if c.Search.MaxResultsCap <= 0 {
		c.Search.MaxResultsCap = DefaultConfig.Search.MaxResultsCap
	}
	if c.Search.DefaultRegion == "" {
		c.Search.DefaultRegion = DefaultConfig.Search.DefaultRegion
	}

	if c.Extract.TimeoutSeconds <= 0 {
		c.Extract.TimeoutSeconds = DefaultConfig.Extract.TimeoutSeconds
	}
	if c.Extract.MinContentLength <= 0 {
		c.Extract.MinContentLength = DefaultConfig.Extract.MinContentLength
	}
	if c.Extract.MaxContentLength <= 0 {
		c.Extract.MaxContentLength = DefaultConfig.Extract.MaxContentLength
	}
	if c.Extract.MaxDescriptionLength <= 0 {
		c.Extract.MaxDescriptionLength = DefaultConfig.Extract.MaxDescriptionLength
	}
	if c.Extract.Concurrency <= 0 {
		c.Extract.Concurrency = DefaultConfig.Extract.Concurrency
	}

	if c.Proxy.Enabled && c.Proxy.URL == "" {
		log.Warn().Msg("⚠️ Proxy enabled but URL is empty, using default")
		c.Proxy.URL = DefaultConfig.Proxy.URL
	}

	if c.MCP.ServerName == "" {
		c.MCP.ServerName = DefaultConfig.MCP.ServerName
	}
	if c.MCP.ServerVersion == "" {
		c.MCP.ServerVersion = DefaultConfig.MCP.ServerVersion
	}
	if c.MCP.Tools.SearchName == "" {
		c.MCP.Tools.SearchName = DefaultConfig.MCP.Tools.SearchName
	}
	if c.MCP.Tools.SearchDescription == "" {
		c.MCP.Tools.SearchDescription = DefaultConfig.MCP.Tools.SearchDescription
	}
}

// Print 打印配置信息
func (c *Config) Print() {
	log.Info().Str("engine", c.Search.DefaultEngine).Msg("🔍 Default search engine")
	if len(c.Search.AllowedEngines) > 0 {
		log.Info().Strs("engines", c.Search.AllowedEngines).Msg("🔍 Allowed search engines")
	} else {
		log.Info().Msg("🔍 No search engine restrictions, all available engines can be used")
	}
	if c.Proxy.Enabled {
		log.Info().Str("proxy", c.Proxy.URL).Msg("🌐 Using proxy")
	}
	if c.Server.CORS.Enabled {
		log.Info().Str("origin", c.Server.CORS.Origin).Msg("🔒 CORS enabled")
	}
	log.Info().Str("name", c.MCP.ServerName).Str("version", c.MCP.ServerVersion).Str("tool", c.MCP.Tools.SearchName).Msg("🔧 MCP server")
	log.Info().Str("host", c.Server.Host).Int("port", c.Server.Port).Msg("🖥️ Server will listen")
}

// IsEngineAllowed 检查搜索引擎是否被允许使用
func (c *Config) IsEngineAllowed(engine string) bool {
	if len(c.Search.AllowedEngines) == 0 {
		return isValidEngine(engine)
	}
	return contains(c.Search.AllowedEngines, engine)
}

// IsValidTimeLimit 检查 timelimit 参数取值
func IsValidTimeLimit(v string) bool {
	return contains(ValidTimeLimits, v)
}

func isValidEngine(engine string) bool {
	return contains(ValidEngines, engine)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
