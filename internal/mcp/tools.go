package mcp

import (
	"github.com/cliffyan/local-websearch-mcp/internal/config"
)

// GetTools 获取所有 MCP 工具定义
func GetTools(cfg *config.Config) []Tool {
	return []Tool{
		{
			Name:        cfg.MCP.Tools.SearchName,
			Description: cfg.MCP.Tools.SearchDescription,
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {
						Type:        "string",
						Description: "The search query string. English queries work best for global results.",
					},
					"max_results": {
						Type:        "integer",
						Description: "Maximum number of results to return (default: 5).",
						Default:     5,
					},
					"include_content": {
						Type:        "boolean",
						Description: "Fetch each result page and extract its main readable text. Slower but returns full context.",
						Default:     false,
					},
					"region": {
						Type:        "string",
						Description: "Search region code, e.g. 'wt-wt' (worldwide), 'us-en', 'uk-en', 'de-de', 'pl-pl'. Default: 'wt-wt'. Only honored by the duckduckgo engine.",
						Default:     "wt-wt",
					},
					"timelimit": {
						Type:        "string",
						Description: "Restrict results by age: 'd' (day), 'w' (week), 'm' (month), 'y' (year). Empty = no restriction. Only honored by the duckduckgo engine.",
						Enum:        []string{"d", "w", "m", "y", ""},
					},
					"engine": {
						Type:        "string",
						Description: "Search engine to use. Default uses the configured default engine.",
						Enum:        config.ValidEngines,
					},
				},
				Required: []string{"query"},
			},
		},
	}
}
