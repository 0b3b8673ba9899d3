package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
	"github.com/cliffyan/local-websearch-mcp/internal/engine"
	"github.com/cliffyan/local-websearch-mcp/internal/extract"
)

const (
	MCPVersion = "2024-11-05"
)

// ErrInvalidParameters 工具参数非法（缺 query、max_results 越界等）
var ErrInvalidParameters = errors.New("invalid parameters")

// ContentExtractor 页面正文提取能力，测试时可替换
type ContentExtractor interface {
	Extract(ctx context.Context, url string) extract.PageContent
}

// Handler MCP 请求处理器
type Handler struct {
	config        *config.Config
	engineManager *engine.Manager
	extractor     ContentExtractor
}

// NewHandler 创建 MCP 处理器
func NewHandler(cfg *config.Config, em *engine.Manager, ex ContentExtractor) *Handler {
	return &Handler{
		config:        cfg,
		engineManager: em,
		extractor:     ex,
	}
}

// HandleRequest 处理 MCP JSON-RPC 请求
func (h *Handler) HandleRequest(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("📥 MCP request")

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = h.handleInitialize()
	case "notifications/initialized":
		// 通知类型不需要返回结果，由传输层处理
		return JSONRPCResponse{}
	case "tools/list":
		result = h.handleToolsList()
	case "tools/call":
		result, err = h.handleToolsCall(ctx, req.Params)
	case "resources/list":
		result = ListResourcesResult{Resources: []interface{}{}}
	case "prompts/list":
		result = ListPromptsResult{Prompts: []interface{}{}}
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &RPCError{
				Code:    -32601,
				Message: fmt.Sprintf("unknown method: %s", req.Method),
			},
		}
	}

	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Msg("❌ MCP error")
		code := -32603
		if errors.Is(err, ErrInvalidParameters) {
			code = -32602
		}
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &RPCError{
				Code:    code,
				Message: err.Error(),
			},
		}
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

// handleInitialize 处理初始化请求
func (h *Handler) handleInitialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: Capability{
			Tools: ToolCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    h.config.MCP.ServerName,
			Version: h.config.MCP.ServerVersion,
		},
	}
}

// handleToolsList 处理工具列表请求
func (h *Handler) handleToolsList() ListToolsResult {
	return ListToolsResult{
		Tools: GetTools(h.config),
	}
}

// handleToolsCall 处理工具调用请求
func (h *Handler) handleToolsCall(ctx context.Context, params interface{}) (*CallToolResult, error) {
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal params: %v", ErrInvalidParameters, err)
	}

	var callParams CallToolParams
	if err := json.Unmarshal(paramsBytes, &callParams); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal params: %v", ErrInvalidParameters, err)
	}

	log.Info().Str("tool", callParams.Name).Interface("args", callParams.Arguments).Msg("🔧 Tool call")

	switch callParams.Name {
	case h.config.MCP.Tools.SearchName:
		return h.handleSearchWeb(ctx, callParams.Arguments)
	default:
		return toolError(fmt.Sprintf("Unknown tool: %s", callParams.Name)), nil
	}
}

// searchWebArgs search_web 的校验后参数
type searchWebArgs struct {
	query          string
	maxResults     int
	includeContent bool
	region         string
	timeLimit      string
	engineName     string
}

// parseSearchWebArgs 解析并校验工具参数
func (h *Handler) parseSearchWebArgs(args map[string]interface{}) (searchWebArgs, error) {
	out := searchWebArgs{
		maxResults: 5,
		region:     h.config.Search.DefaultRegion,
	}

	query, _ := args["query"].(string)
	if query == "" {
		return out, fmt.Errorf("%w: 'query' is required", ErrInvalidParameters)
	}
	out.query = query

	if raw, ok := args["max_results"]; ok {
		n, ok := raw.(float64) // JSON 数字统一解码为 float64
		if !ok || n != float64(int(n)) {
			return out, fmt.Errorf("%w: 'max_results' must be an integer", ErrInvalidParameters)
		}
		out.maxResults = int(n)
	}
	if out.maxResults <= 0 || out.maxResults > h.config.Search.MaxResultsCap {
		return out, fmt.Errorf("%w: 'max_results' must be between 1 and %d", ErrInvalidParameters, h.config.Search.MaxResultsCap)
	}

	if raw, ok := args["include_content"].(bool); ok {
		out.includeContent = raw
	}

	if raw, ok := args["region"].(string); ok && raw != "" {
		out.region = raw
	}

	if raw, ok := args["timelimit"].(string); ok {
		if !config.IsValidTimeLimit(raw) {
			return out, fmt.Errorf("%w: 'timelimit' must be one of d/w/m/y", ErrInvalidParameters)
		}
		out.timeLimit = raw
	}

	if raw, ok := args["engine"].(string); ok {
		out.engineName = raw
	}

	return out, nil
}

// handleSearchWeb 处理搜索请求
func (h *Handler) handleSearchWeb(ctx context.Context, rawArgs map[string]interface{}) (*CallToolResult, error) {
	args, err := h.parseSearchWebArgs(rawArgs)
	if err != nil {
		return toolError(err.Error()), nil
	}

	results, err := h.engineManager.Search(ctx, args.engineName, engine.SearchQuery{
		Text:      args.query,
		Limit:     args.maxResults,
		Region:    args.region,
		TimeLimit: args.timeLimit,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrParseFailed):
			// 引擎改版需要人工维护选择器，错误级别记录
			log.Error().Err(err).Str("query", args.query).Msg("❌ Search result markup changed, selectors need maintenance")
			return toolError(fmt.Sprintf("Search failed: %v", err)), nil
		case errors.Is(err, engine.ErrSearchUnavailable):
			return toolError(fmt.Sprintf("Search failed: %v", err)), nil
		default:
			return toolError(fmt.Sprintf("Search failed: %v", err)), nil
		}
	}

	items := make([]ResultItem, len(results))
	for i, r := range results {
		items[i] = ResultItem{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Source:  r.Source,
			Engine:  r.Engine,
		}
	}

	if args.includeContent {
		h.enrichWithContent(ctx, items)
	}

	engineName := args.engineName
	if engineName == "" {
		engineName = h.config.Search.DefaultEngine
	}

	payload := SearchWebResult{
		Query:   args.query,
		Engine:  engineName,
		Results: items,
	}

	resultJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("Failed to format results: %v", err)), nil
	}

	return &CallToolResult{
		Content: []ContentItem{
			{Type: "text", Text: string(resultJSON)},
			{Type: "text", Text: formatResultsText(items)},
		},
	}, nil
}

// formatResultsText 将结果渲染为带编号的纯文本，方便模型直接阅读
func formatResultsText(items []ResultItem) string {
	if len(items) == 0 {
		return "No results found for the query."
	}

	blocks := make([]string, 0, len(items))
	for i, item := range items {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d] %s\n", i+1, item.Title)
		fmt.Fprintf(&b, "URL: %s\n", item.URL)
		if item.Snippet != "" {
			fmt.Fprintf(&b, "Description: %s\n", item.Snippet)
		}
		if item.ExtractedText != nil && *item.ExtractedText != "" {
			fmt.Fprintf(&b, "Content: %s\n", *item.ExtractedText)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n---\n\n")
}

// enrichWithContent 并发提取每条结果的页面正文
// 提取失败只留下空字段；完成顺序不影响结果顺序（按下标写回）
func (h *Handler) enrichWithContent(ctx context.Context, items []ResultItem) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Extract.Concurrency)

	for i := range items {
		i := i
		g.Go(func() error {
			content := h.extractor.Extract(gctx, items[i].URL)
			items[i].ExtractedTitle = optional(content.Title)
			items[i].ExtractedText = &content.Text
			return nil
		})
	}

	// goroutine 不返回错误，Wait 只用来等待全部完成
	_ = g.Wait()
}

// toolError 构造工具级错误结果
func toolError(msg string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentItem{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
