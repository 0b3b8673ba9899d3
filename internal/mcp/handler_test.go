package mcp

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
	"github.com/cliffyan/local-websearch-mcp/internal/engine"
	"github.com/cliffyan/local-websearch-mcp/internal/extract"
)

// stubEngine 固定结果的搜索引擎
type stubEngine struct {
	name    string
	results []engine.SearchResult
	err     error
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Search(ctx context.Context, q engine.SearchQuery) ([]engine.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	results := s.results
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// stubExtractor 按 URL 查表的提取器，可注入随机延迟模拟乱序完成
type stubExtractor struct {
	pages       map[string]extract.PageContent
	randomDelay bool
}

func (s *stubExtractor) Extract(ctx context.Context, url string) extract.PageContent {
	if s.randomDelay {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	}
	return s.pages[url]
}

func fixedResults() []engine.SearchResult {
	return []engine.SearchResult{
		{Title: "OpenAI", URL: "https://openai.com", Snippet: "AI research company", Engine: "duckduckgo"},
		{Title: "OpenAI - Wikipedia", URL: "https://en.wikipedia.org/wiki/OpenAI", Snippet: "Encyclopedia entry", Engine: "duckduckgo"},
		{Title: "OpenAI Blog", URL: "https://openai.com/blog", Snippet: "Company news", Engine: "duckduckgo"},
	}
}

func newTestHandler(t *testing.T, eng engine.SearchEngine, ex ContentExtractor) *Handler {
	t.Helper()

	cfg := *config.DefaultConfig
	cfg.Browser.Enabled = false

	em := engine.NewManager(&cfg)
	if eng != nil {
		em.RegisterEngine(eng) // 覆盖同名真实引擎
	}
	if ex == nil {
		ex = &stubExtractor{}
	}
	return NewHandler(&cfg, em, ex)
}

func callTool(t *testing.T, h *Handler, args map[string]interface{}) *CallToolResult {
	t.Helper()

	resp := h.HandleRequest(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "search_web",
			"arguments": args,
		},
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*CallToolResult)
	require.True(t, ok)
	return result
}

func decodePayload(t *testing.T, result *CallToolResult) SearchWebResult {
	t.Helper()

	require.NotEmpty(t, result.Content)
	var payload SearchWebResult
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func TestHandleInitialize(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	resp := h.HandleRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	require.Nil(t, resp.Error)

	init, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, MCPVersion, init.ProtocolVersion)
	assert.Equal(t, "local-websearch-mcp", init.ServerInfo.Name)
}

func TestHandleToolsList(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	resp := h.HandleRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	require.Nil(t, resp.Error)

	list, ok := resp.Result.(ListToolsResult)
	require.True(t, ok)
	require.Len(t, list.Tools, 1)

	tool := list.Tools[0]
	assert.Equal(t, "search_web", tool.Name)
	assert.Equal(t, []string{"query"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "query")
	assert.Contains(t, tool.InputSchema.Properties, "max_results")
	assert.Contains(t, tool.InputSchema.Properties, "include_content")

	// region / timelimit 只有 duckduckgo 引擎支持，描述里要说清楚
	assert.Contains(t, tool.InputSchema.Properties["region"].Description, "duckduckgo")
	assert.Contains(t, tool.InputSchema.Properties["timelimit"].Description, "duckduckgo")
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	resp := h.HandleRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: 3, Method: "bogus/method"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestHandleUnknownTool(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	resp := h.HandleRequest(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "tools/call",
		Params:  map[string]interface{}{"name": "make_coffee", "arguments": map[string]interface{}{}},
	})
	require.Nil(t, resp.Error)
	result := resp.Result.(*CallToolResult)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Unknown tool")
}

func TestSearchWebMissingQuery(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	result := callTool(t, h, map[string]interface{}{})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "query")
}

func TestSearchWebMaxResultsOutOfRange(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, nil)

	for _, bad := range []float64{0, -3, 9999} {
		result := callTool(t, h, map[string]interface{}{"query": "openai", "max_results": bad})
		assert.True(t, result.IsError, "max_results=%v should be rejected", bad)
		assert.Contains(t, result.Content[0].Text, "max_results")
	}
}

func TestSearchWebMaxResultsMustBeIntegral(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, nil)

	// JSON 里的 2.7 不能悄悄截断成 2
	for _, bad := range []interface{}{2.7, 0.5, "5"} {
		result := callTool(t, h, map[string]interface{}{"query": "openai", "max_results": bad})
		assert.True(t, result.IsError, "max_results=%v should be rejected", bad)
		assert.Contains(t, result.Content[0].Text, "integer")
	}
}

func TestSearchWebInvalidTimeLimit(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, nil)

	result := callTool(t, h, map[string]interface{}{"query": "openai", "timelimit": "decade"})
	assert.True(t, result.IsError)
}

func TestSearchWebFixedResultsInOrder(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, nil)

	result := callTool(t, h, map[string]interface{}{
		"query":           "openai",
		"max_results":     float64(3),
		"include_content": false,
	})
	require.False(t, result.IsError)

	payload := decodePayload(t, result)
	require.Len(t, payload.Results, 3)
	assert.Equal(t, "https://openai.com", payload.Results[0].URL)
	assert.Equal(t, "https://en.wikipedia.org/wiki/OpenAI", payload.Results[1].URL)
	assert.Equal(t, "https://openai.com/blog", payload.Results[2].URL)

	// include_content=false 时不应出现 extracted_text 字段
	var raw struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &raw))
	for _, item := range raw.Results {
		assert.NotContains(t, item, "extracted_text")
	}
}

func TestSearchWebRespectsMaxResults(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, nil)

	result := callTool(t, h, map[string]interface{}{"query": "openai", "max_results": float64(2)})
	payload := decodePayload(t, result)
	assert.Len(t, payload.Results, 2)
}

func TestSearchWebNumberedTextRendering(t *testing.T) {
	ex := &stubExtractor{
		pages: map[string]extract.PageContent{
			"https://openai.com": {Title: "OpenAI Home", Text: "Content of the first page."},
		},
	}
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, ex)

	result := callTool(t, h, map[string]interface{}{"query": "openai", "max_results": float64(3)})
	require.False(t, result.IsError)

	// 第一段是 JSON，第二段是带编号的纯文本
	require.Len(t, result.Content, 2)
	text := result.Content[1].Text
	assert.Contains(t, text, "[1] OpenAI\nURL: https://openai.com\n")
	assert.Contains(t, text, "Description: AI research company")
	assert.Contains(t, text, "[2] OpenAI - Wikipedia")
	assert.Contains(t, text, "[3] OpenAI Blog")
	assert.Contains(t, text, "\n---\n\n")
	assert.NotContains(t, text, "Content:")

	// include_content=true 时带上提取到的正文，提取失败的结果没有 Content 行
	result = callTool(t, h, map[string]interface{}{
		"query":           "openai",
		"max_results":     float64(3),
		"include_content": true,
	})
	require.Len(t, result.Content, 2)
	text = result.Content[1].Text
	assert.Contains(t, text, "Content: Content of the first page.")
	assert.Equal(t, 1, strings.Count(text, "Content:"))
}

func TestSearchWebEmptyResultsIsNotError(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo"}, nil)

	result := callTool(t, h, map[string]interface{}{"query": "nothing matches this"})
	require.False(t, result.IsError)

	payload := decodePayload(t, result)
	assert.Empty(t, payload.Results)

	require.Len(t, result.Content, 2)
	assert.Contains(t, result.Content[1].Text, "No results found")
}

func TestSearchWebEngineUnavailable(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", err: engine.ErrSearchUnavailable}, nil)

	result := callTool(t, h, map[string]interface{}{"query": "openai"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "unavailable")
}

func TestSearchWebParseFailure(t *testing.T) {
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", err: engine.ErrParseFailed}, nil)

	result := callTool(t, h, map[string]interface{}{"query": "openai"})
	assert.True(t, result.IsError)
}

func TestSearchWebIncludeContentPreservesOrder(t *testing.T) {
	ex := &stubExtractor{
		randomDelay: true,
		pages: map[string]extract.PageContent{
			"https://openai.com":                   {Title: "OpenAI Home", Text: "Content of the first page."},
			"https://en.wikipedia.org/wiki/OpenAI": {Title: "Wikipedia", Text: "Content of the second page."},
			// 第三个页面提取失败（查表缺失，返回零值）
		},
	}
	h := newTestHandler(t, &stubEngine{name: "duckduckgo", results: fixedResults()}, ex)

	// 多跑几轮，乱序完成也不能影响结果顺序
	for i := 0; i < 5; i++ {
		result := callTool(t, h, map[string]interface{}{
			"query":           "openai",
			"max_results":     float64(3),
			"include_content": true,
		})
		require.False(t, result.IsError)

		payload := decodePayload(t, result)
		require.Len(t, payload.Results, 3)

		// 排名顺序不受提取完成顺序影响
		assert.Equal(t, "https://openai.com", payload.Results[0].URL)
		assert.Equal(t, "https://en.wikipedia.org/wiki/OpenAI", payload.Results[1].URL)
		assert.Equal(t, "https://openai.com/blog", payload.Results[2].URL)

		// 每条结果都有 extracted_text 字段，失败的为空串
		for j, item := range payload.Results {
			require.NotNil(t, item.ExtractedText, "result %d missing extracted_text", j)
		}
		assert.Equal(t, "Content of the first page.", *payload.Results[0].ExtractedText)
		assert.Equal(t, "Content of the second page.", *payload.Results[1].ExtractedText)
		assert.Equal(t, "", *payload.Results[2].ExtractedText)
	}
}
