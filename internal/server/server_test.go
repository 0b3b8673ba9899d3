package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
	"github.com/cliffyan/local-websearch-mcp/internal/engine"
	"github.com/cliffyan/local-websearch-mcp/internal/extract"
)

type noopExtractor struct{}

func (noopExtractor) Extract(ctx context.Context, url string) extract.PageContent {
	return extract.PageContent{}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := *config.DefaultConfig
	cfg.Browser.Enabled = false
	return New(&cfg, engine.NewManager(&cfg), noopExtractor{})
}

func TestInitializeCreatesSession(t *testing.T) {
	s := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleMCP(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("mcp-session-id"))

	var rpcResp struct {
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
			ServerInfo      struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.Equal(t, "2024-11-05", rpcResp.Result.ProtocolVersion)
	assert.Equal(t, "local-websearch-mcp", rpcResp.Result.ServerInfo.Name)
}

func TestInitializedNotificationReturns204(t *testing.T) {
	s := newTestServer(t)

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleMCP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Result().StatusCode)
}

func TestMalformedBodyReturnsParseError(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	s.handleMCP(w, req)

	var rpcResp struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&rpcResp))
	assert.Equal(t, -32700, rpcResp.Error.Code)
}

func TestSSEStreamRequiresSession(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()

	s.handleMCP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("mcp-session-id", "no-such-session")
	w = httptest.NewRecorder()

	s.handleMCP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestSSEStreamAnnouncesEndpoint(t *testing.T) {
	s := newTestServer(t)

	// 先建会话
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	initReq := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	initW := httptest.NewRecorder()
	s.handleMCP(initW, initReq)
	sessionID := initW.Result().Header.Get("mcp-session-id")
	require.NotEmpty(t, sessionID)

	// 带取消的上下文，拿到首个事件后断开
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	req.Header.Set("mcp-session-id", sessionID)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleMCP(w, req)
		close(done)
	}()

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", w.Result().Header.Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: endpoint")
	assert.Contains(t, w.Body.String(), `"/mcp"`)
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	initReq := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	initW := httptest.NewRecorder()
	s.handleMCP(initW, initReq)
	sessionID := initW.Result().Header.Get("mcp-session-id")

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("mcp-session-id", sessionID)
	w := httptest.NewRecorder()
	s.handleMCP(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	// 会话已删除，SSE 拉流应被拒绝
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("mcp-session-id", sessionID)
	w = httptest.NewRecorder()
	s.handleMCP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	var health struct {
		Status  string   `json:"status"`
		Service string   `json:"service"`
		Engines []string `json:"engines"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "local-websearch-mcp", health.Service)
	assert.Contains(t, health.Engines, "duckduckgo")
}
