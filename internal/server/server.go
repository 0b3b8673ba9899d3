package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
	"github.com/cliffyan/local-websearch-mcp/internal/engine"
	"github.com/cliffyan/local-websearch-mcp/internal/mcp"
)

// Server MCP HTTP 服务器
type Server struct {
	config        *config.Config
	engineManager *engine.Manager
	mcpHandler    *mcp.Handler
	httpServer    *http.Server
	sessions      map[string]*Session
	sessionsMu    sync.RWMutex
}

// Session 会话信息
type Session struct {
	ID        string
	CreatedAt time.Time
}

// New 创建新的服务器实例
func New(cfg *config.Config, em *engine.Manager, ex mcp.ContentExtractor) *Server {
	return &Server{
		config:        cfg,
		engineManager: em,
		mcpHandler:    mcp.NewHandler(cfg, em, ex),
		sessions:      make(map[string]*Session),
	}
}

// Start 启动 HTTP 服务器，阻塞直到服务器退出
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// MCP 端点
	mux.HandleFunc("/mcp", s.handleMCP)

	// SSE 端点（兼容旧客户端）
	mux.HandleFunc("/sse", s.handleSSE)

	// 健康检查
	mux.HandleFunc("/health", s.handleHealth)

	var handler http.Handler = mux
	if s.config.Server.CORS.Enabled {
		c := cors.New(cors.Options{
			AllowedOrigins:   []string{s.config.Server.CORS.Origin},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "mcp-session-id"},
			AllowCredentials: true,
		})
		handler = c.Handler(mux)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	log.Info().Str("addr", addr).Msg("🚀 Starting MCP HTTP server")
	log.Info().Msgf("📡 MCP endpoint: http://%s/mcp", addr)
	log.Info().Msgf("📡 SSE endpoint: http://%s/sse", addr)
	log.Info().Msgf("❤️ Health check: http://%s/health", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleMCP 处理 MCP 请求
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleMCPGet(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMCPPost 处理 MCP POST 请求
func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, -32700, "Parse error: "+err.Error())
		return
	}

	sessionID := r.Header.Get("mcp-session-id")

	// 初始化请求创建新会话
	if req.Method == "initialize" && sessionID == "" {
		sessionID = uuid.New().String()
		s.sessionsMu.Lock()
		s.sessions[sessionID] = &Session{
			ID:        sessionID,
			CreatedAt: time.Now(),
		}
		s.sessionsMu.Unlock()
		w.Header().Set("mcp-session-id", sessionID)
		log.Info().Str("session", sessionID).Msg("📝 Created new session")
	}

	ctx := r.Context()
	resp := s.mcpHandler.HandleRequest(ctx, req)

	// 通知类型返回 204
	if req.Method == "notifications/initialized" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("❌ Failed to encode response")
	}
}

// handleMCPGet 处理 MCP GET 请求（SSE 流）
func (s *Server) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	s.sessionsMu.RLock()
	_, exists := s.sessions[sessionID]
	s.sessionsMu.RUnlock()

	if !exists {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	flusher, ok := s.prepareSSE(w)
	if !ok {
		return
	}

	// 发送初始端点信息
	fmt.Fprintf(w, "event: endpoint\ndata: {\"uri\": \"/mcp\"}\n\n")
	flusher.Flush()

	s.keepAlive(w, r, flusher, nil)
}

// handleMCPDelete 处理 MCP DELETE 请求（关闭会话）
func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	s.sessionsMu.Lock()
	delete(s.sessions, sessionID)
	s.sessionsMu.Unlock()

	log.Info().Str("session", sessionID).Msg("🗑️ Deleted session")
	w.WriteHeader(http.StatusOK)
}

// handleSSE 处理 SSE 端点（兼容旧客户端）
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := uuid.New().String()
	s.sessionsMu.Lock()
	s.sessions[sessionID] = &Session{
		ID:        sessionID,
		CreatedAt: time.Now(),
	}
	s.sessionsMu.Unlock()

	flusher, ok := s.prepareSSE(w)
	if !ok {
		return
	}

	data := fmt.Sprintf(`{"uri": "/messages?sessionId=%s"}`, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", data)
	flusher.Flush()

	log.Info().Str("session", sessionID).Msg("📡 SSE connection established")

	s.keepAlive(w, r, flusher, func() {
		s.sessionsMu.Lock()
		delete(s.sessions, sessionID)
		s.sessionsMu.Unlock()
		log.Info().Str("session", sessionID).Msg("📡 SSE connection closed")
	})
}

// prepareSSE 设置 SSE 响应头
func (s *Server) prepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return nil, false
	}
	return flusher, true
}

// keepAlive 保持连接并定期发送心跳，客户端断开时退出
func (s *Server) keepAlive(w http.ResponseWriter, r *http.Request, flusher http.Flusher, onClose func()) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			if onClose != nil {
				onClose()
			}
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleHealth 健康检查端点
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": s.config.MCP.ServerName,
		"version": s.config.MCP.ServerVersion,
		"engines": s.engineManager.EngineNames(),
	})
}

// sendError 发送错误响应
func (s *Server) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &mcp.RPCError{
			Code:    code,
			Message: message,
		},
	})
}
