package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPSession は JSON-RPC over HTTP の MCP セッション
type HTTPSession struct {
	id         string
	url        string
	headers    map[string]string
	httpClient *http.Client

	mu        sync.Mutex
	nextID    int
	sessionID string
	tools     []Tool
}

// DialHTTP はリモートMCPサーバーに接続し、初期化とツール一覧の取得を行う
func DialHTTP(ctx context.Context, id, url string, headers map[string]string) (*HTTPSession, error) {
	s := &HTTPSession{
		id:      id,
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	if _, err := s.call(ctx, "initialize", newInitializeParams()); err != nil {
		return nil, fmt.Errorf("mcp %s initialize: %w", id, err)
	}
	if err := s.notify(ctx, "notifications/initialized"); err != nil {
		logger.DebugCF("mcp", "initialized notification failed", map[string]interface{}{
			"tool":  id,
			"error": err.Error(),
		})
	}

	raw, err := s.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("mcp %s tools/list: %w", id, err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("mcp %s: unmarshal tools: %w", id, err)
	}
	s.tools = list.Tools

	logger.InfoCF("mcp", "Connected to remote tool server", map[string]interface{}{
		"tool":  id,
		"tools": len(s.tools),
	})
	return s, nil
}

// ID はツール記述子のIDを返す
func (s *HTTPSession) ID() string { return s.id }

// Tools はツール一覧を返す
func (s *HTTPSession) Tools() []Tool { return s.tools }

// Call はツールを呼び出す
func (s *HTTPSession) Call(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	raw, err := s.call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, err
	}
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("unmarshal tool response: %w", err)
	}
	return result.text(), result.IsError, nil
}

// Close はセッションを終了する
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, sid)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping は MCP サーバーの到達性を確認する
func Ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("http status: %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSession) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	resp, err := s.post(ctx, jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (s *HTTPSession) notify(ctx context.Context, method string) error {
	_, err := s.post(ctx, jsonRPCRequest{JSONRPC: "2.0", Method: method})
	return err
}

// post は MCP サーバーに HTTP リクエストを送信
func (s *HTTPSession) post(ctx context.Context, req jsonRPCRequest) (*jsonRPCResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}
	s.mu.Lock()
	if s.sessionID != "" {
		httpReq.Header.Set(sessionHeader, s.sessionID)
	}
	s.mu.Unlock()

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		s.mu.Lock()
		s.sessionID = sid
		s.mu.Unlock()
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		return nil, retry.NewStatusError(httpResp.StatusCode, httpResp.Header,
			fmt.Errorf("mcp http: %s", bytes.TrimSpace(respBody)))
	}

	// 通知には本文なしの202が返る
	if req.ID == 0 || len(bytes.TrimSpace(respBody)) == 0 {
		return &jsonRPCResponse{}, nil
	}

	var mcpResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &mcpResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &mcpResp, nil
}
