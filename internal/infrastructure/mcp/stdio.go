package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// StdioSession は改行区切り JSON-RPC over stdio の MCP セッション
type StdioSession struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	tools  []Tool

	mu        sync.Mutex
	nextID    int
	broken    error
	closeOnce sync.Once
}

// StartStdio はサブプロセスを起動し、初期化とツール一覧の取得を行う
func StartStdio(ctx context.Context, id string, commands CommandFactory, command string, args []string, env map[string]string) (*StdioSession, error) {
	// ツール呼び出しの間もプロセスを生かすため、接続用のctxには紐付けない
	cmd := commands(context.WithoutCancel(ctx), command, args...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrWriter{tool: id}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	s := &StdioSession{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	if _, err := s.request(ctx, "initialize", newInitializeParams()); err != nil {
		s.Close()
		return nil, fmt.Errorf("mcp %s initialize: %w", id, err)
	}
	if err := s.write(jsonRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		s.Close()
		return nil, fmt.Errorf("mcp %s initialized notification: %w", id, err)
	}

	raw, err := s.request(ctx, "tools/list", nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("mcp %s tools/list: %w", id, err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		s.Close()
		return nil, fmt.Errorf("mcp %s: parse tools/list result: %w", id, err)
	}
	s.tools = list.Tools

	logger.InfoCF("mcp", "Started tool server process", map[string]interface{}{
		"tool":  id,
		"pid":   cmd.Process.Pid,
		"tools": len(s.tools),
	})
	return s, nil
}

// ID はツール記述子のIDを返す
func (s *StdioSession) ID() string { return s.id }

// Tools はツール一覧を返す
func (s *StdioSession) Tools() []Tool { return s.tools }

// Call はツールを呼び出す
func (s *StdioSession) Call(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	raw, err := s.request(ctx, "tools/call", toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, err
	}
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("parse tools/call result: %w", err)
	}
	return result.text(), result.IsError, nil
}

// Close はプロセスを停止する（複数回呼んでも安全）
func (s *StdioSession) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
		logger.DebugCF("mcp", "Tool server process stopped", map[string]interface{}{"tool": s.id})
	})
	return nil
}

// request はリクエストを送り、同じIDの応答を待つ
// 応答待ちの間にctxが終了した場合、セッションは壊れたものとして扱う
func (s *StdioSession) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, fmt.Errorf("session unusable: %w", s.broken)
	}

	s.nextID++
	id := s.nextID
	if err := s.writeLocked(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	type result struct {
		resp *jsonRPCResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.readResponse(id)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.broken = r.err
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", r.resp.Error.Code, r.resp.Error.Message)
		}
		return r.resp.Result, nil
	case <-ctx.Done():
		s.broken = ctx.Err()
		return nil, ctx.Err()
	}
}

// readResponse は指定IDの応答が来るまで1行ずつ読む（通知は読み捨てる）
func (s *StdioSession) readResponse(id int) (*jsonRPCResponse, error) {
	for {
		line, err := s.stdout.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tool server exited")
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		line = []byte(strings.TrimSpace(string(line)))
		if len(line) == 0 {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if resp.ID == id {
			return &resp, nil
		}
	}
}

func (s *StdioSession) write(req jsonRPCRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(req)
}

func (s *StdioSession) writeLocked(req jsonRPCRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// stderrWriter はツールサーバーの標準エラーをログに流す
type stderrWriter struct {
	tool string
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		logger.DebugCF("mcp", "tool server stderr", map[string]interface{}{
			"tool":   w.tool,
			"output": msg,
		})
	}
	return len(p), nil
}
