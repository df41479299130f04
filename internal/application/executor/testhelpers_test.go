package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/profile"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/mcp"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/sandbox"
)

// scriptedModel は用意した応答を順に返すToolCaller
// 応答を使い切ると最後の応答を返し続ける
type scriptedModel struct {
	mu        sync.Mutex
	responses []llm.ConverseResponse
	errs      []error
	requests  []llm.ConverseRequest
	block     bool
	panicMsg  string
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	return llm.GenerateResponse{}, errors.New("not used")
}

func (m *scriptedModel) Converse(ctx context.Context, req llm.ConverseRequest) (llm.ConverseResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.block {
		<-ctx.Done()
		return llm.ConverseResponse{}, ctx.Err()
	}
	if idx < len(m.errs) && m.errs[idx] != nil {
		return llm.ConverseResponse{}, m.errs[idx]
	}
	if len(m.responses) == 0 {
		return llm.ConverseResponse{}, nil
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// plainModel はツール非対応のLLMProvider
type plainModel struct {
	content string
	reqs    []llm.GenerateRequest
}

func (m *plainModel) Name() string { return "plain" }

func (m *plainModel) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	m.reqs = append(m.reqs, req)
	return llm.GenerateResponse{Content: m.content}, nil
}

func toolCall(id, name string, input interface{}) llm.ToolCall {
	data, _ := json.Marshal(input)
	return llm.ToolCall{ID: id, Name: name, Input: data}
}

// eventRecorder はEmitFuncの呼び出しを記録
type eventRecorder struct {
	mu     sync.Mutex
	events []execution.Event
}

func (r *eventRecorder) emit(ev execution.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []execution.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]execution.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) tools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == execution.EventToolUse {
			out = append(out, ev.Tool)
		}
	}
	return out
}

// countingProvider はTeardown回数を数えるsandbox.Provider
type countingProvider struct {
	inner     sandbox.Provider
	createErr error

	mu        sync.Mutex
	teardowns int
	created   []sandbox.Environment
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Create(ctx context.Context, jobID string) (sandbox.Environment, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	env, err := p.inner.Create(ctx, jobID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.created = append(p.created, env)
	p.mu.Unlock()
	return &countingEnv{Environment: env, p: p}, nil
}

func (p *countingProvider) teardownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teardowns
}

type countingEnv struct {
	sandbox.Environment
	p *countingProvider
}

func (e *countingEnv) Teardown(ctx context.Context) error {
	e.p.mu.Lock()
	e.p.teardowns++
	e.p.mu.Unlock()
	return e.Environment.Teardown(ctx)
}

// staticResolver は固定の記述子を返すResolver
type staticResolver struct {
	descriptors []profile.ToolDescriptor
	skipped     []string
	gotIDs      []string
	gotEnv      map[string]string
}

func (r *staticResolver) Resolve(ids []string, env map[string]string) ([]profile.ToolDescriptor, []string) {
	r.gotIDs = ids
	r.gotEnv = env
	return r.descriptors, r.skipped
}

// fakeSession はテスト用のmcp.Session
type fakeSession struct {
	id     string
	tools  []mcp.Tool
	mu     sync.Mutex
	calls  []string
	closed bool
}

func (s *fakeSession) ID() string        { return s.id }
func (s *fakeSession) Tools() []mcp.Tool { return s.tools }

func (s *fakeSession) Call(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name+" "+string(args))
	if name == "fail" {
		return "remote failure", true, nil
	}
	return "result from " + s.id + "/" + name, false, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
