package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/profile"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/mcp"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/registry"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/sandbox"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/tools"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// ErrStepLimit はステップ上限に達したことを表す
var ErrStepLimit = errors.New("step limit reached")

const (
	DefaultMaxSteps       = 30
	MaxStepsCeiling       = 50
	DefaultSandboxTimeout = 5 * time.Minute

	teardownTimeout = 30 * time.Second
	maxToolNameLen  = 64
)

// 利用者向けの失敗メッセージ（内部エラーはResult.Causeに残す）
const (
	msgEnvironmentFailed = "The execution environment could not be started."
	msgExecutionAborted  = "The execution was aborted unexpectedly."
	msgModelFailed       = "The model could not complete the task."
)

const sandboxedSystemPrompt = `You are an autonomous agent working inside an isolated workspace.
Use the available tools to complete the user's task. Work step by step, call tools when you need information or need to act, and finish with a clear final answer once the task is done.
Workspace tools (shell, file_read, file_write, file_list) operate only inside the workspace directory.`

// Resolver はツールIDを接続記述子に解決する
type Resolver interface {
	Resolve(ids []string, env map[string]string) ([]profile.ToolDescriptor, []string)
}

// Connector はツールセッションを確立する
type Connector func(ctx context.Context, d profile.ToolDescriptor, commands mcp.CommandFactory) (mcp.Session, error)

// ToolRegistrar はワークスペースツールに追加のツールを登録する
type ToolRegistrar func(r *tools.ToolRunner)

// SandboxedConfig はSandboxed経路の設定
type SandboxedConfig struct {
	MaxSteps    int
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Retry       retry.Policy
	Env         map[string]string // nilなら実行ごとにプロセス環境変数を読む
}

// Sandboxed は隔離環境内でツール付きループを回す実行経路
type Sandboxed struct {
	model      llm.ToolCaller
	resolver   Resolver
	envs       sandbox.Provider
	connect    Connector
	registrars []ToolRegistrar
	cfg        SandboxedConfig
}

// SandboxedOption はSandboxedのオプション
type SandboxedOption func(*Sandboxed)

// WithConnector はツールセッションの接続方法を差し替える
func WithConnector(c Connector) SandboxedOption {
	return func(s *Sandboxed) {
		s.connect = c
	}
}

// WithTools は追加ツールを登録する
func WithTools(r ToolRegistrar) SandboxedOption {
	return func(s *Sandboxed) {
		s.registrars = append(s.registrars, r)
	}
}

// NewSandboxed は新しいSandboxedを作成
func NewSandboxed(model llm.ToolCaller, resolver Resolver, envs sandbox.Provider, cfg SandboxedConfig, opts ...SandboxedOption) *Sandboxed {
	switch {
	case cfg.MaxSteps <= 0:
		cfg.MaxSteps = DefaultMaxSteps
	case cfg.MaxSteps > MaxStepsCeiling:
		cfg.MaxSteps = MaxStepsCeiling
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSandboxTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	s := &Sandboxed{
		model:    model,
		resolver: resolver,
		envs:     envs,
		connect:  mcp.Connect,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// loopState はループの途中経過（panic時にも部分出力を返すため）
type loopState struct {
	texts []string
	steps int
}

func (st *loopState) output() string {
	return strings.Join(st.texts, "\n\n")
}

// Execute は隔離環境を用意してツール付きループを実行
func (s *Sandboxed) Execute(ctx context.Context, t task.Task, d routing.Decision, emit execution.EmitFunc) (res execution.Result, err error) {
	start := time.Now()
	jobID := t.ID().String()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	env := s.cfg.Env
	if env == nil {
		env = registry.EnvMap(os.Environ())
	}
	descriptors, skipped := s.resolver.Resolve(d.ToolIDs, env)
	if len(skipped) > 0 {
		logger.WarnCF("executor", "Tools skipped during resolution", map[string]interface{}{
			"task_id": jobID,
			"skipped": skipped,
		})
	}

	workspace, err := s.envs.Create(ctx, jobID)
	if err != nil {
		logger.ErrorCF("executor", "Environment creation failed", map[string]interface{}{
			"task_id":  jobID,
			"provider": s.envs.Name(),
			"error":    err.Error(),
		})
		return execution.FailedWithCause(msgEnvironmentFailed, fmt.Errorf("%w: %w", sandbox.ErrEnvironment, err), elapsedMs(start)), nil
	}

	var (
		teardownOnce sync.Once
		teardownErr  error
	)
	teardown := func() error {
		teardownOnce.Do(func() {
			tctx, tcancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
			defer tcancel()
			teardownErr = workspace.Teardown(tctx)
			if teardownErr != nil {
				logger.WarnCF("executor", "Environment teardown failed", map[string]interface{}{
					"task_id": jobID,
					"env":     workspace.ID(),
					"error":   teardownErr.Error(),
				})
			}
		})
		return teardownErr
	}
	defer teardown()

	st := &loopState{}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("executor", "Sandboxed execution panicked", map[string]interface{}{
				"task_id": jobID,
				"panic":   fmt.Sprintf("%v", r),
			})
			res = execution.Result{
				Output:     st.output(),
				Success:    false,
				Error:      msgExecutionAborted,
				Cause:      fmt.Errorf("execution aborted: %v", r),
				DurationMs: elapsedMs(start),
				StepsUsed:  st.steps,
			}
			err = nil
		}
	}()

	sessions := s.connectAll(ctx, jobID, descriptors, workspace)
	defer closeAll(sessions)

	runner := tools.NewToolRunner(workspace)
	for _, register := range s.registrars {
		register(runner)
	}
	for _, sess := range sessions {
		registerSession(runner, sess)
	}

	emit(execution.NewEvent(execution.EventStarting, fmt.Sprintf("%d tools", len(runner.Definitions()))))

	finished, loopErr := s.loop(ctx, t, runner, st, emit)

	res = execution.Result{
		Output:     st.output(),
		DurationMs: elapsedMs(start),
		StepsUsed:  st.steps,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		note := "environment cleaned"
		if teardown() != nil {
			note = "cleanup failed"
		}
		logger.WarnCF("executor", "Sandboxed execution timed out", map[string]interface{}{
			"task_id": jobID,
			"timeout": s.cfg.Timeout.String(),
			"cleanup": note,
		})
		res.Error = fmt.Sprintf("execution timed out after %s", s.cfg.Timeout)
	case loopErr != nil:
		logger.ErrorCF("executor", "Model call failed", map[string]interface{}{
			"task_id": jobID,
			"steps":   st.steps,
			"error":   loopErr.Error(),
		})
		res.Error = msgModelFailed
		res.Cause = fmt.Errorf("model call failed: %w", loopErr)
	case finished:
		res.Success = true
	default:
		res.Success = res.Output != ""
		res.Error = fmt.Sprintf("%s (%d steps)", ErrStepLimit, s.cfg.MaxSteps)
	}
	res.DurationMs = elapsedMs(start)
	return res, nil
}

// loop はモデル呼び出しとツール実行を交互に行う
func (s *Sandboxed) loop(ctx context.Context, t task.Task, runner *tools.ToolRunner, st *loopState, emit execution.EmitFunc) (bool, error) {
	req := llm.ConverseRequest{
		SystemPrompt: sandboxedSystemPrompt + contextBlock(t),
		Turns:        historyTurns(t),
		Tools:        runner.Definitions(),
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	}

	for step := 1; step <= s.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		resp, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (llm.ConverseResponse, error) {
			return s.model.Converse(ctx, req)
		})
		st.steps = step
		if err != nil {
			return false, err
		}

		if text := strings.TrimSpace(resp.Text); text != "" {
			st.texts = append(st.texts, text)
			emit(execution.NewEvent(execution.EventText, text))
		}
		if len(resp.ToolCalls) == 0 {
			return true, nil
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			emit(execution.NewToolEvent(call.Name))
			out, err := runner.Execute(ctx, call.Name, call.Input)
			if err != nil {
				logger.DebugCF("executor", "Tool call failed", map[string]interface{}{
					"task_id": t.ID().String(),
					"tool":    call.Name,
					"error":   err.Error(),
				})
				results = append(results, llm.ToolResult{CallID: call.ID, Content: err.Error(), IsError: true})
				continue
			}
			results = append(results, llm.ToolResult{CallID: call.ID, Content: out})
		}
		req.Turns = append(req.Turns, resp.AssistantTurn(), llm.Turn{Role: "user", ToolResults: results})
	}
	return false, nil
}

// connectAll はツールセッションを並行に確立（失敗したものは外す）
func (s *Sandboxed) connectAll(ctx context.Context, jobID string, descriptors []profile.ToolDescriptor, env sandbox.Environment) []mcp.Session {
	connected := make([]mcp.Session, len(descriptors))

	var g errgroup.Group
	for i, desc := range descriptors {
		g.Go(func() error {
			sess, err := s.connect(ctx, desc, env.Command)
			if err != nil {
				logger.WarnCF("executor", "Tool connection failed, dropping tool", map[string]interface{}{
					"task_id": jobID,
					"tool":    desc.ID,
					"error":   err.Error(),
				})
				return nil
			}
			connected[i] = sess
			return nil
		})
	}
	_ = g.Wait()

	sessions := make([]mcp.Session, 0, len(connected))
	for _, sess := range connected {
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

func closeAll(sessions []mcp.Session) {
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			logger.DebugCF("executor", "Tool session close failed", map[string]interface{}{
				"tool":  sess.ID(),
				"error": err.Error(),
			})
		}
	}
}

// registerSession はセッションのツールを「<ツールID>__<名前>」で登録
func registerSession(runner *tools.ToolRunner, sess mcp.Session) {
	for _, tool := range sess.Tools() {
		remote := tool.Name
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		runner.Register(qualifiedName(sess.ID(), remote), tool.Description, schema, func(ctx context.Context, input json.RawMessage) (string, error) {
			text, isError, err := sess.Call(ctx, remote, input)
			if err != nil {
				return "", err
			}
			if isError {
				return "", errors.New(text)
			}
			return text, nil
		})
	}
}

// qualifiedName はモデルに渡せる文字だけでツール名を組み立てる
func qualifiedName(toolID, name string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '_' || r == '-' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
				return r
			}
			return '_'
		}, s)
	}
	full := clean(toolID) + "__" + clean(name)
	if len(full) > maxToolNameLen {
		full = full[:maxToolNameLen]
	}
	return full
}
