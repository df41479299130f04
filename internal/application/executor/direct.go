package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const directSystemPrompt = `You are a helpful assistant. Answer the user's request directly and concisely.
If the answer needs fresh information from the web, call the web_search tool once; otherwise answer from your own knowledge.`

// DefaultDirectTimeout はモデル呼び出し1回あたりの既定タイムアウト
const DefaultDirectTimeout = 20 * time.Second

// WebSearcher はDirect経路で使える補助検索ツール
type WebSearcher interface {
	SearchDefinition() llm.ToolDefinition
	ExecuteSearch(ctx context.Context, input json.RawMessage) (string, error)
}

// DirectConfig はDirect経路の設定
type DirectConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Direct はモデルを最大2回呼び出すだけの単発実行
type Direct struct {
	model  llm.LLMProvider
	search WebSearcher
	cfg    DirectConfig
}

// NewDirect は新しいDirectを作成（searchはnil可）
func NewDirect(model llm.LLMProvider, search WebSearcher, cfg DirectConfig) *Direct {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDirectTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Direct{model: model, search: search, cfg: cfg}
}

// Execute はタスクを単発で実行
func (d *Direct) Execute(ctx context.Context, t task.Task, decision routing.Decision, emit execution.EmitFunc) (execution.Result, error) {
	start := time.Now()
	emit(execution.NewEvent(execution.EventStarting, "direct"))

	caller, ok := d.model.(llm.ToolCaller)
	if !ok || d.search == nil {
		return d.generate(ctx, t, emit, start)
	}

	system := directSystemPrompt + contextBlock(t)
	tools := []llm.ToolDefinition{d.search.SearchDefinition()}
	turns := historyTurns(t)

	resp, err := d.converse(ctx, caller, llm.ConverseRequest{
		SystemPrompt: system,
		Turns:        turns,
		Tools:        tools,
		MaxTokens:    d.cfg.MaxTokens,
		Temperature:  d.cfg.Temperature,
	})
	if err != nil {
		return execution.Result{}, fmt.Errorf("direct model call: %w", err)
	}
	steps := 1

	if len(resp.ToolCalls) > 0 {
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		searched := false
		for _, call := range resp.ToolCalls {
			if call.Name != tools[0].Name || searched {
				results = append(results, llm.ToolResult{CallID: call.ID, Content: "tool not available", IsError: true})
				continue
			}
			searched = true
			emit(execution.NewToolEvent(call.Name))
			out, err := d.search.ExecuteSearch(ctx, call.Input)
			if err != nil {
				logger.WarnCF("executor", "Direct web search failed", map[string]interface{}{
					"task_id": t.ID().String(),
					"error":   err.Error(),
				})
				results = append(results, llm.ToolResult{CallID: call.ID, Content: err.Error(), IsError: true})
				continue
			}
			results = append(results, llm.ToolResult{CallID: call.ID, Content: out})
		}

		turns = append(turns, resp.AssistantTurn(), llm.Turn{Role: "user", ToolResults: results})
		resp, err = d.converse(ctx, caller, llm.ConverseRequest{
			SystemPrompt: system + "\nYou already have the search results. Answer now without calling tools.",
			Turns:        turns,
			Tools:        tools,
			MaxTokens:    d.cfg.MaxTokens,
			Temperature:  d.cfg.Temperature,
		})
		if err != nil {
			return execution.Result{}, fmt.Errorf("direct model call: %w", err)
		}
		steps = 2
	}

	return d.finish(resp.Text, steps, emit, start), nil
}

func (d *Direct) generate(ctx context.Context, t task.Task, emit execution.EmitFunc, start time.Time) (execution.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := d.model.Generate(callCtx, llm.GenerateRequest{
		SystemPrompt: "You are a helpful assistant. Answer the user's request directly and concisely." + contextBlock(t),
		Messages:     historyMessages(t),
		MaxTokens:    d.cfg.MaxTokens,
		Temperature:  d.cfg.Temperature,
	})
	if err != nil {
		return execution.Result{}, fmt.Errorf("direct model call: %w", err)
	}
	return d.finish(resp.Content, 1, emit, start), nil
}

func (d *Direct) converse(ctx context.Context, caller llm.ToolCaller, req llm.ConverseRequest) (llm.ConverseResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return caller.Converse(callCtx, req)
}

func (d *Direct) finish(text string, steps int, emit execution.EmitFunc, start time.Time) execution.Result {
	if text != "" {
		emit(execution.NewEvent(execution.EventText, text))
	}
	res := execution.Result{
		Output:     text,
		Success:    text != "",
		DurationMs: elapsedMs(start),
		StepsUsed:  steps,
	}
	if !res.Success {
		res.Error = "model returned an empty answer"
	}
	return res
}
