package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

// ClassifierOptions はLLM分類器の調整値
type ClassifierOptions struct {
	Temperature   float64
	MaxTokens     int
	AmbiguityBias routing.Complexity // complexityが読めない場合の既定値
	HistoryTurns  int                // プロンプトに含める直近の会話ターン数
	Retry         retry.Policy       // 429/5xx/タイムアウト時の再試行（ゼロ値は再試行なし）
}

// DefaultClassifierOptions はデフォルトの分類器設定
func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		Temperature:   0.0,
		MaxTokens:     300,
		AmbiguityBias: routing.ComplexityComplex,
		HistoryTurns:  4,
	}
}

// classification はLLMが返すJSON
type classification struct {
	Profile    string  `json:"profile"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Complexity string  `json:"complexity"`
}

// LLMClassifier はLLMベースのプロファイル分類器
type LLMClassifier struct {
	llmProvider llm.LLMProvider
	catalog     Catalog
	opts        ClassifierOptions
}

// NewLLMClassifier は新しいLLMClassifierを作成
func NewLLMClassifier(llmProvider llm.LLMProvider, catalog Catalog, opts ClassifierOptions) *LLMClassifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultClassifierOptions().MaxTokens
	}
	if !opts.AmbiguityBias.IsValid() {
		opts.AmbiguityBias = routing.ComplexityComplex
	}
	return &LLMClassifier{
		llmProvider: llmProvider,
		catalog:     catalog,
		opts:        opts,
	}
}

// Classify はタスクを分類
func (c *LLMClassifier) Classify(ctx context.Context, t task.Task) (routing.Decision, error) {
	req := llm.GenerateRequest{
		SystemPrompt: c.buildSystemPrompt(),
		Messages: []llm.Message{
			{Role: "user", Content: c.buildUserMessage(t)},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}

	resp, err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) (llm.GenerateResponse, error) {
		return c.llmProvider.Generate(ctx, req)
	})
	if err != nil {
		return routing.Decision{}, fmt.Errorf("LLM classification failed: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return routing.Decision{}, fmt.Errorf("LLM classification failed: empty response")
	}

	raw := extractFirstJSONText(resp.Content)
	if raw == "" {
		return routing.Decision{}, fmt.Errorf("LLM classification failed: no JSON object in response")
	}

	var out classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return routing.Decision{}, fmt.Errorf("LLM classification failed: invalid JSON: %w", err)
	}

	complexity := routing.ParseComplexity(out.Complexity, c.opts.AmbiguityBias)
	p, ok := c.catalog.Profile(strings.TrimSpace(out.Profile))
	if !ok {
		p, _ = c.catalog.Profile(c.catalog.DefaultProfileID())
		complexity = routing.ComplexityComplex
		out.Reasoning = fmt.Sprintf("unknown profile %q, using default: %s", out.Profile, out.Reasoning)
	}

	return routing.NewDecision(p.ID, p.ToolIDs, out.Confidence, out.Reasoning, complexity, routing.SourceLLM), nil
}

// buildSystemPrompt は分類用のシステムプロンプトを構築
func (c *LLMClassifier) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a task router. Pick the tool profile that best fits the user's task and decide its complexity.\n\n")
	b.WriteString("Profiles:\n")
	for _, p := range c.catalog.Profiles() {
		tools := "none"
		if len(p.ToolIDs) > 0 {
			tools = strings.Join(p.ToolIDs, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s (tools: %s)", p.ID, p.Description, tools)
		if p.ID == c.catalog.DefaultProfileID() {
			b.WriteString(" [default]")
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Rules:
- Any search or lookup intent goes to the research profile when one exists.
- complexity is "simple" only for greetings, arithmetic, or a single factual lookup. Everything else is "complex".
- When unsure, use "complex".

Respond with JSON only:
{"profile": "<profile id>", "confidence": <0..1>, "reasoning": "<short reason>", "complexity": "simple" | "complex"}`)
	return b.String()
}

// buildUserMessage は直近の会話を添えた分類対象メッセージを構築
func (c *LLMClassifier) buildUserMessage(t task.Task) string {
	history := t.History()
	if n := c.opts.HistoryTurns; n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	if len(history) == 0 {
		return "Task:\n" + t.Text()
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	b.WriteString("\nTask:\n")
	b.WriteString(t.Text())
	return b.String()
}

// extractFirstJSONText はコードフェンスや前後の文章を除いて最初のJSONオブジェクトを取り出す
func extractFirstJSONText(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
