package llm

import (
	"context"
	"encoding/json"
)

// Message はLLMメッセージを表す
type Message struct {
	Role    string // "user", "assistant"
	Content string
}

// GenerateRequest はLLM生成リクエスト
type GenerateRequest struct {
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// GenerateResponse はLLM生成レスポンス
type GenerateResponse struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// LLMProvider はLLMプロバイダーの抽象化
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Name() string
}

// ToolDefinition はモデルに宣言するツール
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{} // JSON Schema object
}

// ToolCall はモデルが要求したツール呼び出し
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult はツール呼び出しの結果
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Turn はツール付き会話の1ターン
// アシスタントのターンはText/ToolCalls、ユーザーのターンはText/ToolResultsを持つ
type Turn struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ConverseRequest はツール付き会話リクエスト
type ConverseRequest struct {
	SystemPrompt string
	Turns        []Turn
	Tools        []ToolDefinition
	MaxTokens    int
	Temperature  float64
}

// ConverseResponse はツール付き会話の1ステップの応答
type ConverseResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	TokensUsed int
}

// AssistantTurn は応答をアシスタントターンに変換
func (r ConverseResponse) AssistantTurn() Turn {
	return Turn{Role: "assistant", Text: r.Text, ToolCalls: r.ToolCalls}
}

// ToolCaller はツール使用可能なLLMの抽象化
type ToolCaller interface {
	LLMProvider
	Converse(ctx context.Context, req ConverseRequest) (ConverseResponse, error)
}
