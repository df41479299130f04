package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

// 既知のOpenAI互換エンドポイント
const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	OllamaBaseURL   = "http://localhost:11434/v1"
)

// OpenAIProvider はOpenAI互換APIプロバイダーの実装
// DeepSeekやOllamaの/v1エンドポイントにもベースURLの切り替えで対応する
type OpenAIProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  openai.Client
}

// NewOpenAIProvider は新しいOpenAIProviderを作成
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return NewCompatibleProvider("openai", DefaultBaseURL, apiKey, model)
}

// NewCompatibleProvider はOpenAI互換エンドポイント向けのプロバイダーを作成
func NewCompatibleProvider(name, baseURL, apiKey, model string) *OpenAIProvider {
	if apiKey == "" {
		// Ollamaなど認証不要のエンドポイント向け
		apiKey = "unused"
	}
	p := &OpenAIProvider{name: name, apiKey: apiKey, model: model, baseURL: baseURL}
	p.client = p.newClient()
	return p
}

// SetBaseURL はベースURLを設定（テスト用）
func (p *OpenAIProvider) SetBaseURL(url string) {
	p.baseURL = url
	p.client = p.newClient()
}

func (p *OpenAIProvider) newClient() openai.Client {
	return openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(0),
	)
}

// Name はプロバイダー名を返す
func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s-%s", p.name, p.model)
}

// Model はモデル名を返す
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Generate はLLM生成を実行
func (p *OpenAIProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: convertMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.GenerateResponse{}, mapError(p.name, err)
	}

	var content, finishReason string
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
		finishReason = string(completion.Choices[0].FinishReason)
	}

	return llm.GenerateResponse{
		Content:      content,
		TokensUsed:   int(completion.Usage.TotalTokens),
		FinishReason: finishReason,
	}, nil
}

// convertMessages はドメインメッセージをChat Completions形式に変換
func convertMessages(req llm.GenerateRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

// mapError はSDKエラーをretry.StatusErrorに変換
func mapError(name string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		se := &retry.StatusError{StatusCode: apiErr.StatusCode, Err: fmt.Errorf("%s API error: %w", name, err)}
		if apiErr.Response != nil {
			se.RetryAfter = retry.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return se
	}
	return fmt.Errorf("%s API request failed: %w", name, err)
}

// KnownBaseURL はプロバイダー名から既知のベースURLを返す（不明ならOpenAI）
func KnownBaseURL(name string) string {
	switch name {
	case "deepseek":
		return DeepSeekBaseURL
	case "ollama":
		return OllamaBaseURL
	default:
		return DefaultBaseURL
	}
}
