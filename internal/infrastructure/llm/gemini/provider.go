package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

// GeminiProvider はGemini APIプロバイダーの実装
type GeminiProvider struct {
	model  string
	client *genai.Client
}

// NewGeminiProvider は新しいGeminiProviderを作成
// baseURLが空の場合はSDKのデフォルトを使う
func NewGeminiProvider(ctx context.Context, apiKey, model, baseURL string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{model: model, client: client}, nil
}

// Name はプロバイダー名を返す
func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("gemini-%s", p.model)
}

// Model はモデル名を返す
func (p *GeminiProvider) Model() string {
	return p.model
}

// Generate はLLM生成を実行
func (p *GeminiProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: msg.Content}}})
		case "system":
			continue
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return llm.GenerateResponse{}, mapError(err)
	}

	resp := llm.GenerateResponse{Content: result.Text()}
	if result.UsageMetadata != nil {
		resp.TokensUsed = int(result.UsageMetadata.TotalTokenCount)
	}
	if len(result.Candidates) > 0 && result.Candidates[0] != nil {
		resp.FinishReason = string(result.Candidates[0].FinishReason)
	}
	return resp, nil
}

// mapError はSDKエラーをretry.StatusErrorに変換
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &retry.StatusError{StatusCode: apiErr.Code, Err: fmt.Errorf("gemini API error: %w", err)}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &retry.StatusError{StatusCode: apiErrPtr.Code, Err: fmt.Errorf("gemini API error: %w", err)}
	}
	return fmt.Errorf("gemini API request failed: %w", err)
}
