package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

func TestGeminiProviderGenerate_Success(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": `{"profile":"research"}`}},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]interface{}{
				"promptTokenCount":     5,
				"candidatesTokenCount": 3,
				"totalTokenCount":      8,
			},
		})
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(context.Background(), "test-key", "gemini-2.0-flash", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "gemini-gemini-2.0-flash", provider.Name())

	resp, err := provider.Generate(context.Background(), llm.GenerateRequest{
		SystemPrompt: "classify",
		Messages:     []llm.Message{{Role: "user", Content: "latest news"}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"profile":"research"}`, resp.Content)
	assert.Equal(t, 8, resp.TokensUsed)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.NotNil(t, body["systemInstruction"])
}

func TestGeminiProviderGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(context.Background(), "test-key", "gemini-2.0-flash", server.URL)
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), llm.GenerateRequest{
		Messages: []llm.Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}
