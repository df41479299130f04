package routing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

func TestLLMClassifier_Classify_JSON(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"research","confidence":0.85,"reasoning":"needs web","complexity":"complex"}`}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "what happened in the news today"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if d.Profile != "research" {
		t.Errorf("Expected research, got %s", d.Profile)
	}
	if d.Confidence != 0.85 {
		t.Errorf("Expected 0.85, got %v", d.Confidence)
	}
	if d.Complexity != routing.ComplexityComplex {
		t.Errorf("Expected complex, got %s", d.Complexity)
	}
	if d.Source != routing.SourceLLM {
		t.Errorf("Expected llm source, got %s", d.Source)
	}
	if len(d.ToolIDs) != 2 {
		t.Errorf("Expected profile tools, got %v", d.ToolIDs)
	}
}

func TestLLMClassifier_Classify_StripsCodeFences(t *testing.T) {
	mock := &mockLLMProvider{response: "Here you go:\n```json\n{\"profile\": \"general\", \"confidence\": 0.95, \"reasoning\": \"greeting {hi}\", \"complexity\": \"simple\"}\n```\nDone."}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "hi"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Profile != "general" || d.Complexity != routing.ComplexitySimple {
		t.Errorf("Expected general/simple, got %s/%s", d.Profile, d.Complexity)
	}
	if d.Reasoning != "greeting {hi}" {
		t.Errorf("Unexpected reasoning %q", d.Reasoning)
	}
}

func TestLLMClassifier_Classify_UnknownProfileFallsBackToDefault(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"astrology","confidence":0.9,"reasoning":"stars","complexity":"simple"}`}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "read my horoscope"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Profile != "general" {
		t.Errorf("Expected default profile, got %s", d.Profile)
	}
	if d.Complexity != routing.ComplexityComplex {
		t.Errorf("Unknown profile must force complex, got %s", d.Complexity)
	}
}

func TestLLMClassifier_Classify_ClampsConfidence(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"github","confidence":7,"reasoning":"","complexity":"complex"}`}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "x"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Confidence != 1 {
		t.Errorf("Expected clamped confidence 1, got %v", d.Confidence)
	}
}

func TestLLMClassifier_Classify_MissingComplexityUsesBias(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"general","confidence":0.5}`}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "x"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Complexity != routing.ComplexityComplex {
		t.Errorf("Expected complex bias, got %s", d.Complexity)
	}
}

func TestLLMClassifier_Classify_Errors(t *testing.T) {
	tests := []struct {
		name string
		mock *mockLLMProvider
	}{
		{name: "provider error", mock: &mockLLMProvider{err: errNetwork}},
		{name: "empty response", mock: &mockLLMProvider{response: "   "}},
		{name: "no json", mock: &mockLLMProvider{response: "research"}},
		{name: "broken json", mock: &mockLLMProvider{response: `{"profile": research}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewLLMClassifier(tt.mock, newTestCatalog(), DefaultClassifierOptions())
			_, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "x"))
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLLMClassifier_PromptListsProfilesAndHistory(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"general","confidence":0.9,"complexity":"simple"}`}
	classifier := NewLLMClassifier(mock, newTestCatalog(), DefaultClassifierOptions())

	tk := task.NewTask(task.NewJobID(), "and tomorrow?").WithHistory([]task.Turn{
		{Role: task.RoleUser, Content: "weather in Paris today"},
		{Role: task.RoleAssistant, Content: "Sunny"},
	})
	if _, err := classifier.Classify(context.Background(), tk); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	for _, want := range []string{"research", "web_search, docs", "github", "[default]", `"complexity"`} {
		if !strings.Contains(mock.lastReq.SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	user := mock.lastReq.Messages[0].Content
	if !strings.Contains(user, "weather in Paris today") || !strings.Contains(user, "and tomorrow?") {
		t.Errorf("user message missing history or task: %q", user)
	}
}

func TestExtractFirstJSONText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{in: `prefix {"a":"}"} suffix`, want: `{"a":"}"}`},
		{in: "no json", want: ""},
		{in: `{"unterminated": 1`, want: ""},
	}
	for _, tt := range tests {
		if got := extractFirstJSONText(tt.in); got != tt.want {
			t.Errorf("extractFirstJSONText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLLMClassifier_Classify_RetriesRateLimit(t *testing.T) {
	mock := &mockLLMProvider{
		errs:     []error{retry.NewStatusError(http.StatusTooManyRequests, nil, errors.New("slow down"))},
		response: `{"profile":"research","confidence":0.8,"reasoning":"lookup","complexity":"complex"}`,
	}
	opts := DefaultClassifierOptions()
	opts.Retry = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	classifier := NewLLMClassifier(mock, newTestCatalog(), opts)

	d, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "look into the latest Go release"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", mock.calls)
	}
	if d.Profile != "research" || d.Source != routing.SourceLLM {
		t.Errorf("Expected LLM decision for research, got %s/%s", d.Profile, d.Source)
	}
}

func TestLLMClassifier_Classify_RetriesExhausted(t *testing.T) {
	rateLimited := retry.NewStatusError(http.StatusTooManyRequests, nil, errors.New("slow down"))
	mock := &mockLLMProvider{errs: []error{rateLimited, rateLimited, rateLimited}}
	opts := DefaultClassifierOptions()
	opts.Retry = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	classifier := NewLLMClassifier(mock, newTestCatalog(), opts)

	_, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "look into the latest Go release"))
	if err == nil {
		t.Fatal("Expected error after retries are exhausted")
	}
	if mock.calls != 3 {
		t.Errorf("Expected MaxRetries+1 = 3 calls, got %d", mock.calls)
	}
}

func TestLLMClassifier_Classify_ClientErrorNotRetried(t *testing.T) {
	mock := &mockLLMProvider{errs: []error{retry.NewStatusError(http.StatusUnauthorized, nil, errors.New("bad key"))}}
	opts := DefaultClassifierOptions()
	opts.Retry = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}
	classifier := NewLLMClassifier(mock, newTestCatalog(), opts)

	if _, err := classifier.Classify(context.Background(), task.NewTask(task.NewJobID(), "hi")); err == nil {
		t.Fatal("Expected error")
	}
	if mock.calls != 1 {
		t.Errorf("Expected 1 call, got %d", mock.calls)
	}
}
