package routing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
)

func newTestRouter(mock *mockLLMProvider, cfg RouterConfig) *Router {
	catalog := newTestCatalog()
	var classifier Classifier
	if mock != nil {
		classifier = NewLLMClassifier(mock, catalog, DefaultClassifierOptions())
	}
	return NewRouter(catalog, NewRuleDictionary(catalog, 0, 0), classifier, cfg)
}

func newTask(text string) task.Task {
	return task.NewTask(task.NewJobID(), text)
}

func TestRouter_FastPathSkipsClassifier(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"general","confidence":1,"complexity":"simple"}`}
	router := newTestRouter(mock, RouterConfig{})

	d := router.Route(context.Background(), newTask("search the web for Go 1.25 release notes"))

	assert.Equal(t, "research", d.Profile)
	assert.Equal(t, routing.SourceKeyword, d.Source)
	assert.Equal(t, 0, mock.calls)
}

func TestRouter_AlwaysClassify(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"github","confidence":0.7,"complexity":"complex"}`}
	router := newTestRouter(mock, RouterConfig{AlwaysClassify: true})

	d := router.Route(context.Background(), newTask("search the repo"))

	assert.Equal(t, "github", d.Profile)
	assert.Equal(t, routing.SourceLLM, d.Source)
	assert.Equal(t, 1, mock.calls)
}

func TestRouter_GreetingGoesSimpleViaClassifier(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"general","confidence":0.95,"reasoning":"greeting","complexity":"simple"}`}
	router := newTestRouter(mock, RouterConfig{})

	d := router.Route(context.Background(), newTask("hi"))

	assert.Equal(t, "general", d.Profile)
	assert.Equal(t, routing.ComplexitySimple, d.Complexity)
	assert.Equal(t, 1, mock.calls)
}

func TestRouter_ClassifierFailureFallsBack(t *testing.T) {
	mock := &mockLLMProvider{err: errNetwork}
	router := newTestRouter(mock, RouterConfig{})

	d := router.Route(context.Background(), newTask("tell me something"))

	assert.Equal(t, "general", d.Profile)
	assert.Equal(t, routing.SourceFallback, d.Source)
	assert.LessOrEqual(t, d.Confidence, 0.5)
	assert.Equal(t, DefaultFallbackConfidence, d.Confidence)
	assert.Equal(t, routing.ComplexityComplex, d.Complexity)
	assert.True(t, strings.Contains(d.Reasoning, "connection refused"))
}

func TestRouter_FallbackConfidenceCappedAtHalf(t *testing.T) {
	mock := &mockLLMProvider{err: errNetwork}
	router := newTestRouter(mock, RouterConfig{FallbackConfidence: 0.9, FailureComplexity: routing.ComplexitySimple})

	d := router.Route(context.Background(), newTask("tell me something"))

	assert.LessOrEqual(t, d.Confidence, 0.5)
	assert.Equal(t, routing.ComplexitySimple, d.Complexity)
}

func TestRouter_NoClassifierFallsBack(t *testing.T) {
	router := newTestRouter(nil, RouterConfig{})

	d := router.Route(context.Background(), newTask("tell me something"))

	assert.Equal(t, "general", d.Profile)
	assert.Equal(t, routing.SourceFallback, d.Source)
}

func TestRouter_ForcedProfile(t *testing.T) {
	mock := &mockLLMProvider{}
	router := newTestRouter(mock, RouterConfig{})

	d := router.Route(context.Background(), newTask("anything").WithForcedProfile("github"))

	assert.Equal(t, "github", d.Profile)
	assert.Equal(t, []string{"github"}, d.ToolIDs)
	assert.Equal(t, routing.SourceForced, d.Source)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, routing.ComplexityComplex, d.Complexity)
	assert.Equal(t, 0, mock.calls)
}

func TestRouter_ForcedDefaultProfileIsSimple(t *testing.T) {
	router := newTestRouter(&mockLLMProvider{}, RouterConfig{})

	d := router.Route(context.Background(), newTask("anything").WithForcedProfile("general"))

	assert.Equal(t, routing.ComplexitySimple, d.Complexity)
}

func TestRouter_ForcedToolsReplaceProfileTools(t *testing.T) {
	router := newTestRouter(&mockLLMProvider{}, RouterConfig{})

	d := router.Route(context.Background(), newTask("anything").WithForcedToolIDs([]string{"docs"}))

	assert.Equal(t, "general", d.Profile)
	assert.Equal(t, []string{"docs"}, d.ToolIDs)
	assert.Equal(t, routing.ComplexityComplex, d.Complexity)
}

func TestRouter_UnknownForcedProfileIgnored(t *testing.T) {
	mock := &mockLLMProvider{response: `{"profile":"research","confidence":0.8,"complexity":"complex"}`}
	router := newTestRouter(mock, RouterConfig{})

	d := router.Route(context.Background(), newTask("what is new").WithForcedProfile("nope"))

	require.Equal(t, 1, mock.calls)
	assert.Equal(t, "research", d.Profile)
	assert.Equal(t, routing.SourceLLM, d.Source)
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(ctx context.Context, t task.Task) (routing.Decision, error) {
	panic("boom")
}

func TestRouter_RecoversFromClassifierPanic(t *testing.T) {
	catalog := newTestCatalog()
	router := NewRouter(catalog, NewRuleDictionary(catalog, 0, 0), panickingClassifier{}, RouterConfig{})

	d := router.Route(context.Background(), newTask("tell me something"))

	assert.Equal(t, "general", d.Profile)
	assert.Equal(t, routing.SourceFallback, d.Source)
	assert.Contains(t, d.Reasoning, "boom")
}
