package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/profile"
	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/mcp"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/sandbox"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/tools"
)

func complexDecision(toolIDs ...string) routing.Decision {
	return routing.NewDecision("github", toolIDs, 0.8, "keyword match", routing.ComplexityComplex, routing.SourceKeyword)
}

func newCountingProvider(t *testing.T) *countingProvider {
	return &countingProvider{inner: sandbox.NewLocalProvider(t.TempDir())}
}

func newTestTask() task.Task {
	return task.NewTask(task.NewJobID(), "create hello.txt and tell me its size")
}

func TestSandboxed_ToolLoopToFinalAnswer(t *testing.T) {
	model := &scriptedModel{responses: []llm.ConverseResponse{
		{Text: "Creating the file.", ToolCalls: []llm.ToolCall{toolCall("c1", "file_write", map[string]string{"path": "hello.txt", "content": "hello"})}},
		{ToolCalls: []llm.ToolCall{toolCall("c2", "shell", map[string]string{"command": "wc -c < hello.txt"})}},
		{Text: "hello.txt is 5 bytes."},
	}}
	envs := newCountingProvider(t)
	rec := &eventRecorder{}

	s := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{})
	res, err := s.Execute(context.Background(), newTestTask(), complexDecision(), rec.emit)
	require.NoError(t, err)

	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "Creating the file.\n\nhello.txt is 5 bytes.", res.Output)
	assert.Equal(t, 3, res.StepsUsed)
	assert.Equal(t, []string{"file_write", "shell"}, rec.tools())
	assert.Equal(t, 1, envs.teardownCount())

	// 2回目のシェル結果がモデルに返されている
	third := model.requests[2]
	shellResult := third.Turns[len(third.Turns)-1].ToolResults[0]
	assert.Equal(t, "c2", shellResult.CallID)
	assert.Equal(t, "5", strings.TrimSpace(shellResult.Content))

	// ワークスペースは破棄済み
	_, statErr := os.Stat(envs.created[0].WorkDir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestSandboxed_StepLimitWithOutputIsSoftSuccess(t *testing.T) {
	model := &scriptedModel{responses: []llm.ConverseResponse{
		{Text: "still working", ToolCalls: []llm.ToolCall{toolCall("c", "file_list", map[string]string{})}},
	}}
	envs := newCountingProvider(t)

	res, err := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{MaxSteps: 3}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "step limit reached (3 steps)", res.Error)
	assert.Equal(t, 3, res.StepsUsed)
	assert.Equal(t, 3, model.calls())
	assert.Equal(t, 1, envs.teardownCount())
}

func TestSandboxed_StepLimitWithoutOutputFails(t *testing.T) {
	model := &scriptedModel{responses: []llm.ConverseResponse{
		{ToolCalls: []llm.ToolCall{toolCall("c", "file_list", map[string]string{})}},
	}}

	res, err := NewSandboxed(model, &staticResolver{}, newCountingProvider(t), SandboxedConfig{MaxSteps: 2}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, ErrStepLimit.Error()))
}

func TestSandboxed_MaxStepsClamped(t *testing.T) {
	s := NewSandboxed(&scriptedModel{}, &staticResolver{}, newCountingProvider(t), SandboxedConfig{MaxSteps: 500})
	assert.Equal(t, MaxStepsCeiling, s.cfg.MaxSteps)

	s = NewSandboxed(&scriptedModel{}, &staticResolver{}, newCountingProvider(t), SandboxedConfig{})
	assert.Equal(t, DefaultMaxSteps, s.cfg.MaxSteps)
	assert.Equal(t, DefaultSandboxTimeout, s.cfg.Timeout)
}

func TestSandboxed_EnvironmentCreationFailure(t *testing.T) {
	model := &scriptedModel{}
	envs := &countingProvider{createErr: fmt.Errorf("%w: docker daemon unreachable", sandbox.ErrEnvironment)}

	res, err := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, msgEnvironmentFailed, res.Error)
	assert.NotContains(t, res.Error, "docker daemon")
	assert.ErrorIs(t, res.Cause, sandbox.ErrEnvironment)
	assert.ErrorContains(t, res.Cause, "docker daemon unreachable")
	assert.Equal(t, 0, model.calls())
}

func TestSandboxed_Timeout(t *testing.T) {
	model := &scriptedModel{block: true}
	envs := newCountingProvider(t)

	res, err := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{Timeout: 50 * time.Millisecond}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "execution timed out after 50ms", res.Error)
	assert.Equal(t, 1, envs.teardownCount())
}

func TestSandboxed_PanicStillTearsDown(t *testing.T) {
	model := &scriptedModel{panicMsg: "boom"}
	envs := newCountingProvider(t)

	res, err := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, msgExecutionAborted, res.Error)
	assert.ErrorContains(t, res.Cause, "boom")
	assert.Equal(t, 1, envs.teardownCount())
}

func TestSandboxed_ModelClientErrorNotRetried(t *testing.T) {
	model := &scriptedModel{errs: []error{retry.NewStatusError(http.StatusBadRequest, nil, errors.New("api key sk-ant-SECRET rejected at https://internal-proxy:8443"))}}
	envs := newCountingProvider(t)

	res, err := NewSandboxed(model, &staticResolver{}, envs, SandboxedConfig{Retry: retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond}}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, msgModelFailed, res.Error)
	assert.NotContains(t, res.Error, "sk-ant-SECRET")
	assert.ErrorContains(t, res.Cause, "sk-ant-SECRET")
	var se *retry.StatusError
	assert.ErrorAs(t, res.Cause, &se)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, 1, envs.teardownCount())
}

func TestSandboxed_ModelTransientErrorRetried(t *testing.T) {
	model := &scriptedModel{
		errs:      []error{retry.NewStatusError(http.StatusTooManyRequests, nil, errors.New("slow down"))},
		responses: []llm.ConverseResponse{{}, {Text: "done"}},
	}

	res, err := NewSandboxed(model, &staticResolver{}, newCountingProvider(t), SandboxedConfig{Retry: retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}}).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, 2, model.calls())
}

func TestSandboxed_RemoteToolsConnectedAndPrefixed(t *testing.T) {
	resolver := &staticResolver{
		descriptors: []profile.ToolDescriptor{
			{ID: "github", Type: profile.ConnectionRemoteHTTP, URL: "https://mcp.example.com"},
			{ID: "broken", Type: profile.ConnectionSubprocess, Command: "missing-binary"},
		},
		skipped: []string{"slack"},
	}
	gh := &fakeSession{id: "github", tools: []mcp.Tool{{Name: "search_issues", Description: "Search issues"}, {Name: "fail"}}}
	connector := func(ctx context.Context, d profile.ToolDescriptor, commands mcp.CommandFactory) (mcp.Session, error) {
		if d.ID == "broken" {
			return nil, errors.New("exec: not found")
		}
		return gh, nil
	}

	model := &scriptedModel{responses: []llm.ConverseResponse{
		{ToolCalls: []llm.ToolCall{
			toolCall("c1", "github__search_issues", map[string]string{"q": "bug"}),
			toolCall("c2", "github__fail", map[string]string{}),
			toolCall("c3", "broken__anything", map[string]string{}),
		}},
		{Text: "Found 3 issues."},
	}}

	res, err := NewSandboxed(model, resolver, newCountingProvider(t), SandboxedConfig{}, WithConnector(connector)).
		Execute(context.Background(), newTestTask(), complexDecision("github", "broken", "slack"), execution.Discard)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"github", "broken", "slack"}, resolver.gotIDs)

	var names []string
	for _, def := range model.requests[0].Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "github__search_issues")
	assert.Contains(t, names, "shell")
	assert.NotContains(t, names, "broken__anything")

	results := model.requests[1].Turns[len(model.requests[1].Turns)-1].ToolResults
	require.Len(t, results, 3)
	assert.Equal(t, "result from github/search_issues", results[0].Content)
	assert.True(t, results[1].IsError)
	assert.Equal(t, "remote failure", results[1].Content)
	assert.True(t, results[2].IsError)

	assert.Equal(t, []string{`search_issues {"q":"bug"}`, "fail {}"}, gh.calls)
	assert.True(t, gh.closed)
}

func TestSandboxed_ExtraToolsRegistered(t *testing.T) {
	model := &scriptedModel{responses: []llm.ConverseResponse{{Text: "ok"}}}
	register := WithTools(func(r *tools.ToolRunner) {
		r.Register("web_search", "search", map[string]interface{}{"type": "object"}, func(ctx context.Context, input json.RawMessage) (string, error) {
			return "", nil
		})
	})

	_, err := NewSandboxed(model, &staticResolver{}, newCountingProvider(t), SandboxedConfig{}, register).
		Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	var names []string
	for _, def := range model.requests[0].Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "web_search")
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "github__search_issues", qualifiedName("github", "search_issues"))
	assert.Equal(t, "my_tool__do_it_", qualifiedName("my.tool", "do it!"))
	assert.Len(t, qualifiedName(strings.Repeat("a", 50), strings.Repeat("b", 50)), maxToolNameLen)
}

func TestSandboxed_ResolvesAgainstCurrentEnvironment(t *testing.T) {
	resolver := &staticResolver{}
	s := NewSandboxed(&scriptedModel{responses: []llm.ConverseResponse{{Text: "done"}}}, resolver, newCountingProvider(t), SandboxedConfig{})

	t.Setenv("TASKRELAY_DOCS_TOKEN", "rotated-after-start")
	_, err := s.Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.Equal(t, "rotated-after-start", resolver.gotEnv["TASKRELAY_DOCS_TOKEN"])
}

func TestSandboxed_InjectedEnvironment(t *testing.T) {
	resolver := &staticResolver{}
	env := map[string]string{"TASKRELAY_DOCS_TOKEN": "fixed"}
	s := NewSandboxed(&scriptedModel{responses: []llm.ConverseResponse{{Text: "done"}}}, resolver, newCountingProvider(t), SandboxedConfig{Env: env})

	t.Setenv("TASKRELAY_DOCS_TOKEN", "ignored")
	_, err := s.Execute(context.Background(), newTestTask(), complexDecision(), execution.Discard)
	require.NoError(t, err)

	assert.Equal(t, env, resolver.gotEnv)
}
