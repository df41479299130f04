package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolDescriptorResolve_SubstitutesEverywhere(t *testing.T) {
	d := ToolDescriptor{
		ID:      "search",
		Type:    ConnectionRemoteHTTP,
		URL:     "https://${HOST}/mcp",
		Headers: map[string]string{"Authorization": "Bearer ${TOKEN}"},
	}
	env := map[string]string{"HOST": "search.example.com", "TOKEN": "secret"}

	resolved, missing := d.Resolve(env)

	assert.Empty(t, missing)
	assert.Equal(t, "https://search.example.com/mcp", resolved.URL)
	assert.Equal(t, "Bearer secret", resolved.Headers["Authorization"])
	// 元の記述子は変更されない
	assert.Equal(t, "Bearer ${TOKEN}", d.Headers["Authorization"])
}

func TestToolDescriptorResolve_SubprocessArgsAndEnv(t *testing.T) {
	d := ToolDescriptor{
		ID:      "github",
		Type:    ConnectionSubprocess,
		Command: "npx",
		Args:    []string{"-y", "server-github", "--org=${ORG}"},
		Env:     map[string]string{"GITHUB_TOKEN": "${GITHUB_TOKEN}"},
	}

	resolved, missing := d.Resolve(map[string]string{"ORG": "acme"})

	assert.Equal(t, []string{"GITHUB_TOKEN"}, missing)
	assert.Equal(t, "--org=acme", resolved.Args[2])
	assert.Equal(t, "${GITHUB_TOKEN}", resolved.Env["GITHUB_TOKEN"])
}

func TestToolDescriptorResolve_AuthPlaceholdersRequired(t *testing.T) {
	d := ToolDescriptor{ID: "x", Type: ConnectionRemoteHTTP, URL: "https://x", AuthPlaceholders: []string{"X_KEY"}}

	_, missing := d.Resolve(map[string]string{})
	assert.Equal(t, []string{"X_KEY"}, missing)

	_, missing = d.Resolve(map[string]string{"X_KEY": "k"})
	assert.Empty(t, missing)
}

func TestToolDescriptorValidate(t *testing.T) {
	require.NoError(t, ToolDescriptor{ID: "a", Type: ConnectionRemoteHTTP, URL: "https://a"}.Validate())
	require.NoError(t, ToolDescriptor{ID: "b", Type: ConnectionSubprocess, Command: "run"}.Validate())

	assert.Error(t, ToolDescriptor{Type: ConnectionRemoteHTTP, URL: "https://a"}.Validate())
	assert.Error(t, ToolDescriptor{ID: "a", Type: ConnectionRemoteHTTP}.Validate())
	assert.Error(t, ToolDescriptor{ID: "b", Type: ConnectionSubprocess}.Validate())
	assert.Error(t, ToolDescriptor{ID: "c", Type: "grpc"}.Validate())
}
