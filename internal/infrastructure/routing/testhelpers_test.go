package routing

import (
	"context"
	"errors"
	"regexp"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/profile"
)

// staticCatalog はテスト用のCatalog
type staticCatalog struct {
	defaultID string
	profiles  []profile.ToolProfile
}

func (c *staticCatalog) DefaultProfileID() string { return c.defaultID }

func (c *staticCatalog) Profile(id string) (profile.ToolProfile, bool) {
	for _, p := range c.profiles {
		if p.ID == id {
			return p, true
		}
	}
	return profile.ToolProfile{}, false
}

func (c *staticCatalog) Profiles() []profile.ToolProfile { return c.profiles }

func newTestCatalog() *staticCatalog {
	return &staticCatalog{
		defaultID: "general",
		profiles: []profile.ToolProfile{
			{
				ID:          "general",
				Description: "General conversation",
				Triggers:    profile.Triggers{Keywords: []string{"hello"}},
			},
			{
				ID:          "github",
				Description: "Repository work",
				ToolIDs:     []string{"github"},
				Triggers:    profile.Triggers{Keywords: []string{"repo", "pull request"}},
			},
			{
				ID:          "research",
				Description: "Web research",
				ToolIDs:     []string{"web_search", "docs"},
				Triggers: profile.Triggers{
					Keywords: []string{"search", "look up"},
					Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)^find .+ online$`)},
				},
			},
		},
	}
}

// mockLLMProvider はテスト用のLLMプロバイダー
type mockLLMProvider struct {
	response string
	err      error
	errs     []error // 先頭から順に返すエラー（使い切ったらresponse）
	calls    int
	lastReq  llm.GenerateRequest
}

func (m *mockLLMProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	m.calls++
	m.lastReq = req
	if m.calls <= len(m.errs) && m.errs[m.calls-1] != nil {
		return llm.GenerateResponse{}, m.errs[m.calls-1]
	}
	if m.err != nil {
		return llm.GenerateResponse{}, m.err
	}
	return llm.GenerateResponse{Content: m.response, TokensUsed: 100}, nil
}

func (m *mockLLMProvider) Name() string {
	return "mock-llm"
}

var errNetwork = errors.New("connection refused")
