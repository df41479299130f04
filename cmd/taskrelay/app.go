package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/slack-go/slack"

	"github.com/Nyukimin/taskrelay/internal/adapter/config"
	"github.com/Nyukimin/taskrelay/internal/application/executor"
	"github.com/Nyukimin/taskrelay/internal/application/orchestrator"
	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/domain/profile"
	domainrouting "github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/cost"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/llm/claude"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/llm/gemini"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/llm/openai"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/mcp"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/persistence/result"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress/sinks"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/registry"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/routing"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/sandbox"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/tools"
	"github.com/Nyukimin/taskrelay/pkg/health"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	geminiDefaultURL    = "https://generativelanguage.googleapis.com"
	checkTimeout        = 5 * time.Second
)

// app はプロセス全体で共有する依存関係
type app struct {
	cfg     *config.Config
	orch    *orchestrator.TaskOrchestrator
	checker *health.Checker
	sinks   sinks.Factory
	closers []func() error
}

// loadApp は設定を読み込んで依存関係を構築
func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	logger.InfoCF("main", "Loaded config", map[string]interface{}{"path": configPath})

	return buildApp(ctx, cfg)
}

// buildApp は依存関係を構築
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, checker: health.NewChecker()}

	// 1. Tool Registry
	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	// 2. LLM Providers
	reasoning := claude.NewClaudeProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	if cfg.Anthropic.BaseURL != "" {
		reasoning.SetBaseURL(cfg.Anthropic.BaseURL)
	}
	classifierLLM, err := a.classifierProvider(ctx, reasoning)
	if err != nil {
		return nil, err
	}

	// 3. Routing Components（分類器の呼び出しも同じ再試行ポリシー）
	policy := retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}
	rules := routing.NewRuleDictionary(reg, cfg.Router.KeywordConfidence, cfg.Router.PatternConfidence)
	classifier := routing.NewLLMClassifier(classifierLLM, reg, routing.ClassifierOptions{
		Temperature:   cfg.Router.Temperature,
		MaxTokens:     cfg.Router.MaxTokens,
		AmbiguityBias: domainrouting.Complexity(cfg.Router.AmbiguityBias),
		HistoryTurns:  cfg.Router.HistoryTurns,
		Retry:         policy,
	})
	router := routing.NewRouter(reg, rules, classifier, routing.RouterConfig{
		AlwaysClassify:     cfg.Router.AlwaysClassify,
		FallbackConfidence: cfg.Router.FallbackConfidence,
		FailureComplexity:  domainrouting.Complexity(cfg.Router.FailureComplexity),
	})

	// 4. Cost Guard
	prices := make(map[string]cost.Price, len(cfg.Cost.Prices))
	for model, p := range cfg.Cost.Prices {
		prices[model] = cost.Price{InputPerK: p.InputPerK, OutputPerK: p.OutputPerK}
	}
	guard := cost.NewGuard(cfg.CostModel(),
		cost.WithCeiling(cfg.Cost.Ceiling),
		cost.WithAssumedOutputTokens(cfg.Cost.AssumedOutputTokens),
		cost.WithPrices(prices),
	)

	// 5. Executors
	web := tools.NewWebTools(cfg.Tools.WebSearchURL, cfg.Tools.MaxResults)

	var search executor.WebSearcher
	if cfg.Direct.WebSearch {
		search = web
	}
	direct := executor.NewDirect(reasoning, search, executor.DirectConfig{
		Timeout:     cfg.Direct.Timeout,
		MaxTokens:   cfg.Direct.MaxTokens,
		Temperature: cfg.Direct.Temperature,
	})

	envs, err := a.sandboxProvider()
	if err != nil {
		return nil, err
	}
	sandboxed := executor.NewSandboxed(reasoning, reg, envs, executor.SandboxedConfig{
		MaxSteps:    cfg.Sandbox.MaxSteps,
		Timeout:     cfg.Sandbox.Timeout,
		MaxTokens:   cfg.Sandbox.MaxTokens,
		Temperature: cfg.Sandbox.Temperature,
		Retry:       policy,
	}, executor.WithTools(web.Register))

	// 6. Result Sinks
	resultSink, err := a.resultSink()
	if err != nil {
		return nil, err
	}

	// 7. Application Orchestrator
	a.orch = orchestrator.NewTaskOrchestrator(guard, router, executor.Strategies{
		domainrouting.ComplexitySimple:  direct,
		domainrouting.ComplexityComplex: sandboxed,
	}, policy, resultSink)

	// 8. Progress Sinks
	if err := a.progressSinks(); err != nil {
		return nil, err
	}

	// 9. Readiness Checks
	a.registerChecks(reg, envs)

	logger.InfoCF("main", "Dependency injection complete", map[string]interface{}{
		"reasoning_model": reasoning.Name(),
		"classifier":      classifierLLM.Name(),
		"sandbox":         envs.Name(),
		"profiles":        len(reg.Profiles()),
	})
	return a, nil
}

func (a *app) classifierProvider(ctx context.Context, reasoning *claude.ClaudeProvider) (llm.LLMProvider, error) {
	cfg := a.cfg
	switch cfg.Router.Classifier {
	case "anthropic":
		return reasoning, nil
	case "gemini":
		p, err := gemini.NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create gemini classifier: %w", err)
		}
		return p, nil
	default:
		baseURL := cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = openai.KnownBaseURL(cfg.OpenAI.Name)
		}
		return openai.NewCompatibleProvider(cfg.OpenAI.Name, baseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	}
}

func (a *app) sandboxProvider() (sandbox.Provider, error) {
	sc := a.cfg.Sandbox
	switch sc.Provider {
	case "docker":
		return sandbox.NewDockerProvider(sandbox.DockerOptions{
			Binary:   sc.Docker.Binary,
			Image:    sc.Docker.Image,
			Network:  sc.Docker.Network,
			MemLimit: sc.Docker.Memory,
			CPULimit: sc.Docker.CPUs,
			BaseDir:  sc.WorkDir,
		}), nil
	case "local":
		return sandbox.NewLocalProvider(sc.WorkDir), nil
	default:
		return nil, fmt.Errorf("unknown sandbox provider %q", sc.Provider)
	}
}

func (a *app) resultSink() (result.Sink, error) {
	var out result.Multi
	if dir := a.cfg.Results.Dir; dir != "" {
		out = append(out, result.NewJSONFileSink(dir))
	}
	if path := a.cfg.Results.SQLitePath; path != "" {
		s, err := result.NewSQLiteSink(path)
		if err != nil {
			return nil, fmt.Errorf("open result database: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		out = append(out, s)
	}
	if len(out) == 0 {
		return result.Nop{}, nil
	}
	return out, nil
}

func (a *app) progressSinks() error {
	pc := a.cfg.Progress
	if pc.Slack.BotToken != "" {
		a.sinks.Slack = slack.New(pc.Slack.BotToken)
		a.sinks.SlackChannel = pc.Slack.Channel
	}
	if pc.Discord.Token != "" {
		s, err := sinks.NewDiscordSession(pc.Discord.Token)
		if err != nil {
			return err
		}
		a.sinks.Discord = s
		a.sinks.DiscordChannel = pc.Discord.Channel
	}
	if pc.Telegram.Token != "" {
		bot, err := sinks.NewTelegramBot(pc.Telegram.Token)
		if err != nil {
			return err
		}
		a.sinks.Telegram = bot
		a.sinks.TelegramChatID = pc.Telegram.ChatID
	}
	return nil
}

func (a *app) registerChecks(reg *registry.Registry, envs sandbox.Provider) {
	env := registry.EnvMap(os.Environ())
	cfg := a.cfg
	switch cfg.Router.Classifier {
	case "anthropic":
		a.checker.Register("classifier", health.EndpointCheck(orDefault(cfg.Anthropic.BaseURL, anthropicDefaultURL), checkTimeout))
	case "gemini":
		a.checker.Register("classifier", health.EndpointCheck(orDefault(cfg.Gemini.BaseURL, geminiDefaultURL), checkTimeout))
	default:
		baseURL := orDefault(cfg.OpenAI.BaseURL, openai.KnownBaseURL(cfg.OpenAI.Name))
		a.checker.Register("classifier", health.EndpointCheck(baseURL, checkTimeout))
		if cfg.OpenAI.Name == "ollama" {
			a.checker.Register("classifier_models", health.OllamaModelsCheck(baseURL, checkTimeout, []string{cfg.OpenAI.Model}))
		}
	}

	if docker, ok := envs.(*sandbox.DockerProvider); ok {
		a.checker.Register("docker", health.ContextCheck(docker.Available, checkTimeout))
	}

	for _, d := range reg.Tools() {
		if d.Type != profile.ConnectionRemoteHTTP {
			continue
		}
		resolved, _ := reg.Resolve([]string{d.ID}, env)
		if len(resolved) == 0 {
			continue
		}
		url := resolved[0].URL
		a.checker.Register("tool:"+d.ID, health.ContextCheck(func(ctx context.Context) error {
			return mcp.Ping(ctx, url)
		}, checkTimeout))
	}
}

// Close は保持しているリソースを解放
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
