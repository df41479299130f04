package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Router    RouterConfig    `yaml:"router"`
	Cost      CostConfig      `yaml:"cost"`
	Retry     RetryConfig     `yaml:"retry"`
	Direct    DirectConfig    `yaml:"direct"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Tools     ToolsConfig     `yaml:"tools"`
	Progress  ProgressConfig  `yaml:"progress"`
	Results   ResultsConfig   `yaml:"results"`
	Log       LogConfig       `yaml:"log"`
	Registry  string          `yaml:"registry" env:"TASKRELAY_REGISTRY" validate:"required"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Host        string   `yaml:"host" env:"TASKRELAY_SERVER_HOST"`
	Port        int      `yaml:"port" env:"TASKRELAY_SERVER_PORT" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" env:"TASKRELAY_SERVER_CORS_ORIGINS"`
}

// AnthropicConfig は推論モデル（Claude）設定
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key" env:"ANTHROPIC_API_KEY"` // 環境変数から読み込み推奨
	Model   string `yaml:"model" env:"TASKRELAY_ANTHROPIC_MODEL" validate:"required"`
	BaseURL string `yaml:"base_url" env:"TASKRELAY_ANTHROPIC_BASE_URL" validate:"omitempty,url"`
}

// OpenAIConfig はOpenAI互換エンドポイント設定（OpenAI / DeepSeek / Ollama）
type OpenAIConfig struct {
	Name    string `yaml:"name" env:"TASKRELAY_OPENAI_NAME" validate:"required"`
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"` // 環境変数から読み込み推奨
	Model   string `yaml:"model" env:"TASKRELAY_OPENAI_MODEL" validate:"required"`
	BaseURL string `yaml:"base_url" env:"TASKRELAY_OPENAI_BASE_URL" validate:"omitempty,url"`
}

// GeminiConfig はGemini設定
type GeminiConfig struct {
	APIKey  string `yaml:"api_key" env:"GEMINI_API_KEY"` // 環境変数から読み込み推奨
	Model   string `yaml:"model" env:"TASKRELAY_GEMINI_MODEL" validate:"required"`
	BaseURL string `yaml:"base_url" env:"TASKRELAY_GEMINI_BASE_URL" validate:"omitempty,url"`
}

// RouterConfig は分類器とルーティングのしきい値
type RouterConfig struct {
	Classifier         string  `yaml:"classifier" env:"TASKRELAY_ROUTER_CLASSIFIER" validate:"oneof=anthropic openai gemini"`
	AlwaysClassify     bool    `yaml:"always_classify" env:"TASKRELAY_ROUTER_ALWAYS_CLASSIFY"`
	KeywordConfidence  float64 `yaml:"keyword_confidence" validate:"gte=0,lte=1"`
	PatternConfidence  float64 `yaml:"pattern_confidence" validate:"gte=0,lte=1"`
	FallbackConfidence float64 `yaml:"fallback_confidence" validate:"gte=0,lte=0.5"`
	FailureComplexity  string  `yaml:"failure_complexity" validate:"oneof=simple complex"`
	AmbiguityBias      string  `yaml:"ambiguity_bias" validate:"oneof=simple complex"`
	Temperature        float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens          int     `yaml:"max_tokens" validate:"min=1"`
	HistoryTurns       int     `yaml:"history_turns" validate:"min=0"`
}

// PriceConfig は1000トークンあたりの価格（USD）
type PriceConfig struct {
	InputPerK  float64 `yaml:"input_per_k" validate:"gte=0"`
	OutputPerK float64 `yaml:"output_per_k" validate:"gte=0"`
}

// CostConfig はコストガード設定
type CostConfig struct {
	Model               string                 `yaml:"model" env:"TASKRELAY_COST_MODEL"`
	Ceiling             float64                `yaml:"ceiling" env:"TASKRELAY_COST_CEILING" validate:"gt=0"`
	AssumedOutputTokens int                    `yaml:"assumed_output_tokens" validate:"min=1"`
	Prices              map[string]PriceConfig `yaml:"prices" validate:"dive"`
}

// RetryConfig はリトライ設定
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"TASKRELAY_RETRY_MAX_RETRIES" validate:"min=0,max=10"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

// DirectConfig はDirect経路の設定
type DirectConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"TASKRELAY_DIRECT_TIMEOUT" validate:"gt=0"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	WebSearch   bool          `yaml:"web_search" env:"TASKRELAY_DIRECT_WEB_SEARCH"`
}

// DockerConfig はdockerサンドボックス設定
type DockerConfig struct {
	Binary  string `yaml:"binary"`
	Image   string `yaml:"image" env:"TASKRELAY_SANDBOX_DOCKER_IMAGE"`
	Network string `yaml:"network"`
	Memory  string `yaml:"memory"`
	CPUs    string `yaml:"cpus"`
}

// SandboxConfig はSandboxed経路の設定
type SandboxConfig struct {
	Provider    string        `yaml:"provider" env:"TASKRELAY_SANDBOX_PROVIDER" validate:"oneof=local docker"`
	MaxSteps    int           `yaml:"max_steps" env:"TASKRELAY_SANDBOX_MAX_STEPS" validate:"min=1,max=50"`
	Timeout     time.Duration `yaml:"timeout" env:"TASKRELAY_SANDBOX_TIMEOUT" validate:"gt=0"`
	WorkDir     string        `yaml:"work_dir" env:"TASKRELAY_SANDBOX_WORK_DIR"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Docker      DockerConfig  `yaml:"docker"`
}

// ToolsConfig は組み込みWebツールの設定
type ToolsConfig struct {
	WebSearchURL string `yaml:"web_search_url" validate:"omitempty,url"`
	MaxResults   int    `yaml:"max_results" validate:"min=1,max=20"`
}

// SlackConfig はSlack進捗通知設定
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	Channel  string `yaml:"channel" env:"TASKRELAY_SLACK_CHANNEL"`
}

// DiscordConfig はDiscord進捗通知設定
type DiscordConfig struct {
	Token   string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
	Channel string `yaml:"channel" env:"TASKRELAY_DISCORD_CHANNEL"`
}

// TelegramConfig はTelegram進捗通知設定
type TelegramConfig struct {
	Token  string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID int64  `yaml:"chat_id" env:"TASKRELAY_TELEGRAM_CHAT_ID"`
}

// ProgressConfig は進捗通知設定
type ProgressConfig struct {
	Interval time.Duration  `yaml:"interval" env:"TASKRELAY_PROGRESS_INTERVAL" validate:"gt=0"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// ResultsConfig は結果の保存先
type ResultsConfig struct {
	Dir        string `yaml:"dir" env:"TASKRELAY_RESULTS_DIR"`
	SQLitePath string `yaml:"sqlite_path" env:"TASKRELAY_RESULTS_SQLITE"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" env:"TASKRELAY_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"TASKRELAY_LOG_FORMAT" validate:"oneof=json text"`
}

// LoadConfig は設定ファイルを読み込む（pathが空ならデフォルトと環境変数のみ）
func LoadConfig(path string) (*Config, error) {
	// デフォルト値設定
	cfg := defaultConfig()

	if path != "" {
		// ファイル読み込み
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// YAMLパース
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	// 環境変数で上書き（APIキーはファイルに平文保存しない）
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig はデフォルト値を設定した設定を返す
// YAMLはこの上に読み込むため、ファイルで明示した0やfalseはそのまま残る
func defaultConfig() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-20250514"},
		OpenAI:    OpenAIConfig{Name: "openai", Model: "gpt-4o-mini"},
		Gemini:    GeminiConfig{Model: "gemini-2.0-flash"},
		Router: RouterConfig{
			Classifier:         "openai",
			KeywordConfidence:  0.8,
			PatternConfidence:  0.9,
			FallbackConfidence: 0.3,
			FailureComplexity:  "complex",
			AmbiguityBias:      "complex",
			MaxTokens:          300,
			HistoryTurns:       4,
		},
		Cost: CostConfig{Ceiling: 0.10, AssumedOutputTokens: 500},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		Direct: DirectConfig{Timeout: 20 * time.Second, MaxTokens: 2048},
		Sandbox: SandboxConfig{
			Provider:  "local",
			MaxSteps:  30,
			Timeout:   5 * time.Minute,
			MaxTokens: 4096,
		},
		Tools:    ToolsConfig{MaxResults: 5},
		Progress: ProgressConfig{Interval: 1200 * time.Millisecond},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Validate は設定の妥当性を検証
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Registry != "" {
		if _, err := os.Stat(c.Registry); err != nil {
			return fmt.Errorf("registry file: %w", err)
		}
	}
	return nil
}

// CostModel はコスト見積もりに使うモデル名（未指定なら推論モデル）
func (c *Config) CostModel() string {
	if c.Cost.Model != "" {
		return c.Cost.Model
	}
	return c.Anthropic.Model
}
